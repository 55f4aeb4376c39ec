package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultsWithEnvSecret(t *testing.T) {
	req := require.New(t)
	t.Setenv("CALLRELAY_JWT_SECRET", "s3cret")

	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	req.NoError(err)
	req.Equal("release", cfg.Mode)
	req.Equal(8080, cfg.Port)
	req.Equal(int64(32768), cfg.ReadLimit)
	req.Equal(54*time.Second, cfg.PingPeriod)
	req.Equal(60*time.Second, cfg.PongWait)
	req.Equal("s3cret", cfg.JWTSecret)
	req.Empty(cfg.StorePath)
	req.Equal(time.Hour, cfg.TokenTTL)
}

func TestFileAndEnvOverride(t *testing.T) {
	req := require.New(t)
	file := filepath.Join(t.TempDir(), "config.test.yaml")
	req.NoError(os.WriteFile(file, []byte(`
mode: debug
port: 9000
jwt_secret: from-file
store_path: /var/lib/callrelay
ping_period: 20s
pong_wait: 30s
message_rate: 5
`), 0o600))
	t.Setenv("CALLRELAY_PORT", "9100")

	cfg, err := LoadFile(file)
	req.NoError(err)
	req.Equal("debug", cfg.Mode)
	req.Equal(9100, cfg.Port)
	req.Equal("from-file", cfg.JWTSecret)
	req.Equal("/var/lib/callrelay", cfg.StorePath)
	req.Equal(20*time.Second, cfg.PingPeriod)
	req.InDelta(5.0, cfg.MessageRate, 0.001)
}

func TestValidation(t *testing.T) {
	req := require.New(t)
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	req.ErrorContains(err, "jwt_secret")

	t.Setenv("CALLRELAY_JWT_SECRET", "x")
	t.Setenv("CALLRELAY_PING_PERIOD", "90s")
	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	req.ErrorContains(err, "ping_period")
}
