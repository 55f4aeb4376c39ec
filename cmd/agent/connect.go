package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dkeye/CallRelay/internal/client"
	"github.com/dkeye/CallRelay/internal/domain"
	"github.com/dkeye/CallRelay/internal/protocol"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// printer writes call traffic to stdout and lifecycle events to the log.
type printer struct {
	done chan struct{}
	once *sync.Once
}

func (p printer) stop() { p.once.Do(func() { close(p.done) }) }

func (p printer) OnOpen()            { log.Info().Msg("connected") }
func (p printer) OnMessage(b []byte) { fmt.Println(string(b)) }
func (p printer) OnClosed()          { log.Warn().Msg("connection closed") }
func (p printer) OnError(err error) {
	log.Error().Err(err).Msg("connection error")
	if domain.Terminal(err) {
		p.stop()
	}
}
func (p printer) OnReconnecting(attempt int, delay time.Duration) {
	log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("reconnecting")
}
func (p printer) OnReconnectFailed() {
	log.Error().Msg("reconnect gave up")
	p.stop()
}

func newConnectCmd() *cobra.Command {
	v := newEnv()
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Join a call; stdin lines are sent as chat, SIGHUP retries now",
		RunE: func(cmd *cobra.Command, _ []string) error {
			mode, err := domain.ParseMode(v.GetString("mode"))
			if err != nil {
				return err
			}
			room := v.GetString("room")
			if _, _, err := domain.ParseRoomKey(room); err != nil {
				return err
			}
			token := v.GetString("token")
			if token == "" {
				return fmt.Errorf("--token (or CALLRELAY_TOKEN) is required")
			}
			return runConnect(cmd.Context(), client.Config{
				Host:              v.GetString("host"),
				Role:              domain.Role(v.GetString("role")),
				DisplayName:       v.GetString("name"),
				HeartbeatInterval: v.GetDuration("heartbeat"),
			}, room, token, mode)
		},
	}
	f := cmd.Flags()
	f.String("host", "localhost:8080", "server host or URL")
	f.String("room", "", "room key <domain>__<session>")
	f.String("token", "", "capability token")
	f.String("mode", "participant", "participant|observer (talk|monitor)")
	f.String("role", "agent", "role announced in identify")
	f.String("name", "", "display name")
	f.Duration("heartbeat", client.DefaultHeartbeatInterval, "heartbeat interval")
	_ = v.BindPFlags(f)
	return cmd
}

func runConnect(ctx context.Context, cfg client.Config, room, token string, mode domain.Mode) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	p := printer{done: make(chan struct{}), once: &sync.Once{}}
	engine := client.NewEngine(cfg, p)
	engine.Connect(room, token, mode)
	defer engine.Disconnect()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.done:
			return fmt.Errorf("call ended in state %s", engine.State())
		case <-hup:
			engine.NetworkRestored()
		case line := <-lines:
			if line == "/hangup" {
				_ = engine.Send(protocol.NewHangup())
				return nil
			}
			if err := engine.Send(protocol.NewChat(line, "")); err != nil {
				log.Warn().Err(err).Msg("chat not sent")
			}
		}
	}
}
