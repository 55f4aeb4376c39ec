package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dkeye/CallRelay/internal/adapters/auth"
	router "github.com/dkeye/CallRelay/internal/adapters/http"
	wsig "github.com/dkeye/CallRelay/internal/adapters/signal"
	"github.com/dkeye/CallRelay/internal/adapters/store"
	"github.com/dkeye/CallRelay/internal/app"
	"github.com/dkeye/CallRelay/internal/config"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	if cfg.Mode != "debug" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	calls, err := store.Open(cfg.StorePath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.StorePath).Msg("failed to open call store")
	}
	tokens, err := auth.NewJWT(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init token verifier")
	}

	hooks := app.NewAsyncHooks(calls, cfg.HookTimeout)
	arbiter := app.NewClaimArbiter(calls, hooks, cfg.ClaimTimeout)
	rooms := app.NewRoomManager(arbiter, hooks, app.SimplePolicy{}, cfg.RoomBuffer)
	gate := app.NewAccessGate(tokens)

	sig := wsig.NewSignalWSController(ctx, gate, rooms,
		wsig.NewJoinLimiter(rate.Limit(cfg.JoinRate), cfg.JoinBurst),
		wsig.Options{
			ReadLimit:    cfg.ReadLimit,
			PingPeriod:   cfg.PingPeriod,
			PongWait:     cfg.PongWait,
			WriteWait:    cfg.WriteWait,
			SendBuffer:   cfg.SendBuffer,
			ClaimTimeout: cfg.ClaimTimeout,
			MessageRate:  rate.Limit(cfg.MessageRate),
			MessageBurst: cfg.MessageBurst,
		})

	r := router.SetupRouter(cfg, router.Deps{
		Signal:   sig,
		Rooms:    rooms,
		Calls:    calls,
		Audit:    calls,
		Verifier: tokens,
		Issuer:   tokens,
	})
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("call relay started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	if err := rooms.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("rooms did not drain")
	}
	hooks.Wait()
	if err := calls.Close(); err != nil {
		log.Error().Err(err).Msg("call store close")
	}
	log.Info().Msg("Server exited gracefully")
}
