package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/chatline/internal/adapters/http"
	"github.com/dkeye/chatline/internal/adapters/session"
	"github.com/dkeye/chatline/internal/adapters/tcp"
	"github.com/dkeye/chatline/internal/app"
	"github.com/dkeye/chatline/internal/app/orch"
	"github.com/dkeye/chatline/internal/config"
	"github.com/dkeye/chatline/internal/storage/history"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	if err := run(ctx, cfg); err != nil {
		log.Error().Err(err).Msg("server stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("Server exited gracefully")
}

func run(ctx context.Context, cfg *config.Config) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := app.NewMetrics(reg)

	store, err := history.Open(history.Options{
		Path:     cfg.History.Path,
		InMemory: cfg.History.InMemory,
		AudioDir: cfg.History.AudioDir,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("close history")
		}
	}()

	o := orch.New(store, app.SimplePolicy{}, metrics)

	var opts []session.Option
	if cfg.Server.IdleTimeout > 0 {
		opts = append(opts, session.WithIdleTimeout(cfg.Server.IdleTimeout))
	}
	if cfg.Server.HandshakeLimit > 0 {
		opts = append(opts, session.WithHandshakeLimiter(session.NewRateLimiter(cfg.Server.HandshakeLimit, time.Minute)))
	}
	handler := session.NewHandler(o, opts...)

	g, gctx := errgroup.WithContext(ctx)

	var chat *tcp.Server
	if cfg.Server.TCPAddress != "" {
		chat = tcp.NewServer(cfg.Server.TCPAddress, handler,
			tcp.WithMaxFrameBytes(cfg.Server.MaxFrameBytes),
			tcp.WithWriteTimeout(cfg.Server.WriteTimeout),
		)
		if err := chat.Listen(); err != nil {
			return err
		}
		g.Go(func() error { return chat.Serve(gctx) })
	}

	if cfg.HTTP.Address != "" {
		ready := func() bool { return chat == nil || chat.Ready() }
		srv := &http.Server{
			Addr: cfg.HTTP.Address,
			Handler: router.SetupRouter(gctx, cfg, router.Deps{
				Orch:     o,
				Sessions: handler,
				Gatherer: reg,
				Ready:    ready,
			}),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			log.Info().Str("addr", cfg.HTTP.Address).Msg("http server started")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			log.Info().Msg("Shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("http server forced to shutdown")
			}
			return nil
		})
	}

	return g.Wait()
}
