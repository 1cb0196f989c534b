// Command orquesta runs the workflow engine with the example functions
// and serves the HTTP API.
//
// Usage:
//
//	orquesta [-config orquesta.yaml]
//
// Then in another terminal:
//
//	curl -X POST http://localhost:3000/api/notificar \
//	  -H "Content-Type: application/json" \
//	  -d '{"mensaje":"Hola desde orquesta"}'
//
//	curl -X POST http://localhost:3000/api/procesar-pedido \
//	  -H "Content-Type: application/json" \
//	  -d '{"pedidoId":"ORD-001","items":["teclado","ratón"]}'
//
//	curl http://localhost:3000/v1/runs
//	curl -N http://localhost:3000/v1/stream?topic=runs
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/orquesta/orquesta/api"
	"github.com/orquesta/orquesta/config"
	"github.com/orquesta/orquesta/engine"
	"github.com/orquesta/orquesta/functions"
	"github.com/orquesta/orquesta/observability"
	"github.com/orquesta/orquesta/store"
	"github.com/orquesta/orquesta/store/memory"
	"github.com/orquesta/orquesta/store/postgres"
	"github.com/orquesta/orquesta/store/redis"
	"github.com/orquesta/orquesta/stream"
	"github.com/orquesta/orquesta/telegram"
)

func main() {
	configFile := flag.String("config", "", "path to a YAML config file (default ./orquesta.yaml if present)")
	flag.Parse()

	if err := run(*configFile); err != nil {
		fmt.Fprintln(os.Stderr, "orquesta:", err)
		os.Exit(1)
	}
}

func run(configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	logger := cfg.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ──────────────────────────────────────────────────
	// Store
	// ──────────────────────────────────────────────────

	s, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := s.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}

	// ──────────────────────────────────────────────────
	// Engine and functions
	// ──────────────────────────────────────────────────

	tg := telegram.New(cfg.Telegram.BotToken, cfg.Telegram.ChatID,
		telegram.WithBaseURL(cfg.Telegram.BaseURL),
		telegram.WithLogger(logger.With(slog.String("component", "telegram"))),
	)
	if tg.Demo() {
		logger.Warn("telegram credentials missing, messages will only be logged")
	}

	broker := stream.NewBroker(logger.With(slog.String("component", "stream")))
	opts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithConfig(cfg.EngineConfig()),
		engine.WithExtension(broker),
	}
	if cfg.Statsd.Addr != "" {
		statsdExt, err := observability.NewStatsdExtension(cfg.Statsd.Addr,
			[]string{"service:" + cfg.ServiceName, "env:" + cfg.AppEnv}, logger)
		if err != nil {
			return fmt.Errorf("statsd: %w", err)
		}
		defer func() { _ = statsdExt.Close() }()
		opts = append(opts, engine.WithExtension(statsdExt))
	}

	eng, err := engine.New(s, opts...)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}
	if err := eng.Register(functions.All(tg, functions.WithOnboardingDelay(cfg.Engine.OnboardingDelay))...); err != nil {
		return fmt.Errorf("register functions: %w", err)
	}

	// ──────────────────────────────────────────────────
	// HTTP
	// ──────────────────────────────────────────────────

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr: cfg.Addr(),
		Handler: api.New(eng, tg,
			api.WithLogger(logger),
			api.WithServiceName(cfg.ServiceName),
			api.WithBroker(broker),
		).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	// Open event streams would otherwise hold Shutdown until its deadline.
	srv.RegisterOnShutdown(func() { _ = broker.OnShutdown(context.Background()) })

	// ──────────────────────────────────────────────────
	// Run until a signal arrives
	// ──────────────────────────────────────────────────

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("API corriendo",
			slog.String("addr", srv.Addr),
			slog.String("store", cfg.Store.Driver),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), eng.Config().ShutdownTimeout)
		defer cancel()
		return errors.Join(srv.Shutdown(shutdownCtx), eng.Stop(shutdownCtx))
	})
	return g.Wait()
}

// openStore connects the configured backend. The returned func releases
// its connections.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Store, func(), error) {
	switch cfg.Store.Driver {
	case config.DriverRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Store.RedisAddr,
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
		})
		s := redis.New(client, redis.WithLogger(logger))
		if err := s.Ping(ctx); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("connect redis %s: %w", cfg.Store.RedisAddr, err)
		}
		return s, func() { _ = client.Close() }, nil

	case config.DriverPostgres:
		s, err := postgres.New(ctx, cfg.Store.PostgresDSN, postgres.WithLogger(logger))
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		return s, func() { _ = s.Close() }, nil

	default:
		s := memory.New()
		return s, func() {}, nil
	}
}
