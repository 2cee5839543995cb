package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fnrelay/lambdagate/internal/config"
	"github.com/fnrelay/lambdagate/internal/logging"
	"github.com/fnrelay/lambdagate/internal/logsink"
	"github.com/fnrelay/lambdagate/internal/metrics"
	"github.com/fnrelay/lambdagate/internal/runtime"
	"github.com/fnrelay/lambdagate/internal/runtime/authenticator"
	"github.com/fnrelay/lambdagate/internal/runtime/cache"
	"github.com/fnrelay/lambdagate/internal/runtime/cacheadmin"
	"github.com/fnrelay/lambdagate/internal/runtime/cachedinvoker"
	"github.com/fnrelay/lambdagate/internal/runtime/configexpr"
	"github.com/fnrelay/lambdagate/internal/runtime/invoker"
	"github.com/fnrelay/lambdagate/internal/runtime/requestparser"
	"github.com/fnrelay/lambdagate/internal/runtime/responder"
	"github.com/fnrelay/lambdagate/internal/runtime/responseshaper"
	"github.com/fnrelay/lambdagate/internal/server"
	"github.com/fnrelay/lambdagate/internal/templates"
)

// CLI is the top-level lambdagate command surface: serve runs the gateway,
// validate-config loads and compiles a route table without binding a
// listener, for use in CI and pre-deploy checks.
type CLI struct {
	Serve          ServeCmd          `cmd:"" help:"Run the gateway HTTP listener."`
	ValidateConfig ValidateConfigCmd `cmd:"" name:"validate-config" help:"Load and compile the route table without starting the listener."`
}

// ServeCmd starts the gateway and blocks until an interrupt or terminate
// signal triggers graceful shutdown.
type ServeCmd struct {
	Config    string `help:"Path to the server configuration file." short:"c"`
	EnvPrefix string `help:"Environment variable prefix for config overrides." default:"LAMBDAGATE"`
}

func (c *ServeCmd) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader := config.NewLoader(c.EnvPrefix, c.Config)
	cfg, err := loader.Load(ctx)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(cfg.Server.Logging)
	if err != nil {
		return fmt.Errorf("configure logger: %w", err)
	}

	env, err := configexpr.NewEnvironment()
	if err != nil {
		return fmt.Errorf("configure expression environment: %w", err)
	}
	renderer := templates.NewRenderer()

	table, err := config.Compile(env, renderer, cfg.Lambdas)
	if err != nil {
		return fmt.Errorf("compile route table: %w", err)
	}

	store, err := buildCacheStore(logger, cfg.Server.Cache)
	if err != nil {
		return fmt.Errorf("build cache store: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := store.Close(shutdownCtx); err != nil {
			logger.Error("cache shutdown failed", slog.Any("error", err))
		}
	}()

	httpClient := &http.Client{Timeout: cfg.Server.Invoker.Timeout()}
	inv := invoker.New(httpClient, cfg.Server.Invoker.Endpoint, logger)

	sink := buildLogSink(logger, cfg.Server.LogGroup, cfg.Server.LogSink)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := sink.Close(shutdownCtx); err != nil {
			logger.Error("log sink shutdown failed", slog.Any("error", err))
		}
	}()

	promRegistry := prometheus.NewRegistry()
	metricsRecorder := metrics.NewRecorder(promRegistry)

	production := strings.EqualFold(strings.TrimSpace(cfg.Server.Environment), "production")

	pipe := runtime.New(table, runtime.Options{
		Logger:            logger,
		Metrics:           metricsRecorder,
		CorrelationHeader: cfg.Server.Logging.CorrelationHeader,
		RequestParser:     requestparser.New(),
		Authenticator:     authenticator.New(),
		CachedInvoker:     cachedinvoker.New(store, inv, cfg.Server.CachePrefix),
		ResponseShaper:    responseshaper.New(),
		CacheAdmin:        cacheadmin.New(store, cfg.Server.CachePrefix),
		Responder:         responder.New(logger, sink, cfg.Server.Logging.CorrelationHeader, production),
		CacheStore:        store,
		ExplainEnabled:    cfg.Server.Debug.Explain,
	})

	var watcher *config.Watcher
	if c.Config != "" {
		w, err := loader.Watch(ctx, func(reloaded config.Config) {
			reloadedTable, err := config.Compile(env, renderer, reloaded.Lambdas)
			if err != nil {
				logger.Error("route table reload failed", slog.Any("error", err))
				return
			}
			pipe.Reload(reloadedTable)
			logger.Info("route table reloaded", slog.Int("lambdas", len(reloaded.Lambdas)))
		}, func(err error) {
			logger.Error("config watcher error", slog.Any("error", err))
		})
		if err != nil {
			logger.Warn("config hot-reload disabled", slog.Any("error", err))
		} else {
			watcher = w
			defer watcher.Stop()
		}
	}

	handler := server.NewHandler(pipe, metricsRecorder.Handler(), cfg.Server)

	srv, err := server.New(cfg, logger, handler)
	if err != nil {
		return fmt.Errorf("construct server: %w", err)
	}

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("server terminated unexpectedly: %w", err)
	}

	logger.Info("server shutdown complete")
	return nil
}

// ValidateConfigCmd loads, validates and compiles the named configuration
// file, reporting the first error encountered without binding a listener.
type ValidateConfigCmd struct {
	Config    string `arg:"" help:"Path to the server configuration file."`
	EnvPrefix string `help:"Environment variable prefix for config overrides." default:"LAMBDAGATE"`
}

func (c *ValidateConfigCmd) Run() error {
	ctx := context.Background()

	loader := config.NewLoader(c.EnvPrefix, c.Config)
	cfg, err := loader.Load(ctx)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	env, err := configexpr.NewEnvironment()
	if err != nil {
		return fmt.Errorf("configure expression environment: %w", err)
	}

	if _, err := config.Compile(env, templates.NewRenderer(), cfg.Lambdas); err != nil {
		return fmt.Errorf("compile route table: %w", err)
	}

	fmt.Printf("config valid: %d lambda routes, cache backend %q\n", len(cfg.Lambdas), cfg.Server.Cache.Backend)
	return nil
}

func buildCacheStore(logger *slog.Logger, cfg config.CacheConfig) (cache.Store, error) {
	tuning := cache.Tuning{TTL: cfg.TTL(), TTR: cfg.TTR(), Timeout: cfg.Timeout()}
	backend := strings.TrimSpace(strings.ToLower(cfg.Backend))
	switch backend {
	case "", "memory":
		logger.Info("using memory cache store", slog.Duration("ttl", tuning.TTL))
		return cache.NewMemory(tuning), nil
	case "redis":
		tlsCfg := cache.RedisTLS{Enabled: cfg.Redis.TLS.Enabled, CAFile: cfg.Redis.TLS.CAFile}
		store, err := cache.NewRedis(cfg.Redis.Address, tuning, tlsCfg)
		if err != nil {
			return nil, fmt.Errorf("redis cache: %w", err)
		}
		logger.Info("using redis cache store", slog.String("address", cfg.Redis.Address))
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported cache backend %q", cfg.Backend)
	}
}

func buildLogSink(logger *slog.Logger, logGroup string, cfg config.LogSinkConfig) logsink.Sink {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return logsink.NewNop(logger)
	}
	client := &http.Client{Timeout: 5 * time.Second}
	return logsink.New(logsink.Config{
		LogGroup:      logGroup,
		Endpoint:      cfg.Endpoint,
		FlushInterval: cfg.FlushInterval(),
		MaxBatch:      cfg.MaxBatch,
	}, client, logger)
}

func main() {
	cli := &CLI{}
	ctx := kong.Parse(cli,
		kong.Name("lambdagate"),
		kong.Description("Lambda gateway: routes HTTP requests to named backend functions."),
		kong.UsageOnError(),
	)
	if err := ctx.Run(); err != nil {
		log.SetFlags(0)
		ctx.FatalIfErrorf(err)
	}
}
