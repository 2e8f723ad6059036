package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"time"

	"github.com/lsm/chameleon/internal/batch"
	"github.com/lsm/chameleon/internal/config"
	"github.com/lsm/chameleon/internal/dlq"
	"github.com/lsm/chameleon/internal/kafka"
	"github.com/lsm/chameleon/internal/observability"
	"github.com/lsm/chameleon/internal/server"
	"github.com/lsm/chameleon/internal/tracing"
)

const serveUsage = `Usage: chameleon serve [--config <file>] [--env-file <file>] [--mappings <dir>] [--log-level <level>]

Runs the transform service.

Options:
  --config <file>     Service configuration YAML (defaults plus environment when omitted)
  --env-file <file>   Environment file loaded before overrides (default: .env)
  --mappings <dir>    Directory containing mappings/{identify,track,page,group}.yaml
  --log-level <level> debug, info, warn or error; pins the level across reloads

Endpoints:
  POST /v0/destinations/chameleon   transform a batch
  POST /routerTransform             transform a batch into router envelopes
  GET  /metrics, /healthz, /readyz  on the metrics address`

// RunServe runs the service until SIGINT or SIGTERM.
func RunServe(args []string) error {
	if isHelp(args) {
		fmt.Println(serveUsage)
		return nil
	}
	opts, err := parseArgs(args, []string{"config", "env-file", "mappings", "log-level"}, nil)
	if err != nil {
		return err
	}

	switch strings.ToLower(opts.values["log-level"]) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("--log-level %q is not valid (must be debug, info, warn or error)", opts.values["log-level"])
	}

	envFile := opts.values["env-file"]
	if envFile == "" {
		envFile = ".env"
	}
	if err := config.LoadDotEnv(envFile); err != nil {
		return err
	}

	loader := config.NewLoader(opts.values["config"], nil)
	if _, err := loader.Load(); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), shutdownSignals...)
	defer cancel()

	return serve(ctx, loader, opts.values["mappings"], opts.values["log-level"])
}

// serve runs the service with the loader's current configuration. A
// non-empty logLevel overrides the configured level, including on reload.
func serve(ctx context.Context, loader *config.Loader, mappingsDir, logLevel string) error {
	cfg := loader.Current()
	if cfg == nil {
		return errors.New("serve: configuration not loaded")
	}

	level := new(slog.LevelVar)
	level.Set(observability.GetLogLevel(logLevel, cfg.Log.Level))
	logger := observability.NewLogger("chameleon", level)

	reg := observability.NewRegistry()
	metrics := observability.NewMetrics(reg)

	tracer, shutdownTracing, err := tracing.Initialize(cfg.Tracing, logger)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}

	tr, err := newTransformer(mappingsDir)
	if err != nil {
		return err
	}
	processor := batch.New(tr,
		batch.WithLogger(logger),
		batch.WithMetrics(metrics),
		batch.WithTracer(tracer),
	)

	health := observability.NewHealthServer()

	var pub dlq.Publisher = &dlq.NoopPublisher{}
	if cfg.DLQ.Enabled {
		if cfg.DLQ.CreateTopic {
			ensureCtx, ensureCancel := context.WithTimeout(ctx, 15*time.Second)
			err := kafka.EnsureTopic(ensureCtx, &cfg.DLQ.Kafka, kafka.TopicSpec{
				Name:              cfg.DLQ.Topic,
				Partitions:        cfg.DLQ.Partitions,
				ReplicationFactor: cfg.DLQ.ReplicationFactor,
			})
			ensureCancel()
			if err != nil {
				return fmt.Errorf("dlq topic: %w", err)
			}
		}
		kp, err := kafka.NewPublisher(&cfg.DLQ.Kafka)
		if err != nil {
			return fmt.Errorf("dlq: %w", err)
		}
		health.AddCheck("dlq", kp.Ping)
		pub = kp
		logger.Info("dead-letter publishing enabled", "topic", cfg.DLQ.Topic, "brokers", cfg.DLQ.Kafka.Brokers)
	}
	dlqHandler := dlq.NewHandler(pub,
		dlq.WithTopic(cfg.DLQ.Topic),
		dlq.WithLogger(logger),
		dlq.WithMetrics(metrics),
		dlq.WithTracer(tracer),
		dlq.WithRetry(cfg.DLQ.Retry),
		dlq.WithPublishTimeout(cfg.DLQ.PublishTimeout),
	)

	srv := server.New(processor,
		server.WithLogger(logger),
		server.WithMetrics(metrics),
		server.WithDLQ(dlqHandler),
		server.WithRateLimit(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
		server.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
	)

	opsServer := &http.Server{
		Addr:              cfg.Server.MetricsAddr,
		Handler:           observability.OpsMux(reg, health),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("metrics server starting", "addr", cfg.Server.MetricsAddr)
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()

	watchDone := make(chan struct{})
	loader.OnChange(onReload(level, logLevel, srv, logger))
	go func() {
		if err := loader.Watch(watchDone); err != nil {
			logger.Debug("config watcher not running", "error", err)
		}
	}()

	go func() {
		select {
		case <-srv.Ready():
			health.SetReady(true)
		case <-ctx.Done():
		}
	}()

	serveErr := srv.Start(ctx, cfg.Server.ListenAddr)

	health.SetReady(false)
	close(watchDone)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown error", "error", err)
	}
	if err := dlqHandler.Close(); err != nil {
		logger.Error("dlq close error", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
	return serveErr
}

// onReload applies the settings that can change without a restart.
func onReload(level *slog.LevelVar, logLevel string, srv *server.Server, logger *slog.Logger) func(*config.Config) {
	return func(next *config.Config) {
		level.Set(observability.GetLogLevel(logLevel, next.Log.Level))
		srv.SetRateLimit(next.RateLimit.RPS, next.RateLimit.Burst)
		logger.Info("config reloaded", "log_level", level.Level().String(), "rate_limit_rps", next.RateLimit.RPS)
	}
}
