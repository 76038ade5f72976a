package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/aarutech20/indicVoice/internal/config"
	"github.com/aarutech20/indicVoice/internal/ingest"
	"github.com/aarutech20/indicVoice/internal/metrics"
	"github.com/aarutech20/indicVoice/internal/publish"
	"github.com/aarutech20/indicVoice/internal/server"
	"github.com/aarutech20/indicVoice/internal/session"
	"github.com/aarutech20/indicVoice/internal/store"
	"github.com/aarutech20/indicVoice/internal/store/postgres"
	"github.com/aarutech20/indicVoice/internal/store/redisstore"
	"github.com/aarutech20/indicVoice/internal/store/sqlite"
	"github.com/aarutech20/indicVoice/internal/transcription"
)

const (
	defaultConfigPath = "configs/config.yaml"
	defaultEnvPath    = ".env"
	serviceName       = "indicvoice"
	serviceVersion    = "1.0.0"
	shutdownTimeout   = 15 * time.Second
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	envPath := flag.String("env", defaultEnvPath, "Path to .env file (ignored when missing)")
	flag.Parse()

	if err := config.LoadDotEnv(*envPath); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load environment: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)
	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("Service failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Service stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Configuration loaded",
		slog.Int("http_port", cfg.HTTP.Port),
		slog.String("storage_driver", cfg.Storage.Driver),
		slog.String("transcription_engine", cfg.Transcription.Engine),
		slog.Int("max_chunk_bytes", cfg.Audio.MaxChunkBytes),
		slog.Duration("session_idle_timeout", cfg.Session.GetIdleTimeoutDuration()),
		slog.Bool("publish_enabled", cfg.Publish.Enabled),
		slog.String("log_level", cfg.Logging.Level),
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	appMetrics := metrics.NewMetrics(reg)

	st, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("Error closing store", slog.String("error", err.Error()))
		}
	}()
	logger.Info("Store initialized", slog.String("driver", cfg.Storage.Driver))

	engine, closeEngine, err := newEngine(cfg.Transcription, logger)
	if err != nil {
		return err
	}
	logger.Info("Transcription engine initialized", slog.String("engine", engine.Name()))

	languages, err := cfg.LanguageTable()
	if err != nil {
		return err
	}

	publisher, err := newPublisher(cfg.Publish, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Error("Error closing publisher", slog.String("error", err.Error()))
		}
	}()

	registry := session.NewRegistry(st, logger, appMetrics, session.Config{
		IdleTimeout:  cfg.Session.GetIdleTimeoutDuration(),
		ReapInterval: cfg.Session.GetReapIntervalDuration(),
	})

	pipeline, err := ingest.NewPipeline(ingest.Dependencies{
		Registry:  registry,
		Store:     st,
		Engine:    engine,
		Languages: languages,
		Publisher: publisher,
		Metrics:   appMetrics,
		Logger:    logger,
	}, ingest.Config{
		MaxChunkBytes:     cfg.Audio.MaxChunkBytes,
		DefaultSampleRate: cfg.Audio.DefaultSampleRate,
	})
	if err != nil {
		return err
	}

	httpServer := server.NewHTTPServer(server.Config{
		Address:        cfg.HTTP.Address,
		Port:           cfg.HTTP.Port,
		ReadTimeout:    cfg.HTTP.GetReadTimeout(),
		WriteTimeout:   cfg.HTTP.GetWriteTimeout(),
		IdleTimeout:    cfg.HTTP.GetIdleTimeout(),
		MaxBodyBytes:   cfg.HTTP.MaxBodyBytes,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		PingInterval:   cfg.HTTP.GetPingInterval(),
		MaxInflight:    cfg.HTTP.MaxInflight,
	}, logger, pipeline, cfg.Storage.Driver, appMetrics)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(httpServer.ListenAndServe)
	g.Go(func() error {
		return registry.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Starting graceful shutdown...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
		if err := closeEngine(shutdownCtx); err != nil {
			logger.Error("Error closing transcription engine", slog.String("error", err.Error()))
		}
		return nil
	})

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("http_address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
	)

	return g.Wait()
}

func openStore(ctx context.Context, cfg config.StorageConfig) (store.Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		return postgres.Open(ctx, cfg.Postgres.URL, postgres.Options{
			MaxConns:        cfg.Postgres.MaxConns,
			MaxConnLifetime: cfg.Postgres.GetMaxConnLifetime(),
		})
	case config.DriverRedis:
		return redisstore.Open(ctx, redisstore.Options{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			PoolSize:    cfg.Redis.PoolSize,
			DialTimeout: cfg.Redis.GetDialTimeout(),
			KeyPrefix:   cfg.Redis.KeyPrefix,
		})
	default:
		return sqlite.Open(ctx, cfg.SQLite.Path)
	}
}

// newEngine builds the configured engine and a function that releases it.
func newEngine(cfg config.TranscriptionConfig, logger *slog.Logger) (transcription.Engine, func(context.Context) error, error) {
	if cfg.Engine != config.EngineHTTP {
		engine := transcription.NewDemoEngine(transcription.DemoConfig{
			MinLatency: cfg.Demo.GetMinLatency(),
			MaxLatency: cfg.Demo.GetMaxLatency(),
		})
		return engine, func(context.Context) error { return nil }, nil
	}

	engine, err := transcription.NewHTTPEngine(transcription.Config{
		Endpoint:      cfg.Endpoint,
		HealthURL:     cfg.HealthURL,
		APIKey:        cfg.APIKey,
		Model:         cfg.Model,
		Timeout:       cfg.GetTimeoutDuration(),
		MaxRetries:    cfg.MaxRetries,
		MaxConcurrent: cfg.MaxConcurrent,
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create transcription engine: %w", err)
	}
	return engine, engine.Close, nil
}

func newPublisher(cfg config.PublishConfig, logger *slog.Logger) (publish.Publisher, error) {
	if !cfg.Enabled {
		return publish.Nop{}, nil
	}

	p, err := publish.NewKafkaPublisher(publish.KafkaConfig{
		Brokers:      cfg.Brokers,
		Topic:        cfg.Topic,
		BatchTimeout: cfg.GetBatchTimeout(),
		WriteTimeout: cfg.GetWriteTimeout(),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka publisher: %w", err)
	}
	logger.Info("Kafka publisher initialized",
		slog.Any("brokers", cfg.Brokers),
		slog.String("topic", cfg.Topic),
	)
	return p, nil
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
