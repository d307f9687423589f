package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/snarg/accent-engine/internal/api"
	"github.com/snarg/accent-engine/internal/config"
	"github.com/snarg/accent-engine/internal/events"
	"github.com/snarg/accent-engine/internal/metrics"
	"github.com/snarg/accent-engine/internal/mqttclient"
	"github.com/snarg/accent-engine/internal/pipeline"
	"github.com/snarg/accent-engine/internal/watch"
	"golang.org/x/sync/errgroup"
)

var version = "dev"

func main() {
	startTime := time.Now()

	var overrides config.Overrides
	var showVersion bool
	flag.StringVar(&overrides.EnvFile, "env-file", "", "Path to .env file (default: .env in working directory)")
	flag.StringVar(&overrides.HTTPAddr, "listen", "", "HTTP listen address (overrides HTTP_ADDR)")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "Log level (overrides LOG_LEVEL)")
	flag.StringVar(&overrides.WorkDir, "work-dir", "", "Parent directory for analysis workspaces (overrides WORK_DIR)")
	flag.StringVar(&overrides.STTProvider, "stt-provider", "", "Speech-to-text provider (overrides STT_PROVIDER)")
	flag.StringVar(&overrides.WhisperURL, "whisper-url", "", "Whisper-compatible endpoint (overrides WHISPER_URL)")
	flag.StringVar(&overrides.WatchDir, "watch-dir", "", "Analyze media files dropped into this directory (overrides WATCH_DIR)")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println("accent-engine", version)
		return
	}

	// Config
	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	// Logger
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Str("stt_provider", cfg.STTProvider).Msg("accent-engine starting")

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := events.NewBus(cfg.EventRingSize)
	sinks := pipeline.Sinks{bus}

	// MQTT (optional)
	var mqtt *mqttclient.Client
	if cfg.MQTTBrokerURL != "" {
		mqtt, err = mqttclient.Connect(mqttclient.Options{
			BrokerURL:   cfg.MQTTBrokerURL,
			ClientID:    cfg.MQTTClientID,
			Username:    cfg.MQTTUsername,
			Password:    cfg.MQTTPassword,
			TopicPrefix: cfg.MQTTTopicPrefix,
			Log:         log,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to mqtt broker")
		}
		defer mqtt.Close()
		sinks = append(sinks, mqtt)
	}

	// Pipeline and worker pool
	asm, err := pipeline.FromConfig(cfg, sinks, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build pipeline")
	}
	for name, ok := range asm.Tools {
		if !ok() {
			log.Warn().Str("tool", name).Msg("external tool not found in PATH; analyses will fail until it is installed")
		}
	}

	pool := pipeline.NewPool(pipeline.PoolOptions{
		Runner:    asm.Pipeline,
		Workers:   cfg.PipelineWorkers,
		QueueSize: cfg.PipelineQueueSize,
		Log:       log,
	})
	pool.Start()

	if mqtt != nil && cfg.MQTTAcceptRequests {
		mqtt.ServeRequests(pool)
	}

	// Watch folder (optional)
	var watcher *watch.Watcher
	if cfg.WatchDir != "" {
		watcher = watch.New(watch.Options{
			Dir:        cfg.WatchDir,
			Extensions: cfg.WatchExtensionList(),
			Backfill:   cfg.WatchBackfill,
			Settle:     cfg.WatchSettle,
			Submitter:  pool,
			Log:        log,
		})
		if err := watcher.Start(ctx); err != nil {
			log.Fatal().Err(err).Str("watch_dir", cfg.WatchDir).Msg("failed to start file watcher")
		}
	}

	prometheus.MustRegister(metrics.NewCollector(pool, bus))

	// HTTP Server
	httpLog := log.With().Str("component", "http").Logger()
	opts := api.ServerOptions{
		Config:    cfg,
		Pool:      pool,
		Bus:       bus,
		Tools:     asm.Tools,
		Provider:  asm.Provider.Name(),
		Version:   version,
		StartTime: startTime,
		Log:       httpLog,
	}
	if mqtt != nil {
		opts.MQTT = mqtt
	}
	if watcher != nil {
		opts.Watch = watcher
	}
	srv := api.NewServer(opts)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			log.Info().Msg("shutdown signal received")
		}

		// Graceful shutdown with 10s timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("http server error")
	}

	// Drain queued analyses after HTTP and the watcher have stopped feeding them.
	if watcher != nil {
		watcher.Stop()
	}
	pool.Stop()
	log.Info().Msg("accent-engine stopped")
}
