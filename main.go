package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"cryptostream/config"
	"cryptostream/internal/dashboard"
	"cryptostream/internal/metrics"
	"cryptostream/logger"
	"cryptostream/models"
	"cryptostream/streams"
	"cryptostream/writer"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(config.ResolvePath(*configPath))
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	env := config.AppEnvironment()
	log.WithFields(logger.Fields{
		"service":     cfg.Cryptostream.Name,
		"version":     cfg.Cryptostream.Version,
		"environment": env,
	}).Info("starting cryptostream")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics.Init()
	if cw := cfg.Metrics.CloudWatch; cw.Enabled {
		logger.InitCloudWatch(ctx, cw.Region, cw.Namespace, cfg.Logging.DashboardName)
	}
	if cfg.Metrics.ReportInterval > 0 {
		logger.StartReport(ctx, log, cfg.Metrics.ReportInterval)
	}

	builder, err := streams.FromConfig(cfg)
	if err != nil {
		log.WithError(err).Error("invalid stream configuration")
		os.Exit(1)
	}
	s, err := builder.Init(ctx)
	if err != nil {
		var initErr *streams.InitError
		partial := errors.As(err, &initErr) && len(initErr.Failures) < initErr.Groups
		if !partial || config.IsProductionLike(env) {
			log.WithError(err).Error("failed to start streams")
			s.Stop()
			os.Exit(1)
		}
		log.WithError(err).Warn("continuing with the subscription groups that started")
	}

	if cfg.Metrics.QueueDepth {
		metrics.StartQueueDepthMetrics(ctx, s.Depths, cfg.Metrics.QueueDepthInterval)
	}

	srv, err := dashboard.NewServer(cfg.Dashboard, cfg.Cryptostream.Name, log, s)
	if err != nil {
		log.WithError(err).Error("failed to create dashboard")
		os.Exit(1)
	}
	if err := srv.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start dashboard")
		os.Exit(1)
	}

	var wg sync.WaitGroup
	var kafkaWriter *writer.KafkaWriter
	if cfg.Storage.Kafka.Enabled {
		kafkaWriter, err = writer.NewKafkaWriter(cfg.Storage.Kafka, s.Join())
		if err != nil {
			log.WithError(err).Error("failed to create kafka writer")
			os.Exit(1)
		}
		// The writer drains until the joined stream closes, so it does not
		// share the shutdown context.
		if err := kafkaWriter.Start(context.Background()); err != nil {
			log.WithError(err).Error("failed to start kafka writer")
			os.Exit(1)
		}
	} else {
		log.WithComponent("main").Info("kafka disabled; logging events per exchange")
		for _, id := range s.Exchanges() {
			events, err := s.Select(id)
			if err != nil {
				continue
			}
			wg.Add(1)
			go func(id models.ExchangeID) {
				defer wg.Done()
				logEvents(log.WithExchange(string(id)), events)
			}(id)
		}
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	log.Info("stopping streams")
	s.Stop()

	if kafkaWriter != nil {
		log.Info("stopping kafka writer")
		kafkaWriter.Stop()
	}

	if err := srv.Stop(context.Background()); err != nil {
		log.WithError(err).Warn("dashboard shutdown failed")
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("cryptostream stopped")
}

// logEvents is the consumer used when no Kafka sink is configured.
func logEvents(log *logger.Entry, events <-chan models.StreamEvent) {
	for ev := range events {
		if ev.Err != nil {
			log.WithError(ev.Err).Warn("stream error")
			continue
		}
		entry := log.WithFields(logger.Fields{
			"instrument": ev.Event.Instrument.String(),
			"kind":       string(ev.Event.Kind.StreamKind()),
			"latency_ms": ev.Event.ReceivedTime.Sub(ev.Event.ExchangeTime).Milliseconds(),
		})
		if book, ok := ev.Event.Kind.(models.OrderBook); ok {
			if mid, ok := book.MidPrice(); ok {
				entry = entry.WithFields(logger.Fields{"mid": mid, "bids": book.Bids.Len(), "asks": book.Asks.Len()})
			}
		}
		entry.Debug("market event")
	}
}
