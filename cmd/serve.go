package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	activetrains "github.com/jaygeraghty/CentralTMServer-sub000"
	"github.com/jaygeraghty/CentralTMServer-sub000/feed"
	"github.com/jaygeraghty/CentralTMServer-sub000/metrics"
	"github.com/jaygeraghty/CentralTMServer-sub000/snapshot"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Runs the train state engine against the configured feeds",
	Args:  cobra.NoArgs,
	RunE:  serve,
}

var metricsAddr string

func init() {
	serveCmd.Flags().StringVarP(&metricsAddr, "metrics-addr", "", "", "Listen address for /metrics and /health")
}

func serve(cmd *cobra.Command, args []string) error {
	if cmd.Flags().Changed("metrics-addr") {
		cfg.MetricsAddr = metricsAddr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := openStorage(cfg)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}

	collector := metrics.NewCollector()
	observers := activetrains.MultiObserver{collector}

	if cfg.RedisURL != "" {
		client, err := snapshot.Dial(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn("redis unavailable, not publishing snapshots", "error", err)
		} else {
			defer client.Close()
			publisher := snapshot.NewPublisher(client, cfg.RedisChannel, cfg.SnapshotTTL, logger)
			observers = append(observers, publisher)
			go publisher.Run(ctx)
		}
	}

	lateDwell := cfg.LateDwell
	manager, err := activetrains.NewManager(s, activetrains.StoreOptions{
		Logger:    logger,
		Observer:  observers,
		LateDwell: &lateDwell,
		QueueSize: cfg.QueueSize,
	})
	if err != nil {
		return err
	}
	manager.Sources = cfg.TimetableSources
	manager.ImportInterval = cfg.ImportInterval
	store := manager.Store()

	var srv interface{ Shutdown(context.Context) error }
	if cfg.MetricsAddr != "" {
		srv = collector.Serve(cfg.MetricsAddr, store.Ready, logger)
	}

	// Feeds start before loading, so updates arriving meanwhile are
	// queued and replayed once ready.
	dispatcher := feed.NewDispatcher(store, collector, logger)
	if cfg.NATSURL != "" {
		sub, err := feed.NewNATSSubscriber(ctx, feed.NATSConfig{
			URL: cfg.NATSURL,
			Subjects: map[string]feed.Kind{
				cfg.NATSSubjectRealtime: feed.KindRealtime,
				cfg.NATSSubjectForecast: feed.KindForecast,
			},
		}, dispatcher)
		if err != nil {
			return err
		}
		defer sub.Close()
	}
	if cfg.MQTTURL != "" {
		sub, err := feed.NewMQTTSubscriber(ctx, feed.MQTTConfig{
			URL:   cfg.MQTTURL,
			Topic: cfg.MQTTTopic,
			Kind:  feed.KindEnvelope,
		}, dispatcher)
		if err != nil {
			return err
		}
		defer sub.Close()
	}

	if err := manager.Start(ctx); err != nil {
		return err
	}
	collector.SetReady(true)

	logger.Info("serving",
		"storage", cfg.StorageBackend,
		"sources", len(cfg.TimetableSources),
		"nats", cfg.NATSURL != "",
		"mqtt", cfg.MQTTURL != "",
		"redis", cfg.RedisURL != "",
	)

	err = manager.Run(ctx)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}

	logger.Info("stopped")
	return err
}
