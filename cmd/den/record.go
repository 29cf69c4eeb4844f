package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"den/internal/database"
	"den/internal/metrics"
	"den/internal/models"
	"den/internal/mqtt"
	"den/internal/reconnect"
	"den/internal/services"
	"den/internal/stream"
	"den/pkg/config"
)

// record wires the pipeline and runs it until ctx is cancelled or a
// failure cannot be retried
func record(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("Starting den", "version", version, "sinks", cfg.Sinks)

	m := metrics.New()
	if cfg.MetricsAddr != "" {
		srv := serveMetrics(cfg.MetricsAddr, m, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	sinks, closers, err := openSinks(ctx, cfg, logger)
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i].Close()
		}
	}()
	if err != nil {
		return err
	}

	precision, err := models.ParsePrecision(cfg.Precision)
	if err != nil {
		return err
	}

	fanout := services.NewFanoutSink(logger, m, sinks...)
	logger.Info("Sinks ready", "sinks", fanout.Names(), "precision", precision.String())

	ingest := services.NewIngestService(
		services.StreamOpener(stream.NewClient(logger)),
		fanout,
		services.IngestServiceConfig{
			Connection: stream.Connection{
				URL:   cfg.APIURL,
				Path:  cfg.APIPath,
				Token: cfg.AccessToken,
				Timeouts: stream.Timeouts{
					Connect: cfg.ConnectTimeout,
					Read:    cfg.ReadTimeout,
				},
			},
			Precision: precision,
		},
		logger,
		m,
	)

	policy := reconnect.New(reconnect.Config{
		InitialInterval: cfg.BackoffInitial,
		MaxInterval:     cfg.BackoffMax,
		Multiplier:      cfg.BackoffMultiplier,
		Jitter:          cfg.BackoffJitter,
		StableAfter:     cfg.StableAfter,
	}, logger, m)

	if err := policy.Run(ctx, ingest.RunOnce); err != nil {
		return err
	}

	logger.Info("Shutdown complete")
	return nil
}

// openSinks connects every configured sink in order. The closers of sinks
// opened before a failure are returned alongside the error.
func openSinks(ctx context.Context, cfg *config.Config, logger *slog.Logger) ([]services.NamedSink, []io.Closer, error) {
	var sinks []services.NamedSink
	var closers []io.Closer

	for _, name := range cfg.Sinks {
		switch name {
		case config.SinkInfluxDB:
			db, err := database.NewInfluxDB(ctx, database.InfluxConfig{
				URL:      cfg.InfluxURL(),
				Token:    cfg.InfluxToken,
				Org:      cfg.InfluxOrg,
				Database: cfg.InfluxDatabase,
			}, logger)
			if err != nil {
				return sinks, closers, fmt.Errorf("failed to initialize InfluxDB: %w", err)
			}
			sinks = append(sinks, services.NamedSink{Name: name, Sink: db})
			closers = append(closers, db)

		case config.SinkClickHouse:
			db, err := database.NewClickHouseDB(ctx, database.ClickHouseConfig{
				Addr:     cfg.ClickHouseAddr,
				Database: cfg.ClickHouseDB,
				Username: cfg.ClickHouseUser,
				Password: cfg.ClickHousePass,
				TLS:      cfg.ClickHouseSSL,
			}, logger)
			if err != nil {
				return sinks, closers, fmt.Errorf("failed to initialize ClickHouse: %w", err)
			}
			sinks = append(sinks, services.NamedSink{Name: name, Sink: db})
			closers = append(closers, db)

		case config.SinkMQTT:
			client, err := mqtt.NewClient(mqtt.ClientConfig{
				Broker:   cfg.MQTTBroker,
				ClientID: cfg.MQTTClientID,
				Username: cfg.MQTTUsername,
				Password: cfg.MQTTPassword,
			}, logger)
			if err != nil {
				return sinks, closers, fmt.Errorf("failed to initialize MQTT client: %w", err)
			}
			publisher := mqtt.NewPublisher(client.GetNativeClient(), mqtt.PublisherConfig{
				PointsTopic: cfg.MQTTTopicPoints,
				QoS:         1,
				Retained:    cfg.MQTTRetain,
			}, logger)
			sinks = append(sinks, services.NamedSink{Name: name, Sink: publisher})
			closers = append(closers, client)

		default:
			return sinks, closers, fmt.Errorf("unknown sink %q", name)
		}
	}

	return sinks, closers, nil
}

func serveMetrics(addr string, m *metrics.Metrics, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("Serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", "error", err)
		}
	}()
	return srv
}
