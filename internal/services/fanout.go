package services

import (
	"context"
	"log/slog"

	"den/internal/ingesterr"
	"den/internal/metrics"
	"den/internal/models"
)

// NamedSink labels a sink for logs and metrics
type NamedSink struct {
	Name string
	Sink Sink
}

// FanoutSink writes every batch to each sink in order. The first failure
// aborts the write; sinks earlier in the list keep what they stored.
type FanoutSink struct {
	sinks   []NamedSink
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewFanoutSink creates a sink over sinks. m may be nil.
func NewFanoutSink(logger *slog.Logger, m *metrics.Metrics, sinks ...NamedSink) *FanoutSink {
	return &FanoutSink{sinks: sinks, metrics: m, logger: logger}
}

// Write implements Sink
func (f *FanoutSink) Write(ctx context.Context, points []models.Point, precision models.Precision) error {
	for _, s := range f.sinks {
		if err := s.Sink.Write(ctx, points, precision); err != nil {
			f.metrics.ObserveSinkError(s.Name)
			f.logger.Error("Error writing points", "sink", s.Name, "count", len(points), "error", err)
			return ingesterr.Sink("sink."+s.Name, err)
		}
	}
	return nil
}

// Names returns the configured sink names in write order
func (f *FanoutSink) Names() []string {
	names := make([]string, len(f.sinks))
	for i, s := range f.sinks {
		names[i] = s.Name
	}
	return names
}
