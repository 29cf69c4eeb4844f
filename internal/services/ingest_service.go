package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"den/internal/frame"
	"den/internal/ingesterr"
	"den/internal/metrics"
	"den/internal/models"
	"den/internal/stream"
	"den/internal/transform"
)

// Sink persists points. A Write either stores the whole batch or fails.
type Sink interface {
	Write(ctx context.Context, points []models.Point, precision models.Precision) error
}

// LineSource is an open stream session
type LineSource interface {
	Next() (string, error)
	Close() error
}

// Opener opens a stream session for a connection
type Opener interface {
	Open(ctx context.Context, conn stream.Connection) (LineSource, error)
}

// OpenerFunc adapts a function to Opener
type OpenerFunc func(ctx context.Context, conn stream.Connection) (LineSource, error)

func (f OpenerFunc) Open(ctx context.Context, conn stream.Connection) (LineSource, error) {
	return f(ctx, conn)
}

// StreamOpener opens sessions with the HTTP stream client
func StreamOpener(client *stream.Client) Opener {
	return OpenerFunc(func(ctx context.Context, conn stream.Connection) (LineSource, error) {
		lines, err := client.Open(ctx, conn)
		if err != nil {
			return nil, err
		}
		return lines, nil
	})
}

// IngestServiceConfig holds configuration for the ingest service
type IngestServiceConfig struct {
	Connection stream.Connection
	Precision  models.Precision
}

// IngestService runs one pass of the ingestion pipeline: stream lines in,
// points out to the sink
type IngestService struct {
	opener      Opener
	sink        Sink
	parser      *frame.Parser
	transformer *transform.Transformer
	metrics     *metrics.Metrics
	logger      *slog.Logger

	conn      stream.Connection
	precision models.Precision

	now func() time.Time
}

// NewIngestService creates a new ingest service. m may be nil.
func NewIngestService(
	opener Opener,
	sink Sink,
	config IngestServiceConfig,
	logger *slog.Logger,
	m *metrics.Metrics,
) *IngestService {
	return &IngestService{
		opener:      opener,
		sink:        sink,
		parser:      frame.NewParser(logger),
		transformer: transform.NewTransformer(logger),
		metrics:     m,
		logger:      logger,
		conn:        config.Connection,
		precision:   config.Precision,
		now:         time.Now,
	}
}

// RunOnce streams until the server ends the stream or an error occurs. It
// returns nil only when the stream is exhausted. Transport, sink and
// cancellation errors are returned to the caller.
func (s *IngestService) RunOnce(ctx context.Context) error {
	logger := s.logger.With("session", uuid.NewString())
	endpoint := s.conn.Redacted()

	lines, err := s.opener.Open(ctx, s.conn)
	if err != nil {
		return err
	}
	defer lines.Close()

	logger.Info("Streaming", "url", endpoint)
	s.metrics.SessionStarted()
	defer s.metrics.SessionEnded()

	snapshots := 0
	for {
		line, err := lines.Next()
		if errors.Is(err, io.EOF) {
			logger.Info("Streaming complete", "url", endpoint, "snapshots", snapshots)
			return nil
		}
		if err != nil {
			return err
		}
		if strings.TrimSpace(line) == "" {
			continue
		}

		f := s.parser.Decode(line)
		s.metrics.ObserveFrame(f.Kind.String())
		if f.Kind != frame.KindData {
			continue
		}

		if err := s.handleSnapshot(ctx, f.Data, logger); err != nil {
			return err
		}
		snapshots++
	}
}

// handleSnapshot writes the structure points, then the thermostat points,
// of one data frame
func (s *IngestService) handleSnapshot(ctx context.Context, raw json.RawMessage, logger *slog.Logger) error {
	snap := models.DecodeSnapshot(raw, logger)
	ts := s.now()

	batches := []struct {
		measurement string
		points      []models.Point
	}{
		{transform.StructureMeasurement, s.transformer.StructurePoints(snap, ts)},
		{transform.ThermostatMeasurement, s.transformer.ThermostatPoints(snap, ts)},
	}

	for _, batch := range batches {
		if len(batch.points) == 0 {
			continue
		}
		if err := s.sink.Write(ctx, batch.points, s.precision); err != nil {
			if ctx.Err() != nil {
				return ingesterr.Cancelled("ingest.write", ctx.Err())
			}
			if ingesterr.KindOf(err) == ingesterr.KindSink {
				return err
			}
			return ingesterr.Sink("ingest.write", err)
		}
		s.metrics.ObservePoints(batch.measurement, len(batch.points))
		logger.Debug("Wrote points", "measurement", batch.measurement, "count", len(batch.points))
	}
	return nil
}
