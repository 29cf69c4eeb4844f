package database

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"den/internal/models"
)

// InfluxConfig addresses the InfluxDB write endpoint. Database is written
// as the bucket, which also works against the 1.8+ compatibility API.
type InfluxConfig struct {
	URL      string
	Token    string
	Org      string
	Database string
}

// InfluxDB writes points to InfluxDB. The client fixes the write precision
// per connection, so one client is kept for every precision in use.
type InfluxDB struct {
	config InfluxConfig
	logger *slog.Logger

	mu      sync.Mutex
	clients map[models.Precision]influxdb2.Client
	writers map[models.Precision]api.WriteAPIBlocking

	newWriter func(precision models.Precision) api.WriteAPIBlocking
}

// NewInfluxDB creates an InfluxDB sink and checks the server's health
func NewInfluxDB(ctx context.Context, config InfluxConfig, logger *slog.Logger) (*InfluxDB, error) {
	db := newInfluxDB(config, logger)
	db.newWriter = db.clientWriter

	health, err := db.client(models.PrecisionSeconds).Health(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach InfluxDB: %w", err)
	}
	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		db.Close()
		return nil, fmt.Errorf("InfluxDB unhealthy: %s %s", health.Status, msg)
	}

	logger.Info("Connected to InfluxDB", "url", config.URL, "database", config.Database)
	return db, nil
}

func newInfluxDB(config InfluxConfig, logger *slog.Logger) *InfluxDB {
	return &InfluxDB{
		config:  config,
		logger:  logger,
		clients: make(map[models.Precision]influxdb2.Client),
		writers: make(map[models.Precision]api.WriteAPIBlocking),
	}
}

// client returns the client for precision, creating it on first use.
// Callers hold no lock.
func (db *InfluxDB) client(precision models.Precision) influxdb2.Client {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.clientLocked(precision)
}

func (db *InfluxDB) clientLocked(precision models.Precision) influxdb2.Client {
	c, ok := db.clients[precision]
	if !ok {
		opts := influxdb2.DefaultOptions().SetPrecision(precision.Duration())
		c = influxdb2.NewClientWithOptions(db.config.URL, db.config.Token, opts)
		db.clients[precision] = c
	}
	return c
}

// clientWriter is the default newWriter; db.mu is held
func (db *InfluxDB) clientWriter(precision models.Precision) api.WriteAPIBlocking {
	return db.clientLocked(precision).WriteAPIBlocking(db.config.Org, db.config.Database)
}

func (db *InfluxDB) writer(precision models.Precision) api.WriteAPIBlocking {
	db.mu.Lock()
	defer db.mu.Unlock()

	w, ok := db.writers[precision]
	if !ok {
		w = db.newWriter(precision)
		db.writers[precision] = w
	}
	return w
}

// Write stores points in one blocking request. Line protocol needs at
// least one field per point, so field-less points are skipped.
func (db *InfluxDB) Write(ctx context.Context, points []models.Point, precision models.Precision) error {
	batch := make([]*write.Point, 0, len(points))
	for _, p := range points {
		if len(p.Fields) == 0 {
			db.logger.Debug("Skipping point without fields", "measurement", p.Measurement, "id", p.ID())
			continue
		}
		batch = append(batch, toInfluxPoint(p))
	}
	if len(batch) == 0 {
		return nil
	}

	if err := db.writer(precision).WritePoint(ctx, batch...); err != nil {
		return fmt.Errorf("failed to write %d points to InfluxDB: %w", len(batch), err)
	}
	return nil
}

func toInfluxPoint(p models.Point) *write.Point {
	fields := make(map[string]interface{}, len(p.Fields))
	for k, v := range p.Fields {
		fields[k] = v
	}
	return influxdb2.NewPoint(p.Measurement, p.Tags, fields, p.Time)
}

// Close closes every client
func (db *InfluxDB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	for precision, c := range db.clients {
		c.Close()
		delete(db.clients, precision)
	}
	db.writers = make(map[models.Precision]api.WriteAPIBlocking)
	db.logger.Info("InfluxDB connection closed")
	return nil
}
