// Package database holds the point sinks backed by time-series stores.
package database

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"den/internal/models"
)

// ClickHouseConfig holds the ClickHouse connection settings
type ClickHouseConfig struct {
	Addr     string
	Database string
	Username string
	Password string
	TLS      bool
}

// conn is the part of driver.Conn the sink uses
type conn interface {
	Exec(ctx context.Context, query string, args ...any) error
	PrepareBatch(ctx context.Context, query string, opts ...driver.PrepareBatchOption) (driver.Batch, error)
	Close() error
}

type ClickHouseDB struct {
	conn   conn
	logger *slog.Logger
}

// NewClickHouseDB creates a new ClickHouse database connection
func NewClickHouseDB(ctx context.Context, config ClickHouseConfig, logger *slog.Logger) (*ClickHouseDB, error) {
	opts := &clickhouse.Options{
		Addr: []string{config.Addr},
		Auth: clickhouse.Auth{
			Database: config.Database,
			Username: config.Username,
			Password: config.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	}
	if config.TLS {
		opts.TLS = &tls.Config{}
	}

	chConn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := chConn.Ping(ctx); err != nil {
		chConn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	logger.Info("Connected to ClickHouse", "addr", config.Addr, "database", config.Database)

	db := &ClickHouseDB{conn: chConn, logger: logger}

	// Initialize schema
	if err := db.InitSchema(ctx); err != nil {
		chConn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// InitSchema creates the necessary tables if they don't exist
func (db *ClickHouseDB) InitSchema(ctx context.Context) error {
	for _, tableSQL := range AllTables() {
		if err := db.conn.Exec(ctx, tableSQL); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	db.logger.Info("Database schema initialized successfully")
	return nil
}

// Write inserts points as one batch, then refreshes the registry rows of
// the entities they describe. Timestamps are truncated to precision.
func (db *ClickHouseDB) Write(ctx context.Context, points []models.Point, precision models.Precision) error {
	if len(points) == 0 {
		return nil
	}

	batch, err := db.conn.PrepareBatch(ctx, insertPointsSQL)
	if err != nil {
		return fmt.Errorf("failed to prepare points batch: %w", err)
	}
	for _, p := range points {
		if err := batch.Append(p.Time.Truncate(precision.Duration()), p.Measurement, p.ID(), p.Tags, p.Fields); err != nil {
			batch.Abort()
			return fmt.Errorf("failed to append point: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to insert points: %w", err)
	}

	return db.UpsertDevices(ctx, points)
}

// UpsertDevices inserts or updates the registry row of every point's entity
func (db *ClickHouseDB) UpsertDevices(ctx context.Context, points []models.Point) error {
	batch, err := db.conn.PrepareBatch(ctx, insertRegistrySQL)
	if err != nil {
		return fmt.Errorf("failed to prepare registry batch: %w", err)
	}
	for _, p := range points {
		if err := batch.Append(p.ID(), p.Measurement, p.Tags["name"], p.Tags["structure_id"], p.Time); err != nil {
			batch.Abort()
			return fmt.Errorf("failed to append registry row: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to upsert devices: %w", err)
	}
	return nil
}

// Close closes the ClickHouse connection
func (db *ClickHouseDB) Close() error {
	if db.conn != nil {
		if err := db.conn.Close(); err != nil {
			return fmt.Errorf("failed to close ClickHouse connection: %w", err)
		}
		db.logger.Info("ClickHouse connection closed")
	}
	return nil
}
