package database

// SQL schemas for all ClickHouse tables

const (
	// PointsTableSQL creates the points table
	PointsTableSQL = `
		CREATE TABLE IF NOT EXISTS points (
			timestamp DateTime64(3),
			measurement LowCardinality(String),
			entity_id String,
			tags Map(String, String),
			fields Map(String, Float64)
		) ENGINE = MergeTree()
		ORDER BY (measurement, entity_id, timestamp)
		PARTITION BY toYYYYMM(timestamp)
	`

	// DeviceRegistryTableSQL creates the device_registry table
	DeviceRegistryTableSQL = `
		CREATE TABLE IF NOT EXISTS device_registry (
			entity_id String,
			measurement LowCardinality(String),
			name String,
			structure_id String,
			last_seen DateTime64(3)
		) ENGINE = ReplacingMergeTree(last_seen)
		ORDER BY (measurement, entity_id)
	`

	insertPointsSQL   = `INSERT INTO points (timestamp, measurement, entity_id, tags, fields)`
	insertRegistrySQL = `INSERT INTO device_registry (entity_id, measurement, name, structure_id, last_seen)`
)

// AllTables returns all table creation SQL statements
func AllTables() []string {
	return []string{
		PointsTableSQL,
		DeviceRegistryTableSQL,
	}
}
