package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"den/internal/models"
)

// Sink names accepted in DEN_SINKS
const (
	SinkInfluxDB   = "influxdb"
	SinkClickHouse = "clickhouse"
	SinkMQTT       = "mqtt"
)

type Config struct {
	// Stream Configuration
	AccessToken    string
	APIURL         string
	APIPath        string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration

	// Reconnect Configuration
	BackoffInitial    time.Duration
	BackoffMax        time.Duration
	BackoffMultiplier float64
	BackoffJitter     float64
	StableAfter       time.Duration

	Sinks     []string
	Precision string

	// InfluxDB Configuration
	InfluxHost     string
	InfluxPort     int
	InfluxSSL      bool
	InfluxDatabase string
	InfluxToken    string
	InfluxOrg      string

	// ClickHouse Configuration
	ClickHouseAddr string
	ClickHouseDB   string
	ClickHouseUser string
	ClickHousePass string
	ClickHouseSSL  bool

	// MQTT Configuration
	MQTTBroker      string
	MQTTClientID    string
	MQTTUsername    string
	MQTTPassword    string
	MQTTTopicPoints string
	MQTTRetain      bool

	// Observability
	MetricsAddr string
	LogLevel    string
	LogFormat   string
	LogFile     string
}

func Load() *Config {
	// Load .env file if it exists
	_ = godotenv.Load()

	return &Config{
		// Stream Configuration
		AccessToken:    getEnv("DEN_ACCESS_TOKEN", ""),
		APIURL:         getEnv("DEN_API_URL", "https://developer-api.nest.com"),
		APIPath:        getEnv("DEN_API_PATH", ""),
		ConnectTimeout: getEnvDuration("DEN_CONNECT_TIMEOUT", 7*time.Second),
		ReadTimeout:    getEnvDuration("DEN_READ_TIMEOUT", 601*time.Second),

		// Reconnect Configuration
		BackoffInitial:    getEnvDuration("DEN_BACKOFF_INITIAL", time.Second),
		BackoffMax:        getEnvDuration("DEN_BACKOFF_MAX", 5*time.Minute),
		BackoffMultiplier: getEnvFloat("DEN_BACKOFF_MULTIPLIER", 2),
		BackoffJitter:     getEnvFloat("DEN_BACKOFF_JITTER", 0),
		StableAfter:       getEnvDuration("DEN_STABLE_AFTER", time.Minute),

		Sinks:     getEnvList("DEN_SINKS", []string{SinkInfluxDB}),
		Precision: getEnv("DEN_PRECISION", "s"),

		// InfluxDB Configuration
		InfluxHost:     getEnv("INFLUXDB_HOST", "localhost"),
		InfluxPort:     getEnvInt("INFLUXDB_PORT", 8086),
		InfluxSSL:      getEnvBool("INFLUXDB_SSL", false),
		InfluxDatabase: getEnv("INFLUXDB_DATABASE", ""),
		InfluxToken:    getEnv("INFLUXDB_TOKEN", ""),
		InfluxOrg:      getEnv("INFLUXDB_ORG", ""),

		// ClickHouse Configuration
		ClickHouseAddr: getEnv("CLICKHOUSE_ADDR", "localhost:9000"),
		ClickHouseDB:   getEnv("CLICKHOUSE_DB", "den"),
		ClickHouseUser: getEnv("CLICKHOUSE_USER", "default"),
		ClickHousePass: getEnv("CLICKHOUSE_PASS", ""),
		ClickHouseSSL:  getEnvBool("CLICKHOUSE_SSL", false),

		// MQTT Configuration
		MQTTBroker:      getEnv("MQTT_BROKER", "tcp://localhost:1883"),
		MQTTClientID:    getEnv("MQTT_CLIENT_ID", "den"),
		MQTTUsername:    getEnv("MQTT_USERNAME", ""),
		MQTTPassword:    getEnv("MQTT_PASSWORD", ""),
		MQTTTopicPoints: getEnv("MQTT_TOPIC_POINTS", "den/{measurement}/{id}"),
		MQTTRetain:      getEnvBool("MQTT_RETAIN", false),

		// Observability
		MetricsAddr: getEnv("METRICS_ADDR", ""),
		LogLevel:    getEnv("LOG_LEVEL", "debug"),
		LogFormat:   getEnv("LOG_FORMAT", "text"),
		LogFile:     getEnv("LOG_FILE", ""),
	}
}

// InfluxURL returns the base URL of the InfluxDB HTTP API
func (c *Config) InfluxURL() string {
	scheme := "http"
	if c.InfluxSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(c.InfluxHost, strconv.Itoa(c.InfluxPort)))
}

// Validate reports every invalid setting at once
func (c *Config) Validate() error {
	var errs []error

	if c.AccessToken == "" {
		errs = append(errs, errors.New("DEN_ACCESS_TOKEN is required"))
	}
	if c.APIURL == "" {
		errs = append(errs, errors.New("DEN_API_URL is required"))
	}
	if c.ConnectTimeout <= 0 {
		errs = append(errs, errors.New("connect timeout must be positive"))
	}
	if c.ReadTimeout <= 0 {
		errs = append(errs, errors.New("read timeout must be positive"))
	}
	if c.BackoffInitial <= 0 || c.BackoffMax < c.BackoffInitial {
		errs = append(errs, fmt.Errorf("backoff must satisfy 0 < initial (%s) <= max (%s)", c.BackoffInitial, c.BackoffMax))
	}
	if c.BackoffMultiplier < 1 {
		errs = append(errs, fmt.Errorf("backoff multiplier must be at least 1, got %g", c.BackoffMultiplier))
	}
	if c.BackoffJitter < 0 || c.BackoffJitter >= 1 {
		errs = append(errs, fmt.Errorf("backoff jitter must be in [0, 1), got %g", c.BackoffJitter))
	}

	if _, err := models.ParsePrecision(c.Precision); err != nil {
		errs = append(errs, fmt.Errorf("DEN_PRECISION: %w", err))
	}

	if len(c.Sinks) == 0 {
		errs = append(errs, errors.New("at least one sink is required"))
	}
	for _, s := range c.Sinks {
		switch s {
		case SinkInfluxDB:
			if c.InfluxDatabase == "" {
				errs = append(errs, errors.New("database name is required for the influxdb sink"))
			}
			if c.InfluxPort <= 0 || c.InfluxPort > 65535 {
				errs = append(errs, fmt.Errorf("invalid InfluxDB port %d", c.InfluxPort))
			}
		case SinkClickHouse:
			if c.ClickHouseAddr == "" {
				errs = append(errs, errors.New("CLICKHOUSE_ADDR is required for the clickhouse sink"))
			}
		case SinkMQTT:
			if c.MQTTBroker == "" {
				errs = append(errs, errors.New("MQTT_BROKER is required for the mqtt sink"))
			}
		default:
			errs = append(errs, fmt.Errorf("unknown sink %q", s))
		}
	}

	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		slog.Warn("Failed to parse int, using default", "key", key, "error", err)
		return defaultValue
	}
	return intValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		slog.Warn("Failed to parse float, using default", "key", key, "error", err)
		return defaultValue
	}
	return floatValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	boolValue, err := strconv.ParseBool(value)
	if err != nil {
		slog.Warn("Failed to parse bool, using default", "key", key, "error", err)
		return defaultValue
	}
	return boolValue
}

// getEnvDuration accepts Go durations ("90s") and bare seconds ("601")
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if seconds, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(seconds * float64(time.Second))
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		slog.Warn("Failed to parse duration, using default", "key", key, "error", err)
		return defaultValue
	}
	return d
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var list []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.ToLower(strings.TrimSpace(item)); item != "" {
			list = append(list, item)
		}
	}
	return list
}
