package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"den/internal/models"
)

// DefaultPointsTopic is the topic pattern points are published to
const DefaultPointsTopic = "den/{measurement}/{id}"

// Publisher republishes points as JSON messages, one per point
type Publisher struct {
	client mqtt.Client
	logger *slog.Logger

	// Topic pattern
	pointsTopic string // e.g., "den/{measurement}/{id}"
	qos         byte
	retained    bool
}

// PublisherConfig holds configuration for MQTT publisher
type PublisherConfig struct {
	PointsTopic string
	QoS         byte
	// Retained keeps the last point of every entity on the broker
	Retained bool
}

// NewPublisher creates a new MQTT publisher
func NewPublisher(client mqtt.Client, config PublisherConfig, logger *slog.Logger) *Publisher {
	topic := config.PointsTopic
	if topic == "" {
		topic = DefaultPointsTopic
	}
	return &Publisher{
		client:      client,
		logger:      logger,
		pointsTopic: topic,
		qos:         config.QoS,
		retained:    config.Retained,
	}
}

// pointMessage is the JSON payload of one published point
type pointMessage struct {
	Measurement string             `json:"measurement"`
	Tags        map[string]string  `json:"tags"`
	Fields      map[string]float64 `json:"fields"`
	Timestamp   int64              `json:"timestamp"`
	Precision   string             `json:"precision"`
}

// Write publishes every point and waits for each delivery. It stops at the
// first failed publish.
func (p *Publisher) Write(ctx context.Context, points []models.Point, precision models.Precision) error {
	for _, point := range points {
		if err := p.publishPoint(ctx, point, precision); err != nil {
			return err
		}
	}
	return nil
}

func (p *Publisher) publishPoint(ctx context.Context, point models.Point, precision models.Precision) error {
	payload, err := json.Marshal(pointMessage{
		Measurement: point.Measurement,
		Tags:        point.Tags,
		Fields:      point.Fields,
		Timestamp:   point.Time.UnixNano() / int64(precision.Duration()),
		Precision:   precision.String(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal point: %w", err)
	}

	topic := formatTopic(p.pointsTopic, point.Measurement, point.ID())

	token := p.client.Publish(topic, p.qos, p.retained, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish point to %s: %w", topic, err)
	}

	p.logger.Debug("Published point", "topic", topic)
	return nil
}

// formatTopic replaces the {measurement} and {id} placeholders
func formatTopic(topicPattern, measurement, id string) string {
	return strings.NewReplacer("{measurement}", measurement, "{id}", id).Replace(topicPattern)
}
