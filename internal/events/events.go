// Package events publishes domain events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("vidfeed-events")

// Event types
const (
	TypeVideoUploaded  = "video.uploaded"
	TypeVideoDeleted   = "video.deleted"
	TypeLikeAdded      = "like.added"
	TypeLikeRemoved    = "like.removed"
	TypeCommentAdded   = "comment.added"
	TypeCommentDeleted = "comment.deleted"
)

// Envelope is the wire form of every event
type Envelope struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// VideoPayload accompanies video.* events
type VideoPayload struct {
	ID       string  `json:"id"`
	DeviceID string  `json:"deviceId"`
	RemoteID string  `json:"remoteId"`
	Title    string  `json:"title,omitempty"`
	Duration float64 `json:"duration,omitempty"`
	Size     int64   `json:"size,omitempty"`
}

// LikePayload accompanies like.* events
type LikePayload struct {
	VideoID  string `json:"videoId"`
	DeviceID string `json:"deviceId"`
}

// CommentPayload accompanies comment.* events
type CommentPayload struct {
	ID       string `json:"id"`
	VideoID  string `json:"videoId"`
	DeviceID string `json:"deviceId"`
}

// Publisher sends an event keyed by key, normally the video id.
type Publisher interface {
	Publish(ctx context.Context, eventType, key string, payload interface{}) error
	Close() error
}

// KafkaPublisher sends events through a synchronous producer
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
	log      logrus.FieldLogger
}

// NewKafkaPublisher connects a producer to the brokers
func NewKafkaPublisher(brokers []string, topic string, log logrus.FieldLogger) (*KafkaPublisher, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_8_1_0
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return NewKafkaPublisherWithProducer(producer, topic, log), nil
}

// NewKafkaPublisherWithProducer wraps an existing producer
func NewKafkaPublisherWithProducer(producer sarama.SyncProducer, topic string, log logrus.FieldLogger) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic, log: log}
}

// Publish marshals the envelope and waits for the broker's ack
func (k *KafkaPublisher) Publish(ctx context.Context, eventType, key string, payload interface{}) error {
	_, span := tracer.Start(ctx, "kafka.publish",
		trace.WithAttributes(
			attribute.String("event_type", eventType),
			attribute.String("key", key),
		),
	)
	defer span.End()

	data, err := json.Marshal(Envelope{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(data),
	}
	partition, offset, err := k.producer.SendMessage(msg)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to send %s event: %w", eventType, err)
	}

	k.log.WithFields(logrus.Fields{
		"topic":      k.topic,
		"partition":  partition,
		"offset":     offset,
		"event_type": eventType,
	}).Debug("event published")
	return nil
}

// Close closes the producer
func (k *KafkaPublisher) Close() error {
	return k.producer.Close()
}

// Noop discards every event
type Noop struct{}

func (Noop) Publish(context.Context, string, string, interface{}) error { return nil }

func (Noop) Close() error { return nil }
