package cves

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/ortelius/cve-mirror/internal/collector"
	"github.com/segmentio/kafka-go"
)

// MessageWriter is the part of kafka.Writer the producer needs
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// SyncProducer sends sync events to Kafka
type SyncProducer struct {
	Writer MessageWriter
}

// NewSyncProducer initializes a Kafka writer for sync events
func NewSyncProducer(brokers []string, topic string, transport kafka.RoundTripper) *SyncProducer {
	return &SyncProducer{
		Writer: &kafka.Writer{
			Addr:      kafka.TCP(brokers...),
			Topic:     topic,
			Balancer:  &kafka.LeastBytes{},
			Transport: transport,
		},
	}
}

// PublishSyncCompleted sends the run summary to the event topic
func (p *SyncProducer) PublishSyncCompleted(ctx context.Context, res collector.RunResult) error {
	event := SyncCompletedEvent{
		EventType:     SyncCompletedType,
		EventID:       uuid.New().String(),
		EventTime:     time.Now().UTC(),
		SchemaVersion: SchemaVersion,
		Run:           res,
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return p.Writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(res.RunID),
		Value: payload,
	})
}

// Close cleans up the Kafka writer
func (p *SyncProducer) Close() error {
	return p.Writer.Close()
}
