// Package kafka connects the CVE mirror to its Kafka topics.
package kafka

import (
	"context"
	"crypto/tls"
	"errors"
	"time"

	"github.com/ortelius/cve-mirror/events/modules/cves"
	"github.com/ortelius/cve-mirror/internal/config"
	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"
	"go.uber.org/zap"
)

// GroupID is the consumer group of the sync request reader
const GroupID = "cve-mirror-worker"

// ErrDisabled is returned when no brokers are configured
var ErrDisabled = errors.New("kafka disabled: no brokers configured")

// NewDialer returns a dialer using SASL/PLAIN over TLS when credentials are set
func NewDialer(cfg config.Kafka) *kafka.Dialer {
	if cfg.APIKey != "" && cfg.APISecret != "" {
		return &kafka.Dialer{
			Timeout:   10 * time.Second,
			DualStack: true,
			SASLMechanism: plain.Mechanism{
				Username: cfg.APIKey,
				Password: cfg.APISecret,
			},
			TLS: &tls.Config{MinVersion: tls.VersionTLS12},
		}
	}

	// local development, no SASL/TLS
	return &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
}

// NewTransport returns the writer transport matching NewDialer, or nil for the default one
func NewTransport(cfg config.Kafka) kafka.RoundTripper {
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil
	}
	return &kafka.Transport{
		SASL: plain.Mechanism{
			Username: cfg.APIKey,
			Password: cfg.APISecret,
		},
		TLS: &tls.Config{MinVersion: tls.VersionTLS12},
	}
}

// NewProducer returns the sync event producer, or ErrDisabled
func NewProducer(cfg config.Kafka) (*cves.SyncProducer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, ErrDisabled
	}
	return cves.NewSyncProducer(cfg.Brokers, cfg.EventTopic, NewTransport(cfg)), nil
}

// RunEventProcessor consumes sync requests until ctx is done.
// It returns ErrDisabled right away when no brokers are configured.
func RunEventProcessor(ctx context.Context, cfg config.Kafka, trigger cves.SyncTrigger, logger *zap.Logger) error {
	if len(cfg.Brokers) == 0 {
		return ErrDisabled
	}

	dialer := NewDialer(cfg)

	var err error
	for i := 1; i <= 3; i++ {
		logger.Info("Kafka connection attempt", zap.Int("attempt", i), zap.Int("max", 3))
		var conn *kafka.Conn
		conn, err = dialer.DialContext(ctx, "tcp", cfg.Brokers[0])
		if err == nil {
			conn.Close()
			break
		}
		if i < 3 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(2 * time.Second):
			}
		}
	}
	if err != nil {
		return err
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  GroupID,
		Topic:    cfg.RequestTopic,
		MaxBytes: 10e6,
		Dialer:   dialer,
	})
	defer reader.Close()

	logger.Info("Kafka Event Processor started. Listening for sync requests...", zap.String("topic", cfg.RequestTopic))

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn("Error reading sync request", zap.Error(err))
			continue
		}
		if err := cves.HandleSyncRequested(ctx, msg.Value, trigger, logger); err != nil {
			logger.Error("Rejected sync request", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}
