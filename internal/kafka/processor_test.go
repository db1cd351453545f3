package kafka

import (
	"context"
	"testing"

	"github.com/ortelius/cve-mirror/internal/config"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDisabledWithoutBrokers(t *testing.T) {
	cfg := config.Default().Kafka

	_, err := NewProducer(cfg)
	assert.ErrorIs(t, err, ErrDisabled)
	assert.ErrorIs(t, RunEventProcessor(context.Background(), cfg, nil, zap.NewNop()), ErrDisabled)
}

func TestDialerUsesSASLWithCredentials(t *testing.T) {
	cfg := config.Default().Kafka

	plainDialer := NewDialer(cfg)
	assert.Nil(t, plainDialer.SASLMechanism)
	assert.Nil(t, plainDialer.TLS)
	assert.Nil(t, NewTransport(cfg))

	cfg.APIKey, cfg.APISecret = "key", "secret"
	secure := NewDialer(cfg)
	require.NotNil(t, secure.TLS)
	mech, ok := secure.SASLMechanism.(plain.Mechanism)
	require.True(t, ok)
	assert.Equal(t, "key", mech.Username)
	assert.NotNil(t, NewTransport(cfg))
}

func TestProducerTargetsEventTopic(t *testing.T) {
	cfg := config.Default().Kafka
	cfg.Brokers = []string{"localhost:9092"}

	p, err := NewProducer(cfg)
	require.NoError(t, err)
	assert.NotNil(t, p.Writer)
}
