package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"proof-vault/models"
)

// FallbackEvent is the message published when the engine enters degraded mode.
type FallbackEvent struct {
	Type        string              `json:"type"`
	Reason      string              `json:"reason"`
	TriggeredAt int64               `json:"triggered_at"`
	Metrics     models.Metrics      `json:"metrics"`
	Entries     []models.AuditEntry `json:"entries"`
	PublishedAt int64               `json:"published_at"`
}

const eventFallbackActivated = "fallback_activated"

// KafkaPublisher sends fallback events to a Kafka topic.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
	logger   *zap.Logger
	mu       sync.Mutex
	closed   bool
}

// NewKafkaPublisher dials brokers with a sync producer that waits for all in-sync replicas.
func NewKafkaPublisher(brokers []string, topic string, logger *zap.Logger) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher: no brokers configured")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka publisher: topic required")
	}

	cfg := sarama.NewConfig()
	cfg.ClientID = "proof-vault"
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Timeout = 5 * time.Second

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("kafka publisher: failed to create producer: %w", err)
	}
	return NewKafkaPublisherWithProducer(producer, topic, logger), nil
}

// NewKafkaPublisherWithProducer wraps an existing producer.
func NewKafkaPublisherWithProducer(producer sarama.SyncProducer, topic string, logger *zap.Logger) *KafkaPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaPublisher{producer: producer, topic: topic, logger: logger}
}

// PublishFallback sends one event keyed by the snapshot's trigger time.
func (p *KafkaPublisher) PublishFallback(ctx context.Context, snapshot *models.FallbackSnapshot) error {
	if snapshot == nil {
		return errors.New("kafka publisher: nil snapshot")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("kafka publisher: closed")
	}

	payload, err := json.Marshal(FallbackEvent{
		Type:        eventFallbackActivated,
		Reason:      snapshot.Reason,
		TriggeredAt: snapshot.TriggeredAt,
		Metrics:     snapshot.Metrics,
		Entries:     snapshot.Entries,
		PublishedAt: time.Now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("kafka publisher: failed to encode event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(fmt.Sprintf("fallback-%d", snapshot.TriggeredAt)),
		Value: sarama.ByteEncoder(payload),
	}
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("kafka publisher: send failed: %w", err)
	}

	p.logger.Info("fallback event published",
		zap.String("topic", p.topic),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))
	return nil
}

func (p *KafkaPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.producer.Close()
}
