package repository

import (
	"context"

	domrepo "FinPilot/internal/domain/repository"
	"FinPilot/pkg/logger"
)

// messageProducer is satisfied by *pkg/kafka.Producer.
type messageProducer interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
	Close() error
}

// KafkaPublisher publishes JSON payloads to one topic.
type KafkaPublisher struct {
	producer messageProducer
	topic    string
}

var (
	_ domrepo.Publisher = (*KafkaPublisher)(nil)
	_ logger.Publisher  = (*KafkaPublisher)(nil)
)

// NewKafkaPublisher creates Kafka publisher.
func NewKafkaPublisher(producer messageProducer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

func (p *KafkaPublisher) Topic() string { return p.topic }

func (p *KafkaPublisher) Publish(ctx context.Context, key string, payload interface{}) error {
	var k []byte
	if key != "" {
		k = []byte(key)
	}
	return p.producer.Publish(ctx, p.topic, k, payload)
}

// PublishMessage lets the log collector ship aggregated entries. An empty
// topic falls back to the publisher's own.
func (p *KafkaPublisher) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	if topic == "" {
		topic = p.topic
	}
	return p.producer.Publish(ctx, topic, nil, payload)
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
