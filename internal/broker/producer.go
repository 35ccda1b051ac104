package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"kestrel/internal/config"
	"kestrel/internal/logger"
)

const (
	kafkaBatchTimeout = 100 * time.Millisecond
	kafkaWriteTimeout = 10 * time.Second
)

// FiringEvent is the envelope published for every rule firing, consumed by
// downstream analytics and dashboards.
type FiringEvent struct {
	ID           string    `json:"id"`
	Source       string    `json:"source"`
	Timestamp    time.Time `json:"timestamp"`
	RuleID       string    `json:"rule_id"`
	RuleName     string    `json:"rule_name"`
	Expression   string    `json:"expression"`
	CurrentValue string    `json:"current_value"`
}

type Producer interface {
	PublishFiring(ctx context.Context, event FiringEvent) error
	Close() error
}

type KafkaProducer struct {
	writer *kafka.Writer
	topic  string
	logger logger.Logger
}

func NewKafkaProducer(cfg config.EventsConfig, log logger.Logger) *KafkaProducer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: kafkaBatchTimeout,
		WriteTimeout: kafkaWriteTimeout,
		Async:        false,
	}
	return &KafkaProducer{writer: w, topic: cfg.FiringTopic, logger: log}
}

func (p *KafkaProducer) PublishFiring(ctx context.Context, event FiringEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Source == "" {
		event.Source = "rule-engine"
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal firing event: %w", err)
	}

	err = p.writer.WriteMessages(ctx,
		kafka.Message{
			Topic: p.topic,
			Key:   []byte(event.RuleID),
			Value: body,
			Time:  time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to write kafka message: %w", err)
	}

	return nil
}

func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}
