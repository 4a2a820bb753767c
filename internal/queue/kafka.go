package queue

import (
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog/log"

	"github.com/paytech/fraud-detection/configs"
	"github.com/paytech/fraud-detection/internal/models"
)

// AlertProducer publishes fraud-alert events to Kafka for downstream
// analytics consumers
type AlertProducer struct {
	producer sarama.SyncProducer
	topic    string
}

// NewAlertProducer creates a new Kafka alert producer
func NewAlertProducer(cfg configs.KafkaConfig) (*AlertProducer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Retry.Max = 3
	config.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(cfg.Brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	log.Info().Strs("brokers", cfg.Brokers).Str("topic", cfg.AlertTopic).Msg("Kafka alert producer initialized")

	return &AlertProducer{
		producer: producer,
		topic:    cfg.AlertTopic,
	}, nil
}

// PublishAlert publishes an alert event, keyed by user so per-user
// ordering is preserved within a partition
func (p *AlertProducer) PublishAlert(event *models.AlertEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal alert event: %w", err)
	}

	partition, offset, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.UserID),
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		return fmt.Errorf("failed to publish alert event: %w", err)
	}

	log.Debug().
		Str("alert_id", event.AlertID).
		Int32("partition", partition).
		Int64("offset", offset).
		Msg("Alert event published")

	return nil
}

// Close closes the producer
func (p *AlertProducer) Close() error {
	return p.producer.Close()
}
