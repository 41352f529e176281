package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/NeuralTrust/TrustGuard/pkg/domain/incident"
	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/mitchellh/mapstructure"
)

const KafkaNotifierName = "kafka"

type KafkaConfig struct {
	Host  string `mapstructure:"host"`
	Port  string `mapstructure:"port"`
	Topic string `mapstructure:"topic"`
}

func (c KafkaConfig) Validate() error {
	if c.Host == "" {
		return errors.New("kafka host is required")
	}
	if c.Port == "" {
		return errors.New("kafka port is required")
	}
	if c.Topic == "" {
		return errors.New("kafka topic is required")
	}
	return nil
}

type kafkaProducer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Flush(timeoutMs int) int
	Close()
}

type kafkaNotifier struct {
	cfg      KafkaConfig
	producer kafkaProducer
}

func NewKafkaNotifier(settings map[string]interface{}) (Notifier, error) {
	var conf KafkaConfig
	if err := mapstructure.Decode(settings, &conf); err != nil {
		return nil, fmt.Errorf("invalid kafka config: %w", err)
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": fmt.Sprintf("%s:%s", conf.Host, conf.Port),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return &kafkaNotifier{cfg: conf, producer: producer}, nil
}

func (n *kafkaNotifier) Name() string {
	return KafkaNotifierName
}

// Notify produces the alert keyed by incident id and waits for the delivery report.
func (n *kafkaNotifier) Notify(ctx context.Context, inc *incident.SecurityIncident, priority Priority) error {
	data, err := json.Marshal(NewAlert(inc, priority))
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}
	deliveryChan := make(chan kafka.Event, 1)
	err = n.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &n.cfg.Topic, Partition: kafka.PartitionAny},
		Key:            []byte(inc.ID),
		Value:          data,
		Headers: []kafka.Header{
			{Key: "priority", Value: []byte(priority)},
			{Key: "severity", Value: []byte(inc.Severity)},
		},
	}, deliveryChan)
	if err != nil {
		return fmt.Errorf("failed to produce alert: %w", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case e := <-deliveryChan:
		m, ok := e.(*kafka.Message)
		if !ok {
			return fmt.Errorf("unexpected delivery event %T", e)
		}
		if m.TopicPartition.Error != nil {
			return fmt.Errorf("delivery failed: %w", m.TopicPartition.Error)
		}
		return nil
	}
}

func (n *kafkaNotifier) Close() {
	if n.producer != nil {
		n.producer.Flush(5000)
		n.producer.Close()
	}
}
