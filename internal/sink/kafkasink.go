package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"

	"github.com/shortontech/gotriage/internal/alert"
)

// KafkaConfig holds configuration for Kafka producer
type KafkaConfig struct {
	Brokers     []string
	Topic       string
	Acks        string
	Compression string

	// SASL config
	SASLMechanism string
	SASLUser      string
	SASLPassword  string

	// TLS config
	TLSCAPath     string
	TLSSkipVerify bool
}

// KafkaSink produces alerts to Kafka with key=alert_id for idempotency
type KafkaSink struct {
	config   KafkaConfig
	producer *kafka.Producer
	logger   *zap.Logger
}

// NewKafkaSinkFromEnv creates a KafkaSink from environment variables
func NewKafkaSinkFromEnv() *KafkaSink {
	brokersStr := os.Getenv("KAFKA_BROKERS")
	if brokersStr == "" {
		brokersStr = "localhost:9092"
	}
	brokers := strings.Split(brokersStr, ",")
	for i, broker := range brokers {
		brokers[i] = strings.TrimSpace(broker)
	}

	config := KafkaConfig{
		Brokers:       brokers,
		Topic:         getEnvOr("KAFKA_TOPIC", "gotriage.alerts"),
		Acks:          getEnvOr("KAFKA_ACKS", "all"),
		Compression:   getEnvOr("KAFKA_COMPRESSION", ""),
		SASLMechanism: os.Getenv("KAFKA_SASL_MECHANISM"),
		SASLUser:      os.Getenv("KAFKA_SASL_USER"),
		SASLPassword:  os.Getenv("KAFKA_SASL_PASSWORD"),
		TLSCAPath:     os.Getenv("KAFKA_TLS_CA"),
		TLSSkipVerify: getBoolEnv("KAFKA_TLS_SKIP_VERIFY", false),
	}

	return &KafkaSink{config: config, logger: zap.NewNop()}
}

// NewKafkaSink creates a KafkaSink with explicit configuration
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		config: KafkaConfig{
			Brokers: brokers,
			Topic:   topic,
			Acks:    "all",
		},
		logger: zap.NewNop(),
	}
}

// WithLogger sets the logger used for delivery failures.
func (s *KafkaSink) WithLogger(l *zap.Logger) *KafkaSink {
	if l != nil {
		s.logger = l
	}
	return s
}

func (s *KafkaSink) Name() string { return "kafka" }

// configMap builds the producer configuration.
func (s *KafkaSink) configMap() kafka.ConfigMap {
	configMap := kafka.ConfigMap{
		"bootstrap.servers": strings.Join(s.config.Brokers, ","),
		"acks":              s.config.Acks,
		"retries":           10,
		"retry.backoff.ms":  100,
		"batch.size":        16384,
		"linger.ms":         10,
	}

	// Set compression if specified
	if s.config.Compression != "" {
		configMap["compression.type"] = s.config.Compression
	}

	// Configure SASL if specified
	if s.config.SASLMechanism != "" {
		configMap["security.protocol"] = "SASL_SSL"
		configMap["sasl.mechanism"] = s.config.SASLMechanism
		if s.config.SASLUser != "" {
			configMap["sasl.username"] = s.config.SASLUser
		}
		if s.config.SASLPassword != "" {
			configMap["sasl.password"] = s.config.SASLPassword
		}
	}

	// Configure TLS if CA path is provided
	if s.config.TLSCAPath != "" {
		if s.config.SASLMechanism == "" {
			configMap["security.protocol"] = "SSL"
		}
		configMap["ssl.ca.location"] = s.config.TLSCAPath
	}

	// Configure TLS verification
	if s.config.TLSSkipVerify {
		configMap["ssl.endpoint.identification.algorithm"] = "none"
	}
	return configMap
}

func (s *KafkaSink) Start(ctx context.Context) error {
	configMap := s.configMap()
	producer, err := kafka.NewProducer(&configMap)
	if err != nil {
		return fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	s.producer = producer

	// Start delivery report handler in background
	go s.handleDeliveryReports(ctx)

	return nil
}

// buildMessage keys the record by alert id and tags it with the label.
func (s *KafkaSink) buildMessage(a alert.Alert) (*kafka.Message, error) {
	value, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize alert: %w", err)
	}
	return &kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &s.config.Topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(a.AlertID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "alert_type", Value: []byte(a.Type())},
			{Key: "schema", Value: []byte("v1")},
		},
	}, nil
}

func (s *KafkaSink) Enqueue(a alert.Alert) error {
	if s.producer == nil {
		return fmt.Errorf("kafka producer not initialized")
	}

	msg, err := s.buildMessage(a)
	if err != nil {
		return err
	}

	// Send message asynchronously
	if err := s.producer.Produce(msg, nil); err != nil {
		return fmt.Errorf("failed to produce message: %w", err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	if s.producer == nil {
		return nil
	}

	// Flush any remaining messages (wait up to 10 seconds)
	remaining := s.producer.Flush(10 * 1000)
	if remaining > 0 {
		return fmt.Errorf("failed to flush %d remaining messages", remaining)
	}

	s.producer.Close()
	s.producer = nil
	return nil
}

// handleDeliveryReports logs failed deliveries until ctx ends or the
// producer closes its event channel.
func (s *KafkaSink) handleDeliveryReports(ctx context.Context, events chan kafka.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch e := ev.(type) {
			case *kafka.Message:
				if e.TopicPartition.Error != nil {
					s.logger.Warn("kafka delivery failed",
						zap.ByteString("alert_id", e.Key),
						zap.Error(e.TopicPartition.Error))
				}
			case kafka.Error:
				s.logger.Error("kafka client error", zap.Error(e))
			}
		}
	}
}

// Helper functions
func getEnvOr(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch value {
	case "1", "t", "true", "y", "yes":
		return true
	case "0", "f", "false", "n", "no":
		return false
	}
	return defaultValue
}
