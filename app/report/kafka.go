package report

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/IBM/sarama"
	"github.com/lysyi3m/news-comb/app/item"
)

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// KafkaReporter publishes each report as JSON, keyed by source so runs of
// one source keep their order within a partition.
type KafkaReporter struct {
	producer sarama.SyncProducer
	topic    string
}

func NewKafkaReporter(config KafkaConfig) (*KafkaReporter, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_6_0_0
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Retry.Max = 3
	saramaConfig.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(config.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	slog.Info("Connected to Kafka", "brokers", config.Brokers, "topic", config.Topic)
	return NewKafkaReporterWithProducer(producer, config.Topic), nil
}

func NewKafkaReporterWithProducer(producer sarama.SyncProducer, topic string) *KafkaReporter {
	return &KafkaReporter{producer: producer, topic: topic}
}

func (r *KafkaReporter) Report(ctx context.Context, report item.IngestReport) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	partition, offset, err := r.producer.SendMessage(&sarama.ProducerMessage{
		Topic: r.topic,
		Key:   sarama.StringEncoder(report.Source),
		Value: sarama.ByteEncoder(data),
	})
	if err != nil {
		return fmt.Errorf("failed to publish report %s: %w", report.RunID, err)
	}

	slog.Debug("Report published", "run_id", report.RunID, "topic", r.topic, "partition", partition, "offset", offset)
	return nil
}

func (r *KafkaReporter) Close() error {
	return r.producer.Close()
}
