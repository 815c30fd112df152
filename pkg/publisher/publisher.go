// Package publisher writes scored events and batch summaries to Kafka.
package publisher

import (
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"go-auditrisk/pkg/logger"
	"go-auditrisk/pkg/models"
)

type Publisher struct {
	producer     sarama.SyncProducer
	resultTopic  string
	summaryTopic string
}

// NewProducerConfig sarama settings shared by the publisher.
func NewProducerConfig() (*sarama.Config, error) {
	config := sarama.NewConfig()
	version, err := sarama.ParseKafkaVersion("2.1.0")
	if err != nil {
		return nil, err
	}
	config.Version = version
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 3
	config.Producer.Return.Successes = true
	config.Producer.Partitioner = sarama.NewHashPartitioner
	config.Net.DialTimeout = 30 * time.Second
	config.Net.ReadTimeout = 30 * time.Second
	config.Net.WriteTimeout = 30 * time.Second
	return config, nil
}

func NewPublisher(brokers []string, resultTopic, summaryTopic string) (*Publisher, error) {
	config, err := NewProducerConfig()
	if err != nil {
		return nil, err
	}
	logger.Log.Infof("connecting producer to kafka brokers: %v", brokers)
	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, err
	}
	return NewWithProducer(producer, resultTopic, summaryTopic), nil
}

// NewWithProducer wraps an existing producer.
func NewWithProducer(producer sarama.SyncProducer, resultTopic, summaryTopic string) *Publisher {
	return &Publisher{producer: producer, resultTopic: resultTopic, summaryTopic: summaryTopic}
}

// Publish sends every event of the result, keyed by batch id so a batch stays
// on one partition in order, followed by the summary.
func (p *Publisher) Publish(result *models.BatchResult) error {
	batchID := result.Summary.BatchID

	msgs := make([]*sarama.ProducerMessage, 0, len(result.Events))
	for i := range result.Events {
		data, err := models.MarshalEvent(&result.Events[i])
		if err != nil {
			return fmt.Errorf("encode event %d: %w", result.Events[i].Sequence, err)
		}
		msgs = append(msgs, &sarama.ProducerMessage{
			Topic: p.resultTopic,
			Key:   sarama.StringEncoder(batchID),
			Value: sarama.ByteEncoder(data),
		})
	}
	if len(msgs) > 0 {
		if err := p.producer.SendMessages(msgs); err != nil {
			return fmt.Errorf("publish events of batch %s: %w", batchID, err)
		}
	}

	data, err := models.MarshalSummary(&result.Summary)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	partition, offset, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.summaryTopic,
		Key:   sarama.StringEncoder(batchID),
		Value: sarama.ByteEncoder(data),
	})
	if err != nil {
		return fmt.Errorf("publish summary of batch %s: %w", batchID, err)
	}
	logger.Log.Infof("published batch %s: %d events, summary at partition=%d offset=%d",
		batchID, len(msgs), partition, offset)
	return nil
}

func (p *Publisher) Close() error {
	return p.producer.Close()
}
