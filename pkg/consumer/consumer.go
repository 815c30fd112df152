package consumer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/goccy/go-json"

	"go-auditrisk/pkg/logger"
	"go-auditrisk/pkg/models"
)

// Envelope one batch as carried on the input topic.
type Envelope struct {
	BatchID string          `json:"batch_id"`
	Rows    []models.RawRow `json:"rows"`
}

// BatchHandler processes one decoded batch.
type BatchHandler interface {
	HandleBatch(ctx context.Context, batchID string, rows []models.RawRow) error
}

type Consumer struct {
	consumer sarama.ConsumerGroup
	handler  BatchHandler

	mu    sync.Mutex
	ready chan bool
}

func NewConsumer(brokers []string, groupID string, handler BatchHandler) (*Consumer, error) {
	config := sarama.NewConfig()
	version, err := sarama.ParseKafkaVersion("2.1.0")
	if err != nil {
		return nil, err
	}
	config.Version = version
	config.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Return.Errors = true
	config.Consumer.Group.Session.Timeout = 20 * time.Second
	config.Consumer.Group.Heartbeat.Interval = 6 * time.Second
	config.Net.DialTimeout = 30 * time.Second
	config.Net.ReadTimeout = 30 * time.Second
	config.Net.WriteTimeout = 30 * time.Second
	config.Consumer.Fetch.Default = 8 * 1024 * 1024

	logger.Log.Infof("connecting to kafka brokers: %v", brokers)
	group, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, err
	}
	return newWithGroup(group, handler), nil
}

func newWithGroup(group sarama.ConsumerGroup, handler BatchHandler) *Consumer {
	return &Consumer{
		consumer: group,
		handler:  handler,
		ready:    make(chan bool),
	}
}

// Start consumes topic until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context, topic string) error {
	topics := []string{topic}

	logger.Log.Infof("consuming topic: %s", topic)
	for {
		if err := c.consumer.Consume(ctx, topics, c); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			logger.Log.Errorf("consume failed: %v", err)
			select {
			case <-time.After(5 * time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		if ctx.Err() != nil {
			logger.Log.Infof("consumer stopping: %v", ctx.Err())
			return ctx.Err()
		}

		c.mu.Lock()
		c.ready = make(chan bool)
		c.mu.Unlock()
	}
}

// Ready is closed once the current group session has been set up. After a
// rebalance a new channel takes its place.
func (c *Consumer) Ready() <-chan bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// Required methods for sarama.ConsumerGroupHandler interface
func (c *Consumer) Setup(_ sarama.ConsumerGroupSession) error {
	c.mu.Lock()
	close(c.ready)
	c.mu.Unlock()
	return nil
}

func (c *Consumer) Cleanup(_ sarama.ConsumerGroupSession) error {
	return nil
}

func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			logger.Log.Debugf("message received: topic=%s, partition=%d, offset=%d",
				message.Topic, message.Partition, message.Offset)

			if err := c.handleMessage(session.Context(), message); err != nil {
				if session.Context().Err() != nil {
					// not marked, the batch is redelivered after rebalance
					return nil
				}
				logger.Log.Errorf("batch at offset %d failed: %v", message.Offset, err)
			}
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

// handleMessage decodes the envelope and hands it to the handler. Undecodable
// messages are logged and dropped.
func (c *Consumer) handleMessage(ctx context.Context, message *sarama.ConsumerMessage) error {
	var env Envelope
	if err := json.Unmarshal(message.Value, &env); err != nil {
		logger.Log.Errorf("undecodable message: %v, raw message: %.256s", err, string(message.Value))
		return nil
	}
	if env.BatchID == "" && len(message.Key) > 0 {
		env.BatchID = string(message.Key)
	}
	return c.handler.HandleBatch(ctx, env.BatchID, env.Rows)
}

func (c *Consumer) Close() error {
	return c.consumer.Close()
}
