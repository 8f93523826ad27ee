package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

const (
	consumerClientID          = "brandcatalog-sync"
	defaultConsumerMaxRetries = 3
	defaultConsumerRetryDelay = 100 * time.Millisecond
)

// MessageHandler применяет одно событие каталога.
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

// Consumer читает события каталога в рамках consumer group.
// Сообщение подтверждается только после успешной обработки или передачи в DLQ.
type Consumer struct {
	group       sarama.ConsumerGroup
	topics      []string
	handler     MessageHandler
	logger      *log.Entry
	wg          sync.WaitGroup
	deadLetters *Producer
	maxRetries  int
	retryDelay  time.Duration
}

// ConsumerOption настраивает Consumer.
type ConsumerOption func(*Consumer)

// WithDeadLetters включает перенос необработанных сообщений в TopicDeadLetterQueue.
func WithDeadLetters(producer *Producer) ConsumerOption {
	return func(c *Consumer) { c.deadLetters = producer }
}

// WithMaxRetries задаёт общий бюджет попыток с учётом заголовка x-retry-count.
func WithMaxRetries(n int) ConsumerOption {
	return func(c *Consumer) {
		if n > 0 {
			c.maxRetries = n
		}
	}
}

func WithRetryDelay(d time.Duration) ConsumerOption {
	return func(c *Consumer) {
		if d >= 0 {
			c.retryDelay = d
		}
	}
}

func newConsumerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.ClientID = consumerClientID
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	// Экземпляру нужны только изменения, сделанные после его старта.
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Return.Errors = true
	return config
}

func newConsumer(group sarama.ConsumerGroup, topics []string, handler MessageHandler, options ...ConsumerOption) *Consumer {
	c := &Consumer{
		group:      group,
		topics:     topics,
		handler:    handler,
		logger:     log.WithField("component", "kafka-consumer"),
		maxRetries: defaultConsumerMaxRetries,
		retryDelay: defaultConsumerRetryDelay,
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// NewConsumer подключается к брокерам и вступает в группу groupID.
func NewConsumer(brokers []string, groupID string, topics []string, handler MessageHandler, options ...ConsumerOption) (*Consumer, error) {
	group, err := sarama.NewConsumerGroup(brokers, groupID, newConsumerConfig())
	if err != nil {
		return nil, fmt.Errorf("join consumer group %s: %w", groupID, err)
	}
	return newConsumer(group, topics, handler, options...), nil
}

// Start запускает чтение в фоне и возвращается сразу.
func (c *Consumer) Start(ctx context.Context) error {
	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		// Consume завершается на каждом rebalance, поэтому вызывается в цикле.
		for ctx.Err() == nil {
			if err := c.group.Consume(ctx, c.topics, c); err != nil {
				c.logger.WithError(err).Error("consumer group session ended with error")
			}
		}
	}()
	go func() {
		defer c.wg.Done()
		for err := range c.group.Errors() {
			c.logger.WithError(err).Warn("consumer group error")
		}
	}()

	c.logger.WithField("topics", c.topics).Info("kafka consumer started")
	return nil
}

// Stop покидает группу и ждёт фоновые горутины.
func (c *Consumer) Stop() error {
	if err := c.group.Close(); err != nil {
		return fmt.Errorf("leave consumer group: %w", err)
	}
	c.wg.Wait()
	c.logger.Info("kafka consumer stopped")
	return nil
}

func (c *Consumer) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := session.Context()
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}
			entry := c.logger.WithFields(messageFields(message))
			entry.Debug("catalog event received")

			if err := c.deliver(ctx, message); err != nil {
				// Без отметки offset сообщение будет перечитано после rebalance.
				entry.WithError(err).Error("catalog event left unacknowledged")
				continue
			}
			session.MarkMessage(message, "")

		case <-ctx.Done():
			return nil
		}
	}
}

// deliver тратит остаток бюджета попыток и при неудаче переносит сообщение в DLQ.
// Без DLQ возвращается последняя ошибка обработчика.
func (c *Consumer) deliver(ctx context.Context, message *sarama.ConsumerMessage) error {
	previous := retryCount(message)
	attempts := max(c.maxRetries-previous, 1)

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = c.invoke(ctx, message); err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}

		c.logger.WithError(err).WithFields(messageFields(message)).WithFields(log.Fields{
			"attempt":     previous + attempt,
			"max_retries": c.maxRetries,
		}).Warn("catalog event handler failed, retrying")

		if c.retryDelay > 0 {
			timer := time.NewTimer(c.retryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("%w (last handler error: %v)", ctx.Err(), err)
			case <-timer.C:
			}
		}
	}

	if c.deadLetters == nil {
		return err
	}
	if dlqErr := c.sendToDLQ(message, err); dlqErr != nil {
		return fmt.Errorf("move to dead letter queue: %w", dlqErr)
	}
	c.logger.WithFields(messageFields(message)).WithField("attempts", previous+attempts).
		Warn("catalog event moved to dead letter queue")
	return nil
}

// invoke превращает панику обработчика в ошибку, чтобы не уронить сессию группы.
func (c *Consumer) invoke(ctx context.Context, message *sarama.ConsumerMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return c.handler(ctx, message)
}

// deadLetterRecord сохраняет исходное сообщение вместе с причиной отказа.
type deadLetterRecord struct {
	OriginalTopic     string `json:"original_topic"`
	OriginalPartition int32  `json:"original_partition"`
	OriginalOffset    int64  `json:"original_offset"`
	OriginalKey       string `json:"original_key"`
	OriginalValue     string `json:"original_value"`
	ErrorMessage      string `json:"error_message"`
	FailedAt          string `json:"failed_at"`
	RetryCount        int    `json:"retry_count"`
}

func (c *Consumer) sendToDLQ(message *sarama.ConsumerMessage, processingErr error) error {
	record := deadLetterRecord{
		OriginalTopic:     message.Topic,
		OriginalPartition: message.Partition,
		OriginalOffset:    message.Offset,
		OriginalKey:       string(message.Key),
		OriginalValue:     string(message.Value),
		ErrorMessage:      processingErr.Error(),
		FailedAt:          time.Now().UTC().Format(time.RFC3339),
		RetryCount:        retryCount(message),
	}

	value, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode dead letter: %w", err)
	}
	return c.deadLetters.Send(TopicDeadLetterQueue, string(message.Key), value, map[string]string{
		HeaderOriginalTopic: record.OriginalTopic,
		HeaderErrorMessage:  record.ErrorMessage,
		HeaderFailedAt:      record.FailedAt,
		HeaderRetryCount:    strconv.Itoa(record.RetryCount),
	})
}

// retryCount читает x-retry-count; отсутствующий или битый заголовок даёт 0.
func retryCount(message *sarama.ConsumerMessage) int {
	for _, header := range message.Headers {
		if header == nil || string(header.Key) != HeaderRetryCount {
			continue
		}
		if count, err := strconv.Atoi(string(header.Value)); err == nil && count > 0 {
			return count
		}
	}
	return 0
}

func messageFields(message *sarama.ConsumerMessage) log.Fields {
	return log.Fields{
		"topic":     message.Topic,
		"partition": message.Partition,
		"offset":    message.Offset,
		"key":       string(message.Key),
	}
}
