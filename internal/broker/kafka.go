package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"wholesale-market/internal/util"

	"github.com/segmentio/kafka-go"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

type Producer struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// NewProducer creates a new Kafka producer
func NewProducer(brokers []string, topic string) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
	}

	return &Producer{writer: writer, logger: util.GetLogger()}
}

// PublishEvent publishes an event to Kafka. Messages with the same key keep their order.
func (p *Producer) PublishEvent(ctx context.Context, key string, event interface{}) error {
	eventBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: eventBytes,
		Time:  time.Now(),
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message to kafka: %w", err)
	}

	p.logger.Debug("Published event",
		zap.String("topic", p.writer.Topic),
		zap.String("key", key),
		zap.String("type", fmt.Sprintf("%T", event)))
	return nil
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// Forward copies msg to the producer's topic with the handling error and
// origin in its headers.
func (p *Producer) Forward(ctx context.Context, msg kafka.Message, cause error) error {
	out := kafka.Message{
		Key:   msg.Key,
		Value: msg.Value,
		Time:  time.Now(),
		Headers: append(msg.Headers,
			kafka.Header{Key: "x-error", Value: []byte(cause.Error())},
			kafka.Header{Key: "x-source-topic", Value: []byte(msg.Topic)},
			kafka.Header{Key: "x-source-offset", Value: []byte(strconv.FormatInt(msg.Offset, 10))},
		),
	}
	if err := p.writer.WriteMessages(ctx, out); err != nil {
		return fmt.Errorf("failed to forward message to %s: %w", p.writer.Topic, err)
	}
	return nil
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type deadLetterSink interface {
	Forward(ctx context.Context, msg kafka.Message, cause error) error
}

// RetryPolicy bounds how a failing message is retried before it is
// dead-lettered.
type RetryPolicy struct {
	MaxRetries  uint64
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultRetryPolicy retries five times, from 200ms up to 5s apart.
var DefaultRetryPolicy = RetryPolicy{MaxRetries: 5, BaseBackoff: 200 * time.Millisecond, MaxBackoff: 5 * time.Second}

func (rp RetryPolicy) backoff() retry.Backoff {
	return retry.WithMaxRetries(rp.MaxRetries,
		retry.WithCappedDuration(rp.MaxBackoff, retry.NewExponential(rp.BaseBackoff)))
}

// Consumer represents a Kafka consumer
type Consumer struct {
	reader     messageReader
	topic      string
	policy     RetryPolicy
	deadLetter deadLetterSink
	logger     *zap.Logger
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
		StartOffset:    kafka.FirstOffset,
	})

	return &Consumer{
		reader: reader,
		topic:  topic,
		policy: DefaultRetryPolicy,
		logger: util.GetLogger(),
	}
}

// WithRetryPolicy replaces DefaultRetryPolicy.
func (c *Consumer) WithRetryPolicy(policy RetryPolicy) *Consumer {
	c.policy = policy
	return c
}

// WithDeadLetter sends messages that exhaust their retries to p. Without a
// dead-letter producer such a message is retried until it succeeds.
func (c *Consumer) WithDeadLetter(p *Producer) *Consumer {
	if p != nil {
		c.deadLetter = p
	}
	return c
}

// Close closes the consumer
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// MessageHandler is a function type for handling messages
type MessageHandler func(ctx context.Context, msg kafka.Message) error

// StartConsuming fetches messages until ctx is cancelled. A message is
// committed only once it was handled or dead-lettered, and the next one is
// not fetched before that.
func (c *Consumer) StartConsuming(ctx context.Context, handler MessageHandler) error {
	c.logger.Info("Starting Kafka consumer", zap.String("topic", c.topic))

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("Consumer context cancelled, stopping", zap.String("topic", c.topic))
				return ctx.Err()
			}
			c.logger.Warn("Error fetching message", zap.String("topic", c.topic), zap.Error(err))
			if err := sleep(ctx, time.Second); err != nil {
				return err
			}
			continue
		}

		if err := c.settle(ctx, handler, msg); err != nil {
			c.logger.Info("Consumer context cancelled, stopping", zap.String("topic", c.topic))
			return err
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Warn("Error committing message", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

// settle returns once msg was handled or dead-lettered. It only fails when
// ctx ends first.
func (c *Consumer) settle(ctx context.Context, handler MessageHandler, msg kafka.Message) error {
	for {
		attempt := 0
		err := retry.Do(ctx, c.policy.backoff(), func(ctx context.Context) error {
			attempt++
			if err := handler(ctx, msg); err != nil {
				c.logger.Warn("Error handling message",
					zap.String("topic", c.topic),
					zap.Int64("offset", msg.Offset),
					zap.Int("attempt", attempt),
					zap.Error(err))
				return retry.RetryableError(err)
			}
			return nil
		})
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if c.deadLetter != nil {
			dlErr := c.deadLetter.Forward(ctx, msg, err)
			if dlErr == nil {
				util.ConsumerDeadLettersTotal.WithLabelValues(c.topic).Inc()
				c.logger.Error("Message dead-lettered after retries",
					zap.String("topic", c.topic),
					zap.Int64("offset", msg.Offset),
					zap.Error(err))
				return nil
			}
			c.logger.Error("Failed to dead-letter message", zap.Int64("offset", msg.Offset), zap.Error(dlErr))
		}

		if err := sleep(ctx, c.policy.MaxBackoff); err != nil {
			return err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
