package kafka

import (
	"context"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/kbukum/taskflow/logger"
)

// Handler processes one message. Errors are logged and the offset is still
// committed; handlers own their retry policy.
type Handler func(ctx context.Context, msg Message) error

type messageReader interface {
	ReadMessage(ctx context.Context) (kafkago.Message, error)
	Close() error
}

// Consumer reads one topic as part of a consumer group.
type Consumer struct {
	reader   messageReader
	topic    string
	log      *logger.Logger
	failures int
}

// NewConsumer creates a group consumer for topic.
func NewConsumer(cfg Config, topic string, log *logger.Logger) (*Consumer, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("kafka consumer config: %w", err)
	}
	clog := log.WithComponent("kafka.consumer").WithFields(logger.Fields("topic", topic))
	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          topic,
		GroupID:        cfg.GroupID,
		Dialer:         &kafkago.Dialer{Timeout: parseDuration(cfg.DialTimeout), DualStack: true},
		StartOffset:    kafkago.FirstOffset,
		MinBytes:       1,
		MaxBytes:       10e6,
		SessionTimeout: parseDuration(cfg.SessionTimeout),
		ErrorLogger: kafkago.LoggerFunc(func(msg string, args ...interface{}) {
			clog.Error("reader: " + fmt.Sprintf(msg, args...))
		}),
	})
	return &Consumer{reader: reader, topic: topic, log: clog}, nil
}

// Consume blocks reading messages until ctx is cancelled. Read errors back
// off linearly up to 30s.
func (c *Consumer) Consume(ctx context.Context, handler Handler) error {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err := c.backoff(ctx, err); err != nil {
				return err
			}
			continue
		}
		c.failures = 0
		if err := handler(ctx, fromKafkaMessage(msg)); err != nil {
			c.log.Error("message handling failed", logger.Fields(
				logger.FieldError, err.Error(), "offset", msg.Offset, "partition", msg.Partition))
		}
	}
}

func (c *Consumer) backoff(ctx context.Context, err error) error {
	c.failures++
	c.log.Warn("kafka read failed", logger.Fields(logger.FieldError, err.Error(), "failures", c.failures))
	wait := min(time.Duration(c.failures)*time.Second, 30*time.Second)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		return nil
	}
}

func (c *Consumer) Topic() string { return c.topic }

func (c *Consumer) Close() error { return c.reader.Close() }
