package kafka

import (
	"context"
	"sync"

	"github.com/kbukum/taskflow/component"
	"github.com/kbukum/taskflow/logger"
)

// Component runs a consumer loop and owns an optional producer.
type Component struct {
	consumer *Consumer
	handler  Handler
	producer *Producer
	log      *logger.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	err    error
}

var _ component.Component = (*Component)(nil)

// NewComponent wires consumer to handler. Either consumer or producer may be nil.
func NewComponent(consumer *Consumer, handler Handler, producer *Producer, log *logger.Logger) *Component {
	return &Component{consumer: consumer, handler: handler, producer: producer, log: log.WithComponent("kafka")}
}

func (c *Component) Name() string { return "kafka" }

func (c *Component) Start(_ context.Context) error {
	if c.consumer == nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.consumer.Consume(ctx, c.handler); err != nil && ctx.Err() == nil {
			c.mu.Lock()
			c.err = err
			c.mu.Unlock()
			c.log.Error("consumer stopped", logger.Fields(logger.FieldError, err.Error()))
		}
	}()
	return nil
}

func (c *Component) Stop(_ context.Context) error {
	if c.cancel != nil {
		c.cancel()
		c.wg.Wait()
	}
	var firstErr error
	if c.consumer != nil {
		firstErr = c.consumer.Close()
	}
	if c.producer != nil {
		if err := c.producer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *Component) Health(_ context.Context) component.Health {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return component.Health{Name: c.Name(), Status: component.StatusUnhealthy, Message: c.err.Error()}
	}
	return component.Health{Name: c.Name(), Status: component.StatusHealthy}
}
