package component

import "context"

// HealthStatus represents the health state of a component.
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusUnhealthy HealthStatus = "unhealthy"
	StatusDegraded  HealthStatus = "degraded"
)

// Health holds health information for a component.
type Health struct {
	Name    string       `json:"name"`
	Status  HealthStatus `json:"status"`
	Message string       `json:"message,omitempty"`
}

// Component is a lifecycle-managed part of the service.
type Component interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Health(ctx context.Context) Health
}

// Background adapts a blocking loop into a Component. Start launches run in
// a goroutine with its own context; Stop cancels it and waits for return.
type Background struct {
	name   string
	run    func(ctx context.Context) error
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// NewBackground creates a Background component. run must return when its
// context is cancelled.
func NewBackground(name string, run func(ctx context.Context) error) *Background {
	return &Background{name: name, run: run}
}

func (b *Background) Name() string { return b.name }

func (b *Background) Start(_ context.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.done = make(chan struct{})
	go func() {
		defer close(b.done)
		if err := b.run(ctx); err != nil && ctx.Err() == nil {
			b.err = err
		}
	}()
	return nil
}

func (b *Background) Stop(ctx context.Context) error {
	if b.cancel == nil {
		return nil
	}
	b.cancel()
	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Background) Health(_ context.Context) Health {
	if b.done == nil {
		return Health{Name: b.name, Status: StatusUnhealthy, Message: "not started"}
	}
	select {
	case <-b.done:
		if b.err != nil {
			return Health{Name: b.name, Status: StatusUnhealthy, Message: b.err.Error()}
		}
		return Health{Name: b.name, Status: StatusDegraded, Message: "stopped"}
	default:
		return Health{Name: b.name, Status: StatusHealthy}
	}
}
