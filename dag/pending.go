package dag

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/kbukum/taskflow/errors"
)

// Signal statuses.
const (
	SignalCompleted = "completed"
	SignalFailed    = "failed"
)

// Signal closes a pending step.
type Signal struct {
	Status    string `json:"status"`
	Output    any    `json:"output,omitempty"`
	OutputURL string `json:"output_url,omitempty"`
	Error     string `json:"error_message,omitempty"`
}

// Succeeded reports whether the signal completes the step.
func (s Signal) Succeeded() bool {
	return s.Status == SignalCompleted || s.Status == "success"
}

// ErrNoPendingStep is returned when no step awaits a delivered signal.
var ErrNoPendingStep = errors.New(errors.ErrCodeNotFound, "No step is awaiting this callback.", http.StatusNotFound)

type pendingKey struct {
	key  string
	step int
}

// PendingSteps holds the steps suspended on an external callback.
type PendingSteps struct {
	mu      sync.Mutex
	waiters map[pendingKey]chan Signal
}

func NewPendingSteps() *PendingSteps {
	return &PendingSteps{waiters: make(map[pendingKey]chan Signal)}
}

// Register suspends a step. The returned release must be called once the
// caller stops waiting.
func (p *PendingSteps) Register(key string, step int) (<-chan Signal, func()) {
	k := pendingKey{key, step}
	ch := make(chan Signal, 1)
	p.mu.Lock()
	p.waiters[k] = ch
	p.mu.Unlock()
	return ch, func() {
		p.mu.Lock()
		if p.waiters[k] == ch {
			delete(p.waiters, k)
		}
		p.mu.Unlock()
	}
}

// Deliver hands sig to the waiting step. A step accepts one signal.
func (p *PendingSteps) Deliver(key string, step int, sig Signal) error {
	k := pendingKey{key, step}
	p.mu.Lock()
	ch, ok := p.waiters[k]
	if ok {
		delete(p.waiters, k)
	}
	p.mu.Unlock()
	if !ok {
		return ErrNoPendingStep
	}
	ch <- sig
	return nil
}

// Waiting reports whether a step awaits a signal.
func (p *PendingSteps) Waiting(key string, step int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.waiters[pendingKey{key, step}]
	return ok
}

// Len returns the number of suspended steps.
func (p *PendingSteps) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.waiters)
}

// Await blocks until a signal arrives for the step or ctx ends.
func (p *PendingSteps) Await(ctx context.Context, key string, step int) (Signal, error) {
	ch, release := p.Register(key, step)
	defer release()
	select {
	case sig := <-ch:
		return sig, nil
	case <-ctx.Done():
		return Signal{}, fmt.Errorf("awaiting callback for step %d: %w", step, ctx.Err())
	}
}
