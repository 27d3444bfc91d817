package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/kbukum/taskflow/component"
	"github.com/kbukum/taskflow/logger"
)

// Liveness is what a task's owner knows about it.
type Liveness string

const (
	// LivenessAlive means the task is still running; its reservation stays.
	LivenessAlive     Liveness = "alive"
	LivenessCompleted Liveness = "completed"
	LivenessFailed    Liveness = "failed"
	LivenessCancelled Liveness = "cancelled"
	// LivenessUnknown means no record of the task survives, e.g. the
	// process crashed between reserve and execution start.
	LivenessUnknown Liveness = "unknown"
)

// LivenessChecker reports the state of a task holding a reservation.
type LivenessChecker interface {
	Liveness(ctx context.Context, taskID string) (Liveness, error)
}

// LivenessFunc adapts a function to LivenessChecker.
type LivenessFunc func(ctx context.Context, taskID string) (Liveness, error)

func (f LivenessFunc) Liveness(ctx context.Context, taskID string) (Liveness, error) {
	return f(ctx, taskID)
}

// ReconcilerConfig tunes the reconciliation sweep.
type ReconcilerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// GracePeriod is how long a reservation may stay open before the sweep
	// looks at it.
	GracePeriod time.Duration `mapstructure:"grace_period"`
	Interval    time.Duration `mapstructure:"interval"`
	BatchSize   int           `mapstructure:"batch_size"`
}

func (c *ReconcilerConfig) ApplyDefaults() {
	if c.GracePeriod <= 0 {
		c.GracePeriod = 15 * time.Minute
	}
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
}

func (c *ReconcilerConfig) Validate() error {
	if c.Interval < time.Second {
		return fmt.Errorf("quota.reconciler.interval must be at least 1s, got %s", c.Interval)
	}
	return nil
}

// SweepResult counts what one sweep did.
type SweepResult struct {
	Scanned   int `json:"scanned"`
	Confirmed int `json:"confirmed"`
	Cancelled int `json:"cancelled"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

// Reconciler resolves reservations whose task finished or vanished without
// confirming or cancelling them.
type Reconciler struct {
	ledger  *Ledger
	checker LivenessChecker
	cfg     ReconcilerConfig
	log     *logger.Logger
}

func NewReconciler(ledger *Ledger, checker LivenessChecker, cfg ReconcilerConfig, log *logger.Logger) *Reconciler {
	cfg.ApplyDefaults()
	if log == nil {
		log = logger.Nop()
	}
	return &Reconciler{ledger: ledger, checker: checker, cfg: cfg, log: log.WithComponent("quota-reconciler")}
}

// Sweep resolves one batch of stale reservations. Alive tasks are skipped,
// completed tasks are confirmed and every other state is cancelled. A
// liveness error skips the task until the next sweep.
func (r *Reconciler) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	rows, err := r.ledger.StaleReservations(ctx, r.cfg.GracePeriod, r.cfg.BatchSize)
	if err != nil {
		return result, err
	}

	for _, txn := range rows {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Scanned++
		fields := logger.Fields(logger.FieldTaskID, txn.TaskID, "user_id", txn.UserID, "amount", txn.Amount)

		state, err := r.checker.Liveness(ctx, txn.TaskID)
		if err != nil {
			result.Errors++
			r.log.Warn("liveness check failed, skipping", logger.ErrorFields("liveness", err))
			continue
		}

		switch state {
		case LivenessAlive:
			result.Skipped++
			r.ledger.metrics.recordSweep("skip")
		case LivenessCompleted:
			if _, err := r.ledger.Confirm(ctx, txn.TaskID); err != nil {
				result.Errors++
				r.log.Error("reconcile confirm failed", logger.ErrorFields("confirm", err))
				continue
			}
			result.Confirmed++
			r.ledger.metrics.recordSweep("confirm")
			r.log.Info("stale reservation confirmed", fields)
		default:
			if _, err := r.ledger.Cancel(ctx, txn.TaskID); err != nil {
				result.Errors++
				r.log.Error("reconcile cancel failed", logger.ErrorFields("cancel", err))
				continue
			}
			result.Cancelled++
			r.ledger.metrics.recordSweep("cancel")
			fields["liveness"] = string(state)
			r.log.Info("stale reservation cancelled", fields)
		}
	}
	return result, nil
}

// Run sweeps every interval until ctx ends.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		if res, err := r.Sweep(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.log.Error("reconciliation sweep failed", logger.ErrorFields("sweep", err))
		} else if res.Scanned > 0 {
			r.log.Info("reconciliation sweep finished", logger.Fields(
				"scanned", res.Scanned, "confirmed", res.Confirmed, "cancelled", res.Cancelled, "skipped", res.Skipped))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Component runs the reconciler under a component.Registry.
func (r *Reconciler) Component() *component.Background {
	return component.NewBackground("quota-reconciler", r.Run)
}
