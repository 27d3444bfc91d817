package quota

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kbukum/taskflow/database"
	"github.com/kbukum/taskflow/errors"
	"github.com/kbukum/taskflow/logger"
	"github.com/kbukum/taskflow/observability"
)

// Ledger runs the reserve / confirm / cancel saga against the database.
// Balance rows are locked for the duration of every balance change.
type Ledger struct {
	db      *database.DB
	metrics *Metrics
	log     *logger.Logger
	now     func() time.Time
}

// NewLedger creates a ledger. metrics may be nil.
func NewLedger(db *database.DB, metrics *Metrics, log *logger.Logger) *Ledger {
	if log == nil {
		log = logger.Nop()
	}
	return &Ledger{
		db:      db,
		metrics: metrics,
		log:     log.WithComponent("quota"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func lockForUpdate(tx *gorm.DB) *gorm.DB {
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// Reserve debits amount from the user's balance and opens a reservation for
// taskID. Reserving a task that already has a ledger row returns that row
// unchanged. An insufficient balance fails with QUOTA_INSUFFICIENT and
// writes nothing.
func (l *Ledger) Reserve(ctx context.Context, userID, taskID string, amount int64) (*Transaction, error) {
	ctx, span := observability.StartSpan(ctx, observability.SpanQuota+".reserve")
	defer span.End()
	observability.SetSpanAttribute(ctx, "taskflow.task_id", taskID)

	if userID == "" {
		return nil, errors.MissingField("user_id")
	}
	if taskID == "" {
		return nil, errors.MissingField("task_id")
	}
	if amount <= 0 {
		return nil, errors.InvalidInput("amount", "must be greater than zero")
	}

	var (
		txn       Transaction
		duplicate bool
	)
	err := l.db.WithTransaction(ctx, func(tx *gorm.DB) error {
		var bal Balance
		err := lockForUpdate(tx).Where("user_id = ?", userID).Take(&bal).Error
		if err != nil && !database.IsNotFoundError(err) {
			return database.FromDatabase(err, "quota balance")
		}

		err = tx.Where("task_id = ?", taskID).Take(&txn).Error
		switch {
		case err == nil:
			if txn.UserID != userID {
				return errors.Conflict("task is already reserved by another user")
			}
			duplicate = true
			return nil
		case !database.IsNotFoundError(err):
			return database.FromDatabase(err, "quota transaction")
		}

		if bal.Balance < amount {
			return errors.QuotaInsufficient(amount, bal.Balance)
		}
		res := tx.Model(&Balance{}).
			Where("user_id = ? AND balance >= ?", userID, amount).
			Updates(map[string]interface{}{"balance": gorm.Expr("balance - ?", amount), "updated_at": l.now()})
		if res.Error != nil {
			return database.FromDatabase(res.Error, "quota balance")
		}
		if res.RowsAffected != 1 {
			return errors.QuotaInsufficient(amount, bal.Balance)
		}

		now := l.now()
		txn = Transaction{
			TaskID:         taskID,
			UserID:         userID,
			Amount:         amount,
			Phase:          PhaseReserved,
			IdempotencyKey: reserveKey(taskID),
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := tx.Create(&txn).Error; err != nil {
			return database.FromDatabase(err, "quota transaction")
		}
		return nil
	})

	fields := logger.Fields("user_id", userID, logger.FieldTaskID, taskID, "amount", amount)
	switch {
	case err != nil && errors.HasCode(err, errors.ErrCodeQuotaInsufficient):
		l.metrics.recordOperation("reserve", OutcomeInsufficient)
		l.log.Info("reservation rejected: insufficient balance", fields)
		return nil, err
	case err != nil:
		l.metrics.recordOperation("reserve", OutcomeError)
		observability.SetSpanError(ctx, err)
		return nil, err
	case duplicate:
		l.metrics.recordOperation("reserve", OutcomeDuplicate)
		l.log.Debug("reservation already exists", fields)
	default:
		l.metrics.recordOperation("reserve", OutcomeOK)
		l.metrics.addReserved(amount)
		l.log.Info("quota reserved", fields)
	}
	return &txn, nil
}

// Confirm finalizes a reservation. It reports whether a reserved row moved
// to confirmed; absent or already resolved rows are left alone.
func (l *Ledger) Confirm(ctx context.Context, taskID string) (bool, error) {
	ctx, span := observability.StartSpan(ctx, observability.SpanQuota+".confirm")
	defer span.End()

	var txn Transaction
	if err := l.db.WithContext(ctx).Where("task_id = ?", taskID).Take(&txn).Error; err != nil {
		if database.IsNotFoundError(err) {
			l.metrics.recordOperation("confirm", OutcomeNoop)
			return false, nil
		}
		l.metrics.recordOperation("confirm", OutcomeError)
		return false, database.FromDatabase(err, "quota transaction")
	}

	now := l.now()
	res := l.db.WithContext(ctx).Model(&Transaction{}).
		Where("task_id = ? AND phase = ?", taskID, PhaseReserved).
		Updates(map[string]interface{}{"phase": PhaseConfirmed, "resolved_at": now, "updated_at": now})
	if res.Error != nil {
		l.metrics.recordOperation("confirm", OutcomeError)
		observability.SetSpanError(ctx, res.Error)
		return false, database.FromDatabase(res.Error, "quota transaction")
	}
	if res.RowsAffected != 1 {
		l.metrics.recordOperation("confirm", OutcomeNoop)
		return false, nil
	}

	l.metrics.recordOperation("confirm", OutcomeOK)
	l.metrics.addReserved(-txn.Amount)
	l.log.Info("quota confirmed", logger.Fields(logger.FieldTaskID, taskID, "amount", txn.Amount))
	return true, nil
}

// Cancel releases a reservation and refunds its amount. It reports whether
// a refund happened; a reservation is refunded at most once.
func (l *Ledger) Cancel(ctx context.Context, taskID string) (bool, error) {
	ctx, span := observability.StartSpan(ctx, observability.SpanQuota+".cancel")
	defer span.End()

	var (
		txn      Transaction
		refunded bool
	)
	err := l.db.WithTransaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Where("task_id = ?", taskID).Take(&txn).Error; err != nil {
			if database.IsNotFoundError(err) {
				return nil
			}
			return database.FromDatabase(err, "quota transaction")
		}

		now := l.now()
		res := tx.Model(&Transaction{}).
			Where("task_id = ? AND phase = ?", taskID, PhaseReserved).
			Updates(map[string]interface{}{"phase": PhaseCancelled, "resolved_at": now, "updated_at": now})
		if res.Error != nil {
			return database.FromDatabase(res.Error, "quota transaction")
		}
		if res.RowsAffected != 1 {
			return nil
		}

		var bal Balance
		if err := lockForUpdate(tx).Where("user_id = ?", txn.UserID).Take(&bal).Error; err != nil {
			return database.FromDatabase(err, "quota balance")
		}
		if err := tx.Model(&Balance{}).Where("user_id = ?", txn.UserID).
			Updates(map[string]interface{}{"balance": gorm.Expr("balance + ?", txn.Amount), "updated_at": now}).Error; err != nil {
			return database.FromDatabase(err, "quota balance")
		}
		refunded = true
		return nil
	})
	if err != nil {
		l.metrics.recordOperation("cancel", OutcomeError)
		observability.SetSpanError(ctx, err)
		return false, err
	}
	if !refunded {
		l.metrics.recordOperation("cancel", OutcomeNoop)
		return false, nil
	}

	l.metrics.recordOperation("cancel", OutcomeOK)
	l.metrics.addReserved(-txn.Amount)
	l.log.Info("quota reservation cancelled", logger.Fields(
		logger.FieldTaskID, taskID, "user_id", txn.UserID, "amount", txn.Amount))
	return true, nil
}

// Credit adds amount to a user's balance, creating the balance row on first
// use, and returns the new balance.
func (l *Ledger) Credit(ctx context.Context, userID string, amount int64) (int64, error) {
	if userID == "" {
		return 0, errors.MissingField("user_id")
	}
	if amount <= 0 {
		return 0, errors.InvalidInput("amount", "must be greater than zero")
	}

	var bal Balance
	err := l.db.WithTransaction(ctx, func(tx *gorm.DB) error {
		err := lockForUpdate(tx).Where("user_id = ?", userID).Take(&bal).Error
		if database.IsNotFoundError(err) {
			bal = Balance{UserID: userID, Balance: amount}
			if err := tx.Create(&bal).Error; err != nil {
				return database.FromDatabase(err, "quota balance")
			}
			return nil
		}
		if err != nil {
			return database.FromDatabase(err, "quota balance")
		}
		bal.Balance += amount
		if err := tx.Model(&Balance{}).Where("user_id = ?", userID).
			Updates(map[string]interface{}{"balance": gorm.Expr("balance + ?", amount), "updated_at": l.now()}).Error; err != nil {
			return database.FromDatabase(err, "quota balance")
		}
		return nil
	})
	if err != nil {
		l.metrics.recordOperation("credit", OutcomeError)
		return 0, err
	}
	l.metrics.recordOperation("credit", OutcomeOK)
	l.log.Info("quota credited", logger.Fields("user_id", userID, "amount", amount, "balance", bal.Balance))
	return bal.Balance, nil
}

// Balance returns a user's balance. Unknown users have zero.
func (l *Ledger) Balance(ctx context.Context, userID string) (int64, error) {
	var bal Balance
	err := l.db.WithContext(ctx).Where("user_id = ?", userID).Take(&bal).Error
	if database.IsNotFoundError(err) {
		return 0, nil
	}
	if err != nil {
		return 0, database.FromDatabase(err, "quota balance")
	}
	return bal.Balance, nil
}

// Transaction returns the ledger row of a task.
func (l *Ledger) Transaction(ctx context.Context, taskID string) (*Transaction, error) {
	var txn Transaction
	if err := l.db.WithContext(ctx).Where("task_id = ?", taskID).Take(&txn).Error; err != nil {
		if database.IsNotFoundError(err) {
			return nil, errors.NotFound("quota transaction", taskID)
		}
		return nil, database.FromDatabase(err, "quota transaction")
	}
	return &txn, nil
}

// StaleReservations lists reservations still open after olderThan, oldest
// first.
func (l *Ledger) StaleReservations(ctx context.Context, olderThan time.Duration, limit int) ([]Transaction, error) {
	var rows []Transaction
	q := l.db.WithContext(ctx).
		Where("phase = ? AND created_at < ?", PhaseReserved, l.now().Add(-olderThan)).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, database.FromDatabase(err, "quota transaction")
	}
	return rows, nil
}
