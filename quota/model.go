package quota

import "time"

// Phase is the saga phase of a reservation.
type Phase string

const (
	PhaseReserved  Phase = "reserved"
	PhaseConfirmed Phase = "confirmed"
	PhaseCancelled Phase = "cancelled"
)

// Transaction is the ledger row of one task's reservation. Rows are never
// deleted; the final phase is written in place.
type Transaction struct {
	ID             uint       `gorm:"primaryKey" json:"-"`
	TaskID         string     `gorm:"size:64;uniqueIndex;not null" json:"task_id"`
	UserID         string     `gorm:"size:64;index;not null" json:"user_id"`
	Amount         int64      `gorm:"not null" json:"amount"`
	Phase          Phase      `gorm:"size:16;index;not null" json:"phase"`
	IdempotencyKey string     `gorm:"size:128;uniqueIndex;not null" json:"idempotency_key"`
	CreatedAt      time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
}

func (Transaction) TableName() string { return "quota_transactions" }

// Balance is a user's prepaid usage balance.
type Balance struct {
	UserID    string    `gorm:"size:64;primaryKey" json:"user_id"`
	Balance   int64     `gorm:"not null;default:0" json:"balance"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Balance) TableName() string { return "quota_balances" }

// Models returns the GORM models owned by the ledger, for migration.
func Models() []interface{} {
	return []interface{}{&Balance{}, &Transaction{}}
}

func reserveKey(taskID string) string { return "reserve:" + taskID }
