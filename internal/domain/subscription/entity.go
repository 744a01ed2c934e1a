package subscription

import (
	"time"

	"github.com/shopspring/decimal"
)

type SeatChangeKind string

const (
	KindAddOperator    SeatChangeKind = "add_operator"
	KindRemoveOperator SeatChangeKind = "remove_operator"
	KindReactivate     SeatChangeKind = "reactivate"
)

type SeatChangeState string

const (
	StateStarted             SeatChangeState = "started"
	StateBillingApplied      SeatChangeState = "billing_applied"
	StateCompleted           SeatChangeState = "completed"
	StateFailed              SeatChangeState = "failed"
	StateNeedsReconciliation SeatChangeState = "needs_reconciliation"
)

// IsOpen reports whether the reconciler still has to look at the intent.
func (s SeatChangeState) IsOpen() bool {
	return s == StateStarted || s == StateBillingApplied || s == StateNeedsReconciliation
}

// SeatChange is the intent recorded around every external billing mutation.
type SeatChange struct {
	ID                  string
	ManagerID           string
	Kind                SeatChangeKind
	State               SeatChangeState
	PendingOperatorID   *string
	OperatorID          *string
	OldSubscriptionID   *string
	NewSubscriptionID   *string
	PreviousValue       *decimal.Decimal
	TargetValue         decimal.Decimal
	TargetOperatorCount int
	NextDueDate         *time.Time
	BillingType         *string
	Attempts            int
	LastError           *string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}
