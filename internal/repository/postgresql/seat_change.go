package postgresql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/domain/subscription"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/pkg/database"
)

const seatChangeColumns = `
	id, manager_id, kind, state, pending_operator_id, operator_id, old_subscription_id,
	new_subscription_id, previous_value, target_value, target_operator_count, next_due_date,
	billing_type, attempts, last_error, created_at, updated_at
`

type seatChangeRepositoryImpl struct {
	db *database.DB
}

func NewSeatChangeRepository(db *database.DB) subscription.SeatChangeRepository {
	return &seatChangeRepositoryImpl{db: db}
}

func scanSeatChange(row pgx.Row) (subscription.SeatChange, error) {
	var c subscription.SeatChange
	err := row.Scan(
		&c.ID,
		&c.ManagerID,
		&c.Kind,
		&c.State,
		&c.PendingOperatorID,
		&c.OperatorID,
		&c.OldSubscriptionID,
		&c.NewSubscriptionID,
		&c.PreviousValue,
		&c.TargetValue,
		&c.TargetOperatorCount,
		&c.NextDueDate,
		&c.BillingType,
		&c.Attempts,
		&c.LastError,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	return c, err
}

// Create implements subscription.SeatChangeRepository.
func (r *seatChangeRepositoryImpl) Create(ctx context.Context, c subscription.SeatChange) (subscription.SeatChange, error) {
	q := GetQuerier(ctx, r.db)

	state := c.State
	if state == "" {
		state = subscription.StateStarted
	}

	query := `
		INSERT INTO seat_changes (
			manager_id, kind, state, pending_operator_id, operator_id, old_subscription_id,
			new_subscription_id, previous_value, target_value, target_operator_count,
			next_due_date, billing_type
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING ` + seatChangeColumns

	created, err := scanSeatChange(q.QueryRow(ctx, query,
		c.ManagerID,
		c.Kind,
		state,
		c.PendingOperatorID,
		c.OperatorID,
		c.OldSubscriptionID,
		c.NewSubscriptionID,
		c.PreviousValue,
		c.TargetValue,
		c.TargetOperatorCount,
		c.NextDueDate,
		c.BillingType,
	))
	if err != nil {
		return subscription.SeatChange{}, fmt.Errorf("create seat change: %w", err)
	}
	return created, nil
}

// GetByID implements subscription.SeatChangeRepository.
func (r *seatChangeRepositoryImpl) GetByID(ctx context.Context, id string) (subscription.SeatChange, error) {
	q := GetQuerier(ctx, r.db)

	c, err := scanSeatChange(q.QueryRow(ctx, `SELECT `+seatChangeColumns+` FROM seat_changes WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return subscription.SeatChange{}, subscription.ErrSeatChangeNotFound
		}
		return subscription.SeatChange{}, fmt.Errorf("get seat change: %w", err)
	}
	return c, nil
}

func (r *seatChangeRepositoryImpl) execOne(ctx context.Context, op, query string, args ...any) error {
	q := GetQuerier(ctx, r.db)

	tag, err := q.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return subscription.ErrSeatChangeNotFound
	}
	return nil
}

// UpdateState implements subscription.SeatChangeRepository.
func (r *seatChangeRepositoryImpl) UpdateState(ctx context.Context, id string, state subscription.SeatChangeState, lastError *string) error {
	return r.execOne(ctx, "update seat change state", `
		UPDATE seat_changes
		SET state = $1, last_error = COALESCE($2, last_error), updated_at = NOW()
		WHERE id = $3
	`, state, lastError, id)
}

// SetNewSubscription implements subscription.SeatChangeRepository.
func (r *seatChangeRepositoryImpl) SetNewSubscription(ctx context.Context, id, subscriptionID string) error {
	return r.execOne(ctx, "set seat change subscription", `
		UPDATE seat_changes
		SET new_subscription_id = $1, updated_at = NOW()
		WHERE id = $2
	`, subscriptionID, id)
}

// SetOperatorID implements subscription.SeatChangeRepository.
func (r *seatChangeRepositoryImpl) SetOperatorID(ctx context.Context, id, operatorID string) error {
	return r.execOne(ctx, "set seat change operator", `
		UPDATE seat_changes
		SET operator_id = $1, updated_at = NOW()
		WHERE id = $2
	`, operatorID, id)
}

// RecordAttempt implements subscription.SeatChangeRepository.
func (r *seatChangeRepositoryImpl) RecordAttempt(ctx context.Context, id string, lastError string) (int, error) {
	q := GetQuerier(ctx, r.db)

	var attempts int
	err := q.QueryRow(ctx, `
		UPDATE seat_changes
		SET attempts = attempts + 1, last_error = NULLIF($1, ''), updated_at = NOW()
		WHERE id = $2
		RETURNING attempts
	`, lastError, id).Scan(&attempts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, subscription.ErrSeatChangeNotFound
		}
		return 0, fmt.Errorf("record seat change attempt: %w", err)
	}
	return attempts, nil
}

// ListOpen implements subscription.SeatChangeRepository.
func (r *seatChangeRepositoryImpl) ListOpen(ctx context.Context, updatedBefore time.Time, limit int) ([]subscription.SeatChange, error) {
	q := GetQuerier(ctx, r.db)

	query := `
		SELECT ` + seatChangeColumns + `
		FROM seat_changes
		WHERE state IN ('started', 'billing_applied', 'needs_reconciliation') AND updated_at < $1
		ORDER BY updated_at ASC
		LIMIT $2
	`

	rows, err := q.Query(ctx, query, updatedBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("list open seat changes: %w", err)
	}
	defer rows.Close()

	var changes []subscription.SeatChange
	for rows.Next() {
		c, err := scanSeatChange(rows)
		if err != nil {
			return nil, fmt.Errorf("scan seat change: %w", err)
		}
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

// CountNeedsReconciliation implements subscription.SeatChangeRepository.
func (r *seatChangeRepositoryImpl) CountNeedsReconciliation(ctx context.Context) (int, error) {
	q := GetQuerier(ctx, r.db)

	var n int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM seat_changes WHERE state = 'needs_reconciliation'`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count seat changes: %w", err)
	}
	return n, nil
}
