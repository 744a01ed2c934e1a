package postgresql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/domain/operator"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/pkg/database"
)

const pendingOperatorColumns = `
	id, manager_id, name, email, role, payment_id, subscription_id, payment_status,
	payment_method, checkout_url, operator_created, operator_id, created_at, updated_at
`

type pendingOperatorRepositoryImpl struct {
	db *database.DB
}

func NewPendingOperatorRepository(db *database.DB) operator.PendingOperatorRepository {
	return &pendingOperatorRepositoryImpl{db: db}
}

func scanPendingOperator(row pgx.Row) (operator.PendingOperator, error) {
	var p operator.PendingOperator
	err := row.Scan(
		&p.ID,
		&p.ManagerID,
		&p.Name,
		&p.Email,
		&p.Role,
		&p.PaymentID,
		&p.SubscriptionID,
		&p.PaymentStatus,
		&p.PaymentMethod,
		&p.CheckoutURL,
		&p.OperatorCreated,
		&p.OperatorID,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	return p, err
}

// Create implements operator.PendingOperatorRepository.
func (r *pendingOperatorRepositoryImpl) Create(ctx context.Context, p operator.PendingOperator) (operator.PendingOperator, error) {
	q := GetQuerier(ctx, r.db)

	query := `
		INSERT INTO pending_operators (manager_id, name, email, role, payment_id, payment_status, payment_method)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + pendingOperatorColumns

	created, err := scanPendingOperator(q.QueryRow(ctx, query,
		p.ManagerID,
		p.Name,
		p.Email,
		p.Role,
		p.PaymentID,
		p.PaymentStatus,
		p.PaymentMethod,
	))
	if err != nil {
		return operator.PendingOperator{}, fmt.Errorf("create pending operator: %w", err)
	}
	return created, nil
}

func (r *pendingOperatorRepositoryImpl) getOne(ctx context.Context, where string, arg any) (operator.PendingOperator, error) {
	q := GetQuerier(ctx, r.db)

	query := `SELECT ` + pendingOperatorColumns + ` FROM pending_operators WHERE ` + where

	p, err := scanPendingOperator(q.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return operator.PendingOperator{}, operator.ErrPendingOperatorNotFound
		}
		return operator.PendingOperator{}, fmt.Errorf("get pending operator: %w", err)
	}
	return p, nil
}

// GetByID implements operator.PendingOperatorRepository.
func (r *pendingOperatorRepositoryImpl) GetByID(ctx context.Context, id string) (operator.PendingOperator, error) {
	return r.getOne(ctx, `id = $1`, id)
}

// GetByPaymentID implements operator.PendingOperatorRepository.
func (r *pendingOperatorRepositoryImpl) GetByPaymentID(ctx context.Context, paymentID string) (operator.PendingOperator, error) {
	return r.getOne(ctx, `payment_id = $1`, paymentID)
}

// GetBySubscriptionID implements operator.PendingOperatorRepository.
func (r *pendingOperatorRepositoryImpl) GetBySubscriptionID(ctx context.Context, subscriptionID string) (operator.PendingOperator, error) {
	return r.getOne(ctx, `subscription_id = $1 ORDER BY created_at DESC LIMIT 1`, subscriptionID)
}

func (r *pendingOperatorRepositoryImpl) execOne(ctx context.Context, op, query string, args ...any) error {
	q := GetQuerier(ctx, r.db)

	tag, err := q.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return operator.ErrPendingOperatorNotFound
	}
	return nil
}

// UpdatePayment implements operator.PendingOperatorRepository.
func (r *pendingOperatorRepositoryImpl) UpdatePayment(ctx context.Context, id, paymentID string, checkoutURL *string) error {
	return r.execOne(ctx, "update pending operator payment", `
		UPDATE pending_operators
		SET payment_id = $1, checkout_url = COALESCE($2, checkout_url), updated_at = NOW()
		WHERE id = $3
	`, paymentID, checkoutURL, id)
}

// UpdatePaymentStatus implements operator.PendingOperatorRepository.
func (r *pendingOperatorRepositoryImpl) UpdatePaymentStatus(ctx context.Context, id, status string) error {
	return r.execOne(ctx, "update pending operator status", `
		UPDATE pending_operators
		SET payment_status = $1, updated_at = NOW()
		WHERE id = $2
	`, status, id)
}

// LinkSubscription implements operator.PendingOperatorRepository.
func (r *pendingOperatorRepositoryImpl) LinkSubscription(ctx context.Context, id, subscriptionID string) error {
	return r.execOne(ctx, "link pending operator subscription", `
		UPDATE pending_operators
		SET subscription_id = $1, updated_at = NOW()
		WHERE id = $2
	`, subscriptionID, id)
}

// MarkOperatorCreated implements operator.PendingOperatorRepository.
func (r *pendingOperatorRepositoryImpl) MarkOperatorCreated(ctx context.Context, id, operatorID string) (bool, error) {
	q := GetQuerier(ctx, r.db)

	tag, err := q.Exec(ctx, `
		UPDATE pending_operators
		SET operator_created = TRUE, operator_id = $1, payment_status = 'CONFIRMED', updated_at = NOW()
		WHERE id = $2 AND operator_created = FALSE
	`, operatorID, id)
	if err != nil {
		return false, fmt.Errorf("mark operator created: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Delete implements operator.PendingOperatorRepository.
func (r *pendingOperatorRepositoryImpl) Delete(ctx context.Context, id string) error {
	q := GetQuerier(ctx, r.db)

	if _, err := q.Exec(ctx, `DELETE FROM pending_operators WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete pending operator: %w", err)
	}
	return nil
}

// ListPendingOlderThan implements operator.PendingOperatorRepository.
func (r *pendingOperatorRepositoryImpl) ListPendingOlderThan(ctx context.Context, before time.Time, limit int) ([]operator.PendingOperator, error) {
	q := GetQuerier(ctx, r.db)

	query := `
		SELECT ` + pendingOperatorColumns + `
		FROM pending_operators
		WHERE operator_created = FALSE AND payment_id NOT LIKE 'pending:%' AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2
	`

	rows, err := q.Query(ctx, query, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending operators: %w", err)
	}
	defer rows.Close()

	var result []operator.PendingOperator
	for rows.Next() {
		p, err := scanPendingOperator(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending operator: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// DeleteStale implements operator.PendingOperatorRepository.
func (r *pendingOperatorRepositoryImpl) DeleteStale(ctx context.Context, before time.Time) (int64, error) {
	q := GetQuerier(ctx, r.db)

	tag, err := q.Exec(ctx, `
		DELETE FROM pending_operators
		WHERE operator_created = FALSE
		  AND payment_status NOT IN ('CONFIRMED', 'RECEIVED')
		  AND created_at < $1
	`, before)
	if err != nil {
		return 0, fmt.Errorf("delete stale pending operators: %w", err)
	}
	return tag.RowsAffected(), nil
}
