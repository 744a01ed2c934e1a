package postgresql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/domain/profile"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/pkg/database"
)

const profileColumns = `
	id, supabase_id, email, name, phone, cpf_cnpj, role, manager_id, asaas_customer_id,
	subscription_id, subscription_status, subscription_next_due_date, subscription_cycle,
	operator_count, version, deleted_at, created_at, updated_at
`

type profileRepositoryImpl struct {
	db *database.DB
}

func NewProfileRepository(db *database.DB) profile.ProfileRepository {
	return &profileRepositoryImpl{db: db}
}

func scanProfile(row pgx.Row) (profile.Profile, error) {
	var p profile.Profile
	err := row.Scan(
		&p.ID,
		&p.SupabaseID,
		&p.Email,
		&p.Name,
		&p.Phone,
		&p.CpfCnpj,
		&p.Role,
		&p.ManagerID,
		&p.AsaasCustomerID,
		&p.SubscriptionID,
		&p.SubscriptionStatus,
		&p.SubscriptionNextDueDate,
		&p.SubscriptionCycle,
		&p.OperatorCount,
		&p.Version,
		&p.DeletedAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	return p, err
}

func (r *profileRepositoryImpl) getOne(ctx context.Context, where string, arg any) (profile.Profile, error) {
	q := GetQuerier(ctx, r.db)

	query := `SELECT ` + profileColumns + ` FROM profiles WHERE ` + where

	p, err := scanProfile(q.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return profile.Profile{}, profile.ErrProfileNotFound
		}
		return profile.Profile{}, fmt.Errorf("get profile: %w", err)
	}
	return p, nil
}

// GetByID implements profile.ProfileRepository.
func (r *profileRepositoryImpl) GetByID(ctx context.Context, id string) (profile.Profile, error) {
	return r.getOne(ctx, `id = $1 AND deleted_at IS NULL`, id)
}

// GetBySupabaseID implements profile.ProfileRepository.
func (r *profileRepositoryImpl) GetBySupabaseID(ctx context.Context, supabaseID string) (profile.Profile, error) {
	return r.getOne(ctx, `supabase_id = $1 AND deleted_at IS NULL`, supabaseID)
}

// GetByEmail implements profile.ProfileRepository.
func (r *profileRepositoryImpl) GetByEmail(ctx context.Context, email string) (profile.Profile, error) {
	return r.getOne(ctx, `LOWER(email) = LOWER($1) AND deleted_at IS NULL`, email)
}

// GetBySubscriptionID implements profile.ProfileRepository.
// Only managers own subscriptions; operators copy the id for reference.
func (r *profileRepositoryImpl) GetBySubscriptionID(ctx context.Context, subscriptionID string) (profile.Profile, error) {
	return r.getOne(ctx, `subscription_id = $1 AND role = 'manager' AND deleted_at IS NULL`, subscriptionID)
}

// ExistsByEmail implements profile.ProfileRepository.
func (r *profileRepositoryImpl) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	q := GetQuerier(ctx, r.db)

	var exists bool
	err := q.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM profiles WHERE LOWER(email) = LOWER($1) AND deleted_at IS NULL)`,
		email,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check profile email: %w", err)
	}
	return exists, nil
}

// Create implements profile.ProfileRepository.
func (r *profileRepositoryImpl) Create(ctx context.Context, p profile.Profile) (profile.Profile, error) {
	q := GetQuerier(ctx, r.db)

	query := `
		INSERT INTO profiles (
			supabase_id, email, name, phone, cpf_cnpj, role, manager_id, asaas_customer_id,
			subscription_id, subscription_status, subscription_next_due_date, subscription_cycle,
			operator_count
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING ` + profileColumns

	created, err := scanProfile(q.QueryRow(ctx, query,
		p.SupabaseID,
		p.Email,
		p.Name,
		p.Phone,
		p.CpfCnpj,
		p.Role,
		p.ManagerID,
		p.AsaasCustomerID,
		p.SubscriptionID,
		p.SubscriptionStatus,
		p.SubscriptionNextDueDate,
		p.SubscriptionCycle,
		p.OperatorCount,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return profile.Profile{}, profile.ErrEmailExists
		}
		return profile.Profile{}, fmt.Errorf("create profile: %w", err)
	}
	return created, nil
}

func (r *profileRepositoryImpl) execOne(ctx context.Context, op, query string, args ...any) error {
	q := GetQuerier(ctx, r.db)

	tag, err := q.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return profile.ErrProfileNotFound
	}
	return nil
}

// UpdateAsaasCustomerID implements profile.ProfileRepository.
func (r *profileRepositoryImpl) UpdateAsaasCustomerID(ctx context.Context, id, customerID string) error {
	return r.execOne(ctx, "update asaas customer id", `
		UPDATE profiles
		SET asaas_customer_id = $1, updated_at = NOW()
		WHERE id = $2 AND deleted_at IS NULL
	`, customerID, id)
}

// UpdateBillingContact implements profile.ProfileRepository.
func (r *profileRepositoryImpl) UpdateBillingContact(ctx context.Context, id, cpfCnpj string, phone *string) error {
	return r.execOne(ctx, "update billing contact", `
		UPDATE profiles
		SET cpf_cnpj = $1, phone = COALESCE($2, phone), updated_at = NOW()
		WHERE id = $3 AND deleted_at IS NULL
	`, cpfCnpj, phone, id)
}

// UpdateSubscription implements profile.ProfileRepository.
func (r *profileRepositoryImpl) UpdateSubscription(ctx context.Context, id string, upd profile.SubscriptionUpdate) (profile.Profile, error) {
	q := GetQuerier(ctx, r.db)

	query := `
		UPDATE profiles
		SET subscription_id = $1,
			subscription_status = $2,
			subscription_next_due_date = $3,
			subscription_cycle = $4,
			operator_count = COALESCE($5, operator_count),
			version = version + 1,
			updated_at = NOW()
		WHERE id = $6 AND deleted_at IS NULL AND ($7::BIGINT IS NULL OR version = $7)
		RETURNING ` + profileColumns

	updated, err := scanProfile(q.QueryRow(ctx, query,
		upd.SubscriptionID,
		upd.Status,
		upd.NextDueDate,
		upd.Cycle,
		upd.OperatorCount,
		id,
		upd.ExpectedVersion,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if upd.ExpectedVersion != nil {
				if _, getErr := r.GetByID(ctx, id); getErr == nil {
					return profile.Profile{}, profile.ErrVersionConflict
				}
			}
			return profile.Profile{}, profile.ErrProfileNotFound
		}
		return profile.Profile{}, fmt.Errorf("update subscription: %w", err)
	}
	return updated, nil
}

// UpdateSubscriptionStatus implements profile.ProfileRepository.
func (r *profileRepositoryImpl) UpdateSubscriptionStatus(ctx context.Context, id string, status profile.SubscriptionStatus, nextDueDate *time.Time) error {
	return r.execOne(ctx, "update subscription status", `
		UPDATE profiles
		SET subscription_status = $1,
			subscription_next_due_date = COALESCE($2, subscription_next_due_date),
			updated_at = NOW()
		WHERE id = $3 AND deleted_at IS NULL
	`, status, nextDueDate, id)
}

func (r *profileRepositoryImpl) adjustOperatorCount(ctx context.Context, id, expr string) (int, error) {
	q := GetQuerier(ctx, r.db)

	query := `
		UPDATE profiles
		SET operator_count = ` + expr + `, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND role = 'manager' AND deleted_at IS NULL
		RETURNING operator_count
	`

	var count int
	if err := q.QueryRow(ctx, query, id).Scan(&count); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, profile.ErrProfileNotFound
		}
		return 0, fmt.Errorf("adjust operator count: %w", err)
	}
	return count, nil
}

// IncrementOperatorCount implements profile.ProfileRepository.
func (r *profileRepositoryImpl) IncrementOperatorCount(ctx context.Context, id string) (int, error) {
	return r.adjustOperatorCount(ctx, id, "operator_count + 1")
}

// DecrementOperatorCount implements profile.ProfileRepository.
func (r *profileRepositoryImpl) DecrementOperatorCount(ctx context.Context, id string) (int, error) {
	return r.adjustOperatorCount(ctx, id, "GREATEST(operator_count - 1, 0)")
}

// SetOperatorCount implements profile.ProfileRepository.
func (r *profileRepositoryImpl) SetOperatorCount(ctx context.Context, id string, count int) error {
	return r.execOne(ctx, "set operator count", `
		UPDATE profiles
		SET operator_count = GREATEST($1, 0), version = version + 1, updated_at = NOW()
		WHERE id = $2 AND deleted_at IS NULL
	`, count, id)
}

// CountActiveOperators implements profile.ProfileRepository.
func (r *profileRepositoryImpl) CountActiveOperators(ctx context.Context, managerID string) (int, error) {
	q := GetQuerier(ctx, r.db)

	var count int
	err := q.QueryRow(ctx, `
		SELECT COUNT(*) FROM profiles
		WHERE manager_id = $1 AND role = 'operator' AND deleted_at IS NULL
	`, managerID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active operators: %w", err)
	}
	return count, nil
}

// SoftDeleteOperator implements profile.ProfileRepository.
func (r *profileRepositoryImpl) SoftDeleteOperator(ctx context.Context, operatorID string) error {
	return r.execOne(ctx, "soft delete operator", `
		UPDATE profiles
		SET deleted_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND role = 'operator' AND deleted_at IS NULL
	`, operatorID)
}
