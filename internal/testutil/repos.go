package testutil

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/domain/operator"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/domain/profile"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/domain/subscription"
)

// faults maps a method name to the error it must return.
type faults struct {
	errs map[string]error
}

func (f *faults) FailOn(method string, err error) {
	if f.errs == nil {
		f.errs = map[string]error{}
	}
	if err == nil {
		delete(f.errs, method)
		return
	}
	f.errs[method] = err
}

func (f *faults) fault(method string) error {
	return f.errs[method]
}

type snapshotter interface {
	snapshot() func()
}

// Transactor restores every registered store when fn fails.
type Transactor struct {
	stores []snapshotter
	Calls  int
}

func NewTransactor(stores ...snapshotter) *Transactor {
	return &Transactor{stores: stores}
}

func (t *Transactor) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	t.Calls++
	restores := make([]func(), 0, len(t.stores))
	for _, s := range t.stores {
		restores = append(restores, s.snapshot())
	}
	if err := fn(ctx); err != nil {
		for _, restore := range restores {
			restore()
		}
		return err
	}
	return nil
}

// ==================== Profiles ====================

type ProfileRepo struct {
	faults
	mu   sync.Mutex
	rows map[string]profile.Profile
}

func NewProfileRepo() *ProfileRepo {
	return &ProfileRepo{rows: map[string]profile.Profile{}}
}

func (r *ProfileRepo) snapshot() func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	saved := make(map[string]profile.Profile, len(r.rows))
	for k, v := range r.rows {
		saved[k] = v
	}
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.rows = saved
	}
}

// Seed stores p as is, assigning an id when missing.
func (r *ProfileRepo) Seed(p profile.Profile) profile.Profile {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Version == 0 {
		p.Version = 1
	}
	r.rows[p.ID] = p
	return p
}

// Get returns the stored row, soft-deleted or not.
func (r *ProfileRepo) Get(id string) (profile.Profile, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.rows[id]
	return p, ok
}

func (r *ProfileRepo) find(match func(profile.Profile) bool) (profile.Profile, error) {
	for _, p := range r.rows {
		if p.DeletedAt == nil && match(p) {
			return p, nil
		}
	}
	return profile.Profile{}, profile.ErrProfileNotFound
}

func (r *ProfileRepo) GetByID(_ context.Context, id string) (profile.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fault("GetByID"); err != nil {
		return profile.Profile{}, err
	}
	return r.find(func(p profile.Profile) bool { return p.ID == id })
}

func (r *ProfileRepo) GetBySupabaseID(_ context.Context, supabaseID string) (profile.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fault("GetBySupabaseID"); err != nil {
		return profile.Profile{}, err
	}
	return r.find(func(p profile.Profile) bool { return p.SupabaseID == supabaseID })
}

func (r *ProfileRepo) GetByEmail(_ context.Context, email string) (profile.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.find(func(p profile.Profile) bool { return strings.EqualFold(p.Email, email) })
}

func (r *ProfileRepo) GetBySubscriptionID(_ context.Context, subscriptionID string) (profile.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.find(func(p profile.Profile) bool {
		return p.Role == profile.RoleManager && p.SubscriptionID != nil && *p.SubscriptionID == subscriptionID
	})
}

func (r *ProfileRepo) ExistsByEmail(_ context.Context, email string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fault("ExistsByEmail"); err != nil {
		return false, err
	}
	_, err := r.find(func(p profile.Profile) bool { return strings.EqualFold(p.Email, email) })
	return err == nil, nil
}

func (r *ProfileRepo) Create(_ context.Context, p profile.Profile) (profile.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fault("Create"); err != nil {
		return profile.Profile{}, err
	}
	if _, err := r.find(func(q profile.Profile) bool { return strings.EqualFold(q.Email, p.Email) }); err == nil {
		return profile.Profile{}, profile.ErrEmailExists
	}
	p.ID = uuid.NewString()
	p.Version = 1
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	r.rows[p.ID] = p
	return p, nil
}

func (r *ProfileRepo) update(id string, fn func(p *profile.Profile)) error {
	p, err := r.find(func(q profile.Profile) bool { return q.ID == id })
	if err != nil {
		return err
	}
	fn(&p)
	p.UpdatedAt = time.Now()
	r.rows[id] = p
	return nil
}

func (r *ProfileRepo) UpdateAsaasCustomerID(_ context.Context, id, customerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fault("UpdateAsaasCustomerID"); err != nil {
		return err
	}
	return r.update(id, func(p *profile.Profile) { p.AsaasCustomerID = &customerID })
}

func (r *ProfileRepo) UpdateBillingContact(_ context.Context, id, cpfCnpj string, phone *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.update(id, func(p *profile.Profile) {
		p.CpfCnpj = &cpfCnpj
		if phone != nil {
			p.Phone = phone
		}
	})
}

func (r *ProfileRepo) UpdateSubscription(_ context.Context, id string, upd profile.SubscriptionUpdate) (profile.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fault("UpdateSubscription"); err != nil {
		return profile.Profile{}, err
	}
	current, err := r.find(func(q profile.Profile) bool { return q.ID == id })
	if err != nil {
		return profile.Profile{}, err
	}
	if upd.ExpectedVersion != nil && *upd.ExpectedVersion != current.Version {
		return profile.Profile{}, profile.ErrVersionConflict
	}
	err = r.update(id, func(p *profile.Profile) {
		subID, status, cycle := upd.SubscriptionID, upd.Status, upd.Cycle
		p.SubscriptionID = &subID
		p.SubscriptionStatus = &status
		p.SubscriptionNextDueDate = upd.NextDueDate
		p.SubscriptionCycle = &cycle
		if upd.OperatorCount != nil {
			p.OperatorCount = *upd.OperatorCount
		}
		p.Version++
	})
	if err != nil {
		return profile.Profile{}, err
	}
	return r.rows[id], nil
}

func (r *ProfileRepo) UpdateSubscriptionStatus(_ context.Context, id string, status profile.SubscriptionStatus, nextDueDate *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fault("UpdateSubscriptionStatus"); err != nil {
		return err
	}
	return r.update(id, func(p *profile.Profile) {
		p.SubscriptionStatus = &status
		if nextDueDate != nil {
			p.SubscriptionNextDueDate = nextDueDate
		}
	})
}

func (r *ProfileRepo) adjust(method, id string, delta int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fault(method); err != nil {
		return 0, err
	}
	var count int
	err := r.update(id, func(p *profile.Profile) {
		p.OperatorCount = max(p.OperatorCount+delta, 0)
		p.Version++
		count = p.OperatorCount
	})
	return count, err
}

func (r *ProfileRepo) IncrementOperatorCount(_ context.Context, id string) (int, error) {
	return r.adjust("IncrementOperatorCount", id, 1)
}

func (r *ProfileRepo) DecrementOperatorCount(_ context.Context, id string) (int, error) {
	return r.adjust("DecrementOperatorCount", id, -1)
}

func (r *ProfileRepo) SetOperatorCount(_ context.Context, id string, count int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fault("SetOperatorCount"); err != nil {
		return err
	}
	return r.update(id, func(p *profile.Profile) {
		p.OperatorCount = max(count, 0)
		p.Version++
	})
}

func (r *ProfileRepo) CountActiveOperators(_ context.Context, managerID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, p := range r.rows {
		if p.DeletedAt == nil && p.Role == profile.RoleOperator && p.ManagerID != nil && *p.ManagerID == managerID {
			n++
		}
	}
	return n, nil
}

func (r *ProfileRepo) SoftDeleteOperator(_ context.Context, operatorID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fault("SoftDeleteOperator"); err != nil {
		return err
	}
	p, err := r.find(func(q profile.Profile) bool { return q.ID == operatorID && q.Role == profile.RoleOperator })
	if err != nil {
		return err
	}
	now := time.Now()
	p.DeletedAt = &now
	r.rows[operatorID] = p
	return nil
}

// ==================== Pending operators ====================

type PendingOperatorRepo struct {
	faults
	mu   sync.Mutex
	rows map[string]operator.PendingOperator
}

func NewPendingOperatorRepo() *PendingOperatorRepo {
	return &PendingOperatorRepo{rows: map[string]operator.PendingOperator{}}
}

func (r *PendingOperatorRepo) snapshot() func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	saved := make(map[string]operator.PendingOperator, len(r.rows))
	for k, v := range r.rows {
		saved[k] = v
	}
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.rows = saved
	}
}

// Seed stores p keeping its timestamps.
func (r *PendingOperatorRepo) Seed(p operator.PendingOperator) operator.PendingOperator {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	r.rows[p.ID] = p
	return p
}

// Get returns the stored row.
func (r *PendingOperatorRepo) Get(id string) (operator.PendingOperator, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.rows[id]
	return p, ok
}

// Len returns the number of stored rows.
func (r *PendingOperatorRepo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

func (r *PendingOperatorRepo) Create(_ context.Context, p operator.PendingOperator) (operator.PendingOperator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fault("Create"); err != nil {
		return operator.PendingOperator{}, err
	}
	p.ID = uuid.NewString()
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	r.rows[p.ID] = p
	return p, nil
}

func (r *PendingOperatorRepo) find(match func(operator.PendingOperator) bool) (operator.PendingOperator, error) {
	for _, p := range r.rows {
		if match(p) {
			return p, nil
		}
	}
	return operator.PendingOperator{}, operator.ErrPendingOperatorNotFound
}

func (r *PendingOperatorRepo) GetByID(_ context.Context, id string) (operator.PendingOperator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.find(func(p operator.PendingOperator) bool { return p.ID == id })
}

func (r *PendingOperatorRepo) GetByPaymentID(_ context.Context, paymentID string) (operator.PendingOperator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fault("GetByPaymentID"); err != nil {
		return operator.PendingOperator{}, err
	}
	return r.find(func(p operator.PendingOperator) bool { return p.PaymentID == paymentID })
}

func (r *PendingOperatorRepo) GetBySubscriptionID(_ context.Context, subscriptionID string) (operator.PendingOperator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.find(func(p operator.PendingOperator) bool {
		return p.SubscriptionID != nil && *p.SubscriptionID == subscriptionID
	})
}

func (r *PendingOperatorRepo) update(id string, fn func(p *operator.PendingOperator)) error {
	p, ok := r.rows[id]
	if !ok {
		return operator.ErrPendingOperatorNotFound
	}
	fn(&p)
	p.UpdatedAt = time.Now()
	r.rows[id] = p
	return nil
}

func (r *PendingOperatorRepo) UpdatePayment(_ context.Context, id, paymentID string, checkoutURL *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fault("UpdatePayment"); err != nil {
		return err
	}
	return r.update(id, func(p *operator.PendingOperator) {
		p.PaymentID = paymentID
		p.CheckoutURL = checkoutURL
	})
}

func (r *PendingOperatorRepo) UpdatePaymentStatus(_ context.Context, id, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.update(id, func(p *operator.PendingOperator) { p.PaymentStatus = status })
}

func (r *PendingOperatorRepo) LinkSubscription(_ context.Context, id, subscriptionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.update(id, func(p *operator.PendingOperator) { p.SubscriptionID = &subscriptionID })
}

func (r *PendingOperatorRepo) MarkOperatorCreated(_ context.Context, id, operatorID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fault("MarkOperatorCreated"); err != nil {
		return false, err
	}
	p, ok := r.rows[id]
	if !ok || p.OperatorCreated {
		return false, nil
	}
	p.OperatorCreated = true
	p.OperatorID = &operatorID
	p.PaymentStatus = "CONFIRMED"
	p.UpdatedAt = time.Now()
	r.rows[id] = p
	return true, nil
}

func (r *PendingOperatorRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fault("Delete"); err != nil {
		return err
	}
	if _, ok := r.rows[id]; !ok {
		return operator.ErrPendingOperatorNotFound
	}
	delete(r.rows, id)
	return nil
}

func (r *PendingOperatorRepo) ListPendingOlderThan(_ context.Context, before time.Time, limit int) ([]operator.PendingOperator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []operator.PendingOperator
	for _, p := range r.rows {
		if !p.OperatorCreated && p.HasRealPaymentID() && p.CreatedAt.Before(before) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *PendingOperatorRepo) DeleteStale(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, p := range r.rows {
		paid := p.PaymentStatus == "CONFIRMED" || p.PaymentStatus == "RECEIVED"
		if !p.OperatorCreated && !paid && p.CreatedAt.Before(before) {
			delete(r.rows, id)
			n++
		}
	}
	return n, nil
}

// ==================== Seat changes ====================

type SeatChangeRepo struct {
	faults
	mu   sync.Mutex
	rows map[string]subscription.SeatChange
}

func NewSeatChangeRepo() *SeatChangeRepo {
	return &SeatChangeRepo{rows: map[string]subscription.SeatChange{}}
}

func (r *SeatChangeRepo) snapshot() func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	saved := make(map[string]subscription.SeatChange, len(r.rows))
	for k, v := range r.rows {
		saved[k] = v
	}
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.rows = saved
	}
}

// Seed stores c keeping its timestamps.
func (r *SeatChangeRepo) Seed(c subscription.SeatChange) subscription.SeatChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	r.rows[c.ID] = c
	return c
}

// All returns every intent ordered by creation.
func (r *SeatChangeRepo) All() []subscription.SeatChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]subscription.SeatChange, 0, len(r.rows))
	for _, c := range r.rows {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r *SeatChangeRepo) Create(_ context.Context, c subscription.SeatChange) (subscription.SeatChange, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fault("Create"); err != nil {
		return subscription.SeatChange{}, err
	}
	c.ID = uuid.NewString()
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	r.rows[c.ID] = c
	return c, nil
}

func (r *SeatChangeRepo) GetByID(_ context.Context, id string) (subscription.SeatChange, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.rows[id]
	if !ok {
		return subscription.SeatChange{}, subscription.ErrSeatChangeNotFound
	}
	return c, nil
}

func (r *SeatChangeRepo) update(id string, fn func(c *subscription.SeatChange)) error {
	c, ok := r.rows[id]
	if !ok {
		return subscription.ErrSeatChangeNotFound
	}
	fn(&c)
	c.UpdatedAt = time.Now()
	r.rows[id] = c
	return nil
}

func (r *SeatChangeRepo) UpdateState(_ context.Context, id string, state subscription.SeatChangeState, lastError *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fault("UpdateState"); err != nil {
		return err
	}
	return r.update(id, func(c *subscription.SeatChange) {
		c.State = state
		if lastError != nil {
			c.LastError = lastError
		}
	})
}

func (r *SeatChangeRepo) SetNewSubscription(_ context.Context, id, subscriptionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.update(id, func(c *subscription.SeatChange) { c.NewSubscriptionID = &subscriptionID })
}

func (r *SeatChangeRepo) SetOperatorID(_ context.Context, id, operatorID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.update(id, func(c *subscription.SeatChange) { c.OperatorID = &operatorID })
}

func (r *SeatChangeRepo) RecordAttempt(_ context.Context, id string, lastError string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var attempts int
	err := r.update(id, func(c *subscription.SeatChange) {
		c.Attempts++
		c.LastError = &lastError
		attempts = c.Attempts
	})
	return attempts, err
}

func (r *SeatChangeRepo) ListOpen(_ context.Context, updatedBefore time.Time, limit int) ([]subscription.SeatChange, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []subscription.SeatChange
	for _, c := range r.rows {
		if c.State.IsOpen() && c.UpdatedAt.Before(updatedBefore) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *SeatChangeRepo) CountNeedsReconciliation(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.rows {
		if c.State == subscription.StateNeedsReconciliation {
			n++
		}
	}
	return n, nil
}
