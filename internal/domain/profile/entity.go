package profile

import (
	"strings"
	"time"
)

type Role string

const (
	RoleManager  Role = "manager"  // Account owner, pays the subscription
	RoleOperator Role = "operator" // Seat billed to a manager
)

// SubscriptionStatus mirrors the gateway subscription status. Values coming
// from older rows may be lowercase.
type SubscriptionStatus string

const (
	StatusPending  SubscriptionStatus = "PENDING"
	StatusActive   SubscriptionStatus = "ACTIVE"
	StatusOverdue  SubscriptionStatus = "OVERDUE"
	StatusCanceled SubscriptionStatus = "CANCELED"
	StatusInactive SubscriptionStatus = "INACTIVE"
)

// IsCanceled reports whether the subscription no longer bills.
func (s SubscriptionStatus) IsCanceled() bool {
	switch strings.ToUpper(strings.TrimSpace(string(s))) {
	case "CANCELED", "CANCELLED", "INACTIVE", "EXPIRED", "DELETED":
		return true
	}
	return false
}

type Profile struct {
	ID                      string
	SupabaseID              string
	Email                   string
	Name                    string
	Phone                   *string
	CpfCnpj                 *string
	Role                    Role
	ManagerID               *string
	AsaasCustomerID         *string
	SubscriptionID          *string
	SubscriptionStatus      *SubscriptionStatus
	SubscriptionNextDueDate *time.Time
	SubscriptionCycle       *string
	OperatorCount           int
	Version                 int64
	DeletedAt               *time.Time
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// IsManager checks if the profile owns a subscription
func (p Profile) IsManager() bool {
	return p.Role == RoleManager
}

// Status returns the subscription status or an empty value.
func (p Profile) Status() SubscriptionStatus {
	if p.SubscriptionStatus == nil {
		return ""
	}
	return *p.SubscriptionStatus
}

// HasBillableSubscription is true when a subscription is linked and not canceled.
func (p Profile) HasBillableSubscription() bool {
	return p.SubscriptionID != nil && *p.SubscriptionID != "" && p.Status() != "" && !p.Status().IsCanceled()
}

// SubscriptionUpdate replaces the billing linkage of a manager. OperatorCount
// is left untouched when nil; ExpectedVersion enables the optimistic check.
type SubscriptionUpdate struct {
	SubscriptionID  string
	Status          SubscriptionStatus
	NextDueDate     *time.Time
	Cycle           string
	OperatorCount   *int
	ExpectedVersion *int64
}
