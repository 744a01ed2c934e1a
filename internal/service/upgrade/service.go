// Package upgrade changes the seat count of a manager subscription: operator
// checkout and provisioning, operator removal and reactivation.
package upgrade

import (
	"context"
	"errors"
	"html"
	"strings"
	"time"

	"github.com/matheuswillock/lead-flow-app-sub001/internal/domain/operator"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/domain/profile"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/domain/subscription"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/pkg/lock"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/pkg/observability"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"
)

// Deps are the collaborators of Service. Logger, Metrics and Now are optional.
type Deps struct {
	Profiles          profile.ProfileRepository
	PendingOperators  operator.PendingOperatorRepository
	SeatChanges       subscription.SeatChangeRepository
	Transactor        subscription.Transactor
	Gateway           subscription.BillingGateway
	Customers         subscription.CustomerResolver
	Identity          subscription.IdentityProvisioner
	Invites           subscription.InviteSender
	Locker            lock.Locker
	Logger            *zap.Logger
	Metrics           *observability.Metrics
	InviteRedirectURL string
	Now               func() time.Time
}

// Service implements subscription.UpgradeService and subscription.Reconciler.
type Service struct {
	profiles         profile.ProfileRepository
	pendingOperators operator.PendingOperatorRepository
	seatChanges      subscription.SeatChangeRepository
	tx               subscription.Transactor
	gateway          subscription.BillingGateway
	customers        subscription.CustomerResolver
	identity         subscription.IdentityProvisioner
	invites          subscription.InviteSender
	locker           lock.Locker
	logger           *zap.Logger
	metrics          *observability.Metrics
	redirectURL      string
	now              func() time.Time
	sanitizer        *bluemonday.Policy
}

var (
	_ subscription.UpgradeService = (*Service)(nil)
	_ subscription.Reconciler     = (*Service)(nil)
)

func NewService(d Deps) *Service {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Locker == nil {
		d.Locker = lock.NewLocalLocker(10 * time.Second)
	}
	return &Service{
		profiles:         d.Profiles,
		pendingOperators: d.PendingOperators,
		seatChanges:      d.SeatChanges,
		tx:               d.Transactor,
		gateway:          d.Gateway,
		customers:        d.Customers,
		identity:         d.Identity,
		invites:          d.Invites,
		locker:           d.Locker,
		logger:           d.Logger,
		metrics:          d.Metrics,
		redirectURL:      d.InviteRedirectURL,
		now:              d.Now,
		sanitizer:        bluemonday.StrictPolicy(),
	}
}

func managerLockKey(managerID string) string {
	return "manager:" + managerID
}

// lockManager serializes seat changes of one manager. A nil Output means the
// lock is held.
func (s *Service) lockManager(ctx context.Context, op, managerID string) (func(), *subscription.Output) {
	unlock, err := s.locker.Lock(ctx, managerLockKey(managerID))
	if err != nil {
		s.logger.Warn("manager lock not acquired",
			zap.String("operation", op),
			zap.String("manager_id", managerID),
			zap.Error(err),
		)
		out := subscription.Failure(subscription.FailureConflict, subscription.MsgOperationInProgress)
		if !errors.Is(err, lock.ErrLockTimeout) {
			out = subscription.Failure(subscription.FailureInternal, subscription.MsgOperationInProgress)
		}
		return nil, &out
	}
	return unlock, nil
}

// done records the outcome of op.
func (s *Service) done(op string, out subscription.Output) subscription.Output {
	outcome := "success"
	switch {
	case !out.IsValid:
		outcome = "failure"
	case reconciliationPending(out.Result):
		outcome = "reconciliation"
	}
	s.metrics.IncrWorkflow(op, outcome)
	return out
}

func reconciliationPending(result any) bool {
	switch r := result.(type) {
	case subscription.OperatorConfirmationResult:
		return r.Reconciliation != ""
	case subscription.RemoveOperatorResult:
		return r.Reconciliation != ""
	case subscription.ReactivateResult:
		return r.Reconciliation != ""
	}
	return false
}

func (s *Service) cleanName(name string) string {
	return strings.TrimSpace(html.UnescapeString(s.sanitizer.Sanitize(name)))
}

// markIntent moves a seat change to state, logging instead of failing.
func (s *Service) markIntent(ctx context.Context, change subscription.SeatChange, state subscription.SeatChangeState, cause error) {
	var lastError *string
	if cause != nil {
		msg := cause.Error()
		lastError = &msg
	}
	if err := s.seatChanges.UpdateState(context.WithoutCancel(ctx), change.ID, state, lastError); err != nil {
		s.logger.Error("failed to update seat change state",
			zap.String("seat_change_id", change.ID),
			zap.String("state", string(state)),
			zap.Error(err),
		)
	}
	if state == subscription.StateNeedsReconciliation {
		s.logger.Error("seat change needs reconciliation",
			zap.String("seat_change_id", change.ID),
			zap.String("manager_id", change.ManagerID),
			zap.String("kind", string(change.Kind)),
			zap.Error(cause),
		)
	}
}

func strPtr(s string) *string { return &s }

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
