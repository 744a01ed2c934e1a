// Package billing holds gateway helpers shared by the subscription workflows.
package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/matheuswillock/lead-flow-app-sub001/internal/domain/profile"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/domain/subscription"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/pkg/asaas"
	"go.uber.org/zap"
)

type customerResolver struct {
	gateway  subscription.BillingGateway
	profiles profile.ProfileRepository
	logger   *zap.Logger
}

// NewCustomerResolver returns a resolver that reuses the stored customer when
// the configured gateway environment still knows it.
func NewCustomerResolver(gateway subscription.BillingGateway, profiles profile.ProfileRepository, logger *zap.Logger) subscription.CustomerResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &customerResolver{gateway: gateway, profiles: profiles, logger: logger}
}

func (r *customerResolver) Resolve(ctx context.Context, manager profile.Profile) (string, error) {
	if manager.AsaasCustomerID != nil && *manager.AsaasCustomerID != "" {
		customer, err := r.gateway.GetCustomer(ctx, *manager.AsaasCustomerID)
		if err == nil {
			return customer.ID, nil
		}
		if !errors.Is(err, asaas.ErrNotFound) {
			return "", fmt.Errorf("get customer: %w", err)
		}
		// Created in another gateway environment.
		r.logger.Warn("stored customer not found, creating a new one",
			zap.String("manager_id", manager.ID),
			zap.String("customer_id", *manager.AsaasCustomerID),
		)
	}

	req := asaas.CreateCustomerRequest{
		Name:                 manager.Name,
		Email:                manager.Email,
		ExternalReference:    subscription.ManagerReference(manager.ID),
		NotificationDisabled: true,
	}
	if manager.CpfCnpj != nil {
		req.CpfCnpj = *manager.CpfCnpj
	}
	if manager.Phone != nil {
		req.MobilePhone = *manager.Phone
	}

	customer, err := r.gateway.CreateCustomer(ctx, req)
	if err != nil {
		return "", fmt.Errorf("create customer: %w", err)
	}

	if err := r.profiles.UpdateAsaasCustomerID(ctx, manager.ID, customer.ID); err != nil {
		return "", fmt.Errorf("persist customer id: %w", err)
	}

	r.logger.Info("billing customer created",
		zap.String("manager_id", manager.ID),
		zap.String("customer_id", customer.ID),
	)
	return customer.ID, nil
}
