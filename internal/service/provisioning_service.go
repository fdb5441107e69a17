package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/tidegate/armada/internal/domain"
	"github.com/tidegate/armada/internal/tenancy"
)

// ProvisioningService manages the entities assignments operate on: targets
// and distribution sets.
type ProvisioningService struct {
	store domain.Store
	log   *slog.Logger
}

func NewProvisioningService(store domain.Store, log *slog.Logger) *ProvisioningService {
	return &ProvisioningService{store: store, log: log}
}

func (s *ProvisioningService) RegisterTarget(ctx context.Context, controllerID string) (*domain.Target, error) {
	controllerID = strings.TrimSpace(controllerID)
	if controllerID == "" {
		return nil, fmt.Errorf("%w: controller id is required", domain.ErrInvalidInput)
	}

	target := &domain.Target{
		Tenant:       tenancy.FromContext(ctx),
		ControllerID: controllerID,
		UpdateStatus: domain.TargetUpdateStatusRegistered,
	}
	if err := s.store.Targets().Create(ctx, target); err != nil {
		return nil, err
	}

	s.log.Info("target registered", "controller_id", controllerID)
	return target, nil
}

func (s *ProvisioningService) GetTarget(ctx context.Context, controllerID string) (*domain.Target, error) {
	return s.store.Targets().GetByControllerID(ctx, tenancy.FromContext(ctx), controllerID)
}

func (s *ProvisioningService) CreateDistributionSet(ctx context.Context, name, version, typeKey string, complete, requiredMigrationStep bool) (*domain.DistributionSet, error) {
	if strings.TrimSpace(name) == "" || strings.TrimSpace(version) == "" {
		return nil, fmt.Errorf("%w: name and version are required", domain.ErrInvalidInput)
	}

	ds := &domain.DistributionSet{
		Tenant:                tenancy.FromContext(ctx),
		Name:                  name,
		Version:               version,
		TypeKey:               typeKey,
		Complete:              complete,
		RequiredMigrationStep: requiredMigrationStep,
	}
	if err := s.store.DistributionSets().Create(ctx, ds); err != nil {
		return nil, err
	}

	s.log.Info("distribution set created", "name", name, "version", version)
	return ds, nil
}

func (s *ProvisioningService) GetDistributionSet(ctx context.Context, id uuid.UUID) (*domain.DistributionSet, error) {
	return s.store.DistributionSets().GetByID(ctx, id)
}
