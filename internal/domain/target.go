package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type TargetUpdateStatus string

const (
	TargetUpdateStatusUnknown    TargetUpdateStatus = "unknown"
	TargetUpdateStatusRegistered TargetUpdateStatus = "registered"
	TargetUpdateStatusPending    TargetUpdateStatus = "pending"
	TargetUpdateStatusInSync     TargetUpdateStatus = "in_sync"
	TargetUpdateStatusError      TargetUpdateStatus = "error"
)

// Target is a managed remote device, identified by its controller id.
// Exactly one Target exists per controller id per tenant.
type Target struct {
	ID                         uuid.UUID          `json:"id"`
	Tenant                     string             `json:"tenant"`
	ControllerID               string             `json:"controller_id"`
	UpdateStatus               TargetUpdateStatus `json:"update_status"`
	AssignedDistributionSetID  *uuid.UUID         `json:"assigned_distribution_set_id,omitempty"`
	InstalledDistributionSetID *uuid.UUID         `json:"installed_distribution_set_id,omitempty"`
	CreatedAt                  time.Time          `json:"created_at"`
	UpdatedAt                  time.Time          `json:"updated_at"`
}

type TargetRepository interface {
	Create(ctx context.Context, target *Target) error
	GetByID(ctx context.Context, id uuid.UUID) (*Target, error)
	GetByControllerID(ctx context.Context, tenant, controllerID string) (*Target, error)
	ExistsByControllerID(ctx context.Context, tenant, controllerID string) (bool, error)

	// FindForAssignment returns the targets among controllerIDs that do not
	// already have the given distribution set assigned. With skipPending,
	// targets currently in pending update status are excluded as well.
	FindForAssignment(ctx context.Context, tenant string, controllerIDs []string, dsID uuid.UUID, skipPending bool) ([]*Target, error)

	// UpdateAssignment sets the assigned distribution set and update status
	// for a batch of targets. With setInstalled, the installed set is updated
	// to the same distribution set.
	UpdateAssignment(ctx context.Context, targetIDs []uuid.UUID, dsID uuid.UUID, status TargetUpdateStatus, setInstalled bool) error

	Update(ctx context.Context, target *Target) error
}
