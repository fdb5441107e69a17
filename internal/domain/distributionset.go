package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DistributionSet is a versioned, typed bundle of software modules.
// Completeness (all mandatory module categories of its type present) is
// computed by the module management layer and stored on the set; incomplete
// sets cannot be assigned.
type DistributionSet struct {
	ID                    uuid.UUID `json:"id"`
	Tenant                string    `json:"tenant"`
	Name                  string    `json:"name"`
	Version               string    `json:"version"`
	TypeKey               string    `json:"type_key"`
	Complete              bool      `json:"complete"`
	RequiredMigrationStep bool      `json:"required_migration_step"`
	CreatedAt             time.Time `json:"created_at"`
}

func (d *DistributionSet) IsComplete() bool {
	return d.Complete
}

type DistributionSetRepository interface {
	Create(ctx context.Context, ds *DistributionSet) error
	GetByID(ctx context.Context, id uuid.UUID) (*DistributionSet, error)
}
