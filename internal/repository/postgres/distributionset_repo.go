package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tidegate/armada/internal/domain"
)

type DistributionSetRepo struct {
	db DB
}

func NewDistributionSetRepo(db DB) *DistributionSetRepo {
	return &DistributionSetRepo{db: db}
}

func (r *DistributionSetRepo) Create(ctx context.Context, d *domain.DistributionSet) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO distribution_sets (tenant, name, version, type_key, complete, required_migration_step)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`, d.Tenant, d.Name, d.Version, d.TypeKey, d.Complete, d.RequiredMigrationStep).Scan(&d.ID, &d.CreatedAt)

	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return fmt.Errorf("insert distribution set: %w", err)
	}
	return nil
}

func (r *DistributionSetRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.DistributionSet, error) {
	d := &domain.DistributionSet{}
	err := r.db.QueryRow(ctx, `
		SELECT id, tenant, name, version, type_key, complete, required_migration_step, created_at
		FROM distribution_sets WHERE id = $1
	`, id).Scan(
		&d.ID, &d.Tenant, &d.Name, &d.Version, &d.TypeKey,
		&d.Complete, &d.RequiredMigrationStep, &d.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get distribution set: %w", err)
	}
	return d, nil
}
