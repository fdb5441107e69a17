package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tidegate/armada/internal/domain"
)

type TargetRepo struct {
	db DB
}

func NewTargetRepo(db DB) *TargetRepo {
	return &TargetRepo{db: db}
}

const targetColumns = `id, tenant, controller_id, update_status,
	assigned_distribution_set_id, installed_distribution_set_id,
	created_at, updated_at`

func (r *TargetRepo) Create(ctx context.Context, t *domain.Target) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO targets (tenant, controller_id, update_status)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at
	`, t.Tenant, t.ControllerID, t.UpdateStatus).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)

	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return fmt.Errorf("insert target: %w", err)
	}
	return nil
}

func (r *TargetRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Target, error) {
	t := &domain.Target{}
	err := r.db.QueryRow(ctx, `
		SELECT `+targetColumns+` FROM targets WHERE id = $1
	`, id).Scan(
		&t.ID, &t.Tenant, &t.ControllerID, &t.UpdateStatus,
		&t.AssignedDistributionSetID, &t.InstalledDistributionSetID,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get target: %w", err)
	}
	return t, nil
}

func (r *TargetRepo) GetByControllerID(ctx context.Context, tenant, controllerID string) (*domain.Target, error) {
	t := &domain.Target{}
	err := r.db.QueryRow(ctx, `
		SELECT `+targetColumns+` FROM targets WHERE tenant = $1 AND controller_id = $2
	`, tenant, controllerID).Scan(
		&t.ID, &t.Tenant, &t.ControllerID, &t.UpdateStatus,
		&t.AssignedDistributionSetID, &t.InstalledDistributionSetID,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get target by controller id: %w", err)
	}
	return t, nil
}

func (r *TargetRepo) ExistsByControllerID(ctx context.Context, tenant, controllerID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM targets WHERE tenant = $1 AND controller_id = $2)
	`, tenant, controllerID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("target exists: %w", err)
	}
	return exists, nil
}

func (r *TargetRepo) FindForAssignment(ctx context.Context, tenant string, controllerIDs []string, dsID uuid.UUID, skipPending bool) ([]*domain.Target, error) {
	query := `
		SELECT ` + targetColumns + ` FROM targets
		WHERE tenant = $1
		  AND controller_id = ANY($2)
		  AND assigned_distribution_set_id IS DISTINCT FROM $3`
	if skipPending {
		query += ` AND update_status <> 'pending'`
	}
	query += ` ORDER BY controller_id`

	rows, err := r.db.Query(ctx, query, tenant, controllerIDs, dsID)
	if err != nil {
		return nil, fmt.Errorf("find targets for assignment: %w", err)
	}
	defer rows.Close()

	var targets []*domain.Target
	for rows.Next() {
		t := &domain.Target{}
		if err := rows.Scan(
			&t.ID, &t.Tenant, &t.ControllerID, &t.UpdateStatus,
			&t.AssignedDistributionSetID, &t.InstalledDistributionSetID,
			&t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan target: %w", err)
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

func (r *TargetRepo) UpdateAssignment(ctx context.Context, targetIDs []uuid.UUID, dsID uuid.UUID, status domain.TargetUpdateStatus, setInstalled bool) error {
	query := `
		UPDATE targets SET assigned_distribution_set_id = $1, update_status = $2, updated_at = NOW()`
	if setInstalled {
		query += `, installed_distribution_set_id = $1`
	}
	query += ` WHERE id = ANY($3)`

	if _, err := r.db.Exec(ctx, query, dsID, status, targetIDs); err != nil {
		return fmt.Errorf("update target assignment: %w", err)
	}
	return nil
}

func (r *TargetRepo) Update(ctx context.Context, t *domain.Target) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE targets SET
			update_status = $1,
			assigned_distribution_set_id = $2,
			installed_distribution_set_id = $3,
			updated_at = NOW()
		WHERE id = $4
	`, t.UpdateStatus, t.AssignedDistributionSetID, t.InstalledDistributionSetID, t.ID)
	if err != nil {
		return fmt.Errorf("update target: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
