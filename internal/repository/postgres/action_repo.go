package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tidegate/armada/internal/domain"
)

type ActionRepo struct {
	db DB
}

func NewActionRepo(db DB) *ActionRepo {
	return &ActionRepo{db: db}
}

const actionColumns = `id, tenant, target_id, controller_id, distribution_set_id,
	action_type, forced_time, status, active,
	maintenance_window_schedule, maintenance_window_duration, maintenance_window_timezone,
	rollout_id, rollout_group_id, rollout_group_parent_id,
	created_at, modified_at`

func scanAction(row pgx.Row) (*domain.Action, error) {
	a := &domain.Action{}
	err := row.Scan(
		&a.ID, &a.Tenant, &a.TargetID, &a.ControllerID, &a.DistributionSetID,
		&a.Type, &a.ForcedTime, &a.Status, &a.Active,
		&a.MaintenanceWindowSchedule, &a.MaintenanceWindowDuration, &a.MaintenanceWindowTimeZone,
		&a.RolloutID, &a.RolloutGroupID, &a.RolloutGroupParentID,
		&a.CreatedAt, &a.ModifiedAt,
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (r *ActionRepo) Create(ctx context.Context, a *domain.Action) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO actions (
			tenant, target_id, controller_id, distribution_set_id,
			action_type, forced_time, status, active,
			maintenance_window_schedule, maintenance_window_duration, maintenance_window_timezone,
			rollout_id, rollout_group_id, rollout_group_parent_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING id, created_at, modified_at
	`,
		a.Tenant, a.TargetID, a.ControllerID, a.DistributionSetID,
		a.Type, a.ForcedTime, a.Status, a.Active,
		a.MaintenanceWindowSchedule, a.MaintenanceWindowDuration, a.MaintenanceWindowTimeZone,
		a.RolloutID, a.RolloutGroupID, a.RolloutGroupParentID,
	).Scan(&a.ID, &a.CreatedAt, &a.ModifiedAt)

	if err != nil {
		return fmt.Errorf("insert action: %w", err)
	}
	return nil
}

func (r *ActionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Action, error) {
	a, err := scanAction(r.db.QueryRow(ctx, `
		SELECT `+actionColumns+` FROM actions WHERE id = $1
	`, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get action: %w", err)
	}
	return a, nil
}

// Update persists status, active flag and action type. The modified_at guard
// makes concurrent writers visible: a stale in-memory action updates zero
// rows and surfaces a retryable conflict.
func (r *ActionRepo) Update(ctx context.Context, a *domain.Action) error {
	row := r.db.QueryRow(ctx, `
		UPDATE actions SET status = $1, active = $2, action_type = $3, forced_time = $4, modified_at = NOW()
		WHERE id = $5 AND modified_at = $6
		RETURNING modified_at
	`, a.Status, a.Active, a.Type, a.ForcedTime, a.ID, a.ModifiedAt)

	if err := row.Scan(&a.ModifiedAt); err != nil {
		if err == pgx.ErrNoRows {
			exists, existsErr := r.exists(ctx, a.ID)
			if existsErr != nil {
				return existsErr
			}
			if !exists {
				return domain.ErrNotFound
			}
			return fmt.Errorf("update action %s: %w", a.ID, domain.ErrConcurrentModification)
		}
		return fmt.Errorf("update action: %w", err)
	}
	return nil
}

func (r *ActionRepo) exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM actions WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("action exists: %w", err)
	}
	return exists, nil
}

func (r *ActionRepo) FindActiveByTargets(ctx context.Context, targetIDs []uuid.UUID, excludeCanceling bool) ([]*domain.Action, error) {
	query := `
		SELECT ` + prefixColumns("a", actionColumns) + `
		FROM actions a
		JOIN distribution_sets ds ON ds.id = a.distribution_set_id
		WHERE a.target_id = ANY($1) AND a.active AND NOT ds.required_migration_step`
	if excludeCanceling {
		query += ` AND a.status <> 'canceling'`
	}
	query += ` ORDER BY a.created_at`

	rows, err := r.db.Query(ctx, query, targetIDs)
	if err != nil {
		return nil, fmt.Errorf("find active actions: %w", err)
	}
	defer rows.Close()
	return collectActions(rows)
}

func (r *ActionRepo) SwitchStatus(ctx context.Context, from, to domain.ActionState, targetIDs []uuid.UUID, currentActive bool) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE actions SET status = $1, active = FALSE, modified_at = NOW()
		WHERE target_id = ANY($2) AND status = $3 AND active = $4
	`, to, targetIDs, from, currentActive)
	if err != nil {
		return 0, fmt.Errorf("switch action status: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *ActionRepo) CountByTarget(ctx context.Context, targetID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM actions WHERE target_id = $1`, targetID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count actions by target: %w", err)
	}
	return count, nil
}

func (r *ActionRepo) FindScheduledByRollout(ctx context.Context, rolloutID uuid.UUID, groupParentID *uuid.UUID, limit int) ([]*domain.Action, error) {
	query := `
		SELECT ` + actionColumns + ` FROM actions
		WHERE rollout_id = $1 AND status = 'scheduled'`
	args := []any{rolloutID}
	if groupParentID == nil {
		query += ` AND rollout_group_parent_id IS NULL`
	} else {
		query += ` AND rollout_group_parent_id = $2`
		args = append(args, *groupParentID)
	}
	query += fmt.Sprintf(` ORDER BY created_at LIMIT %d`, limit)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find scheduled actions: %w", err)
	}
	defer rows.Close()
	return collectActions(rows)
}

// DeleteByStatusAndModifiedBefore deletes at most limit matching rows.
// Postgres has no LIMIT on DELETE, so the bound lives in a sub-select; the
// row cap keeps lock duration short and callers loop until zero.
func (r *ActionRepo) DeleteByStatusAndModifiedBefore(ctx context.Context, tenant string, statuses []domain.ActionState, before time.Time, limit int) (int64, error) {
	if len(statuses) == 0 {
		return 0, nil
	}

	statusStrs := make([]string, len(statuses))
	for i, s := range statuses {
		statusStrs[i] = string(s)
	}

	tag, err := r.db.Exec(ctx, `
		DELETE FROM actions WHERE id IN (
			SELECT id FROM actions
			WHERE tenant = $1 AND status = ANY($2) AND modified_at < $3
			LIMIT $4
		)
	`, tenant, statusStrs, before, limit)
	if err != nil {
		return 0, fmt.Errorf("delete actions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *ActionRepo) FindByTarget(ctx context.Context, tenant, controllerID string, f domain.ActionFilter) ([]*domain.Action, int, error) {
	where := `WHERE tenant = $1 AND controller_id = $2`
	args := []any{tenant, controllerID}
	return r.findPaged(ctx, where, args, f)
}

func (r *ActionRepo) FindByDistributionSet(ctx context.Context, dsID uuid.UUID, f domain.ActionFilter) ([]*domain.Action, int, error) {
	where := `WHERE distribution_set_id = $1`
	args := []any{dsID}
	return r.findPaged(ctx, where, args, f)
}

func (r *ActionRepo) findPaged(ctx context.Context, where string, args []any, f domain.ActionFilter) ([]*domain.Action, int, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 || f.PerPage > 100 {
		f.PerPage = 20
	}

	argIdx := len(args) + 1
	if f.Active != nil {
		where += fmt.Sprintf(" AND active = $%d", argIdx)
		args = append(args, *f.Active)
		argIdx++
	}
	if f.Status != nil {
		where += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, *f.Status)
		argIdx++
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM actions `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count actions: %w", err)
	}

	offset := (f.Page - 1) * f.PerPage
	query := fmt.Sprintf(`
		SELECT %s FROM actions %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, actionColumns, where, argIdx, argIdx+1)
	args = append(args, f.PerPage, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list actions: %w", err)
	}
	defer rows.Close()

	actions, err := collectActions(rows)
	if err != nil {
		return nil, 0, err
	}
	if actions == nil {
		actions = []*domain.Action{}
	}
	return actions, total, nil
}

func collectActions(rows pgx.Rows) ([]*domain.Action, error) {
	var actions []*domain.Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

// prefixColumns qualifies every column of a comma-separated list with a
// table alias for joined queries.
func prefixColumns(alias, columns string) string {
	out := ""
	for i, col := range splitColumns(columns) {
		if i > 0 {
			out += ", "
		}
		out += alias + "." + col
	}
	return out
}

func splitColumns(columns string) []string {
	var cols []string
	cur := ""
	for _, r := range columns {
		switch r {
		case ',':
			cols = append(cols, cur)
			cur = ""
		case ' ', '\n', '\t':
		default:
			cur += string(r)
		}
	}
	if cur != "" {
		cols = append(cols, cur)
	}
	return cols
}
