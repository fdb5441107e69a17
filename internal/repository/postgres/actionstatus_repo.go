package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tidegate/armada/internal/domain"
)

type ActionStatusRepo struct {
	db DB
}

func NewActionStatusRepo(db DB) *ActionStatusRepo {
	return &ActionStatusRepo{db: db}
}

func (r *ActionStatusRepo) Append(ctx context.Context, s *domain.ActionStatus) error {
	messages := s.Messages
	if messages == nil {
		messages = []string{}
	}
	err := r.db.QueryRow(ctx, `
		INSERT INTO action_statuses (action_id, status, occurred_at, messages)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, s.ActionID, s.Status, s.OccurredAt, messages).Scan(&s.ID, &s.CreatedAt)

	if err != nil {
		return fmt.Errorf("insert action status: %w", err)
	}
	return nil
}

func (r *ActionStatusRepo) FindByAction(ctx context.Context, actionID uuid.UUID, page, perPage int) ([]*domain.ActionStatus, int, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	var total int
	if err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM action_statuses WHERE action_id = $1`, actionID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count action statuses: %w", err)
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, action_id, status, occurred_at, messages, created_at
		FROM action_statuses
		WHERE action_id = $1
		ORDER BY occurred_at, created_at
		LIMIT $2 OFFSET $3
	`, actionID, perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, fmt.Errorf("list action statuses: %w", err)
	}
	defer rows.Close()

	statuses := []*domain.ActionStatus{}
	for rows.Next() {
		s := &domain.ActionStatus{}
		if err := rows.Scan(&s.ID, &s.ActionID, &s.Status, &s.OccurredAt, &s.Messages, &s.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan action status: %w", err)
		}
		statuses = append(statuses, s)
	}
	return statuses, total, rows.Err()
}

func (r *ActionStatusRepo) Messages(ctx context.Context, statusID uuid.UUID, page, perPage int) ([]string, int, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	var messages []string
	err := r.db.QueryRow(ctx,
		`SELECT messages FROM action_statuses WHERE id = $1`, statusID,
	).Scan(&messages)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, 0, domain.ErrNotFound
		}
		return nil, 0, fmt.Errorf("get action status messages: %w", err)
	}

	total := len(messages)
	start := (page - 1) * perPage
	if start >= total {
		return []string{}, total, nil
	}
	end := start + perPage
	if end > total {
		end = total
	}
	return messages[start:end], total, nil
}
