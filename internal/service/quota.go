package service

import (
	"context"
	"fmt"

	"github.com/tidegate/armada/internal/domain"
)

// StaticQuotas is the config-backed domain.QuotaProvider.
type StaticQuotas struct {
	TargetsPerManualAssignment int
	ActionsPerTarget           int
}

func (q StaticQuotas) MaxTargetsPerManualAssignment() int { return q.TargetsPerManualAssignment }
func (q StaticQuotas) MaxActionsPerTarget() int           { return q.ActionsPerTarget }

// assertQuota fails with a domain.QuotaError when currentCount + requested
// would exceed limit. currentCount may be nil for checks that only bound the
// request itself.
func assertQuota(ctx context.Context, entityID string, requested, limit int, kind, related string,
	currentCount func(ctx context.Context) (int, error)) error {

	if requested < 0 {
		return fmt.Errorf("%w: requested count must not be negative", domain.ErrInvalidInput)
	}

	current := 0
	if currentCount != nil {
		var err error
		current, err = currentCount(ctx)
		if err != nil {
			return fmt.Errorf("resolve current %s count: %w", kind, err)
		}
	}

	if current+requested > limit {
		return &domain.QuotaError{
			EntityID:  entityID,
			Kind:      kind,
			Related:   related,
			Requested: requested,
			Limit:     limit,
		}
	}
	return nil
}
