package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/tidegate/armada/internal/domain"
	"github.com/tidegate/armada/internal/metrics"
	"github.com/tidegate/armada/internal/tenancy"
)

// CleanupService removes stale terminated actions in bounded batches so that
// a single invocation never holds row locks for long.
type CleanupService struct {
	store     domain.Store
	batchSize int
	retention time.Duration
	log       *slog.Logger
}

func NewCleanupService(store domain.Store, batchSize int, retention time.Duration, log *slog.Logger) *CleanupService {
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &CleanupService{
		store:     store,
		batchSize: batchSize,
		retention: retention,
		log:       log,
	}
}

// DeleteActionsByStatusAndLastModifiedBefore deletes at most one batch of the
// tenant's actions that are in one of the given states and were last modified
// strictly before the threshold. Returns the number of rows deleted. An empty
// status set is a no-op. Callers drain by invoking repeatedly until 0.
func (s *CleanupService) DeleteActionsByStatusAndLastModifiedBefore(ctx context.Context, statuses []domain.ActionState, before time.Time) (int, error) {
	if len(statuses) == 0 {
		return 0, nil
	}
	tenant := tenancy.FromContext(ctx)
	deleted, err := s.store.Actions().DeleteByStatusAndModifiedBefore(ctx, tenant, statuses, before, s.batchSize)
	if err != nil {
		return 0, err
	}
	metrics.ActionsCleaned.Add(float64(deleted))
	return int(deleted), nil
}

// RunOnce drains all expired terminated actions of the tenant using the
// configured retention window.
func (s *CleanupService) RunOnce(ctx context.Context) (int, error) {
	statuses := []domain.ActionState{
		domain.ActionStateFinished,
		domain.ActionStateError,
		domain.ActionStateCanceled,
	}
	before := time.Now().Add(-s.retention)

	total := 0
	for {
		deleted, err := s.DeleteActionsByStatusAndLastModifiedBefore(ctx, statuses, before)
		if err != nil {
			return total, err
		}
		if deleted == 0 {
			return total, nil
		}
		total += deleted
	}
}

// StartScheduler runs cleanup on the given interval until ctx is canceled.
func (s *CleanupService) StartScheduler(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := s.RunOnce(ctx)
			if err != nil {
				s.log.Error("action cleanup failed", "error", err)
				continue
			}
			if deleted > 0 {
				s.log.Info("action cleanup completed", "deleted", deleted)
			}
		}
	}
}
