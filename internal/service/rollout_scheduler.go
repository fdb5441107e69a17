package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tidegate/armada/internal/domain"
	"github.com/tidegate/armada/internal/event"
	"github.com/tidegate/armada/internal/metrics"
	"github.com/tidegate/armada/internal/tenancy"
)

// RolloutScheduler promotes scheduled rollout actions to running in bounded
// transactional pages.
type RolloutScheduler struct {
	store     domain.Store
	tenantCfg domain.TenantConfigProvider
	nodeID    string
	pageLimit int
	log       *slog.Logger
}

func NewRolloutScheduler(store domain.Store, tenantCfg domain.TenantConfigProvider, nodeID string, pageLimit int, log *slog.Logger) *RolloutScheduler {
	if pageLimit <= 0 {
		pageLimit = 1000
	}
	return &RolloutScheduler{
		store:     store,
		tenantCfg: tenantCfg,
		nodeID:    nodeID,
		pageLimit: pageLimit,
		log:       log,
	}
}

// StartScheduledActionsByRolloutGroupParent starts every scheduled action of
// the given rollout group (nil parent addresses the root group) and returns
// how many actions were started. Each page runs in its own transaction and
// emits at most one aggregated assignment event, so a large group never
// produces an unbounded notification burst. The loop terminates because
// every page takes its actions out of scheduled state.
func (s *RolloutScheduler) StartScheduledActionsByRolloutGroupParent(ctx context.Context, rolloutID, dsID uuid.UUID, groupParentID *uuid.UUID) (int, error) {
	tenant := tenancy.FromContext(ctx)
	autoclose, err := s.tenantCfg.ActionsAutocloseEnabled(tenancy.AsSystem(ctx), tenant)
	if err != nil {
		return 0, fmt.Errorf("resolve auto-close setting: %w", err)
	}

	total := 0
	for {
		consumed, started, err := s.startOnePage(ctx, tenant, rolloutID, dsID, groupParentID, autoclose)
		if err != nil {
			return total, err
		}
		total += started
		if consumed == 0 {
			break
		}
	}

	s.log.Info("scheduled actions started",
		"rollout", rolloutID, "distribution_set", dsID, "started", total)
	return total, nil
}

func (s *RolloutScheduler) startOnePage(ctx context.Context, tenant string, rolloutID, dsID uuid.UUID, groupParentID *uuid.UUID, autoclose bool) (consumed, started int, err error) {
	err = s.store.InTx(ctx, func(ctx context.Context, tx domain.RepoSet, events *event.Buffer) error {
		consumed, started = 0, 0

		page, err := tx.Actions().FindScheduledByRollout(ctx, rolloutID, groupParentID, s.pageLimit)
		if err != nil {
			return err
		}
		consumed = len(page)
		if consumed == 0 {
			return nil
		}

		promoted := make([]*domain.Action, 0, len(page))
		overridden := make(map[uuid.UUID]bool)
		for _, action := range page {
			target, err := tx.Targets().GetByID(ctx, action.TargetID)
			if err != nil {
				return err
			}

			// A manual assignment of the same set may have raced ahead of the
			// rollout. Nothing is left to do for the device then.
			if target.AssignedDistributionSetID != nil && *target.AssignedDistributionSetID == action.DistributionSetID {
				action.Status = domain.ActionStateFinished
				action.Active = false
				if err := tx.Actions().Update(ctx, action); err != nil {
					return err
				}
				status := newActionStatus(action, domain.ActionStateFinished, time.Now(),
					serverMessagePrefix+"distribution set is already assigned, skipping this action")
				if err := tx.ActionStatuses().Append(ctx, status); err != nil {
					return err
				}
				continue
			}

			if autoclose {
				if err := closeObsoleteActions(ctx, tx, []uuid.UUID{action.TargetID}); err != nil {
					return err
				}
			} else {
				over, err := cancelObsoleteActions(ctx, tx, events, []uuid.UUID{action.TargetID}, true, s.nodeID)
				if err != nil {
					return err
				}
				if over[action.TargetID] {
					overridden[action.TargetID] = true
				}
			}

			action.Status = domain.ActionStateRunning
			action.Active = true
			if err := tx.Actions().Update(ctx, action); err != nil {
				return err
			}
			status := newActionStatus(action, domain.ActionStateRunning, time.Now())
			if err := tx.ActionStatuses().Append(ctx, status); err != nil {
				return err
			}

			if err := tx.Targets().UpdateAssignment(ctx, []uuid.UUID{target.ID}, action.DistributionSetID,
				domain.TargetUpdateStatusPending, false); err != nil {
				return err
			}
			events.Add(event.TargetUpdatedEvent{Tenant: tenant, ControllerID: target.ControllerID, NodeID: s.nodeID})

			promoted = append(promoted, action)
			started++
		}

		// One assignment event for the whole page. Targets whose prior action
		// was switched to canceling already got a cancel event above and are
		// not notified twice.
		refs := make([]event.ActionRef, 0, len(promoted))
		available := true
		for _, a := range promoted {
			if overridden[a.TargetID] {
				continue
			}
			if len(refs) == 0 {
				available = a.MaintenanceWindowAvailable()
			}
			refs = append(refs, event.ActionRef{ActionID: a.ID, ControllerID: a.ControllerID})
		}
		if len(refs) > 0 {
			events.Add(event.TargetAssignedEvent{
				Tenant:                     tenant,
				DistributionSetID:          dsID,
				Actions:                    refs,
				NodeID:                     s.nodeID,
				MaintenanceWindowAvailable: available,
			})
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	metrics.ActionsStarted.Add(float64(started))
	return consumed, started, nil
}
