package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/tidegate/armada/internal/domain"
)

// AssignmentMode selects how an assignment behaves: Online drives a live,
// poll-based rollout; Offline records an update that already happened outside
// of the server.
type AssignmentMode string

const (
	Online  AssignmentMode = "online"
	Offline AssignmentMode = "offline"
)

// assignmentStrategy captures the behavioral differences between the two
// modes. Everything else (closing superseded actions, quota enforcement,
// status bookkeeping) is shared coordinator code.
type assignmentStrategy interface {
	// findTargets resolves the targets eligible for assignment. Targets that
	// already have the set assigned are silently excluded.
	findTargets(ctx context.Context, repos domain.RepoSet, tenant string, controllerIDs []string, dsID uuid.UUID, chunkSize int) ([]*domain.Target, error)

	// initialActionState is the state a new action starts in.
	initialActionState() domain.ActionState

	// targetUpdateStatus is the target status after assignment.
	targetUpdateStatus() domain.TargetUpdateStatus

	// setInstalled reports whether the installed set is updated alongside the
	// assigned set.
	setInstalled() bool

	// notifiesDevices reports whether device-facing events (assignment and
	// cancel) are emitted.
	notifiesDevices() bool
}

// onlineStrategy drives a regular rollout: actions start scheduled, targets
// go pending and devices get notified.
type onlineStrategy struct{}

func (onlineStrategy) findTargets(ctx context.Context, repos domain.RepoSet, tenant string, controllerIDs []string, dsID uuid.UUID, chunkSize int) ([]*domain.Target, error) {
	return findTargetsChunked(ctx, repos, tenant, controllerIDs, dsID, chunkSize, false)
}

func (onlineStrategy) initialActionState() domain.ActionState       { return domain.ActionStateScheduled }
func (onlineStrategy) targetUpdateStatus() domain.TargetUpdateStatus { return domain.TargetUpdateStatusPending }
func (onlineStrategy) setInstalled() bool                            { return false }
func (onlineStrategy) notifiesDevices() bool                         { return true }

// offlineStrategy records updates that were applied outside of the server:
// actions are created pre-completed as running, targets go in-sync with both
// set references updated, and no device is notified. Targets mid-update
// (pending) are skipped, never overridden.
type offlineStrategy struct{}

func (offlineStrategy) findTargets(ctx context.Context, repos domain.RepoSet, tenant string, controllerIDs []string, dsID uuid.UUID, chunkSize int) ([]*domain.Target, error) {
	return findTargetsChunked(ctx, repos, tenant, controllerIDs, dsID, chunkSize, true)
}

func (offlineStrategy) initialActionState() domain.ActionState       { return domain.ActionStateRunning }
func (offlineStrategy) targetUpdateStatus() domain.TargetUpdateStatus { return domain.TargetUpdateStatusInSync }
func (offlineStrategy) setInstalled() bool                            { return true }
func (offlineStrategy) notifiesDevices() bool                         { return false }

func findTargetsChunked(ctx context.Context, repos domain.RepoSet, tenant string, controllerIDs []string, dsID uuid.UUID, chunkSize int, skipPending bool) ([]*domain.Target, error) {
	var targets []*domain.Target
	for _, chunk := range domain.Chunk(controllerIDs, chunkSize) {
		found, err := repos.Targets().FindForAssignment(ctx, tenant, chunk, dsID, skipPending)
		if err != nil {
			return nil, err
		}
		targets = append(targets, found...)
	}
	return targets, nil
}

func strategyFor(mode AssignmentMode) assignmentStrategy {
	if mode == Offline {
		return offlineStrategy{}
	}
	return onlineStrategy{}
}
