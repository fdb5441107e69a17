package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type ActionState string

const (
	ActionStateScheduled ActionState = "scheduled"
	ActionStateRunning   ActionState = "running"
	ActionStateCanceling ActionState = "canceling"
	ActionStateCanceled  ActionState = "canceled"
	ActionStateFinished  ActionState = "finished"
	ActionStateError     ActionState = "error"
)

type ActionType string

const (
	ActionTypeSoft         ActionType = "soft"
	ActionTypeForced       ActionType = "forced"
	ActionTypeTimeForced   ActionType = "timeforced"
	ActionTypeDownloadOnly ActionType = "download_only"
)

// Action is one deployment attempt of one DistributionSet on one Target.
// At most one Action per Target is active at any instant; superseded actions
// are closed or canceled before a new one becomes active.
type Action struct {
	ID                uuid.UUID  `json:"id"`
	Tenant            string     `json:"tenant"`
	TargetID          uuid.UUID  `json:"target_id"`
	ControllerID      string     `json:"controller_id"`
	DistributionSetID uuid.UUID  `json:"distribution_set_id"`
	Type              ActionType `json:"type"`
	// ForcedTime is the unix milli timestamp after which a timeforced action
	// behaves as forced. Zero or negative means not set.
	ForcedTime int64       `json:"forced_time,omitempty"`
	Status     ActionState `json:"status"`
	Active     bool        `json:"active"`

	MaintenanceWindowSchedule string `json:"maintenance_window_schedule,omitempty"`
	MaintenanceWindowDuration string `json:"maintenance_window_duration,omitempty"`
	MaintenanceWindowTimeZone string `json:"maintenance_window_timezone,omitempty"`

	RolloutID            *uuid.UUID `json:"rollout_id,omitempty"`
	RolloutGroupID       *uuid.UUID `json:"rollout_group_id,omitempty"`
	RolloutGroupParentID *uuid.UUID `json:"rollout_group_parent_id,omitempty"`

	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`
}

func (a *Action) IsCancelingOrCanceled() bool {
	return a.Status == ActionStateCanceling || a.Status == ActionStateCanceled
}

func (a *Action) IsForced(now time.Time) bool {
	switch a.Type {
	case ActionTypeForced:
		return true
	case ActionTypeTimeForced:
		return a.ForcedTime > 0 && a.ForcedTime <= now.UnixMilli()
	default:
		return false
	}
}

// MaintenanceWindowAvailable reports whether the action may proceed with
// respect to its maintenance window. Actions without a window are always
// available; window evaluation against the schedule is performed by the
// device-facing layer, so server-side an existing schedule counts as pending.
func (a *Action) MaintenanceWindowAvailable() bool {
	return a.MaintenanceWindowSchedule == ""
}

// ActionStatus is an append-only audit entry recording one status transition
// of an Action. Entries are never mutated.
type ActionStatus struct {
	ID         uuid.UUID   `json:"id"`
	ActionID   uuid.UUID   `json:"action_id"`
	Status     ActionState `json:"status"`
	OccurredAt time.Time   `json:"occurred_at"`
	Messages   []string    `json:"messages"`
	CreatedAt  time.Time   `json:"created_at"`
}

type ActionFilter struct {
	Active  *bool
	Status  *ActionState
	Page    int
	PerPage int
}

type ActionRepository interface {
	Create(ctx context.Context, action *Action) error
	GetByID(ctx context.Context, id uuid.UUID) (*Action, error)
	Update(ctx context.Context, action *Action) error

	// FindActiveByTargets returns the active actions of the given targets
	// whose distribution set is not a required migration step. With
	// excludeCanceling, actions already in canceling state are skipped.
	FindActiveByTargets(ctx context.Context, targetIDs []uuid.UUID, excludeCanceling bool) ([]*Action, error)

	// SwitchStatus bulk-updates all actions of the given targets that are in
	// status from with the given active flag to status to, deactivating them.
	SwitchStatus(ctx context.Context, from, to ActionState, targetIDs []uuid.UUID, currentActive bool) (int64, error)

	CountByTarget(ctx context.Context, targetID uuid.UUID) (int, error)

	// FindScheduledByRollout pages scheduled actions of a rollout filtered by
	// group parent; a nil groupParentID selects the root group.
	FindScheduledByRollout(ctx context.Context, rolloutID uuid.UUID, groupParentID *uuid.UUID, limit int) ([]*Action, error)

	// DeleteByStatusAndModifiedBefore deletes up to limit tenant-scoped
	// actions whose status is in statuses and whose last modification is
	// strictly before the threshold. Returns the number of rows deleted.
	DeleteByStatusAndModifiedBefore(ctx context.Context, tenant string, statuses []ActionState, before time.Time, limit int) (int64, error)

	FindByTarget(ctx context.Context, tenant, controllerID string, f ActionFilter) ([]*Action, int, error)
	FindByDistributionSet(ctx context.Context, dsID uuid.UUID, f ActionFilter) ([]*Action, int, error)
}

type ActionStatusRepository interface {
	Append(ctx context.Context, status *ActionStatus) error
	FindByAction(ctx context.Context, actionID uuid.UUID, page, perPage int) ([]*ActionStatus, int, error)
	Messages(ctx context.Context, statusID uuid.UUID, page, perPage int) ([]string, int, error)
}
