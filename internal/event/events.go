// Package event defines the outbound notification payloads of the assignment
// engine and the deferred-until-commit delivery buffer.
package event

import (
	"context"

	"github.com/google/uuid"
)

type Event interface {
	Kind() string
}

// Publisher hands committed events to the notification transport.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// ActionRef identifies one action within a batched assignment event.
type ActionRef struct {
	ActionID     uuid.UUID `json:"action_id"`
	ControllerID string    `json:"controller_id"`
}

// TargetAssignedEvent announces a batch of newly active actions for one
// distribution set. The rollout scheduler emits one such event per page.
type TargetAssignedEvent struct {
	Tenant                     string      `json:"tenant"`
	DistributionSetID          uuid.UUID   `json:"distribution_set_id"`
	Actions                    []ActionRef `json:"actions"`
	NodeID                     string      `json:"node_id"`
	MaintenanceWindowAvailable bool        `json:"maintenance_window_available"`
}

func (TargetAssignedEvent) Kind() string { return "target.assigned" }

// CancelTargetAssignmentEvent tells a device to stop working on an action.
type CancelTargetAssignmentEvent struct {
	Tenant       string    `json:"tenant"`
	ControllerID string    `json:"controller_id"`
	ActionID     uuid.UUID `json:"action_id"`
	NodeID       string    `json:"node_id"`
}

func (CancelTargetAssignmentEvent) Kind() string { return "target.cancel" }

type TargetUpdatedEvent struct {
	Tenant       string `json:"tenant"`
	ControllerID string `json:"controller_id"`
	NodeID       string `json:"node_id"`
}

func (TargetUpdatedEvent) Kind() string { return "target.updated" }
