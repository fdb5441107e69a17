package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tidegate/armada/internal/domain"
	"github.com/tidegate/armada/internal/event"
	"github.com/tidegate/armada/internal/metrics"
	"github.com/tidegate/armada/internal/tenancy"
)

// serverMessagePrefix marks action status messages written by the server
// itself, as opposed to messages reported by devices.
const serverMessagePrefix = "Update server: "

// DeploymentService orchestrates distribution set assignments and the action
// lifecycle. All multi-row mutations run in per-chunk transactions through
// the store, which retries concurrency conflicts and defers event delivery
// until commit.
type DeploymentService struct {
	store     domain.Store
	quotas    domain.QuotaProvider
	tenantCfg domain.TenantConfigProvider
	nodeID    string
	chunkSize int
	log       *slog.Logger
}

func NewDeploymentService(
	store domain.Store,
	quotas domain.QuotaProvider,
	tenantCfg domain.TenantConfigProvider,
	nodeID string,
	chunkSize int,
	log *slog.Logger,
) *DeploymentService {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	return &DeploymentService{
		store:     store,
		quotas:    quotas,
		tenantCfg: tenantCfg,
		nodeID:    nodeID,
		chunkSize: chunkSize,
		log:       log,
	}
}

// AssignDistributionSet assigns the distribution set to the requested
// targets. Targets that already have the set assigned are excluded without
// error and reported as already assigned. Prior active actions of the
// eligible targets are closed or canceled first, depending on the tenant's
// auto-close setting, so that a target never holds two active actions.
func (s *DeploymentService) AssignDistributionSet(ctx context.Context, dsID uuid.UUID, requests []domain.TargetWithActionType, message string, mode AssignmentMode) (*domain.AssignmentResult, error) {
	tenant := tenancy.FromContext(ctx)
	strategy := strategyFor(mode)

	ds, err := s.getAndValidateSet(ctx, dsID)
	if err != nil {
		return nil, err
	}

	controllerIDs := distinctControllerIDs(requests)
	if len(controllerIDs) > 0 {
		if err := assertQuota(ctx, dsID.String(), len(controllerIDs),
			s.quotas.MaxTargetsPerManualAssignment(), "target", "distribution set", nil); err != nil {
			return nil, err
		}
	}

	targets, err := strategy.findTargets(ctx, s.store, tenant, controllerIDs, dsID, s.chunkSize)
	if err != nil {
		return nil, fmt.Errorf("find targets for assignment: %w", err)
	}
	if len(targets) == 0 {
		// All requested targets had the set already assigned (or were
		// mid-update for offline reports).
		return &domain.AssignmentResult{
			AssignedControllerIDs: []string{},
			AlreadyAssigned:       len(requests),
			Actions:               []*domain.Action{},
		}, nil
	}

	autoclose, err := s.actionsAutocloseEnabled(ctx, tenant)
	if err != nil {
		return nil, fmt.Errorf("resolve auto-close setting: %w", err)
	}

	requestByController := indexRequests(requests)

	var created []*domain.Action
	for _, chunk := range domain.Chunk(targets, s.chunkSize) {
		var chunkActions []*domain.Action
		chunk := chunk
		err := s.store.InTx(ctx, func(ctx context.Context, tx domain.RepoSet, events *event.Buffer) error {
			actions, err := s.assignChunk(ctx, tx, events, strategy, tenant, ds, chunk, requestByController, message, autoclose)
			if err != nil {
				return err
			}
			chunkActions = actions
			return nil
		})
		if err != nil {
			return nil, err
		}
		created = append(created, chunkActions...)
	}

	assignedIDs := make([]string, 0, len(targets))
	for _, t := range targets {
		assignedIDs = append(assignedIDs, t.ControllerID)
	}

	s.log.Info("distribution set assigned",
		"distribution_set", ds.ID, "mode", mode,
		"assigned", len(targets), "already_assigned", len(controllerIDs)-len(targets))

	return &domain.AssignmentResult{
		AssignedControllerIDs: assignedIDs,
		Assigned:              len(targets),
		AlreadyAssigned:       len(controllerIDs) - len(targets),
		Actions:               created,
	}, nil
}

// OfflineReportedUpdate records updates that were already applied to the
// given controllers outside of the server.
func (s *DeploymentService) OfflineReportedUpdate(ctx context.Context, dsID uuid.UUID, controllerIDs []string) (*domain.AssignmentResult, error) {
	requests := make([]domain.TargetWithActionType, 0, len(controllerIDs))
	for _, id := range controllerIDs {
		requests = append(requests, domain.TargetWithActionType{
			ControllerID: id,
			Type:         domain.ActionTypeForced,
			ForcedTime:   -1,
		})
	}
	return s.AssignDistributionSet(ctx, dsID, requests, "", Offline)
}

// assignChunk performs the mutation sequence for one chunk of eligible
// targets inside one transaction. The ordering matters: superseded actions
// are terminated before the new actions exist, and target rows are updated
// before events are buffered.
func (s *DeploymentService) assignChunk(
	ctx context.Context,
	tx domain.RepoSet,
	events *event.Buffer,
	strategy assignmentStrategy,
	tenant string,
	ds *domain.DistributionSet,
	targets []*domain.Target,
	requestByController map[string]domain.TargetWithActionType,
	message string,
	autoclose bool,
) ([]*domain.Action, error) {
	targetIDs := make([]uuid.UUID, 0, len(targets))
	for _, t := range targets {
		targetIDs = append(targetIDs, t.ID)
	}

	// Terminate currently active actions. When switched to canceling (not
	// auto-closed) the device receives a cancel event in this pass, so the
	// new action's assignment event is suppressed for those targets below.
	canceling := map[uuid.UUID]bool{}
	if autoclose {
		if err := closeObsoleteActions(ctx, tx, targetIDs); err != nil {
			return nil, err
		}
	} else {
		var err error
		canceling, err = cancelObsoleteActions(ctx, tx, events, targetIDs, strategy.notifiesDevices(), s.nodeID)
		if err != nil {
			return nil, err
		}
	}

	// A fresh manual assignment supersedes scheduled work that never became
	// active.
	if _, err := tx.Actions().SwitchStatus(ctx, domain.ActionStateScheduled, domain.ActionStateCanceled, targetIDs, false); err != nil {
		return nil, err
	}

	if err := tx.Targets().UpdateAssignment(ctx, targetIDs, ds.ID, strategy.targetUpdateStatus(), strategy.setInstalled()); err != nil {
		return nil, err
	}

	actions := make([]*domain.Action, 0, len(targets))
	for _, target := range targets {
		request, ok := requestFor(requestByController, target.ControllerID)
		if !ok {
			s.log.Warn("no assignment request for resolved target", "controller_id", target.ControllerID)
			continue
		}

		if err := s.assertActionsPerTargetQuota(ctx, tx, target); err != nil {
			return nil, err
		}

		action := &domain.Action{
			Tenant:                    target.Tenant,
			TargetID:                  target.ID,
			ControllerID:              target.ControllerID,
			DistributionSetID:         ds.ID,
			Type:                      request.Type,
			ForcedTime:                request.ForcedTime,
			Status:                    strategy.initialActionState(),
			Active:                    true,
			MaintenanceWindowSchedule: request.MaintenanceWindowSchedule,
			MaintenanceWindowDuration: request.MaintenanceWindowDuration,
			MaintenanceWindowTimeZone: request.MaintenanceWindowTimeZone,
		}
		if action.Type == "" {
			action.Type = domain.ActionTypeForced
		}
		if err := tx.Actions().Create(ctx, action); err != nil {
			return nil, err
		}

		// The initial status entry remembers the state the action started in,
		// so the history stays complete across later transitions.
		initial := newActionStatus(action, action.Status, action.CreatedAt)
		if message != "" {
			initial.Messages = []string{message}
		}
		if err := tx.ActionStatuses().Append(ctx, initial); err != nil {
			return nil, err
		}
		actions = append(actions, action)
	}
	metrics.ActionsCreated.Add(float64(len(actions)))

	for _, t := range targets {
		events.Add(event.TargetUpdatedEvent{Tenant: tenant, ControllerID: t.ControllerID, NodeID: s.nodeID})
	}

	if strategy.notifiesDevices() {
		refs := make([]event.ActionRef, 0, len(actions))
		available := true
		for _, a := range actions {
			if canceling[a.TargetID] {
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
				DistributionSetID:          ds.ID,
				Actions:                    refs,
				NodeID:                     s.nodeID,
				MaintenanceWindowAvailable: available,
			})
		}
	}

	return actions, nil
}

// closeObsoleteActions silently terminates the active actions of the given
// targets without notifying devices.
func closeObsoleteActions(ctx context.Context, tx domain.RepoSet, targetIDs []uuid.UUID) error {
	active, err := tx.Actions().FindActiveByTargets(ctx, targetIDs, false)
	if err != nil {
		return err
	}
	for _, action := range active {
		action.Status = domain.ActionStateCanceled
		action.Active = false
		if err := tx.Actions().Update(ctx, action); err != nil {
			return err
		}
		status := newActionStatus(action, domain.ActionStateCanceled, time.Now(),
			serverMessagePrefix+"closed obsolete action due to new update")
		if err := tx.ActionStatuses().Append(ctx, status); err != nil {
			return err
		}
	}
	return nil
}

// cancelObsoleteActions switches the active actions of the given targets to
// canceling and, for device-notifying strategies, buffers a cancel event per
// action. Returns the ids of targets that got an action switched.
func cancelObsoleteActions(ctx context.Context, tx domain.RepoSet, events *event.Buffer, targetIDs []uuid.UUID, notify bool, nodeID string) (map[uuid.UUID]bool, error) {
	active, err := tx.Actions().FindActiveByTargets(ctx, targetIDs, true)
	if err != nil {
		return nil, err
	}

	canceling := make(map[uuid.UUID]bool, len(active))
	for _, action := range active {
		action.Status = domain.ActionStateCanceling
		if err := tx.Actions().Update(ctx, action); err != nil {
			return nil, err
		}
		status := newActionStatus(action, domain.ActionStateCanceling, time.Now(),
			serverMessagePrefix+"canceled obsolete action due to new update")
		if err := tx.ActionStatuses().Append(ctx, status); err != nil {
			return nil, err
		}
		if notify {
			events.Add(event.CancelTargetAssignmentEvent{
				Tenant:       action.Tenant,
				ControllerID: action.ControllerID,
				ActionID:     action.ID,
				NodeID:       nodeID,
			})
		}
		canceling[action.TargetID] = true
	}
	return canceling, nil
}

// CancelAction requests cancelation of an active action. The action stays
// active in canceling state until the device confirms, or until a force
// quit.
func (s *DeploymentService) CancelAction(ctx context.Context, actionID uuid.UUID) (*domain.Action, error) {
	var out *domain.Action
	err := s.store.InTx(ctx, func(ctx context.Context, tx domain.RepoSet, events *event.Buffer) error {
		action, err := tx.Actions().GetByID(ctx, actionID)
		if err != nil {
			return fmt.Errorf("action %s: %w", actionID, err)
		}

		if action.IsCancelingOrCanceled() {
			return fmt.Errorf("%w: action %s is already canceling or canceled", domain.ErrCancelNotAllowed, actionID)
		}
		if !action.Active {
			return fmt.Errorf("%w: action %s is not active", domain.ErrCancelNotAllowed, actionID)
		}

		action.Status = domain.ActionStateCanceling
		if err := tx.Actions().Update(ctx, action); err != nil {
			return err
		}
		status := newActionStatus(action, domain.ActionStateCanceling, time.Now(),
			serverMessagePrefix+"manual cancelation requested")
		if err := tx.ActionStatuses().Append(ctx, status); err != nil {
			return err
		}

		events.Add(event.CancelTargetAssignmentEvent{
			Tenant:       action.Tenant,
			ControllerID: action.ControllerID,
			ActionID:     action.ID,
			NodeID:       s.nodeID,
		})
		out = action
		return nil
	})
	return out, err
}

// ForceQuitAction terminates a stuck cancelation locally, without waiting for
// device confirmation. Only actions that are still active in canceling state
// may be force quit.
func (s *DeploymentService) ForceQuitAction(ctx context.Context, actionID uuid.UUID) (*domain.Action, error) {
	var out *domain.Action
	err := s.store.InTx(ctx, func(ctx context.Context, tx domain.RepoSet, events *event.Buffer) error {
		action, err := tx.Actions().GetByID(ctx, actionID)
		if err != nil {
			return fmt.Errorf("action %s: %w", actionID, err)
		}

		if !action.IsCancelingOrCanceled() {
			return fmt.Errorf("%w: action %s is not being canceled", domain.ErrForceQuitNotAllowed, actionID)
		}
		if !action.Active {
			return fmt.Errorf("%w: action %s is not active", domain.ErrForceQuitNotAllowed, actionID)
		}

		s.log.Warn("force quitting active action", "action", actionID)

		status := newActionStatus(action, domain.ActionStateCanceled, time.Now(),
			serverMessagePrefix+"a force quit has been performed")
		if err := tx.ActionStatuses().Append(ctx, status); err != nil {
			return err
		}

		if err := s.finishCancellation(ctx, tx, events, action); err != nil {
			return err
		}
		out = action
		return nil
	})
	return out, err
}

// finishCancellation marks the action canceled and clears any pending state
// the action left on its target.
func (s *DeploymentService) finishCancellation(ctx context.Context, tx domain.RepoSet, events *event.Buffer, action *domain.Action) error {
	action.Status = domain.ActionStateCanceled
	action.Active = false
	if err := tx.Actions().Update(ctx, action); err != nil {
		return err
	}

	target, err := tx.Targets().GetByID(ctx, action.TargetID)
	if err != nil {
		return err
	}
	if target.AssignedDistributionSetID == nil || *target.AssignedDistributionSetID != action.DistributionSetID {
		return nil
	}

	// The canceled action was the one driving the target's pending state:
	// fall back to what is actually installed.
	target.AssignedDistributionSetID = target.InstalledDistributionSetID
	if target.InstalledDistributionSetID != nil {
		target.UpdateStatus = domain.TargetUpdateStatusInSync
	} else {
		target.UpdateStatus = domain.TargetUpdateStatusRegistered
	}
	if err := tx.Targets().Update(ctx, target); err != nil {
		return err
	}

	events.Add(event.TargetUpdatedEvent{Tenant: target.Tenant, ControllerID: target.ControllerID, NodeID: s.nodeID})
	return nil
}

// ForceTargetAction upgrades an action to forced. Already forced actions are
// left unchanged.
func (s *DeploymentService) ForceTargetAction(ctx context.Context, actionID uuid.UUID) (*domain.Action, error) {
	var out *domain.Action
	err := s.store.InTx(ctx, func(ctx context.Context, tx domain.RepoSet, _ *event.Buffer) error {
		action, err := tx.Actions().GetByID(ctx, actionID)
		if err != nil {
			return fmt.Errorf("action %s: %w", actionID, err)
		}
		if action.Type != domain.ActionTypeForced {
			action.Type = domain.ActionTypeForced
			if err := tx.Actions().Update(ctx, action); err != nil {
				return err
			}
		}
		out = action
		return nil
	})
	return out, err
}

func (s *DeploymentService) GetAction(ctx context.Context, actionID uuid.UUID) (*domain.Action, error) {
	return s.store.Actions().GetByID(ctx, actionID)
}

func (s *DeploymentService) FindActionsByTarget(ctx context.Context, controllerID string, f domain.ActionFilter) ([]*domain.Action, int, error) {
	tenant := tenancy.FromContext(ctx)
	exists, err := s.store.Targets().ExistsByControllerID(ctx, tenant, controllerID)
	if err != nil {
		return nil, 0, err
	}
	if !exists {
		return nil, 0, fmt.Errorf("target %s: %w", controllerID, domain.ErrNotFound)
	}
	return s.store.Actions().FindByTarget(ctx, tenant, controllerID, f)
}

func (s *DeploymentService) FindActionsByDistributionSet(ctx context.Context, dsID uuid.UUID, f domain.ActionFilter) ([]*domain.Action, int, error) {
	if _, err := s.store.DistributionSets().GetByID(ctx, dsID); err != nil {
		return nil, 0, fmt.Errorf("distribution set %s: %w", dsID, err)
	}
	return s.store.Actions().FindByDistributionSet(ctx, dsID, f)
}

func (s *DeploymentService) FindActionStatuses(ctx context.Context, actionID uuid.UUID, page, perPage int) ([]*domain.ActionStatus, int, error) {
	if _, err := s.store.Actions().GetByID(ctx, actionID); err != nil {
		return nil, 0, fmt.Errorf("action %s: %w", actionID, err)
	}
	return s.store.ActionStatuses().FindByAction(ctx, actionID, page, perPage)
}

func (s *DeploymentService) FindActionStatusMessages(ctx context.Context, statusID uuid.UUID, page, perPage int) ([]string, int, error) {
	return s.store.ActionStatuses().Messages(ctx, statusID, page, perPage)
}

func (s *DeploymentService) getAndValidateSet(ctx context.Context, dsID uuid.UUID) (*domain.DistributionSet, error) {
	ds, err := s.store.DistributionSets().GetByID(ctx, dsID)
	if err != nil {
		return nil, fmt.Errorf("distribution set %s: %w", dsID, err)
	}
	if !ds.IsComplete() {
		return nil, fmt.Errorf("%w: distribution set %s of type %s", domain.ErrIncompleteDistributionSet, ds.ID, ds.TypeKey)
	}
	return ds, nil
}

func (s *DeploymentService) actionsAutocloseEnabled(ctx context.Context, tenant string) (bool, error) {
	return s.tenantCfg.ActionsAutocloseEnabled(tenancy.AsSystem(ctx), tenant)
}

func (s *DeploymentService) assertActionsPerTargetQuota(ctx context.Context, tx domain.RepoSet, target *domain.Target) error {
	return assertQuota(ctx, target.ControllerID, 1, s.quotas.MaxActionsPerTarget(), "action", "target",
		func(ctx context.Context) (int, error) {
			return tx.Actions().CountByTarget(ctx, target.ID)
		})
}

func newActionStatus(action *domain.Action, state domain.ActionState, occurredAt time.Time, messages ...string) *domain.ActionStatus {
	return &domain.ActionStatus{
		ActionID:   action.ID,
		Status:     state,
		OccurredAt: occurredAt,
		Messages:   messages,
	}
}

func distinctControllerIDs(requests []domain.TargetWithActionType) []string {
	seen := make(map[string]bool, len(requests))
	ids := make([]string, 0, len(requests))
	for _, r := range requests {
		if !seen[r.ControllerID] {
			seen[r.ControllerID] = true
			ids = append(ids, r.ControllerID)
		}
	}
	return ids
}

func indexRequests(requests []domain.TargetWithActionType) map[string]domain.TargetWithActionType {
	m := make(map[string]domain.TargetWithActionType, len(requests))
	for _, r := range requests {
		m[r.ControllerID] = r
	}
	return m
}

func requestFor(m map[string]domain.TargetWithActionType, controllerID string) (domain.TargetWithActionType, bool) {
	if r, ok := m[controllerID]; ok {
		return r, true
	}
	// Controller ids are matched case-insensitively as a fallback.
	for id, r := range m {
		if strings.EqualFold(id, controllerID) {
			return r, true
		}
	}
	return domain.TargetWithActionType{}, false
}
