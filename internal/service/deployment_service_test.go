package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"

	"github.com/tidegate/armada/internal/domain"
	"github.com/tidegate/armada/internal/event"
	"github.com/tidegate/armada/internal/tenancy"
)

func newTestDeploymentService(store *mockStore, autoclose bool, chunkSize int) *DeploymentService {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	quotas := StaticQuotas{TargetsPerManualAssignment: 400, ActionsPerTarget: 600}
	return NewDeploymentService(store, quotas, StaticTenantConfig{Autoclose: autoclose}, "node-1", chunkSize, log)
}

func seedSet(t *testing.T, store *mockStore, complete bool) *domain.DistributionSet {
	t.Helper()
	ds := &domain.DistributionSet{
		Tenant:   tenancy.DefaultTenant,
		Name:     "os-bundle",
		Version:  "1.0.0",
		TypeKey:  "os",
		Complete: complete,
	}
	if err := store.DistributionSets().Create(context.Background(), ds); err != nil {
		t.Fatalf("seed distribution set: %v", err)
	}
	return ds
}

func seedTarget(t *testing.T, store *mockStore, controllerID string) *domain.Target {
	t.Helper()
	target := &domain.Target{
		Tenant:       tenancy.DefaultTenant,
		ControllerID: controllerID,
		UpdateStatus: domain.TargetUpdateStatusRegistered,
	}
	if err := store.Targets().Create(context.Background(), target); err != nil {
		t.Fatalf("seed target %s: %v", controllerID, err)
	}
	return target
}

func requestsFor(controllerIDs ...string) []domain.TargetWithActionType {
	reqs := make([]domain.TargetWithActionType, 0, len(controllerIDs))
	for _, id := range controllerIDs {
		reqs = append(reqs, domain.TargetWithActionType{ControllerID: id, Type: domain.ActionTypeForced})
	}
	return reqs
}

func TestAssign_Online_SchedulesActionAndMarksPending(t *testing.T) {
	store := newMockStore()
	svc := newTestDeploymentService(store, false, 1000)
	ctx := context.Background()
	ds := seedSet(t, store, true)
	target := seedTarget(t, store, "alpha")

	result, err := svc.AssignDistributionSet(ctx, ds.ID, requestsFor("alpha"), "initial rollout", Online)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Assigned != 1 || result.AlreadyAssigned != 0 {
		t.Fatalf("expected 1 assigned, got %+v", result)
	}
	if len(result.Actions) != 1 {
		t.Fatalf("expected 1 action, got %d", len(result.Actions))
	}

	action := result.Actions[0]
	if action.Status != domain.ActionStateScheduled || !action.Active {
		t.Fatalf("expected active scheduled action, got %s active=%v", action.Status, action.Active)
	}

	updated, err := store.Targets().GetByID(ctx, target.ID)
	if err != nil {
		t.Fatalf("get target: %v", err)
	}
	if updated.UpdateStatus != domain.TargetUpdateStatusPending {
		t.Fatalf("expected pending target, got %s", updated.UpdateStatus)
	}
	if updated.AssignedDistributionSetID == nil || *updated.AssignedDistributionSetID != ds.ID {
		t.Fatalf("expected assigned set %s, got %v", ds.ID, updated.AssignedDistributionSetID)
	}
	if updated.InstalledDistributionSetID != nil {
		t.Fatalf("online assignment must not touch installed set")
	}

	history := store.statusesForAction(action.ID)
	if len(history) != 1 || history[0].Status != domain.ActionStateScheduled {
		t.Fatalf("expected one scheduled status entry, got %+v", history)
	}
	if len(history[0].Messages) != 1 || history[0].Messages[0] != "initial rollout" {
		t.Fatalf("expected assignment message in initial status, got %v", history[0].Messages)
	}

	assigned := store.eventsOfKind("target.assigned")
	if len(assigned) != 1 {
		t.Fatalf("expected 1 assignment event, got %d", len(assigned))
	}
	ev := assigned[0].(event.TargetAssignedEvent)
	if len(ev.Actions) != 1 || ev.Actions[0].ControllerID != "alpha" {
		t.Fatalf("unexpected event payload: %+v", ev)
	}
	if len(store.eventsOfKind("target.updated")) != 1 {
		t.Fatalf("expected 1 target updated event")
	}
}

func TestAssign_Offline_CompletesImmediately(t *testing.T) {
	store := newMockStore()
	svc := newTestDeploymentService(store, false, 1000)
	ctx := context.Background()
	ds := seedSet(t, store, true)
	target := seedTarget(t, store, "alpha")

	result, err := svc.OfflineReportedUpdate(ctx, ds.ID, []string{"alpha"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Assigned != 1 {
		t.Fatalf("expected 1 assigned, got %+v", result)
	}

	action := result.Actions[0]
	if action.Status != domain.ActionStateRunning || !action.Active {
		t.Fatalf("expected active running action, got %s active=%v", action.Status, action.Active)
	}

	updated, _ := store.Targets().GetByID(ctx, target.ID)
	if updated.UpdateStatus != domain.TargetUpdateStatusInSync {
		t.Fatalf("expected in_sync target, got %s", updated.UpdateStatus)
	}
	if updated.InstalledDistributionSetID == nil || *updated.InstalledDistributionSetID != ds.ID {
		t.Fatalf("expected installed set %s, got %v", ds.ID, updated.InstalledDistributionSetID)
	}
	if updated.AssignedDistributionSetID == nil || *updated.AssignedDistributionSetID != ds.ID {
		t.Fatalf("expected assigned set %s, got %v", ds.ID, updated.AssignedDistributionSetID)
	}

	if len(store.eventsOfKind("target.assigned")) != 0 {
		t.Fatalf("offline report must not notify devices")
	}
}

func TestAssign_Offline_SkipsPendingTargets(t *testing.T) {
	store := newMockStore()
	svc := newTestDeploymentService(store, false, 1000)
	ctx := context.Background()
	ds1 := seedSet(t, store, true)
	ds2 := seedSet(t, store, true)
	seedTarget(t, store, "alpha")

	if _, err := svc.AssignDistributionSet(ctx, ds1.ID, requestsFor("alpha"), "", Online); err != nil {
		t.Fatalf("online assign: %v", err)
	}

	result, err := svc.OfflineReportedUpdate(ctx, ds2.ID, []string{"alpha"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Assigned != 0 || result.AlreadyAssigned != 1 {
		t.Fatalf("pending target must be skipped, got %+v", result)
	}
}

func TestAssign_IncompleteSet(t *testing.T) {
	store := newMockStore()
	svc := newTestDeploymentService(store, false, 1000)
	ds := seedSet(t, store, false)
	seedTarget(t, store, "alpha")

	_, err := svc.AssignDistributionSet(context.Background(), ds.ID, requestsFor("alpha"), "", Online)
	if !errors.Is(err, domain.ErrIncompleteDistributionSet) {
		t.Fatalf("expected ErrIncompleteDistributionSet, got %v", err)
	}
}

func TestAssign_UnknownSet(t *testing.T) {
	store := newMockStore()
	svc := newTestDeploymentService(store, false, 1000)

	_, err := svc.AssignDistributionSet(context.Background(), uuid.New(), requestsFor("alpha"), "", Online)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAssign_AlreadyAssignedIsNoop(t *testing.T) {
	store := newMockStore()
	svc := newTestDeploymentService(store, false, 1000)
	ctx := context.Background()
	ds := seedSet(t, store, true)
	seedTarget(t, store, "alpha")

	if _, err := svc.AssignDistributionSet(ctx, ds.ID, requestsFor("alpha"), "", Online); err != nil {
		t.Fatalf("first assign: %v", err)
	}

	result, err := svc.AssignDistributionSet(ctx, ds.ID, requestsFor("alpha"), "", Online)
	if err != nil {
		t.Fatalf("second assign: %v", err)
	}
	if result.Assigned != 0 || result.AlreadyAssigned != 1 {
		t.Fatalf("expected already assigned, got %+v", result)
	}
	if got := len(store.actionsInOrder()); got != 1 {
		t.Fatalf("expected no new action, got %d total", got)
	}
}

func TestAssign_TargetQuotaExceeded(t *testing.T) {
	store := newMockStore()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	quotas := StaticQuotas{TargetsPerManualAssignment: 2, ActionsPerTarget: 600}
	svc := NewDeploymentService(store, quotas, StaticTenantConfig{}, "node-1", 1000, log)
	ds := seedSet(t, store, true)
	for _, id := range []string{"a", "b", "c"} {
		seedTarget(t, store, id)
	}

	_, err := svc.AssignDistributionSet(context.Background(), ds.ID, requestsFor("a", "b", "c"), "", Online)
	if !errors.Is(err, domain.ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}

	var quotaErr *domain.QuotaError
	if !errors.As(err, &quotaErr) {
		t.Fatalf("expected QuotaError, got %T", err)
	}
	if quotaErr.Requested != 3 || quotaErr.Limit != 2 {
		t.Fatalf("unexpected quota error details: %+v", quotaErr)
	}
	if len(store.actionsInOrder()) != 0 {
		t.Fatalf("quota failure must not create actions")
	}
}

func TestAssign_ActionQuotaRollsBackChunk(t *testing.T) {
	store := newMockStore()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	quotas := StaticQuotas{TargetsPerManualAssignment: 400, ActionsPerTarget: 1}
	svc := NewDeploymentService(store, quotas, StaticTenantConfig{}, "node-1", 1000, log)
	ctx := context.Background()
	ds1 := seedSet(t, store, true)
	ds2 := seedSet(t, store, true)
	seedTarget(t, store, "alpha")
	beta := seedTarget(t, store, "beta")

	if _, err := svc.AssignDistributionSet(ctx, ds1.ID, requestsFor("alpha"), "", Online); err != nil {
		t.Fatalf("seed assignment: %v", err)
	}

	_, err := svc.AssignDistributionSet(ctx, ds2.ID, requestsFor("alpha", "beta"), "", Online)
	if !errors.Is(err, domain.ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}

	// The whole chunk rolls back: neither target keeps any trace of ds2.
	actions := store.actionsInOrder()
	if len(actions) != 1 {
		t.Fatalf("expected only the seed action to survive, got %d", len(actions))
	}
	if actions[0].DistributionSetID != ds1.ID || actions[0].Status != domain.ActionStateScheduled || !actions[0].Active {
		t.Fatalf("seed action must be restored untouched, got %+v", actions[0])
	}
	updatedBeta, _ := store.Targets().GetByID(ctx, beta.ID)
	if updatedBeta.AssignedDistributionSetID != nil {
		t.Fatalf("beta must not keep a partial assignment")
	}
}

func TestAssign_SupersedesActiveAction_CancelWithNotify(t *testing.T) {
	store := newMockStore()
	svc := newTestDeploymentService(store, false, 1000)
	ctx := context.Background()
	ds1 := seedSet(t, store, true)
	ds2 := seedSet(t, store, true)
	seedTarget(t, store, "alpha")

	first, err := svc.AssignDistributionSet(ctx, ds1.ID, requestsFor("alpha"), "", Online)
	if err != nil {
		t.Fatalf("first assign: %v", err)
	}
	oldID := first.Actions[0].ID
	store.actions[oldID].Status = domain.ActionStateRunning

	second, err := svc.AssignDistributionSet(ctx, ds2.ID, requestsFor("alpha"), "", Online)
	if err != nil {
		t.Fatalf("second assign: %v", err)
	}

	old, _ := store.Actions().GetByID(ctx, oldID)
	if old.Status != domain.ActionStateCanceling || !old.Active {
		t.Fatalf("superseded action must be canceling and active, got %s active=%v", old.Status, old.Active)
	}
	if old.TargetID != second.Actions[0].TargetID {
		t.Fatalf("superseded action must keep its target association")
	}

	cancels := store.eventsOfKind("target.cancel")
	if len(cancels) != 1 {
		t.Fatalf("expected 1 cancel event, got %d", len(cancels))
	}
	if cancels[0].(event.CancelTargetAssignmentEvent).ActionID != oldID {
		t.Fatalf("cancel event must reference the superseded action")
	}

	// The device already received the cancel event in this pass, so the new
	// assignment event is suppressed. Only the first assign notified.
	if got := len(store.eventsOfKind("target.assigned")); got != 1 {
		t.Fatalf("expected suppressed assignment event, got %d events", got)
	}

	// The new action is persisted regardless of suppression.
	if second.Actions[0].Status != domain.ActionStateScheduled || !second.Actions[0].Active {
		t.Fatalf("new action must be active scheduled, got %+v", second.Actions[0])
	}
}

func TestAssign_SupersedesActiveAction_Autoclose(t *testing.T) {
	store := newMockStore()
	svc := newTestDeploymentService(store, true, 1000)
	ctx := context.Background()
	ds1 := seedSet(t, store, true)
	ds2 := seedSet(t, store, true)
	seedTarget(t, store, "alpha")

	first, err := svc.AssignDistributionSet(ctx, ds1.ID, requestsFor("alpha"), "", Online)
	if err != nil {
		t.Fatalf("first assign: %v", err)
	}
	oldID := first.Actions[0].ID
	store.actions[oldID].Status = domain.ActionStateRunning

	if _, err := svc.AssignDistributionSet(ctx, ds2.ID, requestsFor("alpha"), "", Online); err != nil {
		t.Fatalf("second assign: %v", err)
	}

	old, _ := store.Actions().GetByID(ctx, oldID)
	if old.Status != domain.ActionStateCanceled || old.Active {
		t.Fatalf("auto-closed action must be canceled and inactive, got %s active=%v", old.Status, old.Active)
	}
	if len(store.eventsOfKind("target.cancel")) != 0 {
		t.Fatalf("auto-close must not notify devices")
	}
	// No suppression with auto-close: both assigns fire an assignment event.
	if got := len(store.eventsOfKind("target.assigned")); got != 2 {
		t.Fatalf("expected 2 assignment events, got %d", got)
	}
}

func TestAssign_CancelsInactiveScheduledActions(t *testing.T) {
	store := newMockStore()
	svc := newTestDeploymentService(store, false, 1000)
	ctx := context.Background()
	ds1 := seedSet(t, store, true)
	ds2 := seedSet(t, store, true)
	target := seedTarget(t, store, "alpha")

	rolloutID := uuid.New()
	scheduled := &domain.Action{
		Tenant:            tenancy.DefaultTenant,
		TargetID:          target.ID,
		ControllerID:      target.ControllerID,
		DistributionSetID: ds1.ID,
		Type:              domain.ActionTypeForced,
		Status:            domain.ActionStateScheduled,
		Active:            false,
		RolloutID:         &rolloutID,
	}
	if err := store.Actions().Create(ctx, scheduled); err != nil {
		t.Fatalf("seed scheduled action: %v", err)
	}

	if _, err := svc.AssignDistributionSet(ctx, ds2.ID, requestsFor("alpha"), "", Online); err != nil {
		t.Fatalf("assign: %v", err)
	}

	superseded, _ := store.Actions().GetByID(ctx, scheduled.ID)
	if superseded.Status != domain.ActionStateCanceled || superseded.Active {
		t.Fatalf("pending scheduled action must be canceled, got %s active=%v", superseded.Status, superseded.Active)
	}
}

func TestAssign_ChunksLargeFleets(t *testing.T) {
	store := newMockStore()
	svc := newTestDeploymentService(store, false, 10)
	ctx := context.Background()
	ds := seedSet(t, store, true)

	ids := make([]string, 0, 25)
	for i := 0; i < 25; i++ {
		id := fmt.Sprintf("device-%03d", i)
		seedTarget(t, store, id)
		ids = append(ids, id)
	}

	result, err := svc.AssignDistributionSet(ctx, ds.ID, requestsFor(ids...), "", Online)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if result.Assigned != 25 || len(result.Actions) != 25 {
		t.Fatalf("expected 25 assignments, got %+v", result)
	}
	if store.txCount != 3 {
		t.Fatalf("expected 3 chunk transactions for 25 targets at chunk size 10, got %d", store.txCount)
	}

	// One active action per target, no exceptions.
	perTarget := make(map[uuid.UUID]int)
	for _, a := range store.actionsInOrder() {
		if a.Active {
			perTarget[a.TargetID]++
		}
	}
	for id, n := range perTarget {
		if n != 1 {
			t.Fatalf("target %s holds %d active actions", id, n)
		}
	}
}

func TestCancelThenForceQuit(t *testing.T) {
	store := newMockStore()
	svc := newTestDeploymentService(store, false, 1000)
	ctx := context.Background()
	ds := seedSet(t, store, true)
	target := seedTarget(t, store, "alpha")

	result, err := svc.AssignDistributionSet(ctx, ds.ID, requestsFor("alpha"), "", Online)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	actionID := result.Actions[0].ID
	store.actions[actionID].Status = domain.ActionStateRunning

	canceled, err := svc.CancelAction(ctx, actionID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if canceled.Status != domain.ActionStateCanceling || !canceled.Active {
		t.Fatalf("expected active canceling action, got %s active=%v", canceled.Status, canceled.Active)
	}
	if len(store.eventsOfKind("target.cancel")) != 1 {
		t.Fatalf("cancel must notify the device")
	}

	if _, err := svc.CancelAction(ctx, actionID); !errors.Is(err, domain.ErrCancelNotAllowed) {
		t.Fatalf("double cancel must fail, got %v", err)
	}

	quit, err := svc.ForceQuitAction(ctx, actionID)
	if err != nil {
		t.Fatalf("force quit: %v", err)
	}
	if quit.Status != domain.ActionStateCanceled || quit.Active {
		t.Fatalf("expected inactive canceled action, got %s active=%v", quit.Status, quit.Active)
	}

	// The canceled action was driving the pending state; the target falls
	// back to registered with no assigned set.
	updated, _ := store.Targets().GetByID(ctx, target.ID)
	if updated.AssignedDistributionSetID != nil {
		t.Fatalf("stale assignment must be cleared")
	}
	if updated.UpdateStatus != domain.TargetUpdateStatusRegistered {
		t.Fatalf("expected registered target, got %s", updated.UpdateStatus)
	}
}

func TestForceQuit_RequiresCanceling(t *testing.T) {
	store := newMockStore()
	svc := newTestDeploymentService(store, false, 1000)
	ctx := context.Background()
	ds := seedSet(t, store, true)
	seedTarget(t, store, "alpha")

	result, err := svc.AssignDistributionSet(ctx, ds.ID, requestsFor("alpha"), "", Online)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	actionID := result.Actions[0].ID
	store.actions[actionID].Status = domain.ActionStateRunning

	if _, err := svc.ForceQuitAction(ctx, actionID); !errors.Is(err, domain.ErrForceQuitNotAllowed) {
		t.Fatalf("expected ErrForceQuitNotAllowed, got %v", err)
	}
	running, _ := store.Actions().GetByID(ctx, actionID)
	if running.Status != domain.ActionStateRunning || !running.Active {
		t.Fatalf("rejected force quit must leave the action unchanged")
	}
}

func TestForceQuit_KeepsInstalledSet(t *testing.T) {
	store := newMockStore()
	svc := newTestDeploymentService(store, false, 1000)
	ctx := context.Background()
	ds1 := seedSet(t, store, true)
	ds2 := seedSet(t, store, true)
	target := seedTarget(t, store, "alpha")

	if _, err := svc.OfflineReportedUpdate(ctx, ds1.ID, []string{"alpha"}); err != nil {
		t.Fatalf("offline seed: %v", err)
	}
	// Finish the offline action so the next assignment does not cancel it.
	for _, a := range store.actionsInOrder() {
		store.actions[a.ID].Status = domain.ActionStateFinished
		store.actions[a.ID].Active = false
	}

	result, err := svc.AssignDistributionSet(ctx, ds2.ID, requestsFor("alpha"), "", Online)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	actionID := result.Actions[0].ID
	if _, err := svc.CancelAction(ctx, actionID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := svc.ForceQuitAction(ctx, actionID); err != nil {
		t.Fatalf("force quit: %v", err)
	}

	updated, _ := store.Targets().GetByID(ctx, target.ID)
	if updated.AssignedDistributionSetID == nil || *updated.AssignedDistributionSetID != ds1.ID {
		t.Fatalf("assigned set must fall back to the installed set")
	}
	if updated.UpdateStatus != domain.TargetUpdateStatusInSync {
		t.Fatalf("expected in_sync target, got %s", updated.UpdateStatus)
	}
}

func TestForceTargetAction_Idempotent(t *testing.T) {
	store := newMockStore()
	svc := newTestDeploymentService(store, false, 1000)
	ctx := context.Background()
	ds := seedSet(t, store, true)
	seedTarget(t, store, "alpha")

	result, err := svc.AssignDistributionSet(ctx, ds.ID,
		[]domain.TargetWithActionType{{ControllerID: "alpha", Type: domain.ActionTypeSoft}}, "", Online)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	actionID := result.Actions[0].ID

	forced, err := svc.ForceTargetAction(ctx, actionID)
	if err != nil {
		t.Fatalf("force: %v", err)
	}
	if forced.Type != domain.ActionTypeForced {
		t.Fatalf("expected forced type, got %s", forced.Type)
	}

	again, err := svc.ForceTargetAction(ctx, actionID)
	if err != nil {
		t.Fatalf("second force: %v", err)
	}
	if again.Type != domain.ActionTypeForced {
		t.Fatalf("force must be idempotent")
	}
}

func TestCancel_UnknownAction(t *testing.T) {
	store := newMockStore()
	svc := newTestDeploymentService(store, false, 1000)

	if _, err := svc.CancelAction(context.Background(), uuid.New()); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
