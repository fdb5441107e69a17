package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tidegate/armada/internal/domain"
	"github.com/tidegate/armada/internal/event"
)

// --- Mock Store ---

// mockStore is an in-memory domain.Store. InTx snapshots the state before
// running fn and restores it when fn fails, mimicking a rollback; buffered
// events are recorded in published only after a successful "commit".
type mockStore struct {
	mu       sync.RWMutex
	targets  map[uuid.UUID]*domain.Target
	sets     map[uuid.UUID]*domain.DistributionSet
	actions  map[uuid.UUID]*domain.Action
	order    []uuid.UUID
	statuses []*domain.ActionStatus

	published []event.Event
	txCount   int
}

func newMockStore() *mockStore {
	return &mockStore{
		targets: make(map[uuid.UUID]*domain.Target),
		sets:    make(map[uuid.UUID]*domain.DistributionSet),
		actions: make(map[uuid.UUID]*domain.Action),
	}
}

func (s *mockStore) Targets() domain.TargetRepository                  { return mockTargets{s} }
func (s *mockStore) DistributionSets() domain.DistributionSetRepository { return mockSets{s} }
func (s *mockStore) Actions() domain.ActionRepository                  { return mockActions{s} }
func (s *mockStore) ActionStatuses() domain.ActionStatusRepository     { return mockStatuses{s} }

func (s *mockStore) InTx(ctx context.Context, fn domain.TxFunc) error {
	s.mu.Lock()
	s.txCount++
	snap := s.snapshot()
	s.mu.Unlock()

	buf := &event.Buffer{}
	if err := fn(ctx, s, buf); err != nil {
		s.mu.Lock()
		s.restore(snap)
		s.mu.Unlock()
		return err
	}
	return buf.Flush(ctx, recordingPublisher{s})
}

type storeSnapshot struct {
	targets  map[uuid.UUID]*domain.Target
	sets     map[uuid.UUID]*domain.DistributionSet
	actions  map[uuid.UUID]*domain.Action
	order    []uuid.UUID
	statuses []*domain.ActionStatus
}

func (s *mockStore) snapshot() storeSnapshot {
	snap := storeSnapshot{
		targets:  make(map[uuid.UUID]*domain.Target, len(s.targets)),
		sets:     make(map[uuid.UUID]*domain.DistributionSet, len(s.sets)),
		actions:  make(map[uuid.UUID]*domain.Action, len(s.actions)),
		order:    append([]uuid.UUID(nil), s.order...),
		statuses: append([]*domain.ActionStatus(nil), s.statuses...),
	}
	for id, t := range s.targets {
		c := *t
		snap.targets[id] = &c
	}
	for id, ds := range s.sets {
		c := *ds
		snap.sets[id] = &c
	}
	for id, a := range s.actions {
		c := *a
		snap.actions[id] = &c
	}
	return snap
}

func (s *mockStore) restore(snap storeSnapshot) {
	s.targets = snap.targets
	s.sets = snap.sets
	s.actions = snap.actions
	s.order = snap.order
	s.statuses = snap.statuses
}

type recordingPublisher struct{ s *mockStore }

func (p recordingPublisher) Publish(_ context.Context, e event.Event) error {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	p.s.published = append(p.s.published, e)
	return nil
}

func (s *mockStore) eventsOfKind(kind string) []event.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []event.Event
	for _, e := range s.published {
		if e.Kind() == kind {
			out = append(out, e)
		}
	}
	return out
}

// actionsInOrder returns copies of all actions in creation order.
func (s *mockStore) actionsInOrder() []*domain.Action {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Action, 0, len(s.order))
	for _, id := range s.order {
		if a, ok := s.actions[id]; ok {
			c := *a
			out = append(out, &c)
		}
	}
	return out
}

func (s *mockStore) statusesForAction(actionID uuid.UUID) []*domain.ActionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.ActionStatus
	for _, st := range s.statuses {
		if st.ActionID == actionID {
			out = append(out, st)
		}
	}
	return out
}

// --- Mock Target Repository ---

type mockTargets struct{ s *mockStore }

func (m mockTargets) Create(_ context.Context, target *domain.Target) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, t := range m.s.targets {
		if t.Tenant == target.Tenant && t.ControllerID == target.ControllerID {
			return domain.ErrConflict
		}
	}
	target.ID = uuid.New()
	target.CreatedAt = time.Now()
	target.UpdatedAt = target.CreatedAt
	c := *target
	m.s.targets[target.ID] = &c
	return nil
}

func (m mockTargets) GetByID(_ context.Context, id uuid.UUID) (*domain.Target, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	if t, ok := m.s.targets[id]; ok {
		c := *t
		return &c, nil
	}
	return nil, domain.ErrNotFound
}

func (m mockTargets) GetByControllerID(_ context.Context, tenant, controllerID string) (*domain.Target, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	for _, t := range m.s.targets {
		if t.Tenant == tenant && t.ControllerID == controllerID {
			c := *t
			return &c, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m mockTargets) ExistsByControllerID(ctx context.Context, tenant, controllerID string) (bool, error) {
	_, err := m.GetByControllerID(ctx, tenant, controllerID)
	if err != nil {
		return false, nil
	}
	return true, nil
}

func (m mockTargets) FindForAssignment(_ context.Context, tenant string, controllerIDs []string, dsID uuid.UUID, skipPending bool) ([]*domain.Target, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	var out []*domain.Target
	for _, cid := range controllerIDs {
		for _, t := range m.s.targets {
			if t.Tenant != tenant || !strings.EqualFold(t.ControllerID, cid) {
				continue
			}
			if t.AssignedDistributionSetID != nil && *t.AssignedDistributionSetID == dsID {
				continue
			}
			if skipPending && t.UpdateStatus == domain.TargetUpdateStatusPending {
				continue
			}
			c := *t
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m mockTargets) UpdateAssignment(_ context.Context, targetIDs []uuid.UUID, dsID uuid.UUID, status domain.TargetUpdateStatus, setInstalled bool) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, id := range targetIDs {
		t, ok := m.s.targets[id]
		if !ok {
			return domain.ErrNotFound
		}
		ds := dsID
		t.AssignedDistributionSetID = &ds
		t.UpdateStatus = status
		if setInstalled {
			installed := dsID
			t.InstalledDistributionSetID = &installed
		}
		t.UpdatedAt = time.Now()
	}
	return nil
}

func (m mockTargets) Update(_ context.Context, target *domain.Target) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.targets[target.ID]; !ok {
		return domain.ErrNotFound
	}
	target.UpdatedAt = time.Now()
	c := *target
	m.s.targets[target.ID] = &c
	return nil
}

// --- Mock DistributionSet Repository ---

type mockSets struct{ s *mockStore }

func (m mockSets) Create(_ context.Context, ds *domain.DistributionSet) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	ds.ID = uuid.New()
	ds.CreatedAt = time.Now()
	c := *ds
	m.s.sets[ds.ID] = &c
	return nil
}

func (m mockSets) GetByID(_ context.Context, id uuid.UUID) (*domain.DistributionSet, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	if ds, ok := m.s.sets[id]; ok {
		c := *ds
		return &c, nil
	}
	return nil, domain.ErrNotFound
}

// --- Mock Action Repository ---

type mockActions struct{ s *mockStore }

func (m mockActions) Create(_ context.Context, action *domain.Action) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	action.ID = uuid.New()
	action.CreatedAt = time.Now()
	action.ModifiedAt = action.CreatedAt
	c := *action
	m.s.actions[action.ID] = &c
	m.s.order = append(m.s.order, action.ID)
	return nil
}

func (m mockActions) GetByID(_ context.Context, id uuid.UUID) (*domain.Action, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	if a, ok := m.s.actions[id]; ok {
		c := *a
		return &c, nil
	}
	return nil, domain.ErrNotFound
}

func (m mockActions) Update(_ context.Context, action *domain.Action) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.actions[action.ID]; !ok {
		return domain.ErrNotFound
	}
	action.ModifiedAt = time.Now()
	c := *action
	m.s.actions[action.ID] = &c
	return nil
}

func (m mockActions) FindActiveByTargets(_ context.Context, targetIDs []uuid.UUID, excludeCanceling bool) ([]*domain.Action, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	wanted := make(map[uuid.UUID]bool, len(targetIDs))
	for _, id := range targetIDs {
		wanted[id] = true
	}
	var out []*domain.Action
	for _, id := range m.s.order {
		a, ok := m.s.actions[id]
		if !ok || !a.Active || !wanted[a.TargetID] {
			continue
		}
		if excludeCanceling && a.Status == domain.ActionStateCanceling {
			continue
		}
		if ds, ok := m.s.sets[a.DistributionSetID]; ok && ds.RequiredMigrationStep {
			continue
		}
		c := *a
		out = append(out, &c)
	}
	return out, nil
}

func (m mockActions) SwitchStatus(_ context.Context, from, to domain.ActionState, targetIDs []uuid.UUID, currentActive bool) (int64, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	wanted := make(map[uuid.UUID]bool, len(targetIDs))
	for _, id := range targetIDs {
		wanted[id] = true
	}
	var n int64
	for _, a := range m.s.actions {
		if wanted[a.TargetID] && a.Status == from && a.Active == currentActive {
			a.Status = to
			a.Active = false
			a.ModifiedAt = time.Now()
			n++
		}
	}
	return n, nil
}

func (m mockActions) CountByTarget(_ context.Context, targetID uuid.UUID) (int, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	n := 0
	for _, a := range m.s.actions {
		if a.TargetID == targetID {
			n++
		}
	}
	return n, nil
}

func (m mockActions) FindScheduledByRollout(_ context.Context, rolloutID uuid.UUID, groupParentID *uuid.UUID, limit int) ([]*domain.Action, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	var out []*domain.Action
	for _, id := range m.s.order {
		a, ok := m.s.actions[id]
		if !ok || a.Status != domain.ActionStateScheduled {
			continue
		}
		if a.RolloutID == nil || *a.RolloutID != rolloutID {
			continue
		}
		if groupParentID == nil {
			if a.RolloutGroupParentID != nil {
				continue
			}
		} else if a.RolloutGroupParentID == nil || *a.RolloutGroupParentID != *groupParentID {
			continue
		}
		c := *a
		out = append(out, &c)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m mockActions) DeleteByStatusAndModifiedBefore(_ context.Context, tenant string, statuses []domain.ActionState, before time.Time, limit int) (int64, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	wanted := make(map[domain.ActionState]bool, len(statuses))
	for _, st := range statuses {
		wanted[st] = true
	}
	var n int64
	for _, id := range append([]uuid.UUID(nil), m.s.order...) {
		if n >= int64(limit) {
			break
		}
		a, ok := m.s.actions[id]
		if !ok || a.Tenant != tenant || !wanted[a.Status] || !a.ModifiedAt.Before(before) {
			continue
		}
		delete(m.s.actions, id)
		kept := m.s.statuses[:0]
		for _, st := range m.s.statuses {
			if st.ActionID != id {
				kept = append(kept, st)
			}
		}
		m.s.statuses = kept
		n++
	}
	return n, nil
}

func (m mockActions) FindByTarget(_ context.Context, tenant, controllerID string, f domain.ActionFilter) ([]*domain.Action, int, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	var out []*domain.Action
	for _, id := range m.s.order {
		a, ok := m.s.actions[id]
		if !ok || a.Tenant != tenant || a.ControllerID != controllerID {
			continue
		}
		if matchesFilter(a, f) {
			c := *a
			out = append(out, &c)
		}
	}
	return paginate(out, f.Page, f.PerPage), len(out), nil
}

func (m mockActions) FindByDistributionSet(_ context.Context, dsID uuid.UUID, f domain.ActionFilter) ([]*domain.Action, int, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	var out []*domain.Action
	for _, id := range m.s.order {
		a, ok := m.s.actions[id]
		if !ok || a.DistributionSetID != dsID {
			continue
		}
		if matchesFilter(a, f) {
			c := *a
			out = append(out, &c)
		}
	}
	return paginate(out, f.Page, f.PerPage), len(out), nil
}

func matchesFilter(a *domain.Action, f domain.ActionFilter) bool {
	if f.Active != nil && a.Active != *f.Active {
		return false
	}
	if f.Status != nil && a.Status != *f.Status {
		return false
	}
	return true
}

func paginate[T any](items []T, page, perPage int) []T {
	if perPage <= 0 {
		return items
	}
	if page < 1 {
		page = 1
	}
	start := (page - 1) * perPage
	if start >= len(items) {
		return nil
	}
	end := start + perPage
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

// --- Mock ActionStatus Repository ---

type mockStatuses struct{ s *mockStore }

func (m mockStatuses) Append(_ context.Context, status *domain.ActionStatus) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	status.ID = uuid.New()
	status.CreatedAt = time.Now()
	c := *status
	m.s.statuses = append(m.s.statuses, &c)
	return nil
}

func (m mockStatuses) FindByAction(_ context.Context, actionID uuid.UUID, page, perPage int) ([]*domain.ActionStatus, int, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	var out []*domain.ActionStatus
	for _, st := range m.s.statuses {
		if st.ActionID == actionID {
			c := *st
			out = append(out, &c)
		}
	}
	return paginate(out, page, perPage), len(out), nil
}

func (m mockStatuses) Messages(_ context.Context, statusID uuid.UUID, page, perPage int) ([]string, int, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	for _, st := range m.s.statuses {
		if st.ID == statusID {
			return paginate(st.Messages, page, perPage), len(st.Messages), nil
		}
	}
	return nil, 0, domain.ErrNotFound
}
