package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nubegest/approvals/model"
)

// MemoryStore is an in-memory Store for testing. Transactions stage their
// writes and apply them on success, so a failing callback leaves the store
// untouched. A single mutex serializes transactions, mirroring the row-level
// locking of the PostgreSQL store.
type MemoryStore struct {
	cfgMu       sync.RWMutex
	definitions map[int64]model.WorkflowDefinition
	steps       map[int64]model.WorkflowStep

	txMu      sync.Mutex
	instances map[string]model.WorkflowInstance
	history   map[string][]model.HistoryEntry
	orders    map[string]MemOrder
}

// MemOrder is the in-memory stand-in for a purchase order row.
type MemOrder struct {
	OrgID      string
	State      string
	ApprovedAt *time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		definitions: make(map[int64]model.WorkflowDefinition),
		steps:       make(map[int64]model.WorkflowStep),
		instances:   make(map[string]model.WorkflowInstance),
		history:     make(map[string][]model.HistoryEntry),
		orders:      make(map[string]MemOrder),
	}
}

// AddDefinition seeds a workflow definition.
func (s *MemoryStore) AddDefinition(def model.WorkflowDefinition) {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	s.definitions[def.ID] = def
}

// AddStep seeds a workflow step.
func (s *MemoryStore) AddStep(step model.WorkflowStep) {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	s.steps[step.ID] = step
}

// PutOrder seeds a purchase order row.
func (s *MemoryStore) PutOrder(orderID string, order MemOrder) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.orders[orderID] = order
}

// Order returns a seeded purchase order. For assertions in tests.
func (s *MemoryStore) Order(orderID string) (MemOrder, bool) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	o, ok := s.orders[orderID]
	return o, ok
}

// GetDefinition retrieves a definition by id, scoped to an organization.
func (s *MemoryStore) GetDefinition(_ context.Context, orgID string, workflowID int64) (model.WorkflowDefinition, error) {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()

	def, ok := s.definitions[workflowID]
	if !ok || def.OrgID != orgID {
		return model.WorkflowDefinition{}, model.NewNotFoundError(
			fmt.Sprintf("workflow definition %d not found", workflowID),
		)
	}
	return def, nil
}

// ListActiveDefinitions returns active definitions for (org, entity type),
// ordered by ascending id.
func (s *MemoryStore) ListActiveDefinitions(_ context.Context, orgID, entityType string) ([]model.WorkflowDefinition, error) {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()

	var result []model.WorkflowDefinition
	for _, def := range s.definitions {
		if def.OrgID != orgID || def.EntityType != entityType || !def.Active {
			continue
		}
		result = append(result, def)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// GetStep retrieves a step by id.
func (s *MemoryStore) GetStep(_ context.Context, stepID int64) (model.WorkflowStep, error) {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()

	step, ok := s.steps[stepID]
	if !ok {
		return model.WorkflowStep{}, model.NewNotFoundError(
			fmt.Sprintf("workflow step %d not found", stepID),
		)
	}
	return step, nil
}

// GetInitialStep retrieves the inicio step of a workflow definition.
func (s *MemoryStore) GetInitialStep(_ context.Context, workflowID int64) (model.WorkflowStep, error) {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()

	var candidates []model.WorkflowStep
	for _, step := range s.steps {
		if step.WorkflowID == workflowID && step.Tipo == model.StepInicio {
			candidates = append(candidates, step)
		}
	}
	if len(candidates) == 0 {
		return model.WorkflowStep{}, model.NewNotFoundError(
			fmt.Sprintf("workflow %d has no inicio step", workflowID),
		)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })
	return candidates[0], nil
}

// GetInstance retrieves an instance by id, scoped to an organization.
func (s *MemoryStore) GetInstance(_ context.Context, orgID, instanceID string) (model.WorkflowInstance, error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return s.getInstanceLocked(orgID, instanceID)
}

func (s *MemoryStore) getInstanceLocked(orgID, instanceID string) (model.WorkflowInstance, error) {
	inst, ok := s.instances[instanceID]
	if !ok || inst.OrgID != orgID {
		return model.WorkflowInstance{}, model.NewNotFoundError(
			fmt.Sprintf("workflow instance %q not found", instanceID),
		)
	}
	return inst, nil
}

// History returns the audit trail of an instance, oldest first.
func (s *MemoryStore) History(_ context.Context, orgID, instanceID string) ([]model.HistoryEntry, error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if _, err := s.getInstanceLocked(orgID, instanceID); err != nil {
		return nil, err
	}

	entries := s.history[instanceID]
	result := make([]model.HistoryEntry, len(entries))
	copy(result, entries)
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// FindOverdue returns en_progreso instances past their deadline.
func (s *MemoryStore) FindOverdue(_ context.Context, cutoff time.Time) ([]model.WorkflowInstance, error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	var result []model.WorkflowInstance
	for _, inst := range s.instances {
		if inst.Estado != model.EstadoEnProgreso || !inst.Deadline.Before(cutoff) {
			continue
		}
		result = append(result, inst)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Deadline.Before(result[j].Deadline) })
	return result, nil
}

// InTx runs fn against a staged transaction. Writes become visible only when
// fn returns nil. The transaction mutex is held for the duration of fn.
func (s *MemoryStore) InTx(ctx context.Context, orgID string, fn func(ctx context.Context, tx Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	tx := &memTx{
		store:     s,
		orgID:     orgID,
		instances: make(map[string]model.WorkflowInstance),
		orders:    make(map[string]MemOrder),
	}

	if err := fn(ctx, tx); err != nil {
		return err
	}

	// Commit staged writes.
	for id, inst := range tx.instances {
		s.instances[id] = inst
	}
	for _, entry := range tx.history {
		s.history[entry.InstanceID] = append(s.history[entry.InstanceID], entry)
	}
	for id, order := range tx.orders {
		s.orders[id] = order
	}
	return nil
}

// memTx stages writes until the enclosing InTx commits.
type memTx struct {
	store     *MemoryStore
	orgID     string
	instances map[string]model.WorkflowInstance
	history   []model.HistoryEntry
	orders    map[string]MemOrder
}

// CreateInstance stages a new instance.
func (t *memTx) CreateInstance(_ context.Context, inst model.WorkflowInstance) error {
	if _, ok := t.store.instances[inst.ID]; ok {
		return model.NewStateConflictError(
			fmt.Sprintf("workflow instance %q already exists", inst.ID),
		)
	}
	if _, ok := t.instances[inst.ID]; ok {
		return model.NewStateConflictError(
			fmt.Sprintf("workflow instance %q already exists", inst.ID),
		)
	}
	t.instances[inst.ID] = inst
	return nil
}

// GetInstanceForUpdate reads an instance, preferring staged writes. The
// transaction mutex already serializes concurrent transactions.
func (t *memTx) GetInstanceForUpdate(_ context.Context, orgID, instanceID string) (model.WorkflowInstance, error) {
	if inst, ok := t.instances[instanceID]; ok {
		if inst.OrgID != orgID {
			return model.WorkflowInstance{}, model.NewNotFoundError(
				fmt.Sprintf("workflow instance %q not found", instanceID),
			)
		}
		return inst, nil
	}
	return t.store.getInstanceLocked(orgID, instanceID)
}

// UpdateInstance stages an update with an optimistic version check.
func (t *memTx) UpdateInstance(_ context.Context, inst model.WorkflowInstance) error {
	existing, ok := t.instances[inst.ID]
	if !ok {
		existing, ok = t.store.instances[inst.ID]
	}
	if !ok {
		return model.NewNotFoundError(
			fmt.Sprintf("workflow instance %q not found", inst.ID),
		)
	}
	if existing.Version != inst.Version {
		return model.NewStateConflictError(
			fmt.Sprintf("workflow instance %q version conflict (expected %d)", inst.ID, inst.Version),
		)
	}
	inst.Version++
	inst.UpdatedAt = time.Now().UTC()
	t.instances[inst.ID] = inst
	return nil
}

// AppendHistory stages an audit entry.
func (t *memTx) AppendHistory(_ context.Context, entry model.HistoryEntry) error {
	t.history = append(t.history, entry)
	return nil
}

// SetOrderState implements OrderTx against the in-memory order table.
func (t *memTx) SetOrderState(_ context.Context, orgID, orderID, state string, approvedAt time.Time) error {
	order, err := t.getOrder(orgID, orderID)
	if err != nil {
		return err
	}
	order.State = state
	order.ApprovedAt = &approvedAt
	t.orders[orderID] = order
	return nil
}

// ResetOrderToDraft implements OrderTx against the in-memory order table.
func (t *memTx) ResetOrderToDraft(_ context.Context, orgID, orderID, draftState string) error {
	order, err := t.getOrder(orgID, orderID)
	if err != nil {
		return err
	}
	order.State = draftState
	order.ApprovedAt = nil
	t.orders[orderID] = order
	return nil
}

func (t *memTx) getOrder(orgID, orderID string) (MemOrder, error) {
	order, ok := t.orders[orderID]
	if !ok {
		order, ok = t.store.orders[orderID]
	}
	if !ok || order.OrgID != orgID {
		return MemOrder{}, model.NewNotFoundError(
			fmt.Sprintf("purchase order %q not found", orderID),
		)
	}
	return order, nil
}
