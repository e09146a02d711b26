package roster

import (
	"context"
	"sync"

	"github.com/nubegest/approvals/model"
)

// MemoryRoster is an in-memory roster for tests and local development.
type MemoryRoster struct {
	mu          sync.RWMutex
	byRole      map[string][]model.Approver        // orgID/roleCode
	supervisors map[string]*model.Approver         // orgID/userID
	assignments map[string][]model.BranchAssignment // orgID/userID
}

// NewMemoryRoster creates an empty in-memory roster.
func NewMemoryRoster() *MemoryRoster {
	return &MemoryRoster{
		byRole:      make(map[string][]model.Approver),
		supervisors: make(map[string]*model.Approver),
		assignments: make(map[string][]model.BranchAssignment),
	}
}

func key(orgID, id string) string { return orgID + "/" + id }

// AddRoleMember registers a user under a role code.
func (r *MemoryRoster) AddRoleMember(orgID, roleCode string, user model.Approver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key(orgID, roleCode)
	r.byRole[k] = append(r.byRole[k], user)
}

// SetSupervisor registers a user's direct supervisor. A nil supervisor
// removes the relationship.
func (r *MemoryRoster) SetSupervisor(orgID, userID string, supervisor *model.Approver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if supervisor == nil {
		delete(r.supervisors, key(orgID, userID))
		return
	}
	sup := *supervisor
	r.supervisors[key(orgID, userID)] = &sup
}

// AddBranchAssignment registers a branch assignment for a user.
func (r *MemoryRoster) AddBranchAssignment(orgID, userID string, assignment model.BranchAssignment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key(orgID, userID)
	r.assignments[k] = append(r.assignments[k], assignment)
}

// UsersByRole returns the users registered under a role code.
func (r *MemoryRoster) UsersByRole(ctx context.Context, orgID, roleCode string) ([]model.Approver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.byRole[key(orgID, roleCode)]
	out := make([]model.Approver, len(members))
	copy(out, members)
	return out, nil
}

// SupervisorOf returns the user's supervisor, or nil when none is set.
func (r *MemoryRoster) SupervisorOf(ctx context.Context, orgID, userID string) (*model.Approver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sup, ok := r.supervisors[key(orgID, userID)]
	if !ok {
		return nil, nil
	}
	cp := *sup
	return &cp, nil
}

// BranchAssignments returns the user's branch assignments.
func (r *MemoryRoster) BranchAssignments(ctx context.Context, orgID, userID string) ([]model.BranchAssignment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	assignments := r.assignments[key(orgID, userID)]
	out := make([]model.BranchAssignment, len(assignments))
	copy(out, assignments)
	return out, nil
}
