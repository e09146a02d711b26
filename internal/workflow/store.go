// Package workflow implements the approval workflow engine: condition
// evaluation, instance lifecycle, step-chain traversal, approver resolution,
// and the transactional approve/reject state machine.
package workflow

import (
	"context"
	"time"

	"github.com/nubegest/approvals/model"
)

// Store persists workflow definitions, steps, instances, and history.
// Definition and step reads are plain reads; every instance mutation goes
// through InTx so the instance row and its history entry share one
// transaction.
type Store interface {
	// GetDefinition retrieves a workflow definition by id, scoped to an
	// organization. Returns NOT_FOUND if it does not exist or belongs to a
	// different organization.
	GetDefinition(ctx context.Context, orgID string, workflowID int64) (model.WorkflowDefinition, error)

	// ListActiveDefinitions returns the active definitions governing an
	// entity type within an organization, ordered by ascending id.
	ListActiveDefinitions(ctx context.Context, orgID, entityType string) ([]model.WorkflowDefinition, error)

	// GetStep retrieves a workflow step by id.
	GetStep(ctx context.Context, stepID int64) (model.WorkflowStep, error)

	// GetInitialStep retrieves the inicio step of a workflow definition.
	// Returns NOT_FOUND if the definition has none.
	GetInitialStep(ctx context.Context, workflowID int64) (model.WorkflowStep, error)

	// GetInstance retrieves a workflow instance by id, scoped to an
	// organization.
	GetInstance(ctx context.Context, orgID, instanceID string) (model.WorkflowInstance, error)

	// History retrieves the append-only audit trail of an instance, oldest
	// first.
	History(ctx context.Context, orgID, instanceID string) ([]model.HistoryEntry, error)

	// FindOverdue returns en_progreso instances whose deadline is before the
	// cutoff. Deadline enforcement itself belongs to an external scheduler.
	FindOverdue(ctx context.Context, cutoff time.Time) ([]model.WorkflowInstance, error)

	// InTx runs fn inside one ACID transaction scoped to the organization.
	// fn returning an error rolls back everything written through the Tx.
	InTx(ctx context.Context, orgID string, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the transactional write surface handed to InTx callbacks and to
// entity-action bindings. Implementations may satisfy further interfaces for
// entity mutations (see OrderTx).
type Tx interface {
	// CreateInstance persists a new workflow instance.
	CreateInstance(ctx context.Context, inst model.WorkflowInstance) error

	// GetInstanceForUpdate retrieves an instance with a row-level lock so
	// concurrent decisions on the same instance serialize.
	GetInstanceForUpdate(ctx context.Context, orgID, instanceID string) (model.WorkflowInstance, error)

	// UpdateInstance persists an updated instance. The version must match
	// the stored version; returns STATE_CONFLICT otherwise.
	UpdateInstance(ctx context.Context, inst model.WorkflowInstance) error

	// AppendHistory adds an entry to the instance's audit trail.
	AppendHistory(ctx context.Context, entry model.HistoryEntry) error
}
