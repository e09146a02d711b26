package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nubegest/approvals/model"
)

// PgStore is a PostgreSQL-backed Store using pgx/v5. Every transaction sets
// app.current_org so row-security policies owned by the storage layer can
// compose with the engine's queries.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a new PostgreSQL store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// Ping verifies database connectivity. Used by readiness checks.
func (s *PgStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const definitionColumns = `id, org_id, entity_type, name, condition, active`

// GetDefinition retrieves a workflow definition by id, scoped to an
// organization.
func (s *PgStore) GetDefinition(ctx context.Context, orgID string, workflowID int64) (model.WorkflowDefinition, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+definitionColumns+`
		FROM workflow_definitions
		WHERE id = $1 AND org_id = $2`,
		workflowID, orgID,
	)
	def, err := scanDefinition(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.WorkflowDefinition{}, model.NewNotFoundError(
			fmt.Sprintf("workflow definition %d not found", workflowID),
		)
	}
	if err != nil {
		return model.WorkflowDefinition{}, fmt.Errorf("query workflow definition: %w", err)
	}
	return def, nil
}

// ListActiveDefinitions returns active definitions for (org, entity type),
// ordered by ascending id. Ascending id is the evaluation tie-break.
func (s *PgStore) ListActiveDefinitions(ctx context.Context, orgID, entityType string) ([]model.WorkflowDefinition, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+definitionColumns+`
		FROM workflow_definitions
		WHERE org_id = $1 AND entity_type = $2 AND active
		ORDER BY id ASC`,
		orgID, entityType,
	)
	if err != nil {
		return nil, fmt.Errorf("query workflow definitions: %w", err)
	}
	defer rows.Close()

	var defs []model.WorkflowDefinition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workflow definition: %w", err)
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

func scanDefinition(row pgx.Row) (model.WorkflowDefinition, error) {
	var def model.WorkflowDefinition
	var conditionJSON []byte
	if err := row.Scan(
		&def.ID, &def.OrgID, &def.EntityType, &def.Name, &conditionJSON, &def.Active,
	); err != nil {
		return model.WorkflowDefinition{}, err
	}
	cond, err := model.ParseCondition(conditionJSON)
	if err != nil {
		return model.WorkflowDefinition{}, err
	}
	def.Condition = cond
	return def, nil
}

const stepColumns = `id, workflow_id, tipo, nombre, config, siguiente_id, aprobar_id, rechazar_id`

// GetStep retrieves a workflow step by id.
func (s *PgStore) GetStep(ctx context.Context, stepID int64) (model.WorkflowStep, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+stepColumns+`
		FROM workflow_steps
		WHERE id = $1`,
		stepID,
	)
	step, err := scanStep(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.WorkflowStep{}, model.NewNotFoundError(
			fmt.Sprintf("workflow step %d not found", stepID),
		)
	}
	if err != nil {
		return model.WorkflowStep{}, fmt.Errorf("query workflow step: %w", err)
	}
	return step, nil
}

// GetInitialStep retrieves the inicio step of a workflow definition.
func (s *PgStore) GetInitialStep(ctx context.Context, workflowID int64) (model.WorkflowStep, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+stepColumns+`
		FROM workflow_steps
		WHERE workflow_id = $1 AND tipo = $2
		ORDER BY id ASC
		LIMIT 1`,
		workflowID, model.StepInicio,
	)
	step, err := scanStep(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.WorkflowStep{}, model.NewNotFoundError(
			fmt.Sprintf("workflow %d has no inicio step", workflowID),
		)
	}
	if err != nil {
		return model.WorkflowStep{}, fmt.Errorf("query inicio step: %w", err)
	}
	return step, nil
}

// scanStep decodes a step row, interpreting the config document as the
// tagged union keyed by tipo.
func scanStep(row pgx.Row) (model.WorkflowStep, error) {
	var step model.WorkflowStep
	var configJSON []byte
	var siguiente, aprobar, rechazar *int64
	if err := row.Scan(
		&step.ID, &step.WorkflowID, &step.Tipo, &step.Nombre,
		&configJSON, &siguiente, &aprobar, &rechazar,
	); err != nil {
		return model.WorkflowStep{}, err
	}
	if siguiente != nil {
		step.Siguiente = *siguiente
	}
	if aprobar != nil {
		step.Aprobar = *aprobar
	}
	if rechazar != nil {
		step.Rechazar = *rechazar
	}

	if len(configJSON) > 0 {
		switch step.Tipo {
		case model.StepAprobacion:
			var cfg model.ApprovalConfig
			if err := json.Unmarshal(configJSON, &cfg); err != nil {
				return model.WorkflowStep{}, fmt.Errorf("decode aprobacion config: %w", err)
			}
			step.Approval = &cfg
		case model.StepFin:
			var cfg model.TerminalConfig
			if err := json.Unmarshal(configJSON, &cfg); err != nil {
				return model.WorkflowStep{}, fmt.Errorf("decode fin config: %w", err)
			}
			step.Terminal = &cfg
		}
	}
	return step, nil
}

const instanceColumns = `id, workflow_id, org_id, entity_type, entity_id,
	current_step_id, estado, context, requested_by, deadline,
	outcome, completed_at, version, created_at, updated_at`

// GetInstance retrieves a workflow instance by id, scoped to an organization.
func (s *PgStore) GetInstance(ctx context.Context, orgID, instanceID string) (model.WorkflowInstance, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+instanceColumns+`
		FROM workflow_instances
		WHERE id = $1 AND org_id = $2`,
		instanceID, orgID,
	)
	return scanInstance(row, instanceID)
}

func scanInstance(row pgx.Row, instanceID string) (model.WorkflowInstance, error) {
	var inst model.WorkflowInstance
	var contextJSON, outcomeJSON []byte
	err := row.Scan(
		&inst.ID, &inst.WorkflowID, &inst.OrgID, &inst.EntityType, &inst.EntityID,
		&inst.CurrentStepID, &inst.Estado, &contextJSON, &inst.RequestedBy, &inst.Deadline,
		&outcomeJSON, &inst.CompletedAt, &inst.Version, &inst.CreatedAt, &inst.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.WorkflowInstance{}, model.NewNotFoundError(
			fmt.Sprintf("workflow instance %q not found", instanceID),
		)
	}
	if err != nil {
		return model.WorkflowInstance{}, fmt.Errorf("query workflow instance: %w", err)
	}
	if contextJSON != nil {
		if err := json.Unmarshal(contextJSON, &inst.Context); err != nil {
			return model.WorkflowInstance{}, fmt.Errorf("unmarshal context: %w", err)
		}
	}
	if outcomeJSON != nil {
		_ = json.Unmarshal(outcomeJSON, &inst.Outcome)
	}
	return inst, nil
}

// History retrieves the audit trail of an instance, oldest first.
func (s *PgStore) History(ctx context.Context, orgID, instanceID string) ([]model.HistoryEntry, error) {
	// Verify organization access.
	if _, err := s.GetInstance(ctx, orgID, instanceID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, instance_id, step_id, accion, actor_id, comment, snapshot, created_at
		FROM workflow_history
		WHERE instance_id = $1
		ORDER BY created_at ASC`,
		instanceID,
	)
	if err != nil {
		return nil, fmt.Errorf("query workflow history: %w", err)
	}
	defer rows.Close()

	var entries []model.HistoryEntry
	for rows.Next() {
		var entry model.HistoryEntry
		var snapshotJSON []byte
		if err := rows.Scan(
			&entry.ID, &entry.InstanceID, &entry.StepID, &entry.Accion,
			&entry.ActorID, &entry.Comment, &snapshotJSON, &entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		if snapshotJSON != nil {
			_ = json.Unmarshal(snapshotJSON, &entry.Snapshot)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// FindOverdue returns en_progreso instances past their deadline.
func (s *PgStore) FindOverdue(ctx context.Context, cutoff time.Time) ([]model.WorkflowInstance, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+instanceColumns+`
		FROM workflow_instances
		WHERE estado = $1 AND deadline < $2
		ORDER BY deadline ASC`,
		model.EstadoEnProgreso, cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("query overdue instances: %w", err)
	}
	defer rows.Close()

	var instances []model.WorkflowInstance
	for rows.Next() {
		inst, err := scanInstance(rows, "")
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}

// InTx runs fn inside one database transaction scoped to the organization.
func (s *PgStore) InTx(ctx context.Context, orgID string, fn func(ctx context.Context, tx Tx) error) error {
	dbtx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer dbtx.Rollback(ctx)

	// Scope the transaction to the organization for row-security policies.
	if _, err := dbtx.Exec(ctx, `SELECT set_config('app.current_org', $1, true)`, orgID); err != nil {
		return fmt.Errorf("set org scope: %w", err)
	}

	if err := fn(ctx, &pgTx{tx: dbtx}); err != nil {
		return err
	}
	if err := dbtx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// pgTx wraps a pgx transaction. It also implements OrderTx for the purchase
// order binding.
type pgTx struct {
	tx pgx.Tx
}

// CreateInstance inserts a new workflow instance.
func (t *pgTx) CreateInstance(ctx context.Context, inst model.WorkflowInstance) error {
	contextJSON, err := json.Marshal(inst.Context)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}
	outcomeJSON, err := json.Marshal(inst.Outcome)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}

	_, err = t.tx.Exec(ctx, `
		INSERT INTO workflow_instances (
			id, workflow_id, org_id, entity_type, entity_id,
			current_step_id, estado, context, requested_by, deadline,
			outcome, completed_at, version, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15
		)`,
		inst.ID, inst.WorkflowID, inst.OrgID, inst.EntityType, inst.EntityID,
		inst.CurrentStepID, inst.Estado, contextJSON, inst.RequestedBy, inst.Deadline,
		outcomeJSON, inst.CompletedAt, inst.Version, inst.CreatedAt, inst.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert workflow instance: %w", err)
	}
	return nil
}

// GetInstanceForUpdate retrieves an instance with a row-level lock, so two
// concurrent decisions on the same instance serialize on the database row.
func (t *pgTx) GetInstanceForUpdate(ctx context.Context, orgID, instanceID string) (model.WorkflowInstance, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+instanceColumns+`
		FROM workflow_instances
		WHERE id = $1 AND org_id = $2
		FOR UPDATE`,
		instanceID, orgID,
	)
	return scanInstance(row, instanceID)
}

// UpdateInstance persists an updated instance with an optimistic version
// check on top of the row lock.
func (t *pgTx) UpdateInstance(ctx context.Context, inst model.WorkflowInstance) error {
	outcomeJSON, err := json.Marshal(inst.Outcome)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}

	tag, err := t.tx.Exec(ctx, `
		UPDATE workflow_instances SET
			current_step_id = $1,
			estado = $2,
			outcome = $3,
			completed_at = $4,
			version = $5,
			updated_at = $6
		WHERE id = $7 AND version = $8`,
		inst.CurrentStepID, inst.Estado, outcomeJSON, inst.CompletedAt,
		inst.Version+1, time.Now().UTC(),
		inst.ID, inst.Version,
	)
	if err != nil {
		return fmt.Errorf("update workflow instance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewStateConflictError(
			fmt.Sprintf("workflow instance %q version conflict (expected %d)", inst.ID, inst.Version),
		)
	}
	return nil
}

// AppendHistory inserts an audit entry within the same transaction as the
// instance mutation.
func (t *pgTx) AppendHistory(ctx context.Context, entry model.HistoryEntry) error {
	snapshotJSON, err := json.Marshal(entry.Snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = t.tx.Exec(ctx, `
		INSERT INTO workflow_history (
			id, instance_id, step_id, accion, actor_id, comment, snapshot, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID, entry.InstanceID, entry.StepID, entry.Accion,
		entry.ActorID, entry.Comment, snapshotJSON, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert history entry: %w", err)
	}
	return nil
}

// SetOrderState implements OrderTx: applies the terminal state change to a
// purchase order within the decision transaction.
func (t *pgTx) SetOrderState(ctx context.Context, orgID, orderID, state string, approvedAt time.Time) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE purchase_orders
		SET state = $1, approved_at = $2
		WHERE id = $3 AND org_id = $4`,
		state, approvedAt, orderID, orgID,
	)
	if err != nil {
		return fmt.Errorf("update purchase order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError(
			fmt.Sprintf("purchase order %q not found", orderID),
		)
	}
	return nil
}

// ResetOrderToDraft implements OrderTx: reverts a purchase order to its
// draft state within the decision transaction.
func (t *pgTx) ResetOrderToDraft(ctx context.Context, orgID, orderID, draftState string) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE purchase_orders
		SET state = $1, approved_at = NULL
		WHERE id = $2 AND org_id = $3`,
		draftState, orderID, orgID,
	)
	if err != nil {
		return fmt.Errorf("reset purchase order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError(
			fmt.Sprintf("purchase order %q not found", orderID),
		)
	}
	return nil
}
