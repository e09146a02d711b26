// Package integration exercises the PostgreSQL-backed store and roster
// against a real database started with testcontainers. The tests assert the
// SQL contract the in-memory twins mirror: row locks, version-checked
// updates, organization scoping, and the jsonb step config union.
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/nubegest/approvals/internal/roster"
	"github.com/nubegest/approvals/internal/workflow"
	"github.com/nubegest/approvals/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS workflow_definitions (
	id          BIGINT PRIMARY KEY,
	org_id      TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	name        TEXT NOT NULL,
	condition   JSONB,
	active      BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS workflow_steps (
	id           BIGINT PRIMARY KEY,
	workflow_id  BIGINT NOT NULL REFERENCES workflow_definitions (id),
	tipo         TEXT NOT NULL,
	nombre       TEXT NOT NULL,
	config       JSONB,
	siguiente_id BIGINT,
	aprobar_id   BIGINT,
	rechazar_id  BIGINT
);

CREATE TABLE IF NOT EXISTS workflow_instances (
	id              TEXT PRIMARY KEY,
	workflow_id     BIGINT NOT NULL,
	org_id          TEXT NOT NULL,
	entity_type     TEXT NOT NULL,
	entity_id       TEXT NOT NULL,
	current_step_id BIGINT NOT NULL,
	estado          TEXT NOT NULL,
	context         JSONB,
	requested_by    TEXT NOT NULL,
	deadline        TIMESTAMPTZ NOT NULL,
	outcome         JSONB,
	completed_at    TIMESTAMPTZ,
	version         INTEGER NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS workflow_history (
	id          TEXT PRIMARY KEY,
	instance_id TEXT NOT NULL,
	step_id     BIGINT NOT NULL,
	accion      TEXT NOT NULL,
	actor_id    TEXT NOT NULL,
	comment     TEXT NOT NULL DEFAULT '',
	snapshot    JSONB,
	created_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS purchase_orders (
	id          TEXT NOT NULL,
	org_id      TEXT NOT NULL,
	state       TEXT NOT NULL,
	approved_at TIMESTAMPTZ,
	PRIMARY KEY (org_id, id)
);

CREATE TABLE IF NOT EXISTS users (
	id            TEXT NOT NULL,
	org_id        TEXT NOT NULL,
	name          TEXT NOT NULL,
	email         TEXT NOT NULL DEFAULT '',
	supervisor_id TEXT,
	active        BOOLEAN NOT NULL DEFAULT TRUE,
	PRIMARY KEY (org_id, id)
);

CREATE TABLE IF NOT EXISTS user_roles (
	org_id    TEXT NOT NULL,
	user_id   TEXT NOT NULL,
	role_code TEXT NOT NULL,
	PRIMARY KEY (org_id, user_id, role_code)
);

CREATE TABLE IF NOT EXISTS branch_assignments (
	org_id     TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	branch_id  BIGINT NOT NULL,
	is_manager BOOLEAN NOT NULL DEFAULT FALSE,
	active     BOOLEAN NOT NULL DEFAULT TRUE,
	PRIMARY KEY (org_id, user_id, branch_id)
);
`

// Harness bundles the shared database pool with the store and roster under
// test. One PostgreSQL container serves the whole package; tests isolate
// themselves by seeding distinct org ids.
type Harness struct {
	Pool   *pgxpool.Pool
	Store  *workflow.PgStore
	Roster *roster.PgRoster
}

// startPostgres launches a disposable PostgreSQL container, connects a pool,
// and applies the schema. The returned func terminates the container.
func startPostgres(ctx context.Context) (*pgxpool.Pool, func(), error) {
	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("approvals"),
		postgres.WithUsername("approvals"),
		postgres.WithPassword("approvals"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("start postgres container: %w", err)
	}
	terminate := func() { _ = container.Terminate(context.Background()) }

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		terminate()
		return nil, nil, fmt.Errorf("container connection string: %w", err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		terminate()
		return nil, nil, fmt.Errorf("connect pool: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		terminate()
		return nil, nil, fmt.Errorf("apply schema: %w", err)
	}

	return pool, func() { pool.Close(); terminate() }, nil
}

// --- seed helpers ---

func (h *Harness) seedDefinition(t *testing.T, def model.WorkflowDefinition, conditionJSON string) {
	t.Helper()
	var cond any
	if conditionJSON != "" {
		cond = json.RawMessage(conditionJSON)
	}
	_, err := h.Pool.Exec(context.Background(), `
		INSERT INTO workflow_definitions (id, org_id, entity_type, name, condition, active)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		def.ID, def.OrgID, def.EntityType, def.Name, cond, def.Active,
	)
	require.NoError(t, err)
}

func (h *Harness) seedStep(t *testing.T, step model.WorkflowStep) {
	t.Helper()
	var cfg any
	switch {
	case step.Approval != nil:
		b, err := json.Marshal(step.Approval)
		require.NoError(t, err)
		cfg = b
	case step.Terminal != nil:
		b, err := json.Marshal(step.Terminal)
		require.NoError(t, err)
		cfg = b
	}
	_, err := h.Pool.Exec(context.Background(), `
		INSERT INTO workflow_steps (id, workflow_id, tipo, nombre, config, siguiente_id, aprobar_id, rechazar_id)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, 0), NULLIF($7, 0), NULLIF($8, 0))`,
		step.ID, step.WorkflowID, step.Tipo, step.Nombre, cfg,
		step.Siguiente, step.Aprobar, step.Rechazar,
	)
	require.NoError(t, err)
}

func (h *Harness) seedOrder(t *testing.T, orgID, orderID, state string) {
	t.Helper()
	_, err := h.Pool.Exec(context.Background(), `
		INSERT INTO purchase_orders (id, org_id, state) VALUES ($1, $2, $3)`,
		orderID, orgID, state,
	)
	require.NoError(t, err)
}

func (h *Harness) seedUser(t *testing.T, orgID, userID, name string, supervisorID *string, active bool) {
	t.Helper()
	_, err := h.Pool.Exec(context.Background(), `
		INSERT INTO users (id, org_id, name, email, supervisor_id, active)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		userID, orgID, name, userID+"@example.com", supervisorID, active,
	)
	require.NoError(t, err)
}

func (h *Harness) seedRole(t *testing.T, orgID, userID, roleCode string) {
	t.Helper()
	_, err := h.Pool.Exec(context.Background(), `
		INSERT INTO user_roles (org_id, user_id, role_code) VALUES ($1, $2, $3)`,
		orgID, userID, roleCode,
	)
	require.NoError(t, err)
}

func (h *Harness) seedBranchAssignment(t *testing.T, orgID, userID string, branchID int64, isManager, active bool) {
	t.Helper()
	_, err := h.Pool.Exec(context.Background(), `
		INSERT INTO branch_assignments (org_id, user_id, branch_id, is_manager, active)
		VALUES ($1, $2, $3, $4, $5)`,
		orgID, userID, branchID, isManager, active,
	)
	require.NoError(t, err)
}

func (h *Harness) orderState(t *testing.T, orgID, orderID string) string {
	t.Helper()
	var state string
	err := h.Pool.QueryRow(context.Background(), `
		SELECT state FROM purchase_orders WHERE id = $1 AND org_id = $2`,
		orderID, orgID,
	).Scan(&state)
	require.NoError(t, err)
	return state
}
