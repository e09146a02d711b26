package workflow_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nubegest/approvals/internal/workflow"
	"github.com/nubegest/approvals/model"
)

func seedInstance(t *testing.T, store *workflow.MemoryStore, id string, deadline time.Time) model.WorkflowInstance {
	t.Helper()
	inst := model.WorkflowInstance{
		ID:            id,
		WorkflowID:    testWorkflowID,
		OrgID:         testOrg,
		EntityType:    workflow.EntityTypeOrdenCompra,
		EntityID:      testOrder,
		CurrentStepID: stepNivel1ID,
		Estado:        model.EstadoEnProgreso,
		RequestedBy:   requesterID,
		Deadline:      deadline,
		Version:       1,
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
	err := store.InTx(context.Background(), testOrg, func(ctx context.Context, tx workflow.Tx) error {
		return tx.CreateInstance(ctx, inst)
	})
	require.NoError(t, err)
	return inst
}

func TestMemoryStoreFailedTxLeavesNoTrace(t *testing.T) {
	store := workflow.NewMemoryStore()
	sentinel := errors.New("boom")

	err := store.InTx(context.Background(), testOrg, func(ctx context.Context, tx workflow.Tx) error {
		inst := model.WorkflowInstance{ID: "wi-1", OrgID: testOrg, Estado: model.EstadoEnProgreso, Version: 1}
		if err := tx.CreateInstance(ctx, inst); err != nil {
			return err
		}
		if err := tx.AppendHistory(ctx, model.HistoryEntry{ID: "h-1", InstanceID: "wi-1"}); err != nil {
			return err
		}
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	_, err = store.GetInstance(context.Background(), testOrg, "wi-1")
	assert.True(t, model.IsCode(err, model.ErrNotFound))
}

func TestMemoryStoreVersionConflict(t *testing.T) {
	store := workflow.NewMemoryStore()
	inst := seedInstance(t, store, "wi-1", time.Now().UTC().Add(time.Hour))

	stale := inst
	stale.Version = 99

	err := store.InTx(context.Background(), testOrg, func(ctx context.Context, tx workflow.Tx) error {
		return tx.UpdateInstance(ctx, stale)
	})
	require.Error(t, err)
	assert.True(t, model.IsCode(err, model.ErrStateConflict))
}

func TestMemoryStoreUpdateBumpsVersion(t *testing.T) {
	store := workflow.NewMemoryStore()
	inst := seedInstance(t, store, "wi-1", time.Now().UTC().Add(time.Hour))

	inst.Estado = model.EstadoAprobado
	err := store.InTx(context.Background(), testOrg, func(ctx context.Context, tx workflow.Tx) error {
		return tx.UpdateInstance(ctx, inst)
	})
	require.NoError(t, err)

	stored, err := store.GetInstance(context.Background(), testOrg, "wi-1")
	require.NoError(t, err)
	assert.Equal(t, model.EstadoAprobado, stored.Estado)
	assert.Equal(t, 2, stored.Version)
}

func TestMemoryStoreScopesInstancesByOrg(t *testing.T) {
	store := workflow.NewMemoryStore()
	seedInstance(t, store, "wi-1", time.Now().UTC().Add(time.Hour))

	_, err := store.GetInstance(context.Background(), "other-org", "wi-1")
	assert.True(t, model.IsCode(err, model.ErrNotFound))

	_, err = store.History(context.Background(), "other-org", "wi-1")
	assert.True(t, model.IsCode(err, model.ErrNotFound))
}

func TestMemoryStoreFindOverdue(t *testing.T) {
	store := workflow.NewMemoryStore()
	now := time.Now().UTC()

	overdue := seedInstance(t, store, "wi-late", now.Add(-2*time.Hour))
	seedInstance(t, store, "wi-ok", now.Add(2*time.Hour))

	done := seedInstance(t, store, "wi-done", now.Add(-3*time.Hour))
	done.Estado = model.EstadoAprobado
	err := store.InTx(context.Background(), testOrg, func(ctx context.Context, tx workflow.Tx) error {
		return tx.UpdateInstance(ctx, done)
	})
	require.NoError(t, err)

	found, err := store.FindOverdue(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, overdue.ID, found[0].ID)
}

func TestMemoryStoreDuplicateCreateConflicts(t *testing.T) {
	store := workflow.NewMemoryStore()
	inst := seedInstance(t, store, "wi-1", time.Now().UTC().Add(time.Hour))

	err := store.InTx(context.Background(), testOrg, func(ctx context.Context, tx workflow.Tx) error {
		return tx.CreateInstance(ctx, inst)
	})
	require.Error(t, err)
	assert.True(t, model.IsCode(err, model.ErrStateConflict))
}
