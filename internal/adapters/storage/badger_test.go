package storage

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weft-io/weft/internal/domain"
	"github.com/weft-io/weft/internal/ports"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := NewInMemory(logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleGraph(id string) *domain.WorkflowGraph {
	return &domain.WorkflowGraph{
		ID:      id,
		Name:    "sample",
		Version: 2,
		Status:  domain.WorkflowStatusActive,
		Nodes: map[string]*domain.Node{
			"start": {
				ID:      "start",
				Type:    domain.NodeTypeEventTrigger,
				Enabled: true,
				Config:  map[string]interface{}{"event_type": "follow"},
			},
		},
		Variables: map[string]interface{}{"greeting": "hi"},
	}
}

func TestStore_GraphRoundTrip(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveGraph(ctx, sampleGraph("wf-1")))

	got, err := store.LoadGraph(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "wf-1", got.ID)
	assert.Equal(t, 2, got.Version)
	assert.Equal(t, domain.NodeTypeEventTrigger, got.Nodes["start"].Type)
	assert.Equal(t, "hi", got.Variables["greeting"])
}

func TestStore_LoadMissingGraph(t *testing.T) {
	store := testStore(t)

	_, err := store.LoadGraph(context.Background(), "ghost")
	assert.True(t, domain.IsNotFound(err))
}

func TestStore_DeleteGraph(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveGraph(ctx, sampleGraph("wf-del")))
	require.NoError(t, store.DeleteGraph(ctx, "wf-del"))

	_, err := store.LoadGraph(ctx, "wf-del")
	assert.True(t, domain.IsNotFound(err))

	err = store.DeleteGraph(ctx, "wf-del")
	assert.True(t, domain.IsNotFound(err))
}

func TestStore_ListGraphsSorted(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	for _, id := range []string{"wf-c", "wf-a", "wf-b"} {
		require.NoError(t, store.SaveGraph(ctx, sampleGraph(id)))
	}

	graphs, err := store.ListGraphs(ctx)
	require.NoError(t, err)
	require.Len(t, graphs, 3)
	assert.Equal(t, "wf-a", graphs[0].ID)
	assert.Equal(t, "wf-c", graphs[2].ID)
}

func TestStore_ExecutionResultsNewestFirst(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	base := time.Now()
	for i, id := range []string{"exec-1", "exec-2", "exec-3"} {
		require.NoError(t, store.SaveExecutionResult(ctx, &domain.ExecutionResult{
			ExecutionID: id,
			WorkflowID:  "wf-1",
			Status:      domain.ExecutionStatusCompleted,
			StartedAt:   base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, store.SaveExecutionResult(ctx, &domain.ExecutionResult{
		ExecutionID: "exec-other",
		WorkflowID:  "wf-2",
		StartedAt:   base.Add(time.Hour),
	}))

	results, err := store.ListExecutionResults(ctx, "wf-1", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "exec-3", results[0].ExecutionID)
	assert.Equal(t, "exec-2", results[1].ExecutionID)
}

func TestStore_ScheduleRoundTrip(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	next := time.Now().Add(time.Hour).UTC()
	sched := &domain.Schedule{
		ID:             "sched-1",
		WorkflowID:     "wf-1",
		Kind:           domain.ScheduleKindCron,
		CronExpression: "0 12 * * *",
		Active:         true,
		NextRunAt:      &next,
	}
	require.NoError(t, store.SaveSchedule(ctx, sched))

	got, err := store.LoadSchedule(ctx, "sched-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ScheduleKindCron, got.Kind)
	assert.Equal(t, "0 12 * * *", got.CronExpression)
	require.NotNil(t, got.NextRunAt)
	assert.True(t, got.NextRunAt.Equal(next))

	require.NoError(t, store.DeleteSchedule(ctx, "sched-1"))
	_, err = store.LoadSchedule(ctx, "sched-1")
	assert.True(t, domain.IsNotFound(err))
}

func TestStore_AuditEntriesKeepOrder(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	for _, kind := range []string{"execution.completed", "execution.failed", "workflow.saved"} {
		require.NoError(t, store.AppendAuditEntry(ctx, ports.AuditEntry{
			Kind:       kind,
			WorkflowID: "wf-1",
		}))
	}

	entries, err := store.ListAuditEntries(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "execution.completed", entries[0].Kind)
	assert.Equal(t, "workflow.saved", entries[2].Kind)

	capped, err := store.ListAuditEntries(ctx, 2)
	require.NoError(t, err)
	require.Len(t, capped, 2)
	assert.Equal(t, "workflow.saved", capped[1].Kind)
}
