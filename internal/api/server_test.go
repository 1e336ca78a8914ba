package api

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weft-io/weft/internal/adapters/engine"
	"github.com/weft-io/weft/internal/adapters/scheduler"
	"github.com/weft-io/weft/internal/adapters/storage"
	"github.com/weft-io/weft/internal/adapters/validator"
	"github.com/weft-io/weft/internal/domain"
	"github.com/weft-io/weft/internal/ports"
)

type noopRouter struct{}

func (noopRouter) InvokeCapability(context.Context, string, string, map[string]interface{}) (map[string]interface{}, error) {
	return map[string]interface{}{}, nil
}
func (noopRouter) SendChatMessage(context.Context, string, string) error { return nil }
func (noopRouter) UpdateBrowserSource(context.Context, ports.BrowserSourceUpdate) error {
	return nil
}

type testEnv struct {
	server *Server
	store  *storage.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := storage.NewInMemory(logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	eng := engine.New(domain.DefaultEngineConfig(), noopRouter{}, nil, store, logger)
	mgr := engine.NewManager(eng, logger)
	sched := scheduler.New(domain.DefaultSchedulerConfig(), store, mgr, logger)
	valid := validator.New(domain.DefaultValidatorLimits(), logger)

	return &testEnv{
		server: NewServer(store, valid, mgr, eng, sched, logger),
		store:  store,
	}
}

func (env *testEnv) do(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		if raw, ok := body.([]byte); ok {
			reader = bytes.NewReader(raw)
		} else {
			data, err := json.Marshal(body)
			require.NoError(t, err)
			reader = bytes.NewReader(data)
		}
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echoContentType, echoJSONMime)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	return rec
}

const (
	echoContentType = "Content-Type"
	echoJSONMime    = "application/json"
)

func apiGraph(id string) *domain.WorkflowGraph {
	anyOut := []domain.Port{{Name: "out", Direction: domain.PortOutput, Kind: domain.PortKindAny}}
	anyIn := []domain.Port{{Name: "in", Direction: domain.PortInput, Kind: domain.PortKindAny, AllowMultiple: true}}

	return &domain.WorkflowGraph{
		ID:     id,
		Name:   "api workflow",
		Status: domain.WorkflowStatusDraft,
		Nodes: map[string]*domain.Node{
			"start": {
				ID: "start", Type: domain.NodeTypeCommandTrigger, Enabled: true,
				Outputs: anyOut,
				Config:  map[string]interface{}{"pattern": "!go", "platforms": []interface{}{"twitch"}},
			},
			"say": {
				ID: "say", Type: domain.NodeTypeChatMessage, Enabled: true,
				Inputs: anyIn, Outputs: anyOut,
				Config: map[string]interface{}{"template": "hi {{user}}", "channel": "general"},
			},
			"end": {
				ID: "end", Type: domain.NodeTypeEnd, Enabled: true,
				Inputs: anyIn,
			},
		},
		Connections: []domain.Connection{
			{ID: "c1", SourceNode: "start", SourcePort: "out", TargetNode: "say", TargetPort: "in", Enabled: true},
			{ID: "c2", SourceNode: "say", SourcePort: "out", TargetNode: "end", TargetPort: "in", Enabled: true},
		},
	}
}

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestWorkflowCRUD(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/workflows", apiGraph("wf-crud"), nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeJSON[domain.WorkflowGraph](t, rec)
	assert.Equal(t, 1, created.Version)

	rec = env.do(t, http.MethodGet, "/v1/workflows/wf-crud", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	updated := apiGraph("wf-crud")
	updated.Name = "renamed"
	rec = env.do(t, http.MethodPut, "/v1/workflows/wf-crud", updated, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeJSON[domain.WorkflowGraph](t, rec)
	assert.Equal(t, "renamed", got.Name)
	assert.Equal(t, 2, got.Version)

	rec = env.do(t, http.MethodGet, "/v1/workflows", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeJSON[[]domain.WorkflowGraph](t, rec)
	assert.Len(t, list, 1)

	rec = env.do(t, http.MethodDelete, "/v1/workflows/wf-crud", nil, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/workflows/wf-crud", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestValidateEndpoint(t *testing.T) {
	env := newTestEnv(t)

	g := apiGraph("wf-validate")
	delete(g.Nodes, "start")
	g.Connections = nil
	require.NoError(t, env.store.SaveGraph(context.Background(), g))

	rec := env.do(t, http.MethodPost, "/v1/workflows/wf-validate/validate", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	result := decodeJSON[validator.Result](t, rec)
	assert.False(t, result.Valid)
}

func TestPublishWorkflow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.store.SaveGraph(ctx, apiGraph("wf-pub")))

	rec := env.do(t, http.MethodPost, "/v1/workflows/wf-pub/publish", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	got, err := env.store.LoadGraph(ctx, "wf-pub")
	require.NoError(t, err)
	assert.Equal(t, domain.WorkflowStatusActive, got.Status)
}

func TestPublishRejectsInvalidGraph(t *testing.T) {
	env := newTestEnv(t)

	g := apiGraph("wf-bad")
	delete(g.Nodes, "start")
	g.Connections = g.Connections[1:]
	require.NoError(t, env.store.SaveGraph(context.Background(), g))

	rec := env.do(t, http.MethodPost, "/v1/workflows/wf-bad/publish", nil, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	got, err := env.store.LoadGraph(context.Background(), "wf-bad")
	require.NoError(t, err)
	assert.Equal(t, domain.WorkflowStatusDraft, got.Status)
}

func TestExportImportRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.SaveGraph(context.Background(), apiGraph("wf-exp")))

	rec := env.do(t, http.MethodGet, "/v1/workflows/wf-exp/export", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	exported := rec.Body.Bytes()

	rec = env.do(t, http.MethodPost, "/v1/workflows/import", exported, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	imported := decodeJSON[domain.WorkflowGraph](t, rec)

	assert.Equal(t, domain.WorkflowStatusDraft, imported.Status)
	assert.Len(t, imported.Nodes, 3)
	assert.Len(t, imported.Connections, 2)
	assert.Equal(t, domain.NodeTypeChatMessage, imported.Nodes["say"].Type)
}

func TestTriggerExecution(t *testing.T) {
	env := newTestEnv(t)

	g := apiGraph("wf-run")
	g.Status = domain.WorkflowStatusActive
	require.NoError(t, env.store.SaveGraph(context.Background(), g))

	rec := env.do(t, http.MethodPost, "/v1/workflows/wf-run/executions", triggerRequest{
		Data: map[string]interface{}{"user": "ada"},
	}, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	resp := decodeJSON[map[string]string](t, rec)
	executionID := resp["execution_id"]
	require.NotEmpty(t, executionID)

	// The execution is asynchronous; poll until the result lands.
	require.Eventually(t, func() bool {
		rec := env.do(t, http.MethodGet, "/v1/executions/"+executionID, nil, nil)
		if rec.Code != http.StatusOK {
			return false
		}
		result := decodeJSON[domain.ExecutionResult](t, rec)
		return result.Status == domain.ExecutionStatusCompleted
	}, 5*time.Second, 20*time.Millisecond)
}

func TestTriggerExecutionRequiresActiveWorkflow(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.SaveGraph(context.Background(), apiGraph("wf-draft")))

	rec := env.do(t, http.MethodPost, "/v1/workflows/wf-draft/executions", triggerRequest{}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestDryRunEndpointReturnsTrace(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.SaveGraph(context.Background(), apiGraph("wf-dry")))

	rec := env.do(t, http.MethodPost, "/v1/workflows/wf-dry/dry-run", triggerRequest{
		Data: map[string]interface{}{"user": "ada"},
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	result := decodeJSON[domain.ExecutionResult](t, rec)
	assert.True(t, result.DryRun)
	assert.Equal(t, domain.ExecutionStatusCompleted, result.Status)
	require.NotEmpty(t, result.Trace)
	assert.Equal(t, "chat.message", result.Trace[0].Action)
}

func TestCancelUnknownExecution(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodDelete, "/v1/executions/ghost", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestScheduleEndpoints(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.SaveGraph(context.Background(), apiGraph("wf-sched")))

	sched := domain.Schedule{
		WorkflowID:     "wf-sched",
		Kind:           domain.ScheduleKindCron,
		CronExpression: "0 12 * * *",
		Active:         true,
	}
	rec := env.do(t, http.MethodPost, "/v1/schedules", sched, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeJSON[domain.Schedule](t, rec)
	require.NotEmpty(t, created.ID)
	require.NotNil(t, created.NextRunAt)

	rec = env.do(t, http.MethodGet, "/v1/schedules/"+created.ID, nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/schedules", nil, nil)
	list := decodeJSON[[]domain.Schedule](t, rec)
	assert.Len(t, list, 1)

	rec = env.do(t, http.MethodDelete, "/v1/schedules/"+created.ID, nil, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestCreateScheduleRejectsBadCron(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.SaveGraph(context.Background(), apiGraph("wf-sched2")))

	rec := env.do(t, http.MethodPost, "/v1/schedules", domain.Schedule{
		WorkflowID:     "wf-sched2",
		Kind:           domain.ScheduleKindCron,
		CronExpression: "not a cron",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateScheduleUnknownWorkflow(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/schedules", domain.Schedule{
		WorkflowID:     "ghost",
		Kind:           domain.ScheduleKindCron,
		CronExpression: "0 12 * * *",
	}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
