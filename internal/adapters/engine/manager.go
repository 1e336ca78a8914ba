package engine

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/weft-io/weft/internal/domain"
)

// ExecutionInfo is a live view of one in-flight execution.
type ExecutionInfo struct {
	ExecutionID string    `json:"execution_id"`
	WorkflowID  string    `json:"workflow_id"`
	UserID      string    `json:"user_id,omitempty"`
	DryRun      bool      `json:"dry_run,omitempty"`
	StartedAt   time.Time `json:"started_at"`
}

type inflight struct {
	info   ExecutionInfo
	cancel context.CancelFunc
	done   chan struct{}
	result *domain.ExecutionResult
	err    error
}

// Manager tracks in-flight executions so callers can start them
// asynchronously, poll their status and cancel them by id. Finished
// results stay available in memory for a bounded window; older ones come
// back from storage.
type Manager struct {
	engine *Engine
	logger *slog.Logger

	mu       sync.RWMutex
	running  map[string]*inflight
	finished map[string]*inflight
	order    []string
	closed   bool

	wg sync.WaitGroup
}

const finishedRetention = 256

func NewManager(e *Engine, logger *slog.Logger) *Manager {
	return &Manager{
		engine:   e,
		logger:   logger.With("component", "execution_manager"),
		running:  make(map[string]*inflight),
		finished: make(map[string]*inflight),
	}
}

// Start launches an execution in the background and returns its id
// immediately.
func (m *Manager) Start(ctx context.Context, graph *domain.WorkflowGraph, input domain.TriggerInput) (string, error) {
	return m.start(ctx, graph, input, false)
}

// StartDryRun launches a simulation in the background.
func (m *Manager) StartDryRun(ctx context.Context, graph *domain.WorkflowGraph, input domain.TriggerInput) (string, error) {
	return m.start(ctx, graph, input, true)
}

func (m *Manager) start(parent context.Context, graph *domain.WorkflowGraph, input domain.TriggerInput, dryRun bool) (string, error) {
	executionID := uuid.New().String()

	// The execution outlives the caller's request context.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(parent))

	entry := &inflight{
		info: ExecutionInfo{
			ExecutionID: executionID,
			WorkflowID:  graph.ID,
			UserID:      input.UserID,
			DryRun:      dryRun,
			StartedAt:   time.Now(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		return "", domain.Error{
			Type:    domain.ErrorTypeConflict,
			Message: "execution manager is draining",
		}
	}
	m.running[executionID] = entry
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		defer cancel()

		result, err := m.engine.runAs(runCtx, executionID, graph, input, dryRun)
		entry.result = result
		entry.err = err
		close(entry.done)

		m.mu.Lock()
		delete(m.running, executionID)
		m.finished[executionID] = entry
		m.order = append(m.order, executionID)
		for len(m.order) > finishedRetention {
			delete(m.finished, m.order[0])
			m.order = m.order[1:]
		}
		m.mu.Unlock()

		if err != nil {
			m.logger.Warn("execution rejected", "execution_id", executionID, "error", err)
		}
	}()

	return executionID, nil
}

// Cancel requests a cooperative stop of one in-flight execution.
func (m *Manager) Cancel(executionID string) error {
	m.mu.RLock()
	entry, ok := m.running[executionID]
	m.mu.RUnlock()
	if !ok {
		return domain.NewNotFoundError("execution", executionID)
	}

	m.logger.Info("cancelling execution", "execution_id", executionID)
	m.engine.cancelExecution(executionID)
	entry.cancel()
	return nil
}

// Status reports the current phase of an execution by id.
func (m *Manager) Status(executionID string) (domain.ExecutionStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.running[executionID]; ok {
		return domain.ExecutionStatusRunning, nil
	}
	if entry, ok := m.finished[executionID]; ok {
		if entry.result != nil {
			return entry.result.Status, nil
		}
		return domain.ExecutionStatusFailed, nil
	}
	return "", domain.NewNotFoundError("execution", executionID)
}

// Result returns the outcome of a finished execution, consulting storage
// for results that aged out of the in-memory window.
func (m *Manager) Result(ctx context.Context, executionID string) (*domain.ExecutionResult, error) {
	m.mu.RLock()
	entry, ok := m.finished[executionID]
	m.mu.RUnlock()

	if ok {
		if entry.err != nil {
			return nil, entry.err
		}
		return entry.result, nil
	}

	if m.engine.storage != nil {
		return m.engine.storage.LoadExecutionResult(ctx, executionID)
	}
	return nil, domain.NewNotFoundError("execution", executionID)
}

// Wait blocks until the execution finishes or the context expires.
func (m *Manager) Wait(ctx context.Context, executionID string) (*domain.ExecutionResult, error) {
	m.mu.RLock()
	entry, ok := m.running[executionID]
	if !ok {
		entry, ok = m.finished[executionID]
	}
	m.mu.RUnlock()
	if !ok {
		return nil, domain.NewNotFoundError("execution", executionID)
	}

	select {
	case <-entry.done:
		if entry.err != nil {
			return nil, entry.err
		}
		return entry.result, nil
	case <-ctx.Done():
		return nil, domain.NewTimeoutError("waiting for execution")
	}
}

// List returns the in-flight executions, oldest first.
func (m *Manager) List() []ExecutionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]ExecutionInfo, 0, len(m.running))
	for _, entry := range m.running {
		infos = append(infos, entry.info)
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].StartedAt.Before(infos[j].StartedAt)
	})
	return infos
}

// Drain stops accepting new executions and waits up to the timeout for the
// in-flight ones, cancelling whatever is still running after it.
func (m *Manager) Drain(timeout time.Duration) error {
	m.mu.Lock()
	m.closed = true
	remaining := len(m.running)
	m.mu.Unlock()

	m.logger.Info("draining executions", "in_flight", remaining)

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
	}

	m.mu.RLock()
	for _, entry := range m.running {
		entry.cancel()
	}
	m.mu.RUnlock()

	<-done
	return domain.NewTimeoutError("execution drain")
}
