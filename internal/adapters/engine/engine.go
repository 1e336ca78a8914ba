package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/weft-io/weft/internal/adapters/expr"
	"github.com/weft-io/weft/internal/domain"
	"github.com/weft-io/weft/internal/ports"
)

// Engine walks a validated workflow graph and produces an execution result.
// One engine instance serves many concurrent executions; executions share
// nothing but the read-only graph snapshots they start from.
type Engine struct {
	config     domain.EngineConfig
	router     ports.CapabilityRouter
	gate       ports.PermissionGate
	storage    ports.Storage
	evaluator  *expr.Evaluator
	httpClient *http.Client
	logger     *slog.Logger

	mu     sync.Mutex
	active map[string]*domain.ExecutionContext
}

func New(config domain.EngineConfig, router ports.CapabilityRouter, gate ports.PermissionGate, storage ports.Storage, logger *slog.Logger) *Engine {
	if gate == nil {
		gate = ports.AllowAllGate{}
	}

	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}

	return &Engine{
		config:    config,
		router:    router,
		gate:      gate,
		storage:   storage,
		evaluator: expr.NewEvaluator(config.ExpressionTimeout),
		httpClient: &http.Client{
			Transport: transport,
		},
		logger: logger.With("component", "engine"),
		active: make(map[string]*domain.ExecutionContext),
	}
}

// cancelExecution flips the cancellation flag of an in-flight execution so
// checkpoints observe it even before the run context unwinds.
func (e *Engine) cancelExecution(executionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if execCtx, ok := e.active[executionID]; ok {
		execCtx.Cancel()
	}
}

func (e *Engine) trackExecution(execCtx *domain.ExecutionContext) {
	e.mu.Lock()
	e.active[execCtx.ExecutionID] = execCtx
	e.mu.Unlock()
}

func (e *Engine) untrackExecution(executionID string) {
	e.mu.Lock()
	delete(e.active, executionID)
	e.mu.Unlock()
}

// Execute runs one full execution of the graph and always returns a result
// describing the outcome; the error return covers only pre-flight refusals
// (permission, missing trigger), never node-level failures.
func (e *Engine) Execute(ctx context.Context, graph *domain.WorkflowGraph, input domain.TriggerInput) (*domain.ExecutionResult, error) {
	return e.run(ctx, graph, input, false)
}

// DryRun executes the identical state machine with every externally
// observable side effect replaced by a trace entry.
func (e *Engine) DryRun(ctx context.Context, graph *domain.WorkflowGraph, input domain.TriggerInput) (*domain.ExecutionResult, error) {
	return e.run(ctx, graph, input, true)
}

func (e *Engine) run(ctx context.Context, graph *domain.WorkflowGraph, input domain.TriggerInput, dryRun bool) (*domain.ExecutionResult, error) {
	return e.runAs(ctx, uuid.New().String(), graph, input, dryRun)
}

func (e *Engine) runAs(ctx context.Context, executionID string, graph *domain.WorkflowGraph, input domain.TriggerInput, dryRun bool) (*domain.ExecutionResult, error) {
	if input.UserID != "" {
		allowed, err := e.gate.CanExecute(ctx, graph.ID, input.UserID)
		if err != nil {
			return nil, domain.Error{
				Type:    domain.ErrorTypeInternal,
				Message: "permission check failed",
				Details: map[string]interface{}{"workflow_id": graph.ID},
				Cause:   err,
			}
		}
		if !allowed {
			return nil, domain.NewPermissionDeniedError(graph.ID, input.UserID)
		}
	}

	snapshot, err := graph.Clone()
	if err != nil {
		return nil, err
	}

	trigger, err := e.pickTrigger(snapshot, input)
	if err != nil {
		return nil, err
	}

	execCtx := domain.NewExecutionContext(executionID, snapshot, input)
	execCtx.DryRun = dryRun
	e.trackExecution(execCtx)
	defer e.untrackExecution(executionID)

	ex := newExecution(e, snapshot, execCtx, e.logger.With(
		"execution_id", executionID,
		"workflow_id", snapshot.ID,
	))

	timeout := e.config.ExecutionTimeout
	if snapshot.Limits.MaxDuration > 0 && snapshot.Limits.MaxDuration < timeout {
		timeout = snapshot.Limits.MaxDuration
	}

	ex.logger.Info("execution starting",
		"trigger_node", trigger.ID,
		"dry_run", dryRun,
		"timeout", timeout)

	if e.storage != nil && !dryRun {
		if err := e.storage.AppendAuditEntry(ctx, ports.AuditEntry{
			Kind:        "execution.started",
			WorkflowID:  snapshot.ID,
			ExecutionID: executionID,
			UserID:      input.UserID,
		}); err != nil {
			ex.logger.Error("failed to append audit entry", "error", err)
		}
	}

	result := ex.run(ctx, trigger, timeout)

	if e.storage != nil && !dryRun {
		if err := e.storage.SaveExecutionResult(ctx, result); err != nil {
			ex.logger.Error("failed to persist execution result", "error", err)
		}
		if err := e.storage.AppendAuditEntry(ctx, ports.AuditEntry{
			Kind:        "execution." + string(result.Status),
			WorkflowID:  snapshot.ID,
			ExecutionID: executionID,
			UserID:      input.UserID,
		}); err != nil {
			ex.logger.Error("failed to append audit entry", "error", err)
		}
	}

	ex.logger.Info("execution finished",
		"status", result.Status,
		"nodes_visited", len(result.Path),
		"duration", result.CompletedAt.Sub(result.StartedAt))

	return result, nil
}

func (e *Engine) pickTrigger(graph *domain.WorkflowGraph, input domain.TriggerInput) (*domain.Node, error) {
	if input.TriggerNodeID != "" {
		node, ok := graph.Node(input.TriggerNodeID)
		if !ok {
			return nil, domain.NewNotFoundError("trigger node", input.TriggerNodeID)
		}
		if !node.Type.IsTrigger() {
			return nil, domain.Error{
				Type:    domain.ErrorTypeValidation,
				Message: fmt.Sprintf("node %s is not a trigger", input.TriggerNodeID),
				Details: map[string]interface{}{"node_id": input.TriggerNodeID},
			}
		}
		return node, nil
	}

	triggers := graph.TriggerNodes()
	if len(triggers) == 0 {
		return nil, domain.Error{
			Type:    domain.ErrorTypeValidation,
			Message: "workflow has no trigger node",
			Details: map[string]interface{}{"workflow_id": graph.ID},
		}
	}
	if len(triggers) > 1 {
		return nil, domain.Error{
			Type:    domain.ErrorTypeValidation,
			Message: "trigger node must be named when the workflow has several",
			Details: map[string]interface{}{"workflow_id": graph.ID, "trigger_count": len(triggers)},
		}
	}
	return triggers[0], nil
}
