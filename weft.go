// Package weft is a workflow orchestration engine for visual node graphs.
//
// A workflow is a directed graph of typed nodes (triggers, conditions,
// actions, data operations, loops and flow control) joined by port-to-port
// connections. Weft validates graphs before activation, executes them with
// bounded loops, parallel branches and fan-in merges, and fires schedule
// triggers on cron, interval and one-time plans.
//
// Basic usage:
//
//	rt, err := weft.New(weft.Options{DataDir: "./data", Logger: logger})
//	if err != nil {
//	    return err
//	}
//	defer rt.Close()
//
//	result := rt.Validate(graph)
//	if result.Valid {
//	    out, err := rt.Execute(ctx, graph, weft.TriggerInput{Data: payload})
//	    ...
//	}
package weft

import (
	"context"
	"log/slog"

	"github.com/weft-io/weft/internal/adapters/engine"
	"github.com/weft-io/weft/internal/adapters/router"
	"github.com/weft-io/weft/internal/adapters/scheduler"
	"github.com/weft-io/weft/internal/adapters/storage"
	"github.com/weft-io/weft/internal/adapters/validator"
	"github.com/weft-io/weft/internal/domain"
	"github.com/weft-io/weft/internal/ports"
)

// WorkflowGraph is a complete workflow definition: nodes, connections,
// lifecycle status and per-run execution limits.
type WorkflowGraph = domain.WorkflowGraph

// Node is one step in a workflow graph.
type Node = domain.Node

// Connection joins an output port of one node to an input port of another.
type Connection = domain.Connection

// NodeType identifies what a node does; see the NodeType constants.
type NodeType = domain.NodeType

// TriggerInput is the payload an execution starts with.
type TriggerInput = domain.TriggerInput

// ExecutionResult is the persisted outcome of one run.
type ExecutionResult = domain.ExecutionResult

// ExecutionStatus is the lifecycle state of a run.
type ExecutionStatus = domain.ExecutionStatus

// Schedule plans future executions of a workflow.
type Schedule = domain.Schedule

// ValidationResult holds every finding from graph validation.
type ValidationResult = validator.Result

// Finding is a single validation error or warning.
type Finding = validator.Finding

// CapabilityRouter dispatches module actions and outbound messages to the
// host platform.
type CapabilityRouter = ports.CapabilityRouter

// PermissionGate answers authorization questions before executions proceed.
type PermissionGate = ports.PermissionGate

// Storage persists workflows, execution results, schedules and audit entries.
type Storage = ports.Storage

const (
	WorkflowStatusDraft  = domain.WorkflowStatusDraft
	WorkflowStatusActive = domain.WorkflowStatusActive
	WorkflowStatusPaused = domain.WorkflowStatusPaused

	ExecutionStatusRunning   = domain.ExecutionStatusRunning
	ExecutionStatusCompleted = domain.ExecutionStatusCompleted
	ExecutionStatusFailed    = domain.ExecutionStatusFailed
	ExecutionStatusCancelled = domain.ExecutionStatusCancelled
)

// Options configure a Runtime. Zero values fall back to defaults: in-memory
// storage, a standalone router, an allow-all gate and the stock limits.
type Options struct {
	// DataDir is where workflow state is persisted. Empty means in-memory.
	DataDir string
	// Router dispatches module and messaging actions. Nil gets a standalone
	// router that logs and acknowledges.
	Router ports.CapabilityRouter
	// Gate authorizes executions. Nil permits everything.
	Gate ports.PermissionGate

	Engine    domain.EngineConfig
	Scheduler domain.SchedulerConfig
	Limits    domain.ValidatorLimits

	Logger *slog.Logger
}

// Runtime bundles the validator, execution engine and scheduler over shared
// storage for embedding weft in a host application.
type Runtime struct {
	store     *storage.Store
	validator *validator.Validator
	engine    *engine.Engine
	manager   *engine.Manager
	scheduler *scheduler.Scheduler
}

func New(opts Options) (*Runtime, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var store *storage.Store
	var err error
	if opts.DataDir == "" {
		store, err = storage.NewInMemory(logger)
	} else {
		store, err = storage.New(opts.DataDir, logger)
	}
	if err != nil {
		return nil, err
	}

	capRouter := opts.Router
	if capRouter == nil {
		capRouter = router.NewStandalone(logger)
	}
	gate := opts.Gate
	if gate == nil {
		gate = ports.AllowAllGate{}
	}
	if opts.Engine == (domain.EngineConfig{}) {
		opts.Engine = domain.DefaultEngineConfig()
	}
	if opts.Scheduler == (domain.SchedulerConfig{}) {
		opts.Scheduler = domain.DefaultSchedulerConfig()
	}
	if opts.Limits == (domain.ValidatorLimits{}) {
		opts.Limits = domain.DefaultValidatorLimits()
	}

	eng := engine.New(opts.Engine, capRouter, gate, store, logger)
	mgr := engine.NewManager(eng, logger)
	sched := scheduler.New(opts.Scheduler, store, mgr, logger)
	sched.SetGate(gate)

	return &Runtime{
		store:     store,
		validator: validator.New(opts.Limits, logger),
		engine:    eng,
		manager:   mgr,
		scheduler: sched,
	}, nil
}

// Validate checks a graph for structural and configuration problems.
func (r *Runtime) Validate(graph *WorkflowGraph) *ValidationResult {
	return r.validator.Validate(graph)
}

// Execute runs a workflow synchronously and returns its result.
func (r *Runtime) Execute(ctx context.Context, graph *WorkflowGraph, input TriggerInput) (*ExecutionResult, error) {
	return r.engine.Execute(ctx, graph, input)
}

// DryRun walks a workflow without performing side effects, recording a trace
// of what each action would have done.
func (r *Runtime) DryRun(ctx context.Context, graph *WorkflowGraph, input TriggerInput) (*ExecutionResult, error) {
	return r.engine.DryRun(ctx, graph, input)
}

// Start launches a workflow in the background and returns its execution ID.
func (r *Runtime) Start(ctx context.Context, graph *WorkflowGraph, input TriggerInput) (string, error) {
	return r.manager.Start(ctx, graph, input)
}

// Cancel stops a running execution.
func (r *Runtime) Cancel(executionID string) error {
	return r.manager.Cancel(executionID)
}

// Wait blocks until the execution finishes or the context expires.
func (r *Runtime) Wait(ctx context.Context, executionID string) (*ExecutionResult, error) {
	return r.manager.Wait(ctx, executionID)
}

// Scheduler exposes schedule management and the background firing loop.
func (r *Runtime) Scheduler() *scheduler.Scheduler {
	return r.scheduler
}

// Storage exposes the persistence layer.
func (r *Runtime) Storage() Storage {
	return r.store
}

// Close drains in-flight executions and releases storage.
func (r *Runtime) Close() error {
	if err := r.manager.Drain(domain.DefaultSchedulerConfig().DrainTimeout); err != nil {
		return err
	}
	return r.store.Close()
}
