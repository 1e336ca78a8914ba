package domain

import (
	"sync"
	"sync/atomic"
	"time"
)

type VariableScope string

const (
	ScopeLocal    VariableScope = "local"
	ScopeWorkflow VariableScope = "workflow"
	ScopeGlobal   VariableScope = "global"
)

type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	}
	return false
}

type NodeStatus string

const (
	NodeStatusPending   NodeStatus = "pending"
	NodeStatusReady     NodeStatus = "ready"
	NodeStatusRunning   NodeStatus = "running"
	NodeStatusCompleted NodeStatus = "completed"
	NodeStatusFailed    NodeStatus = "failed"
	NodeStatusSkipped   NodeStatus = "skipped"
	NodeStatusCancelled NodeStatus = "cancelled"
)

func (s NodeStatus) Final() bool {
	switch s {
	case NodeStatusCompleted, NodeStatusFailed, NodeStatusSkipped, NodeStatusCancelled:
		return true
	}
	return false
}

// TriggerInput is the payload the entry point of an execution starts with,
// built by the caller (command dispatch, webhook endpoint, schedule fire).
type TriggerInput struct {
	TriggerNodeID string                 `json:"trigger_node_id,omitempty"`
	SessionID     string                 `json:"session_id,omitempty"`
	UserID        string                 `json:"user_id,omitempty"`
	EntityID      string                 `json:"entity_id,omitempty"`
	ScheduleID    string                 `json:"schedule_id,omitempty"`
	FiredAt       time.Time              `json:"fired_at,omitempty"`
	Data          map[string]interface{} `json:"data,omitempty"`
}

// ExecutionContext is the per-run mutable state shared by the engine and the
// node executor. Variable access is synchronized; parallel branches read and
// write it concurrently.
type ExecutionContext struct {
	ExecutionID     string
	WorkflowID      string
	WorkflowVersion int
	SessionID       string
	UserID          string
	EntityID        string
	StartedAt       time.Time
	DryRun          bool

	mu        sync.RWMutex
	local     map[string]interface{}
	workflow  map[string]interface{}
	global    map[string]interface{}
	path      []string
	cancelled atomic.Bool
}

func NewExecutionContext(executionID string, graph *WorkflowGraph, input TriggerInput) *ExecutionContext {
	workflowVars := make(map[string]interface{}, len(graph.Variables))
	for k, v := range graph.Variables {
		workflowVars[k] = v
	}

	local := make(map[string]interface{}, len(input.Data))
	for k, v := range input.Data {
		local[k] = v
	}

	return &ExecutionContext{
		ExecutionID:     executionID,
		WorkflowID:      graph.ID,
		WorkflowVersion: graph.Version,
		SessionID:       input.SessionID,
		UserID:          input.UserID,
		EntityID:        input.EntityID,
		StartedAt:       time.Now(),
		local:           local,
		workflow:        workflowVars,
		global:          make(map[string]interface{}),
	}
}

// GetVariable resolves a name through local, workflow then global scope.
func (c *ExecutionContext) GetVariable(name string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if v, ok := c.local[name]; ok {
		return v, true
	}
	if v, ok := c.workflow[name]; ok {
		return v, true
	}
	if v, ok := c.global[name]; ok {
		return v, true
	}
	return nil, false
}

func (c *ExecutionContext) GetVariableInScope(name string, scope VariableScope) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	m := c.scopeMap(scope)
	v, ok := m[name]
	return v, ok
}

func (c *ExecutionContext) SetVariable(name string, value interface{}, scope VariableScope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scopeMap(scope)[name] = value
}

func (c *ExecutionContext) DeleteVariable(name string, scope VariableScope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.scopeMap(scope), name)
}

// Snapshot returns a flattened copy of all visible variables, local scope
// winning over workflow, workflow over global.
func (c *ExecutionContext) Snapshot() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := make(map[string]interface{}, len(c.local)+len(c.workflow)+len(c.global))
	for k, v := range c.global {
		snap[k] = v
	}
	for k, v := range c.workflow {
		snap[k] = v
	}
	for k, v := range c.local {
		snap[k] = v
	}
	return snap
}

func (c *ExecutionContext) scopeMap(scope VariableScope) map[string]interface{} {
	switch scope {
	case ScopeWorkflow:
		return c.workflow
	case ScopeGlobal:
		return c.global
	default:
		return c.local
	}
}

func (c *ExecutionContext) RecordVisit(nodeID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.path = append(c.path, nodeID)
}

func (c *ExecutionContext) Path() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	path := make([]string, len(c.path))
	copy(path, c.path)
	return path
}

func (c *ExecutionContext) Cancel() {
	c.cancelled.Store(true)
}

func (c *ExecutionContext) Cancelled() bool {
	return c.cancelled.Load()
}

// NodeExecutionState is the per-node record of one execution. The executor
// finalizes it, capturing failures instead of letting them escape.
type NodeExecutionState struct {
	NodeID      string                 `json:"node_id"`
	Status      NodeStatus             `json:"status"`
	Input       map[string]interface{} `json:"input,omitempty"`
	Output      map[string]interface{} `json:"output,omitempty"`
	StartedAt   time.Time              `json:"started_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	Error       string                 `json:"error,omitempty"`
	ErrorType   string                 `json:"error_type,omitempty"`
	RetryCount  int                    `json:"retry_count,omitempty"`
	Logs        []string               `json:"logs,omitempty"`

	// Cause keeps the original error for in-process policy decisions; it is
	// not persisted.
	Cause error `json:"-"`
}

func (s *NodeExecutionState) AppendLog(line string) {
	s.Logs = append(s.Logs, line)
}

func (s *NodeExecutionState) Finalize(status NodeStatus) {
	now := time.Now()
	s.Status = status
	s.CompletedAt = &now
}

func (s *NodeExecutionState) Fail(err error) {
	s.Cause = err
	s.Error = err.Error()
	if t, ok := ErrorTypeOf(err); ok {
		s.ErrorType = t.String()
	} else {
		s.ErrorType = ErrorTypeNodeFailure.String()
	}
	s.Finalize(NodeStatusFailed)
}

// ExecutionResult is the terminal outcome of one run, handed to the storage
// collaborator for persistence.
type ExecutionResult struct {
	ExecutionID     string                         `json:"execution_id"`
	WorkflowID      string                         `json:"workflow_id"`
	WorkflowVersion int                            `json:"workflow_version"`
	Status          ExecutionStatus                `json:"status"`
	NodeStates      map[string]*NodeExecutionState `json:"node_states"`
	Path            []string                       `json:"path"`
	Output          map[string]interface{}         `json:"output,omitempty"`
	Error           string                         `json:"error,omitempty"`
	ErrorType       string                         `json:"error_type,omitempty"`
	DryRun          bool                           `json:"dry_run,omitempty"`
	Trace           []TraceEntry                   `json:"trace,omitempty"`
	StartedAt       time.Time                      `json:"started_at"`
	CompletedAt     time.Time                      `json:"completed_at"`
}

// TraceEntry records one simulated side effect from a dry run.
type TraceEntry struct {
	NodeID string                 `json:"node_id"`
	Action string                 `json:"action"`
	Detail map[string]interface{} `json:"detail,omitempty"`
	At     time.Time              `json:"at"`
}
