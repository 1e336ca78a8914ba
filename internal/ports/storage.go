package ports

import (
	"context"

	"github.com/weft-io/weft/internal/domain"
)

// Storage is the durable-persistence collaborator. The core never writes
// storage directly; it loads graph snapshots and hands terminal results and
// audit entries to this port.
type Storage interface {
	LoadGraph(ctx context.Context, workflowID string) (*domain.WorkflowGraph, error)
	SaveGraph(ctx context.Context, graph *domain.WorkflowGraph) error
	DeleteGraph(ctx context.Context, workflowID string) error
	ListGraphs(ctx context.Context) ([]*domain.WorkflowGraph, error)

	SaveExecutionResult(ctx context.Context, result *domain.ExecutionResult) error
	LoadExecutionResult(ctx context.Context, executionID string) (*domain.ExecutionResult, error)
	ListExecutionResults(ctx context.Context, workflowID string, limit int) ([]*domain.ExecutionResult, error)

	SaveSchedule(ctx context.Context, schedule *domain.Schedule) error
	LoadSchedule(ctx context.Context, scheduleID string) (*domain.Schedule, error)
	DeleteSchedule(ctx context.Context, scheduleID string) error
	ListSchedules(ctx context.Context) ([]*domain.Schedule, error)

	AppendAuditEntry(ctx context.Context, entry AuditEntry) error

	Close() error
}

type AuditEntry struct {
	Kind        string                 `json:"kind"`
	WorkflowID  string                 `json:"workflow_id,omitempty"`
	ExecutionID string                 `json:"execution_id,omitempty"`
	ScheduleID  string                 `json:"schedule_id,omitempty"`
	UserID      string                 `json:"user_id,omitempty"`
	Detail      map[string]interface{} `json:"detail,omitempty"`
}
