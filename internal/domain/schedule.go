package domain

import "time"

type ScheduleKind string

const (
	ScheduleKindCron     ScheduleKind = "cron"
	ScheduleKindInterval ScheduleKind = "interval"
	ScheduleKindOneTime  ScheduleKind = "one_time"
)

// Schedule is a timed specification that produces executions automatically.
// The schedule service is the single writer of NextRunAt, LastRunAt and
// ExecutionCount.
type Schedule struct {
	ID         string       `json:"id"`
	WorkflowID string       `json:"workflow_id"`
	Kind       ScheduleKind `json:"kind"`

	CronExpression  string     `json:"cron_expression,omitempty"`
	Timezone        string     `json:"timezone,omitempty"`
	IntervalSeconds int        `json:"interval_seconds,omitempty"`
	RunAt           *time.Time `json:"run_at,omitempty"`

	Active         bool       `json:"active"`
	NextRunAt      *time.Time `json:"next_run_at,omitempty"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty"`
	ExecutionCount int        `json:"execution_count"`
	MaxExecutions  int        `json:"max_executions,omitempty"`

	// Context is merged into the trigger input of every fire.
	Context   map[string]interface{} `json:"context,omitempty"`
	CreatedAt time.Time              `json:"created_at,omitempty"`
	UpdatedAt time.Time              `json:"updated_at,omitempty"`
}
