package storage

import (
	"context"
	"sort"
	"time"

	json "github.com/goccy/go-json"

	"github.com/weft-io/weft/internal/domain"
	"github.com/weft-io/weft/internal/ports"
)

func (s *Store) SaveGraph(_ context.Context, graph *domain.WorkflowGraph) error {
	s.logger.Debug("saving graph", "workflow_id", graph.ID, "version", graph.Version)
	return s.put(prefixGraph+graph.ID, graph)
}

func (s *Store) LoadGraph(_ context.Context, workflowID string) (*domain.WorkflowGraph, error) {
	var graph domain.WorkflowGraph
	if err := s.get(prefixGraph+workflowID, &graph); err != nil {
		return nil, notFound("workflow", workflowID, err)
	}
	return &graph, nil
}

func (s *Store) DeleteGraph(_ context.Context, workflowID string) error {
	ok, err := s.exists(prefixGraph + workflowID)
	if err != nil {
		return err
	}
	if !ok {
		return domain.NewNotFoundError("workflow", workflowID)
	}
	return s.delete(prefixGraph + workflowID)
}

func (s *Store) ListGraphs(_ context.Context) ([]*domain.WorkflowGraph, error) {
	var graphs []*domain.WorkflowGraph
	err := s.scanPrefix(prefixGraph, func(val []byte) error {
		var graph domain.WorkflowGraph
		if err := json.Unmarshal(val, &graph); err != nil {
			return err
		}
		graphs = append(graphs, &graph)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(graphs, func(i, j int) bool { return graphs[i].ID < graphs[j].ID })
	return graphs, nil
}

func (s *Store) SaveExecutionResult(_ context.Context, result *domain.ExecutionResult) error {
	return s.put(prefixExec+result.ExecutionID, result)
}

func (s *Store) LoadExecutionResult(_ context.Context, executionID string) (*domain.ExecutionResult, error) {
	var result domain.ExecutionResult
	if err := s.get(prefixExec+executionID, &result); err != nil {
		return nil, notFound("execution", executionID, err)
	}
	return &result, nil
}

// ListExecutionResults returns results for one workflow, newest first.
func (s *Store) ListExecutionResults(_ context.Context, workflowID string, limit int) ([]*domain.ExecutionResult, error) {
	var results []*domain.ExecutionResult
	err := s.scanPrefix(prefixExec, func(val []byte) error {
		var result domain.ExecutionResult
		if err := json.Unmarshal(val, &result); err != nil {
			return err
		}
		if workflowID == "" || result.WorkflowID == workflowID {
			results = append(results, &result)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].StartedAt.After(results[j].StartedAt)
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (s *Store) SaveSchedule(_ context.Context, schedule *domain.Schedule) error {
	return s.put(prefixSchedule+schedule.ID, schedule)
}

func (s *Store) LoadSchedule(_ context.Context, scheduleID string) (*domain.Schedule, error) {
	var schedule domain.Schedule
	if err := s.get(prefixSchedule+scheduleID, &schedule); err != nil {
		return nil, notFound("schedule", scheduleID, err)
	}
	return &schedule, nil
}

func (s *Store) DeleteSchedule(_ context.Context, scheduleID string) error {
	ok, err := s.exists(prefixSchedule + scheduleID)
	if err != nil {
		return err
	}
	if !ok {
		return domain.NewNotFoundError("schedule", scheduleID)
	}
	return s.delete(prefixSchedule + scheduleID)
}

func (s *Store) ListSchedules(_ context.Context) ([]*domain.Schedule, error) {
	var schedules []*domain.Schedule
	err := s.scanPrefix(prefixSchedule, func(val []byte) error {
		var schedule domain.Schedule
		if err := json.Unmarshal(val, &schedule); err != nil {
			return err
		}
		schedules = append(schedules, &schedule)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(schedules, func(i, j int) bool { return schedules[i].ID < schedules[j].ID })
	return schedules, nil
}

func (s *Store) AppendAuditEntry(_ context.Context, entry ports.AuditEntry) error {
	return s.put(auditKey(time.Now()), entry)
}

// ListAuditEntries returns the most recent audit entries, oldest first,
// capped at limit.
func (s *Store) ListAuditEntries(_ context.Context, limit int) ([]ports.AuditEntry, error) {
	var entries []ports.AuditEntry
	err := s.scanPrefix(prefixAudit, func(val []byte) error {
		var entry ports.AuditEntry
		if err := json.Unmarshal(val, &entry); err != nil {
			return err
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}
