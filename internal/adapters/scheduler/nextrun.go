package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/weft-io/weft/internal/domain"
)

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidateSchedule checks the timing specification for the schedule's kind.
func ValidateSchedule(s *domain.Schedule) error {
	if s.WorkflowID == "" {
		return domain.NewScheduleInvalidError("workflow_id", "must not be empty")
	}

	switch s.Kind {
	case domain.ScheduleKindCron:
		if s.CronExpression == "" {
			return domain.NewScheduleInvalidError("cron_expression", "must not be empty")
		}
		if _, err := cronParser.Parse(s.CronExpression); err != nil {
			return domain.NewScheduleInvalidError("cron_expression", err.Error())
		}
		if s.Timezone != "" {
			if _, err := time.LoadLocation(s.Timezone); err != nil {
				return domain.NewScheduleInvalidError("timezone", err.Error())
			}
		}
	case domain.ScheduleKindInterval:
		if s.IntervalSeconds <= 0 {
			return domain.NewScheduleInvalidError("interval_seconds", "must be positive")
		}
	case domain.ScheduleKindOneTime:
		if s.RunAt == nil {
			return domain.NewScheduleInvalidError("run_at", "must be set")
		}
	default:
		return domain.NewScheduleInvalidError("kind", fmt.Sprintf("unknown kind %q", s.Kind))
	}

	if s.MaxExecutions < 0 {
		return domain.NewScheduleInvalidError("max_executions", "must not be negative")
	}
	return nil
}

// NextRun computes the first fire time strictly after the reference
// instant, or the zero time when the schedule has no future run.
func NextRun(s *domain.Schedule, after time.Time) (time.Time, error) {
	switch s.Kind {
	case domain.ScheduleKindCron:
		spec, err := cronParser.Parse(s.CronExpression)
		if err != nil {
			return time.Time{}, domain.NewScheduleInvalidError("cron_expression", err.Error())
		}
		loc := time.UTC
		if s.Timezone != "" {
			loc, err = time.LoadLocation(s.Timezone)
			if err != nil {
				return time.Time{}, domain.NewScheduleInvalidError("timezone", err.Error())
			}
		}
		return spec.Next(after.In(loc)), nil

	case domain.ScheduleKindInterval:
		if s.IntervalSeconds <= 0 {
			return time.Time{}, domain.NewScheduleInvalidError("interval_seconds", "must be positive")
		}
		// Anchor on the last fire when there was one, so slow ticks do not
		// drift the cadence.
		anchor := after
		if s.LastRunAt != nil && s.LastRunAt.After(after.Add(-time.Duration(s.IntervalSeconds)*time.Second)) {
			anchor = *s.LastRunAt
		}
		return anchor.Add(time.Duration(s.IntervalSeconds) * time.Second), nil

	case domain.ScheduleKindOneTime:
		if s.RunAt == nil {
			return time.Time{}, domain.NewScheduleInvalidError("run_at", "must be set")
		}
		if s.RunAt.After(after) {
			return *s.RunAt, nil
		}
		return time.Time{}, nil
	}

	return time.Time{}, domain.NewScheduleInvalidError("kind", fmt.Sprintf("unknown kind %q", s.Kind))
}
