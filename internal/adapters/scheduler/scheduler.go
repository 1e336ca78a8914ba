package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/weft-io/weft/internal/domain"
	"github.com/weft-io/weft/internal/ports"
)

// Launcher starts an execution for a workflow graph. The execution manager
// satisfies this.
type Launcher interface {
	Start(ctx context.Context, graph *domain.WorkflowGraph, input domain.TriggerInput) (string, error)
}

// Scheduler owns the timed production of executions. It keeps an in-memory
// index of schedules, scans it on a fixed interval and fires whatever is
// due, writing every mutation back through storage.
type Scheduler struct {
	config   domain.SchedulerConfig
	storage  ports.Storage
	launcher Launcher
	gate     ports.PermissionGate
	logger   *slog.Logger

	mu        sync.RWMutex
	schedules map[string]*domain.Schedule
	running   bool
	stop      chan struct{}

	wg  sync.WaitGroup
	now func() time.Time
}

func New(config domain.SchedulerConfig, storage ports.Storage, launcher Launcher, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		config:    config,
		storage:   storage,
		launcher:  launcher,
		gate:      ports.AllowAllGate{},
		logger:    logger.With("component", "scheduler"),
		schedules: make(map[string]*domain.Schedule),
		now:       time.Now,
	}
}

// SetGate installs the entitlement gate consulted before schedule creation.
func (s *Scheduler) SetGate(gate ports.PermissionGate) {
	s.gate = gate
}

// Start loads persisted schedules and begins the check loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return domain.ErrAlreadyStarted
	}
	s.running = true
	s.stop = make(chan struct{})
	s.mu.Unlock()

	persisted, err := s.storage.ListSchedules(ctx)
	if err != nil {
		return err
	}

	now := s.now()
	s.mu.Lock()
	for _, sched := range persisted {
		if sched.Active && sched.NextRunAt == nil {
			if next, err := NextRun(sched, now); err == nil && !next.IsZero() {
				sched.NextRunAt = &next
			}
		}
		s.schedules[sched.ID] = sched
	}
	count := len(s.schedules)
	s.mu.Unlock()

	s.logger.Info("scheduler started", "schedules", count, "check_interval", s.config.CheckInterval)

	s.wg.Add(1)
	go s.loop()
	return nil
}

// Stop halts the check loop and waits for in-flight fires to settle, up to
// the drain timeout.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return domain.ErrNotStarted
	}
	s.running = false
	close(s.stop)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("scheduler stopped")
		return nil
	case <-time.After(s.config.DrainTimeout):
		return domain.NewTimeoutError("scheduler drain")
	}
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.Tick(context.Background())
		}
	}
}

// Tick scans the index once and fires every due schedule. It is exported
// so callers with their own clock discipline can drive the scheduler.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now()

	s.mu.RLock()
	due := make([]*domain.Schedule, 0)
	for _, sched := range s.schedules {
		if sched.Active && sched.NextRunAt != nil && !sched.NextRunAt.After(now) {
			due = append(due, sched)
		}
	}
	s.mu.RUnlock()

	for _, sched := range due {
		s.fire(ctx, sched, now)
	}
}

func (s *Scheduler) fire(ctx context.Context, sched *domain.Schedule, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Re-check under the lock; an update may have raced the scan.
	if !sched.Active || sched.NextRunAt == nil || sched.NextRunAt.After(now) {
		return
	}

	missedBy := now.Sub(*sched.NextRunAt)
	if missedBy > s.config.GracePeriod {
		s.logger.Warn("skipping missed run",
			"schedule_id", sched.ID,
			"workflow_id", sched.WorkflowID,
			"missed_by", missedBy)
		s.advanceLocked(ctx, sched, now)
		return
	}

	firedAt := *sched.NextRunAt
	sched.LastRunAt = &firedAt
	sched.ExecutionCount++
	s.advanceLocked(ctx, sched, now)

	s.wg.Add(1)
	go s.launch(sched.ID, sched.WorkflowID, sched.Context, firedAt)
}

// advanceLocked recomputes NextRunAt, deactivates exhausted schedules and
// persists the result.
func (s *Scheduler) advanceLocked(ctx context.Context, sched *domain.Schedule, now time.Time) {
	exhausted := sched.MaxExecutions > 0 && sched.ExecutionCount >= sched.MaxExecutions
	if sched.Kind == domain.ScheduleKindOneTime || exhausted {
		sched.Active = false
		sched.NextRunAt = nil
		if exhausted {
			s.logger.Info("schedule exhausted",
				"schedule_id", sched.ID,
				"executions", sched.ExecutionCount)
		}
	} else {
		next, err := NextRun(sched, now)
		if err != nil || next.IsZero() {
			sched.Active = false
			sched.NextRunAt = nil
		} else {
			sched.NextRunAt = &next
		}
	}
	sched.UpdatedAt = now

	if err := s.storage.SaveSchedule(ctx, sched); err != nil {
		s.logger.Error("failed to persist schedule", "schedule_id", sched.ID, "error", err)
	}
}

// launch runs outside the scheduler lock; a slow workflow must not delay
// other schedules.
func (s *Scheduler) launch(scheduleID, workflowID string, data map[string]interface{}, firedAt time.Time) {
	defer s.wg.Done()

	ctx := context.Background()
	graph, err := s.storage.LoadGraph(ctx, workflowID)
	if err != nil {
		s.logger.Error("schedule fire failed to load workflow",
			"schedule_id", scheduleID,
			"workflow_id", workflowID,
			"error", err)
		return
	}
	if graph.Status != domain.WorkflowStatusActive {
		s.logger.Warn("schedule fired for inactive workflow",
			"schedule_id", scheduleID,
			"workflow_id", workflowID,
			"status", graph.Status)
		return
	}

	trigger := ""
	for _, node := range graph.TriggerNodes() {
		if node.Type == domain.NodeTypeScheduleTrigger {
			trigger = node.ID
			break
		}
	}

	executionID, err := s.launcher.Start(ctx, graph, domain.TriggerInput{
		TriggerNodeID: trigger,
		ScheduleID:    scheduleID,
		FiredAt:       firedAt,
		Data:          data,
	})
	if err != nil {
		s.logger.Error("schedule fire failed",
			"schedule_id", scheduleID,
			"workflow_id", workflowID,
			"error", err)
		return
	}

	s.logger.Info("schedule fired",
		"schedule_id", scheduleID,
		"workflow_id", workflowID,
		"execution_id", executionID)

	if err := s.storage.AppendAuditEntry(ctx, ports.AuditEntry{
		Kind:        "schedule.fired",
		WorkflowID:  workflowID,
		ScheduleID:  scheduleID,
		ExecutionID: executionID,
	}); err != nil {
		s.logger.Warn("failed to record audit entry", "schedule_id", scheduleID, "error", err)
	}
}

// Create validates, indexes and persists a new schedule.
func (s *Scheduler) Create(ctx context.Context, sched *domain.Schedule) error {
	entitled, err := s.gate.IsFeatureEntitled(ctx, "schedules")
	if err != nil {
		return domain.Error{
			Type:    domain.ErrorTypeInternal,
			Message: "entitlement check failed",
			Cause:   err,
		}
	}
	if !entitled {
		return domain.NewLicenseRequiredError("schedules")
	}

	if err := ValidateSchedule(sched); err != nil {
		return err
	}

	if sched.ID == "" {
		sched.ID = uuid.New().String()
	}
	now := s.now()
	sched.CreatedAt = now
	sched.UpdatedAt = now

	if sched.Active {
		next, err := NextRun(sched, now)
		if err != nil {
			return err
		}
		if next.IsZero() {
			// A one-time schedule in the past never fires.
			sched.Active = false
			sched.NextRunAt = nil
			s.logger.Warn("schedule created already in the past", "schedule_id", sched.ID)
		} else {
			sched.NextRunAt = &next
		}
	}

	if err := s.storage.SaveSchedule(ctx, sched); err != nil {
		return err
	}

	s.mu.Lock()
	s.schedules[sched.ID] = sched
	s.mu.Unlock()

	s.logger.Info("schedule created",
		"schedule_id", sched.ID,
		"workflow_id", sched.WorkflowID,
		"kind", sched.Kind)
	return nil
}

// Update replaces the timing specification of an existing schedule. The
// run counters survive the update.
func (s *Scheduler) Update(ctx context.Context, sched *domain.Schedule) error {
	if err := ValidateSchedule(sched); err != nil {
		return err
	}

	s.mu.Lock()
	existing, ok := s.schedules[sched.ID]
	if !ok {
		s.mu.Unlock()
		return domain.NewNotFoundError("schedule", sched.ID)
	}
	sched.CreatedAt = existing.CreatedAt
	sched.ExecutionCount = existing.ExecutionCount
	sched.LastRunAt = existing.LastRunAt

	now := s.now()
	sched.UpdatedAt = now
	if sched.Active {
		next, err := NextRun(sched, now)
		if err != nil {
			s.mu.Unlock()
			return err
		}
		if next.IsZero() {
			sched.Active = false
			sched.NextRunAt = nil
		} else {
			sched.NextRunAt = &next
		}
	} else {
		sched.NextRunAt = nil
	}
	s.schedules[sched.ID] = sched
	s.mu.Unlock()

	return s.storage.SaveSchedule(ctx, sched)
}

func (s *Scheduler) Delete(ctx context.Context, scheduleID string) error {
	s.mu.Lock()
	_, ok := s.schedules[scheduleID]
	delete(s.schedules, scheduleID)
	s.mu.Unlock()

	if !ok {
		return domain.NewNotFoundError("schedule", scheduleID)
	}
	return s.storage.DeleteSchedule(ctx, scheduleID)
}

func (s *Scheduler) Get(scheduleID string) (*domain.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sched, ok := s.schedules[scheduleID]
	if !ok {
		return nil, domain.NewNotFoundError("schedule", scheduleID)
	}
	return sched, nil
}

// List returns the indexed schedules sorted by id for stable output.
func (s *Scheduler) List() []*domain.Schedule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Schedule, 0, len(s.schedules))
	for _, sched := range s.schedules {
		out = append(out, sched)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
