package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weft-io/weft/internal/adapters/storage"
	"github.com/weft-io/weft/internal/domain"
)

type fakeLauncher struct {
	mu    sync.Mutex
	fires []domain.TriggerInput
	ch    chan domain.TriggerInput
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{ch: make(chan domain.TriggerInput, 16)}
}

func (f *fakeLauncher) Start(_ context.Context, _ *domain.WorkflowGraph, input domain.TriggerInput) (string, error) {
	f.mu.Lock()
	f.fires = append(f.fires, input)
	f.mu.Unlock()
	f.ch <- input
	return "exec-1", nil
}

func (f *fakeLauncher) fireCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fires)
}

func (f *fakeLauncher) waitForFire(t *testing.T) domain.TriggerInput {
	t.Helper()
	select {
	case input := <-f.ch:
		return input
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for schedule fire")
		return domain.TriggerInput{}
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func activeGraph(id string) *domain.WorkflowGraph {
	return &domain.WorkflowGraph{
		ID:      id,
		Name:    "scheduled workflow",
		Version: 1,
		Status:  domain.WorkflowStatusActive,
		Nodes: map[string]*domain.Node{
			"cron": {
				ID:      "cron",
				Type:    domain.NodeTypeScheduleTrigger,
				Enabled: true,
				Config:  map[string]interface{}{"cron": "0 12 * * *"},
			},
		},
	}
}

func testScheduler(t *testing.T) (*Scheduler, *fakeLauncher, *storage.Store) {
	t.Helper()
	store, err := storage.NewInMemory(testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	launcher := newFakeLauncher()
	s := New(domain.DefaultSchedulerConfig(), store, launcher, testLogger())
	return s, launcher, store
}

func TestNextRun_CronDailyNoonUTC(t *testing.T) {
	sched := &domain.Schedule{
		Kind:           domain.ScheduleKindCron,
		CronExpression: "0 12 * * *",
	}

	morning := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	next, err := NextRun(sched, morning)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), next.UTC())

	afternoon := time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)
	next, err = NextRun(sched, afternoon)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC), next.UTC())
}

func TestNextRun_CronRespectsTimezone(t *testing.T) {
	sched := &domain.Schedule{
		Kind:           domain.ScheduleKindCron,
		CronExpression: "0 12 * * *",
		Timezone:       "America/New_York",
	}

	after := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	next, err := NextRun(sched, after)
	require.NoError(t, err)
	// Noon eastern standard time is 17:00 UTC.
	assert.Equal(t, time.Date(2026, 1, 5, 17, 0, 0, 0, time.UTC), next.UTC())
}

func TestNextRun_Interval(t *testing.T) {
	sched := &domain.Schedule{
		Kind:            domain.ScheduleKindInterval,
		IntervalSeconds: 300,
	}

	after := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	next, err := NextRun(sched, after)
	require.NoError(t, err)
	assert.Equal(t, after.Add(5*time.Minute), next)
}

func TestNextRun_OneTimeInPastNeverFires(t *testing.T) {
	past := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sched := &domain.Schedule{
		Kind:  domain.ScheduleKindOneTime,
		RunAt: &past,
	}

	next, err := NextRun(sched, past.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, next.IsZero())
}

func TestValidateSchedule(t *testing.T) {
	future := time.Now().Add(time.Hour)

	tests := []struct {
		name    string
		sched   domain.Schedule
		wantErr bool
	}{
		{"valid cron", domain.Schedule{WorkflowID: "wf", Kind: domain.ScheduleKindCron, CronExpression: "*/5 * * * *"}, false},
		{"valid descriptor", domain.Schedule{WorkflowID: "wf", Kind: domain.ScheduleKindCron, CronExpression: "@hourly"}, false},
		{"bad cron", domain.Schedule{WorkflowID: "wf", Kind: domain.ScheduleKindCron, CronExpression: "99 99 * * *"}, true},
		{"empty cron", domain.Schedule{WorkflowID: "wf", Kind: domain.ScheduleKindCron}, true},
		{"bad timezone", domain.Schedule{WorkflowID: "wf", Kind: domain.ScheduleKindCron, CronExpression: "0 12 * * *", Timezone: "Mars/Olympus"}, true},
		{"valid interval", domain.Schedule{WorkflowID: "wf", Kind: domain.ScheduleKindInterval, IntervalSeconds: 60}, false},
		{"zero interval", domain.Schedule{WorkflowID: "wf", Kind: domain.ScheduleKindInterval}, true},
		{"valid one time", domain.Schedule{WorkflowID: "wf", Kind: domain.ScheduleKindOneTime, RunAt: &future}, false},
		{"missing run at", domain.Schedule{WorkflowID: "wf", Kind: domain.ScheduleKindOneTime}, true},
		{"unknown kind", domain.Schedule{WorkflowID: "wf", Kind: "lunar"}, true},
		{"missing workflow", domain.Schedule{Kind: domain.ScheduleKindCron, CronExpression: "0 12 * * *"}, true},
		{"negative max executions", domain.Schedule{WorkflowID: "wf", Kind: domain.ScheduleKindInterval, IntervalSeconds: 60, MaxExecutions: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSchedule(&tt.sched)
			if tt.wantErr {
				require.Error(t, err)
				typ, ok := domain.ErrorTypeOf(err)
				require.True(t, ok)
				assert.Equal(t, domain.ErrorTypeScheduleInvalid, typ)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestScheduler_CreateComputesNextRun(t *testing.T) {
	s, _, store := testScheduler(t)
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return t0 }

	sched := &domain.Schedule{
		WorkflowID:     "wf-1",
		Kind:           domain.ScheduleKindCron,
		CronExpression: "0 12 * * *",
		Active:         true,
	}
	require.NoError(t, s.Create(context.Background(), sched))
	require.NotEmpty(t, sched.ID)
	require.NotNil(t, sched.NextRunAt)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), sched.NextRunAt.UTC())

	persisted, err := store.LoadSchedule(context.Background(), sched.ID)
	require.NoError(t, err)
	assert.True(t, persisted.Active)
}

func TestScheduler_CreatePastOneTimeIsDeactivated(t *testing.T) {
	s, _, _ := testScheduler(t)
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return t0 }

	past := t0.Add(-time.Hour)
	sched := &domain.Schedule{
		WorkflowID: "wf-1",
		Kind:       domain.ScheduleKindOneTime,
		RunAt:      &past,
		Active:     true,
	}
	require.NoError(t, s.Create(context.Background(), sched))
	assert.False(t, sched.Active)
	assert.Nil(t, sched.NextRunAt)
}

type noSchedulesGate struct{}

func (noSchedulesGate) CanExecute(context.Context, string, string) (bool, error) {
	return true, nil
}

func (noSchedulesGate) IsFeatureEntitled(_ context.Context, feature string) (bool, error) {
	return feature != "schedules", nil
}

func TestScheduler_CreateRequiresEntitlement(t *testing.T) {
	s, _, _ := testScheduler(t)
	s.SetGate(noSchedulesGate{})

	err := s.Create(context.Background(), &domain.Schedule{
		WorkflowID:     "wf-1",
		Kind:           domain.ScheduleKindCron,
		CronExpression: "0 12 * * *",
		Active:         true,
	})
	require.Error(t, err)
	kind, ok := domain.ErrorTypeOf(err)
	require.True(t, ok)
	assert.Equal(t, domain.ErrorTypeLicenseRequired, kind)
}

func TestScheduler_TickFiresDueSchedule(t *testing.T) {
	s, launcher, store := testScheduler(t)
	ctx := context.Background()
	require.NoError(t, store.SaveGraph(ctx, activeGraph("wf-1")))

	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return t0 }

	sched := &domain.Schedule{
		WorkflowID:      "wf-1",
		Kind:            domain.ScheduleKindInterval,
		IntervalSeconds: 60,
		Active:          true,
		Context:         map[string]interface{}{"source": "timer"},
	}
	require.NoError(t, s.Create(ctx, sched))

	// Advance past the next run but inside the grace period.
	s.now = func() time.Time { return t0.Add(90 * time.Second) }
	s.Tick(ctx)

	input := launcher.waitForFire(t)
	assert.Equal(t, sched.ID, input.ScheduleID)
	assert.Equal(t, "cron", input.TriggerNodeID)
	assert.Equal(t, "timer", input.Data["source"])

	got, err := s.Get(sched.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ExecutionCount)
	require.NotNil(t, got.LastRunAt)
	require.NotNil(t, got.NextRunAt)
	assert.True(t, got.NextRunAt.After(*got.LastRunAt))
}

func TestScheduler_MissedRunBeyondGraceIsSkipped(t *testing.T) {
	s, launcher, store := testScheduler(t)
	ctx := context.Background()
	require.NoError(t, store.SaveGraph(ctx, activeGraph("wf-1")))

	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return t0 }

	sched := &domain.Schedule{
		WorkflowID:      "wf-1",
		Kind:            domain.ScheduleKindInterval,
		IntervalSeconds: 60,
		Active:          true,
	}
	require.NoError(t, s.Create(ctx, sched))

	// Ten minutes late with a five minute grace period.
	s.now = func() time.Time { return t0.Add(11 * time.Minute) }
	s.Tick(ctx)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, launcher.fireCount())

	got, err := s.Get(sched.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.ExecutionCount)
	require.NotNil(t, got.NextRunAt)
	assert.True(t, got.NextRunAt.After(t0.Add(11*time.Minute)))
}

func TestScheduler_MaxExecutionsDeactivates(t *testing.T) {
	s, launcher, store := testScheduler(t)
	ctx := context.Background()
	require.NoError(t, store.SaveGraph(ctx, activeGraph("wf-1")))

	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return t0 }

	sched := &domain.Schedule{
		WorkflowID:      "wf-1",
		Kind:            domain.ScheduleKindInterval,
		IntervalSeconds: 60,
		Active:          true,
		MaxExecutions:   1,
	}
	require.NoError(t, s.Create(ctx, sched))

	s.now = func() time.Time { return t0.Add(61 * time.Second) }
	s.Tick(ctx)
	launcher.waitForFire(t)

	got, err := s.Get(sched.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
	assert.Nil(t, got.NextRunAt)
	assert.Equal(t, 1, got.ExecutionCount)
}

func TestScheduler_StartStopLifecycle(t *testing.T) {
	s, _, _ := testScheduler(t)
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	assert.Equal(t, domain.ErrAlreadyStarted, s.Start(ctx))

	require.NoError(t, s.Stop())
	assert.Equal(t, domain.ErrNotStarted, s.Stop())
}

func TestScheduler_StartRecoversPersistedSchedules(t *testing.T) {
	store, err := storage.NewInMemory(testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	ctx := context.Background()

	require.NoError(t, store.SaveSchedule(ctx, &domain.Schedule{
		ID:              "sched-persisted",
		WorkflowID:      "wf-1",
		Kind:            domain.ScheduleKindInterval,
		IntervalSeconds: 120,
		Active:          true,
	}))

	s := New(domain.DefaultSchedulerConfig(), store, newFakeLauncher(), testLogger())
	require.NoError(t, s.Start(ctx))
	t.Cleanup(func() { s.Stop() })

	got, err := s.Get("sched-persisted")
	require.NoError(t, err)
	require.NotNil(t, got.NextRunAt)
}

func TestScheduler_DeleteRemovesFromIndexAndStore(t *testing.T) {
	s, _, store := testScheduler(t)
	ctx := context.Background()

	sched := &domain.Schedule{
		WorkflowID:      "wf-1",
		Kind:            domain.ScheduleKindInterval,
		IntervalSeconds: 60,
	}
	require.NoError(t, s.Create(ctx, sched))
	require.NoError(t, s.Delete(ctx, sched.ID))

	_, err := s.Get(sched.ID)
	assert.True(t, domain.IsNotFound(err))
	_, err = store.LoadSchedule(ctx, sched.ID)
	assert.True(t, domain.IsNotFound(err))

	assert.True(t, domain.IsNotFound(s.Delete(ctx, "ghost")))
}
