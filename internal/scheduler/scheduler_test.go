package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gw123/gflow-sub001/internal/store"
	"github.com/gw123/gflow-sub001/pkg/schema"
)

// mockSchedulerStore satisfies store.Store for scheduler tests.
type mockSchedulerStore struct {
	store.Store
	mu        sync.Mutex
	jobs      map[string]*store.ScheduledJob
	workflows []*store.StoredWorkflow
}

func newMockSchedulerStore() *mockSchedulerStore {
	return &mockSchedulerStore{jobs: make(map[string]*store.ScheduledJob)}
}

func (m *mockSchedulerStore) addJob(job *store.ScheduledJob) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.jobs[job.ID] = &cp
}

func (m *mockSchedulerStore) job(id string) *store.ScheduledJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil
	}
	cp := *j
	return &cp
}

func (m *mockSchedulerStore) UpsertScheduledJob(_ context.Context, job *store.ScheduledJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.Workflow == job.Workflow && j.Node == job.Node {
			j.CronExpression = job.CronExpression
			j.Enabled = job.Enabled
			j.NextRunAt = job.NextRunAt
			job.ID = j.ID
			return nil
		}
	}
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *mockSchedulerStore) UpdateScheduledJob(_ context.Context, id string, update store.ScheduledJobUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "scheduled job %s not found", id)
	}
	if update.Enabled != nil {
		j.Enabled = *update.Enabled
	}
	if update.LastRunAt != nil {
		j.LastRunAt = update.LastRunAt
	}
	if update.NextRunAt != nil {
		j.NextRunAt = update.NextRunAt
	}
	if update.LastRunStatus != "" {
		j.LastRunStatus = update.LastRunStatus
	}
	return nil
}

func (m *mockSchedulerStore) ListScheduledJobs(_ context.Context, filter store.ScheduledJobFilter) ([]*store.ScheduledJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*store.ScheduledJob
	for _, j := range m.jobs {
		if filter.Enabled != nil && j.Enabled != *filter.Enabled {
			continue
		}
		if filter.Workflow != "" && j.Workflow != filter.Workflow {
			continue
		}
		cp := *j
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, k int) bool { return result[i].ID < result[k].ID })
	return result, nil
}

func (m *mockSchedulerStore) DeleteScheduledJobs(_ context.Context, workflow string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, j := range m.jobs {
		if j.Workflow == workflow {
			delete(m.jobs, id)
		}
	}
	return nil
}

func (m *mockSchedulerStore) ListWorkflows(_ context.Context, _ store.WorkflowFilter) ([]*store.StoredWorkflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*store.StoredWorkflow(nil), m.workflows...), nil
}

// mockLauncher records Launch calls.
type mockLauncher struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (l *mockLauncher) Launch(_ context.Context, workflow, node string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, workflow+"/"+node)
	return l.err
}

func (l *mockLauncher) launched() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

var fixedNow = time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

func newTestScheduler(s store.Store, l Launcher) *Scheduler {
	return NewScheduler(s, l, WithClock(func() time.Time { return fixedNow }))
}

func timerWorkflow(name string, status schema.WorkflowStatus, params map[string]any) *store.StoredWorkflow {
	return &store.StoredWorkflow{
		Name:   name,
		Status: status,
		Definition: &schema.WorkflowDefinition{
			Name: name,
			Nodes: []schema.NodeDefinition{
				{Name: "Tick", Type: "timer", Parameters: params},
				{Name: "Work", Type: "default"},
			},
		},
	}
}

// --- Tests ---

func TestCalculateNextRun(t *testing.T) {
	sched := newTestScheduler(newMockSchedulerStore(), &mockLauncher{})

	next, err := sched.CalculateNextRun("0 * * * *", fixedNow)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 10, 13, 0, 0, 0, time.UTC), next)

	next, err = sched.CalculateNextRun("*/15 * * * *", fixedNow)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 10, 12, 15, 0, 0, time.UTC), next)

	next, err = sched.CalculateNextRun("@daily", fixedNow)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 11, 0, 0, 0, 0, time.UTC), next)

	_, err = sched.CalculateNextRun("invalid cron", fixedNow)
	require.Error(t, err)
}

func TestTimerSchedule(t *testing.T) {
	cases := []struct {
		name   string
		params map[string]any
		want   string
	}{
		{"cron wins", map[string]any{"cron": " 5 4 * * * ", "secondsInterval": 120}, "5 4 * * *"},
		{"minutes", map[string]any{"secondsInterval": 300}, "*/5 * * * *"},
		{"rounded down", map[string]any{"secondsInterval": 119.0}, "*/1 * * * *"},
		{"hours", map[string]any{"secondsInterval": "7200"}, "0 */2 * * *"},
		{"below a minute", map[string]any{"secondsInterval": 10}, ""},
		{"nothing", nil, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, TimerSchedule(tc.params))
		})
	}
}

func TestTickRunsDueJobs(t *testing.T) {
	ms := newMockSchedulerStore()
	launcher := &mockLauncher{}
	sched := newTestScheduler(ms, launcher)

	past := fixedNow.Add(-time.Hour)
	ms.addJob(&store.ScheduledJob{ID: "job-1", Workflow: "report", Node: "Tick", CronExpression: "0 * * * *", Enabled: true, NextRunAt: &past})

	sched.tick(context.Background())
	assert.Equal(t, []string{"report/Tick"}, launcher.launched())

	got := ms.job("job-1")
	require.NotNil(t, got.LastRunAt)
	assert.Equal(t, fixedNow, *got.LastRunAt)
	assert.Equal(t, time.Date(2026, 2, 10, 13, 0, 0, 0, time.UTC), *got.NextRunAt)
	assert.Equal(t, OutcomeStarted, got.LastRunStatus)
}

func TestTickSkipsNotDueAndDisabled(t *testing.T) {
	ms := newMockSchedulerStore()
	launcher := &mockLauncher{}
	sched := newTestScheduler(ms, launcher)

	past := fixedNow.Add(-time.Hour)
	future := fixedNow.Add(time.Hour)
	ms.addJob(&store.ScheduledJob{ID: "due", Workflow: "a", Node: "T", CronExpression: "0 * * * *", Enabled: true, NextRunAt: &past})
	ms.addJob(&store.ScheduledJob{ID: "later", Workflow: "b", Node: "T", CronExpression: "0 * * * *", Enabled: true, NextRunAt: &future})
	ms.addJob(&store.ScheduledJob{ID: "off", Workflow: "c", Node: "T", CronExpression: "0 * * * *", Enabled: false, NextRunAt: &past})
	ms.addJob(&store.ScheduledJob{ID: "new", Workflow: "d", Node: "T", CronExpression: "0 * * * *", Enabled: true})

	sched.tick(context.Background())
	assert.ElementsMatch(t, []string{"a/T", "d/T"}, launcher.launched())
}

func TestJobLaunchFailure(t *testing.T) {
	ms := newMockSchedulerStore()
	launcher := &mockLauncher{err: errors.New("pool full")}
	sched := newTestScheduler(ms, launcher)

	past := fixedNow.Add(-time.Hour)
	ms.addJob(&store.ScheduledJob{ID: "job", Workflow: "w", Node: "T", CronExpression: "0 * * * *", Enabled: true, NextRunAt: &past})

	sched.tick(context.Background())
	got := ms.job("job")
	assert.Equal(t, OutcomeFailed, got.LastRunStatus)
	assert.True(t, got.Enabled)
	assert.True(t, got.NextRunAt.After(fixedNow), "a failed job still advances")
}

func TestJobForMissingWorkflowIsDisabled(t *testing.T) {
	ms := newMockSchedulerStore()
	launcher := &mockLauncher{err: schema.NewError(schema.ErrCodeNotFound, "workflow gone not found")}
	sched := newTestScheduler(ms, launcher)

	past := fixedNow.Add(-time.Hour)
	ms.addJob(&store.ScheduledJob{ID: "job", Workflow: "gone", Node: "T", CronExpression: "0 * * * *", Enabled: true, NextRunAt: &past})

	sched.tick(context.Background())
	got := ms.job("job")
	assert.Equal(t, OutcomeSkipped, got.LastRunStatus)
	assert.False(t, got.Enabled)
}

func TestDedupPreventsDoubleRun(t *testing.T) {
	ms := newMockSchedulerStore()
	launcher := &mockLauncher{}
	sched := newTestScheduler(ms, launcher)
	ctx := context.Background()

	past := fixedNow.Add(-time.Hour)
	ms.addJob(&store.ScheduledJob{ID: "job-dedup", Workflow: "w", Node: "T", CronExpression: "0 * * * *", Enabled: true, NextRunAt: &past})

	require.True(t, sched.tryAcquire("job-dedup"))
	sched.tick(ctx)
	assert.Empty(t, launcher.launched())

	sched.releaseJob("job-dedup")
	sched.tick(ctx)
	assert.Len(t, launcher.launched(), 1)
}

func TestSyncCreatesJobsForActiveTimers(t *testing.T) {
	ms := newMockSchedulerStore()
	ms.workflows = []*store.StoredWorkflow{
		timerWorkflow("every5", schema.WorkflowStatusActive, map[string]any{"secondsInterval": 300}),
		timerWorkflow("paused", schema.WorkflowStatusInactive, map[string]any{"cron": "0 * * * *"}),
		timerWorkflow("broken", schema.WorkflowStatusActive, map[string]any{"cron": "not a cron"}),
	}
	sched := newTestScheduler(ms, &mockLauncher{})

	n, err := sched.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got := ms.job("every5/Tick")
	require.NotNil(t, got)
	assert.Equal(t, "*/5 * * * *", got.CronExpression)
	assert.True(t, got.Enabled)
	assert.Equal(t, time.Date(2026, 2, 10, 12, 5, 0, 0, time.UTC), *got.NextRunAt)
}

func TestSyncKeepsNextRunAndDropsStaleJobs(t *testing.T) {
	ms := newMockSchedulerStore()
	kept := fixedNow.Add(10 * time.Minute)
	ms.addJob(&store.ScheduledJob{ID: "hourly/Tick", Workflow: "hourly", Node: "Tick", CronExpression: "0 * * * *", Enabled: true, NextRunAt: &kept})
	ms.addJob(&store.ScheduledJob{ID: "deleted/Tick", Workflow: "deleted", Node: "Tick", CronExpression: "0 * * * *", Enabled: true})
	ms.addJob(&store.ScheduledJob{ID: "off/Tick", Workflow: "off", Node: "Tick", CronExpression: "0 * * * *", Enabled: true})
	ms.workflows = []*store.StoredWorkflow{
		timerWorkflow("hourly", schema.WorkflowStatusActive, map[string]any{"cron": "0 * * * *"}),
		timerWorkflow("off", schema.WorkflowStatusInactive, map[string]any{"cron": "0 * * * *"}),
	}
	sched := newTestScheduler(ms, &mockLauncher{})

	_, err := sched.Sync(context.Background())
	require.NoError(t, err)

	got := ms.job("hourly/Tick")
	require.NotNil(t, got)
	assert.Equal(t, kept, *got.NextRunAt, "an unchanged schedule keeps its next run")
	assert.Nil(t, ms.job("deleted/Tick"))
	assert.Nil(t, ms.job("off/Tick"))

	// Changing the expression reschedules.
	ms.workflows[0] = timerWorkflow("hourly", schema.WorkflowStatusActive, map[string]any{"cron": "30 * * * *"})
	require.NoError(t, sched.SyncWorkflow(context.Background(), ms.workflows[0]))
	got = ms.job("hourly/Tick")
	assert.Equal(t, time.Date(2026, 2, 10, 12, 30, 0, 0, time.UTC), *got.NextRunAt)
}

func TestStartStop(t *testing.T) {
	ms := newMockSchedulerStore()
	ms.workflows = []*store.StoredWorkflow{
		timerWorkflow("tick", schema.WorkflowStatusActive, map[string]any{"cron": "* * * * *"}),
	}
	launcher := &mockLauncher{}
	sched := NewScheduler(ms, launcher, WithInterval(10*time.Millisecond))

	require.NoError(t, sched.Start(context.Background()))
	assert.Error(t, sched.Start(context.Background()), "second start is rejected")
	require.NotNil(t, ms.job("tick/Tick"))

	require.NoError(t, sched.Stop())
	require.NoError(t, sched.Stop())
}
