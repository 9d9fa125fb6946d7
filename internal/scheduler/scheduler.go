// Package scheduler fires stored workflows from their timer nodes.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/gw123/gflow-sub001/internal/metrics"
	"github.com/gw123/gflow-sub001/internal/store"
	"github.com/gw123/gflow-sub001/pkg/schema"
)

// DefaultInterval is how often due jobs are checked.
const DefaultInterval = 60 * time.Second

// Job outcomes recorded as LastRunStatus and in metrics.
const (
	OutcomeStarted = "started"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

// Launcher starts one run of a stored workflow for a timer node.
// Satisfied by runtime.Manager.
type Launcher interface {
	Launch(ctx context.Context, workflow, node string) error
}

// LauncherFunc adapts a function to the Launcher interface.
type LauncherFunc func(ctx context.Context, workflow, node string) error

// Launch calls f.
func (f LauncherFunc) Launch(ctx context.Context, workflow, node string) error {
	return f(ctx, workflow, node)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval sets the polling interval.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithMetrics records job firings.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// Scheduler polls the store for due scheduled jobs and launches them.
type Scheduler struct {
	store    store.Store
	launcher Launcher
	parser   cron.Parser
	interval time.Duration
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	inflightMu sync.Mutex
	inflight   map[string]struct{} // job IDs currently launching
}

// NewScheduler creates a Scheduler.
func NewScheduler(s store.Store, launcher Launcher, opts ...Option) *Scheduler {
	sched := &Scheduler{
		store:    s,
		launcher: launcher,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		interval: DefaultInterval,
		logger:   slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
		inflight: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(sched)
	}
	return sched
}

// Start syncs jobs from the stored workflows and launches the polling loop.
// The first tick runs immediately, so jobs missed while the process was down
// fire once.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	if _, err := s.Sync(ctx); err != nil {
		s.logger.Error("sync scheduled jobs", slog.String("error", err.Error()))
	}

	go s.loop(schedCtx)
	s.logger.Info("scheduler started", slog.Duration("interval", s.interval))
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick launches every enabled job whose next run is due. A job with no next
// run yet counts as due.
func (s *Scheduler) tick(ctx context.Context) {
	enabled := true
	jobs, err := s.store.ListScheduledJobs(ctx, store.ScheduledJobFilter{Enabled: &enabled})
	if err != nil {
		s.logger.Error("failed to list scheduled jobs", slog.String("error", err.Error()))
		return
	}

	now := s.now()
	for _, job := range jobs {
		if job.NextRunAt != nil && job.NextRunAt.After(now) {
			continue
		}
		if !s.tryAcquire(job.ID) {
			continue
		}
		if err := s.runJob(ctx, job, now); err != nil {
			s.logger.Error("failed to run scheduled job",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
		}
		s.releaseJob(job.ID)
	}
}

// runJob launches a job and records the outcome and the next run time. A job
// whose workflow is gone is disabled.
func (s *Scheduler) runJob(ctx context.Context, job *store.ScheduledJob, now time.Time) error {
	s.logger.Info("firing scheduled job",
		slog.String("job_id", job.ID),
		slog.String("workflow", job.Workflow),
		slog.String("node", job.Node),
	)

	outcome := OutcomeStarted
	update := store.ScheduledJobUpdate{LastRunAt: &now}
	if err := s.launcher.Launch(ctx, job.Workflow, job.Node); err != nil {
		outcome = OutcomeFailed
		if schema.HasCode(err, schema.ErrCodeNotFound) {
			outcome = OutcomeSkipped
			disabled := false
			update.Enabled = &disabled
		}
		s.logger.Warn("scheduled launch failed",
			slog.String("job_id", job.ID),
			slog.String("outcome", outcome),
			slog.String("error", err.Error()),
		)
	}
	s.metrics.SchedulerFired(outcome)
	update.LastRunStatus = outcome

	next, err := s.CalculateNextRun(job.CronExpression, now)
	if err != nil {
		return fmt.Errorf("calculate next run for job %q: %w", job.ID, err)
	}
	update.NextRunAt = &next
	return s.store.UpdateScheduledJob(ctx, job.ID, update)
}

// tryAcquire returns true and marks the job as in-flight if it is not already launching.
func (s *Scheduler) tryAcquire(jobID string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[jobID]; ok {
		return false
	}
	s.inflight[jobID] = struct{}{}
	return true
}

func (s *Scheduler) releaseJob(jobID string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, jobID)
}

// CalculateNextRun computes the next run time for a cron expression.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop ends the polling loop and waits for it to return.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}

// Sync reconciles scheduled jobs with the stored workflows: active workflows
// get one job per schedulable timer node, everything else loses its jobs.
// A job whose expression is unchanged keeps its next run time. It returns
// the number of scheduled jobs.
func (s *Scheduler) Sync(ctx context.Context) (int, error) {
	workflows, err := s.store.ListWorkflows(ctx, store.WorkflowFilter{})
	if err != nil {
		return 0, err
	}
	jobs, err := s.store.ListScheduledJobs(ctx, store.ScheduledJobFilter{})
	if err != nil {
		return 0, err
	}
	existing := make(map[string]map[string]*store.ScheduledJob)
	for _, j := range jobs {
		if existing[j.Workflow] == nil {
			existing[j.Workflow] = make(map[string]*store.ScheduledJob)
		}
		existing[j.Workflow][j.Node] = j
	}

	var errs []error
	total := 0
	seen := make(map[string]bool, len(workflows))
	for _, wf := range workflows {
		seen[wf.Name] = true
		var timers []Timer
		if wf.Status == schema.WorkflowStatusActive {
			timers = s.timers(wf)
		}
		n, err := s.syncWorkflow(ctx, wf.Name, timers, existing[wf.Name])
		if err != nil {
			errs = append(errs, err)
		}
		total += n
	}
	for name := range existing {
		if !seen[name] {
			if err := s.store.DeleteScheduledJobs(ctx, name); err != nil {
				errs = append(errs, err)
			}
		}
	}
	s.logger.Info("scheduled jobs synced", slog.Int("jobs", total))
	return total, errors.Join(errs...)
}

// SyncWorkflow reconciles the jobs of one stored workflow, for callers that
// just saved or changed it.
func (s *Scheduler) SyncWorkflow(ctx context.Context, wf *store.StoredWorkflow) error {
	jobs, err := s.store.ListScheduledJobs(ctx, store.ScheduledJobFilter{Workflow: wf.Name})
	if err != nil {
		return err
	}
	existing := make(map[string]*store.ScheduledJob, len(jobs))
	for _, j := range jobs {
		existing[j.Node] = j
	}
	var timers []Timer
	if wf.Status == schema.WorkflowStatusActive {
		timers = s.timers(wf)
	}
	_, err = s.syncWorkflow(ctx, wf.Name, timers, existing)
	return err
}

// timers returns the valid timer schedules of wf, logging the rest.
func (s *Scheduler) timers(wf *store.StoredWorkflow) []Timer {
	var out []Timer
	for _, t := range Timers(wf.Definition) {
		if _, err := s.parser.Parse(t.Cron); err != nil {
			s.logger.Warn("invalid timer schedule",
				slog.String("workflow", wf.Name),
				slog.String("node", t.Node),
				slog.String("cron", t.Cron),
				slog.String("error", err.Error()))
			continue
		}
		out = append(out, t)
	}
	return out
}

func (s *Scheduler) syncWorkflow(ctx context.Context, workflow string, timers []Timer, existing map[string]*store.ScheduledJob) (int, error) {
	wanted := make(map[string]bool, len(timers))
	for _, t := range timers {
		wanted[t.Node] = true
	}
	for node := range existing {
		if !wanted[node] {
			// Jobs are removed per workflow; survivors are upserted again below.
			if err := s.store.DeleteScheduledJobs(ctx, workflow); err != nil {
				return 0, err
			}
			existing = nil
			break
		}
	}

	now := s.now()
	for _, t := range timers {
		job := &store.ScheduledJob{
			ID:             workflow + "/" + t.Node,
			Workflow:       workflow,
			Node:           t.Node,
			CronExpression: t.Cron,
			Enabled:        true,
		}
		if prev := existing[t.Node]; prev != nil && prev.CronExpression == t.Cron && prev.NextRunAt != nil {
			job.NextRunAt = prev.NextRunAt
		} else {
			next, err := s.CalculateNextRun(t.Cron, now)
			if err != nil {
				return 0, err
			}
			job.NextRunAt = &next
		}
		if err := s.store.UpsertScheduledJob(ctx, job); err != nil {
			return 0, err
		}
	}
	return len(timers), nil
}
