package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"automator-go/internal/dispatch"
	"automator-go/internal/metrics"
	"automator-go/internal/model"
	"automator-go/internal/trigger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RetentionJobID is the registry id of the execution log retention job.
const RetentionJobID = "maintenance_log_retention"

// JobSource provides persisted schedules for bootstrap and records
// completion of one-time jobs.
type JobSource interface {
	GetActiveScheduledJobs(ctx context.Context) ([]model.ScheduledJob, error)
	CompleteScheduledJob(ctx context.Context, jobID string) error
}

// Dispatcher runs one firing of an automation.
type Dispatcher interface {
	Dispatch(ctx context.Context, automationID, userID string) (dispatch.Outcome, error)
}

// LogPruner removes execution logs older than a cutoff.
type LogPruner interface {
	PruneLogs(ctx context.Context, olderThan time.Time) (int64, error)
}

// ServiceConfig tunes the scheduling service.
type ServiceConfig struct {
	Location          *time.Location
	BootstrapTimeout  time.Duration
	DispatchTimeout   time.Duration
	LogRetention      time.Duration
	RetentionSchedule string
}

// ScheduleRequest describes one schedule_automation call. Exactly one of
// CronExpression and ScheduleTime must be set. An empty JobID is generated.
type ScheduleRequest struct {
	AutomationID   string
	UserID         string
	CronExpression string
	ScheduleTime   string
	JobID          string
}

// Service is the scheduling API: it materializes triggers, registers them
// with the core scheduler and binds each firing to the dispatcher.
type Service struct {
	core       *Scheduler
	jobs       JobSource
	dispatcher Dispatcher
	pruner     LogPruner
	cfg        ServiceConfig
	logger     *zap.SugaredLogger
	newID      func() string
}

// NewService wires the scheduling API.
func NewService(core *Scheduler, jobs JobSource, dispatcher Dispatcher, cfg ServiceConfig, logger *zap.SugaredLogger) *Service {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.BootstrapTimeout <= 0 {
		cfg.BootstrapTimeout = 30 * time.Second
	}
	return &Service{
		core:       core,
		jobs:       jobs,
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     logger,
		newID:      uuid.NewString,
	}
}

// SetLogPruner enables the retention job registered by Start.
func (s *Service) SetLogPruner(p LogPruner) {
	s.pruner = p
}

// Location returns the zone used for cron expressions and naive timestamps.
func (s *Service) Location() *time.Location {
	return s.cfg.Location
}

// NewJobID returns an id of the form automation_<automation_id>_<uuid>.
func (s *Service) NewJobID(automationID string) string {
	return fmt.Sprintf("automation_%s_%s", automationID, s.newID())
}

// ScheduleAutomation registers a live schedule for an automation, replacing
// any job with the same id, and returns the job id. Malformed descriptors
// return a *trigger.ValidationError and leave the registry unchanged.
func (s *Service) ScheduleAutomation(ctx context.Context, req ScheduleRequest) (string, error) {
	if req.AutomationID == "" {
		return "", &trigger.ValidationError{Field: "automation_id", Reason: "required"}
	}
	trig, err := trigger.Materialize(trigger.Spec{
		CronExpression: req.CronExpression,
		ScheduleTime:   req.ScheduleTime,
	}, s.cfg.Location)
	if err != nil {
		s.logger.Warnw("Rejected schedule", "automation_id", req.AutomationID, "error", err)
		return "", err
	}

	jobID := req.JobID
	if jobID == "" {
		jobID = s.NewJobID(req.AutomationID)
	}
	if err := s.register(jobID, req.AutomationID, req.UserID, trig); err != nil {
		return "", err
	}
	return jobID, nil
}

func (s *Service) register(jobID, automationID, userID string, trig trigger.Trigger) error {
	replaced, err := s.core.Register(jobID, trig, s.fire(automationID, userID))
	if err != nil {
		if errors.Is(err, ErrNoFutureFiring) {
			return &trigger.ValidationError{
				Field:  "cron_expression",
				Value:  trig.String(),
				Reason: "expression never fires",
			}
		}
		return err
	}
	metrics.JobsScheduled.WithLabelValues(string(trig.Kind())).Inc()

	info, _ := s.core.Lookup(jobID)
	s.logger.Infow("Scheduled automation",
		"automation_id", automationID,
		"job_id", jobID,
		"kind", trig.Kind(),
		"trigger", trig.String(),
		"next_run", info.NextRun,
		"replaced", replaced,
	)
	return nil
}

// fire binds a firing to the dispatcher. One-time jobs are marked completed
// once dispatched so bootstrap does not replay them.
func (s *Service) fire(automationID, userID string) Callback {
	return func(ctx context.Context, f Firing) {
		dctx := ctx
		if s.cfg.DispatchTimeout > 0 {
			var cancel context.CancelFunc
			dctx, cancel = context.WithTimeout(ctx, s.cfg.DispatchTimeout)
			defer cancel()
		}

		if _, err := s.dispatcher.Dispatch(dctx, automationID, userID); err != nil {
			s.logger.Errorw("Dispatch failed",
				"job_id", f.JobID,
				"automation_id", automationID,
				"error", err,
			)
		}

		if f.Kind != trigger.KindOnce || s.jobs == nil {
			return
		}
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.jobs.CompleteScheduledJob(cctx, f.JobID); err != nil {
			s.logger.Warnw("Failed to mark one-time job completed", "job_id", f.JobID, "error", err)
		}
	}
}

// UnscheduleAutomation removes a live job. Unknown ids are logged as a
// warning and otherwise ignored. It reports whether a job was removed.
func (s *Service) UnscheduleAutomation(jobID string) bool {
	if !s.core.Unregister(jobID) {
		s.logger.Warnw("Unschedule requested for unknown job", "job_id", jobID)
		return false
	}
	metrics.JobsUnscheduled.Inc()
	s.logger.Infow("Unscheduled job", "job_id", jobID)
	return true
}

// Lookup returns the live job registered under jobID.
func (s *Service) Lookup(jobID string) (JobInfo, bool) {
	return s.core.Lookup(jobID)
}

// Jobs lists live jobs ordered by next run.
func (s *Service) Jobs() []JobInfo {
	return s.core.Jobs()
}

// Start restores persisted schedules and begins firing. Jobs that fail to
// restore are logged and skipped; failure to read the job source aborts
// start-up.
func (s *Service) Start(ctx context.Context) error {
	s.logger.Infow("Starting automation scheduler", "location", s.cfg.Location.String())

	loaded, err := s.loadScheduledJobs(ctx)
	if err != nil {
		return err
	}
	if err := s.registerRetention(); err != nil {
		return err
	}

	s.core.Start(ctx)
	s.logger.Infow("Automation scheduler started", "restored_jobs", loaded, "registered_jobs", len(s.core.Jobs()))
	return nil
}

// Stop halts firing and drops every registered job.
func (s *Service) Stop() {
	s.core.Stop()
	s.logger.Infow("Automation scheduler stopped")
}

func (s *Service) loadScheduledJobs(ctx context.Context) (int, error) {
	if s.jobs == nil {
		return 0, nil
	}
	lctx, cancel := context.WithTimeout(ctx, s.cfg.BootstrapTimeout)
	defer cancel()

	jobs, err := s.jobs.GetActiveScheduledJobs(lctx)
	if err != nil {
		return 0, fmt.Errorf("load scheduled jobs: %w", err)
	}

	loaded := 0
	for _, job := range jobs {
		if err := s.restore(job); err != nil {
			s.logger.Errorw("Failed to restore scheduled job",
				"job_id", job.JobID,
				"automation_id", job.AutomationID,
				"error", err,
			)
			continue
		}
		loaded++
	}
	s.logger.Infow("Loaded scheduled jobs", "loaded", loaded, "total", len(jobs))
	return loaded, nil
}

func (s *Service) restore(job model.ScheduledJob) error {
	if job.JobID == "" || job.AutomationID == "" {
		return &trigger.ValidationError{Field: "job_id", Reason: "persisted job is missing its identifiers"}
	}
	trig, err := trigger.Materialize(trigger.FromJob(job.CronExpression, job.NextRun), s.cfg.Location)
	if err != nil {
		return err
	}
	return s.register(job.JobID, job.AutomationID, job.UserID, trig)
}

func (s *Service) registerRetention() error {
	if s.pruner == nil || s.cfg.LogRetention <= 0 {
		return nil
	}
	expr := s.cfg.RetentionSchedule
	if expr == "" {
		expr = "0 3 * * *"
	}
	trig, err := trigger.ParseCron(expr, s.cfg.Location)
	if err != nil {
		return fmt.Errorf("retention schedule: %w", err)
	}
	_, err = s.core.Register(RetentionJobID, trig, func(ctx context.Context, f Firing) {
		cutoff := f.FiredAt.Add(-s.cfg.LogRetention)
		n, err := s.pruner.PruneLogs(ctx, cutoff)
		if err != nil {
			s.logger.Errorw("Execution log retention failed", "error", err)
			return
		}
		metrics.LogsPruned.Add(float64(n))
		s.logger.Infow("Pruned execution logs", "deleted", n, "cutoff", cutoff)
	})
	return err
}
