package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"automator-go/internal/model"
	"automator-go/internal/scheduler"
	"automator-go/internal/storage"
	"automator-go/internal/trigger"
	"automator-go/internal/worker"
)

const (
	defaultLogLimit   = 50
	defaultPeriodDays = 7
	maxPeriodDays     = 365
)

// scheduleRequest is the body of POST /api/v1/schedules.
type scheduleRequest struct {
	AutomationID   string `json:"automation_id" validate:"required,max=255"`
	CronExpression string `json:"cron_expression" validate:"max=255"`
	ScheduleTime   string `json:"schedule_time" validate:"max=64"`
	JobID          string `json:"job_id" validate:"omitempty,max=255,excludesall=/?#"`
}

// scheduleResponse describes a persisted schedule and its live state.
type scheduleResponse struct {
	JobID          string          `json:"job_id"`
	AutomationID   string          `json:"automation_id"`
	CronExpression string          `json:"cron_expression,omitempty"`
	ScheduleTime   *time.Time      `json:"schedule_time,omitempty"`
	Status         model.JobStatus `json:"status"`
	Registered     bool            `json:"registered"`
	NextRun        *time.Time      `json:"next_run,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

type healthResponse struct {
	Status         string                   `json:"status"`
	Database       string                   `json:"database"`
	Migration      *storage.MigrationStatus `json:"migration,omitempty"`
	RegisteredJobs int                      `json:"registered_jobs"`
	Pool           worker.PoolStats         `json:"pool"`
}

//
// Schedule Handlers
//

// handleCreateSchedule persists a schedule descriptor and registers it with
// the live scheduler. The row is written before registration so a one-time
// job that fires immediately can be marked completed.
func (a *Application) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	userID, _ := getUserIDFromContext(r)

	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := a.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	automation, err := a.Storage.GetAutomation(r.Context(), req.AutomationID, userID)
	if err != nil {
		a.serverError(w, "Failed to load automation", err)
		return
	}
	if automation == nil {
		writeError(w, http.StatusNotFound, "automation not found")
		return
	}

	trig, err := trigger.Materialize(trigger.Spec{
		CronExpression: req.CronExpression,
		ScheduleTime:   req.ScheduleTime,
	}, a.location)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if trig.Next(a.clock()).IsZero() {
		err := &trigger.ValidationError{Field: "cron_expression", Value: trig.String(), Reason: "expression never fires"}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	jobID := req.JobID
	var previous *model.ScheduledJob
	if jobID == "" {
		jobID = a.Scheduler.NewJobID(req.AutomationID)
	} else {
		existing, err := a.Storage.GetScheduledJob(r.Context(), jobID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
		case err != nil:
			a.serverError(w, "Failed to load scheduled job", err)
			return
		case existing.UserID != userID:
			writeError(w, http.StatusConflict, "job id already in use")
			return
		default:
			previous = existing
		}
	}

	job := &model.ScheduledJob{
		JobID:        jobID,
		AutomationID: req.AutomationID,
		UserID:       userID,
		Status:       model.JobActive,
	}
	switch t := trig.(type) {
	case *trigger.OnceTrigger:
		at := t.At
		job.NextRun = &at
	default:
		job.CronExpression = trig.String()
	}
	if err := a.Storage.SaveScheduledJob(r.Context(), job); err != nil {
		a.serverError(w, "Failed to save scheduled job", err)
		return
	}

	_, err = a.Scheduler.ScheduleAutomation(r.Context(), scheduler.ScheduleRequest{
		AutomationID:   req.AutomationID,
		UserID:         userID,
		CronExpression: req.CronExpression,
		ScheduleTime:   req.ScheduleTime,
		JobID:          jobID,
	})
	if err != nil {
		a.rollback(r.Context(), jobID, previous)
		if trigger.IsValidationError(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		a.serverError(w, "Failed to schedule automation", err)
		return
	}

	writeJSON(w, http.StatusCreated, a.describe(*job))
}

// handleListSchedules lists the user's persisted schedules with their live
// next firing.
func (a *Application) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	userID, _ := getUserIDFromContext(r)

	jobs, err := a.Storage.ListScheduledJobs(r.Context(), userID)
	if err != nil {
		a.serverError(w, "Failed to list scheduled jobs", err)
		return
	}
	out := make([]scheduleResponse, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, a.describe(job))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleDeleteSchedule unschedules a job and marks it inactive.
func (a *Application) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	userID, _ := getUserIDFromContext(r)
	jobID := r.PathValue("job_id")

	job, err := a.Storage.GetScheduledJob(r.Context(), jobID)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && job.UserID != userID) {
		writeError(w, http.StatusNotFound, "scheduled job not found")
		return
	}
	if err != nil {
		a.serverError(w, "Failed to load scheduled job", err)
		return
	}

	if job.Status == model.JobActive {
		if err := a.Storage.SetScheduledJobStatus(r.Context(), jobID, model.JobInactive); err != nil {
			a.serverError(w, "Failed to deactivate scheduled job", err)
			return
		}
	}
	a.Scheduler.UnscheduleAutomation(jobID)

	w.WriteHeader(http.StatusNoContent)
}

func (a *Application) describe(job model.ScheduledJob) scheduleResponse {
	resp := scheduleResponse{
		JobID:          job.JobID,
		AutomationID:   job.AutomationID,
		CronExpression: job.CronExpression,
		ScheduleTime:   job.NextRun,
		Status:         job.Status,
		CreatedAt:      job.CreatedAt,
	}
	if info, ok := a.Scheduler.Lookup(job.JobID); ok {
		next := info.NextRun
		resp.Registered = true
		resp.NextRun = &next
	}
	return resp
}

// rollback undoes the row written for a rejected registration: a replaced
// job gets its previous descriptor back, a new job is deactivated.
func (a *Application) rollback(ctx context.Context, jobID string, previous *model.ScheduledJob) {
	ctx = context.WithoutCancel(ctx)
	var err error
	if previous != nil {
		err = a.Storage.SaveScheduledJob(ctx, previous)
	} else {
		err = a.Storage.SetScheduledJobStatus(ctx, jobID, model.JobInactive)
	}
	if err != nil {
		a.Logger.Warnw("Failed to roll back rejected job", "job_id", jobID, "error", err)
	}
}

//
// Log Handlers
//

func (a *Application) handleListLogs(w http.ResponseWriter, r *http.Request) {
	userID, _ := getUserIDFromContext(r)

	limit, ok := queryInt(w, r, "limit", defaultLogLimit, 1, storage.MaxLogLimit)
	if !ok {
		return
	}
	logs, err := a.Storage.ListLogs(r.Context(), userID, limit)
	if err != nil {
		a.serverError(w, "Failed to list logs", err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func (a *Application) handleTodayLogs(w http.ResponseWriter, r *http.Request) {
	userID, _ := getUserIDFromContext(r)

	now := a.clock().In(a.location)
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, a.location)
	logs, err := a.Storage.ListLogsBetween(r.Context(), userID, start, start.AddDate(0, 0, 1))
	if err != nil {
		a.serverError(w, "Failed to list today's logs", err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func (a *Application) handleDashboard(w http.ResponseWriter, r *http.Request) {
	userID, _ := getUserIDFromContext(r)

	dashboard, err := a.Storage.GetDashboard(r.Context(), userID, a.clock().In(a.location))
	if err != nil {
		a.serverError(w, "Failed to build dashboard", err)
		return
	}
	writeJSON(w, http.StatusOK, dashboard)
}

func (a *Application) handlePeriodStats(w http.ResponseWriter, r *http.Request) {
	userID, _ := getUserIDFromContext(r)

	days, ok := queryInt(w, r, "days", defaultPeriodDays, 1, maxPeriodDays)
	if !ok {
		return
	}
	stats, err := a.Storage.GetPeriodStats(r.Context(), userID, days, a.clock().In(a.location))
	if err != nil {
		a.serverError(w, "Failed to compute period stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

//
// Health
//

func (a *Application) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:         "ok",
		Database:       "ok",
		RegisteredJobs: len(a.Scheduler.Jobs()),
		Pool:           a.WorkerPool.Stats(),
	}
	code := http.StatusOK

	if err := a.Storage.Ping(r.Context()); err != nil {
		resp.Status, resp.Database = "degraded", err.Error()
		code = http.StatusServiceUnavailable
	} else if status, err := a.Storage.GetMigrationStatus(r.Context()); err == nil {
		resp.Migration = &status
		if status.Dirty {
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, code, resp)
}

//
// Helpers
//

func queryInt(w http.ResponseWriter, r *http.Request, name string, def, lo, hi int) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < lo || n > hi {
		writeError(w, http.StatusBadRequest, name+" must be an integer between "+strconv.Itoa(lo)+" and "+strconv.Itoa(hi))
		return 0, false
	}
	return n, true
}

func (a *Application) serverError(w http.ResponseWriter, msg string, err error) {
	a.Logger.Errorw(msg, "error", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
