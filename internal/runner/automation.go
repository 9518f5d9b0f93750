package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/autoapply/internal/backend"
	"github.com/spigell/autoapply/internal/filtering"
	"github.com/spigell/autoapply/internal/form"
	"github.com/spigell/autoapply/internal/logger"
	"github.com/spigell/autoapply/internal/quota"
	"github.com/spigell/autoapply/internal/state"
	"github.com/spigell/autoapply/internal/utils"
)

// StartAutomation processes the visible results page by page until the
// target, the quota or the results are exhausted, or the run is stopped. It
// blocks for the whole run and returns its final status.
func (c *Controller) StartAutomation(ctx context.Context, jobsToApply int) (state.RunStatus, error) {
	c.mu.Lock()
	switch {
	case c.st == nil:
		c.mu.Unlock()
		return "", ErrNotInitialized
	case c.running:
		c.mu.Unlock()
		return "", ErrAlreadyRunning
	case c.st.Status.Finished():
		status := c.st.Status
		c.mu.Unlock()
		return status, fmt.Errorf("%w: run already %s", ErrNotInitialized, status)
	}
	c.running = true
	switch {
	case jobsToApply > 0:
		c.st.JobsToApply = jobsToApply
	case c.st.JobsToApply == 0:
		c.st.JobsToApply = c.cfg.JobsToApply
	}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	runCtx, release := c.guard(ctx)
	status, message := c.automate(runCtx)
	release()

	c.finish(ctx, status, message)
	return status, nil
}

// FillApplicationForm fills the form already open on the page for job and
// logs the outcome. It does not touch pagination.
func (c *Controller) FillApplicationForm(ctx context.Context, job state.JobRef) (form.Result, error) {
	c.mu.Lock()
	switch {
	case c.st == nil:
		c.mu.Unlock()
		return form.Result{}, ErrNotInitialized
	case c.running:
		c.mu.Unlock()
		return form.Result{}, ErrAlreadyRunning
	}
	c.running = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	if c.State().Applied(job.ID) {
		c.runLogger().Info("application already logged, not filling again", zap.String("job_id", job.ID))
		return form.Result{Reason: string(state.OutcomeAlreadyApplied)},
			fmt.Errorf("job %s: %w", job.ID, state.ErrDuplicateApplication)
	}

	if !c.allowed() {
		return form.Result{Status: form.StatusFailed, Reason: quota.ErrLimitReached.Error()}, quota.ErrLimitReached
	}

	// the watchdog only looks at running state, which a finished run has cleared
	var wasRunning bool
	c.update(func(st *state.RunState) {
		wasRunning = st.IsRunning
		st.IsRunning = true
		if current, ok := st.Current(); !ok || current.ID != job.ID {
			st.AdoptQueue([]state.JobRef{job}, c.now())
		}
	})

	runCtx, release := c.guard(ctx)
	defer release()

	started := c.now()
	result := c.fill(ctx, runCtx, job)
	c.record(ctx, job, result, started)

	c.mu.Lock()
	stopped := c.stopRequested
	c.mu.Unlock()
	c.update(func(st *state.RunState) {
		st.Advance(c.now())
		st.IsRunning = wasRunning && !stopped
		if !st.Status.Finished() {
			st.SetStatus(state.StatusIdle, "form filled", c.now())
		}
	})
	c.persist(ctx)
	return result, nil
}

// guard bounds ctx by the hard ceiling and runs the watchdog until released.
func (c *Controller) guard(ctx context.Context) (context.Context, func()) {
	runCtx, cancel := context.WithTimeoutCause(ctx, c.cfg.HardCeiling, ErrHardCeiling)
	watchCtx, stopWatch := context.WithCancel(runCtx)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.watchdog(watchCtx)
	}()

	return runCtx, func() {
		stopWatch()
		wg.Wait()
		cancel()
	}
}

func (c *Controller) automate(ctx context.Context) (state.RunStatus, string) {
	log := c.runLogger()

	if !c.allowed() {
		return state.StatusLimitReached, quota.ErrLimitReached.Error()
	}

	c.setStatus(state.StatusSearching, "collecting jobs")
	c.persist(ctx)

	for pages := 1; ; pages++ {
		if status, msg, done := c.interrupted(ctx); done {
			return status, msg
		}

		jobs, err := c.deps.Adapter.EnumerateJobs(ctx)
		if err != nil {
			if status, msg, done := c.interrupted(ctx); done {
				return status, msg
			}
			log.Warn("enumerating jobs failed", zap.Error(err))
		}

		queue := c.filter(ctx, jobs)
		c.update(func(st *state.RunState) { st.AdoptQueue(queue, c.now()) })
		c.persist(ctx)

		log.Info("processing results page",
			zap.Int("page", c.State().CurrentPage),
			zap.Int("found", len(jobs)),
			zap.Int("queued", len(queue)),
			zap.Int("max_applications", c.maxJobs(len(queue))),
		)

		for {
			if status, msg, done := c.interrupted(ctx); done {
				return status, msg
			}
			if c.targetReached() {
				return state.StatusCompleted, "target number of applications reached"
			}

			job, ok := c.current()
			if !ok {
				break
			}

			if err := c.processJob(ctx, job); errors.Is(err, quota.ErrLimitReached) {
				return state.StatusLimitReached, err.Error()
			}

			c.update(func(st *state.RunState) { st.Advance(c.now()) })
			c.persist(ctx)
			c.checkExternalStop(ctx)

			_ = utils.Pace(ctx, c.cfg.JobDelay)
		}

		if status, msg, done := c.interrupted(ctx); done {
			return status, msg
		}
		if pages >= c.cfg.MaxPages {
			return state.StatusCompleted, "page limit reached"
		}

		c.setStatus(state.StatusPaginating, "loading next results page")
		more, err := c.deps.Adapter.NextPage(ctx)
		if err != nil {
			if status, msg, done := c.interrupted(ctx); done {
				return status, msg
			}
			log.Warn("pagination failed", zap.Error(err))
			return state.StatusCompleted, "pagination failed"
		}
		if !more {
			return state.StatusCompleted, "no more results"
		}

		c.update(func(st *state.RunState) {
			st.CurrentPage++
			st.TotalPages = max(st.TotalPages, st.CurrentPage)
		})
		c.setStatus(state.StatusSearching, "collecting jobs")
	}
}

// interrupted reports whether the run must stop now: a stop request, the hard
// ceiling or cancellation of the caller.
func (c *Controller) interrupted(ctx context.Context) (state.RunStatus, string, bool) {
	c.mu.Lock()
	stop, reason := c.stopRequested, c.stopReason
	c.mu.Unlock()

	if stop {
		return state.StatusStopped, reason, true
	}
	if ctx.Err() != nil {
		return state.StatusStopped, context.Cause(ctx).Error(), true
	}
	return "", "", false
}

func (c *Controller) allowed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deps.Gate.Allow(c.st)
}

func (c *Controller) maxJobs(queueLength int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deps.Gate.MaxJobs(c.st, queueLength)
}

func (c *Controller) targetReached() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st.JobsToApply > 0 && c.st.Completed() >= c.st.JobsToApply
}

func (c *Controller) current() (state.JobRef, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st.Current()
}

// filter drops jobs that should never be opened and logs them as viewed.
func (c *Controller) filter(ctx context.Context, jobs []state.JobRef) []state.JobRef {
	if len(c.deps.Filters) == 0 || len(jobs) == 0 {
		return jobs
	}

	kept, dropped, err := filtering.Run(ctx, c.deps.FilterConfig, filtering.Deps{Logger: c.runLogger(), Run: c.State()}, c.deps.Filters, jobs)
	if err != nil {
		c.runLogger().Warn("filtering jobs failed, keeping all", zap.Error(err))
		return jobs
	}

	site := c.deps.Adapter.Name()
	c.update(func(st *state.RunState) {
		for _, d := range dropped {
			if !st.Seen(d.Job.ID) {
				st.LogViewed(d.Job, state.OutcomeFiltered, d.Filter, c.now())
			}
		}
	})
	for range dropped {
		c.deps.Metrics.ObserveSkip(site, string(state.OutcomeFiltered))
	}
	return kept
}

// processJob runs one job through open, affordance detection, form filling
// and logging. It only returns quota.ErrLimitReached.
func (c *Controller) processJob(ctx context.Context, job state.JobRef) error {
	log := logger.WithFields(c.runLogger(), logger.JobFields(job.ID, job.Title, job.Company)...)
	started := c.now()

	if c.State().Applied(job.ID) {
		c.skip(job, state.OutcomeAlreadyApplied, "already logged in this run")
		return nil
	}
	if !c.cfg.SkipAppliedCheck {
		st := c.State()
		bctx, cancel := c.backendContext(ctx)
		applied, err := c.deps.Backend.IsApplied(bctx, st.UserID, job.ID)
		cancel()
		switch {
		case err != nil:
			log.Warn("duplicate check failed", zap.Error(err))
		case applied:
			c.skip(job, state.OutcomeAlreadyApplied, "applied in a previous run")
			return nil
		}
	}

	// counters change between jobs of the same run
	if !c.allowed() {
		return quota.ErrLimitReached
	}

	c.setStatus(state.StatusOpeningJob, job.Title)
	defer c.returnToList(ctx)

	if err := c.deps.Adapter.OpenJob(ctx, job); err != nil {
		c.skip(job, state.OutcomeNoApply, err.Error())
		return nil
	}

	aff, found, err := c.deps.Adapter.DetectApplyAffordance(ctx)
	if err != nil || !found {
		reason := "no apply control"
		if err != nil {
			reason = err.Error()
		}
		c.skip(job, state.OutcomeNoApply, reason)
		return nil
	}
	if c.deps.Adapter.IsExternalApplication(ctx, aff) {
		c.skip(job, state.OutcomeExternal, aff.Text)
		return nil
	}

	if err := c.deps.Adapter.StartApplication(ctx, aff); err != nil {
		c.record(ctx, job, form.Result{Status: form.StatusFailed, Reason: err.Error()}, started)
		return nil
	}

	result := c.fill(ctx, ctx, job)
	c.record(ctx, job, result, started)
	return nil
}

// fill runs the form filler with a per-job context the watchdog can cancel.
func (c *Controller) fill(ctx, runCtx context.Context, job state.JobRef) form.Result {
	jobCtx, cancel := context.WithCancelCause(runCtx)
	c.mu.Lock()
	c.jobCancel = cancel
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.jobCancel = nil
		c.mu.Unlock()
		cancel(nil)
	}()

	var beginErr error
	c.update(func(st *state.RunState) { beginErr = st.BeginApplication(c.now()) })
	if beginErr != nil {
		return form.Result{Status: form.StatusFailed, Reason: beginErr.Error()}
	}
	c.setStatus(state.StatusFillingForm, job.Title)
	c.persist(ctx)

	st := c.State()
	runner := c.deps.Forms(st.RunID, st.Profile, c.deps.Adapter.FormScope(), c.touch)
	result := runner.Run(jobCtx, job)

	if result.Status != form.StatusCompleted && errors.Is(context.Cause(jobCtx), ErrStuck) {
		result.Reason = ErrStuck.Error()
	}

	c.update(func(st *state.RunState) { st.EndApplication(c.now()) })
	return result
}

// record logs a terminal outcome locally, then on the backend.
func (c *Controller) record(ctx context.Context, job state.JobRef, result form.Result, started time.Time) {
	log := logger.WithFields(c.runLogger(), logger.JobFields(job.ID, job.Title, job.Company)...)
	outcome := state.OutcomeFailed
	if result.Status == form.StatusCompleted {
		outcome = state.OutcomeCompleted
	}

	c.setStatus(state.StatusLogging, job.Title)

	var (
		logErr       error
		used         int
		usageLimited bool
		userID, site string
	)
	c.update(func(st *state.RunState) {
		logErr = st.LogApplication(job, outcome, result.Reason, c.now())
		used = st.Plan.ApplicationsUsed
		usageLimited = st.Plan.UsageLimited()
		userID, site = st.UserID, st.Site
	})
	if logErr != nil {
		log.Warn("application not logged", zap.Error(logErr))
		return
	}
	c.persist(ctx)

	bctx, cancel := c.backendContext(ctx)
	defer cancel()

	err := c.deps.Backend.LogAppliedJob(bctx, backend.AppliedJob{
		UserID:    userID,
		JobID:     job.ID,
		Title:     job.Title,
		Company:   job.Company,
		Location:  job.Location,
		JobURL:    job.URL,
		Platform:  site,
		Status:    string(outcome),
		Reason:    result.Reason,
		AppliedAt: c.now(),
	})
	if err != nil {
		log.Warn("reporting application failed", zap.Error(err))
	}
	if outcome == state.OutcomeCompleted && usageLimited {
		if err := c.deps.Backend.IncrementApplications(bctx, userID, used); err != nil {
			log.Warn("reporting usage failed", zap.Error(err))
		}
	}

	c.deps.Metrics.ObserveApplication(site, string(outcome), c.now().Sub(started))

	ev := newEvent(EventApplicationComplete, c.State(), c.now())
	ev.Job = &job
	ev.Status = string(outcome)
	if outcome == state.OutcomeCompleted {
		log.Info("application submitted", zap.Int("steps", result.Steps))
	} else {
		ev.Type = EventApplicationError
		ev.Error = result.Reason
		log.Warn("application failed", zap.String("reason", result.Reason), zap.Int("steps", result.Steps))
	}
	c.emit(ev)
}

func (c *Controller) skip(job state.JobRef, outcome state.Outcome, reason string) {
	var site string
	c.update(func(st *state.RunState) {
		st.LogViewed(job, outcome, reason, c.now())
		site = st.Site
	})
	c.deps.Metrics.ObserveSkip(site, string(outcome))

	logger.WithFields(c.runLogger(), logger.JobFields(job.ID, job.Title, job.Company)...).
		Info("job skipped", zap.String("outcome", string(outcome)), zap.String("reason", utils.TruncateForLog(reason, 120)))
	c.notifyStatus(state.StatusOpeningJob, fmt.Sprintf("skipped %s: %s", job.Title, outcome))
}

func (c *Controller) returnToList(ctx context.Context) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout*2)
	defer cancel()
	if err := c.deps.Adapter.ReturnToList(rctx); err != nil {
		c.runLogger().Debug("returning to job list failed", zap.Error(err))
	}
}

// finish records the final status of a run.
func (c *Controller) finish(ctx context.Context, status state.RunStatus, message string) {
	c.update(func(st *state.RunState) { st.SetStatus(status, message, c.now()) })
	c.persist(ctx)

	st := c.State()
	c.deps.Metrics.ObserveRun(st.Site, string(status))
	c.runLogger().Info("run finished",
		zap.String("status", string(status)),
		zap.String("message", message),
		zap.Int("applications", len(st.Applications)),
		zap.Int("completed", st.Completed()),
		zap.Int("viewed", len(st.ViewedJobs)),
		zap.Int("watchdog_recoveries", st.WatchdogRecoveries),
	)

	c.notifyStatus(status, message)
	ev := newEvent(EventSearchCompleted, st, c.now())
	ev.Status = string(status)
	ev.Message = message
	c.emit(ev)
}
