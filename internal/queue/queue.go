package queue

import (
	"context"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/flotillaproject/flotilla/internal/common/util"
	"github.com/flotillaproject/flotilla/internal/driver"
	"github.com/flotillaproject/flotilla/internal/run"
)

type Config struct {
	// Cap on jobs in Submitted/Pending/Running at any moment. 0 means the
	// driver's MAX_RUNNING option or, failing that, no cap.
	MaxRunning int
	// How many times a job may be submitted before it is Failed. A job that
	// exits unsuccessfully or whose submission errors consumes one attempt
	// per round.
	MaxSubmitAttempts int
	// Delay between scheduling steps in the driving loop.
	PollInterval time.Duration
	// Timeout applied to every driver submit/poll/kill call.
	DriverTimeout time.Duration
	// Bound on concurrent status polls per scheduling step.
	PollWorkers int
	// Command run for each realization, executed in the realization's run
	// path. Empty means a run.sh script inside the run path.
	Executable string
	Args       []string
}

func (c Config) withDefaults() Config {
	if c.MaxSubmitAttempts <= 0 {
		c.MaxSubmitAttempts = 2
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.DriverTimeout <= 0 {
		c.DriverTimeout = 30 * time.Second
	}
	if c.PollWorkers <= 0 {
		c.PollWorkers = 4
	}
	return c
}

// JobQueue owns one Job per registered realization and advances all of them
// through the configured driver while respecting the max-running cap.
// Driver options must not be mutated once submission has begun.
type JobQueue struct {
	driver  driver.Driver
	runCtx  *run.Context
	config  Config
	clock   util.Clock
	metrics *Metrics

	// jobs is append-only after construction; per-job state lives behind
	// each job's own lock.
	jobs []*Job
}

func New(drv driver.Driver, runCtx *run.Context, config Config, metrics *Metrics) *JobQueue {
	return &JobQueue{
		driver:  drv,
		runCtx:  runCtx,
		config:  config.withDefaults(),
		clock:   &util.DefaultClock{},
		metrics: metrics,
	}
}

// Add registers a realization for dispatch. It returns nil without
// registering anything if the realization is inactive in its run context.
func (q *JobQueue) Add(arg *run.Argument) *Job {
	if arg == nil || !q.runCtx.IsActive(arg.Realization()) {
		return nil
	}
	job := newJob(arg)
	q.jobs = append(q.jobs, job)
	arg.BindQueue(len(q.jobs) - 1)
	return job
}

// AddAll registers every active realization of the run context.
func (q *JobQueue) AddAll() {
	for i := 0; i < q.runCtx.Size(); i++ {
		q.Add(q.runCtx.Arg(i))
	}
}

// Advance performs one scheduling step: polls every in-flight job, resolves
// retries, and submits waiting jobs up to the max-running cap. It is meant
// to be invoked repeatedly by a driving loop and must not be called
// concurrently with itself.
func (q *JobQueue) Advance(ctx context.Context) {
	start := q.clock.Now()

	q.pollInFlight(ctx)
	q.submitWaiting(ctx)

	if q.metrics != nil {
		q.metrics.observeStates(q.JobStateCounts())
		q.metrics.advanceDuration.Observe(q.clock.Now().Sub(start).Seconds())
	}
}

// Run drives the queue to completion, advancing on the configured poll
// interval. On context cancellation every remaining job is killed.
func (q *JobQueue) Run(ctx context.Context) error {
	for {
		q.Advance(ctx)
		if q.IsComplete() {
			return nil
		}
		select {
		case <-ctx.Done():
			if err := q.KillAll(); err != nil {
				log.WithError(err).Warn("errors while killing jobs during shutdown")
			}
			return ctx.Err()
		case <-time.After(q.config.PollInterval):
		}
	}
}

// pollInFlight polls the backend for every job occupying a slot, in
// parallel across a bounded worker pool. Each job is touched by exactly one
// worker.
func (q *JobQueue) pollInFlight(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(q.config.PollWorkers)
	for _, job := range q.jobs {
		job := job
		if !job.State().Occupying() {
			continue
		}
		g.Go(func() error {
			q.pollJob(gctx, job)
			return nil
		})
	}
	_ = g.Wait()
}

func (q *JobQueue) pollJob(ctx context.Context, job *Job) {
	job.mu.Lock()
	if job.killRequested || !job.state.Occupying() {
		job.mu.Unlock()
		return
	}
	backendID := job.backendID
	job.mu.Unlock()

	pollCtx, cancel := context.WithTimeout(ctx, q.config.DriverTimeout)
	defer cancel()
	status, err := q.driver.PollStatus(pollCtx, backendID)
	if err != nil {
		log.WithError(err).WithField("job", job.correlationID).Debug("status poll failed")
		return
	}

	job.mu.Lock()
	defer job.mu.Unlock()
	if job.killRequested || !job.state.Occupying() {
		return
	}
	switch status {
	case driver.StatusPending:
		job.state = Pending
	case driver.StatusRunning:
		job.state = Running
	case driver.StatusDone:
		job.state = Done
		log.WithField("realization", job.realization).WithField("job", job.correlationID).Info("job done")
	case driver.StatusExited:
		q.resolveAttemptLocked(job, "job exited")
	case driver.StatusUnknown:
		// Transient; poll again next interval. Does not consume an attempt.
	}
}

// resolveAttemptLocked consumes one submit attempt for a job whose current
// round failed, moving it back to Waiting or to terminal Failed. Caller
// holds job.mu.
func (q *JobQueue) resolveAttemptLocked(job *Job, reason string) {
	job.attempts++
	logger := log.WithField("realization", job.realization).
		WithField("job", job.correlationID).
		WithField("attempts", job.attempts)
	if job.attempts < q.config.MaxSubmitAttempts {
		job.state = Waiting
		job.backendID = ""
		if q.metrics != nil {
			q.metrics.retries.Inc()
		}
		logger.Warnf("%s, will retry", reason)
		return
	}
	job.state = Failed
	if q.metrics != nil {
		q.metrics.failures.Inc()
	}
	logger.Errorf("%s, no attempts left", reason)
}

// submitWaiting submits jobs in registration order while slots are free.
func (q *JobQueue) submitWaiting(ctx context.Context) {
	for _, job := range q.jobs {
		if job.State() != Waiting {
			continue
		}
		if max := q.effectiveMaxRunning(); max > 0 && q.OccupiedCount() >= max {
			return
		}
		q.submitJob(ctx, job)
	}
}

func (q *JobQueue) submitJob(ctx context.Context, job *Job) {
	job.mu.Lock()
	if job.killRequested {
		job.state = Killed
		job.mu.Unlock()
		return
	}
	if !q.runCtx.IsActive(job.realization) {
		// Deactivated after registration but before submission; the job
		// never reaches the backend.
		job.state = Killed
		job.mu.Unlock()
		log.WithField("realization", job.realization).Info("skipping submission of deactivated realization")
		return
	}
	arg := job.arg
	job.mu.Unlock()

	executable := q.config.Executable
	if executable == "" {
		executable = filepath.Join(arg.RunPath(), "run.sh")
	}

	submitCtx, cancel := context.WithTimeout(ctx, q.config.DriverTimeout)
	defer cancel()
	backendID, err := q.driver.Submit(submitCtx, driver.JobSpec{
		Name:       arg.JobName(),
		Executable: executable,
		Args:       q.config.Args,
		RunPath:    arg.RunPath(),
	})

	job.mu.Lock()
	defer job.mu.Unlock()
	if err != nil {
		log.WithError(err).WithField("realization", job.realization).Warn("submission failed")
		q.resolveAttemptLocked(job, "submission failed")
		return
	}
	if job.killRequested {
		// Killed mid-submission: the backend briefly saw the job, take it
		// back down and never count it as ours.
		job.state = Killed
		go q.killBackendJob(backendID)
		return
	}
	job.state = Submitted
	job.backendID = backendID
	job.submittedAt = q.clock.Now()
	if q.metrics != nil {
		q.metrics.submissions.Inc()
	}
	log.WithField("realization", job.realization).
		WithField("job", job.correlationID).
		WithField("backendId", backendID).
		Info("job submitted")
}

func (q *JobQueue) killBackendJob(backendID string) {
	ctx, cancel := context.WithTimeout(context.Background(), q.config.DriverTimeout)
	defer cancel()
	q.driver.Kill(ctx, backendID)
}

// KillJob marks the job for realization i killed and issues a best-effort
// backend kill. The job is treated as Killed regardless of whether the
// backend confirmed.
func (q *JobQueue) KillJob(i int) error {
	job := q.JobForRealization(i)
	if job == nil {
		return errors.Errorf("no job registered for realization %d", i)
	}

	job.mu.Lock()
	if job.state.Terminal() {
		job.mu.Unlock()
		return nil
	}
	job.killRequested = true
	backendID := job.backendID
	job.state = Killed
	job.mu.Unlock()

	if q.metrics != nil {
		q.metrics.kills.Inc()
	}
	if backendID != "" {
		q.killBackendJob(backendID)
	}
	log.WithField("realization", i).WithField("job", job.correlationID).Info("job killed")
	return nil
}

// KillAll kills every non-terminal job, collecting any per-job errors.
func (q *JobQueue) KillAll() error {
	var result *multierror.Error
	for _, job := range q.jobs {
		if job.State().Terminal() {
			continue
		}
		result = multierror.Append(result, q.KillJob(job.realization))
	}
	return result.ErrorOrNil()
}

// IsComplete reports whether every registered job is in a terminal state.
func (q *JobQueue) IsComplete() bool {
	for _, job := range q.jobs {
		if !job.State().Terminal() {
			return false
		}
	}
	return true
}

// OccupiedCount is the number of jobs currently counting against the
// max-running cap.
func (q *JobQueue) OccupiedCount() int {
	count := 0
	for _, job := range q.jobs {
		if job.State().Occupying() {
			count++
		}
	}
	return count
}

func (q *JobQueue) JobStateCounts() map[JobState]int {
	counts := map[JobState]int{}
	for _, job := range q.jobs {
		counts[job.State()]++
	}
	return counts
}

func (q *JobQueue) Jobs() []*Job {
	jobs := make([]*Job, len(q.jobs))
	copy(jobs, q.jobs)
	return jobs
}

func (q *JobQueue) JobForRealization(i int) *Job {
	for _, job := range q.jobs {
		if job.realization == i {
			return job
		}
	}
	return nil
}

// effectiveMaxRunning resolves the cap: the driver's MAX_RUNNING option
// wins, then the queue config; 0 means uncapped.
func (q *JobQueue) effectiveMaxRunning() int {
	if max := q.driver.MaxRunning(); max > 0 {
		return max
	}
	return q.config.MaxRunning
}
