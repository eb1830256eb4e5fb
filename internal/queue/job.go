// Package queue implements the concurrency-bounded scheduler that owns one
// job per active realization and drives each through submission, polling,
// retry and terminal states.
package queue

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flotillaproject/flotilla/internal/run"
)

// JobState is the queue's view of one job.
//
// Waiting -> Submitted -> {Pending, Running} -> {Done, Exited};
// Exited -> Waiting while submit attempts remain, else Failed;
// any state -> Killed on an explicit kill request.
type JobState int

const (
	Waiting JobState = iota
	Submitted
	Pending
	Running
	Done
	Exited
	Failed
	Killed
)

func (s JobState) String() string {
	switch s {
	case Waiting:
		return "Waiting"
	case Submitted:
		return "Submitted"
	case Pending:
		return "Pending"
	case Running:
		return "Running"
	case Done:
		return "Done"
	case Exited:
		return "Exited"
	case Failed:
		return "Failed"
	case Killed:
		return "Killed"
	default:
		return "Invalid"
	}
}

// Terminal reports whether no further transitions can happen.
func (s JobState) Terminal() bool {
	return s == Done || s == Failed || s == Killed
}

// Occupying reports whether the state counts against the queue's
// max-running admission cap.
func (s JobState) Occupying() bool {
	return s == Submitted || s == Pending || s == Running
}

// Job tracks one submitted realization. All mutation happens inside the
// queue under the job's own lock; everything exported here is a read-only
// snapshot accessor.
type Job struct {
	realization   int
	correlationID string
	arg           *run.Argument

	mu            sync.Mutex
	state         JobState
	backendID     string
	attempts      int
	submittedAt   time.Time
	killRequested bool
}

func newJob(arg *run.Argument) *Job {
	return &Job{
		realization:   arg.Realization(),
		correlationID: uuid.NewString(),
		arg:           arg,
		state:         Waiting,
	}
}

func (j *Job) Realization() int { return j.realization }

// CorrelationID identifies this job in logs, independent of the
// backend-assigned id which only exists after submission.
func (j *Job) CorrelationID() string { return j.correlationID }

func (j *Job) State() JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// BackendID is the backend-assigned job id, empty until the first
// successful submission.
func (j *Job) BackendID() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.backendID
}

// Attempts is the number of failed submission rounds so far.
func (j *Job) Attempts() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.attempts
}

func (j *Job) SubmittedAt() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.submittedAt
}
