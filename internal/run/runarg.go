// Package run holds the per-invocation grouping of an ensemble run: the run
// context, its per-realization run arguments, and the opaque storage handles
// the external storage collaborator manages.
package run

import "sync"

// Storage is an opaque handle to an ensemble storage scope. The orchestrator
// never opens or formats storage itself; handles are passed through to the
// collaborators that do.
type Storage interface{}

// Argument is the immutable per-realization descriptor consumed by the job
// queue. Deactivation is recorded on the owning Context's active mask, not
// here.
type Argument struct {
	realization int
	iteration   int
	runPath     string
	jobName     string
	active      bool
	storage     Storage

	mu         sync.Mutex
	queueIndex int
	queued     bool
}

func newArgument(realization, iteration int, runPath, jobName string, active bool, storage Storage) *Argument {
	return &Argument{
		realization: realization,
		iteration:   iteration,
		runPath:     runPath,
		jobName:     jobName,
		active:      active,
		storage:     storage,
	}
}

func (a *Argument) Realization() int { return a.realization }

func (a *Argument) Iteration() int { return a.iteration }

func (a *Argument) RunPath() string { return a.runPath }

func (a *Argument) JobName() string { return a.jobName }

func (a *Argument) Active() bool { return a.active }

func (a *Argument) Storage() Storage { return a.storage }

// BindQueue records the index the job queue assigned to this realization.
// Called once by the queue when the job is registered.
func (a *Argument) BindQueue(index int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.queueIndex = index
	a.queued = true
}

// QueueIndex returns the queue index assigned at registration; ok is false
// until the argument has been handed to a queue.
func (a *Argument) QueueIndex() (index int, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.queueIndex, a.queued
}
