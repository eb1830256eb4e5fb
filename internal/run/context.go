package run

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/flotillaproject/flotilla/internal/common/util"
)

// Mode distinguishes the three kinds of ensemble run.
type Mode int

const (
	EnsembleExperiment Mode = iota
	InitOnly
	SmootherRun
)

func (m Mode) String() string {
	switch m {
	case EnsembleExperiment:
		return "ENSEMBLE_EXPERIMENT"
	case InitOnly:
		return "INIT_ONLY"
	case SmootherRun:
		return "SMOOTHER_RUN"
	default:
		return "INVALID"
	}
}

func ParseMode(name string) (Mode, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "ENSEMBLE_EXPERIMENT":
		return EnsembleExperiment, nil
	case "INIT_ONLY":
		return InitOnly, nil
	case "SMOOTHER_RUN":
		return SmootherRun, nil
	default:
		return EnsembleExperiment, errors.Errorf("unknown run mode %q", name)
	}
}

// InitMode controls parameter initialization for InitOnly runs.
type InitMode int

const (
	InitNone InitMode = iota
	InitConditional
	InitForce
)

// Context groups one ensemble run invocation: its realizations' run
// arguments, the active mask, run mode, iteration, and the storage handles
// the run reads and writes. A Context owns its Arguments exclusively but
// only references the storage handles.
type Context struct {
	mode          Mode
	initMode      InitMode
	iteration     int
	runID         string
	simStorage    Storage
	targetStorage Storage
	args          []*Argument

	mu     sync.RWMutex
	active []bool
}

// ForEnsembleExperiment builds the context for a plain ensemble experiment.
// One Argument is allocated per realization where the active mask is true;
// inactive slots stay empty.
func ForEnsembleExperiment(simStorage Storage, active []bool, runPaths, jobNames []string, iteration int) *Context {
	ctx := newContext(EnsembleExperiment, simStorage, nil, active, runPaths, jobNames, iteration)
	return ctx
}

// ForInitOnly builds the context for a run that only initializes parameters
// and produces no jobs requiring post-run data loading.
func ForInitOnly(simStorage Storage, initMode InitMode, active []bool, runPaths []string, iteration int) *Context {
	ctx := newContext(InitOnly, simStorage, nil, active, runPaths, nil, iteration)
	ctx.initMode = initMode
	return ctx
}

// ForSmootherRun builds the context for a smoother run, which additionally
// carries the storage the external update routine writes into.
func ForSmootherRun(simStorage, targetStorage Storage, active []bool, runPaths, jobNames []string, iteration int) *Context {
	return newContext(SmootherRun, simStorage, targetStorage, active, runPaths, jobNames, iteration)
}

func newContext(mode Mode, simStorage, targetStorage Storage, active []bool, runPaths, jobNames []string, iteration int) *Context {
	args := make([]*Argument, len(active))
	mask := make([]bool, len(active))
	copy(mask, active)
	for i, isActive := range active {
		if !isActive {
			continue
		}
		var runPath, jobName string
		if i < len(runPaths) {
			runPath = runPaths[i]
		}
		if i < len(jobNames) {
			jobName = jobNames[i]
		} else {
			jobName = fmt.Sprintf("realization-%d", i)
		}
		args[i] = newArgument(i, iteration, runPath, jobName, true, simStorage)
	}
	return &Context{
		mode:          mode,
		iteration:     iteration,
		runID:         util.NewULID(),
		simStorage:    simStorage,
		targetStorage: targetStorage,
		args:          args,
		active:        mask,
	}
}

func (c *Context) Size() int { return len(c.args) }

func (c *Context) Mode() Mode { return c.mode }

func (c *Context) InitMode() InitMode { return c.initMode }

func (c *Context) Iteration() int { return c.iteration }

// RunID is the opaque identifier generated at construction, used to
// correlate external logs and storage with this run.
func (c *Context) RunID() string { return c.runID }

func (c *Context) SimulationStorage() Storage { return c.simStorage }

// UpdateTargetStorage returns the target storage for the external update
// routine; ok is false for any mode other than SmootherRun.
func (c *Context) UpdateTargetStorage() (Storage, bool) {
	if c.mode != SmootherRun {
		return nil, false
	}
	return c.targetStorage, true
}

// Arg returns the run argument for realization i, or nil where the slot is
// inactive or out of range.
func (c *Context) Arg(i int) *Argument {
	if i < 0 || i >= len(c.args) {
		return nil
	}
	return c.args[i]
}

func (c *Context) IsActive(i int) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if i < 0 || i >= len(c.active) {
		return false
	}
	return c.active[i]
}

// DeactivateRealization flips the active mask entry for realization i.
// A job not yet submitted for i will be skipped by the queue; a job already
// submitted is unaffected.
func (c *Context) DeactivateRealization(i int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i < 0 || i >= len(c.active) {
		return
	}
	c.active[i] = false
}

// ActiveCount returns the number of currently active realizations.
func (c *Context) ActiveCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	count := 0
	for _, isActive := range c.active {
		if isActive {
			count++
		}
	}
	return count
}
