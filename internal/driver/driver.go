// Package driver abstracts the batch backends that run realization jobs:
// direct local process execution, and the LSF, Torque and Slurm schedulers
// reached through their command-line clients.
package driver

import (
	"context"
	"strings"

	"github.com/pkg/errors"
)

// Kind enumerates the supported backends.
type Kind int

const (
	KindLocal Kind = iota
	KindLsf
	KindTorque
	KindSlurm
)

func (k Kind) String() string {
	switch k {
	case KindLocal:
		return "local"
	case KindLsf:
		return "lsf"
	case KindTorque:
		return "torque"
	case KindSlurm:
		return "slurm"
	default:
		return "unknown"
	}
}

func ParseKind(name string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "local":
		return KindLocal, nil
	case "lsf":
		return KindLsf, nil
	case "torque":
		return KindTorque, nil
	case "slurm":
		return KindSlurm, nil
	default:
		return KindLocal, errors.Errorf("unknown queue backend %q", name)
	}
}

// Status is a backend job status as seen by polling.
type Status int

const (
	// StatusPending means the job is queued on the backend but not yet running.
	StatusPending Status = iota
	// StatusRunning means the job is executing.
	StatusRunning
	// StatusDone means the job finished with a zero exit status.
	StatusDone
	// StatusExited means the job finished unsuccessfully.
	StatusExited
	// StatusUnknown means the status could not be determined this round;
	// callers should poll again later, never treat it as success or failure.
	StatusUnknown
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusRunning:
		return "Running"
	case StatusDone:
		return "Done"
	case StatusExited:
		return "Exited"
	default:
		return "Unknown"
	}
}

// JobSpec describes one realization job to submit.
type JobSpec struct {
	// Job/case name as shown on the backend
	Name string
	// Executable to run, with arguments
	Executable string
	Args       []string
	// Directory the job runs in
	RunPath string
}

// Driver submits, polls and kills a single external job on one backend.
// Option mutation is not allowed concurrently with in-flight submissions;
// the job queue stops calling SetOption once it has begun submitting.
type Driver interface {
	Kind() Kind

	// Submit hands the job to the backend and returns the backend-assigned
	// job id. Returns an error of type *flotillaerrors.ErrSubmission if the
	// submit command is missing, unreachable, or its output does not contain
	// a parseable job id.
	Submit(ctx context.Context, spec JobSpec) (string, error)

	// PollStatus reports the backend's view of the job. Transient command or
	// parse failures degrade to StatusUnknown with a nil error.
	PollStatus(ctx context.Context, jobID string) (Status, error)

	// Kill removes the job from the backend, best-effort. Absence of the job
	// on the backend counts as success.
	Kill(ctx context.Context, jobID string) bool

	// SetOption stores a backend option. It returns false and leaves prior
	// state unchanged if the key is not recognized for this backend or the
	// value fails the key's validation; it never panics.
	SetOption(key, value string) bool
	GetOption(key string) (string, bool)
	ListOptions() []string

	// MaxRunning returns the configured MAX_RUNNING value, 0 when unset.
	MaxRunning() int
}

// New constructs the driver for the given backend with an empty option
// table. The concrete implementation is resolved once here, never by string
// comparison afterwards.
func New(kind Kind) Driver {
	switch kind {
	case KindLsf:
		return newLsfDriver()
	case KindTorque:
		return newTorqueDriver()
	case KindSlurm:
		return newSlurmDriver()
	default:
		return newLocalDriver()
	}
}
