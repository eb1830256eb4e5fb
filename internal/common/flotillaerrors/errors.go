// Package flotillaerrors contains generic errors returned by the job
// dispatch core. Callers should match on these types with errors.As.
//
// If multiple errors occur in some function (e.g., when killing every job in
// a queue), that function should return an error of type multierror.Error
// from package github.com/hashicorp/go-multierror that encapsulates those
// individual errors.
package flotillaerrors

import (
	"fmt"
)

// ErrSubmission indicates that a backend rejected a job submission, or that
// the submit command could not be run or did not produce a parseable job id.
type ErrSubmission struct {
	// Backend name, e.g. "lsf"
	Backend string
	// The submit command that was invoked, empty for the local backend
	Command string
	// Raw output from the submit command, if any
	Output string
	// An optional message to include in the error message
	Message string
}

func (err *ErrSubmission) Error() (s string) {
	if err.Command != "" {
		s = fmt.Sprintf("job submission to %s via %q failed", err.Backend, err.Command)
	} else {
		s = fmt.Sprintf("job submission to %s failed", err.Backend)
	}
	if err.Message != "" {
		s = s + fmt.Sprintf("; %s", err.Message)
	}
	if err.Output != "" {
		s = s + fmt.Sprintf("; output: %q", err.Output)
	}
	return s
}

// ErrUnknownJob indicates an operation on a backend job id the driver has
// never seen.
type ErrUnknownJob struct {
	Backend string
	JobID   string
}

func (err *ErrUnknownJob) Error() string {
	return fmt.Sprintf("job %q is not known to the %s backend", err.JobID, err.Backend)
}
