package driver

import (
	"context"
	"strconv"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/flotillaproject/flotilla/internal/common/flotillaerrors"
	"github.com/flotillaproject/flotilla/internal/process"
)

// localDriver runs each job as a direct child process. The backend job id is
// the child's pid; polling checks the recorded process handle instead of
// shelling out to a status command.
type localDriver struct {
	options *optionTable

	mu      sync.Mutex
	handles map[string]*process.Handle
}

func newLocalDriver() *localDriver {
	return &localDriver{
		options: newOptionTable(nil),
		handles: map[string]*process.Handle{},
	}
}

func (d *localDriver) Kind() Kind { return KindLocal }

func (d *localDriver) Submit(ctx context.Context, spec JobSpec) (string, error) {
	handle, err := process.Spawn(spec.RunPath, spec.Executable, spec.Args...)
	if err != nil {
		return "", &flotillaerrors.ErrSubmission{
			Backend: d.Kind().String(),
			Message: err.Error(),
		}
	}
	jobID := strconv.Itoa(handle.Pid())

	d.mu.Lock()
	d.handles[jobID] = handle
	d.mu.Unlock()

	log.WithField("pid", handle.Pid()).WithField("job", spec.Name).Debug("spawned local job")
	return jobID, nil
}

func (d *localDriver) PollStatus(ctx context.Context, jobID string) (Status, error) {
	d.mu.Lock()
	handle, ok := d.handles[jobID]
	d.mu.Unlock()
	if !ok {
		return StatusUnknown, &flotillaerrors.ErrUnknownJob{Backend: d.Kind().String(), JobID: jobID}
	}

	running, exitCode := handle.Poll()
	if running {
		return StatusRunning, nil
	}
	if exitCode == 0 {
		return StatusDone, nil
	}
	return StatusExited, nil
}

func (d *localDriver) Kill(ctx context.Context, jobID string) bool {
	d.mu.Lock()
	handle, ok := d.handles[jobID]
	d.mu.Unlock()
	if !ok {
		// Never ours, or already reaped: treated as killed.
		return true
	}
	if err := handle.Kill(); err != nil {
		log.WithError(err).Warnf("failed to kill local job %s", jobID)
		return false
	}
	return true
}

func (d *localDriver) SetOption(key, value string) bool { return d.options.set(key, value) }

func (d *localDriver) GetOption(key string) (string, bool) { return d.options.get(key) }

func (d *localDriver) ListOptions() []string { return d.options.list() }

func (d *localDriver) MaxRunning() int { return d.options.maxRunning() }
