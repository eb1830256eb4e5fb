package driver

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	cache "github.com/patrickmn/go-cache"
	log "github.com/sirupsen/logrus"

	"github.com/flotillaproject/flotilla/internal/common/flotillaerrors"
	"github.com/flotillaproject/flotilla/internal/process"
)

// bsub prints e.g. "Job <12345> is submitted to queue <normal>."
var lsfJobIDPattern = regexp.MustCompile(`Job <(\d+)>`)

// lsfDriver submits through bsub, polls through bjobs and kills through
// bkill. When LSF_SERVER is set the commands are wrapped in the configured
// remote shell so they run on the LSF frontend.
type lsfDriver struct {
	options  *optionTable
	statuses *cache.Cache
}

func newLsfDriver() *lsfDriver {
	return &lsfDriver{
		options: newOptionTable(map[string]validator{
			LsfQueueOption:      anyString,
			LsfResourceOption:   anyString,
			LsfServerOption:     anyString,
			LsfRshCmdOption:     anyString,
			LsfLoginShellOption: anyString,
			LsfBsubCmdOption:    anyString,
			LsfBjobsCmdOption:   anyString,
			LsfBkillCmdOption:   anyString,
		}),
		statuses: newStatusCache(),
	}
}

func (d *lsfDriver) Kind() Kind { return KindLsf }

// remoteWrap routes a command through the configured remote shell when an
// LSF server is set, otherwise returns it unchanged.
func (d *lsfDriver) remoteWrap(name string, args []string) (string, []string) {
	server, ok := d.options.get(LsfServerOption)
	if !ok || server == "" {
		return name, args
	}
	rsh := d.options.getDefault(LsfRshCmdOption, "ssh")
	remote := name + " " + strings.Join(args, " ")
	if shell, ok := d.options.get(LsfLoginShellOption); ok && shell != "" {
		remote = fmt.Sprintf("%s -c %q", shell, remote)
	}
	return rsh, []string{server, remote}
}

func (d *lsfDriver) Submit(ctx context.Context, spec JobSpec) (string, error) {
	bsub := d.options.getDefault(LsfBsubCmdOption, "bsub")

	args := []string{"-o", spec.RunPath + "/lsf.stdout", "-J", spec.Name}
	if queue, ok := d.options.get(LsfQueueOption); ok && queue != "" {
		args = append(args, "-q", queue)
	}
	if resource, ok := d.options.get(LsfResourceOption); ok && resource != "" {
		args = append(args, "-R", resource)
	}
	args = append(args, spec.Executable)
	args = append(args, spec.Args...)

	name, args := d.remoteWrap(bsub, args)
	result, err := process.Run(ctx, spec.RunPath, name, args...)
	if err != nil {
		return "", &flotillaerrors.ErrSubmission{
			Backend: d.Kind().String(),
			Command: bsub,
			Message: err.Error(),
		}
	}

	match := lsfJobIDPattern.FindStringSubmatch(result.Stdout)
	if result.ExitCode != 0 || match == nil {
		return "", &flotillaerrors.ErrSubmission{
			Backend: d.Kind().String(),
			Command: bsub,
			Output:  result.Stdout + result.Stderr,
			Message: fmt.Sprintf("exit code %d without a parseable job id", result.ExitCode),
		}
	}
	return match[1], nil
}

func (d *lsfDriver) PollStatus(ctx context.Context, jobID string) (Status, error) {
	if cached, ok := d.statuses.Get(jobID); ok {
		return cached.(Status), nil
	}

	bjobs := d.options.getDefault(LsfBjobsCmdOption, "bjobs")
	name, args := d.remoteWrap(bjobs, []string{"-noheader", jobID})
	result, err := runStatusCommand(ctx, name, args...)
	if err != nil || result.ExitCode != 0 {
		log.WithError(err).Debugf("bjobs failed for job %s, treating status as unknown", jobID)
		return StatusUnknown, nil
	}

	status := parseLsfStatus(result.Stdout)
	if status != StatusUnknown {
		d.statuses.SetDefault(jobID, status)
	}
	return status, nil
}

// parseLsfStatus extracts the STAT column from a single bjobs line.
func parseLsfStatus(out string) Status {
	fields := strings.Fields(out)
	if len(fields) < 3 {
		return StatusUnknown
	}
	switch fields[2] {
	case "PEND", "PSUSP":
		return StatusPending
	case "RUN", "SSUSP", "USUSP":
		return StatusRunning
	case "DONE":
		return StatusDone
	case "EXIT", "ZOMBI":
		return StatusExited
	default:
		return StatusUnknown
	}
}

func (d *lsfDriver) Kill(ctx context.Context, jobID string) bool {
	bkill := d.options.getDefault(LsfBkillCmdOption, "bkill")
	name, args := d.remoteWrap(bkill, []string{jobID})
	return runKillCommand(ctx, d.Kind().String(), jobID, name, args...)
}

func (d *lsfDriver) SetOption(key, value string) bool { return d.options.set(key, value) }

func (d *lsfDriver) GetOption(key string) (string, bool) { return d.options.get(key) }

func (d *lsfDriver) ListOptions() []string { return d.options.list() }

func (d *lsfDriver) MaxRunning() int { return d.options.maxRunning() }
