package driver

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	cache "github.com/patrickmn/go-cache"
	log "github.com/sirupsen/logrus"

	"github.com/flotillaproject/flotilla/internal/common/flotillaerrors"
	"github.com/flotillaproject/flotilla/internal/process"
)

var (
	// qsub prints the full job id, e.g. "10001.cluster.example.com", on the
	// first line of stdout.
	torqueJobIDPattern = regexp.MustCompile(`^\S+`)

	torqueJobStatePattern   = regexp.MustCompile(`job_state\s*=\s*(\S+)`)
	torqueExitStatusPattern = regexp.MustCompile(`exit_status\s*=\s*(-?\d+)`)
)

// torqueDriver submits through qsub, polls through qstat -f and kills
// through qdel.
type torqueDriver struct {
	options  *optionTable
	statuses *cache.Cache
}

func newTorqueDriver() *torqueDriver {
	return &torqueDriver{
		options: newOptionTable(map[string]validator{
			TorqueQueueOption:          anyString,
			TorqueQsubCmdOption:        anyString,
			TorqueQstatCmdOption:       anyString,
			TorqueQstatOptionsOption:   anyString,
			TorqueQdelCmdOption:        anyString,
			TorqueNumCpusPerNodeOption: nonNegativeInt,
			TorqueNumNodesOption:       nonNegativeInt,
			TorqueKeepQsubOutputOption: boolString,
			TorqueClusterLabelOption:   anyString,
		}),
		statuses: newStatusCache(),
	}
}

func (d *torqueDriver) Kind() Kind { return KindTorque }

func (d *torqueDriver) Submit(ctx context.Context, spec JobSpec) (string, error) {
	qsub := d.options.getDefault(TorqueQsubCmdOption, "qsub")

	args := []string{"-N", spec.Name}
	if queue, ok := d.options.get(TorqueQueueOption); ok && queue != "" {
		args = append(args, "-q", queue)
	}
	nodes := d.options.getDefault(TorqueNumNodesOption, "1")
	ppn := d.options.getDefault(TorqueNumCpusPerNodeOption, "1")
	resource := fmt.Sprintf("nodes=%s:ppn=%s", nodes, ppn)
	if label, ok := d.options.get(TorqueClusterLabelOption); ok && label != "" {
		resource = fmt.Sprintf("%s:%s", resource, label)
	}
	args = append(args, "-l", resource)
	if keep, ok := d.options.get(TorqueKeepQsubOutputOption); !ok || !parseBool(keep) {
		args = append(args, "-k", "n")
	}
	args = append(args, spec.Executable)
	args = append(args, spec.Args...)

	result, err := process.Run(ctx, spec.RunPath, qsub, args...)
	if err != nil {
		return "", &flotillaerrors.ErrSubmission{
			Backend: d.Kind().String(),
			Command: qsub,
			Message: err.Error(),
		}
	}

	jobID := torqueJobIDPattern.FindString(strings.TrimSpace(result.Stdout))
	if result.ExitCode != 0 || jobID == "" {
		return "", &flotillaerrors.ErrSubmission{
			Backend: d.Kind().String(),
			Command: qsub,
			Output:  result.Stdout + result.Stderr,
			Message: fmt.Sprintf("exit code %d without a parseable job id", result.ExitCode),
		}
	}
	return jobID, nil
}

func (d *torqueDriver) PollStatus(ctx context.Context, jobID string) (Status, error) {
	if cached, ok := d.statuses.Get(jobID); ok {
		return cached.(Status), nil
	}

	qstat := d.options.getDefault(TorqueQstatCmdOption, "qstat")
	args := []string{"-f"}
	if extra, ok := d.options.get(TorqueQstatOptionsOption); ok && extra != "" {
		args = append(args, strings.Fields(extra)...)
	}
	args = append(args, jobID)

	result, err := runStatusCommand(ctx, qstat, args...)
	if err != nil {
		log.WithError(err).Debugf("qstat failed for job %s, treating status as unknown", jobID)
		return StatusUnknown, nil
	}
	if result.ExitCode != 0 {
		// Torque forgets completed jobs quickly unless qstat is run with
		// history options; a job qstat no longer knows has left the queue.
		if strings.Contains(result.Stderr, "Unknown Job Id") {
			return StatusDone, nil
		}
		return StatusUnknown, nil
	}

	status := parseTorqueStatus(result.Stdout)
	if status != StatusUnknown {
		d.statuses.SetDefault(jobID, status)
	}
	return status, nil
}

// parseTorqueStatus reads job_state (and exit_status for completed jobs)
// from qstat -f output.
func parseTorqueStatus(out string) Status {
	match := torqueJobStatePattern.FindStringSubmatch(out)
	if match == nil {
		return StatusUnknown
	}
	switch match[1] {
	case "Q", "H", "W", "T":
		return StatusPending
	case "R", "E":
		return StatusRunning
	case "C", "F":
		if exit := torqueExitStatusPattern.FindStringSubmatch(out); exit != nil {
			if code, err := strconv.Atoi(exit[1]); err == nil && code != 0 {
				return StatusExited
			}
		}
		return StatusDone
	default:
		return StatusUnknown
	}
}

func (d *torqueDriver) Kill(ctx context.Context, jobID string) bool {
	qdel := d.options.getDefault(TorqueQdelCmdOption, "qdel")
	return runKillCommand(ctx, d.Kind().String(), jobID, qdel, jobID)
}

func parseBool(value string) bool {
	b, err := strconv.ParseBool(value)
	return err == nil && b
}

func (d *torqueDriver) SetOption(key, value string) bool { return d.options.set(key, value) }

func (d *torqueDriver) GetOption(key string) (string, bool) { return d.options.get(key) }

func (d *torqueDriver) ListOptions() []string { return d.options.list() }

func (d *torqueDriver) MaxRunning() int { return d.options.maxRunning() }
