package driver

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	cache "github.com/patrickmn/go-cache"
	log "github.com/sirupsen/logrus"

	"github.com/flotillaproject/flotilla/internal/common/flotillaerrors"
	"github.com/flotillaproject/flotilla/internal/process"
)

var (
	// sbatch prints "Submitted batch job 12345".
	slurmJobIDPattern = regexp.MustCompile(`Submitted batch job (\d+)`)

	slurmJobStatePattern = regexp.MustCompile(`JobState=(\S+)`)
)

// slurmDriver submits through sbatch, polls active jobs through squeue and
// completed jobs through scontrol, and kills through scancel.
type slurmDriver struct {
	options  *optionTable
	statuses *cache.Cache
}

func newSlurmDriver() *slurmDriver {
	return &slurmDriver{
		options: newOptionTable(map[string]validator{
			SlurmSbatchOption:        anyString,
			SlurmScontrolOption:      anyString,
			SlurmSqueueOption:        anyString,
			SlurmScancelOption:       anyString,
			SlurmPartitionOption:     anyString,
			SlurmSqueueTimeoutOption: nonNegativeInt,
			SlurmMaxRuntimeOption:    nonNegativeInt,
			SlurmMemoryOption:        anyString,
			SlurmMemoryPerCpuOption:  anyString,
		}),
		statuses: newStatusCache(),
	}
}

func (d *slurmDriver) Kind() Kind { return KindSlurm }

func (d *slurmDriver) Submit(ctx context.Context, spec JobSpec) (string, error) {
	sbatch := d.options.getDefault(SlurmSbatchOption, "sbatch")

	args := []string{
		"--job-name=" + spec.Name,
		"--chdir=" + spec.RunPath,
		"--output=" + spec.RunPath + "/slurm.stdout",
	}
	if partition, ok := d.options.get(SlurmPartitionOption); ok && partition != "" {
		args = append(args, "--partition="+partition)
	}
	if runtime, ok := d.options.get(SlurmMaxRuntimeOption); ok && runtime != "" {
		args = append(args, "--time="+runtime)
	}
	if memory, ok := d.options.get(SlurmMemoryOption); ok && memory != "" {
		args = append(args, "--mem="+memory)
	}
	if memoryPerCpu, ok := d.options.get(SlurmMemoryPerCpuOption); ok && memoryPerCpu != "" {
		args = append(args, "--mem-per-cpu="+memoryPerCpu)
	}
	args = append(args, spec.Executable)
	args = append(args, spec.Args...)

	result, err := process.Run(ctx, spec.RunPath, sbatch, args...)
	if err != nil {
		return "", &flotillaerrors.ErrSubmission{
			Backend: d.Kind().String(),
			Command: sbatch,
			Message: err.Error(),
		}
	}

	match := slurmJobIDPattern.FindStringSubmatch(result.Stdout)
	if result.ExitCode != 0 || match == nil {
		return "", &flotillaerrors.ErrSubmission{
			Backend: d.Kind().String(),
			Command: sbatch,
			Output:  result.Stdout + result.Stderr,
			Message: fmt.Sprintf("exit code %d without a parseable job id", result.ExitCode),
		}
	}
	return match[1], nil
}

func (d *slurmDriver) PollStatus(ctx context.Context, jobID string) (Status, error) {
	if cached, ok := d.statuses.Get(jobID); ok {
		return cached.(Status), nil
	}

	// Apply the configured squeue timeout on top of the caller's context.
	if timeout, ok := d.options.get(SlurmSqueueTimeoutOption); ok && timeout != "" {
		if seconds, err := strconv.Atoi(timeout); err == nil && seconds > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, time.Duration(seconds)*time.Second)
			defer cancel()
		}
	}

	squeue := d.options.getDefault(SlurmSqueueOption, "squeue")
	result, err := runStatusCommand(ctx, squeue, "-h", "-o", "%T", "-j", jobID)
	if err != nil {
		log.WithError(err).Debugf("squeue failed for job %s, treating status as unknown", jobID)
		return StatusUnknown, nil
	}

	status := StatusUnknown
	if result.ExitCode == 0 && result.Stdout != "" {
		status = parseSlurmQueueState(result.Stdout)
	} else {
		// The job has left the queue; scontrol still knows its final state.
		status = d.pollCompleted(ctx, jobID)
	}
	if status != StatusUnknown {
		d.statuses.SetDefault(jobID, status)
	}
	return status, nil
}

func parseSlurmQueueState(out string) Status {
	switch out {
	case "PENDING", "CONFIGURING", "SUSPENDED", "REQUEUED":
		return StatusPending
	case "RUNNING", "COMPLETING":
		return StatusRunning
	case "COMPLETED":
		return StatusDone
	case "FAILED", "CANCELLED", "TIMEOUT", "NODE_FAIL", "OUT_OF_MEMORY", "PREEMPTED", "BOOT_FAIL", "DEADLINE":
		return StatusExited
	default:
		return StatusUnknown
	}
}

func (d *slurmDriver) pollCompleted(ctx context.Context, jobID string) Status {
	scontrol := d.options.getDefault(SlurmScontrolOption, "scontrol")
	result, err := runStatusCommand(ctx, scontrol, "show", "job", jobID)
	if err != nil || result.ExitCode != 0 {
		log.WithError(err).Debugf("scontrol failed for job %s, treating status as unknown", jobID)
		return StatusUnknown
	}
	match := slurmJobStatePattern.FindStringSubmatch(result.Stdout)
	if match == nil {
		return StatusUnknown
	}
	return parseSlurmQueueState(match[1])
}

func (d *slurmDriver) Kill(ctx context.Context, jobID string) bool {
	scancel := d.options.getDefault(SlurmScancelOption, "scancel")
	return runKillCommand(ctx, d.Kind().String(), jobID, scancel, jobID)
}

func (d *slurmDriver) SetOption(key, value string) bool { return d.options.set(key, value) }

func (d *slurmDriver) GetOption(key string) (string, bool) { return d.options.get(key) }

func (d *slurmDriver) ListOptions() []string { return d.options.list() }

func (d *slurmDriver) MaxRunning() int { return d.options.maxRunning() }
