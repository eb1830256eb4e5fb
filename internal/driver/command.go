package driver

import (
	"context"
	"time"

	retry "github.com/avast/retry-go"
	cache "github.com/patrickmn/go-cache"
	log "github.com/sirupsen/logrus"

	"github.com/flotillaproject/flotilla/internal/process"
)

const (
	// How long a polled backend status stays fresh before the status command
	// is invoked again. Bounds the rate of bjobs/qstat/squeue round-trips
	// when the queue polls many jobs on a short interval.
	statusCacheTTL = 2 * time.Second

	killAttempts = 3
	killDelay    = 500 * time.Millisecond
)

// newStatusCache returns the per-driver cache of recently polled statuses,
// keyed by backend job id.
func newStatusCache() *cache.Cache {
	return cache.New(statusCacheTTL, 10*statusCacheTTL)
}

// runStatusCommand invokes a backend status command, retrying once on a
// straight execution failure. A command that cannot be run, or that exits
// non-zero, is a transient condition from the caller's point of view.
func runStatusCommand(ctx context.Context, name string, args ...string) (process.Result, error) {
	var result process.Result
	err := retry.Do(
		func() error {
			var err error
			result, err = process.Run(ctx, "", name, args...)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(2),
		retry.Delay(200*time.Millisecond),
		retry.LastErrorOnly(true),
	)
	return result, err
}

// runKillCommand invokes a backend kill command, retrying a few times.
// The kill is best-effort; exhausted retries report failure but the caller
// treats the job as no longer its responsibility either way.
func runKillCommand(ctx context.Context, backend string, jobID string, name string, args ...string) bool {
	err := retry.Do(
		func() error {
			// A non-zero exit usually means the job is already gone, which
			// counts as a successful kill; only failure to run the command
			// at all is retried.
			_, err := process.Run(ctx, "", name, args...)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(killAttempts),
		retry.Delay(killDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		log.WithError(err).Warnf("failed to kill %s job %s with %s", backend, jobID, name)
		return false
	}
	return true
}
