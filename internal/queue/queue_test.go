package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flotillaproject/flotilla/internal/common/flotillaerrors"
	"github.com/flotillaproject/flotilla/internal/driver"
	"github.com/flotillaproject/flotilla/internal/run"
)

// fakeDriver scripts backend behavior for queue tests. Submitted jobs
// succeed on their first poll unless configured otherwise.
type fakeDriver struct {
	mu sync.Mutex

	options     map[string]string
	failSubmits bool
	// exitRounds is the number of times each job reports Exited before it
	// reports Done on resubmission.
	exitRounds   map[int]int
	unknownFirst bool

	nextID    int
	inFlight  map[string]int // backend id -> realization
	polled    map[string]int // backend id -> poll count
	killed    []string
	maxOpen   int
	submitted int
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		options:    map[string]string{},
		exitRounds: map[int]int{},
		inFlight:   map[string]int{},
		polled:     map[string]int{},
	}
}

func (d *fakeDriver) Kind() driver.Kind { return driver.KindLocal }

func (d *fakeDriver) Submit(ctx context.Context, spec driver.JobSpec) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failSubmits {
		return "", &flotillaerrors.ErrSubmission{Backend: "fake", Message: "backend unreachable"}
	}
	d.nextID++
	d.submitted++
	id := fmt.Sprintf("job-%d", d.nextID)
	var realization int
	fmt.Sscanf(spec.Name, "job%d", &realization)
	d.inFlight[id] = realization
	if len(d.inFlight) > d.maxOpen {
		d.maxOpen = len(d.inFlight)
	}
	return id, nil
}

func (d *fakeDriver) PollStatus(ctx context.Context, jobID string) (driver.Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	realization, ok := d.inFlight[jobID]
	if !ok {
		return driver.StatusUnknown, nil
	}
	d.polled[jobID]++
	if d.unknownFirst && d.polled[jobID] == 1 {
		return driver.StatusUnknown, nil
	}
	if d.exitRounds[realization] > 0 {
		d.exitRounds[realization]--
		delete(d.inFlight, jobID)
		return driver.StatusExited, nil
	}
	delete(d.inFlight, jobID)
	return driver.StatusDone, nil
}

func (d *fakeDriver) Kill(ctx context.Context, jobID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.killed = append(d.killed, jobID)
	delete(d.inFlight, jobID)
	return true
}

func (d *fakeDriver) SetOption(key, value string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.options[key] = value
	return true
}

func (d *fakeDriver) GetOption(key string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	value, ok := d.options[key]
	return value, ok
}

func (d *fakeDriver) ListOptions() []string { return []string{driver.MaxRunningOption} }

func (d *fakeDriver) MaxRunning() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	var n int
	fmt.Sscanf(d.options[driver.MaxRunningOption], "%d", &n)
	return n
}

func testRunContext(size int) *run.Context {
	mask := make([]bool, size)
	paths := make([]string, size)
	names := make([]string, size)
	for i := range mask {
		mask[i] = true
		paths[i] = fmt.Sprintf("/tmp/sim%d", i)
		names[i] = fmt.Sprintf("job%d", i)
	}
	return run.ForEnsembleExperiment(nil, mask, paths, names, 0)
}

func testQueue(t *testing.T, drv driver.Driver, runCtx *run.Context, config Config) *JobQueue {
	t.Helper()
	config.Executable = "/bin/true"
	return New(drv, runCtx, config, NewMetrics(prometheus.NewRegistry()))
}

func driveToCompletion(t *testing.T, q *JobQueue, maxRunning int) {
	t.Helper()
	for i := 0; i < 200 && !q.IsComplete(); i++ {
		q.Advance(context.Background())
		if maxRunning > 0 {
			assert.LessOrEqual(t, q.OccupiedCount(), maxRunning)
		}
	}
	require.True(t, q.IsComplete(), "queue did not complete")
}

func TestAllJobsSucceedWithinMaxRunning(t *testing.T) {
	drv := newFakeDriver()
	runCtx := testRunContext(5)
	q := testQueue(t, drv, runCtx, Config{MaxRunning: 2})
	q.AddAll()

	driveToCompletion(t, q, 2)

	for _, job := range q.Jobs() {
		assert.Equal(t, Done, job.State())
	}
	assert.Equal(t, 5, len(q.Jobs()))
	// The backend never saw more than two jobs open at once.
	assert.LessOrEqual(t, drv.maxOpen, 2)
}

func TestFailingSubmissionReachesFailedAfterExactAttempts(t *testing.T) {
	drv := newFakeDriver()
	drv.failSubmits = true
	runCtx := testRunContext(1)
	q := testQueue(t, drv, runCtx, Config{MaxRunning: 1, MaxSubmitAttempts: 3})
	q.AddAll()

	driveToCompletion(t, q, 1)

	job := q.JobForRealization(0)
	require.NotNil(t, job)
	assert.Equal(t, Failed, job.State())
	assert.Equal(t, 3, job.Attempts())
}

func TestExitedJobIsRetriedThenSucceeds(t *testing.T) {
	drv := newFakeDriver()
	drv.exitRounds[0] = 1
	runCtx := testRunContext(1)
	q := testQueue(t, drv, runCtx, Config{MaxRunning: 1, MaxSubmitAttempts: 2})
	q.AddAll()

	driveToCompletion(t, q, 1)

	job := q.JobForRealization(0)
	assert.Equal(t, Done, job.State())
	assert.Equal(t, 1, job.Attempts())
	assert.Equal(t, 2, drv.submitted)
}

func TestExitedJobExhaustsAttempts(t *testing.T) {
	drv := newFakeDriver()
	drv.exitRounds[0] = 10
	runCtx := testRunContext(1)
	q := testQueue(t, drv, runCtx, Config{MaxRunning: 1, MaxSubmitAttempts: 2})
	q.AddAll()

	driveToCompletion(t, q, 1)

	job := q.JobForRealization(0)
	assert.Equal(t, Failed, job.State())
	assert.Equal(t, 2, job.Attempts())
	assert.Equal(t, 2, drv.submitted)
}

func TestUnknownStatusDoesNotConsumeAttempts(t *testing.T) {
	drv := newFakeDriver()
	drv.unknownFirst = true
	runCtx := testRunContext(1)
	q := testQueue(t, drv, runCtx, Config{MaxRunning: 1, MaxSubmitAttempts: 1})
	q.AddAll()

	driveToCompletion(t, q, 1)

	job := q.JobForRealization(0)
	assert.Equal(t, Done, job.State())
	assert.Equal(t, 0, job.Attempts())
}

func TestAddSkipsInactiveRealization(t *testing.T) {
	runCtx := testRunContext(3)
	runCtx.DeactivateRealization(1)
	q := testQueue(t, newFakeDriver(), runCtx, Config{})

	assert.NotNil(t, q.Add(runCtx.Arg(0)))
	assert.Nil(t, q.Add(runCtx.Arg(1)))
	assert.Nil(t, q.Add(nil))
	assert.Len(t, q.Jobs(), 1)
}

func TestDeactivationBeforeSubmissionSkipsJob(t *testing.T) {
	drv := newFakeDriver()
	runCtx := testRunContext(2)
	q := testQueue(t, drv, runCtx, Config{MaxRunning: 2})
	q.AddAll()

	runCtx.DeactivateRealization(1)
	driveToCompletion(t, q, 2)

	assert.Equal(t, Done, q.JobForRealization(0).State())
	assert.Equal(t, Killed, q.JobForRealization(1).State())
	assert.Equal(t, 1, drv.submitted)
}

func TestDeactivationAfterSubmissionDoesNotAffectJob(t *testing.T) {
	drv := newFakeDriver()
	runCtx := testRunContext(1)
	q := testQueue(t, drv, runCtx, Config{MaxRunning: 1})
	q.AddAll()

	// First step submits the job.
	q.Advance(context.Background())
	require.Equal(t, Submitted, q.JobForRealization(0).State())

	runCtx.DeactivateRealization(0)
	driveToCompletion(t, q, 1)
	assert.Equal(t, Done, q.JobForRealization(0).State())
}

func TestKillJob(t *testing.T) {
	drv := newFakeDriver()
	runCtx := testRunContext(2)
	q := testQueue(t, drv, runCtx, Config{MaxRunning: 2})
	q.AddAll()

	q.Advance(context.Background())
	backendID := q.JobForRealization(0).BackendID()
	require.NotEmpty(t, backendID)

	require.NoError(t, q.KillJob(0))
	assert.Equal(t, Killed, q.JobForRealization(0).State())
	assert.Contains(t, drv.killed, backendID)

	// Killing a terminal job is a no-op.
	require.NoError(t, q.KillJob(0))

	assert.Error(t, q.KillJob(17))
}

func TestKillAll(t *testing.T) {
	drv := newFakeDriver()
	runCtx := testRunContext(4)
	q := testQueue(t, drv, runCtx, Config{MaxRunning: 2})
	q.AddAll()

	q.Advance(context.Background())
	require.NoError(t, q.KillAll())

	for _, job := range q.Jobs() {
		assert.Equal(t, Killed, job.State())
	}
	assert.True(t, q.IsComplete())
}

func TestKilledWaitingJobIsNeverSubmitted(t *testing.T) {
	drv := newFakeDriver()
	runCtx := testRunContext(2)
	q := testQueue(t, drv, runCtx, Config{MaxRunning: 1})
	q.AddAll()

	// Realization 0 occupies the single slot; realization 1 stays Waiting.
	q.Advance(context.Background())
	require.Equal(t, Waiting, q.JobForRealization(1).State())

	require.NoError(t, q.KillJob(1))
	driveToCompletion(t, q, 1)

	assert.Equal(t, Killed, q.JobForRealization(1).State())
	assert.Equal(t, 1, drv.submitted)
}

func TestDriverMaxRunningOptionWins(t *testing.T) {
	drv := newFakeDriver()
	drv.SetOption(driver.MaxRunningOption, "1")
	runCtx := testRunContext(3)
	q := testQueue(t, drv, runCtx, Config{MaxRunning: 2})
	q.AddAll()

	driveToCompletion(t, q, 1)
	assert.LessOrEqual(t, drv.maxOpen, 1)
}

func TestRunDrivesQueueToCompletion(t *testing.T) {
	drv := newFakeDriver()
	runCtx := testRunContext(3)
	q := testQueue(t, drv, runCtx, Config{MaxRunning: 2, PollInterval: time.Millisecond})
	q.AddAll()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, q.Run(ctx))
	assert.True(t, q.IsComplete())
}

func TestRunKillsJobsOnCancellation(t *testing.T) {
	drv := newFakeDriver()
	drv.unknownFirst = true
	runCtx := testRunContext(1)
	q := testQueue(t, drv, runCtx, Config{MaxRunning: 1, PollInterval: 50 * time.Millisecond})
	q.AddAll()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := q.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, q.IsComplete())
}

func TestEmptyQueueIsComplete(t *testing.T) {
	q := testQueue(t, newFakeDriver(), testRunContext(0), Config{})
	assert.True(t, q.IsComplete())
}
