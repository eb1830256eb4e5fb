package driver

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLsfStatus(t *testing.T) {
	assert.Equal(t, StatusPending, parseLsfStatus("1234 user PEND normal host - job1 Jan 1 10:00"))
	assert.Equal(t, StatusRunning, parseLsfStatus("1234 user RUN normal host host2 job1 Jan 1 10:00"))
	assert.Equal(t, StatusDone, parseLsfStatus("1234 user DONE normal host host2 job1 Jan 1 10:00"))
	assert.Equal(t, StatusExited, parseLsfStatus("1234 user EXIT normal host host2 job1 Jan 1 10:00"))
	assert.Equal(t, StatusUnknown, parseLsfStatus(""))
	assert.Equal(t, StatusUnknown, parseLsfStatus("garbage"))
}

func TestLsfJobIDPattern(t *testing.T) {
	match := lsfJobIDPattern.FindStringSubmatch("Job <12345> is submitted to queue <normal>.")
	assert.NotNil(t, match)
	assert.Equal(t, "12345", match[1])

	assert.Nil(t, lsfJobIDPattern.FindStringSubmatch("Request aborted by esub"))
}

func TestParseTorqueStatus(t *testing.T) {
	assert.Equal(t, StatusPending, parseTorqueStatus("Job Id: 10001.cluster\n    job_state = Q\n"))
	assert.Equal(t, StatusRunning, parseTorqueStatus("Job Id: 10001.cluster\n    job_state = R\n"))
	assert.Equal(t, StatusDone, parseTorqueStatus("Job Id: 10001.cluster\n    job_state = C\n    exit_status = 0\n"))
	assert.Equal(t, StatusExited, parseTorqueStatus("Job Id: 10001.cluster\n    job_state = C\n    exit_status = 1\n"))
	// A completed job without a recorded exit status counts as done.
	assert.Equal(t, StatusDone, parseTorqueStatus("Job Id: 10001.cluster\n    job_state = C\n"))
	assert.Equal(t, StatusUnknown, parseTorqueStatus("qstat: Unknown Job Id"))
}

func TestParseSlurmQueueState(t *testing.T) {
	assert.Equal(t, StatusPending, parseSlurmQueueState("PENDING"))
	assert.Equal(t, StatusRunning, parseSlurmQueueState("RUNNING"))
	assert.Equal(t, StatusRunning, parseSlurmQueueState("COMPLETING"))
	assert.Equal(t, StatusDone, parseSlurmQueueState("COMPLETED"))
	assert.Equal(t, StatusExited, parseSlurmQueueState("FAILED"))
	assert.Equal(t, StatusExited, parseSlurmQueueState("CANCELLED"))
	assert.Equal(t, StatusExited, parseSlurmQueueState("TIMEOUT"))
	assert.Equal(t, StatusUnknown, parseSlurmQueueState(""))
}

func TestSlurmJobIDPattern(t *testing.T) {
	match := slurmJobIDPattern.FindStringSubmatch("Submitted batch job 67890")
	assert.NotNil(t, match)
	assert.Equal(t, "67890", match[1])
}
