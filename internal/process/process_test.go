package process

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCapturesOutputAndExitCode(t *testing.T) {
	result, err := Run(context.Background(), "", "/bin/sh", "-c", "echo out; echo err >&2")
	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, "out", result.Stdout)
	assert.Equal(t, "err", result.Stderr)
}

func TestRunNonZeroExitIsNotAnError(t *testing.T) {
	result, err := Run(context.Background(), "", "/bin/sh", "-c", "exit 7")
	require.NoError(t, err)
	assert.Equal(t, 7, result.ExitCode)
}

func TestRunMissingCommand(t *testing.T) {
	_, err := Run(context.Background(), "", "/no/such/command")
	assert.Error(t, err)
}

func TestRunTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := Run(ctx, "", "/bin/sh", "-c", "sleep 10")
	assert.Error(t, err)
}

func TestRunInDirectory(t *testing.T) {
	dir := t.TempDir()
	result, err := Run(context.Background(), dir, "/bin/sh", "-c", "pwd")
	require.NoError(t, err)
	assert.Equal(t, dir, result.Stdout)
}

func TestSpawnAndWait(t *testing.T) {
	h, err := Spawn("", "/bin/sh", "-c", "exit 0")
	require.NoError(t, err)
	assert.Greater(t, h.Pid(), 0)

	code, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	running, code := h.Poll()
	assert.False(t, running)
	assert.Equal(t, 0, code)
}

func TestSpawnFailureExitCode(t *testing.T) {
	h, err := Spawn("", "/bin/sh", "-c", "exit 5")
	require.NoError(t, err)

	code, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, code)
}

func TestSpawnPollWhileRunning(t *testing.T) {
	h, err := Spawn("", "/bin/sh", "-c", "sleep 10")
	require.NoError(t, err)

	running, _ := h.Poll()
	assert.True(t, running)

	require.NoError(t, h.Kill())
	code, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, 0, code)

	// Killing an exited process is not an error.
	assert.NoError(t, h.Kill())
}
