package driver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allKinds() []Kind {
	return []Kind{KindLocal, KindLsf, KindTorque, KindSlurm}
}

func TestSetOptionUnknownKeyReturnsFalse(t *testing.T) {
	for _, kind := range allKinds() {
		d := New(kind)
		require.True(t, d.SetOption(MaxRunningOption, "42"))
		assert.False(t, d.SetOption("MAKS_RUNNING", "42"), "backend %s", kind)

		// The previously set option is unchanged.
		value, ok := d.GetOption(MaxRunningOption)
		require.True(t, ok)
		assert.Equal(t, "42", value)
	}
}

func TestSetOptionMaxRunningRoundTrips(t *testing.T) {
	torque := New(KindTorque)
	require.True(t, torque.SetOption(MaxRunningOption, "42"))
	value, ok := torque.GetOption(MaxRunningOption)
	require.True(t, ok)
	assert.Equal(t, "42", value)
	assert.Equal(t, 42, torque.MaxRunning())

	lsf := New(KindLsf)
	require.True(t, lsf.SetOption(MaxRunningOption, "72"))
	value, ok = lsf.GetOption(MaxRunningOption)
	require.True(t, ok)
	assert.Equal(t, "72", value)
}

func TestSetOptionInvalidValueReturnsFalse(t *testing.T) {
	for _, kind := range allKinds() {
		d := New(kind)
		require.True(t, d.SetOption(MaxRunningOption, "7"))

		assert.False(t, d.SetOption(MaxRunningOption, "2a"), "backend %s", kind)
		assert.False(t, d.SetOption(MaxRunningOption, "-1"), "backend %s", kind)

		value, ok := d.GetOption(MaxRunningOption)
		require.True(t, ok)
		assert.Equal(t, "7", value)
	}
}

func TestSetOptionBackendSpecificKey(t *testing.T) {
	torque := New(KindTorque)
	require.True(t, torque.SetOption(TorqueNumCpusPerNodeOption, "33"))
	value, ok := torque.GetOption(TorqueNumCpusPerNodeOption)
	require.True(t, ok)
	assert.Equal(t, "33", value)

	// Torque keys are not valid on other backends.
	assert.False(t, New(KindLsf).SetOption(TorqueNumCpusPerNodeOption, "33"))
	assert.False(t, New(KindLocal).SetOption(TorqueNumCpusPerNodeOption, "33"))
}

func TestGetOptionUnsetIsAbsent(t *testing.T) {
	d := New(KindSlurm)
	_, ok := d.GetOption(SlurmPartitionOption)
	assert.False(t, ok)
}

func TestListOptionsTorque(t *testing.T) {
	options := New(KindTorque).ListOptions()
	for _, key := range []string{
		MaxRunningOption,
		TorqueQsubCmdOption,
		TorqueQstatCmdOption,
		TorqueQstatOptionsOption,
		TorqueQdelCmdOption,
		TorqueQueueOption,
		TorqueNumCpusPerNodeOption,
		TorqueNumNodesOption,
		TorqueKeepQsubOutputOption,
		TorqueClusterLabelOption,
	} {
		assert.Contains(t, options, key)
	}
}

func TestListOptionsLocalHasOnlyUniversalKeys(t *testing.T) {
	assert.Equal(t, []string{MaxRunningOption}, New(KindLocal).ListOptions())
}

func TestListOptionsLsf(t *testing.T) {
	options := New(KindLsf).ListOptions()
	for _, key := range []string{
		MaxRunningOption,
		LsfQueueOption,
		LsfResourceOption,
		LsfServerOption,
		LsfRshCmdOption,
		LsfLoginShellOption,
		LsfBsubCmdOption,
		LsfBjobsCmdOption,
		LsfBkillCmdOption,
	} {
		assert.Contains(t, options, key)
	}
}

func TestListOptionsSlurm(t *testing.T) {
	options := New(KindSlurm).ListOptions()
	for _, key := range []string{
		MaxRunningOption,
		SlurmSbatchOption,
		SlurmScontrolOption,
		SlurmSqueueOption,
		SlurmScancelOption,
		SlurmPartitionOption,
		SlurmSqueueTimeoutOption,
		SlurmMaxRuntimeOption,
		SlurmMemoryOption,
		SlurmMemoryPerCpuOption,
	} {
		assert.Contains(t, options, key)
	}
}

func TestParseKind(t *testing.T) {
	for name, expected := range map[string]Kind{
		"local":  KindLocal,
		"LSF":    KindLsf,
		"Torque": KindTorque,
		" slurm": KindSlurm,
	} {
		kind, err := ParseKind(name)
		require.NoError(t, err)
		assert.Equal(t, expected, kind)
	}

	_, err := ParseKind("pbspro")
	assert.Error(t, err)
}
