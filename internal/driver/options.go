package driver

import (
	"sort"
	"strconv"
	"sync"
)

// Universal option keys, recognized by every backend.
const (
	MaxRunningOption = "MAX_RUNNING"
)

// Torque option keys.
const (
	TorqueQueueOption          = "QUEUE"
	TorqueQsubCmdOption        = "QSUB_CMD"
	TorqueQstatCmdOption       = "QSTAT_CMD"
	TorqueQstatOptionsOption   = "QSTAT_OPTIONS"
	TorqueQdelCmdOption        = "QDEL_CMD"
	TorqueNumCpusPerNodeOption = "NUM_CPUS_PER_NODE"
	TorqueNumNodesOption       = "NUM_NODES"
	TorqueKeepQsubOutputOption = "KEEP_QSUB_OUTPUT"
	TorqueClusterLabelOption   = "CLUSTER_LABEL"
)

// LSF option keys.
const (
	LsfQueueOption      = "LSF_QUEUE"
	LsfResourceOption   = "LSF_RESOURCE"
	LsfServerOption     = "LSF_SERVER"
	LsfRshCmdOption     = "LSF_RSH_CMD"
	LsfLoginShellOption = "LSF_LOGIN_SHELL"
	LsfBsubCmdOption    = "BSUB_CMD"
	LsfBjobsCmdOption   = "BJOBS_CMD"
	LsfBkillCmdOption   = "BKILL_CMD"
)

// Slurm option keys.
const (
	SlurmSbatchOption        = "SBATCH"
	SlurmScontrolOption      = "SCONTROL"
	SlurmSqueueOption        = "SQUEUE"
	SlurmScancelOption       = "SCANCEL"
	SlurmPartitionOption     = "PARTITION"
	SlurmSqueueTimeoutOption = "SQUEUE_TIMEOUT"
	SlurmMaxRuntimeOption    = "MAX_RUNTIME"
	SlurmMemoryOption        = "MEMORY"
	SlurmMemoryPerCpuOption  = "MEMORY_PER_CPU"
)

type validator func(value string) bool

func anyString(string) bool { return true }

func nonNegativeInt(value string) bool {
	n, err := strconv.Atoi(value)
	return err == nil && n >= 0
}

func boolString(value string) bool {
	_, err := strconv.ParseBool(value)
	return err == nil
}

var universalOptions = map[string]validator{
	MaxRunningOption: nonNegativeInt,
}

// optionTable holds the set of recognized option keys for one driver
// instance, their validators, and the values set so far. Values are stored
// as text; rejection of an unknown key or invalid value leaves prior state
// unchanged.
type optionTable struct {
	mu         sync.RWMutex
	validators map[string]validator
	values     map[string]string
}

func newOptionTable(backendOptions map[string]validator) *optionTable {
	validators := make(map[string]validator, len(universalOptions)+len(backendOptions))
	for key, validate := range universalOptions {
		validators[key] = validate
	}
	for key, validate := range backendOptions {
		validators[key] = validate
	}
	return &optionTable{
		validators: validators,
		values:     map[string]string{},
	}
}

func (t *optionTable) set(key, value string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	validate, ok := t.validators[key]
	if !ok || !validate(value) {
		return false
	}
	t.values[key] = value
	return true
}

func (t *optionTable) get(key string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	value, ok := t.values[key]
	return value, ok
}

// getDefault returns the set value for key, or fallback if unset or empty.
func (t *optionTable) getDefault(key, fallback string) string {
	if value, ok := t.get(key); ok && value != "" {
		return value
	}
	return fallback
}

func (t *optionTable) list() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	keys := make([]string, 0, len(t.validators))
	for key := range t.validators {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// maxRunning returns the configured MAX_RUNNING value, or 0 when unset,
// meaning the caller should apply its own default.
func (t *optionTable) maxRunning() int {
	value, ok := t.get(MaxRunningOption)
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
