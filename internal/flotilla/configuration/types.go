package configuration

import (
	"time"

	"github.com/flotillaproject/flotilla/internal/driver"
)

type FlotillaConfiguration struct {
	MetricsPort uint16

	// Backend selects the queue driver: local, lsf, torque or slurm.
	Backend driver.Kind
	// Raw backend option key/value pairs, validated by the driver at
	// startup. Invalid pairs are logged and dropped, never fatal.
	DriverOptions map[string]string

	Queue    QueueConfiguration
	Ensemble EnsembleConfiguration
}

type QueueConfiguration struct {
	MaxRunning        int
	MaxSubmitAttempts int
	PollInterval      time.Duration
	DriverTimeout     time.Duration
	PollWorkers       int
}

type EnsembleConfiguration struct {
	// Number of realizations in the ensemble
	Size int
	// Iteration index of this run
	Iteration int
	// Run mode: ENSEMBLE_EXPERIMENT, INIT_ONLY or SMOOTHER_RUN
	Mode string
	// Printf-style formats expanded with the realization index. Full path
	// templating belongs to the external runpath collaborator; these cover
	// the common single-placeholder case.
	RunPathFormat string
	JobNameFormat string
	// Command run for each realization, in its run path
	Executable string
	Args       []string
	// Realization indices excluded from this run
	Inactive []int
	// Simulation storage scope, handed through to the storage collaborator
	StoragePath string
	// Target storage scope for SMOOTHER_RUN
	TargetStoragePath string
}
