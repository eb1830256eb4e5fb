// Package flotilla wires configuration, driver, run context, job queue and
// state map together into one ensemble run invocation.
package flotilla

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/flotillaproject/flotilla/internal/common"
	"github.com/flotillaproject/flotilla/internal/driver"
	"github.com/flotillaproject/flotilla/internal/flotilla/configuration"
	"github.com/flotillaproject/flotilla/internal/queue"
	"github.com/flotillaproject/flotilla/internal/run"
	"github.com/flotillaproject/flotilla/internal/state"
)

type App struct {
	Config *configuration.FlotillaConfiguration
	// Registerer for queue metrics; tests substitute a fresh registry so
	// several Apps can run in one process.
	Registerer prometheus.Registerer
}

func New(config *configuration.FlotillaConfiguration) *App {
	return &App{Config: config, Registerer: prometheus.DefaultRegisterer}
}

// Report summarizes one completed ensemble run.
type Report struct {
	RunID     string
	Mode      run.Mode
	States    *state.Map
	JobStates map[int]queue.JobState
}

// Succeeded is the number of realizations whose results are usable.
func (r *Report) Succeeded() int {
	count := 0
	for _, selected := range r.States.SelectMatching(state.MaskOf(state.HasData)) {
		if selected {
			count++
		}
	}
	return count
}

// CheckConfig applies defaults to recoverable misconfiguration. A non-nil
// error means the configuration is unusable.
func CheckConfig(config *configuration.FlotillaConfiguration) error {
	logger := log.WithField("Flotilla", "CheckConfig")

	if config.Ensemble.Size <= 0 {
		return fmt.Errorf("ensemble size must be positive, got %d", config.Ensemble.Size)
	}
	if config.Ensemble.Mode == "" {
		config.Ensemble.Mode = run.EnsembleExperiment.String()
	}
	if _, err := run.ParseMode(config.Ensemble.Mode); err != nil {
		return err
	}
	if config.Queue.MaxRunning < 0 {
		logger.WithFields(log.Fields{
			"default":    0,
			"configured": config.Queue.MaxRunning,
		}).Warn("config.Queue.MaxRunning invalid, using default instead")
		config.Queue.MaxRunning = 0
	}
	if config.Ensemble.RunPathFormat == "" {
		config.Ensemble.RunPathFormat = "simulations/realization-%d"
	}
	if config.Ensemble.JobNameFormat == "" {
		config.Ensemble.JobNameFormat = "flotilla-%d"
	}
	return nil
}

// StartUp runs one full ensemble invocation: submit all active
// realizations, drive the queue to completion, and record per-realization
// outcomes in the state map. Individual realization failures never fail the
// run; they are reported through the state map and the returned Report.
func (a *App) StartUp(ctx context.Context) (*Report, error) {
	config := a.Config
	if err := CheckConfig(config); err != nil {
		return nil, err
	}
	mode, _ := run.ParseMode(config.Ensemble.Mode)

	if config.MetricsPort > 0 {
		shutdownMetricServer := common.ServeMetrics(config.MetricsPort)
		defer shutdownMetricServer()
	}

	drv := driver.New(config.Backend)
	for key, value := range config.DriverOptions {
		if !drv.SetOption(key, value) {
			log.WithFields(log.Fields{
				"backend": config.Backend.String(),
				"key":     key,
				"value":   value,
			}).Warn("ignoring invalid driver option")
		}
	}

	runCtx := a.buildRunContext(mode)
	states := state.NewMap(config.Ensemble.Size)
	logger := log.WithField("runId", runCtx.RunID()).WithField("mode", mode.String())
	logger.Infof("starting ensemble run with %d active of %d realizations",
		runCtx.ActiveCount(), runCtx.Size())

	for i := 0; i < runCtx.Size(); i++ {
		if runCtx.IsActive(i) {
			states.Set(i, state.Initialized)
		}
	}

	report := &Report{
		RunID:     runCtx.RunID(),
		Mode:      mode,
		States:    states,
		JobStates: map[int]queue.JobState{},
	}

	// An init-only run never produces jobs requiring post-run data loading.
	if mode == run.InitOnly {
		logger.Info("init-only run, no jobs dispatched")
		return report, nil
	}

	q := queue.New(drv, runCtx, queue.Config{
		MaxRunning:        config.Queue.MaxRunning,
		MaxSubmitAttempts: config.Queue.MaxSubmitAttempts,
		PollInterval:      config.Queue.PollInterval,
		DriverTimeout:     config.Queue.DriverTimeout,
		PollWorkers:       config.Queue.PollWorkers,
		Executable:        config.Ensemble.Executable,
		Args:              config.Ensemble.Args,
	}, queue.NewMetrics(a.Registerer))
	q.AddAll()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return q.Run(gctx)
	})
	runErr := g.Wait()

	for _, job := range q.Jobs() {
		i := job.Realization()
		report.JobStates[i] = job.State()
		switch job.State() {
		case queue.Done:
			states.Set(i, state.HasData)
		default:
			states.Set(i, state.LoadFailure)
		}
	}

	failed := len(report.JobStates) - report.Succeeded()
	logger.WithFields(log.Fields{
		"succeeded": report.Succeeded(),
		"failed":    failed,
	}).Info("ensemble run finished")

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return report, runErr
	}
	return report, nil
}

func (a *App) buildRunContext(mode run.Mode) *run.Context {
	config := a.Config
	size := config.Ensemble.Size

	mask := make([]bool, size)
	for i := range mask {
		mask[i] = true
	}
	for _, i := range config.Ensemble.Inactive {
		if i >= 0 && i < size {
			mask[i] = false
		}
	}

	paths := make([]string, size)
	names := make([]string, size)
	for i := 0; i < size; i++ {
		paths[i] = fmt.Sprintf(config.Ensemble.RunPathFormat, i)
		names[i] = fmt.Sprintf(config.Ensemble.JobNameFormat, i)
	}

	simStorage := run.Storage(config.Ensemble.StoragePath)
	switch mode {
	case run.InitOnly:
		return run.ForInitOnly(simStorage, run.InitConditional, mask, paths, config.Ensemble.Iteration)
	case run.SmootherRun:
		targetStorage := run.Storage(config.Ensemble.TargetStoragePath)
		return run.ForSmootherRun(simStorage, targetStorage, mask, paths, names, config.Ensemble.Iteration)
	default:
		return run.ForEnsembleExperiment(simStorage, mask, paths, names, config.Ensemble.Iteration)
	}
}
