package cmd

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/flotillaproject/flotilla/internal/common"
	"github.com/flotillaproject/flotilla/internal/flotilla"
	"github.com/flotillaproject/flotilla/internal/flotilla/configuration"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the configured ensemble to completion",
		RunE:  runCmdE,
	}
}

func runCmdE(cmd *cobra.Command, args []string) error {
	g, ctx := errgroup.WithContext(context.Background())

	var config configuration.FlotillaConfiguration
	configValue, err := cmd.Flags().GetString("config")
	if err != nil {
		log.Warnf("Error parsing config flag: %v", err)
	}
	overrideConfigs := strings.Fields(configValue)
	if err := common.LoadConfig(&config, "./config/flotilla", overrideConfigs); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Cancel the run context on SIGINT and SIGTERM, which kills any
	// outstanding jobs and shuts everything down gracefully.
	stopSignal := make(chan os.Signal, 1)
	signal.Notify(stopSignal, syscall.SIGINT, syscall.SIGTERM)
	g.Go(func() error {
		select {
		case <-ctx.Done():
		case sig := <-stopSignal:
			log.Infof("Received %v, shutting down", sig)
			cancel()
		}
		return nil
	})

	app := flotilla.New(&config)
	report, err := app.StartUp(ctx)
	cancel()
	if gErr := g.Wait(); gErr != nil {
		log.WithError(gErr).Warn("error during shutdown")
	}
	if err != nil {
		return err
	}
	log.WithField("runId", report.RunID).Infof("%d of %d dispatched realizations succeeded",
		report.Succeeded(), len(report.JobStates))
	return nil
}
