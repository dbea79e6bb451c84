package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/jobmatch/internal/jobs"
	"github.com/spigell/jobmatch/internal/logger"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one manual sync against Adzuna and print the run summary",
	Run: func(_ *cobra.Command, _ []string) {
		syncOnce()
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}

func syncOnce() {
	// Interrupting marks the run FAILED instead of leaving it RUNNING.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, err := logger.NewStderr(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	d, err := newDeps(ctx, config, logger)
	if err != nil {
		logger.Fatal("initializing dependencies", zap.Error(err))
	}
	defer d.Close()

	pipeline, err := newPipeline(d)
	if err != nil {
		logger.Fatal("initializing the sync pipeline", zap.Error(err))
	}

	run, err := newScheduler(d, pipeline).Trigger(ctx, jobs.TriggerManual)

	if run.RunID != "" {
		pretty, _ := json.MarshalIndent(run, "", "  ")
		fmt.Println(string(pretty))
	}
	if err != nil {
		d.Close()
		logger.Fatal("sync failed", zap.Error(err))
	}
}
