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

	"github.com/spigell/jobmatch/internal/logger"
)

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Upload active job records that are missing from the external index",
	Long: `Upload active job records that have no external index reference.
With --all every active record is uploaded again, which rebuilds an index
whose vectors were lost.`,
	Run: func(cmd *cobra.Command, _ []string) {
		all, _ := cmd.Flags().GetBool("all")
		reindex(all)
	},
}

func init() {
	rootCmd.AddCommand(reindexCmd)

	reindexCmd.Flags().Bool("all", false, "re-upload every active record")
}

func reindex(all bool) {
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
		d.Close()
		logger.Fatal("initializing the sync pipeline", zap.Error(err))
	}

	res, err := newScheduler(d, pipeline).Reindex(ctx, all)
	if err != nil {
		d.Close()
		logger.Fatal("reindex failed", zap.Error(err))
	}

	pretty, _ := json.MarshalIndent(res, "", "  ")
	fmt.Println(string(pretty))
}
