package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/jobmatch/internal/jobs"
	"github.com/spigell/jobmatch/internal/logger"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent sync runs",
	Run: func(cmd *cobra.Command, _ []string) {
		limit, _ := cmd.Flags().GetInt("limit")
		listRuns(limit)
	},
}

func init() {
	rootCmd.AddCommand(runsCmd)

	runsCmd.Flags().IntP("limit", "n", 10, "number of runs to show")
}

func listRuns(limit int) {
	ctx := context.Background()

	logger, err := logger.NewStderr(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	st, err := openStore(ctx, config.Postgres, logger)
	if err != nil {
		logger.Fatal("opening the job store", zap.Error(err))
	}
	defer st.Close()

	runs, err := st.ListRuns(ctx, limit)
	if err != nil {
		logger.Fatal("listing sync runs", zap.Error(err))
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN ID\tTRIGGER\tSTATUS\tSTARTED\tTOOK\tFETCHED\tCREATED\tUPDATED\tEXPIRED\tFAILED\tINDEX FAILED")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\n",
			run.RunID, run.Trigger, run.Status,
			run.StartedAt.Format(time.RFC3339), took(run),
			run.Fetched, run.Created, run.Updated, run.Expired, run.Failed, run.IndexFailed,
		)
	}
	_ = w.Flush()
}

func took(run jobs.SyncRun) string {
	if !run.Finalized() {
		return "-"
	}
	return run.CompletedAt.Sub(run.StartedAt).Round(time.Second).String()
}
