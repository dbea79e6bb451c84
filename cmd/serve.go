package cmd

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/jobmatch/internal/cache"
	"github.com/spigell/jobmatch/internal/logger"
	"github.com/spigell/jobmatch/internal/server"
)

const cacheSweepInterval = time.Hour

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the daily sync scheduler and the HTTP API",
	Run: func(_ *cobra.Command, _ []string) {
		serve()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
}

func serve() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	logger.Info("starting the jobmatch server", zap.String("version", version))

	d, err := newDeps(ctx, config, logger)
	if err != nil {
		logger.Fatal("initializing dependencies", zap.Error(err))
	}
	defer d.Close()

	pipeline, err := newPipeline(d)
	if err != nil {
		logger.Fatal("initializing the sync pipeline", zap.Error(err))
	}

	sched := newScheduler(d, pipeline)
	if err := sched.Start(ctx); err != nil {
		logger.Fatal("starting the scheduler", zap.Error(err))
	}
	defer sched.Stop()

	if mc, ok := d.cache.(*cache.MemoryCache); ok {
		go sweepCache(ctx, mc, logger)
	}

	srv := server.New(config.Server.Addr, server.Deps{
		Engine:  newEngine(d),
		Sync:    sched,
		Runs:    d.store,
		Reindex: sched,
		Records: d.store,
		Cache:   d.cache,
	}, logger)

	if err := srv.Run(ctx); err != nil {
		logger.Error("http server stopped", zap.Error(err))
		return
	}
	logger.Info("shutting down", zap.String("reason", "signal received"))
}

func sweepCache(ctx context.Context, mc *cache.MemoryCache, logger *zap.Logger) {
	ticker := time.NewTicker(cacheSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := mc.Sweep(); n > 0 {
				logger.Debug("expired match cache entries removed", zap.Int("count", n))
			}
		}
	}
}
