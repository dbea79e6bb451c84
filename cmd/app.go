package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spigell/jobmatch/internal/adzuna"
	"github.com/spigell/jobmatch/internal/cache"
	"github.com/spigell/jobmatch/internal/engine"
	"github.com/spigell/jobmatch/internal/ingest"
	"github.com/spigell/jobmatch/internal/matcher"
	"github.com/spigell/jobmatch/internal/matcher/gemini"
	"github.com/spigell/jobmatch/internal/retry"
	"github.com/spigell/jobmatch/internal/scheduler"
	"github.com/spigell/jobmatch/internal/scorer"
	"github.com/spigell/jobmatch/internal/secrets"
	"github.com/spigell/jobmatch/internal/store"
)

// deps holds the long-lived collaborators shared by the commands.
type deps struct {
	config  *Config
	logger  *zap.Logger
	store   store.Store
	redis   *redis.Client
	matcher matcher.Matcher
	cache   cache.Cache
}

func (d *deps) Close() {
	if d.store != nil {
		d.store.Close()
	}
	if d.redis != nil {
		_ = d.redis.Close()
	}
}

func newDeps(ctx context.Context, config *Config, logger *zap.Logger) (*deps, error) {
	d := &deps{config: config, logger: logger}

	st, err := openStore(ctx, config.Postgres, logger)
	if err != nil {
		return nil, err
	}
	d.store = st

	rdb, err := openRedis(ctx, config.Redis)
	if err != nil {
		d.Close()
		return nil, err
	}
	d.redis = rdb

	if rdb != nil {
		d.cache = cache.NewRedisCache(rdb, config.Index.Prefix, logger)
	} else {
		logger.Warn("redis is not configured, using in-memory match cache")
		d.cache = cache.NewMemoryCache()
	}

	m, err := newMatcher(ctx, config, rdb, logger)
	if err != nil {
		d.Close()
		return nil, err
	}
	d.matcher = m

	return d, nil
}

func openStore(ctx context.Context, cfg PostgresConfig, logger *zap.Logger) (store.Store, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		logger.Warn("postgres dsn is not configured, job records are kept in memory")
		return store.NewMemoryStore(), nil
	}

	st, err := store.NewPostgresStore(ctx, cfg.DSN, logger)
	if err != nil {
		return nil, fmt.Errorf("opening job store: %w", err)
	}
	return st, nil
}

// openRedis returns nil when no url is configured.
func openRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// newMatcher returns nil when the external matcher cannot be used. The engine
// then answers every query with the local scorer.
func newMatcher(ctx context.Context, config *Config, rdb *redis.Client, logger *zap.Logger) (matcher.Matcher, error) {
	apiKey, err := secrets.Optional(secrets.Source{
		Name:  "gemini api key",
		File:  config.Gemini.APIKeyFile,
		Env:   "GEMINI_API_KEY",
		Value: config.Gemini.APIKey,
	})
	if err != nil {
		return nil, err
	}

	if apiKey == "" {
		logger.Warn("external matcher disabled", zap.String("reason", "gemini api key is not configured"))
		return nil, nil
	}
	if rdb == nil {
		logger.Warn("external matcher disabled", zap.String("reason", "redis is required for the vector index"))
		return nil, nil
	}

	embedder, err := gemini.NewEmbedder(ctx, apiKey, config.Gemini.Model, config.Gemini.Dimensions, logger)
	if err != nil {
		return nil, err
	}

	policy := retry.DefaultPolicy()
	if config.Gemini.MaxRetries > 0 {
		policy.Attempts = config.Gemini.MaxRetries
	}
	embedder.WithRetryPolicy(policy)

	vectors := gemini.NewRedisVectors(rdb, config.Index.Prefix, logger)
	return gemini.NewIndex(embedder, vectors, logger).WithRetryPolicy(policy), nil
}

func newEngine(d *deps) *engine.Engine {
	cfg := d.config.Match
	sc := scorer.New(cfg.Weights, cfg.MinScore)
	return engine.New(d.store, d.matcher, sc, d.cache, cfg.Config, d.logger)
}

func newPipeline(d *deps) (*ingest.Pipeline, error) {
	cfg := d.config.Adzuna

	appKey, err := secrets.Load(secrets.Source{
		Name:  "adzuna app key",
		File:  cfg.AppKeyFile,
		Env:   "ADZUNA_APP_KEY",
		Value: cfg.AppKey,
	})
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.AppID) == "" {
		return nil, fmt.Errorf("adzuna app id is not configured (set adzuna.app-id or %s_ADZUNA_APP_ID)", envPrefix)
	}

	client := adzuna.New(d.logger, cfg.AppID, appKey)
	if cfg.UserAgent != "" {
		client.UserAgent = cfg.UserAgent
	}
	if cfg.Timeout > 0 {
		client.HTTPClient.Timeout = cfg.Timeout
	}

	return ingest.New(client, d.store, d.matcher, ingest.Config{
		Query:        cfg.Query,
		ExpiryWindow: d.config.Sync.ExpiryWindow,
	}, d.logger), nil
}

func newScheduler(d *deps, runner scheduler.Runner) *scheduler.Scheduler {
	var lock scheduler.Lock
	if d.redis != nil {
		lock = scheduler.NewRedisLock(d.redis, d.config.Index.Prefix+":sync:lock", d.config.Sync.LockTTL)
	}
	return scheduler.New(d.config.Sync.Config, runner, lock, d.logger)
}
