package cmd

import (
	"errors"
	"log"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/spigell/jobmatch/internal/adzuna"
	"github.com/spigell/jobmatch/internal/engine"
	"github.com/spigell/jobmatch/internal/ingest"
	"github.com/spigell/jobmatch/internal/scheduler"
	"github.com/spigell/jobmatch/internal/scorer"
)

const (
	app       = "jobmatch"
	envPrefix = "JOBMATCH"
)

type Config struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Adzuna   AdzunaConfig   `mapstructure:"adzuna"`
	Gemini   GeminiConfig   `mapstructure:"gemini"`
	Index    IndexConfig    `mapstructure:"index"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Match    MatchConfig    `mapstructure:"match"`
	Server   ServerConfig   `mapstructure:"server"`
}

type PostgresConfig struct {
	// DSN is optional. Without it records live in memory for the process lifetime.
	DSN string `mapstructure:"dsn"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type AdzunaConfig struct {
	AppID      string        `mapstructure:"app-id"`
	AppKey     string        `mapstructure:"app-key"`
	AppKeyFile string        `mapstructure:"app-key-file"`
	UserAgent  string        `mapstructure:"user-agent"`
	Timeout    time.Duration `mapstructure:"timeout"`

	adzuna.Query `mapstructure:",squash"`
}

type GeminiConfig struct {
	APIKey     string `mapstructure:"api-key"`
	APIKeyFile string `mapstructure:"api-key-file"`
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
	MaxRetries int    `mapstructure:"max-retries"`
}

type IndexConfig struct {
	Prefix string `mapstructure:"prefix"`
}

type SyncConfig struct {
	ExpiryWindow time.Duration `mapstructure:"expiry-window"`

	scheduler.Config `mapstructure:",squash"`
}

type MatchConfig struct {
	MinScore float64        `mapstructure:"min-score"`
	Weights  scorer.Weights `mapstructure:"weights"`

	engine.Config `mapstructure:",squash"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "jobmatch keeps a job posting store in sync with Adzuna and matches documents against it",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is jobmatch.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))

	setDefaults()
}

// setDefaults also makes every key known to viper, so environment overrides
// reach Unmarshal.
func setDefaults() {
	weights := scorer.DefaultWeights()

	defaults := map[string]any{
		"postgres.dsn":            "",
		"redis.url":               "",
		"adzuna.app-id":           "",
		"adzuna.app-key":          "",
		"adzuna.app-key-file":     "",
		"adzuna.user-agent":       "",
		"adzuna.timeout":          15 * time.Second,
		"adzuna.country":          "gb",
		"adzuna.what":             "",
		"adzuna.where":            "",
		"adzuna.category":         "",
		"adzuna.sort-by":          "date",
		"adzuna.max-days-old":     30,
		"adzuna.results-per-page": 50,
		"adzuna.max-pages":        0,
		"gemini.api-key":          "",
		"gemini.api-key-file":     "",
		"gemini.model":            "",
		"gemini.dimensions":       0,
		"gemini.max-retries":      3,
		"index.prefix":            app,
		"sync.schedule":           scheduler.DefaultSchedule,
		"sync.expiry-window":      ingest.DefaultExpiryWindow,
		"sync.lock-ttl":           scheduler.DefaultLockTTL,
		"match.cache-ttl":         24 * time.Hour,
		"match.max-results":       50,
		"match.candidate-limit":   2000,
		"match.min-score":         scorer.DefaultMinScore,
		"match.fallback-on-empty": false,
		"match.weights.title":     weights.Title,
		"match.weights.skill":     weights.Skill,
		"match.weights.text":      weights.Text,
		"server.addr":             ":8080",
	}
	for key, value := range defaults {
		viper.SetDefault(key, value)
	}
}

func initConfig() {
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app)
		viper.SetConfigType("yaml")
	}

	// A missing default config is fine, everything has a default or an env override.
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			log.Fatal(err)
		}
	}
}

func getConfig() (*Config, error) {
	var config *Config
	err := viper.Unmarshal(&config)
	if err != nil {
		return config, err
	}

	return config, nil
}
