package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. STAKING_STATS_OUTPUT_PATH.
const EnvPrefix = "STAKING_STATS"

// Config holds all configuration for the application
type Config struct {
	App           AppConfig          `mapstructure:"app"`
	Chain         ChainConfig        `mapstructure:"chain"`
	Output        OutputConfig       `mapstructure:"output"`
	Git           GitConfig          `mapstructure:"git"`
	Scheduler     SchedulerConfig    `mapstructure:"scheduler"`
	Storage       StorageConfig      `mapstructure:"storage"`
	Server        ServerConfig       `mapstructure:"server"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Logging       LoggingConfig      `mapstructure:"logging"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// ChainConfig describes the Cosmos REST (LCD) endpoint the stats are read from
type ChainConfig struct {
	RESTURL           string         `mapstructure:"rest_url"`
	Denom             string         `mapstructure:"denom"`
	Decimals          int            `mapstructure:"decimals"`
	RequestTimeout    time.Duration  `mapstructure:"request_timeout"`
	RetryAttempts     uint           `mapstructure:"retry_attempts"`
	RetryDelay        time.Duration  `mapstructure:"retry_delay"`
	ApplyCommunityTax bool           `mapstructure:"apply_community_tax"`
	Endpoints         EndpointConfig `mapstructure:"endpoints"`
}

// EndpointConfig holds the REST paths queried for each statistic
type EndpointConfig struct {
	Inflation          string `mapstructure:"inflation"`
	Pool               string `mapstructure:"pool"`
	Supply             string `mapstructure:"supply"`
	Validators         string `mapstructure:"validators"`
	DistributionParams string `mapstructure:"distribution_params"`
}

// OutputConfig locates the persisted snapshot
type OutputConfig struct {
	Path string `mapstructure:"path"`
}

// GitConfig controls how a changed snapshot is committed
type GitConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	RepoPath      string `mapstructure:"repo_path"`
	CommitMessage string `mapstructure:"commit_message"`
	AuthorName    string `mapstructure:"author_name"`
	AuthorEmail   string `mapstructure:"author_email"`
	Push          bool   `mapstructure:"push"`
	Remote        string `mapstructure:"remote"`
	Username      string `mapstructure:"username"`
	Token         string `mapstructure:"token"`
}

// SchedulerConfig contains the recurring trigger configuration
type SchedulerConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	Schedules  []string `mapstructure:"schedules"`
	Timezone   string   `mapstructure:"timezone"`
	RunOnStart bool     `mapstructure:"run_on_start"`
}

// StorageConfig contains run history database configuration
type StorageConfig struct {
	Type             string        `mapstructure:"type"` // none, sqlite, postgres
	ConnectionString string        `mapstructure:"connection_string"`
	MaxConnections   int           `mapstructure:"max_connections"`
	MaxIdleTime      time.Duration `mapstructure:"max_idle_time"`
	RetentionDays    int           `mapstructure:"retention_days"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Port          int           `mapstructure:"port"`
	Host          string        `mapstructure:"host"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	EnableMetrics bool          `mapstructure:"enable_metrics"`
	EnableHealth  bool          `mapstructure:"enable_health"`
	EnableTrigger bool          `mapstructure:"enable_trigger"`
}

// NotificationConfig contains notification system configuration
type NotificationConfig struct {
	Enabled       bool            `mapstructure:"enabled"`
	NotifyOn      []string        `mapstructure:"notify_on"` // changed, failed
	Timeout       time.Duration   `mapstructure:"timeout"`
	RetryAttempts uint            `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration   `mapstructure:"retry_delay"`
	Webhooks      []WebhookConfig `mapstructure:"webhooks"`
}

// WebhookConfig defines one webhook target
type WebhookConfig struct {
	URL     string            `mapstructure:"url"`
	Method  string            `mapstructure:"method"`
	Headers map[string]string `mapstructure:"headers"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
	Output string `mapstructure:"output"` // stdout, stderr, file
	File   string `mapstructure:"file"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || configPath != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// The token is usually injected by CI under its conventional name
	if config.Git.Token == "" {
		config.Git.Token = os.Getenv("GIT_TOKEN")
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" && config.Storage.Type == "postgres" {
		config.Storage.ConnectionString = dbURL
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "staking-stats")
	v.SetDefault("app.environment", "development")

	// Nillion mainnet LCD; 1 NIL = 1,000,000 unil
	v.SetDefault("chain.rest_url", "https://nilchain-api.nillion.network")
	v.SetDefault("chain.denom", "unil")
	v.SetDefault("chain.decimals", 6)
	v.SetDefault("chain.request_timeout", "30s")
	v.SetDefault("chain.retry_attempts", 3)
	v.SetDefault("chain.retry_delay", "2s")
	v.SetDefault("chain.apply_community_tax", false)
	v.SetDefault("chain.endpoints.inflation", "/cosmos/mint/v1beta1/inflation")
	v.SetDefault("chain.endpoints.pool", "/cosmos/staking/v1beta1/pool")
	v.SetDefault("chain.endpoints.supply", "/cosmos/bank/v1beta1/supply/by_denom")
	v.SetDefault("chain.endpoints.validators", "/cosmos/staking/v1beta1/validators")
	v.SetDefault("chain.endpoints.distribution_params", "/cosmos/distribution/v1beta1/params")

	v.SetDefault("output.path", "data/staking_stats.json")

	v.SetDefault("git.enabled", true)
	v.SetDefault("git.repo_path", ".")
	v.SetDefault("git.commit_message", "chore: update staking stats")
	v.SetDefault("git.author_name", "staking-stats-bot")
	v.SetDefault("git.author_email", "staking-stats-bot@users.noreply.github.com")
	v.SetDefault("git.push", false)
	v.SetDefault("git.remote", "origin")
	v.SetDefault("git.username", "x-access-token")
	v.SetDefault("git.token", "")

	// Twice a day, UTC
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.schedules", []string{"0 0 * * *", "0 12 * * *"})
	v.SetDefault("scheduler.timezone", "UTC")
	v.SetDefault("scheduler.run_on_start", false)

	v.SetDefault("storage.type", "sqlite")
	v.SetDefault("storage.connection_string", "./.staking-stats/runs.db")
	v.SetDefault("storage.max_connections", 10)
	v.SetDefault("storage.max_idle_time", "15m")
	v.SetDefault("storage.retention_days", 90)

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 8081)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "2m")
	v.SetDefault("server.enable_metrics", true)
	v.SetDefault("server.enable_health", true)
	v.SetDefault("server.enable_trigger", true)

	v.SetDefault("notifications.enabled", true)
	v.SetDefault("notifications.notify_on", []string{"changed", "failed"})
	v.SetDefault("notifications.timeout", "10s")
	v.SetDefault("notifications.retry_attempts", 3)
	v.SetDefault("notifications.retry_delay", "5s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.file", "")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Chain.RESTURL == "" {
		return fmt.Errorf("chain REST URL is required")
	}
	if c.Chain.Denom == "" {
		return fmt.Errorf("chain denom is required")
	}
	if c.Chain.Decimals < 0 || c.Chain.Decimals > 18 {
		return fmt.Errorf("chain decimals must be between 0 and 18")
	}
	if c.Chain.RequestTimeout <= 0 {
		return fmt.Errorf("chain request timeout must be positive")
	}
	if c.Chain.RetryAttempts == 0 {
		return fmt.Errorf("chain retry attempts must be positive")
	}
	if c.Output.Path == "" {
		return fmt.Errorf("output path is required")
	}
	if c.Git.Enabled && c.Git.CommitMessage == "" {
		return fmt.Errorf("git commit message is required")
	}
	if c.Git.Push && c.Git.Remote == "" {
		return fmt.Errorf("git remote is required when push is enabled")
	}
	if err := c.Scheduler.Validate(); err != nil {
		return err
	}
	switch c.Storage.Type {
	case "none":
	case "sqlite", "postgres", "postgresql":
		if c.Storage.ConnectionString == "" {
			return fmt.Errorf("storage connection string is required")
		}
	default:
		return fmt.Errorf("unsupported storage type %q", c.Storage.Type)
	}
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		return fmt.Errorf("server port must be between 1 and 65535")
	}
	for _, event := range c.Notifications.NotifyOn {
		if event != "changed" && event != "failed" {
			return fmt.Errorf("unknown notify_on event %q", event)
		}
	}
	for i, hook := range c.Notifications.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("webhook %d: url is required", i)
		}
	}
	return nil
}

// Validate checks the cron expressions and timezone
func (c *SchedulerConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if len(c.Schedules) == 0 {
		return fmt.Errorf("scheduler requires at least one schedule")
	}
	for _, spec := range c.Schedules {
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("invalid schedule %q: %w", spec, err)
		}
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves the scheduler timezone, defaulting to UTC
func (c *SchedulerConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid scheduler timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}
