package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/marketops/alertd/internal/alerting"
	"github.com/marketops/alertd/internal/notify"
)

type Config struct {
	Logging       LoggingConfig       `mapstructure:"logging"`
	Database      DatabaseConfig      `mapstructure:"database"`
	State         StateConfig         `mapstructure:"state"`
	Rules         RulesConfig         `mapstructure:"rules"`
	Suppression   SuppressionConfig   `mapstructure:"suppression"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Daemon        DaemonConfig        `mapstructure:"daemon"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type DatabaseConfig struct {
	Path           string `mapstructure:"path"`
	MigrationsPath string `mapstructure:"migrations_path"`
	MaxConnections int    `mapstructure:"max_connections"`
}

// StateConfig selects where alert state lives. The sqlite backend shares the
// dashboard database; the file backend keeps a standalone JSON blob.
type StateConfig struct {
	Backend string `mapstructure:"backend"` // sqlite | file
	Path    string `mapstructure:"path"`    // file backend only
}

type RulesConfig struct {
	Path string `mapstructure:"path"`
}

type SuppressionConfig struct {
	SameAlertIntervalSeconds int `mapstructure:"same_alert_interval"`
	MaxAlertsPerHour         int `mapstructure:"max_alerts_per_hour"`
}

// SameAlertInterval returns the cooldown as a duration
func (c SuppressionConfig) SameAlertInterval() time.Duration {
	return time.Duration(c.SameAlertIntervalSeconds) * time.Second
}

type NotificationsConfig struct {
	TimeoutSeconds int             `mapstructure:"timeout"`
	Email          EmailChannel    `mapstructure:"email"`
	Slack          SlackChannel    `mapstructure:"slack"`
	Telegram       TelegramChannel `mapstructure:"telegram"`
	Webhook        WebhookChannel  `mapstructure:"webhook"`
}

// Timeout returns the per-channel send timeout as a duration
func (c NotificationsConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type EmailChannel struct {
	Enabled            bool `mapstructure:"enabled"`
	notify.EmailConfig `mapstructure:",squash"`
}

type SlackChannel struct {
	Enabled            bool `mapstructure:"enabled"`
	notify.SlackConfig `mapstructure:",squash"`
}

type TelegramChannel struct {
	Enabled               bool `mapstructure:"enabled"`
	notify.TelegramConfig `mapstructure:",squash"`
}

type WebhookChannel struct {
	Enabled              bool `mapstructure:"enabled"`
	notify.WebhookConfig `mapstructure:",squash"`
}

type DaemonConfig struct {
	Schedule    string `mapstructure:"schedule"`
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// Load reads configuration from config.yaml (./configs, .) with ALERTD_*
// environment overrides
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	return load()
}

// LoadFile reads configuration from an explicit path
func LoadFile(path string) (*Config, error) {
	viper.SetConfigFile(path)
	return load()
}

func load() (*Config, error) {
	setDefaults()

	viper.SetEnvPrefix("ALERTD")
	viper.AutomaticEnv()
	viper.BindEnv("database.path", "ALERTD_DATABASE_PATH")
	viper.BindEnv("logging.level", "ALERTD_LOG_LEVEL")
	viper.BindEnv("notifications.email.password", "ALERTD_SMTP_PASSWORD")
	viper.BindEnv("notifications.telegram.token", "ALERTD_TELEGRAM_TOKEN")
	viper.BindEnv("notifications.webhook.secret", "ALERTD_WEBHOOK_SECRET")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	viper.SetDefault("database.path", "./data/alertd.db")
	viper.SetDefault("database.migrations_path", "./migrations")
	viper.SetDefault("database.max_connections", 10)

	viper.SetDefault("state.backend", "sqlite")
	viper.SetDefault("state.path", "./data/alert_state.json")

	viper.SetDefault("rules.path", "./configs/rules.yaml")

	viper.SetDefault("suppression.same_alert_interval", 3600)
	viper.SetDefault("suppression.max_alerts_per_hour", 10)

	viper.SetDefault("notifications.timeout", 10)

	viper.SetDefault("daemon.schedule", "*/5 * * * *")
	viper.SetDefault("daemon.metrics_addr", ":9187")
}

// Validate fails fast on configuration a tick could not run with
func (c *Config) Validate() error {
	switch c.State.Backend {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("state backend sqlite requires database.path")
		}
	case "file":
		if c.State.Path == "" {
			return fmt.Errorf("state backend file requires state.path")
		}
	default:
		return fmt.Errorf("unknown state backend %q (want sqlite or file)", c.State.Backend)
	}

	if c.Suppression.SameAlertIntervalSeconds < 0 {
		return fmt.Errorf("suppression.same_alert_interval must not be negative")
	}
	if c.Suppression.MaxAlertsPerHour < 0 {
		return fmt.Errorf("suppression.max_alerts_per_hour must not be negative")
	}
	return nil
}

// ruleSpec is the YAML shape of one rule entry
type ruleSpec struct {
	Metric              string  `yaml:"metric"`
	Series              string  `yaml:"series"`
	WarningThreshold    float64 `yaml:"warning_threshold"`
	CriticalThreshold   float64 `yaml:"critical_threshold"`
	EvaluationWindow    int     `yaml:"evaluation_window"` // seconds
	MinSamples          int     `yaml:"min_samples"`
	ConsecutiveFailures int     `yaml:"consecutive_failures"`
}

// LoadRules reads and validates the rule file: a mapping of rule name to
// thresholds. Any invalid rule fails the whole load; a half-checked rule set
// is worse than a refused start.
func LoadRules(path string) ([]alerting.Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}

	var specs map[string]ruleSpec
	if err := yaml.Unmarshal(data, &specs); err != nil {
		return nil, fmt.Errorf("failed to parse rules file: %w", err)
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("rules file %s defines no rules", path)
	}

	rules := make([]alerting.Rule, 0, len(specs))
	for name, spec := range specs {
		rule := alerting.Rule{
			Name:                name,
			Metric:              alerting.MetricKind(spec.Metric),
			Series:              spec.Series,
			WarningThreshold:    spec.WarningThreshold,
			CriticalThreshold:   spec.CriticalThreshold,
			EvaluationWindow:    time.Duration(spec.EvaluationWindow) * time.Second,
			MinSamples:          spec.MinSamples,
			ConsecutiveFailures: spec.ConsecutiveFailures,
		}
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("invalid rule: %w", err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// Channels builds the enabled notification channels
func (c *Config) Channels() ([]notify.Channel, error) {
	var channels []notify.Channel

	if c.Notifications.Email.Enabled {
		ch, err := notify.NewEmailChannel(c.Notifications.Email.EmailConfig)
		if err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	if c.Notifications.Slack.Enabled {
		ch, err := notify.NewSlackChannel(c.Notifications.Slack.SlackConfig)
		if err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	if c.Notifications.Telegram.Enabled {
		ch, err := notify.NewTelegramChannel(c.Notifications.Telegram.TelegramConfig)
		if err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	if c.Notifications.Webhook.Enabled {
		ch, err := notify.NewWebhookChannel(c.Notifications.Webhook.WebhookConfig)
		if err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}

	return channels, nil
}
