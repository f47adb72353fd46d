package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Apollo    ApolloConfig    `yaml:"apollo" mapstructure:"apollo"`
	SendGrid  SendGridConfig  `yaml:"sendgrid" mapstructure:"sendgrid"`
	Resend    ResendConfig    `yaml:"resend" mapstructure:"resend"`
	Zoom      ZoomConfig      `yaml:"zoom" mapstructure:"zoom"`
	Outreach  OutreachConfig  `yaml:"outreach" mapstructure:"outreach"`
	Scheduler SchedulerConfig `yaml:"scheduler" mapstructure:"scheduler"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// AnthropicConfig holds Anthropic API settings. The haiku model writes
// research briefs; the sonnet model drafts email sequences.
type AnthropicConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	HaikuModel  string `yaml:"haiku_model" mapstructure:"haiku_model"`
	SonnetModel string `yaml:"sonnet_model" mapstructure:"sonnet_model"`
}

// ApolloConfig holds Apollo.io enrichment settings.
type ApolloConfig struct {
	Key       string  `yaml:"key" mapstructure:"key"`
	BaseURL   string  `yaml:"base_url" mapstructure:"base_url"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// SendGridConfig holds SendGrid API settings.
type SendGridConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// ResendConfig holds Resend API settings.
type ResendConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// ZoomConfig holds Zoom Server-to-Server OAuth credentials.
type ZoomConfig struct {
	AccountID    string `yaml:"account_id" mapstructure:"account_id"`
	ClientID     string `yaml:"client_id" mapstructure:"client_id"`
	ClientSecret string `yaml:"client_secret" mapstructure:"client_secret"`
}

// OutreachConfig configures pipeline behavior.
type OutreachConfig struct {
	DefaultDailyCap   int `yaml:"default_daily_cap" mapstructure:"default_daily_cap"`
	ResearchTTLDays   int `yaml:"research_ttl_days" mapstructure:"research_ttl_days"`
	SequenceLength    int `yaml:"sequence_length" mapstructure:"sequence_length"`
	SendBatchLimit    int `yaml:"send_batch_limit" mapstructure:"send_batch_limit"`
	MeetingDurationMin int `yaml:"meeting_duration_min" mapstructure:"meeting_duration_min"`
}

// SchedulerConfig configures the background sweep loop in serve mode.
type SchedulerConfig struct {
	IntervalSecs      int `yaml:"interval_secs" mapstructure:"interval_secs"`
	InboxIntervalSecs int `yaml:"inbox_interval_secs" mapstructure:"inbox_interval_secs"`
	// InboxDir is a drop directory of inbound-message JSON files. Empty
	// disables inbox polling.
	InboxDir string `yaml:"inbox_dir" mapstructure:"inbox_dir"`
}

// ServerConfig configures the webhook server.
type ServerConfig struct {
	Port     int    `yaml:"port" mapstructure:"port"`
	AdminKey string `yaml:"admin_key" mapstructure:"admin_key"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("OUTREACH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("anthropic.haiku_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.sonnet_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("apollo.base_url", "https://api.apollo.io/api/v1")
	v.SetDefault("apollo.rate_limit", 1.5)
	v.SetDefault("outreach.default_daily_cap", 50)
	v.SetDefault("outreach.research_ttl_days", 30)
	v.SetDefault("outreach.sequence_length", 3)
	v.SetDefault("outreach.send_batch_limit", 100)
	v.SetDefault("outreach.meeting_duration_min", 30)
	v.SetDefault("scheduler.interval_secs", 60)
	v.SetDefault("scheduler.inbox_interval_secs", 300)
	v.SetDefault("scheduler.inbox_dir", "")

	// Viper only surfaces env values for keys it knows about, so credentials
	// and endpoints register with empty defaults.
	v.SetDefault("store.database_url", "")
	v.SetDefault("anthropic.key", "")
	v.SetDefault("apollo.key", "")
	v.SetDefault("sendgrid.key", "")
	v.SetDefault("sendgrid.base_url", "")
	v.SetDefault("resend.key", "")
	v.SetDefault("resend.base_url", "")
	v.SetDefault("zoom.account_id", "")
	v.SetDefault("zoom.client_id", "")
	v.SetDefault("zoom.client_secret", "")
	v.SetDefault("server.admin_key", "")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the fields the given mode depends on are set. Modes
// map to command groups: "pipeline" covers research and generate, "send"
// covers dispatch, "serve" covers the webhook server.
func (c *Config) Validate(mode string) error {
	var problems []string

	requireStore := func() {
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required")
		}
	}

	switch mode {
	case "pipeline":
		requireStore()
		if c.Anthropic.Key == "" {
			problems = append(problems, "anthropic.key is required")
		}
	case "send":
		requireStore()
		if c.SendGrid.Key == "" && c.Resend.Key == "" {
			problems = append(problems, "sendgrid.key or resend.key is required")
		}
	case "serve":
		requireStore()
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
		if c.Scheduler.IntervalSecs <= 0 {
			problems = append(problems, "scheduler.interval_secs must be > 0")
		}
	case "store":
		requireStore()
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
