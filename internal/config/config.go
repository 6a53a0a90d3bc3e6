// Package config loads application configuration from environment variables,
// with an optional YAML policy file overlay.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Slack (optional — the service runs in API-only mode without tokens)
	SlackBotToken string `envconfig:"SLACK_BOT_TOKEN"`
	SlackAppToken string `envconfig:"SLACK_APP_TOKEN"` // xapp- token for Socket Mode

	// Persistence
	DBPath string `envconfig:"DB_PATH" default:"attendance.db"`

	// Tracking policy. No invariant depends on the exact values, so all of
	// them are tunable.
	Timezone           string        `envconfig:"TIMEZONE" default:"Local"`
	MinSessionDuration time.Duration `envconfig:"MIN_SESSION_DURATION" default:"60s"`
	RetentionWeeks     int           `envconfig:"RETENTION_WEEKS" default:"3"`
	PruneWeekday       int           `envconfig:"PRUNE_WEEKDAY" default:"2"` // 0=Sunday … 2=Tuesday
	PruneHour          int           `envconfig:"PRUNE_HOUR" default:"4"`
	PruneMinute        int           `envconfig:"PRUNE_MINUTE" default:"0"`

	// Periodic triggers
	RefreshInterval    time.Duration `envconfig:"REFRESH_INTERVAL" default:"60s"`
	PruneCheckInterval time.Duration `envconfig:"PRUNE_CHECK_INTERVAL" default:"60s"`

	// Management API
	MgmtListenAddr     string `envconfig:"MGMT_LISTEN_ADDR" default:":8090"`
	MgmtAuthMode       string `envconfig:"MGMT_AUTH_MODE" default:"api-key"`
	MgmtAPIKey         string `envconfig:"MGMT_API_KEY"`
	MgmtJWTSecret      string `envconfig:"MGMT_JWT_SECRET"`
	MgmtRateLimitRPS   int    `envconfig:"MGMT_RATE_LIMIT_RPS" default:"100"`
	MgmtRateLimitBurst int    `envconfig:"MGMT_RATE_LIMIT_BURST" default:"200"`
	MgmtCORSOrigins    string `envconfig:"MGMT_CORS_ORIGINS"`

	// Optional YAML policy file; values set there override the environment.
	ConfigFile string `envconfig:"CONFIG_FILE"`
}

// PolicyFile is the YAML overlay for tracking policy. Pointer fields so only
// keys present in the file override the environment.
type PolicyFile struct {
	Timezone           *string   `yaml:"timezone"`
	MinSessionDuration *duration `yaml:"min_session_duration"`
	RetentionWeeks     *int      `yaml:"retention_weeks"`
	PruneWeekday       *int      `yaml:"prune_weekday"`
	PruneHour          *int      `yaml:"prune_hour"`
	PruneMinute        *int      `yaml:"prune_minute"`
}

// duration adds YAML parsing of Go duration strings ("90s", "2m").
type duration time.Duration

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = duration(parsed)
	return nil
}

// SlackEnabled returns true if Slack tokens are configured.
func (c *Config) SlackEnabled() bool {
	return c.SlackBotToken != "" && c.SlackAppToken != ""
}

// Location resolves the configured time zone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Validate checks value ranges that envconfig cannot express.
func (c *Config) Validate() error {
	if c.MinSessionDuration < 0 {
		return fmt.Errorf("MIN_SESSION_DURATION must not be negative")
	}
	if c.RetentionWeeks < 1 {
		return fmt.Errorf("RETENTION_WEEKS must be at least 1")
	}
	if c.PruneWeekday < 0 || c.PruneWeekday > 6 {
		return fmt.Errorf("PRUNE_WEEKDAY must be in 0..6")
	}
	if c.PruneHour < 0 || c.PruneHour > 23 {
		return fmt.Errorf("PRUNE_HOUR must be in 0..23")
	}
	if c.PruneMinute < 0 || c.PruneMinute > 59 {
		return fmt.Errorf("PRUNE_MINUTE must be in 0..59")
	}
	switch c.MgmtAuthMode {
	case "none", "api-key", "jwt":
	default:
		return fmt.Errorf("MGMT_AUTH_MODE must be one of none, api-key, jwt")
	}
	return nil
}

// Load reads configuration from environment variables and applies the YAML
// policy overlay when CONFIG_FILE is set.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if cfg.ConfigFile != "" {
		if err := cfg.applyPolicyFile(cfg.ConfigFile); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyPolicyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}

	var pf PolicyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if pf.Timezone != nil {
		c.Timezone = *pf.Timezone
	}
	if pf.MinSessionDuration != nil {
		c.MinSessionDuration = time.Duration(*pf.MinSessionDuration)
	}
	if pf.RetentionWeeks != nil {
		c.RetentionWeeks = *pf.RetentionWeeks
	}
	if pf.PruneWeekday != nil {
		c.PruneWeekday = *pf.PruneWeekday
	}
	if pf.PruneHour != nil {
		c.PruneHour = *pf.PruneHour
	}
	if pf.PruneMinute != nil {
		c.PruneMinute = *pf.PruneMinute
	}
	return nil
}
