// Package config provides YAML-based configuration loading for motorpool.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level motorpool configuration, loaded from motorpool.yaml.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Chat      ChatConfig      `yaml:"chat"`
	Workflow  WorkflowConfig  `yaml:"workflow"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Events    EventsConfig    `yaml:"events"`
	Log       LogConfig       `yaml:"log"`
	Bootstrap BootstrapConfig `yaml:"bootstrap"`
}

// DatabaseConfig holds connection settings for the system of record.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // mysql, postgres, sqlite
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	Path     string `yaml:"path"` // sqlite file
}

// SessionsConfig selects where conversational sessions are persisted.
type SessionsConfig struct {
	Backend string      `yaml:"backend"` // sql, redis
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig holds Redis connection settings for the session backend.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// ChatConfig selects and configures the chat platform.
type ChatConfig struct {
	Platform  string         `yaml:"platform"` // telegram, slack, discord
	SendRate  float64        `yaml:"send_rate"`
	SendBurst int            `yaml:"send_burst"`
	Telegram  TelegramConfig `yaml:"telegram"`
	Slack     SlackConfig    `yaml:"slack"`
	Discord   DiscordConfig  `yaml:"discord"`
}

// TelegramConfig holds Telegram Bot API settings.
type TelegramConfig struct {
	Token string `yaml:"token"`
}

// SlackConfig holds Slack Socket Mode settings.
type SlackConfig struct {
	AppToken string `yaml:"app_token"`
	BotToken string `yaml:"bot_token"`
}

// DiscordConfig holds Discord Gateway settings.
type DiscordConfig struct {
	BotToken string `yaml:"bot_token"`
}

// WorkflowConfig tunes the request workflow.
type WorkflowConfig struct {
	CodePrefix    string        `yaml:"code_prefix"`
	MinLead       time.Duration `yaml:"min_lead"`
	ClaimReminder time.Duration `yaml:"claim_reminder"`
	RegistryIdle  time.Duration `yaml:"registry_idle"`
	SweepSchedule string        `yaml:"sweep_schedule"`
	Timezone      string        `yaml:"timezone"`
}

// DashboardConfig controls the read-only HTTP API.
type DashboardConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// EventsConfig controls lifecycle event publishing. Empty NATSURL disables it.
type EventsConfig struct {
	NATSURL       string `yaml:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json, console
}

// BootstrapConfig describes an account created by "mp db init" so that a fresh
// install has someone allowed to enrol other users.
type BootstrapConfig struct {
	CPF          string `yaml:"cpf"`
	Registration string `yaml:"registration"`
	Name         string `yaml:"name"`
	Role         string `yaml:"role"`
}

// Load reads a YAML config file from path and returns a validated Config.
// A .env file next to the working directory is loaded first, if present, so
// secrets can be kept out of the YAML.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyEnv(os.LookupEnv)
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overrides secrets from the environment.
func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set("MOTORPOOL_DB_PASSWORD", &c.Database.Password)
	set("MOTORPOOL_TELEGRAM_TOKEN", &c.Chat.Telegram.Token)
	set("MOTORPOOL_SLACK_APP_TOKEN", &c.Chat.Slack.AppToken)
	set("MOTORPOOL_SLACK_BOT_TOKEN", &c.Chat.Slack.BotToken)
	set("MOTORPOOL_DISCORD_TOKEN", &c.Chat.Discord.BotToken)
	set("MOTORPOOL_REDIS_PASSWORD", &c.Sessions.Redis.Password)
	set("MOTORPOOL_NATS_URL", &c.Events.NATSURL)
	if v, ok := lookup("MOTORPOOL_DASHBOARD_PORT"); ok {
		if port, err := strconv.Atoi(v); err == nil {
			c.Dashboard.Port = port
		}
	}
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "mysql"
	}
	if c.Database.Host == "" {
		c.Database.Host = "127.0.0.1"
	}
	if c.Database.Port == 0 {
		switch c.Database.Driver {
		case "postgres":
			c.Database.Port = 5432
		default:
			c.Database.Port = 3306
		}
	}
	if c.Database.User == "" {
		c.Database.User = "root"
	}
	if c.Database.Name == "" {
		c.Database.Name = "motorpool"
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		c.Database.Path = "motorpool.db"
	}
	if c.Sessions.Backend == "" {
		c.Sessions.Backend = "sql"
	}
	if c.Sessions.Redis.Addr == "" {
		c.Sessions.Redis.Addr = "127.0.0.1:6379"
	}
	if c.Chat.SendRate == 0 {
		c.Chat.SendRate = 25
	}
	if c.Chat.SendBurst == 0 {
		c.Chat.SendBurst = 5
	}
	if c.Workflow.CodePrefix == "" {
		c.Workflow.CodePrefix = "SOL"
	}
	if c.Workflow.MinLead == 0 {
		c.Workflow.MinLead = 30 * time.Minute
	}
	if c.Workflow.ClaimReminder == 0 {
		c.Workflow.ClaimReminder = 3 * time.Minute
	}
	if c.Workflow.RegistryIdle == 0 {
		c.Workflow.RegistryIdle = 2 * time.Hour
	}
	if c.Workflow.SweepSchedule == "" {
		c.Workflow.SweepSchedule = "*/30 * * * *"
	}
	if c.Workflow.Timezone == "" {
		c.Workflow.Timezone = "Local"
	}
	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = 8080
	}
	if c.Events.SubjectPrefix == "" {
		c.Events.SubjectPrefix = "motorpool.requests"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Bootstrap.Role == "" && c.Bootstrap.CPF != "" {
		c.Bootstrap.Role = "inspector"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Database.Driver {
	case "mysql", "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not one of mysql, postgres, sqlite", c.Database.Driver))
	}
	switch c.Sessions.Backend {
	case "sql", "redis":
	default:
		errs = append(errs, fmt.Sprintf("sessions.backend %q is not one of sql, redis", c.Sessions.Backend))
	}
	switch c.Chat.Platform {
	case "":
		errs = append(errs, "chat.platform is required")
	case "telegram", "slack", "discord":
	default:
		errs = append(errs, fmt.Sprintf("chat.platform %q is not one of telegram, slack, discord", c.Chat.Platform))
	}
	if c.Chat.SendRate < 0 {
		errs = append(errs, "chat.send_rate must not be negative")
	}
	if c.Workflow.MinLead < 0 {
		errs = append(errs, "workflow.min_lead must not be negative")
	}
	if c.Workflow.ClaimReminder < 0 {
		errs = append(errs, "workflow.claim_reminder must not be negative")
	}
	if _, err := time.LoadLocation(c.Workflow.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("workflow.timezone %q: %v", c.Workflow.Timezone, err))
	}
	if len(strings.Fields(c.Workflow.SweepSchedule)) != 5 {
		errs = append(errs, "workflow.sweep_schedule must be a 5-field cron expression")
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Sprintf("log.format %q is not one of json, console", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Location returns the workflow timezone. validate guarantees it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Workflow.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}
