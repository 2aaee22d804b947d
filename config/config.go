package config

import (
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata" // Asia/Riyadh must resolve on slim images

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Log          LogConfig          `yaml:"log"`
	Database     DatabaseConfig     `yaml:"database"`
	API          APIConfig          `yaml:"api"`
	Credential   CredentialConfig   `yaml:"credential"`
	Auto         AutoConfig         `yaml:"auto"`
	Telegram     TelegramConfig     `yaml:"telegram"`
	Push         PushConfig         `yaml:"push"`
	Notification NotificationConfig `yaml:"notification"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port                int     `yaml:"port"`
	RateLimitPerSec     float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst      int     `yaml:"rate_limit_burst"`
	ManualCooldownSecs  int     `yaml:"manual_cooldown_seconds"`
	CacheTTLSeconds     int     `yaml:"cache_ttl_seconds"`
	ShowTokenManagement bool    `yaml:"show_token_management"`

	// AllowedOrigins lists control panel origins allowed to call the API.
	// Empty allows any origin.
	AllowedOrigins []string `yaml:"allowed_origins"`

	ManualCooldown time.Duration `yaml:"-"`
	CacheTTL       time.Duration `yaml:"-"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level    string `yaml:"level"`
	Encoding string `yaml:"encoding"`
}

// DatabaseConfig holds the database connection configuration.
// A DSN starting with "file:" or ending in ".db" selects SQLite, anything else Postgres.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// APIConfig describes the upstream Mawared endpoints and client identity headers.
type APIConfig struct {
	AuthBaseURL    string            `yaml:"auth_base_url"`
	BaseURL        string            `yaml:"base_url"`
	AppVersion     string            `yaml:"app_version"`
	Platform       string            `yaml:"platform"`
	APICode        string            `yaml:"api_code"`
	UserAgent      string            `yaml:"user_agent"`
	Headers        map[string]string `yaml:"headers"`
	HTTPProxy      string            `yaml:"http_proxy"`
	TimeoutSeconds int               `yaml:"timeout_seconds"`
	InfoMaxAgeHrs  int               `yaml:"employee_info_max_age_hours"`
	InitAttempts   int               `yaml:"init_attempts"`
	InitBackoffMs  int               `yaml:"init_backoff_ms"`

	Timeout     time.Duration `yaml:"-"`
	InfoMaxAge  time.Duration `yaml:"-"`
	InitBackoff time.Duration `yaml:"-"`
}

// CredentialConfig lists the places the bearer token may live, in lookup order.
type CredentialConfig struct {
	EnvKey      string `yaml:"env_key"`
	EnvFile     string `yaml:"env_file"`
	PrimaryFile string `yaml:"primary_file"`
	BackupFile  string `yaml:"backup_file"`
	CacheTTLMin int    `yaml:"cache_ttl_minutes"`
	MinLength   int    `yaml:"min_length"`

	CacheTTL time.Duration `yaml:"-"`
}

// WindowConfig bounds one automatic action.
type WindowConfig struct {
	Start         string `yaml:"start"`
	End           string `yaml:"end"`
	JitterMinutes int    `yaml:"jitter_minutes"`
	SpanMinutes   int    `yaml:"span_minutes"`
}

// AutoConfig holds the automatic check-in/check-out settings.
type AutoConfig struct {
	Enabled         bool         `yaml:"enabled"`
	Timezone        string       `yaml:"timezone"`
	Weekend         []string     `yaml:"weekend"`
	Checkin         WindowConfig `yaml:"checkin"`
	Checkout        WindowConfig `yaml:"checkout"`
	LeaseSeconds    int          `yaml:"lease_seconds"`
	NoticeRetention int          `yaml:"notice_retention_days"`

	Location *time.Location `yaml:"-"`
	Lease    time.Duration  `yaml:"-"`
}

// TelegramConfig holds the bot credentials for the Telegram notifier.
type TelegramConfig struct {
	Token   string `yaml:"token"`
	ChatID  string `yaml:"chat_id"`
	BaseURL string `yaml:"base_url"`
}

// Configured reports whether both bot token and chat are present.
func (t TelegramConfig) Configured() bool {
	return t.Token != "" && t.ChatID != ""
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// Configured reports whether web push can be used.
func (p PushConfig) Configured() bool {
	return p.PublicKey != "" && p.PrivateKey != ""
}

// NotificationConfig holds the configuration for the notification worker pool.
type NotificationConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
}

// Overrides are deployment values read from the environment after the YAML file.
type Overrides struct {
	Port           int    `envconfig:"PORT"`
	DatabaseDSN    string `envconfig:"DATABASE_DSN"`
	TelegramToken  string `envconfig:"TELEGRAM_TOKEN"`
	TelegramChatID string `envconfig:"TELEGRAM_CHAT_ID"`
	AppVersion     string `envconfig:"APP_VERSION"`
	LogLevel       string `envconfig:"LOG_LEVEL"`
	ShowTokenMgmt  *bool  `envconfig:"SHOW_TOKEN_MANAGEMENT"`
}

// Load reads the configuration from the given path, applies environment
// overrides and fills defaults.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	var env Overrides
	if err := envconfig.Process("", &env); err != nil {
		return nil, fmt.Errorf("failed to process env overrides: %w", err)
	}
	cfg.applyOverrides(env)

	if err := cfg.ApplyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyOverrides(env Overrides) {
	if env.Port > 0 {
		c.Server.Port = env.Port
	}
	if env.DatabaseDSN != "" {
		c.Database.DSN = env.DatabaseDSN
	}
	if env.TelegramToken != "" {
		c.Telegram.Token = env.TelegramToken
	}
	if env.TelegramChatID != "" {
		c.Telegram.ChatID = env.TelegramChatID
	}
	if env.AppVersion != "" {
		c.API.AppVersion = env.AppVersion
	}
	if env.LogLevel != "" {
		c.Log.Level = env.LogLevel
	}
	if env.ShowTokenMgmt != nil {
		c.Server.ShowTokenManagement = *env.ShowTokenMgmt
	}
}

// ApplyDefaults fills zero values and derives the computed fields. It is
// exported so tests can build a Config literal and normalise it.
func (c *Config) ApplyDefaults() error {
	if c.Server.Port <= 0 {
		c.Server.Port = 8080
	}
	if c.Server.RateLimitPerSec <= 0 {
		c.Server.RateLimitPerSec = 10
	}
	if c.Server.RateLimitBurst <= 0 {
		c.Server.RateLimitBurst = 5
	}
	if c.Server.ManualCooldownSecs <= 0 {
		c.Server.ManualCooldownSecs = 5
	}
	c.Server.ManualCooldown = time.Duration(c.Server.ManualCooldownSecs) * time.Second
	if c.Server.CacheTTLSeconds <= 0 {
		c.Server.CacheTTLSeconds = 60
	}
	c.Server.CacheTTL = time.Duration(c.Server.CacheTTLSeconds) * time.Second

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Encoding == "" {
		c.Log.Encoding = "json"
	}

	if c.Database.DSN == "" {
		c.Database.DSN = "file:mawared_data/mawared.db"
	}

	if c.API.AuthBaseURL == "" {
		c.API.AuthBaseURL = "https://mawaredauth.moh.gov.sa/AuthorizationServer217"
	}
	if c.API.BaseURL == "" {
		c.API.BaseURL = "https://mawaredapi.moh.gov.sa/WebAPI217"
	}
	if c.API.AppVersion == "" {
		c.API.AppVersion = "3.6.0"
	}
	if c.API.Platform == "" {
		c.API.Platform = "IOS"
	}
	if c.API.TimeoutSeconds <= 0 || c.API.TimeoutSeconds > 20 {
		c.API.TimeoutSeconds = 20
	}
	c.API.Timeout = time.Duration(c.API.TimeoutSeconds) * time.Second
	if c.API.InfoMaxAgeHrs <= 0 {
		c.API.InfoMaxAgeHrs = 24
	}
	c.API.InfoMaxAge = time.Duration(c.API.InfoMaxAgeHrs) * time.Hour
	if c.API.InitAttempts <= 0 {
		c.API.InitAttempts = 3
	}
	if c.API.InitBackoffMs <= 0 {
		c.API.InitBackoffMs = 3000
	}
	c.API.InitBackoff = time.Duration(c.API.InitBackoffMs) * time.Millisecond

	if c.Credential.EnvKey == "" {
		c.Credential.EnvKey = "MAWARED_TOKEN"
	}
	if c.Credential.EnvFile == "" {
		c.Credential.EnvFile = ".env"
	}
	if c.Credential.PrimaryFile == "" {
		c.Credential.PrimaryFile = "mawared_data/token.txt"
	}
	if c.Credential.BackupFile == "" {
		c.Credential.BackupFile = "mawared_data/token_backup.txt"
	}
	if c.Credential.CacheTTLMin <= 0 {
		c.Credential.CacheTTLMin = 60
	}
	c.Credential.CacheTTL = time.Duration(c.Credential.CacheTTLMin) * time.Minute
	if c.Credential.MinLength <= 0 {
		c.Credential.MinLength = 10
	}

	if c.Auto.Timezone == "" {
		c.Auto.Timezone = "Asia/Riyadh"
	}
	loc, err := time.LoadLocation(c.Auto.Timezone)
	if err != nil {
		return fmt.Errorf("failed to load timezone %q: %w", c.Auto.Timezone, err)
	}
	c.Auto.Location = loc
	if len(c.Auto.Weekend) == 0 {
		c.Auto.Weekend = []string{"friday", "saturday"}
	}
	for i, day := range c.Auto.Weekend {
		c.Auto.Weekend[i] = strings.ToLower(strings.TrimSpace(day))
	}
	if c.Auto.Checkin.Start == "" {
		c.Auto.Checkin = WindowConfig{Start: "08:30", End: "09:00", JitterMinutes: 20, SpanMinutes: 10}
	}
	if c.Auto.Checkout.Start == "" {
		c.Auto.Checkout = WindowConfig{Start: "16:00", End: "16:30", JitterMinutes: 20, SpanMinutes: 10}
	}
	if c.Auto.LeaseSeconds <= 0 {
		c.Auto.LeaseSeconds = 60
	}
	c.Auto.Lease = time.Duration(c.Auto.LeaseSeconds) * time.Second
	if c.Auto.NoticeRetention <= 0 {
		c.Auto.NoticeRetention = 3
	}

	if c.Telegram.BaseURL == "" {
		c.Telegram.BaseURL = "https://api.telegram.org"
	}
	if c.Push.TTL <= 0 {
		c.Push.TTL = 3600
	}

	if c.Notification.Workers <= 0 {
		c.Notification.Workers = 1
	}
	if c.Notification.QueueSize <= 0 {
		c.Notification.QueueSize = 32
	}
	return nil
}
