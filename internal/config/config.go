package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the engine. It is built once at
// startup and passed explicitly to constructors.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Secrets   SecretsConfig   `yaml:"secrets"`
	Email     EmailConfig     `yaml:"email"`
	SMS       SMSConfig       `yaml:"sms"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Review    ReviewConfig    `yaml:"review"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
	// PublicBaseURL is the externally visible origin providers call back on.
	// SMS signature validation signs this exact URL.
	PublicBaseURL  string   `yaml:"public_base_url"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	DevMode        bool     `yaml:"dev_mode"`
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	URL             string `yaml:"url"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_seconds"`
}

// Lifetime returns the connection max lifetime as a duration
func (c DatabaseConfig) Lifetime() time.Duration {
	return time.Duration(c.ConnMaxLifetime) * time.Second
}

// RedisConfig holds the optional Redis used for housekeeping locks
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Enabled reports whether Redis is configured.
func (c RedisConfig) Enabled() bool { return c.Addr != "" }

// SecretsConfig holds shared secrets. Empty values are handled by each
// consumer: the token codec falls back to an ephemeral key, webhook and task
// endpoints reject every call.
type SecretsConfig struct {
	TokenSecret string `yaml:"token_secret"`
	TaskSecret  string `yaml:"task_secret"`
}

// EmailConfig selects and configures the email provider
type EmailConfig struct {
	Provider  string        `yaml:"provider"` // "mailgun" or "ses"
	FromName  string        `yaml:"from_name"`
	FromEmail string        `yaml:"from_email"`
	ReplyTo   string        `yaml:"reply_to"`
	Mailgun   MailgunConfig `yaml:"mailgun"`
	SES       SESConfig     `yaml:"ses"`
}

// MailgunConfig holds Mailgun API configuration
type MailgunConfig struct {
	APIKey            string `yaml:"api_key"`
	Domain            string `yaml:"domain"`
	BaseURL           string `yaml:"base_url"`
	WebhookSigningKey string `yaml:"webhook_signing_key"`
	TimeoutSeconds    int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration
func (c MailgunConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SESConfig holds AWS SES API configuration
type SESConfig struct {
	Region           string `yaml:"region"`
	AccessKey        string `yaml:"access_key"`
	SecretKey        string `yaml:"secret_key"`
	ConfigurationSet string `yaml:"configuration_set"`
	// WebhookToken is the path secret on the SNS subscription URL.
	WebhookToken string `yaml:"webhook_token"`
}

// SMSConfig holds Twilio configuration
type SMSConfig struct {
	AccountSID     string `yaml:"account_sid"`
	AuthToken      string `yaml:"auth_token"`
	FromNumber     string `yaml:"from_number"`
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration
func (c SMSConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SchedulerConfig tunes the touch scheduler and retry queue
type SchedulerConfig struct {
	IntervalSeconds     int `yaml:"interval_seconds"`
	BatchSize           int `yaml:"batch_size"`
	Concurrency         int `yaml:"concurrency"`
	StaleMinutes        int `yaml:"stale_minutes"`
	RetryMaxAttempts    int `yaml:"retry_max_attempts"`
	RetryBackoffSeconds int `yaml:"retry_backoff_seconds"`
	// RetentionDays is how long finished retry items are kept.
	RetentionDays int `yaml:"retention_days"`
}

// Interval returns the worker tick interval
func (c SchedulerConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// StaleAfter returns how long an item may sit in processing before recovery
func (c SchedulerConfig) StaleAfter() time.Duration {
	return time.Duration(c.StaleMinutes) * time.Minute
}

// RetryBackoff returns the base delay between retry attempts
func (c SchedulerConfig) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffSeconds) * time.Second
}

// Retention returns how long finished retry items are kept
func (c SchedulerConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// ReviewConfig holds the customer-facing link settings
type ReviewConfig struct {
	// LinkBaseURL hosts the rating page; tokens are appended as ?t=.
	LinkBaseURL string `yaml:"link_base_url"`
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// Redact reports whether PII redaction is on. Defaults to true.
func (c LoggingConfig) Redact() bool {
	return c.RedactPII == nil || *c.RedactPII
}

// Load reads and parses the configuration file. A missing file yields the
// defaults so the engine can run on environment variables alone.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, err
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, err
			}
		}
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 20
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 300
	}
	if cfg.Email.Provider == "" {
		cfg.Email.Provider = "mailgun"
	}
	if cfg.Email.Mailgun.BaseURL == "" {
		cfg.Email.Mailgun.BaseURL = "https://api.mailgun.net/v3"
	}
	if cfg.Email.Mailgun.TimeoutSeconds == 0 {
		cfg.Email.Mailgun.TimeoutSeconds = 30
	}
	if cfg.Email.SES.Region == "" {
		cfg.Email.SES.Region = "us-east-1"
	}
	if cfg.SMS.BaseURL == "" {
		cfg.SMS.BaseURL = "https://api.twilio.com/2010-04-01"
	}
	if cfg.SMS.TimeoutSeconds == 0 {
		cfg.SMS.TimeoutSeconds = 30
	}
	if cfg.Scheduler.IntervalSeconds == 0 {
		cfg.Scheduler.IntervalSeconds = 60
	}
	if cfg.Scheduler.BatchSize == 0 {
		cfg.Scheduler.BatchSize = 50
	}
	if cfg.Scheduler.Concurrency == 0 {
		cfg.Scheduler.Concurrency = 4
	}
	if cfg.Scheduler.StaleMinutes == 0 {
		cfg.Scheduler.StaleMinutes = 10
	}
	if cfg.Scheduler.RetryMaxAttempts == 0 {
		cfg.Scheduler.RetryMaxAttempts = 3
	}
	if cfg.Scheduler.RetryBackoffSeconds == 0 {
		cfg.Scheduler.RetryBackoffSeconds = 300
	}
	if cfg.Scheduler.RetentionDays == 0 {
		cfg.Scheduler.RetentionDays = 30
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It loads a .env file (if present) before reading env vars, so secrets can
// live in .env locally and in real env vars in deployment.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	setString(&cfg.Database.URL, "DATABASE_URL")
	setString(&cfg.Server.PublicBaseURL, "PUBLIC_BASE_URL")
	setInt(&cfg.Server.Port, "PORT")
	if v := os.Getenv("DEV_MODE"); v != "" {
		cfg.Server.DevMode, _ = strconv.ParseBool(v)
	}

	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")

	setString(&cfg.Secrets.TokenSecret, "REVIEW_TOKEN_SECRET")
	setString(&cfg.Secrets.TaskSecret, "TASK_SECRET")

	setString(&cfg.Email.Provider, "EMAIL_PROVIDER")
	setString(&cfg.Email.FromEmail, "EMAIL_FROM")
	setString(&cfg.Email.Mailgun.APIKey, "MAILGUN_API_KEY")
	setString(&cfg.Email.Mailgun.Domain, "MAILGUN_DOMAIN")
	setString(&cfg.Email.Mailgun.BaseURL, "MAILGUN_BASE_URL")
	setString(&cfg.Email.Mailgun.WebhookSigningKey, "MAILGUN_WEBHOOK_SIGNING_KEY")
	setString(&cfg.Email.SES.AccessKey, "AWS_SES_ACCESS_KEY")
	setString(&cfg.Email.SES.SecretKey, "AWS_SES_SECRET_KEY")
	setString(&cfg.Email.SES.Region, "AWS_SES_REGION")
	setString(&cfg.Email.SES.WebhookToken, "AWS_SES_WEBHOOK_TOKEN")

	setString(&cfg.SMS.AccountSID, "TWILIO_ACCOUNT_SID")
	setString(&cfg.SMS.AuthToken, "TWILIO_AUTH_TOKEN")
	setString(&cfg.SMS.FromNumber, "TWILIO_FROM_NUMBER")

	setString(&cfg.Review.LinkBaseURL, "REVIEW_LINK_BASE_URL")
	setString(&cfg.Logging.Level, "LOG_LEVEL")

	return cfg, nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
