package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  port: 9090
  public_base_url: "https://hooks.example.com"
  allowed_origins: ["https://review.example.com"]

database:
  url: "postgres://localhost/reviews"

email:
  provider: ses
  from_email: "reviews@example.com"
  ses:
    region: us-west-2
    configuration_set: outreach

sms:
  account_sid: AC123
  from_number: "+15550001111"

scheduler:
  batch_size: 25
  stale_minutes: 15
  retry_max_attempts: 5

logging:
  level: debug
  redact_pii: false
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "https://hooks.example.com", cfg.Server.PublicBaseURL)
	assert.Equal(t, []string{"https://review.example.com"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "postgres://localhost/reviews", cfg.Database.URL)

	assert.Equal(t, "ses", cfg.Email.Provider)
	assert.Equal(t, "us-west-2", cfg.Email.SES.Region)
	assert.Equal(t, "outreach", cfg.Email.SES.ConfigurationSet)
	assert.Equal(t, "AC123", cfg.SMS.AccountSID)

	assert.Equal(t, 25, cfg.Scheduler.BatchSize)
	assert.Equal(t, 15*time.Minute, cfg.Scheduler.StaleAfter())
	assert.Equal(t, 5, cfg.Scheduler.RetryMaxAttempts)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Redact())
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "mailgun", cfg.Email.Provider)
	assert.Equal(t, "https://api.mailgun.net/v3", cfg.Email.Mailgun.BaseURL)
	assert.Equal(t, "https://api.twilio.com/2010-04-01", cfg.SMS.BaseURL)
	assert.Equal(t, 50, cfg.Scheduler.BatchSize)
	assert.Equal(t, 10*time.Minute, cfg.Scheduler.StaleAfter())
	assert.Equal(t, 3, cfg.Scheduler.RetryMaxAttempts)
	assert.Equal(t, time.Minute, cfg.Scheduler.Interval())
	assert.Equal(t, 5*time.Minute, cfg.Scheduler.RetryBackoff())
	assert.Equal(t, 30*24*time.Hour, cfg.Scheduler.Retention())
	assert.True(t, cfg.Logging.Redact())
	assert.False(t, cfg.Redis.Enabled())
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env/db")
	t.Setenv("REVIEW_TOKEN_SECRET", "tok")
	t.Setenv("TASK_SECRET", "task")
	t.Setenv("TWILIO_AUTH_TOKEN", "twilio")
	t.Setenv("MAILGUN_WEBHOOK_SIGNING_KEY", "mg")
	t.Setenv("PORT", "7070")
	t.Setenv("DEV_MODE", "true")

	cfg, err := LoadFromEnv(filepath.Join(t.TempDir(), "none.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "postgres://env/db", cfg.Database.URL)
	assert.Equal(t, "tok", cfg.Secrets.TokenSecret)
	assert.Equal(t, "task", cfg.Secrets.TaskSecret)
	assert.Equal(t, "twilio", cfg.SMS.AuthToken)
	assert.Equal(t, "mg", cfg.Email.Mailgun.WebhookSigningKey)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.True(t, cfg.Server.DevMode)
}
