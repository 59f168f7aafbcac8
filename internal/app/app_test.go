package app

import (
	"context"
	"testing"

	"github.com/ignite/reviewloop/internal/config"
	"github.com/ignite/reviewloop/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func devConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Server.DevMode = true
	cfg.Secrets.TokenSecret = "dev-secret"
	return cfg
}

func TestNewDevMode(t *testing.T) {
	a, err := New(context.Background(), devConfig(t))
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.DB)
	assert.Nil(t, a.Redis)
	assert.False(t, a.Codec.Ephemeral())
	require.NoError(t, a.Store.Ping(context.Background()))

	var names []string
	for _, task := range a.Tasks() {
		names = append(names, task.Name())
	}
	assert.Equal(t, []string{worker.TaskTouches, worker.TaskRetries, worker.TaskCleanup}, names)
}

func TestNewRequiresDatabaseOutsideDevMode(t *testing.T) {
	cfg := devConfig(t)
	cfg.Server.DevMode = false
	_, err := New(context.Background(), cfg)
	assert.ErrorContains(t, err, "DATABASE_URL")
}

func TestNewRejectsUnknownEmailProvider(t *testing.T) {
	cfg := devConfig(t)
	cfg.Email.Provider = "pigeon"
	_, err := New(context.Background(), cfg)
	assert.ErrorContains(t, err, "pigeon")
}

func TestRouterChannels(t *testing.T) {
	cfg := devConfig(t)
	r, err := newRouter(context.Background(), cfg)
	require.NoError(t, err)
	assert.Nil(t, r.Email)
	assert.Nil(t, r.SMS)

	cfg.Email.Mailgun.APIKey = "key"
	cfg.Email.Mailgun.Domain = "mg.example.com"
	cfg.SMS.AccountSID = "AC1"
	cfg.SMS.AuthToken = "tok"
	cfg.SMS.FromNumber = "+15555550000"
	r, err = newRouter(context.Background(), cfg)
	require.NoError(t, err)
	assert.NotNil(t, r.Email)
	assert.NotNil(t, r.SMS)
}

func TestLinkBase(t *testing.T) {
	cfg := devConfig(t)
	cfg.Server.PublicBaseURL = "https://api.example.com/"
	assert.Equal(t, "https://api.example.com/r", linkBase(cfg))

	cfg.Review.LinkBaseURL = "https://reviews.example.com/r"
	assert.Equal(t, "https://reviews.example.com/r", linkBase(cfg))
}
