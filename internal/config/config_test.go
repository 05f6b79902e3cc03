package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("RESPONDER_URL", "http://responder.local/webhook")

	cfg, _, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, 7*24*time.Hour, cfg.TokenTTL)
	assert.Equal(t, 60*time.Second, cfg.ResponderTimeout)
	assert.Equal(t, 5*time.Minute, cfg.ResponderUploadTimeout)
	assert.Equal(t, int64(25*1024*1024), cfg.MaxUploadBytes)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
}

func TestLoad_AdminEmailList(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("RESPONDER_URL", "http://responder.local/webhook")
	t.Setenv("ADMIN_EMAILS", " Admin@Example.com, ,ops@example.com ")

	cfg, _, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"Admin@Example.com", "ops@example.com"}, cfg.AdminEmails)
}

func TestLoad_RequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("RESPONDER_URL", "http://responder.local/webhook")

	_, _, err := Load()
	require.Error(t, err)
}

func TestGetEnvAsDuration_FallsBackOnGarbage(t *testing.T) {
	t.Setenv("RESPONDER_TIMEOUT", "soon")
	assert.Equal(t, time.Minute, getEnvAsDuration("RESPONDER_TIMEOUT", time.Minute))
}
