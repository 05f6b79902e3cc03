package mailer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bauki/assistant-backend/internal/logger"
)

func TestSendGridMailer_SendResetCode(t *testing.T) {
	var got mailSendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/mail/send", r.URL.Path)
		assert.Equal(t, "Bearer sg-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	m, err := NewSendGridMailer(SendGridConfig{APIKey: "sg-key", BaseURL: srv.URL + "/", FromEmail: "noreply@example.com"}, logger.NewNop())
	require.NoError(t, err)

	require.NoError(t, m.SendResetCode(context.Background(), "user@example.com", "042137", 15*time.Minute))
	require.Len(t, got.Personalizations, 1)
	assert.Equal(t, "user@example.com", got.Personalizations[0].To[0].Email)
	assert.Equal(t, "noreply@example.com", got.From.Email)
	assert.Contains(t, got.Content[0].Value, "042137")
	assert.Contains(t, got.Content[0].Value, "15 minutes")
}

func TestSendGridMailer_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"errors":[{"message":"bad key"}]}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	m, err := NewSendGridMailer(SendGridConfig{APIKey: "bad", BaseURL: srv.URL, FromEmail: "noreply@example.com"}, logger.NewNop())
	require.NoError(t, err)

	err = m.SendResetCode(context.Background(), "user@example.com", "000000", time.Minute)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestNewSendGridMailer_RequiresKeyAndSender(t *testing.T) {
	_, err := NewSendGridMailer(SendGridConfig{FromEmail: "a@example.com"}, logger.NewNop())
	assert.Error(t, err)
	_, err = NewSendGridMailer(SendGridConfig{APIKey: "k"}, logger.NewNop())
	assert.Error(t, err)
}

func TestLogMailer(t *testing.T) {
	assert.NoError(t, NewLogMailer(logger.NewNop()).SendResetCode(context.Background(), "a@example.com", "123456", time.Minute))
}
