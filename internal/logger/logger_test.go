package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogger_RedactsSensitiveKeys(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := &Logger{SugaredLogger: zap.New(core).Sugar(), redact: true}

	l.Info("login", "email", "a@b.com", "user_id", "42", "path", "/api/auth/login")

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "[REDACTED]", fields["email"])
	assert.Contains(t, fields["user_id"], "hash:")
	assert.Equal(t, "/api/auth/login", fields["path"])
}

func TestLogger_RedactsJWTLookingValues(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := &Logger{SugaredLogger: zap.New(core).Sugar(), redact: true}

	l.Warn("bad header", "value", "eyJhbGciOiJIUzI1NiJ9.eyJzdWIiOiIxMjM0NTY3ODkwIn0.sig")

	assert.Equal(t, "[REDACTED]", logs.All()[0].ContextMap()["value"])
}

func TestNew_RejectsUnknownLevel(t *testing.T) {
	_, err := New("dev", "loud")
	require.Error(t, err)
}
