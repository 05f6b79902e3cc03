package core

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bauki/assistant-backend/internal/apperr"
	"github.com/bauki/assistant-backend/internal/auth"
	"github.com/bauki/assistant-backend/internal/logger"
	"github.com/bauki/assistant-backend/internal/store"
)

func newAccountFixture(t *testing.T) (*AccountService, *store.SQLiteStore, *auth.TokenService) {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "accounts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	tokens := auth.NewTokenService("test-secret", 0)
	return NewAccountService(st, tokens, logger.NewNop()), st, tokens
}

func TestAccountService_RegisterThenLogin(t *testing.T) {
	svc, _, tokens := newAccountFixture(t)
	ctx := context.Background()

	reg, err := svc.Register(ctx, RegisterInput{Email: "  Alice@Example.COM ", Password: "secret1", Name: "Alice"})
	require.NoError(t, err)
	assert.Equal(t, "bearer", reg.TokenType)
	assert.Equal(t, "alice@example.com", reg.User.Email)
	require.NotNil(t, reg.User.Name)
	assert.Equal(t, "Alice", *reg.User.Name)

	userID, ok := tokens.Resolve(reg.AccessToken)
	require.True(t, ok)
	assert.Equal(t, reg.User.ID, userID)

	login, err := svc.Login(ctx, "alice@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, login.User.ID)

	_, err = svc.Register(ctx, RegisterInput{Email: "ALICE@example.com", Password: "another1"})
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestAccountService_RegisterValidation(t *testing.T) {
	svc, _, _ := newAccountFixture(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterInput{Email: "not-an-email", Password: "secret1"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	_, err = svc.Register(ctx, RegisterInput{Email: "a@example.com", Password: "123"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestAccountService_LoginFailures(t *testing.T) {
	svc, _, _ := newAccountFixture(t)
	ctx := context.Background()
	_, err := svc.Register(ctx, RegisterInput{Email: "bob@example.com", Password: "secret1"})
	require.NoError(t, err)

	_, err = svc.Login(ctx, "bob@example.com", "wrong-password")
	assert.Equal(t, apperr.KindUnauthenticated, apperr.KindOf(err))
	_, err = svc.Login(ctx, "nobody@example.com", "secret1")
	assert.Equal(t, apperr.KindUnauthenticated, apperr.KindOf(err))
}

func TestAccountService_ChangePasswordKeepsTokens(t *testing.T) {
	svc, _, _ := newAccountFixture(t)
	ctx := context.Background()
	reg, err := svc.Register(ctx, RegisterInput{Email: "carol@example.com", Password: "old-secret"})
	require.NoError(t, err)
	caller := IdentityOf(reg.User)

	err = svc.ChangePassword(ctx, caller, "wrong", "new-secret")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	require.NoError(t, svc.ChangePassword(ctx, caller, "old-secret", "new-secret"))

	_, err = svc.Login(ctx, "carol@example.com", "old-secret")
	assert.Equal(t, apperr.KindUnauthenticated, apperr.KindOf(err))
	_, err = svc.Login(ctx, "carol@example.com", "new-secret")
	require.NoError(t, err)

	id, err := svc.Identify(ctx, reg.AccessToken)
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, reg.User.ID, id.UserID)
}

func TestAccountService_IdentifyDeletedUserIsAnonymous(t *testing.T) {
	svc, _, _ := newAccountFixture(t)
	ctx := context.Background()
	reg, err := svc.Register(ctx, RegisterInput{Email: "dave@example.com", Password: "secret1"})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteAccount(ctx, IdentityOf(reg.User)))

	id, err := svc.Identify(ctx, reg.AccessToken)
	require.NoError(t, err)
	assert.Nil(t, id)

	id, err = svc.Identify(ctx, "garbage")
	require.NoError(t, err)
	assert.Nil(t, id)
}

func TestAccountService_UpdateRegion(t *testing.T) {
	svc, _, _ := newAccountFixture(t)
	ctx := context.Background()
	reg, err := svc.Register(ctx, RegisterInput{Email: "erin@example.com", Password: "secret1"})
	require.NoError(t, err)
	caller := IdentityOf(reg.User)

	u, err := svc.UpdateRegion(ctx, caller, " Almaty ")
	require.NoError(t, err)
	require.NotNil(t, u.Region)
	assert.Equal(t, "Almaty", *u.Region)

	id, err := svc.Identify(ctx, reg.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "Almaty", id.Region)

	u, err = svc.UpdateRegion(ctx, caller, "")
	require.NoError(t, err)
	assert.Nil(t, u.Region)

	_, err = svc.UpdateRegion(ctx, nil, "x")
	assert.Equal(t, apperr.KindUnauthenticated, apperr.KindOf(err))
}

func TestAccountService_DeleteAccountCascades(t *testing.T) {
	svc, st, _ := newAccountFixture(t)
	ctx := context.Background()
	reg, err := svc.Register(ctx, RegisterInput{Email: "frank@example.com", Password: "secret1"})
	require.NoError(t, err)

	now := time.Now().UTC()
	conv := &store.Conversation{ID: "owned", Owner: store.UserOwner(reg.User.ID), Title: "t", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, st.CreateConversation(ctx, conv, nil))

	require.NoError(t, svc.DeleteAccount(ctx, IdentityOf(reg.User)))
	_, err = st.GetConversationMeta(ctx, "owned")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = svc.Login(ctx, "frank@example.com", "secret1")
	assert.Equal(t, apperr.KindUnauthenticated, apperr.KindOf(err))
}
