package core

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bauki/assistant-backend/internal/apperr"
	"github.com/bauki/assistant-backend/internal/auth"
	"github.com/bauki/assistant-backend/internal/logger"
	"github.com/bauki/assistant-backend/internal/store"
)

type fakeResponder struct {
	SendFunc func(ctx context.Context, req ResponderRequest) ([]byte, error)
}

func (f *fakeResponder) Send(ctx context.Context, req ResponderRequest) ([]byte, error) {
	return f.SendFunc(ctx, req)
}

func echoResponder() *fakeResponder {
	return &fakeResponder{SendFunc: func(ctx context.Context, req ResponderRequest) ([]byte, error) {
		return []byte(`{"output":"echo: ` + req.Message + `"}`), nil
	}}
}

type chatFixture struct {
	store     *store.SQLiteStore
	responder *fakeResponder
	titles    *fakeTitleGenerator
	svc       *ChatService
}

func newChatFixture(t *testing.T) *chatFixture {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	f := &chatFixture{
		store:     st,
		responder: echoResponder(),
		titles: &fakeTitleGenerator{ShortTitleFunc: func(ctx context.Context, text string) (string, error) {
			return "Generated Title", nil
		}},
	}
	log := logger.NewNop()
	f.svc = NewChatService(st, f.responder, NewTitleService(f.titles, nil, log), ChatServiceConfig{
		ResponderTimeout:       time.Second,
		ResponderUploadTimeout: 2 * time.Second,
	}, log)
	return f
}

func (f *chatFixture) user(t *testing.T, email string) *auth.Identity {
	t.Helper()
	u := &store.User{ID: uuid.NewString(), Email: email, PasswordHash: "h", CreatedAt: time.Now()}
	require.NoError(t, f.store.CreateUser(context.Background(), u))
	return &auth.Identity{UserID: u.ID, Email: u.Email}
}

func TestChatService_AnonymousFirstTurnCreatesGuestConversation(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	res, err := f.svc.SendMessage(ctx, nil, TurnRequest{Message: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "echo: hello", res.Response)
	assert.Equal(t, "Generated Title", res.Title)
	assert.NotEmpty(t, res.ConversationID)

	conv, err := f.svc.GetConversation(ctx, nil, res.ConversationID)
	require.NoError(t, err)
	assert.True(t, conv.Owner.IsGuest())
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, store.RoleUser, conv.Messages[0].Role)
	assert.Equal(t, "hello", conv.Messages[0].Content)
	assert.Equal(t, store.RoleAssistant, conv.Messages[1].Role)
	assert.Equal(t, res.MessageID, conv.Messages[1].ID)
}

func TestChatService_AuthenticatedFirstTurnIsOwned(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice@example.com")

	res, err := f.svc.SendMessage(ctx, alice, TurnRequest{Message: "hi", ConversationID: "conv-a"})
	require.NoError(t, err)

	list, err := f.svc.ListConversations(ctx, alice)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, res.ConversationID, list[0].ID)

	_, err = f.svc.GetConversation(ctx, nil, "conv-a")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	_, err = f.svc.SendMessage(ctx, nil, TurnRequest{Message: "intrude", ConversationID: "conv-a"})
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
}

func TestChatService_GuestVisibilityAndAdoption(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice@example.com")
	bob := f.user(t, "bob@example.com")

	res, err := f.svc.SendMessage(ctx, nil, TurnRequest{Message: "guest question"})
	require.NoError(t, err)
	id := res.ConversationID

	_, err = f.svc.GetConversation(ctx, bob, id)
	require.NoError(t, err)
	err = f.svc.DeleteConversation(ctx, nil, id)
	assert.Equal(t, apperr.KindUnauthenticated, apperr.KindOf(err))
	_, err = f.svc.RenameConversation(ctx, nil, id, "x")
	assert.Equal(t, apperr.KindUnauthenticated, apperr.KindOf(err))

	res2, err := f.svc.SendMessage(ctx, alice, TurnRequest{Message: "now logged in", ConversationID: id})
	require.NoError(t, err)
	assert.Equal(t, res.Title, res2.Title)

	conv, err := f.svc.GetConversation(ctx, alice, id)
	require.NoError(t, err)
	assert.True(t, conv.Owner.Is(alice.UserID))
	assert.Len(t, conv.Messages, 4)

	_, err = f.svc.GetConversation(ctx, bob, id)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	err = f.svc.DeleteConversation(ctx, bob, id)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	_, err = f.svc.RenameConversation(ctx, bob, id, "mine now")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	_, err = f.svc.SendMessage(ctx, bob, TurnRequest{Message: "hi", ConversationID: id})
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	renamed, err := f.svc.RenameConversation(ctx, alice, id, "  Trip plans  ")
	require.NoError(t, err)
	assert.Equal(t, "Trip plans", renamed.Title)
	require.NoError(t, f.svc.DeleteConversation(ctx, alice, id))
	_, err = f.svc.GetConversation(ctx, alice, id)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestChatService_TitleOnlyOnFirstTurn(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	var calls int32
	f.titles.ShortTitleFunc = func(ctx context.Context, text string) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "First", nil
	}

	res, err := f.svc.SendMessage(ctx, nil, TurnRequest{Message: "one"})
	require.NoError(t, err)
	res, err = f.svc.SendMessage(ctx, nil, TurnRequest{Message: "two", ConversationID: res.ConversationID})
	require.NoError(t, err)

	assert.Equal(t, "First", res.Title)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestChatService_TitleFallbackFromAttachmentName(t *testing.T) {
	f := newChatFixture(t)
	f.titles.ShortTitleFunc = func(ctx context.Context, text string) (string, error) {
		return "", errors.New("generator unavailable")
	}
	var sent ResponderRequest
	f.responder.SendFunc = func(ctx context.Context, req ResponderRequest) ([]byte, error) {
		sent = req
		return []byte(`["Got your document"]`), nil
	}

	res, err := f.svc.SendMessage(context.Background(), nil, TurnRequest{
		Uploads: []Upload{{Name: "scan.pdf", ContentType: "application/pdf", Data: []byte("%PDF-1.4")}},
	})
	require.NoError(t, err)
	assert.Equal(t, "scan.pdf", res.Title)
	assert.Equal(t, "Got your document", res.Response)
	require.Len(t, sent.Attachments, 1)
	assert.Equal(t, "document", sent.Attachments[0].Kind)

	conv, err := f.svc.GetConversation(context.Background(), nil, res.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, "", conv.Messages[0].Content)
	require.Len(t, conv.Messages[0].Attachments, 1)
	assert.Equal(t, "scan.pdf", conv.Messages[0].Attachments[0].Name)
}

func TestChatService_UpstreamFailureStoresNothing(t *testing.T) {
	f := newChatFixture(t)
	f.responder.SendFunc = func(ctx context.Context, req ResponderRequest) ([]byte, error) {
		return nil, apperr.New(apperr.KindUpstreamError, "Responder returned error: 500")
	}

	_, err := f.svc.SendMessage(context.Background(), nil, TurnRequest{Message: "hi", ConversationID: "c-fail"})
	assert.Equal(t, apperr.KindUpstreamError, apperr.KindOf(err))

	_, err = f.svc.GetConversation(context.Background(), nil, "c-fail")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestChatService_ResponderTimeout(t *testing.T) {
	f := newChatFixture(t)
	f.svc.textTimeout = 20 * time.Millisecond
	f.responder.SendFunc = func(ctx context.Context, req ResponderRequest) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	_, err := f.svc.SendMessage(context.Background(), nil, TurnRequest{Message: "slow"})
	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, apperr.KindUpstreamUnavailable, ae.Kind)
	assert.True(t, ae.Timeout)
}

func TestChatService_ClientCancelDoesNotAbortTurn(t *testing.T) {
	f := newChatFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.responder.SendFunc = func(rctx context.Context, req ResponderRequest) ([]byte, error) {
		cancel()
		time.Sleep(10 * time.Millisecond)
		if err := rctx.Err(); err != nil {
			return nil, err
		}
		return []byte(`"done"`), nil
	}

	res, err := f.svc.SendMessage(ctx, nil, TurnRequest{Message: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "done", res.Response)
}

func TestChatService_RegionPreference(t *testing.T) {
	f := newChatFixture(t)
	var regions []string
	f.responder.SendFunc = func(ctx context.Context, req ResponderRequest) ([]byte, error) {
		regions = append(regions, req.Region)
		return []byte(`"ok"`), nil
	}
	alice := f.user(t, "alice@example.com")
	alice.Region = "Astana"

	_, err := f.svc.SendMessage(context.Background(), nil, TurnRequest{Message: "a", Region: "Almaty"})
	require.NoError(t, err)
	_, err = f.svc.SendMessage(context.Background(), alice, TurnRequest{Message: "b", Region: "Almaty"})
	require.NoError(t, err)

	assert.Equal(t, []string{"Almaty", "Astana"}, regions)
}

func TestChatService_Validation(t *testing.T) {
	f := newChatFixture(t)

	_, err := f.svc.SendMessage(context.Background(), nil, TurnRequest{Message: "   "})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = f.svc.SendMessage(context.Background(), nil, TurnRequest{
		Uploads: []Upload{{Name: "x.exe", ContentType: "application/octet-stream", Data: []byte("x")}},
	})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = f.svc.ListConversations(context.Background(), nil)
	assert.Equal(t, apperr.KindUnauthenticated, apperr.KindOf(err))
}

func TestChatService_ConcurrentClaims(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	res, err := f.svc.SendMessage(ctx, nil, TurnRequest{Message: "guest"})
	require.NoError(t, err)

	callers := []*auth.Identity{f.user(t, "a@example.com"), f.user(t, "b@example.com")}
	errs := make([]error, len(callers))
	var wg sync.WaitGroup
	for i, c := range callers {
		wg.Add(1)
		go func(i int, c *auth.Identity) {
			defer wg.Done()
			_, errs[i] = f.svc.ClaimConversation(ctx, c, res.ConversationID)
		}(i, c)
	}
	wg.Wait()

	var wins, conflicts int
	for _, err := range errs {
		if err == nil {
			wins++
		} else if apperr.Is(err, apperr.KindConflict) {
			conflicts++
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, conflicts)

	_, err = f.svc.ClaimConversation(ctx, nil, res.ConversationID)
	assert.Equal(t, apperr.KindUnauthenticated, apperr.KindOf(err))
	_, err = f.svc.ClaimConversation(ctx, callers[0], "missing")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

// A guest conversation adopted by someone else while this caller's turn is
// in flight must not be appended to.
func TestChatService_AdoptionRaceIsConflict(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice@example.com")
	bob := f.user(t, "bob@example.com")

	res, err := f.svc.SendMessage(ctx, nil, TurnRequest{Message: "guest"})
	require.NoError(t, err)
	id := res.ConversationID

	f.responder.SendFunc = func(rctx context.Context, req ResponderRequest) ([]byte, error) {
		assert.NoError(t, f.store.ClaimConversation(rctx, id, alice.UserID))
		return []byte(`"late"`), nil
	}

	_, err = f.svc.SendMessage(ctx, bob, TurnRequest{Message: "mine?", ConversationID: id})
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	conv, err := f.svc.GetConversation(ctx, alice, id)
	require.NoError(t, err)
	assert.True(t, conv.Owner.Is(alice.UserID))
	assert.Len(t, conv.Messages, 2)
}
