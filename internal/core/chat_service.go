package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/bauki/assistant-backend/internal/apperr"
	"github.com/bauki/assistant-backend/internal/auth"
	"github.com/bauki/assistant-backend/internal/logger"
	"github.com/bauki/assistant-backend/internal/store"
)

const (
	maxMessageRunes        = 10000
	maxConversationIDLen   = 128
	maxTitleInputRunes     = 100
	conversationListLimit  = 100
	defaultResponderWait   = 60 * time.Second
	defaultUploadResponder = 5 * time.Minute
)

type ConversationStore interface {
	CreateConversation(ctx context.Context, c *store.Conversation, msgs []store.Message) error
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	GetConversationMeta(ctx context.Context, id string) (*store.Conversation, error)
	ListConversationsByOwner(ctx context.Context, userID string, limit int) ([]store.Conversation, error)
	AppendTurn(ctx context.Context, id string, caller store.Owner, msgs []store.Message, now time.Time) error
	ClaimConversation(ctx context.Context, id, userID string) error
	RenameConversation(ctx context.Context, id, userID, title string) error
	DeleteConversation(ctx context.Context, id, userID string) error
}

type TurnRequest struct {
	Message        string
	ConversationID string
	SessionID      string
	Region         string
	Uploads        []Upload
}

type TurnResult struct {
	Response       string `json:"response"`
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	Title          string `json:"title"`
}

type ChatServiceConfig struct {
	ResponderTimeout       time.Duration
	ResponderUploadTimeout time.Duration
	MaxUploadBytes         int64
}

// ChatService owns the conversation lifecycle: creation on the first turn,
// adoption of guest conversations, claims, and owner-only mutations.
type ChatService struct {
	conversations ConversationStore
	responder     Responder
	titles        *TitleService
	attachments   AttachmentPolicy
	textTimeout   time.Duration
	uploadTimeout time.Duration
	now           func() time.Time
	log           *logger.Logger
}

func NewChatService(conversations ConversationStore, responder Responder, titles *TitleService, cfg ChatServiceConfig, log *logger.Logger) *ChatService {
	s := &ChatService{
		conversations: conversations,
		responder:     responder,
		titles:        titles,
		attachments:   AttachmentPolicy{MaxBytes: cfg.MaxUploadBytes},
		textTimeout:   cfg.ResponderTimeout,
		uploadTimeout: cfg.ResponderUploadTimeout,
		now:           time.Now,
		log:           log.With("service", "ChatService"),
	}
	if s.textTimeout <= 0 {
		s.textTimeout = defaultResponderWait
	}
	if s.uploadTimeout <= 0 {
		s.uploadTimeout = defaultUploadResponder
	}
	return s
}

func (s *ChatService) SendMessage(ctx context.Context, caller *auth.Identity, req TurnRequest) (*TurnResult, error) {
	if strings.TrimSpace(req.Message) == "" && len(req.Uploads) == 0 {
		return nil, apperr.Validation("Message or attachment is required")
	}
	if utf8.RuneCountInString(req.Message) > maxMessageRunes {
		return nil, apperr.Validation(fmt.Sprintf("Message exceeds %d characters", maxMessageRunes))
	}
	if len(req.ConversationID) > maxConversationIDLen {
		return nil, apperr.Validation("Invalid conversation id")
	}

	attachments := make([]store.Attachment, 0, len(req.Uploads))
	payloads := make([]ResponderAttachment, 0, len(req.Uploads))
	for _, u := range req.Uploads {
		att, payload, err := s.attachments.Inspect(u)
		if err != nil {
			return nil, err
		}
		attachments = append(attachments, att)
		payloads = append(payloads, payload)
	}

	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = conversationID
	}

	// Ownership is checked before the upstream call so a turn that cannot be
	// stored is never sent. The write itself re-checks atomically.
	existing, err := s.conversations.GetConversationMeta(ctx, conversationID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		existing = nil
	case err != nil:
		return nil, apperr.Internal(err)
	case !canAccess(existing.Owner, caller):
		return nil, apperr.Forbidden("Access denied")
	}

	// The turn outlives the client connection once dispatched.
	callCtx := context.WithoutCancel(ctx)
	timeout := s.textTimeout
	if len(payloads) > 0 {
		timeout = s.uploadTimeout
	}

	var (
		body  []byte
		title string
	)
	g, gctx := errgroup.WithContext(callCtx)
	g.Go(func() error {
		rctx, cancel := context.WithTimeout(gctx, timeout)
		defer cancel()
		b, err := s.responder.Send(rctx, ResponderRequest{
			Message:        req.Message,
			SessionID:      sessionID,
			ConversationID: conversationID,
			Region:         s.region(caller, req.Region),
			Attachments:    payloads,
		})
		if err != nil {
			return upstreamError(err)
		}
		body = b
		return nil
	})
	if existing == nil {
		g.Go(func() error {
			title = s.titles.Derive(gctx, TitleSource(req.Message, attachments))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.log.Warn("Chat turn failed upstream", "conversation_id", conversationID, "error", err)
		return nil, err
	}

	reply := NormalizeReply(body)
	now := s.now().UTC()
	var stored []store.Attachment
	if len(attachments) > 0 {
		stored = attachments
	}
	msgs := []store.Message{
		{ID: uuid.NewString(), Role: store.RoleUser, Content: req.Message, Attachments: stored, Timestamp: now},
		{ID: uuid.NewString(), Role: store.RoleAssistant, Content: reply, Timestamp: now},
	}
	result := &TurnResult{Response: reply, ConversationID: conversationID, MessageID: msgs[1].ID}
	owner := ownerOf(caller)

	if existing == nil {
		conv := &store.Conversation{ID: conversationID, Owner: owner, Title: title, CreatedAt: now, UpdatedAt: now}
		err := s.conversations.CreateConversation(callCtx, conv, msgs)
		if err == nil {
			s.log.Info("Conversation created", "conversation_id", conversationID, "guest", owner.IsGuest())
			result.Title = title
			return result, nil
		}
		if !errors.Is(err, store.ErrDuplicate) {
			return nil, apperr.Internal(err)
		}
		// Another first turn for the same id won the insert.
	}

	if err := s.conversations.AppendTurn(callCtx, conversationID, owner, msgs, now); err != nil {
		switch {
		case errors.Is(err, store.ErrOwned):
			return nil, apperr.Conflict("Conversation is owned by another user")
		case errors.Is(err, store.ErrNotFound):
			return nil, apperr.NotFound("Conversation not found")
		}
		return nil, apperr.Internal(err)
	}

	meta, err := s.conversations.GetConversationMeta(callCtx, conversationID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if existing != nil && existing.Owner.IsGuest() && !owner.IsGuest() {
		s.log.Info("Guest conversation adopted", "conversation_id", conversationID, "user_id", owner.UserID)
	}
	result.Title = meta.Title
	return result, nil
}

// GetConversation returns a conversation readable by caller: guest-owned
// ones are readable by anyone holding the id.
func (s *ChatService) GetConversation(ctx context.Context, caller *auth.Identity, id string) (*store.Conversation, error) {
	conv, err := s.conversations.GetConversation(ctx, id)
	if err != nil {
		return nil, conversationError(err)
	}
	if !canAccess(conv.Owner, caller) {
		return nil, apperr.Forbidden("Access denied")
	}
	return conv, nil
}

func (s *ChatService) ListConversations(ctx context.Context, caller *auth.Identity) ([]store.Conversation, error) {
	if caller == nil {
		return nil, apperr.Unauthenticated("Authentication required")
	}
	convs, err := s.conversations.ListConversationsByOwner(ctx, caller.UserID, conversationListLimit)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return convs, nil
}

func (s *ChatService) DeleteConversation(ctx context.Context, caller *auth.Identity, id string) error {
	if caller == nil {
		return apperr.Unauthenticated("Authentication required")
	}
	if err := s.conversations.DeleteConversation(ctx, id, caller.UserID); err != nil {
		return conversationError(err)
	}
	s.log.Info("Conversation deleted", "conversation_id", id, "user_id", caller.UserID)
	return nil
}

func (s *ChatService) RenameConversation(ctx context.Context, caller *auth.Identity, id, title string) (*store.Conversation, error) {
	if caller == nil {
		return nil, apperr.Unauthenticated("Authentication required")
	}
	title = strings.TrimSpace(title)
	if n := utf8.RuneCountInString(title); n == 0 || n > maxTitleInputRunes {
		return nil, apperr.Validation(fmt.Sprintf("Title must be between 1 and %d characters", maxTitleInputRunes))
	}
	if err := s.conversations.RenameConversation(ctx, id, caller.UserID, title); err != nil {
		return nil, conversationError(err)
	}
	conv, err := s.conversations.GetConversationMeta(ctx, id)
	if err != nil {
		return nil, conversationError(err)
	}
	return conv, nil
}

// ClaimConversation makes caller the owner of a guest conversation. Any
// existing owner, caller included, is a conflict.
func (s *ChatService) ClaimConversation(ctx context.Context, caller *auth.Identity, id string) (*store.Conversation, error) {
	if caller == nil {
		return nil, apperr.Unauthenticated("Authentication required")
	}
	if err := s.conversations.ClaimConversation(ctx, id, caller.UserID); err != nil {
		if errors.Is(err, store.ErrOwned) {
			return nil, apperr.Conflict("Conversation already has an owner")
		}
		return nil, conversationError(err)
	}
	s.log.Info("Conversation claimed", "conversation_id", id, "user_id", caller.UserID)
	conv, err := s.conversations.GetConversationMeta(ctx, id)
	if err != nil {
		return nil, conversationError(err)
	}
	return conv, nil
}

func (s *ChatService) region(caller *auth.Identity, requested string) string {
	if caller != nil && caller.Region != "" {
		return caller.Region
	}
	return strings.TrimSpace(requested)
}

// canAccess reports whether caller may read or extend a conversation with
// the given owner.
func canAccess(owner store.Owner, caller *auth.Identity) bool {
	if owner.IsGuest() {
		return true
	}
	return caller != nil && owner.Is(caller.UserID)
}

func ownerOf(caller *auth.Identity) store.Owner {
	if caller == nil {
		return store.GuestOwner()
	}
	return store.UserOwner(caller.UserID)
}

func conversationError(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return apperr.NotFound("Conversation not found")
	case errors.Is(err, store.ErrOwned):
		return apperr.Forbidden("Access denied")
	}
	return apperr.Internal(err)
}

// upstreamError keeps classified responder errors and classifies the rest
// as an unavailable upstream.
func upstreamError(err error) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return ae
	}
	e := apperr.Wrap(apperr.KindUpstreamUnavailable, "Failed to reach responder", err)
	if isTimeout(err) {
		e.Message = "Responder timeout"
		e.Timeout = true
	}
	return e
}
