package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/bauki/assistant-backend/internal/apperr"
	"github.com/bauki/assistant-backend/internal/auth"
	"github.com/bauki/assistant-backend/internal/logger"
	"github.com/bauki/assistant-backend/internal/store"
)

const maxFeedbackRunes = 2000

type FeedbackStore interface {
	InsertFeedback(ctx context.Context, f *store.Feedback) error
	ListFeedback(ctx context.Context) ([]store.Feedback, error)
	DeleteFeedback(ctx context.Context, id string) error
}

type FeedbackService struct {
	store FeedbackStore
	admin *auth.AdminGate
	now   func() time.Time
	log   *logger.Logger
}

func NewFeedbackService(st FeedbackStore, admin *auth.AdminGate, log *logger.Logger) *FeedbackService {
	return &FeedbackService{store: st, admin: admin, now: time.Now, log: log.With("service", "FeedbackService")}
}

// Submit stores feedback with the sender's name and email as they are now.
// Only the newest entries are retained.
func (s *FeedbackService) Submit(ctx context.Context, caller *auth.Identity, message string) (*store.Feedback, error) {
	if caller == nil {
		return nil, apperr.Unauthenticated("Authentication required")
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, apperr.Validation("Feedback message is required")
	}
	if utf8.RuneCountInString(message) > maxFeedbackRunes {
		return nil, apperr.Validation(fmt.Sprintf("Feedback must be at most %d characters", maxFeedbackRunes))
	}

	f := &store.Feedback{
		ID:        uuid.NewString(),
		UserID:    caller.UserID,
		UserName:  caller.Name,
		UserEmail: caller.Email,
		Message:   message,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.InsertFeedback(ctx, f); err != nil {
		return nil, apperr.Internal(err)
	}
	s.log.Info("Feedback submitted", "user_id", caller.UserID)
	return f, nil
}

func (s *FeedbackService) List(ctx context.Context, caller *auth.Identity) ([]store.Feedback, error) {
	if _, err := s.admin.RequireAdmin(caller); err != nil {
		return nil, err
	}
	items, err := s.store.ListFeedback(ctx)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return items, nil
}

func (s *FeedbackService) Delete(ctx context.Context, caller *auth.Identity, id string) error {
	if _, err := s.admin.RequireAdmin(caller); err != nil {
		return err
	}
	if err := s.store.DeleteFeedback(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("Feedback not found")
		}
		return apperr.Internal(err)
	}
	return nil
}
