package core

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/bauki/assistant-backend/internal/apperr"
	"github.com/bauki/assistant-backend/internal/auth"
	"github.com/bauki/assistant-backend/internal/logger"
	"github.com/bauki/assistant-backend/internal/store"
)

const (
	ResetCodeTTL    = 15 * time.Minute
	resetCodeDigits = 6
)

// ResetAck is returned for every reset request so callers cannot tell
// whether the address has an account.
const ResetAck = "If an account with this email exists, a reset code has been sent."

type ResetCodeStore interface {
	GetUserByEmail(ctx context.Context, email string) (*store.User, error)
	CreateResetCode(ctx context.Context, rc *store.ResetCode) error
	FindResetCode(ctx context.Context, email, code string) (*store.ResetCode, error)
	DeleteResetCode(ctx context.Context, id int64) error
	ConsumeResetCode(ctx context.Context, rc *store.ResetCode, passwordHash string) error
}

type ResetMailer interface {
	SendResetCode(ctx context.Context, email, code string, validFor time.Duration) error
}

type ResetService struct {
	store  ResetCodeStore
	mailer ResetMailer
	now    func() time.Time
	log    *logger.Logger
}

func NewResetService(st ResetCodeStore, mailer ResetMailer, log *logger.Logger) *ResetService {
	return &ResetService{
		store:  st,
		mailer: mailer,
		now:    time.Now,
		log:    log.With("service", "ResetService"),
	}
}

// WithClock replaces the time source.
func (s *ResetService) WithClock(now func() time.Time) *ResetService {
	s.now = now
	return s
}

// Request issues a code when an account exists for email. The result is the
// same either way.
func (s *ResetService) Request(ctx context.Context, email string) (string, error) {
	canonical, err := CanonicalEmail(email)
	if err != nil {
		return "", err
	}

	if _, err := s.store.GetUserByEmail(ctx, canonical); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.log.Debug("Reset requested for unknown email")
			return ResetAck, nil
		}
		return "", apperr.Internal(err)
	}

	code, err := generateResetCode()
	if err != nil {
		return "", apperr.Internal(err)
	}
	now := s.now().UTC()
	rc := &store.ResetCode{Email: canonical, Code: code, ExpiresAt: now.Add(ResetCodeTTL), CreatedAt: now}
	if err := s.store.CreateResetCode(ctx, rc); err != nil {
		return "", apperr.Internal(err)
	}

	if err := s.mailer.SendResetCode(ctx, canonical, code, ResetCodeTTL); err != nil {
		s.log.Error("Failed to deliver reset code", "email", canonical, "error", err)
	}
	return ResetAck, nil
}

// Redeem sets a new password using a previously issued code. The code is
// consumed on success and deleted when found expired.
func (s *ResetService) Redeem(ctx context.Context, email, code, newPassword string) error {
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}
	canonical, err := CanonicalEmail(email)
	if err != nil {
		return apperr.NotFound("Invalid reset code")
	}

	rc, err := s.store.FindResetCode(ctx, canonical, code)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("Invalid reset code")
		}
		return apperr.Internal(err)
	}

	if s.now().After(rc.ExpiresAt) {
		if err := s.store.DeleteResetCode(ctx, rc.ID); err != nil {
			s.log.Warn("Failed to delete expired reset code", "error", err)
		}
		return apperr.Expired("Reset code has expired")
	}

	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return apperr.Internal(fmt.Errorf("failed to hash password: %w", err))
	}
	if err := s.store.ConsumeResetCode(ctx, rc, hash); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("Invalid reset code")
		}
		return apperr.Internal(err)
	}
	s.log.Info("Password reset completed")
	return nil
}

func generateResetCode() (string, error) {
	limit := big.NewInt(1_000_000)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("failed to generate reset code: %w", err)
	}
	return fmt.Sprintf("%0*d", resetCodeDigits, n.Int64()), nil
}
