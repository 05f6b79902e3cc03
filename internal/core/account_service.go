package core

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/bauki/assistant-backend/internal/apperr"
	"github.com/bauki/assistant-backend/internal/auth"
	"github.com/bauki/assistant-backend/internal/logger"
	"github.com/bauki/assistant-backend/internal/store"
)

const (
	MinPasswordLen  = 6
	maxRegionRunes  = 64
	maxNameRunes    = 100
	bearerTokenType = "bearer"
)

type UserStore interface {
	CreateUser(ctx context.Context, u *store.User) error
	GetUserByID(ctx context.Context, id string) (*store.User, error)
	GetUserByEmail(ctx context.Context, email string) (*store.User, error)
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
	UpdateRegion(ctx context.Context, userID string, region *string) error
	DeleteUser(ctx context.Context, userID string) error
}

type RegisterInput struct {
	Email    string
	Password string
	Name     string
}

type AuthResult struct {
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	User        *store.User `json:"user"`
}

type AccountService struct {
	users  UserStore
	tokens *auth.TokenService
	now    func() time.Time
	log    *logger.Logger
}

func NewAccountService(users UserStore, tokens *auth.TokenService, log *logger.Logger) *AccountService {
	return &AccountService{
		users:  users,
		tokens: tokens,
		now:    time.Now,
		log:    log.With("service", "AccountService"),
	}
}

func (s *AccountService) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	email, err := CanonicalEmail(in.Email)
	if err != nil {
		return nil, err
	}
	if err := ValidatePassword(in.Password); err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("failed to hash password: %w", err))
	}

	u := &store.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    s.now().UTC(),
	}
	if name := strings.TrimSpace(in.Name); name != "" {
		if utf8.RuneCountInString(name) > maxNameRunes {
			return nil, apperr.Validation(fmt.Sprintf("Name must be at most %d characters", maxNameRunes))
		}
		u.Name = &name
	}

	if err := s.users.CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, apperr.Conflict("Email already registered")
		}
		return nil, apperr.Internal(err)
	}
	s.log.Info("User registered", "user_id", u.ID)
	return s.issue(u)
}

func (s *AccountService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	canonical := strings.ToLower(strings.TrimSpace(email))
	u, err := s.users.GetUserByEmail(ctx, canonical)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, apperr.Internal(err)
	}
	if u == nil || !auth.CheckPasswordHash(password, u.PasswordHash) {
		return nil, apperr.Unauthenticated("Invalid email or password")
	}
	return s.issue(u)
}

// Identify resolves a bearer token to the caller. An invalid token or a user
// deleted after issuance yields a nil identity, not an error.
func (s *AccountService) Identify(ctx context.Context, token string) (*auth.Identity, error) {
	userID, ok := s.tokens.Resolve(token)
	if !ok {
		return nil, nil
	}
	u, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, apperr.Internal(err)
	}
	return IdentityOf(u), nil
}

func (s *AccountService) CurrentUser(ctx context.Context, caller *auth.Identity) (*store.User, error) {
	if caller == nil {
		return nil, apperr.Unauthenticated("Authentication required")
	}
	u, err := s.users.GetUserByID(ctx, caller.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.Unauthenticated("Authentication required")
		}
		return nil, apperr.Internal(err)
	}
	return u, nil
}

// ChangePassword does not revoke tokens issued before the change.
func (s *AccountService) ChangePassword(ctx context.Context, caller *auth.Identity, current, next string) error {
	u, err := s.CurrentUser(ctx, caller)
	if err != nil {
		return err
	}
	if !auth.CheckPasswordHash(current, u.PasswordHash) {
		return apperr.Validation("Current password is incorrect")
	}
	if err := ValidatePassword(next); err != nil {
		return err
	}
	hash, err := auth.HashPassword(next)
	if err != nil {
		return apperr.Internal(fmt.Errorf("failed to hash password: %w", err))
	}
	if err := s.users.UpdatePassword(ctx, u.ID, hash); err != nil {
		return apperr.Internal(err)
	}
	s.log.Info("Password changed", "user_id", u.ID)
	return nil
}

// UpdateRegion stores the region preference. An empty region clears it.
func (s *AccountService) UpdateRegion(ctx context.Context, caller *auth.Identity, region string) (*store.User, error) {
	if caller == nil {
		return nil, apperr.Unauthenticated("Authentication required")
	}
	region = strings.TrimSpace(region)
	if utf8.RuneCountInString(region) > maxRegionRunes {
		return nil, apperr.Validation(fmt.Sprintf("Region must be at most %d characters", maxRegionRunes))
	}
	var value *string
	if region != "" {
		value = &region
	}
	if err := s.users.UpdateRegion(ctx, caller.UserID, value); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.Unauthenticated("Authentication required")
		}
		return nil, apperr.Internal(err)
	}
	return s.CurrentUser(ctx, caller)
}

func (s *AccountService) DeleteAccount(ctx context.Context, caller *auth.Identity) error {
	if caller == nil {
		return apperr.Unauthenticated("Authentication required")
	}
	if err := s.users.DeleteUser(ctx, caller.UserID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("User not found")
		}
		return apperr.Internal(err)
	}
	s.log.Info("Account deleted", "user_id", caller.UserID)
	return nil
}

func (s *AccountService) issue(u *store.User) (*AuthResult, error) {
	token, err := s.tokens.Issue(u.ID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return &AuthResult{AccessToken: token, TokenType: bearerTokenType, User: u}, nil
}

func IdentityOf(u *store.User) *auth.Identity {
	id := &auth.Identity{UserID: u.ID, Email: u.Email}
	if u.Name != nil {
		id.Name = *u.Name
	}
	if u.Region != nil {
		id.Region = *u.Region
	}
	return id
}

// CanonicalEmail lowercases and trims an address and rejects malformed ones.
func CanonicalEmail(email string) (string, error) {
	e := strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(e)
	if err != nil || addr.Address != e {
		return "", apperr.Validation("Invalid email address")
	}
	return e, nil
}

func ValidatePassword(password string) error {
	if len(password) < MinPasswordLen {
		return apperr.Validation(fmt.Sprintf("Password must be at least %d characters", MinPasswordLen))
	}
	if len(password) > auth.MaxPasswordBytes {
		return apperr.Validation(fmt.Sprintf("Password must be at most %d bytes", auth.MaxPasswordBytes))
	}
	return nil
}
