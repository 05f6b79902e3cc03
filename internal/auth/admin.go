package auth

import (
	"strings"

	"github.com/bauki/assistant-backend/internal/apperr"
)

// Identity is an authenticated caller.
type Identity struct {
	UserID string
	Email  string
	Name   string
	Region string
}

// AdminGate grants admin capability to a fixed set of email addresses.
type AdminGate struct {
	emails map[string]struct{}
}

func NewAdminGate(emails []string) *AdminGate {
	g := &AdminGate{emails: make(map[string]struct{}, len(emails))}
	for _, e := range emails {
		if e = strings.ToLower(strings.TrimSpace(e)); e != "" {
			g.emails[e] = struct{}{}
		}
	}
	return g
}

func (g *AdminGate) IsAdmin(id *Identity) bool {
	if id == nil {
		return false
	}
	_, ok := g.emails[strings.ToLower(strings.TrimSpace(id.Email))]
	return ok
}

func (g *AdminGate) RequireAdmin(id *Identity) (*Identity, error) {
	if id == nil {
		return nil, apperr.Unauthenticated("Authentication required")
	}
	if !g.IsAdmin(id) {
		return nil, apperr.Forbidden("Admin access required")
	}
	return id, nil
}
