package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

const userColumns = "id, email, password_hash, name, region, created_at"

func (s *SQLiteStore) CreateUser(ctx context.Context, u *User) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO users (id, email, password_hash, name, region, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		u.ID, u.Email, u.PasswordHash, u.Name, u.Region, dbTime(u.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (*User, error) {
	return s.getUser(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id)
}

// GetUserByEmail expects email already canonicalized.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.getUser(ctx, "SELECT "+userColumns+" FROM users WHERE email = ?", email)
}

func (s *SQLiteStore) getUser(ctx context.Context, query string, arg any) (*User, error) {
	var u User
	if err := s.db.GetContext(ctx, &u, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &u, nil
}

func (s *SQLiteStore) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE users SET password_hash = ? WHERE id = ?", passwordHash, userID)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	return expectAffected(res)
}

// UpdateRegion sets the region preference; nil clears it.
func (s *SQLiteStore) UpdateRegion(ctx context.Context, userID string, region *string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE users SET region = ? WHERE id = ?", region, userID)
	if err != nil {
		return fmt.Errorf("failed to update region: %w", err)
	}
	return expectAffected(res)
}

// DeleteUser removes the user together with every owned conversation and any
// pending reset codes for the address.
func (s *SQLiteStore) DeleteUser(ctx context.Context, userID string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		var email string
		if err := tx.GetContext(ctx, &email, "SELECT email FROM users WHERE id = ?", userID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to query user: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM conversations WHERE owner_id = ?", userID); err != nil {
			return fmt.Errorf("failed to delete conversations: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM reset_codes WHERE email = ?", email); err != nil {
			return fmt.Errorf("failed to delete reset codes: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM users WHERE id = ?", userID); err != nil {
			return fmt.Errorf("failed to delete user: %w", err)
		}
		return nil
	})
}

func expectAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
