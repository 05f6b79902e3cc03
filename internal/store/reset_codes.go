package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

func (s *SQLiteStore) CreateResetCode(ctx context.Context, rc *ResetCode) error {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO reset_codes (email, code, expires_at, created_at) VALUES (?, ?, ?, ?)",
		rc.Email, rc.Code, dbTime(rc.ExpiresAt), dbTime(rc.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert reset code: %w", err)
	}
	if rc.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("failed to read reset code id: %w", err)
	}
	return nil
}

// FindResetCode returns the newest record matching the exact pair.
func (s *SQLiteStore) FindResetCode(ctx context.Context, email, code string) (*ResetCode, error) {
	var rc ResetCode
	err := s.db.GetContext(ctx, &rc,
		`SELECT id, email, code, expires_at, created_at FROM reset_codes
		WHERE email = ? AND code = ? ORDER BY id DESC LIMIT 1`, email, code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query reset code: %w", err)
	}
	return &rc, nil
}

func (s *SQLiteStore) DeleteResetCode(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM reset_codes WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete reset code: %w", err)
	}
	return nil
}

// ConsumeResetCode deletes the code and stores the new password hash for the
// code's email in one transaction. ErrNotFound is returned when the code was
// already consumed or no user has that email; nothing is changed then.
func (s *SQLiteStore) ConsumeResetCode(ctx context.Context, rc *ResetCode, passwordHash string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM reset_codes WHERE id = ?", rc.ID)
		if err != nil {
			return fmt.Errorf("failed to delete reset code: %w", err)
		}
		if err := expectAffected(res); err != nil {
			return err
		}
		res, err = tx.ExecContext(ctx, "UPDATE users SET password_hash = ? WHERE email = ?", passwordHash, rc.Email)
		if err != nil {
			return fmt.Errorf("failed to update password: %w", err)
		}
		return expectAffected(res)
	})
}
