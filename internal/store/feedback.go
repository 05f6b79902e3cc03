package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// FeedbackRetention is the number of newest entries kept.
const FeedbackRetention = 10

func (s *SQLiteStore) InsertFeedback(ctx context.Context, f *Feedback) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO feedback (id, user_id, user_name, user_email, message, created_at) VALUES (?, ?, ?, ?, ?, ?)",
			f.ID, f.UserID, f.UserName, f.UserEmail, f.Message, dbTime(f.CreatedAt))
		if err != nil {
			return fmt.Errorf("failed to insert feedback: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`DELETE FROM feedback WHERE id NOT IN (
				SELECT id FROM feedback ORDER BY created_at DESC, rowid DESC LIMIT ?
			)`, FeedbackRetention)
		if err != nil {
			return fmt.Errorf("failed to trim feedback: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStore) ListFeedback(ctx context.Context) ([]Feedback, error) {
	items := []Feedback{}
	err := s.db.SelectContext(ctx, &items,
		`SELECT id, user_id, user_name, user_email, message, created_at
		FROM feedback ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query feedback: %w", err)
	}
	return items, nil
}

func (s *SQLiteStore) DeleteFeedback(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM feedback WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete feedback: %w", err)
	}
	return expectAffected(res)
}
