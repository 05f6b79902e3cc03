package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

const conversationColumns = `c.id, c.owner_id, c.title, c.created_at, c.updated_at,
	(SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id) AS message_count`

// CreateConversation inserts a new conversation with its first messages.
// ErrDuplicate means another request created the same id first.
func (s *SQLiteStore) CreateConversation(ctx context.Context, c *Conversation, msgs []Message) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO conversations (id, owner_id, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
			c.ID, c.Owner, c.Title, dbTime(c.CreatedAt), dbTime(c.UpdatedAt))
		if err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicate
			}
			return fmt.Errorf("failed to insert conversation: %w", err)
		}
		return insertMessages(ctx, tx, c.ID, 0, msgs)
	})
}

// GetConversation returns the conversation with its messages in order.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	c, err := s.GetConversationMeta(ctx, id)
	if err != nil {
		return nil, err
	}
	msgs := []Message{}
	err = s.db.SelectContext(ctx, &msgs,
		`SELECT id, conversation_id, position, role, content, attachments, timestamp
		FROM messages WHERE conversation_id = ? ORDER BY position ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	c.Messages = msgs
	return c, nil
}

// GetConversationMeta returns the conversation without loading messages.
func (s *SQLiteStore) GetConversationMeta(ctx context.Context, id string) (*Conversation, error) {
	var c Conversation
	err := s.db.GetContext(ctx, &c, "SELECT "+conversationColumns+" FROM conversations c WHERE c.id = ?", id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query conversation: %w", err)
	}
	return &c, nil
}

func (s *SQLiteStore) ListConversationsByOwner(ctx context.Context, userID string, limit int) ([]Conversation, error) {
	convs := []Conversation{}
	err := s.db.SelectContext(ctx, &convs,
		"SELECT "+conversationColumns+` FROM conversations c
		WHERE c.owner_id = ? ORDER BY c.updated_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	return convs, nil
}

// AppendTurn adopts a guest conversation for caller when needed and appends
// msgs after the existing ones. The owner check and the adoption are one
// conditional update: ErrOwned is returned when the conversation belongs to
// someone other than caller at the time of the write.
func (s *SQLiteStore) AppendTurn(ctx context.Context, id string, caller Owner, msgs []Message, now time.Time) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		var (
			res sql.Result
			err error
		)
		if caller.IsGuest() {
			res, err = tx.ExecContext(ctx,
				"UPDATE conversations SET updated_at = ? WHERE id = ? AND owner_id IS NULL",
				dbTime(now), id)
		} else {
			res, err = tx.ExecContext(ctx,
				`UPDATE conversations SET owner_id = COALESCE(owner_id, ?), updated_at = ?
				WHERE id = ? AND (owner_id IS NULL OR owner_id = ?)`,
				caller.UserID, dbTime(now), id, caller.UserID)
		}
		if err != nil {
			return fmt.Errorf("failed to update conversation: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read affected rows: %w", err)
		}
		if n == 0 {
			return missingOrOwned(ctx, tx, id)
		}

		var next int
		err = tx.GetContext(ctx, &next,
			"SELECT COALESCE(MAX(position) + 1, 0) FROM messages WHERE conversation_id = ?", id)
		if err != nil {
			return fmt.Errorf("failed to read message position: %w", err)
		}
		return insertMessages(ctx, tx, id, next, msgs)
	})
}

// ClaimConversation sets the owner of a guest conversation. It returns
// ErrOwned if any owner is already set, including userID itself.
func (s *SQLiteStore) ClaimConversation(ctx context.Context, id, userID string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE conversations SET owner_id = ? WHERE id = ? AND owner_id IS NULL", userID, id)
		if err != nil {
			return fmt.Errorf("failed to claim conversation: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read affected rows: %w", err)
		}
		if n == 0 {
			return missingOrOwned(ctx, tx, id)
		}
		return nil
	})
}

// RenameConversation updates the title only when userID owns the conversation.
func (s *SQLiteStore) RenameConversation(ctx context.Context, id, userID, title string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE conversations SET title = ? WHERE id = ? AND owner_id = ?", title, id, userID)
		if err != nil {
			return fmt.Errorf("failed to rename conversation: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read affected rows: %w", err)
		}
		if n == 0 {
			return missingOrOwned(ctx, tx, id)
		}
		return nil
	})
}

// DeleteConversation removes the conversation only when userID owns it.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, id, userID string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM conversations WHERE id = ? AND owner_id = ?", id, userID)
		if err != nil {
			return fmt.Errorf("failed to delete conversation: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read affected rows: %w", err)
		}
		if n == 0 {
			return missingOrOwned(ctx, tx, id)
		}
		return nil
	})
}

func missingOrOwned(ctx context.Context, tx *sqlx.Tx, id string) error {
	var exists bool
	err := tx.GetContext(ctx, &exists, "SELECT EXISTS (SELECT 1 FROM conversations WHERE id = ?)", id)
	if err != nil {
		return fmt.Errorf("failed to query conversation: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrOwned
}

func insertMessages(ctx context.Context, tx *sqlx.Tx, conversationID string, start int, msgs []Message) error {
	for i := range msgs {
		m := &msgs[i]
		m.ConversationID = conversationID
		m.Position = start + i
		_, err := tx.ExecContext(ctx,
			`INSERT INTO messages (id, conversation_id, position, role, content, attachments, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			m.ID, m.ConversationID, m.Position, m.Role, m.Content, m.Attachments, dbTime(m.Timestamp))
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
	}
	return nil
}
