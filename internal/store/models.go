package store

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("record already exists")
	// ErrOwned is returned when a conditional ownership update finds the
	// conversation owned by somebody else.
	ErrOwned = errors.New("conversation is owned by another user")
)

type User struct {
	ID           string    `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Name         *string   `db:"name" json:"name"`
	Region       *string   `db:"region" json:"region"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Owner is the optional owning user of a conversation. The zero value is a
// guest owner.
type Owner struct {
	UserID string
	Valid  bool
}

func GuestOwner() Owner {
	return Owner{}
}

func UserOwner(userID string) Owner {
	return Owner{UserID: userID, Valid: userID != ""}
}

func (o Owner) IsGuest() bool {
	return !o.Valid
}

// Is reports whether the conversation is owned by userID.
func (o Owner) Is(userID string) bool {
	return o.Valid && userID != "" && o.UserID == userID
}

func (o Owner) Value() (driver.Value, error) {
	if !o.Valid {
		return nil, nil
	}
	return o.UserID, nil
}

func (o *Owner) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*o = Owner{}
	case string:
		*o = UserOwner(v)
	case []byte:
		*o = UserOwner(string(v))
	default:
		return fmt.Errorf("cannot scan %T into Owner", src)
	}
	return nil
}

func (o Owner) MarshalJSON() ([]byte, error) {
	if !o.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(o.UserID)
}

func (o *Owner) UnmarshalJSON(data []byte) error {
	var id *string
	if err := json.Unmarshal(data, &id); err != nil {
		return err
	}
	if id == nil {
		*o = Owner{}
		return nil
	}
	*o = UserOwner(*id)
	return nil
}

type Conversation struct {
	ID           string    `db:"id" json:"id"`
	Owner        Owner     `db:"owner_id" json:"owner_id"`
	Title        string    `db:"title" json:"title"`
	Messages     []Message `db:"-" json:"messages,omitempty"`
	MessageCount int       `db:"message_count" json:"message_count"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	ID             string      `db:"id" json:"id"`
	ConversationID string      `db:"conversation_id" json:"-"`
	Position       int         `db:"position" json:"-"`
	Role           string      `db:"role" json:"role"`
	Content        string      `db:"content" json:"content"`
	Attachments    Attachments `db:"attachments" json:"attachments,omitempty"`
	Timestamp      time.Time   `db:"timestamp" json:"timestamp"`
}

const (
	KindImage    = "image"
	KindAudio    = "audio"
	KindDocument = "document"
)

type Attachment struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Kind     string `json:"kind"`
	Size     int64  `json:"size"`
	// Preview is a base64 payload kept only for small images.
	Preview string `json:"preview,omitempty"`
}

// Attachments is persisted as a JSON array.
type Attachments []Attachment

func (a Attachments) Value() (driver.Value, error) {
	if len(a) == 0 {
		return nil, nil
	}
	b, err := json.Marshal([]Attachment(a))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (a *Attachments) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*a = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("cannot scan %T into Attachments", src)
	}
	if len(raw) == 0 {
		*a = nil
		return nil
	}
	return json.Unmarshal(raw, (*[]Attachment)(a))
}

type ResetCode struct {
	ID        int64     `db:"id"`
	Email     string    `db:"email"`
	Code      string    `db:"code"`
	ExpiresAt time.Time `db:"expires_at"`
	CreatedAt time.Time `db:"created_at"`
}

type Feedback struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"user_id"`
	UserName  string    `db:"user_name" json:"user_name"`
	UserEmail string    `db:"user_email" json:"user_email"`
	Message   string    `db:"message" json:"message"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
