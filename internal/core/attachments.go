package core

import (
	"encoding/base64"
	"fmt"
	"mime"
	"strings"

	"github.com/bauki/assistant-backend/internal/apperr"
	"github.com/bauki/assistant-backend/internal/store"
)

const (
	DefaultMaxUploadBytes = 25 << 20
	maxPreviewBytes       = 512 << 10
)

var attachmentKinds = map[string]string{
	"image/jpeg": store.KindImage,
	"image/png":  store.KindImage,
	"image/gif":  store.KindImage,
	"image/webp": store.KindImage,

	"application/pdf": store.KindDocument,
	"text/plain":      store.KindDocument,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": store.KindDocument,

	"audio/mpeg":  store.KindAudio,
	"audio/wav":   store.KindAudio,
	"audio/x-wav": store.KindAudio,
	"audio/webm":  store.KindAudio,
	"audio/ogg":   store.KindAudio,
	"audio/mp4":   store.KindAudio,
}

// Upload is an attachment as received from the client.
type Upload struct {
	Name        string
	ContentType string
	Data        []byte
}

// AttachmentPolicy validates uploads and builds their stored descriptors.
type AttachmentPolicy struct {
	MaxBytes int64
}

// Inspect checks the upload against the allowed types and size limit and
// returns the stored descriptor along with the payload for the responder.
func (p AttachmentPolicy) Inspect(u Upload) (store.Attachment, ResponderAttachment, error) {
	maxBytes := p.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}

	mimeType := canonicalMimeType(u.ContentType)
	kind, ok := attachmentKinds[mimeType]
	if !ok {
		return store.Attachment{}, ResponderAttachment{}, apperr.Validation(fmt.Sprintf("File type not allowed: %s", u.ContentType))
	}
	size := int64(len(u.Data))
	if size == 0 {
		return store.Attachment{}, ResponderAttachment{}, apperr.Validation("File is empty")
	}
	if size > maxBytes {
		return store.Attachment{}, ResponderAttachment{}, apperr.Validation(
			fmt.Sprintf("File too large. Maximum size: %dMB", maxBytes>>20))
	}

	name := strings.TrimSpace(u.Name)
	if name == "" {
		name = "attachment"
	}
	att := store.Attachment{Name: name, MimeType: mimeType, Kind: kind, Size: size}
	if kind == store.KindImage && size <= maxPreviewBytes {
		att.Preview = base64.StdEncoding.EncodeToString(u.Data)
	}
	return att, ResponderAttachment{Name: name, MimeType: mimeType, Kind: kind, Size: size, Data: u.Data}, nil
}

func canonicalMimeType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mt
}
