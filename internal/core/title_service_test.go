package core

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bauki/assistant-backend/internal/logger"
	"github.com/bauki/assistant-backend/internal/store"
)

type fakeTitleGenerator struct {
	ShortTitleFunc func(ctx context.Context, text string) (string, error)
}

func (f *fakeTitleGenerator) ShortTitle(ctx context.Context, text string) (string, error) {
	return f.ShortTitleFunc(ctx, text)
}

func TestCleanTitle(t *testing.T) {
	assert.Equal(t, "Weather in Almaty", CleanTitle("  \"Weather in Almaty.\"\n"))
	assert.Equal(t, "Tax questions", CleanTitle("'Tax   questions'"))

	long := strings.Repeat("a", 60)
	got := CleanTitle(long)
	assert.Equal(t, strings.Repeat("a", 47)+"...", got)
}

func TestFallbackTitle(t *testing.T) {
	assert.Equal(t, "short", FallbackTitle("short"))
	assert.Equal(t, strings.Repeat("ж", 30)+"...", FallbackTitle(strings.Repeat("ж", 31)))
	assert.Equal(t, strings.Repeat("x", 30), FallbackTitle(strings.Repeat("x", 30)))
}

func TestTitleSource(t *testing.T) {
	pdf := store.Attachment{Name: "scan.pdf"}
	assert.Equal(t, "hello", TitleSource("  hello ", []store.Attachment{pdf}))
	assert.Equal(t, "scan.pdf", TitleSource("", []store.Attachment{pdf}))
	assert.Equal(t, "2 attachments", TitleSource(" ", []store.Attachment{pdf, pdf}))
}

func TestTitleService_Derive(t *testing.T) {
	ok := &fakeTitleGenerator{ShortTitleFunc: func(ctx context.Context, text string) (string, error) {
		return "\"Scanned document.\"", nil
	}}
	failing := &fakeTitleGenerator{ShortTitleFunc: func(ctx context.Context, text string) (string, error) {
		return "", errors.New("quota exceeded")
	}}
	blank := &fakeTitleGenerator{ShortTitleFunc: func(ctx context.Context, text string) (string, error) {
		return "  ", nil
	}}

	log := logger.NewNop()
	assert.Equal(t, "Scanned document", NewTitleService(ok, nil, log).Derive(context.Background(), "scan.pdf"))
	assert.Equal(t, "scan.pdf", NewTitleService(failing, nil, log).Derive(context.Background(), "scan.pdf"))
	assert.Equal(t, "scan.pdf", NewTitleService(blank, nil, log).Derive(context.Background(), "scan.pdf"))
	assert.Equal(t, "scan.pdf", NewTitleService(nil, nil, log).Derive(context.Background(), "scan.pdf"))
}
