package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/bauki/assistant-backend/internal/logger"
	"github.com/bauki/assistant-backend/internal/metrics"
	"github.com/bauki/assistant-backend/internal/store"
)

const (
	defaultTitleModelName = "gemini-1.5-flash-latest"

	titleSystemInstruction = "You are an assistant that writes short chat titles. " +
		"Reply ONLY with a short title of 2-5 words describing the topic of the message. No quotes, no explanations."

	maxTitleRunes      = 50
	fallbackTitleRunes = 30
	titlePromptRunes   = 200
	titleTimeout       = 15 * time.Second
)

var errEmptyTitle = errors.New("title generator returned an empty title")

// TitleGenerator produces a short title for a conversation opener.
type TitleGenerator interface {
	ShortTitle(ctx context.Context, text string) (string, error)
}

type GeminiTitleGenerator struct {
	client    *genai.Client
	modelName string
}

func NewGeminiTitleGenerator(ctx context.Context, apiKey, modelName string) (*GeminiTitleGenerator, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	if modelName == "" {
		modelName = defaultTitleModelName
	}
	return &GeminiTitleGenerator{client: client, modelName: modelName}, nil
}

func (g *GeminiTitleGenerator) Close() error {
	return g.client.Close()
}

func (g *GeminiTitleGenerator) ShortTitle(ctx context.Context, text string) (string, error) {
	model := g.client.GenerativeModel(g.modelName)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(titleSystemInstruction)},
	}

	temp := float32(0.3)
	maxTokens := int32(20)
	model.GenerationConfig = genai.GenerationConfig{
		MaxOutputTokens: &maxTokens,
		Temperature:     &temp,
	}

	prompt := fmt.Sprintf("Write a short title for this message: %s", truncate(text, titlePromptRunes))
	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini title generation request failed: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errEmptyTitle
	}

	var title strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			title.WriteString(string(txt))
		}
	}
	return title.String(), nil
}

// TitleService derives first-turn titles and never fails: any generator
// error degrades to FallbackTitle.
type TitleService struct {
	generator TitleGenerator
	metrics   *metrics.Metrics
	log       *logger.Logger
}

// NewTitleService accepts a nil generator, in which case every title is the
// fallback.
func NewTitleService(gen TitleGenerator, m *metrics.Metrics, log *logger.Logger) *TitleService {
	return &TitleService{generator: gen, metrics: m, log: log.With("service", "TitleService")}
}

func (s *TitleService) Derive(ctx context.Context, source string) string {
	if s.generator == nil {
		s.metrics.TitleFallback()
		return FallbackTitle(source)
	}

	ctx, cancel := context.WithTimeout(ctx, titleTimeout)
	defer cancel()

	raw, err := s.generator.ShortTitle(ctx, source)
	if err == nil {
		if title := CleanTitle(raw); title != "" {
			return title
		}
		err = errEmptyTitle
	}
	s.log.Warn("Title generation failed, using fallback", "error", err)
	s.metrics.TitleFallback()
	return FallbackTitle(source)
}

// CleanTitle trims whitespace, surrounding quotes, and a trailing period,
// then caps the result at 50 runes.
func CleanTitle(raw string) string {
	t := strings.TrimSpace(raw)
	t = strings.Trim(t, "\"'`")
	t = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(t), "."))
	t = strings.Join(strings.Fields(t), " ")
	if utf8.RuneCountInString(t) > maxTitleRunes {
		t = string([]rune(t)[:maxTitleRunes-3]) + "..."
	}
	return t
}

// FallbackTitle is the first 30 runes of source, with "..." appended when
// anything was cut.
func FallbackTitle(source string) string {
	r := []rune(strings.TrimSpace(source))
	if len(r) > fallbackTitleRunes {
		return string(r[:fallbackTitleRunes]) + "..."
	}
	return string(r)
}

// TitleSource is the text a title is derived from: the message itself, or a
// description of the attachments when the message is empty.
func TitleSource(message string, attachments []store.Attachment) string {
	if m := strings.TrimSpace(message); m != "" {
		return m
	}
	switch len(attachments) {
	case 0:
		return ""
	case 1:
		return attachments[0].Name
	default:
		return fmt.Sprintf("%d attachments", len(attachments))
	}
}
