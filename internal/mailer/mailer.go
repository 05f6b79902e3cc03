// Package mailer delivers password reset codes.
package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bauki/assistant-backend/internal/logger"
)

const defaultSendGridURL = "https://api.sendgrid.com"

type Mailer interface {
	SendResetCode(ctx context.Context, email, code string, validFor time.Duration) error
}

type SendGridConfig struct {
	APIKey    string
	BaseURL   string
	FromEmail string
	FromName  string
	Timeout   time.Duration
}

// SendGridMailer sends mail through the SendGrid v3 mail/send endpoint.
type SendGridMailer struct {
	cfg        SendGridConfig
	httpClient *http.Client
	log        *logger.Logger
}

func NewSendGridMailer(cfg SendGridConfig, log *logger.Logger) (*SendGridMailer, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("missing SENDGRID_API_KEY")
	}
	if strings.TrimSpace(cfg.FromEmail) == "" {
		return nil, fmt.Errorf("missing SENDGRID_FROM_EMAIL")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultSendGridURL
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &SendGridMailer{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log.With("client", "SendGridMailer"),
	}, nil
}

type emailAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type personalization struct {
	To []emailAddress `json:"to"`
}

type mailContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type mailSendRequest struct {
	Personalizations []personalization `json:"personalizations"`
	From             emailAddress      `json:"from"`
	Subject          string            `json:"subject"`
	Content          []mailContent     `json:"content"`
}

func (m *SendGridMailer) SendResetCode(ctx context.Context, email, code string, validFor time.Duration) error {
	wire := mailSendRequest{
		Personalizations: []personalization{{To: []emailAddress{{Email: email}}}},
		From:             emailAddress{Email: m.cfg.FromEmail, Name: m.cfg.FromName},
		Subject:          "Your password reset code",
		Content: []mailContent{{
			Type:  "text/plain",
			Value: resetText(code, validFor),
		}},
	}
	payload, err := json.Marshal(wire)
	if err != nil {
		return fmt.Errorf("sendgrid: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.BaseURL+"/v3/mail/send", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("sendgrid: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+m.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sendgrid: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("sendgrid: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	m.log.Info("Reset code sent", "email", email, "status_code", resp.StatusCode,
		"message_id", resp.Header.Get("X-Message-Id"))
	return nil
}

// LogMailer writes reset codes to the log instead of sending them. It is
// used when no mail provider is configured.
type LogMailer struct {
	log *logger.Logger
}

func NewLogMailer(log *logger.Logger) *LogMailer {
	return &LogMailer{log: log.With("client", "LogMailer")}
}

func (m *LogMailer) SendResetCode(ctx context.Context, email, code string, validFor time.Duration) error {
	m.log.Warn("Mail delivery disabled, reset code logged", "email", email, "code", code, "valid_for", validFor)
	return nil
}

func resetText(code string, validFor time.Duration) string {
	return fmt.Sprintf("Your password reset code is %s.\n\nThe code is valid for %d minutes. "+
		"If you did not request a reset, ignore this email.", code, int(validFor.Minutes()))
}
