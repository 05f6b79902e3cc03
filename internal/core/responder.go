package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/bauki/assistant-backend/internal/apperr"
	"github.com/bauki/assistant-backend/internal/logger"
	"github.com/bauki/assistant-backend/internal/metrics"
)

// maxReplyBytes caps how much of a responder body is read.
const maxReplyBytes = 4 << 20

type ResponderAttachment struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Kind     string `json:"kind"`
	Size     int64  `json:"size"`
	Data     []byte `json:"data"`
}

type ResponderRequest struct {
	Message        string                `json:"message"`
	SessionID      string                `json:"sessionId"`
	ConversationID string                `json:"conversationId"`
	Region         string                `json:"region,omitempty"`
	Attachments    []ResponderAttachment `json:"attachments,omitempty"`
}

// Responder sends one chat turn to the external reply service and returns
// the raw reply body. The deadline of ctx bounds the call.
type Responder interface {
	Send(ctx context.Context, req ResponderRequest) ([]byte, error)
}

type WebhookResponder struct {
	url     string
	client  *http.Client
	metrics *metrics.Metrics
	log     *logger.Logger
}

func NewWebhookResponder(url string, client *http.Client, m *metrics.Metrics, log *logger.Logger) *WebhookResponder {
	if client == nil {
		client = &http.Client{}
	}
	return &WebhookResponder{
		url:     url,
		client:  client,
		metrics: m,
		log:     log.With("service", "WebhookResponder"),
	}
}

func (r *WebhookResponder) Send(ctx context.Context, req ResponderRequest) ([]byte, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("failed to encode responder payload: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(payload))
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("failed to build responder request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, r.transportError(err, time.Since(start))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return nil, r.transportError(err, time.Since(start))
	}

	r.log.Info("Responder replied", "status_code", resp.StatusCode, "conversation_id", req.ConversationID,
		"attachments", len(req.Attachments), "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		r.metrics.ObserveResponder("http_error", time.Since(start))
		r.log.Error("Responder returned error status", "status_code", resp.StatusCode, "body", truncate(string(body), 500))
		return nil, apperr.Wrap(apperr.KindUpstreamError,
			fmt.Sprintf("Responder returned error: %d", resp.StatusCode),
			fmt.Errorf("responder status %d", resp.StatusCode))
	}

	r.metrics.ObserveResponder("ok", time.Since(start))
	return body, nil
}

func (r *WebhookResponder) transportError(err error, d time.Duration) error {
	if isTimeout(err) {
		r.metrics.ObserveResponder("timeout", d)
		r.log.Error("Responder timed out", "duration", d)
		e := apperr.Wrap(apperr.KindUpstreamUnavailable, "Responder timeout", err)
		e.Timeout = true
		return e
	}
	r.metrics.ObserveResponder("transport_error", d)
	r.log.Error("Responder request failed", "error", err)
	return apperr.Wrap(apperr.KindUpstreamUnavailable, "Failed to reach responder", err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
