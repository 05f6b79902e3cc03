package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/bauki/assistant-backend/internal/apperr"
	"github.com/bauki/assistant-backend/internal/auth"
	"github.com/bauki/assistant-backend/internal/core"
	"github.com/bauki/assistant-backend/internal/logger"
	"github.com/bauki/assistant-backend/internal/metrics"
	"github.com/bauki/assistant-backend/internal/ratelimit"
	"github.com/bauki/assistant-backend/internal/store"
)

const (
	maxJSONBodyBytes = 1 << 20
	multipartMemory  = 8 << 20
)

type Services struct {
	Accounts *core.AccountService
	Resets   *core.ResetService
	Chat     *core.ChatService
	Feedback *core.FeedbackService
	Stats    *core.StatsService
	Admin    *auth.AdminGate
}

type Handler struct {
	accounts       *core.AccountService
	resets         *core.ResetService
	chat           *core.ChatService
	feedback       *core.FeedbackService
	stats          *core.StatsService
	admin          *auth.AdminGate
	limiter        *ratelimit.Limiter
	metrics        *metrics.Metrics
	validate       *validator.Validate
	maxUploadBytes int64
	log            *logger.Logger
}

// NewHandler builds the HTTP handlers. limiter may be nil to disable rate
// limiting.
func NewHandler(svc Services, limiter *ratelimit.Limiter, m *metrics.Metrics, maxUploadBytes int64, log *logger.Logger) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = core.DefaultMaxUploadBytes
	}
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{
		accounts:       svc.Accounts,
		resets:         svc.Resets,
		chat:           svc.Chat,
		feedback:       svc.Feedback,
		stats:          svc.Stats,
		admin:          svc.Admin,
		limiter:        limiter,
		metrics:        m,
		validate:       v,
		maxUploadBytes: maxUploadBytes,
		log:            log.With("component", "api"),
	}
}

// decode reads a JSON body into dst and validates it.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return apperr.Validation("Request body too large")
		case errors.Is(err, io.EOF):
			return apperr.Validation("Request body is required")
		default:
			return apperr.Validation("Invalid request body")
		}
	}
	return h.check(dst)
}

func (h *Handler) check(v any) error {
	err := h.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return apperr.Validation("Invalid request")
	}
	return apperr.Validation(describe(verrs[0]))
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "email":
		return fmt.Sprintf("%s must be a valid email address", fe.Field())
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	case "len":
		return fmt.Sprintf("%s must be exactly %s characters", fe.Field(), fe.Param())
	case "numeric":
		return fmt.Sprintf("%s must contain only digits", fe.Field())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

type chatRequest struct {
	Message        string `json:"message" validate:"max=10000"`
	ConversationID string `json:"conversation_id" validate:"omitempty,max=128"`
	SessionID      string `json:"session_id" validate:"omitempty,max=128"`
	Region         string `json:"region" validate:"omitempty,max=64"`
}

func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	res, err := h.chat.SendMessage(r.Context(), IdentityFrom(r.Context()), core.TurnRequest{
		Message:        req.Message,
		ConversationID: req.ConversationID,
		SessionID:      req.SessionID,
		Region:         req.Region,
	})
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ChatUpload takes a multipart turn: text fields message, conversation_id,
// session_id and region, plus zero or more file parts.
func (h *Handler) ChatUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+maxJSONBodyBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, r, h.log, apperr.Validation(fmt.Sprintf("File exceeds the maximum size of %d MB", h.maxUploadBytes>>20)))
			return
		}
		writeError(w, r, h.log, apperr.Validation("Invalid multipart form"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	req := chatRequest{
		Message:        r.FormValue("message"),
		ConversationID: r.FormValue("conversation_id"),
		SessionID:      r.FormValue("session_id"),
		Region:         r.FormValue("region"),
	}
	if err := h.check(&req); err != nil {
		writeError(w, r, h.log, err)
		return
	}

	var uploads []core.Upload
	for _, fh := range r.MultipartForm.File["file"] {
		f, err := fh.Open()
		if err != nil {
			writeError(w, r, h.log, apperr.Validation("Unreadable file"))
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			writeError(w, r, h.log, apperr.Validation("Unreadable file"))
			return
		}
		uploads = append(uploads, core.Upload{
			Name:        fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Data:        data,
		})
	}

	res, err := h.chat.SendMessage(r.Context(), IdentityFrom(r.Context()), core.TurnRequest{
		Message:        req.Message,
		ConversationID: req.ConversationID,
		SessionID:      req.SessionID,
		Region:         req.Region,
		Uploads:        uploads,
	})
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := h.chat.ListConversations(r.Context(), IdentityFrom(r.Context()))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	if convs == nil {
		convs = []store.Conversation{}
	}
	writeJSON(w, http.StatusOK, convs)
}

func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := h.chat.GetConversation(r.Context(), IdentityFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	if conv.Messages == nil {
		conv.Messages = []store.Message{}
	}
	writeJSON(w, http.StatusOK, conv)
}

func (h *Handler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	if err := h.chat.DeleteConversation(r.Context(), IdentityFrom(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type renameRequest struct {
	Title string `json:"title" validate:"required,max=100"`
}

func (h *Handler) RenameConversation(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	conv, err := h.chat.RenameConversation(r.Context(), IdentityFrom(r.Context()), chi.URLParam(r, "id"), req.Title)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (h *Handler) ClaimConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := h.chat.ClaimConversation(r.Context(), IdentityFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

type feedbackRequest struct {
	Message string `json:"message" validate:"required,max=2000"`
}

func (h *Handler) SubmitFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	fb, err := h.feedback.Submit(r.Context(), IdentityFrom(r.Context()), req.Message)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, fb)
}
