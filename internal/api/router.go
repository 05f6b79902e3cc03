package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/bauki/assistant-backend/internal/logger"
	"github.com/bauki/assistant-backend/internal/metrics"
)

type RouterConfig struct {
	CORSOrigins []string
}

func NewRouter(h *Handler, m *metrics.Metrics, log *logger.Logger, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(AccessLog(log))
	r.Use(middleware.Recoverer)    // Recover from panics
	r.Use(middleware.StripSlashes) // Ensure consistent path handling
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(m.Middleware)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
		r.Method(http.MethodGet, "/metrics", m.Handler())

		r.Group(func(r chi.Router) {
			r.Use(h.Authenticate)
			h.routes(r)
		})
	})

	return r
}

func (h *Handler) routes(r chi.Router) {
	r.Route("/auth", func(r chi.Router) {
		r.With(h.RateLimit("auth")).Post("/register", h.Register)
		r.With(h.RateLimit("auth")).Post("/login", h.Login)
		r.With(h.RateLimit("reset")).Post("/request-password-reset", h.RequestPasswordReset)
		r.With(h.RateLimit("reset")).Post("/reset-password", h.ResetPassword)

		r.Group(func(r chi.Router) {
			r.Use(h.RequireUser)
			r.Get("/me", h.Me)
			r.Delete("/me", h.DeleteAccount)
			r.Post("/change-password", h.ChangePassword)
			r.Patch("/region", h.UpdateRegion)
		})
	})

	// Chat turns and reads accept anonymous callers.
	r.Post("/chat", h.Chat)
	r.Post("/chat/upload", h.ChatUpload)
	r.Get("/conversations/{id}", h.GetConversation)

	r.Group(func(r chi.Router) {
		r.Use(h.RequireUser)
		r.Get("/conversations", h.ListConversations)
		r.Patch("/conversations/{id}", h.RenameConversation)
		r.Delete("/conversations/{id}", h.DeleteConversation)
		r.Post("/conversations/{id}/claim", h.ClaimConversation)
		r.Post("/feedback", h.SubmitFeedback)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(h.RequireAdmin)
		r.Get("/feedback", h.ListFeedback)
		r.Delete("/feedback/{id}", h.DeleteFeedback)
		r.Get("/stats", h.Stats)
	})
}
