package api

import (
	"net/http"

	"github.com/bauki/assistant-backend/internal/core"
)

type messageResponse struct {
	Message string `json:"message"`
}

type registerRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,max=72"`
	Name     string `json:"name" validate:"omitempty,max=100"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	res, err := h.accounts.Register(r.Context(), core.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
	})
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	res, err := h.accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	u, err := h.accounts.CurrentUser(r.Context(), IdentityFrom(r.Context()))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := h.accounts.DeleteAccount(r.Context(), IdentityFrom(r.Context())); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=6,max=72"`
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	if err := h.accounts.ChangePassword(r.Context(), IdentityFrom(r.Context()), req.CurrentPassword, req.NewPassword); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Password updated"})
}

// A null or empty region clears the preference.
type regionRequest struct {
	Region *string `json:"region" validate:"omitempty,max=64"`
}

func (h *Handler) UpdateRegion(w http.ResponseWriter, r *http.Request) {
	var req regionRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	var region string
	if req.Region != nil {
		region = *req.Region
	}
	u, err := h.accounts.UpdateRegion(r.Context(), IdentityFrom(r.Context()), region)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

type resetRequest struct {
	Email string `json:"email" validate:"required,email"`
}

func (h *Handler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	ack, err := h.resets.Request(r.Context(), req.Email)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: ack})
}

type resetPasswordRequest struct {
	Email       string `json:"email" validate:"required,email"`
	Code        string `json:"code" validate:"required,len=6,numeric"`
	NewPassword string `json:"new_password" validate:"required,min=6,max=72"`
}

func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	if err := h.resets.Redeem(r.Context(), req.Email, req.Code, req.NewPassword); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Password has been reset"})
}
