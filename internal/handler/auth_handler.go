package handler

import (
	"net/http"

	"idea-server/internal/middleware"
	"idea-server/internal/model"
	"idea-server/internal/service"
)

type AuthHandler struct {
	service *service.AuthService
}

func NewAuthHandler(service *service.AuthService) *AuthHandler {
	return &AuthHandler{service: service}
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var payload model.LoginRequest
	if err := decodeAndValidate(r, &payload); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.service.Login(r.Context(), payload.Username, payload.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, result)
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var payload model.RegisterRequest
	if err := decodeAndValidate(r, &payload); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.service.Register(r.Context(), payload)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusCreated, user)
}

// Logout is idempotent: a missing, malformed or already revoked token still
// gets an acknowledgement.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if raw, ok := middleware.BearerToken(r); ok {
		if err := h.service.Logout(r.Context(), raw); err != nil {
			writeError(w, err)
			return
		}
	}

	writeSuccess(w, http.StatusOK, map[string]any{"logged_out": true})
}
