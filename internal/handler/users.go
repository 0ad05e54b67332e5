package handler

import (
	"net/http"
	"strings"

	"github.com/mmeshcher/cardbook/internal/middleware"
	"github.com/mmeshcher/cardbook/internal/model"
)

type registerResponse struct {
	User *model.User `json:"user"`
	// Mnemonic показывается один раз, повторно получить её нельзя.
	Mnemonic string `json:"mnemonic"`
}

// Register создаёт локального пользователя и устанавливает cookie.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	u, mnemonic, err := h.service.CreateLocalUser(r.Context())
	if err != nil {
		h.writeError(w, err, "register user")
		return
	}

	h.authMiddleware.SetAuthCookie(w, u.ID)
	writeJSON(w, http.StatusOK, registerResponse{User: u, Mnemonic: mnemonic})
}

type credentialsRequest struct {
	Username string `json:"username"`
	Mnemonic string `json:"mnemonic"`
}

// Login проверяет имя пользователя и мнемонику и устанавливает cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if req.Username == "" || strings.TrimSpace(req.Mnemonic) == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	u, err := h.service.Authenticate(r.Context(), req.Username, req.Mnemonic)
	if err != nil {
		h.writeError(w, err, "login user")
		return
	}

	h.authMiddleware.SetAuthCookie(w, u.ID)
	writeJSON(w, http.StatusOK, u)
}

// Logout удаляет cookie пользователя.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.authMiddleware.ClearAuthCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// GetUser возвращает текущего пользователя.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	u, err := h.service.GetUser(r.Context(), userID)
	if err != nil {
		h.writeError(w, err, "get user")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

type syncRequest struct {
	Enabled bool `json:"enabled"`
}

// SetSync включает или выключает облачную синхронизацию текущего пользователя.
func (h *Handler) SetSync(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req syncRequest
	if !decodeBody(w, r, &req) {
		return
	}

	u, err := h.service.SetCloudSync(r.Context(), userID, req.Enabled)
	if err != nil {
		h.writeError(w, err, "set cloud sync")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// SyncNow запускает облачную синхронизацию.
func (h *Handler) SyncNow(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	if err := h.service.SyncNow(r.Context(), userID); err != nil {
		h.writeError(w, err, "sync now")
		return
	}
	w.WriteHeader(http.StatusOK)
}
