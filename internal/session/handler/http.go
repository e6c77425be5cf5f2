// Package handler serves the /v1/sessions routes.
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"taskboard-auth/backend/internal/guard"
	"taskboard-auth/backend/internal/server/httpx"
	"taskboard-auth/backend/internal/session/service"
)

// Handler serves the session management routes for the calling user.
type Handler struct {
	sessions *service.Manager
	cookies  *httpx.CookieManager
}

// NewHandler returns a Handler.
func NewHandler(sessions *service.Manager, cookies *httpx.CookieManager) *Handler {
	return &Handler{sessions: sessions, cookies: cookies}
}

type setMaxRequest struct {
	MaxSessions int `json:"max_sessions"`
}

type deleteResponse struct {
	Deleted         bool `json:"deleted"`
	IsDeletedMySelf bool `json:"isDeletedMySelf"`
}

type clearResponse struct {
	Cleared int `json:"cleared"`
}

// List handles GET /v1/sessions.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	id := guard.FromContext(r.Context())
	views, err := h.sessions.List(r.Context(), id.UserID, id.SessionID)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, r, http.StatusOK, views)
}

// Delete handles DELETE /v1/sessions/{id}. Deleting the calling session also clears the cookies.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id := guard.FromContext(r.Context())
	self, err := h.sessions.Delete(r.Context(), id.UserID, chi.URLParam(r, "id"), id.SessionID)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	if self {
		h.cookies.Clear(w)
	}
	httpx.JSON(w, r, http.StatusOK, deleteResponse{Deleted: true, IsDeletedMySelf: self})
}

// Clear handles PUT /v1/sessions/clear: every session except the caller's ends.
func (h *Handler) Clear(w http.ResponseWriter, r *http.Request) {
	id := guard.FromContext(r.Context())
	ids, err := h.sessions.Clear(r.Context(), id.UserID, id.SessionID, service.ReasonCleared)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, r, http.StatusOK, clearResponse{Cleared: len(ids)})
}

// SetMaxSessions handles PUT /v1/sessions/set-max-sessions and returns the remaining sessions.
func (h *Handler) SetMaxSessions(w http.ResponseWriter, r *http.Request) {
	var req setMaxRequest
	if err := httpx.Decode(w, r, &req); err != nil {
		httpx.Error(w, r, err)
		return
	}
	id := guard.FromContext(r.Context())
	views, err := h.sessions.SetMaxSessions(r.Context(), id.UserID, req.MaxSessions, id.SessionID)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, r, http.StatusOK, views)
}
