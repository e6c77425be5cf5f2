// Package handler serves GET /v1/dev/reset-otp. It is mounted only when dev OTP mode is
// enabled and the environment is not production.
package handler

import (
	"net/http"

	"taskboard-auth/backend/internal/apperr"
	"taskboard-auth/backend/internal/devotp"
	"taskboard-auth/backend/internal/server/httpx"
)

const devOTPNote = "DEV MODE ONLY"

// Handler reads reset codes from the dev store.
type Handler struct {
	store devotp.Store
}

// NewHandler returns a Handler that reads codes from store.
func NewHandler(store devotp.Store) *Handler {
	return &Handler{store: store}
}

type otpResponse struct {
	OTP  string `json:"otp"`
	Note string `json:"note"`
}

// GetResetOTP returns the plain reset code for ?email=. 404 if missing or expired.
func (h *Handler) GetResetOTP(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if email == "" {
		httpx.Error(w, r, apperr.New(apperr.Rejected, "email is required"))
		return
	}
	code, ok := h.store.Get(r.Context(), email)
	if !ok {
		httpx.Error(w, r, apperr.New(apperr.NotFound, "OTP not found or expired"))
		return
	}
	httpx.JSON(w, r, http.StatusOK, otpResponse{OTP: code, Note: devOTPNote})
}
