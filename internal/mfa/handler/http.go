// Package handler serves the two-factor routes under /v1/users.
package handler

import (
	"net/http"

	"taskboard-auth/backend/internal/guard"
	"taskboard-auth/backend/internal/mfa/service"
	"taskboard-auth/backend/internal/server/httpx"
)

// Handler serves TOTP provisioning, toggling and verification.
type Handler struct {
	twoFactor *service.TwoFactorService
}

// NewHandler returns a Handler.
func NewHandler(twoFactor *service.TwoFactorService) *Handler {
	return &Handler{twoFactor: twoFactor}
}

type otpRequest struct {
	OTPToken string `json:"otpToken"`
}

type toggleResponse struct {
	Require2FA    bool `json:"require_2fa"`
	Is2FAVerified bool `json:"is_2fa_verified"`
}

// QRCode handles GET /v1/users/get_2fa_qr_code.
func (h *Handler) QRCode(w http.ResponseWriter, r *http.Request) {
	id := guard.FromContext(r.Context())
	p, err := h.twoFactor.Provision(r.Context(), id.UserID, id.SessionID)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, r, http.StatusOK, p)
}

// Setup handles POST /v1/users/setup_2fa: a valid code flips require_2fa.
func (h *Handler) Setup(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if err := httpx.Decode(w, r, &req); err != nil {
		httpx.Error(w, r, err)
		return
	}
	id := guard.FromContext(r.Context())
	enabled, err := h.twoFactor.Toggle(r.Context(), id.UserID, id.SessionID, req.OTPToken)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, r, http.StatusOK, toggleResponse{Require2FA: enabled, Is2FAVerified: true})
}

// Verify handles PUT /v1/users/verify_2fa: a valid code marks the calling session verified.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if err := httpx.Decode(w, r, &req); err != nil {
		httpx.Error(w, r, err)
		return
	}
	id := guard.FromContext(r.Context())
	if err := h.twoFactor.Verify(r.Context(), id.UserID, id.SessionID, req.OTPToken); err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, r, http.StatusOK, map[string]bool{"is_2fa_verified": true})
}
