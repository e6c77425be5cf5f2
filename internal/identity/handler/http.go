// Package handler serves the /v1/users account routes.
package handler

import (
	"net/http"
	"time"

	"taskboard-auth/backend/internal/apperr"
	"taskboard-auth/backend/internal/device"
	"taskboard-auth/backend/internal/guard"
	"taskboard-auth/backend/internal/identity/service"
	"taskboard-auth/backend/internal/server/httpx"
	userdomain "taskboard-auth/backend/internal/user/domain"
)

// Handler serves the account routes.
type Handler struct {
	auth      *service.AuthService
	cookies   *httpx.CookieManager
	cookieTTL time.Duration
}

// NewHandler returns a Handler. cookieTTL is the max age of both token cookies; the access
// cookie outlives its token so an expired token is still presented and answered with 410.
func NewHandler(auth *service.AuthService, cookies *httpx.CookieManager, cookieTTL time.Duration) *Handler {
	return &Handler{auth: auth, cookies: cookies, cookieTTL: cookieTTL}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type verifyRequest struct {
	Email string `json:"email"`
	Token string `json:"token"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type resetRequest struct {
	Email    string `json:"email"`
	OTPToken string `json:"otpToken"`
	Password string `json:"password"`
}

type federatedRequest struct {
	Provider    string `json:"provider"`
	Subject     string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

type updateRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
	DisplayName     string `json:"displayName"`
	Avatar          string `json:"avatar"`
}

type loginResponse struct {
	userdomain.Public
	SessionID       string       `json:"session_id"`
	Device          *device.Info `json:"device_info,omitempty"`
	AccessToken     string       `json:"accessToken"`
	AccessExpiresAt time.Time    `json:"accessTokenExpiresAt"`
}

type refreshResponse struct {
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// Register handles POST /v1/users/register.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := httpx.Decode(w, r, &req); err != nil {
		httpx.Error(w, r, err)
		return
	}
	u, err := h.auth.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, r, http.StatusCreated, u)
}

// VerifyAccount handles PUT /v1/users/verify.
func (h *Handler) VerifyAccount(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := httpx.Decode(w, r, &req); err != nil {
		httpx.Error(w, r, err)
		return
	}
	u, err := h.auth.VerifyAccount(r.Context(), req.Email, req.Token)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, r, http.StatusOK, u)
}

// Login handles POST /v1/users/login and sets both token cookies.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := httpx.Decode(w, r, &req); err != nil {
		httpx.Error(w, r, err)
		return
	}
	res, err := h.auth.Login(r.Context(), req.Email, req.Password, r.UserAgent())
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	h.writeLogin(w, r, res)
}

func (h *Handler) writeLogin(w http.ResponseWriter, r *http.Request, res *service.LoginResult) {
	h.cookies.SetTokens(w, res.AccessToken, res.RefreshToken, h.cookieTTL)
	httpx.JSON(w, r, http.StatusOK, loginResponse{
		Public:          res.User,
		SessionID:       res.Session.ID,
		Device:          res.Session.Device,
		AccessToken:     res.AccessToken,
		AccessExpiresAt: res.AccessExpiresAt,
	})
}

// LoginFederated handles POST /v1/users/federated. The OAuth proxy posts the identity the
// provider verified; cookies and the body match Login.
func (h *Handler) LoginFederated(w http.ResponseWriter, r *http.Request) {
	var req federatedRequest
	if err := httpx.Decode(w, r, &req); err != nil {
		httpx.Error(w, r, err)
		return
	}
	res, err := h.auth.LoginFederated(r.Context(), service.FederatedIdentity{
		Provider:    req.Provider,
		Subject:     req.Subject,
		Email:       req.Email,
		DisplayName: req.DisplayName,
	}, r.UserAgent())
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	h.writeLogin(w, r, res)
}

// RefreshToken handles GET /v1/users/refresh-token. Any failure other than an
// infrastructure error asks the client to log in again.
func (h *Handler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	res, err := h.auth.Refresh(r.Context(), httpx.GetCookie(r, httpx.RefreshCookie))
	if err != nil {
		if apperr.KindOf(err) == apperr.Internal {
			httpx.Error(w, r, err)
			return
		}
		httpx.ErrorCode(w, r, http.StatusForbidden, apperr.Forbidden.String(), "Please login!")
		return
	}
	h.cookies.SetAccess(w, res.AccessToken, h.cookieTTL)
	httpx.JSON(w, r, http.StatusOK, refreshResponse{AccessToken: res.AccessToken, ExpiresAt: res.AccessExpiresAt})
}

// Logout handles PUT /v1/users/logout.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	id := guard.FromContext(r.Context())
	if err := h.auth.Logout(r.Context(), id.UserID, id.SessionID); err != nil {
		httpx.Error(w, r, err)
		return
	}
	h.cookies.Clear(w)
	httpx.JSON(w, r, http.StatusOK, map[string]bool{"loggedOut": true})
}

// ForgotPassword handles POST /v1/users/forgot-password.
func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := httpx.Decode(w, r, &req); err != nil {
		httpx.Error(w, r, err)
		return
	}
	if err := h.auth.ForgotPassword(r.Context(), req.Email); err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, r, http.StatusOK, messageResponse{Message: "An OTP code has been sent to your email"})
}

// ResetPassword handles PUT /v1/users/reset-password.
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := httpx.Decode(w, r, &req); err != nil {
		httpx.Error(w, r, err)
		return
	}
	if err := h.auth.ResetPassword(r.Context(), req.Email, req.OTPToken, req.Password); err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, r, http.StatusOK, messageResponse{Message: "Password has been reset. Please log in again"})
}

// DeleteAccount handles PUT /v1/users/delete-account.
func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	id := guard.FromContext(r.Context())
	if err := h.auth.DeleteAccount(r.Context(), id.UserID); err != nil {
		httpx.Error(w, r, err)
		return
	}
	h.cookies.Clear(w)
	httpx.JSON(w, r, http.StatusOK, map[string]bool{"deleted": true})
}

// GetUser handles GET /v1/users/get-user.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id := guard.FromContext(r.Context())
	u, err := h.auth.GetCurrentUser(r.Context(), id.UserID, id.SessionID)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, r, http.StatusOK, u)
}

// Update handles PUT /v1/users/update. The first matching field group wins: current and
// new password, new password alone, avatar, then display name.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := httpx.Decode(w, r, &req); err != nil {
		httpx.Error(w, r, err)
		return
	}
	intent, err := intentOf(req)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	id := guard.FromContext(r.Context())
	u, err := h.auth.Update(r.Context(), id.UserID, id.SessionID, intent)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, r, http.StatusOK, u)
}

func intentOf(req updateRequest) (service.UpdateIntent, error) {
	switch {
	case req.CurrentPassword != "" && req.NewPassword != "":
		return service.PasswordChange{Current: req.CurrentPassword, New: req.NewPassword}, nil
	case req.NewPassword != "":
		return service.PasswordSet{New: req.NewPassword}, nil
	case req.Avatar != "":
		return service.AvatarChange{URL: req.Avatar}, nil
	case req.DisplayName != "":
		return service.ProfileEdit{DisplayName: req.DisplayName}, nil
	default:
		return nil, apperr.New(apperr.Rejected, "Nothing to update")
	}
}
