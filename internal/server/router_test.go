package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pquerna/otp/totp"
	"github.com/redis/go-redis/v9"

	"taskboard-auth/backend/internal/devotp"
	devotphandler "taskboard-auth/backend/internal/devotp/handler"
	"taskboard-auth/backend/internal/guard"
	healthhandler "taskboard-auth/backend/internal/health/handler"
	identityhandler "taskboard-auth/backend/internal/identity/handler"
	identityservice "taskboard-auth/backend/internal/identity/service"
	"taskboard-auth/backend/internal/mfa"
	mfahandler "taskboard-auth/backend/internal/mfa/handler"
	mfarepo "taskboard-auth/backend/internal/mfa/repository"
	mfaservice "taskboard-auth/backend/internal/mfa/service"
	"taskboard-auth/backend/internal/policy/engine"
	policyhandler "taskboard-auth/backend/internal/policy/handler"
	"taskboard-auth/backend/internal/ratelimit"
	"taskboard-auth/backend/internal/security"
	"taskboard-auth/backend/internal/server/httpx"
	sessionhandler "taskboard-auth/backend/internal/session/handler"
	sessionrepo "taskboard-auth/backend/internal/session/repository"
	"taskboard-auth/backend/internal/session/revocation"
	sessionservice "taskboard-auth/backend/internal/session/service"
	userdomain "taskboard-auth/backend/internal/user/domain"
	userrepo "taskboard-auth/backend/internal/user/repository"
)

const (
	apiPassword      = "correct-horse-9"
	apiFederationKey = "federation-key-0123456789abcdef0123"
)

type captureNotifier struct {
	mu     sync.Mutex
	tokens map[string]string
}

func (n *captureNotifier) SendVerification(_ context.Context, u *userdomain.User, token string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tokens[u.Email] = token
	return nil
}

func (n *captureNotifier) SendResetCode(context.Context, *userdomain.User, string) error { return nil }

func (n *captureNotifier) token(email string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.tokens[email]
}

type tickingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type testAPI struct {
	srv      *httptest.Server
	notifier *captureNotifier
	secrets  *mfarepo.MemoryRepository
	users    *userrepo.MemoryRepository
	tokens   *security.TokenProvider
}

func newTestAPI(t *testing.T, rateLimit int) *testAPI {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	a := &testAPI{
		notifier: &captureNotifier{tokens: map[string]string{}},
		secrets:  mfarepo.NewMemoryRepository(),
		users:    userrepo.NewMemoryRepository(),
		tokens:   security.NewTestTokenProvider(),
	}
	cache := revocation.NewRedisCache(client, time.Hour)
	clock := &tickingClock{now: time.Now()}
	mgr := sessionservice.NewManager(sessionrepo.NewMemoryRepository(), a.users, cache, sessionservice.WithClock(clock.Now))
	devStore := devotp.NewMemoryStore()
	auth := identityservice.NewAuthService(a.users, mgr, security.NewHasher(4), a.tokens, a.notifier, identityservice.WithDevOTPStore(devStore))
	twoFactor := mfaservice.NewTwoFactorService(a.users, a.secrets, mgr, mfa.NewTOTP("Taskboard"), nil, nil, time.Second)
	eval, err := engine.NewOPAEvaluator(context.Background(), "", nil)
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	cookies := httpx.NewCookieManager("", false, http.SameSiteLaxMode)

	router := NewRouter(HTTPDeps{
		Guard:     guard.New(a.tokens, cache, 0, nil),
		Users:     identityhandler.NewHandler(auth, cookies, 24*time.Hour),
		Sessions:  sessionhandler.NewHandler(mgr, cookies),
		TwoFactor: mfahandler.NewHandler(twoFactor),
		Health:    healthhandler.NewHandler(map[string]healthhandler.CheckFunc{"redis": func(ctx context.Context) error { return client.Ping(ctx).Err() }}),
		StepUp: func(action string) func(http.Handler) http.Handler {
			return policyhandler.RequireTwoFactor(eval, a.users, mgr, action)
		},
		RateLimiter:   ratelimit.NewMemory(rateLimit, time.Minute),
		DevOTP:        devotphandler.NewHandler(devStore),
		FederationKey: apiFederationKey,
	})
	a.srv = httptest.NewServer(router)
	t.Cleanup(a.srv.Close)
	return a
}

// device is one browser: its own cookie jar.
func (a *testAPI) device(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar: %v", err)
	}
	return &http.Client{Jar: jar}
}

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (a *testAPI) call(t *testing.T, c *http.Client, method, path string, body any, bearer string) (int, apiResponse) {
	t.Helper()
	header := http.Header{}
	if bearer != "" {
		header.Set("Authorization", "Bearer "+bearer)
	}
	return a.send(t, c, method, path, body, header)
}

func (a *testAPI) send(t *testing.T, c *http.Client, method, path string, body any, header http.Header) (int, apiResponse) {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, a.srv.URL+path, rdr)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0")
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := c.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var out apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("%s %s: decode: %v", method, path, err)
	}
	return resp.StatusCode, out
}

func (a *testAPI) mustCall(t *testing.T, c *http.Client, method, path string, body any, want int) apiResponse {
	t.Helper()
	status, out := a.call(t, c, method, path, body, "")
	if status != want {
		t.Fatalf("%s %s: status = %d, want %d (%s: %s)", method, path, status, want, out.Error.Code, out.Error.Message)
	}
	return out
}

func decodeData(t *testing.T, out apiResponse, v any) {
	t.Helper()
	if err := json.Unmarshal(out.Data, v); err != nil {
		t.Fatalf("decode data: %v", err)
	}
}

func (a *testAPI) signup(t *testing.T, email string) {
	t.Helper()
	c := a.device(t)
	a.mustCall(t, c, http.MethodPost, "/v1/users/register", map[string]string{"email": email, "password": apiPassword}, http.StatusCreated)
	a.mustCall(t, c, http.MethodPut, "/v1/users/verify", map[string]string{"email": email, "token": a.notifier.token(email)}, http.StatusOK)
}

type loginData struct {
	ID          string `json:"id"`
	SessionID   string `json:"session_id"`
	AccessToken string `json:"accessToken"`
}

func (a *testAPI) login(t *testing.T, c *http.Client, email, password string) loginData {
	t.Helper()
	out := a.mustCall(t, c, http.MethodPost, "/v1/users/login", map[string]string{"email": email, "password": password}, http.StatusOK)
	var d loginData
	decodeData(t, out, &d)
	return d
}

type sessionView struct {
	ID        string `json:"id"`
	IsCurrent bool   `json:"is_current"`
	Verified  bool   `json:"is_2fa_verified"`
	Device    struct {
		Browser string `json:"browser"`
	} `json:"device_info"`
}

func TestAPI_SessionLifecycle(t *testing.T) {
	a := newTestAPI(t, 100)
	a.signup(t, "ada@example.com")

	laptop, phone, tablet := a.device(t), a.device(t), a.device(t)
	first := a.login(t, laptop, "ada@example.com", apiPassword)

	var views []sessionView
	decodeData(t, a.mustCall(t, laptop, http.MethodGet, "/v1/sessions", nil, http.StatusOK), &views)
	if len(views) != 1 || !views[0].IsCurrent || views[0].ID != first.SessionID {
		t.Fatalf("sessions = %+v", views)
	}
	if views[0].Device.Browser == "" {
		t.Error("device_info.browser should be set")
	}
	a.mustCall(t, laptop, http.MethodGet, "/v1/users/get-user", nil, http.StatusOK)
	a.mustCall(t, laptop, http.MethodGet, "/v1/users/refresh-token", nil, http.StatusOK)

	second := a.login(t, phone, "ada@example.com", apiPassword)
	a.login(t, tablet, "ada@example.com", apiPassword)

	// the laptop session was least recently active and is evicted at the default limit of 2
	status, out := a.call(t, laptop, http.MethodGet, "/v1/sessions", nil, "")
	if status != http.StatusUnauthorized {
		t.Fatalf("evicted session: status = %d, want 401", status)
	}
	status, out = a.call(t, laptop, http.MethodGet, "/v1/users/refresh-token", nil, "")
	if status != http.StatusForbidden || out.Error.Message != "Please login!" {
		t.Fatalf("refresh after eviction = %d %q", status, out.Error.Message)
	}

	var cleared struct {
		Cleared int `json:"cleared"`
	}
	decodeData(t, a.mustCall(t, phone, http.MethodPut, "/v1/sessions/clear", nil, http.StatusOK), &cleared)
	if cleared.Cleared != 1 {
		t.Errorf("cleared = %d, want 1", cleared.Cleared)
	}
	a.mustCall(t, tablet, http.MethodGet, "/v1/sessions", nil, http.StatusUnauthorized)

	a.mustCall(t, phone, http.MethodPut, "/v1/sessions/set-max-sessions", map[string]int{"max_sessions": 11}, http.StatusBadRequest)
	a.mustCall(t, phone, http.MethodPut, "/v1/sessions/set-max-sessions", map[string]int{"max_sessions": 1}, http.StatusOK)

	a.mustCall(t, phone, http.MethodPut, "/v1/users/logout", nil, http.StatusOK)
	if status, _ := a.call(t, a.device(t), http.MethodGet, "/v1/sessions", nil, second.AccessToken); status != http.StatusUnauthorized {
		t.Errorf("access token after logout: status = %d, want 401", status)
	}
}

func TestAPI_DeleteOwnSession(t *testing.T) {
	a := newTestAPI(t, 100)
	a.signup(t, "ada@example.com")
	c := a.device(t)
	me := a.login(t, c, "ada@example.com", apiPassword)

	a.mustCall(t, c, http.MethodDelete, "/v1/sessions/does-not-exist", nil, http.StatusNotFound)
	var res struct {
		IsDeletedMySelf bool `json:"isDeletedMySelf"`
	}
	decodeData(t, a.mustCall(t, c, http.MethodDelete, "/v1/sessions/"+me.SessionID, nil, http.StatusOK), &res)
	if !res.IsDeletedMySelf {
		t.Error("isDeletedMySelf should be true")
	}
	if status, _ := a.call(t, a.device(t), http.MethodGet, "/v1/sessions", nil, me.AccessToken); status != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", status)
	}
}

func TestAPI_ExpiredAccessToken(t *testing.T) {
	a := newTestAPI(t, 100)
	past := a.tokens.WithClock(func() time.Time { return time.Now().Add(-time.Hour) })
	tok, _, err := past.IssueAccess("u1", "ada@example.com", "s1")
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	status, out := a.call(t, a.device(t), http.MethodGet, "/v1/sessions", nil, tok)
	if status != http.StatusGone || out.Error.Code != "EXPIRED" || out.Error.Message != "Need to refresh token" {
		t.Errorf("expired token = %d %s %q", status, out.Error.Code, out.Error.Message)
	}
}

func validCodes(t *testing.T, secret string) map[string]bool {
	t.Helper()
	out := map[string]bool{}
	for _, off := range []time.Duration{-30 * time.Second, 0, 30 * time.Second} {
		code, err := totp.GenerateCode(secret, time.Now().Add(off))
		if err != nil {
			t.Fatalf("GenerateCode: %v", err)
		}
		out[code] = true
	}
	return out
}

func TestAPI_TwoFactorStepUp(t *testing.T) {
	a := newTestAPI(t, 100)
	a.signup(t, "ada@example.com")
	laptop, phone := a.device(t), a.device(t)
	a.login(t, laptop, "ada@example.com", apiPassword)

	var prov struct {
		Secret string `json:"secret"`
		QRCode string `json:"qrCode"`
	}
	decodeData(t, a.mustCall(t, laptop, http.MethodGet, "/v1/users/get_2fa_qr_code", nil, http.StatusOK), &prov)
	if prov.Secret == "" || prov.QRCode == "" {
		t.Fatalf("provisioning = %+v", prov)
	}

	valid := validCodes(t, prov.Secret)
	wrong := ""
	for _, c := range []string{"000000", "111111", "222222", "333333"} {
		if !valid[c] {
			wrong = c
			break
		}
	}
	a.mustCall(t, laptop, http.MethodPost, "/v1/users/setup_2fa", map[string]string{"otpToken": wrong}, http.StatusNotAcceptable)

	code, err := totp.GenerateCode(prov.Secret, time.Now())
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}
	var toggled struct {
		Require2FA bool `json:"require_2fa"`
	}
	decodeData(t, a.mustCall(t, laptop, http.MethodPost, "/v1/users/setup_2fa", map[string]string{"otpToken": code}, http.StatusOK), &toggled)
	if !toggled.Require2FA {
		t.Fatal("require_2fa should be enabled")
	}

	a.login(t, phone, "ada@example.com", apiPassword)
	_, out := a.call(t, phone, http.MethodPut, "/v1/sessions/clear", nil, "")
	if out.Error.Code != engine.ReasonTwoFactorRequired {
		t.Fatalf("unverified session clear: code = %q", out.Error.Code)
	}
	a.mustCall(t, phone, http.MethodGet, "/v1/sessions", nil, http.StatusOK)
	a.mustCall(t, phone, http.MethodGet, "/v1/users/get_2fa_qr_code", nil, http.StatusForbidden)

	a.mustCall(t, phone, http.MethodPut, "/v1/users/verify_2fa", map[string]string{"otpToken": code}, http.StatusOK)
	a.mustCall(t, phone, http.MethodGet, "/v1/users/get_2fa_qr_code", nil, http.StatusOK)
	a.mustCall(t, phone, http.MethodPut, "/v1/sessions/clear", nil, http.StatusOK)
	a.mustCall(t, laptop, http.MethodGet, "/v1/sessions", nil, http.StatusUnauthorized)
}

func TestAPI_PasswordResetWithDevOTP(t *testing.T) {
	a := newTestAPI(t, 100)
	a.signup(t, "ada@example.com")
	c := a.device(t)
	a.login(t, c, "ada@example.com", apiPassword)

	a.mustCall(t, c, http.MethodPost, "/v1/users/forgot-password", map[string]string{"email": "ada@example.com"}, http.StatusOK)
	_, out := a.call(t, c, http.MethodPost, "/v1/users/forgot-password", map[string]string{"email": "ada@example.com"}, "")
	if out.Error.Code != "NOT_ACCEPTABLE" {
		t.Errorf("second request within interval: code = %q", out.Error.Code)
	}

	var otp struct {
		OTP string `json:"otp"`
	}
	decodeData(t, a.mustCall(t, c, http.MethodGet, "/v1/dev/reset-otp?email=ada@example.com", nil, http.StatusOK), &otp)
	a.mustCall(t, c, http.MethodPut, "/v1/users/reset-password",
		map[string]string{"email": "ada@example.com", "otpToken": otp.OTP, "password": "new-password-2"}, http.StatusOK)

	a.mustCall(t, c, http.MethodGet, "/v1/sessions", nil, http.StatusUnauthorized)
	a.mustCall(t, c, http.MethodPost, "/v1/users/login", map[string]string{"email": "ada@example.com", "password": apiPassword}, http.StatusBadRequest)
	a.login(t, c, "ada@example.com", "new-password-2")
}

func TestAPI_LoginRateLimited(t *testing.T) {
	a := newTestAPI(t, 2)
	c := a.device(t)
	body := map[string]string{"email": "nobody@example.com", "password": apiPassword}
	a.mustCall(t, c, http.MethodPost, "/v1/users/login", body, http.StatusNotFound)
	a.mustCall(t, c, http.MethodPost, "/v1/users/login", body, http.StatusNotFound)

	status, out := a.call(t, c, http.MethodPost, "/v1/users/login", body, "")
	if status != http.StatusTooManyRequests || out.Error.Code != "RATE_LIMITED" {
		t.Errorf("third login = %d %s", status, out.Error.Code)
	}
}

func TestAPI_ProbesAndValidation(t *testing.T) {
	a := newTestAPI(t, 100)
	c := a.device(t)
	a.mustCall(t, c, http.MethodGet, "/healthz", nil, http.StatusOK)
	a.mustCall(t, c, http.MethodGet, "/readyz", nil, http.StatusOK)

	status, out := a.call(t, c, http.MethodPost, "/v1/users/register", map[string]string{"email": "ada@example.com", "unknown": "x"}, "")
	if status != http.StatusBadRequest || out.Error.Code != "REJECTED" {
		t.Errorf("unknown field = %d %s", status, out.Error.Code)
	}
	a.mustCall(t, c, http.MethodGet, "/v1/users/get-user", nil, http.StatusUnauthorized)
}

func TestAPI_FederatedLogin(t *testing.T) {
	a := newTestAPI(t, 100)
	a.signup(t, "ada@example.com")
	existing := a.login(t, a.device(t), "ada@example.com", apiPassword)

	body := map[string]string{"provider": "google", "id": "g-123", "email": "Ada@Example.com"}
	c := a.device(t)
	for _, key := range []string{"", "wrong-key"} {
		h := http.Header{}
		if key != "" {
			h.Set(identityhandler.FederationKeyHeader, key)
		}
		status, out := a.send(t, c, http.MethodPost, "/v1/users/federated", body, h)
		if status != http.StatusUnauthorized {
			t.Errorf("key %q: status = %d, want 401 (%s)", key, status, out.Error.Code)
		}
	}

	h := http.Header{}
	h.Set(identityhandler.FederationKeyHeader, apiFederationKey)
	status, out := a.send(t, c, http.MethodPost, "/v1/users/federated", body, h)
	if status != http.StatusOK {
		t.Fatalf("federated login: status = %d (%s: %s)", status, out.Error.Code, out.Error.Message)
	}
	var d loginData
	decodeData(t, out, &d)
	if d.ID != existing.ID {
		t.Errorf("user id = %q, want linked account %q", d.ID, existing.ID)
	}
	if d.SessionID == "" || d.AccessToken == "" {
		t.Fatalf("login data = %+v", d)
	}

	// the cookies set by the federated login authorize the device
	var views []sessionView
	decodeData(t, a.mustCall(t, c, http.MethodGet, "/v1/sessions", nil, http.StatusOK), &views)
	current := ""
	for _, v := range views {
		if v.IsCurrent {
			current = v.ID
		}
	}
	if len(views) != 2 || current != d.SessionID {
		t.Errorf("sessions = %+v, want 2 with current %s", views, d.SessionID)
	}
}

func TestAPI_FederatedLoginUnmountedWithoutKey(t *testing.T) {
	router := NewRouter(HTTPDeps{
		Guard:  guard.New(security.NewTestTokenProvider(), nil, 0, nil),
		Health: healthhandler.NewHandler(nil),
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/users/federated", bytes.NewReader([]byte("{}"))))
	if rec.Code != http.StatusNotFound && rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want the route to be absent", rec.Code)
	}
}
