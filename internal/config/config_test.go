package config

import (
	"net/http"
	"testing"
	"time"
)

const (
	testAccessSecret  = "access-secret-access-secret-0123456789"
	testRefreshSecret = "refresh-secret-refresh-secret-0123456789"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("JWT_ACCESS_SECRET", testAccessSecret)
	t.Setenv("JWT_REFRESH_SECRET", testRefreshSecret)
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":8080")
	}
	if cfg.GRPCAddr != ":9090" {
		t.Errorf("GRPCAddr = %q, want %q", cfg.GRPCAddr, ":9090")
	}
	if cfg.JWTIssuer != "taskboard-auth" {
		t.Errorf("JWTIssuer = %q, want %q", cfg.JWTIssuer, "taskboard-auth")
	}
	if cfg.AccessTTL() != 15*time.Minute {
		t.Errorf("AccessTTL = %v, want 15m", cfg.AccessTTL())
	}
	if cfg.RefreshTTL() != 336*time.Hour {
		t.Errorf("RefreshTTL = %v, want 336h", cfg.RefreshTTL())
	}
	if cfg.SessionTTL() != cfg.RefreshTTL() {
		t.Errorf("SessionTTL = %v, want refresh TTL %v", cfg.SessionTTL(), cfg.RefreshTTL())
	}
	if cfg.BcryptCost != 12 {
		t.Errorf("BcryptCost = %d, want 12", cfg.BcryptCost)
	}
	if cfg.AuthRateLimit != 15 || cfg.AuthRateWindowDuration() != 3*time.Minute {
		t.Errorf("rate limit = %d per %v, want 15 per 3m", cfg.AuthRateLimit, cfg.AuthRateWindowDuration())
	}
	if cfg.GuardCacheTimeoutDuration() != 250*time.Millisecond {
		t.Errorf("GuardCacheTimeout = %v, want 250ms", cfg.GuardCacheTimeoutDuration())
	}
	if cfg.OTPReturnToClient {
		t.Error("OTPReturnToClient should default to false")
	}
}

func TestLoad_EnvVarOverride(t *testing.T) {
	setRequired(t)
	t.Setenv("HTTP_ADDR", ":7070")
	t.Setenv("JWT_ISSUER", "custom-issuer")
	t.Setenv("BCRYPT_COST", "10")
	t.Setenv("SESSION_LIFETIME", "48h")
	t.Setenv("REDIS_DB", "3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":7070" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":7070")
	}
	if cfg.JWTIssuer != "custom-issuer" {
		t.Errorf("JWTIssuer = %q, want %q", cfg.JWTIssuer, "custom-issuer")
	}
	if cfg.BcryptCost != 10 {
		t.Errorf("BcryptCost = %d, want 10", cfg.BcryptCost)
	}
	if cfg.SessionTTL() != 48*time.Hour {
		t.Errorf("SessionTTL = %v, want 48h", cfg.SessionTTL())
	}
	if cfg.RedisDB != 3 {
		t.Errorf("RedisDB = %d, want 3", cfg.RedisDB)
	}
}

func TestLoad_Secrets(t *testing.T) {
	testCases := []struct {
		name    string
		access  string
		refresh string
	}{
		{"missing access", "", testRefreshSecret},
		{"short refresh", testAccessSecret, "short"},
		{"identical", testAccessSecret, testAccessSecret},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("JWT_ACCESS_SECRET", tc.access)
			t.Setenv("JWT_REFRESH_SECRET", tc.refresh)
			if _, err := Load(); err == nil {
				t.Fatal("Load should return error")
			}
		})
	}
}

func TestLoad_BCRYPT_COSTRange(t *testing.T) {
	testCases := []struct {
		name  string
		value string
		want  int
		err   bool
	}{
		{"valid min", "8", 8, false},
		{"valid max", "31", 31, false},
		{"too low", "4", 0, true},
		{"too high", "32", 0, true},
		{"zero", "0", 12, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			setRequired(t)
			t.Setenv("BCRYPT_COST", tc.value)

			cfg, err := Load()
			if tc.err {
				if err == nil {
					t.Fatal("Load should return error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if cfg.BcryptCost != tc.want {
				t.Errorf("BcryptCost = %d, want %d", cfg.BcryptCost, tc.want)
			}
		})
	}
}

func TestLoad_OTPReturnToClientProduction(t *testing.T) {
	setRequired(t)
	t.Setenv("OTP_RETURN_TO_CLIENT", "true")
	t.Setenv("APP_ENV", "production")

	cfg, err := Load()
	if err == nil {
		t.Fatal("Load should return error when OTP_RETURN_TO_CLIENT=true and APP_ENV=production")
	}
	if cfg != nil {
		t.Error("Load should return nil config on error")
	}
}

func TestLoad_FederationKey(t *testing.T) {
	setRequired(t)
	t.Setenv("FEDERATION_KEY", "short")
	if _, err := Load(); err == nil {
		t.Error("Load: want error for short FEDERATION_KEY")
	}

	t.Setenv("FEDERATION_KEY", "federation-key-0123456789abcdef0123")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.FederationKey != "federation-key-0123456789abcdef0123" {
		t.Errorf("FederationKey = %q", cfg.FederationKey)
	}
}

func TestDurations_InvalidFallBack(t *testing.T) {
	cfg := &Config{JWTAccessTTL: "invalid", JWTRefreshTTL: "-1h", StoreTimeout: "nope"}
	if cfg.AccessTTL() != 15*time.Minute {
		t.Errorf("AccessTTL = %v, want 15m", cfg.AccessTTL())
	}
	if cfg.RefreshTTL() != 336*time.Hour {
		t.Errorf("RefreshTTL = %v, want 336h", cfg.RefreshTTL())
	}
	if cfg.StoreTimeoutDuration() != 3*time.Second {
		t.Errorf("StoreTimeout = %v, want 3s", cfg.StoreTimeoutDuration())
	}
}

func TestSameSite(t *testing.T) {
	cases := map[string]http.SameSite{
		"none":   http.SameSiteNoneMode,
		"Strict": http.SameSiteStrictMode,
		"lax":    http.SameSiteLaxMode,
		"":       http.SameSiteLaxMode,
	}
	for in, want := range cases {
		cfg := &Config{CookieSameSite: in}
		if got := cfg.SameSite(); got != want {
			t.Errorf("SameSite(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestKafkaBrokersList(t *testing.T) {
	cfg := &Config{KafkaBrokers: " a:9092, ,b:9092 "}
	got := cfg.KafkaBrokersList()
	if len(got) != 2 || got[0] != "a:9092" || got[1] != "b:9092" {
		t.Errorf("KafkaBrokersList = %v", got)
	}
	var nilCfg *Config
	if nilCfg.KafkaBrokersList() != nil {
		t.Error("nil config should return nil brokers")
	}
}
