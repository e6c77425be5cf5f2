package security

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when a token is malformed, has a bad signature,
	// or was issued for another issuer, audience or token kind.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired is returned when a correctly signed token is past its expiry.
	ErrTokenExpired = errors.New("token expired")
)

// Kind selects the secret and lifetime used for a token.
type Kind int

const (
	KindAccess Kind = iota
	KindRefresh
)

func (k Kind) String() string {
	if k == KindRefresh {
		return "refresh"
	}
	return "access"
}

// Claims holds JWT claims shared by access and refresh tokens. Tokens carry the
// session handle and identity only, never credentials.
type Claims struct {
	jwt.RegisteredClaims
	Email     string `json:"email"`
	SessionID string `json:"session_id"`
}

// UserID returns the subject claim.
func (c *Claims) UserID() string { return c.Subject }

type kindKey struct {
	secret []byte
	ttl    time.Duration
}

// TokenProvider issues and verifies HS256 JWTs. Access and refresh tokens are signed
// with distinct secrets, so a token of one kind never verifies as the other.
type TokenProvider struct {
	keys     map[Kind]kindKey
	issuer   string
	audience string
	now      func() time.Time
}

// NewTokenProvider returns a TokenProvider. issuer and audience are set on claims and
// validated on every Verify.
func NewTokenProvider(accessSecret, refreshSecret []byte, issuer, audience string, accessTTL, refreshTTL time.Duration) *TokenProvider {
	return &TokenProvider{
		keys: map[Kind]kindKey{
			KindAccess:  {secret: accessSecret, ttl: accessTTL},
			KindRefresh: {secret: refreshSecret, ttl: refreshTTL},
		},
		issuer:   issuer,
		audience: audience,
		now:      time.Now,
	}
}

// TTL returns the lifetime of tokens of the given kind.
func (p *TokenProvider) TTL(kind Kind) time.Duration {
	return p.keys[kind].ttl
}

// Issue mints a signed token of the given kind for the session.
// Returns the token string and its expiration time.
func (p *TokenProvider) Issue(kind Kind, userID, email, sessionID string) (token string, expiresAt time.Time, err error) {
	key, ok := p.keys[kind]
	if !ok || len(key.secret) == 0 {
		return "", time.Time{}, ErrInvalidToken
	}
	jti, err := generateJTI()
	if err != nil {
		return "", time.Time{}, err
	}
	now := p.now().UTC()
	expiresAt = now.Add(key.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   userID,
			Issuer:    p.issuer,
			Audience:  jwt.ClaimStrings{p.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Email:     email,
		SessionID: sessionID,
	}
	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// IssueAccess mints an access token.
func (p *TokenProvider) IssueAccess(userID, email, sessionID string) (string, time.Time, error) {
	return p.Issue(KindAccess, userID, email, sessionID)
}

// IssueRefresh mints a refresh token.
func (p *TokenProvider) IssueRefresh(userID, email, sessionID string) (string, time.Time, error) {
	return p.Issue(KindRefresh, userID, email, sessionID)
}

// Verify checks signature and expiry of a token of the given kind in one pass.
// Returns ErrTokenExpired only for a correctly signed token from this issuer whose
// sole defect is expiry; every other failure is ErrInvalidToken.
func (p *TokenProvider) Verify(kind Kind, tokenString string) (*Claims, error) {
	key, ok := p.keys[kind]
	if !ok || len(key.secret) == 0 || tokenString == "" {
		return nil, ErrInvalidToken
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return key.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) && !errors.Is(err, jwt.ErrTokenSignatureInvalid) && p.claimsMatch(claims) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	if !token.Valid || !p.claimsMatch(claims) {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (p *TokenProvider) claimsMatch(claims *Claims) bool {
	if claims.Issuer != p.issuer || claims.SessionID == "" || claims.Subject == "" {
		return false
	}
	for _, a := range claims.Audience {
		if a == p.audience {
			return true
		}
	}
	return false
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
