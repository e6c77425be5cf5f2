// Package mfa holds the one-time code primitives: TOTP for the two-factor gate and
// numeric reset codes for password recovery.
package mfa

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image/png"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"taskboard-auth/backend/internal/mfa/domain"
)

const (
	totpPeriod = 30
	totpSkew   = 1
	qrSize     = 200
)

var validateOpts = totp.ValidateOpts{
	Period:    totpPeriod,
	Skew:      totpSkew,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// TOTP generates secrets, provisioning URIs and validates codes (SHA1, 6 digits, 30 s,
// one step of skew either side).
type TOTP struct {
	issuer string
	now    func() time.Time
}

// NewTOTP returns a TOTP whose URIs carry issuer.
func NewTOTP(issuer string) *TOTP {
	return &TOTP{issuer: issuer, now: time.Now}
}

// NewSecret generates a fresh base32 secret for account.
func (t *TOTP) NewSecret(account string) (string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      t.issuer,
		AccountName: account,
		Period:      totpPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", fmt.Errorf("mfa: generate secret: %w", err)
	}
	return key.Secret(), nil
}

// Provision builds the otpauth URI and QR code for an existing secret.
func (t *TOTP) Provision(secret, account string) (*domain.Provisioning, error) {
	q := url.Values{}
	q.Set("secret", secret)
	q.Set("issuer", t.issuer)
	q.Set("algorithm", "SHA1")
	q.Set("digits", "6")
	q.Set("period", strconv.Itoa(totpPeriod))
	u := url.URL{
		Scheme:   "otpauth",
		Host:     "totp",
		Path:     "/" + t.issuer + ":" + account,
		RawQuery: q.Encode(),
	}
	key, err := otp.NewKeyFromURL(u.String())
	if err != nil {
		return nil, fmt.Errorf("mfa: build key: %w", err)
	}
	img, err := key.Image(qrSize, qrSize)
	if err != nil {
		return nil, fmt.Errorf("mfa: render qr: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("mfa: encode qr: %w", err)
	}
	return &domain.Provisioning{
		URI:    key.URL(),
		Secret: secret,
		QRCode: "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()),
	}, nil
}

// Validate reports whether code is valid for secret now. Malformed codes are simply invalid.
func (t *TOTP) Validate(code, secret string) bool {
	code = strings.TrimSpace(code)
	if code == "" || secret == "" {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, t.now().UTC(), validateOpts)
	return err == nil && ok
}
