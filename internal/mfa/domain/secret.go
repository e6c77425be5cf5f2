package domain

import "time"

// Secret is a user's TOTP shared secret. It is created on first provisioning and never rotated.
type Secret struct {
	UserID    string
	Secret    string // base32, no padding
	CreatedAt time.Time
}

// Provisioning is what an authenticator app needs to enrol the secret.
type Provisioning struct {
	URI    string `json:"uri"`
	Secret string `json:"secret"`
	// QRCode is a data:image/png;base64 URL encoding URI.
	QRCode string `json:"qrCode"`
}
