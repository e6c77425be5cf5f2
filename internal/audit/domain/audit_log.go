package domain

import "time"

// AuditLog represents one security event on an account or session.
type AuditLog struct {
	ID        string
	UserID    string
	SessionID string
	Action    string
	Resource  string
	IP        string
	Metadata  string // JSON object or empty
	CreatedAt time.Time
}
