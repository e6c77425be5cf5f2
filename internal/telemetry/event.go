package telemetry

import "time"

// Session lifecycle event types.
const (
	EventSessionCreated     = "session.created"
	EventSessionRefreshed   = "session.refreshed"
	EventSessionRevoked     = "session.revoked"
	EventSessionEvicted     = "session.evicted"
	EventSessionVerified    = "session.2fa_verified"
	EventTwoFactorToggled   = "user.2fa_toggled"
	EventMaxSessionsChanged = "user.max_sessions_changed"
)

// Event is one session lifecycle event. It is serialized as JSON onto Kafka and
// mapped to an OTel log record.
type Event struct {
	Type      string         `json:"eventType"`
	Source    string         `json:"source"`
	UserID    string         `json:"userId,omitempty"`
	SessionID string         `json:"sessionId,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// NewEvent returns an Event stamped with the current UTC time.
func NewEvent(eventType, userID, sessionID string) *Event {
	return &Event{
		Type:      eventType,
		Source:    "taskboard-auth",
		UserID:    userID,
		SessionID: sessionID,
		CreatedAt: time.Now().UTC(),
	}
}
