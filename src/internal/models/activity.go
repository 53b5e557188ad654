package models

import "time"

// ActivityMessage is the audit event published to RabbitMQ for every
// session-coordination action the relay observes.
type ActivityMessage struct {
	Role        string            `json:"role"`
	UserID      int64             `json:"user_id"`
	AccountID   string            `json:"account_id,omitempty"`
	ServiceName string            `json:"service_name"`
	Action      string            `json:"action"`
	IPAddress   string            `json:"ip_address,omitempty"`
	UserAgent   string            `json:"user_agent,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

// Activity action constants
const (
	ActionConnected    = "connected"
	ActionDisconnected = "disconnected"
	ActionStayLoggedIn = "stay_logged_in"
	ActionLoggedOut    = "logged_out"
	ActionForceLogout  = "force_logout"
	ActionLoginSuccess = "login_success"
	ActionUserChanged  = "user_changed"
	ActionTokenRotated = "token_rotated"
)

// Service name constants
const (
	ServiceRelayHub     = "relay.hub"
	ServiceRelaySession = "relay.session"
	ServiceDecoder      = "relay.decoder"
)
