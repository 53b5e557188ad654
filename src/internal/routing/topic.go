// Package routing owns the identity-scoped topic naming scheme. Every
// relay event is addressed by an injective encoding of its kind, the
// identity key and, for token-bound kinds, the token epoch, so that two
// identities or two token epochs can never collide on a topic string.
package routing

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"session-relay-svc/src/internal/identity"
)

// EventKind enumerates every event the relay routes. Kind names never
// contain underscores; the topic grammar depends on it.
type EventKind string

const (
	// Tab-originated events.
	EventCSRFToken        EventKind = "CSRFToken"
	EventUserChanged      EventKind = "userChanged"
	EventPing             EventKind = "ping"
	EventStayLogin        EventKind = "stayLogin"
	EventUserLoggedOut    EventKind = "userLoggedOut"
	EventAjaxLoginSuccess EventKind = "ajaxLoginSuccess"

	// Relay-originated events.
	EventNewBrowserTabConnected EventKind = "newBrowserTabConnected"
	EventShowLogoutTimerModal   EventKind = "showLogoutTimerModal"
	EventForceLogout            EventKind = "forceLogout"
	EventReloadPage             EventKind = "reloadPage"
	EventRedisBroadcast         EventKind = "redisBroadcast"
	EventCountdownTick          EventKind = "countdownTick"
)

const topicPrefix = "socket"

// tokenHashLen is the length of the hex-encoded token digest embedded in
// token-bound topics.
const tokenHashLen = 16

var knownKinds = map[EventKind]bool{
	EventCSRFToken:              true,
	EventUserChanged:            true,
	EventPing:                   true,
	EventStayLogin:              true,
	EventUserLoggedOut:          true,
	EventAjaxLoginSuccess:       true,
	EventNewBrowserTabConnected: true,
	EventShowLogoutTimerModal:   true,
	EventForceLogout:            true,
	EventReloadPage:             true,
	EventRedisBroadcast:         true,
	EventCountdownTick:          true,
}

// TokenBound reports whether topics for the kind embed the token epoch.
// Broadcast toasts are identity-bound but token-agnostic so that a tab
// holding a rotated token still receives them.
func TokenBound(kind EventKind) bool {
	return kind != EventRedisBroadcast
}

// Topic is the structured form of a routed event address.
type Topic struct {
	Kind      EventKind
	Key       identity.Key
	TokenHash string
}

// Encode renders the topic string for the given kind, identity and
// token. Token-bound kinds require a non-empty token; token-agnostic
// kinds ignore it.
func Encode(kind EventKind, key identity.Key, token string) (string, error) {
	if !knownKinds[kind] {
		return "", fmt.Errorf("unknown event kind %q", kind)
	}
	if key.Role == "" {
		return "", fmt.Errorf("event kind %q requires an identity", kind)
	}

	base := fmt.Sprintf("%s_%s_%d_%s", topicPrefix, kind, key.ID, key.Role)

	if !TokenBound(kind) {
		return base, nil
	}

	if token == "" {
		return "", fmt.Errorf("event kind %q requires a token", kind)
	}

	return base + "_" + HashToken(token), nil
}

// Decode parses a topic string back into its structured form.
func Decode(topic string) (Topic, error) {
	parts := strings.Split(topic, "_")
	if len(parts) < 4 || parts[0] != topicPrefix {
		return Topic{}, fmt.Errorf("malformed topic %q", topic)
	}

	kind := EventKind(parts[1])
	if !knownKinds[kind] {
		return Topic{}, fmt.Errorf("unknown event kind in topic %q", topic)
	}

	id, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return Topic{}, fmt.Errorf("malformed id in topic %q", topic)
	}

	role := identity.Role(parts[3])
	if role != identity.RoleUser && role != identity.RoleEmployee {
		return Topic{}, fmt.Errorf("malformed role in topic %q", topic)
	}

	decoded := Topic{Kind: kind, Key: identity.Key{Role: role, ID: id}}

	if TokenBound(kind) {
		if len(parts) != 5 || len(parts[4]) != tokenHashLen {
			return Topic{}, fmt.Errorf("missing token hash in topic %q", topic)
		}
		decoded.TokenHash = parts[4]
		return decoded, nil
	}

	if len(parts) != 4 {
		return Topic{}, fmt.Errorf("unexpected token hash in topic %q", topic)
	}

	return decoded, nil
}

// HashToken digests a raw token value into the fixed-length form used in
// topic strings. Raw tokens never appear in topics.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])[:tokenHashLen]
}
