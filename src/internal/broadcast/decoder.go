// Package broadcast consumes backend-published notifications from the
// two deployment-scoped Redis channels, classifies them by type and
// dispatches into the relay with type-specific delay and targeting
// policy.
package broadcast

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"session-relay-svc/src/internal/identity"

	"github.com/sirupsen/logrus"
)

// Dispatcher is the relay-core surface the decoder feeds.
type Dispatcher interface {
	ShowLogoutWarning(key identity.Key, tokenValue string)
	ForceLogout(key identity.Key, tokenValue string)
	Toast(key identity.Key, payload json.RawMessage)
	UpdateToken(key identity.Key, tokenValue, newToken string)
	ReloadPage(key identity.Key, tokenValue, link string)
}

// Notification type constants, as published by the backend.
const (
	TypeLogout      = "logout"
	TypeForceLogout = "forceLogout"
	TypeToastr      = "toastr"
	TypeUpdateToken = "update-token"
	TypeReloadPage  = "reload-page"
)

// flexID tolerates backends publishing the id as a number or a string.
type flexID int64

func (f *flexID) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	if raw == "" || raw == "null" {
		return fmt.Errorf("empty id")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return err
	}
	*f = flexID(id)
	return nil
}

// Notification is the typed payload inside the published envelope.
type Notification struct {
	Type                    string          `json:"type"`
	ID                      flexID          `json:"id"`
	Role                    string          `json:"role"`
	TokenValue              string          `json:"tokenValue"`
	Title                   string          `json:"title,omitempty"`
	Body                    string          `json:"body,omitempty"`
	Options                 json.RawMessage `json:"options,omitempty"`
	NewTokenOrDashboardLink string          `json:"newTokenOrDashboardLink,omitempty"`
}

type envelope struct {
	Data Notification `json:"data"`
}

// toastPayload is what tabs receive for a toastr notification.
type toastPayload struct {
	Type    string          `json:"type"`
	Title   string          `json:"title"`
	Body    string          `json:"body"`
	Options json.RawMessage `json:"options"`
}

// Delivery delays per notification type. Delayed deliveries are
// fire-and-forget once scheduled.
const (
	forceLogoutDelay = 300 * time.Millisecond
	toastDelay       = 3 * time.Second
	reloadDelay      = 3 * time.Second
)

type Decoder struct {
	dispatcher Dispatcher

	forceLogoutDelay time.Duration
	toastDelay       time.Duration
	reloadDelay      time.Duration
}

func NewDecoder(dispatcher Dispatcher) *Decoder {
	return &Decoder{
		dispatcher:       dispatcher,
		forceLogoutDelay: forceLogoutDelay,
		toastDelay:       toastDelay,
		reloadDelay:      reloadDelay,
	}
}

// HandleMessage decodes one published message and dispatches it. A
// malformed or unknown message is dropped; it never stops the loop or
// affects delivery of subsequent messages.
func (d *Decoder) HandleMessage(channel string, payload []byte) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		logrus.WithError(err).WithField("channel", channel).Warn("Malformed notification payload, dropped")
		return
	}

	n := env.Data
	if n.Type == "" {
		logrus.WithField("channel", channel).Warn("Notification without type, dropped")
		return
	}

	if n.Role == "" || n.ID == 0 {
		logrus.WithFields(logrus.Fields{
			"channel": channel,
			"type":    n.Type,
		}).Warn("Notification without identity, dropped")
		return
	}

	key := identity.Key{Role: identity.ParseRole(n.Role), ID: int64(n.ID)}

	log := logrus.WithFields(logrus.Fields{
		"channel":  channel,
		"type":     n.Type,
		"identity": key.String(),
	})

	switch n.Type {
	case TypeLogout:
		log.Debug("Dispatching logout warning")
		d.dispatcher.ShowLogoutWarning(key, n.TokenValue)

	case TypeForceLogout:
		log.Debug("Scheduling force logout")
		d.schedule(d.forceLogoutDelay, func() {
			d.dispatcher.ForceLogout(key, n.TokenValue)
		})

	case TypeToastr:
		data, err := json.Marshal(toastPayload{
			Type:    n.Type,
			Title:   n.Title,
			Body:    n.Body,
			Options: n.Options,
		})
		if err != nil {
			log.WithError(err).Warn("Failed to serialize toast payload, dropped")
			return
		}
		log.Debug("Scheduling toast broadcast")
		d.schedule(d.toastDelay, func() {
			d.dispatcher.Toast(key, data)
		})

	case TypeUpdateToken:
		log.Debug("Dispatching token update")
		d.dispatcher.UpdateToken(key, n.TokenValue, n.NewTokenOrDashboardLink)

	case TypeReloadPage:
		log.Debug("Scheduling page reload")
		d.schedule(d.reloadDelay, func() {
			d.dispatcher.ReloadPage(key, n.TokenValue, n.NewTokenOrDashboardLink)
		})

	default:
		// Unknown types are dropped silently.
		log.Debug("Unknown notification type, dropped")
	}
}

func (d *Decoder) schedule(delay time.Duration, fn func()) {
	if delay <= 0 {
		fn()
		return
	}
	time.AfterFunc(delay, fn)
}
