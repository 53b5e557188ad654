// Package relay drives the per-identity session-coordination state
// machine: tab admission, token rotation, logout-warning countdowns,
// forced logouts and the modal-visibility protocol that keeps at most
// one "session expiring" prompt on screen across all tabs of one
// identity.
package relay

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"session-relay-svc/src/internal/cache"
	"session-relay-svc/src/internal/config"
	"session-relay-svc/src/internal/history"
	"session-relay-svc/src/internal/identity"
	"session-relay-svc/src/internal/models"
	"session-relay-svc/src/internal/presence"
	"session-relay-svc/src/internal/registry"
	"session-relay-svc/src/internal/routing"

	"github.com/sirupsen/logrus"
)

// SessionValidator is the backend capability consulted about real
// authentication state. Checks are asynchronous; answers come back as
// published notifications.
type SessionValidator interface {
	CheckSessionStatus(ctx context.Context, key identity.Key, tokenValue string) error
	Logout(ctx context.Context, key identity.Key, tokenValue string) error
}

// ActivityPublisher receives the audit trail of coordination events.
type ActivityPublisher interface {
	PublishActivity(message *models.ActivityMessage) error
}

// State is the coordination state of one identity.
type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateLogoutWarningShown
	StateLoggedOut
)

// TabInfo carries the admission metadata of one tab connection.
type TabInfo struct {
	SessionID     string
	Key           identity.Key
	Token         string
	AccountID     string
	UserAgent     string
	RemoteAddress string
}

type identityState struct {
	state      State
	token      string
	modalOwner string
	countdown  *countdown
}

type Hub struct {
	registry  *registry.Registry
	presence  presence.Store
	tokens    cache.Service
	history   history.Repository
	validator SessionValidator
	activity  ActivityPublisher
	cfg       *config.RelaySettings

	mu     sync.Mutex
	states map[identity.Key]*identityState

	// tickInterval is one second in production; tests shorten it.
	tickInterval time.Duration
}

func NewHub(
	reg *registry.Registry,
	store presence.Store,
	tokens cache.Service,
	hist history.Repository,
	validator SessionValidator,
	activity ActivityPublisher,
	cfg *config.RelaySettings,
) *Hub {
	return &Hub{
		registry:     reg,
		presence:     store,
		tokens:       tokens,
		history:      hist,
		validator:    validator,
		activity:     activity,
		cfg:          cfg,
		states:       make(map[identity.Key]*identityState),
		tickInterval: time.Second,
	}
}

// Register admits a tab into its identity's room. On a re-entrant
// admission (sibling tabs already open) every sibling is told a new tab
// connected, carrying the latest known token, so open modals close and
// modal visibility resets.
func (h *Hub) Register(session registry.Session, tab TabInfo) {
	count := h.registry.Add(tab.Key, session)

	h.mu.Lock()
	st := h.ensureStateLocked(tab.Key)
	st.state = StateConnected
	if st.token == "" {
		st.token = tab.Token
	}
	latest := h.latestTokenLocked(tab.Key, st)

	if err := h.presence.Upsert(tab.Key, presence.Record{
		AccountID:     tab.AccountID,
		LastActivity:  time.Now(),
		UserAgent:     tab.UserAgent,
		RemoteAddress: tab.RemoteAddress,
	}); err != nil {
		logrus.WithError(err).WithField("identity", tab.Key.String()).Warn("Presence upsert failed on admission")
	}

	if count > 1 {
		h.releaseModalLocked(tab.Key, st)
		h.broadcastLocked(tab.Key, routing.EventNewBrowserTabConnected, tab.Token, marshalString(latest))
	}

	h.publishActivityLocked(tab, models.ActionConnected)
	h.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"identity": tab.Key.String(),
		"tabs":     count,
	}).Info("Identity connected")
}

// Unregister removes a tab. Only when the last tab of the identity is
// gone does the identity become disconnected and its presence record
// deleted; sibling tabs keep the record alive.
func (h *Hub) Unregister(tab TabInfo) {
	remaining := h.registry.Remove(tab.Key, tab.SessionID)
	if remaining > 0 {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if st, ok := h.states[tab.Key]; ok {
		h.releaseModalLocked(tab.Key, st)
		delete(h.states, tab.Key)
	}

	if err := h.presence.Delete(tab.Key); err != nil {
		logrus.WithError(err).WithField("identity", tab.Key.String()).Warn("Presence delete failed on disconnect")
	}

	h.publishActivityLocked(tab, models.ActionDisconnected)

	logrus.WithField("identity", tab.Key.String()).Info("Identity fully disconnected")
}

// HandleCSRFToken propagates the token a freshly loaded tab announced to
// every sibling tab under the announcing tab's token epoch.
func (h *Hub) HandleCSRFToken(tab TabInfo, token string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	st := h.ensureStateLocked(tab.Key)
	if token != "" {
		st.token = token
		h.storeTokenLocked(tab.Key, token)
	}

	h.releaseModalLocked(tab.Key, st)
	st.state = StateConnected
	h.broadcastLocked(tab.Key, routing.EventNewBrowserTabConnected, tab.Token, marshalString(token))
}

// HandleStayLogin confirms the identity wants to stay logged in: the
// countdown stops, modal visibility frees up and every tab is told.
func (h *Hub) HandleStayLogin(tab TabInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()

	st := h.ensureStateLocked(tab.Key)
	h.releaseModalLocked(tab.Key, st)
	st.state = StateConnected

	if err := h.presence.Upsert(tab.Key, presence.Record{
		AccountID:     tab.AccountID,
		LastActivity:  time.Now(),
		UserAgent:     tab.UserAgent,
		RemoteAddress: tab.RemoteAddress,
	}); err != nil {
		logrus.WithError(err).WithField("identity", tab.Key.String()).Warn("Presence upsert failed on stay-login")
	}

	h.broadcastLocked(tab.Key, routing.EventStayLogin, tab.Token, nil)
	h.publishActivityLocked(tab, models.ActionStayLoggedIn)
}

// HandleUserLoggedOut reacts to a tab having completed the backend
// logout call: presence goes away and every tab renders the login
// prompt.
func (h *Hub) HandleUserLoggedOut(tab TabInfo, payload json.RawMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()

	st := h.ensureStateLocked(tab.Key)
	h.releaseModalLocked(tab.Key, st)
	st.state = StateLoggedOut

	if err := h.presence.Delete(tab.Key); err != nil {
		logrus.WithError(err).WithField("identity", tab.Key.String()).Warn("Presence delete failed on logout")
	}

	h.broadcastLocked(tab.Key, routing.EventUserLoggedOut, tab.Token, payload)
	h.recordHistory(tab, models.ActionLoggedOut)
	h.publishActivityLocked(tab, models.ActionLoggedOut)
}

// HandleAjaxLoginSuccess re-admits the identity after an inline login:
// the new token rotates out to every sibling tab exactly like a new tab
// connecting.
func (h *Hub) HandleAjaxLoginSuccess(tab TabInfo, newToken string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	st := h.ensureStateLocked(tab.Key)
	h.releaseModalLocked(tab.Key, st)
	st.state = StateConnected
	if newToken != "" {
		st.token = newToken
		h.storeTokenLocked(tab.Key, newToken)
	}

	if err := h.presence.Upsert(tab.Key, presence.Record{
		AccountID:     tab.AccountID,
		LastActivity:  time.Now(),
		UserAgent:     tab.UserAgent,
		RemoteAddress: tab.RemoteAddress,
	}); err != nil {
		logrus.WithError(err).WithField("identity", tab.Key.String()).Warn("Presence upsert failed on login")
	}

	h.broadcastLocked(tab.Key, routing.EventNewBrowserTabConnected, tab.Token, marshalString(newToken))
	h.recordHistory(tab, models.ActionLoginSuccess)
	h.publishActivityLocked(tab, models.ActionLoginSuccess)
}

// HandleUserChanged reacts to a login that succeeded for a different
// identity than the one connected: every tab gets a full-page reload
// instruction pointing at the new identity's dashboard.
func (h *Hub) HandleUserChanged(tab TabInfo, dashboardLink string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.broadcastLocked(tab.Key, routing.EventReloadPage, tab.Token, marshalString(dashboardLink))
	h.recordHistory(tab, models.ActionUserChanged)
	h.publishActivityLocked(tab, models.ActionUserChanged)
}

// HandlePing triggers an asynchronous backend session-status check. The
// verdict arrives later on the notification channels.
func (h *Hub) HandlePing(tab TabInfo) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := h.validator.CheckSessionStatus(ctx, tab.Key, tab.Token); err != nil {
			logrus.WithError(err).WithField("identity", tab.Key.String()).Warn("Session status check failed")
		}
	}()
}

// ShowLogoutWarning claims modal visibility for the identity and starts
// the logout countdown on the longest-connected tab. A second warning
// while one is already claimed is a no-op.
func (h *Hub) ShowLogoutWarning(key identity.Key, tokenValue string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.registry.HasLiveConnections(key) {
		logrus.WithField("identity", key.String()).Debug("Logout warning for identity with no live tabs, dropped")
		return
	}

	st := h.ensureStateLocked(key)
	if st.modalOwner != "" || st.state == StateLogoutWarningShown {
		logrus.WithField("identity", key.String()).Debug("Modal visibility already claimed, logout warning dropped")
		return
	}

	owner, ok := h.registry.Oldest(key)
	if !ok {
		return
	}

	st.state = StateLogoutWarningShown
	st.modalOwner = owner.SessionID()
	st.countdown = h.startCountdownLocked(key, tokenValue, owner.SessionID())

	h.sendToLocked(key, owner.SessionID(), routing.EventShowLogoutTimerModal, tokenValue, nil)

	logrus.WithFields(logrus.Fields{
		"identity": key.String(),
		"owner":    owner.SessionID(),
	}).Info("Logout warning shown, countdown started")
}

// ForceLogout transitions the identity to logged out immediately,
// cancelling any running countdown. Each tab then runs the logout flow
// and reports back with a logged-out event.
func (h *Hub) ForceLogout(key identity.Key, tokenValue string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	st := h.ensureStateLocked(key)
	h.releaseModalLocked(key, st)
	st.state = StateLoggedOut

	h.broadcastLocked(key, routing.EventForceLogout, tokenValue, nil)
	h.recordHistory(TabInfo{Key: key, Token: tokenValue}, models.ActionForceLogout)

	logrus.WithField("identity", key.String()).Info("Force logout broadcast")
}

// Toast fans a backend broadcast notification out to every tab of the
// identity, regardless of token epoch.
func (h *Hub) Toast(key identity.Key, payload json.RawMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.broadcastLocked(key, routing.EventRedisBroadcast, "", payload)
}

// UpdateToken rotates the identity's token from the backend side; every
// tab treats it like a new tab connecting with a fresh token.
func (h *Hub) UpdateToken(key identity.Key, tokenValue, newToken string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	st := h.ensureStateLocked(key)
	h.releaseModalLocked(key, st)
	st.state = StateConnected
	if newToken != "" {
		st.token = newToken
		h.storeTokenLocked(key, newToken)
	}

	h.broadcastLocked(key, routing.EventNewBrowserTabConnected, tokenValue, marshalString(newToken))
	h.recordHistory(TabInfo{Key: key, Token: tokenValue}, models.ActionTokenRotated)
}

// ReloadPage instructs every tab of the identity to navigate to the
// given link.
func (h *Hub) ReloadPage(key identity.Key, tokenValue, link string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.broadcastLocked(key, routing.EventReloadPage, tokenValue, marshalString(link))
}

// IdentityState reports the current coordination state of an identity.
func (h *Hub) IdentityState(key identity.Key) State {
	h.mu.Lock()
	defer h.mu.Unlock()

	st, ok := h.states[key]
	if !ok {
		return StateDisconnected
	}
	return st.state
}

// countdownExpired fires when the logout warning ran to zero without a
// stay-logged-in confirmation. The transition happens at most once; a
// late tick after the identity already left the warning state is
// ignored.
func (h *Hub) countdownExpired(key identity.Key, tokenValue string) {
	h.mu.Lock()

	st, ok := h.states[key]
	if !ok || st.state != StateLogoutWarningShown {
		h.mu.Unlock()
		return
	}

	st.state = StateLoggedOut
	st.modalOwner = ""
	st.countdown = nil

	if err := h.presence.Delete(key); err != nil {
		logrus.WithError(err).WithField("identity", key.String()).Warn("Presence delete failed on countdown expiry")
	}

	h.broadcastLocked(key, routing.EventUserLoggedOut, tokenValue, nil)
	h.recordHistory(TabInfo{Key: key, Token: tokenValue}, models.ActionLoggedOut)
	h.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := h.validator.Logout(ctx, key, tokenValue); err != nil {
			logrus.WithError(err).WithField("identity", key.String()).Error("Backend logout call failed")
		}
	}()

	logrus.WithField("identity", key.String()).Info("Logout countdown expired, identity logged out")
}

func (h *Hub) ensureStateLocked(key identity.Key) *identityState {
	st, ok := h.states[key]
	if !ok {
		st = &identityState{state: StateDisconnected}
		h.states[key] = st
	}
	return st
}

// releaseModalLocked frees modal visibility and cancels the countdown.
// Every transition away from the warning state funnels through here so
// no exit path leaves a stale timer running.
func (h *Hub) releaseModalLocked(key identity.Key, st *identityState) {
	st.modalOwner = ""
	if st.countdown != nil {
		st.countdown.cancel()
		st.countdown = nil
	}
}

func (h *Hub) broadcastLocked(key identity.Key, kind routing.EventKind, token string, data json.RawMessage) {
	topic, err := routing.Encode(kind, key, token)
	if err != nil {
		logrus.WithError(err).WithField("kind", string(kind)).Error("Failed to encode broadcast topic")
		return
	}
	h.registry.Broadcast(key, topic, data)
}

func (h *Hub) sendToLocked(key identity.Key, sessionID string, kind routing.EventKind, token string, data json.RawMessage) {
	topic, err := routing.Encode(kind, key, token)
	if err != nil {
		logrus.WithError(err).WithField("kind", string(kind)).Error("Failed to encode topic")
		return
	}
	h.registry.SendTo(key, sessionID, topic, data)
}

func (h *Hub) latestTokenLocked(key identity.Key, st *identityState) string {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	token, err := h.tokens.LatestToken(ctx, key)
	if err != nil || token == "" {
		return st.token
	}
	return token
}

func (h *Hub) storeTokenLocked(key identity.Key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := h.tokens.StoreToken(ctx, key, token); err != nil {
		logrus.WithError(err).WithField("identity", key.String()).Warn("Failed to cache rotated token")
	}
}

func (h *Hub) publishActivityLocked(tab TabInfo, action string) {
	err := h.activity.PublishActivity(&models.ActivityMessage{
		Role:        tab.Key.Role.String(),
		UserID:      tab.Key.ID,
		AccountID:   tab.AccountID,
		ServiceName: models.ServiceRelayHub,
		Action:      action,
		IPAddress:   tab.RemoteAddress,
		UserAgent:   tab.UserAgent,
	})
	if err != nil {
		logrus.WithError(err).WithField("action", action).Warn("Failed to publish activity")
	}
}

// recordHistory appends to the durable audit trail off the event path.
func (h *Hub) recordHistory(tab TabInfo, action string) {
	entry := &history.Entry{
		Role:      tab.Key.Role.String(),
		UserID:    tab.Key.ID,
		AccountID: tab.AccountID,
		Action:    action,
		IPAddress: tab.RemoteAddress,
		UserAgent: tab.UserAgent,
		Timestamp: time.Now(),
	}
	if tab.Token != "" {
		entry.TokenHash = routing.HashToken(tab.Token)
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.history.Record(ctx, entry); err != nil {
			logrus.WithError(err).WithField("action", action).Warn("Failed to record history entry")
		}
	}()
}

func marshalString(s string) json.RawMessage {
	data, _ := json.Marshal(s)
	return data
}
