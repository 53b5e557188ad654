package relay

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"session-relay-svc/src/internal/config"
	"session-relay-svc/src/internal/identity"
	"session-relay-svc/src/internal/routing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// frame is the wire format exchanged with tabs: an identity-scoped
// topic string plus an opaque payload.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsSession is one live tab connection. It owns the read and write
// pumps and maps inbound topic strings onto hub handlers. Topics are
// derived from the tab's own token epoch, so events emitted under a
// rotated token simply stop matching and are dropped.
type wsSession struct {
	id   string
	conn *websocket.Conn
	hub  *Hub
	tab  TabInfo

	send   chan frame
	topics map[string]routing.EventKind

	pingInterval time.Duration
	closeOnce    sync.Once
	done         chan struct{}
}

func (s *wsSession) SessionID() string {
	return s.id
}

// Deliver queues an event for the tab without blocking. A tab that
// cannot drain its queue has its frames dropped, not the relay stalled.
func (s *wsSession) Deliver(event string, data json.RawMessage) {
	select {
	case s.send <- frame{Event: event, Data: data}:
	case <-s.done:
	default:
		logrus.WithFields(logrus.Fields{
			"session_id": s.id,
			"event":      event,
		}).Warn("Tab send queue full, frame dropped")
	}
}

// ServeWS admits tab connections on the websocket endpoint. Admission
// requires id, role and tokenValue query parameters; an identity-less
// connection is rejected before the upgrade and joins no room.
func ServeWS(hub *Hub, cfg *config.RelaySettings) gin.HandlerFunc {
	return func(c *gin.Context) {
		key, err := identity.FromQuery(c.Query("id"), c.Query("role"))
		if err != nil {
			logrus.WithError(err).Warn("Connection rejected at admission")
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		token := c.Query("tokenValue")
		if token == "" {
			logrus.WithField("identity", key.String()).Warn("Connection rejected: missing tokenValue")
			c.JSON(http.StatusBadRequest, gin.H{"error": "tokenValue is required"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logrus.WithError(err).Error("Websocket upgrade failed")
			return
		}

		tab := TabInfo{
			SessionID:     uuid.NewString(),
			Key:           key,
			Token:         token,
			AccountID:     c.Query("account_id"),
			UserAgent:     c.Request.UserAgent(),
			RemoteAddress: clientAddress(c),
		}

		session := newWSSession(hub, conn, tab, cfg)
		hub.Register(session, tab)

		go session.writePump()
		go session.readPump()
	}
}

func newWSSession(hub *Hub, conn *websocket.Conn, tab TabInfo, cfg *config.RelaySettings) *wsSession {
	bufferSize := cfg.SendBufferSize
	if bufferSize <= 0 {
		bufferSize = 32
	}

	pingInterval := time.Duration(cfg.PingIntervalSec) * time.Second
	if pingInterval <= 0 {
		pingInterval = 60 * time.Second
	}

	return &wsSession{
		id:           tab.SessionID,
		conn:         conn,
		hub:          hub,
		tab:          tab,
		send:         make(chan frame, bufferSize),
		topics:       inboundTopics(tab),
		pingInterval: pingInterval,
		done:         make(chan struct{}),
	}
}

// inboundTopics precomputes the topic strings this tab is allowed to
// emit, all bound to its identity and token epoch.
func inboundTopics(tab TabInfo) map[string]routing.EventKind {
	kinds := []routing.EventKind{
		routing.EventCSRFToken,
		routing.EventUserChanged,
		routing.EventPing,
		routing.EventStayLogin,
		routing.EventUserLoggedOut,
		routing.EventAjaxLoginSuccess,
	}

	topics := make(map[string]routing.EventKind, len(kinds))
	for _, kind := range kinds {
		topic, err := routing.Encode(kind, tab.Key, tab.Token)
		if err != nil {
			logrus.WithError(err).WithField("kind", string(kind)).Error("Failed to encode inbound topic")
			continue
		}
		topics[topic] = kind
	}
	return topics
}

func (s *wsSession) readPump() {
	defer s.close()

	pongWait := s.pingInterval + 10*time.Second
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logrus.WithError(err).WithField("session_id", s.id).Debug("Tab connection closed unexpectedly")
			}
			return
		}

		var f frame
		if err := json.Unmarshal(payload, &f); err != nil {
			logrus.WithError(err).WithField("session_id", s.id).Warn("Malformed frame from tab, dropped")
			continue
		}

		s.dispatch(f)
	}
}

// dispatch routes one inbound frame. Topics from a foreign identity or
// a stale token epoch do not match and are dropped.
func (s *wsSession) dispatch(f frame) {
	kind, ok := s.topics[f.Event]
	if !ok {
		logrus.WithFields(logrus.Fields{
			"session_id": s.id,
			"event":      f.Event,
		}).Debug("Unroutable event from tab, dropped")
		return
	}

	switch kind {
	case routing.EventCSRFToken:
		s.hub.HandleCSRFToken(s.tab, decodeString(f.Data))
	case routing.EventUserChanged:
		s.hub.HandleUserChanged(s.tab, decodeString(f.Data))
	case routing.EventPing:
		s.hub.HandlePing(s.tab)
	case routing.EventStayLogin:
		s.hub.HandleStayLogin(s.tab)
	case routing.EventUserLoggedOut:
		s.hub.HandleUserLoggedOut(s.tab, f.Data)
	case routing.EventAjaxLoginSuccess:
		s.hub.HandleAjaxLoginSuccess(s.tab, decodeString(f.Data))
	}
}

func (s *wsSession) writePump() {
	ticker := time.NewTicker(s.pingInterval)
	defer func() {
		ticker.Stop()
		s.close()
	}()

	for {
		select {
		case <-s.done:
			return
		case f := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(f); err != nil {
				logrus.WithError(err).WithField("session_id", s.id).Debug("Write to tab failed")
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *wsSession) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
		s.hub.Unregister(s.tab)
	})
}

func decodeString(data json.RawMessage) string {
	if len(data) == 0 {
		return ""
	}
	var value string
	if err := json.Unmarshal(data, &value); err != nil {
		// Tabs occasionally emit bare strings rather than JSON.
		return strings.Trim(string(data), `"`)
	}
	return value
}

func clientAddress(c *gin.Context) string {
	addr := c.ClientIP()
	// Strip IPv6 mapping noise the way the legacy relay did.
	addr = strings.TrimPrefix(addr, "::ffff:")
	return addr
}
