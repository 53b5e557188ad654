// Package registry tracks which live tab connections belong to which
// identity. Membership is in-memory and authoritative for this process;
// it is the sole signal deciding whether a disconnect should tear down
// presence.
package registry

import (
	"encoding/json"
	"sync"

	"session-relay-svc/src/internal/identity"

	"github.com/sirupsen/logrus"
)

// Session is one live tab connection attached to an identity's room.
// Deliver must not block; transports queue internally.
type Session interface {
	SessionID() string
	Deliver(event string, data json.RawMessage)
}

type member struct {
	session Session
	seq     uint64
}

type Registry struct {
	mu    sync.RWMutex
	rooms map[identity.Key]map[string]member
	seq   uint64
}

func New() *Registry {
	return &Registry{
		rooms: make(map[identity.Key]map[string]member),
	}
}

// Add admits a session into its identity's room and returns the number
// of live connections after admission.
func (r *Registry) Add(key identity.Key, session Session) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[key]
	if !ok {
		room = make(map[string]member)
		r.rooms[key] = room
	}

	r.seq++
	room[session.SessionID()] = member{session: session, seq: r.seq}

	logrus.WithFields(logrus.Fields{
		"identity":   key.String(),
		"session_id": session.SessionID(),
		"tabs":       len(room),
	}).Info("Tab admitted to room")

	return len(room)
}

// Remove drops a session from its room and returns how many live
// connections remain. The room itself is removed when it empties.
func (r *Registry) Remove(key identity.Key, sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[key]
	if !ok {
		return 0
	}

	delete(room, sessionID)
	remaining := len(room)
	if remaining == 0 {
		delete(r.rooms, key)
	}

	logrus.WithFields(logrus.Fields{
		"identity":   key.String(),
		"session_id": sessionID,
		"tabs":       remaining,
	}).Info("Tab removed from room")

	return remaining
}

func (r *Registry) HasLiveConnections(key identity.Key) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[key]) > 0
}

func (r *Registry) Count(key identity.Key) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[key])
}

// Broadcast delivers an event to every tab in the identity's room and
// returns how many tabs were addressed.
func (r *Registry) Broadcast(key identity.Key, event string, data json.RawMessage) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room := r.rooms[key]
	for _, m := range room {
		m.session.Deliver(event, data)
	}
	return len(room)
}

// SendTo delivers an event to a single tab in the identity's room.
func (r *Registry) SendTo(key identity.Key, sessionID, event string, data json.RawMessage) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.rooms[key][sessionID]
	if !ok {
		return false
	}
	m.session.Deliver(event, data)
	return true
}

// Oldest returns the longest-connected tab of the identity. The relay
// uses it to grant logout-warning modal ownership deterministically.
func (r *Registry) Oldest(key identity.Key) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best member
	found := false
	for _, m := range r.rooms[key] {
		if !found || m.seq < best.seq {
			best = m
			found = true
		}
	}
	if !found {
		return nil, false
	}
	return best.session, true
}
