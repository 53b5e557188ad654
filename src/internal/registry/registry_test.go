package registry

import (
	"encoding/json"
	"sync"
	"testing"

	"session-relay-svc/src/internal/identity"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	id string

	mu     sync.Mutex
	events []string
}

func (f *fakeSession) SessionID() string { return f.id }

func (f *fakeSession) Deliver(event string, data json.RawMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakeSession) received() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

func TestAddRemove(t *testing.T) {
	reg := New()
	key := identity.Key{Role: identity.RoleUser, ID: 42}

	assert.Equal(t, 1, reg.Add(key, &fakeSession{id: "a"}))
	assert.Equal(t, 2, reg.Add(key, &fakeSession{id: "b"}))
	assert.True(t, reg.HasLiveConnections(key))

	assert.Equal(t, 1, reg.Remove(key, "a"))
	assert.True(t, reg.HasLiveConnections(key))

	assert.Equal(t, 0, reg.Remove(key, "b"))
	assert.False(t, reg.HasLiveConnections(key))
}

func TestRemoveUnknownRoom(t *testing.T) {
	reg := New()
	assert.Equal(t, 0, reg.Remove(identity.Key{Role: identity.RoleUser, ID: 1}, "x"))
}

func TestBroadcastScopedToRoom(t *testing.T) {
	reg := New()
	userKey := identity.Key{Role: identity.RoleUser, ID: 42}
	employeeKey := identity.Key{Role: identity.RoleEmployee, ID: 42}

	a := &fakeSession{id: "a"}
	b := &fakeSession{id: "b"}
	other := &fakeSession{id: "c"}

	reg.Add(userKey, a)
	reg.Add(userKey, b)
	reg.Add(employeeKey, other)

	delivered := reg.Broadcast(userKey, "evt", nil)

	assert.Equal(t, 2, delivered)
	assert.Equal(t, []string{"evt"}, a.received())
	assert.Equal(t, []string{"evt"}, b.received())
	assert.Empty(t, other.received())
}

func TestSendTo(t *testing.T) {
	reg := New()
	key := identity.Key{Role: identity.RoleUser, ID: 42}

	a := &fakeSession{id: "a"}
	b := &fakeSession{id: "b"}
	reg.Add(key, a)
	reg.Add(key, b)

	assert.True(t, reg.SendTo(key, "a", "evt", nil))
	assert.Equal(t, []string{"evt"}, a.received())
	assert.Empty(t, b.received())

	assert.False(t, reg.SendTo(key, "missing", "evt", nil))
}

func TestOldestPicksFirstAdmitted(t *testing.T) {
	reg := New()
	key := identity.Key{Role: identity.RoleEmployee, ID: 7}

	reg.Add(key, &fakeSession{id: "first"})
	reg.Add(key, &fakeSession{id: "second"})

	oldest, ok := reg.Oldest(key)
	require.True(t, ok)
	assert.Equal(t, "first", oldest.SessionID())

	reg.Remove(key, "first")
	oldest, ok = reg.Oldest(key)
	require.True(t, ok)
	assert.Equal(t, "second", oldest.SessionID())

	reg.Remove(key, "second")
	_, ok = reg.Oldest(key)
	assert.False(t, ok)
}
