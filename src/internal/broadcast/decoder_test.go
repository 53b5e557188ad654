package broadcast

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"session-relay-svc/src/internal/identity"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	method  string
	key     identity.Key
	token   string
	payload string
}

type fakeDispatcher struct {
	mu    sync.Mutex
	calls []call
}

func (f *fakeDispatcher) record(c call) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
}

func (f *fakeDispatcher) all() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func (f *fakeDispatcher) ShowLogoutWarning(key identity.Key, tokenValue string) {
	f.record(call{method: "showLogoutWarning", key: key, token: tokenValue})
}

func (f *fakeDispatcher) ForceLogout(key identity.Key, tokenValue string) {
	f.record(call{method: "forceLogout", key: key, token: tokenValue})
}

func (f *fakeDispatcher) Toast(key identity.Key, payload json.RawMessage) {
	f.record(call{method: "toast", key: key, payload: string(payload)})
}

func (f *fakeDispatcher) UpdateToken(key identity.Key, tokenValue, newToken string) {
	f.record(call{method: "updateToken", key: key, token: tokenValue, payload: newToken})
}

func (f *fakeDispatcher) ReloadPage(key identity.Key, tokenValue, link string) {
	f.record(call{method: "reloadPage", key: key, token: tokenValue, payload: link})
}

// newTestDecoder zeroes the delivery delays so dispatch is synchronous.
func newTestDecoder() (*Decoder, *fakeDispatcher) {
	dispatcher := &fakeDispatcher{}
	decoder := NewDecoder(dispatcher)
	decoder.forceLogoutDelay = 0
	decoder.toastDelay = 0
	decoder.reloadDelay = 0
	return decoder, dispatcher
}

func TestHandleLogout(t *testing.T) {
	decoder, dispatcher := newTestDecoder()

	decoder.HandleMessage("logout-alert-host", []byte(`{"data":{"type":"logout","id":42,"role":"user","tokenValue":"tok-A"}}`))

	calls := dispatcher.all()
	require.Len(t, calls, 1)
	assert.Equal(t, "showLogoutWarning", calls[0].method)
	assert.Equal(t, identity.Key{Role: identity.RoleUser, ID: 42}, calls[0].key)
	assert.Equal(t, "tok-A", calls[0].token)
}

func TestHandleForceLogout(t *testing.T) {
	decoder, dispatcher := newTestDecoder()

	decoder.HandleMessage("logout-alert-host", []byte(`{"data":{"type":"forceLogout","id":7,"role":"employee","tokenValue":"tok-B"}}`))

	calls := dispatcher.all()
	require.Len(t, calls, 1)
	assert.Equal(t, "forceLogout", calls[0].method)
	assert.Equal(t, identity.Key{Role: identity.RoleEmployee, ID: 7}, calls[0].key)
}

func TestHandleToastr(t *testing.T) {
	decoder, dispatcher := newTestDecoder()

	decoder.HandleMessage("redis-broadcast-host", []byte(`{"data":{"type":"toastr","id":42,"role":"user","title":"Notice","body":"Hello","options":{"_type":"info"}}}`))

	calls := dispatcher.all()
	require.Len(t, calls, 1)
	assert.Equal(t, "toast", calls[0].method)

	var payload struct {
		Type    string          `json:"type"`
		Title   string          `json:"title"`
		Body    string          `json:"body"`
		Options json.RawMessage `json:"options"`
	}
	require.NoError(t, json.Unmarshal([]byte(calls[0].payload), &payload))
	assert.Equal(t, "toastr", payload.Type)
	assert.Equal(t, "Notice", payload.Title)
	assert.Equal(t, "Hello", payload.Body)
	assert.JSONEq(t, `{"_type":"info"}`, string(payload.Options))
}

func TestHandleUpdateToken(t *testing.T) {
	decoder, dispatcher := newTestDecoder()

	decoder.HandleMessage("redis-broadcast-host", []byte(`{"data":{"type":"update-token","id":42,"role":"user","tokenValue":"tok-A","newTokenOrDashboardLink":"tok-B"}}`))

	calls := dispatcher.all()
	require.Len(t, calls, 1)
	assert.Equal(t, "updateToken", calls[0].method)
	assert.Equal(t, "tok-A", calls[0].token)
	assert.Equal(t, "tok-B", calls[0].payload)
}

func TestHandleReloadPage(t *testing.T) {
	decoder, dispatcher := newTestDecoder()

	decoder.HandleMessage("redis-broadcast-host", []byte(`{"data":{"type":"reload-page","id":42,"role":"user","tokenValue":"tok-A","newTokenOrDashboardLink":"/dashboard"}}`))

	calls := dispatcher.all()
	require.Len(t, calls, 1)
	assert.Equal(t, "reloadPage", calls[0].method)
	assert.Equal(t, "/dashboard", calls[0].payload)
}

func TestStringIDAccepted(t *testing.T) {
	decoder, dispatcher := newTestDecoder()

	decoder.HandleMessage("logout-alert-host", []byte(`{"data":{"type":"logout","id":"42","role":"user","tokenValue":"tok-A"}}`))

	calls := dispatcher.all()
	require.Len(t, calls, 1)
	assert.Equal(t, int64(42), calls[0].key.ID)
}

func TestUnknownTypeDroppedSilently(t *testing.T) {
	decoder, dispatcher := newTestDecoder()

	decoder.HandleMessage("redis-broadcast-host", []byte(`{"data":{"type":"confetti","id":42,"role":"user","tokenValue":"tok-A"}}`))

	assert.Empty(t, dispatcher.all())
}

func TestMalformedPayloadDropped(t *testing.T) {
	decoder, dispatcher := newTestDecoder()

	decoder.HandleMessage("redis-broadcast-host", []byte(`{not json at all`))
	decoder.HandleMessage("redis-broadcast-host", []byte(`{"data":{"type":"logout","role":"user"}}`))
	decoder.HandleMessage("redis-broadcast-host", []byte(`{"data":{"id":42,"role":"user"}}`))

	assert.Empty(t, dispatcher.all())
}

func TestBadMessageDoesNotAffectSubsequentDelivery(t *testing.T) {
	decoder, dispatcher := newTestDecoder()

	decoder.HandleMessage("logout-alert-host", []byte(`garbage`))
	decoder.HandleMessage("logout-alert-host", []byte(`{"data":{"type":"logout","id":42,"role":"user","tokenValue":"tok-A"}}`))

	calls := dispatcher.all()
	require.Len(t, calls, 1)
	assert.Equal(t, "showLogoutWarning", calls[0].method)
}

func TestDelayedDeliveryIsScheduled(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	decoder := NewDecoder(dispatcher)
	decoder.forceLogoutDelay = 10 * time.Millisecond

	decoder.HandleMessage("logout-alert-host", []byte(`{"data":{"type":"forceLogout","id":42,"role":"user","tokenValue":"tok-A"}}`))

	assert.Empty(t, dispatcher.all(), "force logout must not dispatch before its delay")

	require.Eventually(t, func() bool {
		return len(dispatcher.all()) == 1
	}, time.Second, 5*time.Millisecond)
}
