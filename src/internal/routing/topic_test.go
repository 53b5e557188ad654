package routing

import (
	"testing"

	"session-relay-svc/src/internal/identity"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	key := identity.Key{Role: identity.RoleUser, ID: 42}

	topic, err := Encode(EventStayLogin, key, "tok-A")
	require.NoError(t, err)

	decoded, err := Decode(topic)
	require.NoError(t, err)
	assert.Equal(t, EventStayLogin, decoded.Kind)
	assert.Equal(t, key, decoded.Key)
	assert.Equal(t, HashToken("tok-A"), decoded.TokenHash)
}

func TestEncodeTokenAgnosticKind(t *testing.T) {
	key := identity.Key{Role: identity.RoleEmployee, ID: 7}

	topic, err := Encode(EventRedisBroadcast, key, "")
	require.NoError(t, err)

	decoded, err := Decode(topic)
	require.NoError(t, err)
	assert.Equal(t, EventRedisBroadcast, decoded.Kind)
	assert.Empty(t, decoded.TokenHash)
}

func TestEncodeInjective(t *testing.T) {
	seen := map[string]bool{}

	keys := []identity.Key{
		{Role: identity.RoleUser, ID: 42},
		{Role: identity.RoleEmployee, ID: 42},
		{Role: identity.RoleUser, ID: 421},
	}
	tokens := []string{"tok-A", "tok-B"}

	for _, key := range keys {
		for _, token := range tokens {
			topic, err := Encode(EventUserLoggedOut, key, token)
			require.NoError(t, err)
			assert.False(t, seen[topic], "topic collision: %s", topic)
			seen[topic] = true
		}
	}
}

func TestTokenEpochsDoNotCollide(t *testing.T) {
	key := identity.Key{Role: identity.RoleUser, ID: 1}

	oldEpoch, err := Encode(EventNewBrowserTabConnected, key, "tok-old")
	require.NoError(t, err)
	newEpoch, err := Encode(EventNewBrowserTabConnected, key, "tok-new")
	require.NoError(t, err)

	assert.NotEqual(t, oldEpoch, newEpoch)
}

func TestEncodeFailsFast(t *testing.T) {
	key := identity.Key{Role: identity.RoleUser, ID: 42}

	_, err := Encode("madeUpKind", key, "tok")
	assert.Error(t, err)

	_, err = Encode(EventStayLogin, identity.Key{}, "tok")
	assert.Error(t, err)

	// Token-bound kinds require a token.
	_, err = Encode(EventStayLogin, key, "")
	assert.Error(t, err)
}

func TestDecodeRejectsMalformedTopics(t *testing.T) {
	for _, topic := range []string{
		"",
		"socket",
		"socket_stayLogin_42",
		"socket_stayLogin_abc_user_0123456789abcdef",
		"socket_stayLogin_42_wizard_0123456789abcdef",
		"socket_stayLogin_42_user",
		"socket_redisBroadcast_42_user_0123456789abcdef",
		"bogus_stayLogin_42_user_0123456789abcdef",
	} {
		_, err := Decode(topic)
		assert.Error(t, err, "expected decode failure for %q", topic)
	}
}

func TestTokenBound(t *testing.T) {
	assert.True(t, TokenBound(EventUserLoggedOut))
	assert.True(t, TokenBound(EventNewBrowserTabConnected))
	assert.False(t, TokenBound(EventRedisBroadcast))
}
