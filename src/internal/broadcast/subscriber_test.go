package broadcast

import (
	"testing"
	"time"

	"session-relay-svc/src/internal/config"

	"github.com/stretchr/testify/assert"
)

func TestSubscriberChannelNames(t *testing.T) {
	cfg := &config.RelaySettings{HostTag: "controlcenter_ftx"}
	sub := NewSubscriber(nil, nil, cfg)

	assert.Equal(t, []string{
		"redis-broadcast-controlcenter_ftx",
		"logout-alert-controlcenter_ftx",
	}, sub.Channels())
}

func TestNextBackoffDoubling(t *testing.T) {
	assert.Equal(t, 2*time.Second, nextBackoff(time.Second, 30*time.Second))
	assert.Equal(t, 8*time.Second, nextBackoff(4*time.Second, 30*time.Second))
	assert.Equal(t, 30*time.Second, nextBackoff(20*time.Second, 30*time.Second))
	assert.Equal(t, 30*time.Second, nextBackoff(30*time.Second, 30*time.Second))
}

func TestReconnectDelayDefaults(t *testing.T) {
	sub := NewSubscriber(nil, nil, &config.RelaySettings{HostTag: "x"})
	assert.Equal(t, time.Second, sub.reconnectDelay)
	assert.Equal(t, 30*time.Second, sub.maxReconnectDelay)
}
