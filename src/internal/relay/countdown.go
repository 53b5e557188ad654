package relay

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"session-relay-svc/src/internal/identity"
	"session-relay-svc/src/internal/routing"
)

// countdown is the logout-warning timer of one identity. It ticks once
// per interval, renders the remaining seconds to the tab owning the
// modal, and fires the logout transition exactly once when it reaches
// zero. Cancel is idempotent and safe on every exit path.
type countdown struct {
	stop chan struct{}
	once sync.Once
}

func (c *countdown) cancel() {
	c.once.Do(func() {
		close(c.stop)
	})
}

func (h *Hub) startCountdownLocked(key identity.Key, tokenValue, ownerID string) *countdown {
	c := &countdown{stop: make(chan struct{})}
	go h.runCountdown(c, key, tokenValue, ownerID)
	return c
}

func (h *Hub) runCountdown(c *countdown, key identity.Key, tokenValue, ownerID string) {
	ticker := time.NewTicker(h.tickInterval)
	defer ticker.Stop()

	seconds := h.cfg.CountdownSeconds

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			seconds--

			h.mu.Lock()
			h.sendToLocked(key, ownerID, routing.EventCountdownTick, tokenValue, tickPayload(seconds))
			h.mu.Unlock()

			if seconds <= 0 {
				h.countdownExpired(key, tokenValue)
				return
			}
		}
	}
}

func tickPayload(seconds int) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"seconds":%d}`, seconds))
}
