package broadcast

import (
	"context"
	"time"

	"session-relay-svc/src/internal/config"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Channel name prefixes, parameterized by the deployment host tag.
const (
	BroadcastChannelPrefix   = "redis-broadcast-"
	LogoutAlertChannelPrefix = "logout-alert-"
)

// Subscriber owns the pub/sub subscription on the two notification
// channels and feeds every received message to the decoder. On a
// transport error it resubscribes with capped exponential backoff.
type Subscriber struct {
	client   *redis.Client
	decoder  *Decoder
	channels []string

	reconnectDelay    time.Duration
	maxReconnectDelay time.Duration
}

func NewSubscriber(client *redis.Client, decoder *Decoder, cfg *config.RelaySettings) *Subscriber {
	reconnectDelay := time.Duration(cfg.ReconnectDelaySec) * time.Second
	if reconnectDelay <= 0 {
		reconnectDelay = time.Second
	}

	maxReconnectDelay := time.Duration(cfg.MaxReconnectDelaySec) * time.Second
	if maxReconnectDelay < reconnectDelay {
		maxReconnectDelay = 30 * time.Second
	}

	return &Subscriber{
		client:  client,
		decoder: decoder,
		channels: []string{
			BroadcastChannelPrefix + cfg.HostTag,
			LogoutAlertChannelPrefix + cfg.HostTag,
		},
		reconnectDelay:    reconnectDelay,
		maxReconnectDelay: maxReconnectDelay,
	}
}

// Channels returns the subscription channel names.
func (s *Subscriber) Channels() []string {
	return s.channels
}

// Run blocks consuming notifications until the context is cancelled.
func (s *Subscriber) Run(ctx context.Context) {
	backoff := s.reconnectDelay

	for {
		if ctx.Err() != nil {
			return
		}

		pubsub := s.client.Subscribe(ctx, s.channels...)

		if _, err := pubsub.Receive(ctx); err != nil {
			pubsub.Close()
			if ctx.Err() != nil {
				return
			}
			logrus.WithError(err).WithField("backoff", backoff.String()).Error("Pub/sub subscription failed, retrying")
			if !sleep(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, s.maxReconnectDelay)
			continue
		}

		logrus.WithField("channels", s.channels).Info("Subscribed to notification channels")
		backoff = s.reconnectDelay

		s.consume(ctx, pubsub)
		pubsub.Close()

		if ctx.Err() != nil {
			return
		}

		logrus.WithField("backoff", backoff.String()).Warn("Pub/sub stream interrupted, resubscribing")
		if !sleep(ctx, backoff) {
			return
		}
		backoff = nextBackoff(backoff, s.maxReconnectDelay)
	}
}

func (s *Subscriber) consume(ctx context.Context, pubsub *redis.PubSub) {
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			s.decoder.HandleMessage(msg.Channel, []byte(msg.Payload))
		}
	}
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
