package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"session-relay-svc/src/internal/config"
	"session-relay-svc/src/internal/identity"
	"session-relay-svc/src/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
)

// SessionClient talks to the backend that owns the real authentication
// state. Session-status checks are fire-and-forget: the answer comes
// back later as a published notification, never as a direct reply. It
// also publishes the relay's activity audit trail to RabbitMQ.
type SessionClient struct {
	baseURL    string
	httpClient *http.Client
	channel    *amqp.Channel
	cfg        *config.QueueConfig
}

func NewSessionClient(cfg *config.Configuration, channel *amqp.Channel) *SessionClient {
	return &SessionClient{
		baseURL: cfg.External.SessionService.URL,
		channel: channel,
		cfg:     &cfg.Queue,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.External.SessionService.Timeout) * time.Second,
		},
	}
}

// CheckSessionStatus asks the backend whether the identity's session is
// still alive. The backend answers by publishing a notification on the
// logout-alert channel.
func (c *SessionClient) CheckSessionStatus(ctx context.Context, key identity.Key, tokenValue string) error {
	endpoint := fmt.Sprintf("%s/check-status?%s", c.baseURL, identityQuery(key, tokenValue))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call session service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("session service returned status: %d", resp.StatusCode)
	}

	logrus.WithFields(logrus.Fields{
		"role":    key.Role,
		"user_id": key.ID,
	}).Debug("Session status check triggered")

	return nil
}

// Logout tells the backend to terminate the identity's session after a
// logout-warning countdown expired or a force logout arrived.
func (c *SessionClient) Logout(ctx context.Context, key identity.Key, tokenValue string) error {
	endpoint := fmt.Sprintf("%s/logout?%s", c.baseURL, identityQuery(key, tokenValue))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call session service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("session service returned status: %d", resp.StatusCode)
	}

	return nil
}

// PublishActivity publishes a session activity message to RabbitMQ.
func (c *SessionClient) PublishActivity(message *models.ActivityMessage) error {
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now()
	}

	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal activity message: %w", err)
	}

	err = c.channel.Publish(
		c.cfg.RabbitMQ.Exchange,
		c.cfg.RabbitMQ.RoutingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
			Timestamp:   time.Now(),
		},
	)

	if err != nil {
		logrus.WithError(err).Error("Failed to publish activity message")
		return fmt.Errorf("failed to publish activity message: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"role":        message.Role,
		"user_id":     message.UserID,
		"action":      message.Action,
		"exchange":    c.cfg.RabbitMQ.Exchange,
		"routing_key": c.cfg.RabbitMQ.RoutingKey,
	}).Debug("Activity message published")

	return nil
}

func identityQuery(key identity.Key, tokenValue string) string {
	values := url.Values{}
	values.Set("role", key.Role.String())
	values.Set("id", strconv.FormatInt(key.ID, 10))
	values.Set("tokenValue", tokenValue)
	return values.Encode()
}
