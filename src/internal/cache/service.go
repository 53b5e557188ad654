package cache

import (
	"context"
	"errors"
	"time"

	"session-relay-svc/src/internal/config"
	"session-relay-svc/src/internal/identity"
	"session-relay-svc/src/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Service caches the latest known anti-forgery token per identity so a
// newly admitted tab can immediately learn the current token epoch.
type Service interface {
	LatestToken(ctx context.Context, key identity.Key) (string, error)
	StoreToken(ctx context.Context, key identity.Key, token string) error
}

type cacheService struct {
	client *redis.Client
	cfg    *config.CacheConfig
}

func NewCacheService(client *redis.Client, cfg *config.Configuration) Service {
	return &cacheService{
		client: client,
		cfg:    &cfg.Cache}
}

const tokenKeyPrefix = "csrf:"

func (c *cacheService) LatestToken(ctx context.Context, key identity.Key) (string, error) {
	token, err := c.client.Get(ctx, tokenKeyPrefix+key.String()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			logrus.WithField("identity", key.String()).Debug("No cached token for identity")
			return "", nil // Not an error, just not found
		}
		logrus.WithError(err).WithField("identity", key.String()).Error("Failed to get token from cache")
		return "", models.ErrRedisGet
	}

	return token, nil
}

func (c *cacheService) StoreToken(ctx context.Context, key identity.Key, token string) error {
	ttl := time.Duration(c.cfg.TokenExpirationMinutes) * time.Minute

	err := c.client.Set(ctx, tokenKeyPrefix+key.String(), token, ttl).Err()
	if err != nil {
		logrus.WithError(err).WithField("identity", key.String()).Error("Failed to cache token")
		return models.ErrRedisSet
	}

	logrus.WithField("identity", key.String()).Debug("Token cached")
	return nil
}
