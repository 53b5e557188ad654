package dependency

import (
	"session-relay-svc/src/clients"
	"session-relay-svc/src/internal/broadcast"
	"session-relay-svc/src/internal/cache"
	"session-relay-svc/src/internal/config"
	"session-relay-svc/src/internal/history"
	"session-relay-svc/src/internal/presence"
	"session-relay-svc/src/internal/registry"
	"session-relay-svc/src/internal/relay"

	"github.com/gin-gonic/gin"
)

type Manager struct {
	Router          *gin.Engine
	Config          *config.Configuration
	Mongodb         *clients.MongoDB
	Redis           *clients.RedisClient
	RabbitMQ        *clients.RabbitMQ
	SessionClient   *clients.SessionClient
	CacheService    cache.Service
	HistoryRepo     history.Repository
	Presence        presence.Store
	PresenceHandler presence.Handler
	Registry        *registry.Registry
	Hub             *relay.Hub
	Decoder         *broadcast.Decoder
	Subscriber      *broadcast.Subscriber
}

func NewDependencyManager(router *gin.Engine,
	mongodb *clients.MongoDB,
	redisClient *clients.RedisClient,
	rabbitMQ *clients.RabbitMQ,
	cfg *config.Configuration) *Manager {
	cacheService := cache.NewCacheService(redisClient.Client, cfg)
	historyRepo := history.NewHistoryRepository(mongodb, cfg.Database.HistoryCollection)
	sessionClient := clients.NewSessionClient(cfg, rabbitMQ.Channel)
	presenceStore := presence.NewStore(cfg.Relay.SnapshotPath)
	presenceHandler := presence.NewHandler(cfg, presenceStore, historyRepo)
	reg := registry.New()
	hub := relay.NewHub(reg, presenceStore, cacheService, historyRepo, sessionClient, sessionClient, &cfg.Relay)
	decoder := broadcast.NewDecoder(hub)
	subscriber := broadcast.NewSubscriber(redisClient.Client, decoder, &cfg.Relay)

	return &Manager{
		Router:          router,
		Config:          cfg,
		Mongodb:         mongodb,
		Redis:           redisClient,
		RabbitMQ:        rabbitMQ,
		SessionClient:   sessionClient,
		CacheService:    cacheService,
		HistoryRepo:     historyRepo,
		Presence:        presenceStore,
		PresenceHandler: presenceHandler,
		Registry:        reg,
		Hub:             hub,
		Decoder:         decoder,
		Subscriber:      subscriber,
	}
}
