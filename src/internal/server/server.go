package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"session-relay-svc/src/clients"
	"session-relay-svc/src/internal/config"
	"session-relay-svc/src/internal/dependency"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

var log = logrus.StandardLogger()

type Server struct {
	cfg *config.Configuration
}

func New(cfg *config.Configuration) *Server {
	return &Server{cfg: cfg}
}

// Start connects every external collaborator, wires the dependency
// graph, launches the pub/sub subscriber and serves HTTP until a
// termination signal arrives.
func (s *Server) Start() error {
	cfg := s.cfg

	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	mongodb, err := clients.NewMongoDB(&cfg.Database)
	if err != nil {
		return err
	}

	redisClient, err := clients.NewRedisClient(&cfg.Redis)
	if err != nil {
		return err
	}

	rabbitMQ, err := clients.NewRabbitMQ(&cfg.Queue)
	if err != nil {
		return err
	}

	if err := rabbitMQ.SetupExchange(); err != nil {
		return err
	}

	deps := dependency.NewDependencyManager(router, mongodb, redisClient, rabbitMQ, cfg)
	SetupRoutes(deps)

	subCtx, cancelSubscriber := context.WithCancel(context.Background())
	go deps.Subscriber.Run(subCtx)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("Session relay listening on port : %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		cancelSubscriber()
		return err
	case sig := <-quit:
		log.Infof("Received signal %s, shutting down", sig)
	}

	cancelSubscriber()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("HTTP server shutdown failed")
	}

	if err := rabbitMQ.Close(); err != nil {
		log.WithError(err).Error("Failed to close RabbitMQ")
	}
	if err := redisClient.Close(); err != nil {
		log.WithError(err).Error("Failed to close Redis")
	}
	if err := mongodb.Close(shutdownCtx); err != nil {
		log.WithError(err).Error("Failed to close MongoDB")
	}

	log.Info("Session relay stopped")
	return nil
}
