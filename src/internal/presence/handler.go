package presence

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"session-relay-svc/src/internal/config"
	"session-relay-svc/src/internal/history"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Handler serves the admin inspection API over the live presence table
// and the durable session history.
type Handler interface {
	GetPresence(c *gin.Context)
	GetPresenceStats(c *gin.Context)
	GetHistory(c *gin.Context)
}

type handler struct {
	config  *config.Configuration
	store   Store
	history history.Repository
}

func NewHandler(cfg *config.Configuration, store Store, historyRepo history.Repository) Handler {
	return &handler{
		config:  cfg,
		store:   store,
		history: historyRepo,
	}
}

func (h *handler) GetPresence(c *gin.Context) {
	records := h.store.ReadAll()

	logrus.WithField("count", len(records)).Info("Presence listing requested")

	c.JSON(http.StatusOK, gin.H{
		"presence": records,
		"count":    len(records),
	})
}

func (h *handler) GetPresenceStats(c *gin.Context) {
	stats := h.store.GetStats()

	logrus.WithFields(logrus.Fields{
		"total":     stats.Total,
		"users":     stats.Users,
		"employees": stats.Employees,
	}).Debug("Presence stats requested")

	c.JSON(http.StatusOK, gin.H{"stats": stats})
}

func (h *handler) GetHistory(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), time.Duration(h.config.App.Timeout)*time.Second)
	defer cancel()

	limit := parseIntParam(c, "limit", 50)

	entries, err := h.history.ListRecent(ctx, int64(limit))
	if err != nil {
		logrus.WithError(err).Error("Failed to list session history")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to retrieve session history",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"history": entries,
		"count":   len(entries),
	})
}

func parseIntParam(c *gin.Context, name string, defaultValue int) int {
	raw := c.Query(name)
	if raw == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return defaultValue
	}
	return value
}
