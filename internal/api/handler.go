package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mr1hm/go-sos-alerts/internal/banner"
	"github.com/mr1hm/go-sos-alerts/internal/models"
	"github.com/mr1hm/go-sos-alerts/internal/realtime"
	"github.com/mr1hm/go-sos-alerts/internal/stream"
)

type AlertSource interface {
	Alerts() []models.Alert
	Err() error
	Polling() bool
}

type BannerState interface {
	Current() (banner.Record, bool)
	Visible(route string) bool
	Remaining() time.Duration
	Dismiss()
}

type NotificationLog interface {
	List() []models.Notification
	UnreadCount() int
	MarkRead(id string) bool
	MarkAllRead()
	Remove(id string) bool
	Clear()
}

type Subscriber interface {
	Subscribe() (uint64, <-chan stream.Message)
	Unsubscribe(id uint64)
}

type ConnectionState interface {
	State() realtime.State
}

type Deps struct {
	Alerts        AlertSource
	Banner        BannerState
	Notifications NotificationLog
	Stream        Subscriber
	Realtime      ConnectionState
}

type Handler struct {
	alerts        AlertSource
	banner        BannerState
	notifications NotificationLog
	stream        Subscriber
	realtime      ConnectionState
}

func NewHandler(deps Deps) *Handler {
	return &Handler{
		alerts:        deps.Alerts,
		banner:        deps.Banner,
		notifications: deps.Notifications,
		stream:        deps.Stream,
		realtime:      deps.Realtime,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.health)

	api := r.Group("/api")
	api.GET("/alerts", h.getAlerts)
	api.GET("/banner", h.getBanner)
	api.POST("/banner/dismiss", h.dismissBanner)
	api.GET("/notifications", h.getNotifications)
	api.POST("/notifications/read-all", h.markAllRead)
	api.POST("/notifications/:id/read", h.markRead)
	api.DELETE("/notifications/:id", h.removeNotification)
	api.DELETE("/notifications", h.clearNotifications)
	api.GET("/stream", h.serveStream)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"realtime": h.realtime.State().String(),
		"polling":  h.alerts.Polling(),
	})
}

func (h *Handler) getAlerts(c *gin.Context) {
	alerts := h.alerts.Alerts()

	if s := c.Query("status"); s != "" {
		status := models.AlertStatus(strings.ToLower(s))
		filtered := make([]models.Alert, 0, len(alerts))
		for _, a := range alerts {
			if a.Status == status {
				filtered = append(filtered, a)
			}
		}
		alerts = filtered
	}
	if sev := c.Query("severity"); sev != "" {
		severity := models.AlertSeverity(strings.ToLower(sev))
		filtered := make([]models.Alert, 0, len(alerts))
		for _, a := range alerts {
			if a.Severity == severity {
				filtered = append(filtered, a)
			}
		}
		alerts = filtered
	}
	if l := c.Query("limit"); l != "" {
		if lim, err := strconv.Atoi(l); err == nil && lim > 0 && lim < len(alerts) {
			alerts = alerts[:lim]
		}
	}

	resp := gin.H{
		"alerts":  alerts,
		"count":   len(alerts),
		"polling": h.alerts.Polling(),
	}
	if err := h.alerts.Err(); err != nil {
		resp["error"] = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) getBanner(c *gin.Context) {
	rec, ok := h.banner.Current()
	if !ok {
		c.JSON(http.StatusOK, gin.H{"visible": false})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"visible":     h.banner.Visible(c.Query("route")),
		"banner":      rec,
		"remainingMs": h.banner.Remaining().Milliseconds(),
	})
}

func (h *Handler) dismissBanner(c *gin.Context) {
	h.banner.Dismiss()
	c.JSON(http.StatusOK, gin.H{"visible": false})
}

func (h *Handler) getNotifications(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"notifications": h.notifications.List(),
		"unread":        h.notifications.UnreadCount(),
	})
}

func (h *Handler) markAllRead(c *gin.Context) {
	h.notifications.MarkAllRead()
	c.JSON(http.StatusOK, gin.H{"unread": h.notifications.UnreadCount()})
}

func (h *Handler) markRead(c *gin.Context) {
	if !h.notifications.MarkRead(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "notification not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": h.notifications.UnreadCount()})
}

func (h *Handler) removeNotification(c *gin.Context) {
	if !h.notifications.Remove(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "notification not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) clearNotifications(c *gin.Context) {
	h.notifications.Clear()
	c.Status(http.StatusNoContent)
}
