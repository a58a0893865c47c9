package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/tablesnipe/reservation-backend/internal/models"
)

// RequestCounter counts requests for the status surface.
type RequestCounter interface {
	CountAll() (int, error)
	CountByStatus(statuses ...models.RequestStatus) (int, error)
}

// BookingLister backs the bookings endpoint.
type BookingLister interface {
	List() ([]models.Booking, error)
	Count() (int, error)
}

// ActivityLister backs the activity endpoint.
type ActivityLister interface {
	ListRecent(requestID *int64, limit int) ([]models.ActivityLog, error)
}

// StatusHandler handles the operational status endpoints
type StatusHandler struct {
	requests RequestCounter
	bookings BookingLister
	activity ActivityLister
	db       *sqlx.DB
	logger   *logrus.Logger
}

// NewStatusHandler creates a new StatusHandler
func NewStatusHandler(requests RequestCounter, bookings BookingLister, activity ActivityLister, db *sqlx.DB, logger *logrus.Logger) *StatusHandler {
	return &StatusHandler{
		requests: requests,
		bookings: bookings,
		activity: activity,
		db:       db,
		logger:   logger,
	}
}

// GetStatus returns aggregate system counters
// @Summary System status
// @Description Returns aggregate counters: total requests, active snipers, total bookings
// @Tags Status
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /status [get]
func (h *StatusHandler) GetStatus(c *gin.Context) {
	total, err := h.requests.CountAll()
	if err != nil {
		h.logger.WithError(err).Error("Failed to count requests")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute status"})
		return
	}

	activeSnipers, err := h.requests.CountByStatus(models.StatusWaiting, models.StatusPolling)
	if err != nil {
		h.logger.WithError(err).Error("Failed to count active snipers")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute status"})
		return
	}

	totalBookings, err := h.bookings.Count()
	if err != nil {
		h.logger.WithError(err).Error("Failed to count bookings")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute status"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total_requests": total,
		"active_snipers": activeSnipers,
		"total_bookings": totalBookings,
	})
}

// ListBookings lists confirmed bookings
// @Summary List bookings
// @Description Lists all bookings, newest first
// @Tags Status
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /bookings [get]
func (h *StatusHandler) ListBookings(c *gin.Context) {
	bookings, err := h.bookings.List()
	if err != nil {
		h.logger.WithError(err).Error("Failed to list bookings")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list bookings"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"bookings": bookings, "count": len(bookings)})
}

// GetActivity returns recent activity log entries
// @Summary Recent activity
// @Description Returns the newest activity log entries, optionally filtered to one request
// @Tags Status
// @Produce json
// @Param request_id query int false "Filter by request id"
// @Param limit query int false "Maximum entries, default 50"
// @Success 200 {object} map[string]interface{}
// @Router /activity [get]
func (h *StatusHandler) GetActivity(c *gin.Context) {
	var requestID *int64
	if raw := c.Query("request_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request_id"})
			return
		}
		requestID = &id
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
			return
		}
		limit = n
	}

	entries, err := h.activity.ListRecent(requestID, limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list activity log")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list activity"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"activity": entries, "count": len(entries)})
}

// HealthCheck reports process and database health
// @Summary Health check
// @Description Returns ok when the process is up and the database answers a ping
// @Tags Status
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{} "Database unreachable"
// @Router /health [get]
func (h *StatusHandler) HealthCheck(c *gin.Context) {
	if h.db != nil {
		if err := h.db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "database": "unreachable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "database": "connected"})
}
