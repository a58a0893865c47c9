package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/tablesnipe/reservation-backend/internal/database"
	"github.com/tablesnipe/reservation-backend/internal/models"
	"github.com/tablesnipe/reservation-backend/internal/platform/resy"
)

// RequestStore is the slice of the request repository the handlers need.
type RequestStore interface {
	Create(req *models.ReservationRequest) error
	GetByID(id int64) (*models.ReservationRequest, error)
	List(status string) ([]models.ReservationRequest, error)
}

// SubscriptionReader lists subscriptions for the detail endpoint.
type SubscriptionReader interface {
	ListByRequest(requestID int64) ([]models.NotificationSubscription, error)
}

// BookingReader lists bookings for the detail endpoint.
type BookingReader interface {
	ListByRequest(requestID int64) ([]models.Booking, error)
}

// ActivityReader lists the activity log for the detail endpoint.
type ActivityReader interface {
	ListByRequest(requestID int64) ([]models.ActivityLog, error)
}

// Pipeline is the slice of the orchestrator the handlers need.
type Pipeline interface {
	Submit(requestID int64)
	Cancel(requestID int64) error
	Retry(requestID int64) error
	EnsureSubscription(ctx context.Context, requestID int64, platform string) error
}

// VenueSearcher backs the venue autocomplete endpoint.
type VenueSearcher interface {
	SearchVenues(ctx context.Context, query string) ([]resy.Venue, error)
}

// ReservationHandler handles reservation request endpoints
type ReservationHandler struct {
	requests      RequestStore
	subscriptions SubscriptionReader
	bookings      BookingReader
	activity      ActivityReader
	pipeline      Pipeline
	venues        VenueSearcher
	logger        *logrus.Logger
}

// NewReservationHandler creates a new ReservationHandler
func NewReservationHandler(
	requests RequestStore,
	subscriptions SubscriptionReader,
	bookings BookingReader,
	activity ActivityReader,
	pipeline Pipeline,
	venues VenueSearcher,
	logger *logrus.Logger,
) *ReservationHandler {
	return &ReservationHandler{
		requests:      requests,
		subscriptions: subscriptions,
		bookings:      bookings,
		activity:      activity,
		pipeline:      pipeline,
		venues:        venues,
		logger:        logger,
	}
}

// CreateReservationRequest is the request body for creating a reservation
// request.
type CreateReservationRequest struct {
	RestaurantName      string     `json:"restaurant_name" binding:"required"`
	Date                string     `json:"date" binding:"required"` // YYYY-MM-DD
	Time                string     `json:"time" binding:"required"` // HH:MM
	PartySize           int        `json:"party_size" binding:"required,min=1,max=20"`
	ContactEmail        string     `json:"contact_email" binding:"required,email"`
	VenueID             string     `json:"venue_id,omitempty"` // skips venue resolution when known
	BookingOpenTime     *time.Time `json:"booking_open_time,omitempty"`
	MaxPollDurationSecs int        `json:"max_poll_duration_secs,omitempty"`
}

func (r *CreateReservationRequest) validate() string {
	if _, err := time.Parse("2006-01-02", r.Date); err != nil {
		return "date must be YYYY-MM-DD"
	}
	if _, err := time.Parse("15:04", r.Time); err != nil {
		return "time must be HH:MM"
	}
	if r.MaxPollDurationSecs < 0 {
		return "max_poll_duration_secs must not be negative"
	}
	return ""
}

// CreateReservation creates a reservation request and starts acquisition
// @Summary Create reservation request
// @Description Creates a reservation request and starts the acquisition pipeline in the background
// @Tags Reservations
// @Accept json
// @Produce json
// @Param request body CreateReservationRequest true "Reservation request"
// @Success 201 {object} models.ReservationRequest
// @Failure 400 {object} map[string]interface{} "Validation error"
// @Router /reservations [post]
func (h *ReservationHandler) CreateReservation(c *gin.Context) {
	var body CreateReservationRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if msg := body.validate(); msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}

	req := &models.ReservationRequest{
		RestaurantName:      strings.TrimSpace(body.RestaurantName),
		Date:                body.Date,
		Time:                body.Time,
		PartySize:           body.PartySize,
		ContactEmail:        body.ContactEmail,
		Status:              models.StatusPending,
		VenueID:             body.VenueID,
		BookingOpenTime:     body.BookingOpenTime,
		MaxPollDurationSecs: body.MaxPollDurationSecs,
	}
	if err := h.requests.Create(req); err != nil {
		h.logger.WithError(err).Error("Failed to create reservation request")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create reservation request"})
		return
	}

	h.pipeline.Submit(req.ID)

	h.logger.WithFields(logrus.Fields{
		"request_id":      req.ID,
		"restaurant_name": req.RestaurantName,
		"date":            req.Date,
	}).Info("Reservation request created")

	c.JSON(http.StatusCreated, req)
}

// ListReservations lists reservation requests
// @Summary List reservation requests
// @Description Lists reservation requests, newest first, optionally filtered by status
// @Tags Reservations
// @Produce json
// @Param status query string false "Filter by status"
// @Success 200 {array} models.ReservationRequest
// @Router /reservations [get]
func (h *ReservationHandler) ListReservations(c *gin.Context) {
	requests, err := h.requests.List(c.Query("status"))
	if err != nil {
		h.logger.WithError(err).Error("Failed to list reservation requests")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list reservation requests"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reservations": requests, "count": len(requests)})
}

// GetReservation returns a reservation request with its related records
// @Summary Get reservation request
// @Description Returns a reservation request with its subscriptions, bookings and activity log
// @Tags Reservations
// @Produce json
// @Param id path int true "Request ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{} "Not found"
// @Router /reservations/{id} [get]
func (h *ReservationHandler) GetReservation(c *gin.Context) {
	id, ok := h.requestID(c)
	if !ok {
		return
	}

	req, err := h.requests.GetByID(id)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get reservation request")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get reservation request"})
		return
	}
	if req == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "reservation request not found"})
		return
	}

	subs, err := h.subscriptions.ListByRequest(id)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list subscriptions")
		subs = []models.NotificationSubscription{}
	}
	bookings, err := h.bookings.ListByRequest(id)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list bookings")
		bookings = []models.Booking{}
	}
	activity, err := h.activity.ListByRequest(id)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list activity log")
		activity = []models.ActivityLog{}
	}

	c.JSON(http.StatusOK, gin.H{
		"request":       req,
		"subscriptions": subs,
		"bookings":      bookings,
		"activity":      activity,
	})
}

// CancelReservation cancels a reservation request
// @Summary Cancel reservation request
// @Description Cancels a reservation request and stops any running acquisition task
// @Tags Reservations
// @Produce json
// @Param id path int true "Request ID"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]interface{} "Already booked or cancelled"
// @Router /reservations/{id} [delete]
func (h *ReservationHandler) CancelReservation(c *gin.Context) {
	id, ok := h.requestID(c)
	if !ok {
		return
	}

	if err := h.pipeline.Cancel(id); err != nil {
		if database.IsInvalidTransition(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.WithError(err).WithField("request_id", id).Error("Failed to cancel reservation request")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel reservation request"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "reservation request cancelled", "request_id": id})
}

// RetryReservation retries a failed or unavailable reservation request
// @Summary Retry reservation request
// @Description Moves a non-booked request back to pending and restarts acquisition
// @Tags Reservations
// @Produce json
// @Param id path int true "Request ID"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]interface{} "Request is booked or busy"
// @Router /reservations/{id}/retry [post]
func (h *ReservationHandler) RetryReservation(c *gin.Context) {
	id, ok := h.requestID(c)
	if !ok {
		return
	}

	if err := h.pipeline.Retry(id); err != nil {
		if database.IsInvalidTransition(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "booked requests cannot be retried"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "reservation request resubmitted", "request_id": id})
}

// CreateSubscription registers a standing availability subscription
// @Summary Subscribe to availability notifications
// @Description Registers a standing availability subscription for the request on a platform
// @Tags Reservations
// @Accept json
// @Produce json
// @Param id path int true "Request ID"
// @Success 201 {object} map[string]interface{}
// @Failure 400 {object} map[string]interface{} "Unknown platform or terminal request"
// @Router /reservations/{id}/subscriptions [post]
func (h *ReservationHandler) CreateSubscription(c *gin.Context) {
	id, ok := h.requestID(c)
	if !ok {
		return
	}

	var body struct {
		Platform string `json:"platform"`
	}
	if err := c.ShouldBindJSON(&body); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if body.Platform == "" {
		body.Platform = models.PlatformResy
	}
	if body.Platform != models.PlatformResy && body.Platform != models.PlatformOpenTable {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown platform: " + body.Platform})
		return
	}

	if err := h.pipeline.EnsureSubscription(c.Request.Context(), id, body.Platform); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": "subscription registered", "request_id": id, "platform": body.Platform})
}

// SearchVenues is the venue autocomplete endpoint
// @Summary Search venues
// @Description Searches the reservation platform's venue index by name
// @Tags Search
// @Produce json
// @Param q query string true "Search query, at least 2 characters"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]interface{} "Query too short"
// @Router /search/venues [get]
func (h *ReservationHandler) SearchVenues(c *gin.Context) {
	query := strings.TrimSpace(c.Query("q"))
	if len(query) < 2 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query must be at least 2 characters"})
		return
	}

	venues, err := h.venues.SearchVenues(c.Request.Context(), query)
	if err != nil {
		h.logger.WithError(err).WithField("query", query).Error("Venue search failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "venue search failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"venues": venues, "count": len(venues)})
}

// requestID parses the :id path parameter, responding 400 on garbage.
func (h *ReservationHandler) requestID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request id"})
		return 0, false
	}
	return id, true
}
