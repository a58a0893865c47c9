package notify

import (
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/tablesnipe/reservation-backend/internal/database"
	"github.com/tablesnipe/reservation-backend/internal/models"
)

// RequestStore is the slice of the request repository the router needs.
type RequestStore interface {
	GetByID(id int64) (*models.ReservationRequest, error)
	Transition(requestID int64, to models.RequestStatus, entry *models.ActivityLog) (*models.ReservationRequest, error)
	SetPlatform(requestID int64, platform string) error
}

// SubscriptionStore is the slice of the subscription repository the router
// needs.
type SubscriptionStore interface {
	ListActiveByPlatform(platform string) ([]models.NotificationSubscription, error)
	DeactivateForRequest(requestID int64) error
}

// ActivityStore appends log entries.
type ActivityStore interface {
	Append(entry *models.ActivityLog) error
}

// Booker runs a single booking attempt for a notified request. Implemented
// by the orchestrator.
type Booker interface {
	AutoBook(requestID int64, platform string) bool
}

// Router matches parsed availability notifications against active
// subscriptions and drives the auto-book pipeline for each match.
type Router struct {
	requests RequestStore
	subs     SubscriptionStore
	logs     ActivityStore
	booker   Booker
	logger   *logrus.Logger
}

// NewRouter creates a notification Router.
func NewRouter(requests RequestStore, subs SubscriptionStore, logs ActivityStore, booker Booker, logger *logrus.Logger) *Router {
	return &Router{
		requests: requests,
		subs:     subs,
		logs:     logs,
		booker:   booker,
		logger:   logger,
	}
}

// HandleNotifications routes a batch of parsed notifications. Each
// notification may match multiple subscriptions; each match is processed
// independently. Redelivery of an already-processed notification is a no-op
// because the status machine rejects the duplicate notify_received
// transition.
func (r *Router) HandleNotifications(notifications []models.Notification) {
	for _, n := range notifications {
		subs, err := r.subs.ListActiveByPlatform(n.Platform)
		if err != nil {
			r.logger.WithError(err).WithField("platform", n.Platform).Error("Failed to load subscriptions")
			continue
		}

		matched := 0
		for _, sub := range subs {
			if !restaurantMatches(sub.RestaurantName, n.RestaurantName) {
				continue
			}
			matched++
			r.processMatch(sub, n)
		}

		r.logger.WithFields(logrus.Fields{
			"platform":   n.Platform,
			"restaurant": n.RestaurantName,
			"email_id":   n.EmailID,
			"matched":    matched,
		}).Info("Processed availability notification")
	}
}

// restaurantMatches compares a subscription's restaurant name against the
// name extracted from a notification. Platform emails abbreviate or extend
// names, so match case-insensitively with containment in either direction.
func restaurantMatches(subscribed, notified string) bool {
	a := strings.ToLower(strings.TrimSpace(subscribed))
	b := strings.ToLower(strings.TrimSpace(notified))
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// processMatch moves the matched request to notify_received and runs the
// booking attempt. On success the request's subscriptions are deactivated
// before the booking_confirmed entry is logged, so a booking_confirmed log
// always implies the cleanup already happened.
func (r *Router) processMatch(sub models.NotificationSubscription, n models.Notification) {
	req, err := r.requests.GetByID(sub.RequestID)
	if err != nil {
		r.logger.WithError(err).WithField("request_id", sub.RequestID).Error("Failed to load request for notification")
		return
	}
	if req == nil || req.Status.HardTerminal() {
		return
	}

	entry := models.NewLog(sub.RequestID, "notification_received", n.Platform, map[string]interface{}{
		"restaurant_name": n.RestaurantName,
		"subject":         n.Subject,
		"email_id":        n.EmailID,
	})
	if _, err := r.requests.Transition(sub.RequestID, models.StatusNotifyReceived, entry); err != nil {
		if database.IsInvalidTransition(err) {
			// Already being handled (or a redelivery). Absorb it.
			r.logger.WithField("request_id", sub.RequestID).Debug("Notification transition rejected, skipping")
			return
		}
		r.logger.WithError(err).WithField("request_id", sub.RequestID).Error("Failed to record notification")
		return
	}

	// Persist the notifying platform so a restart mid-attempt resumes the
	// booking against the same adapter.
	if err := r.requests.SetPlatform(sub.RequestID, n.Platform); err != nil {
		r.logger.WithError(err).WithField("request_id", sub.RequestID).Error("Failed to record notifying platform")
	}

	if !r.booker.AutoBook(sub.RequestID, n.Platform) {
		return
	}

	// Cleanup before the confirmation log entry.
	if err := r.subs.DeactivateForRequest(sub.RequestID); err != nil {
		r.logger.WithError(err).WithField("request_id", sub.RequestID).Error("Failed to deactivate subscriptions after booking")
	}
	confirm := models.NewLog(sub.RequestID, "booking_confirmed", n.Platform, map[string]interface{}{
		"email_id": n.EmailID,
	})
	if err := r.logs.Append(confirm); err != nil {
		r.logger.WithError(err).WithField("request_id", sub.RequestID).Error("Failed to log booking confirmation")
	}
}
