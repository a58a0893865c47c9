package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
	"github.com/tablesnipe/reservation-backend/internal/config"
	"github.com/tablesnipe/reservation-backend/internal/database"
	"github.com/tablesnipe/reservation-backend/internal/models"
	"github.com/tablesnipe/reservation-backend/internal/platform"
)

// RequestStore is the slice of the request repository the orchestrator needs.
type RequestStore interface {
	GetByID(id int64) (*models.ReservationRequest, error)
	ListByStatus(statuses ...models.RequestStatus) ([]models.ReservationRequest, error)
	Transition(requestID int64, to models.RequestStatus, entry *models.ActivityLog) (*models.ReservationRequest, error)
	TransitionToBooked(requestID int64, platform string, booking *models.Booking, entry *models.ActivityLog) error
	SetVenueID(requestID int64, venueID string) error
	IncrementPollAttempts(requestID int64) error
}

// SubscriptionStore is the slice of the subscription repository the
// orchestrator needs.
type SubscriptionStore interface {
	Upsert(sub *models.NotificationSubscription) error
	DeactivateForRequest(requestID int64) error
}

// ActivityStore appends log entries that are not tied to a status change.
type ActivityStore interface {
	Append(entry *models.ActivityLog) error
}

// Orchestrator owns the acquisition lifecycle of reservation requests: the
// initial search, the timed sniper, notification-driven auto-booking,
// cancellation and retry. One long-running task per request at a time.
type Orchestrator struct {
	requests  RequestStore
	subs      SubscriptionStore
	logs      ActivityStore
	platforms platform.Registry
	clock     clock.Clock
	cfg       config.SniperConfig
	logger    *logrus.Logger
	cancels   *cancelRegistry
	wg        sync.WaitGroup
}

// New creates an Orchestrator.
func New(
	requests RequestStore,
	subs SubscriptionStore,
	logs ActivityStore,
	platforms platform.Registry,
	cfg config.SniperConfig,
	clk clock.Clock,
	logger *logrus.Logger,
) *Orchestrator {
	return &Orchestrator{
		requests:  requests,
		subs:      subs,
		logs:      logs,
		platforms: platforms,
		clock:     clk,
		cfg:       cfg,
		logger:    logger,
		cancels:   newCancelRegistry(),
	}
}

// Submit starts the acquisition pipeline for a pending request in the
// background. A request already being worked on is left alone.
func (o *Orchestrator) Submit(requestID int64) {
	o.spawn(requestID, o.run)
}

// spawn runs task under the cancel registry's exclusive slot for the request.
func (o *Orchestrator) spawn(requestID int64, task func(ctx context.Context, requestID int64)) {
	ctx, release, ok := o.cancels.acquire(requestID)
	if !ok {
		o.logger.WithField("request_id", requestID).Debug("Request already has an active task")
		return
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer release()
		defer o.recoverToFailed(requestID)
		task(ctx, requestID)
	}()
}

// Wait blocks until all in-flight acquisition tasks finish. Used on shutdown.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// recoverToFailed converts a panicking task into a failed request with an
// orchestration_error log entry, so a crash never strands a request in a
// running state.
func (o *Orchestrator) recoverToFailed(requestID int64) {
	r := recover()
	if r == nil {
		return
	}
	o.logger.WithFields(logrus.Fields{
		"request_id": requestID,
		"panic":      fmt.Sprint(r),
	}).Error("Acquisition task panicked")

	entry := models.NewLog(requestID, "orchestration_error", "", map[string]interface{}{
		"error": fmt.Sprint(r),
	})
	if _, err := o.requests.Transition(requestID, models.StatusFailed, entry); err != nil && !database.IsInvalidTransition(err) {
		o.logger.WithError(err).WithField("request_id", requestID).Error("Failed to mark panicked request failed")
	}
}

// run is the full pipeline for a fresh (pending) request: search, then
// either done, sniper, or standing subscription.
func (o *Orchestrator) run(ctx context.Context, requestID int64) {
	req, err := o.requests.GetByID(requestID)
	if err != nil {
		o.logger.WithError(err).WithField("request_id", requestID).Error("Failed to load request")
		return
	}
	if req == nil || req.Status != models.StatusPending {
		return
	}

	entry := models.NewLog(requestID, "search_started", "", map[string]interface{}{
		"restaurant_name": req.RestaurantName,
		"date":            req.Date,
		"time":            req.Time,
		"party_size":      req.PartySize,
	})
	req, err = o.requests.Transition(requestID, models.StatusSearching, entry)
	if err != nil {
		if !database.IsInvalidTransition(err) {
			o.logger.WithError(err).WithField("request_id", requestID).Error("Failed to start search")
		}
		return
	}

	result, err := o.tryPlatform(ctx, requestID, models.PlatformResy)
	if err != nil {
		o.failRequest(requestID, err)
		return
	}
	if result.Booked() {
		return
	}
	if ctx.Err() != nil {
		return
	}

	// No slot right now. If the book window opens later, the sniper takes
	// over; otherwise park the request behind a standing subscription.
	if req.BookingOpenTime != nil && req.BookingOpenTime.After(o.clock.Now()) {
		o.snipe(ctx, requestID)
		return
	}

	if result.Outcome == platform.OutcomeTransportError {
		// The attempt may have landed on the platform. Stop here rather
		// than filing it as plain no-availability; reconciliation is on
		// the operator.
		entry = models.NewLog(requestID, "search_failed", models.PlatformResy, map[string]interface{}{
			"detail": result.Detail,
		})
		if _, err := o.requests.Transition(requestID, models.StatusFailed, entry); err != nil && !database.IsInvalidTransition(err) {
			o.logger.WithError(err).WithField("request_id", requestID).Error("Failed to mark search failure")
		}
		return
	}

	entry = models.NewLog(requestID, "no_availability", models.PlatformResy, nil)
	if _, err := o.requests.Transition(requestID, models.StatusNoAvailability, entry); err != nil {
		if !database.IsInvalidTransition(err) {
			o.logger.WithError(err).WithField("request_id", requestID).Error("Failed to mark no availability")
		}
		return
	}
	o.ensureSubscription(ctx, req, models.PlatformResy)
}

// Retry forces a non-booked request back to pending and resubmits it. Returns
// an error when the request is booked, missing, or busy.
func (o *Orchestrator) Retry(requestID int64) error {
	if o.cancels.active(requestID) {
		return fmt.Errorf("request %d has an active acquisition task", requestID)
	}

	entry := models.NewLog(requestID, "retry_requested", "", nil)
	if _, err := o.requests.Transition(requestID, models.StatusPending, entry); err != nil {
		return err
	}
	o.Submit(requestID)
	return nil
}

// Cancel moves the request to cancelled, fires the cancellation signal for
// any running task and deactivates the request's subscriptions.
func (o *Orchestrator) Cancel(requestID int64) error {
	entry := models.NewLog(requestID, "cancelled", "", nil)
	if _, err := o.requests.Transition(requestID, models.StatusCancelled, entry); err != nil {
		return err
	}

	o.cancels.cancel(requestID)

	if err := o.subs.DeactivateForRequest(requestID); err != nil {
		o.logger.WithError(err).WithField("request_id", requestID).Error("Failed to deactivate subscriptions")
	}
	return nil
}

// AutoBook runs one booking attempt for a request in notify_received state.
// Returns true when a booking was committed. On any other outcome the
// request moves to failed; the notification router re-subscribes from there.
func (o *Orchestrator) AutoBook(requestID int64, platformName string) bool {
	// A running sniper loses its claim here: the notify_received transition
	// has already kicked it out of its poll loop, so just hurry it along
	// and take over the slot.
	o.cancels.cancel(requestID)

	var (
		ctx     context.Context
		release func()
		ok      bool
	)
	for i := 0; i < 50; i++ {
		if ctx, release, ok = o.cancels.acquire(requestID); ok {
			break
		}
		o.clock.Sleep(20 * time.Millisecond)
	}
	if !ok {
		o.logger.WithField("request_id", requestID).Warn("Auto-book skipped, request busy")
		return false
	}
	defer release()
	defer o.recoverToFailed(requestID)

	result, err := o.tryPlatform(ctx, requestID, platformName)
	if err != nil {
		o.failRequest(requestID, err)
		return false
	}
	if result.Booked() {
		return true
	}

	entry := models.NewLog(requestID, "auto_book_failed", platformName, map[string]interface{}{
		"outcome": string(result.Outcome),
		"detail":  result.Detail,
	})
	if _, err := o.requests.Transition(requestID, models.StatusFailed, entry); err != nil && !database.IsInvalidTransition(err) {
		o.logger.WithError(err).WithField("request_id", requestID).Error("Failed to mark auto-book failure")
	}
	return false
}

// tryPlatform runs one full booking attempt against the named platform:
// resolve the venue if needed, try to book, and commit on success. The
// network call happens outside any transaction; only the commit takes the
// row lock. The zero result with nil error means the attempt did not book
// but the request should keep going (no availability, expired auth, or an
// ambiguous transport failure).
func (o *Orchestrator) tryPlatform(ctx context.Context, requestID int64, platformName string) (platform.BookResult, error) {
	adapter := o.platforms.Get(platformName)
	if adapter == nil {
		return platform.BookResult{}, fmt.Errorf("no adapter registered for platform %q", platformName)
	}

	req, err := o.requests.GetByID(requestID)
	if err != nil {
		return platform.BookResult{}, err
	}
	if req == nil {
		return platform.BookResult{}, fmt.Errorf("request %d not found", requestID)
	}
	if req.Status.HardTerminal() {
		return platform.BookResult{}, nil
	}

	o.appendLog(models.NewLog(requestID, platformName+"_search", platformName, map[string]interface{}{
		"venue_id": req.VenueID,
	}))

	venueID := req.VenueID
	if venueID == "" {
		venueID, err = adapter.ResolveVenue(ctx, req.RestaurantName)
		if errors.Is(err, platform.ErrVenueNotFound) {
			o.appendLog(models.NewLog(requestID, platformName+"_venue_not_found", platformName, map[string]interface{}{
				"restaurant_name": req.RestaurantName,
			}))
			return platform.BookResult{Outcome: platform.OutcomeNoAvailability, Detail: "venue not found"}, nil
		}
		if err != nil {
			return platform.BookResult{}, fmt.Errorf("venue resolution failed: %w", err)
		}
		if err := o.requests.SetVenueID(requestID, venueID); err != nil {
			o.logger.WithError(err).WithField("request_id", requestID).Error("Failed to persist venue id")
		}
	}

	result := adapter.TryBook(ctx, venueID, req.Date, req.Time, req.PartySize)

	switch result.Outcome {
	case platform.OutcomeBooked:
		o.commitBooking(requestID, platformName, req, result)

	case platform.OutcomeNoAvailability:
		o.appendLog(models.NewLog(requestID, platformName+"_unavailable", platformName, nil))

	case platform.OutcomeAuthExpired:
		o.appendLog(models.NewLog(requestID, platformName+"_auth_expired", platformName, map[string]interface{}{
			"detail": result.Detail,
		}))

	case platform.OutcomeTransportError:
		// The platform may or may not have accepted the booking. Do not
		// retry blindly; record it for operator reconciliation.
		o.appendLog(models.NewLog(requestID, "transport_ambiguous", platformName, map[string]interface{}{
			"severity": "needs_reconciliation",
			"detail":   result.Detail,
		}))
	}

	return result, nil
}

// commitBooking runs the booked-commit transaction. Losing the race to
// another winner is absorbed as duplicate_booking_detected; the earlier
// booking stands. Losing to a concurrent cancel is absorbed as
// booking_discarded.
func (o *Orchestrator) commitBooking(requestID int64, platformName string, req *models.ReservationRequest, result platform.BookResult) {
	booking := &models.Booking{
		RequestID:      requestID,
		Platform:       platformName,
		RestaurantName: req.RestaurantName,
		Date:           req.Date,
		Time:           result.BookedTime,
		PartySize:      req.PartySize,
		Status:         models.BookingConfirmed,
	}
	if result.ConfirmationID != "" {
		booking.ConfirmationID = &result.ConfirmationID
	}
	if result.Raw != "" {
		booking.RawResponse = &result.Raw
	}

	entry := models.NewLog(requestID, platformName+"_booked", platformName, map[string]interface{}{
		"confirmation_id": result.ConfirmationID,
		"booked_time":     result.BookedTime,
	})

	err := o.requests.TransitionToBooked(requestID, platformName, booking, entry)
	if errors.Is(err, database.ErrAlreadyBooked) {
		o.appendLog(models.NewLog(requestID, "duplicate_booking_detected", platformName, map[string]interface{}{
			"confirmation_id": result.ConfirmationID,
		}))
		o.logger.WithFields(logrus.Fields{
			"request_id": requestID,
			"platform":   platformName,
		}).Warn("Duplicate booking detected, keeping the earlier one")
		return
	}
	if database.IsInvalidTransition(err) {
		// The booking landed after the request left a bookable state,
		// usually a concurrent cancel. The row stays as the other side left
		// it; record which side won for the operator.
		o.appendLog(models.NewLog(requestID, "booking_discarded", platformName, map[string]interface{}{
			"confirmation_id": result.ConfirmationID,
			"error":           err.Error(),
		}))
		o.logger.WithError(err).WithFields(logrus.Fields{
			"request_id": requestID,
			"platform":   platformName,
		}).Warn("Booking discarded, request no longer bookable")
		return
	}
	if err != nil {
		o.logger.WithError(err).WithField("request_id", requestID).Error("Failed to commit booking")
		return
	}

	o.logger.WithFields(logrus.Fields{
		"request_id":      requestID,
		"platform":        platformName,
		"confirmation_id": result.ConfirmationID,
		"booked_time":     result.BookedTime,
	}).Info("Reservation booked")
}

// ensureSubscription registers a standing availability alert for the request
// and, best effort, a platform-side notify subscription.
func (o *Orchestrator) ensureSubscription(ctx context.Context, req *models.ReservationRequest, platformName string) {
	sub := &models.NotificationSubscription{
		RequestID:       req.ID,
		Platform:        platformName,
		RestaurantName:  req.RestaurantName,
		SearchDate:      req.Date,
		SearchTime:      req.Time,
		SearchPartySize: req.PartySize,
	}
	if req.VenueID != "" {
		sub.VenueID = &req.VenueID
	}
	if err := o.subs.Upsert(sub); err != nil {
		o.logger.WithError(err).WithField("request_id", req.ID).Error("Failed to store subscription")
		return
	}

	adapter := o.platforms.Get(platformName)
	if adapter == nil || req.VenueID == "" {
		return
	}
	if err := adapter.SubscribeNotify(ctx, req.VenueID, req.Date, req.Time, req.PartySize); err != nil {
		o.appendLog(models.NewLog(req.ID, "notify_subscribe_failed", platformName, map[string]interface{}{
			"error": err.Error(),
		}))
		return
	}
	o.appendLog(models.NewLog(req.ID, "notify_subscribed", platformName, map[string]interface{}{
		"venue_id": req.VenueID,
	}))
}

// EnsureSubscription registers a standing subscription for a request by id.
// Exposed for the explicit subscription endpoint.
func (o *Orchestrator) EnsureSubscription(ctx context.Context, requestID int64, platformName string) error {
	req, err := o.requests.GetByID(requestID)
	if err != nil {
		return err
	}
	if req == nil {
		return fmt.Errorf("request %d not found", requestID)
	}
	if req.Status.HardTerminal() {
		return fmt.Errorf("request %d is %s", requestID, req.Status)
	}
	o.ensureSubscription(ctx, req, platformName)
	return nil
}

// failRequest marks a request failed after an unrecoverable pipeline error.
func (o *Orchestrator) failRequest(requestID int64, cause error) {
	o.logger.WithError(cause).WithField("request_id", requestID).Error("Acquisition failed")
	entry := models.NewLog(requestID, "orchestration_error", "", map[string]interface{}{
		"error": cause.Error(),
	})
	if _, err := o.requests.Transition(requestID, models.StatusFailed, entry); err != nil && !database.IsInvalidTransition(err) {
		o.logger.WithError(err).WithField("request_id", requestID).Error("Failed to mark request failed")
	}
}

func (o *Orchestrator) appendLog(entry *models.ActivityLog) {
	if err := o.logs.Append(entry); err != nil {
		o.logger.WithError(err).Error("Failed to append activity log")
	}
}

// sleepUntil waits until the clock reaches t, or ctx is cancelled. Returns
// false when cancelled.
func (o *Orchestrator) sleepUntil(ctx context.Context, t time.Time) bool {
	wait := t.Sub(o.clock.Now())
	if wait <= 0 {
		return true
	}
	return o.sleepFor(ctx, wait)
}

// sleepFor waits for d, or ctx. Returns false when cancelled.
func (o *Orchestrator) sleepFor(ctx context.Context, d time.Duration) bool {
	timer := o.clock.Timer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
