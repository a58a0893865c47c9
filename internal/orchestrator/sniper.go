package orchestrator

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tablesnipe/reservation-backend/internal/database"
	"github.com/tablesnipe/reservation-backend/internal/models"
)

// snipe handles a request whose book window opens at a known future instant:
// wait out the clock, then poll rapidly until booked, timed out or cancelled.
// Runs inside the request's exclusive task slot.
func (o *Orchestrator) snipe(ctx context.Context, requestID int64) {
	req, err := o.requests.GetByID(requestID)
	if err != nil {
		o.logger.WithError(err).WithField("request_id", requestID).Error("Failed to load request for sniping")
		return
	}
	if req == nil || req.Status.HardTerminal() || req.BookingOpenTime == nil {
		return
	}
	openAt := *req.BookingOpenTime

	if wait := openAt.Sub(o.clock.Now()); wait > 0 {
		if req.Status != models.StatusWaiting {
			entry := models.NewLog(requestID, "sniper_waiting", "", map[string]interface{}{
				"wait_seconds":      int(wait.Seconds()),
				"booking_open_time": openAt,
			})
			if _, err := o.requests.Transition(requestID, models.StatusWaiting, entry); err != nil {
				if !database.IsInvalidTransition(err) {
					o.logger.WithError(err).WithField("request_id", requestID).Error("Failed to enter waiting")
				}
				return
			}
		}

		o.logger.WithFields(logrus.Fields{
			"request_id": requestID,
			"wait":       wait.String(),
		}).Info("Sniper waiting for book window")

		if !o.sleepUntil(ctx, openAt) {
			return
		}
	}

	// Re-read before polling: the request may have been cancelled or booked
	// via a notification while we slept.
	req, err = o.requests.GetByID(requestID)
	if err != nil || req == nil || req.Status.HardTerminal() {
		return
	}

	if req.Status != models.StatusPolling {
		entry := models.NewLog(requestID, "sniper_polling_started", "", map[string]interface{}{
			"poll_interval_ms":  o.cfg.PollInterval.Milliseconds(),
			"max_duration_secs": req.MaxPollDurationSecs,
		})
		if _, err := o.requests.Transition(requestID, models.StatusPolling, entry); err != nil {
			if !database.IsInvalidTransition(err) {
				o.logger.WithError(err).WithField("request_id", requestID).Error("Failed to enter polling")
			}
			return
		}
	}

	o.pollLoop(ctx, requestID, req.MaxPollDuration())
}

// pollLoop fires booking attempts at the configured cadence until one books,
// the poll budget runs out, or the task is cancelled. The interval timer is
// started before each attempt so the cadence is measured attempt-start to
// attempt-start, not gap to gap.
func (o *Orchestrator) pollLoop(ctx context.Context, requestID int64, budget time.Duration) {
	deadline := o.clock.Now().Add(budget)
	attempts := 0

	for {
		timer := o.clock.Timer(o.cfg.PollInterval)

		req, err := o.requests.GetByID(requestID)
		if err != nil || req == nil || req.Status != models.StatusPolling {
			timer.Stop()
			return
		}

		result, err := o.tryPlatform(ctx, requestID, models.PlatformResy)
		attempts++
		if bumpErr := o.requests.IncrementPollAttempts(requestID); bumpErr != nil {
			o.logger.WithError(bumpErr).WithField("request_id", requestID).Error("Failed to record poll attempt")
		}
		if err != nil {
			timer.Stop()
			o.failRequest(requestID, err)
			return
		}
		if result.Booked() {
			timer.Stop()
			return
		}

		if !o.clock.Now().Before(deadline) {
			timer.Stop()
			o.timeOut(requestID, attempts, budget)
			return
		}

		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

// timeOut marks a polling request failed after the poll budget is exhausted.
func (o *Orchestrator) timeOut(requestID int64, attempts int, budget time.Duration) {
	entry := models.NewLog(requestID, "sniper_timeout", "", map[string]interface{}{
		"poll_attempts": attempts,
		"duration_secs": int(budget.Seconds()),
	})
	if _, err := o.requests.Transition(requestID, models.StatusFailed, entry); err != nil {
		if !database.IsInvalidTransition(err) {
			o.logger.WithError(err).WithField("request_id", requestID).Error("Failed to mark sniper timeout")
		}
		return
	}
	o.logger.WithFields(logrus.Fields{
		"request_id":    requestID,
		"poll_attempts": attempts,
	}).Warn("Sniper timed out without booking")
}
