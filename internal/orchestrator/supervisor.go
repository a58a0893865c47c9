package orchestrator

import (
	"github.com/sirupsen/logrus"
	"github.com/tablesnipe/reservation-backend/internal/models"
)

// ResumeInFlight restarts acquisition work for every request the previous
// process left mid-flight. Called once at startup, before the HTTP server
// begins accepting traffic. Crash recovery is re-entry, not replay: a
// searching request starts its pipeline over, a waiting or polling request
// re-enters the sniper against the original booking_open_time, and a
// notify_received request gets its booking attempt re-run.
func (o *Orchestrator) ResumeInFlight() error {
	requests, err := o.requests.ListByStatus(
		models.StatusSearching,
		models.StatusWaiting,
		models.StatusPolling,
		models.StatusNotifyReceived,
	)
	if err != nil {
		return err
	}

	for _, req := range requests {
		req := req
		o.appendLog(models.NewLog(req.ID, "supervisor_resumed", "", map[string]interface{}{
			"status": string(req.Status),
		}))
		o.logger.WithFields(logrus.Fields{
			"request_id": req.ID,
			"status":     req.Status,
		}).Info("Resuming in-flight request")

		switch req.Status {
		case models.StatusSearching:
			// The search was interrupted before it settled. Rewind to
			// pending and run the pipeline from the top.
			entry := models.NewLog(req.ID, "retry_requested", "", map[string]interface{}{
				"reason": "resumed_after_restart",
			})
			if _, err := o.requests.Transition(req.ID, models.StatusPending, entry); err != nil {
				o.logger.WithError(err).WithField("request_id", req.ID).Error("Failed to rewind interrupted search")
				continue
			}
			o.Submit(req.ID)

		case models.StatusWaiting, models.StatusPolling:
			o.spawn(req.ID, o.snipe)

		case models.StatusNotifyReceived:
			// The notification router persists the notifying platform
			// before handing off, so the resume runs the same adapter.
			platformName := models.PlatformResy
			if req.Platform != nil && *req.Platform != "" {
				platformName = *req.Platform
			}
			o.wg.Add(1)
			go func(id int64, platformName string) {
				defer o.wg.Done()
				o.AutoBook(id, platformName)
			}(req.ID, platformName)
		}
	}

	if len(requests) > 0 {
		o.logger.WithField("count", len(requests)).Info("Supervisor resumed in-flight requests")
	}
	return nil
}
