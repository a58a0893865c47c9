package mailbox

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Scheduler runs the mailbox monitor on a fixed interval using cron's
// @every schedule.
type Scheduler struct {
	cron    *cron.Cron
	monitor *Monitor
	logger  *logrus.Logger
}

// NewScheduler creates a Scheduler for the monitor.
func NewScheduler(monitor *Monitor, logger *logrus.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		monitor: monitor,
		logger:  logger,
	}
}

// Start registers the poll job and starts the cron scheduler. An immediate
// first poll runs in the background so a restart does not wait a full
// interval before catching up on notifications.
func (s *Scheduler) Start(interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}

	schedule := fmt.Sprintf("@every %s", interval)
	if _, err := s.cron.AddFunc(schedule, s.monitor.Poll); err != nil {
		return fmt.Errorf("failed to schedule mailbox poll: %w", err)
	}

	s.cron.Start()
	go s.monitor.Poll()

	s.logger.WithField("interval", interval.String()).Info("Mailbox monitor started")
	return nil
}

// Stop stops the scheduler and waits for a running poll to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Mailbox monitor stopped")
}
