package mailbox

import (
	"fmt"
	"io"
	"net/mail"
	"strconv"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/sirupsen/logrus"
	"github.com/tablesnipe/reservation-backend/internal/config"
	"github.com/tablesnipe/reservation-backend/internal/models"
)

// Handler receives parsed notifications. Implemented by notify.Router.
type Handler interface {
	HandleNotifications(notifications []models.Notification)
}

// Monitor polls an IMAP mailbox for availability notification emails from
// the reservation platforms. Each poll opens a fresh connection; notification
// volume is far too low to justify holding an IMAP session open between
// polls.
type Monitor struct {
	cfg     config.MailboxConfig
	handler Handler
	logger  *logrus.Logger
}

// NewMonitor creates a mailbox Monitor.
func NewMonitor(cfg config.MailboxConfig, handler Handler, logger *logrus.Logger) *Monitor {
	return &Monitor{cfg: cfg, handler: handler, logger: logger}
}

// Poll checks the mailbox once and routes anything it finds. Errors are
// logged, not returned; the next scheduled poll simply tries again.
func (m *Monitor) Poll() {
	notifications, err := m.checkMailbox()
	if err != nil {
		m.logger.WithError(err).Error("Mailbox poll failed")
		return
	}
	if len(notifications) > 0 {
		m.handler.HandleNotifications(notifications)
	}
}

// checkMailbox fetches unseen messages from the known notification senders,
// parses them and marks them seen. Marking seen is what makes redelivery
// rare; the notification router absorbs the rest.
func (m *Monitor) checkMailbox() ([]models.Notification, error) {
	c, err := client.DialTLS(m.cfg.Host, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", m.cfg.Host, err)
	}
	defer c.Logout()

	if err := c.Login(m.cfg.Username, m.cfg.Password); err != nil {
		return nil, fmt.Errorf("IMAP login failed: %w", err)
	}
	if _, err := c.Select("INBOX", false); err != nil {
		return nil, fmt.Errorf("failed to select INBOX: %w", err)
	}

	var notifications []models.Notification
	senders := append(append([]string{}, resySenders...), openTableSenders...)
	for _, sender := range senders {
		found, err := m.fetchFromSender(c, sender)
		if err != nil {
			m.logger.WithError(err).WithField("sender", sender).Warn("Failed to fetch notification emails")
			continue
		}
		notifications = append(notifications, found...)
	}
	return notifications, nil
}

func (m *Monitor) fetchFromSender(c *client.Client, sender string) ([]models.Notification, error) {
	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	criteria.Header.Add("From", sender)

	ids, err := c.Search(criteria)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)

	section := &imap.BodySectionName{}
	items := []imap.FetchItem{section.FetchItem(), imap.FetchUid}

	messages := make(chan *imap.Message, len(ids))
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqset, items, messages)
	}()

	var notifications []models.Notification
	for msg := range messages {
		n, ok := m.parseMessage(msg, section)
		if ok {
			notifications = append(notifications, n)
		}
	}
	if err := <-done; err != nil {
		return notifications, fmt.Errorf("fetch failed: %w", err)
	}

	// Mark everything we looked at as seen, matched or not.
	markItem := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := c.Store(seqset, markItem, []interface{}{imap.SeenFlag}, nil); err != nil {
		m.logger.WithError(err).Warn("Failed to mark notification emails seen")
	}

	return notifications, nil
}

func (m *Monitor) parseMessage(msg *imap.Message, section *imap.BodySectionName) (models.Notification, bool) {
	body := msg.GetBody(section)
	if body == nil {
		return models.Notification{}, false
	}

	parsed, err := mail.ReadMessage(body)
	if err != nil {
		m.logger.WithError(err).Debug("Failed to parse notification email")
		return models.Notification{}, false
	}

	fromAddr := decodeHeader(parsed.Header.Get("From"))
	subject := decodeHeader(parsed.Header.Get("Subject"))

	platform := identifyPlatform(fromAddr)
	if platform == "" {
		return models.Notification{}, false
	}

	raw, _ := io.ReadAll(io.LimitReader(parsed.Body, 64*1024))

	notification, ok := parseNotification(subject, string(raw), platform)
	if !ok {
		return models.Notification{}, false
	}
	notification.EmailID = strconv.FormatUint(uint64(msg.Uid), 10)

	m.logger.WithFields(logrus.Fields{
		"platform":   platform,
		"restaurant": notification.RestaurantName,
		"email_id":   notification.EmailID,
	}).Info("Found notification email")
	return notification, true
}
