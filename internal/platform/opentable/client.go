package opentable

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tablesnipe/reservation-backend/internal/config"
	"github.com/tablesnipe/reservation-backend/internal/platform"
)

// Client implements the Platform capability by driving an OpenTable
// browser-automation sidecar over HTTP. OpenTable has no public booking API,
// so a separate headless-browser service performs the actual site
// interaction and this client only speaks its JSON protocol.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *logrus.Logger
}

// NewClient creates an OpenTable sidecar client from configuration.
func NewClient(cfg config.OpenTableConfig, logger *logrus.Logger) *Client {
	return &Client{
		baseURL: cfg.AutomationURL,
		logger:  logger,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Name implements platform.Platform.
func (c *Client) Name() string { return "opentable" }

// Enabled reports whether a sidecar endpoint is configured.
func (c *Client) Enabled() bool { return c.baseURL != "" }

func (c *Client) post(ctx context.Context, path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal sidecar payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("sidecar request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("sidecar %s returned status %d: %s", path, resp.StatusCode, string(raw))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode sidecar response: %w", err)
		}
	}
	return nil
}

// ResolveVenue implements platform.Platform.
func (c *Client) ResolveVenue(ctx context.Context, restaurantName string) (string, error) {
	if !c.Enabled() {
		return "", fmt.Errorf("opentable automation sidecar not configured")
	}

	var result struct {
		VenueID string `json:"venue_id"`
		Found   bool   `json:"found"`
	}
	payload := map[string]string{"restaurant_name": restaurantName}
	if err := c.post(ctx, "/resolve", payload, &result); err != nil {
		return "", err
	}
	if !result.Found || result.VenueID == "" {
		return "", platform.ErrVenueNotFound
	}
	return result.VenueID, nil
}

// TryBook implements platform.Platform. Each attempt runs under a fresh
// session id so the sidecar can isolate browser state per booking.
func (c *Client) TryBook(ctx context.Context, venueID, date, timePreferred string, partySize int) platform.BookResult {
	if !c.Enabled() {
		return platform.BookResult{
			Outcome: platform.OutcomeTransportError,
			Detail:  "opentable automation sidecar not configured",
		}
	}

	sessionID := uuid.New().String()
	payload := map[string]interface{}{
		"session_id":     sessionID,
		"venue_id":       venueID,
		"date":           date,
		"time_preferred": timePreferred,
		"party_size":     partySize,
	}

	var result struct {
		Status         string `json:"status"` // booked, no_availability, auth_expired, error
		ConfirmationID string `json:"confirmation_id"`
		BookedTime     string `json:"booked_time"`
		Detail         string `json:"detail"`
	}
	if err := c.post(ctx, "/book", payload, &result); err != nil {
		c.logger.WithError(err).WithField("session_id", sessionID).Warn("OpenTable sidecar book call failed")
		return platform.BookResult{Outcome: platform.OutcomeTransportError, Detail: err.Error()}
	}

	switch result.Status {
	case "booked":
		return platform.BookResult{
			Outcome:        platform.OutcomeBooked,
			ConfirmationID: result.ConfirmationID,
			BookedTime:     result.BookedTime,
			Detail:         result.Detail,
		}
	case "no_availability":
		return platform.BookResult{Outcome: platform.OutcomeNoAvailability, Detail: result.Detail}
	case "auth_expired":
		return platform.BookResult{Outcome: platform.OutcomeAuthExpired, Detail: result.Detail}
	default:
		return platform.BookResult{Outcome: platform.OutcomeTransportError, Detail: result.Detail}
	}
}

// SubscribeNotify implements platform.Platform. The sidecar sets up the
// availability alert on the OpenTable account.
func (c *Client) SubscribeNotify(ctx context.Context, venueID, date, timePreferred string, partySize int) error {
	if !c.Enabled() {
		return fmt.Errorf("opentable automation sidecar not configured")
	}
	payload := map[string]interface{}{
		"venue_id":       venueID,
		"date":           date,
		"time_preferred": timePreferred,
		"party_size":     partySize,
	}
	return c.post(ctx, "/subscribe", payload, nil)
}
