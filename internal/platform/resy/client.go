package resy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tablesnipe/reservation-backend/internal/config"
	"github.com/tablesnipe/reservation-backend/internal/platform"
)

// minRefreshInterval throttles automatic auth refresh after 401s so a burst
// of sniper polls cannot hammer the login endpoint.
const minRefreshInterval = 5 * time.Minute

// Client implements the Platform capability against the Resy JSON API.
type Client struct {
	baseURL string
	apiKey  string
	email   string
	pass    string
	client  *http.Client
	logger  *logrus.Logger

	// Credential holder. The auth token and payment method are refreshed
	// in place on 401; everything reads them through the mutex.
	mu              sync.RWMutex
	authToken       string
	paymentMethodID string
	lastRefresh     time.Time
}

// NewClient creates a Resy API client from configuration.
func NewClient(cfg config.ResyConfig, logger *logrus.Logger) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.resy.com"
	}
	return &Client{
		baseURL:         baseURL,
		apiKey:          cfg.APIKey,
		email:           cfg.Email,
		pass:            cfg.Password,
		authToken:       cfg.AuthToken,
		paymentMethodID: cfg.PaymentMethodID,
		logger:          logger,
		client: &http.Client{
			Timeout: 20 * time.Second,
		},
	}
}

// Name implements platform.Platform.
func (c *Client) Name() string { return "resy" }

func (c *Client) headers() http.Header {
	c.mu.RLock()
	token := c.authToken
	c.mu.RUnlock()

	h := http.Header{}
	h.Set("Authorization", fmt.Sprintf(`ResyAPI api_key="%s"`, c.apiKey))
	h.Set("X-Resy-Auth-Token", token)
	h.Set("X-Resy-Universal-Auth", token)
	h.Set("Origin", "https://widgets.resy.com")
	h.Set("Referer", "https://widgets.resy.com/")
	h.Set("Accept", "application/json")
	h.Set("Content-Type", "application/x-www-form-urlencoded")
	return h
}

// Venue is a venue search hit, used for autocomplete and venue resolution.
type Venue struct {
	VenueID      string   `json:"venue_id"`
	Name         string   `json:"name"`
	Neighborhood string   `json:"neighborhood"`
	Cuisine      []string `json:"cuisine"`
	Region       string   `json:"region"`
	URLSlug      string   `json:"url_slug"`
}

type venueSearchResponse struct {
	Search struct {
		Hits []struct {
			ID           json.RawMessage `json:"id"`
			Name         string          `json:"name"`
			Neighborhood string          `json:"neighborhood"`
			Cuisine      []string        `json:"cuisine"`
			Location     struct {
				Name string `json:"name"`
			} `json:"location"`
			URLSlug string `json:"url_slug"`
		} `json:"hits"`
	} `json:"search"`
}

// SearchVenues queries Resy venue search. Used by ResolveVenue and the
// autocomplete endpoint.
func (c *Client) SearchVenues(ctx context.Context, query string) ([]Venue, error) {
	payload := map[string]interface{}{
		"query":    query,
		"geo":      map[string]float64{"latitude": 40.7128, "longitude": -74.0060},
		"types":    []string{"venue"},
		"per_page": 5,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal venue search: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/3/venuesearch/search", strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	req.Header = c.headers()
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("venue search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.WithFields(logrus.Fields{
			"status": resp.StatusCode,
			"body":   string(raw),
		}).Warn("Resy venue search failed")
		return nil, fmt.Errorf("venue search returned status %d", resp.StatusCode)
	}

	var parsed venueSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode venue search response: %w", err)
	}

	venues := make([]Venue, 0, len(parsed.Search.Hits))
	for _, hit := range parsed.Search.Hits {
		venues = append(venues, Venue{
			VenueID:      decodeVenueID(hit.ID),
			Name:         hit.Name,
			Neighborhood: hit.Neighborhood,
			Cuisine:      hit.Cuisine,
			Region:       hit.Location.Name,
			URLSlug:      hit.URLSlug,
		})
	}
	return venues, nil
}

// decodeVenueID handles both id shapes Resy returns: a bare number or an
// object like {"resy": 123}.
func decodeVenueID(raw json.RawMessage) string {
	var asObj struct {
		Resy json.Number `json:"resy"`
	}
	if err := json.Unmarshal(raw, &asObj); err == nil && asObj.Resy != "" {
		return asObj.Resy.String()
	}
	var asNum json.Number
	if err := json.Unmarshal(raw, &asNum); err == nil {
		return asNum.String()
	}
	return ""
}

// ResolveVenue implements platform.Platform: the first venue search hit wins.
func (c *Client) ResolveVenue(ctx context.Context, restaurantName string) (string, error) {
	venues, err := c.SearchVenues(ctx, restaurantName)
	if err != nil {
		return "", err
	}
	if len(venues) == 0 || venues[0].VenueID == "" {
		return "", platform.ErrVenueNotFound
	}
	return venues[0].VenueID, nil
}

// slot is one bookable slot from the find endpoint.
type slot struct {
	ConfigID string
	Token    string
	Time     string // "2025-06-01 19:30:00" or "19:30"
	Type     string
}

type findResponse struct {
	Results struct {
		Venues []struct {
			Slots []struct {
				Config struct {
					ID    json.Number `json:"id"`
					Token string      `json:"token"`
					Type  string      `json:"type"`
				} `json:"config"`
				Date struct {
					Start string `json:"start"`
				} `json:"date"`
			} `json:"slots"`
		} `json:"venues"`
	} `json:"results"`
}

// errAuthExpired is an internal sentinel: the API answered 401.
var errAuthExpired = fmt.Errorf("resy auth token expired")

func (c *Client) findSlots(ctx context.Context, venueID, date string, partySize int) ([]slot, error) {
	params := url.Values{}
	params.Set("lat", "40.7128")
	params.Set("long", "-74.0060")
	params.Set("day", date)
	params.Set("party_size", strconv.Itoa(partySize))
	params.Set("venue_id", venueID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/4/find?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header = c.headers()

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("find request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		c.maybeRefreshAuth()
		return nil, errAuthExpired
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("find returned status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed findResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode find response: %w", err)
	}

	var slots []slot
	for _, venue := range parsed.Results.Venues {
		for _, s := range venue.Slots {
			slots = append(slots, slot{
				ConfigID: s.Config.ID.String(),
				Token:    s.Config.Token,
				Time:     s.Date.Start,
				Type:     s.Config.Type,
			})
		}
	}
	return slots, nil
}

type detailsResponse struct {
	BookToken struct {
		Value      string `json:"value"`
		DateStarts string `json:"date_starts"`
	} `json:"book_token"`
}

func (c *Client) slotDetails(ctx context.Context, configID, date string, partySize int) (string, error) {
	params := url.Values{}
	params.Set("config_id", configID)
	params.Set("day", date)
	params.Set("party_size", strconv.Itoa(partySize))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/3/details?"+params.Encode(), nil)
	if err != nil {
		return "", err
	}
	req.Header = c.headers()

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("details request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		c.maybeRefreshAuth()
		return "", errAuthExpired
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("details returned status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed detailsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode details response: %w", err)
	}
	return parsed.BookToken.Value, nil
}

type bookResponse struct {
	ResyToken     string      `json:"resy_token"`
	ReservationID json.Number `json:"reservation_id"`
}

func (c *Client) book(ctx context.Context, bookToken string) (confirmation string, raw string, err error) {
	form := url.Values{}
	form.Set("book_token", bookToken)
	form.Set("source_id", "resy.com-venue-details")

	c.mu.RLock()
	paymentMethodID := c.paymentMethodID
	c.mu.RUnlock()
	if paymentMethodID != "" {
		method, _ := json.Marshal(map[string]interface{}{"id": mustAtoi(paymentMethodID)})
		form.Set("struct_payment_method", string(method))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/3/book", strings.NewReader(form.Encode()))
	if err != nil {
		return "", "", err
	}
	req.Header = c.headers()

	resp, err := c.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("book request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", fmt.Errorf("failed to read book response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		c.maybeRefreshAuth()
		return "", "", errAuthExpired
	}
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("book returned status %d: %s", resp.StatusCode, string(body))
	}

	var parsed bookResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", "", fmt.Errorf("failed to decode book response: %w", err)
	}

	confirmation = parsed.ResyToken
	if confirmation == "" {
		confirmation = parsed.ReservationID.String()
	}
	return confirmation, string(body), nil
}

// TryBook implements platform.Platform: find slots, pick the one closest to
// the preferred time, fetch its book token and book it.
func (c *Client) TryBook(ctx context.Context, venueID, date, timePreferred string, partySize int) platform.BookResult {
	slots, err := c.findSlots(ctx, venueID, date, partySize)
	if err == errAuthExpired {
		return platform.BookResult{Outcome: platform.OutcomeAuthExpired, Detail: "find returned 401"}
	}
	if err != nil {
		return platform.BookResult{Outcome: platform.OutcomeTransportError, Detail: err.Error()}
	}
	if len(slots) == 0 {
		return platform.BookResult{Outcome: platform.OutcomeNoAvailability, Detail: "no slots"}
	}

	best, ok := pickBestSlot(slots, timePreferred)
	if !ok {
		return platform.BookResult{Outcome: platform.OutcomeNoAvailability, Detail: "no parseable slot"}
	}

	bookToken, err := c.slotDetails(ctx, best.ConfigID, date, partySize)
	if err == errAuthExpired {
		return platform.BookResult{Outcome: platform.OutcomeAuthExpired, Detail: "details returned 401"}
	}
	if err != nil || bookToken == "" {
		detail := "empty book token"
		if err != nil {
			detail = err.Error()
		}
		return platform.BookResult{Outcome: platform.OutcomeTransportError, Detail: detail}
	}

	confirmation, raw, err := c.book(ctx, bookToken)
	if err == errAuthExpired {
		return platform.BookResult{Outcome: platform.OutcomeAuthExpired, Detail: "book returned 401"}
	}
	if err != nil {
		// The book POST may or may not have landed; this is the ambiguous case.
		return platform.BookResult{Outcome: platform.OutcomeTransportError, Detail: err.Error()}
	}

	return platform.BookResult{
		Outcome:        platform.OutcomeBooked,
		ConfirmationID: confirmation,
		BookedTime:     normalizeSlotTime(best.Time),
		Raw:            raw,
	}
}

// SubscribeNotify implements platform.Platform via Resy Notify.
func (c *Client) SubscribeNotify(ctx context.Context, venueID, date, timePreferred string, partySize int) error {
	form := url.Values{}
	form.Set("venue_id", venueID)
	form.Set("day", date)
	form.Set("time_preferred", timePreferred)
	form.Set("party_size", strconv.Itoa(partySize))
	form.Set("service_type_id", "2") // dinner

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/3/notify", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header = c.headers()

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
		c.logger.WithFields(logrus.Fields{
			"venue_id": venueID,
			"date":     date,
		}).Info("Resy Notify subscribed")
		return nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("notify returned status %d: %s", resp.StatusCode, string(raw))
}

// maybeRefreshAuth refreshes the auth token after a 401, at most once per
// minRefreshInterval. Runs in the caller's goroutine; the current attempt
// still reports AuthExpired and a later attempt picks up the new token.
func (c *Client) maybeRefreshAuth() {
	c.mu.Lock()
	if time.Since(c.lastRefresh) < minRefreshInterval {
		c.mu.Unlock()
		return
	}
	c.lastRefresh = time.Now()
	c.mu.Unlock()

	if c.email == "" || c.pass == "" {
		c.logger.Warn("Resy auth token expired and no credentials configured for refresh")
		return
	}

	if err := c.RefreshAuth(context.Background()); err != nil {
		c.logger.WithError(err).Error("Resy auth refresh failed")
	}
}

type authResponse struct {
	Token           string      `json:"token"`
	PaymentMethodID json.Number `json:"payment_method_id"`
}

// RefreshAuth fetches a fresh auth token with email/password login and
// stores it in the credential holder.
func (c *Client) RefreshAuth(ctx context.Context) error {
	form := url.Values{}
	form.Set("email", c.email)
	form.Set("password", c.pass)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/3/auth/password", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", fmt.Sprintf(`ResyAPI api_key="%s"`, c.apiKey))
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("auth request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("auth returned status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed authResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("failed to decode auth response: %w", err)
	}
	if parsed.Token == "" {
		return fmt.Errorf("auth response contained no token")
	}

	c.mu.Lock()
	c.authToken = parsed.Token
	if parsed.PaymentMethodID != "" {
		c.paymentMethodID = parsed.PaymentMethodID.String()
	}
	c.mu.Unlock()

	c.logger.Info("Resy auth token refreshed")
	return nil
}

func mustAtoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
