package notify

import (
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tablesnipe/reservation-backend/internal/database"
	"github.com/tablesnipe/reservation-backend/internal/models"
)

type fakeStores struct {
	mu          sync.Mutex
	requests    map[int64]*models.ReservationRequest
	subs        []models.NotificationSubscription
	logs        []*models.ActivityLog
	deactivated []int64
}

func (s *fakeStores) GetByID(id int64) (*models.ReservationRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, nil
	}
	copied := *req
	return &copied, nil
}

func (s *fakeStores) Transition(requestID int64, to models.RequestStatus, entry *models.ActivityLog) (*models.ReservationRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req := s.requests[requestID]
	if !models.CanTransition(req.Status, to) {
		return nil, &database.InvalidTransitionError{RequestID: requestID, From: req.Status, To: to}
	}
	req.Status = to
	s.logs = append(s.logs, entry)
	copied := *req
	return &copied, nil
}

func (s *fakeStores) SetPlatform(requestID int64, platform string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if req, ok := s.requests[requestID]; ok {
		req.Platform = &platform
	}
	return nil
}

func (s *fakeStores) ListActiveByPlatform(platform string) ([]models.NotificationSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.NotificationSubscription
	for _, sub := range s.subs {
		if sub.Active && sub.Platform == platform {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (s *fakeStores) DeactivateForRequest(requestID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deactivated = append(s.deactivated, requestID)
	return nil
}

func (s *fakeStores) Append(entry *models.ActivityLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, entry)
	return nil
}

func (s *fakeStores) actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.logs))
	for i, entry := range s.logs {
		out[i] = entry.Action
	}
	return out
}

type fakeBooker struct {
	result bool
	calls  []int64
}

func (b *fakeBooker) AutoBook(requestID int64, platform string) bool {
	b.calls = append(b.calls, requestID)
	return b.result
}

func newFixture(status models.RequestStatus, bookerResult bool) (*fakeStores, *fakeBooker, *Router) {
	stores := &fakeStores{
		requests: map[int64]*models.ReservationRequest{
			1: {ID: 1, RestaurantName: "Don Angie", Status: status},
		},
		subs: []models.NotificationSubscription{{
			ID: 10, RequestID: 1, Platform: models.PlatformResy,
			RestaurantName: "Don Angie", Active: true,
		}},
	}
	booker := &fakeBooker{result: bookerResult}
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return stores, booker, NewRouter(stores, stores, stores, booker, logger)
}

func TestNotificationBooksAndCleansUp(t *testing.T) {
	stores, booker, router := newFixture(models.StatusNoAvailability, true)

	router.HandleNotifications([]models.Notification{{
		Platform:       models.PlatformResy,
		RestaurantName: "Don Angie",
		Subject:        "Good news! A table at Don Angie is now available",
		EmailID:        "101",
	}})

	assert.Equal(t, models.StatusNotifyReceived, stores.requests[1].Status)
	assert.Equal(t, []int64{1}, booker.calls)
	assert.Equal(t, []int64{1}, stores.deactivated)

	// The notifying platform is persisted so a restart resumes on it.
	require.NotNil(t, stores.requests[1].Platform)
	assert.Equal(t, models.PlatformResy, *stores.requests[1].Platform)

	// Cleanup happens before the confirmation entry is written.
	actions := stores.actions()
	require.Contains(t, actions, "notification_received")
	require.Contains(t, actions, "booking_confirmed")
	assert.Equal(t, "booking_confirmed", actions[len(actions)-1])
}

func TestNotificationAutoBookFailure(t *testing.T) {
	stores, booker, router := newFixture(models.StatusFailed, false)

	router.HandleNotifications([]models.Notification{{
		Platform:       models.PlatformResy,
		RestaurantName: "Don Angie",
		EmailID:        "102",
	}})

	assert.Equal(t, []int64{1}, booker.calls)
	assert.Empty(t, stores.deactivated)
	assert.NotContains(t, stores.actions(), "booking_confirmed")
}

func TestNotificationIgnoresBookedRequest(t *testing.T) {
	stores, booker, router := newFixture(models.StatusBooked, true)

	router.HandleNotifications([]models.Notification{{
		Platform:       models.PlatformResy,
		RestaurantName: "Don Angie",
		EmailID:        "103",
	}})

	assert.Empty(t, booker.calls)
	assert.Equal(t, models.StatusBooked, stores.requests[1].Status)
}

func TestNotificationRedeliveryIsIdempotent(t *testing.T) {
	_, booker, router := newFixture(models.StatusNoAvailability, false)
	// AutoBook leaves the request where the transition put it, so simulate a
	// redelivery arriving while the first is still in notify_received.
	n := models.Notification{
		Platform:       models.PlatformResy,
		RestaurantName: "Don Angie",
		EmailID:        "104",
	}

	router.HandleNotifications([]models.Notification{n})
	router.HandleNotifications([]models.Notification{n})

	// The second delivery hits the rejected notify_received transition and
	// stops; only one auto-book attempt runs.
	assert.Equal(t, []int64{1}, booker.calls)
}

func TestRestaurantMatching(t *testing.T) {
	tests := []struct {
		subscribed string
		notified   string
		want       bool
	}{
		{"Don Angie", "Don Angie", true},
		{"don angie", "DON ANGIE", true},
		{"Don Angie", "Don Angie NYC", true},
		{"Carbone New York", "Carbone", true},
		{"Don Angie", "Carbone", false},
		{"", "Carbone", false},
		{"Don Angie", "  ", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, restaurantMatches(tt.subscribed, tt.notified),
			"subscribed=%q notified=%q", tt.subscribed, tt.notified)
	}
}

func TestNotificationSkipsOtherPlatforms(t *testing.T) {
	stores, booker, router := newFixture(models.StatusNoAvailability, true)

	router.HandleNotifications([]models.Notification{{
		Platform:       models.PlatformOpenTable,
		RestaurantName: "Don Angie",
		EmailID:        "105",
	}})

	assert.Empty(t, booker.calls)
	assert.Equal(t, models.StatusNoAvailability, stores.requests[1].Status)
}
