package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tablesnipe/reservation-backend/internal/config"
	"github.com/tablesnipe/reservation-backend/internal/database"
	"github.com/tablesnipe/reservation-backend/internal/models"
	"github.com/tablesnipe/reservation-backend/internal/platform"
)

// fakeStore is an in-memory stand-in for the request, subscription and
// activity repositories, enforcing the same status machine rules.
type fakeStore struct {
	mu            sync.Mutex
	requests      map[int64]*models.ReservationRequest
	bookings      []*models.Booking
	logs          []*models.ActivityLog
	subs          []*models.NotificationSubscription
	deactivated   []int64
	alreadyBooked bool // force ErrAlreadyBooked from TransitionToBooked
}

func newFakeStore() *fakeStore {
	return &fakeStore{requests: make(map[int64]*models.ReservationRequest)}
}

func (s *fakeStore) add(req *models.ReservationRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[req.ID] = req
}

func (s *fakeStore) GetByID(id int64) (*models.ReservationRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, nil
	}
	copied := *req
	return &copied, nil
}

func (s *fakeStore) ListByStatus(statuses ...models.RequestStatus) ([]models.ReservationRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ReservationRequest
	for _, req := range s.requests {
		for _, status := range statuses {
			if req.Status == status {
				out = append(out, *req)
			}
		}
	}
	return out, nil
}

func (s *fakeStore) Transition(requestID int64, to models.RequestStatus, entry *models.ActivityLog) (*models.ReservationRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[requestID]
	if !ok {
		return nil, assert.AnError
	}
	if !models.CanTransition(req.Status, to) {
		return nil, &database.InvalidTransitionError{RequestID: requestID, From: req.Status, To: to}
	}
	req.Status = to
	if entry != nil {
		s.logs = append(s.logs, entry)
	}
	copied := *req
	return &copied, nil
}

func (s *fakeStore) TransitionToBooked(requestID int64, platformName string, booking *models.Booking, entry *models.ActivityLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[requestID]
	if !ok {
		return assert.AnError
	}
	if s.alreadyBooked || req.Status == models.StatusBooked {
		return database.ErrAlreadyBooked
	}
	if !models.CanTransition(req.Status, models.StatusBooked) {
		return &database.InvalidTransitionError{RequestID: requestID, From: req.Status, To: models.StatusBooked}
	}
	req.Status = models.StatusBooked
	req.Platform = &platformName
	s.bookings = append(s.bookings, booking)
	if entry != nil {
		s.logs = append(s.logs, entry)
	}
	return nil
}

func (s *fakeStore) SetVenueID(requestID int64, venueID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if req, ok := s.requests[requestID]; ok && req.VenueID == "" {
		req.VenueID = venueID
	}
	return nil
}

func (s *fakeStore) IncrementPollAttempts(requestID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if req, ok := s.requests[requestID]; ok {
		req.PollAttempts++
	}
	return nil
}

func (s *fakeStore) Upsert(sub *models.NotificationSubscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub.Active = true
	s.subs = append(s.subs, sub)
	return nil
}

func (s *fakeStore) DeactivateForRequest(requestID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deactivated = append(s.deactivated, requestID)
	return nil
}

func (s *fakeStore) Append(entry *models.ActivityLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, entry)
	return nil
}

func (s *fakeStore) status(id int64) models.RequestStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[id].Status
}

func (s *fakeStore) actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.logs))
	for i, entry := range s.logs {
		out[i] = entry.Action
	}
	return out
}

func (s *fakeStore) hasAction(action string) bool {
	for _, a := range s.actions() {
		if a == action {
			return true
		}
	}
	return false
}

func (s *fakeStore) bookingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bookings)
}

func (s *fakeStore) subscriptionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// fakePlatform is a scripted platform adapter. TryBook pops results from the
// queue; the last result repeats once the queue drains.
type fakePlatform struct {
	mu         sync.Mutex
	name       string
	venueID    string
	resolveErr error
	results    []platform.BookResult
	bookCalls  int
	subscribed int
}

func (p *fakePlatform) Name() string { return p.name }

func (p *fakePlatform) ResolveVenue(ctx context.Context, restaurantName string) (string, error) {
	if p.resolveErr != nil {
		return "", p.resolveErr
	}
	return p.venueID, nil
}

func (p *fakePlatform) TryBook(ctx context.Context, venueID, date, timePreferred string, partySize int) platform.BookResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bookCalls++
	result := p.results[0]
	if len(p.results) > 1 {
		p.results = p.results[1:]
	}
	return result
}

func (p *fakePlatform) SubscribeNotify(ctx context.Context, venueID, date, timePreferred string, partySize int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribed++
	return nil
}

func (p *fakePlatform) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bookCalls
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func newTestOrchestrator(store *fakeStore, adapter *fakePlatform, clk clock.Clock) *Orchestrator {
	return New(store, store, store, platform.Registry{adapter.name: adapter},
		config.SniperConfig{PollInterval: 500 * time.Millisecond, DefaultMaxPollSecs: 300},
		clk, quietLogger())
}

func pendingRequest(id int64) *models.ReservationRequest {
	return &models.ReservationRequest{
		ID:                  id,
		RestaurantName:      "Carbone",
		Date:                "2026-09-01",
		Time:                "19:00",
		PartySize:           2,
		ContactEmail:        "diner@example.com",
		Status:              models.StatusPending,
		MaxPollDurationSecs: 300,
	}
}

func TestImmediateBookingSuccess(t *testing.T) {
	store := newFakeStore()
	store.add(pendingRequest(1))
	adapter := &fakePlatform{
		name:    models.PlatformResy,
		venueID: "5771",
		results: []platform.BookResult{{
			Outcome:        platform.OutcomeBooked,
			ConfirmationID: "conf-1",
			BookedTime:     "19:15",
		}},
	}
	orch := newTestOrchestrator(store, adapter, clock.New())

	orch.Submit(1)
	orch.Wait()

	assert.Equal(t, models.StatusBooked, store.status(1))
	assert.Equal(t, 1, store.bookingCount())
	assert.True(t, store.hasAction("search_started"))
	assert.True(t, store.hasAction("resy_search"))
	assert.True(t, store.hasAction("resy_booked"))

	req, _ := store.GetByID(1)
	assert.Equal(t, "5771", req.VenueID)
}

func TestNoAvailabilityCreatesSubscription(t *testing.T) {
	store := newFakeStore()
	store.add(pendingRequest(1))
	adapter := &fakePlatform{
		name:    models.PlatformResy,
		venueID: "5771",
		results: []platform.BookResult{{Outcome: platform.OutcomeNoAvailability}},
	}
	orch := newTestOrchestrator(store, adapter, clock.New())

	orch.Submit(1)
	orch.Wait()

	assert.Equal(t, models.StatusNoAvailability, store.status(1))
	assert.Equal(t, 0, store.bookingCount())
	assert.Equal(t, 1, store.subscriptionCount())
	assert.True(t, store.hasAction("resy_unavailable"))
	assert.True(t, store.hasAction("no_availability"))
	assert.True(t, store.hasAction("notify_subscribed"))
}

func TestVenueNotFound(t *testing.T) {
	store := newFakeStore()
	store.add(pendingRequest(1))
	adapter := &fakePlatform{
		name:       models.PlatformResy,
		resolveErr: platform.ErrVenueNotFound,
		results:    []platform.BookResult{{Outcome: platform.OutcomeNoAvailability}},
	}
	orch := newTestOrchestrator(store, adapter, clock.New())

	orch.Submit(1)
	orch.Wait()

	assert.Equal(t, models.StatusNoAvailability, store.status(1))
	assert.True(t, store.hasAction("resy_venue_not_found"))
	assert.Equal(t, 0, adapter.calls())
}

func TestTransportAmbiguityIsRecorded(t *testing.T) {
	store := newFakeStore()
	store.add(pendingRequest(1))
	adapter := &fakePlatform{
		name:    models.PlatformResy,
		venueID: "5771",
		results: []platform.BookResult{{Outcome: platform.OutcomeTransportError, Detail: "book timed out"}},
	}
	orch := newTestOrchestrator(store, adapter, clock.New())

	orch.Submit(1)
	orch.Wait()

	// The attempt may or may not have landed on the platform; no automatic
	// retry, just the audit trail and operator attention.
	assert.Equal(t, models.StatusFailed, store.status(1))
	assert.True(t, store.hasAction("transport_ambiguous"))
	assert.True(t, store.hasAction("search_failed"))
	assert.Equal(t, 0, store.bookingCount())
	assert.Equal(t, 1, adapter.calls())
}

func TestDuplicateBookingDetected(t *testing.T) {
	store := newFakeStore()
	store.add(pendingRequest(1))
	store.alreadyBooked = true
	adapter := &fakePlatform{
		name:    models.PlatformResy,
		venueID: "5771",
		results: []platform.BookResult{{Outcome: platform.OutcomeBooked, ConfirmationID: "conf-2"}},
	}
	orch := newTestOrchestrator(store, adapter, clock.New())

	orch.Submit(1)
	orch.Wait()

	assert.True(t, store.hasAction("duplicate_booking_detected"))
	assert.Equal(t, 0, store.bookingCount())
}

func TestCancelPendingRequest(t *testing.T) {
	store := newFakeStore()
	store.add(pendingRequest(1))
	orch := newTestOrchestrator(store, &fakePlatform{name: models.PlatformResy}, clock.New())

	require.NoError(t, orch.Cancel(1))
	assert.Equal(t, models.StatusCancelled, store.status(1))
	assert.True(t, store.hasAction("cancelled"))
	assert.Contains(t, store.deactivated, int64(1))
}

func TestCancelParkedRequestDeactivatesSubscription(t *testing.T) {
	store := newFakeStore()
	store.add(pendingRequest(1))
	adapter := &fakePlatform{
		name:    models.PlatformResy,
		venueID: "5771",
		results: []platform.BookResult{{Outcome: platform.OutcomeNoAvailability}},
	}
	orch := newTestOrchestrator(store, adapter, clock.New())

	orch.Submit(1)
	orch.Wait()
	require.Equal(t, models.StatusNoAvailability, store.status(1))
	require.Equal(t, 1, store.subscriptionCount())

	// A parked request keeps a live auto-book path through its subscription;
	// cancelling must close it.
	require.NoError(t, orch.Cancel(1))
	assert.Equal(t, models.StatusCancelled, store.status(1))
	assert.True(t, store.hasAction("cancelled"))
	assert.Contains(t, store.deactivated, int64(1))

	req := pendingRequest(2)
	req.Status = models.StatusFailed
	store.add(req)
	require.NoError(t, orch.Cancel(2))
	assert.Equal(t, models.StatusCancelled, store.status(2))
}

func TestCancelBookedFails(t *testing.T) {
	store := newFakeStore()
	req := pendingRequest(1)
	req.Status = models.StatusBooked
	store.add(req)
	orch := newTestOrchestrator(store, &fakePlatform{name: models.PlatformResy}, clock.New())

	err := orch.Cancel(1)
	require.Error(t, err)
	assert.Equal(t, models.StatusBooked, store.status(1))
}

func TestRetryResubmits(t *testing.T) {
	store := newFakeStore()
	req := pendingRequest(1)
	req.Status = models.StatusFailed
	store.add(req)
	adapter := &fakePlatform{
		name:    models.PlatformResy,
		venueID: "5771",
		results: []platform.BookResult{{Outcome: platform.OutcomeBooked, ConfirmationID: "conf-3", BookedTime: "19:00"}},
	}
	orch := newTestOrchestrator(store, adapter, clock.New())

	require.NoError(t, orch.Retry(1))
	orch.Wait()

	assert.True(t, store.hasAction("retry_requested"))
	assert.Equal(t, models.StatusBooked, store.status(1))
}

func TestRetryBookedRejected(t *testing.T) {
	store := newFakeStore()
	req := pendingRequest(1)
	req.Status = models.StatusBooked
	store.add(req)
	orch := newTestOrchestrator(store, &fakePlatform{name: models.PlatformResy}, clock.New())

	err := orch.Retry(1)
	require.Error(t, err)
	assert.True(t, database.IsInvalidTransition(err))
}

func TestAutoBookSuccess(t *testing.T) {
	store := newFakeStore()
	req := pendingRequest(1)
	req.Status = models.StatusNotifyReceived
	req.VenueID = "5771"
	store.add(req)
	adapter := &fakePlatform{
		name:    models.PlatformResy,
		results: []platform.BookResult{{Outcome: platform.OutcomeBooked, ConfirmationID: "conf-4", BookedTime: "19:30"}},
	}
	orch := newTestOrchestrator(store, adapter, clock.New())

	assert.True(t, orch.AutoBook(1, models.PlatformResy))
	assert.Equal(t, models.StatusBooked, store.status(1))
	assert.Equal(t, 1, store.bookingCount())
}

func TestAutoBookFailureMarksFailed(t *testing.T) {
	store := newFakeStore()
	req := pendingRequest(1)
	req.Status = models.StatusNotifyReceived
	req.VenueID = "5771"
	store.add(req)
	adapter := &fakePlatform{
		name:    models.PlatformResy,
		results: []platform.BookResult{{Outcome: platform.OutcomeNoAvailability}},
	}
	orch := newTestOrchestrator(store, adapter, clock.New())

	assert.False(t, orch.AutoBook(1, models.PlatformResy))
	assert.Equal(t, models.StatusFailed, store.status(1))
	assert.True(t, store.hasAction("auto_book_failed"))
}

func TestAutoBookWaitsForBusySlot(t *testing.T) {
	store := newFakeStore()
	req := pendingRequest(1)
	req.Status = models.StatusNotifyReceived
	req.VenueID = "5771"
	store.add(req)
	adapter := &fakePlatform{
		name:    models.PlatformResy,
		results: []platform.BookResult{{Outcome: platform.OutcomeBooked, ConfirmationID: "conf-6", BookedTime: "19:30"}},
	}
	mock := clock.NewMock()
	orch := newTestOrchestrator(store, adapter, mock)

	// Hold the request's task slot so the first acquire attempt fails.
	_, release, ok := orch.cancels.acquire(1)
	require.True(t, ok)

	done := make(chan bool, 1)
	go func() { done <- orch.AutoBook(1, models.PlatformResy) }()

	release()
	// The retry backoff runs on the injected clock; drive it forward until
	// the attempt lands.
	require.Eventually(t, func() bool {
		mock.Add(20 * time.Millisecond)
		select {
		case booked := <-done:
			assert.True(t, booked)
			return true
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, models.StatusBooked, store.status(1))
}

func TestLateBookingAfterCancelIsDiscarded(t *testing.T) {
	store := newFakeStore()
	req := pendingRequest(1)
	req.Status = models.StatusCancelled
	store.add(req)
	orch := newTestOrchestrator(store, &fakePlatform{name: models.PlatformResy}, clock.New())

	// TryBook succeeded upstream, but the cancel committed first. The commit
	// must roll off without resurrecting the request.
	loaded, _ := store.GetByID(1)
	orch.commitBooking(1, models.PlatformResy, loaded, platform.BookResult{
		Outcome: platform.OutcomeBooked, ConfirmationID: "conf-7", BookedTime: "19:00",
	})

	assert.Equal(t, models.StatusCancelled, store.status(1))
	assert.Equal(t, 0, store.bookingCount())
	assert.True(t, store.hasAction("booking_discarded"))
}

func TestSupervisorResumesInFlight(t *testing.T) {
	store := newFakeStore()

	interrupted := pendingRequest(1)
	interrupted.Status = models.StatusSearching
	store.add(interrupted)

	notified := pendingRequest(2)
	notified.Status = models.StatusNotifyReceived
	notified.VenueID = "5771"
	store.add(notified)

	adapter := &fakePlatform{
		name:    models.PlatformResy,
		venueID: "5771",
		results: []platform.BookResult{{Outcome: platform.OutcomeBooked, ConfirmationID: "conf-5", BookedTime: "19:00"}},
	}
	orch := newTestOrchestrator(store, adapter, clock.New())

	require.NoError(t, orch.ResumeInFlight())
	// All resumed work, including the notify_received auto-book, is tracked
	// by Wait.
	orch.Wait()

	assert.Equal(t, models.StatusBooked, store.status(1))
	assert.Equal(t, models.StatusBooked, store.status(2))
	assert.True(t, store.hasAction("supervisor_resumed"))
}

func TestSupervisorResumesNotifiedOnItsPlatform(t *testing.T) {
	store := newFakeStore()
	req := pendingRequest(1)
	req.Status = models.StatusNotifyReceived
	req.VenueID = "ot-88"
	notifying := models.PlatformOpenTable
	req.Platform = &notifying
	store.add(req)

	resyAdapter := &fakePlatform{
		name:    models.PlatformResy,
		results: []platform.BookResult{{Outcome: platform.OutcomeNoAvailability}},
	}
	otAdapter := &fakePlatform{
		name:    models.PlatformOpenTable,
		results: []platform.BookResult{{Outcome: platform.OutcomeBooked, ConfirmationID: "ot-conf-1", BookedTime: "19:00"}},
	}
	orch := New(store, store, store,
		platform.Registry{models.PlatformResy: resyAdapter, models.PlatformOpenTable: otAdapter},
		config.SniperConfig{PollInterval: 500 * time.Millisecond, DefaultMaxPollSecs: 300},
		clock.New(), quietLogger())

	require.NoError(t, orch.ResumeInFlight())
	orch.Wait()

	assert.Equal(t, models.StatusBooked, store.status(1))
	assert.Equal(t, 0, resyAdapter.calls())
	assert.Equal(t, 1, otAdapter.calls())
}
