package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    RequestStatus
		to      RequestStatus
		allowed bool
	}{
		{"pending to searching", StatusPending, StatusSearching, true},
		{"pending to cancelled", StatusPending, StatusCancelled, true},
		{"pending to booked directly", StatusPending, StatusBooked, false},
		{"searching to booked", StatusSearching, StatusBooked, true},
		{"searching to no availability", StatusSearching, StatusNoAvailability, true},
		{"searching to waiting", StatusSearching, StatusWaiting, true},
		{"waiting to polling", StatusWaiting, StatusPolling, true},
		{"waiting to booked directly", StatusWaiting, StatusBooked, false},
		{"polling to booked", StatusPolling, StatusBooked, true},
		{"polling to failed", StatusPolling, StatusFailed, true},
		{"no availability to notify received", StatusNoAvailability, StatusNotifyReceived, true},
		{"failed to notify received", StatusFailed, StatusNotifyReceived, true},
		{"notify received to booked", StatusNotifyReceived, StatusBooked, true},
		{"notify received to failed", StatusNotifyReceived, StatusFailed, true},
		{"cancel from no availability", StatusNoAvailability, StatusCancelled, true},
		{"cancel from failed", StatusFailed, StatusCancelled, true},
		{"booked to anything", StatusBooked, StatusCancelled, false},
		{"booked to notify received", StatusBooked, StatusNotifyReceived, false},
		{"cancelled to notify received", StatusCancelled, StatusNotifyReceived, false},
		{"same state is not a transition", StatusPolling, StatusPolling, false},
		{"retry from failed", StatusFailed, StatusPending, true},
		{"retry from no availability", StatusNoAvailability, StatusPending, true},
		{"retry from cancelled", StatusCancelled, StatusPending, true},
		{"retry from booked", StatusBooked, StatusPending, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, CanTransition(tt.from, tt.to))
		})
	}
}

func TestCancellableFromEverythingExceptBooked(t *testing.T) {
	cancellable := []RequestStatus{
		StatusPending, StatusSearching, StatusWaiting,
		StatusPolling, StatusNotifyReceived,
		StatusNoAvailability, StatusFailed,
	}
	for _, from := range cancellable {
		assert.True(t, CanTransition(from, StatusCancelled), "should cancel from %s", from)
	}
	assert.False(t, CanTransition(StatusBooked, StatusCancelled))
}

func TestTerminal(t *testing.T) {
	assert.True(t, StatusBooked.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.True(t, StatusNoAvailability.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusPolling.Terminal())
	assert.False(t, StatusWaiting.Terminal())

	assert.True(t, StatusBooked.HardTerminal())
	assert.True(t, StatusCancelled.HardTerminal())
	assert.False(t, StatusNoAvailability.HardTerminal())
	assert.False(t, StatusFailed.HardTerminal())
}

func TestMaxPollDuration(t *testing.T) {
	req := &ReservationRequest{MaxPollDurationSecs: 120}
	assert.Equal(t, 2*time.Minute, req.MaxPollDuration())

	req = &ReservationRequest{}
	assert.Equal(t, 5*time.Minute, req.MaxPollDuration())
}

func TestNewLog(t *testing.T) {
	entry := NewLog(42, "resy_search", "resy", map[string]interface{}{"venue_id": "1234"})
	assert.Equal(t, int64(42), *entry.RequestID)
	assert.Equal(t, "resy_search", entry.Action)
	assert.Equal(t, "resy", *entry.Platform)
	assert.JSONEq(t, `{"venue_id":"1234"}`, *entry.Details)

	entry = NewLog(42, "cancelled", "", nil)
	assert.Nil(t, entry.Platform)
	assert.Nil(t, entry.Details)
}
