package models

import (
	"time"
)

// RequestStatus represents the lifecycle state of a reservation request.
// Matches the status column on reservation_requests.
type RequestStatus string

const (
	StatusPending        RequestStatus = "pending"         // Created, not yet picked up
	StatusSearching      RequestStatus = "searching"       // First acquisition attempt in progress
	StatusWaiting        RequestStatus = "waiting"         // Sniper waiting for booking_open_time
	StatusPolling        RequestStatus = "polling"         // Sniper rapid-poll loop running
	StatusNotifyReceived RequestStatus = "notify_received" // Availability notification matched
	StatusBooked         RequestStatus = "booked"          // Confirmed booking exists
	StatusNoAvailability RequestStatus = "no_availability" // No slots and no future open time
	StatusFailed         RequestStatus = "failed"          // Sniper timed out or orchestration error
	StatusCancelled      RequestStatus = "cancelled"       // Cancelled by the user
)

// Platform identifiers. These name the adapter that produced a booking or
// notification, and select which adapter AutoBook uses.
const (
	PlatformResy      = "resy"
	PlatformOpenTable = "opentable"
)

// transitions is the status machine. A missing entry means no outgoing
// transitions. Retry (any non-booked state back to pending) is handled in
// CanTransition rather than listed per state.
var transitions = map[RequestStatus][]RequestStatus{
	StatusPending:        {StatusSearching, StatusNotifyReceived, StatusCancelled},
	StatusSearching:      {StatusBooked, StatusNoAvailability, StatusWaiting, StatusPolling, StatusNotifyReceived, StatusFailed, StatusCancelled},
	StatusWaiting:        {StatusPolling, StatusNotifyReceived, StatusFailed, StatusCancelled},
	StatusPolling:        {StatusBooked, StatusNotifyReceived, StatusFailed, StatusCancelled},
	StatusNotifyReceived: {StatusBooked, StatusFailed, StatusCancelled},
	StatusNoAvailability: {StatusNotifyReceived, StatusCancelled},
	StatusFailed:         {StatusNotifyReceived, StatusCancelled},
	StatusBooked:         {},
	StatusCancelled:      {},
}

// CanTransition reports whether the status machine permits from → to.
func CanTransition(from, to RequestStatus) bool {
	if from == to {
		return false
	}
	// The retry command forces any non-booked state back to pending.
	if to == StatusPending {
		return from != StatusBooked
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no acquisition work remains for this status.
// booked and cancelled are hard-terminal: nothing moves them again except an
// explicit retry (and nothing moves booked at all). no_availability and
// failed are soft-terminal: a matched notification can still revive them, and
// the user can cancel them to kill that standing auto-book path.
func (s RequestStatus) Terminal() bool {
	return s == StatusBooked || s == StatusCancelled ||
		s == StatusNoAvailability || s == StatusFailed
}

// HardTerminal reports whether the request must never be acted on again.
func (s RequestStatus) HardTerminal() bool {
	return s == StatusBooked || s == StatusCancelled
}

// ReservationRequest is the durable unit of user intent.
type ReservationRequest struct {
	ID                  int64         `db:"id" json:"id"`
	RestaurantName      string        `db:"restaurant_name" json:"restaurant_name"`
	Date                string        `db:"date" json:"date"` // YYYY-MM-DD, venue-local
	Time                string        `db:"time" json:"time"` // HH:MM, venue-local
	PartySize           int           `db:"party_size" json:"party_size"`
	ContactEmail        string        `db:"contact_email" json:"contact_email"`
	Status              RequestStatus `db:"status" json:"status"`
	VenueID             string        `db:"venue_id" json:"venue_id"`
	BookingOpenTime     *time.Time    `db:"booking_open_time" json:"booking_open_time,omitempty"`
	PollAttempts        int           `db:"poll_attempts" json:"poll_attempts"`
	MaxPollDurationSecs int           `db:"max_poll_duration_secs" json:"max_poll_duration_secs"`
	Platform            *string       `db:"platform" json:"platform,omitempty"`
	CreatedAt           time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time     `db:"updated_at" json:"updated_at"`
}

// MaxPollDuration returns the sniper poll budget as a duration.
func (r *ReservationRequest) MaxPollDuration() time.Duration {
	if r.MaxPollDurationSecs <= 0 {
		return 300 * time.Second
	}
	return time.Duration(r.MaxPollDurationSecs) * time.Second
}
