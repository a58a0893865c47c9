package platform

import (
	"context"
	"errors"
)

// ErrVenueNotFound is returned by ResolveVenue when the platform knows no
// venue for the given restaurant name.
var ErrVenueNotFound = errors.New("venue not found")

// BookOutcome classifies the result of a TryBook call.
type BookOutcome string

const (
	// OutcomeBooked means the platform confirmed a reservation.
	OutcomeBooked BookOutcome = "booked"
	// OutcomeNoAvailability means the platform answered but had no usable slot.
	OutcomeNoAvailability BookOutcome = "no_availability"
	// OutcomeAuthExpired means the platform rejected our credentials.
	OutcomeAuthExpired BookOutcome = "auth_expired"
	// OutcomeTransportError means the call failed in a way that leaves the
	// platform-side state unknown. The orchestrator logs it as an ambiguous
	// booking risk; reconciliation is operator-driven.
	OutcomeTransportError BookOutcome = "transport_error"
)

// BookResult is the outcome of a single TryBook attempt. ConfirmationID,
// BookedTime and Raw are only set when Outcome is OutcomeBooked; Detail
// carries a short human-readable reason for the other outcomes.
type BookResult struct {
	Outcome        BookOutcome
	ConfirmationID string
	BookedTime     string // HH:MM, the actual slot booked
	Raw            string // platform response body, for audit
	Detail         string
}

// Booked reports whether the attempt produced a confirmed reservation.
func (r BookResult) Booked() bool { return r.Outcome == OutcomeBooked }

// Platform is the capability every reservation platform adapter implements.
// TryBook is at-most-once per call from the platform's perspective: an
// adapter must never silently double-book, and reports OutcomeTransportError
// when it cannot tell whether the booking landed.
type Platform interface {
	// Name returns the platform identifier ("resy", "opentable").
	Name() string

	// ResolveVenue looks up the platform venue id for a restaurant name.
	// Pure lookup, no side effects. Returns ErrVenueNotFound on a miss.
	ResolveVenue(ctx context.Context, restaurantName string) (string, error)

	// TryBook attempts to book the slot closest to timePreferred
	// (absolute minute difference, ties toward the earlier slot) and
	// returns the actual booked time.
	TryBook(ctx context.Context, venueID, date, timePreferred string, partySize int) BookResult

	// SubscribeNotify registers a platform-side availability alert.
	SubscribeNotify(ctx context.Context, venueID, date, timePreferred string, partySize int) error
}

// Registry maps platform names to adapters.
type Registry map[string]Platform

// Get returns the adapter for name, or nil if none is registered.
func (r Registry) Get(name string) Platform {
	return r[name]
}
