package models

import "time"

// BookingStatus represents the state of a confirmed booking.
type BookingStatus string

const (
	BookingConfirmed BookingStatus = "confirmed"
	BookingCancelled BookingStatus = "cancelled"
)

// Booking is the terminal proof of a successful acquisition. At most one
// confirmed booking may exist per request; the booked-commit transaction in
// the request repository enforces it.
type Booking struct {
	ID             int64         `db:"id" json:"id"`
	RequestID      int64         `db:"request_id" json:"request_id"`
	Platform       string        `db:"platform" json:"platform"`
	ConfirmationID *string       `db:"confirmation_id" json:"confirmation_id,omitempty"`
	RestaurantName string        `db:"restaurant_name" json:"restaurant_name"`
	Date           string        `db:"date" json:"date"`
	Time           string        `db:"time" json:"time"` // Actual booked time, may differ from requested
	PartySize      int           `db:"party_size" json:"party_size"`
	Status         BookingStatus `db:"status" json:"status"`
	RawResponse    *string       `db:"raw_response" json:"raw_response,omitempty"`
	CreatedAt      time.Time     `db:"created_at" json:"created_at"`
}
