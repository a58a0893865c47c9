package models

import "time"

// NotificationSubscription is a standing request for out-of-band availability
// alerts for a (platform, venue, date, time, party) tuple. At most one row
// per (request_id, platform); re-subscribing reactivates the existing row.
type NotificationSubscription struct {
	ID              int64     `db:"id" json:"id"`
	RequestID       int64     `db:"request_id" json:"request_id"`
	Platform        string    `db:"platform" json:"platform"`
	RestaurantName  string    `db:"restaurant_name" json:"restaurant_name"`
	VenueID         *string   `db:"venue_id" json:"venue_id,omitempty"`
	SearchDate      string    `db:"search_date" json:"search_date"`
	SearchTime      string    `db:"search_time" json:"search_time"`
	SearchPartySize int       `db:"search_party_size" json:"search_party_size"`
	Active          bool      `db:"active" json:"active"`
	SubscribedAt    time.Time `db:"subscribed_at" json:"subscribed_at"`
}
