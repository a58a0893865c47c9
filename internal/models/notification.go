package models

// Notification is a parsed availability alert delivered by the mailbox
// monitor. The router matches it against active subscriptions; duplicate
// deliveries of the same EmailID are absorbed by the status machine.
type Notification struct {
	Platform       string `json:"platform"` // resy | opentable
	RestaurantName string `json:"restaurant_name"`
	Subject        string `json:"subject"`
	EmailID        string `json:"email_id"`
}
