package database

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/tablesnipe/reservation-backend/internal/models"
)

// SubscriptionRepository handles notification_subscriptions database
// operations.
type SubscriptionRepository struct {
	db *sqlx.DB
}

// NewSubscriptionRepository creates a new SubscriptionRepository
func NewSubscriptionRepository(db *sqlx.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

const subscriptionColumns = `
	id, request_id, platform, restaurant_name, venue_id,
	search_date, search_time, search_party_size, active, subscribed_at`

// Upsert creates or reactivates the subscription for (request_id, platform).
// The unique constraint keeps at most one row per pair, so re-subscribing
// refreshes the existing one.
func (r *SubscriptionRepository) Upsert(sub *models.NotificationSubscription) error {
	query := `
		INSERT INTO notification_subscriptions (
			request_id, platform, restaurant_name, venue_id,
			search_date, search_time, search_party_size, active, subscribed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, now())
		ON CONFLICT (request_id, platform) DO UPDATE SET
			restaurant_name = EXCLUDED.restaurant_name,
			venue_id = EXCLUDED.venue_id,
			search_date = EXCLUDED.search_date,
			search_time = EXCLUDED.search_time,
			search_party_size = EXCLUDED.search_party_size,
			active = TRUE,
			subscribed_at = now()
		RETURNING id, subscribed_at`

	err := r.db.QueryRow(query,
		sub.RequestID, sub.Platform, sub.RestaurantName, sub.VenueID,
		sub.SearchDate, sub.SearchTime, sub.SearchPartySize,
	).Scan(&sub.ID, &sub.SubscribedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}
	sub.Active = true
	return nil
}

// ListActiveByPlatform returns all active subscriptions for a platform. The
// notification router matches incoming alerts against this set.
func (r *SubscriptionRepository) ListActiveByPlatform(platform string) ([]models.NotificationSubscription, error) {
	subs := []models.NotificationSubscription{}
	query := `SELECT` + subscriptionColumns + `
		FROM notification_subscriptions WHERE active = TRUE AND platform = $1`
	if err := r.db.Select(&subs, query, platform); err != nil {
		return nil, fmt.Errorf("failed to list active subscriptions: %w", err)
	}
	return subs, nil
}

// ListByRequest returns all subscriptions owned by a request.
func (r *SubscriptionRepository) ListByRequest(requestID int64) ([]models.NotificationSubscription, error) {
	subs := []models.NotificationSubscription{}
	query := `SELECT` + subscriptionColumns + `
		FROM notification_subscriptions WHERE request_id = $1 ORDER BY subscribed_at DESC`
	if err := r.db.Select(&subs, query, requestID); err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return subs, nil
}

// DeactivateForRequest flips every subscription for the request to inactive
// in one statement.
func (r *SubscriptionRepository) DeactivateForRequest(requestID int64) error {
	_, err := r.db.Exec(
		`UPDATE notification_subscriptions SET active = FALSE WHERE request_id = $1`,
		requestID)
	if err != nil {
		return fmt.Errorf("failed to deactivate subscriptions: %w", err)
	}
	return nil
}
