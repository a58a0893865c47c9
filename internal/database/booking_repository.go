package database

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/tablesnipe/reservation-backend/internal/models"
)

// BookingRepository handles read access to the bookings table. Inserts
// happen only inside RequestRepository.TransitionToBooked, so the booked
// status and the booking row can never disagree.
type BookingRepository struct {
	db *sqlx.DB
}

// NewBookingRepository creates a new BookingRepository
func NewBookingRepository(db *sqlx.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

const bookingColumns = `
	id, request_id, platform, confirmation_id, restaurant_name,
	date, time, party_size, status, raw_response, created_at`

// List returns all bookings, newest first.
func (r *BookingRepository) List() ([]models.Booking, error) {
	bookings := []models.Booking{}
	query := `SELECT` + bookingColumns + ` FROM bookings ORDER BY id DESC`
	if err := r.db.Select(&bookings, query); err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	return bookings, nil
}

// ListByRequest returns all bookings for a request.
func (r *BookingRepository) ListByRequest(requestID int64) ([]models.Booking, error) {
	bookings := []models.Booking{}
	query := `SELECT` + bookingColumns + ` FROM bookings WHERE request_id = $1 ORDER BY id DESC`
	if err := r.db.Select(&bookings, query, requestID); err != nil {
		return nil, fmt.Errorf("failed to list bookings for request: %w", err)
	}
	return bookings, nil
}

// Count returns the total number of bookings.
func (r *BookingRepository) Count() (int, error) {
	var count int
	if err := r.db.Get(&count, `SELECT COUNT(*) FROM bookings`); err != nil {
		return 0, fmt.Errorf("failed to count bookings: %w", err)
	}
	return count, nil
}
