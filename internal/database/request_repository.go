package database

import (
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/tablesnipe/reservation-backend/internal/models"
)

// RequestRepository handles reservation_requests database operations. All
// status transitions go through Transition or TransitionToBooked, which
// enforce the status machine inside a row-locking transaction.
type RequestRepository struct {
	db *sqlx.DB
}

// NewRequestRepository creates a new RequestRepository
func NewRequestRepository(db *sqlx.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

const requestColumns = `
	id, restaurant_name, date, time, party_size, contact_email, status,
	venue_id, booking_open_time, poll_attempts, max_poll_duration_secs,
	platform, created_at, updated_at`

// Create inserts a new request in pending state and fills in the generated
// id and timestamps.
func (r *RequestRepository) Create(req *models.ReservationRequest) error {
	if req.Status == "" {
		req.Status = models.StatusPending
	}
	if req.MaxPollDurationSecs <= 0 {
		req.MaxPollDurationSecs = 300
	}

	query := `
		INSERT INTO reservation_requests (
			restaurant_name, date, time, party_size, contact_email, status,
			venue_id, booking_open_time, max_poll_duration_secs
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`

	err := r.db.QueryRow(query,
		req.RestaurantName, req.Date, req.Time, req.PartySize, req.ContactEmail,
		req.Status, req.VenueID, req.BookingOpenTime, req.MaxPollDurationSecs,
	).Scan(&req.ID, &req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create reservation request: %w", err)
	}
	return nil
}

// GetByID retrieves a request by id. Returns (nil, nil) when no row exists.
func (r *RequestRepository) GetByID(id int64) (*models.ReservationRequest, error) {
	var req models.ReservationRequest
	query := `SELECT` + requestColumns + ` FROM reservation_requests WHERE id = $1`
	err := r.db.Get(&req, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reservation request: %w", err)
	}
	return &req, nil
}

// List returns all requests, newest first, optionally filtered to a single
// status.
func (r *RequestRepository) List(status string) ([]models.ReservationRequest, error) {
	requests := []models.ReservationRequest{}
	if status != "" {
		query := `SELECT` + requestColumns + ` FROM reservation_requests WHERE status = $1 ORDER BY created_at DESC`
		if err := r.db.Select(&requests, query, status); err != nil {
			return nil, fmt.Errorf("failed to list reservation requests: %w", err)
		}
		return requests, nil
	}
	query := `SELECT` + requestColumns + ` FROM reservation_requests ORDER BY created_at DESC`
	if err := r.db.Select(&requests, query); err != nil {
		return nil, fmt.Errorf("failed to list reservation requests: %w", err)
	}
	return requests, nil
}

// ListByStatus returns all requests whose status is in the given set. Used by
// the supervisor to resume in-flight work after a restart.
func (r *RequestRepository) ListByStatus(statuses ...models.RequestStatus) ([]models.ReservationRequest, error) {
	set := make([]string, len(statuses))
	for i, s := range statuses {
		set[i] = string(s)
	}
	query, args, err := sqlx.In(
		`SELECT`+requestColumns+` FROM reservation_requests WHERE status IN (?) ORDER BY created_at`, set)
	if err != nil {
		return nil, fmt.Errorf("failed to build status query: %w", err)
	}
	query = r.db.Rebind(query)

	requests := []models.ReservationRequest{}
	if err := r.db.Select(&requests, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list requests by status: %w", err)
	}
	return requests, nil
}

// Transition moves the request to the given status inside a transaction,
// appending the log entry atomically with the status change. The row is
// locked for the duration; an illegal transition rolls back and returns
// InvalidTransitionError without mutating anything.
func (r *RequestRepository) Transition(requestID int64, to models.RequestStatus, entry *models.ActivityLog) (*models.ReservationRequest, error) {
	tx, err := r.db.Beginx()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	req, err := lockRequest(tx, requestID)
	if err != nil {
		return nil, err
	}

	if !models.CanTransition(req.Status, to) {
		return nil, &InvalidTransitionError{RequestID: requestID, From: req.Status, To: to}
	}

	if err := updateStatus(tx, requestID, to); err != nil {
		return nil, err
	}
	if err := appendLogTx(tx, entry); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transition: %w", err)
	}
	req.Status = to
	return req, nil
}

// TransitionToBooked performs the booked-commit transaction: status →
// booked, platform set, the booking row inserted with status=confirmed and
// the log appended, all atomically. If a confirmed booking already exists
// (status is already booked) it returns ErrAlreadyBooked and commits
// nothing, which is how the at-most-one-booking invariant survives racing
// winners.
func (r *RequestRepository) TransitionToBooked(requestID int64, platform string, booking *models.Booking, entry *models.ActivityLog) error {
	tx, err := r.db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	req, err := lockRequest(tx, requestID)
	if err != nil {
		return err
	}

	if req.Status == models.StatusBooked {
		return ErrAlreadyBooked
	}
	if !models.CanTransition(req.Status, models.StatusBooked) {
		return &InvalidTransitionError{RequestID: requestID, From: req.Status, To: models.StatusBooked}
	}

	_, err = tx.Exec(
		`UPDATE reservation_requests SET status = $2, platform = $3, updated_at = now() WHERE id = $1`,
		requestID, models.StatusBooked, platform)
	if err != nil {
		return fmt.Errorf("failed to update request to booked: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO bookings (
			request_id, platform, confirmation_id, restaurant_name,
			date, time, party_size, status, raw_response
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		booking.RequestID, booking.Platform, booking.ConfirmationID, booking.RestaurantName,
		booking.Date, booking.Time, booking.PartySize, models.BookingConfirmed, booking.RawResponse)
	if err != nil {
		return fmt.Errorf("failed to insert booking: %w", err)
	}

	if err := appendLogTx(tx, entry); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit booking: %w", err)
	}
	return nil
}

// SetVenueID persists a resolved venue id. Write-once: the update only
// applies while the stored venue_id is still empty.
func (r *RequestRepository) SetVenueID(requestID int64, venueID string) error {
	_, err := r.db.Exec(
		`UPDATE reservation_requests SET venue_id = $2, updated_at = now() WHERE id = $1 AND venue_id = ''`,
		requestID, venueID)
	if err != nil {
		return fmt.Errorf("failed to set venue_id: %w", err)
	}
	return nil
}

// SetPlatform records which adapter should handle the request next. The
// notification router writes it on notify_received so a restart resumes the
// booking attempt against the notifying platform.
func (r *RequestRepository) SetPlatform(requestID int64, platform string) error {
	_, err := r.db.Exec(
		`UPDATE reservation_requests SET platform = $2, updated_at = now() WHERE id = $1`,
		requestID, platform)
	if err != nil {
		return fmt.Errorf("failed to set platform: %w", err)
	}
	return nil
}

// IncrementPollAttempts bumps the sniper poll counter in its own short
// transaction.
func (r *RequestRepository) IncrementPollAttempts(requestID int64) error {
	_, err := r.db.Exec(
		`UPDATE reservation_requests SET poll_attempts = poll_attempts + 1, updated_at = now() WHERE id = $1`,
		requestID)
	if err != nil {
		return fmt.Errorf("failed to increment poll_attempts: %w", err)
	}
	return nil
}

// CountAll returns the total number of requests.
func (r *RequestRepository) CountAll() (int, error) {
	var count int
	if err := r.db.Get(&count, `SELECT COUNT(*) FROM reservation_requests`); err != nil {
		return 0, fmt.Errorf("failed to count requests: %w", err)
	}
	return count, nil
}

// CountByStatus returns the number of requests in the given status set.
func (r *RequestRepository) CountByStatus(statuses ...models.RequestStatus) (int, error) {
	set := make([]string, len(statuses))
	for i, s := range statuses {
		set[i] = string(s)
	}
	query, args, err := sqlx.In(`SELECT COUNT(*) FROM reservation_requests WHERE status IN (?)`, set)
	if err != nil {
		return 0, fmt.Errorf("failed to build count query: %w", err)
	}
	query = r.db.Rebind(query)

	var count int
	if err := r.db.Get(&count, query, args...); err != nil {
		return 0, fmt.Errorf("failed to count requests by status: %w", err)
	}
	return count, nil
}

// lockRequest loads a request row FOR UPDATE inside tx.
func lockRequest(tx *sqlx.Tx, requestID int64) (*models.ReservationRequest, error) {
	var req models.ReservationRequest
	query := `SELECT` + requestColumns + ` FROM reservation_requests WHERE id = $1 FOR UPDATE`
	err := tx.Get(&req, query, requestID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("request %d not found", requestID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock request: %w", err)
	}
	return &req, nil
}

func updateStatus(tx *sqlx.Tx, requestID int64, to models.RequestStatus) error {
	_, err := tx.Exec(
		`UPDATE reservation_requests SET status = $2, updated_at = now() WHERE id = $1`,
		requestID, to)
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	return nil
}

func appendLogTx(tx *sqlx.Tx, entry *models.ActivityLog) error {
	if entry == nil {
		return nil
	}
	_, err := tx.Exec(
		`INSERT INTO activity_log (request_id, action, platform, details) VALUES ($1, $2, $3, $4)`,
		entry.RequestID, entry.Action, entry.Platform, entry.Details)
	if err != nil {
		return fmt.Errorf("failed to append activity log: %w", err)
	}
	return nil
}
