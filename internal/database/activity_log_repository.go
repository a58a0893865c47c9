package database

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/tablesnipe/reservation-backend/internal/models"
)

// ActivityLogRepository handles the append-only activity_log table.
type ActivityLogRepository struct {
	db *sqlx.DB
}

// NewActivityLogRepository creates a new ActivityLogRepository
func NewActivityLogRepository(db *sqlx.DB) *ActivityLogRepository {
	return &ActivityLogRepository{db: db}
}

// Append inserts a log entry. Entries are never mutated after insert.
func (r *ActivityLogRepository) Append(entry *models.ActivityLog) error {
	query := `
		INSERT INTO activity_log (request_id, action, platform, details)
		VALUES ($1, $2, $3, $4)
		RETURNING id, timestamp`
	err := r.db.QueryRow(query, entry.RequestID, entry.Action, entry.Platform, entry.Details).
		Scan(&entry.ID, &entry.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to append activity log: %w", err)
	}
	return nil
}

// ListRecent returns the newest entries, optionally filtered to a request.
func (r *ActivityLogRepository) ListRecent(requestID *int64, limit int) ([]models.ActivityLog, error) {
	if limit <= 0 {
		limit = 50
	}
	entries := []models.ActivityLog{}
	if requestID != nil {
		query := `
			SELECT id, request_id, timestamp, action, platform, details
			FROM activity_log WHERE request_id = $1
			ORDER BY timestamp DESC LIMIT $2`
		if err := r.db.Select(&entries, query, *requestID, limit); err != nil {
			return nil, fmt.Errorf("failed to list activity log: %w", err)
		}
		return entries, nil
	}
	query := `
		SELECT id, request_id, timestamp, action, platform, details
		FROM activity_log ORDER BY timestamp DESC LIMIT $1`
	if err := r.db.Select(&entries, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list activity log: %w", err)
	}
	return entries, nil
}

// ListByRequest returns every entry for a request in insertion order.
func (r *ActivityLogRepository) ListByRequest(requestID int64) ([]models.ActivityLog, error) {
	entries := []models.ActivityLog{}
	query := `
		SELECT id, request_id, timestamp, action, platform, details
		FROM activity_log WHERE request_id = $1 ORDER BY id`
	if err := r.db.Select(&entries, query, requestID); err != nil {
		return nil, fmt.Errorf("failed to list activity log for request: %w", err)
	}
	return entries, nil
}
