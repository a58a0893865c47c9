package models

import (
	"encoding/json"
	"time"
)

// ActivityLog is an append-only event stream entry. Never mutated after
// insert.
type ActivityLog struct {
	ID        int64     `db:"id" json:"id"`
	RequestID *int64    `db:"request_id" json:"request_id,omitempty"`
	Timestamp time.Time `db:"timestamp" json:"timestamp"`
	Action    string    `db:"action" json:"action"`
	Platform  *string   `db:"platform" json:"platform,omitempty"`
	Details   *string   `db:"details" json:"details,omitempty"` // JSON blob
}

// NewLog builds a log entry for a request. details is marshalled to JSON;
// a nil map produces a NULL details column.
func NewLog(requestID int64, action string, platform string, details map[string]interface{}) *ActivityLog {
	entry := &ActivityLog{
		RequestID: &requestID,
		Action:    action,
	}
	if platform != "" {
		entry.Platform = &platform
	}
	if len(details) > 0 {
		if raw, err := json.Marshal(details); err == nil {
			s := string(raw)
			entry.Details = &s
		}
	}
	return entry
}
