package database

import (
	"errors"
	"fmt"

	"github.com/tablesnipe/reservation-backend/internal/models"
)

// ErrAlreadyBooked is returned by the booked-commit transaction when a
// confirmed booking already exists for the request. The caller lost the race
// and must log duplicate_booking_detected instead of committing.
var ErrAlreadyBooked = errors.New("request already has a confirmed booking")

// InvalidTransitionError is returned when the status machine rejects a
// transition. Nothing is mutated when it is returned.
type InvalidTransitionError struct {
	RequestID int64
	From      models.RequestStatus
	To        models.RequestStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition for request %d: %s -> %s", e.RequestID, e.From, e.To)
}

// IsInvalidTransition reports whether err is an InvalidTransitionError.
func IsInvalidTransition(err error) bool {
	var ite *InvalidTransitionError
	return errors.As(err, &ite)
}
