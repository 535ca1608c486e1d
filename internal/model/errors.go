package model

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrPackageNotReady     = errors.New("package is not ready")
	ErrPackageImmutable    = errors.New("package is ready and can no longer change")
	ErrSessionNotEditable  = errors.New("session rooms are read-only")
	ErrSessionNotLive      = errors.New("session is not live")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrNotEnrolled         = errors.New("student is not enrolled in this room")
	ErrResultClosed        = errors.New("result is already closed")
	ErrManualIncomplete    = errors.New("free-text items are still ungraded")
	ErrTokenExhausted      = errors.New("could not generate a unique entry token")
	ErrSuggestionsDisabled = errors.New("essay suggestions are not configured")
)

// FieldError describes a problem with a single input field.
type FieldError struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

// ValidationError is returned before any write when input is invalid.
type ValidationError struct {
	Fields []FieldError
}

func NewValidationError(flds ...FieldError) error {
	return &ValidationError{Fields: flds}
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Error)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// QuotaExceededError reports how many seats are missing from the ledger.
type QuotaExceededError struct {
	Requested int
	Available int
}

// Shortfall is the number of seats that would have to be freed or added.
func (e *QuotaExceededError) Shortfall() int {
	return e.Requested - e.Available
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded: %d seats requested, %d available (short by %d)",
		e.Requested, e.Available, e.Shortfall())
}

// CapacityError is returned when a roster does not fit its room.
type CapacityError struct {
	RoomID   string
	Capacity int
	Size     int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("room %s: %d students exceed capacity %d", e.RoomID, e.Size, e.Capacity)
}

// ConflictError is returned when a student already sits in another room of the session.
type ConflictError struct {
	StudentID string
	RoomID    string
	OtherRoom string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("student %s in room %s is already enrolled in room %s", e.StudentID, e.RoomID, e.OtherRoom)
}
