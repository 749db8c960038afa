// Package storage defines the event model and the storage contract for the
// occurrence engine. Implementations must use the error types provided here.
package storage

import (
	"context"
	"errors"
	"fmt"
)

// ErrorType classifies storage errors.
type ErrorType string

const (
	ErrNotFound     ErrorType = "not_found"
	ErrInvalidInput ErrorType = "invalid_input"
)

// Error represents a storage-related error.
type Error struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is a storage error of type ErrNotFound.
func IsNotFound(err error) bool {
	var serr *Error
	return errors.As(err, &serr) && serr.Type == ErrNotFound
}

// IsInvalidInput reports whether err is a storage error of type ErrInvalidInput.
func IsInvalidInput(err error) bool {
	var serr *Error
	return errors.As(err, &serr) && serr.Type == ErrInvalidInput
}

// Storage is the interface implemented by event stores. All mutations are
// atomic with respect to each other; a failed write leaves the store unchanged.
type Storage interface {
	// CreateEvent stores a new event and returns it with generated ID and
	// timestamps filled in.
	CreateEvent(ctx context.Context, spec EventSpec) (*EventMaster, error)
	// GetEvent retrieves an event by id.
	GetEvent(ctx context.Context, id string) (*EventMaster, error)
	// ListEvents returns all stored events in unspecified order.
	ListEvents(ctx context.Context) ([]*EventMaster, error)
	// UpdateEvent applies a patch to an existing event and returns the result.
	UpdateEvent(ctx context.Context, id string, patch EventPatch) (*EventMaster, error)
	// DeleteEvent removes an event and, atomically, every override that
	// references it.
	DeleteEvent(ctx context.Context, id string) error

	// CreateOverride stores a new per-occurrence override.
	CreateOverride(ctx context.Context, spec OverrideSpec) (*OccurrenceOverride, error)
	// GetOverride retrieves an override by id.
	GetOverride(ctx context.Context, id string) (*OccurrenceOverride, error)
	// ListOverrides returns all overrides targeting the given event.
	ListOverrides(ctx context.Context, eventID string) ([]*OccurrenceOverride, error)
	// UpdateOverride applies a patch to an existing override.
	UpdateOverride(ctx context.Context, id string, patch OverridePatch) (*OccurrenceOverride, error)
	// DeleteOverride removes an override by id.
	DeleteOverride(ctx context.Context, id string) error

	// Clear removes every event and override. Primarily a testing/reset hook.
	Clear(ctx context.Context) error
}
