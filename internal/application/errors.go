package application

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrAlreadyRegistered is returned when a person joins a session they already have an entry for.
	ErrAlreadyRegistered = errors.New("application: already registered")
	// ErrNotRegistered is returned when leave or reduce targets a person without an entry.
	ErrNotRegistered = errors.New("application: not registered")
	// ErrSessionNotFound is returned for unknown, deleted or past sessions.
	ErrSessionNotFound = errors.New("application: session not found")
	// ErrPersonNotFound is returned when an external or internal id has no registered person.
	ErrPersonNotFound = errors.New("application: person not found")
	// ErrInvalidGroupSize is returned for group sizes below one or above the configured maximum.
	ErrInvalidGroupSize = errors.New("application: invalid group size")
	// ErrInvalidReduceAmount is returned for non-positive reductions.
	ErrInvalidReduceAmount = errors.New("application: invalid reduce amount")
	// ErrInvalidCapacity is returned for negative capacities.
	ErrInvalidCapacity = errors.New("application: invalid capacity")
	// ErrGroupRegistrationDisabled is returned for groups while group registration is switched off.
	ErrGroupRegistrationDisabled = errors.New("application: group registration disabled")
	// ErrStoreUnavailable is returned when the store fails or times out. The
	// operation had no effect and may be retried.
	ErrStoreUnavailable = errors.New("application: store unavailable")
)

// ValidationError captures field level validation issues that callers can surface to users.
type ValidationError struct {
	FieldErrors map[string]string
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	if v == nil {
		return ""
	}
	if len(v.FieldErrors) == 0 {
		return "validation failed"
	}
	fields := make([]string, 0, len(v.FieldErrors))
	for field := range v.FieldErrors {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return "validation failed: " + strings.Join(fields, ", ")
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

// add records a field level validation error.
func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}

// unavailable wraps a store failure so callers see ErrStoreUnavailable while
// logs keep the cause.
func unavailable(err error) error {
	if err == nil || errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
