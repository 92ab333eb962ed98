package services

import (
	"errors"
	"fmt"
	"strings"

	"viewing-scheduler-server/models"
)

// ErrProviderUnauthorized is wrapped by calendar provider errors caused by a rejected access token.
var ErrProviderUnauthorized = errors.New("calendar provider: unauthorized")

// ErrActiveMeetingExists is returned by MeetingStore.Create when the listing and buyer already have an active meeting.
var ErrActiveMeetingExists = errors.New("active meeting already exists for listing and buyer")

// ValidationError reports malformed input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

// ExistingMeeting identifies the active meeting that blocks a new request.
type ExistingMeeting struct {
	ID     string               `json:"id"`
	Status models.MeetingStatus `json:"status"`
	Date   string               `json:"date"`
	Time   string               `json:"time"`
}

// ConflictError carries the data a caller needs to pick another request.
type ConflictError struct {
	Message        string
	Existing       *ExistingMeeting
	SuggestedSlots []string
}

func (e *ConflictError) Error() string {
	return "conflict: " + e.Message
}

// AuthorizationError is returned when the caller's role does not allow the operation.
type AuthorizationError struct {
	Message string
}

func (e *AuthorizationError) Error() string {
	return "forbidden: " + e.Message
}

type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// ExternalAuthExpiredError means the provider rejected the token and it could not be renewed.
type ExternalAuthExpiredError struct {
	Err error
}

func (e *ExternalAuthExpiredError) Error() string {
	return fmt.Sprintf("calendar reauthorization required: %v", e.Err)
}

func (e *ExternalAuthExpiredError) Unwrap() error { return e.Err }

// ExternalProviderError wraps transient provider failures: timeouts, 5xx, malformed responses.
type ExternalProviderError struct {
	Op  string
	Err error
}

func (e *ExternalProviderError) Error() string {
	return fmt.Sprintf("calendar provider %s failed: %v", e.Op, e.Err)
}

func (e *ExternalProviderError) Unwrap() error { return e.Err }

// IllegalTransitionError reports an attempted status change outside the transition table.
type IllegalTransitionError struct {
	From    models.MeetingStatus
	To      models.MeetingStatus
	Allowed []models.MeetingStatus
}

func (e *IllegalTransitionError) Error() string {
	allowed := make([]string, 0, len(e.Allowed))
	for _, s := range e.Allowed {
		allowed = append(allowed, string(s))
	}
	if len(allowed) == 0 {
		return fmt.Sprintf("illegal transition %s -> %s: %s is terminal", e.From, e.To, e.From)
	}
	return fmt.Sprintf("illegal transition %s -> %s: allowed [%s]", e.From, e.To, strings.Join(allowed, ", "))
}

// providerError classifies a raw provider failure for the operation op.
func providerError(op string, err error) error {
	if err == nil {
		return nil
	}
	var expired *ExternalAuthExpiredError
	if errors.As(err, &expired) {
		return err
	}
	if errors.Is(err, ErrProviderUnauthorized) {
		return &ExternalAuthExpiredError{Err: err}
	}
	var provider *ExternalProviderError
	if errors.As(err, &provider) {
		return err
	}
	return &ExternalProviderError{Op: op, Err: err}
}
