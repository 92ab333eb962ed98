package services

import (
	"context"
	"time"
)

// Event statuses and attendee responses as reported by the calendar provider.
const (
	EventConfirmed = "confirmed"
	EventTentative = "tentative"
	EventCancelled = "cancelled"

	ResponseNeedsAction = "needsAction"
	ResponseAccepted    = "accepted"
	ResponseDeclined    = "declined"
	ResponseTentative   = "tentative"
)

type Attendee struct {
	Email          string `json:"email"`
	ResponseStatus string `json:"responseStatus"`
	Organizer      bool   `json:"organizer"`
	Self           bool   `json:"self"`
}

// ExternalEvent is the provider's current view of one event. It is never persisted.
type ExternalEvent struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	Start       time.Time  `json:"start"`
	End         time.Time  `json:"end"`
	AllDay      bool       `json:"allDay"`
	Attendees   []Attendee `json:"attendees"`
	MeetingLink string     `json:"meetingLink,omitempty"`
}

// EventRequest describes an event to create.
type EventRequest struct {
	Summary     string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	Timezone    string
	Attendees   []Attendee
	// ConferenceRequestID asks the provider to generate video conferencing details.
	ConferenceRequestID string
}

// EventPatch holds the fields to change on an existing event; zero values are left untouched.
type EventPatch struct {
	Start     *time.Time
	End       *time.Time
	Timezone  string
	Status    string
	Attendees []Attendee
}

type BusyPeriod struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// WatchChannel is a push notification subscription on a calendar.
type WatchChannel struct {
	ID         string    `json:"id"`
	ResourceID string    `json:"resourceId"`
	Token      string    `json:"-"`
	Address    string    `json:"address"`
	CalendarID string    `json:"calendarId"`
	Expiration time.Time `json:"expiration"`
}

// CalendarProvider is the outbound calendar API. Unauthorized responses must wrap ErrProviderUnauthorized.
type CalendarProvider interface {
	CreateEvent(ctx context.Context, accessToken, calendarID string, req EventRequest) (*ExternalEvent, error)
	// GetEvent returns nil, nil when the event does not exist anymore.
	GetEvent(ctx context.Context, accessToken, calendarID, eventID string) (*ExternalEvent, error)
	PatchEvent(ctx context.Context, accessToken, calendarID, eventID string, patch EventPatch) (*ExternalEvent, error)
	DeleteEvent(ctx context.Context, accessToken, calendarID, eventID string) error
	ListEvents(ctx context.Context, accessToken, calendarID string, from, to time.Time) ([]ExternalEvent, error)
	QueryFreeBusy(ctx context.Context, accessToken, calendarID string, from, to time.Time) ([]BusyPeriod, error)
	WatchEvents(ctx context.Context, accessToken string, channel WatchChannel) (*WatchChannel, error)
}
