package services

import (
	"context"
	"time"

	"viewing-scheduler-server/models"
)

// MeetingStore persists meetings. Find methods return nil, nil when nothing matches.
type MeetingStore interface {
	Create(ctx context.Context, m *models.Meeting) error
	Get(ctx context.Context, id string) (*models.Meeting, error)
	FindActive(ctx context.Context, listingID, buyerID uint) (*models.Meeting, error)
	FindByExternalEventID(ctx context.Context, eventID string) (*models.Meeting, error)
	ListForUser(ctx context.Context, userID uint) ([]models.Meeting, error)
	ListActiveForListing(ctx context.Context, listingID uint, date string) ([]models.Meeting, error)
	ListByStatus(ctx context.Context, statuses ...models.MeetingStatus) ([]models.Meeting, error)

	// UpdateDetails writes the editable fields of m only if its stored status is still expected.
	UpdateDetails(ctx context.Context, m *models.Meeting, expected models.MeetingStatus) (bool, error)

	// SwapStatus moves the meeting from one status to another and appends entry to the status log.
	// It reports false when the stored status no longer equals from.
	SwapStatus(ctx context.Context, id string, from, to models.MeetingStatus, entry models.MeetingStatusLog) (bool, error)
}

// CredentialStore persists calendar credentials. Find methods return nil, nil when nothing matches.
type CredentialStore interface {
	FindActiveByUser(ctx context.Context, userID uint) (*models.UserCalendarCredential, error)
	FindByRefreshToken(ctx context.Context, refreshToken string) (*models.UserCalendarCredential, error)
	Upsert(ctx context.Context, c *models.UserCalendarCredential) error
	UpdateAccessToken(ctx context.Context, id uint, accessToken string, expiresAt *time.Time) error
	Deactivate(ctx context.Context, id uint) error
	DeleteByUser(ctx context.Context, userID uint) error
}

// Directory looks up users and listings owned by the surrounding application.
type Directory interface {
	GetListing(ctx context.Context, id uint) (*models.Property, error)
	GetUser(ctx context.Context, id uint) (*models.User, error)
}
