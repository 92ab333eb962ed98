package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"viewing-scheduler-server/models"
	"viewing-scheduler-server/services"

	"gorm.io/gorm"
)

// MeetingRepository is the gorm backed meeting store.
type MeetingRepository struct {
	db *gorm.DB
}

func NewMeetingRepository(db *gorm.DB) *MeetingRepository {
	return &MeetingRepository{db: db}
}

var errStatusChanged = errors.New("meeting status changed")

// Create maps a violation of the active meeting index to services.ErrActiveMeetingExists.
func (r *MeetingRepository) Create(ctx context.Context, m *models.Meeting) error {
	err := r.db.WithContext(ctx).Create(m).Error
	if err != nil && isUniqueViolation(err) {
		return fmt.Errorf("%w: %v", services.ErrActiveMeetingExists, err)
	}
	return err
}

func (r *MeetingRepository) Get(ctx context.Context, id string) (*models.Meeting, error) {
	return r.first(r.db.WithContext(ctx).Where("id = ?", id))
}

func (r *MeetingRepository) FindActive(ctx context.Context, listingID, buyerID uint) (*models.Meeting, error) {
	return r.first(r.db.WithContext(ctx).
		Where("listing_id = ? AND buyer_id = ? AND status IN ?", listingID, buyerID, models.ActiveMeetingStatuses).
		Order("created_at DESC"))
}

func (r *MeetingRepository) FindByExternalEventID(ctx context.Context, eventID string) (*models.Meeting, error) {
	return r.first(r.db.WithContext(ctx).Where("external_event_id = ?", eventID).Order("created_at DESC"))
}

func (r *MeetingRepository) ListForUser(ctx context.Context, userID uint) ([]models.Meeting, error) {
	meetings := []models.Meeting{}
	err := r.db.WithContext(ctx).
		Where("buyer_id = ? OR seller_id = ?", userID, userID).
		Order("date DESC, time DESC").
		Find(&meetings).Error
	return meetings, err
}

func (r *MeetingRepository) ListActiveForListing(ctx context.Context, listingID uint, date string) ([]models.Meeting, error) {
	meetings := []models.Meeting{}
	err := r.db.WithContext(ctx).
		Where("listing_id = ? AND date = ? AND status IN ?", listingID, date, models.ActiveMeetingStatuses).
		Order("time ASC").
		Find(&meetings).Error
	return meetings, err
}

func (r *MeetingRepository) ListByStatus(ctx context.Context, statuses ...models.MeetingStatus) ([]models.Meeting, error) {
	meetings := []models.Meeting{}
	if len(statuses) == 0 {
		return meetings, nil
	}
	err := r.db.WithContext(ctx).Where("status IN ?", statuses).Order("date ASC, time ASC").Find(&meetings).Error
	return meetings, err
}

func (r *MeetingRepository) UpdateDetails(ctx context.Context, m *models.Meeting, expected models.MeetingStatus) (bool, error) {
	now := time.Now()
	res := r.db.WithContext(ctx).Model(&models.Meeting{}).
		Where("id = ? AND status = ?", m.ID, expected).
		Updates(map[string]interface{}{
			"date":       m.Date,
			"time":       m.Time,
			"timezone":   m.Timezone,
			"duration":   m.Duration,
			"notes":      m.Notes,
			"updated_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	m.UpdatedAt = now
	return true, nil
}

// SwapStatus updates the status only where it still equals from and writes the log entry in the same transaction.
func (r *MeetingRepository) SwapStatus(ctx context.Context, id string, from, to models.MeetingStatus, entry models.MeetingStatusLog) (bool, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Meeting{}).
			Where("id = ? AND status = ?", id, from).
			Updates(map[string]interface{}{"status": to, "updated_at": time.Now()})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errStatusChanged
		}
		return tx.Create(&entry).Error
	})
	if errors.Is(err, errStatusChanged) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// StatusHistory returns the applied transitions of a meeting, oldest first.
func (r *MeetingRepository) StatusHistory(ctx context.Context, meetingID string) ([]models.MeetingStatusLog, error) {
	logs := []models.MeetingStatusLog{}
	err := r.db.WithContext(ctx).Where("meeting_id = ?", meetingID).Order("id ASC").Find(&logs).Error
	return logs, err
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}

func (r *MeetingRepository) first(query *gorm.DB) (*models.Meeting, error) {
	var meeting models.Meeting
	err := query.First(&meeting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &meeting, nil
}
