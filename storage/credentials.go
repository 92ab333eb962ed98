package storage

import (
	"context"
	"errors"
	"time"

	"viewing-scheduler-server/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CredentialRepository stores one calendar credential row per user.
type CredentialRepository struct {
	db *gorm.DB
}

func NewCredentialRepository(db *gorm.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

func (r *CredentialRepository) FindActiveByUser(ctx context.Context, userID uint) (*models.UserCalendarCredential, error) {
	return r.first(r.db.WithContext(ctx).Where("user_id = ? AND is_active = ?", userID, true))
}

// FindByRefreshToken matches active and deactivated rows alike.
func (r *CredentialRepository) FindByRefreshToken(ctx context.Context, refreshToken string) (*models.UserCalendarCredential, error) {
	return r.first(r.db.WithContext(ctx).Where("refresh_token = ?", refreshToken))
}

// Upsert inserts or replaces the user's credential. Nil refresh token, empty scope and empty email keep the stored values.
func (r *CredentialRepository) Upsert(ctx context.Context, c *models.UserCalendarCredential) error {
	columns := []string{"access_token", "expires_at", "is_active", "calendar_id", "updated_at"}
	if c.RefreshToken != nil {
		columns = append(columns, "refresh_token")
	}
	if c.Scope != nil {
		columns = append(columns, "scope")
	}
	if c.AccountEmail != "" {
		columns = append(columns, "account_email")
	}

	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns(columns),
	}).Create(c).Error
}

func (r *CredentialRepository) UpdateAccessToken(ctx context.Context, id uint, accessToken string, expiresAt *time.Time) error {
	return r.db.WithContext(ctx).Model(&models.UserCalendarCredential{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"access_token": accessToken,
			"expires_at":   expiresAt,
			"updated_at":   time.Now(),
		}).Error
}

func (r *CredentialRepository) Deactivate(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Model(&models.UserCalendarCredential{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"is_active": false, "updated_at": time.Now()}).Error
}

func (r *CredentialRepository) DeleteByUser(ctx context.Context, userID uint) error {
	return r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.UserCalendarCredential{}).Error
}

func (r *CredentialRepository) first(query *gorm.DB) (*models.UserCalendarCredential, error) {
	var credential models.UserCalendarCredential
	err := query.First(&credential).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &credential, nil
}
