package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

const PrimaryCalendarID = "primary"

// UserCalendarCredential is one external calendar OAuth grant per user.
type UserCalendarCredential struct {
	ID           uint           `json:"id" gorm:"primaryKey"`
	UserID       uint           `json:"userID" gorm:"uniqueIndex;not null"`
	AccessToken  string         `json:"-" gorm:"type:text;not null"`
	RefreshToken *string        `json:"-" gorm:"type:varchar(512);index"`
	ExpiresAt    *time.Time     `json:"expiresAt"`
	Scope        datatypes.JSON `json:"scope"`
	IsActive     bool           `json:"isActive" gorm:"not null;default:true;index"`
	CalendarID   *string        `json:"calendarID" gorm:"type:varchar(255)"`
	AccountEmail string         `json:"accountEmail" gorm:"type:varchar(255)"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

func (c *UserCalendarCredential) Calendar() string {
	if c.CalendarID == nil || *c.CalendarID == "" {
		return PrimaryCalendarID
	}
	return *c.CalendarID
}

func (c *UserCalendarCredential) Refresh() string {
	if c.RefreshToken == nil {
		return ""
	}
	return *c.RefreshToken
}

func (c *UserCalendarCredential) Scopes() []string {
	scopes := []string{}
	if c.Scope != nil {
		_ = json.Unmarshal(c.Scope, &scopes)
	}
	return scopes
}
