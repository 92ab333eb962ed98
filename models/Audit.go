package models

import (
	"time"
)

// MeetingStatusLog records every applied status transition of a meeting.
type MeetingStatusLog struct {
	ID         uint          `json:"id" gorm:"primaryKey"`
	MeetingID  string        `json:"meetingID" gorm:"type:varchar(36);index;not null"`
	FromStatus MeetingStatus `json:"fromStatus" gorm:"size:32"`
	ToStatus   MeetingStatus `json:"toStatus" gorm:"size:32;index"`
	Source     string        `json:"source" gorm:"size:16"` // user, sync, webhook, expiry
	ActorID    *uint         `json:"actorID" gorm:"index"`
	Reason     string        `json:"reason" gorm:"type:text"`
	CreatedAt  time.Time     `json:"createdAt"`
}
