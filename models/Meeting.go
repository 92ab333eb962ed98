package models

import (
	"fmt"
	"time"
)

type MeetingStatus string

const (
	MeetingPending           MeetingStatus = "pending"
	MeetingConfirmed         MeetingStatus = "confirmed"
	MeetingRescheduled       MeetingStatus = "rescheduled"
	MeetingTentative         MeetingStatus = "tentative"
	MeetingCancelledByBuyer  MeetingStatus = "cancelled_by_buyer"
	MeetingCancelledBySeller MeetingStatus = "cancelled_by_seller"
	MeetingCancelledByUser   MeetingStatus = "cancelled_by_user"
	MeetingCompleted         MeetingStatus = "completed"
	MeetingExpired           MeetingStatus = "expired"
	MeetingNoShow            MeetingStatus = "no_show"
	MeetingDeleted           MeetingStatus = "deleted"
)

// ActiveMeetingStatuses block a second request for the same listing and buyer.
var ActiveMeetingStatuses = []MeetingStatus{
	MeetingPending,
	MeetingConfirmed,
	MeetingRescheduled,
	MeetingTentative,
}

func (s MeetingStatus) IsActive() bool {
	for _, active := range ActiveMeetingStatuses {
		if s == active {
			return true
		}
	}
	return false
}

const (
	MeetingDateLayout = "2006-01-02"
	MeetingTimeLayout = "15:04"

	MinMeetingDuration = 15
	MaxMeetingDuration = 180
)

// Meeting is one viewing appointment between a buyer and the listing's seller.
type Meeting struct {
	ID                 string        `json:"id" gorm:"primaryKey;type:varchar(36)"`
	ListingID          uint          `json:"listingId" gorm:"not null;index"`
	BuyerID            uint          `json:"buyerId" gorm:"not null;index"`
	SellerID           uint          `json:"sellerId" gorm:"not null;index"`
	Date               string        `json:"date" gorm:"type:varchar(10);not null;index"` // YYYY-MM-DD
	Time               string        `json:"time" gorm:"type:varchar(5);not null"`        // HH:MM wall clock in Timezone
	Timezone           string        `json:"timezone" gorm:"type:varchar(64);not null"`
	Duration           int           `json:"duration" gorm:"not null"` // minutes
	Status             MeetingStatus `json:"status" gorm:"type:varchar(32);not null;default:'pending';index"`
	ExternalEventID    *string       `json:"externalEventId" gorm:"type:varchar(255);index"`
	ExternalCalendarID string        `json:"-" gorm:"type:varchar(255)"`
	MeetingLink        *string       `json:"meetingLink"`
	Notes              *string       `json:"notes" gorm:"type:text"`
	CreatedAt          time.Time     `json:"createdAt"`
	UpdatedAt          time.Time     `json:"updatedAt"`
}

// Window returns the meeting's [start, end) interval resolved in its timezone.
func (m *Meeting) Window() (time.Time, time.Time, error) {
	start, err := ParseMeetingStart(m.Date, m.Time, m.Timezone)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, start.Add(time.Duration(m.Duration) * time.Minute), nil
}

func (m *Meeting) HasExternalEvent() bool {
	return m.ExternalEventID != nil && *m.ExternalEventID != ""
}

func (m *Meeting) IsParticipant(userID uint) bool {
	return m.BuyerID == userID || m.SellerID == userID
}

// ParseMeetingStart combines a calendar date and a wall-clock time in an IANA zone.
func ParseMeetingStart(date, clock, timezone string) (time.Time, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("unknown timezone %q: %w", timezone, err)
	}
	start, err := time.ParseInLocation(MeetingDateLayout+" "+MeetingTimeLayout, date+" "+clock, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date/time %q %q: %w", date, clock, err)
	}
	return start, nil
}
