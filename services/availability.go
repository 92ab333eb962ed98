package services

import (
	"context"
	"fmt"
	"time"

	"viewing-scheduler-server/models"

	"github.com/kataras/golog"
	"golang.org/x/exp/slices"
)

const (
	SlotStepMinutes   = 30
	maxSuggestedSlots = 3
	minutesPerHour    = 60
)

// viewing hours as [start, end) minute-of-day ranges
var viewingHours = [][2]int{
	{9 * minutesPerHour, 12 * minutesPerHour},
	{14 * minutesPerHour, 17 * minutesPerHour},
}

// ViewingSlots returns the fixed half-hour start times offered for viewings, in order.
func ViewingSlots() []string {
	slots := []string{}
	for _, hours := range viewingHours {
		for minute := hours[0]; minute < hours[1]; minute += SlotStepMinutes {
			slots = append(slots, formatMinute(minute))
		}
	}
	return slots
}

// ConflictChecker rejects meeting requests that collide with local bookings or the seller's calendar.
type ConflictChecker struct {
	store    MeetingStore
	tokens   *TokenManager
	provider CalendarProvider
}

func NewConflictChecker(store MeetingStore, tokens *TokenManager, provider CalendarProvider) *ConflictChecker {
	return &ConflictChecker{store: store, tokens: tokens, provider: provider}
}

// CheckDuplicate fails when the buyer already has an active meeting for the listing.
func (c *ConflictChecker) CheckDuplicate(ctx context.Context, listingID, buyerID uint) error {
	existing, err := c.store.FindActive(ctx, listingID, buyerID)
	if err != nil {
		return err
	}
	if existing == nil {
		return nil
	}
	return &ConflictError{
		Message: "an active viewing request already exists for this listing",
		Existing: &ExistingMeeting{
			ID:     existing.ID,
			Status: existing.Status,
			Date:   existing.Date,
			Time:   existing.Time,
		},
	}
}

// CheckSellerAvailability consults the seller's calendar. Unknown availability never blocks a request.
func (c *ConflictChecker) CheckSellerAvailability(ctx context.Context, sellerID uint, date, clock string, duration int, timezone string) error {
	return c.checkSellerAvailability(ctx, sellerID, date, clock, duration, timezone, "")
}

// checkSellerAvailability ignores the event excludedEventID, the meeting's own invite when it is being moved.
func (c *ConflictChecker) checkSellerAvailability(ctx context.Context, sellerID uint, date, clock string, duration int, timezone, excludedEventID string) error {
	start, err := models.ParseMeetingStart(date, clock, timezone)
	if err != nil {
		return &ValidationError{Field: "date", Message: err.Error()}
	}
	end := start.Add(time.Duration(duration) * time.Minute)

	credential, err := c.tokens.GetToken(ctx, sellerID)
	if err != nil {
		golog.Warnf("⚠️ seller %d credential lookup failed, assuming available: %v", sellerID, err)
		return nil
	}
	if credential == nil {
		return nil
	}

	dayStart := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location())
	var events []ExternalEvent
	err = c.tokens.WithCredential(ctx, credential, func(ctx context.Context, accessToken string) error {
		var err error
		events, err = c.provider.ListEvents(ctx, accessToken, credential.Calendar(), dayStart, dayStart.AddDate(0, 0, 1))
		return err
	})
	if err != nil {
		golog.Warnf("⚠️ seller %d calendar unavailable, assuming available: %v", sellerID, err)
		return nil
	}

	if excludedEventID != "" {
		events = slices.DeleteFunc(events, func(e ExternalEvent) bool { return e.ID == excludedEventID })
	}
	busy := blockingPeriods(events)
	for _, period := range busy {
		if overlaps(start, end, period.Start, period.End) {
			return &ConflictError{
				Message:        fmt.Sprintf("the seller is busy on %s at %s", date, clock),
				SuggestedSlots: suggestSlots(dayStart, duration, busy),
			}
		}
	}
	return nil
}

// GetAvailableSlots returns the viewing slots on date not overlapped by an active meeting of the listing.
func (c *ConflictChecker) GetAvailableSlots(ctx context.Context, listingID uint, date string) ([]string, error) {
	if _, err := time.Parse(models.MeetingDateLayout, date); err != nil {
		return nil, &ValidationError{Field: "date", Message: "must be YYYY-MM-DD"}
	}

	meetings, err := c.store.ListActiveForListing(ctx, listingID, date)
	if err != nil {
		return nil, err
	}

	// wall-clock minutes, all meetings of one listing share its local day
	type interval struct{ start, end int }
	booked := make([]interval, 0, len(meetings))
	for _, m := range meetings {
		t, err := time.Parse(models.MeetingTimeLayout, m.Time)
		if err != nil {
			golog.Warnf("⚠️ meeting %s has malformed time %q", m.ID, m.Time)
			continue
		}
		start := t.Hour()*minutesPerHour + t.Minute()
		booked = append(booked, interval{start: start, end: start + m.Duration})
	}

	slots := ViewingSlots()
	return slices.DeleteFunc(slots, func(slot string) bool {
		t, _ := time.Parse(models.MeetingTimeLayout, slot)
		start := t.Hour()*minutesPerHour + t.Minute()
		for _, b := range booked {
			if start < b.end && b.start < start+SlotStepMinutes {
				return true
			}
		}
		return false
	}), nil
}

// BusyPeriods returns the user's free/busy periods for the local day of date.
func (c *ConflictChecker) BusyPeriods(ctx context.Context, userID uint, date, timezone string) ([]BusyPeriod, error) {
	dayStart, err := models.ParseMeetingStart(date, "00:00", timezone)
	if err != nil {
		return nil, &ValidationError{Field: "date", Message: err.Error()}
	}
	credential, err := c.tokens.GetToken(ctx, userID)
	if err != nil {
		return nil, err
	}
	if credential == nil {
		return nil, &NotFoundError{Resource: "calendar credential for user", ID: fmt.Sprint(userID)}
	}

	var busy []BusyPeriod
	err = c.tokens.WithCredential(ctx, credential, func(ctx context.Context, accessToken string) error {
		var err error
		busy, err = c.provider.QueryFreeBusy(ctx, accessToken, credential.Calendar(), dayStart, dayStart.AddDate(0, 0, 1))
		return err
	})
	if err != nil {
		return nil, providerError("freebusy query", err)
	}
	if busy == nil {
		busy = []BusyPeriod{}
	}
	return busy, nil
}

// blockingPeriods keeps events that occupy the calendar owner's time.
func blockingPeriods(events []ExternalEvent) []BusyPeriod {
	busy := []BusyPeriod{}
	for _, e := range events {
		if e.Status == EventCancelled || e.AllDay || selfDeclined(e) {
			continue
		}
		busy = append(busy, BusyPeriod{Start: e.Start, End: e.End})
	}
	return busy
}

func selfDeclined(e ExternalEvent) bool {
	for _, a := range e.Attendees {
		if a.Self && a.ResponseStatus == ResponseDeclined {
			return true
		}
	}
	return false
}

func suggestSlots(dayStart time.Time, duration int, busy []BusyPeriod) []string {
	suggestions := []string{}
	for _, slot := range ViewingSlots() {
		t, _ := time.Parse(models.MeetingTimeLayout, slot)
		start := time.Date(dayStart.Year(), dayStart.Month(), dayStart.Day(), t.Hour(), t.Minute(), 0, 0, dayStart.Location())
		end := start.Add(time.Duration(duration) * time.Minute)
		free := true
		for _, period := range busy {
			if overlaps(start, end, period.Start, period.End) {
				free = false
				break
			}
		}
		if free {
			suggestions = append(suggestions, slot)
			if len(suggestions) == maxSuggestedSlots {
				break
			}
		}
	}
	return suggestions
}

func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

func formatMinute(minute int) string {
	return fmt.Sprintf("%02d:%02d", minute/minutesPerHour, minute%minutesPerHour)
}
