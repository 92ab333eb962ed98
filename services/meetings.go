package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"viewing-scheduler-server/models"

	"github.com/google/uuid"
	"github.com/kataras/golog"
)

type CreateMeetingInput struct {
	ListingID    uint   `json:"listingId" validate:"required"`
	Date         string `json:"date" validate:"required,datetime=2006-01-02"`
	Time         string `json:"time" validate:"required,datetime=15:04"`
	Duration     int    `json:"duration" validate:"required,min=15,max=180"`
	Timezone     string `json:"timezone" validate:"required,timezone"`
	Notes        string `json:"notes" validate:"max=2000"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type UpdateMeetingInput struct {
	Date     *string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Time     *string `json:"time" validate:"omitempty,datetime=15:04"`
	Duration *int    `json:"duration" validate:"omitempty,min=15,max=180"`
	Timezone *string `json:"timezone" validate:"omitempty,timezone"`
	Notes    *string `json:"notes" validate:"omitempty,max=2000"`
}

// MeetingService runs the user-facing meeting operations.
type MeetingService struct {
	store     MeetingStore
	directory Directory
	checker   *ConflictChecker
	sync      *CalendarSync
	machine   *StateMachine
	tokens    *TokenManager
	throttle  SyncThrottle
	now       func() time.Time
}

func NewMeetingService(store MeetingStore, directory Directory, checker *ConflictChecker, sync *CalendarSync, machine *StateMachine, tokens *TokenManager, throttle SyncThrottle) *MeetingService {
	return &MeetingService{
		store:     store,
		directory: directory,
		checker:   checker,
		sync:      sync,
		machine:   machine,
		tokens:    tokens,
		throttle:  throttle,
		now:       time.Now,
	}
}

// Create books a viewing for buyerID. When a calendar token is available the external event is
// created first and its failure aborts the request without storing anything.
func (s *MeetingService) Create(ctx context.Context, buyerID uint, in CreateMeetingInput) (*models.Meeting, error) {
	if err := validateSchedule(in.Date, in.Time, in.Duration, in.Timezone); err != nil {
		return nil, err
	}

	listing, err := s.directory.GetListing(ctx, in.ListingID)
	if err != nil {
		return nil, err
	}
	if listing == nil {
		return nil, &NotFoundError{Resource: "listing", ID: fmt.Sprint(in.ListingID)}
	}
	if listing.HostID == buyerID {
		return nil, &ValidationError{Field: "listingId", Message: "cannot request a viewing of your own listing"}
	}

	// both checks run before any external side effect
	if err := s.checker.CheckDuplicate(ctx, in.ListingID, buyerID); err != nil {
		return nil, err
	}
	if err := s.checker.CheckSellerAvailability(ctx, listing.HostID, in.Date, in.Time, in.Duration, in.Timezone); err != nil {
		return nil, err
	}

	meeting := &models.Meeting{
		ID:        uuid.NewString(),
		ListingID: listing.ID,
		BuyerID:   buyerID,
		SellerID:  listing.HostID,
		Date:      in.Date,
		Time:      in.Time,
		Timezone:  in.Timezone,
		Duration:  in.Duration,
		Status:    models.MeetingPending,
	}
	if notes := strings.TrimSpace(in.Notes); notes != "" {
		meeting.Notes = &notes
	}

	token, hasToken, err := s.organizerToken(ctx, buyerID, in)
	if err != nil {
		return nil, err
	}
	if hasToken {
		buyerEmail, sellerEmail, err := s.participantEmails(ctx, meeting)
		if err != nil {
			return nil, err
		}
		created, err := s.sync.CreateEvent(ctx, token, meeting, listing, buyerEmail, sellerEmail)
		if err != nil {
			golog.Errorf("❌ calendar event for listing %d buyer %d not created: %v", listing.ID, buyerID, err)
			return nil, err
		}
		meeting.ExternalEventID = &created.EventID
		meeting.ExternalCalendarID = created.CalendarID
		if created.MeetLink != "" {
			link := created.MeetLink
			meeting.MeetingLink = &link
		}
	}

	if err := s.store.Create(ctx, meeting); err != nil {
		if meeting.HasExternalEvent() {
			s.sync.DiscardEvent(ctx, token, meeting)
		}
		if errors.Is(err, ErrActiveMeetingExists) {
			return nil, &ConflictError{Message: "an active viewing request already exists for this listing"}
		}
		return nil, fmt.Errorf("store meeting: %w", err)
	}

	golog.Infof("✅ meeting %s requested by buyer %d for listing %d", meeting.ID, buyerID, listing.ID)
	return meeting, nil
}

// ListForUser returns the meetings where userID is buyer or seller, reconciled against the calendar
// unless the user synced very recently.
func (s *MeetingService) ListForUser(ctx context.Context, userID uint) ([]models.Meeting, error) {
	meetings, err := s.store.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if s.throttle == nil || s.throttle.Allow(ctx, userID) {
		for i := range meetings {
			s.reconcileQuietly(ctx, &meetings[i])
		}
	}
	return meetings, nil
}

func (s *MeetingService) Get(ctx context.Context, userID uint, id string) (*models.Meeting, error) {
	meeting, err := s.load(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	s.reconcileQuietly(ctx, meeting)
	return meeting, nil
}

// Update edits a pending meeting. Schedule changes are re-checked against the seller's calendar
// and pushed to the external event before the row is written.
func (s *MeetingService) Update(ctx context.Context, userID uint, id string, in UpdateMeetingInput) (*models.Meeting, error) {
	meeting, err := s.load(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if meeting.Status != models.MeetingPending {
		return nil, &ConflictError{Message: fmt.Sprintf("meeting can only be edited while pending, it is %s", meeting.Status)}
	}

	updated := *meeting
	if in.Date != nil {
		updated.Date = *in.Date
	}
	if in.Time != nil {
		updated.Time = *in.Time
	}
	if in.Duration != nil {
		updated.Duration = *in.Duration
	}
	if in.Timezone != nil {
		updated.Timezone = *in.Timezone
	}
	if in.Notes != nil {
		notes := strings.TrimSpace(*in.Notes)
		updated.Notes = &notes
		if notes == "" {
			updated.Notes = nil
		}
	}

	rescheduled := updated.Date != meeting.Date || updated.Time != meeting.Time ||
		updated.Duration != meeting.Duration || updated.Timezone != meeting.Timezone
	if rescheduled {
		if err := validateSchedule(updated.Date, updated.Time, updated.Duration, updated.Timezone); err != nil {
			return nil, err
		}
		excluded := ""
		if updated.HasExternalEvent() {
			excluded = *updated.ExternalEventID
		}
		if err := s.checker.checkSellerAvailability(ctx, updated.SellerID, updated.Date, updated.Time, updated.Duration, updated.Timezone, excluded); err != nil {
			return nil, err
		}
		if err := s.sync.RescheduleEvent(ctx, &updated); err != nil {
			return nil, err
		}
	}

	ok, err := s.store.UpdateDetails(ctx, &updated, models.MeetingPending)
	if err != nil {
		return nil, fmt.Errorf("update meeting %s: %w", id, err)
	}
	if !ok {
		return nil, &ConflictError{Message: "meeting is no longer pending"}
	}
	return &updated, nil
}

// Confirm accepts a pending meeting on behalf of its seller.
func (s *MeetingService) Confirm(ctx context.Context, userID uint, id string) (*models.Meeting, error) {
	meeting, err := s.sellerAction(ctx, userID, id, models.MeetingPending)
	if err != nil {
		return nil, err
	}
	if err := s.machine.Apply(ctx, meeting, userTransition(models.MeetingConfirmed, "confirmed by seller", userID)); err != nil {
		return nil, err
	}
	s.sync.RespondAsSeller(ctx, meeting, ResponseAccepted)
	return meeting, nil
}

// Reject declines a pending meeting on behalf of its seller.
func (s *MeetingService) Reject(ctx context.Context, userID uint, id string) (*models.Meeting, error) {
	meeting, err := s.sellerAction(ctx, userID, id, models.MeetingPending)
	if err != nil {
		return nil, err
	}
	if err := s.machine.Apply(ctx, meeting, userTransition(models.MeetingCancelledBySeller, "rejected by seller", userID)); err != nil {
		return nil, err
	}
	s.sync.RespondAsSeller(ctx, meeting, ResponseDeclined)
	return meeting, nil
}

// Cancel lets either participant call off a pending or confirmed meeting.
func (s *MeetingService) Cancel(ctx context.Context, userID uint, id string) (*models.Meeting, error) {
	meeting, err := s.load(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if meeting.Status != models.MeetingPending && meeting.Status != models.MeetingConfirmed {
		return nil, &ConflictError{Message: fmt.Sprintf("only pending or confirmed meetings can be cancelled, it is %s", meeting.Status)}
	}

	to, reason := models.MeetingCancelledBySeller, "cancelled by seller"
	if userID == meeting.BuyerID {
		to, reason = models.MeetingCancelledByBuyer, "cancelled by buyer"
	}
	if err := s.machine.Apply(ctx, meeting, userTransition(to, reason, userID)); err != nil {
		return nil, err
	}
	s.sync.CancelEvent(ctx, meeting)
	return meeting, nil
}

// Complete marks a confirmed meeting that has started as held.
func (s *MeetingService) Complete(ctx context.Context, userID uint, id string) (*models.Meeting, error) {
	return s.closeStarted(ctx, userID, id, models.MeetingCompleted, "viewing took place")
}

// MarkNoShow marks a confirmed meeting that has started as missed by the buyer.
func (s *MeetingService) MarkNoShow(ctx context.Context, userID uint, id string) (*models.Meeting, error) {
	return s.closeStarted(ctx, userID, id, models.MeetingNoShow, "buyer did not show up")
}

// ExpirePending moves pending and tentative meetings whose start has passed to expired.
func (s *MeetingService) ExpirePending(ctx context.Context) (int, error) {
	meetings, err := s.store.ListByStatus(ctx, models.MeetingPending, models.MeetingTentative)
	if err != nil {
		return 0, err
	}

	now := s.now()
	expired := 0
	for i := range meetings {
		meeting := &meetings[i]
		start, _, err := meeting.Window()
		if err != nil || start.After(now) {
			continue
		}
		transition := Transition{To: models.MeetingExpired, Reason: "start time passed without confirmation", Source: SourceExpiry}
		if err := s.machine.Apply(ctx, meeting, transition); err != nil {
			golog.Warnf("⚠️ could not expire meeting %s: %v", meeting.ID, err)
			continue
		}
		expired++
	}
	if expired > 0 {
		golog.Infof("⌛ expired %d meetings", expired)
	}
	return expired, nil
}

func (s *MeetingService) closeStarted(ctx context.Context, userID uint, id string, to models.MeetingStatus, reason string) (*models.Meeting, error) {
	meeting, err := s.sellerAction(ctx, userID, id, models.MeetingConfirmed)
	if err != nil {
		return nil, err
	}
	start, _, err := meeting.Window()
	if err != nil {
		return nil, &ValidationError{Field: "date", Message: err.Error()}
	}
	if s.now().Before(start) {
		return nil, &ValidationError{Field: "status", Message: "meeting has not started yet"}
	}
	if err := s.machine.Apply(ctx, meeting, userTransition(to, reason, userID)); err != nil {
		return nil, err
	}
	return meeting, nil
}

func (s *MeetingService) sellerAction(ctx context.Context, userID uint, id string, required models.MeetingStatus) (*models.Meeting, error) {
	meeting, err := s.load(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if meeting.SellerID != userID {
		return nil, &AuthorizationError{Message: "only the seller can do this"}
	}
	if meeting.Status != required {
		return nil, &ConflictError{Message: fmt.Sprintf("meeting must be %s, it is %s", required, meeting.Status)}
	}
	return meeting, nil
}

func (s *MeetingService) load(ctx context.Context, userID uint, id string) (*models.Meeting, error) {
	meeting, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if meeting == nil {
		return nil, &NotFoundError{Resource: "meeting", ID: id}
	}
	if !meeting.IsParticipant(userID) {
		return nil, &AuthorizationError{Message: "not a participant of this meeting"}
	}
	return meeting, nil
}

func (s *MeetingService) reconcileQuietly(ctx context.Context, meeting *models.Meeting) {
	if _, err := s.sync.Reconcile(ctx, meeting); err != nil {
		golog.Warnf("⚠️ meeting %s kept status %s: %v", meeting.ID, meeting.Status, err)
	}
}

// organizerToken picks the token that creates the event: the one in the request, else the buyer's stored credential.
func (s *MeetingService) organizerToken(ctx context.Context, buyerID uint, in CreateMeetingInput) (CalendarToken, bool, error) {
	if in.AccessToken != "" {
		return CalendarToken{AccessToken: in.AccessToken, RefreshToken: in.RefreshToken}, true, nil
	}
	credential, err := s.tokens.GetToken(ctx, buyerID)
	if err != nil {
		return CalendarToken{}, false, err
	}
	if credential == nil {
		return CalendarToken{}, false, nil
	}
	return TokenFromCredential(credential), true, nil
}

func (s *MeetingService) participantEmails(ctx context.Context, m *models.Meeting) (string, string, error) {
	buyer, err := s.directory.GetUser(ctx, m.BuyerID)
	if err != nil {
		return "", "", err
	}
	seller, err := s.directory.GetUser(ctx, m.SellerID)
	if err != nil {
		return "", "", err
	}
	if buyer == nil || buyer.Email == "" {
		return "", "", &NotFoundError{Resource: "buyer email for user", ID: fmt.Sprint(m.BuyerID)}
	}
	if seller == nil || seller.Email == "" {
		return "", "", &NotFoundError{Resource: "seller email for user", ID: fmt.Sprint(m.SellerID)}
	}
	return buyer.Email, seller.Email, nil
}

func userTransition(to models.MeetingStatus, reason string, actorID uint) Transition {
	return Transition{To: to, Reason: reason, Source: SourceUser, ActorID: &actorID}
}

func validateSchedule(date, clock string, duration int, timezone string) error {
	if duration < models.MinMeetingDuration || duration > models.MaxMeetingDuration {
		return &ValidationError{Field: "duration", Message: fmt.Sprintf("must be between %d and %d minutes", models.MinMeetingDuration, models.MaxMeetingDuration)}
	}
	if _, err := time.Parse(models.MeetingDateLayout, date); err != nil {
		return &ValidationError{Field: "date", Message: "must be YYYY-MM-DD"}
	}
	if _, err := time.Parse(models.MeetingTimeLayout, clock); err != nil {
		return &ValidationError{Field: "time", Message: "must be HH:MM"}
	}
	if timezone == "" {
		return &ValidationError{Field: "timezone", Message: "is required"}
	}
	if _, err := time.LoadLocation(timezone); err != nil {
		return &ValidationError{Field: "timezone", Message: "unknown IANA timezone"}
	}
	return nil
}
