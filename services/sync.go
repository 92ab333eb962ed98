package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"viewing-scheduler-server/models"

	"github.com/google/uuid"
	"github.com/kataras/golog"
)

// CalendarToken is the credential material used for one outbound call chain.
type CalendarToken struct {
	AccessToken  string
	RefreshToken string
	CalendarID   string
}

func (t CalendarToken) Calendar() string {
	if t.CalendarID == "" {
		return models.PrimaryCalendarID
	}
	return t.CalendarID
}

func TokenFromCredential(c *models.UserCalendarCredential) CalendarToken {
	return CalendarToken{AccessToken: c.AccessToken, RefreshToken: c.Refresh(), CalendarID: c.Calendar()}
}

type CreatedEvent struct {
	EventID    string
	CalendarID string
	MeetLink   string
	Attendees  []Attendee
	Status     string
}

// CalendarSync bridges meetings and their external calendar events.
type CalendarSync struct {
	provider  CalendarProvider
	tokens    *TokenManager
	machine   *StateMachine
	directory Directory
}

func NewCalendarSync(provider CalendarProvider, tokens *TokenManager, machine *StateMachine, directory Directory) *CalendarSync {
	return &CalendarSync{provider: provider, tokens: tokens, machine: machine, directory: directory}
}

// CreateEvent creates the external event for m on the token owner's calendar.
func (s *CalendarSync) CreateEvent(ctx context.Context, token CalendarToken, m *models.Meeting, listing *models.Property, buyerEmail, sellerEmail string) (*CreatedEvent, error) {
	start, end, err := m.Window()
	if err != nil {
		return nil, &ValidationError{Field: "date", Message: err.Error()}
	}

	req := EventRequest{
		Summary:     "Property viewing: " + listing.Title,
		Description: eventDescription(m),
		Location:    listing.Address(),
		Start:       start,
		End:         end,
		Timezone:    m.Timezone,
		Attendees: []Attendee{
			{Email: buyerEmail, ResponseStatus: ResponseNeedsAction},
			{Email: sellerEmail, ResponseStatus: ResponseNeedsAction},
		},
		ConferenceRequestID: uuid.NewString(),
	}

	var created *ExternalEvent
	err = s.tokens.ExecuteWithRefresh(ctx, token.AccessToken, token.RefreshToken, func(ctx context.Context, accessToken string) error {
		var err error
		created, err = s.provider.CreateEvent(ctx, accessToken, token.Calendar(), req)
		return err
	})
	if err != nil {
		return nil, providerError("create event", err)
	}
	if created == nil || created.ID == "" {
		return nil, &ExternalProviderError{Op: "create event", Err: errors.New("provider returned no event id")}
	}

	golog.Infof("📆 created calendar event %s for meeting %s", created.ID, m.ID)
	return &CreatedEvent{
		EventID:    created.ID,
		CalendarID: token.Calendar(),
		MeetLink:   created.MeetingLink,
		Attendees:  created.Attendees,
		Status:     created.Status,
	}, nil
}

// DiscardEvent deletes an event created for a meeting that could not be stored.
func (s *CalendarSync) DiscardEvent(ctx context.Context, token CalendarToken, m *models.Meeting) {
	if !m.HasExternalEvent() {
		return
	}
	calendarID := m.ExternalCalendarID
	if calendarID == "" {
		calendarID = token.Calendar()
	}
	err := s.tokens.ExecuteWithRefresh(ctx, token.AccessToken, token.RefreshToken, func(ctx context.Context, accessToken string) error {
		return s.provider.DeleteEvent(ctx, accessToken, calendarID, *m.ExternalEventID)
	})
	if err != nil {
		golog.Errorf("❌ orphan calendar event %s left behind: %v", *m.ExternalEventID, err)
	}
}

// FetchEvent returns the provider's current event, or nil, nil when it no longer exists.
// Callers that only care about the event may ignore the error and treat nil as unknown.
func (s *CalendarSync) FetchEvent(ctx context.Context, token CalendarToken, calendarID, eventID string) (*ExternalEvent, error) {
	if calendarID == "" {
		calendarID = token.Calendar()
	}
	var event *ExternalEvent
	err := s.tokens.ExecuteWithRefresh(ctx, token.AccessToken, token.RefreshToken, func(ctx context.Context, accessToken string) error {
		var err error
		event, err = s.provider.GetEvent(ctx, accessToken, calendarID, eventID)
		return err
	})
	if err != nil {
		return nil, providerError("get event", err)
	}
	return event, nil
}

// DeriveStatus maps the provider's event state to a meeting status. The organizer is the buyer.
// A missing event counts as cancelled.
func DeriveStatus(event *ExternalEvent) models.MeetingStatus {
	if event == nil || event.Status == EventCancelled {
		return models.MeetingCancelledByUser
	}

	organizer, counterpart := splitAttendees(event.Attendees)
	if organizer == nil || counterpart == nil {
		return models.MeetingPending
	}

	switch {
	case organizer.ResponseStatus == ResponseDeclined:
		return models.MeetingCancelledByBuyer
	case counterpart.ResponseStatus == ResponseDeclined:
		return models.MeetingCancelledBySeller
	case organizer.ResponseStatus == ResponseTentative || counterpart.ResponseStatus == ResponseTentative:
		return models.MeetingTentative
	case organizer.ResponseStatus == ResponseAccepted && counterpart.ResponseStatus == ResponseAccepted:
		return models.MeetingConfirmed
	default:
		return models.MeetingPending
	}
}

func splitAttendees(attendees []Attendee) (organizer, counterpart *Attendee) {
	for i := range attendees {
		if attendees[i].Organizer {
			if organizer == nil {
				organizer = &attendees[i]
			}
		} else if counterpart == nil {
			counterpart = &attendees[i]
		}
	}
	return organizer, counterpart
}

// Reconcile re-derives m's status from its external event and applies it when it differs.
// Provider failures keep the stored status and are returned for logging.
func (s *CalendarSync) Reconcile(ctx context.Context, m *models.Meeting) (bool, error) {
	if !m.HasExternalEvent() || IsTerminal(m.Status) {
		return false, nil
	}

	credential, err := s.viewerCredential(ctx, m)
	if err != nil || credential == nil {
		return false, err
	}

	event, err := s.FetchEvent(ctx, TokenFromCredential(credential), s.calendarFor(m, credential), *m.ExternalEventID)
	if err != nil {
		return false, err
	}
	return s.ApplyEvent(ctx, m, event, SourceSync)
}

// ApplyEvent feeds an already fetched event into the state machine.
func (s *CalendarSync) ApplyEvent(ctx context.Context, m *models.Meeting, event *ExternalEvent, source TransitionSource) (bool, error) {
	derived := DeriveStatus(event)
	if derived == m.Status {
		return false, nil
	}
	if derived == models.MeetingPending {
		// nothing moves back to pending, the calendar has not caught up with a local decision
		golog.Debugf("📭 meeting %s stays %s, calendar event is %s", m.ID, m.Status, describeEvent(event))
		return false, nil
	}

	reason := fmt.Sprintf("calendar event is %s", describeEvent(event))
	if err := s.machine.Apply(ctx, m, Transition{To: derived, Reason: reason, Source: source}); err != nil {
		return false, err
	}
	return true, nil
}

// RespondAsSeller records the seller's answer on the external event. Failures are logged only.
func (s *CalendarSync) RespondAsSeller(ctx context.Context, m *models.Meeting, response string) {
	if !m.HasExternalEvent() {
		return
	}
	credential, err := s.tokens.GetToken(ctx, m.SellerID)
	if err != nil || credential == nil {
		return
	}
	email := credential.AccountEmail
	if email == "" {
		if seller, err := s.directory.GetUser(ctx, m.SellerID); err == nil && seller != nil {
			email = seller.Email
		}
	}
	if email == "" {
		return
	}

	calendarID := s.calendarFor(m, credential)
	err = s.tokens.WithCredential(ctx, credential, func(ctx context.Context, accessToken string) error {
		event, err := s.provider.GetEvent(ctx, accessToken, calendarID, *m.ExternalEventID)
		if err != nil || event == nil {
			return err
		}
		attendees := make([]Attendee, len(event.Attendees))
		copy(attendees, event.Attendees)
		for i := range attendees {
			if strings.EqualFold(attendees[i].Email, email) {
				attendees[i].ResponseStatus = response
			}
		}
		_, err = s.provider.PatchEvent(ctx, accessToken, calendarID, *m.ExternalEventID, EventPatch{Attendees: attendees})
		return err
	})
	if err != nil {
		golog.Warnf("⚠️ could not record seller response %s on event for meeting %s: %v", response, m.ID, err)
	}
}

// CancelEvent removes the event from the organizer's calendar, or declines it for the seller. Failures are logged only.
func (s *CalendarSync) CancelEvent(ctx context.Context, m *models.Meeting) {
	if !m.HasExternalEvent() {
		return
	}
	organizer, err := s.tokens.GetToken(ctx, m.BuyerID)
	if err == nil && organizer != nil {
		err = s.tokens.WithCredential(ctx, organizer, func(ctx context.Context, accessToken string) error {
			return s.provider.DeleteEvent(ctx, accessToken, s.calendarFor(m, organizer), *m.ExternalEventID)
		})
		if err == nil {
			return
		}
		golog.Warnf("⚠️ could not delete event for meeting %s: %v", m.ID, err)
	}
	s.RespondAsSeller(ctx, m, ResponseDeclined)
}

// RescheduleEvent moves the external event to m's current window. Without an organizer credential there is nothing to move.
func (s *CalendarSync) RescheduleEvent(ctx context.Context, m *models.Meeting) error {
	if !m.HasExternalEvent() {
		return nil
	}
	organizer, err := s.tokens.GetToken(ctx, m.BuyerID)
	if err != nil {
		return err
	}
	if organizer == nil {
		golog.Warnf("⚠️ meeting %s edited but the organizer has no stored calendar credential", m.ID)
		return nil
	}
	start, end, err := m.Window()
	if err != nil {
		return &ValidationError{Field: "date", Message: err.Error()}
	}
	err = s.tokens.WithCredential(ctx, organizer, func(ctx context.Context, accessToken string) error {
		_, err := s.provider.PatchEvent(ctx, accessToken, s.calendarFor(m, organizer), *m.ExternalEventID, EventPatch{
			Start:    &start,
			End:      &end,
			Timezone: m.Timezone,
		})
		return err
	})
	return providerError("patch event", err)
}

// viewerCredential picks the credential used to read m's event: the organizer's first, then the seller's.
func (s *CalendarSync) viewerCredential(ctx context.Context, m *models.Meeting) (*models.UserCalendarCredential, error) {
	for _, userID := range []uint{m.BuyerID, m.SellerID} {
		credential, err := s.tokens.GetToken(ctx, userID)
		if err != nil {
			return nil, err
		}
		if credential != nil {
			return credential, nil
		}
	}
	return nil, nil
}

// calendarFor returns the calendar holding m's event as seen by the credential owner.
// Attendee copies share the organizer's event id.
func (s *CalendarSync) calendarFor(m *models.Meeting, credential *models.UserCalendarCredential) string {
	if credential.UserID == m.BuyerID && m.ExternalCalendarID != "" {
		return m.ExternalCalendarID
	}
	return credential.Calendar()
}

func eventDescription(m *models.Meeting) string {
	description := fmt.Sprintf("Viewing request %s (%d minutes).", m.ID, m.Duration)
	if m.Notes != nil && *m.Notes != "" {
		description += "\n\n" + *m.Notes
	}
	return description
}

func describeEvent(event *ExternalEvent) string {
	if event == nil {
		return "missing"
	}
	parts := []string{event.Status}
	for _, a := range event.Attendees {
		role := "attendee"
		if a.Organizer {
			role = "organizer"
		}
		parts = append(parts, fmt.Sprintf("%s %s", role, a.ResponseStatus))
	}
	return strings.Join(parts, ", ")
}
