package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const sendUpdatesAll = "all"

// GoogleCalendar is the CalendarProvider backed by the Google Calendar v3 API.
type GoogleCalendar struct {
	timeout  time.Duration
	endpoint string
	client   *http.Client
}

type GoogleCalendarOption func(*GoogleCalendar)

// WithCalendarEndpoint points the client at another API root, used by tests.
func WithCalendarEndpoint(endpoint string) GoogleCalendarOption {
	return func(g *GoogleCalendar) { g.endpoint = endpoint }
}

func WithCalendarHTTPClient(client *http.Client) GoogleCalendarOption {
	return func(g *GoogleCalendar) { g.client = client }
}

func NewGoogleCalendar(timeout time.Duration, opts ...GoogleCalendarOption) *GoogleCalendar {
	g := &GoogleCalendar{timeout: timeout, client: &http.Client{Timeout: timeout}}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *GoogleCalendar) service(ctx context.Context, accessToken string) (*calendar.Service, error) {
	base := context.WithValue(ctx, oauth2.HTTPClient, g.client)
	httpClient := oauth2.NewClient(base, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}))

	opts := []option.ClientOption{option.WithHTTPClient(httpClient)}
	if g.endpoint != "" {
		opts = append(opts, option.WithEndpoint(g.endpoint))
	}
	return calendar.NewService(ctx, opts...)
}

// call bounds one API call with the configured timeout.
func (g *GoogleCalendar) call(ctx context.Context, accessToken string, fn func(context.Context, *calendar.Service) error) error {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	svc, err := g.service(ctx, accessToken)
	if err != nil {
		return fmt.Errorf("calendar client: %w", err)
	}
	return classifyGoogleError(fn(ctx, svc))
}

func (g *GoogleCalendar) CreateEvent(ctx context.Context, accessToken, calendarID string, req EventRequest) (*ExternalEvent, error) {
	event := &calendar.Event{
		Summary:     req.Summary,
		Description: req.Description,
		Location:    req.Location,
		Start:       eventDateTime(req.Start, req.Timezone),
		End:         eventDateTime(req.End, req.Timezone),
		Attendees:   toGoogleAttendees(req.Attendees),
	}
	if req.ConferenceRequestID != "" {
		event.ConferenceData = &calendar.ConferenceData{
			CreateRequest: &calendar.CreateConferenceRequest{
				RequestId:             req.ConferenceRequestID,
				ConferenceSolutionKey: &calendar.ConferenceSolutionKey{Type: "hangoutsMeet"},
			},
		}
	}

	var created *calendar.Event
	err := g.call(ctx, accessToken, func(ctx context.Context, svc *calendar.Service) error {
		var err error
		created, err = svc.Events.Insert(calendarID, event).
			ConferenceDataVersion(1).
			SendUpdates(sendUpdatesAll).
			Context(ctx).
			Do()
		return err
	})
	if err != nil {
		return nil, err
	}
	return fromGoogleEvent(created)
}

func (g *GoogleCalendar) GetEvent(ctx context.Context, accessToken, calendarID, eventID string) (*ExternalEvent, error) {
	var event *calendar.Event
	err := g.call(ctx, accessToken, func(ctx context.Context, svc *calendar.Service) error {
		var err error
		event, err = svc.Events.Get(calendarID, eventID).Context(ctx).Do()
		return err
	})
	if isGoneError(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return fromGoogleEvent(event)
}

func (g *GoogleCalendar) PatchEvent(ctx context.Context, accessToken, calendarID, eventID string, patch EventPatch) (*ExternalEvent, error) {
	event := &calendar.Event{Status: patch.Status}
	if patch.Start != nil {
		event.Start = eventDateTime(*patch.Start, patch.Timezone)
	}
	if patch.End != nil {
		event.End = eventDateTime(*patch.End, patch.Timezone)
	}
	if patch.Attendees != nil {
		event.Attendees = toGoogleAttendees(patch.Attendees)
	}

	var updated *calendar.Event
	err := g.call(ctx, accessToken, func(ctx context.Context, svc *calendar.Service) error {
		var err error
		updated, err = svc.Events.Patch(calendarID, eventID, event).
			SendUpdates(sendUpdatesAll).
			Context(ctx).
			Do()
		return err
	})
	if err != nil {
		return nil, err
	}
	return fromGoogleEvent(updated)
}

// DeleteEvent treats an already deleted event as success.
func (g *GoogleCalendar) DeleteEvent(ctx context.Context, accessToken, calendarID, eventID string) error {
	err := g.call(ctx, accessToken, func(ctx context.Context, svc *calendar.Service) error {
		return svc.Events.Delete(calendarID, eventID).SendUpdates(sendUpdatesAll).Context(ctx).Do()
	})
	if isGoneError(err) {
		return nil
	}
	return err
}

func (g *GoogleCalendar) ListEvents(ctx context.Context, accessToken, calendarID string, from, to time.Time) ([]ExternalEvent, error) {
	events := []ExternalEvent{}
	err := g.call(ctx, accessToken, func(ctx context.Context, svc *calendar.Service) error {
		return svc.Events.List(calendarID).
			TimeMin(from.Format(time.RFC3339)).
			TimeMax(to.Format(time.RFC3339)).
			SingleEvents(true).
			OrderBy("startTime").
			Pages(ctx, func(page *calendar.Events) error {
				for _, item := range page.Items {
					event, err := fromGoogleEvent(item)
					if err != nil {
						return err
					}
					events = append(events, *event)
				}
				return nil
			})
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (g *GoogleCalendar) QueryFreeBusy(ctx context.Context, accessToken, calendarID string, from, to time.Time) ([]BusyPeriod, error) {
	var resp *calendar.FreeBusyResponse
	err := g.call(ctx, accessToken, func(ctx context.Context, svc *calendar.Service) error {
		var err error
		resp, err = svc.Freebusy.Query(&calendar.FreeBusyRequest{
			TimeMin: from.Format(time.RFC3339),
			TimeMax: to.Format(time.RFC3339),
			Items:   []*calendar.FreeBusyRequestItem{{Id: calendarID}},
		}).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, err
	}

	busy := []BusyPeriod{}
	for _, period := range resp.Calendars[calendarID].Busy {
		start, err := time.Parse(time.RFC3339, period.Start)
		if err != nil {
			return nil, fmt.Errorf("freebusy start %q: %w", period.Start, err)
		}
		end, err := time.Parse(time.RFC3339, period.End)
		if err != nil {
			return nil, fmt.Errorf("freebusy end %q: %w", period.End, err)
		}
		busy = append(busy, BusyPeriod{Start: start, End: end})
	}
	return busy, nil
}

func (g *GoogleCalendar) WatchEvents(ctx context.Context, accessToken string, channel WatchChannel) (*WatchChannel, error) {
	req := &calendar.Channel{
		Id:      channel.ID,
		Type:    "web_hook",
		Address: channel.Address,
		Token:   channel.Token,
	}
	if !channel.Expiration.IsZero() {
		req.Expiration = channel.Expiration.UnixMilli()
	}

	var resp *calendar.Channel
	err := g.call(ctx, accessToken, func(ctx context.Context, svc *calendar.Service) error {
		var err error
		resp, err = svc.Events.Watch(channel.CalendarID, req).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, err
	}

	watched := channel
	watched.ResourceID = resp.ResourceId
	if resp.Expiration > 0 {
		watched.Expiration = time.UnixMilli(resp.Expiration)
	}
	return &watched, nil
}

func classifyGoogleError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusUnauthorized {
		return fmt.Errorf("%w: %s", ErrProviderUnauthorized, apiErr.Message)
	}
	return err
}

func isGoneError(err error) bool {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusGone
}

func eventDateTime(t time.Time, timezone string) *calendar.EventDateTime {
	return &calendar.EventDateTime{DateTime: t.Format(time.RFC3339), TimeZone: timezone}
}

func toGoogleAttendees(attendees []Attendee) []*calendar.EventAttendee {
	out := make([]*calendar.EventAttendee, 0, len(attendees))
	for _, a := range attendees {
		out = append(out, &calendar.EventAttendee{
			Email:          a.Email,
			ResponseStatus: a.ResponseStatus,
			Organizer:      a.Organizer,
		})
	}
	return out
}

func fromGoogleEvent(e *calendar.Event) (*ExternalEvent, error) {
	if e == nil {
		return nil, errors.New("empty event in calendar response")
	}
	event := &ExternalEvent{ID: e.Id, Status: e.Status, MeetingLink: meetingLink(e)}

	var err error
	if e.Start != nil {
		event.Start, event.AllDay, err = parseEventDateTime(e.Start)
		if err != nil {
			return nil, fmt.Errorf("event %s start: %w", e.Id, err)
		}
	}
	if e.End != nil {
		event.End, _, err = parseEventDateTime(e.End)
		if err != nil {
			return nil, fmt.Errorf("event %s end: %w", e.Id, err)
		}
	}

	for _, a := range e.Attendees {
		event.Attendees = append(event.Attendees, Attendee{
			Email:          a.Email,
			ResponseStatus: a.ResponseStatus,
			Organizer:      a.Organizer,
			Self:           a.Self,
		})
	}
	return event, nil
}

func parseEventDateTime(dt *calendar.EventDateTime) (time.Time, bool, error) {
	if dt.DateTime != "" {
		t, err := time.Parse(time.RFC3339, dt.DateTime)
		return t, false, err
	}
	if dt.Date == "" {
		return time.Time{}, false, errors.New("no date or dateTime")
	}
	loc := time.UTC
	if dt.TimeZone != "" {
		if l, err := time.LoadLocation(dt.TimeZone); err == nil {
			loc = l
		}
	}
	t, err := time.ParseInLocation("2006-01-02", dt.Date, loc)
	return t, true, err
}

func meetingLink(e *calendar.Event) string {
	if e.HangoutLink != "" {
		return e.HangoutLink
	}
	if e.ConferenceData != nil {
		for _, entry := range e.ConferenceData.EntryPoints {
			if entry.EntryPointType == "video" {
				return entry.Uri
			}
		}
	}
	return ""
}
