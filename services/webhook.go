package services

import (
	"context"
	"net/url"
	"regexp"

	"viewing-scheduler-server/models"

	"github.com/kataras/golog"
)

// WebhookNotification carries the headers of a provider push notification.
type WebhookNotification struct {
	ChannelID     string
	ChannelToken  string
	ResourceID    string
	ResourceState string
	ResourceURI   string
	MessageNumber string
}

// WebhookResult describes what a notification did. Dropped notifications are still acknowledged.
type WebhookResult struct {
	Handled   bool                 `json:"handled"`
	MeetingID string               `json:"meetingId,omitempty"`
	Status    models.MeetingStatus `json:"status,omitempty"`
	Reason    string               `json:"reason,omitempty"`
}

var resourceURIPattern = regexp.MustCompile(`/calendars/([^/]+)/events/([^/?]+)`)

// ParseResourceURI extracts the calendar and event ids from a notification's resource URI.
func ParseResourceURI(uri string) (calendarID, eventID string, ok bool) {
	match := resourceURIPattern.FindStringSubmatch(uri)
	if match == nil {
		return "", "", false
	}
	calendarID, err := url.PathUnescape(match[1])
	if err != nil {
		return "", "", false
	}
	eventID, err = url.PathUnescape(match[2])
	if err != nil || eventID == "" {
		return "", "", false
	}
	return calendarID, eventID, true
}

type WebhookService struct {
	store    MeetingStore
	sync     *CalendarSync
	machine  *StateMachine
	channels ChannelStore
}

// NewWebhookService builds the notification handler. channels may be nil.
func NewWebhookService(store MeetingStore, sync *CalendarSync, machine *StateMachine, channels ChannelStore) *WebhookService {
	return &WebhookService{store: store, sync: sync, machine: machine, channels: channels}
}

// Handle processes one notification. Only a structurally invalid notification is an error;
// anything that cannot be resolved to a meeting is dropped.
func (w *WebhookService) Handle(ctx context.Context, n WebhookNotification) (WebhookResult, error) {
	if n.ChannelID == "" || n.ChannelToken == "" {
		return WebhookResult{}, &ValidationError{Field: "headers", Message: "channel id and channel token are required"}
	}
	if n.ResourceState == "sync" {
		return dropped("channel handshake"), nil
	}
	if w.channels != nil {
		channel, _, err := w.channels.FindChannel(ctx, n.ChannelID)
		if err != nil {
			golog.Warnf("⚠️ channel lookup for %s failed: %v", n.ChannelID, err)
		} else if channel != nil && channel.Token != n.ChannelToken {
			return dropped("channel token mismatch"), nil
		}
	}

	_, eventID, ok := ParseResourceURI(n.ResourceURI)
	if !ok {
		golog.Debugf("📭 webhook on channel %s has no event in %q", n.ChannelID, n.ResourceURI)
		return dropped("resource uri does not name an event"), nil
	}

	meeting, err := w.store.FindByExternalEventID(ctx, eventID)
	if err != nil {
		return WebhookResult{}, err
	}
	if meeting == nil {
		return dropped("no meeting for event"), nil
	}
	if IsTerminal(meeting.Status) {
		return WebhookResult{MeetingID: meeting.ID, Status: meeting.Status, Reason: "meeting is closed"}, nil
	}

	credential, err := w.sync.viewerCredential(ctx, meeting)
	if err != nil {
		return WebhookResult{}, err
	}
	if credential == nil {
		return WebhookResult{MeetingID: meeting.ID, Status: meeting.Status, Reason: "no calendar credential"}, nil
	}

	event, err := w.sync.FetchEvent(ctx, TokenFromCredential(credential), w.sync.calendarFor(meeting, credential), eventID)
	if err != nil {
		golog.Warnf("⚠️ webhook for meeting %s could not fetch event: %v", meeting.ID, err)
		return WebhookResult{MeetingID: meeting.ID, Status: meeting.Status, Reason: "event unavailable"}, nil
	}

	changed, err := w.sync.ApplyEvent(ctx, meeting, event, SourceWebhook)
	if err != nil {
		golog.Warnf("⚠️ webhook for meeting %s not applied: %v", meeting.ID, err)
		return WebhookResult{MeetingID: meeting.ID, Status: meeting.Status, Reason: err.Error()}, nil
	}

	if !changed && meeting.Status == models.MeetingPending {
		if to, reason, ok := attendeeDecision(event); ok {
			err := w.machine.Apply(ctx, meeting, Transition{To: to, Reason: reason, Source: SourceWebhook})
			if err != nil {
				golog.Warnf("⚠️ webhook attendee decision for meeting %s not applied: %v", meeting.ID, err)
			} else {
				changed = true
			}
		}
	}

	return WebhookResult{Handled: changed, MeetingID: meeting.ID, Status: meeting.Status}, nil
}

// attendeeDecision looks at individual invitee responses. The organizer's own acceptance is implicit and ignored.
func attendeeDecision(event *ExternalEvent) (models.MeetingStatus, string, bool) {
	if event == nil || event.Status == EventCancelled {
		return "", "", false
	}
	for _, a := range event.Attendees {
		if a.Organizer {
			continue
		}
		switch a.ResponseStatus {
		case ResponseAccepted:
			return models.MeetingConfirmed, a.Email + " accepted the invite", true
		case ResponseDeclined:
			return models.MeetingCancelledBySeller, a.Email + " declined the invite", true
		}
	}
	return "", "", false
}

func dropped(reason string) WebhookResult {
	return WebhookResult{Reason: reason}
}
