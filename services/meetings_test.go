package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"viewing-scheduler-server/models"
)

func TestCreateMeetingWithCalendarEvent(t *testing.T) {
	env := newTestEnv(t)
	env.connect(t, testBuyerID, "buyer-access", "buyer-refresh")

	in := createInput()
	in.Notes = "  ring twice  "
	meeting, err := env.meetings.Create(context.Background(), testBuyerID, in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if meeting.Status != models.MeetingPending || meeting.SellerID != testSellerID {
		t.Errorf("unexpected meeting %+v", meeting)
	}
	if !meeting.HasExternalEvent() || *meeting.ExternalEventID != "evt-1" {
		t.Fatalf("expected external event evt-1, got %v", meeting.ExternalEventID)
	}
	if meeting.MeetingLink == nil || *meeting.MeetingLink == "" {
		t.Errorf("expected meeting link")
	}
	if meeting.Notes == nil || *meeting.Notes != "ring twice" {
		t.Errorf("expected trimmed notes, got %v", meeting.Notes)
	}

	req := env.provider.lastRequest
	if req.Location != "1 Rue Verte, Paris" {
		t.Errorf("unexpected location %q", req.Location)
	}
	if len(req.Attendees) != 2 || req.Attendees[0].Email != "buyer@example.com" || req.Attendees[1].Email != "seller@example.com" {
		t.Errorf("unexpected attendees %+v", req.Attendees)
	}
	if got := req.End.Sub(req.Start); got != time.Hour {
		t.Errorf("expected one hour event, got %s", got)
	}
	if stored, _ := env.store.Get(context.Background(), meeting.ID); stored == nil {
		t.Errorf("meeting not stored")
	}
}

func TestCreateMeetingUsesRequestToken(t *testing.T) {
	env := newTestEnv(t)
	in := createInput()
	in.AccessToken = "request-access"

	if _, err := env.meetings.Create(context.Background(), testBuyerID, in); err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(env.provider.accessTokens) == 0 || env.provider.accessTokens[0] != "request-access" {
		t.Errorf("expected the request token to be used, got %v", env.provider.accessTokens)
	}
}

func TestCreateMeetingWithoutCalendar(t *testing.T) {
	env := newTestEnv(t)
	meeting, err := env.meetings.Create(context.Background(), testBuyerID, createInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if meeting.HasExternalEvent() || env.provider.created != 0 {
		t.Errorf("expected no external event")
	}
}

func TestCreateDuplicateMeetingConflicts(t *testing.T) {
	env := newTestEnv(t)
	env.connect(t, testBuyerID, "buyer-access", "")
	ctx := context.Background()

	first, err := env.meetings.Create(ctx, testBuyerID, createInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	in := createInput()
	in.Time = "15:00"
	_, err = env.meetings.Create(ctx, testBuyerID, in)
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.Existing == nil || conflict.Existing.ID != first.ID {
		t.Errorf("expected existing meeting %s, got %+v", first.ID, conflict.Existing)
	}
	if env.provider.created != 1 {
		t.Errorf("expected no second event, got %d", env.provider.created)
	}
}

func TestCreateAfterCancelIsAllowed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	first, err := env.meetings.Create(ctx, testBuyerID, createInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.meetings.Cancel(ctx, testBuyerID, first.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := env.meetings.Create(ctx, testBuyerID, createInput()); err != nil {
		t.Fatalf("expected a new request after cancelling, got %v", err)
	}
}

func TestCreateEventFailureStoresNothing(t *testing.T) {
	env := newTestEnv(t)
	env.connect(t, testBuyerID, "buyer-access", "")
	env.provider.createErr = errors.New("500 backend error")

	_, err := env.meetings.Create(context.Background(), testBuyerID, createInput())
	var provider *ExternalProviderError
	if !errors.As(err, &provider) {
		t.Fatalf("expected ExternalProviderError, got %v", err)
	}
	if meetings, _ := env.store.ListForUser(context.Background(), testBuyerID); len(meetings) != 0 {
		t.Errorf("expected no stored meeting, got %d", len(meetings))
	}
}

func TestCreateExpiredCalendarAuth(t *testing.T) {
	env := newTestEnv(t)
	env.connect(t, testBuyerID, "stale-access", "")
	env.provider.rejected["stale-access"] = true

	_, err := env.meetings.Create(context.Background(), testBuyerID, createInput())
	var expired *ExternalAuthExpiredError
	if !errors.As(err, &expired) {
		t.Fatalf("expected ExternalAuthExpiredError, got %v", err)
	}
}

func TestCreateRaceDiscardsEvent(t *testing.T) {
	env := newTestEnv(t)
	env.connect(t, testBuyerID, "buyer-access", "")
	env.store.createErr = ErrActiveMeetingExists

	_, err := env.meetings.Create(context.Background(), testBuyerID, createInput())
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if env.provider.created != 1 || env.provider.deleted != 1 {
		t.Errorf("expected the orphan event to be deleted, created=%d deleted=%d", env.provider.created, env.provider.deleted)
	}
}

func TestCreateValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var validation *ValidationError
	if _, err := env.meetings.Create(ctx, testSellerID, createInput()); !errors.As(err, &validation) {
		t.Errorf("own listing: expected ValidationError, got %v", err)
	}

	in := createInput()
	in.Duration = 5
	if _, err := env.meetings.Create(ctx, testBuyerID, in); !errors.As(err, &validation) || validation.Field != "duration" {
		t.Errorf("short duration: expected duration ValidationError, got %v", err)
	}

	in = createInput()
	in.Timezone = "Mars/Olympus"
	if _, err := env.meetings.Create(ctx, testBuyerID, in); !errors.As(err, &validation) || validation.Field != "timezone" {
		t.Errorf("bad timezone: expected timezone ValidationError, got %v", err)
	}

	in = createInput()
	in.ListingID = 404
	var notFound *NotFoundError
	if _, err := env.meetings.Create(ctx, testBuyerID, in); !errors.As(err, &notFound) {
		t.Errorf("unknown listing: expected NotFoundError, got %v", err)
	}
}

func TestCreateRejectsBusySeller(t *testing.T) {
	env := newTestEnv(t)
	env.connect(t, testSellerID, "seller-access", "")
	env.provider.dayEvents = []ExternalEvent{{
		ID:     "busy-1",
		Status: EventConfirmed,
		Start:  localTime(t, "2030-06-03", "10:00"),
		End:    localTime(t, "2030-06-03", "12:00"),
	}}

	_, err := env.meetings.Create(context.Background(), testBuyerID, createInput())
	var conflict *ConflictError
	if !errors.As(err, &conflict) || len(conflict.SuggestedSlots) == 0 {
		t.Fatalf("expected ConflictError with suggestions, got %v", err)
	}
}

func TestConfirmRequiresSeller(t *testing.T) {
	env := newTestEnv(t)
	env.store.put(pendingMeeting("m-1"))
	ctx := context.Background()

	var forbidden *AuthorizationError
	if _, err := env.meetings.Confirm(ctx, testBuyerID, "m-1"); !errors.As(err, &forbidden) {
		t.Fatalf("buyer confirm: expected AuthorizationError, got %v", err)
	}
	if _, err := env.meetings.Confirm(ctx, 77, "m-1"); !errors.As(err, &forbidden) {
		t.Fatalf("stranger confirm: expected AuthorizationError, got %v", err)
	}

	meeting, err := env.meetings.Confirm(ctx, testSellerID, "m-1")
	if err != nil {
		t.Fatalf("seller confirm: %v", err)
	}
	if meeting.Status != models.MeetingConfirmed {
		t.Errorf("expected confirmed, got %s", meeting.Status)
	}

	var conflict *ConflictError
	if _, err := env.meetings.Reject(ctx, testSellerID, "m-1"); !errors.As(err, &conflict) {
		t.Errorf("reject after confirm: expected ConflictError, got %v", err)
	}
}

func TestConfirmPatchesSellerResponse(t *testing.T) {
	env := newTestEnv(t)
	env.connect(t, testSellerID, "seller-access", "")
	env.provider.setEvent(ExternalEvent{ID: "evt-1", Status: EventConfirmed, Attendees: attendees(ResponseAccepted, ResponseNeedsAction)})
	meeting := pendingMeeting("m-1")
	meeting.ExternalEventID = eventID("evt-1")
	env.store.put(meeting)

	if _, err := env.meetings.Confirm(context.Background(), testSellerID, "m-1"); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if len(env.provider.patches) != 1 {
		t.Fatalf("expected one patch, got %d", len(env.provider.patches))
	}
	for _, a := range env.provider.patches[0].Attendees {
		if a.Email == "seller@example.com" && a.ResponseStatus != ResponseAccepted {
			t.Errorf("seller response not accepted: %s", a.ResponseStatus)
		}
	}
}

func TestRejectCancelsBySeller(t *testing.T) {
	env := newTestEnv(t)
	env.store.put(pendingMeeting("m-1"))
	meeting, err := env.meetings.Reject(context.Background(), testSellerID, "m-1")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if meeting.Status != models.MeetingCancelledBySeller {
		t.Errorf("expected cancelled_by_seller, got %s", meeting.Status)
	}
}

func TestCancelDeletesEvent(t *testing.T) {
	env := newTestEnv(t)
	env.connect(t, testBuyerID, "buyer-access", "")
	ctx := context.Background()
	created, err := env.meetings.Create(ctx, testBuyerID, createInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	meeting, err := env.meetings.Cancel(ctx, testBuyerID, created.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if meeting.Status != models.MeetingCancelledByBuyer {
		t.Errorf("expected cancelled_by_buyer, got %s", meeting.Status)
	}
	if env.provider.deleted != 1 {
		t.Errorf("expected the event to be deleted, got %d deletes", env.provider.deleted)
	}

	var conflict *ConflictError
	if _, err := env.meetings.Cancel(ctx, testSellerID, created.ID); !errors.As(err, &conflict) {
		t.Errorf("cancel of a closed meeting: expected ConflictError, got %v", err)
	}
}

func TestCancelBySeller(t *testing.T) {
	env := newTestEnv(t)
	meeting := pendingMeeting("m-1")
	meeting.Status = models.MeetingConfirmed
	env.store.put(meeting)

	cancelled, err := env.meetings.Cancel(context.Background(), testSellerID, "m-1")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != models.MeetingCancelledBySeller {
		t.Errorf("expected cancelled_by_seller, got %s", cancelled.Status)
	}
}

func TestCompleteOnlyAfterStart(t *testing.T) {
	env := newTestEnv(t)
	meeting := pendingMeeting("m-1")
	meeting.Status = models.MeetingConfirmed
	env.store.put(meeting)
	start := localTime(t, meeting.Date, meeting.Time)
	ctx := context.Background()

	env.meetings.now = func() time.Time { return start.Add(-time.Minute) }
	var validation *ValidationError
	if _, err := env.meetings.Complete(ctx, testSellerID, "m-1"); !errors.As(err, &validation) {
		t.Fatalf("early complete: expected ValidationError, got %v", err)
	}

	env.meetings.now = func() time.Time { return start.Add(90 * time.Minute) }
	completed, err := env.meetings.Complete(ctx, testSellerID, "m-1")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if completed.Status != models.MeetingCompleted {
		t.Errorf("expected completed, got %s", completed.Status)
	}
}

func TestMarkNoShow(t *testing.T) {
	env := newTestEnv(t)
	meeting := pendingMeeting("m-1")
	meeting.Status = models.MeetingConfirmed
	env.store.put(meeting)
	env.meetings.now = func() time.Time { return localTime(t, meeting.Date, "12:00") }

	var forbidden *AuthorizationError
	if _, err := env.meetings.MarkNoShow(context.Background(), testBuyerID, "m-1"); !errors.As(err, &forbidden) {
		t.Fatalf("buyer no-show: expected AuthorizationError, got %v", err)
	}
	updated, err := env.meetings.MarkNoShow(context.Background(), testSellerID, "m-1")
	if err != nil {
		t.Fatalf("no-show: %v", err)
	}
	if updated.Status != models.MeetingNoShow {
		t.Errorf("expected no_show, got %s", updated.Status)
	}
}

func TestExpirePending(t *testing.T) {
	env := newTestEnv(t)
	past := pendingMeeting("m-past")
	past.Date = "2030-06-01"
	env.store.put(past)

	future := pendingMeeting("m-future")
	future.BuyerID = 3
	future.Date = "2030-06-10"
	env.store.put(future)

	confirmed := pendingMeeting("m-confirmed")
	confirmed.BuyerID = 4
	confirmed.Date = "2030-06-01"
	confirmed.Status = models.MeetingConfirmed
	env.store.put(confirmed)

	env.meetings.now = func() time.Time { return localTime(t, "2030-06-05", "00:00") }
	expired, err := env.meetings.ExpirePending(context.Background())
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if expired != 1 {
		t.Errorf("expected one expired meeting, got %d", expired)
	}
	if env.store.status("m-past") != models.MeetingExpired {
		t.Errorf("past meeting is %s", env.store.status("m-past"))
	}
	if env.store.status("m-future") != models.MeetingPending || env.store.status("m-confirmed") != models.MeetingConfirmed {
		t.Errorf("unexpected statuses %s / %s", env.store.status("m-future"), env.store.status("m-confirmed"))
	}
	if env.store.logs[0].Source != string(SourceExpiry) {
		t.Errorf("expected expiry source, got %s", env.store.logs[0].Source)
	}
}

func TestUpdatePendingMeeting(t *testing.T) {
	env := newTestEnv(t)
	env.connect(t, testBuyerID, "buyer-access", "")
	ctx := context.Background()
	created, err := env.meetings.Create(ctx, testBuyerID, createInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	newTime := "14:30"
	notes := "bring the keys"
	updated, err := env.meetings.Update(ctx, testBuyerID, created.ID, UpdateMeetingInput{Time: &newTime, Notes: &notes})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Time != "14:30" || updated.Notes == nil || *updated.Notes != notes {
		t.Errorf("unexpected update %+v", updated)
	}
	if len(env.provider.patches) != 1 || env.provider.patches[0].Start == nil {
		t.Fatalf("expected the event to be moved, got %+v", env.provider.patches)
	}
	if want := localTime(t, created.Date, "14:30"); !env.provider.patches[0].Start.Equal(want) {
		t.Errorf("event moved to %s, want %s", env.provider.patches[0].Start, want)
	}
	stored, _ := env.store.Get(ctx, created.ID)
	if stored.Time != "14:30" {
		t.Errorf("stored time %s", stored.Time)
	}
}

func TestUpdateRequiresPending(t *testing.T) {
	env := newTestEnv(t)
	meeting := pendingMeeting("m-1")
	meeting.Status = models.MeetingConfirmed
	env.store.put(meeting)

	newTime := "11:00"
	var conflict *ConflictError
	if _, err := env.meetings.Update(context.Background(), testBuyerID, "m-1", UpdateMeetingInput{Time: &newTime}); !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
}

func TestListForUserReconciles(t *testing.T) {
	env := newTestEnv(t)
	env.connect(t, testBuyerID, "buyer-access", "")
	env.provider.setEvent(ExternalEvent{ID: "evt-1", Status: EventConfirmed, Attendees: attendees(ResponseAccepted, ResponseAccepted)})
	meeting := pendingMeeting("m-1")
	meeting.ExternalEventID = eventID("evt-1")
	env.store.put(meeting)

	meetings, err := env.meetings.ListForUser(context.Background(), testSellerID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(meetings) != 1 || meetings[0].Status != models.MeetingConfirmed {
		t.Fatalf("expected one confirmed meeting, got %+v", meetings)
	}
}

func TestGetHidesOtherUsersMeetings(t *testing.T) {
	env := newTestEnv(t)
	env.store.put(pendingMeeting("m-1"))

	var forbidden *AuthorizationError
	if _, err := env.meetings.Get(context.Background(), 77, "m-1"); !errors.As(err, &forbidden) {
		t.Errorf("expected AuthorizationError, got %v", err)
	}
	var notFound *NotFoundError
	if _, err := env.meetings.Get(context.Background(), testBuyerID, "missing"); !errors.As(err, &notFound) {
		t.Errorf("expected NotFoundError, got %v", err)
	}
}
