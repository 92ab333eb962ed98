package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"viewing-scheduler-server/models"

	"golang.org/x/oauth2"
)

const (
	testBuyerID   uint = 1
	testSellerID  uint = 2
	testListingID uint = 10
	testTimezone       = "Europe/Paris"
)

type memMeetingStore struct {
	mu        sync.Mutex
	meetings  map[string]models.Meeting
	logs      []models.MeetingStatusLog
	swaps     int
	createErr error
}

func newMemMeetingStore() *memMeetingStore {
	return &memMeetingStore{meetings: map[string]models.Meeting{}}
}

func (s *memMeetingStore) put(m models.Meeting) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meetings[m.ID] = m
}

func (s *memMeetingStore) status(id string) models.MeetingStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meetings[id].Status
}

func (s *memMeetingStore) Create(_ context.Context, m *models.Meeting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	for _, existing := range s.meetings {
		if existing.ListingID == m.ListingID && existing.BuyerID == m.BuyerID && existing.Status.IsActive() {
			return ErrActiveMeetingExists
		}
	}
	s.meetings[m.ID] = *m
	return nil
}

func (s *memMeetingStore) Get(_ context.Context, id string) (*models.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.meetings[id]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (s *memMeetingStore) find(match func(models.Meeting) bool) []models.Meeting {
	s.mu.Lock()
	defer s.mu.Unlock()
	found := []models.Meeting{}
	for _, m := range s.meetings {
		if match(m) {
			found = append(found, m)
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].ID < found[j].ID })
	return found
}

func (s *memMeetingStore) FindActive(_ context.Context, listingID, buyerID uint) (*models.Meeting, error) {
	found := s.find(func(m models.Meeting) bool {
		return m.ListingID == listingID && m.BuyerID == buyerID && m.Status.IsActive()
	})
	if len(found) == 0 {
		return nil, nil
	}
	return &found[0], nil
}

func (s *memMeetingStore) FindByExternalEventID(_ context.Context, eventID string) (*models.Meeting, error) {
	found := s.find(func(m models.Meeting) bool {
		return m.ExternalEventID != nil && *m.ExternalEventID == eventID
	})
	if len(found) == 0 {
		return nil, nil
	}
	return &found[0], nil
}

func (s *memMeetingStore) ListForUser(_ context.Context, userID uint) ([]models.Meeting, error) {
	return s.find(func(m models.Meeting) bool { return m.IsParticipant(userID) }), nil
}

func (s *memMeetingStore) ListActiveForListing(_ context.Context, listingID uint, date string) ([]models.Meeting, error) {
	return s.find(func(m models.Meeting) bool {
		return m.ListingID == listingID && m.Date == date && m.Status.IsActive()
	}), nil
}

func (s *memMeetingStore) ListByStatus(_ context.Context, statuses ...models.MeetingStatus) ([]models.Meeting, error) {
	return s.find(func(m models.Meeting) bool {
		for _, status := range statuses {
			if m.Status == status {
				return true
			}
		}
		return false
	}), nil
}

func (s *memMeetingStore) UpdateDetails(_ context.Context, m *models.Meeting, expected models.MeetingStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.meetings[m.ID]
	if !ok || stored.Status != expected {
		return false, nil
	}
	stored.Date, stored.Time, stored.Timezone, stored.Duration, stored.Notes = m.Date, m.Time, m.Timezone, m.Duration, m.Notes
	s.meetings[m.ID] = stored
	return true, nil
}

func (s *memMeetingStore) SwapStatus(_ context.Context, id string, from, to models.MeetingStatus, entry models.MeetingStatusLog) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.meetings[id]
	if !ok || stored.Status != from {
		return false, nil
	}
	stored.Status = to
	s.meetings[id] = stored
	s.logs = append(s.logs, entry)
	s.swaps++
	return true, nil
}

type memCredentialStore struct {
	mu     sync.Mutex
	nextID uint
	byUser map[uint]*models.UserCalendarCredential
}

func newMemCredentialStore() *memCredentialStore {
	return &memCredentialStore{byUser: map[uint]*models.UserCalendarCredential{}}
}

func (s *memCredentialStore) FindActiveByUser(_ context.Context, userID uint) (*models.UserCalendarCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byUser[userID]
	if !ok || !c.IsActive {
		return nil, nil
	}
	copied := *c
	return &copied, nil
}

func (s *memCredentialStore) FindByRefreshToken(_ context.Context, refreshToken string) (*models.UserCalendarCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.byUser {
		if c.Refresh() == refreshToken {
			copied := *c
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *memCredentialStore) Upsert(_ context.Context, c *models.UserCalendarCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.byUser[c.UserID]
	if !ok {
		s.nextID++
		copied := *c
		copied.ID = s.nextID
		s.byUser[c.UserID] = &copied
		return nil
	}
	existing.AccessToken = c.AccessToken
	existing.ExpiresAt = c.ExpiresAt
	existing.IsActive = true
	existing.CalendarID = c.CalendarID
	if c.RefreshToken != nil {
		existing.RefreshToken = c.RefreshToken
	}
	if c.Scope != nil {
		existing.Scope = c.Scope
	}
	if c.AccountEmail != "" {
		existing.AccountEmail = c.AccountEmail
	}
	return nil
}

func (s *memCredentialStore) UpdateAccessToken(_ context.Context, id uint, accessToken string, expiresAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.byUser {
		if c.ID == id {
			c.AccessToken = accessToken
			c.ExpiresAt = expiresAt
			return nil
		}
	}
	return errors.New("credential not found")
}

func (s *memCredentialStore) Deactivate(_ context.Context, id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.byUser {
		if c.ID == id {
			c.IsActive = false
		}
	}
	return nil
}

func (s *memCredentialStore) DeleteByUser(_ context.Context, userID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byUser, userID)
	return nil
}

type fakeDirectory struct {
	listings map[uint]*models.Property
	users    map[uint]*models.User
}

func newFakeDirectory() *fakeDirectory {
	listing := &models.Property{HostID: testSellerID, Title: "Garden flat", AddressLine1: "1 Rue Verte", City: "Paris"}
	listing.ID = testListingID
	buyer := &models.User{Email: "buyer@example.com", FirstName: "Bea"}
	buyer.ID = testBuyerID
	seller := &models.User{Email: "seller@example.com", FirstName: "Sam"}
	seller.ID = testSellerID
	return &fakeDirectory{
		listings: map[uint]*models.Property{testListingID: listing},
		users:    map[uint]*models.User{testBuyerID: buyer, testSellerID: seller},
	}
}

func (d *fakeDirectory) GetListing(_ context.Context, id uint) (*models.Property, error) {
	return d.listings[id], nil
}

func (d *fakeDirectory) GetUser(_ context.Context, id uint) (*models.User, error) {
	return d.users[id], nil
}

type fakeProvider struct {
	mu           sync.Mutex
	events       map[string]*ExternalEvent
	dayEvents    []ExternalEvent
	rejected     map[string]bool
	createErr    error
	getErr       error
	listErr      error
	created      int
	deleted      int
	patches      []EventPatch
	lastRequest  EventRequest
	accessTokens []string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{events: map[string]*ExternalEvent{}, rejected: map[string]bool{}}
}

func (p *fakeProvider) check(accessToken string) error {
	p.accessTokens = append(p.accessTokens, accessToken)
	if p.rejected[accessToken] {
		return fmt.Errorf("token %s: %w", accessToken, ErrProviderUnauthorized)
	}
	return nil
}

func (p *fakeProvider) setEvent(e ExternalEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events[e.ID] = &e
}

func (p *fakeProvider) CreateEvent(_ context.Context, accessToken, _ string, req EventRequest) (*ExternalEvent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(accessToken); err != nil {
		return nil, err
	}
	if p.createErr != nil {
		return nil, p.createErr
	}
	p.created++
	p.lastRequest = req
	event := &ExternalEvent{
		ID:          fmt.Sprintf("evt-%d", p.created),
		Status:      EventConfirmed,
		Start:       req.Start,
		End:         req.End,
		Attendees:   append([]Attendee(nil), req.Attendees...),
		MeetingLink: "https://meet.example.com/abc",
	}
	p.events[event.ID] = event
	copied := *event
	return &copied, nil
}

func (p *fakeProvider) GetEvent(_ context.Context, accessToken, _, eventID string) (*ExternalEvent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(accessToken); err != nil {
		return nil, err
	}
	if p.getErr != nil {
		return nil, p.getErr
	}
	event, ok := p.events[eventID]
	if !ok {
		return nil, nil
	}
	copied := *event
	copied.Attendees = append([]Attendee(nil), event.Attendees...)
	return &copied, nil
}

func (p *fakeProvider) PatchEvent(_ context.Context, accessToken, _, eventID string, patch EventPatch) (*ExternalEvent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(accessToken); err != nil {
		return nil, err
	}
	p.patches = append(p.patches, patch)
	event, ok := p.events[eventID]
	if !ok {
		return nil, errors.New("event not found")
	}
	if patch.Start != nil {
		event.Start = *patch.Start
	}
	if patch.End != nil {
		event.End = *patch.End
	}
	if patch.Attendees != nil {
		event.Attendees = patch.Attendees
	}
	copied := *event
	return &copied, nil
}

func (p *fakeProvider) DeleteEvent(_ context.Context, accessToken, _, eventID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(accessToken); err != nil {
		return err
	}
	p.deleted++
	delete(p.events, eventID)
	return nil
}

func (p *fakeProvider) ListEvents(_ context.Context, accessToken, _ string, _, _ time.Time) ([]ExternalEvent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(accessToken); err != nil {
		return nil, err
	}
	if p.listErr != nil {
		return nil, p.listErr
	}
	return append([]ExternalEvent(nil), p.dayEvents...), nil
}

func (p *fakeProvider) QueryFreeBusy(_ context.Context, accessToken, _ string, _, _ time.Time) ([]BusyPeriod, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(accessToken); err != nil {
		return nil, err
	}
	return blockingPeriods(p.dayEvents), nil
}

func (p *fakeProvider) WatchEvents(_ context.Context, accessToken string, channel WatchChannel) (*WatchChannel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(accessToken); err != nil {
		return nil, err
	}
	channel.ResourceID = "resource-1"
	return &channel, nil
}

type fakeRefresher struct {
	token string
	err   error
	calls int
}

func (r *fakeRefresher) Refresh(_ context.Context, _ string) (*oauth2.Token, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return &oauth2.Token{AccessToken: r.token, Expiry: time.Now().Add(time.Hour)}, nil
}

type memChannelStore struct {
	channels map[string]WatchChannel
	owners   map[string]uint
}

func newMemChannelStore() *memChannelStore {
	return &memChannelStore{channels: map[string]WatchChannel{}, owners: map[string]uint{}}
}

func (s *memChannelStore) SaveChannel(_ context.Context, userID uint, channel WatchChannel) error {
	s.channels[channel.ID] = channel
	s.owners[channel.ID] = userID
	return nil
}

func (s *memChannelStore) FindChannel(_ context.Context, channelID string) (*WatchChannel, uint, error) {
	channel, ok := s.channels[channelID]
	if !ok {
		return nil, 0, nil
	}
	return &channel, s.owners[channelID], nil
}

// testEnv wires every service over in-memory fakes.
type testEnv struct {
	store     *memMeetingStore
	creds     *memCredentialStore
	directory *fakeDirectory
	provider  *fakeProvider
	refresher *fakeRefresher
	channels  *memChannelStore
	tokens    *TokenManager
	machine   *StateMachine
	sync      *CalendarSync
	checker   *ConflictChecker
	meetings  *MeetingService
	webhooks  *WebhookService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		store:     newMemMeetingStore(),
		creds:     newMemCredentialStore(),
		directory: newFakeDirectory(),
		provider:  newFakeProvider(),
		refresher: &fakeRefresher{token: "refreshed-access"},
		channels:  newMemChannelStore(),
	}
	env.tokens = NewTokenManager(env.creds, env.refresher)
	env.machine = NewStateMachine(env.store)
	env.sync = NewCalendarSync(env.provider, env.tokens, env.machine, env.directory)
	env.checker = NewConflictChecker(env.store, env.tokens, env.provider)
	env.meetings = NewMeetingService(env.store, env.directory, env.checker, env.sync, env.machine, env.tokens, NewMemoryThrottle(0))
	env.webhooks = NewWebhookService(env.store, env.sync, env.machine, env.channels)
	return env
}

func (env *testEnv) connect(t *testing.T, userID uint, accessToken, refreshToken string) {
	t.Helper()
	scope, _ := json.Marshal([]string{"calendar.events"})
	refresh := refreshToken
	credential := &models.UserCalendarCredential{
		UserID:      userID,
		AccessToken: accessToken,
		IsActive:    true,
		Scope:       scope,
	}
	if refresh != "" {
		credential.RefreshToken = &refresh
	}
	if err := env.creds.Upsert(context.Background(), credential); err != nil {
		t.Fatalf("connect user %d: %v", userID, err)
	}
}

func eventID(id string) *string {
	return &id
}

func pendingMeeting(id string) models.Meeting {
	return models.Meeting{
		ID:        id,
		ListingID: testListingID,
		BuyerID:   testBuyerID,
		SellerID:  testSellerID,
		Date:      "2030-06-03",
		Time:      "10:00",
		Timezone:  testTimezone,
		Duration:  60,
		Status:    models.MeetingPending,
	}
}

func createInput() CreateMeetingInput {
	return CreateMeetingInput{
		ListingID: testListingID,
		Date:      "2030-06-03",
		Time:      "10:00",
		Duration:  60,
		Timezone:  testTimezone,
	}
}
