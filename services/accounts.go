package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"viewing-scheduler-server/models"

	"github.com/google/uuid"
	"github.com/kataras/golog"
	"golang.org/x/oauth2"
)

const watchChannelTTL = 7 * 24 * time.Hour

// ChannelStore remembers push channels so notifications can be matched to the user that opened them.
type ChannelStore interface {
	SaveChannel(ctx context.Context, userID uint, channel WatchChannel) error
	// FindChannel returns nil, 0, nil for an unknown channel.
	FindChannel(ctx context.Context, channelID string) (*WatchChannel, uint, error)
}

// OAuthFlow is the authorization code flow of the calendar provider.
type OAuthFlow interface {
	AuthURL(userID uint) (string, error)
	VerifyState(state string) (uint, error)
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	AccountEmail(token *oauth2.Token) (string, error)
}

type CalendarStatus struct {
	Connected    bool       `json:"connected"`
	AccountEmail string     `json:"accountEmail,omitempty"`
	CalendarID   string     `json:"calendarId,omitempty"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
	Scopes       []string   `json:"scopes,omitempty"`
}

// CalendarAccounts manages the link between a user and their external calendar.
type CalendarAccounts struct {
	oauth      OAuthFlow
	tokens     *TokenManager
	provider   CalendarProvider
	channels   ChannelStore
	webhookURL string
}

func NewCalendarAccounts(oauth OAuthFlow, tokens *TokenManager, provider CalendarProvider, channels ChannelStore, webhookURL string) *CalendarAccounts {
	return &CalendarAccounts{oauth: oauth, tokens: tokens, provider: provider, channels: channels, webhookURL: webhookURL}
}

func (a *CalendarAccounts) AuthURL(userID uint) (string, error) {
	return a.oauth.AuthURL(userID)
}

// Connect finishes the consent flow and stores the resulting credential for the user named by state.
func (a *CalendarAccounts) Connect(ctx context.Context, state, code string) (*models.UserCalendarCredential, error) {
	if code == "" {
		return nil, &ValidationError{Field: "code", Message: "is required"}
	}
	userID, err := a.oauth.VerifyState(state)
	if err != nil {
		return nil, err
	}

	token, err := a.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}

	email, err := a.oauth.AccountEmail(token)
	if err != nil {
		golog.Warnf("⚠️ could not read calendar account email for user %d: %v", userID, err)
	}

	in := StoreTokenInput{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		AccountEmail: email,
		CalendarID:   models.PrimaryCalendarID,
	}
	if !token.Expiry.IsZero() {
		expiry := token.Expiry
		in.ExpiresAt = &expiry
	}
	if scope, ok := token.Extra("scope").(string); ok && scope != "" {
		in.Scope = strings.Fields(scope)
	}
	return a.tokens.Store(ctx, userID, in)
}

func (a *CalendarAccounts) Status(ctx context.Context, userID uint) (CalendarStatus, error) {
	credential, err := a.tokens.GetToken(ctx, userID)
	if err != nil {
		return CalendarStatus{}, err
	}
	if credential == nil {
		return CalendarStatus{Connected: false}, nil
	}
	return CalendarStatus{
		Connected:    true,
		AccountEmail: credential.AccountEmail,
		CalendarID:   credential.Calendar(),
		ExpiresAt:    credential.ExpiresAt,
		Scopes:       credential.Scopes(),
	}, nil
}

func (a *CalendarAccounts) Disconnect(ctx context.Context, userID uint) error {
	if err := a.tokens.Revoke(ctx, userID); err != nil {
		return err
	}
	golog.Infof("🔌 calendar disconnected for user %d", userID)
	return nil
}

// Watch opens a push channel on the user's calendar pointing at the webhook endpoint.
func (a *CalendarAccounts) Watch(ctx context.Context, userID uint) (*WatchChannel, error) {
	if a.webhookURL == "" {
		return nil, &ValidationError{Field: "webhook", Message: "calendar webhook url is not configured"}
	}
	credential, err := a.tokens.GetToken(ctx, userID)
	if err != nil {
		return nil, err
	}
	if credential == nil {
		return nil, &NotFoundError{Resource: "calendar credential for user", ID: fmt.Sprint(userID)}
	}

	request := WatchChannel{
		ID:         uuid.NewString(),
		Token:      uuid.NewString(),
		Address:    a.webhookURL,
		CalendarID: credential.Calendar(),
		Expiration: time.Now().Add(watchChannelTTL),
	}
	var channel *WatchChannel
	err = a.tokens.WithCredential(ctx, credential, func(ctx context.Context, accessToken string) error {
		var err error
		channel, err = a.provider.WatchEvents(ctx, accessToken, request)
		return err
	})
	if err != nil {
		return nil, providerError("watch events", err)
	}

	if a.channels != nil {
		if err := a.channels.SaveChannel(ctx, userID, *channel); err != nil {
			golog.Errorf("❌ watch channel %s for user %d not saved: %v", channel.ID, userID, err)
		}
	}
	golog.Infof("👀 watching calendar %s for user %d on channel %s", channel.CalendarID, userID, channel.ID)
	return channel, nil
}
