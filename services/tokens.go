package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"viewing-scheduler-server/models"

	"github.com/kataras/golog"
	"golang.org/x/oauth2"
	"gorm.io/datatypes"
)

// TokenRefresher exchanges a refresh token for a new access token.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// CalendarOperation is one outbound provider call made with the given access token.
type CalendarOperation func(ctx context.Context, accessToken string) error

// TokenManager owns stored calendar credentials and is the only way outbound calls get a token.
type TokenManager struct {
	store     CredentialStore
	refresher TokenRefresher
}

func NewTokenManager(store CredentialStore, refresher TokenRefresher) *TokenManager {
	return &TokenManager{store: store, refresher: refresher}
}

// GetToken returns the user's active credential, or nil when the user never connected a calendar.
func (m *TokenManager) GetToken(ctx context.Context, userID uint) (*models.UserCalendarCredential, error) {
	return m.store.FindActiveByUser(ctx, userID)
}

type StoreTokenInput struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
	Scope        []string
	CalendarID   string
	AccountEmail string
}

// Store upserts the user's credential and marks it active. An empty refresh token keeps the stored one.
func (m *TokenManager) Store(ctx context.Context, userID uint, in StoreTokenInput) (*models.UserCalendarCredential, error) {
	if strings.TrimSpace(in.AccessToken) == "" {
		return nil, &ValidationError{Field: "accessToken", Message: "is required"}
	}

	credential := &models.UserCalendarCredential{
		UserID:       userID,
		AccessToken:  in.AccessToken,
		ExpiresAt:    in.ExpiresAt,
		IsActive:     true,
		AccountEmail: in.AccountEmail,
	}
	if in.RefreshToken != "" {
		refresh := in.RefreshToken
		credential.RefreshToken = &refresh
	}
	if in.CalendarID != "" {
		calendarID := in.CalendarID
		credential.CalendarID = &calendarID
	}
	if in.Scope != nil {
		raw, err := json.Marshal(in.Scope)
		if err != nil {
			return nil, err
		}
		credential.Scope = datatypes.JSON(raw)
	}

	if err := m.store.Upsert(ctx, credential); err != nil {
		return nil, err
	}
	golog.Infof("🔑 stored calendar credential for user %d", userID)
	return m.store.FindActiveByUser(ctx, userID)
}

// Revoke physically removes the user's credential.
func (m *TokenManager) Revoke(ctx context.Context, userID uint) error {
	return m.store.DeleteByUser(ctx, userID)
}

// ExecuteWithRefresh runs op with accessToken. When the provider rejects the token and a refresh
// token is available, it refreshes once, persists the new token and retries op exactly once.
func (m *TokenManager) ExecuteWithRefresh(ctx context.Context, accessToken, refreshToken string, op CalendarOperation) error {
	err := op(ctx, accessToken)
	if err == nil || !errors.Is(err, ErrProviderUnauthorized) || refreshToken == "" {
		return err
	}

	token, refreshErr := m.refresher.Refresh(ctx, refreshToken)
	if refreshErr == nil && (token == nil || token.AccessToken == "") {
		refreshErr = errors.New("refresh returned no access token")
	}
	if refreshErr != nil {
		golog.Warnf("🔒 calendar token refresh failed: %v", refreshErr)
		m.deactivate(ctx, refreshToken)
		return &ExternalAuthExpiredError{Err: err}
	}

	m.persistRefreshed(ctx, refreshToken, token)
	return op(ctx, token.AccessToken)
}

// WithCredential runs op through ExecuteWithRefresh using a stored credential.
func (m *TokenManager) WithCredential(ctx context.Context, credential *models.UserCalendarCredential, op CalendarOperation) error {
	return m.ExecuteWithRefresh(ctx, credential.AccessToken, credential.Refresh(), op)
}

func (m *TokenManager) persistRefreshed(ctx context.Context, refreshToken string, token *oauth2.Token) {
	owner, err := m.store.FindByRefreshToken(ctx, refreshToken)
	if err != nil {
		golog.Errorf("❌ lookup of refreshed credential failed: %v", err)
		return
	}
	if owner == nil {
		// request-supplied token that was never stored
		return
	}

	var expiresAt *time.Time
	if !token.Expiry.IsZero() {
		expiry := token.Expiry
		expiresAt = &expiry
	}
	if err := m.store.UpdateAccessToken(ctx, owner.ID, token.AccessToken, expiresAt); err != nil {
		golog.Errorf("❌ persisting refreshed token for user %d failed: %v", owner.UserID, err)
		return
	}
	golog.Debugf("🔄 refreshed calendar token for user %d", owner.UserID)
}

func (m *TokenManager) deactivate(ctx context.Context, refreshToken string) {
	owner, err := m.store.FindByRefreshToken(ctx, refreshToken)
	if err != nil || owner == nil {
		return
	}
	if err := m.store.Deactivate(ctx, owner.ID); err != nil {
		golog.Errorf("❌ deactivating credential for user %d failed: %v", owner.UserID, err)
		return
	}
	golog.Warnf("⚠️ calendar credential for user %d deactivated, reauthorization required", owner.UserID)
}
