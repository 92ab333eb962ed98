package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
)

const (
	oauthStateTTL      = 10 * time.Minute
	googleJWKSEndpoint = "https://www.googleapis.com/oauth2/v3/certs"
)

var (
	googleScopes  = []string{calendar.CalendarEventsScope, calendar.CalendarReadonlyScope, "openid", "email"}
	googleIssuers = []string{"accounts.google.com", "https://accounts.google.com"}
)

type GoogleOAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	StateSecret  string
	JWKSURL      string
	Timeout      time.Duration
	// Endpoint overrides Google's OAuth endpoints, used by tests.
	Endpoint *oauth2.Endpoint
}

// GoogleOAuth runs the authorization code flow and refreshes tokens. It implements TokenRefresher.
type GoogleOAuth struct {
	config      *oauth2.Config
	stateSecret []byte
	jwksURL     string
	client      *http.Client

	jwksMu sync.Mutex
	jwks   *keyfunc.JWKS
}

func NewGoogleOAuth(cfg GoogleOAuthConfig) *GoogleOAuth {
	endpoint := google.Endpoint
	if cfg.Endpoint != nil {
		endpoint = *cfg.Endpoint
	}
	jwksURL := cfg.JWKSURL
	if jwksURL == "" {
		jwksURL = googleJWKSEndpoint
	}
	return &GoogleOAuth{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       googleScopes,
		},
		stateSecret: []byte(cfg.StateSecret),
		jwksURL:     jwksURL,
		client:      &http.Client{Timeout: cfg.Timeout},
	}
}

type oauthState struct {
	UserID uint `json:"uid"`
	jwt.RegisteredClaims
}

// AuthURL returns the consent page URL. The state parameter is a short-lived signed token naming userID.
func (o *GoogleOAuth) AuthURL(userID uint) (string, error) {
	now := time.Now()
	state, err := jwt.NewWithClaims(jwt.SigningMethodHS256, oauthState{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(oauthStateTTL)),
		},
	}).SignedString(o.stateSecret)
	if err != nil {
		return "", fmt.Errorf("sign oauth state: %w", err)
	}
	return o.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce), nil
}

// VerifyState returns the user the state was issued for.
func (o *GoogleOAuth) VerifyState(state string) (uint, error) {
	claims := &oauthState{}
	_, err := jwt.ParseWithClaims(state, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return o.stateSecret, nil
	})
	if err != nil || claims.UserID == 0 {
		return 0, &ValidationError{Field: "state", Message: "invalid or expired oauth state"}
	}
	return claims.UserID, nil
}

func (o *GoogleOAuth) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	token, err := o.config.Exchange(o.httpContext(ctx), code)
	if err != nil {
		return nil, &ExternalProviderError{Op: "oauth exchange", Err: err}
	}
	return token, nil
}

func (o *GoogleOAuth) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	source := o.config.TokenSource(o.httpContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	return source.Token()
}

// AccountEmail reads the verified email from the id_token returned with token.
func (o *GoogleOAuth) AccountEmail(token *oauth2.Token) (string, error) {
	raw, ok := token.Extra("id_token").(string)
	if !ok || raw == "" {
		return "", errors.New("token response has no id_token")
	}
	jwks, err := o.keys()
	if err != nil {
		return "", err
	}

	parsed, err := jwt.Parse(raw, jwks.Keyfunc)
	if err != nil {
		return "", fmt.Errorf("invalid id_token: %w", err)
	}
	if !parsed.Valid {
		return "", errors.New("invalid id_token")
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("unexpected id_token claims")
	}
	if !claims.VerifyAudience(o.config.ClientID, true) {
		return "", errors.New("id_token audience mismatch")
	}
	issuerOK := false
	for _, iss := range googleIssuers {
		if claims.VerifyIssuer(iss, true) {
			issuerOK = true
			break
		}
	}
	if !issuerOK {
		return "", errors.New("id_token issuer mismatch")
	}

	email, _ := claims["email"].(string)
	return email, nil
}

// keys loads the JWKS once; keyfunc refreshes it in the background afterwards.
func (o *GoogleOAuth) keys() (*keyfunc.JWKS, error) {
	o.jwksMu.Lock()
	defer o.jwksMu.Unlock()
	if o.jwks != nil {
		return o.jwks, nil
	}
	jwks, err := keyfunc.Get(o.jwksURL, keyfunc.Options{
		Client:            o.client,
		RefreshInterval:   time.Hour,
		RefreshUnknownKID: true,
		RefreshTimeout:    o.client.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("load google signing keys: %w", err)
	}
	o.jwks = jwks
	return jwks, nil
}

func (o *GoogleOAuth) httpContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, o.client)
}
