package utils

import (
	"time"

	"github.com/kataras/iris/v12"
	"github.com/kataras/iris/v12/middleware/jwt"
)

type AccessToken struct {
	ID   uint   `json:"ID"`
	Role string `json:"role"`
}

// NewAccessTokenVerifier returns the middleware that requires a valid HS256 access token.
func NewAccessTokenVerifier(secret string) iris.Handler {
	verifier := jwt.NewVerifier(jwt.HS256, []byte(secret))
	verifier.WithDefaultBlocklist()
	return verifier.Verify(func() interface{} {
		return new(AccessToken)
	})
}

// SignAccessToken issues an access token for id. A zero ttl never expires.
func SignAccessToken(secret string, id uint, role string, ttl time.Duration) (string, error) {
	signer := jwt.NewSigner(jwt.HS256, []byte(secret), ttl)
	token, err := signer.Sign(AccessToken{ID: id, Role: role})
	if err != nil {
		return "", err
	}
	return string(token), nil
}
