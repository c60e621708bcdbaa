package fhirclient

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// authenticator adds credentials to outgoing requests. For oauth mode the
// access token is inspected once so an expired token fails fast as an auth
// error instead of a round trip to the server.
type authenticator struct {
	mode      string
	token     string
	expiresAt time.Time
	now       func() time.Time
}

func newAuthenticator(mode, token string, logger zerolog.Logger) (*authenticator, error) {
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode == "" {
		mode = AuthNone
	}
	a := &authenticator{mode: mode, token: strings.TrimSpace(token), now: time.Now}

	switch mode {
	case AuthNone:
		return a, nil
	case AuthBearer, AuthOAuth:
		if a.token == "" {
			return nil, fmt.Errorf("auth type %q requires a token", mode)
		}
	default:
		return nil, fmt.Errorf("unsupported auth type %q (must be none, bearer or oauth)", mode)
	}

	if mode == AuthOAuth {
		claims := jwt.MapClaims{}
		if _, _, err := jwt.NewParser().ParseUnverified(a.token, claims); err != nil {
			logger.Debug().Err(err).Msg("oauth token is not a JWT; expiry will not be checked")
			return a, nil
		}
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			a.expiresAt = exp.Time
			logger.Info().Time("expires_at", a.expiresAt).Msg("oauth token loaded")
		}
	}
	return a, nil
}

// check fails with an auth error when a known token expiry has passed.
func (a *authenticator) check(rawURL string) error {
	if a.expiresAt.IsZero() || a.now().Before(a.expiresAt) {
		return nil
	}
	return &Error{
		Kind:    KindAuth,
		URL:     rawURL,
		Message: "Authentication failed. The access token has expired.",
	}
}

func (a *authenticator) apply(req *http.Request) {
	if a.mode == AuthNone {
		return
	}
	req.Header.Set("Authorization", "Bearer "+a.token)
}
