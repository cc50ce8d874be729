package oauth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/oauth2"
	ggoogle "golang.org/x/oauth2/google"

	"github.com/tazhibayda/notes-service/internal/domain"
)

type codeExchanger interface {
	AuthCodeURL(state string, opts ...oauth2.AuthCodeOption) string
	Exchange(ctx context.Context, code string, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error)
}

// GoogleOAuth drives the server-side consent flow. The id_token returned by
// the code exchange goes through the same IdentityVerifier as direct sign-in.
type GoogleOAuth struct {
	cfg      codeExchanger
	clientID string
	stateKey []byte
	verifier IdentityVerifier
}

func NewGoogle(clientID, clientSecret, redirectURI, stateSecret string, verifier IdentityVerifier) *GoogleOAuth {
	return &GoogleOAuth{
		cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURI,
			Scopes:       []string{"openid"},
			Endpoint:     ggoogle.Endpoint,
		},
		clientID: clientID,
		stateKey: []byte(stateSecret),
		verifier: verifier,
	}
}

// MakeState signs raw with HMAC-SHA256 for CSRF protection.
func (g *GoogleOAuth) MakeState(raw string) string {
	mac := hmac.New(sha256.New, g.stateKey)
	mac.Write([]byte(raw))
	return raw + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func (g *GoogleOAuth) VerifyState(got string) bool {
	i := strings.LastIndexByte(got, '.')
	if i <= 0 {
		return false
	}
	sig, err := base64.RawURLEncoding.DecodeString(got[i+1:])
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, g.stateKey)
	mac.Write([]byte(got[:i]))
	return hmac.Equal(mac.Sum(nil), sig)
}

func (g *GoogleOAuth) AuthURL(state string) string {
	return g.cfg.AuthCodeURL(state)
}

// ExchangeAndVerify trades an authorization code for tokens and verifies the id_token.
func (g *GoogleOAuth) ExchangeAndVerify(ctx context.Context, code string) (*domain.IdInfo, error) {
	tok, err := g.cfg.Exchange(ctx, code)
	if err != nil {
		// Google answered and refused the code; anything else is an outage.
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && (re.Response == nil || re.Response.StatusCode < 500) {
			return nil, errors.Wrap(domain.ErrInvalidAssertion, "code exchange: "+err.Error())
		}
		return nil, errors.Wrap(err, "code exchange")
	}
	raw, ok := tok.Extra("id_token").(string)
	if !ok || raw == "" {
		return nil, errors.Wrap(domain.ErrInvalidAssertion, "no id_token")
	}
	return g.verifier.Verify(ctx, raw, g.clientID)
}
