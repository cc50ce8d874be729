package oauth

import (
	"context"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/api/idtoken"

	"github.com/tazhibayda/notes-service/internal/domain"
)

// IdentityVerifier verifies a third-party identity assertion for audience.
type IdentityVerifier interface {
	Verify(ctx context.Context, rawAssertion, audience string) (*domain.IdInfo, error)
	Provider() string
}

type payloadValidator interface {
	Validate(ctx context.Context, idToken, audience string) (*idtoken.Payload, error)
}

var googleIssuers = map[string]struct{}{
	"accounts.google.com":         {},
	"https://accounts.google.com": {},
}

const clockSkew = 60 * time.Second

// GoogleVerifier checks Google ID tokens: signature over Google's published
// certs, audience and expiry via idtoken, then issuer and issued-at here.
type GoogleVerifier struct {
	validator payloadValidator
	now       func() time.Time
}

func NewGoogleVerifier(ctx context.Context) (*GoogleVerifier, error) {
	v, err := idtoken.NewValidator(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "idtoken validator")
	}
	return &GoogleVerifier{validator: v, now: time.Now}, nil
}

func (g *GoogleVerifier) Provider() string { return domain.ProviderGoogle }

func (g *GoogleVerifier) Verify(ctx context.Context, rawAssertion, audience string) (*domain.IdInfo, error) {
	if rawAssertion == "" {
		return nil, errors.Wrap(domain.ErrInvalidAssertion, "empty id token")
	}
	if audience == "" {
		// idtoken skips the aud check for an empty audience
		return nil, errors.New("google verifier: audience is not configured")
	}
	p, err := g.validator.Validate(ctx, rawAssertion, audience)
	if err != nil {
		return nil, assertionError(err, "validate id token")
	}
	if _, ok := googleIssuers[p.Issuer]; !ok {
		return nil, errors.Wrapf(domain.ErrInvalidAssertion, "bad iss %q", p.Issuer)
	}
	if p.Audience != audience {
		return nil, errors.Wrap(domain.ErrInvalidAssertion, "bad aud")
	}
	now := g.now()
	if p.IssuedAt > now.Add(clockSkew).Unix() {
		return nil, errors.Wrap(domain.ErrInvalidAssertion, "iat in the future")
	}
	if p.Expires <= now.Unix() {
		return nil, errors.Wrap(domain.ErrInvalidAssertion, "token expired")
	}
	if p.Subject == "" {
		return nil, errors.Wrap(domain.ErrInvalidAssertion, "missing sub")
	}
	return &domain.IdInfo{
		Iss: p.Issuer,
		Sub: p.Subject,
		Aud: p.Audience,
		Iat: p.IssuedAt,
		Exp: p.Expires,
	}, nil
}

// assertionError marks err as a rejected assertion unless it came from
// talking to Google rather than from the token itself.
func assertionError(err error, msg string) error {
	if unreachable(err) {
		return errors.Wrap(err, msg)
	}
	return errors.Wrap(domain.ErrInvalidAssertion, msg+": "+err.Error())
}

// unreachable reports transport failures, cancellations and non-200 answers
// from the cert endpoint.
func unreachable(err error) bool {
	var urlErr *url.Error
	var netErr net.Error
	switch {
	case errors.As(err, &urlErr), errors.As(err, &netErr):
		return true
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return true
	}
	return strings.Contains(err.Error(), "unable to retrieve cert")
}
