// Package account links verified external identities to internal users and
// owns session token issuance and rotation.
package account

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/tazhibayda/notes-service/internal/domain"
	"github.com/tazhibayda/notes-service/internal/log"
	"github.com/tazhibayda/notes-service/internal/security"
)

const DefaultTokenTTL = time.Hour

type Store interface {
	FindAuthProvider(ctx context.Context, providerType, subject string) (*domain.AuthProvider, error)
	FindUserByID(ctx context.Context, id primitive.ObjectID) (*domain.User, error)
	CreateUserWithProvider(ctx context.Context, u *domain.User, ap *domain.AuthProvider) error
	SwapAuthToken(ctx context.Context, id primitive.ObjectID, prev, token string, expiry time.Time) error
}

// DanglingAuthProviderError means a provider link points at a user that does
// not exist. It is an integrity violation, never repaired implicitly.
type DanglingAuthProviderError struct {
	AuthProviderID string
}

func (e *DanglingAuthProviderError) Error() string {
	return fmt.Sprintf("failed to find a user for the provided auth provider (auth provider id: %q)", e.AuthProviderID)
}

// Link is the outcome of FindOrCreateUser.
type Link struct {
	User     *domain.User
	Provider *domain.AuthProvider
	Created  bool
	Rotated  bool
}

type Service struct {
	store    Store
	ttl      time.Duration
	logger   *zap.Logger
	now      func() time.Time
	newToken func() (string, error)
}

type Option func(*Service)

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func WithTokenSource(fn func() (string, error)) Option { return func(s *Service) { s.newToken = fn } }

func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.logger = l } }

func NewService(store Store, ttl time.Duration, opts ...Option) *Service {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	s := &Service{
		store:    store,
		ttl:      ttl,
		logger:   log.L(),
		now:      time.Now,
		newToken: security.NewOpaqueToken,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) clock() time.Time { return s.now().UTC().Truncate(time.Millisecond) }

// FindOrCreateUser resolves the user behind a verified identity, creating the
// user and its provider link on first sight and rotating an expired token.
func (s *Service) FindOrCreateUser(ctx context.Context, info *domain.IdInfo, providerType string) (*Link, error) {
	if info == nil || info.Sub == "" {
		return nil, errors.New("account: identity without subject")
	}

	ap, err := s.store.FindAuthProvider(ctx, providerType, info.Sub)
	if err != nil {
		return nil, err
	}

	link := &Link{Provider: ap}
	if ap == nil {
		link, err = s.create(ctx, info, providerType)
		if err != nil {
			return nil, err
		}
	} else {
		if link.User, err = s.userFor(ctx, ap); err != nil {
			return nil, err
		}
	}

	if link.User.TokenExpired(s.clock()) {
		if err := s.RotateToken(ctx, link.User); err != nil {
			return nil, err
		}
		link.Rotated = true
	}
	return link, nil
}

func (s *Service) create(ctx context.Context, info *domain.IdInfo, providerType string) (*Link, error) {
	tok, err := s.newToken()
	if err != nil {
		return nil, errors.Wrap(err, "generate auth token")
	}
	now := s.clock()
	u := &domain.User{
		AuthToken:       tok,
		AuthTokenExpiry: now.Add(s.ttl),
		DateCreated:     now,
	}
	ap := &domain.AuthProvider{
		Type:           providerType,
		UserIdentifier: info.Sub,
		DateCreated:    now,
	}

	err = s.store.CreateUserWithProvider(ctx, u, ap)
	if err == nil {
		s.logger.Info("user created",
			zap.String("user_id", u.ID.Hex()),
			zap.String("auth_provider_id", ap.ID.Hex()),
			zap.String("provider", providerType),
			zap.String("subject_fp", security.Fingerprint(info.Sub)),
		)
		return &Link{User: u, Provider: ap, Created: true}, nil
	}
	if !errors.Is(err, domain.ErrDuplicate) {
		if !u.ID.IsZero() {
			s.logger.Error("provider link insert failed after user insert",
				zap.String("orphan_user_id", u.ID.Hex()), zap.Error(err))
		}
		return nil, err
	}

	// a concurrent login created the link first; continue with its user.
	// u.ID is only set here without transactions, the store clears it on abort.
	if !u.ID.IsZero() {
		s.logger.Warn("lost provider link race, user left unlinked",
			zap.String("orphan_user_id", u.ID.Hex()), zap.String("provider", providerType))
	}
	winner, err := s.store.FindAuthProvider(ctx, providerType, info.Sub)
	if err != nil {
		return nil, err
	}
	if winner == nil {
		return nil, errors.Errorf("account: provider link %s/%s vanished after duplicate insert", providerType, security.Fingerprint(info.Sub))
	}
	user, err := s.userFor(ctx, winner)
	if err != nil {
		return nil, err
	}
	return &Link{User: user, Provider: winner}, nil
}

func (s *Service) userFor(ctx context.Context, ap *domain.AuthProvider) (*domain.User, error) {
	u, err := s.store.FindUserByID(ctx, ap.User)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, errors.WithStack(&DanglingAuthProviderError{AuthProviderID: ap.ID.Hex()})
	}
	return u, nil
}

const maxRotateAttempts = 3

// RotateToken issues a fresh opaque token with a new expiry, persists it and
// updates u in place. The new expiry is always later than the previous one.
// The write only lands while the stored token is still u's; when a concurrent
// login rotated first, u takes that login's token instead.
func (s *Service) RotateToken(ctx context.Context, u *domain.User) error {
	for attempt := 1; ; attempt++ {
		tok, exp, err := s.nextToken(u)
		if err != nil {
			return err
		}
		err = s.store.SwapAuthToken(ctx, u.ID, u.AuthToken, tok, exp)
		if err == nil {
			u.AuthToken = tok
			u.AuthTokenExpiry = exp
			s.logger.Debug("auth token rotated", zap.String("user_id", u.ID.Hex()))
			return nil
		}
		if !errors.Is(err, domain.ErrStaleToken) || attempt == maxRotateAttempts {
			return err
		}

		cur, err := s.store.FindUserByID(ctx, u.ID)
		if err != nil {
			return err
		}
		if cur == nil {
			return errors.Wrapf(domain.ErrNotFound, "user %s", u.ID.Hex())
		}
		*u = *cur
		if !u.TokenExpired(s.clock()) {
			s.logger.Debug("auth token rotated by concurrent login", zap.String("user_id", u.ID.Hex()))
			return nil
		}
	}
}

func (s *Service) nextToken(u *domain.User) (string, time.Time, error) {
	tok, err := s.newToken()
	if err != nil {
		return "", time.Time{}, errors.Wrap(err, "generate auth token")
	}
	for tok == u.AuthToken {
		if tok, err = s.newToken(); err != nil {
			return "", time.Time{}, errors.Wrap(err, "generate auth token")
		}
	}
	exp := s.clock().Add(s.ttl)
	if !exp.After(u.AuthTokenExpiry) {
		exp = u.AuthTokenExpiry.Add(time.Millisecond)
	}
	return tok, exp, nil
}
