package security

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"

	"github.com/tazhibayda/notes-service/internal/domain"
)

// SessionClaims binds a user id (sub) to the user's current opaque token.
// There is no exp claim: expiry lives on the stored user and is checked on
// every request.
type SessionClaims struct {
	Token string `json:"token"`
	jwt.RegisteredClaims
}

func SignSession(u *domain.User, secret string) (string, error) {
	c := SessionClaims{
		Token: u.AuthToken,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: u.ID.Hex(),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return t.SignedString([]byte(secret))
}

// VerifySession checks the MAC and returns the embedded subject and token.
// Existence and expiry are the caller's concern.
func VerifySession(credential, secret string) (*SessionClaims, error) {
	t, err := jwt.ParseWithClaims(credential, &SessionClaims{}, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, errors.Wrap(domain.ErrInvalidSignature, err.Error())
	}
	c, ok := t.Claims.(*SessionClaims)
	if !ok || !t.Valid || c.Subject == "" || c.Token == "" {
		return nil, errors.WithStack(domain.ErrInvalidSignature)
	}
	return c, nil
}
