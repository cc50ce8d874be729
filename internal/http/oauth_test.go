package http_test

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tazhibayda/notes-service/internal/domain"
)

type fakeCodeFlow struct {
	info *domain.IdInfo
	err  error
	code string
}

func (f *fakeCodeFlow) MakeState(raw string) string { return raw + ".sig" }
func (f *fakeCodeFlow) VerifyState(s string) bool   { return strings.HasSuffix(s, ".sig") }
func (f *fakeCodeFlow) AuthURL(state string) string { return "https://accounts.example/auth?state=" + url.QueryEscape(state) }
func (f *fakeCodeFlow) ExchangeAndVerify(_ context.Context, code string) (*domain.IdInfo, error) {
	f.code = code
	return f.info, f.err
}

func TestGoogleRoutesDisabledWithoutCodeFlow(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(http.MethodGet, "/sessions/google", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGoogleLogin_RedirectsWithStateCookie(t *testing.T) {
	env := newTestEnv(t)
	env.Handler.Google = &fakeCodeFlow{}

	w := env.do(http.MethodGet, "/sessions/google", "", nil)
	require.Equal(t, http.StatusFound, w.Code)

	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	state := loc.Query().Get("state")
	require.True(t, strings.HasSuffix(state, ".sig"))

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "oauth_state", cookies[0].Name)
	assert.Equal(t, state, cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)
}

func TestGoogleCallback_IssuesSession(t *testing.T) {
	env := newTestEnv(t)
	flow := &fakeCodeFlow{info: &domain.IdInfo{Sub: "abc123", Aud: testAudience}}
	env.Handler.Google = flow

	w := env.do(http.MethodGet, "/sessions/google/callback?state=raw.sig&code=c0de", "",
		map[string]string{"Cookie": "oauth_state=raw.sig"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "c0de", flow.code)
	assert.NotEmpty(t, w.Header().Get("Authorization"))
}

func TestGoogleCallback_Rejections(t *testing.T) {
	env := newTestEnv(t)
	flow := &fakeCodeFlow{info: &domain.IdInfo{Sub: "abc123"}}
	env.Handler.Google = flow

	w := env.do(http.MethodGet, "/sessions/google/callback?state=raw.sig&code=c", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "no cookie")

	w = env.do(http.MethodGet, "/sessions/google/callback?state=raw.bad&code=c", "",
		map[string]string{"Cookie": "oauth_state=raw.bad"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "unsigned state")

	w = env.do(http.MethodGet, "/sessions/google/callback?state=raw.sig", "",
		map[string]string{"Cookie": "oauth_state=raw.sig"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "no code")

	flow.info, flow.err = nil, errors.Join(domain.ErrInvalidAssertion, errors.New("aud mismatch"))
	w = env.do(http.MethodGet, "/sessions/google/callback?state=raw.sig&code=c", "",
		map[string]string{"Cookie": "oauth_state=raw.sig"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
