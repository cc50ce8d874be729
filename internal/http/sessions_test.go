package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/tazhibayda/notes-service/internal/account"
	"github.com/tazhibayda/notes-service/internal/domain"
	"github.com/tazhibayda/notes-service/internal/metrics"
	"github.com/tazhibayda/notes-service/internal/queue"
	"github.com/tazhibayda/notes-service/internal/security"
)

type sessionBody struct {
	ID        string    `json:"id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func login(t *testing.T, env *testEnv) sessionBody {
	t.Helper()
	w := env.do(http.MethodPost, "/sessions", "", map[string]string{"Authorization": "Bearer google-id-token"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var out sessionBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Equal(t, out.Token, w.Header().Get("Authorization"))
	return out
}

func TestCreateSession_NewUser(t *testing.T) {
	env := newTestEnv(t)
	created := testutil.ToFloat64(metrics.SessionsIssued.WithLabelValues(metrics.OutcomeCreated))

	s := login(t, env)

	assert.Equal(t, "google-id-token", env.Verifier.got)
	assert.Equal(t, testAudience, env.Verifier.aud)
	assert.Equal(t, env.Now.Add(time.Hour), s.ExpiresAt.UTC())

	claims, err := security.VerifySession(s.Token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, s.ID, claims.Subject)

	id, err := primitive.ObjectIDFromHex(s.ID)
	require.NoError(t, err)
	u, _ := env.Store.FindUserByID(context.Background(), id)
	require.NotNil(t, u)
	assert.Equal(t, u.AuthToken, claims.Token)

	ap, _ := env.Store.FindAuthProvider(context.Background(), domain.ProviderGoogle, "abc123")
	require.NotNil(t, ap)
	assert.Equal(t, id, ap.User)

	assert.Equal(t, created+1, testutil.ToFloat64(metrics.SessionsIssued.WithLabelValues(metrics.OutcomeCreated)))
	assert.Eventually(t, func() bool {
		keys := env.Pub.keys()
		return len(keys) == 2 && keys[0] == queue.KeySessionIssued && keys[1] == queue.KeyUserCreated
	}, time.Second, 10*time.Millisecond)
}

func TestCreateSession_SameUserWhileTokenValid(t *testing.T) {
	env := newTestEnv(t)

	first := login(t, env)
	second := login(t, env)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Token, second.Token)
	assert.Equal(t, first.ExpiresAt, second.ExpiresAt)
}

func TestCreateSession_RotatesExpiredToken(t *testing.T) {
	env := newTestEnv(t)
	first := login(t, env)

	id, _ := primitive.ObjectIDFromHex(first.ID)
	u, _ := env.Store.FindUserByID(context.Background(), id)
	require.NotNil(t, u)
	require.NoError(t, env.Store.SwapAuthToken(context.Background(), id, u.AuthToken, "stale", env.Now.Add(-time.Minute)))

	second := login(t, env)
	assert.Equal(t, first.ID, second.ID)
	assert.NotEqual(t, first.Token, second.Token)
	assert.True(t, second.ExpiresAt.After(env.Now))

	// the old credential no longer opens the gate
	w := env.do(http.MethodGet, "/users/me", "", map[string]string{"Authorization": first.Token})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = env.do(http.MethodGet, "/users/me", "", map[string]string{"Authorization": second.Token})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCreateSession_InvalidAssertion(t *testing.T) {
	env := newTestEnv(t)
	env.Verifier.err = errors.Join(domain.ErrInvalidAssertion, errors.New("bad signature"))
	env.Verifier.info = nil

	w := env.do(http.MethodPost, "/sessions", "", map[string]string{"Authorization": "forged"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, w.Header().Get("Authorization"))
	assert.Empty(t, env.Store.users)
}

func TestCreateSession_MissingAssertion(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(http.MethodPost, "/sessions", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, env.Verifier.got)
}

func TestCreateSession_DanglingProviderLink(t *testing.T) {
	env := newTestEnv(t)
	apID := primitive.NewObjectID()
	env.Store.providers[domain.ProviderGoogle+"|abc123"] = domain.AuthProvider{
		ID: apID, Type: domain.ProviderGoogle, UserIdentifier: "abc123", User: primitive.NewObjectID(),
	}
	core, logs := observer.New(zap.ErrorLevel)
	env.Handler.Logger = zap.New(core)
	before := testutil.ToFloat64(metrics.SessionFailures.WithLabelValues("dangling_provider"))

	w := env.do(http.MethodPost, "/sessions", "", map[string]string{"Authorization": "google-id-token"})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), apID.Hex())
	assert.Empty(t, w.Header().Get("Authorization"))
	assert.Empty(t, env.Store.users)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.SessionFailures.WithLabelValues("dangling_provider")))

	entries := logs.FilterMessage("request failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, apID.Hex(), entries[0].ContextMap()["auth_provider_id"])
}

func TestCreateSession_UnexpectedFault(t *testing.T) {
	env := newTestEnv(t)
	env.Handler.Accounts = accountsFunc(func(context.Context, *domain.IdInfo, string) (*account.Link, error) {
		return nil, errors.New("connection reset")
	})
	core, logs := observer.New(zap.ErrorLevel)
	env.Handler.Logger = zap.New(core)

	w := env.do(http.MethodPost, "/sessions", "", map[string]string{"Authorization": "google-id-token"})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"internal error"}`, w.Body.String())
	assert.Equal(t, 1, logs.FilterMessage("request failed").Len())
	assert.Empty(t, env.Pub.keys())
}

func TestCreateSession_VerifierOutage(t *testing.T) {
	env := newTestEnv(t)
	env.Verifier.info = nil
	env.Verifier.err = &url.Error{
		Op: "Get", URL: "https://www.googleapis.com/oauth2/v3/certs", Err: errors.New("dial tcp: connection refused"),
	}
	core, logs := observer.New(zap.ErrorLevel)
	env.Handler.Logger = zap.New(core)
	before := testutil.ToFloat64(metrics.SessionFailures.WithLabelValues("verifier"))

	w := env.do(http.MethodPost, "/sessions", "", map[string]string{"Authorization": "google-id-token"})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Empty(t, w.Header().Get("Authorization"))
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.SessionFailures.WithLabelValues("verifier")))
	assert.Equal(t, 1, logs.FilterMessage("request failed").Len())
	assert.Empty(t, env.Store.users)
}

func TestCreateSession_RateLimited(t *testing.T) {
	env := newTestEnv(t)
	lim := newMemoryLimiter(t, 2)
	env.Handler.Limiter = lim
	r := env.router()

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := serve(r, http.MethodPost, "/sessions", map[string]string{"Authorization": "google-id-token"})
		codes = append(codes, w.Code)
		if i == 2 {
			assert.NotEmpty(t, w.Header().Get("Retry-After"))
		}
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}
