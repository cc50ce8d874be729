package http_test

import (
	"context"
	"io"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/tazhibayda/notes-service/internal/account"
	"github.com/tazhibayda/notes-service/internal/domain"
	api "github.com/tazhibayda/notes-service/internal/http"
	"github.com/tazhibayda/notes-service/internal/repo"
	"github.com/tazhibayda/notes-service/internal/security"
)

const (
	testSecret   = "0123456789abcdef0123456789abcdef"
	testAudience = "client-id.apps.googleusercontent.com"
)

// memStore backs the account service, the auth gate and the notes handlers.
type memStore struct {
	mu        sync.Mutex
	users     map[primitive.ObjectID]domain.User
	providers map[string]domain.AuthProvider
	notes     map[primitive.ObjectID]domain.Note
	failNotes error
}

func newMemStore() *memStore {
	return &memStore{
		users:     map[primitive.ObjectID]domain.User{},
		providers: map[string]domain.AuthProvider{},
		notes:     map[primitive.ObjectID]domain.Note{},
	}
}

func (m *memStore) FindAuthProvider(_ context.Context, t, sub string) (*domain.AuthProvider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ap, ok := m.providers[t+"|"+sub]; ok {
		return &ap, nil
	}
	return nil, nil
}

func (m *memStore) FindUserByID(_ context.Context, id primitive.ObjectID) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		return &u, nil
	}
	return nil, nil
}

func (m *memStore) FindUserBySession(_ context.Context, id primitive.ObjectID, token string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok && token != "" && u.AuthToken == token {
		return &u, nil
	}
	return nil, nil
}

func (m *memStore) CreateUserWithProvider(_ context.Context, u *domain.User, ap *domain.AuthProvider) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := ap.Type + "|" + ap.UserIdentifier
	if _, ok := m.providers[k]; ok {
		return domain.ErrDuplicate
	}
	u.ID = primitive.NewObjectID()
	ap.ID = primitive.NewObjectID()
	ap.User = u.ID
	m.users[u.ID] = *u
	m.providers[k] = *ap
	return nil
}

func (m *memStore) SwapAuthToken(_ context.Context, id primitive.ObjectID, prev, token string, expiry time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok || u.AuthToken != prev {
		return domain.ErrStaleToken
	}
	u.AuthToken, u.AuthTokenExpiry = token, expiry
	m.users[id] = u
	return nil
}

func (m *memStore) CreateNote(_ context.Context, n *domain.Note) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNotes != nil {
		return m.failNotes
	}
	n.ID = primitive.NewObjectID()
	n.DateCreated = time.Now().UTC()
	n.DateModified = n.DateCreated
	m.notes[n.ID] = *n
	return nil
}

func (m *memStore) ListNotesByUser(_ context.Context, user primitive.ObjectID, _ repo.ListParams) ([]domain.Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNotes != nil {
		return nil, m.failNotes
	}
	out := []domain.Note{}
	for _, n := range m.notes {
		if n.User == user {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DateCreated.After(out[j].DateCreated) })
	return out, nil
}

func (m *memStore) FindNote(_ context.Context, id, user primitive.ObjectID) (*domain.Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, ok := m.notes[id]; ok && n.User == user {
		return &n, nil
	}
	return nil, nil
}

func (m *memStore) UpdateNoteText(_ context.Context, id, user primitive.ObjectID, text string) (*domain.Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notes[id]
	if !ok || n.User != user {
		return nil, domain.ErrNotFound
	}
	n.Text = text
	n.DateModified = time.Now().UTC()
	m.notes[id] = n
	return &n, nil
}

func (m *memStore) DeleteNote(_ context.Context, id, user primitive.ObjectID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notes[id]
	if !ok || n.User != user {
		return false, nil
	}
	delete(m.notes, id)
	return true, nil
}

// seedUser stores a user whose token expires at exp and returns it.
func (m *memStore) seedUser(token string, exp time.Time) domain.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := domain.User{ID: primitive.NewObjectID(), AuthToken: token, AuthTokenExpiry: exp, DateCreated: exp.Add(-time.Hour)}
	m.users[u.ID] = u
	return u
}

type fakeVerifier struct {
	info *domain.IdInfo
	err  error
	got  string
	aud  string
}

func (f *fakeVerifier) Provider() string { return domain.ProviderGoogle }

func (f *fakeVerifier) Verify(_ context.Context, raw, audience string) (*domain.IdInfo, error) {
	f.got, f.aud = raw, audience
	return f.info, f.err
}

type accountsFunc func(ctx context.Context, info *domain.IdInfo, providerType string) (*account.Link, error)

func (f accountsFunc) FindOrCreateUser(ctx context.Context, info *domain.IdInfo, providerType string) (*account.Link, error) {
	return f(ctx, info, providerType)
}

type published struct {
	exchange, key string
	event         any
	reqID         string
}

type recPub struct {
	mu   sync.Mutex
	msgs []published
}

func (p *recPub) Publish(_ context.Context, exchange, key string, event any, reqID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{exchange, key, event, reqID})
	return nil
}

func (p *recPub) Close() error { return nil }

func (p *recPub) keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.msgs))
	for _, m := range p.msgs {
		out = append(out, m.key)
	}
	sort.Strings(out)
	return out
}

type testEnv struct {
	Store    *memStore
	Verifier *fakeVerifier
	Pub      *recPub
	Handler  *api.Handler
	Now      time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	st := newMemStore()
	ver := &fakeVerifier{info: &domain.IdInfo{Iss: "accounts.google.com", Sub: "abc123", Aud: testAudience}}
	svc := account.NewService(st, time.Hour, account.WithClock(clock))

	h := api.NewHandler(ver, svc, st, st, testSecret, testAudience)
	h.Now = clock
	h.Logger = zap.NewNop()
	pub := &recPub{}
	h.Events = pub

	return &testEnv{Store: st, Verifier: ver, Pub: pub, Handler: h, Now: now}
}

func (e *testEnv) router() *gin.Engine { return api.NewRouter(e.Handler) }

func (e *testEnv) do(method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router().ServeHTTP(w, req)
	return w
}

// credential signs a session credential for u with the test secret.
func credential(t *testing.T, u domain.User) map[string]string {
	t.Helper()
	cred, err := security.SignSession(&u, testSecret)
	if err != nil {
		t.Fatal(err)
	}
	return map[string]string{"Authorization": cred}
}
