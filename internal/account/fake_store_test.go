package account

import (
	"context"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/tazhibayda/notes-service/internal/domain"
)

type memStore struct {
	mu        sync.Mutex
	users     map[primitive.ObjectID]*domain.User
	providers map[string]*domain.AuthProvider
	writes    int

	// raceWinner, when set, is inserted just before the next create to
	// simulate a concurrent login finishing first.
	raceWinner *domain.User
	// atomic mirrors the transactional store: a failed create leaves no
	// user behind and clears u.ID.
	atomic bool
}

func newMemStore() *memStore {
	return &memStore{
		users:     map[primitive.ObjectID]*domain.User{},
		providers: map[string]*domain.AuthProvider{},
	}
}

func key(t, sub string) string { return t + "|" + sub }

func (m *memStore) FindAuthProvider(_ context.Context, providerType, subject string) (*domain.AuthProvider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ap, ok := m.providers[key(providerType, subject)]; ok {
		cp := *ap
		return &cp, nil
	}
	return nil, nil
}

func (m *memStore) FindUserByID(_ context.Context, id primitive.ObjectID) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (m *memStore) CreateUserWithProvider(_ context.Context, u *domain.User, ap *domain.AuthProvider) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.raceWinner != nil {
		w := m.raceWinner
		m.raceWinner = nil
		w.ID = primitive.NewObjectID()
		m.users[w.ID] = w
		m.providers[key(ap.Type, ap.UserIdentifier)] = &domain.AuthProvider{
			ID: primitive.NewObjectID(), Type: ap.Type, UserIdentifier: ap.UserIdentifier, User: w.ID,
		}
	}

	u.ID = primitive.NewObjectID()
	cu := *u
	m.users[u.ID] = &cu
	m.writes++
	if _, ok := m.providers[key(ap.Type, ap.UserIdentifier)]; ok {
		if m.atomic {
			delete(m.users, u.ID)
			m.writes--
			u.ID = primitive.NilObjectID
		}
		return domain.ErrDuplicate
	}
	ap.ID = primitive.NewObjectID()
	ap.User = u.ID
	cp := *ap
	m.providers[key(ap.Type, ap.UserIdentifier)] = &cp
	m.writes++
	return nil
}

func (m *memStore) SwapAuthToken(_ context.Context, id primitive.ObjectID, prev, token string, expiry time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok || u.AuthToken != prev {
		return domain.ErrStaleToken
	}
	u.AuthToken = token
	u.AuthTokenExpiry = expiry
	m.writes++
	return nil
}

// addDangling links subject to a user id that has no document.
func (m *memStore) addDangling(providerType, subject string) *domain.AuthProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	ap := &domain.AuthProvider{
		ID: primitive.NewObjectID(), Type: providerType, UserIdentifier: subject, User: primitive.NewObjectID(),
	}
	m.providers[key(providerType, subject)] = ap
	return ap
}
