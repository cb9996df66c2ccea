package service

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jobportal/internal/model"
	"github.com/jobportal/internal/repository"
	"github.com/jobportal/internal/secret"
	"github.com/jobportal/internal/token"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	testSigningKey    = []byte("signing-key-signing-key-signing-k")
	testEncryptionKey = []byte("encryption-key-encryption-key-enc")
	testPolicy        = Policy{RefreshWindow: time.Hour, HardExpiration: 5 * time.Hour}
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// memSessions is an in-memory SessionStore with the same semantics as the SQL repository.
type memSessions struct {
	mu      sync.Mutex
	rows    map[string]model.Session
	now     func() time.Time
	touches int
	deletes int
}

func newMemSessions(now func() time.Time) *memSessions {
	return &memSessions{rows: make(map[string]model.Session), now: now}
}

func (s *memSessions) Create(_ context.Context, sess *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	sess.CreatedAt, sess.UpdatedAt = now, now
	s.rows[sess.ID] = *sess
	return nil
}

func (s *memSessions) FindByID(_ context.Context, id string) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &row, nil
}

func (s *memSessions) FindReusable(_ context.Context, userID string, window time.Duration) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cut := s.now().Add(-window)
	var best *model.Session
	for _, row := range s.rows {
		if row.UserID != userID || !row.UpdatedAt.After(cut) {
			continue
		}
		if best == nil || row.UpdatedAt.After(best.UpdatedAt) {
			r := row
			best = &r
		}
	}
	if best == nil {
		return nil, repository.ErrNotFound
	}
	return best, nil
}

func (s *memSessions) Touch(_ context.Context, id, material string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return time.Time{}, repository.ErrNotFound
	}
	row.EncryptedMaterial = material
	row.UpdatedAt = s.now()
	s.rows[id] = row
	s.touches++
	return row.UpdatedAt, nil
}

func (s *memSessions) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rows[id]
	delete(s.rows, id)
	s.deletes++
	return ok, nil
}

func (s *memSessions) DeleteByUserID(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, row := range s.rows {
		if row.UserID == userID {
			delete(s.rows, id)
			n++
		}
	}
	return n, nil
}

func (s *memSessions) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, row := range s.rows {
		if !row.UpdatedAt.After(cutoff) {
			delete(s.rows, id)
			n++
		}
	}
	return n, nil
}

func (s *memSessions) ListByUserID(_ context.Context, userID string) ([]model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := make([]model.Session, 0)
	for _, row := range s.rows {
		if row.UserID == userID {
			row.EncryptedMaterial = ""
			list = append(list, row)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].UpdatedAt.After(list[j].UpdatedAt) })
	return list, nil
}

func (s *memSessions) get(id string) model.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[id]
}

func (s *memSessions) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

type memPrincipals struct {
	mu    sync.Mutex
	users map[string]model.Principal
	calls int
}

func newMemPrincipals(ps ...model.Principal) *memPrincipals {
	m := &memPrincipals{users: make(map[string]model.Principal)}
	for _, p := range ps {
		m.users[p.ID] = p
	}
	return m
}

func (m *memPrincipals) GetPrincipal(_ context.Context, userID string) (model.Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	p, ok := m.users[userID]
	if !ok {
		return model.Principal{}, repository.ErrNotFound
	}
	return p, nil
}

func (m *memPrincipals) setDisabled(userID string, disabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.users[userID]
	p.Disabled = disabled
	m.users[userID] = p
}

func (m *memPrincipals) remove(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, userID)
}

// MockSessionStore mocks the SessionStore interface.
type MockSessionStore struct {
	mock.Mock
}

func (m *MockSessionStore) Create(ctx context.Context, s *model.Session) error {
	return m.Called(ctx, s).Error(0)
}

func (m *MockSessionStore) FindByID(ctx context.Context, id string) (*model.Session, error) {
	args := m.Called(ctx, id)
	s, _ := args.Get(0).(*model.Session)
	return s, args.Error(1)
}

func (m *MockSessionStore) FindReusable(ctx context.Context, userID string, window time.Duration) (*model.Session, error) {
	args := m.Called(ctx, userID, window)
	s, _ := args.Get(0).(*model.Session)
	return s, args.Error(1)
}

func (m *MockSessionStore) Touch(ctx context.Context, id, material string) (time.Time, error) {
	args := m.Called(ctx, id, material)
	return args.Get(0).(time.Time), args.Error(1)
}

func (m *MockSessionStore) Delete(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockSessionStore) DeleteByUserID(ctx context.Context, userID string) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockSessionStore) ListByUserID(ctx context.Context, userID string) ([]model.Session, error) {
	args := m.Called(ctx, userID)
	list, _ := args.Get(0).([]model.Session)
	return list, args.Error(1)
}

// MockPrincipalLookup mocks the PrincipalLookup interface.
type MockPrincipalLookup struct {
	mock.Mock
}

func (m *MockPrincipalLookup) GetPrincipal(ctx context.Context, userID string) (model.Principal, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(model.Principal), args.Error(1)
}

func newTestCrypto(t *testing.T) (*token.Codec, *secret.Box) {
	t.Helper()
	codec, err := token.NewCodec(testSigningKey)
	require.NoError(t, err)
	box, err := secret.NewBox(testEncryptionKey)
	require.NoError(t, err)
	return codec, box
}

type testEnv struct {
	manager    *SessionManager
	sessions   *memSessions
	principals *memPrincipals
	clock      *fakeClock
	codec      *token.Codec
	box        *secret.Box
}

func newTestEnv(t *testing.T, opts ...ManagerOption) *testEnv {
	t.Helper()
	clk := newFakeClock()
	sessions := newMemSessions(clk.Now)
	principals := newMemPrincipals(
		model.Principal{ID: "42", UserTypeID: model.UserTypeEmployee},
		model.Principal{ID: "7", UserTypeID: model.UserTypeInstitute},
	)
	codec, box := newTestCrypto(t)
	m, err := NewSessionManager(sessions, principals, codec, box, testPolicy,
		append([]ManagerOption{WithClock(clk.Now)}, opts...)...)
	require.NoError(t, err)
	return &testEnv{manager: m, sessions: sessions, principals: principals, clock: clk, codec: codec, box: box}
}

func (e *testEnv) login(t *testing.T, userID string) *Session {
	t.Helper()
	s, err := e.manager.Login(context.Background(), userID, false)
	require.NoError(t, err)
	return s
}

func (e *testEnv) authenticate(t *testing.T, tok string) Result {
	t.Helper()
	res, err := e.manager.Authenticate(context.Background(), tok)
	require.NoError(t, err)
	return res
}
