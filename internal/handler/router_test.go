package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jobportal/internal/middleware"
	"github.com/jobportal/internal/model"
	"github.com/jobportal/internal/repository"
	"github.com/jobportal/internal/secret"
	"github.com/jobportal/internal/service"
	"github.com/jobportal/internal/storage/memory"
	"github.com/jobportal/internal/token"
	"github.com/jobportal/internal/ws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type sessionRows struct {
	mu   sync.Mutex
	rows map[string]model.Session
	now  func() time.Time
	err  error
}

func (s *sessionRows) Create(_ context.Context, sess *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	sess.CreatedAt, sess.UpdatedAt = s.now(), s.now()
	s.rows[sess.ID] = *sess
	return nil
}

func (s *sessionRows) FindByID(_ context.Context, id string) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	row, ok := s.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &row, nil
}

func (s *sessionRows) FindReusable(_ context.Context, userID string, window time.Duration) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	var best *model.Session
	for _, row := range s.rows {
		if row.UserID == userID && row.UpdatedAt.After(s.now().Add(-window)) && (best == nil || row.UpdatedAt.After(best.UpdatedAt)) {
			r := row
			best = &r
		}
	}
	if best == nil {
		return nil, repository.ErrNotFound
	}
	return best, nil
}

func (s *sessionRows) Touch(_ context.Context, id, material string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return time.Time{}, repository.ErrNotFound
	}
	row.EncryptedMaterial, row.UpdatedAt = material, s.now()
	s.rows[id] = row
	return row.UpdatedAt, nil
}

func (s *sessionRows) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rows[id]
	delete(s.rows, id)
	return ok, nil
}

func (s *sessionRows) DeleteByUserID(_ context.Context, userID string) (int64, error) {
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

func (s *sessionRows) ListByUserID(_ context.Context, userID string) ([]model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Session
	for _, row := range s.rows {
		if row.UserID == userID {
			row.EncryptedMaterial = ""
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

type userRows struct {
	mu    sync.Mutex
	users map[string]*model.User
}

func (u *userRows) Create(_ context.Context, nu *model.User) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, e := range u.users {
		if e.UserTypeID == nu.UserTypeID && e.Mobile == nu.Mobile {
			return repository.ErrDuplicate
		}
	}
	cp := *nu
	u.users[nu.ID] = &cp
	return nil
}

func (u *userRows) GetByID(_ context.Context, id string) (*model.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	row, ok := u.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *row
	return &cp, nil
}

func (u *userRows) find(match func(*model.User) bool) (*model.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, row := range u.users {
		if match(row) {
			cp := *row
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (u *userRows) GetByEmail(_ context.Context, email string, userTypeID int) (*model.User, error) {
	return u.find(func(row *model.User) bool { return row.Email == email && row.UserTypeID == userTypeID })
}

func (u *userRows) GetByMobile(_ context.Context, mobile string, userTypeID int) (*model.User, error) {
	return u.find(func(row *model.User) bool { return row.Mobile == mobile && row.UserTypeID == userTypeID })
}

func (u *userRows) GetPrincipal(ctx context.Context, id string) (model.Principal, error) {
	row, err := u.GetByID(ctx, id)
	if err != nil {
		return model.Principal{}, err
	}
	return row.Principal(), nil
}

func (u *userRows) ToggleDisabled(_ context.Context, id string) (bool, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	row, ok := u.users[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	row.Disabled = !row.Disabled
	return row.Disabled, nil
}

const testPassword = "password1"

type app struct {
	srv      *httptest.Server
	clock    *clock
	sessions *sessionRows
	hub      *ws.Hub
}

func newApp(t *testing.T, opts ...func(*RouterDeps)) *app {
	t.Helper()
	clk := &clock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	hash, err := service.HashPassword(testPassword, bcrypt.MinCost)
	require.NoError(t, err)
	users := &userRows{users: map[string]*model.User{
		"1":  {ID: "1", Name: "Root", Email: "root@example.com", Mobile: "01700000001", UserTypeID: model.UserTypeAdministrator, PasswordHash: hash},
		"42": {ID: "42", Name: "Jane", Email: "jane@example.com", Mobile: "01712345678", UserTypeID: model.UserTypeEmployee, PasswordHash: hash},
	}}
	sessions := &sessionRows{rows: make(map[string]model.Session), now: clk.Now}

	codec, err := token.NewCodec([]byte("signing-key-signing-key-signing-k"))
	require.NoError(t, err)
	box, err := secret.NewBox([]byte("encryption-key-encryption-key-enc"))
	require.NoError(t, err)

	store := memory.New()
	directory := service.NewPrincipalDirectory(users, store, time.Minute)
	manager, err := service.NewSessionManager(sessions, directory, codec, box,
		service.Policy{RefreshWindow: time.Hour, HardExpiration: 5 * time.Hour},
		service.WithClock(clk.Now),
		service.WithCredentialVerifier(service.NewBcryptVerifier(users)),
		service.WithLoginLimiter(store, 3, time.Minute),
	)
	require.NoError(t, err)
	accounts := service.NewAccountService(users, manager, directory, bcrypt.MinCost)

	hub := ws.NewHub(100, ws.WithBroadcaster(store))
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	require.NoError(t, hub.Listen(ctx))

	deps := RouterDeps{
		Sessions:   manager,
		Accounts:   accounts,
		Principals: directory,
		Hub:        hub,
		Limiter:    store,
		Checks:     map[string]Check{"store": func(context.Context) error { return nil }},
	}
	for _, opt := range opts {
		opt(&deps)
	}
	srv := httptest.NewServer(NewRouter(deps))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return &app{srv: srv, clock: clk, sessions: sessions, hub: hub}
}

func (a *app) do(t *testing.T, method, path, tok string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, a.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := a.srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (a *app) login(t *testing.T, username string, userType int) TokenResponse {
	t.Helper()
	resp := a.do(t, http.MethodPost, "/authenticate", "", map[string]any{
		"username": username, "password": testPassword, "user_type_id": userType,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return decode[TokenResponse](t, resp)
}

func TestAuthenticateAndProfile(t *testing.T) {
	a := newApp(t)
	tok := a.login(t, "Jane@Example.com", model.UserTypeEmployee)
	assert.Equal(t, "bearer", tok.Type)
	assert.Equal(t, "42", tok.UserID)

	resp := a.do(t, http.MethodGet, "/user", tok.AccessToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, resp.Header.Get(middleware.RefreshTokenHeader))
	assert.Equal(t, "Jane", decode[model.UserPublic](t, resp).Name)

	again := a.login(t, "+8801712345678", model.UserTypeEmployee)
	assert.Equal(t, "42", again.UserID)

	assert.Equal(t, http.StatusUnauthorized, a.do(t, http.MethodGet, "/user", "", nil).StatusCode)
	assert.Equal(t, http.StatusForbidden, a.do(t, http.MethodPost, "/authenticate", again.AccessToken, map[string]any{}).StatusCode)
}

func TestAuthenticate_Failures(t *testing.T) {
	a := newApp(t)

	resp := a.do(t, http.MethodPost, "/authenticate", "", map[string]any{
		"username": "jane@example.com", "password": "wrong-password", "user_type_id": 1,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "invalid_request", decode[errorResponse](t, resp).Error)

	resp = a.do(t, http.MethodPost, "/authenticate", "", map[string]any{"username": "jane@example.com"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPost, a.srv.URL+"/authenticate", strings.NewReader("{"))
	require.NoError(t, err)
	raw, err := a.srv.Client().Do(req)
	require.NoError(t, err)
	raw.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, raw.StatusCode)
}

func TestAuthenticate_LoginRateLimit(t *testing.T) {
	a := newApp(t)
	bad := map[string]any{"username": "jane@example.com", "password": "wrong-password", "user_type_id": 1}
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusUnprocessableEntity, a.do(t, http.MethodPost, "/authenticate", "", bad).StatusCode)
	}
	assert.Equal(t, http.StatusTooManyRequests, a.do(t, http.MethodPost, "/authenticate", "", bad).StatusCode)
}

func TestRegister(t *testing.T) {
	a := newApp(t)
	body := map[string]any{
		"name": "Acme Institute", "mobile": "+8801799999999", "password": testPassword, "user_type_id": 2,
	}
	resp := a.do(t, http.MethodPost, "/register", "", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	tok := decode[TokenResponse](t, resp)
	assert.NotEmpty(t, tok.AccessToken)

	resp = a.do(t, http.MethodGet, "/user", tok.AccessToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "01799999999", decode[model.UserPublic](t, resp).Mobile)

	assert.Equal(t, http.StatusUnprocessableEntity, a.do(t, http.MethodPost, "/register", "", body).StatusCode)
	body["user_type_id"] = model.UserTypeAdministrator
	body["mobile"] = "01788888888"
	assert.Equal(t, http.StatusUnprocessableEntity, a.do(t, http.MethodPost, "/register", "", body).StatusCode)
}

func TestSoftRefreshHeader(t *testing.T) {
	a := newApp(t)
	tok := a.login(t, "jane@example.com", 1)
	a.clock.Advance(90 * time.Minute)

	resp := a.do(t, http.MethodGet, "/user", tok.AccessToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	fresh := resp.Header.Get(middleware.RefreshTokenHeader)
	require.NotEmpty(t, fresh)
	assert.NotEqual(t, tok.AccessToken, fresh)

	assert.Equal(t, http.StatusUnauthorized, a.do(t, http.MethodGet, "/user", tok.AccessToken, nil).StatusCode)
	assert.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/user", fresh, nil).StatusCode)

	a.clock.Advance(5 * time.Hour)
	assert.Equal(t, http.StatusUnauthorized, a.do(t, http.MethodGet, "/user", fresh, nil).StatusCode)
}

func TestSessionsAndLogout(t *testing.T) {
	a := newApp(t)
	first := a.login(t, "jane@example.com", 1)
	a.clock.Advance(2 * time.Hour)
	second := a.login(t, "jane@example.com", 1)

	resp := a.do(t, http.MethodGet, "/sessions", second.AccessToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[[]sessionView](t, resp)
	require.Len(t, list, 2)
	assert.True(t, list[0].Current)
	assert.False(t, list[1].Current)

	require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, "/logout", second.AccessToken, nil).StatusCode)
	assert.Equal(t, http.StatusUnauthorized, a.do(t, http.MethodGet, "/user", second.AccessToken, nil).StatusCode)

	resp = a.do(t, http.MethodGet, "/user", first.AccessToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	refreshed := resp.Header.Get(middleware.RefreshTokenHeader)
	require.NotEmpty(t, refreshed)

	resp = a.do(t, http.MethodDelete, "/sessions", refreshed, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(1), decode[map[string]int64](t, resp)["revoked"])
	assert.Equal(t, http.StatusUnauthorized, a.do(t, http.MethodGet, "/user", refreshed, nil).StatusCode)
}

func TestStoreOutage(t *testing.T) {
	a := newApp(t)
	tok := a.login(t, "jane@example.com", 1)
	a.sessions.mu.Lock()
	a.sessions.err = errors.New("connection refused")
	a.sessions.mu.Unlock()

	resp := a.do(t, http.MethodGet, "/user", tok.AccessToken, nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "service unavailable", decode[errorResponse](t, resp).Error)
}

func TestAdminRoutes(t *testing.T) {
	a := newApp(t)
	admin := a.login(t, "root@example.com", model.UserTypeAdministrator)
	jane := a.login(t, "jane@example.com", model.UserTypeEmployee)

	assert.Equal(t, http.StatusForbidden, a.do(t, http.MethodPut, "/admin/users/1/disabled", jane.AccessToken, nil).StatusCode)
	assert.Equal(t, http.StatusForbidden, a.do(t, http.MethodPut, "/admin/users/1/disabled", admin.AccessToken, nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, a.do(t, http.MethodPut, "/admin/users/nobody/disabled", admin.AccessToken, nil).StatusCode)

	resp := a.do(t, http.MethodPut, "/admin/users/42/disabled", admin.AccessToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decode[map[string]any](t, resp)["disabled"])
	assert.Equal(t, http.StatusUnauthorized, a.do(t, http.MethodGet, "/user", jane.AccessToken, nil).StatusCode)

	resp = a.do(t, http.MethodPost, "/authenticate", "", map[string]any{
		"username": "jane@example.com", "password": testPassword, "user_type_id": 1,
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	require.Equal(t, http.StatusOK, a.do(t, http.MethodPut, "/admin/users/42/disabled", admin.AccessToken, nil).StatusCode)
	assert.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/user", jane.AccessToken, nil).StatusCode)

	resp = a.do(t, http.MethodDelete, "/admin/users/42/sessions", admin.AccessToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), decode[map[string]any](t, resp)["revoked"])
	assert.Equal(t, http.StatusUnauthorized, a.do(t, http.MethodGet, "/user", jane.AccessToken, nil).StatusCode)
}

func TestInternalAuthenticate(t *testing.T) {
	a := newApp(t)
	tok := a.login(t, "jane@example.com", 1)

	resp := a.do(t, http.MethodPost, "/internal/authenticate", "", map[string]string{"token": tok.AccessToken})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[internalAuthResponse](t, resp)
	assert.Equal(t, "42", got.UserID)
	assert.NotEmpty(t, got.SessionID)
	assert.Empty(t, got.RefreshToken)

	assert.Equal(t, http.StatusUnauthorized, a.do(t, http.MethodPost, "/internal/authenticate", "", map[string]string{"token": "nope"}).StatusCode)
	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodPost, "/internal/authenticate", "", map[string]string{}).StatusCode)
}

func TestHealth(t *testing.T) {
	a := newApp(t)
	resp := a.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decode[map[string]any](t, resp)["status"])
}

func TestHealth_Degraded(t *testing.T) {
	h := NewHealthHandler(map[string]Check{"db": func(context.Context) error { return errors.New("down") }})
	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"degraded","dependencies":{"db":"down"}}`, rec.Body.String())
}

func TestRouter_IPLimitIgnoresForwardingHeaders(t *testing.T) {
	limited := func(d *RouterDeps) {
		d.IPRateLimit = 1
		d.IPRateWindow = time.Minute
	}
	post := func(a *app, ip string) int {
		req, err := http.NewRequest(http.MethodPost, a.srv.URL+"/authenticate", strings.NewReader(`{}`))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Real-Ip", ip)
		resp, err := a.srv.Client().Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	a := newApp(t, limited)
	assert.Equal(t, http.StatusUnprocessableEntity, post(a, "198.51.100.1"))
	assert.Equal(t, http.StatusTooManyRequests, post(a, "198.51.100.2"))

	proxied := newApp(t, limited, func(d *RouterDeps) { d.TrustProxyHeaders = true })
	assert.Equal(t, http.StatusUnprocessableEntity, post(proxied, "198.51.100.1"))
	assert.Equal(t, http.StatusUnprocessableEntity, post(proxied, "198.51.100.2"))
	assert.Equal(t, http.StatusTooManyRequests, post(proxied, "198.51.100.1"))
}
