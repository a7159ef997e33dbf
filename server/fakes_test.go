package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"MusicFlow/cache"
	"MusicFlow/config"
	"MusicFlow/core/auth"
	"MusicFlow/core/clock"
	"MusicFlow/core/composition"
	"MusicFlow/core/pagestate"
	"MusicFlow/core/reset"
	"MusicFlow/core/studio"
	"MusicFlow/model"
	"MusicFlow/repository"

	"github.com/stretchr/testify/require"
)

type fakeUsers struct {
	mu     sync.Mutex
	nextID int64
	users  map[int64]*model.User
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{users: make(map[int64]*model.User)}
}

func (f *fakeUsers) find(match func(*model.User) bool) *model.User {
	for _, u := range f.users {
		if match(u) {
			c := *u
			return &c
		}
	}
	return nil
}

func (f *fakeUsers) Create(_ context.Context, user *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	dup := f.find(func(u *model.User) bool {
		return strings.EqualFold(u.Username, user.Username) || strings.EqualFold(u.Email, user.Email)
	})
	if dup != nil {
		return repository.ErrDuplicateUser
	}
	f.nextID++
	user.ID = f.nextID
	c := *user
	f.users[user.ID] = &c
	return nil
}

func (f *fakeUsers) GetByID(_ context.Context, id int64) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.find(func(u *model.User) bool { return u.ID == id }), nil
}

func (f *fakeUsers) GetByUsername(_ context.Context, username string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	username = strings.TrimSpace(username)
	return f.find(func(u *model.User) bool { return strings.EqualFold(u.Username, username) }), nil
}

func (f *fakeUsers) GetByEmail(_ context.Context, email string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	email = strings.TrimSpace(email)
	return f.find(func(u *model.User) bool { return strings.EqualFold(u.Email, email) }), nil
}

func (f *fakeUsers) GetByLogin(ctx context.Context, login string) (*model.User, error) {
	if strings.Contains(login, "@") {
		return f.GetByEmail(ctx, login)
	}
	return f.GetByUsername(ctx, login)
}

func (f *fakeUsers) ExistsUsername(ctx context.Context, username string) (bool, error) {
	u, _ := f.GetByUsername(ctx, username)
	return u != nil, nil
}

func (f *fakeUsers) ExistsEmail(_ context.Context, email string, excludeID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.find(func(u *model.User) bool { return u.ID != excludeID && strings.EqualFold(u.Email, email) })
	return u != nil, nil
}

func (f *fakeUsers) UpdatePassword(_ context.Context, id int64, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[id]; ok {
		u.PasswordHash = hash
	}
	return nil
}

func (f *fakeUsers) UpdateEmail(_ context.Context, id int64, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.find(func(u *model.User) bool { return u.ID != id && strings.EqualFold(u.Email, email) }) != nil {
		return repository.ErrDuplicateUser
	}
	if u, ok := f.users[id]; ok {
		u.Email = email
	}
	return nil
}

func (f *fakeUsers) TouchLastLogin(_ context.Context, id int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[id]; ok {
		u.LastLogin = &at
	}
	return nil
}

type fakeProfiles struct {
	mu       sync.Mutex
	profiles map[int64]*model.Profile
}

func (f *fakeProfiles) GetByUserID(_ context.Context, userID int64) (*model.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[userID]
	if !ok {
		p = &model.Profile{UserID: userID}
		f.profiles[userID] = p
	}
	c := *p
	return &c, nil
}

func (f *fakeProfiles) Update(_ context.Context, profile *model.Profile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := *profile
	f.profiles[profile.UserID] = &c
	return nil
}

type fakeDashboards struct {
	mu     sync.Mutex
	themes map[int64]string
}

func (f *fakeDashboards) GetByUserID(_ context.Context, userID int64) (*model.Dashboard, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	theme, ok := f.themes[userID]
	if !ok {
		theme = model.ThemeLight
	}
	return &model.Dashboard{UserID: userID, PageTheme: theme}, nil
}

func (f *fakeDashboards) UpdateTheme(_ context.Context, userID int64, theme string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.themes[userID] = theme
	return nil
}

type fakeAvatars struct {
	mu      sync.Mutex
	n       int
	objects map[string][]byte
	types   map[string]string
}

func (f *fakeAvatars) Put(_ context.Context, userID int64, filename, contentType string, r io.Reader, _ int64) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	key := fmt.Sprintf("profile_pics/%d/avatar-%d%s", userID, f.n, strings.ToLower(filename[strings.LastIndex(filename, "."):]))
	f.objects[key] = data
	f.types[key] = contentType
	return key, nil
}

func (f *fakeAvatars) Remove(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	return nil
}

func (f *fakeAvatars) URL(key string) string {
	return "/media/test/" + key
}

func (f *fakeAvatars) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

type captureMailer struct {
	mu    sync.Mutex
	mails []reset.Mail
}

func (c *captureMailer) Send(_ context.Context, m reset.Mail) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mails = append(c.mails, m)
	return nil
}

var codeRe = regexp.MustCompile(`code is: (\d{6})`)

func (c *captureMailer) lastCode(t *testing.T) string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.mails)
	m := codeRe.FindStringSubmatch(c.mails[len(c.mails)-1].Body)
	require.Len(t, m, 2)
	return m[1]
}

// testEnv drives the router in-process and keeps a cookie jar per browser.
type testEnv struct {
	t          *testing.T
	cfg        *config.Config
	handler    *Handler
	router     http.Handler
	clock      *clock.Manual
	users      *fakeUsers
	profiles   *fakeProfiles
	dashboards *fakeDashboards
	avatars    *fakeAvatars
	mailer     *captureMailer
	resets     *reset.Service
	studios    *studio.Manager
	hub        *studio.Hub
	jar        map[string]*http.Cookie
	// csrfToken 是最近一次 GET /api/csrf 返回的令牌
	csrfToken string
}

func testConfig() *config.Config {
	return &config.Config{
		AllowedOrigin:     []string{"*"},
		JWTSecret:         "test-secret",
		SessionTTL:        14 * 24 * time.Hour,
		RateLimitAttempts: 100,
		RateLimitWindow:   time.Minute,
		ResetQRTimeout:    2 * time.Minute,
		ResetCodeTimeout:  2 * time.Minute,
		ResetCodeAttempts: 5,
		ResetBaseURL:      "http://localhost:8080",
		MaxPictureBytes:   5 << 20,
		MinioBucket:       "test",
		MinioPublicURL:    "/media",
	}
}

func newTestEnv(t *testing.T, tweak ...func(*config.Config)) *testEnv {
	t.Helper()
	cfg := testConfig()
	for _, fn := range tweak {
		fn(cfg)
	}

	mc := clock.NewManual(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	users := newFakeUsers()
	mailer := &captureMailer{}
	resets := reset.NewService(reset.NewMemoryStore(mc), users, mailer, mc, rand.New(rand.NewSource(1)), reset.Config{
		QRTimeout:   cfg.ResetQRTimeout,
		CodeTimeout: cfg.ResetCodeTimeout,
		MaxAttempts: cfg.ResetCodeAttempts,
		BaseURL:     cfg.ResetBaseURL,
	})
	hub := studio.NewHub()
	go hub.Run()
	t.Cleanup(hub.Stop)

	var n int
	studios := studio.NewManager(studio.Config{
		Clock:   mc,
		NoteIDs: &composition.CounterGenerator{Prefix: "n"},
		NewID: func() string {
			n++
			return fmt.Sprintf("studio-%d", n)
		},
	}, hub)
	t.Cleanup(studios.Shutdown)

	env := &testEnv{
		t:          t,
		cfg:        cfg,
		clock:      mc,
		users:      users,
		profiles:   &fakeProfiles{profiles: make(map[int64]*model.Profile)},
		dashboards: &fakeDashboards{themes: make(map[int64]string)},
		avatars:    &fakeAvatars{objects: make(map[string][]byte), types: make(map[string]string)},
		mailer:     mailer,
		resets:     resets,
		studios:    studios,
		hub:        hub,
		jar:        make(map[string]*http.Cookie),
	}
	env.handler = NewHandler(cfg, Deps{
		Users:      users,
		Profiles:   env.profiles,
		Dashboards: env.dashboards,
		Avatars:    env.avatars,
		Resets:     resets,
		Pages:      pagestate.New(pagestate.NewMemoryStore(), mc),
		Limiter:    cache.NewMemoryLimiter(cfg.RateLimitAttempts, cfg.RateLimitWindow),
		Studios:    studios,
		Hub:        hub,
		Clock:      mc,
	})
	env.router = NewRouter(env.handler)
	return env
}

// seedUser stores an active account with the given password.
func (e *testEnv) seedUser(username, email, password string) *model.User {
	e.t.Helper()
	hash, err := auth.HashPassword(password)
	require.NoError(e.t, err)
	u := &model.User{Username: username, Email: email, PasswordHash: hash, IsActive: true}
	require.NoError(e.t, e.users.Create(context.Background(), u))
	return u
}

// do sends a request with the jar's cookies and the CSRF header, then
// stores the cookies of the response.
func (e *testEnv) do(method, target string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	e.t.Helper()
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for _, c := range e.jar {
		req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	}
	if e.csrfToken != "" {
		req.Header.Set(csrfHeader, e.csrfToken)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	for _, c := range rec.Result().Cookies() {
		if c.MaxAge < 0 {
			delete(e.jar, c.Name)
			continue
		}
		e.jar[c.Name] = c
	}
	return rec
}

func (e *testEnv) doJSON(method, target string, payload interface{}) *httptest.ResponseRecorder {
	e.t.Helper()
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		require.NoError(e.t, err)
		body = bytes.NewReader(b)
	}
	return e.do(method, target, body, "application/json")
}

func (e *testEnv) postForm(target string, vals url.Values) *httptest.ResponseRecorder {
	e.t.Helper()
	return e.do(http.MethodPost, target, strings.NewReader(vals.Encode()), "application/x-www-form-urlencoded")
}

// csrf fetches the anti-forgery cookie and remembers the issued token.
func (e *testEnv) csrf() {
	e.t.Helper()
	rec := e.do(http.MethodGet, "/api/csrf", nil, "")
	require.Equal(e.t, http.StatusOK, rec.Code)
	require.Contains(e.t, e.jar, csrfCookie)
	token, _ := decodeBody(e.t, rec)["csrfToken"].(string)
	require.NotEmpty(e.t, token)
	e.csrfToken = token
}

// login signs in through the API.
func (e *testEnv) login(username, password string) {
	e.t.Helper()
	if e.csrfToken == "" {
		e.csrf()
	}
	rec := e.doJSON(http.MethodPost, "/api/auth/login", map[string]interface{}{
		"username": username,
		"password": password,
	})
	require.Equal(e.t, http.StatusOK, rec.Code, rec.Body.String())
	require.Contains(e.t, e.jar, sessionCookie)
}

// newBrowser returns an env sharing every service but with an empty jar.
func (e *testEnv) newBrowser() *testEnv {
	c := *e
	c.jar = make(map[string]*http.Cookie)
	c.csrfToken = ""
	return &c
}

// newRawRequest builds a request outside the jar, for tests that need to
// forge cookies or headers.
func newRawRequest(method, target, body string) (*http.Request, *httptest.ResponseRecorder) {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	return httptest.NewRequest(method, target, r), httptest.NewRecorder()
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func decodeFormErrors(t *testing.T, body map[string]interface{}) auth.FormErrors {
	t.Helper()
	raw, ok := body["form_errors"].(string)
	require.True(t, ok, "form_errors should be a JSON string")
	var errs auth.FormErrors
	require.NoError(t, json.Unmarshal([]byte(raw), &errs))
	return errs
}
