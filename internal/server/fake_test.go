package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/claude/njktraining/internal/access"
	"github.com/claude/njktraining/internal/models"
	"github.com/claude/njktraining/internal/oauth"
	"github.com/claude/njktraining/internal/storage"
)

// fakeStore is an in-memory Store.
type fakeStore struct {
	mu       sync.Mutex
	profiles map[int64]*models.Profile
	programs map[int64]*models.Catalog
	corrupt  map[int64]bool
	edges    map[access.Edge]string
	limits   map[int64]int
	metrics  []models.MetricEntry
	history  []models.HistoryEntry
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		profiles: map[int64]*models.Profile{},
		programs: map[int64]*models.Catalog{},
		corrupt:  map[int64]bool{},
		edges:    map[access.Edge]string{},
		limits:   map[int64]int{},
	}
}

func mentorCode(id int64) string { return fmt.Sprintf("CODE%04d", id) }

func (f *fakeStore) EnsureProfile(_ context.Context, u models.AuthUser) (*models.Profile, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.profiles[u.ID]; ok {
		return p, false, nil
	}
	p := &models.Profile{UserID: u.ID, UserEmail: u.Email, UserName: u.Name, MentorID: mentorCode(u.ID), CreatedAt: time.Now()}
	f.profiles[u.ID] = p
	return p, true, nil
}

func (f *fakeStore) GetProfile(_ context.Context, id int64) (*models.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.profiles[id]; ok {
		return p, nil
	}
	return nil, storage.ErrNotFound
}

func (f *fakeStore) UpdateProfile(_ context.Context, id int64, u storage.ProfileUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[id]
	if !ok {
		return storage.ErrNotFound
	}
	if u.Gender != nil {
		p.Gender = *u.Gender
	}
	if u.Birthdate != nil {
		p.Birthdate = *u.Birthdate
	}
	return nil
}

func (f *fakeStore) ProfileByMentorID(_ context.Context, code string) (*models.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.profiles {
		if p.MentorID == code {
			return p, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (f *fakeStore) MentorIDOf(_ context.Context, id int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.profiles[id]; ok {
		return p.MentorID, nil
	}
	return "", nil
}

func (f *fakeStore) AppendMetrics(_ context.Context, id int64, h, w *float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metrics = append(f.metrics, models.MetricEntry{UserID: id, Height: h, Weight: w, UpdatedAt: time.Now()})
	return nil
}

func (f *fakeStore) LatestMetrics(_ context.Context, id int64) (*models.MetricEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.metrics) - 1; i >= 0; i-- {
		if f.metrics[i].UserID == id {
			e := f.metrics[i]
			return &e, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) MetricsHistory(_ context.Context, id int64, limit int) ([]models.MetricEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.MetricEntry{}
	for i := len(f.metrics) - 1; i >= 0 && len(out) < limit; i-- {
		if f.metrics[i].UserID == id {
			out = append(out, f.metrics[i])
		}
	}
	return out, nil
}

func (f *fakeStore) GetProgram(_ context.Context, id int64) (*models.Catalog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.corrupt[id] {
		return nil, fmt.Errorf("%w: user %d", storage.ErrCorruptProgram, id)
	}
	return f.programs[id], nil
}

func (f *fakeStore) UpsertProgram(_ context.Context, id int64, c *models.Catalog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.corrupt, id)
	f.programs[id] = c
	return nil
}

func (f *fakeStore) InsertProgramIfAbsent(_ context.Context, id int64, c *models.Catalog) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.programs[id] != nil {
		return false, nil
	}
	f.programs[id] = c
	return true, nil
}

func (f *fakeStore) ResetProgram(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.programs, id)
	delete(f.corrupt, id)
	return nil
}

func (f *fakeStore) MentorLimit(_ context.Context, id int64, def int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if l, ok := f.limits[id]; ok {
		return l, nil
	}
	return def, nil
}

func (f *fakeStore) AddStudent(_ context.Context, mentorID string, student int64, limit int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := access.Edge{MentorID: mentorID, StudentUserID: student}
	if _, ok := f.edges[e]; ok {
		return storage.ErrDuplicateRelationship
	}
	count := 0
	for k := range f.edges {
		if k.MentorID == mentorID {
			count++
		}
	}
	if err := access.CheckCapacity(count, limit); err != nil {
		return err
	}
	f.edges[e] = ""
	return nil
}

func (f *fakeStore) RemoveStudent(_ context.Context, mentorID string, student int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := access.Edge{MentorID: mentorID, StudentUserID: student}
	if _, ok := f.edges[e]; !ok {
		return storage.ErrNotFound
	}
	delete(f.edges, e)
	return nil
}

func (f *fakeStore) UpdateStudentName(_ context.Context, mentorID string, student int64, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := access.Edge{MentorID: mentorID, StudentUserID: student}
	if _, ok := f.edges[e]; !ok {
		return storage.ErrNotFound
	}
	f.edges[e] = name
	return nil
}

func (f *fakeStore) HasStudent(_ context.Context, mentorID string, student int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.edges[access.Edge{MentorID: mentorID, StudentUserID: student}]
	return ok, nil
}

func (f *fakeStore) ListStudents(_ context.Context, mentorID string) ([]models.Student, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.Student{}
	for e, name := range f.edges {
		if e.MentorID != mentorID {
			continue
		}
		p := f.profiles[e.StudentUserID]
		out = append(out, models.Student{UserID: p.UserID, UserName: p.UserName, UserEmail: p.UserEmail, MentorID: p.MentorID, CustomName: name})
	}
	return out, nil
}

func (f *fakeStore) AddHistory(_ context.Context, e models.HistoryEntry) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e.ID = int64(len(f.history) + 1)
	f.history = append(f.history, e)
	return e.ID, nil
}

func (f *fakeStore) ListHistory(_ context.Context, id int64, limit int) ([]models.HistoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.HistoryEntry{}
	for i := len(f.history) - 1; i >= 0 && len(out) < limit; i-- {
		if f.history[i].UserID == id {
			out = append(out, f.history[i])
		}
	}
	return out, nil
}

// fakeValidator accepts the tokens in users; "down" simulates an unreachable proxy.
type fakeValidator struct {
	users map[string]models.AuthUser
}

func (v *fakeValidator) Validate(_ context.Context, token string) (*models.AuthUser, error) {
	if token == "down" {
		return nil, oauth.ErrUnavailable
	}
	u, ok := v.users[token]
	if !ok {
		return nil, oauth.ErrInvalidToken
	}
	return &u, nil
}

type fakeAuth struct{}

func (fakeAuth) Login(_ context.Context, email, password string) (*oauth.AuthResult, error) {
	if password != "secret" {
		return nil, fmt.Errorf("%w: bad credentials", oauth.ErrLoginFailed)
	}
	return &oauth.AuthResult{Success: true, Token: "tok-login", User: &models.AuthUser{ID: 9, Name: "Nine", Email: email}}, nil
}

func (fakeAuth) Register(_ context.Context, name, email, _ string) (*oauth.AuthResult, error) {
	return &oauth.AuthResult{Success: true, Token: "tok-new", User: &models.AuthUser{ID: 10, Name: name, Email: email}}, nil
}

func (fakeAuth) ProviderURL(_ context.Context, provider string) (json.RawMessage, error) {
	if provider != "google" && provider != "facebook" {
		return nil, oauth.ErrUnknownProvider
	}
	return json.RawMessage(`{"success":true,"url":"https://accounts.example/` + provider + `"}`), nil
}

var (
	alice = models.AuthUser{ID: 1, Name: "Alice", Email: "alice@example.com"}
	bob   = models.AuthUser{ID: 2, Name: "Bob", Email: "bob@example.com"}
	carol = models.AuthUser{ID: 3, Name: "Carol", Email: "carol@example.com"}
)

type testEnv struct {
	store *fakeStore
	srv   *Server
}

func newTestEnv(t *testing.T, mutate ...func(*Options)) *testEnv {
	t.Helper()
	store := newFakeStore()
	opts := Options{
		Store: store,
		Auth:  fakeAuth{},
		Validator: &fakeValidator{users: map[string]models.AuthUser{
			"tok-alice": alice,
			"tok-bob":   bob,
			"tok-carol": carol,
		}},
		DefaultMaxStudents: access.Unlimited,
		Version:            "test",
		Log:                slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, m := range mutate {
		m(&opts)
	}
	return &testEnv{store: store, srv: New(opts)}
}

func (e *testEnv) do(method, path, token, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decoding body %q: %v", rec.Body.String(), err)
	}
	return out
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d; body: %s", rec.Code, want, rec.Body.String())
	}
}

func expectErrorCode(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) map[string]any {
	t.Helper()
	expectStatus(t, rec, status)
	body := decode(t, rec)
	if body["success"] != false {
		t.Errorf("success = %v, want false", body["success"])
	}
	if body["error"] != code {
		t.Errorf("error = %v, want %s", body["error"], code)
	}
	return body
}

var _ http.Handler = (*Server)(nil)
