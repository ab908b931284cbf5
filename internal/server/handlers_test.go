package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/claude/njktraining/internal/metrics"
	"github.com/claude/njktraining/internal/models"
	"github.com/claude/njktraining/internal/oauth"
	"github.com/go-redis/redis_rate/v9"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

const pushupProgram = `{"exercises":{"Custom":{"Push":[["Push-up x10"],[3],[15]]}}}`

// TestHealth verifies the unauthenticated health endpoint.
func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodGet, "/health", "", "")
	expectStatus(t, rec, http.StatusOK)
	body := decode(t, rec)
	if body["success"] != true || body["version"] != "test" {
		t.Errorf("unexpected health body: %v", body)
	}
}

// TestBearerAuthErrors verifies the three 401 codes on protected routes.
func TestBearerAuthErrors(t *testing.T) {
	env := newTestEnv(t)
	expectErrorCode(t, env.do(http.MethodGet, "/api/user/me", "", ""), http.StatusUnauthorized, "MISSING_TOKEN")
	expectErrorCode(t, env.do(http.MethodGet, "/api/user/me", "nope", ""), http.StatusUnauthorized, "INVALID_TOKEN")
	expectErrorCode(t, env.do(http.MethodGet, "/api/user/me", "down", ""), http.StatusUnauthorized, "AUTH_SERVICE_UNAVAILABLE")
}

// TestMeCreatesProfile verifies the first /me call creates the profile and
// the second returns it unchanged.
func TestMeCreatesProfile(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodGet, "/api/user/me", "tok-alice", "")
	expectStatus(t, rec, http.StatusOK)
	body := decode(t, rec)
	if body["created"] != true {
		t.Errorf("first call created = %v, want true", body["created"])
	}
	user := body["user"].(map[string]any)
	if user["mentor_id"] != mentorCode(1) {
		t.Errorf("mentor_id = %v", user["mentor_id"])
	}
	if body["metrics"] != nil {
		t.Errorf("metrics = %v, want null", body["metrics"])
	}

	body = decode(t, env.do(http.MethodGet, "/api/user/me", "tok-alice", ""))
	if body["created"] != false {
		t.Errorf("second call created = %v, want false", body["created"])
	}
}

// TestExercisesRoundTrip verifies put, get and reset of the caller's program.
func TestExercisesRoundTrip(t *testing.T) {
	env := newTestEnv(t)

	body := decode(t, env.do(http.MethodGet, "/api/user/exercises", "tok-alice", ""))
	if body["exercises"] != nil {
		t.Fatalf("exercises before save = %v, want null", body["exercises"])
	}

	expectStatus(t, env.do(http.MethodPut, "/api/user/exercises", "tok-alice", pushupProgram), http.StatusOK)

	rec := env.do(http.MethodGet, "/api/user/exercises", "tok-alice", "")
	expectStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), `"Push":[["Push-up x10"],[3],[15]]`) {
		t.Errorf("stored program not returned: %s", rec.Body.String())
	}

	expectStatus(t, env.do(http.MethodDelete, "/api/user/exercises", "tok-alice", ""), http.StatusOK)
	body = decode(t, env.do(http.MethodGet, "/api/user/exercises", "tok-alice", ""))
	if body["exercises"] != nil {
		t.Errorf("exercises after reset = %v, want null", body["exercises"])
	}
}

// TestPutExercisesValidation verifies missing and malformed programs are 400s.
func TestPutExercisesValidation(t *testing.T) {
	env := newTestEnv(t)
	expectErrorCode(t, env.do(http.MethodPut, "/api/user/exercises", "tok-alice", `{}`), http.StatusBadRequest, "MISSING_FIELDS")
	expectErrorCode(t, env.do(http.MethodPut, "/api/user/exercises", "tok-alice", `{"exercises":[1,2]}`), http.StatusBadRequest, "INVALID_PROGRAM")
	expectErrorCode(t, env.do(http.MethodPut, "/api/user/exercises", "tok-alice", `not json`), http.StatusBadRequest, "INVALID_JSON")
}

// TestCorruptProgramDegradesToNull verifies unreadable stored JSON is served
// as null instead of failing the request.
func TestCorruptProgramDegradesToNull(t *testing.T) {
	env := newTestEnv(t)
	env.store.corrupt[alice.ID] = true
	rec := env.do(http.MethodGet, "/api/user/exercises", "tok-alice", "")
	expectStatus(t, rec, http.StatusOK)
	if body := decode(t, rec); body["exercises"] != nil {
		t.Errorf("exercises = %v, want null", body["exercises"])
	}
}

// TestUpdateProfileKeepsExistingProgram verifies a program in the profile
// payload never overwrites a stored one.
func TestUpdateProfileKeepsExistingProgram(t *testing.T) {
	env := newTestEnv(t)
	expectStatus(t, env.do(http.MethodPut, "/api/user/exercises", "tok-alice", pushupProgram), http.StatusOK)

	rec := env.do(http.MethodPut, "/api/user/profile", "tok-alice",
		`{"gender":"f","birthdate":"1990-04-01","height":170,"weight":62.5,"exercises":{"Other":{"X":[["Squat x5"],[1],[0]]}}}`)
	expectStatus(t, rec, http.StatusOK)
	if body := decode(t, rec); body["program_saved"] != false {
		t.Errorf("program_saved = %v, want false", body["program_saved"])
	}

	c := env.store.programs[alice.ID]
	if _, ok := c.Workout("Custom", "Push"); !ok {
		t.Error("existing program was replaced")
	}
	p := env.store.profiles[alice.ID]
	if p.Gender != "f" || p.Birthdate != "1990-04-01" {
		t.Errorf("profile = %+v", p)
	}

	me := decode(t, env.do(http.MethodGet, "/api/user/me", "tok-alice", ""))
	m := me["metrics"].(map[string]any)
	if m["weight"] != 62.5 {
		t.Errorf("latest weight = %v, want 62.5", m["weight"])
	}
}

// TestUpdateProfileStoresFirstProgram verifies insert-if-absent stores a program
// for a user that has none.
func TestUpdateProfileStoresFirstProgram(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodPut, "/api/user/profile", "tok-bob", `{"exercises":{"L":{"W":[["Squat x5"],[1],[0]]}}}`)
	expectStatus(t, rec, http.StatusOK)
	if body := decode(t, rec); body["program_saved"] != true {
		t.Errorf("program_saved = %v, want true", body["program_saved"])
	}
}

// TestUpdateProfileValidation verifies bad field values are rejected.
func TestUpdateProfileValidation(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name string
		body string
	}{
		{"bad birthdate", `{"birthdate":"01/02/1990"}`},
		{"negative height", `{"height":-5}`},
		{"huge weight", `{"weight":9000}`},
		{"bad program", `{"exercises":"nope"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(http.MethodPut, "/api/user/profile", "tok-alice", tt.body)
			expectStatus(t, rec, http.StatusBadRequest)
		})
	}
}

// TestStudentExercisesGate verifies cross-user access is denied with the
// gate's reason until a relationship exists.
func TestStudentExercisesGate(t *testing.T) {
	env := newTestEnv(t)

	// Bob has no profile yet, so no mentor code.
	body := expectErrorCode(t, env.do(http.MethodGet, "/api/mentor/student-exercises/1", "tok-bob", ""), http.StatusForbidden, "FORBIDDEN")
	if body["reason"] != "editor_not_mentor" {
		t.Errorf("reason = %v, want editor_not_mentor", body["reason"])
	}

	env.do(http.MethodGet, "/api/user/me", "tok-alice", "")
	env.do(http.MethodGet, "/api/user/me", "tok-bob", "")
	body = expectErrorCode(t, env.do(http.MethodGet, "/api/mentor/student-exercises/1", "tok-bob", ""), http.StatusForbidden, "FORBIDDEN")
	if body["reason"] != "not_mentor_of_target" {
		t.Errorf("reason = %v, want not_mentor_of_target", body["reason"])
	}
	expectStatus(t, env.do(http.MethodPut, "/api/mentor/student-exercises/1", "tok-bob", pushupProgram), http.StatusForbidden)
	if env.store.programs[alice.ID] != nil {
		t.Error("denied write reached storage")
	}

	// Acting on yourself through the mentor route is always allowed.
	expectStatus(t, env.do(http.MethodGet, "/api/mentor/student-exercises/2", "tok-bob", ""), http.StatusOK)
}

// TestStudentExercisesInvalidID verifies non-numeric ids are rejected.
func TestStudentExercisesInvalidID(t *testing.T) {
	env := newTestEnv(t)
	expectErrorCode(t, env.do(http.MethodGet, "/api/mentor/student-exercises/abc", "tok-bob", ""), http.StatusBadRequest, "INVALID_ID")
}

// TestMentorFlow walks adding a student by code, editing their program,
// renaming and removing them.
func TestMentorFlow(t *testing.T) {
	m := metrics.NewTestManager()
	env := newTestEnv(t, func(o *Options) { o.Metrics = m })

	env.do(http.MethodGet, "/api/user/me", "tok-alice", "")
	env.do(http.MethodGet, "/api/user/me", "tok-bob", "")

	rec := env.do(http.MethodPost, "/api/mentor/add-student-by-code", "tok-bob", `{"student_code":"`+strings.ToLower(mentorCode(1))+`"}`)
	expectStatus(t, rec, http.StatusCreated)

	expectErrorCode(t, env.do(http.MethodPost, "/api/mentor/add-student-by-code", "tok-bob", `{"student_code":"`+mentorCode(1)+`"}`),
		http.StatusConflict, "DUPLICATE_RELATIONSHIP")

	expectStatus(t, env.do(http.MethodPut, "/api/mentor/student-exercises/1", "tok-bob", pushupProgram), http.StatusOK)
	if _, ok := env.store.programs[alice.ID].Workout("Custom", "Push"); !ok {
		t.Fatal("mentor write did not reach the student's program")
	}
	if got := testutil.ToFloat64(m.CounterProgramWrites.WithLabelValues("mentor")); got != 1 {
		t.Errorf("mentor program writes = %v, want 1", got)
	}

	rec = env.do(http.MethodGet, "/api/mentor/student-exercises/1", "tok-bob", "")
	expectStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), "Push-up x10") {
		t.Errorf("mentor read = %s", rec.Body.String())
	}

	expectStatus(t, env.do(http.MethodPut, "/api/mentor/update-student-name/1", "tok-bob", `{"custom_name":"Al"}`), http.StatusOK)
	body := decode(t, env.do(http.MethodGet, "/api/mentor/students", "tok-bob", ""))
	students := body["students"].([]any)
	if len(students) != 1 || students[0].(map[string]any)["custom_name"] != "Al" {
		t.Errorf("students = %v", students)
	}

	expectStatus(t, env.do(http.MethodDelete, "/api/mentor/remove-student/1", "tok-bob", ""), http.StatusOK)
	expectErrorCode(t, env.do(http.MethodDelete, "/api/mentor/remove-student/1", "tok-bob", ""), http.StatusNotFound, "NOT_FOUND")
	body = expectErrorCode(t, env.do(http.MethodGet, "/api/mentor/student-exercises/1", "tok-bob", ""), http.StatusForbidden, "FORBIDDEN")
	if body["reason"] != "not_mentor_of_target" {
		t.Errorf("reason after removal = %v", body["reason"])
	}
	if got := testutil.ToFloat64(m.CounterAccessDenied.WithLabelValues("not_mentor_of_target")); got != 1 {
		t.Errorf("denials = %v, want 1", got)
	}
}

// TestAddStudentCapacity verifies the prime limit is enforced and the
// configured default applies to mentors without one.
func TestAddStudentCapacity(t *testing.T) {
	env := newTestEnv(t, func(o *Options) { o.DefaultMaxStudents = 0 })
	for _, tok := range []string{"tok-alice", "tok-bob", "tok-carol"} {
		env.do(http.MethodGet, "/api/user/me", tok, "")
	}

	expectErrorCode(t, env.do(http.MethodPost, "/api/mentor/add-student-by-code", "tok-bob", `{"student_code":"`+mentorCode(1)+`"}`),
		http.StatusConflict, "CAPACITY_EXCEEDED")

	env.store.limits[bob.ID] = 1
	expectStatus(t, env.do(http.MethodPost, "/api/mentor/add-student-by-code", "tok-bob", `{"student_code":"`+mentorCode(1)+`"}`), http.StatusCreated)
	expectErrorCode(t, env.do(http.MethodPost, "/api/mentor/add-student-by-code", "tok-bob", `{"student_code":"`+mentorCode(3)+`"}`),
		http.StatusConflict, "CAPACITY_EXCEEDED")
}

// TestAddStudentErrors verifies unknown codes, self-adds and empty codes.
func TestAddStudentErrors(t *testing.T) {
	env := newTestEnv(t)
	env.do(http.MethodGet, "/api/user/me", "tok-bob", "")
	expectErrorCode(t, env.do(http.MethodPost, "/api/mentor/add-student-by-code", "tok-bob", `{"student_code":"NOPE0000"}`), http.StatusNotFound, "STUDENT_NOT_FOUND")
	expectErrorCode(t, env.do(http.MethodPost, "/api/mentor/add-student-by-code", "tok-bob", `{"student_code":"`+mentorCode(2)+`"}`), http.StatusBadRequest, "CANNOT_ADD_SELF")
	expectErrorCode(t, env.do(http.MethodPost, "/api/mentor/add-student-by-code", "tok-bob", `{"student_code":"  "}`), http.StatusBadRequest, "MISSING_FIELDS")
}

// TestTrainingDataFallsBackToDefault verifies users without a program get the
// built-in catalog and users with one get theirs.
func TestTrainingDataFallsBackToDefault(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodGet, "/api/training/exercises", "tok-alice", "")
	expectStatus(t, rec, http.StatusOK)
	body := decode(t, rec)
	if body["source"] != "default" {
		t.Errorf("source = %v, want default", body["source"])
	}
	if !strings.Contains(rec.Body.String(), "Foundations A") {
		t.Error("default catalog missing from response")
	}
	user := body["user"].(map[string]any)
	if user["email"] != alice.Email {
		t.Errorf("user = %v", user)
	}

	env.do(http.MethodPut, "/api/user/exercises", "tok-alice", pushupProgram)
	body = decode(t, env.do(http.MethodGet, "/api/training/exercises", "tok-alice", ""))
	if body["source"] != "user" {
		t.Errorf("source = %v, want user", body["source"])
	}
}

// TestCatalog verifies built-in catalogs are served with estimates.
func TestCatalog(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodGet, "/api/training/catalog/Cal", "tok-alice", "")
	expectStatus(t, rec, http.StatusOK)
	body := decode(t, rec)
	est := body["estimates"].(map[string]any)
	if _, ok := est["Beginner"].(map[string]any)["Foundations A"]; !ok {
		t.Errorf("estimates = %v", est)
	}
	expectErrorCode(t, env.do(http.MethodGet, "/api/training/catalog/Nope", "tok-alice", ""), http.StatusNotFound, "NOT_FOUND")
}

// TestHistory verifies sessions can be logged and listed newest first.
func TestHistory(t *testing.T) {
	env := newTestEnv(t)
	expectErrorCode(t, env.do(http.MethodPost, "/api/training/history", "tok-alice", `{"elapsed_seconds":5}`), http.StatusBadRequest, "MISSING_FIELDS")

	expectStatus(t, env.do(http.MethodPost, "/api/training/history", "tok-alice",
		`{"program_name":"Push","level":"Custom","elapsed_seconds":300,"completed_units":3}`), http.StatusCreated)
	expectStatus(t, env.do(http.MethodPost, "/api/training/history", "tok-alice",
		`{"program_name":"Pull","level":"Custom","elapsed_seconds":200,"completed_units":2,"details":{"note":"ok"}}`), http.StatusCreated)

	body := decode(t, env.do(http.MethodGet, "/api/training/history?limit=1", "tok-alice", ""))
	hist := body["history"].([]any)
	if len(hist) != 1 || hist[0].(map[string]any)["program_name"] != "Pull" {
		t.Errorf("history = %v", hist)
	}
}

// TestImportCSV verifies a legacy CSV body becomes a workout in the caller's program.
func TestImportCSV(t *testing.T) {
	env := newTestEnv(t)
	csv := "exercise,round,rest\r\nPush-up x10?,3,15\r\nSquat x20+Lunge x10,2,0"
	rec := env.do(http.MethodPost, "/api/user/exercises/import?name=Mixed", "tok-alice", csv)
	expectStatus(t, rec, http.StatusOK)
	res := decode(t, rec)["result"].(map[string]any)
	if res["level"] != "Custom" || res["total_units"] != float64(5) || res["has_goals"] != true {
		t.Errorf("result = %v", res)
	}
	w, ok := env.store.programs[alice.ID].Workout("Custom", "Mixed")
	if !ok || w.Len() != 2 {
		t.Fatalf("imported workout = %+v, %v", w, ok)
	}

	expectErrorCode(t, env.do(http.MethodPost, "/api/user/exercises/import", "tok-alice", csv), http.StatusBadRequest, "MISSING_FIELDS")
	expectErrorCode(t, env.do(http.MethodPost, "/api/user/exercises/import?name=X", "tok-alice", "exercise,round,rest\r\nPush,x,1"), http.StatusBadRequest, "IMPORT_FAILED")
}

// TestImportCSVCorruptProgram verifies an import never overwrites an unreadable
// stored program; the caller has to reset it first.
func TestImportCSVCorruptProgram(t *testing.T) {
	env := newTestEnv(t)
	env.store.corrupt[alice.ID] = true
	csv := "exercise,round,rest\r\nPush-up x10,3,15"

	rec := env.do(http.MethodPost, "/api/user/exercises/import?name=Mixed", "tok-alice", csv)
	expectErrorCode(t, rec, http.StatusConflict, "PROGRAM_UNREADABLE")
	if !env.store.corrupt[alice.ID] {
		t.Error("corrupt program was replaced by the import")
	}

	expectStatus(t, env.do(http.MethodDelete, "/api/user/exercises", "tok-alice", ""), http.StatusOK)
	expectStatus(t, env.do(http.MethodPost, "/api/user/exercises/import?name=Mixed", "tok-alice", csv), http.StatusOK)
}

// TestMetricsHistory verifies body measurements are listed.
func TestMetricsHistory(t *testing.T) {
	env := newTestEnv(t)
	env.do(http.MethodPut, "/api/user/profile", "tok-alice", `{"weight":70}`)
	env.do(http.MethodPut, "/api/user/profile", "tok-alice", `{"weight":69}`)
	body := decode(t, env.do(http.MethodGet, "/api/user/metrics", "tok-alice", ""))
	if got := len(body["metrics"].([]any)); got != 2 {
		t.Errorf("metrics entries = %d, want 2", got)
	}
}

// TestLoginAndRegister verifies credential flows are proxied and create the profile.
func TestLoginAndRegister(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodPost, "/auth/login", "", `{"email":"n@example.com","password":"secret"}`)
	expectStatus(t, rec, http.StatusOK)
	if body := decode(t, rec); body["token"] != "tok-login" {
		t.Errorf("token = %v", body["token"])
	}
	if _, ok := env.store.profiles[9]; !ok {
		t.Error("login did not create a profile")
	}

	expectErrorCode(t, env.do(http.MethodPost, "/auth/login", "", `{"email":"n@example.com","password":"bad"}`), http.StatusUnauthorized, "LOGIN_FAILED")
	expectErrorCode(t, env.do(http.MethodPost, "/auth/login", "", `{"email":"n@example.com"}`), http.StatusBadRequest, "MISSING_FIELDS")

	expectStatus(t, env.do(http.MethodPost, "/auth/register", "", `{"name":"Ten","email":"t@example.com","password":"pw"}`), http.StatusOK)
	expectErrorCode(t, env.do(http.MethodPost, "/auth/register", "", `{"email":"t@example.com"}`), http.StatusBadRequest, "MISSING_FIELDS")
}

// TestVerify verifies tokens can be checked from the header or the body.
func TestVerify(t *testing.T) {
	env := newTestEnv(t)
	expectStatus(t, env.do(http.MethodPost, "/auth/verify", "tok-alice", ""), http.StatusOK)
	body := decode(t, env.do(http.MethodPost, "/auth/verify", "", `{"token":"tok-bob"}`))
	if body["user"].(map[string]any)["email"] != bob.Email {
		t.Errorf("verify body = %v", body)
	}
	expectErrorCode(t, env.do(http.MethodPost, "/auth/verify", "", ""), http.StatusUnauthorized, "MISSING_TOKEN")
	expectErrorCode(t, env.do(http.MethodPost, "/auth/verify", "bogus", ""), http.StatusUnauthorized, "INVALID_TOKEN")
}

// countingValidator counts validations that reach past the cache.
type countingValidator struct {
	next  oauth.Validator
	calls int
}

func (c *countingValidator) Validate(ctx context.Context, token string) (*models.AuthUser, error) {
	c.calls++
	return c.next.Validate(ctx, token)
}

// TestLogoutForgetsCachedToken verifies logout evicts the caller's token from
// the validation cache so the next request is checked with the proxy again.
func TestLogoutForgetsCachedToken(t *testing.T) {
	inner := &countingValidator{next: &fakeValidator{users: map[string]models.AuthUser{"tok-alice": alice}}}
	cached := oauth.NewCachedValidator(inner, 1024*1024, time.Minute, quietLog)
	env := newTestEnv(t, func(o *Options) { o.Validator = cached })

	expectStatus(t, env.do(http.MethodGet, "/api/user/me", "tok-alice", ""), http.StatusOK)
	expectStatus(t, env.do(http.MethodGet, "/api/user/me", "tok-alice", ""), http.StatusOK)
	if inner.calls != 1 {
		t.Fatalf("proxy validations before logout = %d, want 1", inner.calls)
	}

	rec := env.do(http.MethodPost, "/auth/logout", "tok-alice", "")
	expectStatus(t, rec, http.StatusOK)
	if body := decode(t, rec); body["success"] != true {
		t.Errorf("logout body = %v", body)
	}

	expectStatus(t, env.do(http.MethodGet, "/api/user/me", "tok-alice", ""), http.StatusOK)
	if inner.calls != 2 {
		t.Errorf("proxy validations after logout = %d, want 2", inner.calls)
	}

	expectErrorCode(t, env.do(http.MethodPost, "/auth/logout", "", ""), http.StatusUnauthorized, "MISSING_TOKEN")
}

// TestProviderURL verifies the social login URL is passed through.
func TestProviderURL(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodGet, "/api/oauth/google/url", "", "")
	expectStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), "accounts.example/google") {
		t.Errorf("body = %s", rec.Body.String())
	}
	expectErrorCode(t, env.do(http.MethodGet, "/api/oauth/myspace/url", "", ""), http.StatusNotFound, "UNKNOWN_PROVIDER")
}

type denyLimiter struct{ calls int }

func (d *denyLimiter) Allow(_ context.Context, _ string, _ redis_rate.Limit) (*redis_rate.Result, error) {
	d.calls++
	if d.calls > 1 {
		return &redis_rate.Result{Allowed: 0, RetryAfter: 30e9}, nil
	}
	return &redis_rate.Result{Allowed: 1, Remaining: 0}, nil
}

// TestAuthRateLimit verifies /auth routes are limited when a limiter is configured.
func TestAuthRateLimit(t *testing.T) {
	m := metrics.NewTestManager()
	lim := &denyLimiter{}
	env := newTestEnv(t, func(o *Options) {
		o.RateLimiter = lim
		o.AuthPerMinute = 1
		o.Metrics = m
	})
	login := `{"email":"n@example.com","password":"secret"}`
	expectStatus(t, env.do(http.MethodPost, "/auth/login", "", login), http.StatusOK)
	rec := env.do(http.MethodPost, "/auth/login", "", login)
	expectErrorCode(t, rec, http.StatusTooManyRequests, "RATE_LIMITED")
	if rec.Header().Get("Retry-After") != "31" {
		t.Errorf("Retry-After = %q, want 31", rec.Header().Get("Retry-After"))
	}
	if got := testutil.ToFloat64(m.CounterRateLimited); got != 1 {
		t.Errorf("rate limited counter = %v, want 1", got)
	}

	// Other routes are not limited.
	expectStatus(t, env.do(http.MethodGet, "/health", "", ""), http.StatusOK)
}

// TestAuthRateLimitProxyHeaders verifies X-Forwarded-For only changes the
// limiter key when the server is configured to trust its proxy.
func TestAuthRateLimitProxyHeaders(t *testing.T) {
	login := `{"email":"n@example.com","password":"secret"}`
	send := func(env *testEnv, fwd string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(login))
		req.Header.Set("X-Forwarded-For", fwd)
		rec := httptest.NewRecorder()
		env.srv.ServeHTTP(rec, req)
		return rec
	}

	direct := newTestEnv(t, func(o *Options) {
		o.RateLimiter = &keyLimiter{}
		o.AuthPerMinute = 1
	})
	expectStatus(t, send(direct, "198.51.100.1"), http.StatusOK)
	expectErrorCode(t, send(direct, "198.51.100.2"), http.StatusTooManyRequests, "RATE_LIMITED")

	lim := &keyLimiter{}
	proxied := newTestEnv(t, func(o *Options) {
		o.RateLimiter = lim
		o.AuthPerMinute = 1
		o.TrustProxyHeaders = true
	})
	expectStatus(t, send(proxied, "198.51.100.1"), http.StatusOK)
	expectStatus(t, send(proxied, "198.51.100.2"), http.StatusOK)
	expectErrorCode(t, send(proxied, "198.51.100.1"), http.StatusTooManyRequests, "RATE_LIMITED")
	if lim.seen["auth:198.51.100.1"] != 2 || lim.seen["auth:198.51.100.2"] != 1 {
		t.Errorf("limiter keys = %v", lim.seen)
	}
}

// TestMCPMountRequiresAuth verifies the MCP handler sits behind bearer auth
// and sees the caller in its context.
func TestMCPMountRequiresAuth(t *testing.T) {
	var seen models.AuthUser
	mcpHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = UserFromContext(r.Context())
		w.WriteHeader(http.StatusAccepted)
	})
	env := newTestEnv(t, func(o *Options) { o.MCP = mcpHandler })
	expectErrorCode(t, env.do(http.MethodPost, "/mcp", "", `{}`), http.StatusUnauthorized, "MISSING_TOKEN")
	expectStatus(t, env.do(http.MethodPost, "/mcp", "tok-carol", `{}`), http.StatusAccepted)
	if seen.ID != carol.ID {
		t.Errorf("mcp saw user %+v, want carol", seen)
	}
}
