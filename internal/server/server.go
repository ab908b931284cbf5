package server

import (
	"context"
	"encoding/json"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/claude/njktraining/internal/access"
	"github.com/claude/njktraining/internal/ingest/legacycsv"
	"github.com/claude/njktraining/internal/metrics"
	"github.com/claude/njktraining/internal/models"
	"github.com/claude/njktraining/internal/oauth"
	"github.com/claude/njktraining/internal/storage"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Store is the persistence surface the handlers need. *storage.DB implements it.
type Store interface {
	EnsureProfile(ctx context.Context, u models.AuthUser) (*models.Profile, bool, error)
	GetProfile(ctx context.Context, userID int64) (*models.Profile, error)
	UpdateProfile(ctx context.Context, userID int64, u storage.ProfileUpdate) error
	ProfileByMentorID(ctx context.Context, code string) (*models.Profile, error)
	MentorIDOf(ctx context.Context, userID int64) (string, error)

	AppendMetrics(ctx context.Context, userID int64, height, weight *float64) error
	LatestMetrics(ctx context.Context, userID int64) (*models.MetricEntry, error)
	MetricsHistory(ctx context.Context, userID int64, limit int) ([]models.MetricEntry, error)

	GetProgram(ctx context.Context, userID int64) (*models.Catalog, error)
	UpsertProgram(ctx context.Context, userID int64, c *models.Catalog) error
	InsertProgramIfAbsent(ctx context.Context, userID int64, c *models.Catalog) (bool, error)
	ResetProgram(ctx context.Context, userID int64) error

	MentorLimit(ctx context.Context, userID int64, def int) (int, error)
	AddStudent(ctx context.Context, mentorID string, studentUserID int64, limit int) error
	RemoveStudent(ctx context.Context, mentorID string, studentUserID int64) error
	UpdateStudentName(ctx context.Context, mentorID string, studentUserID int64, name string) error
	HasStudent(ctx context.Context, mentorID string, studentUserID int64) (bool, error)
	ListStudents(ctx context.Context, mentorID string) ([]models.Student, error)

	AddHistory(ctx context.Context, e models.HistoryEntry) (int64, error)
	ListHistory(ctx context.Context, userID int64, limit int) ([]models.HistoryEntry, error)
}

var _ Store = (*storage.DB)(nil)

// AuthService forwards credential flows to the OAuth proxy. *oauth.Client implements it.
type AuthService interface {
	Login(ctx context.Context, email, password string) (*oauth.AuthResult, error)
	Register(ctx context.Context, name, email, password string) (*oauth.AuthResult, error)
	ProviderURL(ctx context.Context, provider string) (json.RawMessage, error)
}

var _ AuthService = (*oauth.Client)(nil)

// Options carries the server's dependencies. Metrics, RateLimiter, MCP and
// MetricsHandler are optional. TrustProxyHeaders takes the client address
// from X-Forwarded-For / X-Real-IP; set it only behind a proxy that rewrites them.
type Options struct {
	Store              Store
	Auth               AuthService
	Validator          oauth.Validator
	Metrics            *metrics.Manager
	MetricsHandler     http.Handler
	RateLimiter        RequestRateLimiter
	AuthPerMinute      int
	TrustProxyHeaders  bool
	DefaultMaxStudents int
	MCP                http.Handler
	Version            string
	Log                *slog.Logger
}

// Server holds dependencies for HTTP handlers.
type Server struct {
	store   Store
	auth    AuthService
	valid   oauth.Validator
	gate    *access.Gate
	csv     *legacycsv.Provider
	metrics *metrics.Manager
	opts    Options
	log     *slog.Logger
	router  chi.Router
}

// New creates a new Server with all routes configured.
func New(opts Options) *Server {
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	s := &Server{
		store:   opts.Store,
		auth:    opts.Auth,
		valid:   opts.Validator,
		gate:    access.NewGate(opts.Store),
		csv:     legacycsv.NewProvider(opts.Store, opts.Log),
		metrics: opts.Metrics,
		opts:    opts,
		log:     opts.Log,
		router:  chi.NewRouter(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	if s.opts.TrustProxyHeaders {
		s.router.Use(middleware.RealIP)
	}
	s.router.Use(RequestLogging(s.log))
	s.router.Use(CORS)
	s.router.Use(PanicRecovery(s.log, s.metrics))
	if s.metrics != nil {
		s.router.Use(RequestMetrics(s.metrics))
	}

	s.router.Get("/health", s.handleHealth)
	if s.opts.MetricsHandler != nil {
		s.router.Handle("/metrics", s.opts.MetricsHandler)
	}

	// Credential flows are proxied to the OAuth service.
	s.router.Route("/auth", func(r chi.Router) {
		if s.opts.RateLimiter != nil && s.opts.AuthPerMinute > 0 {
			r.Use(RateLimit(s.opts.RateLimiter, "auth", s.opts.AuthPerMinute, s.log, s.metrics))
		}
		r.Post("/login", s.handleLogin)
		r.Post("/register", s.handleRegister)
		r.Post("/verify", s.handleVerify)
		r.Post("/logout", s.handleLogout)
	})

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/oauth/{provider}/url", s.handleProviderURL)

		r.Group(func(r chi.Router) {
			r.Use(BearerAuth(s.valid, s.log))

			r.Get("/user/me", s.handleMe)
			r.Put("/user/profile", s.handleUpdateProfile)
			r.Get("/user/metrics", s.handleMetricsHistory)
			r.Get("/user/exercises", s.handleGetExercises)
			r.Put("/user/exercises", s.handlePutExercises)
			r.Delete("/user/exercises", s.handleResetExercises)
			r.Post("/user/exercises/import", s.handleImportExercises)

			r.Get("/mentor/student-exercises/{studentId}", s.handleGetStudentExercises)
			r.Put("/mentor/student-exercises/{studentId}", s.handlePutStudentExercises)
			r.Post("/mentor/add-student-by-code", s.handleAddStudent)
			r.Delete("/mentor/remove-student/{id}", s.handleRemoveStudent)
			r.Put("/mentor/update-student-name/{id}", s.handleUpdateStudentName)
			r.Get("/mentor/students", s.handleListStudents)

			r.Get("/training/exercises", s.handleTrainingData)
			r.Get("/training/catalog/{name}", s.handleCatalog)
			r.Get("/training/history", s.handleListHistory)
			r.Post("/training/history", s.handleAddHistory)
		})
	})

	if s.opts.MCP != nil {
		s.router.Group(func(r chi.Router) {
			r.Use(BearerAuth(s.valid, s.log))
			r.Handle("/mcp", s.opts.MCP)
		})
	}
}

// SetFrontend mounts a static SPA filesystem.
// Unmatched routes serve index.html for client-side routing.
func (s *Server) SetFrontend(webFS fs.FS) {
	fileServer := http.FileServerFS(webFS)

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		f, err := webFS.Open(r.URL.Path[1:])
		if err == nil {
			f.Close()
			fileServer.ServeHTTP(w, r)
			return
		}
		r.URL.Path = "/"
		fileServer.ServeHTTP(w, r)
	})
}
