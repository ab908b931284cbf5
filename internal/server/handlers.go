package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/claude/njktraining/internal/models"
	"github.com/claude/njktraining/internal/oauth"
	"github.com/claude/njktraining/internal/storage"
	"github.com/go-chi/chi/v5"
)

// maxBodyBytes bounds request bodies; programs are small JSON documents.
const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: code, Message: message})
}

// writeStoreError maps storage sentinels to client errors and logs the rest.
func (s *Server) writeStoreError(w http.ResponseWriter, action string, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "not found")
	case errors.Is(err, storage.ErrEmailTaken):
		writeError(w, http.StatusBadRequest, "CONSTRAINT_VIOLATION", err.Error())
	default:
		s.log.Error(action+" failed", "error", err)
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", action+" failed")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "invalid JSON: "+err.Error())
		return false
	}
	return true
}

// mustUser returns the authenticated caller. BearerAuth guarantees it on /api routes.
func mustUser(w http.ResponseWriter, r *http.Request) (models.AuthUser, bool) {
	u, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "MISSING_TOKEN", "authentication required")
	}
	return u, ok
}

func pathUserID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "invalid user id")
		return 0, false
	}
	return id, true
}

func queryLimit(r *http.Request, def int) int {
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"status":    "ok",
		"service":   "njktraining",
		"version":   s.opts.Version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

type loginRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "MISSING_FIELDS", "email and password are required")
		return
	}
	res, err := s.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeCredentialError(w, "LOGIN_FAILED", err)
		return
	}
	s.ensureProfileQuietly(r, res)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" || req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "MISSING_FIELDS", "name, email and password are required")
		return
	}
	res, err := s.auth.Register(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		s.writeCredentialError(w, "REGISTER_FAILED", err)
		return
	}
	s.ensureProfileQuietly(r, res)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) writeCredentialError(w http.ResponseWriter, code string, err error) {
	if errors.Is(err, oauth.ErrUnavailable) {
		s.log.Warn("auth service unavailable", "error", err)
		writeError(w, http.StatusUnauthorized, "AUTH_SERVICE_UNAVAILABLE", "authentication service unavailable")
		return
	}
	writeError(w, http.StatusUnauthorized, code, err.Error())
}

// ensureProfileQuietly creates the profile at login time. Failure is logged;
// /api/user/me retries it.
func (s *Server) ensureProfileQuietly(r *http.Request, res *oauth.AuthResult) {
	if res == nil || res.User == nil {
		return
	}
	if _, created, err := s.store.EnsureProfile(r.Context(), *res.User); err != nil {
		s.log.Warn("creating profile at login", "user_id", res.User.ID, "error", err)
	} else if created {
		s.log.Info("profile created", "user_id", res.User.ID)
	}
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		var body struct {
			Token string `json:"token"`
		}
		if r.ContentLength != 0 {
			_ = json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body)
		}
		token = body.Token
	}
	if token == "" {
		writeError(w, http.StatusUnauthorized, "MISSING_TOKEN", "token required")
		return
	}
	user, err := s.valid.Validate(r.Context(), token)
	if err != nil {
		writeAuthError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "user": user})
}

// tokenForgetter drops a token from a validation cache. *oauth.CachedValidator implements it.
type tokenForgetter interface {
	Forget(token string)
}

var _ tokenForgetter = (*oauth.CachedValidator)(nil)

// handleLogout drops the caller's token from the validation cache so it stops
// working here before the cache TTL runs out. Tokens are issued by the proxy;
// revoking them there is the client's concern.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "MISSING_TOKEN", "token required")
		return
	}
	if f, ok := s.valid.(tokenForgetter); ok {
		f.Forget(token)
	}
	s.log.Info("logout", "remote", clientAddr(r))
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Logged out successfully"})
}

func (s *Server) handleProviderURL(w http.ResponseWriter, r *http.Request) {
	raw, err := s.auth.ProviderURL(r.Context(), chi.URLParam(r, "provider"))
	switch {
	case errors.Is(err, oauth.ErrUnknownProvider):
		writeError(w, http.StatusNotFound, "UNKNOWN_PROVIDER", err.Error())
		return
	case err != nil:
		s.log.Warn("oauth provider url", "error", err)
		writeError(w, http.StatusUnauthorized, "AUTH_SERVICE_UNAVAILABLE", "authentication service unavailable")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(raw)
}
