package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/claude/njktraining/internal/models"
	"github.com/claude/njktraining/internal/storage"
)

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := mustUser(w, r)
	if !ok {
		return
	}
	profile, created, err := s.store.EnsureProfile(r.Context(), user)
	if err != nil {
		s.writeStoreError(w, "loading profile", err)
		return
	}
	latest, err := s.store.LatestMetrics(r.Context(), user.ID)
	if err != nil {
		s.writeStoreError(w, "loading metrics", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"user":    profile,
		"metrics": latest,
		"created": created,
	})
}

type profileRequest struct {
	Gender    *string         `json:"gender"`
	Birthdate *string         `json:"birthdate"`
	Height    *float64        `json:"height"`
	Weight    *float64        `json:"weight"`
	Exercises json.RawMessage `json:"exercises"`
}

func (p profileRequest) validate() string {
	if p.Gender != nil && len(*p.Gender) > 16 {
		return "gender is too long"
	}
	if p.Birthdate != nil && *p.Birthdate != "" {
		if _, err := time.Parse("2006-01-02", *p.Birthdate); err != nil {
			return "birthdate must be YYYY-MM-DD"
		}
	}
	if p.Height != nil && (*p.Height <= 0 || *p.Height > 300) {
		return "height must be between 0 and 300"
	}
	if p.Weight != nil && (*p.Weight <= 0 || *p.Weight > 700) {
		return "weight must be between 0 and 700"
	}
	return ""
}

// handleUpdateProfile updates profile fields and appends a metrics entry.
// A program in the payload is only stored when the user has none yet.
func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	user, ok := mustUser(w, r)
	if !ok {
		return
	}
	var req profileRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_FAILED", msg)
		return
	}

	var program *models.Catalog
	if len(req.Exercises) > 0 && string(req.Exercises) != "null" {
		c, err := models.ParseCatalog(req.Exercises)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_PROGRAM", err.Error())
			return
		}
		program = c
	}

	ctx := r.Context()
	if _, _, err := s.store.EnsureProfile(ctx, user); err != nil {
		s.writeStoreError(w, "loading profile", err)
		return
	}
	if err := s.store.UpdateProfile(ctx, user.ID, storage.ProfileUpdate{Gender: req.Gender, Birthdate: req.Birthdate}); err != nil {
		s.writeStoreError(w, "updating profile", err)
		return
	}
	if req.Height != nil || req.Weight != nil {
		if err := s.store.AppendMetrics(ctx, user.ID, req.Height, req.Weight); err != nil {
			s.writeStoreError(w, "saving metrics", err)
			return
		}
	}
	programSaved := false
	if program != nil {
		saved, err := s.store.InsertProgramIfAbsent(ctx, user.ID, program)
		if err != nil {
			s.writeStoreError(w, "saving program", err)
			return
		}
		programSaved = saved
		if saved {
			s.countProgramWrite("profile")
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"message":       "profile updated",
		"program_saved": programSaved,
	})
}

func (s *Server) handleMetricsHistory(w http.ResponseWriter, r *http.Request) {
	user, ok := mustUser(w, r)
	if !ok {
		return
	}
	entries, err := s.store.MetricsHistory(r.Context(), user.ID, queryLimit(r, 100))
	if err != nil {
		s.writeStoreError(w, "loading metrics", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "metrics": entries})
}

// loadProgram reads a stored program. An unreadable program degrades to nil.
func (s *Server) loadProgram(r *http.Request, userID int64) (*models.Catalog, error) {
	c, err := s.store.GetProgram(r.Context(), userID)
	if errors.Is(err, storage.ErrCorruptProgram) {
		s.log.Warn("stored program unreadable", "user_id", userID, "error", err)
		return nil, nil
	}
	return c, err
}

// programResponse keeps "exercises" present as null when the user has no program.
func programResponse(userID int64, c *models.Catalog) map[string]any {
	var exercises any
	if c != nil {
		exercises = c
	}
	return map[string]any{"success": true, "user_id": userID, "exercises": exercises}
}

type programRequest struct {
	Exercises json.RawMessage `json:"exercises"`
}

func decodeProgram(w http.ResponseWriter, r *http.Request) (*models.Catalog, bool) {
	var req programRequest
	if !decodeBody(w, r, &req) {
		return nil, false
	}
	if len(req.Exercises) == 0 || string(req.Exercises) == "null" {
		writeError(w, http.StatusBadRequest, "MISSING_FIELDS", "exercises is required")
		return nil, false
	}
	c, err := models.ParseCatalog(req.Exercises)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_PROGRAM", err.Error())
		return nil, false
	}
	return c, true
}

func (s *Server) handleGetExercises(w http.ResponseWriter, r *http.Request) {
	user, ok := mustUser(w, r)
	if !ok {
		return
	}
	c, err := s.loadProgram(r, user.ID)
	if err != nil {
		s.writeStoreError(w, "loading program", err)
		return
	}
	writeJSON(w, http.StatusOK, programResponse(user.ID, c))
}

func (s *Server) handlePutExercises(w http.ResponseWriter, r *http.Request) {
	user, ok := mustUser(w, r)
	if !ok {
		return
	}
	c, ok := decodeProgram(w, r)
	if !ok {
		return
	}
	if _, _, err := s.store.EnsureProfile(r.Context(), user); err != nil {
		s.writeStoreError(w, "loading profile", err)
		return
	}
	if err := s.store.UpsertProgram(r.Context(), user.ID, c); err != nil {
		s.writeStoreError(w, "saving program", err)
		return
	}
	s.countProgramWrite("self")
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "program saved"})
}

func (s *Server) handleResetExercises(w http.ResponseWriter, r *http.Request) {
	user, ok := mustUser(w, r)
	if !ok {
		return
	}
	if err := s.store.ResetProgram(r.Context(), user.ID); err != nil {
		s.writeStoreError(w, "resetting program", err)
		return
	}
	s.countProgramWrite("reset")
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "program reset"})
}

// handleImportExercises stores a legacy CSV body as one workout.
// Query: level (default "Custom"), name (required).
func (s *Server) handleImportExercises(w http.ResponseWriter, r *http.Request) {
	user, ok := mustUser(w, r)
	if !ok {
		return
	}
	level := r.URL.Query().Get("level")
	if level == "" {
		level = "Custom"
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "MISSING_FIELDS", "name parameter required")
		return
	}
	if _, _, err := s.store.EnsureProfile(r.Context(), user); err != nil {
		s.writeStoreError(w, "loading profile", err)
		return
	}
	result, err := s.csv.Import(r.Context(), user.ID, level, name, http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if errors.Is(err, storage.ErrCorruptProgram) {
		s.log.Warn("csv import refused", "user_id", user.ID, "error", err)
		writeError(w, http.StatusConflict, "PROGRAM_UNREADABLE", "stored program is unreadable; reset it before importing")
		return
	}
	if err != nil {
		s.log.Warn("csv import failed", "user_id", user.ID, "error", err)
		writeError(w, http.StatusBadRequest, "IMPORT_FAILED", err.Error())
		return
	}
	s.countProgramWrite("import")
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "result": result})
}

func (s *Server) countProgramWrite(kind string) {
	if s.metrics != nil {
		s.metrics.CounterProgramWrites.WithLabelValues(kind).Inc()
	}
}
