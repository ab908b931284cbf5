package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/claude/njktraining/internal/catalog"
	"github.com/claude/njktraining/internal/models"
	"github.com/claude/njktraining/internal/session"
	"github.com/go-chi/chi/v5"
)

// handleTrainingData is the player's bootstrap: identity plus the program to
// run. Users without a program get the built-in default catalog.
func (s *Server) handleTrainingData(w http.ResponseWriter, r *http.Request) {
	user, ok := mustUser(w, r)
	if !ok {
		return
	}
	profile, _, err := s.store.EnsureProfile(r.Context(), user)
	if err != nil {
		s.writeStoreError(w, "loading profile", err)
		return
	}
	program, err := s.loadProgram(r, user.ID)
	if err != nil {
		s.writeStoreError(w, "loading program", err)
		return
	}
	source := "user"
	if program == nil {
		source = "default"
		program, err = catalog.Default()
		if err != nil {
			s.writeStoreError(w, "loading default catalog", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"user": map[string]any{
			"id":        profile.UserID,
			"name":      profile.UserName,
			"email":     profile.UserEmail,
			"mentor_id": profile.MentorID,
		},
		"exercises": program,
		"source":    source,
	})
}

// estimates maps level → workout → seconds.
func estimates(c *models.Catalog) map[string]map[string]int {
	out := map[string]map[string]int{}
	for _, level := range c.Levels() {
		out[level] = map[string]int{}
		for _, name := range c.Workouts(level) {
			wk, _ := c.Workout(level, name)
			out[level][name] = session.Estimate(session.FromWorkout(name, wk))
		}
	}
	return out
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	c, err := catalog.Load(name)
	if err != nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "unknown catalog "+name+", available: "+strings.Join(catalog.Names(), ", "))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"name":      name,
		"exercises": c,
		"estimates": estimates(c),
	})
}

type historyRequest struct {
	ProgramName    string          `json:"program_name"`
	Level          string          `json:"level"`
	ElapsedSeconds int             `json:"elapsed_seconds"`
	CompletedUnits int             `json:"completed_units"`
	Details        json.RawMessage `json:"details"`
}

func (s *Server) handleAddHistory(w http.ResponseWriter, r *http.Request) {
	user, ok := mustUser(w, r)
	if !ok {
		return
	}
	var req historyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ProgramName == "" {
		writeError(w, http.StatusBadRequest, "MISSING_FIELDS", "program_name is required")
		return
	}
	if req.ElapsedSeconds < 0 || req.CompletedUnits < 0 {
		writeError(w, http.StatusBadRequest, "VALIDATION_FAILED", "elapsed_seconds and completed_units must not be negative")
		return
	}
	if _, _, err := s.store.EnsureProfile(r.Context(), user); err != nil {
		s.writeStoreError(w, "loading profile", err)
		return
	}
	id, err := s.store.AddHistory(r.Context(), models.HistoryEntry{
		UserID:         user.ID,
		ProgramName:    req.ProgramName,
		Level:          req.Level,
		ElapsedSeconds: req.ElapsedSeconds,
		CompletedUnits: req.CompletedUnits,
		Details:        req.Details,
	})
	if err != nil {
		s.writeStoreError(w, "saving history", err)
		return
	}
	if s.metrics != nil {
		s.metrics.CounterSessionsLogged.Inc()
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "id": id})
}

func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	user, ok := mustUser(w, r)
	if !ok {
		return
	}
	entries, err := s.store.ListHistory(r.Context(), user.ID, queryLimit(r, 50))
	if err != nil {
		s.writeStoreError(w, "loading history", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "history": entries})
}
