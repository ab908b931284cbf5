package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/claude/njktraining/internal/access"
	"github.com/claude/njktraining/internal/storage"
)

// authorize consults the gate for the caller acting on targetID and writes
// a 403 carrying the reason when denied.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request, editorID, targetID int64) bool {
	d, err := s.gate.Check(r.Context(), editorID, targetID)
	if err != nil {
		s.writeStoreError(w, "checking access", err)
		return false
	}
	if !d.Allowed {
		if s.metrics != nil {
			s.metrics.CounterAccessDenied.WithLabelValues(string(d.Reason)).Inc()
		}
		s.log.Info("access denied", "editor", editorID, "target", targetID, "reason", d.Reason)
		writeJSON(w, http.StatusForbidden, errorBody{
			Error:   "FORBIDDEN",
			Message: "not allowed to access this user's program",
			Reason:  string(d.Reason),
		})
		return false
	}
	return true
}

func (s *Server) handleGetStudentExercises(w http.ResponseWriter, r *http.Request) {
	user, ok := mustUser(w, r)
	if !ok {
		return
	}
	studentID, ok := pathUserID(w, r, "studentId")
	if !ok {
		return
	}
	if !s.authorize(w, r, user.ID, studentID) {
		return
	}
	c, err := s.loadProgram(r, studentID)
	if err != nil {
		s.writeStoreError(w, "loading program", err)
		return
	}
	writeJSON(w, http.StatusOK, programResponse(studentID, c))
}

func (s *Server) handlePutStudentExercises(w http.ResponseWriter, r *http.Request) {
	user, ok := mustUser(w, r)
	if !ok {
		return
	}
	studentID, ok := pathUserID(w, r, "studentId")
	if !ok {
		return
	}
	if !s.authorize(w, r, user.ID, studentID) {
		return
	}
	c, ok := decodeProgram(w, r)
	if !ok {
		return
	}
	if err := s.store.UpsertProgram(r.Context(), studentID, c); err != nil {
		s.writeStoreError(w, "saving program", err)
		return
	}
	kind := "mentor"
	if studentID == user.ID {
		kind = "self"
	}
	s.countProgramWrite(kind)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "program saved"})
}

// callerMentorID returns the caller's mentor code, creating their profile if needed.
func (s *Server) callerMentorID(w http.ResponseWriter, r *http.Request) (string, int64, bool) {
	user, ok := mustUser(w, r)
	if !ok {
		return "", 0, false
	}
	p, _, err := s.store.EnsureProfile(r.Context(), user)
	if err != nil {
		s.writeStoreError(w, "loading profile", err)
		return "", 0, false
	}
	return p.MentorID, user.ID, true
}

type addStudentRequest struct {
	StudentCode string `json:"student_code"`
}

func (s *Server) handleAddStudent(w http.ResponseWriter, r *http.Request) {
	mentorID, userID, ok := s.callerMentorID(w, r)
	if !ok {
		return
	}
	var req addStudentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	code := strings.ToUpper(strings.TrimSpace(req.StudentCode))
	if code == "" {
		writeError(w, http.StatusBadRequest, "MISSING_FIELDS", "student_code is required")
		return
	}

	student, err := s.store.ProfileByMentorID(r.Context(), code)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "STUDENT_NOT_FOUND", "no user with that code")
		return
	}
	if err != nil {
		s.writeStoreError(w, "looking up student", err)
		return
	}
	if student.UserID == userID {
		writeError(w, http.StatusBadRequest, "CANNOT_ADD_SELF", "you cannot add yourself as a student")
		return
	}

	limit, err := s.store.MentorLimit(r.Context(), userID, s.opts.DefaultMaxStudents)
	if err != nil {
		s.writeStoreError(w, "loading mentor limit", err)
		return
	}
	err = s.store.AddStudent(r.Context(), mentorID, student.UserID, limit)
	switch {
	case errors.Is(err, storage.ErrDuplicateRelationship):
		writeError(w, http.StatusConflict, "DUPLICATE_RELATIONSHIP", "student already added")
		return
	case errors.Is(err, access.ErrCapacityExceeded):
		writeError(w, http.StatusConflict, "CAPACITY_EXCEEDED", err.Error())
		return
	case err != nil:
		s.writeStoreError(w, "adding student", err)
		return
	}

	s.log.Info("student added", "mentor_id", mentorID, "student_user_id", student.UserID)
	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"message": "student added",
		"student": map[string]any{
			"user_id":    student.UserID,
			"user_name":  student.UserName,
			"user_email": student.UserEmail,
		},
	})
}

func (s *Server) handleRemoveStudent(w http.ResponseWriter, r *http.Request) {
	mentorID, _, ok := s.callerMentorID(w, r)
	if !ok {
		return
	}
	studentID, ok := pathUserID(w, r, "id")
	if !ok {
		return
	}
	if err := s.store.RemoveStudent(r.Context(), mentorID, studentID); err != nil {
		s.writeStoreError(w, "removing student", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "student removed"})
}

type studentNameRequest struct {
	CustomName string `json:"custom_name"`
}

func (s *Server) handleUpdateStudentName(w http.ResponseWriter, r *http.Request) {
	mentorID, _, ok := s.callerMentorID(w, r)
	if !ok {
		return
	}
	studentID, ok := pathUserID(w, r, "id")
	if !ok {
		return
	}
	var req studentNameRequest
	if !decodeBody(w, r, &req) {
		return
	}
	name := strings.TrimSpace(req.CustomName)
	if len(name) > 100 {
		writeError(w, http.StatusBadRequest, "VALIDATION_FAILED", "custom_name is too long")
		return
	}
	if err := s.store.UpdateStudentName(r.Context(), mentorID, studentID, name); err != nil {
		s.writeStoreError(w, "updating student name", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "student name updated"})
}

func (s *Server) handleListStudents(w http.ResponseWriter, r *http.Request) {
	mentorID, _, ok := s.callerMentorID(w, r)
	if !ok {
		return
	}
	students, err := s.store.ListStudents(r.Context(), mentorID)
	if err != nil {
		s.writeStoreError(w, "listing students", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"mentor_id": mentorID,
		"students":  students,
	})
}
