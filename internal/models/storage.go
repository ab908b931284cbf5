package models

import (
	"encoding/json"
	"time"
)

// Profile is a row of the profiles table.
type Profile struct {
	UserID    int64     `json:"user_id"`
	UserEmail string    `json:"user_email"`
	UserName  string    `json:"user_name"`
	Gender    string    `json:"gender"`
	Birthdate string    `json:"birthdate,omitempty"`
	MentorID  string    `json:"mentor_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MetricEntry is one body-metrics measurement. Entries are append-only;
// the latest one is the current value.
type MetricEntry struct {
	UserID    int64     `json:"user_id"`
	Height    *float64  `json:"height"`
	Weight    *float64  `json:"weight"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Student is a mentor→student edge joined with the student's profile.
type Student struct {
	UserID     int64     `json:"user_id"`
	UserName   string    `json:"user_name"`
	UserEmail  string    `json:"user_email"`
	MentorID   string    `json:"mentor_id"`
	CustomName string    `json:"custom_name,omitempty"`
	AddedAt    time.Time `json:"added_at"`
}

// DisplayName prefers the mentor's custom label over the profile name.
func (s Student) DisplayName() string {
	if s.CustomName != "" {
		return s.CustomName
	}
	return s.UserName
}

// PrimeMembership grants mentor capacity. MaxStudents of -1 is unlimited.
type PrimeMembership struct {
	UserID      int64  `json:"user_id"`
	MentorID    string `json:"mentor_id"`
	MaxStudents int    `json:"max_students"`
}

// HistoryEntry records one completed workout session.
type HistoryEntry struct {
	ID             int64           `json:"id"`
	UserID         int64           `json:"user_id"`
	ProgramName    string          `json:"program_name"`
	Level          string          `json:"level"`
	ElapsedSeconds int             `json:"elapsed_seconds"`
	CompletedUnits int             `json:"completed_units"`
	Details        json.RawMessage `json:"details,omitempty"`
	CompletedAt    time.Time       `json:"completed_at"`
}

// AuthUser is the identity returned by the external OAuth proxy.
type AuthUser struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}
