package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/claude/njktraining/internal/access"
	"github.com/claude/njktraining/internal/models"
	"github.com/jackc/pgx/v5"
)

// MentorLimit returns the user's student capacity from the prime table,
// or def if they have no membership.
func (db *DB) MentorLimit(ctx context.Context, userID int64, def int) (int, error) {
	var limit int
	err := db.Pool.QueryRow(ctx, `SELECT max_students FROM prime WHERE user_id = $1`, userID).Scan(&limit)
	if errors.Is(err, pgx.ErrNoRows) {
		return def, nil
	}
	if err != nil {
		return 0, fmt.Errorf("querying mentor limit: %w", err)
	}
	return limit, nil
}

// GetPrime returns the user's membership, or nil.
func (db *DB) GetPrime(ctx context.Context, userID int64) (*models.PrimeMembership, error) {
	var p models.PrimeMembership
	err := db.Pool.QueryRow(ctx,
		`SELECT user_id, mentor_id, max_students FROM prime WHERE user_id = $1`, userID).
		Scan(&p.UserID, &p.MentorID, &p.MaxStudents)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying prime: %w", err)
	}
	return &p, nil
}

// AddStudent creates the edge (mentorID, studentUserID) after checking
// uniqueness and capacity. Concurrent adds for one mentor are serialized
// with an advisory lock so the count cannot go stale.
func (db *DB) AddStudent(ctx context.Context, mentorID string, studentUserID int64, limit int) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning add-student tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, mentorID); err != nil {
		return fmt.Errorf("locking mentor: %w", err)
	}

	var exists bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM mentors WHERE mentor_id = $1 AND student_user_id = $2)`,
		mentorID, studentUserID).Scan(&exists); err != nil {
		return fmt.Errorf("checking relationship: %w", err)
	}
	if exists {
		return ErrDuplicateRelationship
	}

	var count int
	if err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM mentors WHERE mentor_id = $1`, mentorID).Scan(&count); err != nil {
		return fmt.Errorf("counting students: %w", err)
	}
	if err := access.CheckCapacity(count, limit); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO mentors (mentor_id, student_user_id) VALUES ($1, $2)`,
		mentorID, studentUserID); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateRelationship
		}
		return fmt.Errorf("inserting relationship: %w", err)
	}
	return tx.Commit(ctx)
}

// RemoveStudent deletes an edge.
func (db *DB) RemoveStudent(ctx context.Context, mentorID string, studentUserID int64) error {
	tag, err := db.Pool.Exec(ctx,
		`DELETE FROM mentors WHERE mentor_id = $1 AND student_user_id = $2`, mentorID, studentUserID)
	if err != nil {
		return fmt.Errorf("deleting relationship: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateStudentName sets the mentor's display label for a student.
// An empty name clears it.
func (db *DB) UpdateStudentName(ctx context.Context, mentorID string, studentUserID int64, name string) error {
	tag, err := db.Pool.Exec(ctx,
		`UPDATE mentors SET custom_name = NULLIF($3, '') WHERE mentor_id = $1 AND student_user_id = $2`,
		mentorID, studentUserID, name)
	if err != nil {
		return fmt.Errorf("updating student name: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// HasStudent reports whether the edge exists.
func (db *DB) HasStudent(ctx context.Context, mentorID string, studentUserID int64) (bool, error) {
	var exists bool
	err := db.Pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM mentors WHERE mentor_id = $1 AND student_user_id = $2)`,
		mentorID, studentUserID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking relationship: %w", err)
	}
	return exists, nil
}

// ListStudents returns a mentor's students joined with their profiles.
func (db *DB) ListStudents(ctx context.Context, mentorID string) ([]models.Student, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT p.user_id, p.user_name, p.user_email, p.mentor_id, COALESCE(m.custom_name, ''), m.created_at
		FROM mentors m
		JOIN profiles p ON p.user_id = m.student_user_id
		WHERE m.mentor_id = $1
		ORDER BY m.created_at
	`, mentorID)
	if err != nil {
		return nil, fmt.Errorf("querying students: %w", err)
	}
	defer rows.Close()

	result := []models.Student{}
	for rows.Next() {
		var s models.Student
		if err := rows.Scan(&s.UserID, &s.UserName, &s.UserEmail, &s.MentorID, &s.CustomName, &s.AddedAt); err != nil {
			return nil, fmt.Errorf("scanning student: %w", err)
		}
		result = append(result, s)
	}
	return result, rows.Err()
}
