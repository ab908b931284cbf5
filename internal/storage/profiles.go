package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/claude/njktraining/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrEmailTaken is returned when another account already uses the email.
var ErrEmailTaken = errors.New("email already belongs to another profile")

const profileColumns = `user_id, user_email, user_name, gender, COALESCE(birthdate, ''), mentor_id, created_at, updated_at`

// NewMentorCode returns a fresh 8 character code a student can share with a mentor.
func NewMentorCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

func scanProfile(row pgx.Row) (*models.Profile, error) {
	var p models.Profile
	err := row.Scan(&p.UserID, &p.UserEmail, &p.UserName, &p.Gender, &p.Birthdate, &p.MentorID, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// EnsureProfile returns the caller's profile, creating it on first sight.
// Creation inserts the profile and an empty program row in one transaction.
// created reports whether a new profile was made.
func (db *DB) EnsureProfile(ctx context.Context, u models.AuthUser) (p *models.Profile, created bool, err error) {
	p, err = db.GetProfile(ctx, u.ID)
	if err == nil {
		return p, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("beginning profile tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	name := u.Name
	if name == "" {
		name = u.Email
	}
	tag, err := tx.Exec(ctx, `
		INSERT INTO profiles (user_id, user_email, user_name, mentor_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO NOTHING
	`, u.ID, u.Email, name, NewMentorCode())
	if err != nil {
		if isUniqueViolation(err) {
			return nil, false, fmt.Errorf("%w: %s", ErrEmailTaken, u.Email)
		}
		return nil, false, fmt.Errorf("inserting profile: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO progs (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, u.ID); err != nil {
		return nil, false, fmt.Errorf("inserting program row: %w", err)
	}

	p, err = scanProfile(tx.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE user_id = $1`, u.ID))
	if err != nil {
		return nil, false, fmt.Errorf("reading new profile: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("committing profile: %w", err)
	}
	return p, tag.RowsAffected() > 0, nil
}

// GetProfile returns a profile by user ID.
func (db *DB) GetProfile(ctx context.Context, userID int64) (*models.Profile, error) {
	p, err := scanProfile(db.Pool.QueryRow(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE user_id = $1`, userID))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("querying profile: %w", err)
	}
	return p, err
}

// ProfileByMentorID resolves a shared code to its owner.
func (db *DB) ProfileByMentorID(ctx context.Context, code string) (*models.Profile, error) {
	p, err := scanProfile(db.Pool.QueryRow(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE mentor_id = $1`, strings.ToUpper(strings.TrimSpace(code))))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("querying profile by code: %w", err)
	}
	return p, err
}

// MentorIDOf returns the user's mentor code, or "" if they have no profile.
func (db *DB) MentorIDOf(ctx context.Context, userID int64) (string, error) {
	var id string
	err := db.Pool.QueryRow(ctx, `SELECT mentor_id FROM profiles WHERE user_id = $1`, userID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("querying mentor id: %w", err)
	}
	return id, nil
}

// ProfileUpdate holds optional profile fields; nil fields are left unchanged.
type ProfileUpdate struct {
	Gender    *string
	Birthdate *string
}

// UpdateProfile applies u to the user's profile.
func (db *DB) UpdateProfile(ctx context.Context, userID int64, u ProfileUpdate) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE profiles
		SET gender = COALESCE($2, gender),
		    birthdate = COALESCE($3, birthdate),
		    updated_at = NOW()
		WHERE user_id = $1
	`, userID, u.Gender, u.Birthdate)
	if err != nil {
		return fmt.Errorf("updating profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
