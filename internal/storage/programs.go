package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/claude/njktraining/internal/models"
	"github.com/jackc/pgx/v5"
)

// GetProgram returns the user's stored program, or nil if they have none.
// Unparsable JSON yields ErrCorruptProgram so callers can degrade to nil.
func (db *DB) GetProgram(ctx context.Context, userID int64) (*models.Catalog, error) {
	var raw *string
	err := db.Pool.QueryRow(ctx, `SELECT exercises FROM progs WHERE user_id = $1`, userID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying program: %w", err)
	}
	if raw == nil || *raw == "" || *raw == "null" {
		return nil, nil
	}
	c, err := models.ParseCatalog([]byte(*raw))
	if err != nil {
		return nil, fmt.Errorf("%w: user %d: %v", ErrCorruptProgram, userID, err)
	}
	return c, nil
}

func encodeProgram(c *models.Catalog) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encoding program: %w", err)
	}
	return string(data), nil
}

// UpsertProgram replaces the user's program unconditionally. Concurrent
// writers race and the last one wins.
func (db *DB) UpsertProgram(ctx context.Context, userID int64, c *models.Catalog) error {
	data, err := encodeProgram(c)
	if err != nil {
		return err
	}
	_, err = db.Pool.Exec(ctx, `
		INSERT INTO progs (user_id, exercises, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE
			SET exercises = EXCLUDED.exercises, updated_at = NOW()
	`, userID, data)
	if err != nil {
		return fmt.Errorf("upserting program: %w", err)
	}
	return nil
}

// InsertProgramIfAbsent stores c only when the user has no program yet.
// Returns whether it was stored.
func (db *DB) InsertProgramIfAbsent(ctx context.Context, userID int64, c *models.Catalog) (bool, error) {
	data, err := encodeProgram(c)
	if err != nil {
		return false, err
	}
	tag, err := db.Pool.Exec(ctx, `
		INSERT INTO progs (user_id, exercises, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE
			SET exercises = EXCLUDED.exercises, updated_at = NOW()
			WHERE progs.exercises IS NULL
	`, userID, data)
	if err != nil {
		return false, fmt.Errorf("inserting program: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ResetProgram clears the user's program so the default catalog applies.
func (db *DB) ResetProgram(ctx context.Context, userID int64) error {
	_, err := db.Pool.Exec(ctx,
		`UPDATE progs SET exercises = NULL, updated_at = NOW() WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("resetting program: %w", err)
	}
	return nil
}
