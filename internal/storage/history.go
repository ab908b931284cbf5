package storage

import (
	"context"
	"fmt"

	"github.com/claude/njktraining/internal/models"
)

// AddHistory records a completed session and returns its ID.
func (db *DB) AddHistory(ctx context.Context, e models.HistoryEntry) (int64, error) {
	var details any
	if len(e.Details) > 0 {
		details = string(e.Details)
	}
	var id int64
	err := db.Pool.QueryRow(ctx, `
		INSERT INTO workout_history (user_id, program_name, level, elapsed_seconds, completed_units, details)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb)
		RETURNING id
	`, e.UserID, e.ProgramName, e.Level, e.ElapsedSeconds, e.CompletedUnits, details).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inserting history: %w", err)
	}
	return id, nil
}

// ListHistory returns up to limit sessions, newest first.
func (db *DB) ListHistory(ctx context.Context, userID int64, limit int) ([]models.HistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Pool.Query(ctx, `
		SELECT id, user_id, program_name, level, elapsed_seconds, completed_units,
		       COALESCE(details::text, ''), completed_at
		FROM workout_history
		WHERE user_id = $1
		ORDER BY completed_at DESC, id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	result := []models.HistoryEntry{}
	for rows.Next() {
		var e models.HistoryEntry
		var details string
		if err := rows.Scan(&e.ID, &e.UserID, &e.ProgramName, &e.Level,
			&e.ElapsedSeconds, &e.CompletedUnits, &details, &e.CompletedAt); err != nil {
			return nil, fmt.Errorf("scanning history: %w", err)
		}
		if details != "" {
			e.Details = []byte(details)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}
