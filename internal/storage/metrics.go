package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/claude/njktraining/internal/models"
	"github.com/jackc/pgx/v5"
)

// AppendMetrics records a new body measurement. Metrics are never updated in place.
func (db *DB) AppendMetrics(ctx context.Context, userID int64, height, weight *float64) error {
	if height == nil && weight == nil {
		return nil
	}
	_, err := db.Pool.Exec(ctx,
		`INSERT INTO metrics (user_id, height, weight) VALUES ($1, $2, $3)`,
		userID, height, weight)
	if err != nil {
		return fmt.Errorf("inserting metrics: %w", err)
	}
	return nil
}

// LatestMetrics returns the most recent measurement, or nil if none.
func (db *DB) LatestMetrics(ctx context.Context, userID int64) (*models.MetricEntry, error) {
	var m models.MetricEntry
	err := db.Pool.QueryRow(ctx, `
		SELECT user_id, height, weight, updated_at
		FROM metrics
		WHERE user_id = $1
		ORDER BY updated_at DESC, id DESC
		LIMIT 1
	`, userID).Scan(&m.UserID, &m.Height, &m.Weight, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest metrics: %w", err)
	}
	return &m, nil
}

// MetricsHistory returns up to limit measurements, newest first.
func (db *DB) MetricsHistory(ctx context.Context, userID int64, limit int) ([]models.MetricEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Pool.Query(ctx, `
		SELECT user_id, height, weight, updated_at
		FROM metrics
		WHERE user_id = $1
		ORDER BY updated_at DESC, id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying metrics history: %w", err)
	}
	defer rows.Close()

	var result []models.MetricEntry
	for rows.Next() {
		var m models.MetricEntry
		if err := rows.Scan(&m.UserID, &m.Height, &m.Weight, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning metrics: %w", err)
		}
		result = append(result, m)
	}
	return result, rows.Err()
}
