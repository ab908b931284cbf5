package mcp

import (
	"context"

	"github.com/claude/njktraining/internal/models"
	"github.com/claude/njktraining/internal/storage"
)

// DataSource abstracts the data layer for MCP tools.
type DataSource interface {
	GetProgram(ctx context.Context, userID int64) (*models.Catalog, error)
	MentorIDOf(ctx context.Context, userID int64) (string, error)
	HasStudent(ctx context.Context, mentorID string, studentUserID int64) (bool, error)
	ListStudents(ctx context.Context, mentorID string) ([]models.Student, error)
	ListHistory(ctx context.Context, userID int64, limit int) ([]models.HistoryEntry, error)
}

// Compile-time check: *storage.DB satisfies DataSource.
var _ DataSource = (*storage.DB)(nil)
