package legacycsv

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/claude/njktraining/internal/ingest"
	"github.com/claude/njktraining/internal/models"
	"github.com/claude/njktraining/internal/session"
	"github.com/claude/njktraining/internal/storage"
)

// ProgramStore reads and writes a user's stored program.
type ProgramStore interface {
	GetProgram(ctx context.Context, userID int64) (*models.Catalog, error)
	UpsertProgram(ctx context.Context, userID int64, c *models.Catalog) error
}

// Provider imports legacy CSV files into a user's program.
type Provider struct {
	store ProgramStore
	log   *slog.Logger
}

// NewProvider creates a new legacy CSV import provider.
func NewProvider(store ProgramStore, log *slog.Logger) *Provider {
	return &Provider{store: store, log: log}
}

// Import parses r and stores it as level/name in userID's program, replacing
// a workout of the same name.
func (p *Provider) Import(ctx context.Context, userID int64, level, name string, r io.Reader) (*ingest.Result, error) {
	w, err := Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parsing CSV: %w", err)
	}

	c, err := p.store.GetProgram(ctx, userID)
	if errors.Is(err, storage.ErrCorruptProgram) {
		p.log.Warn("stored program unreadable, refusing import", "user_id", userID, "error", err)
		return nil, fmt.Errorf("stored program is unreadable, reset it before importing: %w", err)
	}
	if err != nil {
		return nil, fmt.Errorf("loading program: %w", err)
	}
	if c == nil {
		c = models.NewCatalog()
	}
	_, replaced := c.Workout(level, name)
	c.Set(level, name, w)

	if err := p.store.UpsertProgram(ctx, userID, c); err != nil {
		return nil, fmt.Errorf("saving program: %w", err)
	}

	prog := session.FromWorkout(name, w)
	p.log.Info("legacy CSV imported", "user_id", userID, "level", level, "workout", name, "exercises", w.Len())

	return &ingest.Result{
		Level:             level,
		Workout:           name,
		ExercisesReceived: w.Len(),
		TotalUnits:        prog.TotalUnits(),
		EstimateSeconds:   session.Estimate(prog),
		HasGoals:          prog.HasVariableGoals(),
		Replaced:          replaced,
	}, nil
}
