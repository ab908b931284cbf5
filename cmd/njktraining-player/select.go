package main

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/claude/njktraining/internal/catalog"
	"github.com/claude/njktraining/internal/models"
	"github.com/claude/njktraining/internal/session"
	"github.com/spf13/cobra"
)

const (
	modeFree  = "free"
	modePrime = "prime"
)

// selection is the program choice shared by play, estimate and export.
type selection struct {
	mode    string
	catalog string
	level   string
	program string
}

func addSelectionFlags(cmd *cobra.Command, s *selection) {
	f := cmd.Flags()
	f.StringVar(&s.mode, "mode", "", "free (built-in catalogs) or prime (your program on the server); defaults to the last used")
	f.StringVar(&s.catalog, "catalog", catalog.Calisthenic, "built-in catalog for free mode: "+strings.Join(catalog.Names(), ", "))
	f.StringVar(&s.level, "level", "", "level to pick from; defaults to the last used")
	f.StringVar(&s.program, "program", "", "workout name; defaults to the resumable or suggested one")
}

func (e *env) mode(s selection) (string, error) {
	mode := s.mode
	if mode == "" {
		saved, err := e.state.Mode()
		if err != nil {
			return "", err
		}
		mode = saved
	}
	switch mode {
	case "":
		return modeFree, nil
	case modeFree, modePrime:
		return mode, nil
	}
	return "", fmt.Errorf("unknown mode %q (want free or prime)", mode)
}

// loadCatalog returns the program catalog for mode. Free mode overlays the
// locally edited workouts on the built-in catalog.
func (e *env) loadCatalog(ctx context.Context, mode, name string) (*models.Catalog, error) {
	if mode == modePrime {
		td, err := e.api.TrainingData(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetching program: %w", err)
		}
		if td.Exercises == nil {
			return nil, errors.New("server returned no program")
		}
		e.log.Debug("program fetched", "source", td.Source, "user", td.User.Email)
		return td.Exercises, nil
	}

	c, err := catalog.Load(name)
	if err != nil {
		return nil, err
	}
	edited, err := e.state.EditedExercises()
	if err != nil {
		e.log.Warn("ignoring unreadable local edits", "error", err)
		return c, nil
	}
	if edited != nil {
		overlay(c, edited)
	}
	return c, nil
}

// overlay copies every workout of src into dst, replacing same-named ones.
func overlay(dst, src *models.Catalog) {
	for _, level := range src.Levels() {
		for _, name := range src.Workouts(level) {
			w, _ := src.Workout(level, name)
			dst.Set(level, name, w)
		}
	}
}

// resolve picks the workout to run and remembers mode and level for next time.
func (e *env) resolve(ctx context.Context, s selection) (session.Selector, models.Workout, error) {
	mode, err := e.mode(s)
	if err != nil {
		return session.Selector{}, models.Workout{}, err
	}
	c, err := e.loadCatalog(ctx, mode, s.catalog)
	if err != nil {
		return session.Selector{}, models.Workout{}, err
	}
	levels := c.Levels()
	if len(levels) == 0 {
		return session.Selector{}, models.Workout{}, errors.New("program has no levels")
	}

	level := s.level
	if level == "" {
		saved, err := e.state.SelectedLevel()
		if err != nil {
			return session.Selector{}, models.Workout{}, err
		}
		level = levels[0]
		if slices.Contains(levels, saved) {
			level = saved
		}
	}
	names := c.Workouts(level)
	if len(names) == 0 {
		return session.Selector{}, models.Workout{}, fmt.Errorf("unknown level %q (have %s)", level, strings.Join(levels, ", "))
	}

	sel := session.Selector{Mode: mode, Level: level}
	if mode == modeFree {
		sel.Gender = s.catalog
	}

	sel.Program = s.program
	if sel.Program == "" {
		sel.Program = e.suggest(sel, names)
	}
	w, ok := c.Workout(level, sel.Program)
	if !ok {
		return session.Selector{}, models.Workout{}, fmt.Errorf("no workout %q in level %q", sel.Program, level)
	}

	if err := e.state.SetMode(mode); err != nil {
		return session.Selector{}, models.Workout{}, err
	}
	if err := e.state.SetSelectedLevel(level); err != nil {
		return session.Selector{}, models.Workout{}, err
	}
	return sel, w, nil
}

// suggest prefers a resumable session, then the workout after the last
// finished one, then the first workout.
func (e *env) suggest(sel session.Selector, names []string) string {
	if snap, err := e.state.Snapshot(); err != nil {
		e.log.Warn("resume record", "error", err)
	} else if snap != nil {
		s := snap.Selector
		if s.Mode == sel.Mode && s.Gender == sel.Gender && s.Level == sel.Level && slices.Contains(names, s.Program) {
			return s.Program
		}
	}
	if done, err := e.state.Done(); err == nil && done != "" {
		if next, ok := session.NextProgram(names, done); ok {
			return next
		}
	}
	return names[0]
}
