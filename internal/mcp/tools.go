package mcp

import (
	"context"
	"errors"
	"strconv"

	"github.com/claude/njktraining/internal/catalog"
	"github.com/claude/njktraining/internal/models"
	"github.com/claude/njktraining/internal/session"
	"github.com/claude/njktraining/internal/storage"
	"github.com/mark3labs/mcp-go/mcp"
)

// workoutSummary is one workout with its derived numbers.
type workoutSummary struct {
	Level           string   `json:"level"`
	Workout         string   `json:"workout"`
	Exercises       []string `json:"exercises"`
	TotalUnits      int      `json:"total_units"`
	EstimateSeconds int      `json:"estimate_seconds"`
	Estimate        string   `json:"estimate"`
	HasGoals        bool     `json:"has_goals"`
}

func summarizeWorkout(level, name string, w models.Workout) workoutSummary {
	p := session.FromWorkout(name, w)
	secs := session.Estimate(p)
	return workoutSummary{
		Level:           level,
		Workout:         name,
		Exercises:       w.Exercises,
		TotalUnits:      p.TotalUnits(),
		EstimateSeconds: secs,
		Estimate:        session.FormatEstimate(secs),
		HasGoals:        p.HasVariableGoals(),
	}
}

func summarize(c *models.Catalog) []workoutSummary {
	out := []workoutSummary{}
	for _, level := range c.Levels() {
		for _, name := range c.Workouts(level) {
			w, _ := c.Workout(level, name)
			out = append(out, summarizeWorkout(level, name, w))
		}
	}
	return out
}

// --- Tool definitions ---

var toolGetProgram = mcp.NewTool("get_program",
	mcp.WithDescription("Return the authenticated user's workout program: levels, workouts, exercises with round counts and rest seconds. Users without a program get the built-in default catalog."),
	mcp.WithString("level", mcp.Description("Only return this level")),
)

var toolEstimateProgram = mcp.NewTool("estimate_program",
	mcp.WithDescription("Estimate how long a workout takes. One round of one movement counts 60 seconds plus 20 seconds of transition; rest is counted after every exercise but the last."),
	mcp.WithString("level", mcp.Required(), mcp.Description("Level name (e.g. 'Beginner')")),
	mcp.WithString("workout", mcp.Required(), mcp.Description("Workout name within the level")),
	mcp.WithString("catalog", mcp.Description("Built-in catalog to read instead of the user's program"), mcp.Enum("Cal", "Male", "Female", "Pers")),
)

var toolListStudents = mcp.NewTool("list_students",
	mcp.WithDescription("List the students the authenticated user mentors, with their display names."),
)

var toolGetStudentProgram = mcp.NewTool("get_student_program",
	mcp.WithDescription("Return a student's workout program. Only allowed for the student's mentor."),
	mcp.WithString("student_id", mcp.Required(), mcp.Description("The student's user ID")),
)

var toolGetHistory = mcp.NewTool("get_history",
	mcp.WithDescription("List the authenticated user's completed workout sessions, newest first."),
	mcp.WithString("limit", mcp.Description("Maximum entries to return. Defaults to 20.")),
)

func unauthenticated() *mcp.CallToolResult {
	return mcp.NewToolResultError("no authenticated user")
}

// userProgram loads the user's program. Unreadable or missing programs fall
// back to the default catalog; source reports which one was used.
func (h *handlers) userProgram(ctx context.Context, uid int64) (*models.Catalog, string, error) {
	c, err := h.ds.GetProgram(ctx, uid)
	if errors.Is(err, storage.ErrCorruptProgram) {
		h.log.Warn("mcp: stored program unreadable", "user_id", uid, "error", err)
		c, err = nil, nil
	}
	if err != nil {
		return nil, "", err
	}
	if c != nil {
		return c, "user", nil
	}
	c, err = catalog.Default()
	return c, "default", err
}

func (h *handlers) getProgram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uid, ok := UserIDFromContext(ctx)
	if !ok {
		return unauthenticated(), nil
	}

	c, source, err := h.userProgram(ctx, uid)
	if err != nil {
		h.log.Error("mcp get_program", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}

	workouts := summarize(c)
	if level := req.GetString("level", ""); level != "" {
		filtered := []workoutSummary{}
		for _, w := range workouts {
			if w.Level == level {
				filtered = append(filtered, w)
			}
		}
		workouts = filtered
	}

	result, err := mcp.NewToolResultJSON(map[string]any{
		"source":   source,
		"workouts": workouts,
	})
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}

func (h *handlers) estimateProgram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	level, err := req.RequireString("level")
	if err != nil {
		return mcp.NewToolResultError("level parameter is required"), nil
	}
	name, err := req.RequireString("workout")
	if err != nil {
		return mcp.NewToolResultError("workout parameter is required"), nil
	}

	var c *models.Catalog
	if builtin := req.GetString("catalog", ""); builtin != "" {
		c, err = catalog.Load(builtin)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
	} else {
		uid, ok := UserIDFromContext(ctx)
		if !ok {
			return unauthenticated(), nil
		}
		c, _, err = h.userProgram(ctx, uid)
		if err != nil {
			h.log.Error("mcp estimate_program", "error", err)
			return mcp.NewToolResultError("query failed: " + err.Error()), nil
		}
	}

	w, ok := c.Workout(level, name)
	if !ok {
		return mcp.NewToolResultError("workout " + level + "/" + name + " not found"), nil
	}

	result, err := mcp.NewToolResultJSON(summarizeWorkout(level, name, w))
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}

func (h *handlers) listStudents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uid, ok := UserIDFromContext(ctx)
	if !ok {
		return unauthenticated(), nil
	}

	mentorID, err := h.ds.MentorIDOf(ctx, uid)
	if err != nil {
		h.log.Error("mcp list_students", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}
	type student struct {
		UserID      int64  `json:"user_id"`
		DisplayName string `json:"display_name"`
		Email       string `json:"email"`
	}
	out := []student{}
	if mentorID != "" {
		students, err := h.ds.ListStudents(ctx, mentorID)
		if err != nil {
			h.log.Error("mcp list_students", "error", err)
			return mcp.NewToolResultError("query failed: " + err.Error()), nil
		}
		for _, s := range students {
			out = append(out, student{UserID: s.UserID, DisplayName: s.DisplayName(), Email: s.UserEmail})
		}
	}

	result, err := mcp.NewToolResultJSON(map[string]any{"mentor_id": mentorID, "students": out})
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}

func (h *handlers) getStudentProgram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uid, ok := UserIDFromContext(ctx)
	if !ok {
		return unauthenticated(), nil
	}
	raw, err := req.RequireString("student_id")
	if err != nil {
		return mcp.NewToolResultError("student_id parameter is required"), nil
	}
	studentID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || studentID <= 0 {
		return mcp.NewToolResultError("student_id must be a positive integer"), nil
	}

	d, err := h.gate.Check(ctx, uid, studentID)
	if err != nil {
		h.log.Error("mcp get_student_program", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}
	if !d.Allowed {
		return mcp.NewToolResultError("access denied: " + string(d.Reason)), nil
	}

	c, err := h.ds.GetProgram(ctx, studentID)
	if errors.Is(err, storage.ErrCorruptProgram) {
		c, err = nil, nil
	}
	if err != nil {
		h.log.Error("mcp get_student_program", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}
	workouts := []workoutSummary{}
	if c != nil {
		workouts = summarize(c)
	}

	result, err := mcp.NewToolResultJSON(map[string]any{
		"student_id": studentID,
		"reason":     d.Reason,
		"workouts":   workouts,
	})
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}

func (h *handlers) getHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uid, ok := UserIDFromContext(ctx)
	if !ok {
		return unauthenticated(), nil
	}
	limit := 20
	if l, err := strconv.Atoi(req.GetString("limit", "")); err == nil && l > 0 {
		limit = l
	}

	entries, err := h.ds.ListHistory(ctx, uid, limit)
	if err != nil {
		h.log.Error("mcp get_history", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}

	result, err := mcp.NewToolResultJSON(entries)
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}
