package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/claude/njktraining/internal/access"
	"github.com/claude/njktraining/internal/models"
	"github.com/claude/njktraining/internal/storage"
	"github.com/mark3labs/mcp-go/mcp"
)

type fakeSource struct {
	programs map[int64]*models.Catalog
	corrupt  map[int64]bool
	mentors  map[int64]string
	edges    access.EdgeSet
	students map[string][]models.Student
	history  map[int64][]models.HistoryEntry
}

func (f *fakeSource) GetProgram(_ context.Context, id int64) (*models.Catalog, error) {
	if f.corrupt[id] {
		return nil, storage.ErrCorruptProgram
	}
	return f.programs[id], nil
}

func (f *fakeSource) MentorIDOf(_ context.Context, id int64) (string, error) {
	return f.mentors[id], nil
}

func (f *fakeSource) HasStudent(_ context.Context, mentorID string, student int64) (bool, error) {
	return f.edges.Has(access.Edge{MentorID: mentorID, StudentUserID: student}), nil
}

func (f *fakeSource) ListStudents(_ context.Context, mentorID string) ([]models.Student, error) {
	return f.students[mentorID], nil
}

func (f *fakeSource) ListHistory(_ context.Context, id int64, limit int) ([]models.HistoryEntry, error) {
	h := f.history[id]
	if len(h) > limit {
		h = h[:limit]
	}
	return h, nil
}

func newFixture() *handlers {
	prog := models.NewCatalog()
	prog.Set("Custom", "Push", models.Workout{Exercises: []string{"Push-up x10?"}, Rounds: []int{2}, Rests: []int{10}})
	prog.Set("Custom", "Legs", models.Workout{Exercises: []string{"Squat x20", "Lunge x10"}, Rounds: []int{3, 2}, Rests: []int{60, 0}})
	prog.Set("Extra", "Core", models.Workout{Exercises: []string{"Plank x30s"}, Rounds: []int{1}, Rests: []int{0}})

	ds := &fakeSource{
		programs: map[int64]*models.Catalog{1: prog},
		corrupt:  map[int64]bool{4: true},
		mentors:  map[int64]string{1: "AAAA1111", 2: "BBBB2222"},
		edges:    access.NewEdgeSet(access.Edge{MentorID: "BBBB2222", StudentUserID: 1}),
		students: map[string][]models.Student{
			"BBBB2222": {{UserID: 1, UserName: "Alice", UserEmail: "alice@example.com", CustomName: "Al"}},
		},
		history: map[int64][]models.HistoryEntry{
			1: {{ID: 2, ProgramName: "Push"}, {ID: 1, ProgramName: "Legs"}},
		},
	}
	return newHandlers(ds, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func call(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatal("empty tool result")
	}
	tc, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content type %T, want TextContent", res.Content[0])
	}
	return tc.Text
}

func decodeResult(t *testing.T, res *mcp.CallToolResult, v any) {
	t.Helper()
	if res.IsError {
		t.Fatalf("tool returned error: %s", resultText(t, res))
	}
	if err := json.Unmarshal([]byte(resultText(t, res)), v); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
}

// TestUserIDFromContextUnset verifies no user is reported without the transport value.
func TestUserIDFromContextUnset(t *testing.T) {
	if _, ok := UserIDFromContext(context.Background()); ok {
		t.Error("UserIDFromContext(empty) reported a user")
	}
}

// TestUserIDFromContextSet verifies the user ID is extracted from context
// after being set by WithUserID.
func TestUserIDFromContextSet(t *testing.T) {
	ctx := WithUserID(context.Background(), 42)
	if id, ok := UserIDFromContext(ctx); !ok || id != 42 {
		t.Errorf("UserIDFromContext = %d, %v, want 42, true", id, ok)
	}
}

// TestToolsRequireUser verifies every user-scoped tool refuses anonymous calls.
func TestToolsRequireUser(t *testing.T) {
	h := newFixture()
	ctx := context.Background()
	for name, fn := range map[string]func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error){
		"get_program":         h.getProgram,
		"list_students":       h.listStudents,
		"get_student_program": h.getStudentProgram,
		"get_history":         h.getHistory,
	} {
		res, err := fn(ctx, call(map[string]any{"student_id": "1"}))
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if !res.IsError {
			t.Errorf("%s: expected error result without a user", name)
		}
	}
}

// TestGetProgram verifies the user's workouts are summarized with estimates
// and can be filtered by level.
func TestGetProgram(t *testing.T) {
	h := newFixture()
	ctx := WithUserID(context.Background(), 1)

	var out struct {
		Source   string           `json:"source"`
		Workouts []workoutSummary `json:"workouts"`
	}
	res, err := h.getProgram(ctx, call(nil))
	if err != nil {
		t.Fatal(err)
	}
	decodeResult(t, res, &out)
	if out.Source != "user" || len(out.Workouts) != 3 {
		t.Fatalf("got %+v", out)
	}
	push := out.Workouts[0]
	if push.Workout != "Push" || push.EstimateSeconds != 160 || push.Estimate != "2m 40s" || !push.HasGoals {
		t.Errorf("push summary = %+v", push)
	}

	res, _ = h.getProgram(ctx, call(map[string]any{"level": "Extra"}))
	decodeResult(t, res, &out)
	if len(out.Workouts) != 1 || out.Workouts[0].Workout != "Core" {
		t.Errorf("filtered = %+v", out.Workouts)
	}
}

// TestGetProgramDefault verifies users without a readable program get the
// default catalog.
func TestGetProgramDefault(t *testing.T) {
	h := newFixture()
	for _, uid := range []int64{3, 4} {
		var out struct {
			Source string `json:"source"`
		}
		res, _ := h.getProgram(WithUserID(context.Background(), uid), call(nil))
		decodeResult(t, res, &out)
		if out.Source != "default" {
			t.Errorf("user %d source = %q, want default", uid, out.Source)
		}
	}
}

// TestEstimateProgram verifies estimates from the user's program and a built-in catalog.
func TestEstimateProgram(t *testing.T) {
	h := newFixture()
	ctx := WithUserID(context.Background(), 1)

	var ws workoutSummary
	res, _ := h.estimateProgram(ctx, call(map[string]any{"level": "Custom", "workout": "Legs"}))
	decodeResult(t, res, &ws)
	// Squat: 60*3 + 3*20 + 60 rest; Lunge: 60*2 + 2*20.
	if ws.EstimateSeconds != 460 || ws.TotalUnits != 5 {
		t.Errorf("legs = %+v", ws)
	}

	res, _ = h.estimateProgram(context.Background(), call(map[string]any{"level": "Beginner", "workout": "Foundations A", "catalog": "Cal"}))
	decodeResult(t, res, &ws)
	if ws.TotalUnits != 11 {
		t.Errorf("builtin total units = %d, want 11", ws.TotalUnits)
	}

	res, _ = h.estimateProgram(ctx, call(map[string]any{"level": "Custom", "workout": "Nope"}))
	if !res.IsError {
		t.Error("expected error for unknown workout")
	}
	res, _ = h.estimateProgram(ctx, call(map[string]any{"workout": "Push"}))
	if !res.IsError {
		t.Error("expected error for missing level")
	}
}

// TestListStudents verifies students are listed under their mentor's label.
func TestListStudents(t *testing.T) {
	h := newFixture()
	var out struct {
		MentorID string `json:"mentor_id"`
		Students []struct {
			UserID      int64  `json:"user_id"`
			DisplayName string `json:"display_name"`
		} `json:"students"`
	}
	res, _ := h.listStudents(WithUserID(context.Background(), 2), call(nil))
	decodeResult(t, res, &out)
	if out.MentorID != "BBBB2222" || len(out.Students) != 1 || out.Students[0].DisplayName != "Al" {
		t.Errorf("got %+v", out)
	}
}

// TestGetStudentProgramGated verifies the mentor gate guards student programs.
func TestGetStudentProgramGated(t *testing.T) {
	h := newFixture()

	res, _ := h.getStudentProgram(WithUserID(context.Background(), 2), call(map[string]any{"student_id": "1"}))
	var out struct {
		Reason   string           `json:"reason"`
		Workouts []workoutSummary `json:"workouts"`
	}
	decodeResult(t, res, &out)
	if out.Reason != string(access.ReasonMentorRelationFound) || len(out.Workouts) != 3 {
		t.Errorf("mentor read = %+v", out)
	}

	res, _ = h.getStudentProgram(WithUserID(context.Background(), 1), call(map[string]any{"student_id": "2"}))
	if !res.IsError || !strings.Contains(resultText(t, res), string(access.ReasonNotMentorOfTarget)) {
		t.Errorf("expected not_mentor_of_target denial, got %q", resultText(t, res))
	}

	res, _ = h.getStudentProgram(WithUserID(context.Background(), 5), call(map[string]any{"student_id": "1"}))
	if !res.IsError || !strings.Contains(resultText(t, res), string(access.ReasonEditorNotMentor)) {
		t.Errorf("expected editor_not_mentor denial, got %q", resultText(t, res))
	}

	res, _ = h.getStudentProgram(WithUserID(context.Background(), 2), call(map[string]any{"student_id": "x"}))
	if !res.IsError {
		t.Error("expected error for invalid id")
	}
}

// TestGetHistory verifies the limit argument.
func TestGetHistory(t *testing.T) {
	h := newFixture()
	var out []models.HistoryEntry
	res, _ := h.getHistory(WithUserID(context.Background(), 1), call(map[string]any{"limit": "1"}))
	decodeResult(t, res, &out)
	if len(out) != 1 || out[0].ProgramName != "Push" {
		t.Errorf("history = %+v", out)
	}
}

// TestCatalogResource verifies the catalog resource lists every built-in catalog.
func TestCatalogResource(t *testing.T) {
	h := newFixture()
	var req mcp.ReadResourceRequest
	req.Params.URI = "njktraining://catalog"
	contents, err := h.catalogResource(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	text := contents[0].(mcp.TextResourceContents).Text
	var out map[string][]workoutSummary
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"Cal", "Male", "Female", "Pers"} {
		if len(out[name]) == 0 {
			t.Errorf("catalog %s missing or empty", name)
		}
	}
}

// TestNewBuildsServer verifies the server builds with tools and resources registered.
func TestNewBuildsServer(t *testing.T) {
	s := New(&fakeSource{}, "test", slog.New(slog.NewTextHandler(io.Discard, nil)))
	if s == nil {
		t.Fatal("New returned nil")
	}
}
