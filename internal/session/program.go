// Package session drives a workout from start to finish: which exercise and
// round is current, rest countdowns, elapsed time, and the resume snapshot.
package session

import (
	"fmt"

	"github.com/claude/njktraining/internal/models"
	"github.com/claude/njktraining/internal/movement"
)

// Exercise is one step of a program, repeated Rounds times.
type Exercise struct {
	Movements   []string
	Rounds      int
	RestSeconds int
}

// Program is an ordered list of exercises.
type Program struct {
	Name      string
	Exercises []Exercise
}

// FromWorkout converts a stored workout. Missing rounds default to 1 and
// missing rests to 0.
func FromWorkout(name string, w models.Workout) Program {
	p := Program{Name: name, Exercises: make([]Exercise, 0, w.Len())}
	for i := range w.Exercises {
		p.Exercises = append(p.Exercises, Exercise{
			Movements:   w.Movements(i),
			Rounds:      w.RoundsAt(i),
			RestSeconds: w.RestAt(i),
		})
	}
	return p
}

// RoundCounts returns the round count of each exercise.
func (p Program) RoundCounts() []int {
	rounds := make([]int, len(p.Exercises))
	for i, ex := range p.Exercises {
		rounds[i] = ex.Rounds
	}
	return rounds
}

// TotalUnits is the number of advances a full session takes.
func (p Program) TotalUnits() int {
	total := 0
	for _, ex := range p.Exercises {
		total += ex.Rounds
	}
	return total
}

// HasVariableGoals reports whether any movement carries an editable goal.
// Finishing such a program offers an export of the achieved goals.
func (p Program) HasVariableGoals() bool {
	for _, ex := range p.Exercises {
		for _, m := range ex.Movements {
			if movement.Parse(m).HasGoals() {
				return true
			}
		}
	}
	return false
}

// Locate maps a completed-unit count to a 0-based exercise index and a
// 1-based round within that exercise. ok is false outside [1, total].
func Locate(completed int, rounds []int) (exercise, round int, ok bool) {
	if completed < 1 {
		return 0, 0, false
	}
	remaining := completed
	for i, r := range rounds {
		if remaining <= r {
			return i, remaining, true
		}
		remaining -= r
	}
	return 0, 0, false
}

// Estimate returns a rough duration in seconds: a minute per movement per
// round, 20s of transition per round, plus rest after every exercise but the last.
func Estimate(p Program) int {
	total := 0
	for i, ex := range p.Exercises {
		rounds := ex.Rounds
		if rounds < 1 {
			rounds = 1
		}
		total += len(ex.Movements)*60*rounds + rounds*20
		if i < len(p.Exercises)-1 {
			total += ex.RestSeconds
		}
	}
	return total
}

// FormatEstimate renders seconds as "45s", "2m 40s", "3m", "1h 5m" or "2h".
func FormatEstimate(seconds int) string {
	switch {
	case seconds < 60:
		return fmt.Sprintf("%ds", seconds)
	case seconds < 3600:
		m, s := seconds/60, seconds%60
		if s == 0 {
			return fmt.Sprintf("%dm", m)
		}
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		h, m := seconds/3600, (seconds%3600)/60
		if m == 0 {
			return fmt.Sprintf("%dh", h)
		}
		return fmt.Sprintf("%dh %dm", h, m)
	}
}

// NextProgram suggests what to load after done was completed: the entry
// listed before it, wrapping to the last one.
func NextProgram(names []string, done string) (string, bool) {
	for i, n := range names {
		if n != done {
			continue
		}
		if i == 0 {
			return names[len(names)-1], true
		}
		return names[i-1], true
	}
	return "", false
}
