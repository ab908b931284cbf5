package session

import "fmt"

// Button labels.
const (
	ButtonStart  = "Start"
	ButtonPause  = "Pause"
	ButtonDone   = "Done"
	ButtonFinish = "Finish"
)

// Display is everything a player shows for the current state.
type Display struct {
	Title     string   `json:"title"`
	Exercise  string   `json:"exercise,omitempty"`
	Round     string   `json:"round,omitempty"`
	Clock     string   `json:"clock"`
	Movements []string `json:"movements,omitempty"`
	Message   string   `json:"message"`
	Prompt    string   `json:"prompt,omitempty"`
	Button    string   `json:"button"`
}

// Display derives the view of m. It is pure and may be called at any rate.
func (m *Machine) Display() Display {
	d := Display{
		Title: m.program.Name,
		Clock: FormatClock(m.elapsed),
	}

	if m.total == 0 {
		d.Title = ""
		d.Message = "CHOOSE YOUR PROGRAM"
		d.Button = ButtonStart
		return d
	}

	switch {
	case !m.active && !m.finished:
		d.Button = ButtonStart
	case m.rest > 0:
		d.Button = ButtonPause
	case m.completed < m.total:
		d.Button = ButtonDone
	default:
		d.Button = ButtonFinish
	}

	switch m.State() {
	case Idle:
		d.Message = fmt.Sprintf("%d exercises, est. %s", len(m.program.Exercises), FormatEstimate(Estimate(m.program)))
		d.Prompt = "Ready?"
		return d
	case Finished:
		d.Message = "Good job!"
		return d
	}

	d.Exercise = fmt.Sprintf("Exercise: %d/%d", m.exercise+1, len(m.program.Exercises))
	d.Round = fmt.Sprintf("ROUND: %d/%d", m.round, m.rounds[m.exercise])
	d.Movements = m.program.Exercises[m.exercise].Movements
	if m.rest > 0 {
		d.Message = fmt.Sprintf("Break time: %d", m.rest)
	} else {
		d.Message = "Let's do it"
	}
	if m.Paused() {
		d.Prompt = "Ready?"
	}
	return d
}

// FormatClock renders seconds as hh:mm:ss.
func FormatClock(seconds int) string {
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, (seconds%3600)/60, seconds%60)
}
