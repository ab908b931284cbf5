package session

import (
	"fmt"

	"go.uber.org/multierr"
)

// RunState is the coarse phase of a session.
type RunState int

const (
	Idle RunState = iota
	Running
	Resting
	Finished
)

func (s RunState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Resting:
		return "resting"
	case Finished:
		return "finished"
	}
	return fmt.Sprintf("RunState(%d)", int(s))
}

// Signal is a notification for the presentation layer (sounds, exports).
type Signal int

const (
	SignalStart Signal = iota + 1
	SignalRestBegin
	SignalRestComplete
	SignalFinish
	SignalExport
)

func (s Signal) String() string {
	switch s {
	case SignalStart:
		return "start"
	case SignalRestBegin:
		return "rest_begin"
	case SignalRestComplete:
		return "rest_complete"
	case SignalFinish:
		return "finish"
	case SignalExport:
		return "export"
	}
	return fmt.Sprintf("Signal(%d)", int(s))
}

// Option configures a Machine.
type Option func(*Machine)

// WithStore persists snapshots and the done marker through st.
func WithStore(st Store) Option {
	return func(m *Machine) { m.store = st }
}

// WithObserver delivers signals to fn synchronously.
func WithObserver(fn func(Signal)) Option {
	return func(m *Machine) { m.observe = fn }
}

// Machine is the workout state machine. It is not safe for concurrent use;
// one goroutine owns it and serializes actions and ticks.
type Machine struct {
	program  Program
	selector Selector
	rounds   []int
	total    int

	completed int
	elapsed   int
	rest      int
	active    bool
	finished  bool

	exercise int
	round    int

	store   Store
	observe func(Signal)
}

// New returns an idle machine for p.
func New(p Program, sel Selector, opts ...Option) *Machine {
	m := &Machine{
		program:  p,
		selector: sel,
		rounds:   p.RoundCounts(),
		total:    p.TotalUnits(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Restore rebuilds a machine from a snapshot. The result is paused at the
// saved position; the next primary action resumes it.
func Restore(p Program, sel Selector, snap Snapshot, opts ...Option) (*Machine, error) {
	if snap.Program != sel.Program {
		return nil, fmt.Errorf("%w: snapshot is for %q, not %q", ErrSnapshotMismatch, snap.Program, sel.Program)
	}
	m := New(p, sel, opts...)
	if snap.Completed > m.total {
		return nil, fmt.Errorf("%w: %d completed units but program has %d", ErrSnapshotMismatch, snap.Completed, m.total)
	}
	m.completed = snap.Completed
	m.elapsed = snap.Elapsed
	m.relocate()
	return m, nil
}

// Program returns the program being played.
func (m *Machine) Program() Program { return m.program }

// Selector returns the program selector.
func (m *Machine) Selector() Selector { return m.selector }

// TotalUnits returns the number of advances in a full session.
func (m *Machine) TotalUnits() int { return m.total }

// Completed returns the advance count, in [0, TotalUnits+1].
func (m *Machine) Completed() int { return m.completed }

// Elapsed returns elapsed seconds.
func (m *Machine) Elapsed() int { return m.elapsed }

// RestRemaining returns seconds left in the current rest.
func (m *Machine) RestRemaining() int { return m.rest }

// Position returns the 0-based exercise index and 1-based round.
func (m *Machine) Position() (exercise, round int) { return m.exercise, m.round }

// SetMovements replaces the movement labels of exercise i, e.g. after a goal
// edit. Progress is untouched.
func (m *Machine) SetMovements(i int, labels []string) error {
	if i < 0 || i >= len(m.program.Exercises) {
		return fmt.Errorf("exercise %d out of range (have %d)", i+1, len(m.program.Exercises))
	}
	exercises := make([]Exercise, len(m.program.Exercises))
	copy(exercises, m.program.Exercises)
	exercises[i].Movements = append([]string(nil), labels...)
	m.program.Exercises = exercises
	return nil
}

// Paused reports whether a started session is held.
func (m *Machine) Paused() bool {
	return !m.active && !m.finished && m.completed > 0
}

// State derives the run state.
func (m *Machine) State() RunState {
	switch {
	case m.finished:
		return Finished
	case m.completed == 0:
		return Idle
	case m.rest > 0:
		return Resting
	default:
		return Running
	}
}

// Snapshot returns the resume record for the current state.
func (m *Machine) Snapshot() Snapshot {
	return Snapshot{Selector: m.selector, Elapsed: m.elapsed, Completed: m.completed}
}

// Primary performs the single-button action: start, resume, pause, done,
// finish or export depending on state.
func (m *Machine) Primary() error {
	if m.total == 0 {
		return nil
	}

	switch {
	case m.finished:
		if m.program.HasVariableGoals() {
			m.emit(SignalExport)
		}
		return nil

	case !m.active:
		m.active = true
		if m.rest == 0 && m.completed == 0 {
			m.emit(SignalStart)
			m.completed = 1
			m.relocate()
		}

	case m.rest > 0:
		m.active = false

	case m.completed < m.total:
		justDone := m.exercise
		m.emit(SignalRestBegin)
		m.completed++
		m.relocate()
		m.rest = m.program.Exercises[justDone].RestSeconds

	default:
		m.emit(SignalFinish)
		m.completed++
		m.finished = true
		return m.finish()
	}

	return m.persist()
}

// Next skips ahead one unit without resting.
func (m *Machine) Next() error {
	if m.total == 0 || m.completed == 0 || m.finished || m.completed >= m.total {
		return nil
	}
	m.completed++
	m.rest = 0
	m.relocate()
	return m.persist()
}

// Back steps back one unit. From Finished it resumes running at the last unit.
func (m *Machine) Back() error {
	if m.completed <= 1 {
		return nil
	}
	if m.finished {
		m.finished = false
		m.active = true
	}
	m.completed--
	m.rest = 0
	m.relocate()
	return m.persist()
}

// Tick advances the clock by one second. Idle and paused sessions do not tick.
func (m *Machine) Tick() {
	if m.total == 0 || !(m.active || m.finished) {
		return
	}
	m.elapsed++
	if m.rest > 0 {
		m.rest--
		if m.rest == 0 {
			m.emit(SignalRestComplete)
		}
	}
}

func (m *Machine) relocate() {
	if ex, round, ok := Locate(m.completed, m.rounds); ok {
		m.exercise, m.round = ex, round
		return
	}
	if m.completed == 0 {
		m.exercise, m.round = 0, 0
	}
}

func (m *Machine) emit(s Signal) {
	if m.observe != nil {
		m.observe(s)
	}
}

func (m *Machine) persist() error {
	if m.store == nil {
		return nil
	}
	if err := m.store.SaveSnapshot(m.Snapshot()); err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}
	return nil
}

func (m *Machine) finish() error {
	if m.store == nil {
		return nil
	}
	return multierr.Combine(
		m.store.ClearSnapshot(),
		m.store.MarkDone(m.selector.Program),
	)
}
