package session

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const snapshotSep = "***"

// ErrSnapshotMismatch is returned when a snapshot cannot apply to a program.
var ErrSnapshotMismatch = errors.New("snapshot does not match program")

// Selector identifies a program: mode (free or prime), catalog, level and name.
type Selector struct {
	Mode    string
	Gender  string
	Level   string
	Program string
}

// Snapshot is the resume record written after every state-changing action.
type Snapshot struct {
	Selector
	Elapsed   int
	Completed int
}

// Encode renders mode***gen***level***program***elapsed***completed.
func (s Snapshot) Encode() string {
	return strings.Join([]string{
		s.Mode, s.Gender, s.Level, s.Program,
		strconv.Itoa(s.Elapsed), strconv.Itoa(s.Completed),
	}, snapshotSep)
}

// DecodeSnapshot parses the output of Encode.
func DecodeSnapshot(raw string) (Snapshot, error) {
	parts := strings.Split(raw, snapshotSep)
	if len(parts) != 6 {
		return Snapshot{}, fmt.Errorf("snapshot has %d fields, want 6", len(parts))
	}
	elapsed, err := strconv.Atoi(parts[4])
	if err != nil || elapsed < 0 {
		return Snapshot{}, fmt.Errorf("invalid elapsed seconds %q", parts[4])
	}
	completed, err := strconv.Atoi(parts[5])
	if err != nil || completed < 0 {
		return Snapshot{}, fmt.Errorf("invalid completed units %q", parts[5])
	}
	return Snapshot{
		Selector: Selector{
			Mode:    parts[0],
			Gender:  parts[1],
			Level:   parts[2],
			Program: parts[3],
		},
		Elapsed:   elapsed,
		Completed: completed,
	}, nil
}

// Store persists session progress. Implementations must be safe to call from
// the goroutine driving the machine.
type Store interface {
	SaveSnapshot(Snapshot) error
	ClearSnapshot() error
	MarkDone(program string) error
}
