// Package movement parses movement labels such as "Push-up x10" or
// "Burpee x10?-12?-15?", where "<n>?" marks a goal the athlete can edit.
package movement

import (
	"fmt"
	"strconv"
	"strings"
)

// separator splits the movement name from its rep/goal text.
const separator = " x"

// Part is a piece of the text after the separator: either literal text or an
// editable goal. A blank goal ("?" with no digits) has IsGoal set and Blank set.
type Part struct {
	Text   string
	Goal   int
	IsGoal bool
	Blank  bool
}

// Label is a parsed movement label. String reproduces the input exactly.
type Label struct {
	Name   string
	head   string
	hasSep bool
	Parts  []Part
}

// Parse splits a label at the last " x". Text before it is the name; text after
// it is scanned for goals. A label without the separator is all name.
func Parse(label string) Label {
	idx := strings.LastIndex(label, separator)
	if idx < 0 {
		return Label{Name: strings.TrimSpace(label), head: label}
	}
	return Label{
		Name:   strings.TrimSpace(label[:idx]),
		head:   label[:idx],
		hasSep: true,
		Parts:  parseTail(label[idx+len(separator):]),
	}
}

func parseTail(tail string) []Part {
	var parts []Part
	var lit strings.Builder
	flush := func() {
		if lit.Len() > 0 {
			parts = append(parts, Part{Text: lit.String()})
			lit.Reset()
		}
	}

	for i := 0; i < len(tail); {
		c := tail[i]
		switch {
		case isDigit(c):
			j := i
			for j < len(tail) && isDigit(tail[j]) {
				j++
			}
			digits := tail[i:j]
			if j < len(tail) && tail[j] == '?' {
				if n, err := strconv.Atoi(digits); err == nil && strconv.Itoa(n) == digits {
					flush()
					parts = append(parts, Part{Goal: n, IsGoal: true})
					i = j + 1
					continue
				}
				// leading zeros would not survive a rewrite, keep it as text
				lit.WriteString(tail[i : j+1])
				i = j + 1
				continue
			}
			lit.WriteString(digits)
			i = j
		case c == '?':
			flush()
			parts = append(parts, Part{IsGoal: true, Blank: true})
			i++
		default:
			lit.WriteByte(c)
			i++
		}
	}
	flush()
	return parts
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// String renders the label in its stored form.
func (l Label) String() string {
	if !l.hasSep {
		return l.head
	}
	var b strings.Builder
	b.WriteString(l.head)
	b.WriteString(separator)
	for _, p := range l.Parts {
		switch {
		case !p.IsGoal:
			b.WriteString(p.Text)
		case p.Blank:
			b.WriteByte('?')
		default:
			b.WriteString(strconv.Itoa(p.Goal))
			b.WriteByte('?')
		}
	}
	return b.String()
}

// Reps returns the text after the separator with goal markers removed,
// e.g. "10-12-15" for "Burpee x10?-12?-15?".
func (l Label) Reps() string {
	var b strings.Builder
	for _, p := range l.Parts {
		switch {
		case !p.IsGoal:
			b.WriteString(p.Text)
		case !p.Blank:
			b.WriteString(strconv.Itoa(p.Goal))
		}
	}
	return b.String()
}

// HasGoals reports whether the label carries any editable goal.
func (l Label) HasGoals() bool {
	for _, p := range l.Parts {
		if p.IsGoal {
			return true
		}
	}
	return false
}

// Goals returns goal values in order. Blank goals read as 0.
func (l Label) Goals() []int {
	var goals []int
	for _, p := range l.Parts {
		if p.IsGoal {
			goals = append(goals, p.Goal)
		}
	}
	return goals
}

// SetGoal replaces the i-th goal value.
func (l *Label) SetGoal(i, value int) error {
	if value < 0 {
		return fmt.Errorf("goal must not be negative: %d", value)
	}
	n := 0
	for k := range l.Parts {
		if !l.Parts[k].IsGoal {
			continue
		}
		if n == i {
			l.Parts[k].Goal = value
			l.Parts[k].Blank = false
			return nil
		}
		n++
	}
	return fmt.Errorf("goal index %d out of range (have %d)", i, n)
}

// HasGoals reports whether any "+"-joined movement in an exercise label
// carries an editable goal.
func HasGoals(exercise string) bool {
	for _, m := range strings.Split(exercise, "+") {
		if Parse(m).HasGoals() {
			return true
		}
	}
	return false
}

// Names returns the movement names of a "+"-joined exercise label.
func Names(exercise string) []string {
	parts := strings.Split(exercise, "+")
	names := make([]string, len(parts))
	for i, m := range parts {
		names[i] = Parse(m).Name
	}
	return names
}
