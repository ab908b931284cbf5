// Package legacycsv reads and writes the CSV workout format used by older
// clients: a header line, then one "name[+name...],rounds,rest" row per exercise.
package legacycsv

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/claude/njktraining/internal/models"
)

// Header is the first line of every exported file.
const Header = "exercise,round,rest"

// Parse reads a legacy CSV workout. The first line is always skipped as a
// header. Rows may end in CRLF or LF; blank rows are ignored.
func Parse(r io.Reader) (models.Workout, error) {
	scanner := bufio.NewScanner(r)
	var w models.Workout
	line := 0

	for scanner.Scan() {
		line++
		if line == 1 {
			continue
		}
		row := strings.TrimSpace(scanner.Text())
		if row == "" {
			continue
		}

		fields := strings.Split(row, ",")
		name := strings.TrimSpace(fields[0])
		if name == "" {
			return models.Workout{}, fmt.Errorf("line %d: empty exercise name", line)
		}

		rounds, err := parseField(fields, 1)
		if err != nil {
			return models.Workout{}, fmt.Errorf("line %d: rounds: %w", line, err)
		}
		rest, err := parseField(fields, 2)
		if err != nil {
			return models.Workout{}, fmt.Errorf("line %d: rest: %w", line, err)
		}

		w.Exercises = append(w.Exercises, name)
		w.Rounds = append(w.Rounds, rounds)
		w.Rests = append(w.Rests, rest)
	}
	if err := scanner.Err(); err != nil {
		return models.Workout{}, fmt.Errorf("reading CSV: %w", err)
	}
	if len(w.Exercises) == 0 {
		return models.Workout{}, fmt.Errorf("no exercises found")
	}
	return w, nil
}

// parseField reads an optional non-negative integer column. Missing or empty
// columns are 0.
func parseField(fields []string, i int) (int, error) {
	if i >= len(fields) {
		return 0, nil
	}
	s := strings.TrimSpace(fields[i])
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("negative value %d", n)
	}
	return n, nil
}

// Write exports w with CRLF row separators. Rounds default to 1.
func Write(out io.Writer, w models.Workout) error {
	bw := bufio.NewWriter(out)
	bw.WriteString(Header)
	for i, ex := range w.Exercises {
		fmt.Fprintf(bw, "\r\n%s,%d,%d", ex, w.RoundsAt(i), w.RestAt(i))
	}
	return bw.Flush()
}

// ExportFileName names an export "<program> @D-M-YYYY.csv". Any previous
// date suffix on the program name is dropped.
func ExportFileName(program string, t time.Time) string {
	if i := strings.Index(program, " @"); i >= 0 {
		program = program[:i]
	}
	return fmt.Sprintf("%s @%d-%d-%d.csv", program, t.Day(), int(t.Month()), t.Year())
}

// WorkoutName derives a workout name from an export file name.
func WorkoutName(fileName string) string {
	name := strings.TrimSuffix(fileName, ".csv")
	if i := strings.Index(name, " @"); i >= 0 {
		name = name[:i]
	}
	return strings.TrimSpace(name)
}
