package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Workout is a named sequence of exercises stored as three parallel lists.
// On the wire it is the triple [[labels], [rounds], [rests]].
type Workout struct {
	Exercises []string
	Rounds    []int
	Rests     []int
}

// Len returns the number of exercises.
func (w Workout) Len() int {
	return len(w.Exercises)
}

// RoundsAt returns the round count of exercise i, defaulting to 1.
func (w Workout) RoundsAt(i int) int {
	if i < len(w.Rounds) && w.Rounds[i] > 0 {
		return w.Rounds[i]
	}
	return 1
}

// RestAt returns the rest seconds of exercise i, defaulting to 0.
func (w Workout) RestAt(i int) int {
	if i < len(w.Rests) && w.Rests[i] > 0 {
		return w.Rests[i]
	}
	return 0
}

// Movements splits exercise i into its "+"-joined movement labels.
func (w Workout) Movements(i int) []string {
	if i < 0 || i >= len(w.Exercises) {
		return nil
	}
	return strings.Split(w.Exercises[i], "+")
}

func (w Workout) MarshalJSON() ([]byte, error) {
	ex := w.Exercises
	if ex == nil {
		ex = []string{}
	}
	rounds := w.Rounds
	if rounds == nil {
		rounds = []int{}
	}
	rests := w.Rests
	if rests == nil {
		rests = []int{}
	}
	return json.Marshal([3]any{ex, rounds, rests})
}

func (w *Workout) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("workout must be a [labels, rounds, rests] array: %w", err)
	}
	if len(parts) == 0 {
		return fmt.Errorf("workout has no exercise list")
	}

	*w = Workout{}
	if err := json.Unmarshal(parts[0], &w.Exercises); err != nil {
		return fmt.Errorf("decoding exercise labels: %w", err)
	}
	if len(parts) > 1 {
		ints, err := decodeLooseInts(parts[1])
		if err != nil {
			return fmt.Errorf("decoding rounds: %w", err)
		}
		w.Rounds = ints
	}
	if len(parts) > 2 {
		ints, err := decodeLooseInts(parts[2])
		if err != nil {
			return fmt.Errorf("decoding rests: %w", err)
		}
		w.Rests = ints
	}
	return nil
}

// decodeLooseInts accepts numbers, numeric strings, empty strings and nulls.
// Legacy CSV imports stored rounds and rests as strings.
func decodeLooseInts(data []byte) ([]int, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	out := make([]int, len(raw))
	for i, r := range raw {
		r = bytes.TrimSpace(r)
		if len(r) == 0 || string(r) == "null" {
			continue
		}
		if r[0] == '"' {
			var s string
			if err := json.Unmarshal(r, &s); err != nil {
				return nil, err
			}
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			n, err := strconv.Atoi(s)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out[i] = n
			continue
		}
		var f float64
		if err := json.Unmarshal(r, &f); err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out[i] = int(f)
	}
	return out, nil
}

// Level maps workout names to workouts, preserving document order.
type Level = orderedmap.OrderedMap[string, Workout]

// Catalog maps level names to levels, preserving document order. It is the
// shape of both the built-in program files and a user's stored program.
type Catalog struct {
	levels *orderedmap.OrderedMap[string, *Level]
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{levels: orderedmap.New[string, *Level]()}
}

// ParseCatalog decodes a catalog document.
func ParseCatalog(data []byte) (*Catalog, error) {
	c := NewCatalog()
	if err := json.Unmarshal(data, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Set stores a workout under level and name, creating the level if needed.
func (c *Catalog) Set(level, name string, w Workout) {
	if c.levels == nil {
		c.levels = orderedmap.New[string, *Level]()
	}
	lvl, ok := c.levels.Get(level)
	if !ok {
		lvl = orderedmap.New[string, Workout]()
		c.levels.Set(level, lvl)
	}
	lvl.Set(name, w)
}

// Workout looks up a workout by level and name.
func (c *Catalog) Workout(level, name string) (Workout, bool) {
	if c == nil || c.levels == nil {
		return Workout{}, false
	}
	lvl, ok := c.levels.Get(level)
	if !ok || lvl == nil {
		return Workout{}, false
	}
	return lvl.Get(name)
}

// Levels returns level names in document order.
func (c *Catalog) Levels() []string {
	if c == nil || c.levels == nil {
		return nil
	}
	names := make([]string, 0, c.levels.Len())
	for pair := c.levels.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key)
	}
	return names
}

// Workouts returns the workout names of a level in document order.
func (c *Catalog) Workouts(level string) []string {
	if c == nil || c.levels == nil {
		return nil
	}
	lvl, ok := c.levels.Get(level)
	if !ok || lvl == nil {
		return nil
	}
	names := make([]string, 0, lvl.Len())
	for pair := lvl.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key)
	}
	return names
}

// Len returns the number of levels.
func (c *Catalog) Len() int {
	if c == nil || c.levels == nil {
		return 0
	}
	return c.levels.Len()
}

func (c *Catalog) MarshalJSON() ([]byte, error) {
	if c == nil || c.levels == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(c.levels)
}

func (c *Catalog) UnmarshalJSON(data []byte) error {
	c.levels = orderedmap.New[string, *Level]()
	if string(bytes.TrimSpace(data)) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, c.levels); err != nil {
		return fmt.Errorf("decoding catalog: %w", err)
	}
	return nil
}
