// Package access decides who may read or write another user's workout program.
package access

import (
	"context"
	"errors"
	"fmt"
)

// Unlimited disables the mentor capacity check.
const Unlimited = -1

// ErrCapacityExceeded is returned when a mentor already has the maximum
// number of students.
var ErrCapacityExceeded = errors.New("mentor student capacity exceeded")

// Reason explains a decision.
type Reason string

const (
	ReasonSelf                Reason = "self"
	ReasonEditorNotMentor     Reason = "editor_not_mentor"
	ReasonMentorRelationFound Reason = "mentor_relation_found"
	ReasonNotMentorOfTarget   Reason = "not_mentor_of_target"
)

// Decision is the outcome of CanEdit.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  Reason `json:"reason"`
}

// Edge is a mentor→student relationship.
type Edge struct {
	MentorID      string
	StudentUserID int64
}

// EdgeSet is a set of relationships.
type EdgeSet map[Edge]struct{}

// NewEdgeSet builds a set from edges.
func NewEdgeSet(edges ...Edge) EdgeSet {
	set := make(EdgeSet, len(edges))
	for _, e := range edges {
		set[e] = struct{}{}
	}
	return set
}

// Has reports whether e is in the set.
func (s EdgeSet) Has(e Edge) bool {
	_, ok := s[e]
	return ok
}

// CanEdit decides whether editorID may access targetID's program.
// editorMentorID is the editor's own mentor code, empty if they have none.
func CanEdit(editorID, targetID int64, editorMentorID string, edges EdgeSet) Decision {
	if editorID == targetID {
		return Decision{Allowed: true, Reason: ReasonSelf}
	}
	if editorMentorID == "" {
		return Decision{Reason: ReasonEditorNotMentor}
	}
	if edges.Has(Edge{MentorID: editorMentorID, StudentUserID: targetID}) {
		return Decision{Allowed: true, Reason: ReasonMentorRelationFound}
	}
	return Decision{Reason: ReasonNotMentorOfTarget}
}

// CheckCapacity rejects a new edge when count has reached limit.
func CheckCapacity(count, limit int) error {
	if limit != Unlimited && count >= limit {
		return fmt.Errorf("%w: %d of %d", ErrCapacityExceeded, count, limit)
	}
	return nil
}

// Relations looks up relationship data for live decisions.
type Relations interface {
	// MentorIDOf returns the user's mentor code, or "" if they have no profile.
	MentorIDOf(ctx context.Context, userID int64) (string, error)
	HasStudent(ctx context.Context, mentorID string, studentUserID int64) (bool, error)
}

// Gate applies CanEdit against stored relationships.
type Gate struct {
	rel Relations
}

// NewGate creates a Gate.
func NewGate(rel Relations) *Gate {
	return &Gate{rel: rel}
}

// Check returns the decision for editorID acting on targetID.
func (g *Gate) Check(ctx context.Context, editorID, targetID int64) (Decision, error) {
	if editorID == targetID {
		return CanEdit(editorID, targetID, "", nil), nil
	}
	mentorID, err := g.rel.MentorIDOf(ctx, editorID)
	if err != nil {
		return Decision{}, fmt.Errorf("looking up mentor id: %w", err)
	}
	edges := EdgeSet{}
	if mentorID != "" {
		ok, err := g.rel.HasStudent(ctx, mentorID, targetID)
		if err != nil {
			return Decision{}, fmt.Errorf("looking up relationship: %w", err)
		}
		if ok {
			edges = NewEdgeSet(Edge{MentorID: mentorID, StudentUserID: targetID})
		}
	}
	return CanEdit(editorID, targetID, mentorID, edges), nil
}
