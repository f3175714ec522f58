// Package models defines the domain types for Othala.
package models

import "time"

// Relationship types. References projected from inline markers always carry
// RelReference; the richer vocabulary belongs to user-drawn canvas edges.
const (
	RelReference   = "references"
	RelRelated     = "related"
	RelDependsOn   = "depends-on"
	RelPartOf      = "part-of"
	RelSupports    = "supports"
	RelContradicts = "contradicts"
)

// Note is a free-text note with optional spatial attributes for the canvas.
// Notes are owned by the caller (API / importer); the engine only reacts to
// their lifecycle events.
type Note struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	PosX      float64   `json:"posX,omitempty"`
	PosY      float64   `json:"posY,omitempty"`
	Width     float64   `json:"width,omitempty"`
	Height    float64   `json:"height,omitempty"`
	Color     string    `json:"color,omitempty"`
	TagIDs    []string  `json:"tagIds,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Reference is one inline [[Title]] marker found in a note's content.
// TargetID is empty while the reference is broken (no note carries a
// matching title); the row survives target deletion so a later note with
// the same title re-attaches automatically.
type Reference struct {
	ID          string    `json:"id"`
	SourceID    string    `json:"sourceId"`
	TargetID    string    `json:"targetId,omitempty"`
	TargetTitle string    `json:"targetTitle"`
	Position    int       `json:"position"`
	RelType     string    `json:"relType"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Resolved reports whether the reference currently points at a note.
func (r Reference) Resolved() bool { return r.TargetID != "" }

// Edge is a typed, canvas-visible connection between two notes. Edges are
// created by the projector (check-then-create) and by the canvas UI; the
// engine never deletes them.
type Edge struct {
	ID        string    `json:"id"`
	SourceID  string    `json:"sourceId"`
	TargetID  string    `json:"targetId"`
	RelType   string    `json:"relType"`
	Label     string    `json:"label,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Tag groups notes. UsageCount is a derived cache: the number of notes whose
// tag-id set contains the tag. The importer recomputes it after bulk
// mutations.
type Tag struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	UsageCount int    `json:"usageCount"`
}
