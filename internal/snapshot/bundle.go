// Package snapshot implements full export bundles of notes, edges, and tags:
// validation, read-only import preview, and transactional apply under merge
// or replace policies.
package snapshot

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/othala/internal/apperr"
	"github.com/starford/othala/internal/models"
)

// AppIdentifier marks bundles produced by this application. Bundles carrying
// a different identifier are rejected outright.
const AppIdentifier = "othala"

// FormatVersion is forward-compatibility metadata only; no version-specific
// branching happens at import time.
const FormatVersion = "1.0"

// Bundle is the snapshot wire format.
type Bundle struct {
	Version     string   `json:"version"`
	Application string   `json:"application"`
	Data        Data     `json:"data"`
	Metadata    Metadata `json:"metadata"`
}

// Data holds the three exported collections.
type Data struct {
	Notes []models.Note `json:"notes"`
	Edges []models.Edge `json:"edges"`
	Tags  []models.Tag  `json:"tags"`
}

// Metadata carries redundant counts for quick inspection without walking
// the arrays.
type Metadata struct {
	NoteCount  int       `json:"noteCount"`
	EdgeCount  int       `json:"edgeCount"`
	TagCount   int       `json:"tagCount"`
	ExportedAt time.Time `json:"exportedAt"`
}

// Parse decodes raw JSON and validates the result. Pure: no I/O, no store
// access; a nil error means the bundle is structurally safe to preview or
// apply.
func Parse(raw []byte) (*Bundle, error) {
	var b Bundle
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, &apperr.ValidationError{Index: -1, Field: "bundle", Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}
	if err := Validate(&b); err != nil {
		return nil, err
	}
	return &b, nil
}

// Validate structurally checks an already-decoded bundle. All-or-nothing:
// the first violated rule fails the whole bundle before any mutation,
// reporting which collection, record, and field broke it.
func Validate(b *Bundle) error {
	if b.Application != AppIdentifier {
		return &apperr.ValidationError{
			Index: -1, Field: "application",
			Reason: fmt.Sprintf("got %q, want %q", b.Application, AppIdentifier),
		}
	}
	if b.Version == "" {
		return &apperr.ValidationError{Index: -1, Field: "version", Reason: "missing"}
	}

	for i, n := range b.Data.Notes {
		err := validation.ValidateStruct(&n,
			validation.Field(&n.ID, validation.Required),
			validation.Field(&n.Title, validation.Required),
			validation.Field(&n.CreatedAt, validation.Required),
			validation.Field(&n.UpdatedAt, validation.Required),
		)
		if err != nil {
			return recordError("notes", i, err)
		}
	}
	for i, e := range b.Data.Edges {
		err := validation.ValidateStruct(&e,
			validation.Field(&e.ID, validation.Required),
			validation.Field(&e.SourceID, validation.Required),
			validation.Field(&e.TargetID, validation.Required),
		)
		if err != nil {
			return recordError("edges", i, err)
		}
	}
	for i, tg := range b.Data.Tags {
		err := validation.ValidateStruct(&tg,
			validation.Field(&tg.ID, validation.Required),
			validation.Field(&tg.Name, validation.Required),
			validation.Field(&tg.UsageCount, validation.Min(0)),
		)
		if err != nil {
			return recordError("tags", i, err)
		}
	}
	return nil
}

// recordError converts an ozzo field-error map into a ValidationError for
// one record, picking the first field alphabetically so the message is
// deterministic.
func recordError(collection string, index int, err error) error {
	if fieldErrs, ok := err.(validation.Errors); ok {
		fields := make([]string, 0, len(fieldErrs))
		for f := range fieldErrs {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		if len(fields) > 0 {
			return &apperr.ValidationError{
				Collection: collection,
				Index:      index,
				Field:      fields[0],
				Reason:     fieldErrs[fields[0]].Error(),
			}
		}
	}
	return &apperr.ValidationError{Collection: collection, Index: index, Field: "record", Reason: err.Error()}
}
