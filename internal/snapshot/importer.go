package snapshot

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/starford/othala/internal/engine"
	"github.com/starford/othala/internal/models"
	"github.com/starford/othala/internal/store"
)

// Policy selects the import merge strategy.
type Policy string

const (
	// PolicyMerge inserts only records whose id is absent from the live
	// collection; existing records are left untouched.
	PolicyMerge Policy = "merge"
	// PolicyReplace clears the live collections first, then inserts
	// everything from the bundle, inside one transaction.
	PolicyReplace Policy = "replace"
)

// ParsePolicy validates a policy string.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyMerge, PolicyReplace:
		return Policy(s), nil
	default:
		return "", fmt.Errorf("snapshot: unknown policy %q", s)
	}
}

// Preview reports, without mutating anything, how many records of a
// validated bundle are new versus already present by id.
type Preview struct {
	NewNotes      int `json:"newNotes"`
	NewEdges      int `json:"newEdges"`
	NewTags       int `json:"newTags"`
	ExistingNotes int `json:"existingNotes"`
	ExistingEdges int `json:"existingEdges"`
	ExistingTags  int `json:"existingTags"`
}

// Result reports what an apply call did.
type Result struct {
	Policy       Policy `json:"policy"`
	NotesAdded   int    `json:"notesAdded"`
	NotesSkipped int    `json:"notesSkipped"`
	EdgesAdded   int    `json:"edgesAdded"`
	EdgesSkipped int    `json:"edgesSkipped"`
	TagsAdded    int    `json:"tagsAdded"`
	TagsSkipped  int    `json:"tagsSkipped"`
	RefsRebuilt  int    `json:"refsRebuilt"`
}

// Importer reconciles an externally supplied snapshot against the live
// collections. Apply serializes against the engine pipeline through the
// engine's import gate.
type Importer struct {
	db     *store.DB
	engine *engine.Engine
	logger *slog.Logger

	// failBeforeCommit, when set, injects a storage failure after all
	// inserts and before commit. Tests use it to prove apply atomicity.
	failBeforeCommit func() error
}

// NewImporter creates an importer over the store and engine.
func NewImporter(db *store.DB, eng *engine.Engine, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{db: db, engine: eng, logger: logger}
}

// Preview is read-only: it classifies bundle records as new or existing by
// id against the live collections.
func (im *Importer) Preview(b *Bundle) (*Preview, error) {
	noteIDs, err := im.db.NoteIDs()
	if err != nil {
		return nil, err
	}
	edgeIDs, err := im.db.EdgeIDs()
	if err != nil {
		return nil, err
	}
	tagIDs, err := im.db.TagIDs()
	if err != nil {
		return nil, err
	}

	var p Preview
	for _, n := range b.Data.Notes {
		if _, ok := noteIDs[n.ID]; ok {
			p.ExistingNotes++
		} else {
			p.NewNotes++
		}
	}
	for _, e := range b.Data.Edges {
		if _, ok := edgeIDs[e.ID]; ok {
			p.ExistingEdges++
		} else {
			p.NewEdges++
		}
	}
	for _, t := range b.Data.Tags {
		if _, ok := tagIDs[t.ID]; ok {
			p.ExistingTags++
		} else {
			p.NewTags++
		}
	}
	return &p, nil
}

// Apply merges or replaces the live collections with the bundle inside one
// transaction: either every insert (and, for replace, every clear) lands, or
// none do. After either policy the engine's Reference rows are rebuilt for
// the inserted notes and every tag's usage count is recomputed from the
// final note set.
func (im *Importer) Apply(b *Bundle, policy Policy) (*Result, error) {
	release := im.engine.Exclusive()
	defer release()

	res := &Result{Policy: policy}
	start := time.Now()

	err := im.db.WithTx(func(tx *store.Tx) error {
		if policy == PolicyReplace {
			for _, clear := range []func() error{tx.ClearTags, tx.ClearEdges, tx.ClearRefs, tx.ClearNotes} {
				if err := clear(); err != nil {
					return err
				}
			}
		}

		liveNotes, err := tx.NoteIDs()
		if err != nil {
			return err
		}
		liveEdges, err := tx.EdgeIDs()
		if err != nil {
			return err
		}
		liveTags, err := tx.TagIDs()
		if err != nil {
			return err
		}

		// Tags first, then notes, then edges, so the edge endpoint
		// check sees the post-merge note set.
		for _, t := range b.Data.Tags {
			if _, ok := liveTags[t.ID]; ok {
				res.TagsSkipped++
				continue
			}
			if err := tx.InsertTag(t); err != nil {
				return err
			}
			liveTags[t.ID] = struct{}{}
			res.TagsAdded++
		}

		var inserted []models.Note
		for _, n := range b.Data.Notes {
			if _, ok := liveNotes[n.ID]; ok {
				res.NotesSkipped++
				continue
			}
			if err := tx.PutNote(&n); err != nil {
				return err
			}
			liveNotes[n.ID] = struct{}{}
			inserted = append(inserted, n)
			res.NotesAdded++
		}

		for _, e := range b.Data.Edges {
			if _, ok := liveEdges[e.ID]; ok {
				res.EdgesSkipped++
				continue
			}
			// A bundle can legitimately carry an edge whose endpoint
			// is gone (deleted notes, partial exports); such edges
			// are skip-counted, never partially inserted.
			if _, ok := liveNotes[e.SourceID]; !ok {
				res.EdgesSkipped++
				continue
			}
			if _, ok := liveNotes[e.TargetID]; !ok {
				res.EdgesSkipped++
				continue
			}
			if err := tx.InsertEdge(e); err != nil {
				return err
			}
			liveEdges[e.ID] = struct{}{}
			res.EdgesAdded++
		}

		rebuilt, err := im.engine.RebuildRefs(tx, inserted)
		if err != nil {
			return err
		}
		res.RefsRebuilt = rebuilt

		if err := recomputeTagUsage(tx); err != nil {
			return err
		}

		if im.failBeforeCommit != nil {
			if err := im.failBeforeCommit(); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot: apply %s: %w", policy, err)
	}

	im.logger.Info("snapshot applied",
		slog.String("policy", string(policy)),
		slog.Int("notes_added", res.NotesAdded),
		slog.Int("edges_added", res.EdgesAdded),
		slog.Int("edges_skipped", res.EdgesSkipped),
		slog.Int("tags_added", res.TagsAdded),
		slog.Int("refs_rebuilt", res.RefsRebuilt),
		slog.Duration("took", time.Since(start)))
	return res, nil
}

// recomputeTagUsage overwrites every tag's cached usage count with the
// number of notes whose tag-id set contains it, derived from the final note
// set. Wholesale recompute avoids the drift bugs of incremental counting.
func recomputeTagUsage(tx *store.Tx) error {
	noteTags, err := tx.NoteTagIDs()
	if err != nil {
		return err
	}
	counts := make(map[string]int)
	for _, tagIDs := range noteTags {
		for _, id := range tagIDs {
			counts[id]++
		}
	}
	tags, err := tx.ListTags()
	if err != nil {
		return err
	}
	for _, t := range tags {
		if err := tx.SetTagUsage(t.ID, counts[t.ID]); err != nil {
			return err
		}
	}
	return nil
}

// Export builds a bundle from the live collections.
func (im *Importer) Export() (*Bundle, error) {
	notes, err := im.db.ListNotes()
	if err != nil {
		return nil, fmt.Errorf("snapshot: export: %w", err)
	}
	edges, err := im.db.ListEdges()
	if err != nil {
		return nil, fmt.Errorf("snapshot: export: %w", err)
	}
	tags, err := im.db.ListTags()
	if err != nil {
		return nil, fmt.Errorf("snapshot: export: %w", err)
	}
	return &Bundle{
		Version:     FormatVersion,
		Application: AppIdentifier,
		Data:        Data{Notes: notes, Edges: edges, Tags: tags},
		Metadata: Metadata{
			NoteCount:  len(notes),
			EdgeCount:  len(edges),
			TagCount:   len(tags),
			ExportedAt: time.Now().UTC(),
		},
	}, nil
}
