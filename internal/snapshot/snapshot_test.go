package snapshot

import (
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/starford/othala/internal/apperr"
	"github.com/starford/othala/internal/engine"
	"github.com/starford/othala/internal/models"
	"github.com/starford/othala/internal/store"
	"github.com/starford/othala/internal/testutil"
)

func testImporter(t *testing.T) (*Importer, *store.DB) {
	t.Helper()
	db := testutil.TestDB(t)
	eng := engine.New(db, slog.Default())
	return NewImporter(db, eng, slog.Default()), db
}

func bundleNote(id, title, content string) models.Note {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return models.Note{ID: id, Title: title, Content: content, CreatedAt: now, UpdatedAt: now}
}

func validBundle() *Bundle {
	return &Bundle{
		Version:     FormatVersion,
		Application: AppIdentifier,
		Data: Data{
			Notes: []models.Note{
				bundleNote("n1", "First", "links to [[Second]]"),
				bundleNote("n2", "Second", ""),
			},
			Edges: []models.Edge{
				{ID: "e1", SourceID: "n1", TargetID: "n2", RelType: models.RelRelated, CreatedAt: time.Now()},
			},
			Tags: []models.Tag{
				{ID: "t1", Name: "work", UsageCount: 7},
			},
		},
		Metadata: Metadata{NoteCount: 2, EdgeCount: 1, TagCount: 1, ExportedAt: time.Now()},
	}
}

func TestValidate_AcceptsWellFormedBundle(t *testing.T) {
	if err := Validate(validBundle()); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidate_RejectsWrongApplication(t *testing.T) {
	b := validBundle()
	b.Application = "someone-else"
	err := Validate(b)
	if !apperr.IsValidation(err) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}

func TestValidate_ReportsCollectionIndexField(t *testing.T) {
	b := validBundle()
	b.Data.Notes = append(b.Data.Notes, models.Note{ID: "n3", Title: ""})
	err := Validate(b)
	var ve *apperr.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want *ValidationError", err)
	}
	if ve.Collection != "notes" || ve.Index != 2 {
		t.Errorf("violation = %+v, want notes[2]", ve)
	}
}

func TestValidate_RejectsEdgeWithoutEndpointIDs(t *testing.T) {
	b := validBundle()
	b.Data.Edges[0].TargetID = ""
	if err := Validate(b); !apperr.IsValidation(err) {
		t.Errorf("err = %v, want ValidationError", err)
	}
}

func TestParse_RejectsMalformedJSON(t *testing.T) {
	_, err := Parse([]byte(`{"version": `))
	if !apperr.IsValidation(err) {
		t.Errorf("err = %v, want ValidationError", err)
	}
}

func TestPreview_CountsNewAndExisting(t *testing.T) {
	im, db := testImporter(t)
	existing := bundleNote("n1", "First", "")
	_ = db.PutNote(&existing)

	p, err := im.Preview(validBundle())
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if p.ExistingNotes != 1 || p.NewNotes != 1 {
		t.Errorf("notes = %+v, want 1 existing / 1 new", p)
	}
	if p.NewEdges != 1 || p.NewTags != 1 {
		t.Errorf("preview = %+v", p)
	}

	// Preview must not mutate anything.
	if n, _ := db.CountNotes(); n != 1 {
		t.Errorf("note count = %d after preview, want 1", n)
	}
}

func TestApply_MergeIsAdditive(t *testing.T) {
	im, db := testImporter(t)
	live := bundleNote("n1", "Live Title", "live content")
	_ = db.PutNote(&live)

	res, err := im.Apply(validBundle(), PolicyMerge)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.NotesAdded != 1 || res.NotesSkipped != 1 {
		t.Errorf("result = %+v", res)
	}

	// The live record wins: content untouched, no error raised.
	got, _ := db.GetNote("n1")
	if got.Title != "Live Title" || got.Content != "live content" {
		t.Errorf("live note was modified: %+v", got)
	}
}

func TestApply_MergeSkipsEdgeWithMissingEndpoint(t *testing.T) {
	im, db := testImporter(t)
	b := validBundle()
	b.Data.Edges = append(b.Data.Edges, models.Edge{
		ID: "e-dangling", SourceID: "n1", TargetID: "nowhere",
		RelType: models.RelRelated, CreatedAt: time.Now(),
	})
	b.Metadata.EdgeCount = 2

	res, err := im.Apply(b, PolicyMerge)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.EdgesAdded != 1 || res.EdgesSkipped != 1 {
		t.Errorf("result = %+v, want 1 added / 1 skipped", res)
	}
	if ok, _ := db.EdgeExists("n1", "nowhere"); ok {
		t.Error("dangling edge must not be inserted")
	}
}

func TestApply_ReplaceClearsThenInserts(t *testing.T) {
	im, db := testImporter(t)
	old := bundleNote("old", "Old Note", "")
	_ = db.PutNote(&old)
	_ = db.InsertEdge(models.Edge{ID: "old-e", SourceID: "old", TargetID: "old", RelType: models.RelRelated, CreatedAt: time.Now()})
	_ = db.InsertRef(models.Reference{ID: "old-r", SourceID: "old", TargetTitle: "X", RelType: models.RelReference, CreatedAt: time.Now()})

	res, err := im.Apply(validBundle(), PolicyReplace)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.NotesAdded != 2 || res.EdgesAdded != 1 || res.TagsAdded != 1 {
		t.Errorf("result = %+v", res)
	}
	if _, err := db.GetNote("old"); !errors.Is(err, apperr.ErrNotFound) {
		t.Error("pre-import note should be gone")
	}
	if ok, _ := db.EdgeExists("old", "old"); ok {
		t.Error("pre-import edge should be gone")
	}
	if refs, _ := db.RefsBySource("old"); len(refs) != 0 {
		t.Error("pre-import refs should be gone")
	}
}

func TestApply_RebuildsReferencesFromImportedContent(t *testing.T) {
	im, db := testImporter(t)
	res, err := im.Apply(validBundle(), PolicyReplace)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.RefsRebuilt != 1 {
		t.Errorf("refs rebuilt = %d, want 1", res.RefsRebuilt)
	}
	refs, _ := db.RefsBySource("n1")
	if len(refs) != 1 || refs[0].TargetID != "n2" || refs[0].TargetTitle != "Second" {
		t.Errorf("refs = %+v, want one resolved to n2", refs)
	}
	// Rebuild never projects: the only edge is the bundle's own.
	edges, _ := db.ListEdges()
	if len(edges) != 1 || edges[0].ID != "e1" {
		t.Errorf("edges = %+v, want only the bundle edge", edges)
	}
}

func TestApply_RecomputesTagUsage(t *testing.T) {
	im, db := testImporter(t)
	b := validBundle()
	b.Data.Notes[0].TagIDs = []string{"t1"}
	b.Data.Notes[1].TagIDs = []string{"t1", "t-unknown"}
	// Bundle claims 7; the truth derived from the note set is 2.

	if _, err := im.Apply(b, PolicyReplace); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	tags, _ := db.ListTags()
	if len(tags) != 1 || tags[0].UsageCount != 2 {
		t.Errorf("tags = %+v, want usage 2", tags)
	}
}

func TestApply_ReplaceIsAtomic(t *testing.T) {
	im, db := testImporter(t)
	keep := bundleNote("keep", "Keep Me", "precious")
	_ = db.PutNote(&keep)
	_ = db.WithTx(func(tx *store.Tx) error {
		return tx.InsertTag(models.Tag{ID: "keep-t", Name: "keep", UsageCount: 0})
	})

	boom := errors.New("disk full")
	im.failBeforeCommit = func() error { return boom }

	_, err := im.Apply(validBundle(), PolicyReplace)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want injected failure", err)
	}

	// The store must equal the pre-import state, never a mixture.
	if _, err := db.GetNote("keep"); err != nil {
		t.Errorf("pre-import note lost: %v", err)
	}
	if _, err := db.GetNote("n1"); !errors.Is(err, apperr.ErrNotFound) {
		t.Error("bundle note must not survive a failed apply")
	}
	tags, _ := db.ListTags()
	if len(tags) != 1 || tags[0].ID != "keep-t" {
		t.Errorf("tags = %+v, want pre-import state", tags)
	}
	if n, _ := db.CountEdges(); n != 0 {
		t.Errorf("edges = %d, want 0", n)
	}
}

func TestApply_MergeIdempotent(t *testing.T) {
	im, db := testImporter(t)
	if _, err := im.Apply(validBundle(), PolicyMerge); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	res, err := im.Apply(validBundle(), PolicyMerge)
	if err != nil {
		t.Fatalf("second apply: %v", err)
	}
	if res.NotesAdded != 0 || res.EdgesAdded != 0 || res.TagsAdded != 0 {
		t.Errorf("second merge added records: %+v", res)
	}
	if n, _ := db.CountNotes(); n != 2 {
		t.Errorf("notes = %d, want 2", n)
	}
}

func TestExportRoundTrip(t *testing.T) {
	im, db := testImporter(t)
	if _, err := im.Apply(validBundle(), PolicyReplace); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	out, err := im.Export()
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if out.Application != AppIdentifier || out.Version != FormatVersion {
		t.Errorf("header = %q %q", out.Application, out.Version)
	}
	if out.Metadata.NoteCount != 2 || out.Metadata.EdgeCount != 1 || out.Metadata.TagCount != 1 {
		t.Errorf("metadata = %+v", out.Metadata)
	}
	if err := Validate(out); err != nil {
		t.Errorf("exported bundle fails validation: %v", err)
	}

	// Re-importing our own export into a fresh store reproduces it.
	db2 := testutil.TestDB(t)
	im2 := NewImporter(db2, engine.New(db2, slog.Default()), slog.Default())
	if _, err := im2.Apply(out, PolicyReplace); err != nil {
		t.Fatalf("re-import: %v", err)
	}
	n1, _ := db.CountNotes()
	n2, _ := db2.CountNotes()
	if n1 != n2 {
		t.Errorf("note counts differ: %d vs %d", n1, n2)
	}
}

func TestParsePolicy(t *testing.T) {
	if _, err := ParsePolicy("merge"); err != nil {
		t.Errorf("merge: %v", err)
	}
	if _, err := ParsePolicy("replace"); err != nil {
		t.Errorf("replace: %v", err)
	}
	if _, err := ParsePolicy("upsert"); err == nil {
		t.Error("unknown policy should fail")
	}
}
