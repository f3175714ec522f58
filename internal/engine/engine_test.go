package engine

import (
	"errors"
	"log/slog"
	"reflect"
	"testing"
	"time"

	"github.com/starford/othala/internal/apperr"
	"github.com/starford/othala/internal/models"
	"github.com/starford/othala/internal/store"
	"github.com/starford/othala/internal/testutil"
)

func testEngine(t *testing.T) (*Engine, *store.DB) {
	t.Helper()
	db := testutil.TestDB(t)
	return New(db, slog.Default()), db
}

func addNote(t *testing.T, db *store.DB, id, title, content string, createdAt time.Time) {
	t.Helper()
	n := &models.Note{ID: id, Title: title, Content: content, CreatedAt: createdAt, UpdatedAt: createdAt}
	if err := db.PutNote(n); err != nil {
		t.Fatalf("PutNote(%s): %v", id, err)
	}
}

func TestResync_CreatesOneRowPerDistinctTitle(t *testing.T) {
	e, db := testEngine(t)
	now := time.Now()
	addNote(t, db, "a", "A", "", now)
	addNote(t, db, "b", "B", "", now)

	content := "See [[B]] and [[C]] and [[B]] once more"
	if err := e.Resync("a", content); err != nil {
		t.Fatalf("Resync: %v", err)
	}

	refs, _ := db.RefsBySource("a")
	if len(refs) != 2 {
		t.Fatalf("len(refs) = %d, want 2", len(refs))
	}
	byTitle := make(map[string]models.Reference)
	for _, r := range refs {
		byTitle[r.TargetTitle] = r
	}
	if r := byTitle["B"]; r.TargetID != "b" {
		t.Errorf("ref B target = %q, want b", r.TargetID)
	}
	if r := byTitle["C"]; r.Resolved() {
		t.Errorf("ref C should be broken, got target %q", r.TargetID)
	}
}

func TestResync_DuplicateMarkersCollapse(t *testing.T) {
	e, db := testEngine(t)
	addNote(t, db, "a", "A", "", time.Now())

	if err := e.Resync("a", "See [[Budget Plan]] and [[Budget Plan]] again"); err != nil {
		t.Fatalf("Resync: %v", err)
	}
	refs, _ := db.RefsBySource("a")
	if len(refs) != 1 || refs[0].TargetTitle != "Budget Plan" {
		t.Fatalf("refs = %+v, want exactly one Budget Plan row", refs)
	}
}

func TestResync_Idempotent(t *testing.T) {
	e, db := testEngine(t)
	now := time.Now()
	addNote(t, db, "a", "A", "", now)
	addNote(t, db, "b", "B", "", now)

	content := "[[B]] and [[Ghost]]"
	if err := e.Resync("a", content); err != nil {
		t.Fatalf("first resync: %v", err)
	}
	before, _ := db.RefsBySource("a")
	edgesBefore, _ := db.ListEdges()

	if err := e.Resync("a", content); err != nil {
		t.Fatalf("second resync: %v", err)
	}
	after, _ := db.RefsBySource("a")
	edgesAfter, _ := db.ListEdges()

	if !reflect.DeepEqual(before, after) {
		t.Errorf("refs changed on identical content:\nbefore %+v\nafter  %+v", before, after)
	}
	if len(edgesBefore) != len(edgesAfter) {
		t.Errorf("edges = %d, want %d", len(edgesAfter), len(edgesBefore))
	}
}

func TestResync_RemovesVanishedMarkers(t *testing.T) {
	e, db := testEngine(t)
	addNote(t, db, "a", "A", "", time.Now())

	_ = e.Resync("a", "[[X]] [[Y]]")
	if err := e.Resync("a", "[[Y]] only now"); err != nil {
		t.Fatalf("Resync: %v", err)
	}
	refs, _ := db.RefsBySource("a")
	if len(refs) != 1 || refs[0].TargetTitle != "Y" {
		t.Fatalf("refs = %+v, want only Y", refs)
	}
}

func TestResync_ProjectsEdgeForNewlyResolved(t *testing.T) {
	e, db := testEngine(t)
	now := time.Now()
	addNote(t, db, "a", "A", "", now)
	addNote(t, db, "b", "B", "", now)

	if err := e.Resync("a", "[[B]]"); err != nil {
		t.Fatalf("Resync: %v", err)
	}
	edges, _ := db.ListEdges()
	if len(edges) != 1 {
		t.Fatalf("edges = %+v, want 1", edges)
	}
	ed := edges[0]
	if ed.SourceID != "a" || ed.TargetID != "b" || ed.RelType != models.RelReference || ed.Label != "B" {
		t.Errorf("edge = %+v", ed)
	}
}

func TestResync_BrokenThenCreatedResolvesOnNextResync(t *testing.T) {
	e, db := testEngine(t)
	addNote(t, db, "a", "A", "", time.Now())

	_ = e.Resync("a", "see [[Budget Plan]]")
	refs, _ := db.RefsBySource("a")
	if len(refs) != 1 || refs[0].Resolved() {
		t.Fatalf("refs = %+v, want one broken", refs)
	}
	if edges, _ := db.ListEdges(); len(edges) != 0 {
		t.Fatalf("no edge should exist for a broken reference, got %+v", edges)
	}

	addNote(t, db, "bp", "Budget Plan", "", time.Now())

	// Creation alone re-attaches nothing; the next resync does.
	if err := e.Resync("a", "see [[Budget Plan]]"); err != nil {
		t.Fatalf("Resync: %v", err)
	}
	refs, _ = db.RefsBySource("a")
	if len(refs) != 1 || refs[0].TargetID != "bp" {
		t.Fatalf("refs = %+v, want resolved to bp", refs)
	}
	edges, _ := db.ListEdges()
	if len(edges) != 1 {
		t.Fatalf("edges = %+v, want exactly one", edges)
	}
}

func TestResync_EdgeDedupOnOrderedPair(t *testing.T) {
	e, db := testEngine(t)
	now := time.Now()
	addNote(t, db, "a", "A", "", now)
	addNote(t, db, "b", "Target", "", now)

	// Two distinct literals, both resolving to the same note.
	if err := e.Resync("a", "[[Target]] and [[target]]"); err != nil {
		t.Fatalf("Resync: %v", err)
	}
	refs, _ := db.RefsBySource("a")
	if len(refs) != 2 {
		t.Fatalf("len(refs) = %d, want 2 distinct literals", len(refs))
	}
	edges, _ := db.ListEdges()
	if len(edges) != 1 {
		t.Fatalf("edges = %+v, want exactly one for the ordered pair", edges)
	}
}

func TestResync_DoesNotDeleteExistingEdges(t *testing.T) {
	e, db := testEngine(t)
	now := time.Now()
	addNote(t, db, "a", "A", "", now)
	addNote(t, db, "b", "B", "", now)

	_ = e.Resync("a", "[[B]]")
	// Marker removed: the reference dies, the edge stays.
	if err := e.Resync("a", "no markers"); err != nil {
		t.Fatalf("Resync: %v", err)
	}
	if refs, _ := db.RefsBySource("a"); len(refs) != 0 {
		t.Errorf("refs = %+v, want none", refs)
	}
	if edges, _ := db.ListEdges(); len(edges) != 1 {
		t.Errorf("edges = %+v, want the projected edge preserved", edges)
	}
}

func TestResync_StaleVersionDiscarded(t *testing.T) {
	e, db := testEngine(t)
	addNote(t, db, "a", "A", "", time.Now())

	version := e.Bump("a")
	e.Bump("a") // newer snapshot supersedes

	err := e.resync("a", "[[X]]", version)
	if !errors.Is(err, apperr.ErrStaleResync) {
		t.Fatalf("err = %v, want ErrStaleResync", err)
	}
	if refs, _ := db.RefsBySource("a"); len(refs) != 0 {
		t.Errorf("stale resync must not write, got %+v", refs)
	}
}

func TestOnRename_Propagates(t *testing.T) {
	e, db := testEngine(t)
	now := time.Now()
	addNote(t, db, "a", "Old", "", now)
	addNote(t, db, "b", "B", "refers to [[Old]]", now)

	_ = e.Resync("b", "refers to [[Old]]")
	edgesBefore, _ := db.ListEdges()

	if err := e.OnRename("a", "Old", "New"); err != nil {
		t.Fatalf("OnRename: %v", err)
	}
	refs, _ := db.RefsBySource("b")
	if len(refs) != 1 {
		t.Fatalf("refs = %+v", refs)
	}
	if refs[0].TargetTitle != "New" || refs[0].TargetID != "a" {
		t.Errorf("ref = %+v, want targetTitle New, target a", refs[0])
	}
	edgesAfter, _ := db.ListEdges()
	if len(edgesAfter) != len(edgesBefore) {
		t.Errorf("rename must not create or delete edges: %d -> %d", len(edgesBefore), len(edgesAfter))
	}
}

func TestOnRename_CaseInsensitiveAndResolvesBroken(t *testing.T) {
	e, db := testEngine(t)
	addNote(t, db, "b", "B", "", time.Now())

	_ = e.Resync("b", "[[old title]]") // broken: no note has this title
	addNote(t, db, "a", "Old Title", "", time.Now())

	if err := e.OnRename("a", "OLD TITLE", "Fresh"); err != nil {
		t.Fatalf("OnRename: %v", err)
	}
	refs, _ := db.RefsBySource("b")
	if len(refs) != 1 || refs[0].TargetID != "a" || refs[0].TargetTitle != "Fresh" {
		t.Errorf("refs = %+v, want broken row re-attached under Fresh", refs)
	}
}

func TestOnRename_StealsFromSameTitledNote(t *testing.T) {
	e, db := testEngine(t)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	addNote(t, db, "first", "Shared", "", base)
	addNote(t, db, "second", "Shared", "", base.Add(time.Hour))
	addNote(t, db, "b", "B", "", base)

	_ = e.Resync("b", "[[Shared]]")
	refs, _ := db.RefsBySource("b")
	if refs[0].TargetID != "first" {
		t.Fatalf("resolution should pick creation order, got %q", refs[0].TargetID)
	}

	// Renaming the second note to the same title steals the reference.
	if err := e.OnRename("second", "Shared", "Shared"); err != nil {
		t.Fatalf("OnRename: %v", err)
	}
	refs, _ = db.RefsBySource("b")
	if refs[0].TargetID != "second" {
		t.Errorf("ref target = %q, want stolen by second", refs[0].TargetID)
	}
}

func TestOnRename_CreationIsNoOp(t *testing.T) {
	e, db := testEngine(t)
	addNote(t, db, "b", "B", "", time.Now())
	_ = e.Resync("b", "[[Budget Plan]]")

	addNote(t, db, "bp", "Budget Plan", "", time.Now())
	if err := e.OnRename("bp", "", "Budget Plan"); err != nil {
		t.Fatalf("OnRename: %v", err)
	}
	refs, _ := db.RefsBySource("b")
	if refs[0].Resolved() {
		t.Errorf("creation must not eagerly re-attach; resolution happens on next resync")
	}
}

func TestOnRename_MergesCollidingRow(t *testing.T) {
	e, db := testEngine(t)
	now := time.Now()
	addNote(t, db, "a", "Old", "", now)
	addNote(t, db, "b", "B", "", now)

	_ = e.Resync("b", "[[Old]] and [[New]]")
	if err := e.OnRename("a", "Old", "New"); err != nil {
		t.Fatalf("OnRename: %v", err)
	}
	refs, _ := db.RefsBySource("b")
	if len(refs) != 1 || refs[0].TargetTitle != "New" {
		t.Fatalf("refs = %+v, want the colliding rows merged into one New", refs)
	}
}

func TestOnRename_MergesCaseVariantRows(t *testing.T) {
	e, db := testEngine(t)
	now := time.Now()
	addNote(t, db, "a", "old", "", now)
	addNote(t, db, "b", "B", "", now)

	// Two case variants are distinct literals, so two rows.
	_ = e.Resync("b", "see [[old]] and [[OLD]]")
	if refs, _ := db.RefsBySource("b"); len(refs) != 2 {
		t.Fatalf("refs = %+v, want 2 case-variant rows", refs)
	}

	// Both variants match the old title; retitling must merge them,
	// not trip the (source, title) unique key.
	if err := e.OnRename("a", "old", "New"); err != nil {
		t.Fatalf("OnRename: %v", err)
	}
	refs, _ := db.RefsBySource("b")
	if len(refs) != 1 {
		t.Fatalf("refs = %+v, want the variants merged into one row", refs)
	}
	if refs[0].TargetTitle != "New" || refs[0].TargetID != "a" {
		t.Errorf("ref = %+v, want targetTitle New resolved to a", refs[0])
	}
}

func TestOnDelete_Cascade(t *testing.T) {
	e, db := testEngine(t)
	now := time.Now()
	addNote(t, db, "a", "A", "", now)
	addNote(t, db, "b", "B", "", now)
	addNote(t, db, "c", "C", "", now)

	_ = e.Resync("a", "[[B]] [[C]]") // outgoing from a
	_ = e.Resync("c", "[[A]]")       // incoming to a
	edgesBefore, _ := db.ListEdges()

	if err := e.OnDelete("a"); err != nil {
		t.Fatalf("OnDelete: %v", err)
	}
	if refs, _ := db.RefsBySource("a"); len(refs) != 0 {
		t.Errorf("outgoing refs should be deleted, got %+v", refs)
	}
	refs, _ := db.RefsBySource("c")
	if len(refs) != 1 || refs[0].Resolved() || refs[0].TargetTitle != "A" {
		t.Errorf("incoming ref = %+v, want broken with title preserved", refs)
	}
	edgesAfter, _ := db.ListEdges()
	if len(edgesAfter) != len(edgesBefore) {
		t.Errorf("delete cascade must not touch edges: %d -> %d", len(edgesBefore), len(edgesAfter))
	}
}

func TestResolve_FirstMatchByCreationOrder(t *testing.T) {
	rows := []store.TitleRow{
		{ID: "n1", Title: "budget plan"},
		{ID: "n2", Title: "Budget Plan"},
	}
	if got := resolve(rows, "BUDGET PLAN"); got != "n1" {
		t.Errorf("resolve = %q, want first match n1", got)
	}
	if got := resolve(rows, "missing"); got != "" {
		t.Errorf("resolve = %q, want unresolved", got)
	}
}
