// Package noteservice coordinates the note collection, the sync engine, and
// the snapshot importer on behalf of the API and MCP surfaces. It is the
// "note-management layer" the engine expects: it owns note rows and notifies
// the engine of every lifecycle event.
package noteservice

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/starford/othala/internal/apperr"
	"github.com/starford/othala/internal/checksum"
	"github.com/starford/othala/internal/engine"
	"github.com/starford/othala/internal/models"
	"github.com/starford/othala/internal/snapshot"
	"github.com/starford/othala/internal/store"
)

// EventSink receives change notifications for the canvas UI. A nil sink
// disables events.
type EventSink interface {
	NoteChanged(kind, noteID string)
	ImportApplied(policy string)
}

// Service wires the store, engine, settler, and importer together.
type Service struct {
	db       *store.DB
	engine   *engine.Engine
	settler  *engine.Settler
	importer *snapshot.Importer
	events   EventSink
}

// New creates a note service. events may be nil.
func New(db *store.DB, eng *engine.Engine, settler *engine.Settler, importer *snapshot.Importer, events EventSink) *Service {
	return &Service{db: db, engine: eng, settler: settler, importer: importer, events: events}
}

// NoteDetail is the full representation of a note with its reference
// neighborhood.
type NoteDetail struct {
	models.Note
	Checksum   string             `json:"checksum"`
	References []models.Reference `json:"references"`
	Backlinks  []models.Reference `json:"backlinks"`
}

// CreateParams are the caller-settable attributes of a new note.
type CreateParams struct {
	Title   string   `json:"title"`
	Content string   `json:"content"`
	PosX    float64  `json:"posX"`
	PosY    float64  `json:"posY"`
	Width   float64  `json:"width"`
	Height  float64  `json:"height"`
	Color   string   `json:"color"`
	TagIDs  []string `json:"tagIds"`
}

// UpdateParams carry a note update. Nil fields are left unchanged.
type UpdateParams struct {
	Title   *string   `json:"title"`
	Content *string   `json:"content"`
	PosX    *float64  `json:"posX"`
	PosY    *float64  `json:"posY"`
	Width   *float64  `json:"width"`
	Height  *float64  `json:"height"`
	Color   *string   `json:"color"`
	TagIDs  *[]string `json:"tagIds"`
}

// CreateNote inserts a note and synchronously resyncs its references, so a
// freshly created note's links are queryable immediately.
func (s *Service) CreateNote(_ context.Context, p CreateParams) (*NoteDetail, error) {
	now := time.Now()
	n := &models.Note{
		ID:        uuid.NewString(),
		Title:     p.Title,
		Content:   p.Content,
		PosX:      p.PosX,
		PosY:      p.PosY,
		Width:     p.Width,
		Height:    p.Height,
		Color:     p.Color,
		TagIDs:    p.TagIDs,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.PutNote(n); err != nil {
		return nil, err
	}
	if err := s.engine.Resync(n.ID, n.Content); err != nil {
		return nil, err
	}
	s.emit("created", n.ID)
	return s.GetNote(context.Background(), n.ID)
}

// GetNote returns a note with its outgoing references and backlinks.
func (s *Service) GetNote(_ context.Context, id string) (*NoteDetail, error) {
	n, err := s.db.GetNote(id)
	if err != nil {
		return nil, err
	}
	refs, err := s.db.RefsBySource(id)
	if err != nil {
		return nil, err
	}
	backlinks, err := s.db.RefsByTarget(id)
	if err != nil {
		return nil, err
	}
	if refs == nil {
		refs = []models.Reference{}
	}
	if backlinks == nil {
		backlinks = []models.Reference{}
	}
	return &NoteDetail{
		Note:       *n,
		Checksum:   checksum.Sum([]byte(n.Content)),
		References: refs,
		Backlinks:  backlinks,
	}, nil
}

// UpdateNote applies a partial update with optimistic concurrency: a
// non-empty ifMatch must equal the checksum of the stored content. A title
// change propagates through the engine before the update returns; a content
// change is debounced through the settler.
func (s *Service) UpdateNote(_ context.Context, id string, p UpdateParams, ifMatch string) (*NoteDetail, error) {
	n, err := s.db.GetNote(id)
	if err != nil {
		return nil, err
	}
	if ifMatch != "" && ifMatch != checksum.Sum([]byte(n.Content)) {
		return nil, apperr.ErrConflict
	}

	oldTitle := n.Title
	contentChanged := false
	if p.Title != nil {
		n.Title = *p.Title
	}
	if p.Content != nil && *p.Content != n.Content {
		n.Content = *p.Content
		contentChanged = true
	}
	if p.PosX != nil {
		n.PosX = *p.PosX
	}
	if p.PosY != nil {
		n.PosY = *p.PosY
	}
	if p.Width != nil {
		n.Width = *p.Width
	}
	if p.Height != nil {
		n.Height = *p.Height
	}
	if p.Color != nil {
		n.Color = *p.Color
	}
	if p.TagIDs != nil {
		n.TagIDs = *p.TagIDs
	}
	n.UpdatedAt = time.Now()

	if err := s.db.PutNote(n); err != nil {
		return nil, err
	}

	// Rename propagation is not debounced: it must be durable before any
	// resync that depends on it runs.
	if n.Title != oldTitle {
		if err := s.engine.OnRename(n.ID, oldTitle, n.Title); err != nil {
			return nil, err
		}
	}
	if contentChanged {
		s.settler.Notify(n.ID, n.Content)
	}
	s.emit("updated", n.ID)
	return s.GetNote(context.Background(), id)
}

// DeleteNote cascades through the engine, then removes the note row. Any
// pending debounced edit for the note is dropped first.
func (s *Service) DeleteNote(_ context.Context, id string) error {
	if _, err := s.db.GetNote(id); err != nil {
		return err
	}
	s.settler.Cancel(id)
	if err := s.engine.OnDelete(id); err != nil {
		return err
	}
	err := s.db.WithTx(func(tx *store.Tx) error { return tx.DeleteNote(id) })
	if err != nil {
		return err
	}
	s.emit("deleted", id)
	return nil
}

// ListNotes returns all notes in stable creation order.
func (s *Service) ListNotes(_ context.Context) ([]models.Note, error) {
	notes, err := s.db.ListNotes()
	if err != nil {
		return nil, err
	}
	if notes == nil {
		notes = []models.Note{}
	}
	return notes, nil
}

// References returns a note's outgoing references in position order.
func (s *Service) References(_ context.Context, id string) ([]models.Reference, error) {
	return s.db.RefsBySource(id)
}

// Backlinks returns every reference resolved to the given note.
func (s *Service) Backlinks(_ context.Context, id string) ([]models.Reference, error) {
	return s.db.RefsByTarget(id)
}

// GraphNode is a canvas node.
type GraphNode struct {
	ID    string  `json:"id"`
	Title string  `json:"title"`
	PosX  float64 `json:"posX"`
	PosY  float64 `json:"posY"`
	Color string  `json:"color,omitempty"`
}

// Graph returns the canvas-visible graph: every note as a node plus every
// edge.
func (s *Service) Graph(_ context.Context) ([]GraphNode, []models.Edge, error) {
	notes, err := s.db.ListNotes()
	if err != nil {
		return nil, nil, err
	}
	edges, err := s.db.ListEdges()
	if err != nil {
		return nil, nil, err
	}
	nodes := make([]GraphNode, len(notes))
	for i, n := range notes {
		nodes[i] = GraphNode{ID: n.ID, Title: n.Title, PosX: n.PosX, PosY: n.PosY, Color: n.Color}
	}
	if edges == nil {
		edges = []models.Edge{}
	}
	return nodes, edges, nil
}

// Tags returns all tags with their cached usage counts.
func (s *Service) Tags(_ context.Context) ([]models.Tag, error) {
	return s.db.ListTags()
}

// ValidateImport parses and validates a raw bundle without touching the
// store.
func (s *Service) ValidateImport(raw []byte) (*snapshot.Bundle, error) {
	return snapshot.Parse(raw)
}

// PreviewImport classifies bundle records as new or existing, read-only.
func (s *Service) PreviewImport(b *snapshot.Bundle) (*snapshot.Preview, error) {
	return s.importer.Preview(b)
}

// ApplyImport runs a transactional import under the given policy.
func (s *Service) ApplyImport(b *snapshot.Bundle, policy snapshot.Policy) (*snapshot.Result, error) {
	res, err := s.importer.Apply(b, policy)
	if err != nil {
		return nil, err
	}
	if s.events != nil {
		s.events.ImportApplied(string(policy))
	}
	return res, nil
}

// Export builds a snapshot bundle of the live collections.
func (s *Service) Export() (*snapshot.Bundle, error) {
	return s.importer.Export()
}

func (s *Service) emit(kind, noteID string) {
	if s.events != nil {
		s.events.NoteChanged(kind, noteID)
	}
}
