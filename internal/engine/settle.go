package engine

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/starford/othala/internal/apperr"
)

// Settler coalesces rapid content-change notifications for the same note
// into a single resync once the content stops changing for the settle
// interval. Supersession is handled by the engine's per-note version stamp,
// not by cancelling timers: a resync that fires and then loses the stamp
// race simply discards its writes.
type Settler struct {
	engine   *Engine
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingEdit
	closed  bool
}

type pendingEdit struct {
	content string
	version uint64
	timer   *time.Timer
}

// NewSettler creates a settler over the engine with the given settle
// interval.
func NewSettler(e *Engine, interval time.Duration, logger *slog.Logger) *Settler {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Settler{
		engine:   e,
		interval: interval,
		logger:   logger,
		pending:  make(map[string]*pendingEdit),
	}
}

// Notify records a new content snapshot for the note and (re)starts its
// settle timer. Bursts of edits within the interval collapse to a single
// resync over the final content.
func (s *Settler) Notify(noteID, content string) {
	version := s.engine.Bump(noteID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if p, ok := s.pending[noteID]; ok {
		p.content = content
		p.version = version
		p.timer.Reset(s.interval)
		return
	}
	p := &pendingEdit{content: content, version: version}
	p.timer = time.AfterFunc(s.interval, func() { s.fire(noteID) })
	s.pending[noteID] = p
}

// Cancel drops any pending edit for the note and invalidates an in-flight
// resync via the version stamp. Callers invoke it before delete cascades.
func (s *Settler) Cancel(noteID string) {
	s.mu.Lock()
	p, ok := s.pending[noteID]
	if ok {
		p.timer.Stop()
		delete(s.pending, noteID)
	}
	s.mu.Unlock()
	s.engine.Bump(noteID)
}

// Close stops all timers and runs every pending resync synchronously so no
// settled edit is lost on shutdown.
func (s *Settler) Close() {
	s.mu.Lock()
	s.closed = true
	drained := make(map[string]*pendingEdit, len(s.pending))
	for id, p := range s.pending {
		p.timer.Stop()
		drained[id] = p
	}
	s.pending = make(map[string]*pendingEdit)
	s.mu.Unlock()

	for id, p := range drained {
		s.run(id, p)
	}
}

func (s *Settler) fire(noteID string) {
	s.mu.Lock()
	p, ok := s.pending[noteID]
	if ok {
		delete(s.pending, noteID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	s.run(noteID, p)
}

func (s *Settler) run(noteID string, p *pendingEdit) {
	err := s.engine.resync(noteID, p.content, p.version)
	switch {
	case errors.Is(err, apperr.ErrStaleResync):
		// A newer edit superseded this snapshot; its own resync follows.
		s.logger.Debug("resync discarded as stale", slog.String("note_id", noteID))
	case err != nil:
		// Prior reference state is untouched; the next content-settle
		// event retries.
		s.logger.Warn("resync failed",
			slog.String("note_id", noteID),
			slog.String("error", err.Error()))
	}
}
