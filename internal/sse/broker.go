// Package sse implements a Server-Sent Events broker that streams note and
// graph changes to the canvas renderer.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// Event is one SSE payload.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type noteChange struct {
	kind   string
	noteID string
}

// Broker fans events out to connected SSE clients.
//
// A single internal loop owns all mutable state (the client set and the
// graph-event throttle), so public methods communicate through channels and
// no mutexes are needed.
type Broker struct {
	graphMin time.Duration

	subscribeCh   chan chan []byte
	unsubscribeCh chan chan []byte
	noteCh        chan noteChange
	importCh      chan string
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker. graphThrottle bounds how often a graph.updated
// event is emitted during bursts of note changes.
func NewBroker(graphThrottle time.Duration) *Broker {
	if graphThrottle <= 0 {
		graphThrottle = 2 * time.Second
	}
	b := &Broker{
		graphMin:      graphThrottle,
		subscribeCh:   make(chan chan []byte),
		unsubscribeCh: make(chan chan []byte),
		noteCh:        make(chan noteChange, 256),
		importCh:      make(chan string, 16),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]struct{})
	var lastGraph time.Time

	broadcast := func(ev Event) {
		payload, err := json.Marshal(ev)
		if err != nil {
			return
		}
		for ch := range clients {
			select {
			case ch <- payload:
			default: // slow client, drop rather than block the loop
			}
		}
	}

	graphMaybe := func() {
		now := time.Now()
		if now.Sub(lastGraph) >= b.graphMin {
			lastGraph = now
			broadcast(Event{Type: "graph.updated", Data: map[string]string{}})
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case ch := <-b.subscribeCh:
			clients[ch] = struct{}{}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case c := <-b.noteCh:
			broadcast(Event{Type: "note." + c.kind, Data: map[string]string{"id": c.noteID}})
			graphMaybe()

		case policy := <-b.importCh:
			broadcast(Event{Type: "import.applied", Data: map[string]string{"policy": policy}})
			// Imports reshape the whole graph; bypass the throttle.
			lastGraph = time.Now()
			broadcast(Event{Type: "graph.updated", Data: map[string]string{}})

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close stops the loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe registers a new client and returns its channel.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}
	select {
	case b.subscribeCh <- ch:
	case <-b.stopped:
		close(ch)
	}
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}
	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}
	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// NoteChanged publishes a note lifecycle event ("created", "updated",
// "deleted") plus a throttled graph.updated.
func (b *Broker) NoteChanged(kind, noteID string) {
	if b.closed.Load() {
		return
	}
	select {
	case b.noteCh <- noteChange{kind: kind, noteID: noteID}:
	case <-b.stopped:
	}
}

// ImportApplied publishes an import completion followed by an immediate
// graph refresh.
func (b *Broker) ImportApplied(policy string) {
	if b.closed.Load() {
		return
	}
	select {
	case b.importCh <- policy:
	case <-b.stopped:
	}
}

// ServeHTTP streams events to one client until it disconnects.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case payload, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}
