package agent

import (
	"sync"
	"time"
)

// DisplayEventKind identifies the type of event surfaced to the host.
type DisplayEventKind string

const (
	EventTurnStart      DisplayEventKind = "turn_start"
	EventTurnEnd        DisplayEventKind = "turn_end"
	EventTextDelta      DisplayEventKind = "text_delta"
	EventToolCallStart  DisplayEventKind = "tool_call_start"
	EventToolCallEnd    DisplayEventKind = "tool_call_end"
	EventCompaction     DisplayEventKind = "compaction"
	EventLoopWarning    DisplayEventKind = "loop_warning"
	EventWarning        DisplayEventKind = "warning"
	EventError          DisplayEventKind = "error"
)

// DisplayEvent is a typed event emitted by the agent for real-time rendering.
type DisplayEvent struct {
	Kind      DisplayEventKind       `json:"kind"`
	Timestamp time.Time              `json:"timestamp"`
	SessionID string                 `json:"session_id"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Emitter delivers DisplayEvents to the host application over a buffered
// channel. A full channel drops events rather than blocking the loop.
type Emitter struct {
	sessionID string
	ch        chan DisplayEvent
	closed    bool
	mu        sync.Mutex
}

// NewEmitter creates an Emitter with the given buffer size (256 if <= 0).
func NewEmitter(sessionID string, bufferSize int) *Emitter {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Emitter{
		sessionID: sessionID,
		ch:        make(chan DisplayEvent, bufferSize),
	}
}

// Emit sends an event. Events sent after Close are silently dropped.
func (e *Emitter) Emit(kind DisplayEventKind, data map[string]interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	event := DisplayEvent{
		Kind:      kind,
		Timestamp: time.Now(),
		SessionID: e.sessionID,
		Data:      data,
	}
	select {
	case e.ch <- event:
	default:
		// Channel full; drop rather than block the loop.
	}
}

// Events returns the read-only event channel.
func (e *Emitter) Events() <-chan DisplayEvent {
	return e.ch
}

// Close closes the event channel. Safe to call multiple times.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
}
