// Package memsink keeps announced schemas and copies of frames in memory.
package memsink

import (
	"sync"

	"github.com/rawbytedev/tamer"
)

// Sink is a bounded in-memory sink. Once it holds its limit of frames it
// rejects further ones until Reset.
type Sink struct {
	mu      sync.Mutex
	limit   int
	schemas map[uint64]*tamer.Schema
	order   []uint64
	frames  []tamer.Frame
}

// New returns a sink holding at most limit frames; limit <= 0 means no limit.
func New(limit int) *Sink {
	return &Sink{limit: limit, schemas: make(map[uint64]*tamer.Schema)}
}

// Announce records s.
func (m *Sink) Announce(s *tamer.Schema) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.schemas[s.Hash]; !ok {
		m.schemas[s.Hash] = s
		m.order = append(m.order, s.Hash)
	}
	return true
}

// Consume stores a copy of f.
func (m *Sink) Consume(f tamer.Frame) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.limit > 0 && len(m.frames) >= m.limit {
		return false
	}
	f.Payload = append([]byte(nil), f.Payload...)
	m.frames = append(m.frames, f)
	return true
}

// Frames returns the stored frames in arrival order.
func (m *Sink) Frames() []tamer.Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]tamer.Frame(nil), m.frames...)
}

// Schemas returns the announced schemas in announcement order.
func (m *Sink) Schemas() []*tamer.Schema {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*tamer.Schema, len(m.order))
	for i, h := range m.order {
		out[i] = m.schemas[h]
	}
	return out
}

// Schema returns the announced schema with the given hash.
func (m *Sink) Schema(hash uint64) (*tamer.Schema, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schemas[hash]
	return s, ok
}

// Decode decodes a stored frame with the schema it was announced under.
func (m *Sink) Decode(f tamer.Frame) ([]tamer.Value, error) {
	s, ok := m.Schema(f.SchemaHash)
	if !ok {
		return nil, tamer.ErrUnknownType
	}
	return tamer.DecodeFrame(s, f.Payload)
}

// Reset drops stored frames. Schemas are kept because the channel will not
// announce them again.
func (m *Sink) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = nil
}
