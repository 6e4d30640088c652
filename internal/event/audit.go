package event

import (
	"context"
	"sync"
)

// AuditLog is the only externally observable trace of the confidential
// computations: an append-only sink the orchestrator writes on every
// committed transition, never on a discarded one.
type AuditLog interface {
	Append(ctx context.Context, env Envelope) error
}

// MemoryAuditLog keeps envelopes in memory. Used by tests and as the
// default sink when no persistence is wired.
type MemoryAuditLog struct {
	mu      sync.Mutex
	entries []Envelope
}

func NewMemoryAuditLog() *MemoryAuditLog {
	return &MemoryAuditLog{}
}

func (m *MemoryAuditLog) Append(_ context.Context, env Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = append(m.entries, env)
	return nil
}

// Entries returns a copy of everything appended so far.
func (m *MemoryAuditLog) Entries() []Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Envelope, len(m.entries))
	copy(out, m.entries)
	return out
}

// MultiLog fans one append out to several sinks; the first error wins but
// every sink still sees the envelope.
type MultiLog []AuditLog

func (ml MultiLog) Append(ctx context.Context, env Envelope) error {
	var first error
	for _, l := range ml {
		if err := l.Append(ctx, env); err != nil && first == nil {
			first = err
		}
	}
	return first
}
