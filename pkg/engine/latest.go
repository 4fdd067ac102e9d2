package engine

import (
	"sync"
	"time"

	"brainlink/pkg/protocol"
)

// Snapshot is the newest decoded state as seen by HTTP clients.
type Snapshot struct {
	Cognitive   *protocol.CognitiveState    `json:"cognitive,omitempty"`
	CognitiveAt time.Time                   `json:"cognitive_at,omitzero"`
	Telemetry   *protocol.ExtendedTelemetry `json:"telemetry,omitempty"`
	TelemetryAt time.Time                   `json:"telemetry_at,omitzero"`
}

type Latest struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

func NewLatest() *Latest {
	return &Latest{now: time.Now}
}

func (l *Latest) setCognitive(s protocol.CognitiveState) {
	l.mu.Lock()
	l.snap.Cognitive = &s
	l.snap.CognitiveAt = l.now()
	l.mu.Unlock()
}

func (l *Latest) setTelemetry(t protocol.ExtendedTelemetry) {
	l.mu.Lock()
	l.snap.Telemetry = &t
	l.snap.TelemetryAt = l.now()
	l.mu.Unlock()
}

func (l *Latest) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snap
}
