// Package bus fans orchestrator state out to observers. Observers always get
// the entire current snapshot; there is no diffing.
package bus

import (
	"log/slog"
	"sync"

	"github.com/AxoRm/glass/internal/domain"
)

// Bus delivers full-state snapshots and stream-error events to named sinks.
type Bus struct {
	mu     sync.RWMutex
	sinks  map[string]domain.StateSink
	logger *slog.Logger
}

func New(logger *slog.Logger) *Bus {
	return &Bus{
		sinks:  make(map[string]domain.StateSink),
		logger: logger,
	}
}

// Register attaches a sink under a name, replacing any previous sink with the
// same name.
func (b *Bus) Register(name string, sink domain.StateSink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks[name] = sink
}

func (b *Bus) Unregister(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sinks, name)
}

// BroadcastState pushes a snapshot to every registered sink synchronously.
func (b *Bus) BroadcastState(state domain.AskState) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sink := range b.sinks {
		sink.OnState(state)
	}
}

// BroadcastStreamError pushes a dedicated stream-error event to every sink.
// Emitted only for unrecovered failures, never for cancellation or
// persistence issues.
func (b *Bus) BroadcastStreamError(msg string) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.sinks) == 0 {
		b.logger.Warn("stream error with no observers", "err", msg)
	}
	for _, sink := range b.sinks {
		sink.OnStreamError(msg)
	}
}
