package access

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/mwantia/pakfs/data"
	"github.com/mwantia/pakfs/log"
)

// ThreadID identifies the logical thread of a caller. Go has no stable thread
// identity, so callers that want per-thread gating attach one to their context.
type ThreadID uint64

type threadKey struct{}

// WithThread attaches the caller identity to ctx.
func WithThread(ctx context.Context, id ThreadID) context.Context {
	return context.WithValue(ctx, threadKey{}, id)
}

// ThreadFrom returns the caller identity attached to ctx.
func ThreadFrom(ctx context.Context) (ThreadID, bool) {
	if ctx == nil {
		return 0, false
	}
	id, ok := ctx.Value(threadKey{}).(ThreadID)
	return id, ok
}

// Handle is the view of an opened file that sinks receive.
type Handle interface {
	Path() string
}

// Sink observes every file open attempt. On a failed attempt the handle is nil.
type Sink interface {
	ReportFileOpen(handle Handle, fullPath string)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(handle Handle, fullPath string)

func (f SinkFunc) ReportFileOpen(handle Handle, fullPath string) {
	f(handle, fullPath)
}

type registration struct {
	id   string
	sink Sink
}

// Gate decides whether file access is currently allowed and fans open events
// out to the registered sinks.
type Gate struct {
	mu  sync.RWMutex
	log *log.Logger

	enabled  bool
	disabled map[ThreadID]bool
	sinks    []registration
}

// NewGate returns a gate with access enabled for every thread.
func NewGate(logger *log.Logger) *Gate {
	if logger == nil {
		logger = log.NewDiscard()
	}

	return &Gate{
		log:      logger,
		enabled:  true,
		disabled: make(map[ThreadID]bool),
	}
}

// SetEnabled toggles file access for the whole process and returns the previous state.
func (g *Gate) SetEnabled(enabled bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	previous := g.enabled
	g.enabled = enabled

	g.log.Debug("SetEnabled: file access %t (was %t)", enabled, previous)
	return previous
}

// Enabled reports the process-wide flag.
func (g *Gate) Enabled() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return g.enabled
}

// DisableForThread marks id as forbidden (or allowed again) to access files
// and returns whether it was forbidden before the call.
func (g *Gate) DisableForThread(id ThreadID, disabled bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	previous := g.disabled[id]
	if disabled {
		g.disabled[id] = true
	} else {
		delete(g.disabled, id)
	}

	g.log.Debug("DisableForThread: thread %d disabled=%t (was %t)", id, disabled, previous)
	return previous
}

// IsDisabledForThread reports whether id is currently forbidden.
func (g *Gate) IsDisabledForThread(id ThreadID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return g.disabled[id]
}

// Forbid disables access for id until the returned restore function is called.
//
//	defer gate.Forbid(id)()
func (g *Gate) Forbid(id ThreadID) func() {
	previous := g.DisableForThread(id, true)
	return func() {
		g.DisableForThread(id, previous)
	}
}

// Allow enables access for id until the returned restore function is called.
func (g *Gate) Allow(id ThreadID) func() {
	previous := g.DisableForThread(id, false)
	return func() {
		g.DisableForThread(id, previous)
	}
}

// CheckAccess returns false if the process-wide flag is off or the calling
// thread, identified through ctx, is currently forbidden.
func (g *Gate) CheckAccess(ctx context.Context, path string, mode data.AccessMode) bool {
	g.mu.RLock()
	enabled := g.enabled
	id, hasThread := ThreadFrom(ctx)
	forbidden := hasThread && g.disabled[id]
	g.mu.RUnlock()

	if !enabled {
		g.log.Warn("CheckAccess: file access is disabled, denied '%s' (%s)", path, mode)
		return false
	}
	if forbidden {
		g.log.Warn("CheckAccess: thread %d is not allowed to access '%s' (%s)", id, path, mode)
		return false
	}

	return true
}

// RegisterSink adds a sink and returns its registration id.
func (g *Gate) RegisterSink(sink Sink) string {
	id := uuid.Must(uuid.NewV7()).String()

	g.mu.Lock()
	defer g.mu.Unlock()

	g.sinks = append(g.sinks, registration{id: id, sink: sink})
	g.log.Debug("RegisterSink: registered sink %s", id)

	return id
}

// UnregisterSink removes a sink; it reports whether the id was known.
func (g *Gate) UnregisterSink(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i, reg := range g.sinks {
		if reg.id == id {
			g.sinks = append(g.sinks[:i:i], g.sinks[i+1:]...)
			g.log.Debug("UnregisterSink: removed sink %s", id)
			return true
		}
	}

	return false
}

// SinkCount returns the number of registered sinks.
func (g *Gate) SinkCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return len(g.sinks)
}

// Notify reports an open attempt to every sink in registration order.
// Sinks are called without holding the gate lock.
func (g *Gate) Notify(handle Handle, fullPath string) {
	g.mu.RLock()
	sinks := make([]Sink, len(g.sinks))
	for i, reg := range g.sinks {
		sinks[i] = reg.sink
	}
	g.mu.RUnlock()

	for _, sink := range sinks {
		sink.ReportFileOpen(handle, fullPath)
	}
}
