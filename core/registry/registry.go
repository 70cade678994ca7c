// Package registry holds process-wide runtime state: operating mode,
// the enabled-flow set, counters, and a bounded in-memory log ring.
// None of its operations can fail; everything lives in memory and resets
// on restart.
package registry

import (
	"sync"
	"time"

	"wabot/core/session"
)

// Mode is the bot operating mode.
type Mode string

const (
	ModeRunning     Mode = "running"
	ModePaused      Mode = "paused"
	ModeMaintenance Mode = "maintenance"
	ModeError       Mode = "error"
)

const logRingCap = 1000

// LogEntry is one line of the rolling runtime log.
type LogEntry struct {
	Timestamp time.Time
	Level     string
	Message   string
}

// Metrics is a point-in-time counter snapshot.
type Metrics struct {
	MessagesProcessed uint64
	ErrorsCount       uint64
	StartTime         time.Time
	LastActivity      time.Time
}

// Registry is constructed once at startup and threaded through every
// component constructor; there is no package-level singleton.
type Registry struct {
	mu sync.RWMutex

	mode            Mode
	enabled         map[session.FlowID]struct{}
	maintenanceText string

	processed    uint64
	errors       uint64
	startTime    time.Time
	lastActivity time.Time

	ring []LogEntry
}

// New builds a registry with the given flows enabled and mode running.
func New(flows ...session.FlowID) *Registry {
	enabled := make(map[session.FlowID]struct{}, len(flows))
	for _, f := range flows {
		enabled[f] = struct{}{}
	}
	now := time.Now()
	return &Registry{
		mode:         ModeRunning,
		enabled:      enabled,
		startTime:    now,
		lastActivity: now,
	}
}

// Mode returns the current operating mode.
func (r *Registry) Mode() Mode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mode
}

// SetMode switches the operating mode.
func (r *Registry) SetMode(m Mode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mode = m
	r.appendLogLocked("info", "bot mode changed to: "+string(m))
}

// FlowEnabled reports whether a flow participates in dispatch.
func (r *Registry) FlowEnabled(id session.FlowID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.enabled[id]
	return ok
}

// EnableFlow adds a flow to the enabled set.
func (r *Registry) EnableFlow(id session.FlowID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled[id] = struct{}{}
	r.appendLogLocked("info", "flow enabled: "+string(id))
}

// DisableFlow removes a flow from the enabled set.
func (r *Registry) DisableFlow(id session.FlowID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.enabled, id)
	r.appendLogLocked("info", "flow disabled: "+string(id))
}

// EnabledFlows lists flows currently participating in dispatch.
func (r *Registry) EnabledFlows() []session.FlowID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]session.FlowID, 0, len(r.enabled))
	for id := range r.enabled {
		out = append(out, id)
	}
	return out
}

// MaintenanceMessage returns the operator-provided maintenance text.
func (r *Registry) MaintenanceMessage() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.maintenanceText
}

// SetMaintenanceMessage stores the operator-provided maintenance text.
func (r *Registry) SetMaintenanceMessage(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maintenanceText = msg
}

// MaintenanceResponse is the user-facing maintenance notice.
func (r *Registry) MaintenanceResponse() string {
	r.mu.RLock()
	custom := r.maintenanceText
	r.mu.RUnlock()
	if custom != "" {
		return "🔧 *Mantenimiento en Curso*\n\n" + custom + "\n\nDisculpa las molestias. Volveremos pronto."
	}
	return "🔧 *Mantenimiento en Curso*\n\nNuestro sistema está en mantenimiento temporalmente.\n\nDisculpa las molestias. Volveremos pronto."
}

// IncrementProcessed counts one handled inbound message.
func (r *Registry) IncrementProcessed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processed++
	r.lastActivity = time.Now()
}

// IncrementErrors counts one flow or dispatch error.
func (r *Registry) IncrementErrors() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors++
}

// Snapshot returns current counters.
func (r *Registry) Snapshot() Metrics {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Metrics{
		MessagesProcessed: r.processed,
		ErrorsCount:       r.errors,
		StartTime:         r.startTime,
		LastActivity:      r.lastActivity,
	}
}

// ResetMetrics zeroes the counters.
func (r *Registry) ResetMetrics() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processed = 0
	r.errors = 0
	r.startTime = time.Now()
	r.lastActivity = r.startTime
	r.appendLogLocked("info", "metrics reset")
}

// AddLog appends an entry to the rolling log ring.
func (r *Registry) AddLog(level, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appendLogLocked(level, message)
}

func (r *Registry) appendLogLocked(level, message string) {
	r.ring = append(r.ring, LogEntry{
		Timestamp: time.Now(),
		Level:     level,
		Message:   message,
	})
	if len(r.ring) > logRingCap {
		r.ring = r.ring[len(r.ring)-logRingCap:]
	}
}

// Logs returns a copy of the log ring, oldest first.
func (r *Registry) Logs() []LogEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]LogEntry, len(r.ring))
	copy(out, r.ring)
	return out
}
