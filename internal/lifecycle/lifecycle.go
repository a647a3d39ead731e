// Package lifecycle provides event hooks for controller startup, shutdown and
// worker connection changes.
package lifecycle

import (
	"sync"

	"github.com/replydesk/replydesk/internal/logging"
)

// Event types for lifecycle hooks
type Event string

const (
	EventServerStarted    Event = "server_started"
	EventShutdownStarted  Event = "shutdown_started"
	EventShutdownComplete Event = "shutdown_complete"

	// Worker connection events carry the connection id as data.
	EventWorkerConnected    Event = "worker_connected"
	EventWorkerDisconnected Event = "worker_disconnected"

	// Roster events carry the task id as data.
	EventTaskAdded   Event = "task_added"
	EventTaskRemoved Event = "task_removed"
)

// Handler is a function that handles a lifecycle event
type Handler func(event Event, data any)

// Manager manages lifecycle event subscriptions and dispatching
type Manager struct {
	mu       sync.RWMutex
	handlers map[Event][]Handler
}

// NewManager creates an empty lifecycle manager.
func NewManager() *Manager {
	return &Manager{handlers: make(map[Event][]Handler)}
}

// On registers a handler for a lifecycle event
func (m *Manager) On(event Event, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[event] = append(m.handlers[event], handler)
}

// Emit dispatches an event to all registered handlers
func (m *Manager) Emit(event Event, data any) {
	if m == nil {
		return
	}
	m.mu.RLock()
	handlers := append([]Handler(nil), m.handlers[event]...)
	m.mu.RUnlock()

	logging.Debugf("[lifecycle] Emitting event: %s", event)
	for _, h := range handlers {
		// Run handlers synchronously (they can spawn goroutines if needed)
		h(event, data)
	}
}

// EmitAsync dispatches an event asynchronously
func (m *Manager) EmitAsync(event Event, data any) {
	go m.Emit(event, data)
}

// OnWorkerConnected registers a handler called with the connection id.
func (m *Manager) OnWorkerConnected(handler func(connID string)) {
	m.On(EventWorkerConnected, func(e Event, data any) {
		if id, ok := data.(string); ok {
			handler(id)
		}
	})
}

// OnWorkerDisconnected registers a handler called with the connection id.
func (m *Manager) OnWorkerDisconnected(handler func(connID string)) {
	m.On(EventWorkerDisconnected, func(e Event, data any) {
		if id, ok := data.(string); ok {
			handler(id)
		}
	})
}

// OnServerStarted is a convenience function to register a server started handler
func (m *Manager) OnServerStarted(handler func()) {
	m.On(EventServerStarted, func(e Event, data any) {
		handler()
	})
}

// OnShutdown is a convenience function to register a shutdown handler
func (m *Manager) OnShutdown(handler func()) {
	m.On(EventShutdownStarted, func(e Event, data any) {
		handler()
	})
}
