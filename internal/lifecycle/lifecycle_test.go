package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitCallsHandlersInOrder(t *testing.T) {
	m := NewManager()
	var got []string
	m.On(EventServerStarted, func(Event, any) { got = append(got, "a") })
	m.On(EventServerStarted, func(Event, any) { got = append(got, "b") })

	m.Emit(EventServerStarted, nil)
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestWorkerHooksFilterPayloadType(t *testing.T) {
	m := NewManager()
	var ids []string
	m.OnWorkerConnected(func(id string) { ids = append(ids, id) })

	m.Emit(EventWorkerConnected, "conn-1")
	m.Emit(EventWorkerConnected, 42)
	m.Emit(EventWorkerDisconnected, "conn-1")

	assert.Equal(t, []string{"conn-1"}, ids)
}

func TestEmitAsync(t *testing.T) {
	m := NewManager()
	done := make(chan struct{})
	m.OnShutdown(func() { close(done) })

	m.EmitAsync(EventShutdownStarted, nil)
	select {
	case <-done:
	case <-time.After(time.Second):
		require.Fail(t, "shutdown handler not called")
	}
}

func TestNilManagerEmitIsNoop(t *testing.T) {
	var m *Manager
	assert.NotPanics(t, func() { m.Emit(EventServerStarted, nil) })
}
