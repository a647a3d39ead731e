package workerhub

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/replydesk/replydesk/internal/metrics"
)

var (
	// ErrTimeout is returned when the worker does not answer within the call timeout.
	ErrTimeout = errors.New("worker call timed out")
	// ErrNotConnected is returned when no worker is attached or it went away mid-call.
	ErrNotConnected = errors.New("worker not connected")
)

// RemoteError is a failure reported by the worker in its response.
type RemoteError struct {
	Method  string
	Message string
}

func (e *RemoteError) Error() string {
	return "worker " + e.Method + ": " + e.Message
}

type pendingCall struct {
	conn *Conn
	ch   chan *Frame
}

// Call sends method to the main worker and waits for its response payload.
// A zero timeout uses the hub default. Responses arriving after the timeout are
// dropped; nothing is sent to the worker to cancel the request.
func (h *Hub) Call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	start := time.Now()
	payload, err := h.call(ctx, method, params, timeout)
	metrics.ObserveBridgeCall(method, outcome(err), time.Since(start))
	return payload, err
}

func (h *Hub) call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = h.defaultTimeout
	}
	conn := h.Worker(MainWorker)
	if conn == nil {
		return nil, ErrNotConnected
	}

	var raw json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		raw = data
	}

	id := uuid.NewString()
	ch := make(chan *Frame, 1)
	h.pendingMu.Lock()
	h.pending[id] = &pendingCall{conn: conn, ch: ch}
	h.pendingMu.Unlock()

	defer func() {
		h.pendingMu.Lock()
		delete(h.pending, id)
		h.pendingMu.Unlock()
	}()

	if err := conn.sendFrame(&Frame{Type: "req", ID: id, Method: method, Params: raw}); err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		if !resp.OK {
			msg := resp.Error
			if msg == "" {
				msg = "request failed"
			}
			return nil, &RemoteError{Method: method, Message: msg}
		}
		return resp.Payload, nil
	case <-timer.C:
		return nil, ErrTimeout
	case <-conn.Done():
		return nil, ErrNotConnected
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CallInto is Call followed by decoding the payload into out.
func (h *Hub) CallInto(ctx context.Context, method string, params any, timeout time.Duration, out any) error {
	payload, err := h.Call(ctx, method, params, timeout)
	if err != nil {
		return err
	}
	if out == nil || len(payload) == 0 {
		return nil
	}
	return json.Unmarshal(payload, out)
}

// resolve hands a response frame to its waiting caller.
func (h *Hub) resolve(conn *Conn, frame *Frame) bool {
	h.pendingMu.Lock()
	p, ok := h.pending[frame.ID]
	if ok && p.conn == conn {
		delete(h.pending, frame.ID)
	}
	h.pendingMu.Unlock()
	if !ok || p.conn != conn {
		return false
	}
	p.ch <- frame
	return true
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrNotConnected):
		return "not_connected"
	default:
		var re *RemoteError
		if errors.As(err, &re) {
			return "remote_error"
		}
		return "error"
	}
}
