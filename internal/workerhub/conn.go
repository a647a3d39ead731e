package workerhub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrSendBufferFull is returned when the worker is not draining its socket.
var ErrSendBufferFull = errors.New("worker send buffer full")

// Handler serves one worker-initiated request. Handlers on a connection start
// one at a time in delivery order; a handler with slow work hands it to
// res.Detach so the next frame can start.
type Handler func(ctx context.Context, conn *Conn, params json.RawMessage, res *Responder)

// Conn is one attached worker process.
type Conn struct {
	ID        string
	Name      string
	CreatedAt time.Time

	hub   *Hub
	ws    *websocket.Conn
	send  chan []byte
	inbox chan *Frame

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	handlersMu sync.RWMutex
	handlers   map[string]Handler
}

func newConn(h *Hub, ws *websocket.Conn, id, name string) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		ID:        id,
		Name:      name,
		CreatedAt: time.Now(),
		hub:       h,
		ws:        ws,
		send:      make(chan []byte, sendBuffer),
		inbox:     make(chan *Frame, sendBuffer),
		ctx:       ctx,
		cancel:    cancel,
		handlers:  make(map[string]Handler),
	}
}

// Handle registers a handler for method on this connection only.
func (c *Conn) Handle(method string, fn Handler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers[method] = fn
}

func (c *Conn) handlerCount() int {
	c.handlersMu.RLock()
	defer c.handlersMu.RUnlock()
	return len(c.handlers)
}

func (c *Conn) handler(method string) Handler {
	c.handlersMu.RLock()
	defer c.handlersMu.RUnlock()
	return c.handlers[method]
}

func (c *Conn) clearHandlers() {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers = make(map[string]Handler)
}

// Done is closed when the connection goes away.
func (c *Conn) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Closed reports whether the connection has been torn down.
func (c *Conn) Closed() bool {
	return c.ctx.Err() != nil
}

func (c *Conn) close() {
	c.closeOnce.Do(func() {
		c.cancel()
		if c.ws != nil {
			c.ws.Close()
		}
	})
}

func (c *Conn) sendFrame(f *Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	if c.Closed() {
		return ErrNotConnected
	}
	select {
	case c.send <- data:
		return nil
	case <-c.ctx.Done():
		return ErrNotConnected
	default:
		return ErrSendBufferFull
	}
}

func (c *Conn) readPump() {
	defer func() {
		c.close()
		select {
		case c.hub.unregister <- c:
		case <-c.hub.stopped:
		}
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	c.ws.SetPingHandler(func(appData string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return c.ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Second))
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warnf("unexpected close for %s: %v", c.ID, err)
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(pongWait))

		var frame Frame
		if err := json.Unmarshal(message, &frame); err != nil {
			preview := string(message)
			if len(preview) > 200 {
				preview = preview[:200] + "..."
			}
			log.Warnf("invalid frame from %s: %v (len=%d raw=%q)", c.ID, err, len(message), preview)
			continue
		}
		c.handleFrame(&frame)
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case message := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.ctx.Done():
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *Conn) handleFrame(frame *Frame) {
	switch frame.Type {
	case "res":
		if !c.hub.resolve(c, frame) {
			log.Debugf("dropping response %s: no caller waiting", frame.ID)
		}
	case "req", "event":
		// Responses keep flowing on this loop while the inbox waits, so a
		// handler may call back into the worker.
		select {
		case c.inbox <- frame:
		case <-c.ctx.Done():
		}
	default:
		log.Debugf("ignoring %q frame from %s", frame.Type, c.ID)
	}
}

// dispatchPump starts handlers in the order their frames arrived.
func (c *Conn) dispatchPump() {
	for {
		select {
		case frame := <-c.inbox:
			c.serve(frame, frame.Type == "req")
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Conn) serve(frame *Frame, reply bool) {
	res := &Responder{conn: c, id: frame.ID, method: frame.Method, silent: !reply}

	defer func() {
		r := recover()
		if r == nil && res.detached() {
			return
		}
		res.settle(r)
	}()

	if frame.Method == "ping" {
		res.OK(map[string]any{"pong": true, "time": time.Now().Unix()})
		return
	}

	fn := c.handler(frame.Method)
	if fn == nil {
		res.Fail(fmt.Errorf("unknown method: %s", frame.Method))
		return
	}
	fn(c.ctx, c, frame.Params, res)
}

// Responder answers one worker request exactly once.
type Responder struct {
	conn   *Conn
	id     string
	method string
	silent bool

	once     sync.Once
	answered bool
	async    bool
	mu       sync.Mutex
}

// Detach finishes the request on its own goroutine. fn must answer through
// r; a panic or a missing answer is reported to the worker as a failure.
func (r *Responder) Detach(fn func()) {
	r.mu.Lock()
	r.async = true
	r.mu.Unlock()
	go func() {
		defer func() { r.settle(recover()) }()
		fn()
	}()
}

func (r *Responder) detached() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.async
}

func (r *Responder) settle(recovered any) {
	if recovered != nil {
		log.Errorf("handler %s panicked: %v", r.method, recovered)
		r.Fail(fmt.Errorf("internal error"))
		return
	}
	if !r.Answered() {
		r.Fail(fmt.Errorf("no response from %s", r.method))
	}
}

// OK sends a successful response carrying payload.
func (r *Responder) OK(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return r.Fail(err)
	}
	return r.write(&Frame{Type: "res", ID: r.id, OK: true, Payload: data})
}

// Fail sends an error response.
func (r *Responder) Fail(err error) error {
	return r.write(&Frame{Type: "res", ID: r.id, Error: err.Error()})
}

// Answered reports whether OK or Fail has been called.
func (r *Responder) Answered() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.answered
}

func (r *Responder) write(f *Frame) error {
	var err error
	r.once.Do(func() {
		r.mu.Lock()
		r.answered = true
		r.mu.Unlock()
		if r.silent {
			return
		}
		if err = r.conn.sendFrame(f); err != nil {
			log.Warnf("response to %s (%s) not delivered: %v", r.method, r.id, err)
		}
	})
	return err
}
