package workerhub

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/replydesk/replydesk/internal/lifecycle"
	"github.com/replydesk/replydesk/internal/logging"
	"github.com/replydesk/replydesk/internal/metrics"
)

var log = logging.Named("WorkerHub")

// MainWorker is the name a worker gets when it does not announce one.
const MainWorker = "main"

// Frame represents a message frame between controller and worker
type Frame struct {
	Type    string          `json:"type"`              // req, res, event
	ID      string          `json:"id,omitempty"`      // Request/response correlation ID
	Method  string          `json:"method,omitempty"`  // For requests and events
	Params  json.RawMessage `json:"params,omitempty"`  // Request parameters
	OK      bool            `json:"ok,omitempty"`      // Response success
	Payload json.RawMessage `json:"payload,omitempty"` // Response data
	Error   string          `json:"error,omitempty"`   // Error message
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 10 * time.Minute
	pingPeriod     = 30 * time.Second
	maxMessageSize = 10 * 1024 * 1024
	sendBuffer     = 256
)

// ConnectHandler runs for every new worker connection before it starts reading.
// It must not block.
type ConnectHandler func(conn *Conn)

// Options configures a Hub.
type Options struct {
	// DefaultTimeout applies to calls made with a zero timeout.
	DefaultTimeout time.Duration
	// CheckOrigin filters websocket upgrades; nil accepts everything.
	CheckOrigin func(origin string) bool
	Lifecycle   *lifecycle.Manager
}

// Hub manages worker connections and correlates calls with their responses.
type Hub struct {
	workerMu sync.RWMutex
	workers  map[string]*Conn

	register   chan *Conn
	unregister chan *Conn
	stopped    chan struct{}
	stopOnce   sync.Once

	onConnect   ConnectHandler
	onConnectMu sync.RWMutex

	pendingMu sync.Mutex
	pending   map[string]*pendingCall

	defaultTimeout time.Duration
	lifecycle      *lifecycle.Manager
	upgrader       websocket.Upgrader
}

// DefaultCallTimeout is used when neither the caller nor Options set one.
const DefaultCallTimeout = 10 * time.Second

// New creates a new worker hub
func New(opts Options) *Hub {
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = DefaultCallTimeout
	}
	check := opts.CheckOrigin
	return &Hub{
		workers:        make(map[string]*Conn),
		register:       make(chan *Conn, 1),
		unregister:     make(chan *Conn, 1),
		stopped:        make(chan struct{}),
		pending:        make(map[string]*pendingCall),
		defaultTimeout: opts.DefaultTimeout,
		lifecycle:      opts.Lifecycle,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return check == nil || check(r.Header.Get("Origin"))
			},
		},
	}
}

// OnConnect sets the hook run for every new worker connection.
func (h *Hub) OnConnect(fn ConnectHandler) {
	h.onConnectMu.Lock()
	defer h.onConnectMu.Unlock()
	h.onConnect = fn
}

// Run starts the hub's main loop
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.stopOnce.Do(func() { close(h.stopped) })
			h.closeAll()
			return
		case conn := <-h.register:
			h.addWorker(conn)
		case conn := <-h.unregister:
			h.removeWorker(conn)
		}
	}
}

func (h *Hub) addWorker(conn *Conn) {
	// The read pump may already have failed and queued the unregister.
	if conn.Closed() {
		return
	}

	h.workerMu.Lock()
	if existing, ok := h.workers[conn.Name]; ok {
		log.Infof("replacing worker %s (name=%s) with %s", existing.ID, conn.Name, conn.ID)
		existing.close()
		h.lifecycle.Emit(lifecycle.EventWorkerDisconnected, existing.ID)
	}
	h.workers[conn.Name] = conn
	h.workerMu.Unlock()

	log.Infof("worker connected: %s (name=%s)", conn.ID, conn.Name)
	metrics.SetWorkerConnected(true)
	h.lifecycle.Emit(lifecycle.EventWorkerConnected, conn.ID)
}

func (h *Hub) removeWorker(conn *Conn) {
	h.workerMu.Lock()
	// Only remove if this connection is still the registered one
	existing, ok := h.workers[conn.Name]
	current := ok && existing.ID == conn.ID
	if current {
		delete(h.workers, conn.Name)
	}
	remaining := len(h.workers)
	h.workerMu.Unlock()

	conn.close()
	conn.clearHandlers()
	if !current {
		return
	}
	log.Infof("worker disconnected: %s (name=%s)", conn.ID, conn.Name)
	metrics.SetWorkerConnected(remaining > 0)
	h.lifecycle.Emit(lifecycle.EventWorkerDisconnected, conn.ID)
}

func (h *Hub) closeAll() {
	h.workerMu.Lock()
	defer h.workerMu.Unlock()
	for name, conn := range h.workers {
		conn.close()
		delete(h.workers, name)
	}
	metrics.SetWorkerConnected(false)
}

// Worker returns the connection registered under name ("" means main).
func (h *Hub) Worker(name string) *Conn {
	if name == "" {
		name = MainWorker
	}
	h.workerMu.RLock()
	defer h.workerMu.RUnlock()
	return h.workers[name]
}

// IsConnected returns true if the main worker is attached.
func (h *Hub) IsConnected() bool {
	return h.Worker(MainWorker) != nil
}

func (h *Hub) workerCount() int {
	h.workerMu.RLock()
	defer h.workerMu.RUnlock()
	return len(h.workers)
}

// ServeHTTP upgrades the request and attaches the worker.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("upgrade error: %v", err)
		return
	}

	name := r.URL.Query().Get("name")
	if name == "" {
		name = MainWorker
	}
	conn := newConn(h, ws, uuid.NewString(), name)

	// Handlers must be in place before the read pump delivers the first request.
	h.onConnectMu.RLock()
	fn := h.onConnect
	h.onConnectMu.RUnlock()
	if fn != nil {
		fn(conn)
	}

	select {
	case h.register <- conn:
	case <-h.stopped:
		conn.close()
		return
	}

	go conn.readPump()
	go conn.writePump()
	go conn.dispatchPump()
}
