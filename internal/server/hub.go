//go:generate go run go.uber.org/mock/mockgen -source=hub.go -destination=mock_engine_test.go -package=server

package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Tyrowin/chatrooms/internal/auth"
	"github.com/Tyrowin/chatrooms/internal/engine"
)

// ErrHubStopped is returned once the hub loop has exited.
var ErrHubStopped = errors.New("hub stopped")

// Engine is the chat logic driven by the hub. It is only ever called from
// the hub goroutine.
type Engine interface {
	Connect(connID string, identity auth.Identity)
	Handle(ctx context.Context, connID string, raw []byte) error
	Disconnect(ctx context.Context, connID string)
	Stats() engine.Stats
}

// Hub owns every client connection and serializes all engine calls.
// It implements broadcast.Transport for the engine it drives.
type Hub struct {
	engine     Engine
	clients    map[string]*Client
	inbound    chan inboundFrame
	register   chan *Client
	unregister chan *Client
	stats      chan chan engine.Stats
	evicted    []*Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	log        *slog.Logger
}

// NewHub returns a hub with no engine attached. Call Attach before Run.
func NewHub(log *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[string]*Client),
		inbound:    make(chan inboundFrame),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stats:      make(chan chan engine.Stats),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		log:        log,
	}
}

// Attach sets the engine the hub drives. The engine is usually built with the
// hub as its transport, hence the two-step construction.
func (h *Hub) Attach(e Engine) {
	h.engine = e
}

// Send queues frame for connID without blocking. It returns false when the
// connection is unknown or its buffer is full; a full client is evicted once
// the current event has been handled.
func (h *Hub) Send(connID string, frame []byte) bool {
	h.mutex.RLock()
	client, exists := h.clients[connID]
	h.mutex.RUnlock()
	if !exists {
		return false
	}
	if h.safeSend(client, frame) {
		return true
	}
	h.evicted = append(h.evicted, client)
	return false
}

func (h *Hub) safeSend(client *Client, message []byte) (sent bool) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("Recovered from panic in safeSend", "conn_id", client.id, "panic", r)
			sent = false
		}
	}()

	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if client.closed {
		return false
	}

	select {
	case client.send <- message:
		return true
	default:
		return false
	}
}

// Run starts the hub's main event loop. It returns after Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				h.log.Warn("Received nil client registration; skipping")
				continue
			}
			h.handleRegister(client)

		case client := <-h.unregister:
			h.drop(client)

		case frame := <-h.inbound:
			h.handleInbound(frame)

		case reply := <-h.stats:
			reply <- h.engine.Stats()
		}
		h.flushEvicted()
	}
}

func (h *Hub) handleRegister(client *Client) {
	h.mutex.Lock()
	client.closed = false
	h.clients[client.id] = client
	clientCount := len(h.clients)
	h.mutex.Unlock()

	h.engine.Connect(client.id, client.identity)
	h.log.Info("Client registered", "conn_id", client.id, "addr", client.addr, "user_id", client.identity.UserID, "total", clientCount)

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
}

func (h *Hub) handleInbound(frame inboundFrame) {
	h.mutex.RLock()
	_, registered := h.clients[frame.client.id]
	h.mutex.RUnlock()
	if !registered {
		return
	}
	if err := h.engine.Handle(h.ctx, frame.client.id, frame.payload); err != nil {
		h.log.Debug("Dropped frame", "conn_id", frame.client.id, "error", err)
	}
}

// drop forgets client, closes its send channel and releases its engine state.
func (h *Hub) drop(client *Client) {
	h.mutex.Lock()
	if _, ok := h.clients[client.id]; !ok {
		h.mutex.Unlock()
		return
	}
	delete(h.clients, client.id)
	client.closed = true
	clientCount := len(h.clients)
	h.mutex.Unlock()

	close(client.send)
	h.engine.Disconnect(h.ctx, client.id)
	h.log.Info("Client unregistered", "conn_id", client.id, "addr", client.addr, "total", clientCount)
}

// flushEvicted drops the clients whose buffers overflowed during the last
// event. Their disconnect may itself evict more clients.
func (h *Hub) flushEvicted() {
	for len(h.evicted) > 0 {
		client := h.evicted[0]
		h.evicted = h.evicted[1:]
		h.log.Warn("Client removed due to full send buffer", "conn_id", client.id, "addr", client.addr)
		h.drop(client)
	}
}

// Stats asks the hub goroutine for an engine snapshot.
func (h *Hub) Stats(ctx context.Context) (engine.Stats, error) {
	reply := make(chan engine.Stats, 1)
	select {
	case h.stats <- reply:
	case <-h.ctx.Done():
		return engine.Stats{}, ErrHubStopped
	case <-ctx.Done():
		return engine.Stats{}, ctx.Err()
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return engine.Stats{}, ctx.Err()
	}
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// enqueue hands a frame read by client to the hub goroutine.
func (h *Hub) enqueue(client *Client, payload []byte) bool {
	select {
	case h.inbound <- inboundFrame{client: client, payload: payload}:
		return true
	case <-h.ctx.Done():
		return false
	}
}

func (h *Hub) leave(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// Register hands a freshly upgraded client to the hub, which starts its pumps.
func (h *Hub) Register(client *Client) error {
	select {
	case h.register <- client:
		return nil
	case <-h.ctx.Done():
		return ErrHubStopped
	}
}

// shutdownClients closes all active client connections. Engine state is
// released as if each client had disconnected.
func (h *Hub) shutdownClients() {
	h.log.Info("Shutting down all client connections...")

	h.mutex.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mutex.RUnlock()

	ctx := context.Background()
	for _, client := range clients {
		if client.conn != nil {
			if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
				h.log.Error("Error closing client connection", "conn_id", client.id, "error", err)
			}
		}
		h.mutex.Lock()
		delete(h.clients, client.id)
		client.closed = true
		h.mutex.Unlock()
		close(client.send)
		h.engine.Disconnect(ctx, client.id)
	}
	h.evicted = nil

	h.log.Info("Closed client connections", "count", len(clients))
}

// Shutdown stops the hub and waits for all client goroutines to complete,
// or for timeout to elapse.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("Initiating hub shutdown...")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("Hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		h.log.Warn("Hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
