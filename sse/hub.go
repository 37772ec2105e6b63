package sse

import (
	stderrors "errors"
	"path"
	"sync"
	"sync/atomic"

	"github.com/kbukum/regd/logger"
)

// ErrHubStopped is returned by Register after Stop.
var ErrHubStopped = stderrors.New("sse: hub stopped")

// ErrTooManyClients is returned by Register when MaxClients is reached.
var ErrTooManyClients = stderrors.New("sse: too many clients")

// Client is one connected stream.
type Client struct {
	id      string
	pattern string
	events  chan Event
	lagged  atomic.Bool
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithPattern sets the topic glob the client receives. The default "*"
// matches every topic.
func WithPattern(pattern string) ClientOption {
	return func(c *Client) {
		if pattern != "" {
			c.pattern = pattern
		}
	}
}

// NewClient creates a client with a buffer of size events.
func NewClient(id string, size int, opts ...ClientOption) *Client {
	if size <= 0 {
		size = 256
	}
	c := &Client{id: id, pattern: "*", events: make(chan Event, size)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ID returns the client id.
func (c *Client) ID() string { return c.id }

// Pattern returns the topic glob.
func (c *Client) Pattern() string { return c.pattern }

// Matches reports whether topic matches the client's pattern.
func (c *Client) Matches(topic string) bool {
	ok, err := path.Match(c.pattern, topic)
	return err == nil && ok
}

// Events returns the client's event channel. It is closed when the hub
// drops the client.
func (c *Client) Events() <-chan Event { return c.events }

// Lagged reports whether the client was dropped for falling behind.
func (c *Client) Lagged() bool { return c.lagged.Load() }

func (c *Client) send(ev Event) bool {
	select {
	case c.events <- ev:
		return true
	default:
		return false
	}
}

type message struct {
	topic string
	event Event
}

// HubStats reports hub counters.
type HubStats struct {
	Clients   int   `json:"clients"`
	Published int64 `json:"published"`
	Lagged    int64 `json:"lagged"`
	Overflows int64 `json:"overflows"`
}

// Hub fans events out to clients. Run must be running for Register and
// Publish to make progress.
type Hub struct {
	cfg Config
	log *logger.Logger

	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan message
	done       chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex

	overflow  atomic.Bool
	published atomic.Int64
	lagged    atomic.Int64
	overflows atomic.Int64
}

// NewHub creates a hub.
func NewHub(cfg Config, log *logger.Logger) *Hub {
	cfg.ApplyDefaults()
	if log == nil {
		log = logger.NewNop()
	}
	return &Hub{
		cfg:        cfg,
		log:        log.WithComponent("sse"),
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan message, cfg.QueueSize),
		done:       make(chan struct{}),
	}
}

// Run is the hub loop. It returns after Stop.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.dropAll(false)
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.id] = c
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("client registered", logger.Fields("client_id", c.id, "pattern", c.pattern, "total_clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if cur, ok := h.clients[c.id]; ok && cur == c {
				delete(h.clients, c.id)
				close(c.events)
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			if h.overflow.Swap(false) {
				// An event was lost before reaching the hub; every stream
				// has a gap and must resume from its last id.
				h.overflows.Add(1)
				h.log.Warn("publish queue overflowed, disconnecting all clients")
				h.dropAll(true)
			}
			h.deliver(msg)
		}
	}
}

// Stop ends Run and closes every client. Safe to call more than once.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Register adds c to the hub.
func (h *Hub) Register(c *Client) error {
	if h.cfg.MaxClients > 0 && h.ClientCount() >= h.cfg.MaxClients {
		return ErrTooManyClients
	}
	select {
	case h.register <- c:
		return nil
	case <-h.done:
		return ErrHubStopped
	}
}

// Unregister removes c. Unknown or already dropped clients are ignored.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Publish queues ev for clients whose pattern matches topic. It never
// blocks; when the queue is full the event is dropped and every client is
// disconnected once the hub catches up.
func (h *Hub) Publish(topic string, ev Event) bool {
	select {
	case h.broadcast <- message{topic: topic, event: ev}:
		h.published.Add(1)
		return true
	default:
		h.overflow.Store(true)
		return false
	}
}

func (h *Hub) deliver(msg message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		if !c.Matches(msg.topic) {
			continue
		}
		if !c.send(msg.event) {
			c.lagged.Store(true)
			delete(h.clients, id)
			close(c.events)
			h.lagged.Add(1)
			h.log.Warn("client fell behind, disconnecting", logger.Fields("client_id", id, "buffer", cap(c.events)))
		}
	}
}

func (h *Hub) dropAll(lagged bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		if lagged {
			c.lagged.Store(true)
			h.lagged.Add(1)
		}
		close(c.events)
		delete(h.clients, id)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stats returns the hub counters.
func (h *Hub) Stats() HubStats {
	return HubStats{
		Clients:   h.ClientCount(),
		Published: h.published.Load(),
		Lagged:    h.lagged.Load(),
		Overflows: h.overflows.Load(),
	}
}

// Config returns the hub configuration with defaults applied.
func (h *Hub) Config() Config { return h.cfg }
