// Package wsplot streams plot axes and marker sets to browser clients over
// WebSocket. A Hub is a scope.Sink and a scope.MarkerSink; it is also the
// http.Handler that upgrades client connections.
package wsplot

import (
	"encoding/json"
	"math"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cwbudde/algo-scope/dsp/marker"
)

// Message types sent to clients.
const (
	TypePlot    = "plot"
	TypeMarkers = "markers"
)

// PlotMessage carries the axes of one transform.
type PlotMessage struct {
	Type string    `json:"type"`
	Seq  uint64    `json:"seq"`
	Name string    `json:"name"`
	X    []float64 `json:"x"`
	Y    []float64 `json:"y"`
}

// MarkerPoint is one marker in a MarkerMessage.
type MarkerPoint struct {
	Bin int     `json:"bin"`
	X   float64 `json:"x"`
	Y   float64 `json:"y"`
}

// MarkerMessage carries the marker set of one spectrum.
type MarkerMessage struct {
	Type    string        `json:"type"`
	Seq     uint64        `json:"seq"`
	Name    string        `json:"name"`
	Time    time.Time     `json:"time"`
	Markers []MarkerPoint `json:"markers"`
}

// controlMessage is sent by clients to narrow the plots they receive. An
// empty list subscribes to everything.
type controlMessage struct {
	Type  string   `json:"type"`
	Plots []string `json:"plots"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	filter map[string]bool
}

func (c *client) wants(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.filter) == 0 || c.filter[name]
}

// writePump pumps messages from the hub to the connection.
func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.log = l
		}
	}
}

// WithQueue sets the per-client queue length. Messages for a client whose
// queue is full are dropped.
func WithQueue(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.queue = n
		}
	}
}

// Hub fans rendered frames out to connected clients.
type Hub struct {
	log      *zap.Logger
	queue    int
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool

	seq     atomic.Uint64
	dropped atomic.Uint64
}

// NewHub returns a hub without clients.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		log:   zap.NewNop(),
		queue: 64,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 65536,
		},
		clients: make(map[*client]struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Render broadcasts the axes of one transform. Non-finite values are
// clamped so every frame encodes as JSON.
func (h *Hub) Render(name string, x, y []float64) {
	if h.Clients() == 0 {
		return
	}
	h.broadcast(name, PlotMessage{
		Type: TypePlot,
		Seq:  h.seq.Add(1),
		Name: name,
		X:    finite(x),
		Y:    finite(y),
	})
}

// Markers broadcasts the marker set of one spectrum.
func (h *Hub) Markers(name string, at time.Time, markers []marker.Marker) {
	if h.Clients() == 0 {
		return
	}
	msg := MarkerMessage{
		Type:    TypeMarkers,
		Seq:     h.seq.Add(1),
		Name:    name,
		Time:    at,
		Markers: make([]MarkerPoint, 0, len(markers)),
	}
	for _, m := range markers {
		if !m.Active {
			continue
		}
		msg.Markers = append(msg.Markers, MarkerPoint{Bin: m.Bin, X: clamp(m.X), Y: clamp(m.Y)})
	}
	h.broadcast(name, msg)
}

func (h *Hub) broadcast(name string, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Warn("encode frame", zap.String("plot", name), zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(name) {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.dropped.Add(1)
		}
	}
}

// ServeHTTP upgrades the request and serves the client until it
// disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade", zap.Error(err))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, h.queue)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	h.log.Info("client connected", zap.String("remote", r.RemoteAddr))
	go c.writePump()

	defer func() {
		h.remove(c)
		h.log.Info("client disconnected", zap.String("remote", r.RemoteAddr))
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var ctl controlMessage
		if err := json.Unmarshal(msg, &ctl); err != nil || ctl.Type != "subscribe" {
			continue
		}
		filter := make(map[string]bool, len(ctl.Plots))
		for _, p := range ctl.Plots {
			filter[p] = true
		}
		c.mu.Lock()
		c.filter = filter
		c.mu.Unlock()
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many messages were discarded for slow clients.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func finite(v []float64) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = clamp(f)
	}
	return out
}

func clamp(f float64) float64 {
	switch {
	case math.IsNaN(f):
		return 0
	case math.IsInf(f, 1):
		return math.MaxFloat64
	case math.IsInf(f, -1):
		return -math.MaxFloat64
	}
	return f
}
