package api

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/firewatch-core/internal/events"
	"github.com/nerrad567/firewatch-core/internal/infrastructure/config"
	"github.com/nerrad567/firewatch-core/internal/infrastructure/logging"
)

// Operator stream message types. Requests flow client to server, the rest
// server to client.
const (
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"
	OpPing        = "ping"

	OpEvent      = "event"
	OpSubscribed = "subscribed"
	OpPong       = "pong"
	OpError      = "error"
)

// operatorQueueSize bounds the events buffered for one operator. An operator
// that falls this far behind is disconnected and must resubscribe.
const operatorQueueSize = 64

// OperatorRequest is a message from an operator client.
//
//	{"type":"subscribe","id":"1","kinds":["device.status_changed"],"devices":["FW-001"]}
//
// Unsubscribe removes the listed kinds and devices; with neither it clears
// the whole filter.
type OperatorRequest struct {
	Type    string        `json:"type"`
	ID      string        `json:"id,omitempty"`
	Kinds   []events.Kind `json:"kinds,omitempty"`
	Devices []string      `json:"devices,omitempty"`
}

// OperatorMessage is a message to an operator client.
type OperatorMessage struct {
	Type   string        `json:"type"`
	ID     string        `json:"id,omitempty"`
	Event  *events.Event `json:"event,omitempty"`
	Filter *Filter       `json:"filter,omitempty"`
	Error  string        `json:"error,omitempty"`
}

// Filter selects the events an operator receives. No kinds matches nothing;
// no devices matches every device.
type Filter struct {
	Kinds   []events.Kind `json:"kinds"`
	Devices []string      `json:"devices"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origins are enforced by the CORS middleware.
		return true
	},
}

// Hub fans device events out to operator WebSocket clients. It is an
// events.Sink.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu        sync.RWMutex
	operators map[string]*operator
}

// NewHub creates an empty hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:       cfg,
		logger:    logger,
		operators: make(map[string]*operator),
	}
}

// Run blocks until ctx is cancelled, then disconnects every operator.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	ops := make([]*operator, 0, len(h.operators))
	for id, op := range h.operators {
		ops = append(ops, op)
		delete(h.operators, id)
	}
	h.mu.Unlock()

	for _, op := range ops {
		op.close()
	}
}

// Deliver sends e to every operator whose filter matches. It never blocks
// and never fails.
func (h *Hub) Deliver(_ context.Context, e events.Event) error {
	data, err := json.Marshal(OperatorMessage{Type: OpEvent, Event: &e})
	if err != nil {
		h.logger.Error("encoding operator event failed", "kind", e.Kind, "error", err)
		return nil
	}

	h.mu.RLock()
	targets := make([]*operator, 0, len(h.operators))
	for _, op := range h.operators {
		if op.wants(e) {
			targets = append(targets, op)
		}
	}
	h.mu.RUnlock()

	for _, op := range targets {
		if !op.enqueue(data) {
			h.logger.Warn("operator too slow, disconnecting",
				"operator", op.id,
				"kind", e.Kind,
				"device_code", e.DeviceCode,
			)
			h.remove(op)
			op.close()
		}
	}
	return nil
}

// Count returns the number of connected operators.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.operators)
}

func (h *Hub) add(op *operator) {
	h.mu.Lock()
	h.operators[op.id] = op
	n := len(h.operators)
	h.mu.Unlock()
	h.logger.Debug("operator connected", "operator", op.id, "operators", n)
}

func (h *Hub) remove(op *operator) {
	h.mu.Lock()
	_, ok := h.operators[op.id]
	delete(h.operators, op.id)
	n := len(h.operators)
	h.mu.Unlock()
	if ok {
		h.logger.Debug("operator disconnected", "operator", op.id, "operators", n)
	}
}

// handleWebSocket upgrades an operator connection to the event stream.
// Nothing is delivered until the client subscribes.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("operator upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	op := newOperator(conn)
	s.hub.add(op)
	defer func() {
		s.hub.remove(op)
		op.close()
	}()

	go op.writeLoop(s.wsCfg)
	op.readLoop(s.hub, s.wsCfg)
}

// operator is one connected operator client.
type operator struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once

	mu      sync.RWMutex
	kinds   map[events.Kind]struct{}
	devices map[string]struct{}
}

func newOperator(conn *websocket.Conn) *operator {
	return &operator{
		id:      uuid.NewString(),
		conn:    conn,
		send:    make(chan []byte, operatorQueueSize),
		done:    make(chan struct{}),
		kinds:   make(map[events.Kind]struct{}),
		devices: make(map[string]struct{}),
	}
}

func (o *operator) close() {
	o.once.Do(func() {
		close(o.done)
		if o.conn != nil {
			o.conn.Close() //nolint:errcheck // best-effort
		}
	})
}

// enqueue reports false when the operator's queue is full.
func (o *operator) enqueue(data []byte) bool {
	select {
	case <-o.done:
		return true
	default:
	}
	select {
	case o.send <- data:
		return true
	default:
		return false
	}
}

func (o *operator) wants(e events.Event) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if _, ok := o.kinds[e.Kind]; !ok {
		return false
	}
	if len(o.devices) == 0 {
		return true
	}
	_, ok := o.devices[e.DeviceCode]
	return ok
}

func (o *operator) filter() *Filter {
	o.mu.RLock()
	defer o.mu.RUnlock()
	f := &Filter{Kinds: []events.Kind{}, Devices: []string{}}
	for k := range o.kinds {
		f.Kinds = append(f.Kinds, k)
	}
	for d := range o.devices {
		f.Devices = append(f.Devices, d)
	}
	slices.Sort(f.Kinds)
	slices.Sort(f.Devices)
	return f
}

func (o *operator) readLoop(hub *Hub, cfg config.WebSocketConfig) {
	wait := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	o.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	o.conn.SetReadDeadline(time.Now().Add(wait)) //nolint:errcheck // best-effort
	o.conn.SetPongHandler(func(string) error {
		return o.conn.SetReadDeadline(time.Now().Add(wait))
	})

	for {
		_, data, err := o.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				hub.logger.Debug("operator read failed", "operator", o.id, "error", err)
			}
			return
		}
		// Browsers may not answer protocol pings; any message counts.
		o.conn.SetReadDeadline(time.Now().Add(wait)) //nolint:errcheck // best-effort

		var req OperatorRequest
		if err := json.Unmarshal(data, &req); err != nil {
			o.reply(OperatorMessage{Type: OpError, Error: "invalid JSON message"})
			continue
		}
		o.handle(hub, req)
	}
}

func (o *operator) handle(hub *Hub, req OperatorRequest) {
	switch req.Type {
	case OpSubscribe:
		for _, k := range req.Kinds {
			if k != events.KindStatusChanged && k != events.KindReading {
				o.reply(OperatorMessage{Type: OpError, ID: req.ID, Error: "unknown event kind: " + string(k)})
				return
			}
		}
		o.mu.Lock()
		for _, k := range req.Kinds {
			o.kinds[k] = struct{}{}
		}
		for _, d := range req.Devices {
			o.devices[d] = struct{}{}
		}
		o.mu.Unlock()
		hub.logger.Debug("operator subscribed", "operator", o.id, "kinds", req.Kinds, "devices", req.Devices)
		o.reply(OperatorMessage{Type: OpSubscribed, ID: req.ID, Filter: o.filter()})

	case OpUnsubscribe:
		o.mu.Lock()
		if len(req.Kinds) == 0 && len(req.Devices) == 0 {
			clear(o.kinds)
			clear(o.devices)
		}
		for _, k := range req.Kinds {
			delete(o.kinds, k)
		}
		for _, d := range req.Devices {
			delete(o.devices, d)
		}
		o.mu.Unlock()
		o.reply(OperatorMessage{Type: OpSubscribed, ID: req.ID, Filter: o.filter()})

	case OpPing:
		o.reply(OperatorMessage{Type: OpPong, ID: req.ID})

	default:
		o.reply(OperatorMessage{Type: OpError, ID: req.ID, Error: "unknown message type: " + req.Type})
	}
}

// reply queues a control message. Control replies share the event queue so
// ordering with events is preserved.
func (o *operator) reply(msg OperatorMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if !o.enqueue(data) {
		o.close()
	}
}

func (o *operator) writeLoop(cfg config.WebSocketConfig) {
	ticker := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	defer ticker.Stop()
	writeWait := time.Duration(cfg.WriteTimeout) * time.Second

	for {
		select {
		case <-o.done:
			return
		case data := <-o.send:
			o.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // write error caught below
			if err := o.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				o.close()
				return
			}
		case <-ticker.C:
			o.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // ping error caught below
			if err := o.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				o.close()
				return
			}
		}
	}
}
