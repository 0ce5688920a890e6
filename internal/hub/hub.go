// Package hub is the single authoritative mutation path for shared game
// state. Every intent is applied under one lock, mirrored to persistence and
// fanned out to connections through per-connection FIFO outboxes, so events
// produced by one mutation reach each connection in order.
package hub

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/huntsync/core"
	"github.com/signalsfoundry/huntsync/internal/logging"
	"github.com/signalsfoundry/huntsync/internal/persist"
	"github.com/signalsfoundry/huntsync/internal/protocol"
	"github.com/signalsfoundry/huntsync/kb"
	"github.com/signalsfoundry/huntsync/model"
	"github.com/signalsfoundry/huntsync/timectrl"
)

// Outcome classifies how an intent was handled. Clients never see it.
type Outcome string

const (
	OutcomeApplied Outcome = "applied"
	OutcomeNoop    Outcome = "noop"
	OutcomeDropped Outcome = "dropped"
)

// DefaultOutboxSize bounds the frames buffered per connection.
const DefaultOutboxSize = 256

// MetricsRecorder receives hub-level measurements.
type MetricsRecorder interface {
	SetConnections(n int)
	IntentHandled(event string, outcome string)
	Broadcast(event string)
	OutboxOverflow()
	PersistenceFailed(op string)
	GraphBuilt(d time.Duration)
}

// Option customises Hub construction.
type Option func(*Hub)

// WithLogger attaches a structured logger.
func WithLogger(l logging.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.log = l
		}
	}
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(h *Hub) { h.metrics = m }
}

// WithPersistence sets the port mutations are mirrored to. Without it the
// hub runs memory-only.
func WithPersistence(p persist.Port) Option {
	return func(h *Hub) { h.port = p }
}

// WithClock overrides the wall clock used for timestamps.
func WithClock(c timectrl.Clock) Option {
	return func(h *Hub) {
		if c != nil {
			h.clock = c
		}
	}
}

// WithTracer overrides the tracer used for intent spans.
func WithTracer(t trace.Tracer) Option {
	return func(h *Hub) {
		if t != nil {
			h.tracer = t
		}
	}
}

// WithOutboxSize sets the per-connection outbox capacity. A connection whose
// outbox overflows is disconnected and resynchronises on reconnect.
func WithOutboxSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.outboxSize = n
		}
	}
}

// Hub owns all connections and all writes to the Entity Store.
type Hub struct {
	// mu serialises every mutation, graph rebuild and fan-out.
	mu sync.Mutex

	store *kb.Store
	conns map[string]*Conn
	graph model.AreaGraph

	port       persist.Port
	clock      timectrl.Clock
	log        logging.Logger
	metrics    MetricsRecorder
	tracer     trace.Tracer
	outboxSize int
}

// New builds a Hub over store. The store should already hold any state
// loaded from persistence.
func New(store *kb.Store, opts ...Option) *Hub {
	h := &Hub{
		store:      store,
		conns:      make(map[string]*Conn),
		clock:      timectrl.SystemClock{},
		log:        logging.Noop(),
		tracer:     otel.Tracer("github.com/signalsfoundry/huntsync/internal/hub"),
		outboxSize: DefaultOutboxSize,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = h.log.With(logging.String("component", "hub"))
	h.rebuildGraphLocked(context.Background())
	return h
}

// Connect registers a new connection and queues the join snapshots:
// reference marker, visited flags, search entities, area graph.
func (h *Hub) Connect(ctx context.Context) *Conn {
	h.mu.Lock()
	defer h.mu.Unlock()

	c := newConn(uuid.NewString(), h.outboxSize, h.log)
	h.conns[c.id] = c
	if h.metrics != nil {
		h.metrics.SetConnections(len(h.conns))
	}

	h.sendLocked(ctx, c, protocol.MsgDraggableSnapshot, h.store.Draggable())
	h.sendLocked(ctx, c, protocol.MsgVisitedSnapshot, h.store.ListVisited())
	h.sendLocked(ctx, c, protocol.MsgVosSnapshot, h.vosMapLocked())
	h.sendLocked(ctx, c, protocol.MsgVosGraph, h.graph)

	c.log.Debug(ctx, "connection registered")
	return c
}

// Disconnect unregisters c. Its peer is removed and announced only when no
// other connection is bound to the same client id.
func (h *Hub) Disconnect(ctx context.Context, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c.id]; !ok {
		return
	}
	delete(h.conns, c.id)
	c.close()
	if c.clientID != "" {
		h.releaseClientLocked(ctx, c, c.clientID)
	}
	if h.metrics != nil {
		h.metrics.SetConnections(len(h.conns))
	}
	c.log.Debug(ctx, "connection closed")
}

// ConnectionCount returns the number of live connections.
func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Receive decodes one inbound frame from c and applies it. Malformed frames
// are logged and dropped; nothing is sent back.
func (h *Hub) Receive(ctx context.Context, c *Conn, frame []byte) Outcome {
	env, err := protocol.DecodeEnvelope(frame)
	if err != nil {
		return h.drop(ctx, c, "", err)
	}
	intent, err := protocol.DecodeIntent(env)
	if err != nil {
		return h.drop(ctx, c, env.Event, err)
	}
	return h.Handle(ctx, c, intent)
}

func (h *Hub) drop(ctx context.Context, c *Conn, event string, err error) Outcome {
	h.mu.Lock()
	log := c.log
	h.mu.Unlock()
	log.Debug(ctx, "intent dropped",
		logging.String("event", event),
		logging.Err(err),
	)
	if h.metrics != nil {
		if event == "" {
			event = "unknown"
		}
		h.metrics.IntentHandled(event, string(OutcomeDropped))
	}
	return OutcomeDropped
}

// rebuildGraphLocked recomputes the area graph from the store. The new
// graph is broadcast even when its history did not move, since clients use
// Version to notice the rebuild.
func (h *Hub) rebuildGraphLocked(ctx context.Context) {
	start := time.Now()
	next := core.BuildAreaGraph(h.store.ListSearchEntities(), h.clock.Now())
	if h.metrics != nil {
		h.metrics.GraphBuilt(time.Since(start))
	}
	if h.graph.Version != 0 && core.SameHistory(h.graph, next) {
		h.log.Debug(ctx, "area graph history unchanged", logging.Int64("version", next.Version))
	}
	h.graph = next
}

func (h *Hub) vosMapLocked() map[string]model.SearchEntity {
	entities := h.store.ListSearchEntities()
	out := make(map[string]model.SearchEntity, len(entities))
	for _, e := range entities {
		out[e.ID] = e
	}
	return out
}

// sendLocked queues one event for a single connection.
func (h *Hub) sendLocked(ctx context.Context, c *Conn, event string, payload any) {
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		h.log.Error(ctx, "encode event failed", logging.String("event", event), logging.Err(err))
		return
	}
	h.deliverLocked(ctx, c, frame)
}

// broadcastLocked queues one event for every connection, skipping except
// when it is non-nil.
func (h *Hub) broadcastLocked(ctx context.Context, except *Conn, event string, payload any) {
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		h.log.Error(ctx, "encode event failed", logging.String("event", event), logging.Err(err))
		return
	}
	for _, c := range h.conns {
		if c == except {
			continue
		}
		h.deliverLocked(ctx, c, frame)
	}
	if h.metrics != nil {
		h.metrics.Broadcast(event)
	}
}

func (h *Hub) deliverLocked(ctx context.Context, c *Conn, frame []byte) {
	if c.send(frame) {
		return
	}
	select {
	case <-c.done:
		return
	default:
	}
	c.log.Warn(ctx, "outbox full, disconnecting slow consumer",
		logging.Int("outbox_size", cap(c.out)),
	)
	if h.metrics != nil {
		h.metrics.OutboxOverflow()
	}
	c.close()
}

func (h *Hub) persistWrite(ctx context.Context, path string, value any) {
	if h.port == nil {
		return
	}
	if err := h.port.Write(path, value); err != nil {
		h.persistFailed(ctx, persist.OpWrite, path, err)
	}
}

func (h *Hub) persistDelete(ctx context.Context, path string) {
	if h.port == nil {
		return
	}
	if err := h.port.Delete(path); err != nil {
		h.persistFailed(ctx, persist.OpDelete, path, err)
	}
}

func (h *Hub) persistFailed(ctx context.Context, op, path string, err error) {
	h.log.Warn(ctx, "persistence failed, keeping in-memory state",
		logging.String("op", op),
		logging.String("path", path),
		logging.Err(err),
	)
	if h.metrics != nil {
		h.metrics.PersistenceFailed(op)
	}
}
