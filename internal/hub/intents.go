package hub

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/huntsync/core"
	"github.com/signalsfoundry/huntsync/internal/logging"
	"github.com/signalsfoundry/huntsync/internal/persist"
	"github.com/signalsfoundry/huntsync/internal/protocol"
	"github.com/signalsfoundry/huntsync/model"
	"github.com/signalsfoundry/huntsync/timectrl"
)

// Handle applies a decoded intent received on c. intent must be one of the
// protocol intent types; anything else is dropped.
func (h *Hub) Handle(ctx context.Context, c *Conn, intent any) Outcome {
	event := eventName(intent)
	ctx, span := h.tracer.Start(ctx, "hub/"+event,
		trace.WithAttributes(attribute.String("hub.event", event)),
	)
	defer span.End()

	h.mu.Lock()
	outcome := h.handleLocked(ctx, c, intent)
	h.mu.Unlock()

	span.SetAttributes(attribute.String("hub.outcome", string(outcome)))
	if outcome == OutcomeDropped {
		span.SetStatus(codes.Error, "intent dropped")
	}
	if h.metrics != nil {
		h.metrics.IntentHandled(event, string(outcome))
	}
	return outcome
}

func (h *Hub) handleLocked(ctx context.Context, c *Conn, intent any) Outcome {
	if _, ok := h.conns[c.id]; !ok {
		return OutcomeDropped
	}
	switch in := intent.(type) {
	case protocol.Hello:
		return h.helloLocked(ctx, c, in)
	case protocol.LocationUpdate:
		return h.locationLocked(ctx, c, in)
	case protocol.DraggableUpdate:
		return h.draggableLocked(ctx, in)
	case protocol.VisitedSet:
		return h.setVisitedLocked(ctx, in.ID, *in.Visited)
	case protocol.VosCreate:
		return h.vosCreateLocked(ctx, c, in)
	case protocol.VosUpdate:
		return h.vosUpdateLocked(ctx, c, in)
	case protocol.VosRemove:
		return h.vosRemoveLocked(ctx, in.ID)
	case protocol.PeerLeave:
		return h.peerLeaveLocked(ctx, c)
	default:
		c.log.Debug(ctx, "intent dropped", logging.String("type", fmt.Sprintf("%T", intent)))
		return OutcomeDropped
	}
}

func eventName(intent any) string {
	switch intent.(type) {
	case protocol.Hello:
		return protocol.MsgHello
	case protocol.LocationUpdate:
		return protocol.MsgLocationUpdate
	case protocol.DraggableUpdate:
		return protocol.MsgDraggableUpdate
	case protocol.VisitedSet:
		return protocol.MsgVisitedSet
	case protocol.VosCreate:
		return protocol.MsgVosCreate
	case protocol.VosUpdate:
		return protocol.MsgVosUpdate
	case protocol.VosRemove:
		return protocol.MsgVosRemove
	case protocol.PeerLeave:
		return protocol.MsgPeerLeave
	default:
		return "unknown"
	}
}

// ---- Peers ----

func (h *Hub) helloLocked(ctx context.Context, c *Conn, in protocol.Hello) Outcome {
	h.bindClientLocked(ctx, c, in.ClientID)
	name := h.peerNameLocked(in.ClientID, in.Name)
	now := timectrl.UnixMilli(h.clock)
	h.store.UpsertPeer(in.ClientID, model.PeerPatch{Name: &name, LastSeen: &now})

	h.sendLocked(ctx, c, protocol.MsgPeersSnapshot, h.peersLocked())
	h.broadcastLocked(ctx, c, protocol.MsgPeerJoin, protocol.PeerJoined{ClientID: in.ClientID, Name: name})
	return OutcomeApplied
}

func (h *Hub) locationLocked(ctx context.Context, c *Conn, in protocol.LocationUpdate) Outcome {
	h.bindClientLocked(ctx, c, in.ClientID)
	name := h.peerNameLocked(in.ClientID, in.Name)
	now := timectrl.UnixMilli(h.clock)
	p := h.store.UpsertPeer(in.ClientID, model.PeerPatch{
		Name:     &name,
		Lat:      in.Lat,
		Lng:      in.Lng,
		Accuracy: in.Accuracy,
		LastSeen: &now,
	})

	h.broadcastLocked(ctx, c, protocol.MsgPeerUpdate, protocol.PeerMoved{
		ClientID: in.ClientID,
		Name:     p.Name,
		Lat:      *p.Lat,
		Lng:      *p.Lng,
		Accuracy: p.Accuracy,
		Ts:       p.LastSeen,
	})
	return OutcomeApplied
}

func (h *Hub) peerLeaveLocked(ctx context.Context, c *Conn) Outcome {
	id := c.clientID
	if id == "" {
		return OutcomeNoop
	}
	if !h.releaseClientLocked(ctx, c, id) {
		return OutcomeNoop
	}
	return OutcomeApplied
}

// bindClientLocked associates c with clientID, releasing any different id
// the connection was bound to before.
func (h *Hub) bindClientLocked(ctx context.Context, c *Conn, clientID string) {
	if c.clientID == clientID {
		return
	}
	if c.clientID != "" {
		h.releaseClientLocked(ctx, c, c.clientID)
	}
	c.clientID = clientID
	c.log = c.base.With(logging.String("client_id", clientID))
}

// releaseClientLocked unbinds c from clientID and removes the peer when no
// other connection still claims it. It reports whether the peer was removed.
func (h *Hub) releaseClientLocked(ctx context.Context, c *Conn, clientID string) bool {
	if c.clientID == clientID {
		c.clientID = ""
		c.log = c.base
	}
	for _, other := range h.conns {
		if other != c && other.clientID == clientID {
			return false
		}
	}
	if !h.store.RemovePeer(clientID) {
		return false
	}
	h.broadcastLocked(ctx, c, protocol.MsgPeerLeave, protocol.PeerLeft{ClientID: clientID})
	return true
}

func (h *Hub) peerNameLocked(clientID, requested string) string {
	if name := strings.TrimSpace(requested); name != "" {
		return name
	}
	if p, ok := h.store.GetPeer(clientID); ok && p.Name != "" {
		return p.Name
	}
	return model.DefaultPeerName
}

func (h *Hub) peersLocked() map[string]model.Peer {
	peers := h.store.ListPeers()
	out := make(map[string]model.Peer, len(peers))
	for _, p := range peers {
		out[p.ClientID] = p
	}
	return out
}

// ---- Shared markers ----

func (h *Hub) draggableLocked(ctx context.Context, in protocol.DraggableUpdate) Outcome {
	m := h.store.SetDraggable(model.ReferenceMarker{Lat: *in.Lat, Lng: *in.Lng})
	h.persistWrite(ctx, persist.Path(persist.NamespaceDraggable), m)
	h.broadcastLocked(ctx, nil, protocol.MsgDraggableUpdate, m)
	return OutcomeApplied
}

func (h *Hub) setVisitedLocked(ctx context.Context, id string, visited bool) Outcome {
	flag := h.store.SetVisited(id, model.VisitedFlag{
		Visited:   visited,
		Timestamp: timectrl.UnixMilli(h.clock),
	})
	h.persistWrite(ctx, persist.Path(persist.NamespaceVisited, id), persist.VisitedRecord{ID: id, VisitedFlag: flag})
	h.broadcastLocked(ctx, nil, protocol.MsgVisitedUpdate, protocol.VisitedChanged{ID: id, Visited: visited})
	return OutcomeApplied
}

// ---- Search entities ----

func (h *Hub) vosCreateLocked(ctx context.Context, c *Conn, in protocol.VosCreate) Outcome {
	startedAt, ok := core.NormalizeStartedAt(in.StartedAt)
	if !ok {
		c.log.Debug(ctx, "intent dropped", logging.String("event", protocol.MsgVosCreate), logging.String("reason", "startedAt"))
		return OutcomeDropped
	}
	e, changed := h.store.UpsertSearchEntity(in.ID, in.Patch(startedAt))
	if !changed {
		return OutcomeNoop
	}
	h.vosChangedLocked(ctx, e)
	return OutcomeApplied
}

func (h *Hub) vosUpdateLocked(ctx context.Context, c *Conn, in protocol.VosUpdate) Outcome {
	if _, ok := h.store.GetSearchEntity(in.ID); !ok {
		return OutcomeNoop
	}
	var startedAt *string
	if in.StartedAt != nil {
		s, ok := core.NormalizeStartedAt(*in.StartedAt)
		if !ok {
			c.log.Debug(ctx, "intent dropped", logging.String("event", protocol.MsgVosUpdate), logging.String("reason", "startedAt"))
			return OutcomeDropped
		}
		startedAt = &s
	}
	e, changed := h.store.UpsertSearchEntity(in.ID, in.Patch(startedAt))
	if !changed {
		return OutcomeNoop
	}
	h.vosChangedLocked(ctx, e)
	return OutcomeApplied
}

func (h *Hub) vosChangedLocked(ctx context.Context, e model.SearchEntity) {
	h.persistWrite(ctx, persist.Path(persist.NamespaceVos, e.ID), h.vosRecordLocked(e))
	h.rebuildGraphLocked(ctx)
	h.broadcastLocked(ctx, nil, protocol.MsgVosUpsert, e)
	h.broadcastLocked(ctx, nil, protocol.MsgVosGraph, h.graph)
}

func (h *Hub) vosRecordLocked(e model.SearchEntity) persist.VosRecord {
	seq, _ := h.store.SearchEntitySeq(e.ID)
	return persist.VosRecord{SearchEntity: e, Seq: seq}
}

func (h *Hub) vosRemoveLocked(ctx context.Context, id string) Outcome {
	if !h.store.RemoveSearchEntity(id) {
		return OutcomeNoop
	}
	h.persistDelete(ctx, persist.Path(persist.NamespaceVos, id))
	h.rebuildGraphLocked(ctx)
	h.broadcastLocked(ctx, nil, protocol.MsgVosRemove, protocol.VosRemoved{ID: id})
	h.broadcastLocked(ctx, nil, protocol.MsgVosGraph, h.graph)
	return OutcomeApplied
}
