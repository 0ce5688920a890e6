package hub

import (
	"context"

	"github.com/signalsfoundry/huntsync/internal/logging"
	"github.com/signalsfoundry/huntsync/internal/persist"
	"github.com/signalsfoundry/huntsync/model"
)

// Draggable returns the current reference marker.
func (h *Hub) Draggable() model.ReferenceMarker {
	return h.store.Draggable()
}

// Visited returns every visited flag keyed by point-of-interest id.
func (h *Hub) Visited() map[string]model.VisitedFlag {
	return h.store.ListVisited()
}

// SearchEntities returns every search entity keyed by id.
func (h *Hub) SearchEntities() map[string]model.SearchEntity {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.vosMapLocked()
}

// Graph returns the area graph as of the last search entity mutation.
func (h *Hub) Graph() model.AreaGraph {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.graph
}

// UI returns the shared UI settings document.
func (h *Hub) UI() model.UIState {
	return h.store.UI()
}

// SetVisited applies a visited toggle that arrived outside the event
// channel. It is broadcast to every connection.
func (h *Hub) SetVisited(ctx context.Context, id string, visited bool) Outcome {
	h.mu.Lock()
	outcome := h.setVisitedLocked(ctx, id, visited)
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.IntentHandled("http:visited", string(outcome))
	}
	return outcome
}

// RemoveSearchEntity removes a search entity on behalf of a caller outside
// the event channel and reports whether it existed.
func (h *Hub) RemoveSearchEntity(ctx context.Context, id string) bool {
	h.mu.Lock()
	outcome := h.vosRemoveLocked(ctx, id)
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.IntentHandled("http:vos:remove", string(outcome))
	}
	return outcome == OutcomeApplied
}

// Resync rewrites every persisted namespace from memory. It is used after
// persistence recovers from an outage so writes dropped meanwhile are not
// lost for good.
func (h *Hub) Resync(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()

	visited := h.store.ListVisited()
	records := make(map[string]persist.VisitedRecord, len(visited))
	for id, f := range visited {
		records[persist.SanitizeKey(id)] = persist.VisitedRecord{ID: id, VisitedFlag: f}
	}
	vos := make(map[string]persist.VosRecord)
	for _, e := range h.store.ListSearchEntities() {
		vos[persist.SanitizeKey(e.ID)] = h.vosRecordLocked(e)
	}

	h.persistWrite(ctx, persist.Path(persist.NamespaceVisited), records)
	h.persistWrite(ctx, persist.Path(persist.NamespaceVos), vos)
	h.persistWrite(ctx, persist.Path(persist.NamespaceDraggable), h.store.Draggable())
	h.persistWrite(ctx, persist.Path(persist.NamespaceUI), h.store.UI())
	h.log.Info(ctx, "persistence resynchronised",
		logging.Int("visited", len(records)),
		logging.Int("vos", len(vos)),
	)
}
