package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/signalsfoundry/huntsync/internal/logging"
	"github.com/signalsfoundry/huntsync/internal/protocol"
)

const maxBodyBytes = 64 << 10

type handlers struct {
	backend Backend
	log     logging.Logger
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) draggable(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.backend.Draggable())
}

func (h *handlers) listVisited(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.backend.Visited())
}

func (h *handlers) setVisited(w http.ResponseWriter, r *http.Request) {
	var body protocol.VisitedSet
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body)
	if err == nil {
		err = protocol.Validate(body)
	}
	if err != nil {
		logging.FromContext(r.Context(), h.log).Debug(r.Context(), "rejected visited body", logging.Err(err))
		writeError(w, http.StatusBadRequest, "id & visited required")
		return
	}
	h.backend.SetVisited(r.Context(), body.ID, *body.Visited)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *handlers) listVos(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.backend.SearchEntities())
}

func (h *handlers) graph(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.backend.Graph())
}

func (h *handlers) removeVos(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	removed := h.backend.RemoveSearchEntity(r.Context(), id)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true, "removed": removed})
}

func (h *handlers) ui(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.backend.UI())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
