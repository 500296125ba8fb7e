package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/waveq/waveq-engine/pkg/middleware"
	"github.com/waveq/waveq-engine/pkg/models"
	"github.com/waveq/waveq-engine/pkg/status"
	"github.com/waveq/waveq-engine/pkg/store"
)

// SubmitRequest handles POST /api/requests.
func (s *Server) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	var payload models.SubmitPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]errorBody{"error": {
			Code:    "BAD_JSON",
			Message: "request body is not valid JSON: " + err.Error(),
		}})
		return
	}
	if payload.ClientID == "" {
		payload.ClientID = middleware.ClientID(r)
	}

	req, err := s.engine.Submit(r.Context(), &payload)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, req)
}

// ListRequests handles GET /api/requests with optional client_id and status
// filters.
func (s *Server) ListRequests(w http.ResponseWriter, r *http.Request) {
	filter := store.Filter{
		ClientID: r.URL.Query().Get("client_id"),
		Status:   models.RequestStatus(r.URL.Query().Get("status")),
	}
	reqs, err := s.engine.List(filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if reqs == nil {
		reqs = []*models.EditRequest{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"requests": reqs,
		"count":    len(reqs),
	})
}

// GetRequest handles GET /api/requests/{id}.
func (s *Server) GetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := s.engine.Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// CancelRequest handles POST /api/requests/{id}/cancel. Cancelling an
// already-terminal request returns the unchanged snapshot, not an error.
func (s *Server) CancelRequest(w http.ResponseWriter, r *http.Request) {
	req, err := s.engine.Cancel(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// DeleteRequest handles DELETE /api/requests/{id}.
func (s *Server) DeleteRequest(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// operationDoc is the wire shape for one catalog entry.
type operationDoc struct {
	Kind        string                 `json:"kind"`
	Description string                 `json:"description"`
	Required    []string               `json:"required_params"`
	Defaults    map[string]interface{} `json:"optional_defaults"`
}

// ListOperations handles GET /api/operations.
func (s *Server) ListOperations(w http.ResponseWriter, r *http.Request) {
	entries := s.engine.Operations()
	docs := make([]operationDoc, 0, len(entries))
	for _, e := range entries {
		docs = append(docs, operationDoc{
			Kind:        string(e.Kind),
			Description: e.Description,
			Required:    e.RequiredParams(),
			Defaults:    e.OptionalDefaults(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"operations": docs})
}

// QueueStats handles GET /api/queue.
func (s *Server) QueueStats(w http.ResponseWriter, r *http.Request) {
	stats := s.engine.QueueStats()
	byTier := make(map[string]int, len(stats))
	total := 0
	for priority, depth := range stats {
		byTier[fmt.Sprintf("%d", int(priority))] = depth
		total += depth
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"depth_by_priority": byTier,
		"total":             total,
	})
}

// StreamEvents handles GET /api/requests/{id}/events: a server-sent event
// stream of status snapshots, seeded with the current state so late
// subscribers converge immediately.
func (s *Server) StreamEvents(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	req, err := s.engine.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]errorBody{"error": {
			Code:    "STREAMING_UNSUPPORTED",
			Message: "response writer does not support streaming",
		}})
		return
	}

	events, cancel := s.broker.Subscribe(status.TopicFor(id))
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	send := func(ev status.Event) bool {
		data, err := json.Marshal(ev)
		if err != nil {
			return false
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
		return !models.IsTerminal(ev.Status)
	}

	if !send(status.Snapshot(req)) {
		return
	}
	for {
		select {
		case ev, ok := <-events:
			if !ok || !send(ev) {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

