package httpapi

import (
	"net/http"

	"github.com/ent0n29/agora/internal/observability"
)

type perfResponse struct {
	observability.EngineSnapshot
	StoreMode string `json:"store_mode"`
}

// handlePerfLatency serves the rolling stage latencies alongside the turn and
// interjection totals. A nil metrics sink yields an empty snapshot.
func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, perfResponse{
		EngineSnapshot: s.metrics.Snapshot(),
		StoreMode:      s.store.Mode(),
	})
}
