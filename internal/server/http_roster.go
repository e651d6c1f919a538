package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/alfredjeanlab/lendbus/internal/model"
	"github.com/alfredjeanlab/lendbus/internal/registry"
)

// handleConnections handles GET /v1/connections.
// Returns the live connection roster from the registry. Admin only.
func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	if !id.IsAdmin() {
		writeErr(w, &model.Unauthorized{Actor: id.UserID, Action: "list connections"})
		return
	}

	// Optional idle_secs filter: only connections idle at least that long.
	var minIdle time.Duration
	if v := r.URL.Query().Get("idle_secs"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil || secs < 0 {
			writeErr(w, inputError("idle_secs must be a non-negative integer"))
			return
		}
		minIdle = time.Duration(secs) * time.Second
	}

	roster := s.registry.Roster()
	entries := make([]registry.Entry, 0, len(roster))
	for _, e := range roster {
		if time.Duration(e.IdleSecs*float64(time.Second)) < minIdle {
			continue
		}
		entries = append(entries, e)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"connections": entries,
		"total":       len(roster),
	})
}
