package server

import (
	"net/http"

	"github.com/sells-group/mlboard/internal/leaderboard"
)

// handleLeaderboard returns the current standings, optionally scoped to one
// dataset via ?dataset_id.
func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.ListScored(r.Context(), r.URL.Query().Get("dataset_id"))
	if err != nil {
		s.internalError(w, err, "list scored submissions")
		return
	}

	entries := leaderboard.Rank(rows)
	if entries == nil {
		entries = []leaderboard.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// handleLeaderboardHistory returns scored submissions over time, optionally
// filtered with ?group and ?dataset_id.
func (s *Server) handleLeaderboardHistory(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.ListScored(r.Context(), r.URL.Query().Get("dataset_id"))
	if err != nil {
		s.internalError(w, err, "list scored submissions")
		return
	}

	points := leaderboard.History(rows, r.URL.Query().Get("group"))
	if points == nil {
		points = []leaderboard.HistoryPoint{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"points": points})
}
