package handler

import (
	"net/http"
)

// StatusHandler serves static facts about this game process.
type StatusHandler struct {
	Mode             string
	Player           string
	WinPolicy        string
	TimeframeOptions []int
	StatsBackend     string
}

// GetStatus responds with the process mode and game settings.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":              h.Mode,
		"player":            h.Player,
		"win_policy":        h.WinPolicy,
		"timeframe_options": h.TimeframeOptions,
		"stats_backend":     h.StatsBackend,
	})
}
