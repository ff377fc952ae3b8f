package http

import (
	"net/http"

	"hazine/internal/log"
	"hazine/internal/report"
)

// handleSummary serves the dashboard aggregates for ?range= (default
// ALL_TIME).
func (h *handlers) handleSummary(w http.ResponseWriter, r *http.Request) {
	fail := failure{op: log.OpSummary, component: log.ComponentReport, generic: "Failed to build report"}

	rng, err := report.ParseRange(r.URL.Query().Get("range"))
	if err != nil {
		fail.write(w, r, err)
		return
	}
	sum, err := h.expenses.Summary(r.Context(), rng)
	if err != nil {
		fail.write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}
