package handlers

import (
	"net/http"
)

// Metrics exposes the scheduler's aggregated throughput figures.
func (a *App) Metrics(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, a.Scheduler.Metrics())
}
