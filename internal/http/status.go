package httpserver

import (
	"net/http"

	"db_path_migrator/internal/metrics"
	"db_path_migrator/internal/migrate"
)

type StatusHandler struct {
	Reporter StatusReporter
	Path     migrate.Path
	Metrics  *metrics.Collector
	Logger   requestLogger
}

type statusResponse struct {
	Run     []string        `json:"run"`
	Unrun   []string        `json:"unrun"`
	Pending int             `json:"pending"`
	Entries []migrate.Entry `json:"entries"`
}

func (h StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status, err := h.Reporter.Status(r.Context(), h.Path)
	if err != nil {
		h.Logger.Error("status check failed", "error", err)
		writeError(w, http.StatusInternalServerError, "status_failed", "could not read migration ledger")
		return
	}
	if h.Metrics != nil {
		h.Metrics.ObserveStatus(status)
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Run:     status.Run,
		Unrun:   status.Unrun,
		Pending: len(status.Unrun),
		Entries: status.Entries,
	})
}
