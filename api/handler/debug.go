package handler

import (
	"net/http"

	"scaffold/api/querylog"
)

// Queries lists the most recent SQL statements, newest first.
func (h *Handler) Queries(w http.ResponseWriter, r *http.Request) {
	if h.queries == nil {
		writeJSON(w, []querylog.Entry{})
		return
	}
	writeJSON(w, h.queries.Entries())
}

// Jobs lists the job records currently on the job store.
func (h *Handler) Jobs(w http.ResponseWriter, r *http.Request) {
	entries, err := h.jobs.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, entries)
}
