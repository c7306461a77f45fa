package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"scaffold/api/action"
	"scaffold/api/build"
)

func (h *Handler) CreateBuild(w http.ResponseWriter, r *http.Request) {
	var req build.CreateArgs
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ResourceID == "" || req.UserID == "" || req.CommitID == "" {
		writeError(w, http.StatusBadRequest, "resourceId, userId and commitId are required")
		return
	}

	b, err := h.builds.Create(r.Context(), req)
	if err != nil {
		h.writeBuildError(w, err)
		return
	}
	view, err := h.builds.Get(r.Context(), b.ID)
	if err != nil {
		h.writeBuildError(w, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, view)
}

func (h *Handler) ListBuilds(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	views, err := h.builds.List(r.Context(), r.URL.Query().Get("resource"), limit)
	if err != nil {
		h.writeBuildError(w, err)
		return
	}
	writeJSON(w, views)
}

func (h *Handler) GetBuild(w http.ResponseWriter, r *http.Request) {
	view, err := h.builds.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeBuildError(w, err)
		return
	}
	writeJSON(w, view)
}

func (h *Handler) BuildLog(w http.ResponseWriter, r *http.Request) {
	view, err := h.builds.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeBuildError(w, err)
		return
	}
	var f action.PlainFormatter
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(f.Format(view.Steps)))
}

// BuildAccess answers whether ?user= may see the build.
func (h *Handler) BuildAccess(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user is required")
		return
	}
	ok, err := h.builds.CanUserAccess(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		h.writeBuildError(w, err)
		return
	}
	writeJSON(w, map[string]bool{"allowed": ok})
}
