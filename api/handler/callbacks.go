package handler

import (
	"net/http"

	"scaffold/api/auth"
	"scaffold/api/build"
	"scaffold/api/model"
)

type callbackRequest struct {
	BuildID string `json:"buildId"`
	Stage   string `json:"stage,omitempty"`
	Message string `json:"message,omitempty"`
}

type logRequest struct {
	BuildID string                 `json:"buildId"`
	Level   string                 `json:"level"`
	Message string                 `json:"message"`
	Stage   string                 `json:"stage,omitempty"`
	Meta    map[string]interface{} `json:"meta,omitempty"`
}

// authorizeCallback checks the worker's token against the build it reports
// on. It writes the response and returns false when the request is rejected.
func (h *Handler) authorizeCallback(w http.ResponseWriter, r *http.Request, buildID string) bool {
	if buildID == "" || !validBuildIDRe.MatchString(buildID) {
		writeError(w, http.StatusBadRequest, "buildId is required")
		return false
	}
	if err := h.signer.Verify(auth.BearerToken(r), buildID); err != nil {
		h.logger.Warn("rejected callback", "buildId", buildID, "error", err)
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return false
	}
	return true
}

func (h *Handler) CodeGenerationSuccess(w http.ResponseWriter, r *http.Request) {
	var req callbackRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !h.authorizeCallback(w, r, req.BuildID) {
		return
	}
	res, err := h.builds.Reconciler().OnSuccess(r.Context(), req.BuildID)
	if err != nil {
		h.writeBuildError(w, err)
		return
	}
	writeJSON(w, res)
}

func (h *Handler) CodeGenerationFailure(w http.ResponseWriter, r *http.Request) {
	var req callbackRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !h.authorizeCallback(w, r, req.BuildID) {
		return
	}
	res, err := h.builds.Reconciler().OnFailure(r.Context(), req.BuildID, build.Report{Stage: req.Stage, Message: req.Message})
	if err != nil {
		h.writeBuildError(w, err)
		return
	}
	writeJSON(w, res)
}

func (h *Handler) CodeGenerationLog(w http.ResponseWriter, r *http.Request) {
	var req logRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !h.authorizeCallback(w, r, req.BuildID) {
		return
	}
	level := model.LogInfo
	if req.Level != "" {
		var ok bool
		if level, ok = model.ParseLogLevel(req.Level); !ok {
			writeError(w, http.StatusBadRequest, "invalid log level")
			return
		}
	}
	meta := req.Meta
	if req.Stage != "" {
		if meta == nil {
			meta = map[string]interface{}{}
		}
		meta["stage"] = req.Stage
	}
	if err := h.builds.Reconciler().AppendLog(r.Context(), req.BuildID, level, req.Message, meta); err != nil {
		h.writeBuildError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
