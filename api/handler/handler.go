package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"regexp"

	"github.com/go-chi/chi/v5"
	"github.com/hashicorp/go-hclog"

	"scaffold/api/auth"
	"scaffold/api/build"
	"scaffold/api/jobstore"
	"scaffold/api/querylog"
)

var validBuildIDRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// maxBodySize bounds request bodies; callbacks and build requests are tiny.
const maxBodySize = 1 << 20

// Check reports the health of one dependency.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

type Handler struct {
	builds  *build.Orchestrator
	signer  *auth.CallbackSigner
	jobs    jobstore.Store
	queries *querylog.Ring
	checks  []Check
	logger  hclog.Logger
}

func New(builds *build.Orchestrator, signer *auth.CallbackSigner, jobs jobstore.Store, queries *querylog.Ring, checks []Check, logger hclog.Logger) *Handler {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Handler{
		builds:  builds,
		signer:  signer,
		jobs:    jobs,
		queries: queries,
		checks:  checks,
		logger:  logger.Named("http"),
	}
}

// ValidateBuildID is middleware that rejects requests with malformed build ids.
func ValidateBuildID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id != "" && !validBuildIDRe.MatchString(id) {
			http.Error(w, "invalid build id", http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeJSONStatus(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSONStatus(w, code, map[string]string{"error": msg})
}

// writeBuildError maps build errors onto status codes.
func (h *Handler) writeBuildError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, build.ErrUserNotFound),
		errors.Is(err, build.ErrResourceNotFound),
		errors.Is(err, build.ErrBuildNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, build.ErrGenerateStepMissing):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
