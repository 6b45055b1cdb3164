package http

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/davmirror/pkg/domain/interfaces"
	"github.com/m-mizutani/davmirror/pkg/domain/types"
	"github.com/m-mizutani/goerr/v2"
)

// RunsHandler exposes the run coordinator over HTTP
type RunsHandler struct {
	token    string
	runnerUC interfaces.RunnerUseCase
}

// NewRunsHandler creates a new RunsHandler. An empty token disables authentication of
// trigger requests.
func NewRunsHandler(token string, runnerUC interfaces.RunnerUseCase) *RunsHandler {
	return &RunsHandler{
		token:    token,
		runnerUC: runnerUC,
	}
}

// Trigger starts a backup run
func (h *RunsHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := ctxlog.From(ctx)

	if !h.verifyToken(r.Header.Get("Authorization")) {
		logger.Warn("Invalid trigger token")
		writeError(w, goerr.New("invalid token"), http.StatusUnauthorized)
		return
	}

	runID, err := h.runnerUC.Trigger(ctx)
	if err != nil {
		if errors.Is(err, types.ErrRunInProgress) {
			writeError(w, err, http.StatusConflict)
			return
		}
		logger.Error("Failed to trigger run", "error", err)
		writeError(w, err, http.StatusInternalServerError)
		return
	}

	w.Header().Set(RunIDHeader, runID)
	writeJSON(w, r, http.StatusAccepted, map[string]string{
		"run_id": runID,
	})
}

// Latest returns the result of the most recent finished run
func (h *RunsHandler) Latest(w http.ResponseWriter, r *http.Request) {
	batch, ok := h.runnerUC.Latest()
	if !ok {
		writeError(w, goerr.New("no finished run yet"), http.StatusNotFound)
		return
	}
	w.Header().Set(RunIDHeader, batch.RunID)
	writeJSON(w, r, http.StatusOK, batch)
}

// verifyToken checks an "Authorization: Bearer <token>" header
func (h *RunsHandler) verifyToken(header string) bool {
	if h.token == "" {
		return true
	}

	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.token)) == 1
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		ctxlog.From(r.Context()).Error("Failed to encode response", "error", err)
	}
}
