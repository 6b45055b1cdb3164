package http

import (
	"net/http"

	"github.com/m-mizutani/davmirror/pkg/domain/interfaces"
	"github.com/m-mizutani/davmirror/pkg/domain/model"
	"github.com/m-mizutani/davmirror/pkg/domain/types"
)

// handleHealth handles health check requests
func handleHealth(runnerUC interfaces.RunnerUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := &model.HealthStatus{
			Status:  "healthy",
			Service: types.AppName,
			Version: types.Version,
			Running: runnerUC.Running(),
		}
		writeJSON(w, r, http.StatusOK, status)
	}
}
