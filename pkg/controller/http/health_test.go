package http_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	controller "github.com/m-mizutani/davmirror/pkg/controller/http"
	"github.com/m-mizutani/davmirror/pkg/domain/model"
	"github.com/m-mizutani/gt"
)

func TestHealthEndpoint(t *testing.T) {
	runner := &MockRunner{running: true}
	server, err := controller.NewServer(context.Background(), runner, controller.WithAddr("localhost:0"))
	gt.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	server.Handler.ServeHTTP(w, req)

	gt.Equal(t, w.Code, http.StatusOK)

	var status model.HealthStatus
	gt.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	gt.Equal(t, status.Status, "healthy")
	gt.Equal(t, status.Service, "davmirror")
	gt.NotEqual(t, status.Version, "")
	gt.True(t, status.Running)
}
