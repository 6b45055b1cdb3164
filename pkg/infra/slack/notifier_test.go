package slack_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/m-mizutani/davmirror/pkg/domain/model"
	"github.com/m-mizutani/davmirror/pkg/infra/slack"
	"github.com/m-mizutani/gt"
	slackapi "github.com/slack-go/slack"
)

func TestNotifier_Notify(t *testing.T) {
	var got slackapi.WebhookMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gt.Equal(t, r.Method, http.MethodPost)
		gt.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := slack.New(server.URL, slack.WithChannel("#backup"))
	err := notifier.Notify(context.Background(), &model.RunReport{
		RunID:      "run-1",
		Job:        "nextcloud",
		Discovered: 3,
		Succeeded:  2,
		Failed: []model.FailedResource{
			{Remote: "a/b.txt", Reason: "not found (status 404)"},
		},
	})
	gt.NoError(t, err)

	gt.Equal(t, got.Channel, "#backup")
	gt.String(t, got.Text).Contains("nextcloud")
	gt.String(t, got.Text).Contains("finished with failures")
	gt.Equal(t, len(got.Attachments), 1)
	gt.Equal(t, got.Attachments[0].Color, "warning")
	gt.Equal(t, got.Attachments[0].Footer, "run run-1")
}

func TestNotifier_Notify_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	err := slack.New(server.URL).Notify(context.Background(), &model.RunReport{RunID: "run-1"})
	gt.Error(t, err)
}
