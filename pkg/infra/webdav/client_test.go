package webdav_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/m-mizutani/davmirror/pkg/domain/model"
	"github.com/m-mizutani/davmirror/pkg/domain/types"
	"github.com/m-mizutani/davmirror/pkg/infra/webdav"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
)

func newEndpoint(t *testing.T, server *httptest.Server, root string) *model.Endpoint {
	t.Helper()
	ep, err := model.ParseEndpoint(server.URL + root)
	if err != nil {
		t.Fatalf("failed to parse endpoint: %v", err)
	}
	return ep
}

func TestClient_List(t *testing.T) {
	var gotDepth, gotMethod, gotPath string
	var gotUser, gotPass string
	var authOK bool

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotDepth = r.Header.Get("Depth")
		gotUser, gotPass, authOK = r.BasicAuth()

		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusMultiStatus)
		_, _ = io.WriteString(w, nextcloudListing)
	}))
	defer server.Close()

	client := webdav.New(newEndpoint(t, server, "/remote.php/dav/files/backup"),
		model.Credentials{Username: "backup", Password: "s3cret"},
		webdav.WithDepth(3),
	)
	defer client.Close()

	files, err := client.List(context.Background())
	gt.NoError(t, err)
	gt.Equal(t, files, []model.RemotePath{"a/b.txt", "a/c:d.txt", "e.txt"})

	gt.Equal(t, gotMethod, "PROPFIND")
	gt.Equal(t, gotPath, "/remote.php/dav/files/backup/")
	gt.Equal(t, gotDepth, "3")
	gt.True(t, authOK)
	gt.Equal(t, gotUser, "backup")
	gt.Equal(t, gotPass, "s3cret")
}

func TestClient_List_DefaultDepth(t *testing.T) {
	var gotDepth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotDepth = r.Header.Get("Depth")
		w.WriteHeader(http.StatusMultiStatus)
		_, _ = io.WriteString(w, `<d:multistatus xmlns:d="DAV:"/>`)
	}))
	defer server.Close()

	files, err := webdav.New(newEndpoint(t, server, "/"), model.Credentials{}).List(context.Background())
	gt.NoError(t, err)
	gt.Equal(t, len(files), 0)
	gt.Equal(t, gotDepth, "2")
}

func TestClient_List_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(error) bool
	}{
		{name: "plain 200 is not accepted", status: http.StatusOK, body: nextcloudListing, check: taggedPermanent},
		{name: "unauthorized", status: http.StatusUnauthorized, check: taggedPermanent},
		{name: "service unavailable", status: http.StatusServiceUnavailable, check: taggedRetryable},
		{name: "malformed document", status: http.StatusMultiStatus, body: "<d:multistatus", check: taggedPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer server.Close()

			files, err := webdav.New(newEndpoint(t, server, "/remote.php/dav/files/backup"), model.Credentials{}).
				List(context.Background())
			gt.Error(t, err)
			gt.Value(t, files).Nil()
			gt.True(t, tt.check(err))
		})
	}
}

func TestClient_Fetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/dav/a/c:d.txt":
			_, _ = io.WriteString(w, "colon body")
		case "/dav/busy.txt":
			w.WriteHeader(http.StatusServiceUnavailable)
		case "/dav/limited.txt":
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := webdav.New(newEndpoint(t, server, "/dav"), model.Credentials{Username: "u", Password: "p"})

	t.Run("success streams body", func(t *testing.T) {
		rc, err := client.Fetch(context.Background(), "a/c:d.txt")
		gt.NoError(t, err)
		defer rc.Close()

		data, err := io.ReadAll(rc)
		gt.NoError(t, err)
		gt.Equal(t, string(data), "colon body")
	})

	t.Run("503 is retryable", func(t *testing.T) {
		_, err := client.Fetch(context.Background(), "busy.txt")
		gt.True(t, goerr.HasTag(err, types.ErrTagRetryable))
	})

	t.Run("429 is retryable", func(t *testing.T) {
		_, err := client.Fetch(context.Background(), "limited.txt")
		gt.True(t, goerr.HasTag(err, types.ErrTagRetryable))
	})

	t.Run("404 is permanent", func(t *testing.T) {
		_, err := client.Fetch(context.Background(), "missing.txt")
		gt.True(t, goerr.HasTag(err, types.ErrTagPermanent))
		gt.True(t, strings.Contains(err.Error(), "unexpected download status"))
	})
}

func TestClient_Fetch_Timeouts(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/slow-header":
			select {
			case <-release:
			case <-r.Context().Done():
			}
		case "/slow-body":
			w.WriteHeader(http.StatusOK)
			_, _ = io.WriteString(w, "partial")
			w.(http.Flusher).Flush()
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}
	}))
	defer server.Close()

	client := webdav.New(newEndpoint(t, server, "/"), model.Credentials{},
		webdav.WithTimeout(100*time.Millisecond))

	t.Run("response header timeout", func(t *testing.T) {
		_, err := client.Fetch(context.Background(), "slow-header")
		gt.Error(t, err)
		gt.True(t, goerr.HasTag(err, types.ErrTagTimeout))
	})

	t.Run("idle body timeout", func(t *testing.T) {
		rc, err := client.Fetch(context.Background(), "slow-body")
		gt.NoError(t, err)
		defer rc.Close()

		_, err = io.ReadAll(rc)
		gt.Error(t, err)
		gt.True(t, goerr.HasTag(err, types.ErrTagTimeout))
	})
}

func TestClient_Fetch_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	ep := newEndpoint(t, server, "/")
	server.Close()

	_, err := webdav.New(ep, model.Credentials{}).Fetch(context.Background(), "f.txt")
	gt.Error(t, err)
	gt.True(t, goerr.HasTag(err, types.ErrTagPermanent))
}

func taggedPermanent(err error) bool { return goerr.HasTag(err, types.ErrTagPermanent) }
func taggedRetryable(err error) bool { return goerr.HasTag(err, types.ErrTagRetryable) }
func taggedTimeout(err error) bool   { return goerr.HasTag(err, types.ErrTagTimeout) }
