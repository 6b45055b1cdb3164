package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/m-mizutani/davmirror/pkg/domain/interfaces"
	"github.com/m-mizutani/davmirror/pkg/domain/model"
	"github.com/m-mizutani/davmirror/pkg/domain/types"
	"github.com/m-mizutani/davmirror/pkg/infra/source"
	"github.com/m-mizutani/davmirror/pkg/usecase"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
)

const davRoot = "/dav/files/backup"

func davResponse(href string, collection bool) string {
	resType := "<d:resourcetype/>"
	if collection {
		resType = "<d:resourcetype><d:collection/></d:resourcetype>"
	}
	return fmt.Sprintf(`<d:response><d:href>%s</d:href><d:propstat><d:prop>%s</d:prop><d:status>HTTP/1.1 200 OK</d:status></d:propstat></d:response>`,
		href, resType)
}

// newDAVServer serves a PROPFIND listing of files and their content on GET
func newDAVServer(t *testing.T, files map[string]string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case "PROPFIND":
			var sb strings.Builder
			sb.WriteString(`<?xml version="1.0"?><d:multistatus xmlns:d="DAV:">`)
			sb.WriteString(davResponse(davRoot+"/", true))
			for name := range files {
				if i := strings.LastIndex(name, "/"); i > 0 {
					sb.WriteString(davResponse(davRoot+"/"+name[:i]+"/", true))
				}
				sb.WriteString(davResponse(davRoot+"/"+strings.ReplaceAll(name, ":", "%3A"), false))
			}
			sb.WriteString(`</d:multistatus>`)
			w.WriteHeader(http.StatusMultiStatus)
			_, _ = io.WriteString(w, sb.String())

		case http.MethodGet:
			name := strings.TrimPrefix(r.URL.Path, davRoot+"/")
			data, ok := files[name]
			if !ok {
				http.NotFound(w, r)
				return
			}
			_, _ = io.WriteString(w, data)

		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func newJob(t *testing.T, rootURL, dest string) *model.Job {
	t.Helper()
	ep, err := model.ParseEndpoint(rootURL)
	gt.NoError(t, err)
	return &model.Job{
		Name:        "test",
		Endpoint:    ep,
		Destination: dest,
		Engine:      model.EngineSettings{Workers: 2, MaxAttempts: 2},
	}
}

func openSource(job *model.Job) (interfaces.ResourceSource, error) {
	return source.New(job, source.Options{})
}

func TestBackup_MirrorsRemoteTree(t *testing.T) {
	server := newDAVServer(t, map[string]string{
		"a/b.txt":   "bee",
		"a/c:d.txt": "colon",
		"e.txt":     "eee",
	})
	dest := filepath.Join(t.TempDir(), "mirror")
	gt.NoError(t, os.MkdirAll(filepath.Join(dest, "stale"), 0o755))

	notifier := &MockNotifier{}
	uc := usecase.NewBackup(openSource, usecase.WithNotifiers(notifier))

	report, err := uc.Run(context.Background(), newJob(t, server.URL+davRoot, dest))
	gt.NoError(t, err)

	gt.Equal(t, report.Discovered, 3)
	gt.Equal(t, report.Succeeded, 3)
	gt.Equal(t, len(report.Failed), 0)
	gt.False(t, report.HasFailures())
	gt.NotEqual(t, report.RunID, "")

	gt.Equal(t, readFile(t, dest, "a/b.txt"), "bee")
	gt.Equal(t, readFile(t, dest, "a/cd.txt"), "colon")
	gt.Equal(t, readFile(t, dest, "e.txt"), "eee")

	_, err = os.Stat(filepath.Join(dest, "stale"))
	gt.True(t, os.IsNotExist(err))

	reports := notifier.Reports()
	gt.Equal(t, len(reports), 1)
	gt.Equal(t, reports[0].RunID, report.RunID)
}

func TestBackup_ReportsConflicts(t *testing.T) {
	server := newDAVServer(t, map[string]string{
		"a/x:y": "first",
		"a/xy":  "second",
	})
	dest := t.TempDir()

	report, err := usecase.NewBackup(openSource).Run(context.Background(), newJob(t, server.URL+davRoot, dest))
	gt.NoError(t, err)

	gt.Equal(t, report.Succeeded, 1)
	gt.Equal(t, len(report.Failed), 1)
	gt.Equal(t, report.Failed[0].Remote, model.RemotePath("a/xy"))
	gt.Equal(t, readFile(t, dest, "a/xy"), "first")
}

func TestBackup_DotSegmentsStayInsideDestination(t *testing.T) {
	server := newDAVServer(t, map[string]string{
		"..:/escape.txt": "kept inside",
	})
	base := t.TempDir()
	dest := filepath.Join(base, "mirror")

	report, err := usecase.NewBackup(openSource).Run(context.Background(), newJob(t, server.URL+davRoot, dest))
	gt.NoError(t, err)

	gt.Equal(t, report.Succeeded, 1)
	gt.Equal(t, len(report.Failed), 0)
	gt.Equal(t, readFile(t, dest, "_/escape.txt"), "kept inside")

	_, err = os.Stat(filepath.Join(base, "escape.txt"))
	gt.True(t, os.IsNotExist(err))
}

func TestBackup_DiscoveryFailureAborts(t *testing.T) {
	var gets atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			gets.Add(1)
		}
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	dest := t.TempDir()
	keep := filepath.Join(dest, "keep.txt")
	gt.NoError(t, os.WriteFile(keep, []byte("x"), 0o644))

	notifier := &MockNotifier{}
	uc := usecase.NewBackup(openSource, usecase.WithNotifiers(notifier))
	report, err := uc.Run(context.Background(), newJob(t, server.URL+davRoot, dest))

	gt.Error(t, err)
	gt.True(t, goerr.HasTag(err, types.ErrTagDiscovery))
	gt.NotEqual(t, report.Error, "")
	gt.Equal(t, gets.Load(), int32(0))

	// the destination is untouched
	_, err = os.Stat(keep)
	gt.NoError(t, err)
	gt.Equal(t, len(notifier.Reports()), 1)
}

func TestBackup_EmptyListingGuard(t *testing.T) {
	server := newDAVServer(t, map[string]string{})
	dest := t.TempDir()
	keep := filepath.Join(dest, "keep.txt")
	gt.NoError(t, os.WriteFile(keep, []byte("x"), 0o644))

	t.Run("refused by default", func(t *testing.T) {
		_, err := usecase.NewBackup(openSource).Run(context.Background(), newJob(t, server.URL+davRoot, dest))
		gt.Error(t, err)
		gt.True(t, goerr.HasTag(err, types.ErrTagDiscovery))
		_, err = os.Stat(keep)
		gt.NoError(t, err)
	})

	t.Run("allowed explicitly", func(t *testing.T) {
		job := newJob(t, server.URL+davRoot, dest)
		job.AllowEmpty = true
		report, err := usecase.NewBackup(openSource).Run(context.Background(), job)
		gt.NoError(t, err)
		gt.Equal(t, report.Discovered, 0)
		_, err = os.Stat(keep)
		gt.True(t, os.IsNotExist(err))
	})
}

func TestBackup_ListRetry(t *testing.T) {
	t.Run("transient failure is retried", func(t *testing.T) {
		var calls int
		src := &MockSource{
			listFunc: func(ctx context.Context) ([]model.RemotePath, error) {
				calls++
				if calls == 1 {
					return nil, goerr.New("service unavailable", goerr.T(types.ErrTagRetryable))
				}
				return []model.RemotePath{"f.txt"}, nil
			},
			fetchFunc: func(ctx context.Context, path model.RemotePath) (io.ReadCloser, error) {
				return content(path), nil
			},
		}
		uc := usecase.NewBackup(func(*model.Job) (interfaces.ResourceSource, error) { return src, nil },
			usecase.WithListRetry(3, 0))

		report, err := uc.Run(context.Background(), newJob(t, "https://dav.example.com/files", t.TempDir()))
		gt.NoError(t, err)
		gt.Equal(t, calls, 2)
		gt.Equal(t, report.Succeeded, 1)
		gt.True(t, src.closed)
	})

	t.Run("permanent failure is not retried", func(t *testing.T) {
		var calls int
		src := &MockSource{
			listFunc: func(ctx context.Context) ([]model.RemotePath, error) {
				calls++
				return nil, goerr.New("unauthorized", goerr.T(types.ErrTagPermanent))
			},
		}
		uc := usecase.NewBackup(func(*model.Job) (interfaces.ResourceSource, error) { return src, nil },
			usecase.WithListRetry(3, 0))

		_, err := uc.Run(context.Background(), newJob(t, "https://dav.example.com/files", t.TempDir()))
		gt.Error(t, err)
		gt.True(t, goerr.HasTag(err, types.ErrTagDiscovery))
		gt.Equal(t, calls, 1)
	})
}

func TestBackup_SourceErrorAndNotifierFailure(t *testing.T) {
	notifier := &MockNotifier{err: errors.New("slack is down")}
	uc := usecase.NewBackup(func(*model.Job) (interfaces.ResourceSource, error) {
		return nil, goerr.New("unsupported", goerr.T(types.ErrTagConfiguration))
	}, usecase.WithNotifiers(notifier))

	report, err := uc.Run(context.Background(), newJob(t, "https://dav.example.com/files", t.TempDir()))
	gt.Error(t, err)
	gt.True(t, goerr.HasTag(err, types.ErrTagConfiguration))
	gt.True(t, report.HasFailures())
	gt.Equal(t, len(notifier.Reports()), 1)
}
