package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/davmirror/pkg/domain/interfaces"
	"github.com/m-mizutani/davmirror/pkg/domain/model"
	"github.com/m-mizutani/davmirror/pkg/domain/types"
	"github.com/m-mizutani/davmirror/pkg/utils/async"
	"github.com/m-mizutani/goerr/v2"
)

// Engine defaults
const (
	DefaultWorkers     = 4
	DefaultMaxAttempts = 3
	DefaultChunkSize   = 1 << 20
)

const reasonAborted = "run aborted before the resource was fetched"

// Engine downloads resources in waves on a bounded pool. A wave submits every pending
// resource and waits for all of them; retryable failures form the next wave until the
// attempt ceiling is reached.
type Engine struct {
	fetcher     interfaces.ResourceFetcher
	workers     int
	maxAttempts int
	retryDelay  time.Duration
	chunkSize   int
}

// NewEngine creates an engine. Zero settings fall back to the defaults.
func NewEngine(fetcher interfaces.ResourceFetcher, settings model.EngineSettings) *Engine {
	e := &Engine{
		fetcher:     fetcher,
		workers:     settings.Workers,
		maxAttempts: settings.MaxAttempts,
		retryDelay:  settings.RetryDelay,
		chunkSize:   settings.ChunkSize,
	}
	if e.workers < 1 {
		e.workers = DefaultWorkers
	}
	if e.maxAttempts < 1 {
		e.maxAttempts = DefaultMaxAttempts
	}
	if e.chunkSize < 1 {
		e.chunkSize = DefaultChunkSize
	}
	return e
}

// waveCollector is the only place where concurrently finishing fetches record results
type waveCollector struct {
	mu        sync.Mutex
	succeeded []model.ResourceRecord
	retry     []model.ResourceRecord
	permanent []model.ResourceRecord
	discarded []model.ResourceRecord
}

func (c *waveCollector) add(rec model.ResourceRecord, out model.Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch out.Kind {
	case model.OutcomeSucceeded:
		c.succeeded = append(c.succeeded, rec)
	case model.OutcomeRetryable:
		c.retry = append(c.retry, rec)
	default:
		c.permanent = append(c.permanent, rec)
	}
}

func (c *waveCollector) discard(rec model.ResourceRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.discarded = append(c.discarded, rec)
}

// Run downloads records below root. Cancelling ctx aborts the run: no new fetch starts,
// in-flight fetches complete, and everything not fetched is reported unresolved.
// Resource failures never make Run fail; they are part of the returned report.
func (e *Engine) Run(ctx context.Context, root string, records []model.ResourceRecord) *model.DownloadReport {
	logger := ctxlog.From(ctx)

	pool := async.NewPool(ctx, e.workers)
	defer pool.Wait()

	report := &model.DownloadReport{
		Succeeded: []model.RemotePath{},
		Failed:    []model.FailedResource{},
	}
	states := make(map[model.RemotePath]*model.RetryState, len(records))
	pending := records

	for len(pending) > 0 {
		if report.Waves > 0 && !e.sleep(ctx) {
			break
		}
		if ctx.Err() != nil {
			break
		}

		report.Waves++
		logger.Info("Starting download wave",
			"wave", report.Waves,
			"pending", len(pending),
			"workers", e.workers,
		)

		col := e.runWave(ctx, pool, root, pending, states)

		for _, rec := range col.succeeded {
			report.Succeeded = append(report.Succeeded, rec.Remote)
			delete(states, rec.Remote)
		}
		for _, rec := range col.permanent {
			report.Failed = append(report.Failed, failure(rec, states[rec.Remote], ""))
			delete(states, rec.Remote)
		}

		var next []model.ResourceRecord
		for _, rec := range col.retry {
			st := states[rec.Remote]
			if st.Attempts >= e.maxAttempts {
				report.Failed = append(report.Failed,
					failure(rec, st, fmt.Sprintf("gave up after %d attempts: %s", st.Attempts, st.Last.Reason)))
				delete(states, rec.Remote)
				continue
			}
			next = append(next, rec)
		}
		// discarded work is re-queued so that it is reported once below
		next = append(next, col.discarded...)

		logger.Info("Finished download wave",
			"wave", report.Waves,
			"succeeded", len(col.succeeded),
			"retry", len(col.retry),
			"failed", len(col.permanent),
			"discarded", len(col.discarded),
		)
		pending = next
	}

	if len(pending) > 0 {
		report.Aborted = true
		logger.Warn("Download aborted", "unresolved", len(pending))
		for _, rec := range pending {
			st := states[rec.Remote]
			reason := reasonAborted
			if st != nil && st.Attempts > 0 {
				reason = fmt.Sprintf("run aborted before retry: %s", st.Last.Reason)
			}
			f := failure(rec, st, reason)
			f.Unresolved = true
			report.Failed = append(report.Failed, f)
		}
	}

	return report
}

// sleep waits retryDelay between waves. It returns false if ctx was cancelled meanwhile.
func (e *Engine) sleep(ctx context.Context) bool {
	if e.retryDelay <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(e.retryDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (e *Engine) runWave(
	ctx context.Context,
	pool *async.Pool,
	root string,
	pending []model.ResourceRecord,
	states map[model.RemotePath]*model.RetryState,
) *waveCollector {
	col := &waveCollector{}

	for _, rec := range pending {
		st, ok := states[rec.Remote]
		if !ok {
			st = &model.RetryState{}
			states[rec.Remote] = st
		}

		// Submit records discarded tasks itself, so its error needs no handling here
		_ = pool.Submit(ctx, async.Task{
			Run: func(fetchCtx context.Context) {
				st.Attempts++
				out := e.fetchOne(fetchCtx, root, rec, st.Attempts)
				st.Last = out
				col.add(rec, out)
			},
			Discard: func() {
				col.discard(rec)
			},
			Panic: func(r any) {
				st.Last = model.PermanentFailure(0, async.PanicReason(r))
				col.add(rec, st.Last)
			},
		})
	}

	pool.Wait()
	return col
}

func (e *Engine) fetchOne(ctx context.Context, root string, rec model.ResourceRecord, attempt int) model.Outcome {
	logger := ctxlog.From(ctx).With("remote", rec.Remote, "attempt", attempt)
	started := time.Now()

	out := e.download(ctx, root, rec)

	switch out.Kind {
	case model.OutcomeSucceeded:
		logger.Debug("Downloaded resource",
			"local", rec.Local,
			"duration_ms", time.Since(started).Milliseconds(),
		)
	case model.OutcomeRetryable:
		logger.Warn("Retryable download failure", "status", out.Status, "reason", out.Reason)
	default:
		logger.Error("Permanent download failure", "status", out.Status, "reason", out.Reason)
	}
	return out
}

func (e *Engine) download(ctx context.Context, root string, rec model.ResourceRecord) model.Outcome {
	dest, err := localTarget(root, rec.Local)
	if err != nil {
		return classify(err)
	}

	body, err := e.fetcher.Fetch(ctx, rec.Remote)
	if err != nil {
		return classify(err)
	}
	defer body.Close()

	if err := writeFile(dest, body, e.chunkSize); err != nil {
		return classify(err)
	}
	return model.Succeeded(bodyStatus(body))
}

// writeFile streams body into a temporary sibling of dest through a chunkSize buffer and
// renames it into place on success. dest is never left holding partial content.
func writeFile(dest string, body io.Reader, chunkSize int) (err error) {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return goerr.Wrap(err, "failed to create directory", goerr.V("dir", dir), goerr.T(types.ErrTagPermanent))
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".*.part")
	if err != nil {
		return goerr.Wrap(err, "failed to create temporary file", goerr.V("dir", dir), goerr.T(types.ErrTagPermanent))
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	// plain wrappers keep io.CopyBuffer from bypassing the bounded buffer
	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(fileWriter{tmp}, struct{ io.Reader }{body}, buf); err != nil {
		return err
	}

	if err := tmp.Close(); err != nil {
		return goerr.Wrap(err, "failed to close local file", goerr.V("path", tmp.Name()), goerr.T(types.ErrTagPermanent))
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return goerr.Wrap(err, "failed to move file into place", goerr.V("path", dest), goerr.T(types.ErrTagPermanent))
	}
	return nil
}

// fileWriter tags local write failures so they are never mistaken for transport errors
type fileWriter struct {
	f *os.File
}

func (w fileWriter) Write(p []byte) (int, error) {
	n, err := w.f.Write(p)
	if err != nil {
		return n, goerr.Wrap(err, "failed to write local file", goerr.V("path", w.f.Name()), goerr.T(types.ErrTagPermanent))
	}
	return n, nil
}

// classify converts a fetch error into an outcome. It is the only place where resource
// level errors are interpreted.
func classify(err error) model.Outcome {
	status := errorStatus(err)
	reason := err.Error()
	if status != 0 {
		reason = fmt.Sprintf("%s (status %d)", reason, status)
	}

	switch {
	case goerr.HasTag(err, types.ErrTagPermanent) && !goerr.HasTag(err, types.ErrTagTimeout):
		return model.PermanentFailure(status, reason)
	case isTimeout(err):
		return model.RetryableFailure(status, reason)
	case goerr.HasTag(err, types.ErrTagRetryable):
		return model.RetryableFailure(status, reason)
	default:
		return model.PermanentFailure(status, reason)
	}
}

func isTimeout(err error) bool {
	if goerr.HasTag(err, types.ErrTagTimeout) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func errorStatus(err error) int {
	e := goerr.Unwrap(err)
	if e == nil {
		return 0
	}
	if v, ok := e.Values()["status"].(int); ok {
		return v
	}
	return 0
}

func bodyStatus(body io.Reader) int {
	if s, ok := body.(interface{ Status() int }); ok {
		return s.Status()
	}
	return 0
}

func failure(rec model.ResourceRecord, st *model.RetryState, reason string) model.FailedResource {
	f := model.FailedResource{
		Remote: rec.Remote,
		Local:  rec.Local,
		Reason: reason,
	}
	if st != nil {
		f.Attempts = st.Attempts
		f.Status = st.Last.Status
		if f.Reason == "" {
			f.Reason = st.Last.Reason
		}
	}
	return f
}
