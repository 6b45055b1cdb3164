// Package timeout bounds blocking body reads by an idle budget.
package timeout

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/m-mizutani/davmirror/pkg/domain/types"
	"github.com/m-mizutani/goerr/v2"
)

// Reader wraps a body and fires onExpire when a single Read blocks longer than the budget.
// onExpire must unblock the pending Read, e.g. by cancelling the request context or closing
// the underlying connection. Reads after expiry return an error tagged types.ErrTagTimeout.
type Reader struct {
	rc      io.ReadCloser
	budget  time.Duration
	timer   *time.Timer
	expired atomic.Bool
	once    sync.Once
}

// NewReader starts the idle timer immediately
func NewReader(rc io.ReadCloser, budget time.Duration, onExpire func()) *Reader {
	r := &Reader{rc: rc, budget: budget}
	r.timer = time.AfterFunc(budget, func() {
		r.expired.Store(true)
		if onExpire != nil {
			onExpire()
		}
	})
	return r
}

// Expired reports whether the idle budget was exceeded
func (r *Reader) Expired() bool {
	return r.expired.Load()
}

func (r *Reader) Read(p []byte) (int, error) {
	if r.expired.Load() {
		return 0, r.timeoutError()
	}

	n, err := r.rc.Read(p)
	if r.expired.Load() {
		return n, r.timeoutError()
	}
	if err == nil {
		r.timer.Reset(r.budget)
	}
	return n, err
}

// Close stops the timer and closes the wrapped body
func (r *Reader) Close() error {
	var err error
	r.once.Do(func() {
		r.timer.Stop()
		err = r.rc.Close()
	})
	return err
}

func (r *Reader) timeoutError() error {
	return goerr.New("no data received within budget",
		goerr.V("budget", r.budget.String()),
		goerr.T(types.ErrTagTimeout))
}
