package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/m-mizutani/ctxlog"
	"golang.org/x/sync/semaphore"
)

// Task is a unit of work executed by a Pool
type Task struct {
	// Run executes the work. Its context is detached from the abort signal.
	Run func(ctx context.Context)
	// Discard is called instead of Run when the task is dropped before it started
	Discard func()
	// Panic is called if Run panics; the panic is already logged
	Panic func(recovered any)
}

// Pool runs tasks on at most `size` goroutines. A pool lives for one run; Wait forms a
// fence so that callers can submit work in waves.
type Pool struct {
	sem *semaphore.Weighted
	wg  sync.WaitGroup
	ctx context.Context
}

// NewPool creates a pool bounded to size concurrent tasks. size < 1 is treated as 1.
// ctx is passed to every task with its cancellation removed, so aborting a run never
// interrupts in-flight work.
func NewPool(ctx context.Context, size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		sem: semaphore.NewWeighted(int64(size)),
		ctx: context.WithoutCancel(ctx),
	}
}

// Submit blocks until a worker slot is free, then starts the task. If abort is done before
// the task starts, the task is discarded and Submit returns abort's error.
func (p *Pool) Submit(abort context.Context, task Task) error {
	if err := abort.Err(); err != nil {
		discard(task)
		return err
	}

	if err := p.sem.Acquire(abort, 1); err != nil {
		discard(task)
		return err
	}

	// Acquire may win a race against a concurrent abort
	if err := abort.Err(); err != nil {
		p.sem.Release(1)
		discard(task)
		return err
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				ctxlog.From(p.ctx).Error("panic in pool task",
					"recover", r,
					"stack", string(debug.Stack()))
				if task.Panic != nil {
					task.Panic(r)
				}
			}
		}()

		task.Run(p.ctx)
	}()

	return nil
}

// Wait blocks until every started task has returned
func (p *Pool) Wait() {
	p.wg.Wait()
}

func discard(task Task) {
	if task.Discard != nil {
		task.Discard()
	}
}

// PanicReason formats a recovered panic value
func PanicReason(r any) string {
	return fmt.Sprintf("panic: %v", r)
}
