package local

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/Lllllllleong/documentpipeline/internal/models"
)

// ErrDispatcherClosed is returned for work submitted after Close.
var ErrDispatcherClosed = errors.New("dispatcher closed")

// Dispatcher runs fire-and-forget work on goroutines. Submitted work is
// detached from the submitter's cancellation. Close stops intake from outside
// the dispatcher; work it is already running may still hand off to the next
// stage, so Wait returns only once every started chain has finished.
type Dispatcher struct {
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{logger: logger}
}

type runningKey struct{}

// running reports whether ctx belongs to work this dispatcher started.
func (d *Dispatcher) running(ctx context.Context) bool {
	owner, _ := ctx.Value(runningKey{}).(*Dispatcher)
	return owner == d
}

// Go starts fn on its own goroutine. Errors are logged, never returned.
// After Close only submissions made from within dispatched work are accepted.
func (d *Dispatcher) Go(ctx context.Context, name string, fn func(context.Context) error) error {
	d.mu.Lock()
	if d.closed && !d.running(ctx) {
		d.mu.Unlock()
		return ErrDispatcherClosed
	}
	d.wg.Add(1)
	d.mu.Unlock()

	detached := context.WithValue(context.WithoutCancel(ctx), runningKey{}, d)
	go func() {
		defer d.wg.Done()
		if err := fn(detached); err != nil {
			d.logger.Warn("Dispatched work failed", "target", name, "error", err)
		}
	}()
	return nil
}

// Close refuses new work from outside the dispatcher. Work already started
// keeps running and may chain further handoffs.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
}

// Wait blocks until all started work has returned.
func (d *Dispatcher) Wait() { d.wg.Wait() }

// HandoffFunc runs a stage for one handoff.
type HandoffFunc func(ctx context.Context, h models.Handoff) error

// Trigger is an in-process next-stage trigger backed by a Dispatcher.
type Trigger struct {
	d      *Dispatcher
	target string
	run    HandoffFunc
}

// Trigger binds run as the next stage named target.
func (d *Dispatcher) Trigger(target string, run HandoffFunc) *Trigger {
	return &Trigger{d: d, target: target, run: run}
}

func (t *Trigger) Handoff(ctx context.Context, h models.Handoff) error {
	return t.d.Go(ctx, t.target, func(ctx context.Context) error {
		return t.run(ctx, h)
	})
}

// StorageHook turns storage writes into asynchronous runs of fn, the way a
// bucket notification would.
func (d *Dispatcher) StorageHook(fn func(ctx context.Context, e models.StorageWrite) error) WriteHook {
	return func(ctx context.Context, e models.StorageWrite) {
		if err := d.Go(ctx, "storage-write", func(ctx context.Context) error { return fn(ctx, e) }); err != nil {
			d.logger.Warn("Dropped storage event", "storageKey", e.Key, "error", err)
		}
	}
}
