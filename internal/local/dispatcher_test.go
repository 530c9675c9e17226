package local

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/Lllllllleong/documentpipeline/internal/models"
)

func TestDispatcherDetachesFromCaller(t *testing.T) {
	d := NewDispatcher(nil)
	ctx, cancel := context.WithCancel(context.Background())

	release := make(chan struct{})
	var sawCancel atomic.Bool
	trigger := d.Trigger("classification", func(ctx context.Context, h models.Handoff) error {
		<-release
		sawCancel.Store(ctx.Err() != nil)
		return nil
	})

	if err := trigger.Handoff(ctx, models.Handoff{DocumentID: "doc", Timestamp: 1}); err != nil {
		t.Fatalf("handoff: %v", err)
	}
	cancel()
	close(release)
	d.Wait()

	if sawCancel.Load() {
		t.Fatalf("dispatched work observed the caller's cancellation")
	}
}

func TestDispatcherRefusesAfterClose(t *testing.T) {
	d := NewDispatcher(nil)
	var runs atomic.Int32
	_ = d.Go(context.Background(), "one", func(context.Context) error { runs.Add(1); return nil })
	d.Close()
	err := d.Go(context.Background(), "two", func(context.Context) error { runs.Add(1); return nil })
	if !errors.Is(err, ErrDispatcherClosed) {
		t.Fatalf("expected ErrDispatcherClosed, got %v", err)
	}
	d.Wait()
	if runs.Load() != 1 {
		t.Fatalf("ran %d jobs, want 1", runs.Load())
	}
}

func TestDispatcherStorageHook(t *testing.T) {
	ctx := context.Background()
	d := NewDispatcher(nil)
	store, _ := NewFileStore(t.TempDir())

	got := make(chan models.StorageWrite, 1)
	store.OnWrite(d.StorageHook(func(_ context.Context, e models.StorageWrite) error {
		got <- e
		return nil
	}))
	if err := store.Put(ctx, "doc/a.txt", "text/plain", []byte("x")); err != nil {
		t.Fatalf("put: %v", err)
	}
	d.Wait()

	select {
	case e := <-got:
		if e.Key != "doc/a.txt" {
			t.Fatalf("unexpected event %+v", e)
		}
	default:
		t.Fatalf("storage hook did not run")
	}
}

func TestDispatcherDrainsChainedWorkAfterClose(t *testing.T) {
	d := NewDispatcher(nil)
	release := make(chan struct{})
	var ran atomic.Bool
	var chainErr error

	next := d.Trigger("summarization", func(context.Context, models.Handoff) error {
		ran.Store(true)
		return nil
	})
	first := d.Trigger("classification", func(ctx context.Context, h models.Handoff) error {
		<-release
		chainErr = next.Handoff(ctx, h)
		return chainErr
	})
	if err := first.Handoff(context.Background(), models.Handoff{DocumentID: "doc", Timestamp: 1}); err != nil {
		t.Fatalf("handoff: %v", err)
	}

	d.Close()
	if err := next.Handoff(context.Background(), models.Handoff{DocumentID: "other", Timestamp: 1}); !errors.Is(err, ErrDispatcherClosed) {
		t.Fatalf("outside submission after close: expected ErrDispatcherClosed, got %v", err)
	}
	close(release)
	d.Wait()

	if chainErr != nil || !ran.Load() {
		t.Fatalf("chained handoff not drained: ran=%v err=%v", ran.Load(), chainErr)
	}
}
