package store

import (
	"context"
	"runtime"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *DocumentStore {
	t.Helper()
	db, err := OpenSQLite(":memory:", zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected sqlite error: %v", err)
	}
	documentStore, err := NewDocumentStore(DocumentStoreConfig{Database: db})
	if err != nil {
		t.Fatalf("unexpected store error: %v", err)
	}
	return documentStore
}

func collect(t *testing.T, stream <-chan Event, count int) []Event {
	t.Helper()
	events := make([]Event, 0, count)
	deadline := time.After(2 * time.Second)
	for len(events) < count {
		select {
		case event, ok := <-stream:
			if !ok {
				t.Fatalf("stream closed after %d of %d events", len(events), count)
			}
			events = append(events, event)
		case <-deadline:
			t.Fatalf("timed out after %d of %d events", len(events), count)
		}
	}
	return events
}

func TestWatchReplaysSnapshotThenLive(t *testing.T) {
	documentStore := newTestStore(t)
	ctx := context.Background()

	if err := documentStore.Put(ctx, "polls/p1", `{"id":"p1"}`); err != nil {
		t.Fatalf("unexpected put error: %v", err)
	}
	if err := documentStore.Put(ctx, "polls/p1/votes/u1", `{"voter":"u1"}`); err != nil {
		t.Fatalf("unexpected put error: %v", err)
	}

	stream, cancel, err := documentStore.Watch(ctx, "polls/p1")
	if err != nil {
		t.Fatalf("unexpected watch error: %v", err)
	}
	defer cancel()

	snapshot := collect(t, stream, 2)
	for _, event := range snapshot {
		if event.Kind != KindSnapshot {
			t.Fatalf("expected snapshot event, got %s for %s", event.Kind, event.Path)
		}
	}
	if snapshot[0].Path != "polls/p1" || snapshot[1].Path != "polls/p1/votes/u1" {
		t.Fatalf("snapshot not in commit order: %s then %s", snapshot[0].Path, snapshot[1].Path)
	}

	if err := documentStore.Put(ctx, "polls/p1/votes/u2", `{"voter":"u2"}`); err != nil {
		t.Fatalf("unexpected put error: %v", err)
	}
	live := collect(t, stream, 1)
	if live[0].Kind != KindPut || live[0].Path != "polls/p1/votes/u2" {
		t.Fatalf("unexpected live event: %+v", live[0])
	}
	if live[0].CommitSeq <= snapshot[1].CommitSeq {
		t.Fatalf("live commit sequence must advance, got %d after %d", live[0].CommitSeq, snapshot[1].CommitSeq)
	}
}

func TestWatchScopedToPrefix(t *testing.T) {
	documentStore := newTestStore(t)
	ctx := context.Background()

	stream, cancel, err := documentStore.Watch(ctx, "polls/p1")
	if err != nil {
		t.Fatalf("unexpected watch error: %v", err)
	}
	defer cancel()

	if err := documentStore.Put(ctx, "polls/p2", `{"id":"p2"}`); err != nil {
		t.Fatalf("unexpected put error: %v", err)
	}
	if err := documentStore.Put(ctx, "polls/p10/votes/u1", `{"voter":"u1"}`); err != nil {
		t.Fatalf("unexpected put error: %v", err)
	}
	if err := documentStore.Put(ctx, "polls/p1", `{"id":"p1"}`); err != nil {
		t.Fatalf("unexpected put error: %v", err)
	}

	events := collect(t, stream, 1)
	if events[0].Path != "polls/p1" {
		t.Fatalf("cross-path event leaked into stream: %+v", events[0])
	}
}

func TestRewatchRedeliversFullSnapshot(t *testing.T) {
	documentStore := newTestStore(t)
	ctx := context.Background()

	if err := documentStore.Put(ctx, "polls/p1", `{"id":"p1"}`); err != nil {
		t.Fatalf("unexpected put error: %v", err)
	}

	stream, cancel, err := documentStore.Watch(ctx, "polls/p1")
	if err != nil {
		t.Fatalf("unexpected watch error: %v", err)
	}
	collect(t, stream, 1)

	// Simulated disconnect: the vote lands while nobody is watching.
	cancel()
	if err := documentStore.Put(ctx, "polls/p1/votes/u1", `{"voter":"u1"}`); err != nil {
		t.Fatalf("unexpected put error: %v", err)
	}

	rejoined, cancelRejoined, err := documentStore.Watch(ctx, "polls/p1")
	if err != nil {
		t.Fatalf("unexpected watch error: %v", err)
	}
	defer cancelRejoined()

	snapshot := collect(t, rejoined, 2)
	if snapshot[1].Path != "polls/p1/votes/u1" || snapshot[1].Kind != KindSnapshot {
		t.Fatalf("missed delta not recovered by snapshot: %+v", snapshot[1])
	}
}

func TestDeleteTombstonesAndExcludesFromSnapshot(t *testing.T) {
	documentStore := newTestStore(t)
	ctx := context.Background()

	if err := documentStore.Put(ctx, "polls/p1/votes/u1", `{"voter":"u1"}`); err != nil {
		t.Fatalf("unexpected put error: %v", err)
	}

	stream, cancel, err := documentStore.Watch(ctx, "polls/p1")
	if err != nil {
		t.Fatalf("unexpected watch error: %v", err)
	}
	collect(t, stream, 1)

	if err := documentStore.Delete(ctx, "polls/p1/votes/u1"); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
	live := collect(t, stream, 1)
	if live[0].Kind != KindDelete {
		t.Fatalf("expected delete event, got %+v", live[0])
	}
	cancel()

	rejoined, cancelRejoined, err := documentStore.Watch(ctx, "polls/p1")
	if err != nil {
		t.Fatalf("unexpected watch error: %v", err)
	}
	defer cancelRejoined()
	select {
	case event, ok := <-rejoined:
		if ok {
			t.Fatalf("tombstoned document replayed in snapshot: %+v", event)
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWatchCancelReleasesGoroutines(t *testing.T) {
	documentStore := newTestStore(t)
	baseline := runtime.NumGoroutine()

	// Long-lived subscriptions watch under a context without cancellation;
	// tearing them down must not strand a context waiter.
	for i := 0; i < 50; i++ {
		_, cancel, err := documentStore.Watch(context.WithoutCancel(context.Background()), "polls/p1")
		if err != nil {
			t.Fatalf("unexpected watch error: %v", err)
		}
		cancel()
	}

	// A cancellable watch torn down by its cancel func must release the
	// waiter through the watcher, not the context.
	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	_, cancel, err := documentStore.Watch(ctx, "polls/p1")
	if err != nil {
		t.Fatalf("unexpected watch error: %v", err)
	}
	cancel()

	// And one torn down by context cancellation.
	expiring, expire := context.WithCancel(context.Background())
	stream, _, err := documentStore.Watch(expiring, "polls/p1")
	if err != nil {
		t.Fatalf("unexpected watch error: %v", err)
	}
	expire()
	select {
	case _, ok := <-stream:
		if ok {
			t.Fatalf("expected closed stream after context cancellation")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("stream not closed after context cancellation")
	}

	deadline := time.Now().Add(2 * time.Second)
	for runtime.NumGoroutine() > baseline && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := runtime.NumGoroutine(); got > baseline {
		t.Fatalf("watch goroutines leaked: baseline %d, now %d", baseline, got)
	}
}

func TestCommitSequenceResumesAcrossStores(t *testing.T) {
	db, err := OpenSQLite(":memory:", zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected sqlite error: %v", err)
	}
	first, err := NewDocumentStore(DocumentStoreConfig{Database: db})
	if err != nil {
		t.Fatalf("unexpected store error: %v", err)
	}
	ctx := context.Background()
	if err := first.Put(ctx, "polls/p1", `{"id":"p1"}`); err != nil {
		t.Fatalf("unexpected put error: %v", err)
	}

	second, err := NewDocumentStore(DocumentStoreConfig{Database: db})
	if err != nil {
		t.Fatalf("unexpected store error: %v", err)
	}
	if err := second.Put(ctx, "polls/p2", `{"id":"p2"}`); err != nil {
		t.Fatalf("unexpected put error: %v", err)
	}

	stream, cancel, err := second.Watch(ctx, "polls/p2")
	if err != nil {
		t.Fatalf("unexpected watch error: %v", err)
	}
	defer cancel()
	events := collect(t, stream, 1)
	if events[0].CommitSeq != 2 {
		t.Fatalf("commit sequence did not resume, got %d", events[0].CommitSeq)
	}
}
