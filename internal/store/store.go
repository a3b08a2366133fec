package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultWatchBuffer = 64

var (
	errMissingDatabase = errors.New("store: database handle is required")
	// ErrInvalidPath indicates an empty or malformed document path.
	ErrInvalidPath = errors.New("store: invalid document path")
)

// EventKind discriminates watch stream events.
type EventKind string

const (
	// KindSnapshot replays an existing document when a watch starts.
	KindSnapshot EventKind = "snapshot"
	// KindPut reports a live create or whole-document replacement.
	KindPut EventKind = "put"
	// KindDelete reports a live tombstone.
	KindDelete EventKind = "delete"
)

// Event is one entry of a watch stream, ordered by commit sequence.
type Event struct {
	Kind        EventKind
	Path        string
	PayloadJSON string
	CommitSeq   int64
}

// DocumentStoreConfig describes the dependencies of the document store.
type DocumentStoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// DocumentStore is a push-based document store: path-keyed JSON documents
// with whole-replacement writes and prefix-scoped watch streams that replay
// a snapshot before live deltas. All commits carry a store-wide
// monotonically increasing sequence, which defines delivery order.
type DocumentStore struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger

	mu            sync.Mutex
	nextCommitSeq int64
	watchers      map[int64]*watcher
	nextWatcherID int64
}

type watcher struct {
	id     int64
	prefix string
	stream chan Event
	done   chan struct{}
	closed bool
}

// NewDocumentStore constructs a store over the provided database handle and
// resumes the commit sequence from the highest persisted value.
func NewDocumentStore(cfg DocumentStoreConfig) (*DocumentStore, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var highest int64
	row := cfg.Database.Model(&Document{}).Select("COALESCE(MAX(commit_seq), 0)").Row()
	if err := row.Scan(&highest); err != nil {
		return nil, fmt.Errorf("store: resume commit sequence: %w", err)
	}

	return &DocumentStore{
		db:            cfg.Database,
		clock:         clock,
		logger:        logger,
		nextCommitSeq: highest,
		watchers:      make(map[int64]*watcher),
	}, nil
}

// Put writes a whole-document replacement at path and broadcasts it to
// matching watchers. Duplicate puts of identical payloads are legal; the
// store offers at-least-once delivery and consumers deduplicate by entity
// identity and timestamp.
func (s *DocumentStore) Put(ctx context.Context, path, payloadJSON string) error {
	parent, err := parentOf(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextCommitSeq++
	document := Document{
		Path:        path,
		Parent:      parent,
		PayloadJSON: payloadJSON,
		CommitSeq:   s.nextCommitSeq,
		IsDeleted:   false,
		UpdatedAtS:  s.clock().Unix(),
	}
	if err := s.db.WithContext(ctx).Save(&document).Error; err != nil {
		return fmt.Errorf("store: put %s: %w", path, err)
	}

	s.broadcastLocked(Event{
		Kind:        KindPut,
		Path:        path,
		PayloadJSON: payloadJSON,
		CommitSeq:   document.CommitSeq,
	})
	return nil
}

// Delete tombstones the document at path and broadcasts the removal.
func (s *DocumentStore) Delete(ctx context.Context, path string) error {
	parent, err := parentOf(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextCommitSeq++
	document := Document{
		Path:       path,
		Parent:     parent,
		CommitSeq:  s.nextCommitSeq,
		IsDeleted:  true,
		UpdatedAtS: s.clock().Unix(),
	}
	if err := s.db.WithContext(ctx).Save(&document).Error; err != nil {
		return fmt.Errorf("store: delete %s: %w", path, err)
	}

	s.broadcastLocked(Event{
		Kind:      KindDelete,
		Path:      path,
		CommitSeq: document.CommitSeq,
	})
	return nil
}

// Watch opens a stream of events for every document whose path starts with
// prefix. The stream first replays a snapshot of the existing documents in
// commit order, then delivers live deltas. Snapshot and registration happen
// atomically with respect to commits, so no delta between the two phases is
// lost. The returned cancel function tears the stream down; it is also torn
// down when ctx ends. A consumer that falls too far behind has its stream
// closed and must re-watch, which re-delivers the snapshot.
func (s *DocumentStore) Watch(ctx context.Context, prefix string) (<-chan Event, func(), error) {
	if strings.TrimSpace(prefix) == "" {
		return nil, nil, fmt.Errorf("%w: empty prefix", ErrInvalidPath)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var documents []Document
	if err := s.db.WithContext(ctx).
		Where("(path = ? OR path LIKE ?) AND is_deleted = ?", prefix, prefix+"/%", false).
		Order("commit_seq ASC").
		Find(&documents).Error; err != nil {
		return nil, nil, fmt.Errorf("store: snapshot %s: %w", prefix, err)
	}

	s.nextWatcherID++
	subscriber := &watcher{
		id:     s.nextWatcherID,
		prefix: prefix,
		stream: make(chan Event, len(documents)+defaultWatchBuffer),
		done:   make(chan struct{}),
	}
	for _, document := range documents {
		subscriber.stream <- Event{
			Kind:        KindSnapshot,
			Path:        document.Path,
			PayloadJSON: document.PayloadJSON,
			CommitSeq:   document.CommitSeq,
		}
	}
	s.watchers[subscriber.id] = subscriber

	cancel := func() { s.removeWatcher(subscriber.id) }
	// Contexts without cancellation report a nil Done channel; spawning a
	// waiter on one would block forever.
	if ctxDone := ctx.Done(); ctxDone != nil {
		go func() {
			select {
			case <-ctxDone:
				cancel()
			case <-subscriber.done:
			}
		}()
	}

	return subscriber.stream, cancel, nil
}

func (s *DocumentStore) broadcastLocked(event Event) {
	for _, subscriber := range s.watchers {
		if !matchesPrefix(event.Path, subscriber.prefix) {
			continue
		}
		select {
		case subscriber.stream <- event:
		default:
			// The consumer fell behind its buffer. Closing the stream
			// forces a re-watch, which re-synchronizes via the snapshot
			// phase instead of silently losing this delta.
			s.logger.Warn("watch stream overflow, closing",
				zap.String("prefix", subscriber.prefix),
				zap.Int64("watcher_id", subscriber.id))
			s.closeWatcherLocked(subscriber)
		}
	}
}

func (s *DocumentStore) removeWatcher(watcherID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if subscriber, ok := s.watchers[watcherID]; ok {
		s.closeWatcherLocked(subscriber)
	}
}

// closeWatcherLocked tears a watcher down: the stream closes for the
// consumer and the done channel releases the context waiter.
func (s *DocumentStore) closeWatcherLocked(subscriber *watcher) {
	if subscriber.closed {
		return
	}
	subscriber.closed = true
	close(subscriber.stream)
	close(subscriber.done)
	delete(s.watchers, subscriber.id)
}

func matchesPrefix(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

func parentOf(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" || strings.HasPrefix(trimmed, "/") || strings.HasSuffix(trimmed, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	lastSlash := strings.LastIndex(trimmed, "/")
	if lastSlash < 0 {
		return "", nil
	}
	return trimmed[:lastSlash], nil
}
