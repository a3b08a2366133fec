package syncgw

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/MarcoPoloResearchLab/foodvoter/backend/internal/foodpoll"
	"github.com/MarcoPoloResearchLab/foodvoter/backend/internal/metrics"
	"github.com/MarcoPoloResearchLab/foodvoter/backend/internal/store"
	"go.uber.org/zap"
)

var (
	// ErrSync indicates a publish or subscribe failure against the shared
	// store. The gateway does not retry; re-publishing is the caller's call.
	ErrSync = errors.New("syncgw: sync failure")

	errMissingStore = errors.New("syncgw: document store is required")
)

// EntityType discriminates the entities the gateway propagates.
type EntityType string

const (
	EntityPoll EntityType = "poll"
	EntityVote EntityType = "vote"
)

// EventKind mirrors the delivery phase of an event.
type EventKind string

const (
	// KindSnapshot replays existing state when a subscription starts or
	// restarts.
	KindSnapshot EventKind = "snapshot"
	// KindUpdate reports a live create or replacement.
	KindUpdate EventKind = "update"
	// KindDelete reports a live removal.
	KindDelete EventKind = "delete"
)

// Event is one typed entry of a poll subscription stream, delivered in the
// shared store's commit order.
type Event struct {
	Type      EntityType
	Kind      EventKind
	Poll      *foodpoll.Poll
	Vote      *foodpoll.Vote
	CommitSeq int64
}

// GatewayConfig describes the dependencies of the sync gateway.
type GatewayConfig struct {
	Store  *store.DocumentStore
	Logger *zap.Logger
}

// Gateway propagates poll and vote mutations between participants through
// the shared document store. Writes are whole-document replacements under
// `polls/{pollId}` and `polls/{pollId}/votes/{voterId}`; delivery is
// at-least-once, so consumers must absorb duplicates idempotently.
type Gateway struct {
	store  *store.DocumentStore
	logger *zap.Logger
}

// NewGateway constructs a gateway over the given store.
func NewGateway(cfg GatewayConfig) (*Gateway, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{store: cfg.Store, logger: logger}, nil
}

// Publish writes a poll or vote to its path in the shared store. The call
// completes once the local write is accepted; remote observation is
// eventual. Failures surface as ErrSync and are not retried here.
func (g *Gateway) Publish(ctx context.Context, entity interface{}) error {
	switch typed := entity.(type) {
	case foodpoll.Poll:
		return g.publishPoll(ctx, typed)
	case *foodpoll.Poll:
		return g.publishPoll(ctx, *typed)
	case foodpoll.Vote:
		return g.publishVote(ctx, typed)
	case *foodpoll.Vote:
		return g.publishVote(ctx, *typed)
	default:
		return fmt.Errorf("%w: unsupported entity %T", ErrSync, entity)
	}
}

func (g *Gateway) publishPoll(ctx context.Context, poll foodpoll.Poll) error {
	if poll.ID == "" {
		return fmt.Errorf("%w: poll without id", ErrSync)
	}
	payload, err := json.Marshal(poll)
	if err != nil {
		return fmt.Errorf("%w: encode poll: %v", ErrSync, err)
	}
	if err := g.store.Put(ctx, pollPath(poll.ID), string(payload)); err != nil {
		return fmt.Errorf("%w: %v", ErrSync, err)
	}
	metrics.IncSyncPublish(string(EntityPoll))
	return nil
}

func (g *Gateway) publishVote(ctx context.Context, vote foodpoll.Vote) error {
	if vote.PollID == "" || vote.VoterID == "" {
		return fmt.Errorf("%w: vote without poll or voter id", ErrSync)
	}
	payload, err := json.Marshal(vote)
	if err != nil {
		return fmt.Errorf("%w: encode vote: %v", ErrSync, err)
	}
	if err := g.store.Put(ctx, votePath(vote.PollID, vote.VoterID), string(payload)); err != nil {
		return fmt.Errorf("%w: %v", ErrSync, err)
	}
	metrics.IncSyncPublish(string(EntityVote))
	return nil
}

// Subscription is a cancellable, ordered stream of poll-scoped events. A
// subscription is bound to one poll id; a fresh Subscribe re-delivers the
// full snapshot, which is also the re-synchronization path after a
// disconnect or stream overflow.
type Subscription struct {
	events   chan Event
	done     chan struct{}
	cancel   func()
	teardown sync.Once
}

// Events exposes the ordered event stream. The channel closes when the
// subscription is cancelled or the store forces a re-sync.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Cancel tears the subscription down. In-flight deliveries are discarded.
func (s *Subscription) Cancel() {
	s.teardown.Do(func() {
		close(s.done)
		s.cancel()
	})
}

// Subscribe opens a stream of every poll and vote document under the
// poll's path: first a snapshot of existing children, then live deltas in
// commit order.
func (g *Gateway) Subscribe(ctx context.Context, pollID foodpoll.PollID) (*Subscription, error) {
	if pollID == "" {
		return nil, fmt.Errorf("%w: empty poll id", ErrSync)
	}

	stream, cancel, err := g.store.Watch(ctx, pollPath(pollID))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSync, err)
	}

	subscription := &Subscription{
		events: make(chan Event),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	go g.decodeLoop(pollID, stream, subscription)
	return subscription, nil
}

func (g *Gateway) decodeLoop(pollID foodpoll.PollID, stream <-chan store.Event, subscription *Subscription) {
	defer close(subscription.events)
	for raw := range stream {
		event, ok := g.decode(pollID, raw)
		if !ok {
			continue
		}
		select {
		case subscription.events <- event:
		case <-subscription.done:
			return
		}
	}
}

func (g *Gateway) decode(pollID foodpoll.PollID, raw store.Event) (Event, bool) {
	kind := KindUpdate
	switch raw.Kind {
	case store.KindSnapshot:
		kind = KindSnapshot
	case store.KindDelete:
		kind = KindDelete
	}

	event := Event{Kind: kind, CommitSeq: raw.CommitSeq}
	switch {
	case raw.Path == pollPath(pollID):
		event.Type = EntityPoll
		if kind != KindDelete {
			var poll foodpoll.Poll
			if err := json.Unmarshal([]byte(raw.PayloadJSON), &poll); err != nil {
				g.logger.Warn("dropping malformed poll document",
					zap.String("path", raw.Path), zap.Error(err))
				return Event{}, false
			}
			event.Poll = &poll
		}
	case strings.HasPrefix(raw.Path, votesPrefix(pollID)):
		event.Type = EntityVote
		if kind != KindDelete {
			var vote foodpoll.Vote
			if err := json.Unmarshal([]byte(raw.PayloadJSON), &vote); err != nil {
				g.logger.Warn("dropping malformed vote document",
					zap.String("path", raw.Path), zap.Error(err))
				return Event{}, false
			}
			event.Vote = &vote
		}
	default:
		return Event{}, false
	}
	return event, true
}

func pollPath(pollID foodpoll.PollID) string {
	return "polls/" + pollID.String()
}

func votesPrefix(pollID foodpoll.PollID) string {
	return pollPath(pollID) + "/votes/"
}

func votePath(pollID foodpoll.PollID, voterID foodpoll.UserID) string {
	return votesPrefix(pollID) + voterID.String()
}
