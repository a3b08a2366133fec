package session

import (
	"context"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/foodvoter/backend/internal/foodpoll"
	"github.com/MarcoPoloResearchLab/foodvoter/backend/internal/metrics"
	"github.com/MarcoPoloResearchLab/foodvoter/backend/internal/syncgw"
	"go.uber.org/zap"
)

// Session is one independently progressing consumer of a poll's event
// stream. It folds gateway events into its own ledger and validates local
// mutations against that view, publishing accepted ones back through the
// gateway. Mutations complete once the local write is accepted for
// transmission, not once every participant has observed it.
type Session struct {
	pollID  foodpoll.PollID
	gateway *syncgw.Gateway
	ledger  *foodpoll.Ledger
	logger  *zap.Logger

	ready     chan struct{}
	readyOnce sync.Once

	mu           sync.Mutex
	subscription *syncgw.Subscription
	cancelled    bool
}

func newSession(pollID foodpoll.PollID, gateway *syncgw.Gateway, clock func() time.Time, logger *zap.Logger) *Session {
	return &Session{
		pollID:  pollID,
		gateway: gateway,
		ledger:  foodpoll.NewLedger(clock),
		logger:  logger,
		ready:   make(chan struct{}),
	}
}

func (s *Session) open(ctx context.Context) error {
	subscription, err := s.gateway.Subscribe(ctx, s.pollID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.subscription = subscription
	s.mu.Unlock()
	go s.consume(ctx, subscription)
	return nil
}

// consume applies the snapshot and live deltas to the ledger. A closed
// stream without a local cancel means the store forced a re-sync; the
// session re-subscribes, which replays the snapshot, and the ledger absorbs
// the duplicates idempotently.
func (s *Session) consume(ctx context.Context, subscription *syncgw.Subscription) {
	for event := range subscription.Events() {
		switch event.Type {
		case syncgw.EntityPoll:
			if event.Poll != nil {
				s.ledger.ApplyPoll(*event.Poll)
				s.markReady()
			}
		case syncgw.EntityVote:
			if event.Vote != nil {
				s.ledger.ApplyVote(*event.Vote)
			}
		}
	}

	s.mu.Lock()
	cancelled := s.cancelled
	s.mu.Unlock()
	if cancelled || ctx.Err() != nil {
		return
	}

	s.logger.Warn("subscription stream lost, re-synchronizing",
		zap.String("poll_id", s.pollID.String()))
	if err := s.open(ctx); err != nil {
		s.logger.Error("re-subscribe failed, session is stale",
			zap.String("poll_id", s.pollID.String()), zap.Error(err))
	}
}

func (s *Session) markReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}

// waitKnown blocks until the poll document has been applied locally, the
// context ends, or the timeout passes.
func (s *Session) waitKnown(ctx context.Context, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-s.ready:
		return true
	case <-ctx.Done():
		return false
	case <-timer.C:
		return false
	}
}

// Poll returns the session's current view of the poll document.
func (s *Session) Poll() (foodpoll.Poll, bool) {
	return s.ledger.Poll(s.pollID)
}

// Tally recomputes the ranked tally from the current live vote set.
func (s *Session) Tally() (foodpoll.Tally, error) {
	return s.ledger.Tally(s.pollID)
}

// CastVote validates the vote against the local view, records it and
// pushes it through the gateway. A publish failure surfaces as a sync
// error; the locally applied vote stands and may be re-published.
func (s *Session) CastVote(ctx context.Context, voterID foodpoll.UserID, candidateID foodpoll.CandidateID) (foodpoll.Vote, error) {
	vote, err := s.ledger.CastVote(s.pollID, voterID, candidateID)
	if err != nil {
		return foodpoll.Vote{}, err
	}
	if err := s.gateway.Publish(ctx, vote); err != nil {
		return foodpoll.Vote{}, err
	}
	metrics.IncVoteCast()
	return vote, nil
}

// Close moves the poll to its terminal state. Only the host may close.
func (s *Session) Close(ctx context.Context, callerID foodpoll.UserID) error {
	poll, ok := s.ledger.Poll(s.pollID)
	if !ok {
		return foodpoll.ErrPollNotFound
	}
	if poll.HostID != callerID {
		return foodpoll.ErrInvalidState
	}
	if err := poll.Close(); err != nil {
		return err
	}
	s.ledger.ApplyPoll(poll)
	return s.gateway.Publish(ctx, poll)
}

// InviteUpdate adjusts the invited voter set post-commit.
type InviteUpdate struct {
	Add    []foodpoll.UserID
	Remove []foodpoll.UserID
}

// UpdateInvites applies an invite-set change. Only the host may mutate the
// set, and only while the poll is open.
func (s *Session) UpdateInvites(ctx context.Context, callerID foodpoll.UserID, update InviteUpdate) (foodpoll.Poll, error) {
	poll, ok := s.ledger.Poll(s.pollID)
	if !ok {
		return foodpoll.Poll{}, foodpoll.ErrPollNotFound
	}
	if poll.HostID != callerID {
		return foodpoll.Poll{}, foodpoll.ErrInvalidState
	}
	for _, voterID := range update.Add {
		if err := poll.Invite(voterID); err != nil {
			return foodpoll.Poll{}, err
		}
	}
	for _, voterID := range update.Remove {
		if err := poll.Uninvite(voterID); err != nil {
			return foodpoll.Poll{}, err
		}
	}
	s.ledger.ApplyPoll(poll)
	if err := s.gateway.Publish(ctx, poll); err != nil {
		return foodpoll.Poll{}, err
	}
	return poll, nil
}

// SettingsUpdate carries optional post-commit settings edits. The location
// specifier is deliberately absent: it freezes at commit.
type SettingsUpdate struct {
	Title       *string
	Description *string
	OpenNow     *bool
	Price       *foodpoll.PriceLevel
}

// UpdateSettings applies host edits to the mutable settings.
func (s *Session) UpdateSettings(ctx context.Context, callerID foodpoll.UserID, update SettingsUpdate) (foodpoll.Poll, error) {
	poll, ok := s.ledger.Poll(s.pollID)
	if !ok {
		return foodpoll.Poll{}, foodpoll.ErrPollNotFound
	}
	if poll.HostID != callerID {
		return foodpoll.Poll{}, foodpoll.ErrInvalidState
	}
	if update.Title != nil {
		if err := poll.SetTitle(*update.Title); err != nil {
			return foodpoll.Poll{}, err
		}
	}
	if update.Description != nil {
		if err := poll.SetDescription(*update.Description); err != nil {
			return foodpoll.Poll{}, err
		}
	}
	if update.OpenNow != nil {
		if err := poll.SetOpenNow(*update.OpenNow); err != nil {
			return foodpoll.Poll{}, err
		}
	}
	if update.Price != nil {
		if err := poll.SetPrice(*update.Price); err != nil {
			return foodpoll.Poll{}, err
		}
	}
	s.ledger.ApplyPoll(poll)
	if err := s.gateway.Publish(ctx, poll); err != nil {
		return foodpoll.Poll{}, err
	}
	return poll, nil
}

// Cancel tears the session down; in-flight deliveries are discarded.
func (s *Session) Cancel() {
	s.mu.Lock()
	s.cancelled = true
	subscription := s.subscription
	s.mu.Unlock()
	if subscription != nil {
		subscription.Cancel()
	}
}
