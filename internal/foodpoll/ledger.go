package foodpoll

import (
	"sync"
	"time"
)

// Ledger is a participant's local view of polls and their live votes. It is
// fed by sync gateway events and by the participant's own mutations, and
// resolves conflicting writes to the same (poll, voter) pair by
// last-write-wins on the cast timestamp. Equal timestamps accept the
// incoming write, matching the shared store's replacement semantics.
type Ledger struct {
	mu          sync.RWMutex
	clock       func() time.Time
	polls       map[PollID]Poll
	votes       map[PollID]map[UserID]Vote
	firstVoteAt map[PollID]map[CandidateID]int64
}

// NewLedger constructs an empty ledger. A nil clock defaults to time.Now.
func NewLedger(clock func() time.Time) *Ledger {
	if clock == nil {
		clock = time.Now
	}
	return &Ledger{
		clock:       clock,
		polls:       make(map[PollID]Poll),
		votes:       make(map[PollID]map[UserID]Vote),
		firstVoteAt: make(map[PollID]map[CandidateID]int64),
	}
}

// ApplyPoll merges a poll document into the local view. Duplicate delivery
// of the same poll state is harmless; the document is a whole replacement.
func (l *Ledger) ApplyPoll(poll Poll) {
	if poll.ID == "" {
		return
	}
	l.mu.Lock()
	l.polls[poll.ID] = poll.Clone()
	l.mu.Unlock()
}

// ApplyVote merges a vote into the local view and reports whether it was
// accepted. A vote older than the live vote for the same (poll, voter)
// pair is discarded. The first-vote timestamp per candidate is recorded
// even for votes that are later superseded, since tally tie-breaking keys
// on the earliest vote ever cast for a candidate.
func (l *Ledger) ApplyVote(vote Vote) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.applyVoteLocked(vote)
}

func (l *Ledger) applyVoteLocked(vote Vote) bool {
	if vote.PollID == "" || vote.VoterID == "" {
		return false
	}

	firstSeen, ok := l.firstVoteAt[vote.PollID]
	if !ok {
		firstSeen = make(map[CandidateID]int64)
		l.firstVoteAt[vote.PollID] = firstSeen
	}
	if existing, ok := firstSeen[vote.CandidateID]; !ok || vote.CastAtMs < existing {
		firstSeen[vote.CandidateID] = vote.CastAtMs
	}

	pollVotes, ok := l.votes[vote.PollID]
	if !ok {
		pollVotes = make(map[UserID]Vote)
		l.votes[vote.PollID] = pollVotes
	}
	if existing, ok := pollVotes[vote.VoterID]; ok && vote.CastAtMs < existing.CastAtMs {
		return false
	}
	pollVotes[vote.VoterID] = vote
	return true
}

// CastVote validates the casting preconditions against the local view,
// stamps the vote with the ledger clock and applies it. The returned vote
// is ready to be published through the sync gateway. The ledger is left
// untouched when any precondition fails.
func (l *Ledger) CastVote(pollID PollID, voterID UserID, candidateID CandidateID) (Vote, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	poll, ok := l.polls[pollID]
	if !ok {
		return Vote{}, ErrPollNotFound
	}
	if poll.Closed() {
		return Vote{}, ErrPollClosed
	}
	if !poll.IsInvited(voterID) {
		return Vote{}, ErrNotInvited
	}

	vote := Vote{
		PollID:      pollID,
		VoterID:     voterID,
		CandidateID: candidateID,
		CastAtMs:    l.clock().UnixMilli(),
	}
	l.applyVoteLocked(vote)
	return vote, nil
}

// Poll returns a copy of the local poll document.
func (l *Ledger) Poll(pollID PollID) (Poll, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	poll, ok := l.polls[pollID]
	if !ok {
		return Poll{}, false
	}
	return poll.Clone(), true
}

// Votes returns a snapshot of the live votes for a poll, one per voter.
func (l *Ledger) Votes(pollID PollID) []Vote {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pollVotes := l.votes[pollID]
	snapshot := make([]Vote, 0, len(pollVotes))
	for _, vote := range pollVotes {
		snapshot = append(snapshot, vote)
	}
	return snapshot
}
