package foodpoll

import "sort"

// TallyEntry is one candidate's aggregated vote count.
type TallyEntry struct {
	CandidateID   CandidateID `json:"candidate_id"`
	Votes         int         `json:"votes"`
	FirstVoteAtMs int64       `json:"first_vote_at_ms"`
}

// Tally is the derived ranking of candidates for a poll. It is recomputed
// from the full live vote set on every delta rather than maintained
// incrementally, because a vote delta can be a replacement that an
// add/subtract scheme would misaccount.
type Tally struct {
	PollID   PollID       `json:"poll_id"`
	Entries  []TallyEntry `json:"entries"`
	Complete bool         `json:"complete"`
}

// Tally folds the current live vote set for the poll into a ranked tally.
// Candidates rank by vote count descending; ties break by the earliest
// timestamp of the first vote ever cast for the candidate in this poll,
// then by candidate id for a fully deterministic order.
func (l *Ledger) Tally(pollID PollID) (Tally, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	poll, ok := l.polls[pollID]
	if !ok {
		return Tally{}, ErrPollNotFound
	}

	counts := make(map[CandidateID]int)
	for _, vote := range l.votes[pollID] {
		counts[vote.CandidateID]++
	}

	firstSeen := l.firstVoteAt[pollID]
	entries := make([]TallyEntry, 0, len(counts))
	for candidateID, count := range counts {
		entries = append(entries, TallyEntry{
			CandidateID:   candidateID,
			Votes:         count,
			FirstVoteAtMs: firstSeen[candidateID],
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Votes != entries[j].Votes {
			return entries[i].Votes > entries[j].Votes
		}
		if entries[i].FirstVoteAtMs != entries[j].FirstVoteAtMs {
			return entries[i].FirstVoteAtMs < entries[j].FirstVoteAtMs
		}
		return entries[i].CandidateID < entries[j].CandidateID
	})

	return Tally{
		PollID:   pollID,
		Entries:  entries,
		Complete: allVotersVoted(poll, l.votes[pollID]),
	}, nil
}

// allVotersVoted reports whether every invited voter has a live vote.
func allVotersVoted(poll Poll, votes map[UserID]Vote) bool {
	if len(poll.VoterIDs) == 0 {
		return false
	}
	for _, voterID := range poll.VoterIDs {
		if _, ok := votes[voterID]; !ok {
			return false
		}
	}
	return true
}
