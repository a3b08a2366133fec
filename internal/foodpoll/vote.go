package foodpoll

// Vote is one voter's current choice within a poll. At most one live vote
// exists per (poll, voter) pair; a newer vote from the same voter replaces
// the prior one by last-write-wins on the cast timestamp.
type Vote struct {
	PollID      PollID      `json:"poll_id"`
	VoterID     UserID      `json:"voter_id"`
	CandidateID CandidateID `json:"candidate_id"`
	CastAtMs    int64       `json:"cast_at_ms"`
}
