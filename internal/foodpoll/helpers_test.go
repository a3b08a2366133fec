package foodpoll

import "testing"

func mustPollID(t *testing.T, value string) PollID {
	t.Helper()
	id, err := NewPollID(value)
	if err != nil {
		t.Fatalf("unexpected poll id error: %v", err)
	}
	return id
}

func mustUserID(t *testing.T, value string) UserID {
	t.Helper()
	id, err := NewUserID(value)
	if err != nil {
		t.Fatalf("unexpected user id error: %v", err)
	}
	return id
}

func mustCandidateID(t *testing.T, value string) CandidateID {
	t.Helper()
	id, err := NewCandidateID(value)
	if err != nil {
		t.Fatalf("unexpected candidate id error: %v", err)
	}
	return id
}
