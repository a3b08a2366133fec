package foodpoll

import (
	"errors"
	"testing"
	"time"
)

func TestCommitRequiresLocationSpecifier(t *testing.T) {
	poll := NewDraft(mustUserID(t, "host-1"))
	if err := poll.Invite(mustUserID(t, "voter-1")); err != nil {
		t.Fatalf("unexpected invite error: %v", err)
	}

	err := poll.Commit(mustPollID(t, "poll-1"), time.Unix(1700000000, 0))
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if validationErr.Field != "location" {
		t.Fatalf("expected missing location, got %q", validationErr.Field)
	}
	if poll.State != StateDraft {
		t.Fatalf("failed commit must leave the poll in draft, got %s", poll.State)
	}

	if err := poll.SetZipCode("90032"); err != nil {
		t.Fatalf("unexpected zip code error: %v", err)
	}
	if err := poll.Commit(mustPollID(t, "poll-1"), time.Unix(1700000000, 0)); err != nil {
		t.Fatalf("commit after setting zip code should succeed, got %v", err)
	}
	if poll.State != StateCommitted {
		t.Fatalf("expected committed state, got %s", poll.State)
	}
	if poll.ID != "poll-1" {
		t.Fatalf("expected id assignment at commit, got %q", poll.ID)
	}
	if poll.CreatedAtS != 1700000000 {
		t.Fatalf("unexpected creation timestamp %d", poll.CreatedAtS)
	}
}

func TestCommitRequiresInvitedVoter(t *testing.T) {
	poll := NewDraft(mustUserID(t, "host-1"))
	if err := poll.SetCoordinate(Coordinate{Latitude: 34.06, Longitude: -118.16}); err != nil {
		t.Fatalf("unexpected coordinate error: %v", err)
	}

	// Inviting the host does not count toward the guard.
	if err := poll.Invite(mustUserID(t, "host-1")); err != nil {
		t.Fatalf("unexpected invite error: %v", err)
	}

	err := poll.Commit(mustPollID(t, "poll-1"), time.Unix(1700000000, 0))
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if validationErr.Field != "invited voters" {
		t.Fatalf("expected missing invited voters, got %q", validationErr.Field)
	}
}

func TestLocationSpecifiersAreMutuallyExclusive(t *testing.T) {
	coordinate := Coordinate{Latitude: 34.06, Longitude: -118.16}

	tests := []struct {
		name       string
		mutate     func(t *testing.T, poll *Poll)
		wantCoord  bool
		wantZip    string
	}{
		{
			name: "zip-clears-coordinate",
			mutate: func(t *testing.T, poll *Poll) {
				if err := poll.SetCoordinate(coordinate); err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if err := poll.SetZipCode("90032"); err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
			},
			wantCoord: false,
			wantZip:   "90032",
		},
		{
			name: "coordinate-clears-zip",
			mutate: func(t *testing.T, poll *Poll) {
				if err := poll.SetZipCode("90032"); err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if err := poll.SetCoordinate(coordinate); err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
			},
			wantCoord: true,
			wantZip:   "",
		},
		{
			name: "clear-removes-both",
			mutate: func(t *testing.T, poll *Poll) {
				if err := poll.SetCoordinate(coordinate); err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if err := poll.ClearLocation(); err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
			},
			wantCoord: false,
			wantZip:   "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			poll := NewDraft(mustUserID(t, "host-1"))
			tt.mutate(t, poll)
			if (poll.Coordinate != nil) != tt.wantCoord {
				t.Fatalf("coordinate presence mismatch, want %v got %v", tt.wantCoord, poll.Coordinate != nil)
			}
			if poll.ZipCode != tt.wantZip {
				t.Fatalf("zip code mismatch, want %q got %q", tt.wantZip, poll.ZipCode)
			}
			if poll.Coordinate != nil && poll.ZipCode != "" {
				t.Fatalf("both location specifiers set at once")
			}
		})
	}
}

func TestLocationFrozenAfterCommit(t *testing.T) {
	poll := committedPoll(t)

	if err := poll.SetZipCode("91101"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected invalid state error, got %v", err)
	}
	if err := poll.SetCoordinate(Coordinate{Latitude: 1, Longitude: 2}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected invalid state error, got %v", err)
	}
	if poll.ZipCode != "90032" {
		t.Fatalf("location changed after commit: %q", poll.ZipCode)
	}

	// Non-location settings stay editable while the poll is open.
	if err := poll.SetTitle("dinner instead"); err != nil {
		t.Fatalf("unexpected title error: %v", err)
	}
	if err := poll.SetOpenNow(true); err != nil {
		t.Fatalf("unexpected open-now error: %v", err)
	}
}

func TestCloseIsTerminalAndIdempotent(t *testing.T) {
	draft := NewDraft(mustUserID(t, "host-1"))
	if err := draft.Close(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("closing a draft should fail, got %v", err)
	}

	poll := committedPoll(t)
	if err := poll.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}
	if !poll.Closed() {
		t.Fatalf("expected closed poll")
	}
	if err := poll.Close(); err != nil {
		t.Fatalf("duplicate close should be a no-op, got %v", err)
	}
	if err := poll.SetTitle("too late"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected invalid state error after close, got %v", err)
	}
	if err := poll.Invite(mustUserID(t, "voter-9")); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected invalid state error after close, got %v", err)
	}
}

func TestInviteSetIsUniqueAndHostImplicit(t *testing.T) {
	poll := NewDraft(mustUserID(t, "host-1"))
	for _, id := range []string{"voter-b", "voter-a", "voter-b", "host-1"} {
		if err := poll.Invite(mustUserID(t, id)); err != nil {
			t.Fatalf("unexpected invite error: %v", err)
		}
	}
	if len(poll.VoterIDs) != 2 {
		t.Fatalf("expected 2 unique invited voters, got %d", len(poll.VoterIDs))
	}
	if !poll.IsInvited(mustUserID(t, "host-1")) {
		t.Fatalf("host must count as invited")
	}
	if poll.IsInvited(mustUserID(t, "stranger")) {
		t.Fatalf("stranger must not count as invited")
	}
	if err := poll.Uninvite(mustUserID(t, "voter-a")); err != nil {
		t.Fatalf("unexpected uninvite error: %v", err)
	}
	if poll.IsInvited(mustUserID(t, "voter-a")) {
		t.Fatalf("uninvited voter still invited")
	}
}

func TestParsePriceLevelRoundTrip(t *testing.T) {
	tests := []struct {
		display  string
		level    PriceLevel
		provider int
	}{
		{display: "any", level: PriceAny, provider: 0},
		{display: "$", level: PriceCheap, provider: 1},
		{display: "$$", level: PriceModerate, provider: 2},
		{display: "$$$", level: PriceExpensive, provider: 3},
		{display: "$$$$", level: PriceLuxury, provider: 4},
	}
	for _, tt := range tests {
		t.Run(tt.display, func(t *testing.T) {
			level, err := ParsePriceLevel(tt.display)
			if err != nil {
				t.Fatalf("unexpected parse error: %v", err)
			}
			if level != tt.level {
				t.Fatalf("parse mismatch, want %d got %d", tt.level, level)
			}
			if level.Display() != tt.display {
				t.Fatalf("display mismatch, want %q got %q", tt.display, level.Display())
			}
			if level.ProviderValue() != tt.provider {
				t.Fatalf("provider value mismatch, want %d got %d", tt.provider, level.ProviderValue())
			}
		})
	}

	if _, err := ParsePriceLevel("$$$$$"); !errors.Is(err, ErrInvalidPriceLevel) {
		t.Fatalf("expected invalid price level error, got %v", err)
	}
}

func committedPoll(t *testing.T) *Poll {
	t.Helper()
	poll := NewDraft(mustUserID(t, "host-1"))
	if err := poll.SetTitle("lunch run"); err != nil {
		t.Fatalf("unexpected title error: %v", err)
	}
	if err := poll.SetZipCode("90032"); err != nil {
		t.Fatalf("unexpected zip code error: %v", err)
	}
	if err := poll.Invite(mustUserID(t, "voter-1")); err != nil {
		t.Fatalf("unexpected invite error: %v", err)
	}
	if err := poll.Commit(mustPollID(t, "poll-1"), time.Unix(1700000000, 0)); err != nil {
		t.Fatalf("unexpected commit error: %v", err)
	}
	return poll
}
