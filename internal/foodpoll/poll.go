package foodpoll

import (
	"sort"
	"time"
)

// State is the poll lifecycle state.
type State string

const (
	// StateDraft is a poll being edited by its host, not yet visible to voters.
	StateDraft State = "draft"
	// StateCommitted is a poll with an assigned id, published to invited voters.
	StateCommitted State = "committed"
	// StateClosed is a poll that no longer accepts votes. Terminal.
	StateClosed State = "closed"
)

// Poll is the aggregate root of a voting session: settings, host, invited
// voters and lifecycle state. A draft has no id; the id is assigned at
// commit time and is immutable afterwards.
type Poll struct {
	ID          PollID      `json:"id,omitempty"`
	HostID      UserID      `json:"host_id"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Price       PriceLevel  `json:"price"`
	OpenNow     bool        `json:"open_now"`
	Coordinate  *Coordinate `json:"coordinate,omitempty"`
	ZipCode     string      `json:"zip_code,omitempty"`
	VoterIDs    []UserID    `json:"voter_ids"`
	CreatedAtS  int64       `json:"created_at_s"`
	State       State       `json:"state"`
}

// NewDraft returns a fresh draft poll owned by the given host.
func NewDraft(hostID UserID) *Poll {
	return &Poll{
		HostID:   hostID,
		Price:    PriceAny,
		VoterIDs: []UserID{},
		State:    StateDraft,
	}
}

// SetTitle updates the poll title. Host-editable until the poll closes.
func (p *Poll) SetTitle(title string) error {
	if p.State == StateClosed {
		return ErrInvalidState
	}
	p.Title = title
	return nil
}

// SetDescription updates the poll description.
func (p *Poll) SetDescription(description string) error {
	if p.State == StateClosed {
		return ErrInvalidState
	}
	p.Description = description
	return nil
}

// SetPrice updates the price filter.
func (p *Poll) SetPrice(price PriceLevel) error {
	if p.State == StateClosed {
		return ErrInvalidState
	}
	if price < PriceAny || price > PriceLuxury {
		return ErrInvalidPriceLevel
	}
	p.Price = price
	return nil
}

// SetOpenNow updates the open-now flag.
func (p *Poll) SetOpenNow(openNow bool) error {
	if p.State == StateClosed {
		return ErrInvalidState
	}
	p.OpenNow = openNow
	return nil
}

// SetCoordinate attaches a geographic coordinate and clears any zip code.
// The location specifier is frozen once the poll is committed.
func (p *Poll) SetCoordinate(coordinate Coordinate) error {
	if p.State != StateDraft {
		return ErrInvalidState
	}
	copyOf := coordinate
	p.Coordinate = &copyOf
	p.ZipCode = ""
	return nil
}

// SetZipCode attaches a zip code and clears any coordinate. The location
// specifier is frozen once the poll is committed.
func (p *Poll) SetZipCode(zipCode string) error {
	if p.State != StateDraft {
		return ErrInvalidState
	}
	p.ZipCode = zipCode
	p.Coordinate = nil
	return nil
}

// ClearLocation removes both location specifiers on a draft.
func (p *Poll) ClearLocation() error {
	if p.State != StateDraft {
		return ErrInvalidState
	}
	p.Coordinate = nil
	p.ZipCode = ""
	return nil
}

// Invite adds a voter to the invited set. The set is unique and unordered;
// inviting the host is a no-op since the host is implicitly invited.
func (p *Poll) Invite(voterID UserID) error {
	if p.State == StateClosed {
		return ErrInvalidState
	}
	if voterID == p.HostID {
		return nil
	}
	for _, existing := range p.VoterIDs {
		if existing == voterID {
			return nil
		}
	}
	p.VoterIDs = append(p.VoterIDs, voterID)
	sort.Slice(p.VoterIDs, func(i, j int) bool { return p.VoterIDs[i] < p.VoterIDs[j] })
	return nil
}

// Uninvite removes a voter from the invited set.
func (p *Poll) Uninvite(voterID UserID) error {
	if p.State == StateClosed {
		return ErrInvalidState
	}
	for index, existing := range p.VoterIDs {
		if existing == voterID {
			p.VoterIDs = append(p.VoterIDs[:index], p.VoterIDs[index+1:]...)
			return nil
		}
	}
	return nil
}

// IsInvited reports whether the user may vote on this poll. The host counts
// as invited without appearing in the voter set.
func (p *Poll) IsInvited(userID UserID) bool {
	if userID == p.HostID {
		return true
	}
	for _, voterID := range p.VoterIDs {
		if voterID == userID {
			return true
		}
	}
	return false
}

// Commit assigns the poll its identifier and moves it to the committed
// state, after which it is published and visible to invited voters. It
// fails with a ValidationError naming the missing field when the location
// specifier is unset or nobody besides the host is invited.
func (p *Poll) Commit(id PollID, now time.Time) error {
	if p.State != StateDraft {
		return ErrInvalidState
	}
	if p.Coordinate == nil && p.ZipCode == "" {
		return &ValidationError{Field: "location"}
	}
	if len(p.VoterIDs) == 0 {
		return &ValidationError{Field: "invited voters"}
	}
	p.ID = id
	p.CreatedAtS = now.Unix()
	p.State = StateCommitted
	return nil
}

// Close moves the poll to its terminal state. Closing an already closed
// poll is a no-op so duplicate delivery of the close mutation is harmless.
func (p *Poll) Close() error {
	switch p.State {
	case StateDraft:
		return ErrInvalidState
	case StateClosed:
		return nil
	}
	p.State = StateClosed
	return nil
}

// Closed reports whether the poll reached its terminal state.
func (p *Poll) Closed() bool {
	return p.State == StateClosed
}

// Clone returns a deep copy so local views can hand out polls without
// sharing mutable slices.
func (p *Poll) Clone() Poll {
	clone := *p
	if p.Coordinate != nil {
		coordinate := *p.Coordinate
		clone.Coordinate = &coordinate
	}
	clone.VoterIDs = append([]UserID(nil), p.VoterIDs...)
	return clone
}
