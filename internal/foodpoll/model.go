package foodpoll

import (
	"errors"
	"fmt"
	"strings"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidPollID indicates a poll identifier that is empty, oversized
	// or unusable as a store path segment.
	ErrInvalidPollID = errors.New("foodpoll: invalid poll id")
	// ErrInvalidUserID indicates a user identifier that is empty, oversized
	// or unusable as a store path segment.
	ErrInvalidUserID = errors.New("foodpoll: invalid user id")
	// ErrInvalidCandidateID indicates that a business identifier is empty or exceeds storage bounds.
	ErrInvalidCandidateID = errors.New("foodpoll: invalid candidate id")
	// ErrInvalidPriceLevel indicates a price filter outside the any..$$$$ range.
	ErrInvalidPriceLevel = errors.New("foodpoll: invalid price level")
)

// PollID represents a validated poll identifier.
type PollID string

// NewPollID validates raw input and returns a PollID.
func NewPollID(rawInput string) (PollID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPollID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidPollID, maxIdentifierLength)
	}
	// Identifiers become store path segments; a separator would break the
	// polls/{pollId}/votes/{voterId} shape.
	if strings.ContainsRune(trimmed, '/') {
		return "", fmt.Errorf("%w: contains path separator", ErrInvalidPollID)
	}
	return PollID(trimmed), nil
}

// String returns the underlying string identifier.
func (id PollID) String() string {
	return string(id)
}

// UserID represents a validated user identifier issued by the identity provider.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	if strings.ContainsRune(trimmed, '/') {
		return "", fmt.Errorf("%w: contains path separator", ErrInvalidUserID)
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

// CandidateID represents a validated external business identifier.
type CandidateID string

// NewCandidateID validates raw input and returns a CandidateID.
func NewCandidateID(rawInput string) (CandidateID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidCandidateID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidCandidateID, maxIdentifierLength)
	}
	return CandidateID(trimmed), nil
}

// String returns the underlying string identifier.
func (id CandidateID) String() string {
	return string(id)
}

// Coordinate is a latitude/longitude pair in floating point degrees.
// Immutable once attached to a committed poll.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// PriceLevel is the price filter applied to candidate searches. Zero means
// no filter; 1 through 4 map to the provider's $ through $$$$ buckets.
type PriceLevel int

const (
	PriceAny PriceLevel = iota
	PriceCheap
	PriceModerate
	PriceExpensive
	PriceLuxury
)

// ParsePriceLevel converts the display form ("", "any", "$".."$$$$") used by
// clients into a PriceLevel.
func ParsePriceLevel(rawInput string) (PriceLevel, error) {
	switch strings.TrimSpace(rawInput) {
	case "", "any":
		return PriceAny, nil
	case "$":
		return PriceCheap, nil
	case "$$":
		return PriceModerate, nil
	case "$$$":
		return PriceExpensive, nil
	case "$$$$":
		return PriceLuxury, nil
	default:
		return PriceAny, fmt.Errorf("%w: %q", ErrInvalidPriceLevel, rawInput)
	}
}

// Display returns the dollar-sign form shown to users, or "any".
func (p PriceLevel) Display() string {
	switch p {
	case PriceCheap:
		return "$"
	case PriceModerate:
		return "$$"
	case PriceExpensive:
		return "$$$"
	case PriceLuxury:
		return "$$$$"
	default:
		return "any"
	}
}

// ProviderValue returns the integer form the search provider expects.
// Zero means the filter is omitted from the request.
func (p PriceLevel) ProviderValue() int {
	if p < PriceCheap || p > PriceLuxury {
		return 0
	}
	return int(p)
}
