package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/foodvoter/backend/internal/foodpoll"
	"github.com/MarcoPoloResearchLab/foodvoter/backend/internal/syncgw"
	"go.uber.org/zap"
)

const defaultKnownTimeout = 2 * time.Second

var (
	errMissingGateway    = errors.New("session: sync gateway is required")
	errMissingIDProvider = errors.New("session: id provider is required")
)

// Draft is the host's poll configuration before commit.
type Draft struct {
	Title       string
	Description string
	Price       foodpoll.PriceLevel
	OpenNow     bool
	Coordinate  *foodpoll.Coordinate
	ZipCode     string
	VoterIDs    []foodpoll.UserID
}

// ManagerConfig describes the manager's dependencies.
type ManagerConfig struct {
	Gateway    *syncgw.Gateway
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Manager owns one session per poll this process participates in.
// Sessions are opened lazily: a request touching a poll this process has
// not seen re-derives the local view from the gateway's snapshot phase.
type Manager struct {
	gateway    *syncgw.Gateway
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger

	mu       sync.Mutex
	sessions map[foodpoll.PollID]*Session
}

// NewManager constructs the session manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Gateway == nil {
		return nil, errMissingGateway
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		gateway:    cfg.Gateway,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
		sessions:   make(map[foodpoll.PollID]*Session),
	}, nil
}

// CreatePoll builds a draft from the host's configuration, commits it with
// a freshly assigned id and publishes it to invited voters. The draft is
// edited locally and stays invisible to other participants until the
// commit succeeds.
func (m *Manager) CreatePoll(ctx context.Context, hostID foodpoll.UserID, draft Draft) (foodpoll.Poll, error) {
	poll := foodpoll.NewDraft(hostID)
	if err := poll.SetTitle(draft.Title); err != nil {
		return foodpoll.Poll{}, err
	}
	if err := poll.SetDescription(draft.Description); err != nil {
		return foodpoll.Poll{}, err
	}
	if err := poll.SetPrice(draft.Price); err != nil {
		return foodpoll.Poll{}, err
	}
	if err := poll.SetOpenNow(draft.OpenNow); err != nil {
		return foodpoll.Poll{}, err
	}
	if draft.Coordinate != nil {
		if err := poll.SetCoordinate(*draft.Coordinate); err != nil {
			return foodpoll.Poll{}, err
		}
	} else if draft.ZipCode != "" {
		if err := poll.SetZipCode(draft.ZipCode); err != nil {
			return foodpoll.Poll{}, err
		}
	}
	for _, voterID := range draft.VoterIDs {
		if err := poll.Invite(voterID); err != nil {
			return foodpoll.Poll{}, err
		}
	}

	rawID, err := m.idProvider.NewID()
	if err != nil {
		return foodpoll.Poll{}, fmt.Errorf("session: assign poll id: %w", err)
	}
	pollID, err := foodpoll.NewPollID(rawID)
	if err != nil {
		return foodpoll.Poll{}, err
	}
	if err := poll.Commit(pollID, m.clock()); err != nil {
		return foodpoll.Poll{}, err
	}
	if err := m.gateway.Publish(ctx, *poll); err != nil {
		return foodpoll.Poll{}, err
	}

	m.logger.Info("poll committed",
		zap.String("poll_id", pollID.String()),
		zap.String("host_id", hostID.String()),
		zap.Int("invited_voters", len(poll.VoterIDs)))

	pollSession, err := m.ensure(ctx, pollID)
	if err != nil {
		return foodpoll.Poll{}, err
	}
	// Seed the local view so the host can act before the snapshot lands.
	pollSession.ledger.ApplyPoll(*poll)
	pollSession.markReady()

	return poll.Clone(), nil
}

// Open attaches this process to an existing poll and waits for its
// document to arrive. Unknown ids fail with the poll-not-found error.
func (m *Manager) Open(ctx context.Context, pollID foodpoll.PollID) (*Session, error) {
	pollSession, err := m.ensure(ctx, pollID)
	if err != nil {
		return nil, err
	}
	if !pollSession.waitKnown(ctx, defaultKnownTimeout) {
		return nil, foodpoll.ErrPollNotFound
	}
	return pollSession, nil
}

func (m *Manager) ensure(ctx context.Context, pollID foodpoll.PollID) (*Session, error) {
	m.mu.Lock()
	if existing, ok := m.sessions[pollID]; ok {
		m.mu.Unlock()
		return existing, nil
	}
	pollSession := newSession(pollID, m.gateway, m.clock, m.logger)
	m.sessions[pollID] = pollSession
	m.mu.Unlock()

	// Subscriptions outlive the request that opened them.
	if err := pollSession.open(context.WithoutCancel(ctx)); err != nil {
		m.mu.Lock()
		delete(m.sessions, pollID)
		m.mu.Unlock()
		return nil, err
	}
	return pollSession, nil
}

// Shutdown cancels every open session.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, pollSession := range m.sessions {
		sessions = append(sessions, pollSession)
	}
	m.sessions = make(map[foodpoll.PollID]*Session)
	m.mu.Unlock()

	for _, pollSession := range sessions {
		pollSession.Cancel()
	}
}
