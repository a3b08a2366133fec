package syncgw

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultHeartbeatTTL = 30 * time.Second
	minSweepInterval    = time.Second
)

// PresenceConfig describes the presence channel's policy knobs.
type PresenceConfig struct {
	// HeartbeatTTL is how long a user stays online without a beat.
	HeartbeatTTL time.Duration
	Clock        func() time.Time
	Logger       *zap.Logger
	// OnChange is invoked outside the tracker lock on every online/offline
	// transition. It is the only sanctioned mutator of user presence flags.
	OnChange func(userID string, online bool)
}

// Presence is the gateway's presence sub-channel: a boolean online flag per
// connected user, flipped to offline automatically when heartbeats stop for
// longer than the TTL.
type Presence struct {
	ttl      time.Duration
	clock    func() time.Time
	logger   *zap.Logger
	onChange func(userID string, online bool)

	mu    sync.Mutex
	beats map[string]time.Time
}

// NewPresence constructs the presence tracker.
func NewPresence(cfg PresenceConfig) *Presence {
	ttl := cfg.HeartbeatTTL
	if ttl <= 0 {
		ttl = defaultHeartbeatTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Presence{
		ttl:      ttl,
		clock:    clock,
		logger:   logger,
		onChange: cfg.OnChange,
		beats:    make(map[string]time.Time),
	}
}

// Heartbeat records activity for the user, transitioning them online if
// they were not already.
func (p *Presence) Heartbeat(userID string) {
	if userID == "" {
		return
	}
	p.mu.Lock()
	_, wasOnline := p.beats[userID]
	p.beats[userID] = p.clock()
	p.mu.Unlock()

	if !wasOnline {
		p.notify(userID, true)
	}
}

// Disconnect transitions the user offline immediately, ahead of the TTL.
func (p *Presence) Disconnect(userID string) {
	p.mu.Lock()
	_, wasOnline := p.beats[userID]
	delete(p.beats, userID)
	p.mu.Unlock()

	if wasOnline {
		p.notify(userID, false)
	}
}

// Online reports the user's current presence flag.
func (p *Presence) Online(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, online := p.beats[userID]
	return online
}

// Snapshot returns the set of currently online user ids.
func (p *Presence) Snapshot() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	online := make([]string, 0, len(p.beats))
	for userID := range p.beats {
		online = append(online, userID)
	}
	return online
}

// Run sweeps expired heartbeats until the context ends.
func (p *Presence) Run(ctx context.Context) {
	interval := p.ttl / 2
	if interval < minSweepInterval {
		interval = minSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.logger.Info("presence sweeper started", zap.Duration("heartbeat_ttl", p.ttl))
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("presence sweeper stopped")
			return
		case <-ticker.C:
			p.sweep(p.clock())
		}
	}
}

func (p *Presence) sweep(now time.Time) {
	var expired []string
	p.mu.Lock()
	for userID, lastBeat := range p.beats {
		if now.Sub(lastBeat) > p.ttl {
			delete(p.beats, userID)
			expired = append(expired, userID)
		}
	}
	p.mu.Unlock()

	for _, userID := range expired {
		p.logger.Debug("heartbeat expired", zap.String("user_id", userID))
		p.notify(userID, false)
	}
}

func (p *Presence) notify(userID string, online bool) {
	if p.onChange != nil {
		p.onChange(userID, online)
	}
}
