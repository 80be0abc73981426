package bus

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EndOfConversation is the termination sentinel pushed on Outbound after the
// last envelope of a session. It is not JSON, so it can never collide with
// a serialized envelope.
const EndOfConversation = "END_OF_CONVERSATION"

// DefaultSessionKey is used when a client does not name its session.
const DefaultSessionKey = "default"

var (
	// ErrSessionActive is returned by Open while the key's session is running.
	ErrSessionActive = errors.New("bus: session already running")
	// ErrAlreadyAttached is returned by Attach when a relay already owns the pair.
	ErrAlreadyAttached = errors.New("bus: session already attached")
)

// Pair is the inbound/outbound queue pair of one interactive session.
type Pair struct {
	Key       string
	ID        string // unique per run, survives key reuse
	Inbound   *Queue // client → session
	Outbound  *Queue // session → client
	CreatedAt time.Time

	mu         sync.Mutex
	attached   bool
	finished   bool
	finishedAt time.Time
	notice     string // disconnect notice pushed while detached, if any
}

func newPair(key string) *Pair {
	return &Pair{
		Key:       key,
		ID:        uuid.NewString(),
		Inbound:   NewQueue(),
		Outbound:  NewQueue(),
		CreatedAt: time.Now(),
	}
}

// Attach marks the pair as owned by a relay connection. A disconnect
// notice from an earlier connection that the session has not consumed yet
// is withdrawn, so the reconnected client's next reply is the one read.
func (p *Pair) Attach() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.attached {
		return ErrAlreadyAttached
	}
	p.attached = true
	if p.notice != "" {
		p.Inbound.removeLast(p.notice)
		p.notice = ""
	}
	return nil
}

// NotifyDisconnect pushes notice on Inbound so a session waiting for
// human input wakes up. The notice stays withdrawable until the next
// Attach.
func (p *Pair) NotifyDisconnect(notice string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.Inbound.Put(notice); err != nil {
		return err
	}
	p.notice = notice
	return nil
}

// Detach releases relay ownership so a reconnecting client can attach.
func (p *Pair) Detach() {
	p.mu.Lock()
	p.attached = false
	p.mu.Unlock()
}

// Attached reports whether a relay currently owns the pair.
func (p *Pair) Attached() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attached
}

// MarkFinished records that the session has pushed its sentinel.
func (p *Pair) MarkFinished() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.finished {
		p.finished = true
		p.finishedAt = time.Now()
	}
}

// Finished reports whether the session has completed.
func (p *Pair) Finished() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.finished
}

// Close closes both queues.
func (p *Pair) Close() {
	p.Inbound.Close()
	p.Outbound.Close()
}

// SessionInfo is a status snapshot of one pair.
type SessionInfo struct {
	Key       string    `json:"key"`
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	Attached  bool      `json:"attached"`
	Finished  bool      `json:"finished"`
	Inbound   int       `json:"inbound"`
	Outbound  int       `json:"outbound"`
}

// Hub keys channel pairs by session.
type Hub struct {
	mu    sync.RWMutex
	pairs map[string]*Pair

	retention       time.Duration
	maxAge          time.Duration
	cleanupInterval time.Duration
	logger          *zap.Logger
	stopCh          chan struct{}
	stopOnce        sync.Once
}

// HubConfig configures a Hub.
type HubConfig struct {
	// Retention is how long a finished pair waits for a client to drain it
	// (default 15m).
	Retention time.Duration
	// MaxAge releases pairs whose session is still running after this long.
	// Zero disables the limit.
	MaxAge time.Duration
	// CleanupInterval between janitor sweeps (default 1m).
	CleanupInterval time.Duration
	Logger          *zap.Logger
}

// NewHub creates a hub and starts its janitor.
func NewHub(cfg HubConfig) *Hub {
	if cfg.Retention == 0 {
		cfg.Retention = 15 * time.Minute
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	h := &Hub{
		pairs:           make(map[string]*Pair),
		retention:       cfg.Retention,
		maxAge:          cfg.MaxAge,
		cleanupInterval: cfg.CleanupInterval,
		logger:          cfg.Logger,
		stopCh:          make(chan struct{}),
	}
	go h.periodicCleanup()
	return h
}

// Open creates the pair for key. A finished pair nobody drained is
// replaced; a running one is refused with ErrSessionActive.
func (h *Hub) Open(key string) (*Pair, error) {
	if key == "" {
		key = DefaultSessionKey
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if old, ok := h.pairs[key]; ok {
		if !old.Finished() {
			return nil, ErrSessionActive
		}
		old.Close()
		h.logger.Info("replacing undrained session", zap.String("session", key), zap.String("run", old.ID))
	}

	p := newPair(key)
	h.pairs[key] = p
	h.logger.Info("session opened", zap.String("session", key), zap.String("run", p.ID))
	return p, nil
}

// Get returns the current pair for key.
func (h *Hub) Get(key string) (*Pair, bool) {
	if key == "" {
		key = DefaultSessionKey
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	p, ok := h.pairs[key]
	return p, ok
}

// Release removes p from the hub if it is still the current pair for its
// key, and closes its queues.
func (h *Hub) Release(p *Pair) {
	h.mu.Lock()
	if cur, ok := h.pairs[p.Key]; ok && cur == p {
		delete(h.pairs, p.Key)
	}
	h.mu.Unlock()
	p.Close()
	h.logger.Info("session released", zap.String("session", p.Key), zap.String("run", p.ID))
}

// Len returns the number of pairs held.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.pairs)
}

// Sessions returns a snapshot of all pairs.
func (h *Hub) Sessions() []SessionInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]SessionInfo, 0, len(h.pairs))
	for _, p := range h.pairs {
		out = append(out, SessionInfo{
			Key:       p.Key,
			ID:        p.ID,
			CreatedAt: p.CreatedAt,
			Attached:  p.Attached(),
			Finished:  p.Finished(),
			Inbound:   p.Inbound.Len(),
			Outbound:  p.Outbound.Len(),
		})
	}
	return out
}

// Stop halts the janitor and closes every pair.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
	h.mu.Lock()
	defer h.mu.Unlock()
	for key, p := range h.pairs {
		p.Close()
		delete(h.pairs, key)
	}
}

func (h *Hub) periodicCleanup() {
	ticker := time.NewTicker(h.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			h.cleanup(now)
		case <-h.stopCh:
			return
		}
	}
}

// cleanup releases finished pairs past retention and running pairs past maxAge.
func (h *Hub) cleanup(now time.Time) {
	h.mu.Lock()
	var stale []*Pair
	for key, p := range h.pairs {
		p.mu.Lock()
		expired := p.finished && !p.attached && now.Sub(p.finishedAt) > h.retention
		if !p.finished && h.maxAge > 0 && now.Sub(p.CreatedAt) > h.maxAge {
			expired = true
		}
		p.mu.Unlock()
		if expired {
			delete(h.pairs, key)
			stale = append(stale, p)
		}
	}
	h.mu.Unlock()

	for _, p := range stale {
		p.Close()
		h.logger.Info("session expired", zap.String("session", p.Key), zap.String("run", p.ID))
	}
}
