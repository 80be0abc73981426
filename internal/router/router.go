// Package router decides whether a query is answered from the knowledge
// base or escalated to an interactive multi-agent session.
//
// Every query runs the same linear pipeline: fetch the baseline answer,
// classify, format. The baseline is always fetched, even when the query
// ends up escalated.
package router

import (
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dayuer/askrelay/internal/logging"
	"github.com/dayuer/askrelay/internal/rag"
	"github.com/dayuer/askrelay/internal/redis"
	"github.com/dayuer/askrelay/internal/roster"
)

// Decision is the routing outcome.
type Decision string

const (
	DecisionInteractive Decision = "invoke_interactive"
	DecisionBaseline    Decision = "baseline_sufficient"
)

// Valid reports whether d is one of the two routing labels.
func (d Decision) Valid() bool {
	return d == DecisionInteractive || d == DecisionBaseline
}

// ErrNoDecision is returned when the classifier produced no usable label.
var ErrNoDecision = errors.New("router: classifier returned no usable decision")

// SessionStartType is the payload type that tells a client to open the
// duplex session channel.
const SessionStartType = "interactive_session_start"

// SessionStart is the escalation payload. It carries nothing but its type.
type SessionStart struct {
	Type string `json:"type"`
}

// Answerer produces the baseline answer. *rag.Answerer implements it.
type Answerer interface {
	Answer(ctx context.Context, query, lang string) (rag.Answer, error)
}

// Classifier labels a routing prompt.
type Classifier interface {
	Classify(ctx context.Context, prompt string) (Decision, error)
}

// Request is one routing request.
type Request struct {
	Query  string
	Lang   string
	Roster roster.Roster
}

// Result is the routing outcome. Payload is what the client receives:
// a SessionStart on escalation, otherwise the baseline answer unchanged.
type Result struct {
	Decision Decision
	Baseline rag.Answer
	Payload  any
	Cached   bool
}

// Escalated reports whether an interactive session should be launched.
func (r *Result) Escalated() bool { return r.Decision == DecisionInteractive }

// Config configures a Router.
type Config struct {
	Answerer   Answerer
	Classifier Classifier
	CacheTTL   time.Duration // 0 means DefaultCacheTTL, negative disables caching
	Logger     *zap.Logger
}

const (
	DefaultCacheTTL = 5 * time.Minute
	cacheMax        = 256
)

// Router runs the baseline → classify → format pipeline.
type Router struct {
	answerer   Answerer
	classifier Classifier
	ttl        time.Duration
	log        *zap.Logger

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	decision Decision
	ts       time.Time
}

// sharedDecision is the Redis form of a cached decision.
type sharedDecision struct {
	Decision  Decision  `json:"decision"`
	DecidedAt time.Time `json:"decidedAt"`
}

// New creates a Router.
func New(cfg Config) *Router {
	ttl := cfg.CacheTTL
	if ttl == 0 {
		ttl = DefaultCacheTTL
	}
	return &Router{
		answerer:   cfg.Answerer,
		classifier: cfg.Classifier,
		ttl:        ttl,
		log:        logging.OrNop(cfg.Logger),
		cache:      make(map[string]cacheEntry, cacheMax),
	}
}

type state struct {
	req      Request
	baseline rag.Answer
	decision Decision
	cached   bool
	payload  any
}

type step func(ctx context.Context, st *state) error

// Route runs the pipeline. Any step failure aborts the request and no
// session must be started.
func (r *Router) Route(ctx context.Context, req Request) (*Result, error) {
	if req.Lang == "" {
		req.Lang = "en"
	}
	st := &state{req: req}
	for _, s := range []step{r.fetchBaseline, r.classify, r.format} {
		if err := s(ctx, st); err != nil {
			return nil, err
		}
	}
	return &Result{
		Decision: st.decision,
		Baseline: st.baseline,
		Payload:  st.payload,
		Cached:   st.cached,
	}, nil
}

func (r *Router) fetchBaseline(ctx context.Context, st *state) error {
	ans, err := r.answerer.Answer(ctx, st.req.Query, st.req.Lang)
	if err != nil {
		return fmt.Errorf("baseline answer: %w", err)
	}
	st.baseline = ans
	return nil
}

func (r *Router) classify(ctx context.Context, st *state) error {
	if len(st.req.Roster.Assistants) == 0 {
		st.decision = DecisionBaseline
		return nil
	}

	key := contentHash(st.req.Query)
	if d, ok := r.lookup(ctx, key); ok {
		st.decision, st.cached = d, true
		r.log.Debug("decision cache hit", zap.String("decision", string(d)))
		return nil
	}

	d, err := r.classifier.Classify(ctx, BuildPrompt(st.req.Query))
	if err != nil {
		return fmt.Errorf("classify: %w", err)
	}
	if !d.Valid() {
		return fmt.Errorf("classify: %w: %q", ErrNoDecision, d)
	}
	r.store(ctx, key, d)
	st.decision = d
	r.log.Info("routing decision", zap.String("decision", string(d)))
	return nil
}

func (r *Router) format(_ context.Context, st *state) error {
	if st.decision == DecisionInteractive {
		st.payload = SessionStart{Type: SessionStartType}
		return nil
	}
	st.payload = st.baseline
	return nil
}

// lookup checks the in-process cache, then Redis.
func (r *Router) lookup(ctx context.Context, key string) (Decision, bool) {
	if r.ttl < 0 {
		return "", false
	}
	r.mu.RLock()
	entry, ok := r.cache[key]
	r.mu.RUnlock()
	if ok && time.Since(entry.ts) < r.ttl {
		return entry.decision, true
	}

	var shared sharedDecision
	if redis.CacheGetJSON(ctx, redis.RouteKey(key), &shared) && shared.Decision.Valid() {
		r.remember(key, shared.Decision)
		return shared.Decision, true
	}
	return "", false
}

func (r *Router) store(ctx context.Context, key string, d Decision) {
	if r.ttl < 0 {
		return
	}
	r.remember(key, d)
	redis.CacheSetJSON(ctx, redis.RouteKey(key), sharedDecision{Decision: d, DecidedAt: time.Now()}, r.ttl)
}

func (r *Router) remember(key string, d Decision) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.cache[key]; !exists && len(r.cache) >= cacheMax {
		var oldestKey string
		var oldestTime time.Time
		for k, v := range r.cache {
			if oldestKey == "" || v.ts.Before(oldestTime) {
				oldestKey = k
				oldestTime = v.ts
			}
		}
		delete(r.cache, oldestKey)
	}
	r.cache[key] = cacheEntry{decision: d, ts: time.Now()}
}

// contentHash returns a short hash of the normalized query for caching.
func contentHash(content string) string {
	text := strings.Join(strings.Fields(strings.ToLower(content)), " ")
	h := md5.Sum([]byte(text))
	return fmt.Sprintf("%x", h[:8])
}
