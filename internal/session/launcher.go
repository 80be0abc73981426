package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/dayuer/askrelay/internal/agent"
	"github.com/dayuer/askrelay/internal/bus"
	"github.com/dayuer/askrelay/internal/roster"
)

// NoResultText is the final answer when the conversation produced no text.
const NoResultText = "The conversation ended without a result."

// ErrShuttingDown is returned by Launch once Shutdown has begun.
var ErrShuttingDown = errors.New("session: launcher is shutting down")

// LaunchRequest describes one conversation. Roster is a snapshot owned by
// the session.
type LaunchRequest struct {
	Prompt            string
	SupervisorName    string
	SupervisorMessage string
	SupervisorModel   string
	Roster            roster.Roster
	MaxTurns          int
}

// LauncherConfig configures a Launcher.
type LauncherConfig struct {
	Executor          Executor
	Workers           int           // concurrent conversations, default 8
	HumanInputTimeout time.Duration // per reply, 0 = unbounded
	SessionTimeout    time.Duration // whole conversation, 0 = unbounded
	Transcripts       *TranscriptStore
	Logger            *zap.Logger
}

// Stats is a snapshot of launcher counters.
type Stats struct {
	Workers  int   `json:"workers"`
	Active   int64 `json:"active"`
	Launched int64 `json:"launched"`
	Failed   int64 `json:"failed"`
}

// Launcher runs conversations off the request goroutine on a bounded
// pool. Every launched session ends with exactly one final_answer envelope
// followed by the termination sentinel on its outbound queue.
type Launcher struct {
	cfg    LauncherConfig
	sem    *semaphore.Weighted
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex // guards closing and wg.Add against Shutdown
	closing bool

	active   atomic.Int64
	launched atomic.Int64
	failed   atomic.Int64
}

// NewLauncher creates a launcher.
func NewLauncher(cfg LauncherConfig) *Launcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Launcher{
		cfg:    cfg,
		sem:    semaphore.NewWeighted(int64(cfg.Workers)),
		logger: cfg.Logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Launch starts the conversation and returns immediately. When all
// workers are busy the session waits for one inside its own goroutine.
// After Shutdown has begun nothing is started and ErrShuttingDown is
// returned; the caller still owns the pair.
func (l *Launcher) Launch(pair *bus.Pair, req LaunchRequest) error {
	l.mu.Lock()
	if l.closing {
		l.mu.Unlock()
		return ErrShuttingDown
	}
	l.wg.Add(1)
	l.mu.Unlock()

	l.launched.Add(1)
	go l.run(pair, req)
	return nil
}

// Wait blocks until every launched session has finished.
func (l *Launcher) Wait() {
	l.wg.Wait()
}

// Shutdown stops accepting launches, waits for running sessions until
// ctx ends, then cancels the rest and waits for them to push their final
// answers.
func (l *Launcher) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	l.closing = true
	l.mu.Unlock()

	done := make(chan struct{})
	go func() {
		l.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		l.cancel()
		<-done
		return ctx.Err()
	}
}

// Stats returns current counters.
func (l *Launcher) Stats() Stats {
	return Stats{
		Workers:  l.cfg.Workers,
		Active:   l.active.Load(),
		Launched: l.launched.Load(),
		Failed:   l.failed.Load(),
	}
}

func (l *Launcher) run(pair *bus.Pair, req LaunchRequest) {
	defer l.wg.Done()
	log := l.logger.With(zap.String("session", pair.Key), zap.String("run", pair.ID))

	final := crashText(errors.New("session did not start"))
	failed := true
	defer func() {
		if failed {
			l.failed.Add(1)
		}
		l.finish(pair, final, log)
	}()

	if err := l.sem.Acquire(l.ctx, 1); err != nil {
		final = crashText(err)
		return
	}
	defer l.sem.Release(1)

	l.active.Add(1)
	defer l.active.Add(-1)

	ctx := l.ctx
	if l.cfg.SessionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.cfg.SessionTimeout)
		defer cancel()
	}

	log.Info("conversation started", zap.Int("assistants", len(req.Roster.Assistants)))
	started := time.Now()
	turns, err := l.execute(ctx, pair, req, log)
	if err != nil {
		final = crashText(err)
		log.Error("conversation failed", zap.Error(err), zap.Int("turns", len(turns)))
	} else {
		failed = false
		final = finalText(turns)
		log.Info("conversation finished", zap.Int("turns", len(turns)), zap.Duration("took", time.Since(started)))
	}

	if l.cfg.Transcripts != nil {
		t := &Transcript{
			ID:         pair.ID,
			Key:        pair.Key,
			Prompt:     req.Prompt,
			Final:      final,
			Failed:     err != nil,
			StartedAt:  started,
			FinishedAt: time.Now(),
			Turns:      turns,
		}
		if serr := l.cfg.Transcripts.Save(t); serr != nil {
			log.Warn("save transcript", zap.Error(serr))
		}
	}
}

// execute runs the executor, converting a panic into an error.
func (l *Launcher) execute(ctx context.Context, pair *bus.Pair, req LaunchRequest, log *zap.Logger) (turns []agent.Turn, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("conversation panicked", zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if l.cfg.Executor == nil {
		return nil, errors.New("no conversation executor configured")
	}
	human := NewHumanProxy(pair, l.cfg.HumanInputTimeout, log)
	return l.cfg.Executor.Execute(ctx, req, human, human)
}

// finish pushes the final answer then the sentinel and marks the pair
// finished. A failed push means the client can never see the end of the
// session, so it is logged loudly.
func (l *Launcher) finish(pair *bus.Pair, final string, log *zap.Logger) {
	defer pair.MarkFinished()

	frame, err := Envelope{Type: TypeFinalAnswer, Text: final}.Encode()
	if err == nil {
		err = pair.Outbound.Put(frame)
	}
	if err != nil {
		log.Error("push final answer", zap.Error(err))
	}
	if err := pair.Outbound.Put(bus.EndOfConversation); err != nil {
		log.Error("push termination sentinel", zap.Error(err))
	}
}

func finalText(turns []agent.Turn) string {
	if len(turns) == 0 {
		return NoResultText
	}
	if text := strings.TrimSpace(turns[len(turns)-1].Content); text != "" {
		return text
	}
	return NoResultText
}

func crashText(err error) string {
	return "Conversation crashed: " + err.Error()
}
