package server

import (
	"context"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/dayuer/askrelay/internal/bus"
	"github.com/dayuer/askrelay/internal/confighub"
	"github.com/dayuer/askrelay/internal/querylog"
	"github.com/dayuer/askrelay/internal/rag"
	"github.com/dayuer/askrelay/internal/roster"
	"github.com/dayuer/askrelay/internal/router"
	"github.com/dayuer/askrelay/internal/session"
)

// --- fakes ---

type fakeRouter struct {
	mu    sync.Mutex
	res   *router.Result
	err   error
	calls []router.Request
}

func (f *fakeRouter) Route(_ context.Context, req router.Request) (*router.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	return f.res, f.err
}

func baselineResult(text string) *router.Result {
	a := rag.Answer{Type: rag.AnswerType, Text: text, Citations: []rag.Citation{}, FollowUps: []string{}}
	return &router.Result{Decision: router.DecisionBaseline, Baseline: a, Payload: a}
}

func escalationResult() *router.Result {
	return &router.Result{
		Decision: router.DecisionInteractive,
		Baseline: rag.Answer{Type: rag.AnswerType, Text: "unused"},
		Payload:  router.SessionStart{Type: router.SessionStartType},
	}
}

type fakeLauncher struct {
	mu       sync.Mutex
	launches []session.LaunchRequest
	pairs    []*bus.Pair
	err      error
}

func (f *fakeLauncher) Launch(p *bus.Pair, req session.LaunchRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.pairs = append(f.pairs, p)
	f.launches = append(f.launches, req)
	return nil
}

func (f *fakeLauncher) Stats() session.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return session.Stats{Workers: 1, Launched: int64(len(f.launches))}
}

func (f *fakeLauncher) launched() []session.LaunchRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]session.LaunchRequest(nil), f.launches...)
}

type fakeQueryLog struct {
	mu      sync.Mutex
	entries []querylog.Entry
	fail    bool
	limit   int
}

func (f *fakeQueryLog) Append(_ context.Context, e querylog.Entry) error {
	if f.fail {
		return errors.New("disk full")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeQueryLog) Recent(_ context.Context, limit int) ([]querylog.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limit = limit
	return append([]querylog.Entry{}, f.entries...), nil
}

func (f *fakeQueryLog) Count(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries), nil
}

func (f *fakeQueryLog) all() []querylog.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]querylog.Entry(nil), f.entries...)
}

type fakeIngester struct {
	mu    sync.Mutex
	paths []string
	err   error
}

func (f *fakeIngester) IngestFile(_ context.Context, path string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, path)
	if f.err != nil {
		return 0, f.err
	}
	return 3, nil
}

// --- harness ---

type testEnv struct {
	srv      *Server
	hub      *bus.Hub
	admin    *confighub.ConfigHub
	router   *fakeRouter
	launcher *fakeLauncher
	qlog     *fakeQueryLog
	ingester *fakeIngester
	dir      string
}

func newTestEnv(t *testing.T, mutate ...func(*Config)) *testEnv {
	t.Helper()
	dir := t.TempDir()
	env := &testEnv{
		hub:      bus.NewHub(bus.HubConfig{CleanupInterval: time.Hour}),
		admin:    confighub.New(filepath.Join(dir, "profile.json"), filepath.Join(dir, "roster.json")),
		router:   &fakeRouter{res: baselineResult("ISPG is a program.")},
		launcher: &fakeLauncher{},
		qlog:     &fakeQueryLog{},
		ingester: &fakeIngester{},
		dir:      dir,
	}
	t.Cleanup(env.hub.Stop)

	cfg := Config{
		Router:       env.router,
		Hub:          env.hub,
		Launcher:     env.launcher,
		Admin:        env.admin,
		QueryLog:     env.qlog,
		Ingester:     env.ingester,
		KnowledgeDir: filepath.Join(dir, "knowledge_base"),
		PingInterval: 50 * time.Millisecond,
		ReadTimeout:  2 * time.Second,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	env.srv = New(cfg)
	t.Cleanup(env.srv.Close)
	return env
}

func sampleRoster() roster.Roster {
	return roster.Roster{Assistants: []roster.AgentSpec{{
		Name:          "Scheduler",
		SystemMessage: "You book demos.",
		Tasks: []roster.Task{{
			Name:         "book_demo",
			Description:  "Book a product demo",
			ParamsSchema: map[string]any{"type": "object"},
		}},
	}}}
}

// dialWS connects to the relay of a running httptest server.
func dialWS(t *testing.T, ts *httptest.Server, key string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	if key != "" {
		url += "?session=" + key
	}
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

// readUntilClose collects text frames until the server closes the
// connection and returns them with the close error.
func readUntilClose(t *testing.T, conn *websocket.Conn) ([]session.Envelope, error) {
	t.Helper()
	var out []session.Envelope
	for {
		var env session.Envelope
		err := conn.ReadJSON(&env)
		if err != nil {
			return out, err
		}
		out = append(out, env)
	}
}
