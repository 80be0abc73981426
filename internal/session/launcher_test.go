package session

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dayuer/askrelay/internal/agent"
	"github.com/dayuer/askrelay/internal/bus"
)

func supervisorSays(text string) agent.Delivery {
	return agent.Delivery{Turn: agent.Turn{Speaker: "Supervisor", Role: agent.RoleSupervisor, Content: text}}
}

func TestLauncher_SuccessPushesFinalThenSentinel(t *testing.T) {
	exec := ExecutorFunc(func(ctx context.Context, req LaunchRequest, obs agent.Observer, human agent.HumanInput) ([]agent.Turn, error) {
		assert.NoError(t, obs.OnMessage(supervisorSays("Working on it")))
		return []agent.Turn{
			{Speaker: "UserProxy", Role: agent.RoleHumanProxy, Content: req.Prompt},
			{Speaker: "Supervisor", Role: agent.RoleSupervisor, Content: "  All set. TERMINATE \n"},
		}, nil
	})
	l := NewLauncher(LauncherConfig{Executor: exec})
	p := newTestPair(t, "s1")

	l.Launch(p, LaunchRequest{Prompt: "Book a demo."})
	frames := drainUntilSentinel(t, p)
	l.Wait()

	require.Len(t, frames, 3)
	assert.Equal(t, Envelope{Type: TypeAgentMessage, Sender: "Supervisor", Text: "Working on it"}, decode(t, frames[0]))
	assert.Equal(t, Envelope{Type: TypeFinalAnswer, Text: "All set. TERMINATE"}, decode(t, frames[1]))
	assert.Equal(t, bus.EndOfConversation, frames[2])
	assert.True(t, p.Finished())
	assert.Equal(t, int64(0), l.Stats().Failed)
}

func TestLauncher_EmptyRecordUsesFallbackText(t *testing.T) {
	exec := ExecutorFunc(func(context.Context, LaunchRequest, agent.Observer, agent.HumanInput) ([]agent.Turn, error) {
		return []agent.Turn{{Content: "   "}}, nil
	})
	l := NewLauncher(LauncherConfig{Executor: exec})
	p := newTestPair(t, "s1")

	l.Launch(p, LaunchRequest{})
	frames := drainUntilSentinel(t, p)
	require.Len(t, frames, 2)
	assert.Equal(t, NoResultText, decode(t, frames[0]).Text)
}

func TestLauncher_ErrorBecomesCrashAnswer(t *testing.T) {
	exec := ExecutorFunc(func(_ context.Context, _ LaunchRequest, obs agent.Observer, _ agent.HumanInput) ([]agent.Turn, error) {
		_ = obs.OnMessage(supervisorSays("partial"))
		return nil, errors.New("model unavailable")
	})
	l := NewLauncher(LauncherConfig{Executor: exec})
	p := newTestPair(t, "s1")

	l.Launch(p, LaunchRequest{})
	frames := drainUntilSentinel(t, p)
	l.Wait()

	require.Len(t, frames, 3)
	final := decode(t, frames[1])
	assert.Equal(t, TypeFinalAnswer, final.Type)
	assert.Equal(t, "Conversation crashed: model unavailable", final.Text)
	assert.Equal(t, int64(1), l.Stats().Failed)
}

func TestLauncher_PanicBecomesCrashAnswer(t *testing.T) {
	exec := ExecutorFunc(func(context.Context, LaunchRequest, agent.Observer, agent.HumanInput) ([]agent.Turn, error) {
		panic("nil roster")
	})
	l := NewLauncher(LauncherConfig{Executor: exec})
	p := newTestPair(t, "s1")

	l.Launch(p, LaunchRequest{})
	frames := drainUntilSentinel(t, p)
	require.Len(t, frames, 2)
	assert.Equal(t, "Conversation crashed: panic: nil roster", decode(t, frames[0]).Text)
}

func TestLauncher_LaunchDoesNotBlockCaller(t *testing.T) {
	release := make(chan struct{})
	exec := ExecutorFunc(func(ctx context.Context, _ LaunchRequest, _ agent.Observer, _ agent.HumanInput) ([]agent.Turn, error) {
		<-release
		return nil, nil
	})
	l := NewLauncher(LauncherConfig{Executor: exec})
	p := newTestPair(t, "s1")

	returned := make(chan struct{})
	go func() {
		l.Launch(p, LaunchRequest{})
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("Launch blocked on the conversation")
	}
	close(release)
	drainUntilSentinel(t, p)
}

func TestLauncher_HumanInputRoundTrip(t *testing.T) {
	exec := ExecutorFunc(func(ctx context.Context, _ LaunchRequest, obs agent.Observer, human agent.HumanInput) ([]agent.Turn, error) {
		if err := obs.OnMessage(supervisorSays("Which day?")); err != nil {
			return nil, err
		}
		reply, err := human.GetHumanInput(ctx, "Which day?")
		if err != nil {
			return nil, err
		}
		return []agent.Turn{{Content: "Booked for " + reply}}, nil
	})
	l := NewLauncher(LauncherConfig{Executor: exec, HumanInputTimeout: time.Second})
	p := newTestPair(t, "s1")
	l.Launch(p, LaunchRequest{})

	first, err := p.Outbound.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Which day?", decode(t, first).Text)

	require.NoError(t, p.Inbound.Put("Friday"))
	frames := drainUntilSentinel(t, p)
	require.Len(t, frames, 2)
	assert.Equal(t, "Booked for Friday", decode(t, frames[0]).Text)
}

func TestLauncher_HumanInputTimeoutEndsSession(t *testing.T) {
	exec := ExecutorFunc(func(ctx context.Context, _ LaunchRequest, _ agent.Observer, human agent.HumanInput) ([]agent.Turn, error) {
		_, err := human.GetHumanInput(ctx, "?")
		return nil, err
	})
	l := NewLauncher(LauncherConfig{Executor: exec, HumanInputTimeout: 30 * time.Millisecond})
	p := newTestPair(t, "s1")
	l.Launch(p, LaunchRequest{})

	frames := drainUntilSentinel(t, p)
	require.Len(t, frames, 2)
	assert.Contains(t, decode(t, frames[0]).Text, ErrHumanInputTimeout.Error())
}

func TestLauncher_WorkerPoolBound(t *testing.T) {
	var running, peak atomic.Int64
	release := make(chan struct{})
	exec := ExecutorFunc(func(context.Context, LaunchRequest, agent.Observer, agent.HumanInput) ([]agent.Turn, error) {
		n := running.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		<-release
		running.Add(-1)
		return nil, nil
	})
	l := NewLauncher(LauncherConfig{Executor: exec, Workers: 2})

	hub := bus.NewHub(bus.HubConfig{})
	defer hub.Stop()
	var pairs []*bus.Pair
	for _, key := range []string{"a", "b", "c", "d"} {
		p, err := hub.Open(key)
		require.NoError(t, err)
		pairs = append(pairs, p)
		l.Launch(p, LaunchRequest{})
	}

	require.Eventually(t, func() bool { return running.Load() == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int64(2), running.Load())
	assert.Equal(t, int64(2), l.Stats().Active)

	close(release)
	for _, p := range pairs {
		drainUntilSentinel(t, p)
	}
	l.Wait()
	assert.Equal(t, int64(2), peak.Load())
	assert.Equal(t, int64(4), l.Stats().Launched)
}

func TestLauncher_ShutdownCancelsStragglers(t *testing.T) {
	exec := ExecutorFunc(func(ctx context.Context, _ LaunchRequest, _ agent.Observer, human agent.HumanInput) ([]agent.Turn, error) {
		_, err := human.GetHumanInput(ctx, "?")
		return nil, err
	})
	l := NewLauncher(LauncherConfig{Executor: exec})
	p := newTestPair(t, "s1")
	l.Launch(p, LaunchRequest{})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.Shutdown(ctx), context.DeadlineExceeded)

	frames := drainUntilSentinel(t, p)
	require.Len(t, frames, 2)
	assert.Contains(t, decode(t, frames[0]).Text, "Conversation crashed")
}

func TestLauncher_ClosedOutboundStillFinishes(t *testing.T) {
	exec := ExecutorFunc(func(context.Context, LaunchRequest, agent.Observer, agent.HumanInput) ([]agent.Turn, error) {
		return []agent.Turn{{Content: "done"}}, nil
	})
	l := NewLauncher(LauncherConfig{Executor: exec})
	p := newTestPair(t, "s1")
	p.Close()

	l.Launch(p, LaunchRequest{})
	l.Wait()
	assert.True(t, p.Finished())
}

func TestLauncher_SavesTranscript(t *testing.T) {
	store, err := NewTranscriptStore(filepath.Join(t.TempDir(), "transcripts"))
	require.NoError(t, err)

	exec := ExecutorFunc(func(_ context.Context, req LaunchRequest, _ agent.Observer, _ agent.HumanInput) ([]agent.Turn, error) {
		return []agent.Turn{
			{Speaker: "UserProxy", Role: agent.RoleHumanProxy, Content: req.Prompt},
			{Speaker: "Supervisor", Role: agent.RoleSupervisor, Content: "Done"},
		}, nil
	})
	l := NewLauncher(LauncherConfig{Executor: exec, Transcripts: store})
	p := newTestPair(t, "s1")
	l.Launch(p, LaunchRequest{Prompt: "Book a demo."})
	drainUntilSentinel(t, p)
	l.Wait()

	tr, err := store.Load(p.ID)
	require.NoError(t, err)
	assert.Equal(t, "s1", tr.Key)
	assert.Equal(t, "Done", tr.Final)
	require.Len(t, tr.Turns, 2)
	assert.Equal(t, agent.RoleSupervisor, tr.Turns[1].Role)
}

func TestLauncher_RejectsLaunchAfterShutdown(t *testing.T) {
	var ran atomic.Bool
	exec := ExecutorFunc(func(context.Context, LaunchRequest, agent.Observer, agent.HumanInput) ([]agent.Turn, error) {
		ran.Store(true)
		return nil, nil
	})
	l := NewLauncher(LauncherConfig{Executor: exec})
	require.NoError(t, l.Shutdown(context.Background()))

	p := newTestPair(t, "s1")
	assert.ErrorIs(t, l.Launch(p, LaunchRequest{}), ErrShuttingDown)
	assert.Zero(t, p.Outbound.Len())
	assert.False(t, p.Finished())
	assert.False(t, ran.Load())
	assert.Zero(t, l.Stats().Launched)
}
