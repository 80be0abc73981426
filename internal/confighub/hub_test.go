package confighub

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dayuer/askrelay/internal/roster"
)

func newTestHub(t *testing.T) (*ConfigHub, string, string) {
	t.Helper()
	dir := t.TempDir()
	profile := filepath.Join(dir, "supervisor_profile.json")
	rosterPath := filepath.Join(dir, "assistant_config.json")
	return New(profile, rosterPath, WithDebounce(20*time.Millisecond)), profile, rosterPath
}

func sampleRoster() roster.Roster {
	return roster.Roster{Assistants: []roster.AgentSpec{{
		Name:          "Scheduler",
		SystemMessage: "You book things.",
		Tasks: []roster.Task{{
			Name:         "book_demo",
			Description:  "Book a product demo",
			ParamsSchema: map[string]any{"type": "object", "properties": map[string]any{"date": map[string]any{"type": "string"}}},
		}},
	}}}
}

func TestNew_Defaults(t *testing.T) {
	hub, _, _ := newTestHub(t)
	got := hub.Current()
	assert.Equal(t, roster.DefaultProfile(), got.Profile)
	assert.NotNil(t, got.Roster.Assistants)
	assert.Empty(t, got.Roster.Assistants)
}

func TestReload_MissingFiles(t *testing.T) {
	hub, _, _ := newTestHub(t)
	require.NoError(t, hub.Reload())
	assert.Equal(t, "You are a helpful assistant.", hub.Current().Profile.SupervisorSystemMessage)
}

func TestSaveProfile_Reloads(t *testing.T) {
	hub, profilePath, _ := newTestHub(t)
	p := roster.Profile{Name: "Ava", Model: "gpt-4o", Persona: "calm", SupervisorSystemMessage: "You coordinate bookings."}

	require.NoError(t, hub.SaveProfile(p))
	assert.Equal(t, p, hub.Current().Profile)

	_, err := os.Stat(profilePath)
	assert.NoError(t, err)
}

func TestSaveRoster_ValidatesAndReloads(t *testing.T) {
	hub, _, rosterPath := newTestHub(t)
	require.NoError(t, hub.SaveRoster(sampleRoster()))
	assert.Equal(t, []string{"Scheduler"}, hub.Current().Roster.Names())

	bad := sampleRoster()
	bad.Assistants = append(bad.Assistants, bad.Assistants[0])
	assert.Error(t, hub.SaveRoster(bad))
	assert.Len(t, hub.Current().Roster.Assistants, 1)

	loaded, err := roster.LoadRoster(rosterPath)
	require.NoError(t, err)
	assert.Len(t, loaded.Assistants, 1)
}

func TestReload_KeepsCurrentOnError(t *testing.T) {
	hub, _, rosterPath := newTestHub(t)
	require.NoError(t, hub.SaveRoster(sampleRoster()))

	require.NoError(t, os.WriteFile(rosterPath, []byte("{not: [valid"), 0o644))
	assert.Error(t, hub.Reload())
	assert.Len(t, hub.Current().Roster.Assistants, 1)
}

func TestCurrent_IsDeepCopy(t *testing.T) {
	hub, _, _ := newTestHub(t)
	require.NoError(t, hub.SaveRoster(sampleRoster()))

	snap := hub.Current()
	snap.Roster.Assistants[0].Name = "Mutated"
	snap.Roster.Assistants[0].Tasks[0].ParamsSchema["type"] = "array"

	again := hub.Current()
	assert.Equal(t, "Scheduler", again.Roster.Assistants[0].Name)
	assert.Equal(t, "object", again.Roster.Assistants[0].Tasks[0].ParamsSchema["type"])
}

func TestOnChange_Fires(t *testing.T) {
	hub, _, _ := newTestHub(t)
	var calls atomic.Int32
	var lastCount atomic.Int32
	hub.OnChange(func(s Snapshot) {
		calls.Add(1)
		lastCount.Store(int32(len(s.Roster.Assistants)))
	})

	require.NoError(t, hub.SaveRoster(sampleRoster()))
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int32(1), lastCount.Load())
}

func TestWatch_ReloadsOnFileEdit(t *testing.T) {
	hub, _, rosterPath := newTestHub(t)
	require.NoError(t, hub.Reload())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.Watch(ctx) }()

	// Give the watcher a moment to register the directory.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, roster.SaveRoster(rosterPath, sampleRoster()))

	assert.Eventually(t, func() bool {
		return len(hub.Current().Roster.Assistants) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestWatch_MissingDirectory(t *testing.T) {
	hub := New("/nonexistent/dir/profile.json", "/nonexistent/dir/roster.json")
	err := hub.Watch(context.Background())
	assert.Error(t, err)
}
