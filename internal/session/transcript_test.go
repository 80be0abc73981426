package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dayuer/askrelay/internal/agent"
	"github.com/dayuer/askrelay/internal/providers"
)

func TestTranscriptStore_SaveLoadList(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "transcripts")
	store, err := NewTranscriptStore(dir)
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Second)
	older := &Transcript{ID: "run-1", Key: "default", Final: "ok", StartedAt: now.Add(-time.Hour), FinishedAt: now}
	newer := &Transcript{
		ID: "run-2", Key: "s2", Final: "Conversation crashed: x", Failed: true,
		StartedAt: now, FinishedAt: now,
		Turns: []agent.Turn{
			{Speaker: "BookingAgent", Role: agent.RoleTaskAgent, ToolCalls: []providers.ToolCallRequest{{ID: "c1", Name: "book_demo"}}},
			{Speaker: "UserProxy", Role: agent.RoleHumanProxy, ToolCallID: "c1", ToolName: "book_demo", Content: "ok"},
		},
	}
	require.NoError(t, store.Save(older))
	require.NoError(t, store.Save(newer))

	got, err := store.Load("run-2")
	require.NoError(t, err)
	assert.True(t, got.Failed)
	require.Len(t, got.Turns, 2)
	assert.Equal(t, agent.RoleTaskAgent, got.Turns[0].Role)
	assert.Equal(t, "book_demo", got.Turns[0].ToolCalls[0].Name)
	assert.Equal(t, "c1", got.Turns[1].ToolCallID)

	infos, err := store.List()
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "run-2", infos[0].ID)
	assert.Equal(t, 2, infos[0].Turns)
	assert.Equal(t, "run-1", infos[1].ID)
}

func TestTranscriptStore_LoadErrors(t *testing.T) {
	dir := t.TempDir()
	store, err := NewTranscriptStore(dir)
	require.NoError(t, err)

	_, err = store.Load("missing")
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.jsonl"), []byte(`{"speaker":"x"}`+"\n"), 0o644))
	_, err = store.Load("bad")
	assert.ErrorContains(t, err, "missing metadata")

	infos, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, infos)
}
