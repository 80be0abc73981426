package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dayuer/askrelay/internal/bus"
)

func newTestPair(t *testing.T, key string) *bus.Pair {
	t.Helper()
	hub := bus.NewHub(bus.HubConfig{CleanupInterval: time.Hour})
	t.Cleanup(hub.Stop)
	p, err := hub.Open(key)
	require.NoError(t, err)
	return p
}

// drainUntilSentinel collects outbound frames up to and including the
// sentinel, then checks nothing follows it.
func drainUntilSentinel(t *testing.T, p *bus.Pair) []string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	var frames []string
	for {
		msg, err := p.Outbound.Get(ctx)
		require.NoError(t, err, "sentinel never arrived; got %v", frames)
		frames = append(frames, msg)
		if msg == bus.EndOfConversation {
			break
		}
	}
	require.Equal(t, 0, p.Outbound.Len(), "nothing may follow the sentinel")
	return frames
}

func decode(t *testing.T, frame string) Envelope {
	t.Helper()
	var e Envelope
	require.NoError(t, json.Unmarshal([]byte(frame), &e))
	return e
}
