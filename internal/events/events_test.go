package events

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/pkgplan/internal/ctxlog"
	"github.com/vk/pkgplan/internal/testutil"
)

func TestState(t *testing.T) {
	assert.Equal(t, "blocked", Blocked.String())
	assert.Equal(t, "unknown", State(99).String())
	assert.True(t, Reused.Terminal())
	assert.False(t, Running.Terminal())
}

func TestMultiAndRecorder(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	pub := Multi{a, Nop{}, b}

	pub.Publish(context.Background(), Event{Ref: "zlib/1.2", State: Running})
	pub.Publish(context.Background(), Event{Ref: "zlib/1.2", State: Built})

	assert.Len(t, a.Events(), 2)
	assert.Equal(t, a.Events(), b.Events())
	assert.Equal(t, map[string]State{"zlib/1.2": Built}, a.Final())
}

func TestLogPublisher(t *testing.T) {
	buf := &testutil.SafeBuffer{}
	logger := slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	ctx := ctxlog.WithLogger(context.Background(), logger)

	LogPublisher{}.Publish(ctx, Event{RunID: "r1", NodeID: 2, Ref: "zlib/1.2", PackageID: "abc", State: Built})
	LogPublisher{}.Publish(ctx, Event{RunID: "r1", NodeID: 3, Ref: "app/1.0", State: Failed, Error: "boom"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "level=INFO")
	assert.Contains(t, lines[0], "state=built")
	assert.Contains(t, lines[0], "package_id=abc")
	assert.Contains(t, lines[1], "level=ERROR")
	assert.Contains(t, lines[1], "error=boom")
}

func TestPayload(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	assert.Equal(t, map[string]any{
		"run_id":  "r1",
		"node_id": 1,
		"ref":     "zlib/1.2",
		"state":   "failed",
		"time":    "2024-01-02T03:04:05Z",
		"error":   "boom",
	}, Payload(Event{RunID: "r1", NodeID: 1, Ref: "zlib/1.2", State: Failed, Error: "boom", Time: at}))
}

func TestNewSocketIOPublisher_Errors(t *testing.T) {
	_, err := NewSocketIOPublisher(context.Background(), SocketIOConfig{URL: "not a url"})
	assert.ErrorContains(t, err, "failed to parse URL")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewSocketIOPublisher(ctx, SocketIOConfig{URL: "http://127.0.0.1:1", ConnectTimeout: 2 * time.Second})
	assert.Error(t, err, "nothing listens on port 1")
}
