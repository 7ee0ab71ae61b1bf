package events

import (
	"context"
	"log/slog"

	"github.com/vk/pkgplan/internal/ctxlog"
)

// LogPublisher writes events to the context logger.
type LogPublisher struct{}

func (LogPublisher) Publish(ctx context.Context, e Event) {
	logger := ctxlog.FromContext(ctx)
	attrs := []any{"run_id", e.RunID, "node", e.NodeID, "ref", e.Ref, "state", e.State.String()}
	if e.PackageID != "" {
		attrs = append(attrs, "package_id", e.PackageID)
	}
	level := slog.LevelDebug
	switch e.State {
	case Built, Reused:
		level = slog.LevelInfo
	case Failed:
		level = slog.LevelError
		attrs = append(attrs, "error", e.Error)
	case Blocked:
		level = slog.LevelWarn
	}
	logger.Log(ctx, level, "Node state changed.", attrs...)
}
