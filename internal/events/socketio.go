package events

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"time"

	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"

	"github.com/vk/pkgplan/internal/ctxlog"
)

const defaultEventName = "node_state"

// SocketIOConfig configures a SocketIOPublisher.
type SocketIOConfig struct {
	URL                string
	Namespace          string
	InsecureSkipVerify bool
	// EventName defaults to "node_state".
	EventName string
	// ConnectTimeout defaults to 15s.
	ConnectTimeout time.Duration
}

// SocketIOPublisher emits events to a socket.io server, for live dashboards.
type SocketIOPublisher struct {
	client    *socket.Socket
	eventName string
}

// NewSocketIOPublisher connects to the server and waits for the connection
// to be acknowledged.
func NewSocketIOPublisher(ctx context.Context, cfg SocketIOConfig) (*SocketIOPublisher, error) {
	logger := ctxlog.FromContext(ctx).With("publisher", "socketio", "url", cfg.URL)
	logger.Info("Connecting event publisher...")

	parsedURL, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("failed to parse URL: %q has no scheme or host", cfg.URL)
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	opts := socket.DefaultOptions()
	opts.SetPath(parsedURL.Path)
	opts.SetReconnection(false)
	if cfg.InsecureSkipVerify {
		logger.Warn("Skipping TLS certificate verification")
		opts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))

	connectChan := make(chan error, 1)

	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
	manager := socket.NewManager(baseURL, opts)
	io := manager.Socket(cfg.Namespace, opts)

	io.Once(types.EventName("connect"), func(...any) {
		logger.Info("Successfully connected", "sid", io.Id())
		connectChan <- nil
	})
	io.Once(types.EventName("connect_error"), func(errs ...any) {
		var err error = fmt.Errorf("connect_error")
		if len(errs) > 0 {
			if e, ok := errs[0].(error); ok {
				err = e
			}
		}
		logger.Debug("Connection attempt failed", "error", err)
		select {
		case connectChan <- err:
		default:
		}
	})

	io.Connect()

	select {
	case err := <-connectChan:
		if err != nil {
			io.Disconnect()
			return nil, fmt.Errorf("socket.io connection failed: %w", err)
		}
	case <-ctx.Done():
		io.Disconnect()
		return nil, fmt.Errorf("context cancelled while waiting for socket.io connection")
	case <-time.After(timeout):
		io.Disconnect()
		return nil, fmt.Errorf("timed out after %s waiting for socket.io connection", timeout)
	}

	name := cfg.EventName
	if name == "" {
		name = defaultEventName
	}
	return &SocketIOPublisher{client: io, eventName: name}, nil
}

// Publish emits e. Events are dropped while the socket is disconnected.
func (p *SocketIOPublisher) Publish(ctx context.Context, e Event) {
	if !p.client.Connected() {
		ctxlog.FromContext(ctx).Debug("Dropping event, socket.io client disconnected", "ref", e.Ref, "state", e.State.String())
		return
	}
	if err := p.client.Emit(p.eventName, Payload(e)); err != nil {
		ctxlog.FromContext(ctx).Warn("Failed to emit event", "event", p.eventName, "error", err)
	}
}

// Close disconnects the client.
func (p *SocketIOPublisher) Close() error {
	p.client.Disconnect()
	return nil
}

// Payload is the JSON-friendly form of an event emitted to socket.io.
func Payload(e Event) map[string]any {
	out := map[string]any{
		"run_id":  e.RunID,
		"node_id": e.NodeID,
		"ref":     e.Ref,
		"state":   e.State.String(),
		"time":    e.Time.UTC().Format(time.RFC3339Nano),
	}
	if e.PackageID != "" {
		out["package_id"] = e.PackageID
	}
	if e.Error != "" {
		out["error"] = e.Error
	}
	return out
}
