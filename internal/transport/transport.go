// ABOUTME: Shared transport contract for talking to one tool server.
// ABOUTME: Defines the state machine, options, events, and error sentinels.

package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/2389/toolgate/internal/wire"
)

// Transport errors.
var (
	// ErrStartup means the server failed to come up or complete its handshake.
	ErrStartup = errors.New("transport startup failed")

	// ErrDisconnected means the process exited or the stream closed for good.
	ErrDisconnected = errors.New("transport disconnected")

	// ErrProtocol means the server sent a malformed or unparseable message.
	ErrProtocol = errors.New("protocol error")

	// ErrInvokeTimeout means the deadline elapsed before a response arrived.
	// The call is abandoned locally; remote cancellation is best-effort only.
	ErrInvokeTimeout = errors.New("tool invocation timed out")

	// ErrNotReady means the transport is not in the Ready state.
	ErrNotReady = errors.New("transport not ready")
)

// RemoteError is a well-formed error response from the server: the tool ran
// (or was refused) and the server said why. Distinct from ErrProtocol.
type RemoteError struct {
	Kind    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("server error (%s): %s", e.Kind, e.Message)
}

// State is a transport's position in its lifecycle.
type State int

const (
	StateDisconnected State = iota
	StateStarting
	StateReady
	StateDegraded
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateDegraded:
		return "degraded"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event announces a state transition. The lifecycle manager is the consumer;
// a Ready event after Degraded triggers a catalog refresh for that server.
type Event struct {
	Server string
	State  State
}

// Transport owns one connection to one tool server.
type Transport interface {
	// Start brings the connection up and completes the handshake exchange.
	Start(ctx context.Context) error

	// ListTools fetches the server's current tool list.
	ListTools(ctx context.Context) ([]wire.Tool, error)

	// Invoke runs one tool call. A timeout <= 0 uses the configured default.
	Invoke(ctx context.Context, tool string, args json.RawMessage, timeout time.Duration) (json.RawMessage, error)

	// Stop tears the connection down, forcibly after a bounded grace period.
	Stop(ctx context.Context) error

	// State returns the current lifecycle state.
	State() State

	// Server returns the owning server descriptor's name.
	Server() string

	// Events exposes state transition notifications. The channel is never
	// closed; consumers stop reading once they observe StateClosed.
	Events() <-chan Event
}

// Options tunes both transport variants. Zero values take defaults.
type Options struct {
	HandshakeTimeout time.Duration
	InvokeTimeout    time.Duration
	StopGrace        time.Duration
	MaxReconnects    int
	ReconnectBackoff time.Duration

	// HTTPClient overrides the client used by the stream variant.
	HTTPClient *http.Client
}

const (
	defaultHandshakeTimeout = 30 * time.Second
	defaultInvokeTimeout    = 60 * time.Second
	defaultStopGrace        = 5 * time.Second
	defaultMaxReconnects    = 5
	defaultReconnectBackoff = 500 * time.Millisecond
)

func (o Options) withDefaults() Options {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = defaultHandshakeTimeout
	}
	if o.InvokeTimeout <= 0 {
		o.InvokeTimeout = defaultInvokeTimeout
	}
	if o.StopGrace <= 0 {
		o.StopGrace = defaultStopGrace
	}
	if o.MaxReconnects <= 0 {
		o.MaxReconnects = defaultMaxReconnects
	}
	if o.ReconnectBackoff <= 0 {
		o.ReconnectBackoff = defaultReconnectBackoff
	}
	return o
}

// newRequestID mints a correlation id. UUIDs are never reused, so a late
// response for an abandoned call can never match a newer pending call.
func newRequestID() string {
	return uuid.New().String()
}

// roundTrip registers a pending call, sends the framed request, and waits for
// the correlated response or the context deadline.
func roundTrip(ctx context.Context, pending *pendingCalls, send func(*wire.Request) error, req *wire.Request) (*wire.Response, error) {
	ch, err := pending.create(req.ID)
	if err != nil {
		return nil, err
	}
	defer pending.remove(req.ID)

	if err := send(req); err != nil {
		return nil, err
	}

	select {
	case res, ok := <-ch:
		if !ok {
			return nil, ErrDisconnected
		}
		if res.err != nil {
			return nil, res.err
		}
		return res.resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// decodeResult unwraps a response into its result payload.
func decodeResult(resp *wire.Response) (json.RawMessage, error) {
	if resp.Error != nil {
		return nil, &RemoteError{Kind: resp.Error.Kind, Message: resp.Error.Message}
	}
	return resp.Result, nil
}

// listToolsExchange performs the list-tools request/response pair.
func listToolsExchange(ctx context.Context, pending *pendingCalls, send func(*wire.Request) error, timeout time.Duration) ([]wire.Tool, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := wire.NewRequest(newRequestID(), wire.MethodListTools, nil)
	if err != nil {
		return nil, err
	}
	resp, err := roundTrip(ctx, pending, send, req)
	if err != nil {
		return nil, err
	}
	raw, err := decodeResult(resp)
	if err != nil {
		return nil, err
	}
	var result wire.ListToolsResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("%w: decoding tool list: %v", ErrProtocol, err)
	}
	return result.Tools, nil
}

// invokeExchange performs the invoke-tool request/response pair, translating
// a deadline expiry into ErrInvokeTimeout.
func invokeExchange(ctx context.Context, pending *pendingCalls, send func(*wire.Request) error, tool string, args json.RawMessage, timeout time.Duration) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := wire.NewRequest(newRequestID(), wire.MethodInvokeTool, wire.InvokeParams{Tool: tool, Arguments: args})
	if err != nil {
		return nil, err
	}
	resp, err := roundTrip(ctx, pending, send, req)
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: %s after %s", ErrInvokeTimeout, tool, timeout)
	}
	if err != nil {
		return nil, err
	}
	return decodeResult(resp)
}

// handshakeExchange performs the bounded-time handshake that confirms a newly
// started server is responsive.
func handshakeExchange(ctx context.Context, pending *pendingCalls, send func(*wire.Request) error, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := wire.NewRequest(newRequestID(), wire.MethodHandshake, wire.HandshakeParams{Client: "toolgate", Version: "1"})
	if err != nil {
		return err
	}
	resp, err := roundTrip(ctx, pending, send, req)
	if err != nil {
		return fmt.Errorf("%w: handshake: %v", ErrStartup, err)
	}
	if _, err := decodeResult(resp); err != nil {
		return fmt.Errorf("%w: handshake rejected: %v", ErrStartup, err)
	}
	return nil
}
