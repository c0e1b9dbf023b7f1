// ABOUTME: Tests for dispatch routing and the error taxonomy.
// ABOUTME: fakeTransport here is shared by the lifecycle and HTTP tests.

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/toolgate/internal/catalog"
	"github.com/2389/toolgate/internal/transport"
	"github.com/2389/toolgate/internal/wire"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeTransport is a scriptable in-memory transport.
type fakeTransport struct {
	name string

	mu       sync.Mutex
	state    transport.State
	tools    []wire.Tool
	startErr error
	listErr  error
	invokeFn func(tool string, args json.RawMessage) (json.RawMessage, error)
	invoked  []string
	stopped  bool
	onStop   func()

	events chan transport.Event
}

func newFakeTransport(name string, tools ...wire.Tool) *fakeTransport {
	return &fakeTransport{
		name:   name,
		state:  transport.StateDisconnected,
		tools:  tools,
		events: make(chan transport.Event, 16),
	}
}

func (f *fakeTransport) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		f.state = transport.StateClosed
		return f.startErr
	}
	f.state = transport.StateReady
	return nil
}

func (f *fakeTransport) ListTools(ctx context.Context) ([]wire.Tool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]wire.Tool(nil), f.tools...), nil
}

func (f *fakeTransport) Invoke(ctx context.Context, tool string, args json.RawMessage, timeout time.Duration) (json.RawMessage, error) {
	f.mu.Lock()
	f.invoked = append(f.invoked, tool)
	fn := f.invokeFn
	f.mu.Unlock()
	if fn != nil {
		return fn(tool, args)
	}
	return json.RawMessage(fmt.Sprintf(`{"from":%q}`, f.name)), nil
}

func (f *fakeTransport) Stop(ctx context.Context) error {
	f.mu.Lock()
	first := !f.stopped
	f.stopped = true
	f.state = transport.StateClosed
	onStop := f.onStop
	f.mu.Unlock()
	if first && onStop != nil {
		onStop()
	}
	return nil
}

func (f *fakeTransport) State() transport.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeTransport) Server() string { return f.name }

func (f *fakeTransport) Events() <-chan transport.Event { return f.events }

// emit publishes a state transition the way a real transport would.
func (f *fakeTransport) emit(state transport.State) {
	f.mu.Lock()
	f.state = state
	f.mu.Unlock()
	f.events <- transport.Event{Server: f.name, State: state}
}

func (f *fakeTransport) invokedTools() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.invoked...)
}

func (f *fakeTransport) setTools(tools ...wire.Tool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tools = tools
}

func (f *fakeTransport) wasStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

// fakeSource is a static name-to-transport map.
type fakeSource map[string]transport.Transport

func (s fakeSource) Transport(name string) (transport.Transport, bool) {
	t, ok := s[name]
	return t, ok
}

func TestDispatchRoutesToOwner(t *testing.T) {
	cat := catalog.New(testLogger())
	alpha := newFakeTransport("alpha")
	beta := newFakeTransport("beta")
	cat.Register("alpha", []wire.Tool{{Name: "search"}})
	cat.Register("beta", []wire.Tool{{Name: "fetch"}})

	d := NewDispatcher(cat, fakeSource{"alpha": alpha, "beta": beta}, testLogger())

	result, err := d.Call(context.Background(), "fetch", json.RawMessage(`{}`), 0)
	require.NoError(t, err)
	assert.JSONEq(t, `{"from":"beta"}`, string(result))
	assert.Empty(t, alpha.invokedTools())
	assert.Equal(t, []string{"fetch"}, beta.invokedTools())
}

func TestDispatchUnknownToolTouchesNoTransport(t *testing.T) {
	cat := catalog.New(testLogger())
	alpha := newFakeTransport("alpha")
	cat.Register("alpha", []wire.Tool{{Name: "search"}})

	d := NewDispatcher(cat, fakeSource{"alpha": alpha}, testLogger())

	_, err := d.Call(context.Background(), "no-such-tool", nil, 0)
	require.Error(t, err)

	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, KindToolNotFound, toolErr.Kind)
	assert.Equal(t, "no-such-tool", toolErr.Tool)
	assert.Empty(t, alpha.invokedTools())
}

func TestDispatchOwnerGone(t *testing.T) {
	cat := catalog.New(testLogger())
	cat.Register("ghost", []wire.Tool{{Name: "search"}})

	d := NewDispatcher(cat, fakeSource{}, testLogger())

	_, err := d.Call(context.Background(), "search", nil, 0)
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, KindDisconnected, toolErr.Kind)
	assert.Equal(t, "ghost", toolErr.Server)
}

func TestDispatchNormalizesTransportErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantKind Kind
	}{
		{"timeout", fmt.Errorf("%w: search after 5s", transport.ErrInvokeTimeout), KindInvocationTimeout},
		{"disconnected", transport.ErrDisconnected, KindDisconnected},
		{"not ready", fmt.Errorf("%w: state degraded", transport.ErrNotReady), KindDisconnected},
		{"protocol", fmt.Errorf("%w: bad frame", transport.ErrProtocol), KindProtocol},
		{"startup", fmt.Errorf("%w: handshake", transport.ErrStartup), KindStartup},
		{"remote unclassified", &transport.RemoteError{Message: "boom"}, KindToolError},
		{"remote classified", &transport.RemoteError{Kind: "quota-exceeded", Message: "slow down"}, Kind("quota-exceeded")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cat := catalog.New(testLogger())
			cat.Register("alpha", []wire.Tool{{Name: "search"}})
			tr := newFakeTransport("alpha")
			tr.invokeFn = func(string, json.RawMessage) (json.RawMessage, error) {
				return nil, tt.err
			}

			d := NewDispatcher(cat, fakeSource{"alpha": tr}, testLogger())
			_, err := d.Call(context.Background(), "search", nil, 0)

			var toolErr *ToolError
			require.ErrorAs(t, err, &toolErr)
			assert.Equal(t, tt.wantKind, toolErr.Kind)
			assert.Equal(t, "alpha", toolErr.Server)
		})
	}
}

func TestDispatchCallerCancellationPassesThrough(t *testing.T) {
	cat := catalog.New(testLogger())
	cat.Register("alpha", []wire.Tool{{Name: "search"}})
	tr := newFakeTransport("alpha")
	tr.invokeFn = func(string, json.RawMessage) (json.RawMessage, error) {
		return nil, context.Canceled
	}

	d := NewDispatcher(cat, fakeSource{"alpha": tr}, testLogger())
	_, err := d.Call(context.Background(), "search", nil, 0)
	assert.ErrorIs(t, err, context.Canceled)

	var toolErr *ToolError
	assert.False(t, errors.As(err, &toolErr), "cancellation must not be reclassified")
}

func TestDispatchConcurrentCallsIndependent(t *testing.T) {
	cat := catalog.New(testLogger())
	cat.Register("slow", []wire.Tool{{Name: "dig"}})
	cat.Register("fast", []wire.Tool{{Name: "ping"}})

	slow := newFakeTransport("slow")
	slow.invokeFn = func(string, json.RawMessage) (json.RawMessage, error) {
		time.Sleep(200 * time.Millisecond)
		return json.RawMessage(`{"from":"slow"}`), nil
	}
	fast := newFakeTransport("fast")

	d := NewDispatcher(cat, fakeSource{"slow": slow, "fast": fast}, testLogger())

	var wg sync.WaitGroup
	var fastDone, slowDone time.Time
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := d.Call(context.Background(), "dig", nil, 0)
		assert.NoError(t, err)
		slowDone = time.Now()
	}()
	go func() {
		defer wg.Done()
		_, err := d.Call(context.Background(), "ping", nil, 0)
		assert.NoError(t, err)
		fastDone = time.Now()
	}()
	wg.Wait()

	assert.True(t, fastDone.Before(slowDone), "a slow call must not serialize a fast one")
}
