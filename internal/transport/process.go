// ABOUTME: Process transport: spawns a tool server and speaks frames over its
// ABOUTME: stdin/stdout. Any disconnection is terminal; cleanup is guaranteed.

package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/2389/toolgate/internal/descriptor"
	"github.com/2389/toolgate/internal/wire"
)

// maxFrameSize bounds a single frame line. Tool schemas and results are
// structured documents and can get large.
const maxFrameSize = 10 * 1024 * 1024

// Process owns one spawned tool server. The child's stdin/stdout carry the
// framed message channel; stderr is drained for diagnostics only. A process
// has no Degraded state: its identity cannot be recovered without a fresh
// spawn, so any disconnection goes straight to Closed.
type Process struct {
	desc   descriptor.Server
	opts   Options
	logger *slog.Logger

	pending *pendingCalls
	events  chan Event

	mu       sync.Mutex
	state    State
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	stopping bool

	writeMu  sync.Mutex
	exited   chan struct{}
	teardown sync.Once
}

// NewProcess builds a process transport for the given descriptor.
func NewProcess(desc descriptor.Server, opts Options, logger *slog.Logger) *Process {
	logger = logger.With("server", desc.Name, "transport", "process")
	return &Process{
		desc:    desc,
		opts:    opts.withDefaults(),
		logger:  logger,
		pending: newPendingCalls(logger),
		events:  make(chan Event, 16),
		state:   StateDisconnected,
		exited:  make(chan struct{}),
	}
}

// Server returns the descriptor name this transport serves.
func (p *Process) Server() string { return p.desc.Name }

// State returns the current lifecycle state.
func (p *Process) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Events exposes state transition notifications.
func (p *Process) Events() <-chan Event { return p.events }

// Start spawns the configured command, wires its pipes, and performs the
// handshake exchange. The environment overrides are passed verbatim on top
// of the gateway's own environment; nothing is injected silently.
func (p *Process) Start(ctx context.Context) error {
	p.setState(StateStarting)

	cmd := exec.Command(p.desc.Command, p.desc.Args...)
	if len(p.desc.Env) > 0 {
		env := os.Environ()
		for k, v := range p.desc.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		cmd.Env = env
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		p.setState(StateClosed)
		return fmt.Errorf("%w: stdin pipe: %v", ErrStartup, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		p.setState(StateClosed)
		return fmt.Errorf("%w: stdout pipe: %v", ErrStartup, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		p.setState(StateClosed)
		return fmt.Errorf("%w: stderr pipe: %v", ErrStartup, err)
	}

	if err := cmd.Start(); err != nil {
		p.setState(StateClosed)
		return fmt.Errorf("%w: spawning %s: %v", ErrStartup, p.desc.Command, err)
	}

	p.mu.Lock()
	p.cmd = cmd
	p.stdin = stdin
	p.mu.Unlock()

	p.logger.Info("server process started", "command", p.desc.Command, "pid", cmd.Process.Pid)

	go p.watch()
	go p.readLoop(stdout)
	go p.drainStderr(stderr)

	if err := handshakeExchange(ctx, p.pending, p.send, p.opts.HandshakeTimeout); err != nil {
		p.logger.Error("handshake failed", "error", err)
		_ = p.Stop(context.Background())
		return err
	}

	p.setState(StateReady)
	return nil
}

// ListTools performs the list-tools exchange.
func (p *Process) ListTools(ctx context.Context) ([]wire.Tool, error) {
	if err := p.readyErr(); err != nil {
		return nil, err
	}
	return listToolsExchange(ctx, p.pending, p.send, p.opts.HandshakeTimeout)
}

// Invoke runs one tool call over the shared channel. Multiple outstanding
// requests are multiplexed; correlation is by request id, not send order.
func (p *Process) Invoke(ctx context.Context, tool string, args json.RawMessage, timeout time.Duration) (json.RawMessage, error) {
	if err := p.readyErr(); err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = p.opts.InvokeTimeout
	}
	return invokeExchange(ctx, p.pending, p.send, tool, args, timeout)
}

// Stop requests graceful termination, escalating to SIGKILL after the grace
// period. Every exit path funnels into the same teardown.
func (p *Process) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.cmd == nil || p.state == StateClosed {
		p.mu.Unlock()
		p.shutdown()
		return nil
	}
	p.stopping = true
	stdin := p.stdin
	proc := p.cmd.Process
	p.mu.Unlock()

	// Closing stdin is the graceful signal for line-oriented servers;
	// SIGTERM covers the rest.
	if stdin != nil {
		_ = stdin.Close()
	}
	if proc != nil {
		_ = proc.Signal(syscall.SIGTERM)
	}

	grace := time.NewTimer(p.opts.StopGrace)
	defer grace.Stop()

	select {
	case <-p.exited:
	case <-grace.C:
		p.logger.Warn("grace period elapsed, killing server process")
		if proc != nil {
			_ = proc.Kill()
		}
		<-p.exited
	case <-ctx.Done():
		if proc != nil {
			_ = proc.Kill()
		}
		<-p.exited
	}

	p.shutdown()
	return nil
}

func (p *Process) readyErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.state {
	case StateReady:
		return nil
	case StateClosed:
		return ErrDisconnected
	default:
		return fmt.Errorf("%w: state %s", ErrNotReady, p.state)
	}
}

// watch reaps the process. An exit the gateway did not request is terminal.
func (p *Process) watch() {
	err := p.cmd.Wait()
	close(p.exited)

	p.mu.Lock()
	stopping := p.stopping
	p.mu.Unlock()

	if !stopping {
		p.logger.Warn("server process exited unexpectedly", "error", err)
	}
	p.shutdown()
}

// readLoop decodes stdout frames and routes them to their pending calls.
func (p *Process) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		resp, err := wire.DecodeResponse(line)
		if err != nil {
			p.failFrame(line, err)
			continue
		}
		p.pending.deliver(resp)
	}
	if err := scanner.Err(); err != nil && !p.isStopping() {
		p.logger.Warn("reading server stdout", "error", err)
	}
	p.shutdown()
}

// failFrame handles a malformed frame: when the id is salvageable the error
// is delivered to that one call; otherwise the frame is logged and dropped.
func (p *Process) failFrame(line []byte, decodeErr error) {
	var probe struct {
		ID string `json:"id"`
	}
	if json.Unmarshal(line, &probe) == nil && probe.ID != "" {
		p.pending.fail(probe.ID, fmt.Errorf("%w: %v", ErrProtocol, decodeErr))
		return
	}
	p.logger.Warn("malformed frame from server", "error", decodeErr)
}

// drainStderr captures the child's stderr for diagnostics. It is never
// parsed as protocol data.
func (p *Process) drainStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 4*1024), 1024*1024)
	for scanner.Scan() {
		p.logger.Debug("server stderr", "line", scanner.Text())
	}
}

// send writes one framed request to the child's stdin.
func (p *Process) send(req *wire.Request) error {
	frame, err := wire.EncodeFrame(req)
	if err != nil {
		return err
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	p.mu.Lock()
	stdin := p.stdin
	p.mu.Unlock()
	if stdin == nil {
		return ErrDisconnected
	}
	if _, err := stdin.Write(frame); err != nil {
		return fmt.Errorf("%w: writing request: %v", ErrDisconnected, err)
	}
	return nil
}

func (p *Process) isStopping() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopping
}

// shutdown is the single teardown funnel. Normal stop, crash, and startup
// failure all end here; it is safe to reach from any of them concurrently.
func (p *Process) shutdown() {
	p.teardown.Do(func() {
		p.mu.Lock()
		cmd := p.cmd
		stdin := p.stdin
		p.stdin = nil
		p.mu.Unlock()

		if stdin != nil {
			_ = stdin.Close()
		}
		if cmd != nil && cmd.Process != nil {
			select {
			case <-p.exited:
			default:
				_ = cmd.Process.Kill()
			}
		}

		p.pending.failAll()
		p.setState(StateClosed)
	})
}

func (p *Process) setState(s State) {
	p.mu.Lock()
	if p.state == s || p.state == StateClosed {
		p.mu.Unlock()
		return
	}
	p.state = s
	p.mu.Unlock()

	p.logger.Debug("transport state changed", "state", s.String())
	select {
	case p.events <- Event{Server: p.desc.Name, State: s}:
	default:
		p.logger.Warn("event channel full, dropping transition", "state", s.String())
	}
}
