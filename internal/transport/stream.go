// ABOUTME: Stream transport: long-lived HTTP event stream for responses plus
// ABOUTME: separate POSTed requests, with backoff reconnection when it drops.

package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/2389/toolgate/internal/descriptor"
	"github.com/2389/toolgate/internal/wire"
)

// Stream talks to an independently running server over a persistent event
// stream. Requests go out as separate POSTs to the same URL; responses arrive
// asynchronously on the stream, possibly out of order, matched by request id.
// A dropped stream is recoverable: the transport degrades, redials with
// exponential backoff, and only closes after exhausting its attempts.
type Stream struct {
	desc   descriptor.Server
	opts   Options
	logger *slog.Logger
	client *http.Client

	pending *pendingCalls
	events  chan Event

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	state    State
	body     io.ReadCloser
	stopping bool

	teardown sync.Once
}

// NewStream builds a stream transport for the given descriptor.
func NewStream(desc descriptor.Server, opts Options, logger *slog.Logger) *Stream {
	opts = opts.withDefaults()
	client := opts.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	logger = logger.With("server", desc.Name, "transport", "stream")
	ctx, cancel := context.WithCancel(context.Background())
	return &Stream{
		desc:    desc,
		opts:    opts,
		logger:  logger,
		client:  client,
		pending: newPendingCalls(logger),
		events:  make(chan Event, 16),
		state:   StateDisconnected,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Server returns the descriptor name this transport serves.
func (s *Stream) Server() string { return s.desc.Name }

// State returns the current lifecycle state.
func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Events exposes state transition notifications.
func (s *Stream) Events() <-chan Event { return s.events }

// Start opens the event stream subscription and performs the handshake.
func (s *Stream) Start(ctx context.Context) error {
	s.setState(StateStarting)

	body, err := s.open()
	if err != nil {
		s.shutdown()
		return fmt.Errorf("%w: opening stream: %v", ErrStartup, err)
	}
	s.setBody(body)
	go s.run(body)

	if err := handshakeExchange(ctx, s.pending, s.send, s.opts.HandshakeTimeout); err != nil {
		s.logger.Error("handshake failed", "error", err)
		_ = s.Stop(context.Background())
		return err
	}

	s.setState(StateReady)
	return nil
}

// ListTools performs the list-tools exchange.
func (s *Stream) ListTools(ctx context.Context) ([]wire.Tool, error) {
	if err := s.readyErr(); err != nil {
		return nil, err
	}
	return listToolsExchange(ctx, s.pending, s.send, s.opts.HandshakeTimeout)
}

// Invoke runs one tool call. Responses interleave freely with other calls on
// the stream; correlation is by request id.
func (s *Stream) Invoke(ctx context.Context, tool string, args json.RawMessage, timeout time.Duration) (json.RawMessage, error) {
	if err := s.readyErr(); err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = s.opts.InvokeTimeout
	}
	return invokeExchange(ctx, s.pending, s.send, tool, args, timeout)
}

// Stop cancels the subscription and fails any outstanding calls.
func (s *Stream) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopping = true
	body := s.body
	s.mu.Unlock()

	s.cancel()
	if body != nil {
		_ = body.Close()
	}
	s.shutdown()
	return nil
}

func (s *Stream) readyErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateReady:
		return nil
	case StateClosed:
		return ErrDisconnected
	default:
		return fmt.Errorf("%w: state %s", ErrNotReady, s.state)
	}
}

// open establishes the GET subscription with the configured headers.
// Reconnection reuses the same URL and headers.
func (s *Stream) open() (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(s.ctx, http.MethodGet, s.desc.URL, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range s.desc.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("subscribing to %s: status %d", s.desc.URL, resp.StatusCode)
	}
	return resp.Body, nil
}

// run consumes the stream until it drops, then cycles Degraded → redial →
// Ready until reconnection attempts are exhausted.
func (s *Stream) run(body io.ReadCloser) {
	for {
		s.consume(body)
		if s.isStopping() {
			return
		}

		s.logger.Warn("event stream dropped")
		s.setState(StateDegraded)

		next, ok := s.redial()
		if !ok {
			if !s.isStopping() {
				s.logger.Error("reconnection attempts exhausted",
					"attempts", s.opts.MaxReconnects,
				)
			}
			s.shutdown()
			return
		}
		body = next
		s.setBody(next)
		s.setState(StateReady)
	}
}

// consume reads event-stream lines, routing each data frame to its pending
// call. Comment, event, id, and retry lines are ignored.
func (s *Stream) consume(body io.ReadCloser) {
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		resp, err := wire.DecodeResponse([]byte(payload))
		if err != nil {
			s.failFrame([]byte(payload), err)
			continue
		}
		s.pending.deliver(resp)
	}
}

func (s *Stream) failFrame(payload []byte, decodeErr error) {
	var probe struct {
		ID string `json:"id"`
	}
	if json.Unmarshal(payload, &probe) == nil && probe.ID != "" {
		s.pending.fail(probe.ID, fmt.Errorf("%w: %v", ErrProtocol, decodeErr))
		return
	}
	s.logger.Warn("malformed frame on stream", "error", decodeErr)
}

// redial retries the subscription with exponential backoff, bounded by
// MaxReconnects. Outstanding calls stay pending across Degraded; only a
// terminal Closed fails them.
func (s *Stream) redial() (io.ReadCloser, bool) {
	backoff := s.opts.ReconnectBackoff
	for attempt := 1; attempt <= s.opts.MaxReconnects; attempt++ {
		select {
		case <-s.ctx.Done():
			return nil, false
		case <-time.After(backoff):
		}

		body, err := s.open()
		if err == nil {
			s.logger.Info("event stream reconnected", "attempt", attempt)
			return body, true
		}
		s.logger.Warn("reconnect attempt failed",
			"attempt", attempt,
			"max_attempts", s.opts.MaxReconnects,
			"backoff", backoff.String(),
			"error", err,
		)
		backoff *= 2
	}
	return nil, false
}

// send POSTs one framed request to the configured URL. The response to the
// request arrives later on the event stream, not in the POST reply.
func (s *Stream) send(req *wire.Request) error {
	frame, err := wire.EncodeFrame(req)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(s.ctx, http.MethodPost, s.desc.URL, bytes.NewReader(frame))
	if err != nil {
		return err
	}
	for k, v := range s.desc.Headers {
		httpReq.Header.Set(k, v)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: sending request: %v", ErrDisconnected, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: request rejected with status %d", ErrProtocol, resp.StatusCode)
	}
	return nil
}

func (s *Stream) setBody(body io.ReadCloser) {
	s.mu.Lock()
	s.body = body
	s.mu.Unlock()
}

func (s *Stream) isStopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopping
}

// shutdown is the single teardown funnel for every exit path.
func (s *Stream) shutdown() {
	s.teardown.Do(func() {
		s.cancel()
		s.pending.failAll()
		s.setState(StateClosed)
	})
}

func (s *Stream) setState(state State) {
	s.mu.Lock()
	if s.state == state || s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = state
	s.mu.Unlock()

	s.logger.Debug("transport state changed", "state", state.String())
	select {
	case s.events <- Event{Server: s.desc.Name, State: state}:
	default:
		s.logger.Warn("event channel full, dropping transition", "state", state.String())
	}
}
