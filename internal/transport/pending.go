// ABOUTME: Correlation table mapping in-flight request ids to result channels.
// ABOUTME: Owned exclusively by one transport; late responses are discarded.

package transport

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/2389/toolgate/internal/wire"
)

// callResult is what a waiter receives: either a correlated response or the
// error that doomed this one call (a malformed frame bearing its id).
type callResult struct {
	resp *wire.Response
	err  error
}

// pendingCalls tracks outstanding requests awaiting responses.
type pendingCalls struct {
	mu     sync.Mutex
	calls  map[string]chan callResult
	closed bool
	logger *slog.Logger
}

func newPendingCalls(logger *slog.Logger) *pendingCalls {
	return &pendingCalls{
		calls:  make(map[string]chan callResult),
		logger: logger,
	}
}

// create registers a pending call and returns its result channel.
// Returns ErrDisconnected once the table has been closed.
func (p *pendingCalls) create(id string) (<-chan callResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrDisconnected
	}
	if _, exists := p.calls[id]; exists {
		return nil, fmt.Errorf("duplicate request id %s", id)
	}
	ch := make(chan callResult, 1)
	p.calls[id] = ch
	return ch, nil
}

// remove drops a pending call, closing its channel. Called the instant a
// result arrives or the deadline expires; any response arriving after that
// finds no entry and is dropped by deliver.
func (p *pendingCalls) remove(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if ch, ok := p.calls[id]; ok {
		close(ch)
		delete(p.calls, id)
	}
}

// deliver routes a response to its pending call. Responses for unknown ids
// (late arrivals for abandoned calls, or server noise) are logged and
// discarded, never misdelivered.
func (p *pendingCalls) deliver(resp *wire.Response) {
	p.dispatch(resp.ID, callResult{resp: resp})
}

// fail dooms one pending call, when a frame bearing its id was malformed.
func (p *pendingCalls) fail(id string, err error) {
	p.dispatch(id, callResult{err: err})
}

func (p *pendingCalls) dispatch(id string, res callResult) {
	p.mu.Lock()
	ch, ok := p.calls[id]
	if !ok {
		p.mu.Unlock()
		p.logger.Warn("discarding response for unknown request",
			"request_id", id,
		)
		return
	}

	// Buffered size 1 and ids are unique, so this never blocks; the lock
	// prevents remove from closing the channel mid-send.
	select {
	case ch <- res:
		p.mu.Unlock()
	default:
		p.mu.Unlock()
		p.logger.Warn("result channel full, dropping response",
			"request_id", id,
		)
	}
}

// failAll closes every pending channel and marks the table closed. Waiters
// observe the closed channel as ErrDisconnected. Safe to call repeatedly.
func (p *pendingCalls) failAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	for id, ch := range p.calls {
		close(ch)
		delete(p.calls, id)
	}
}

// count returns the number of in-flight calls (for tests and monitoring).
func (p *pendingCalls) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}
