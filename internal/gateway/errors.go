// ABOUTME: Error taxonomy surfaced to the orchestrator for failed tool calls.
// ABOUTME: Every failure is a structured result, never an uncaught crash.

package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/2389/toolgate/internal/transport"
)

// Kind classifies a failed tool call.
type Kind string

const (
	KindToolNotFound      Kind = "tool-not-found"
	KindInvocationTimeout Kind = "invocation-timeout"
	KindDisconnected      Kind = "transport-disconnected"
	KindProtocol          Kind = "protocol-error"
	KindStartup           Kind = "transport-startup"

	// KindToolError covers well-formed errors reported by the tool itself
	// when the server did not classify them further.
	KindToolError Kind = "tool-error"
)

// ToolError is the structured failure returned to the orchestrator. It is
// distinguishable from a successful-but-empty result and carries a kind plus
// a human-readable message suitable for showing in conversation.
type ToolError struct {
	Kind    Kind
	Tool    string
	Server  string
	Message string
}

func (e *ToolError) Error() string {
	if e.Server == "" {
		return fmt.Sprintf("%s: tool %q: %s", e.Kind, e.Tool, e.Message)
	}
	return fmt.Sprintf("%s: tool %q on server %q: %s", e.Kind, e.Tool, e.Server, e.Message)
}

// normalizeCallError translates a transport failure into a ToolError.
// Caller cancellation propagates untouched.
func normalizeCallError(tool, server string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}

	var remote *transport.RemoteError
	if errors.As(err, &remote) {
		kind := KindToolError
		if remote.Kind != "" {
			kind = Kind(remote.Kind)
		}
		return &ToolError{Kind: kind, Tool: tool, Server: server, Message: remote.Message}
	}

	kind := KindProtocol
	switch {
	case errors.Is(err, transport.ErrInvokeTimeout):
		kind = KindInvocationTimeout
	case errors.Is(err, transport.ErrDisconnected), errors.Is(err, transport.ErrNotReady):
		kind = KindDisconnected
	case errors.Is(err, transport.ErrStartup):
		kind = KindStartup
	}
	return &ToolError{Kind: kind, Tool: tool, Server: server, Message: err.Error()}
}
