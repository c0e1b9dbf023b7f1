// ABOUTME: Wire-level message types shared by both transport variants.
// ABOUTME: Frames are single-line JSON objects correlated by request id.

package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Methods a gateway may send to a tool server.
const (
	MethodHandshake  = "handshake"
	MethodListTools  = "list-tools"
	MethodInvokeTool = "invoke-tool"
)

// Request is an outbound frame. Params is method-specific.
type Request struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is an inbound frame. Exactly one of Result or Error is set.
type Response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

// Error is the structured error a server attaches to a failed response.
type Error struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Tool describes one invocable capability advertised by a server.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// HandshakeParams identifies the gateway to a newly started server.
type HandshakeParams struct {
	Client  string `json:"client"`
	Version string `json:"version"`
}

// HandshakeResult is the server's half of the handshake exchange.
type HandshakeResult struct {
	Server string `json:"server,omitempty"`
}

// ListToolsResult carries a server's current tool list.
type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

// InvokeParams names the tool to run and its arguments.
type InvokeParams struct {
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// NewRequest builds a request, marshaling params when present.
func NewRequest(id, method string, params any) (*Request, error) {
	req := &Request{ID: id, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshaling %s params: %w", method, err)
		}
		req.Params = raw
	}
	return req, nil
}

// EncodeFrame renders a frame as a single line, newline terminated.
func EncodeFrame(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding frame: %w", err)
	}
	return append(raw, '\n'), nil
}

// DecodeRequest parses one line as a request frame. Servers (and the fake
// servers in tests) use this side of the codec.
func DecodeRequest(line []byte) (*Request, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, fmt.Errorf("empty frame")
	}
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return nil, fmt.Errorf("decoding frame: %w", err)
	}
	if req.ID == "" {
		return nil, fmt.Errorf("frame missing id")
	}
	if req.Method == "" {
		return nil, fmt.Errorf("frame %s missing method", req.ID)
	}
	return &req, nil
}

// DecodeResponse parses one inbound line as a response frame.
// A frame missing its id, or carrying neither result nor error, is malformed.
func DecodeResponse(line []byte) (*Response, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, fmt.Errorf("empty frame")
	}
	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("decoding frame: %w", err)
	}
	if resp.ID == "" {
		return nil, fmt.Errorf("frame missing id")
	}
	if resp.Result == nil && resp.Error == nil {
		return nil, fmt.Errorf("frame %s carries neither result nor error", resp.ID)
	}
	return &resp, nil
}
