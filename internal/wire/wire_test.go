// ABOUTME: Tests for wire frame encoding and decoding.
// ABOUTME: Covers malformed frames, id validation, and params marshaling.

package wire

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequestMarshalsParams(t *testing.T) {
	req, err := NewRequest("req-1", MethodInvokeTool, InvokeParams{
		Tool:      "search",
		Arguments: json.RawMessage(`{"query":"go"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "req-1", req.ID)
	assert.Equal(t, MethodInvokeTool, req.Method)
	assert.JSONEq(t, `{"tool":"search","arguments":{"query":"go"}}`, string(req.Params))
}

func TestNewRequestNilParams(t *testing.T) {
	req, err := NewRequest("req-2", MethodListTools, nil)
	require.NoError(t, err)
	assert.Nil(t, req.Params)
}

func TestEncodeFrameNewlineTerminated(t *testing.T) {
	frame, err := EncodeFrame(&Request{ID: "a", Method: MethodListTools})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(frame), "\n"))
	assert.Equal(t, 1, strings.Count(string(frame), "\n"))
}

func TestDecodeResponse(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		wantErr bool
	}{
		{"result frame", `{"id":"1","result":{"ok":true}}`, false},
		{"error frame", `{"id":"1","error":{"kind":"tool-error","message":"boom"}}`, false},
		{"missing id", `{"result":{}}`, true},
		{"neither result nor error", `{"id":"1"}`, true},
		{"empty line", ``, true},
		{"not json", `{{{{`, true},
		{"trailing whitespace ok", `{"id":"1","result":{}}` + "  \r", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := DecodeResponse([]byte(tt.line))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "1", resp.ID)
		})
	}
}

func TestDecodeRequest(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		wantErr bool
	}{
		{"valid", `{"id":"7","method":"list-tools"}`, false},
		{"missing method", `{"id":"7"}`, true},
		{"missing id", `{"method":"list-tools"}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := DecodeRequest([]byte(tt.line))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "7", req.ID)
		})
	}
}

func TestErrorString(t *testing.T) {
	e := &Error{Kind: "tool-error", Message: "index unavailable"}
	assert.Equal(t, "tool-error: index unavailable", e.Error())
}
