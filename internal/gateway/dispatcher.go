// ABOUTME: Dispatcher resolves tool names to their owning transport and
// ABOUTME: forwards calls with timeout and error normalization.

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/toolgate/internal/catalog"
	"github.com/2389/toolgate/internal/transport"
)

// transportSource resolves a server name to its live transport. The gateway
// implements it; tests substitute fakes.
type transportSource interface {
	Transport(server string) (transport.Transport, bool)
}

// Dispatcher is the orchestrator's entry point for tool invocation. It holds
// no state beyond references to the catalog and the live transport set;
// concurrent calls never serialize on each other.
type Dispatcher struct {
	catalog *catalog.Catalog
	source  transportSource
	logger  *slog.Logger
}

// NewDispatcher creates a Dispatcher over the given catalog and transports.
func NewDispatcher(cat *catalog.Catalog, source transportSource, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		catalog: cat,
		source:  source,
		logger:  logger,
	}
}

// Call looks up the tool's owner and forwards the invocation. An unknown
// tool fails immediately without touching any transport. A timeout <= 0
// uses the transport's configured default.
func (d *Dispatcher) Call(ctx context.Context, tool string, args json.RawMessage, timeout time.Duration) (json.RawMessage, error) {
	entry, ok := d.catalog.Lookup(tool)
	if !ok {
		return nil, &ToolError{
			Kind:    KindToolNotFound,
			Tool:    tool,
			Message: fmt.Sprintf("no server advertises tool %q", tool),
		}
	}

	tr, ok := d.source.Transport(entry.Owner)
	if !ok {
		return nil, &ToolError{
			Kind:    KindDisconnected,
			Tool:    tool,
			Server:  entry.Owner,
			Message: fmt.Sprintf("server %q is no longer connected", entry.Owner),
		}
	}

	d.logger.Info("→ dispatching tool call",
		"tool", tool,
		"server", entry.Owner,
	)

	started := time.Now()
	result, err := tr.Invoke(ctx, tool, args, timeout)
	if err != nil {
		norm := normalizeCallError(tool, entry.Owner, err)
		d.logger.Warn("← tool call failed",
			"tool", tool,
			"server", entry.Owner,
			"elapsed", time.Since(started).String(),
			"error", norm,
		)
		return nil, norm
	}

	d.logger.Info("← tool call completed",
		"tool", tool,
		"server", entry.Owner,
		"elapsed", time.Since(started).String(),
	)
	return result, nil
}
