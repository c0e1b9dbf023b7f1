// ABOUTME: Thread-safe catalog merging tool descriptors from every live server.
// ABOUTME: Name collisions across servers resolve last-write-wins, never merged.

package catalog

import (
	"encoding/json"
	"log/slog"
	"sort"
	"sync"

	"github.com/2389/toolgate/internal/wire"
)

// Tool is a catalog entry: one advertised tool plus the name of the server
// that advertised it. Owner is a lookup reference, not ownership.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
	Owner       string          `json:"owner"`
}

// Catalog is the merged, name-addressable table of all known tools.
// One writer lock for the whole table; write frequency is low.
type Catalog struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	logger *slog.Logger
}

// New creates an empty Catalog.
func New(logger *slog.Logger) *Catalog {
	return &Catalog{
		tools:  make(map[string]Tool),
		logger: logger,
	}
}

// Register replaces every entry previously owned by server with the new set.
// A tool name already registered by a different server is silently
// overwritten: whichever server registered last owns the name.
func (c *Catalog) Register(server string, tools []wire.Tool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for name, t := range c.tools {
		if t.Owner == server {
			delete(c.tools, name)
		}
	}

	for _, t := range tools {
		if prev, ok := c.tools[t.Name]; ok && prev.Owner != server {
			c.logger.Debug("tool name collision, last registration wins",
				"tool", t.Name,
				"previous_owner", prev.Owner,
				"new_owner", server,
			)
		}
		c.tools[t.Name] = Tool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
			Owner:       server,
		}
	}

	c.logger.Info("catalog updated",
		"server", server,
		"tool_count", len(tools),
		"total_tools", len(c.tools),
	)
}

// Remove drops every entry owned by server.
func (c *Catalog) Remove(server string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for name, t := range c.tools {
		if t.Owner == server {
			delete(c.tools, name)
			removed++
		}
	}
	if removed > 0 {
		c.logger.Info("catalog entries removed",
			"server", server,
			"removed", removed,
			"total_tools", len(c.tools),
		)
	}
}

// Lookup returns the entry for a tool name, if any.
func (c *Catalog) Lookup(name string) (Tool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tools[name]
	return t, ok
}

// Snapshot returns a copy of the full current mapping.
func (c *Catalog) Snapshot() map[string]Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap := make(map[string]Tool, len(c.tools))
	for name, t := range c.tools {
		snap[name] = t
	}
	return snap
}

// Names returns all registered tool names, sorted.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.tools))
	for name := range c.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered tools.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tools)
}
