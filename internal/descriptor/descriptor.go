// ABOUTME: Validated store of tool server descriptors consumed at startup.
// ABOUTME: Pure data; validation collects every violation, not just the first.

package descriptor

import (
	"fmt"
	"strings"
)

// Kind selects the transport variant for a server.
type Kind string

const (
	// KindProcess is a subprocess spawned and owned by the gateway,
	// spoken to over its stdin/stdout.
	KindProcess Kind = "process"

	// KindStream is an independently running HTTP server reached through
	// a long-lived event stream.
	KindStream Kind = "stream"
)

// Server describes one configured tool server. Immutable after load.
type Server struct {
	Name string
	Kind Kind

	// Process fields.
	Command string
	Args    []string
	Env     map[string]string

	// Stream fields.
	URL     string
	Headers map[string]string
}

// ConfigError reports every descriptor violation found during Load so
// operators can fix a whole batch of mistakes at once.
type ConfigError struct {
	Violations []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid server descriptors: %s", strings.Join(e.Violations, "; "))
}

// Store holds the validated descriptor list, preserving configuration order.
type Store struct {
	servers []Server
	byName  map[string]Server
}

// Load validates the descriptor list and returns a Store. Every descriptor
// needs a unique name, a recognized kind, and the fields that kind requires.
// Returns *ConfigError carrying all violations when any check fails.
func Load(servers []Server) (*Store, error) {
	var violations []string
	seen := make(map[string]bool, len(servers))

	for i, s := range servers {
		label := s.Name
		if label == "" {
			label = fmt.Sprintf("descriptor #%d", i+1)
			violations = append(violations, fmt.Sprintf("%s: name is required", label))
		} else if seen[s.Name] {
			violations = append(violations, fmt.Sprintf("%s: duplicate server name", label))
		}
		seen[s.Name] = true

		switch s.Kind {
		case KindProcess:
			if s.Command == "" {
				violations = append(violations, fmt.Sprintf("%s: command is required for process servers", label))
			}
			if s.URL != "" {
				violations = append(violations, fmt.Sprintf("%s: url is not valid for process servers", label))
			}
		case KindStream:
			if s.URL == "" {
				violations = append(violations, fmt.Sprintf("%s: url is required for stream servers", label))
			}
			if s.Command != "" {
				violations = append(violations, fmt.Sprintf("%s: command is not valid for stream servers", label))
			}
		case "":
			violations = append(violations, fmt.Sprintf("%s: kind is required (process or stream)", label))
		default:
			violations = append(violations, fmt.Sprintf("%s: unknown kind %q (want process or stream)", label, s.Kind))
		}
	}

	if len(violations) > 0 {
		return nil, &ConfigError{Violations: violations}
	}

	byName := make(map[string]Server, len(servers))
	for _, s := range servers {
		byName[s.Name] = s
	}
	return &Store{servers: append([]Server(nil), servers...), byName: byName}, nil
}

// All returns the descriptors in configuration order.
func (s *Store) All() []Server {
	return append([]Server(nil), s.servers...)
}

// Get looks up a descriptor by server name.
func (s *Store) Get(name string) (Server, bool) {
	d, ok := s.byName[name]
	return d, ok
}

// Len returns the number of configured servers.
func (s *Store) Len() int {
	return len(s.servers)
}
