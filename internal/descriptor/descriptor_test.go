// ABOUTME: Tests for descriptor validation and store lookups.
// ABOUTME: Verifies every violation is collected, not just the first.

package descriptor

import (
	"errors"
	"testing"
)

func validProcess(name string) Server {
	return Server{Name: name, Kind: KindProcess, Command: "server-bin"}
}

func validStream(name string) Server {
	return Server{Name: name, Kind: KindStream, URL: "http://localhost:9000/events"}
}

func TestLoadValid(t *testing.T) {
	store, err := Load([]Server{validProcess("alpha"), validStream("beta")})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if store.Len() != 2 {
		t.Errorf("expected 2 servers, got %d", store.Len())
	}

	d, ok := store.Get("beta")
	if !ok {
		t.Fatal("expected to find beta")
	}
	if d.Kind != KindStream {
		t.Errorf("expected stream kind, got %q", d.Kind)
	}
	if _, ok := store.Get("missing"); ok {
		t.Error("expected missing lookup to fail")
	}
}

func TestLoadPreservesOrder(t *testing.T) {
	store, err := Load([]Server{validProcess("c"), validProcess("a"), validProcess("b")})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	want := []string{"c", "a", "b"}
	for i, d := range store.All() {
		if d.Name != want[i] {
			t.Errorf("position %d: expected %q, got %q", i, want[i], d.Name)
		}
	}
}

func TestLoadCollectsAllViolations(t *testing.T) {
	_, err := Load([]Server{
		{Name: "", Kind: KindProcess},                                     // missing name, missing command
		{Name: "dup", Kind: KindProcess, Command: "x"},                    // ok
		{Name: "dup", Kind: KindStream, URL: "http://x"},                  // duplicate name
		{Name: "mixed", Kind: KindProcess, Command: "x", URL: "http://x"}, // url on process
		{Name: "nokind"},                                                  // missing kind
		{Name: "weird", Kind: "carrier-pigeon"},                           // unknown kind
	})
	if err == nil {
		t.Fatal("expected validation to fail")
	}

	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *ConfigError, got %T", err)
	}
	if len(cfgErr.Violations) != 6 {
		t.Errorf("expected 6 violations, got %d: %v", len(cfgErr.Violations), cfgErr.Violations)
	}
}

func TestLoadKindFieldRules(t *testing.T) {
	tests := []struct {
		name    string
		server  Server
		wantErr bool
	}{
		{"process needs command", Server{Name: "p", Kind: KindProcess}, true},
		{"stream needs url", Server{Name: "s", Kind: KindStream}, true},
		{"stream rejects command", Server{Name: "s", Kind: KindStream, URL: "http://x", Command: "bin"}, true},
		{"process with env ok", Server{Name: "p", Kind: KindProcess, Command: "bin", Env: map[string]string{"A": "1"}}, false},
		{"stream with headers ok", Server{Name: "s", Kind: KindStream, URL: "http://x", Headers: map[string]string{"Authorization": "Bearer t"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load([]Server{tt.server})
			if tt.wantErr && err == nil {
				t.Error("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}
