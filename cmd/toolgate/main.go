// ABOUTME: Entry point for the toolgate tool-server gateway CLI.
// ABOUTME: Checks config, lists the merged catalog, dispatches calls, serves.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/toolgate/internal/config"
	"github.com/2389/toolgate/internal/descriptor"
	"github.com/2389/toolgate/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
 _              _            _
| |_ ___   ___ | | __ _  __ _| |_ ___
| __/ _ \ / _ \| |/ _' |/ _' | __/ _ \
| || (_) | (_) | | (_| | (_| | ||  __/
 \__\___/ \___/|_|\__, |\__,_|\__\___|
                  |___/
`

// getConfigPath returns the path to the toolgate config file.
// Priority: TOOLGATE_CONFIG env var > XDG_CONFIG_HOME/toolgate/toolgate.yaml >
// ~/.config/toolgate/toolgate.yaml
func getConfigPath() string {
	if envPath := os.Getenv("TOOLGATE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "toolgate.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "toolgate", "toolgate.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: toolgate <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                 Start the gateway and keep servers connected")
		fmt.Println("  check                 Validate config and verify server commands")
		fmt.Println("  tools                 Connect to all servers and list the merged catalog")
		fmt.Println("  call <tool> [json]    Dispatch one tool call and print the result")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "check":
		err = runCheck()
	case "tools":
		err = runTools(ctx)
	case "call":
		err = runCall(ctx, os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// load reads the config file and validates the server descriptors.
func load() (*config.Config, *descriptor.Store, error) {
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config %s: %w", configPath, err)
	}
	store, err := descriptor.Load(cfg.Descriptors())
	if err != nil {
		return nil, nil, err
	}
	return cfg, store, nil
}

// startGateway builds the gateway from config and brings every server up.
func startGateway(ctx context.Context, cfg *config.Config, store *descriptor.Store) (*gateway.Gateway, error) {
	gw, err := gateway.New(gateway.Config{
		Store:     store,
		Transport: cfg.TransportOptions(),
		Logger:    setupLogger(cfg.Logging),
	})
	if err != nil {
		return nil, fmt.Errorf("creating gateway: %w", err)
	}
	if err := gw.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting gateway: %w", err)
	}
	return gw, nil
}

func runServe(ctx context.Context) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, store, err := load()
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:  %s\n", getConfigPath())
	green.Print("    ▶ ")
	fmt.Printf("Servers: %d\n", store.Len())
	if cfg.Introspect.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("HTTP:    %s\n", cfg.Introspect.Addr)
	}
	fmt.Println()

	gw, err := startGateway(ctx, cfg, store)
	if err != nil {
		return err
	}
	defer gw.Shutdown(context.Background())

	if cfg.Introspect.Enabled {
		stop := gw.ServeIntrospection(cfg.Introspect.Addr)
		defer stop(context.Background())
	}

	<-ctx.Done()
	return nil
}

// runCheck validates the config and verifies that every process server's
// command resolves on PATH, without starting anything.
func runCheck() error {
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return err
	}

	store, err := descriptor.Load(cfg.Descriptors())
	if err != nil {
		var cfgErr *descriptor.ConfigError
		if !errors.As(err, &cfgErr) {
			return err
		}
		for _, v := range cfgErr.Violations {
			red.Print("  ✗ ")
			fmt.Println(v)
		}
		return fmt.Errorf("config has %d problem(s)", len(cfgErr.Violations))
	}

	failed := 0
	for _, d := range store.All() {
		switch d.Kind {
		case descriptor.KindProcess:
			if _, err := exec.LookPath(d.Command); err != nil {
				red.Print("  ✗ ")
				fmt.Printf("%s: command %q not found in PATH\n", d.Name, d.Command)
				failed++
				continue
			}
			green.Print("  ✓ ")
			fmt.Printf("%s: %s\n", d.Name, d.Command)
		case descriptor.KindStream:
			green.Print("  ✓ ")
			fmt.Printf("%s: %s\n", d.Name, d.URL)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d server(s) failed verification", failed)
	}
	fmt.Printf("\n%d server(s) OK\n", store.Len())
	return nil
}

func runTools(ctx context.Context) error {
	cfg, store, err := load()
	if err != nil {
		return err
	}
	gw, err := startGateway(ctx, cfg, store)
	if err != nil {
		return err
	}
	defer gw.Shutdown(context.Background())

	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)

	snap := gw.Catalog().Snapshot()
	for _, name := range gw.Catalog().Names() {
		entry := snap[name]
		cyan.Printf("%s", name)
		gray.Printf("  (%s)\n", entry.Owner)
		if entry.Description != "" {
			fmt.Printf("    %s\n", entry.Description)
		}
	}
	fmt.Printf("\n%d tool(s) from %d server(s)\n", len(snap), store.Len())
	return nil
}

func runCall(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: toolgate call <tool> [json-arguments]")
	}
	toolName := args[0]
	toolArgs := json.RawMessage(`{}`)
	if len(args) > 1 {
		if !json.Valid([]byte(args[1])) {
			return fmt.Errorf("arguments are not valid JSON")
		}
		toolArgs = json.RawMessage(args[1])
	}

	cfg, store, err := load()
	if err != nil {
		return err
	}
	gw, err := startGateway(ctx, cfg, store)
	if err != nil {
		return err
	}
	defer gw.Shutdown(context.Background())

	result, err := gw.Dispatcher().Call(ctx, toolName, toolArgs, 0)
	if err != nil {
		return err
	}

	var pretty json.RawMessage = result
	if out, indentErr := json.MarshalIndent(json.RawMessage(result), "", "  "); indentErr == nil {
		pretty = out
	}
	fmt.Println(string(pretty))
	return nil
}
