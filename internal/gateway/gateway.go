// ABOUTME: Lifecycle manager: brings transports up, monitors health events,
// ABOUTME: refreshes the catalog on recovery, and tears everything down.

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/2389/toolgate/internal/catalog"
	"github.com/2389/toolgate/internal/descriptor"
	"github.com/2389/toolgate/internal/transport"
	"github.com/2389/toolgate/internal/wire"
)

// Config assembles everything the gateway needs. The descriptor store is
// already validated; the gateway consumes it as given.
type Config struct {
	Store     *descriptor.Store
	Transport transport.Options
	Logger    *slog.Logger
}

// Gateway owns every transport handle exclusively: it is the only component
// that opens or closes them. The orchestrator talks to tools through the
// Dispatcher; the gateway keeps the catalog in step with transport health.
type Gateway struct {
	store      *descriptor.Store
	opts       transport.Options
	logger     *slog.Logger
	catalog    *catalog.Catalog
	dispatcher *Dispatcher

	mu         sync.RWMutex
	transports map[string]transport.Transport
	order      []string

	done     chan struct{}
	shutdown sync.Once
	wg       sync.WaitGroup

	// newTransport is a seam for tests; production wiring selects the
	// variant from the descriptor kind.
	newTransport func(descriptor.Server) transport.Transport
}

// New creates a Gateway from validated configuration.
func New(cfg Config) (*Gateway, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("gateway: descriptor store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	g := &Gateway{
		store:      cfg.Store,
		opts:       cfg.Transport,
		logger:     logger,
		catalog:    catalog.New(logger),
		transports: make(map[string]transport.Transport),
		done:       make(chan struct{}),
	}
	g.dispatcher = NewDispatcher(g.catalog, g, logger)
	g.newTransport = func(d descriptor.Server) transport.Transport {
		switch d.Kind {
		case descriptor.KindStream:
			return transport.NewStream(d, g.opts, logger)
		default:
			return transport.NewProcess(d, g.opts, logger)
		}
	}
	return g, nil
}

// Catalog exposes the merged tool catalog.
func (g *Gateway) Catalog() *catalog.Catalog { return g.catalog }

// Dispatcher exposes the call entry point.
func (g *Gateway) Dispatcher() *Dispatcher { return g.dispatcher }

// Transport returns the live transport for a server name.
func (g *Gateway) Transport(server string) (transport.Transport, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	t, ok := g.transports[server]
	return t, ok
}

type startResult struct {
	tr    transport.Transport
	tools []wire.Tool
	err   error
}

// Start opens every configured transport concurrently, then registers tool
// lists with the catalog strictly in configuration order, so a tool name
// advertised by two servers deterministically resolves to the later entry.
// A single failed server is logged and skipped; it never aborts the gateway.
func (g *Gateway) Start(ctx context.Context) error {
	descs := g.store.All()
	g.logger.Info("starting gateway", "servers", len(descs))

	results := make([]startResult, len(descs))
	var eg errgroup.Group
	for i, d := range descs {
		i, d := i, d
		eg.Go(func() error {
			results[i] = g.startOne(ctx, d)
			return nil
		})
	}
	_ = eg.Wait()

	started := 0
	for i, d := range descs {
		res := results[i]
		if res.err != nil {
			g.logger.Error("server startup failed, its tools will be unavailable",
				"server", d.Name,
				"kind", string(d.Kind),
				"error", res.err,
			)
			continue
		}

		g.mu.Lock()
		g.transports[d.Name] = res.tr
		g.order = append(g.order, d.Name)
		g.mu.Unlock()

		g.catalog.Register(d.Name, res.tools)

		g.wg.Add(1)
		go g.watch(res.tr)
		started++
	}

	g.logger.Info("gateway started",
		"servers_up", started,
		"servers_failed", len(descs)-started,
		"tools", g.catalog.Len(),
	)
	return nil
}

// startOne opens one transport and fetches its tool list. On any failure the
// transport is stopped so no handle leaks out of a failed startup.
func (g *Gateway) startOne(ctx context.Context, d descriptor.Server) startResult {
	tr := g.newTransport(d)
	if err := tr.Start(ctx); err != nil {
		_ = tr.Stop(ctx)
		return startResult{err: err}
	}
	tools, err := tr.ListTools(ctx)
	if err != nil {
		_ = tr.Stop(ctx)
		return startResult{err: fmt.Errorf("listing tools: %w", err)}
	}
	return startResult{tr: tr, tools: tools}
}

// watch consumes one transport's health events. Recovery from Degraded back
// to Ready refreshes that server's catalog entries; a terminal Closed removes
// them. Other servers are never affected.
func (g *Gateway) watch(tr transport.Transport) {
	defer g.wg.Done()

	sawDegraded := false
	for {
		select {
		case <-g.done:
			return
		case ev := <-tr.Events():
			switch ev.State {
			case transport.StateDegraded:
				sawDegraded = true
				g.logger.Warn("server degraded, reconnection in progress", "server", ev.Server)
			case transport.StateReady:
				if sawDegraded {
					sawDegraded = false
					g.refresh(tr)
				}
			case transport.StateClosed:
				g.catalog.Remove(ev.Server)
				return
			}
		}
	}
}

// refresh re-registers one server's tool list after it recovers. When the
// remote list is unchanged the catalog snapshot comes out identical.
func (g *Gateway) refresh(tr transport.Transport) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tools, err := tr.ListTools(ctx)
	if err != nil {
		g.logger.Warn("refreshing tool list after recovery failed",
			"server", tr.Server(),
			"error", err,
		)
		return
	}
	g.catalog.Register(tr.Server(), tools)
}

// Shutdown stops every transport in reverse startup order, each bounded by
// its own grace period, and waits for the event watchers to drain. No process
// handle or socket survives, regardless of which transports failed earlier.
func (g *Gateway) Shutdown(ctx context.Context) {
	g.shutdown.Do(func() {
		close(g.done)

		g.mu.RLock()
		order := append([]string(nil), g.order...)
		g.mu.RUnlock()

		for i := len(order) - 1; i >= 0; i-- {
			tr, ok := g.Transport(order[i])
			if !ok {
				continue
			}
			if err := tr.Stop(ctx); err != nil {
				g.logger.Warn("stopping transport", "server", order[i], "error", err)
			}
		}

		g.wg.Wait()
		g.logger.Info("gateway stopped")
	})
}
