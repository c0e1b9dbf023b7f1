// Package gateway coordinates the toolgate server components.
//
// # Overview
//
// The gateway package owns every tool server connection. It brings transports
// up from the descriptor store, merges their advertised tools into the
// catalog, routes invocations through the dispatcher, and tears everything
// down in reverse order on shutdown.
//
// # Gateway Struct
//
// The Gateway struct is the main entry point:
//
//	type Gateway struct {
//	    store      *descriptor.Store
//	    catalog    *catalog.Catalog
//	    dispatcher *Dispatcher
//	    transports map[string]transport.Transport
//	    // ... and more
//	}
//
// Transports are never handed out for ownership; the dispatcher borrows them
// per call and the gateway alone opens and closes them.
//
// # Startup
//
// Start opens all configured transports concurrently. Tool registration then
// happens strictly in configuration order, so a tool name advertised by two
// servers deterministically belongs to the later config entry. A server that
// fails to start is logged and skipped; the rest of the gateway comes up.
//
// # Health Events
//
// Each transport publishes lifecycle transitions on its Events channel. The
// gateway runs one watcher per transport:
//
//   - Degraded: logged; the transport is redialing on its own
//   - Ready after Degraded: that server's tool list is re-fetched and
//     re-registered
//   - Closed: that server's catalog entries are removed and the watcher exits
//
// # Dispatch
//
// The orchestrator invokes tools through the Dispatcher:
//
//	result, err := gw.Dispatcher().Call(ctx, "search", args, 0)
//
// Failures come back as *ToolError with a Kind from the error taxonomy
// (tool-not-found, invocation-timeout, transport-disconnected, protocol-error,
// transport-startup, tool-error). Caller cancellation is passed through
// untranslated.
//
// # Introspection API
//
// http.go exposes a read-only debugging surface:
//
//   - GET /healthz - liveness check
//   - GET /v1/tools - current catalog snapshot
//   - GET /v1/servers - per-server transport states
//
// Tool invocation never goes through HTTP; this surface is for humans.
//
// # Lifecycle
//
// Start the gateway:
//
//	gw, err := gateway.New(gateway.Config{Store: store, Logger: logger})
//	err = gw.Start(ctx)
//
// Graceful shutdown:
//
//	gw.Shutdown(shutdownCtx)
//
// Shutdown stops transports in reverse startup order, each bounded by its
// grace period, and is safe to call more than once.
//
// # Key Files
//
//   - gateway.go: Gateway struct, startup, health watchers, shutdown
//   - dispatcher.go: tool name resolution and call forwarding
//   - errors.go: the ToolError taxonomy
//   - http.go: read-only introspection endpoints
package gateway
