// ABOUTME: Read-only introspection HTTP server: health, catalog, server states.
// ABOUTME: Debugging surface only; tool invocation never goes through it.

package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
)

// ServerStatus is one row of the /v1/servers view.
type ServerStatus struct {
	Name  string `json:"name"`
	Kind  string `json:"kind"`
	State string `json:"state"`
}

// Handler returns the introspection routes.
func (g *Gateway) Handler() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, g.logger, map[string]string{"status": "ok"})
	})

	r.Get("/v1/tools", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, g.logger, g.catalog.Snapshot())
	})

	r.Get("/v1/servers", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, g.logger, g.serverStatuses())
	})

	return cors.Default().Handler(r)
}

func (g *Gateway) serverStatuses() []ServerStatus {
	statuses := make([]ServerStatus, 0, g.store.Len())
	for _, d := range g.store.All() {
		status := ServerStatus{Name: d.Name, Kind: string(d.Kind), State: "closed"}
		if tr, ok := g.Transport(d.Name); ok {
			status.State = tr.State().String()
		}
		statuses = append(statuses, status)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
	return statuses
}

// ServeIntrospection starts the introspection server on addr. The returned
// shutdown function is bounded and safe to call once during gateway teardown.
func (g *Gateway) ServeIntrospection(addr string) func(context.Context) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           g.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		g.logger.Info("introspection server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			g.logger.Error("introspection server failed", "error", err)
		}
	}()

	return func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			g.logger.Warn("introspection server shutdown", "error", err)
		}
	}
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("writing introspection response", "error", err)
	}
}
