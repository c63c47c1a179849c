package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/sonde/catalog"
	"github.com/hazyhaar/sonde/dbopen"
	"github.com/hazyhaar/sonde/observability"
	"github.com/hazyhaar/sonde/recon"
	"github.com/hazyhaar/sonde/shield"
	"github.com/hazyhaar/sonde/sources"
)

const workerName = "sonde"

func main() {
	port := env("PORT", "8086")
	catalogPath := env("CATALOG_FILE", "configs/sources.yaml")
	auditPath := env("AUDIT_DB", "db/audit.db")
	mcpTransport := env("MCP_TRANSPORT", "")
	logLevel := env("LOG_LEVEL", "info")

	// Logging.
	var lvl slog.Level
	switch logLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	// Signal context.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Audit DB.
	auditDB, err := dbopen.Open(auditPath, dbopen.WithMkdirAll())
	if err != nil {
		slog.Error("audit db", "error", err)
		os.Exit(1)
	}
	defer auditDB.Close()
	if err := observability.Init(auditDB); err != nil {
		slog.Error("audit init", "error", err)
		os.Exit(1)
	}
	auditLogger := observability.NewAuditLogger(auditDB, 1000)
	defer auditLogger.Close()

	// Heartbeats.
	hb := observability.NewHeartbeatWriter(auditDB, workerName, 15*time.Second)
	hb.Start(ctx)
	defer hb.Stop()

	// Catalog. A missing file degrades to zero sources, the server
	// still answers.
	cat := catalog.Load(catalogPath, logger)

	// Handler registry over the shared HTTP client.
	registry := sources.NewRegistry(sources.Config{})

	// Engine.
	svc, err := recon.New(cat, registry, recon.ConfigFromSettings(cat.Settings()), logger,
		recon.WithAudit(auditLogger))
	if err != nil {
		slog.Error("recon service", "error", err)
		os.Exit(1)
	}

	// Optional MCP over stdio. The HTTP API keeps running alongside.
	if mcpTransport == "stdio" {
		mcpSrv := mcp.NewServer(&mcp.Implementation{
			Name:    "sonde",
			Version: "1.0.0",
		}, nil)
		svc.RegisterMCP(mcpSrv)
		go func() {
			if err := mcpSrv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				slog.Error("MCP stdio", "error", err)
			}
		}()
	}

	// Router.
	r := chi.NewRouter()
	for _, mw := range shield.Stack(shield.DefaultRateLimits()) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		hs, err := observability.LatestHeartbeat(r.Context(), auditDB, workerName, 45*time.Second)
		if err != nil {
			writeError(w, 500, err)
			return
		}
		writeJSON(w, 200, map[string]any{"status": "ok", "heartbeat": hs})
	})

	r.Post("/api/search", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Query      string `json:"query"`
			SearchType string `json:"search_type"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, 400, err)
			return
		}
		report, err := svc.Run(r.Context(), req.Query, req.SearchType)
		if err != nil {
			writeError(w, 400, err)
			return
		}
		writeJSON(w, 200, report)
	})

	r.Get("/api/sources", func(w http.ResponseWriter, r *http.Request) {
		list, err := svc.Sources(r.URL.Query().Get("category"))
		if err != nil {
			writeError(w, 400, err)
			return
		}
		writeJSON(w, 200, list)
	})

	r.Post("/api/sources/{sourceID}/query", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Query string `json:"query"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, 400, err)
			return
		}
		envelope, err := svc.QuerySource(r.Context(), chi.URLParam(r, "sourceID"), req.Query)
		if err != nil {
			writeError(w, 404, err)
			return
		}
		writeJSON(w, 200, envelope)
	})

	r.Get("/api/export", func(w http.ResponseWriter, r *http.Request) {
		format := r.URL.Query().Get("format")
		if format == "" {
			format = "json"
		}
		out, err := svc.Export(format)
		if err != nil {
			writeError(w, 400, err)
			return
		}
		switch format {
		case "csv":
			w.Header().Set("Content-Type", "text/csv")
		default:
			w.Header().Set("Content-Type", "application/json")
		}
		w.Write([]byte(out))
	})

	r.Delete("/api/cache", func(w http.ResponseWriter, r *http.Request) {
		svc.ClearCache()
		writeJSON(w, 200, map[string]string{"status": "cleared"})
	})

	r.Get("/api/audit", func(w http.ResponseWriter, r *http.Request) {
		f := &observability.AuditFilter{
			Limit:  queryInt(r, "limit", 100),
			Offset: queryInt(r, "offset", 0),
		}
		if c := r.URL.Query().Get("component"); c != "" {
			f.ComponentName = &c
		}
		if s := r.URL.Query().Get("status"); s != "" {
			f.Status = &s
		}
		entries, err := auditLogger.Query(r.Context(), f)
		if err != nil {
			writeError(w, 400, err)
			return
		}
		writeJSON(w, 200, entries)
	})

	// HTTP server.
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "port", port, "sources", cat.Len())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
	slog.Info("server stopped")
}

// --- Helpers ---

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
