package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/proxyfetch/internal/fetch"
	"github.com/sells-group/proxyfetch/internal/metrics"
	"github.com/sells-group/proxyfetch/internal/model"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve fetches and strategy stats over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		cfg.Server.Port = port
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		collector, err := metrics.New(nil)
		if err != nil {
			return err
		}

		env, err := initFetch(ctx, cfg, fetch.WithObserver(collector))
		if err != nil {
			return err
		}
		defer env.Close()

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           buildMux(env.Client, collector.Handler()),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// fetcher is the part of *fetch.Client the HTTP handlers use.
type fetcher interface {
	Fetch(ctx context.Context, req *fetch.Request) (*fetch.Response, error)
	Stats() map[string]model.StrategyStats
	Ranking() []string
}

// buildMux wires the HTTP routes. A nil client serves only /health and a nil
// metricsHandler leaves /metrics unmounted.
func buildMux(client fetcher, metricsHandler http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		ExposedHeaders: []string{"X-Fetch-Strategy"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	if client == nil {
		return r
	}

	r.Get("/fetch", func(w http.ResponseWriter, r *http.Request) {
		target := r.URL.Query().Get("url")
		if target == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "url is required"})
			return
		}

		resp, err := client.Fetch(r.Context(), &fetch.Request{URL: target})
		switch {
		case err == nil:
		case errors.Is(err, fetch.ErrRetriesExhausted):
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": "no response obtainable"})
			return
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			writeJSON(w, http.StatusGatewayTimeout, map[string]string{"error": "request cancelled"})
			return
		default:
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}

		if ct := resp.Header.Get("Content-Type"); ct != "" {
			w.Header().Set("Content-Type", ct)
		}
		w.Header().Set("X-Fetch-Strategy", resp.Strategy)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(resp.Body)
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		type row struct {
			Successes int     `json:"successes"`
			Attempts  int     `json:"attempts"`
			Rate      float64 `json:"rate"`
		}
		stats := client.Stats()
		rows := make(map[string]row, len(stats))
		for name, s := range stats {
			rows[name] = row{Successes: s.Successes, Attempts: s.Attempts, Rate: s.Rate()}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"ranking":    client.Ranking(),
			"strategies": rows,
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
