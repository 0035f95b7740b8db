package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ============================================================================
// HTTP API
// ============================================================================
// Presentation boundary: reads go through the daemon loop as snapshot requests,
// writes are events. Nothing here touches DaemonState.
// ============================================================================

// apiState is the JSON shape of GET /api/state.
type apiState struct {
	LastEventTime *string  `json:"last_event_time"`
	IsSupported   bool     `json:"is_supported"`
	DebugInfo     []string `json:"debug_info"`
}

var errQueueFull = errors.New("event queue full")

// requestSnapshot asks the daemon loop for a StateSnapshot and waits for the
// reply. It gives up after snapshotWaitTimeout unless ctx has its own deadline.
func requestSnapshot(ctx context.Context, events chan<- Event) (StateSnapshot, error) {
	reply := make(chan StateSnapshot, 1)

	select {
	case <-ctx.Done():
		return StateSnapshot{}, ctx.Err()
	case events <- RequestStateSnapshot{Reply: reply}:
	}

	waitCtx := ctx
	if _, has := ctx.Deadline(); !has {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, snapshotWaitTimeout)
		defer cancel()
	}

	select {
	case <-waitCtx.Done():
		return StateSnapshot{}, waitCtx.Err()
	case snap := <-reply:
		return snap, nil
	}
}

// APIConfig holds what the router needs besides the event channel.
type APIConfig struct {
	AllowedOrigins []string
}

// NewAPIRouter builds the router for the API port: state, simulate, debug clear,
// the state websocket and Prometheus metrics.
func NewAPIRouter(cfg APIConfig, events chan<- Event, manual *ManualTrigger, ws *StateServer, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware)

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/api/state", func(w http.ResponseWriter, r *http.Request) {
		snap, err := requestSnapshot(r.Context(), events)
		if err != nil {
			logger.Warn("state snapshot request failed", "error", err)
			writeJSONError(w, http.StatusServiceUnavailable, "state unavailable")
			return
		}
		out := apiState{
			IsSupported: snap.IsSupported,
			DebugInfo:   snap.DebugInfo,
		}
		if out.DebugInfo == nil {
			out.DebugInfo = []string{}
		}
		if snap.HasEvent {
			t := snap.LastEventTime
			out.LastEventTime = &t
		}
		writeJSON(w, http.StatusOK, out)
	})

	r.Post("/api/simulate", func(w http.ResponseWriter, r *http.Request) {
		if !manual.SimulateEvent() {
			writeJSONError(w, http.StatusServiceUnavailable, errQueueFull.Error())
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "ok"})
	})

	r.Post("/api/debug/clear", func(w http.ResponseWriter, r *http.Request) {
		select {
		case events <- ClearDebugLog{}:
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "ok"})
		default:
			writeJSONError(w, http.StatusServiceUnavailable, errQueueFull.Error())
		}
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	if ws != nil {
		ws.Register(r, "/ws")
	}

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
		"code":  status,
	})
}

// runHTTPServer serves handler on port and shuts it down gracefully when ctx is
// canceled.
func runHTTPServer(ctx context.Context, name string, port int, handler http.Handler, logger *slog.Logger) error {
	listenAddr := fmt.Sprintf(":%d", port)
	logger.Info("http server listening", "server", name, "port", port)

	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		// ListenAndServe returns http.ErrServerClosed on Shutdown; treat that as clean exit.
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("%s server: %w", name, err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("%s server shutdown: %w", name, err)
		}
		<-errCh
		return nil

	case err := <-errCh:
		return err
	}
}
