package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"
)

// ============================================================================
// Caching worker
// ============================================================================
// An HTTP cache in front of the web UI origin. Install precaches a fixed list of
// paths into a fresh generation and activates it at once; activation drops every
// other cache name. Scheduled update checks build a pending generation that only
// goes live on a SKIP_WAITING message.
// ============================================================================

// FrameBroadcaster fans a pre-serialized frame out to connected clients.
type FrameBroadcaster interface {
	BroadcastBytes(msg []byte)
}

// WorkerConfig configures the caching worker.
type WorkerConfig struct {
	CacheName string
	Precache  []string
	Client    *http.Client
}

type cachedResponse struct {
	status int
	header http.Header
	body   []byte

	// crossOrigin is set when the fetch was redirected off the upstream host.
	crossOrigin bool
}

type cacheGeneration struct {
	entries map[string]cachedResponse
	created time.Time
}

func newCacheGeneration() *cacheGeneration {
	return &cacheGeneration{entries: make(map[string]cachedResponse), created: time.Now()}
}

// CacheWorker owns the named caches and the upstream it fills them from.
type CacheWorker struct {
	cfg    WorkerConfig
	client *http.Client
	bcast  FrameBroadcaster
	logger *slog.Logger

	mu       sync.RWMutex
	caches   map[string]*cacheGeneration // by cache name
	active   string                      // cache name serving requests
	pending  *cacheGeneration            // waiting for SKIP_WAITING
	upstream *url.URL                    // set by a successful Install
}

var (
	errWorkerNotInstalled = errors.New("worker not installed")
	errNoPendingUpdate    = errors.New("no pending update")
)

// NewCacheWorker constructs a worker. bcast may be nil.
func NewCacheWorker(cfg WorkerConfig, bcast FrameBroadcaster, logger *slog.Logger) *CacheWorker {
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &CacheWorker{
		cfg:    cfg,
		client: client,
		bcast:  bcast,
		logger: logger,
		caches: make(map[string]*cacheGeneration),
	}
}

// Install precaches every configured path from base and activates the result.
// Any failed fetch fails the whole install and leaves the previous state alone.
func (w *CacheWorker) Install(ctx context.Context, base string) error {
	u, err := url.Parse(base)
	if err != nil {
		return fmt.Errorf("parse base %q: %w", base, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("base %q must be an absolute URL", base)
	}

	gen, err := w.precache(ctx, u)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.upstream = u
	w.caches[w.cfg.CacheName] = gen
	w.mu.Unlock()

	w.logger.Info("worker installed", "base", base, "cache", w.cfg.CacheName, "entries", len(gen.entries))
	w.activate()
	return nil
}

// CheckForUpdate re-fetches the precache list into a pending generation.
func (w *CacheWorker) CheckForUpdate(ctx context.Context) error {
	w.mu.RLock()
	u := w.upstream
	w.mu.RUnlock()
	if u == nil {
		return errWorkerNotInstalled
	}

	gen, err := w.precache(ctx, u)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.pending = gen
	w.mu.Unlock()
	w.logger.Info("worker update waiting", "cache", w.cfg.CacheName, "entries", len(gen.entries))
	return nil
}

// SkipWaiting promotes the pending generation, if any.
func (w *CacheWorker) SkipWaiting() error {
	w.mu.Lock()
	gen := w.pending
	w.pending = nil
	if gen != nil {
		w.caches[w.cfg.CacheName] = gen
	}
	w.mu.Unlock()

	if gen == nil {
		return errNoPendingUpdate
	}
	w.activate()
	return nil
}

// activate makes the configured cache name current and deletes every other one.
func (w *CacheWorker) activate() {
	w.mu.Lock()
	var deleted []string
	for name := range w.caches {
		if name != w.cfg.CacheName {
			delete(w.caches, name)
			deleted = append(deleted, name)
		}
	}
	w.active = w.cfg.CacheName
	w.mu.Unlock()

	for _, name := range deleted {
		w.logger.Info("worker deleted old cache", "cache", name)
	}
	w.logger.Info("worker activated", "cache", w.cfg.CacheName)
}

func (w *CacheWorker) precache(ctx context.Context, base *url.URL) (*cacheGeneration, error) {
	gen := newCacheGeneration()
	for _, p := range w.cfg.Precache {
		target := base.ResolveReference(&url.URL{Path: p})
		resp, err := w.fetch(ctx, target)
		if err != nil {
			return nil, fmt.Errorf("precache %s: %w", p, err)
		}
		if resp.status != http.StatusOK || resp.crossOrigin {
			return nil, fmt.Errorf("precache %s: status %d", p, resp.status)
		}
		gen.entries[cacheKey(target)] = resp
	}
	return gen, nil
}

func (w *CacheWorker) fetch(ctx context.Context, target *url.URL) (cachedResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return cachedResponse{}, err
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return cachedResponse{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return cachedResponse{}, err
	}
	out := cachedResponse{status: resp.StatusCode, header: resp.Header.Clone(), body: body}

	// A redirect to another origin is not "basic": never cache it.
	if resp.Request != nil && resp.Request.URL.Host != target.Host {
		out.crossOrigin = true
	}
	return out, nil
}

func cacheKey(u *url.URL) string {
	key := u.Path
	if key == "" {
		key = "/"
	}
	if u.RawQuery != "" {
		key += "?" + u.RawQuery
	}
	return key
}

// CacheNames returns the names currently held, for diagnostics and tests.
func (w *CacheWorker) CacheNames() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	names := make([]string, 0, len(w.caches))
	for name := range w.caches {
		names = append(names, name)
	}
	return names
}

// ============================================================================
// HTTP surface
// ============================================================================

// workerMessage is the body of POST /_worker/messages.
type workerMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Router returns the worker's HTTP handler: the message endpoint plus the
// caching proxy for everything else.
func (w *CacheWorker) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware)
	r.Post("/_worker/messages", w.handleMessage)
	r.Get("/*", w.handleFetch)
	return r
}

func (w *CacheWorker) handleMessage(rw http.ResponseWriter, r *http.Request) {
	var msg workerMessage
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&msg); err != nil {
		writeJSONError(rw, http.StatusBadRequest, fmt.Sprintf("decode message: %v", err))
		return
	}

	switch msg.Type {
	case "SKIP_WAITING":
		if err := w.SkipWaiting(); err != nil {
			w.logger.Debug("skip waiting ignored", "error", err)
		}
		writeJSON(rw, http.StatusOK, map[string]string{"status": "ok"})

	case "HEADPHONE_EVENT":
		frame, err := json.Marshal(workerMessage{Type: "HEADPHONE_EVENT_BACKGROUND", Data: msg.Data})
		if err != nil {
			writeJSONError(rw, http.StatusInternalServerError, err.Error())
			return
		}
		if w.bcast != nil {
			w.bcast.BroadcastBytes(frame)
		}
		w.logger.Debug("headphone event rebroadcast", "bytes", len(frame))
		writeJSON(rw, http.StatusOK, map[string]string{"status": "ok"})

	default:
		writeJSONError(rw, http.StatusBadRequest, fmt.Sprintf("unknown message type: %q", msg.Type))
	}
}

func (w *CacheWorker) handleFetch(rw http.ResponseWriter, r *http.Request) {
	w.mu.RLock()
	upstream := w.upstream
	var hit cachedResponse
	found := false
	if gen := w.caches[w.active]; gen != nil {
		hit, found = gen.entries[cacheKey(r.URL)]
	}
	w.mu.RUnlock()

	if found {
		cacheRequestsTotal.WithLabelValues("hit").Inc()
		writeCached(rw, hit)
		return
	}
	if upstream == nil {
		cacheRequestsTotal.WithLabelValues("error").Inc()
		writeJSONError(rw, http.StatusServiceUnavailable, errWorkerNotInstalled.Error())
		return
	}

	target := upstream.ResolveReference(&url.URL{Path: r.URL.Path, RawQuery: r.URL.RawQuery})
	resp, err := w.fetch(r.Context(), target)
	if err != nil {
		cacheRequestsTotal.WithLabelValues("error").Inc()
		w.logger.Warn("worker fetch failed", "url", target.String(), "error", err)
		writeJSONError(rw, http.StatusBadGateway, "upstream fetch failed")
		return
	}

	if resp.status != http.StatusOK || resp.crossOrigin {
		cacheRequestsTotal.WithLabelValues("bypass").Inc()
		writeCached(rw, resp)
		return
	}

	w.mu.Lock()
	if gen := w.caches[w.active]; gen != nil {
		gen.entries[cacheKey(r.URL)] = resp
	}
	w.mu.Unlock()
	cacheRequestsTotal.WithLabelValues("miss").Inc()
	writeCached(rw, resp)
}

// hopHeaders are not forwarded from cached responses.
var hopHeaders = []string{"Connection", "Keep-Alive", "Transfer-Encoding", "Content-Length"}

func writeCached(rw http.ResponseWriter, c cachedResponse) {
	for k, vs := range c.header {
		skip := false
		for _, h := range hopHeaders {
			if strings.EqualFold(k, h) {
				skip = true
				break
			}
		}
		if skip {
			continue
		}
		for _, v := range vs {
			rw.Header().Add(k, v)
		}
	}
	rw.WriteHeader(c.status)
	_, _ = rw.Write(c.body)
}

// ============================================================================
// Update schedule
// ============================================================================

// runWorkerUpdates checks for a new precache generation on schedule until ctx is
// canceled. An empty schedule disables update checks.
func runWorkerUpdates(ctx context.Context, w *CacheWorker, schedule string, logger *slog.Logger) error {
	if schedule == "" {
		<-ctx.Done()
		return nil
	}

	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		checkCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := w.CheckForUpdate(checkCtx); err != nil {
			logger.Warn("worker update check failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("worker update schedule %q: %w", schedule, err)
	}

	c.Start()
	logger.Info("worker update schedule active", "schedule", schedule)

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// validateCronSchedule checks a standard five-field cron expression.
func validateCronSchedule(schedule string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}
