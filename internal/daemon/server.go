// Package daemon serves the reconstruction engine over a local HTTP API:
// session discovery, per-session summaries and message feeds, usage
// aggregates, the project registry, and a websocket scan-progress stream.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/janekbaraniewski/sessionlens/internal/config"
	"github.com/janekbaraniewski/sessionlens/internal/core"
	"github.com/janekbaraniewski/sessionlens/internal/logsource"
	"github.com/janekbaraniewski/sessionlens/internal/project"
	"github.com/janekbaraniewski/sessionlens/internal/telemetry"
	"github.com/janekbaraniewski/sessionlens/internal/version"
)

type Service struct {
	cfg      config.Config
	sources  []logsource.Source
	cache    *telemetry.AggregationCache
	store    *project.Store
	location *time.Location
	verbose  bool

	logMu     sync.Mutex
	lastLogAt map[string]time.Time
}

type Options struct {
	Verbose bool
}

// RunServer starts the HTTP API and blocks until SIGINT/SIGTERM.
func RunServer(cfg config.Config, opts Options) error {
	if !opts.Verbose {
		log.SetOutput(io.Discard)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	svc, err := NewService(cfg, opts)
	if err != nil {
		return err
	}
	defer svc.Close()

	if cfg.Server.WatchSources {
		watcher, err := newSourceWatcher(svc)
		if err != nil {
			svc.warnf("watcher_start_error", "error=%v", err)
		} else {
			go watcher.Run(ctx)
		}
	}

	if err := svc.serveHTTP(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	svc.infof("daemon_stop", "reason=signal")
	return nil
}

func NewService(cfg config.Config, opts Options) (*Service, error) {
	store, err := project.OpenStore(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	return &Service{
		cfg:       cfg,
		sources:   Sources(cfg),
		cache:     telemetry.NewAggregationCache(cfg.CacheTTL()),
		store:     store,
		location:  cfg.Location(),
		verbose:   opts.Verbose,
		lastLogAt: make(map[string]time.Time),
	}, nil
}

// Sources builds the transcript source list from config. The Claude alt
// directory is included alongside the primary one; DiscoverAll merges
// sessions by tool and id so a session logged in both shows up once, with
// the union of its files.
func Sources(cfg config.Config) []logsource.Source {
	sources := []logsource.Source{
		{Adapter: logsource.NewCodexAdapter(), Root: cfg.Sources.CodexSessionsDir},
		{Adapter: logsource.NewClaudeAdapter(), Root: cfg.Sources.ClaudeProjectsDir},
	}
	if cfg.Sources.ClaudeConfigDir != "" {
		sources = append(sources, logsource.Source{
			Adapter: logsource.NewClaudeAdapter(),
			Root:    cfg.Sources.ClaudeConfigDir,
		})
	}
	return sources
}

func (s *Service) Close() error {
	if s == nil {
		return nil
	}
	return s.store.Close()
}

func (s *Service) aggregator(onProgress telemetry.ProgressFunc) *telemetry.Aggregator {
	return &telemetry.Aggregator{
		Sources:    s.sources,
		Location:   s.location,
		OnProgress: onProgress,
	}
}

func (s *Service) serveHTTP(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Server.ListenAddr, err)
	}
	s.infof("http_listening", "addr=%s", listener.Addr())

	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       20 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.infof("http_shutdown", "reason=context_done")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		_ = listener.Close()
	}()
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.warnf("http_server_error", "error=%v", err)
		}
	}()

	return nil
}

// Handler builds the full API mux.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/v1/projects", s.handleProjects)
	mux.HandleFunc("/v1/projects/", s.handleProjects)
	mux.HandleFunc("/v1/sessions", s.handleSessions)
	mux.HandleFunc("/v1/sessions/", s.handleSession)
	mux.HandleFunc("/v1/usage/total", s.handleUsageTotal)
	mux.HandleFunc("/v1/usage/daily", s.handleUsageDaily)
	mux.HandleFunc("/v1/scan/stream", s.handleScanStream)
	return mux
}

// --- Handlers ---

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	metricHTTPRequests.WithLabelValues("healthz").Inc()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": strings.TrimSpace(version.Version),
	})
}

func (s *Service) handleProjects(w http.ResponseWriter, r *http.Request) {
	metricHTTPRequests.WithLabelValues("projects").Inc()

	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/projects"), "/")
	switch {
	case rest == "":
		s.handleProjectCollection(w, r)
	case strings.HasSuffix(rest, "/sessions"):
		s.handleProjectSessions(w, r, strings.TrimSuffix(rest, "/sessions"))
	default:
		s.handleProjectItem(w, r, rest)
	}
}

func (s *Service) handleProjectCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		projects, err := s.store.List(r.Context())
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
	case http.MethodPost:
		var req struct {
			Name      string `json:"name"`
			Workspace string `json:"workspace"`
			Tool      string `json:"tool"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("decode project: %v", err))
			return
		}
		created, err := s.store.Create(r.Context(), req.Name, req.Workspace, req.Tool)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.infof("project_created", "id=%s workspace=%s", created.ID, created.Workspace)
		writeJSON(w, http.StatusCreated, created)
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Service) handleProjectItem(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		p, err := s.store.Get(r.Context(), id)
		if errors.Is(err, project.ErrNotFound) {
			writeJSONError(w, http.StatusNotFound, "project not found")
			return
		}
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, p)
	case http.MethodDelete:
		err := s.store.Delete(r.Context(), id)
		if errors.Is(err, project.ErrNotFound) {
			writeJSONError(w, http.StatusNotFound, "project not found")
			return
		}
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Service) handleProjectSessions(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	p, err := s.store.Get(r.Context(), id)
	if errors.Is(err, project.ErrNotFound) {
		writeJSONError(w, http.StatusNotFound, "project not found")
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.listSessions(w, r, p.Workspace, p.Tool)
}

func (s *Service) handleSessions(w http.ResponseWriter, r *http.Request) {
	metricHTTPRequests.WithLabelValues("sessions").Inc()
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.listSessions(w, r, r.URL.Query().Get("workspace"), r.URL.Query().Get("tool"))
}

type sessionListResult struct {
	Sessions []core.SessionMeta `json:"sessions"`
	Stats    core.ScanStats     `json:"stats"`
}

func (s *Service) listSessions(w http.ResponseWriter, r *http.Request, workspace, tool string) {
	key := "sessions|" + workspace + "|" + tool
	value, err := s.cachedGet(r, key, func(ctx context.Context) (any, error) {
		sources := s.sources
		if tool != "" {
			sources = nil
			for _, src := range s.sources {
				if src.Adapter.Tool() == tool {
					sources = append(sources, src)
				}
			}
		}
		sessions, stats, err := logsource.DiscoverAll(ctx, sources, workspace)
		if err != nil {
			return nil, err
		}
		if sessions == nil {
			sessions = []core.SessionMeta{}
		}
		observeScan(stats)
		return sessionListResult{Sessions: sessions, Stats: stats}, nil
	})
	if err != nil {
		s.writeScanError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, value)
}

func (s *Service) handleSession(w http.ResponseWriter, r *http.Request) {
	metricHTTPRequests.WithLabelValues("session").Inc()
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/sessions/"), "/")
	id, sub, _ := strings.Cut(rest, "/")
	if id == "" {
		writeJSONError(w, http.StatusBadRequest, "missing session id")
		return
	}

	meta, adapter, found, err := logsource.FindSession(r.Context(), s.sources, id)
	if err != nil {
		s.writeScanError(w, r, err)
		return
	}
	if !found {
		writeJSONError(w, http.StatusNotFound, "session not found")
		return
	}

	switch sub {
	case "":
		started := time.Now()
		summary, err := telemetry.BuildSessionSummary(r.Context(), adapter, meta)
		if err != nil {
			s.writeScanError(w, r, err)
			return
		}
		if elapsed := time.Since(started); elapsed >= 1500*time.Millisecond && s.shouldLog("session_summary_slow", 30*time.Second) {
			s.warnf("session_summary_slow", "id=%s duration_ms=%d", id, elapsed.Milliseconds())
		}
		writeJSON(w, http.StatusOK, summary)
	case "messages":
		before, err := parseOptionalInt(r.URL.Query().Get("before"))
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid before cursor")
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		if limit <= 0 {
			limit = s.cfg.PageSize
		}
		page, err := telemetry.SessionMessages(r.Context(), adapter, meta, before, limit)
		if err != nil {
			s.writeScanError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, page)
	default:
		writeJSONError(w, http.StatusNotFound, "unknown session resource")
	}
}

func (s *Service) handleUsageTotal(w http.ResponseWriter, r *http.Request) {
	metricHTTPRequests.WithLabelValues("usage_total").Inc()
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	value, err := s.cachedGet(r, "usage_total", func(ctx context.Context) (any, error) {
		total, stats, err := s.aggregator(nil).TotalUsage(ctx)
		if err != nil {
			return nil, err
		}
		observeScan(stats)
		return map[string]any{"usage": total, "stats": stats}, nil
	})
	if err != nil {
		s.writeScanError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, value)
}

func (s *Service) handleUsageDaily(w http.ResponseWriter, r *http.Request) {
	metricHTTPRequests.WithLabelValues("usage_daily").Inc()
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	days, _ := strconv.Atoi(r.URL.Query().Get("days"))
	if days <= 0 {
		days = 30
	}
	if days > 365 {
		days = 365
	}
	key := "usage_daily|" + strconv.Itoa(days)
	value, err := s.cachedGet(r, key, func(ctx context.Context) (any, error) {
		series, stats, err := s.aggregator(nil).DailyUsage(ctx, days)
		if err != nil {
			return nil, err
		}
		observeScan(stats)
		return map[string]any{"days": series, "stats": stats}, nil
	})
	if err != nil {
		s.writeScanError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, value)
}

// --- Cache plumbing ---

func (s *Service) cachedGet(r *http.Request, key string, compute func(context.Context) (any, error)) (any, error) {
	forceRefresh := r.URL.Query().Get("refresh") == "1"
	missed := false
	value, err := s.cache.Get(r.Context(), key, forceRefresh, func(ctx context.Context) (any, error) {
		missed = true
		metricCacheMisses.Inc()
		return compute(ctx)
	})
	if err == nil && !missed {
		metricCacheHits.Inc()
	}
	return value, err
}

func (s *Service) writeScanError(w http.ResponseWriter, r *http.Request, err error) {
	if r.Context().Err() != nil {
		// Client went away; nothing useful to write.
		return
	}
	s.warnf("scan_error", "path=%s error=%v", r.URL.Path, err)
	writeJSONError(w, http.StatusInternalServerError, err.Error())
}

func observeScan(stats core.ScanStats) {
	metricScansTotal.Inc()
	metricScanFiles.Add(float64(stats.Files))
	metricScanSkippedLines.Add(float64(stats.SkippedLines))
	metricScanFileErrors.Add(float64(stats.FileErrors))
}

// --- Logging ---

func (s *Service) infof(event, format string, args ...any) {
	if s == nil || !s.verbose {
		return
	}
	if strings.TrimSpace(format) == "" {
		log.Printf("daemon level=info event=%s", event)
		return
	}
	log.Printf("daemon level=info event=%s "+format, append([]any{event}, args...)...)
}

func (s *Service) warnf(event, format string, args ...any) {
	if s == nil || !s.verbose {
		return
	}
	if strings.TrimSpace(format) == "" {
		log.Printf("daemon level=warn event=%s", event)
		return
	}
	log.Printf("daemon level=warn event=%s "+format, append([]any{event}, args...)...)
}

func (s *Service) shouldLog(key string, interval time.Duration) bool {
	if s == nil {
		return false
	}
	s.logMu.Lock()
	defer s.logMu.Unlock()
	now := time.Now()
	if interval > 0 {
		if last, ok := s.lastLogAt[key]; ok && now.Sub(last) < interval {
			return false
		}
	}
	s.lastLogAt[key] = now
	return true
}

// --- Helpers ---

func parseOptionalInt(raw string) (*int, error) {
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
