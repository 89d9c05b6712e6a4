package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/maxmed/visitstat/internal/config"
	"github.com/maxmed/visitstat/internal/engine"
	"github.com/maxmed/visitstat/internal/fingerprint"
	"github.com/maxmed/visitstat/internal/ingest"
	"github.com/maxmed/visitstat/internal/metrics"
	"github.com/maxmed/visitstat/internal/sse"
	"github.com/maxmed/visitstat/internal/storage"
	"github.com/maxmed/visitstat/internal/version"
)

type Server struct {
	eng         *engine.Engine
	store       *storage.Storage
	recorder    *ingest.Recorder
	resolver    *fingerprint.Resolver
	hub         *sse.Hub
	metrics     *metrics.Metrics
	mux         *http.ServeMux
	cfg         config.Config
	rateLimiter *RateLimiter
	now         func() time.Time
	startedAt   time.Time
}

func New(eng *engine.Engine, store *storage.Storage, recorder *ingest.Recorder, resolver *fingerprint.Resolver, hub *sse.Hub, m *metrics.Metrics, cfg config.Config) *Server {
	s := &Server{
		eng:         eng,
		store:       store,
		recorder:    recorder,
		resolver:    resolver,
		hub:         hub,
		metrics:     m,
		mux:         http.NewServeMux(),
		cfg:         cfg,
		rateLimiter: NewRateLimiter(cfg.RateLimitPerMinute, time.Minute),
		now:         time.Now,
		startedAt:   time.Now(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/stats", s.handleStats)
	s.mux.HandleFunc("/api/live-visitors", s.handleLiveVisitors)
	s.mux.HandleFunc("/api/live-visitors/stream", s.handleLiveStream)
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/debug", s.handleDebug)
	s.mux.HandleFunc("/robots.txt", s.handleRobotsTxt)
	s.mux.Handle("/metrics", promhttp.Handler())

	site := http.FileServer(http.Dir(s.cfg.SiteDir))
	s.mux.Handle("/", s.trackVisits(site))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := s.now()
	sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
	w = sw
	defer func() {
		if s.metrics != nil {
			s.metrics.RecordHTTPRequest(r.Method, r.URL.Path,
				strconv.Itoa(sw.status), s.now().Sub(start).Seconds())
		}
	}()

	setSecurityHeaders(w)

	if s.rateLimiter.enabled {
		ip := extractIP(r)
		if !s.rateLimiter.Allow(ip) {
			slog.Debug("rate limit exceeded", "ip", ip, "path", r.URL.Path)
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
	}

	if s.cfg.MaxRequestBodyBytes > 0 && r.ContentLength > s.cfg.MaxRequestBodyBytes {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}
	if s.cfg.MaxRequestBodyBytes > 0 && r.Body != nil {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxRequestBodyBytes)
	}

	s.mux.ServeHTTP(w, r)
}

// statusWriter captures the response status for request metrics. Flush is
// forwarded so SSE streaming keeps working through the wrapper.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// handleStats serves the full aggregate snapshot. It always answers 200
// with a well-formed body; internal faults surface as zeros, never as an
// HTTP error.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.eng.Snapshot())
}

type liveVisitorsResponse struct {
	Count     int       `json:"count"`
	Minutes   int       `json:"minutes"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) handleLiveVisitors(w http.ResponseWriter, r *http.Request) {
	minutes := clampMinutes(r.URL.Query().Get("minutes"), s.cfg.LiveWindowMinutes)
	writeJSON(w, liveVisitorsResponse{
		Count:     s.eng.LiveVisitors(minutes),
		Minutes:   minutes,
		Timestamp: s.now().UTC(),
	})
}

func (s *Server) handleLiveStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	minutes := clampMinutes(r.URL.Query().Get("minutes"), s.cfg.LiveWindowMinutes)

	ch, cancel := s.hub.Subscribe()
	defer cancel()

	// Initial sample so the client renders immediately.
	writeSSE(w, sse.Update{Count: s.eng.LiveVisitors(minutes), Timestamp: s.now().UTC()})
	flusher.Flush()

	// Idle refresh keeps the count decaying on quiet sites.
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case u := <-ch:
			writeSSE(w, u)
			flusher.Flush()
		case <-ticker.C:
			writeSSE(w, sse.Update{Count: s.eng.LiveVisitors(minutes), Timestamp: s.now().UTC()})
			flusher.Flush()
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := "ok"
	dbStatus := "connected"
	httpStatus := http.StatusOK

	if err := s.store.Ping(ctx); err != nil {
		status = "error"
		dbStatus = "disconnected"
		httpStatus = http.StatusServiceUnavailable
	}

	body := map[string]any{
		"status":         status,
		"db":             dbStatus,
		"version":        version.Version,
		"uptime_seconds": int64(s.now().Sub(s.startedAt).Seconds()),
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		body["memory_used_percent"] = vm.UsedPercent
	}
	if up, err := host.Uptime(); err == nil {
		body["host_uptime_seconds"] = up
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) handleDebug(w http.ResponseWriter, r *http.Request) {
	st := s.eng.Snapshot()
	body := map[string]any{
		"server_time": s.now().UTC(),
		"visitor_stats": map[string]any{
			"total_visitors":  st.TotalVisitors,
			"unique_visitors": st.UniqueVisitors,
			"today_visitors":  st.TodayVisitors,
		},
	}
	if dbStats, err := s.store.GetDatabaseStats(r.Context()); err == nil {
		body["db_visits"] = dbStats.VisitsCount
	}
	if recent, err := s.store.RecentVisits(r.Context(), 10); err == nil {
		body["recent_countries"] = countryCounts(recent)
	}
	writeJSON(w, body)
}

func countryCounts(visits []storage.Visit) map[string]int {
	out := make(map[string]int)
	for _, v := range visits {
		if v.Country != "" {
			out[v.Country]++
		}
	}
	return out
}

func (s *Server) handleRobotsTxt(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("User-agent: *\nDisallow: /api/\n"))
}

func writeSSE(w http.ResponseWriter, u sse.Update) {
	payload, err := json.Marshal(u)
	if err != nil {
		return
	}
	_, _ = w.Write([]byte("data: "))
	_, _ = w.Write(payload)
	_, _ = w.Write([]byte("\n\n"))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write JSON response", "error", err)
	}
}

// clampMinutes parses the minutes query parameter, falling back to def and
// clamping silently to the engine's supported range.
func clampMinutes(val string, def int) int {
	minutes := def
	if val != "" {
		if v, err := strconv.Atoi(val); err == nil {
			minutes = v
		}
	}
	if minutes < engine.MinLiveMinutes {
		minutes = engine.MinLiveMinutes
	}
	if minutes > engine.MaxLiveMinutes {
		minutes = engine.MaxLiveMinutes
	}
	return minutes
}
