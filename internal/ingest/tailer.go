package ingest

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/hpcloud/tail"

	"github.com/maxmed/visitstat/internal/fingerprint"
	"github.com/maxmed/visitstat/internal/useragent"
)

// Tailer follows reverse-proxy access logs (Caddy JSON format) and feeds
// qualifying entries through the Recorder. It exists for deployments where
// page traffic reaches the site through a proxy instead of this process.
type Tailer struct {
	paths    []string
	resolver *fingerprint.Resolver
	recorder *Recorder
}

func NewTailer(paths []string, resolver *fingerprint.Resolver, recorder *Recorder) *Tailer {
	return &Tailer{
		paths:    paths,
		resolver: resolver,
		recorder: recorder,
	}
}

// Start begins tailing each configured log file from its end.
func (t *Tailer) Start(ctx context.Context) {
	for _, path := range t.paths {
		go t.tailFile(ctx, path)
	}
}

func (t *Tailer) tailFile(ctx context.Context, path string) {
	tf, err := tail.TailFile(path, tail.Config{
		ReOpen:    true,
		Follow:    true,
		Logger:    tail.DiscardingLogger,
		MustExist: false,
		Location:  &tail.SeekInfo{Offset: 0, Whence: 2},
	})
	if err != nil {
		slog.Error("tail failed", "path", path, "error", err)
		return
	}
	for {
		select {
		case <-ctx.Done():
			_ = tf.Stop()
			return
		case line := <-tf.Lines:
			if line == nil {
				continue
			}
			if err := t.handleLine(line.Text); err != nil {
				slog.Debug("skipping log line", "path", path, "error", err)
			}
		}
	}
}

func (t *Tailer) handleLine(line string) error {
	entry, err := parseAccessLog(line)
	if err != nil {
		return err
	}
	if !qualifies(entry) {
		return nil
	}

	ip := normalizeIP(entry.RemoteAddr)
	fp := t.resolver.Resolve(fingerprint.RequestAttrs{
		IP:        ip,
		UserAgent: entry.UserAgent,
	}, entry.Timestamp)
	t.recorder.Record(fp, entry.Timestamp, entry.Path, ip)
	return nil
}

// qualifies applies the same rules as the live tracking middleware: only
// successful page loads from non-bot clients count as visits.
func qualifies(e accessEntry) bool {
	if e.Method != "" && e.Method != "GET" && e.Method != "HEAD" {
		return false
	}
	if e.Status >= 400 {
		return false
	}
	if !IsPagePath(e.Path) {
		return false
	}
	return !useragent.Classify(e.UserAgent).IsBot
}

// assetExtensions lists path suffixes that never count as page views.
var assetExtensions = []string{
	".css", ".js", ".png", ".jpg", ".jpeg", ".gif", ".svg", ".ico",
	".woff", ".woff2", ".ttf", ".eot", ".otf", ".map", ".json", ".xml",
	".csv", ".txt", ".webp", ".mp4", ".pdf",
}

// IsPagePath reports whether the request path represents a page view rather
// than a static asset fetch.
func IsPagePath(path string) bool {
	if idx := strings.IndexByte(path, '?'); idx >= 0 {
		path = path[:idx]
	}
	path = strings.ToLower(path)
	for _, ext := range assetExtensions {
		if strings.HasSuffix(path, ext) {
			return false
		}
	}
	return true
}

type rawAccessLog struct {
	Timestamp float64 `json:"ts"`
	Request   struct {
		Method     string              `json:"method"`
		Host       string              `json:"host"`
		URI        string              `json:"uri"`
		RemoteAddr string              `json:"remote_addr"`
		Headers    map[string][]string `json:"headers"`
	} `json:"request"`
	Status int `json:"status"`
}

type accessEntry struct {
	Timestamp  time.Time
	Method     string
	Path       string
	Status     int
	RemoteAddr string
	UserAgent  string
}

func parseAccessLog(line string) (accessEntry, error) {
	var raw rawAccessLog
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return accessEntry{}, err
	}
	ts := time.Unix(int64(raw.Timestamp), int64((raw.Timestamp-float64(int64(raw.Timestamp)))*1e9)).UTC()
	return accessEntry{
		Timestamp:  ts,
		Method:     raw.Request.Method,
		Path:       raw.Request.URI,
		Status:     raw.Status,
		RemoteAddr: raw.Request.RemoteAddr,
		UserAgent:  firstHeader(raw.Request.Headers, "User-Agent"),
	}, nil
}

func firstHeader(h map[string][]string, key string) string {
	if vals, ok := h[key]; ok && len(vals) > 0 {
		return vals[0]
	}
	return ""
}

func normalizeIP(remoteAddr string) string {
	if remoteAddr == "" {
		return ""
	}
	if strings.Contains(remoteAddr, ":") {
		if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
			return host
		}
	}
	return remoteAddr
}
