package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maxmed/visitstat/internal/config"
	"github.com/maxmed/visitstat/internal/engine"
	"github.com/maxmed/visitstat/internal/fingerprint"
	"github.com/maxmed/visitstat/internal/ingest"
	"github.com/maxmed/visitstat/internal/logging"
	"github.com/maxmed/visitstat/internal/metrics"
	"github.com/maxmed/visitstat/internal/server"
	"github.com/maxmed/visitstat/internal/sse"
	"github.com/maxmed/visitstat/internal/storage"
	"github.com/maxmed/visitstat/internal/version"
)

func main() {
	cfg := config.Load()
	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	slog.Info("starting visitstat", "version", version.Version, "addr", cfg.ListenAddr)
	if cfg.FingerprintSalt == "visitstat" {
		slog.Warn("using default fingerprint salt, set FINGERPRINT_SALT in production")
	}

	store, err := storage.NewWithOptions(cfg.DBPath, storage.Options{
		MaxConnections: cfg.DBMaxConnections,
		QueryTimeout:   cfg.DBQueryTimeout,
	})
	if err != nil {
		slog.Error("open database", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	eng := engine.New(nil)
	if err := restore(ctx, store, eng, cfg.RetentionDays); err != nil {
		slog.Error("restore aggregator state", "error", err)
		os.Exit(1)
	}

	geo, err := ingest.NewGeo(cfg.MaxMindDBPath)
	if err != nil {
		slog.Warn("geo annotation disabled", "error", err)
	}
	defer geo.Close()

	hub := sse.NewHub()

	m := metrics.New(
		func() int { return eng.LiveVisitors(cfg.LiveWindowMinutes) },
		func() metrics.BucketCounts {
			minutes, hours, days := eng.BucketCounts()
			return metrics.BucketCounts{Minutes: minutes, Hours: hours, Days: days}
		},
		hub.ClientCount,
		func() int64 {
			size, err := store.DBFileSize()
			if err != nil {
				return 0
			}
			return size
		},
		func() int64 {
			stats, err := store.GetDatabaseStats(context.Background())
			if err != nil {
				return 0
			}
			return stats.VisitsCount
		},
	)
	if err := m.Register(); err != nil {
		slog.Warn("metrics registration failed", "error", err)
	}

	recorder := ingest.NewRecorder(eng, store, m, hub, geo, cfg.LiveWindowMinutes, cfg.EventBufferSize)
	recorder.Start()

	resolver := fingerprint.NewResolver(cfg.FingerprintSalt)

	if len(cfg.LogPaths) > 0 {
		tailer := ingest.NewTailer(cfg.LogPaths, resolver, recorder)
		tailer.Start(ctx)
		slog.Info("tailing access logs", "paths", cfg.LogPaths)
	}

	go flushCounters(ctx, store, eng, cfg.CounterFlushInterval)
	go cleanupLoop(ctx, store, cfg.CleanupInterval, cfg.RetentionDays)

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server.New(eng, store, recorder, resolver, hub, m, cfg),
	}

	go func() {
		slog.Info("listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = srv.Shutdown(shutdownCtx)

	// Drain pending appends, then persist the final counter snapshot.
	recorder.Stop()
	saveCounters(shutdownCtx, store, eng)
	slog.Info("shutdown complete")
}

// restore rebuilds aggregator state: counters come from the persisted
// snapshot, buckets from replaying the retained visit log. Replay only
// advances counters for events newer than the snapshot, so nothing is
// double-counted and events appended after the last flush are recovered.
func restore(ctx context.Context, store *storage.Storage, eng *engine.Engine, retentionDays int) error {
	counters, err := store.LoadCounters(ctx)
	if err != nil {
		return err
	}
	eng.Restore(counters.TotalVisits, counters.UniqueVisitors, counters.UpdatedAt)

	since := time.Now().UTC().AddDate(0, 0, -retentionDays)
	replayed := 0
	err = store.ReplayVisits(ctx, since, func(v storage.Visit) error {
		eng.Replay(v.Fingerprint, v.Timestamp)
		replayed++
		return nil
	})
	if err != nil {
		return err
	}
	eng.Compact()

	total, unique := eng.Counters()
	slog.Info("aggregator state restored",
		"replayed_visits", replayed,
		"total_visits", total,
		"unique_visitors", unique)
	return nil
}

func flushCounters(ctx context.Context, store *storage.Storage, eng *engine.Engine, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			saveCounters(ctx, store, eng)
		}
	}
}

func saveCounters(ctx context.Context, store *storage.Storage, eng *engine.Engine) {
	total, unique := eng.Counters()
	err := store.SaveCounters(ctx, storage.Counters{
		TotalVisits:    total,
		UniqueVisitors: unique,
		UpdatedAt:      time.Now(),
	})
	if err != nil {
		slog.Warn("counter snapshot failed", "error", err)
	}
}

func cleanupLoop(ctx context.Context, store *storage.Storage, interval time.Duration, retentionDays int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := store.Cleanup(context.Background(), retentionDays); err != nil {
				slog.Warn("retention cleanup failed", "error", err)
			}
		}
	}
}
