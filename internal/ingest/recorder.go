// Package ingest records visit events: it applies them to the in-memory
// aggregator immediately and appends them to durable storage asynchronously,
// so the request path never waits on disk.
package ingest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/maxmed/visitstat/internal/engine"
	"github.com/maxmed/visitstat/internal/metrics"
	"github.com/maxmed/visitstat/internal/sse"
	"github.com/maxmed/visitstat/internal/storage"
)

const appendTimeout = 5 * time.Second

// Recorder fans a visit into the aggregator, the durable log, metrics and
// the live SSE feed. The metrics, hub and geo collaborators may be nil.
type Recorder struct {
	eng     *engine.Engine
	store   *storage.Storage
	metrics *metrics.Metrics
	hub     *sse.Hub
	geo     *GeoLookup

	liveWindowMinutes int

	ch       chan storage.Visit
	stopChan chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewRecorder(eng *engine.Engine, store *storage.Storage, m *metrics.Metrics, hub *sse.Hub, geo *GeoLookup, liveWindowMinutes, bufferSize int) *Recorder {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	return &Recorder{
		eng:               eng,
		store:             store,
		metrics:           m,
		hub:               hub,
		geo:               geo,
		liveWindowMinutes: liveWindowMinutes,
		ch:                make(chan storage.Visit, bufferSize),
		stopChan:          make(chan struct{}),
	}
}

// Start launches the durable-append worker.
func (r *Recorder) Start() {
	r.wg.Add(1)
	go r.run()
}

// Stop drains pending appends and stops the worker.
func (r *Recorder) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopChan)
	})
	r.wg.Wait()
}

// Record applies the visit to the in-memory aggregator and schedules the
// durable append. It never blocks: if the append queue is full the event is
// dropped from the log (counted and warned) but still counted in memory.
func (r *Recorder) Record(fp string, ts time.Time, path, clientIP string) {
	r.eng.Record(fp, ts)
	if r.metrics != nil {
		r.metrics.VisitsRecordedTotal.Inc()
	}

	v := storage.Visit{
		Fingerprint: fp,
		Timestamp:   ts,
		Path:        path,
	}
	if r.geo != nil {
		v.Country = r.geo.Country(clientIP)
	}

	select {
	case r.ch <- v:
	default:
		if r.metrics != nil {
			r.metrics.VisitsDroppedTotal.Inc()
		}
		slog.Warn("append queue full, dropping visit from durable log", "path", path)
	}

	if r.hub != nil && r.hub.ClientCount() > 0 {
		r.hub.Broadcast(sse.Update{
			Count:     r.eng.LiveVisitors(r.liveWindowMinutes),
			Timestamp: ts.UTC(),
		})
	}
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for {
		select {
		case v := <-r.ch:
			r.append(v)
		case <-r.stopChan:
			for {
				select {
				case v := <-r.ch:
					r.append(v)
				default:
					return
				}
			}
		}
	}
}

// append writes one visit to storage. Failures degrade durability, not
// availability: the in-memory counts already include the visit.
func (r *Recorder) append(v storage.Visit) {
	ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
	defer cancel()
	if err := r.store.AppendVisit(ctx, v); err != nil {
		if r.metrics != nil {
			r.metrics.AppendErrorsTotal.Inc()
		}
		slog.Warn("durable append failed", "error", err)
	}
}
