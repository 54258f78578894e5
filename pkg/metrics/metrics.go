// Package metrics exports database and collector statistics to Prometheus.
package metrics

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/crystal-mush/musedb/pkg/gamedb"
)

// StatsFunc returns a consistent snapshot of the object table.
type StatsFunc func() gamedb.Stats

// Metrics holds Prometheus metric descriptors for the database engine.
// It implements collector.Recorder.
type Metrics struct {
	reg       *prometheus.Registry
	stats     StatsFunc
	startTime time.Time

	objects     *prometheus.GaugeVec
	top         prometheus.Gauge
	capacity    prometheus.Gauge
	free        prometheus.Gauge
	going       prometheus.Gauge
	userDefs    prometheus.Gauge
	attrEntries prometheus.Gauge
	bytes       prometheus.Gauge

	repairs     *prometheus.CounterVec
	destroyed   *prometheus.CounterVec
	passes      *prometheus.CounterVec
	passSeconds *prometheus.HistogramVec
	loaded      prometheus.Gauge
	saves       prometheus.Counter
	saveSeconds prometheus.Histogram

	uptimeSeconds   prometheus.Gauge
	memoryHeapBytes prometheus.Gauge
	goroutines      prometheus.Gauge
}

// New creates metrics on a private registry. stats may be nil, in which
// case the table gauges are never refreshed.
func New(stats StatsFunc) *Metrics {
	m := &Metrics{
		reg:       prometheus.NewRegistry(),
		stats:     stats,
		startTime: time.Now(),
		objects: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "musedb_objects",
			Help: "Live objects by type.",
		}, []string{"type"}),
		top: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "musedb_top",
			Help: "Logical size of the object table, live and free slots.",
		}),
		capacity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "musedb_capacity",
			Help: "Physical slots allocated for the object table.",
		}),
		free: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "musedb_free_slots",
			Help: "Recycled slots on the free list.",
		}),
		going: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "musedb_going_objects",
			Help: "Live objects scheduled for destruction.",
		}),
		userDefs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "musedb_user_attr_defs",
			Help: "User attribute definitions across all objects.",
		}),
		attrEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "musedb_attr_entries",
			Help: "Attribute-list entries across all objects.",
		}),
		bytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "musedb_object_bytes",
			Help: "Cached byte usage summed over all objects.",
		}),
		repairs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "musedb_repairs_total",
			Help: "Consistency repairs by kind.",
		}, []string{"kind"}),
		destroyed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "musedb_destroyed_total",
			Help: "Objects recycled by type.",
		}, []string{"type"}),
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "musedb_consistency_passes_total",
			Help: "Completed consistency passes.",
		}, []string{"mode"}),
		passSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "musedb_consistency_pass_seconds",
			Help:    "Duration of consistency passes.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 10),
		}, []string{"mode"}),
		loaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "musedb_load_records",
			Help: "Records parsed by the running or last load.",
		}),
		saves: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "musedb_saves_total",
			Help: "Completed database saves.",
		}),
		saveSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "musedb_save_seconds",
			Help:    "Duration of database saves.",
			Buckets: prometheus.DefBuckets,
		}),
		uptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "musedb_uptime_seconds",
			Help: "Engine uptime in seconds.",
		}),
		memoryHeapBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "musedb_memory_heap_bytes",
			Help: "Go heap memory allocated in bytes.",
		}),
		goroutines: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "musedb_goroutines",
			Help: "Number of active goroutines.",
		}),
	}

	m.reg.MustRegister(
		m.objects,
		m.top,
		m.capacity,
		m.free,
		m.going,
		m.userDefs,
		m.attrEntries,
		m.bytes,
		m.repairs,
		m.destroyed,
		m.passes,
		m.passSeconds,
		m.loaded,
		m.saves,
		m.saveSeconds,
		m.uptimeSeconds,
		m.memoryHeapBytes,
		m.goroutines,
	)
	return m
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Repair counts one consistency repair.
func (m *Metrics) Repair(kind string) { m.repairs.WithLabelValues(kind).Inc() }

// Destroyed counts one recycled object.
func (m *Metrics) Destroyed(typ gamedb.ObjectType) {
	m.destroyed.WithLabelValues(typ.String()).Inc()
}

// Pass records a completed consistency pass.
func (m *Metrics) Pass(full bool, elapsed time.Duration) {
	mode := "incremental"
	if full {
		mode = "full"
	}
	m.passes.WithLabelValues(mode).Inc()
	m.passSeconds.WithLabelValues(mode).Observe(elapsed.Seconds())
}

// LoadProgress records how many records the loader has parsed.
func (m *Metrics) LoadProgress(n int) { m.loaded.Set(float64(n)) }

// Saved records a completed save.
func (m *Metrics) Saved(elapsed time.Duration) {
	m.saves.Inc()
	m.saveSeconds.Observe(elapsed.Seconds())
}

// Update refreshes all gauge metrics from the current table.
func (m *Metrics) Update() {
	if m.stats != nil {
		s := m.stats()
		m.objects.WithLabelValues(gamedb.TypeRoom.String()).Set(float64(s.Rooms))
		m.objects.WithLabelValues(gamedb.TypeThing.String()).Set(float64(s.Things))
		m.objects.WithLabelValues(gamedb.TypeExit.String()).Set(float64(s.Exits))
		m.objects.WithLabelValues(gamedb.TypePlayer.String()).Set(float64(s.Players))
		m.objects.WithLabelValues(gamedb.TypeChannel.String()).Set(float64(s.Channels))
		m.objects.WithLabelValues(gamedb.TypeUniverse.String()).Set(float64(s.Universes))
		m.top.Set(float64(s.Top))
		m.capacity.Set(float64(s.Capacity))
		m.free.Set(float64(s.Free))
		m.going.Set(float64(s.Going))
		m.userDefs.Set(float64(s.UserDefs))
		m.attrEntries.Set(float64(s.AttrEntries))
		m.bytes.Set(float64(s.Bytes))
	}

	m.uptimeSeconds.Set(time.Since(m.startTime).Seconds())

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	m.memoryHeapBytes.Set(float64(mem.HeapAlloc))
	m.goroutines.Set(float64(runtime.NumGoroutine()))
}

// Handler returns an http.Handler that updates metrics before serving them.
func (m *Metrics) Handler() http.Handler {
	inner := promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.Update()
		inner.ServeHTTP(w, r)
	})
}
