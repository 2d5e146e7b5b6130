// Package translogmetrics exposes a translog.Manager's append, sync,
// and retention activity as Prometheus metrics: namespace/subsystem
// globals plus promauto-registered collectors.
package translogmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var namespace = "search"
var subsystem = "translog"

// Collector bundles every metric one Manager reports. Callers construct
// one with NewCollector and pass it to translog.WithMetrics; multiple
// managers (one per shard, say) should each get their own Collector
// built with a distinct dir label rather than sharing package-level
// globals, since a process may host more than one translog directory.
type Collector struct {
	appends            prometheus.Counter
	syncs              prometheus.Counter
	bytesAppended      prometheus.Counter
	generationsDeleted prometheus.Counter
	diskUsageBytes     prometheus.Gauge
}

// NewCollector registers a fresh set of counters/gauges labeled with
// dir, so metrics from more than one translog directory in the same
// process don't collide.
func NewCollector(dir string) *Collector {
	constLabels := prometheus.Labels{"dir": dir}
	return &Collector{
		appends: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "appends_total",
			Help:        "Number of operations appended to the translog.",
			ConstLabels: constLabels,
		}),
		syncs: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "syncs_total",
			Help:        "Number of fsync calls issued against the current generation.",
			ConstLabels: constLabels,
		}),
		bytesAppended: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "appended_bytes_total",
			Help:        "Record-stream bytes appended to the translog.",
			ConstLabels: constLabels,
		}),
		generationsDeleted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "generations_deleted_total",
			Help:        "Generation files deleted after falling below the retention watermark.",
			ConstLabels: constLabels,
		}),
		diskUsageBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "disk_usage_bytes",
			Help:        "Total on-disk size of the translog directory, sampled periodically.",
			ConstLabels: constLabels,
		}),
	}
}

func (c *Collector) IncAppends()            { c.appends.Inc() }
func (c *Collector) IncSyncs()              { c.syncs.Inc() }
func (c *Collector) AddBytes(n int64)       { c.bytesAppended.Add(float64(n)) }
func (c *Collector) IncGenerationsDeleted() { c.generationsDeleted.Inc() }

// Set publishes a disk-usage sample; StartDiskUsageMonitor calls it on
// each tick.
func (c *Collector) Set(bytes float64) { c.diskUsageBytes.Set(bytes) }
