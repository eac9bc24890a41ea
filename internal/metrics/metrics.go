package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "synxronusage"

type Metrics struct {
	Registry *prometheus.Registry

	Deltas          *prometheus.CounterVec
	QuotaRejections prometheus.Counter
	CollapsedOwners prometheus.Counter
	JobRuns         *prometheus.CounterVec
	JobSkipped      *prometheus.CounterVec
	RepoUsageLevel  prometheus.Gauge
	RepoUsageCounts *prometheus.GaugeVec
	ArchivePurged   prometheus.Counter
}

// New registers all collectors on a fresh registry. Go runtime and process
// collectors are included only when withRuntime is set.
func New(withRuntime bool) *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Deltas: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "usage",
			Name:      "deltas_total",
			Help:      "Usage deltas recorded, by direction.",
		}, []string{"direction"}),
		QuotaRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "usage",
			Name:      "quota_rejections_total",
			Help:      "Mutations rejected because they would exceed a user quota.",
		}),
		CollapsedOwners: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "usage",
			Name:      "collapsed_owners_total",
			Help:      "Owners whose deltas were folded into the baseline.",
		}),
		JobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "runs_total",
			Help:      "Background job runs, by job and result.",
		}, []string{"job", "result"}),
		JobSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "skipped_total",
			Help:      "Background job runs skipped because the lock was held elsewhere.",
		}, []string{"job"}),
		RepoUsageLevel: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "repo",
			Name:      "usage_level",
			Help:      "Repository usage level: 0 OK, 1 WARN_ADMIN, 2 WARN_ALL, 3 LOCKED_DOWN.",
		}),
		RepoUsageCounts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "repo",
			Name:      "usage_count",
			Help:      "Last persisted repository usage count, by type.",
		}, []string{"type"}),
		ArchivePurged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "purged_total",
			Help:      "Archived nodes removed permanently.",
		}),
	}

	m.Registry.MustRegister(
		m.Deltas,
		m.QuotaRejections,
		m.CollapsedOwners,
		m.JobRuns,
		m.JobSkipped,
		m.RepoUsageLevel,
		m.RepoUsageCounts,
		m.ArchivePurged,
	)
	if withRuntime {
		m.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
