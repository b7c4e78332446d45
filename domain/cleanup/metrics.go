package cleanup

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crawlforge_cleanup_runs_total",
		Help: "Cleanup runs by trigger.",
	}, []string{"trigger"})

	filesDeletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crawlforge_cleanup_files_deleted_total",
		Help: "Temp files deleted by cleanup, by trigger.",
	}, []string{"trigger"})

	bytesFreedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crawlforge_cleanup_bytes_freed_total",
		Help: "Temp storage bytes freed by cleanup, by trigger.",
	}, []string{"trigger"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crawlforge_cleanup_errors_total",
		Help: "File-level cleanup errors, by trigger.",
	}, []string{"trigger"})
)

func observeRun(stats *Stats) {
	label := string(stats.Trigger)
	runsTotal.WithLabelValues(label).Inc()
	filesDeletedTotal.WithLabelValues(label).Add(float64(stats.FilesDeleted))
	bytesFreedTotal.WithLabelValues(label).Add(float64(stats.BytesFreed))
	errorsTotal.WithLabelValues(label).Add(float64(len(stats.Errors)))
}
