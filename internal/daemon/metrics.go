package daemon

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricScansTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sessionlens_scans_total",
		Help: "Completed transcript directory scans.",
	})
	metricScanFiles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sessionlens_scan_files_total",
		Help: "Transcript files read across all scans.",
	})
	metricScanSkippedLines = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sessionlens_scan_skipped_lines_total",
		Help: "Transcript lines skipped as malformed or unrecognized.",
	})
	metricScanFileErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sessionlens_scan_file_errors_total",
		Help: "Transcript files that failed to open or read.",
	})
	metricCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sessionlens_cache_hits_total",
		Help: "Aggregate requests served from the in-memory cache.",
	})
	metricCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sessionlens_cache_misses_total",
		Help: "Aggregate requests that triggered a fresh scan.",
	})
	metricHTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sessionlens_http_requests_total",
		Help: "HTTP requests by handler.",
	}, []string{"handler"})
)
