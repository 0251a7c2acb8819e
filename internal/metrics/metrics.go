// Package metrics exposes batch counters on a Prometheus-compatible
// plain-text endpoint.
package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// Metrics holds the exported counters and gauges. All fields are updated
// atomically; the engine's stats snapshot is mirrored in here periodically.
type Metrics struct {
	discoveredTotal int64
	downloadedTotal int64
	failedTotal     int64
	skippedTotal    int64
	duplicatesTotal int64
	bytesTotal      int64

	activeTransfers int64
	speedMBpsX100   int64 // speed gauge stored as hundredths

	startTime time.Time
}

// New creates a new Metrics instance
func New() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// SetDiscovered sets the total discovered file count.
func (m *Metrics) SetDiscovered(n int64) {
	atomic.StoreInt64(&m.discoveredTotal, n)
}

// SetDownloaded sets the completed transfer count.
func (m *Metrics) SetDownloaded(n int64) {
	atomic.StoreInt64(&m.downloadedTotal, n)
}

// SetFailed sets the failed transfer count.
func (m *Metrics) SetFailed(n int64) {
	atomic.StoreInt64(&m.failedTotal, n)
}

// SetSkipped sets the skipped (already on disk) count.
func (m *Metrics) SetSkipped(n int64) {
	atomic.StoreInt64(&m.skippedTotal, n)
}

// SetDuplicates sets the duplicate-content count.
func (m *Metrics) SetDuplicates(n int64) {
	atomic.StoreInt64(&m.duplicatesTotal, n)
}

// SetBytes sets the total bytes transferred.
func (m *Metrics) SetBytes(n int64) {
	atomic.StoreInt64(&m.bytesTotal, n)
}

// SetActiveTransfers sets the in-flight transfer gauge.
func (m *Metrics) SetActiveTransfers(n int64) {
	atomic.StoreInt64(&m.activeTransfers, n)
}

// SetSpeedMBps sets the current speed gauge.
func (m *Metrics) SetSpeedMBps(v float64) {
	atomic.StoreInt64(&m.speedMBpsX100, int64(v*100))
}

// GetStats returns current metrics as a map
func (m *Metrics) GetStats() map[string]int64 {
	return map[string]int64{
		"files_discovered_total": atomic.LoadInt64(&m.discoveredTotal),
		"files_downloaded_total": atomic.LoadInt64(&m.downloadedTotal),
		"files_failed_total":     atomic.LoadInt64(&m.failedTotal),
		"files_skipped_total":    atomic.LoadInt64(&m.skippedTotal),
		"files_duplicate_total":  atomic.LoadInt64(&m.duplicatesTotal),
		"bytes_downloaded_total": atomic.LoadInt64(&m.bytesTotal),
		"active_transfers":       atomic.LoadInt64(&m.activeTransfers),
		"speed_mbps_x100":        atomic.LoadInt64(&m.speedMBpsX100),
		"uptime_seconds":         int64(time.Since(m.startTime).Seconds()),
	}
}

// Handler returns an HTTP handler for the Prometheus metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		stats := m.GetStats()

		fmt.Fprintln(w, "# HELP fourcharm_files_discovered_total Media files discovered")
		fmt.Fprintln(w, "# TYPE fourcharm_files_discovered_total counter")
		fmt.Fprintf(w, "fourcharm_files_discovered_total %d\n", stats["files_discovered_total"])

		fmt.Fprintln(w, "# HELP fourcharm_files_downloaded_total Files downloaded successfully")
		fmt.Fprintln(w, "# TYPE fourcharm_files_downloaded_total counter")
		fmt.Fprintf(w, "fourcharm_files_downloaded_total %d\n", stats["files_downloaded_total"])

		fmt.Fprintln(w, "# HELP fourcharm_files_failed_total Files that failed terminally")
		fmt.Fprintln(w, "# TYPE fourcharm_files_failed_total counter")
		fmt.Fprintf(w, "fourcharm_files_failed_total %d\n", stats["files_failed_total"])

		fmt.Fprintln(w, "# HELP fourcharm_files_skipped_total Files already complete on disk")
		fmt.Fprintln(w, "# TYPE fourcharm_files_skipped_total counter")
		fmt.Fprintf(w, "fourcharm_files_skipped_total %d\n", stats["files_skipped_total"])

		fmt.Fprintln(w, "# HELP fourcharm_files_duplicate_total Files skipped as duplicate content")
		fmt.Fprintln(w, "# TYPE fourcharm_files_duplicate_total counter")
		fmt.Fprintf(w, "fourcharm_files_duplicate_total %d\n", stats["files_duplicate_total"])

		fmt.Fprintln(w, "# HELP fourcharm_bytes_downloaded_total Total bytes transferred")
		fmt.Fprintln(w, "# TYPE fourcharm_bytes_downloaded_total counter")
		fmt.Fprintf(w, "fourcharm_bytes_downloaded_total %d\n", stats["bytes_downloaded_total"])

		fmt.Fprintln(w, "# HELP fourcharm_active_transfers Transfers currently in flight")
		fmt.Fprintln(w, "# TYPE fourcharm_active_transfers gauge")
		fmt.Fprintf(w, "fourcharm_active_transfers %d\n", stats["active_transfers"])

		fmt.Fprintln(w, "# HELP fourcharm_speed_mbps Current transfer speed in MB/s")
		fmt.Fprintln(w, "# TYPE fourcharm_speed_mbps gauge")
		fmt.Fprintf(w, "fourcharm_speed_mbps %.2f\n", float64(stats["speed_mbps_x100"])/100)

		fmt.Fprintln(w, "# HELP fourcharm_uptime_seconds Time since start in seconds")
		fmt.Fprintln(w, "# TYPE fourcharm_uptime_seconds counter")
		fmt.Fprintf(w, "fourcharm_uptime_seconds %d\n", stats["uptime_seconds"])
	})
}

// Server wraps an HTTP server for metrics
type Server struct {
	server  *http.Server
	metrics *Metrics
}

// NewServer creates a new metrics server
func NewServer(addr string, m *Metrics) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		metrics: m,
	}
}

// Start starts the metrics server in a goroutine
func (s *Server) Start() error {
	go func() {
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			fmt.Printf("Metrics server error: %v\n", err)
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	return s.server.Close()
}

// Addr returns the server address
func (s *Server) Addr() string {
	return s.server.Addr
}
