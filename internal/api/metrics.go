package api

import (
	"database/sql"
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/pushrelay/internal/ratelimit"
)

// StatusSource supplies the dependency snapshots shown on GET /status.
// Any field may be nil.
type StatusSource struct {
	DB            func() sql.DBStats
	Limiter       func() ratelimit.Stats
	BrokerDriver  string
	MQTTConnected func() bool
}

// SystemStatus represents the complete status response.
type SystemStatus struct {
	Timestamp     string           `json:"timestamp"`
	Version       string           `json:"version"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Runtime       RuntimeMetrics   `json:"runtime"`
	Broker        BrokerMetrics    `json:"broker"`
	RateLimit     *RateLimitStatus `json:"rate_limit,omitempty"`
	Database      *DatabaseMetrics `json:"database,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// BrokerMetrics describes the configured broker.
type BrokerMetrics struct {
	Driver        string `json:"driver"`
	MQTTConnected *bool  `json:"mqtt_connected,omitempty"`
}

// RateLimitStatus reports the current rate window.
type RateLimitStatus struct {
	WindowStart    string `json:"window_start"`
	TrackedOrigins int    `json:"tracked_origins"`
	Ceiling        int    `json:"ceiling"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// handleStatus returns a runtime and dependency snapshot.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	status := SystemStatus{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		Broker: BrokerMetrics{Driver: s.status.BrokerDriver},
	}

	if s.status.MQTTConnected != nil {
		connected := s.status.MQTTConnected()
		status.Broker.MQTTConnected = &connected
	}

	if s.status.Limiter != nil {
		ls := s.status.Limiter()
		rl := &RateLimitStatus{TrackedOrigins: ls.Origins, Ceiling: ls.Ceiling}
		if !ls.WindowStart.IsZero() {
			rl.WindowStart = ls.WindowStart.UTC().Format(time.RFC3339)
		}
		status.RateLimit = rl
	}

	if s.status.DB != nil {
		dbStats := s.status.DB()
		status.Database = &DatabaseMetrics{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, status)
}
