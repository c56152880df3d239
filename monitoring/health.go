package monitoring

import (
	"encoding/json"
	"net/http"
	"runtime"
	"sync"
	"time"

	"pumppulse/metrics"
)

type HealthStatus struct {
	Status          string            `json:"status"`
	Uptime          string            `json:"uptime"`
	StartTime       time.Time         `json:"start_time"`
	MemoryUsage     uint64            `json:"memory_usage"`
	GoroutineCount  int               `json:"goroutine_count"`
	EventsPublished uint64            `json:"events_published"`
	EventsSkipped   uint64            `json:"events_skipped"`
	LastEventAt     string            `json:"last_event_at,omitempty"`
	ComponentStatus map[string]string `json:"component_status"`
}

var (
	startTime      = time.Now()
	healthChecksMu sync.RWMutex
	healthChecks   = make(map[string]func() bool)
)

func RegisterHealthCheck(name string, check func() bool) {
	healthChecksMu.Lock()
	healthChecks[name] = check
	healthChecksMu.Unlock()
}

func HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	published, skipped, last, _ := metrics.GetStats()

	status := HealthStatus{
		Status:          "ok",
		Uptime:          time.Since(startTime).String(),
		StartTime:       startTime,
		MemoryUsage:     m.Alloc,
		GoroutineCount:  runtime.NumGoroutine(),
		EventsPublished: published,
		EventsSkipped:   skipped,
		ComponentStatus: make(map[string]string),
	}
	if published > 0 {
		status.LastEventAt = last.Format(time.RFC3339)
	}

	healthChecksMu.RLock()
	for name, check := range healthChecks {
		if check() {
			status.ComponentStatus[name] = "healthy"
		} else {
			status.ComponentStatus[name] = "unhealthy"
			status.Status = "degraded"
		}
	}
	healthChecksMu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}
