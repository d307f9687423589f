package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/snarg/accent-engine/internal/pipeline"
	"github.com/snarg/accent-engine/internal/watch"
)

type HealthResponse struct {
	Status        string               `json:"status"`
	Version       string               `json:"version"`
	UptimeSeconds int64                `json:"uptime_seconds"`
	Checks        map[string]string    `json:"checks"`
	Provider      string               `json:"stt_provider,omitempty"`
	Queue         *pipeline.QueueStats `json:"queue,omitempty"`
	Watch         *watch.Status        `json:"watch,omitempty"`
}

// ConnChecker is satisfied by *mqttclient.Client.
type ConnChecker interface {
	IsConnected() bool
}

// QueueReporter is satisfied by *pipeline.Pool.
type QueueReporter interface {
	Stats() pipeline.QueueStats
}

// WatchReporter is satisfied by *watch.Watcher.
type WatchReporter interface {
	Status() watch.Status
}

// HealthHandler reports readiness. Each tool check reports whether an
// external binary can be executed.
type HealthHandler struct {
	tools     map[string]func() bool
	mqtt      ConnChecker
	queue     QueueReporter
	watch     WatchReporter
	provider  string
	version   string
	startTime time.Time
}

// NewHealthHandler builds the health endpoint. mqtt and queue may be nil.
// A missing tool marks the service unhealthy since no analysis can succeed.
func NewHealthHandler(tools map[string]func() bool, mqtt ConnChecker, queue QueueReporter, provider, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		tools:     tools,
		mqtt:      mqtt,
		queue:     queue,
		provider:  provider,
		version:   version,
		startTime: startTime,
	}
}

// WithWatch adds the watch-folder status to the report.
func (h *HealthHandler) WithWatch(wr WatchReporter) *HealthHandler {
	h.watch = wr
	return h
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK

	for name, check := range h.tools {
		if check() {
			checks[name] = "ok"
		} else {
			checks[name] = "missing"
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		}
	}

	// MQTT check
	if h.mqtt != nil {
		if h.mqtt.IsConnected() {
			checks["mqtt"] = "ok"
		} else {
			checks["mqtt"] = "disconnected"
			if status == "healthy" {
				status = "degraded"
			}
		}
	} else {
		checks["mqtt"] = "not_configured"
	}

	resp := HealthResponse{
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Checks:        checks,
		Provider:      h.provider,
	}
	if h.queue != nil {
		stats := h.queue.Stats()
		resp.Queue = &stats
		if stats.Capacity > 0 && stats.Pending >= stats.Capacity && status == "healthy" {
			status = "degraded"
			resp.Status = status
		}
	}

	if h.watch != nil {
		ws := h.watch.Status()
		resp.Watch = &ws
		checks["watch"] = ws.Status
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(resp)
}
