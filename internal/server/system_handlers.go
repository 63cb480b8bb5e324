package server

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/ideastake/ledgerbeat/internal/history"
	"github.com/ideastake/ledgerbeat/internal/scheduler"
)

// SystemStatusResponse is returned by GET /api/system/status.
type SystemStatusResponse struct {
	Status        string                  `json:"status"`
	UptimeSeconds int64                   `json:"uptime_seconds"`
	CPUPercent    float64                 `json:"cpu_percent"`
	MemoryPercent float64                 `json:"memory_percent"`
	Goroutines    int                     `json:"goroutines"`
	Heartbeat     HeartbeatStatusResponse `json:"heartbeat"`
	History       *history.Stats          `json:"history,omitempty"`
	Database      string                  `json:"database"`
	Jobs          []scheduler.JobInfo     `json:"jobs"`
}

// SystemHandlers serves host and service status.
type SystemHandlers struct {
	hb          HeartbeatController
	history     HistoryReader
	jobs        JobLister
	db          HealthChecker
	startupTime time.Time
	stats       func() (float64, float64)
	log         zerolog.Logger
}

// NewSystemHandlers creates the handlers. Any dependency except hb may be nil.
func NewSystemHandlers(hb HeartbeatController, hist HistoryReader, jobs JobLister, db HealthChecker, log zerolog.Logger) *SystemHandlers {
	h := &SystemHandlers{
		hb:          hb,
		history:     hist,
		jobs:        jobs,
		db:          db,
		startupTime: time.Now(),
		log:         log.With().Str("component", "system_handlers").Logger(),
	}
	h.stats = h.getSystemStats
	return h
}

// HandleSystemStatus handles GET /api/system/status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	cpuPercent, memPercent := h.stats()

	resp := SystemStatusResponse{
		Status:        "healthy",
		UptimeSeconds: int64(time.Since(h.startupTime).Seconds()),
		CPUPercent:    cpuPercent,
		MemoryPercent: memPercent,
		Goroutines:    runtime.NumGoroutine(),
		Heartbeat:     toStatusResponse(h.hb.Status()),
		Database:      "ok",
		Jobs:          []scheduler.JobInfo{},
	}

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		err := h.db.HealthCheck(ctx)
		cancel()
		if err != nil {
			h.log.Warn().Err(err).Msg("Database health check failed")
			resp.Status = "degraded"
			resp.Database = err.Error()
		}
	}

	if h.history != nil {
		stats, err := h.history.Stats(r.Context())
		if err != nil {
			h.log.Warn().Err(err).Msg("Failed to read history stats")
			resp.Status = "degraded"
		} else {
			resp.History = &stats
		}
	}

	if h.jobs != nil {
		resp.Jobs = h.jobs.Jobs()
	}

	writeJSON(w, http.StatusOK, resp)
}

// getSystemStats samples CPU over 100ms so the endpoint stays fast.
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuAvg := 0.0
	if cpuPercent, err := cpu.Percent(100*time.Millisecond, false); err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
	} else if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return cpuAvg, 0
	}
	return cpuAvg, memStat.UsedPercent
}
