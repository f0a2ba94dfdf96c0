package server

import (
	"context"
	"net/http"
	"runtime"
	"sort"
	"time"

	"github.com/aristath/coinfolio/internal/database"
	"github.com/aristath/coinfolio/internal/marketdata"
	"github.com/aristath/coinfolio/internal/scheduler"
	"github.com/aristath/coinfolio/internal/version"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// MarketStats exposes the market data layer's counters
type MarketStats interface {
	Stats() marketdata.Stats
}

// JobRunner lists and triggers background jobs
type JobRunner interface {
	Status() []scheduler.JobStatus
	RunNow(job scheduler.Job) error
}

// StreamStatus reports the live ticker stream state
type StreamStatus interface {
	IsConnected() bool
	Len() int
}

// SystemHandlers serves system monitoring endpoints
type SystemHandlers struct {
	log       zerolog.Logger
	startedAt time.Time
	market    MarketStats
	jobs      JobRunner
	registry  map[string]scheduler.Job
	databases map[string]*database.DB
	stream    StreamStatus
}

// NewSystemHandlers creates system handlers. stream may be nil.
func NewSystemHandlers(
	log zerolog.Logger,
	market MarketStats,
	jobs JobRunner,
	registry map[string]scheduler.Job,
	databases map[string]*database.DB,
	stream StreamStatus,
) *SystemHandlers {
	return &SystemHandlers{
		log:       log.With().Str("handler", "system").Logger(),
		startedAt: time.Now(),
		market:    market,
		jobs:      jobs,
		registry:  registry,
		databases: databases,
		stream:    stream,
	}
}

// DatabaseStatus is the health and size of one database
type DatabaseStatus struct {
	Name          string `json:"name"`
	Profile       string `json:"profile"`
	Path          string `json:"path"`
	Healthy       bool   `json:"healthy"`
	Error         string `json:"error,omitempty"`
	SizeBytes     int64  `json:"size_bytes"`
	WALSizeBytes  int64  `json:"wal_size_bytes"`
	PageCount     int64  `json:"page_count"`
	FreelistCount int64  `json:"freelist_count"`
}

// StreamInfo is the ticker stream part of the status response
type StreamInfo struct {
	Enabled   bool `json:"enabled"`
	Connected bool `json:"connected"`
	Symbols   int  `json:"symbols"`
}

// SystemStatusResponse is returned by GET /api/system/status
type SystemStatusResponse struct {
	Status        string                `json:"status"`
	Version       string                `json:"version"`
	UptimeSeconds int64                 `json:"uptime_seconds"`
	CPUPercent    float64               `json:"cpu_percent"`
	MemoryPercent float64               `json:"memory_percent"`
	Goroutines    int                   `json:"goroutines"`
	Market        marketdata.Stats      `json:"market"`
	Stream        StreamInfo            `json:"stream"`
	Databases     []DatabaseStatus      `json:"databases"`
	Jobs          []scheduler.JobStatus `json:"jobs"`
}

// HandleSystemStatus returns cache, limiter, job and host statistics.
// With ?integrity=true every database also runs a full integrity check.
// GET /api/system/status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	integrity := r.URL.Query().Get("integrity") == "true"
	cpuPercent, memPercent := h.getSystemStats()

	resp := SystemStatusResponse{
		Status:        "healthy",
		Version:       version.Version,
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
		CPUPercent:    cpuPercent,
		MemoryPercent: memPercent,
		Goroutines:    runtime.NumGoroutine(),
		Databases:     h.checkDatabases(r.Context(), integrity),
		Jobs:          []scheduler.JobStatus{},
	}
	if h.market != nil {
		resp.Market = h.market.Stats()
	}
	if h.jobs != nil {
		resp.Jobs = h.jobs.Status()
	}
	if h.stream != nil {
		resp.Stream = StreamInfo{Enabled: true, Connected: h.stream.IsConnected(), Symbols: h.stream.Len()}
	}
	for _, db := range resp.Databases {
		if !db.Healthy {
			resp.Status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, resp, h.log)
}

// HandleListJobs returns every registered job's last run
// GET /api/system/jobs
func (h *SystemHandlers) HandleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := []scheduler.JobStatus{}
	if h.jobs != nil {
		jobs = h.jobs.Status()
	}
	writeJSON(w, http.StatusOK, jobs, h.log)
}

// HandleRunJob runs a job immediately
// POST /api/system/jobs/{name}/run
func (h *SystemHandlers) HandleRunJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	job, ok := h.registry[name]
	if !ok || h.jobs == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown job " + name}, h.log)
		return
	}

	if err := h.jobs.RunNow(job); err != nil {
		h.log.Error().Err(err).Str("job", name).Msg("Manual job run failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"status":  "error",
			"message": err.Error(),
		}, h.log)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": name + " completed",
	}, h.log)
}

func (h *SystemHandlers) checkDatabases(ctx context.Context, integrity bool) []DatabaseStatus {
	names := make([]string, 0, len(h.databases))
	for name := range h.databases {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]DatabaseStatus, 0, len(names))
	for _, name := range names {
		db := h.databases[name]
		st := DatabaseStatus{
			Name:    name,
			Profile: string(db.Profile()),
			Path:    db.Path(),
			Healthy: true,
		}

		check := db.QuickCheck
		if integrity {
			check = db.HealthCheck
		}
		if err := check(ctx); err != nil {
			st.Healthy = false
			st.Error = err.Error()
			out = append(out, st)
			continue
		}

		stats, err := db.GetStats()
		if err != nil {
			h.log.Warn().Err(err).Str("database", name).Msg("Failed to read database stats")
		} else {
			st.SizeBytes = stats.SizeBytes
			st.WALSizeBytes = stats.WALSizeBytes
			st.PageCount = stats.PageCount
			st.FreelistCount = stats.FreelistCount
		}
		out = append(out, st)
	}
	return out
}

// getSystemStats returns CPU and RAM usage percentages.
// CPU is sampled over 100ms to keep the endpoint fast.
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	return cpuAvg, memStat.UsedPercent
}
