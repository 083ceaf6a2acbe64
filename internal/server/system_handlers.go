package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/capstack/internal/database"
	"github.com/aristath/capstack/internal/modules/stack"
)

// CachePinger is the optional connectivity probe of the result cache.
type CachePinger interface {
	Ping(ctx context.Context) error
}

// SystemHandlers exposes backend and storage connectivity diagnostics.
// Entirely independent of the allocator.
type SystemHandlers struct {
	historyDB *database.DB
	repo      *stack.Repository
	cache     CachePinger // May be nil when caching is disabled
	log       zerolog.Logger
}

// NewSystemHandlers creates the diagnostics handlers
func NewSystemHandlers(historyDB *database.DB, repo *stack.Repository, cache CachePinger, log zerolog.Logger) *SystemHandlers {
	return &SystemHandlers{
		historyDB: historyDB,
		repo:      repo,
		cache:     cache,
		log:       log.With().Str("handler", "system").Logger(),
	}
}

// HandleTest handles GET /api/test: reports backend, database, and cache
// connectivity plus process resource usage.
func (h *SystemHandlers) HandleTest(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	response := map[string]interface{}{
		"backend":           "running",
		"database":          "not_available",
		"connection_status": "not_connected",
		"cache":             "disabled",
	}

	if h.historyDB != nil {
		if err := h.historyDB.QuickCheck(ctx); err != nil {
			response["database"] = "error: " + err.Error()
		} else {
			response["database"] = "connected"
			response["connection_status"] = "connected"
			response["database_path"] = h.historyDB.Path()

			if stats, err := h.historyDB.GetStats(); err == nil {
				response["database_stats"] = map[string]interface{}{
					"size_bytes":     stats.SizeBytes,
					"wal_size_bytes": stats.WALSizeBytes,
					"page_count":     stats.PageCount,
					"page_size":      stats.PageSize,
				}
			}

			if count, err := h.repo.Count(); err == nil {
				response["stored_stacks"] = count
			}
		}
	}

	if h.cache != nil {
		if err := h.cache.Ping(ctx); err != nil {
			response["cache"] = "error: " + err.Error()
		} else {
			response["cache"] = "connected"
		}
	}

	cpuPercent, ramPercent := h.systemStats()
	response["system"] = map[string]interface{}{
		"cpu_percent": cpuPercent,
		"ram_percent": ramPercent,
	}

	h.writeJSON(w, response)
}

// systemStats returns CPU and RAM usage percentages.
// Uses a 100ms sampling interval so the endpoint responds quickly.
func (h *SystemHandlers) systemStats() (float64, float64) {
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

func (h *SystemHandlers) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
