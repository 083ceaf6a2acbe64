// Package handlers provides HTTP handlers for capital stack allocation.
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/aristath/capstack/internal/modules/stack"
	"github.com/rs/zerolog"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// Handler handles capital stack HTTP requests
type Handler struct {
	allocator *stack.Allocator
	repo      *stack.Repository
	cache     stack.ResultCache // Optional, may be nil
	log       zerolog.Logger
}

// NewHandler creates a new stack handler
func NewHandler(
	allocator *stack.Allocator,
	repo *stack.Repository,
	cache stack.ResultCache,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		allocator: allocator,
		repo:      repo,
		cache:     cache,
		log:       log.With().Str("handler", "stack").Logger(),
	}
}

// projectPayload mirrors the wire format of a funding request. Pointer
// fields distinguish "absent" from zero so defaults can be applied.
type projectPayload struct {
	Name      string   `json:"name"`
	Location  string   `json:"location"`
	TDC       float64  `json:"tdc"`
	NOI       float64  `json:"noi"`
	MinDSCR   *float64 `json:"min_dscr"`
	MaxLTC    *float64 `json:"max_ltc"`
	MinEquity *float64 `json:"min_equity"`
}

// optionPayload mirrors the wire format of a candidate instrument.
type optionPayload struct {
	Name        string   `json:"name"`
	Kind        string   `json:"kind"`
	AnnualCost  float64  `json:"annual_cost"`
	Points      float64  `json:"points"`
	MinShare    float64  `json:"min_share"`
	MaxShare    *float64 `json:"max_share"`
	MaxLTC      *float64 `json:"max_ltc"`
	EnforceDSCR bool     `json:"enforce_dscr"`
}

// OptimizeRequest is the body of POST /api/optimize
type OptimizeRequest struct {
	Project projectPayload  `json:"project"`
	Options []optionPayload `json:"options"`
	// Granularity is the share step for a future discretized solver.
	// Accepted and echoed through, currently inert.
	Granularity *float64 `json:"granularity"`
}

// Defaults matching the original request schema
const (
	defaultMinDSCR     = 1.25
	defaultMaxLTC      = 0.65
	defaultMinEquity   = 0.10
	defaultMaxShare    = 1.0
	defaultGranularity = 0.01
)

func (p *projectPayload) toDomain() stack.Project {
	project := stack.Project{
		Name:      p.Name,
		Location:  p.Location,
		TDC:       p.TDC,
		NOI:       p.NOI,
		MinDSCR:   defaultMinDSCR,
		MaxLTC:    defaultMaxLTC,
		MinEquity: defaultMinEquity,
	}
	if p.MinDSCR != nil {
		project.MinDSCR = *p.MinDSCR
	}
	if p.MaxLTC != nil {
		project.MaxLTC = *p.MaxLTC
	}
	if p.MinEquity != nil {
		project.MinEquity = *p.MinEquity
	}
	return project
}

func (o *optionPayload) toDomain() stack.CapitalOption {
	opt := stack.CapitalOption{
		Name:        o.Name,
		Kind:        o.Kind,
		AnnualCost:  o.AnnualCost,
		Points:      o.Points,
		MinShare:    o.MinShare,
		MaxShare:    defaultMaxShare,
		MaxLTC:      o.MaxLTC,
		EnforceDSCR: o.EnforceDSCR,
	}
	if o.MaxShare != nil {
		opt.MaxShare = *o.MaxShare
	}
	return opt
}

// validate enforces the field constraints of the request schema before the
// allocator runs. The allocator assumes these hold.
func (req *OptimizeRequest) validate() error {
	p := &req.Project
	if p.Name == "" {
		return fmt.Errorf("project name is required")
	}
	if p.TDC <= 0 {
		return fmt.Errorf("project tdc must be > 0")
	}
	if p.NOI < 0 {
		return fmt.Errorf("project noi must be >= 0")
	}
	if p.MinDSCR != nil && *p.MinDSCR <= 0 {
		return fmt.Errorf("project min_dscr must be > 0")
	}
	if p.MaxLTC != nil && (*p.MaxLTC <= 0 || *p.MaxLTC > 1) {
		return fmt.Errorf("project max_ltc must be in (0, 1]")
	}
	if p.MinEquity != nil && (*p.MinEquity < 0 || *p.MinEquity > 1) {
		return fmt.Errorf("project min_equity must be in [0, 1]")
	}

	if len(req.Options) == 0 {
		return fmt.Errorf("at least one capital option is required")
	}
	for i := range req.Options {
		o := &req.Options[i]
		if o.Name == "" {
			return fmt.Errorf("option %d: name is required", i)
		}
		if !stack.ValidKind(o.Kind) {
			return fmt.Errorf("option %q: kind must be one of debt, mezz, pref, equity", o.Name)
		}
		if o.AnnualCost <= 0 {
			return fmt.Errorf("option %q: annual_cost must be > 0", o.Name)
		}
		if o.Points < 0 {
			return fmt.Errorf("option %q: points must be >= 0", o.Name)
		}
		if o.MinShare < 0 || o.MinShare > 1 {
			return fmt.Errorf("option %q: min_share must be in [0, 1]", o.Name)
		}
		if o.MaxShare != nil && (*o.MaxShare <= 0 || *o.MaxShare > 1) {
			return fmt.Errorf("option %q: max_share must be in (0, 1]", o.Name)
		}
		if o.MaxLTC != nil && (*o.MaxLTC < 0 || *o.MaxLTC > 1) {
			return fmt.Errorf("option %q: max_ltc must be in [0, 1]", o.Name)
		}
	}

	return nil
}

// HandleOptimize handles POST /api/optimize: validates the request, runs the
// allocator, persists the result, and returns the funded stack.
func (h *Handler) HandleOptimize(w http.ResponseWriter, r *http.Request) {
	var req OptimizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Error().Err(err).Msg("Failed to decode optimize request")
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := req.validate(); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	project := req.Project.toDomain()
	options := make([]stack.CapitalOption, len(req.Options))
	for i := range req.Options {
		options[i] = req.Options[i].toDomain()
	}
	granularity := defaultGranularity
	if req.Granularity != nil {
		granularity = *req.Granularity
	}

	// The allocator is deterministic, so cached results are always valid
	// for an identical request.
	key := stack.CacheKey(project, options, granularity)
	if h.cache != nil {
		if cached, ok := h.cache.Get(r.Context(), key); ok {
			h.log.Debug().Str("project", project.Name).Msg("Serving cached stack")
			h.writeJSON(w, http.StatusOK, cached)
			return
		}
	}

	result, err := h.allocator.Optimize(project, options, granularity)
	if err != nil {
		// Funding infeasibility and structural errors are both caller
		// problems: the same inputs will always fail the same way.
		if stack.IsFundingError(err) {
			h.log.Info().Err(err).Str("project", project.Name).Msg("Allocation infeasible")
		}
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := h.repo.Save(result); err != nil {
		// The stack itself is sound; surface the persistence failure
		h.log.Error().Err(err).Str("project", project.Name).Msg("Failed to persist stack")
		h.writeError(w, http.StatusInternalServerError, "Failed to persist result")
		return
	}

	if h.cache != nil {
		if err := h.cache.Set(r.Context(), key, result); err != nil {
			h.log.Warn().Err(err).Msg("Failed to cache stack")
		}
	}

	h.writeJSON(w, http.StatusOK, result)
}

// HandleHistory handles GET /api/history?limit=N: most recent stored stacks.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			h.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	records, err := h.repo.ListRecent(limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list history")
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, records)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
