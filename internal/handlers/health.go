package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"
)

const (
	healthStatusOK       = "ok"
	healthStatusDegraded = "degraded"
)

// BuildInfo describes the running binary for health reporting.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// ReadinessProbe checks one dependency; a non-nil error marks it degraded.
type ReadinessProbe func(ctx context.Context) error

// HealthHandlers serves liveness and readiness endpoints.
type HealthHandlers struct {
	build  BuildInfo
	clock  func() time.Time
	probes map[string]ReadinessProbe
}

// HealthOption customises health handler construction.
type HealthOption func(*HealthHandlers)

// WithHealthBuildInfo attaches build metadata to health responses.
func WithHealthBuildInfo(info BuildInfo) HealthOption {
	return func(h *HealthHandlers) {
		h.build = info
	}
}

// WithHealthClock overrides the time source; useful in tests.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// WithHealthProbe registers a named dependency probe for readiness.
func WithHealthProbe(name string, probe ReadinessProbe) HealthOption {
	return func(h *HealthHandlers) {
		if name == "" || probe == nil {
			return
		}
		if h.probes == nil {
			h.probes = map[string]ReadinessProbe{}
		}
		h.probes[name] = probe
	}
}

// NewHealthHandlers constructs health handlers with the given options.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.build.StartedAt.IsZero() {
		h.build.StartedAt = h.clock()
	}
	return h
}

type healthCheckPayload struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	Latency   string `json:"latency,omitempty"`
	CheckedAt string `json:"checkedAt"`
}

type healthResponse struct {
	Status      string                        `json:"status"`
	Version     string                        `json:"version,omitempty"`
	CommitSHA   string                        `json:"commitSha,omitempty"`
	Environment string                        `json:"environment,omitempty"`
	Uptime      string                        `json:"uptime"`
	Checks      map[string]healthCheckPayload `json:"checks,omitempty"`
	Details     []string                      `json:"details,omitempty"`
}

// Healthz reports liveness: the process is up and serving.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, _ *http.Request) {
	now := h.clock()
	writeJSONResponse(w, http.StatusOK, healthResponse{
		Status:      healthStatusOK,
		Version:     h.build.Version,
		CommitSHA:   h.build.CommitSHA,
		Environment: h.build.Environment,
		Uptime:      now.Sub(h.build.StartedAt).String(),
	})
}

// Readyz runs every registered probe and degrades the response when any
// dependency reports an error.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := h.clock()

	resp := healthResponse{
		Status:      healthStatusOK,
		Version:     h.build.Version,
		CommitSHA:   h.build.CommitSHA,
		Environment: h.build.Environment,
		Uptime:      now.Sub(h.build.StartedAt).String(),
	}

	if len(h.probes) > 0 {
		resp.Checks = make(map[string]healthCheckPayload, len(h.probes))
		names := make([]string, 0, len(h.probes))
		for name := range h.probes {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			started := h.clock()
			err := h.probes[name](ctx)
			check := healthCheckPayload{
				Status:    healthStatusOK,
				Latency:   h.clock().Sub(started).String(),
				CheckedAt: started.UTC().Format(time.RFC3339),
			}
			if err != nil {
				check.Status = healthStatusDegraded
				check.Error = err.Error()
				resp.Status = healthStatusDegraded
				resp.Details = append(resp.Details, name+": "+err.Error())
			}
			resp.Checks[name] = check
		}
	}

	status := http.StatusOK
	if resp.Status != healthStatusOK {
		status = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, status, resp)
}
