// Package health probes the service's dependencies and folds the results
// into a single status. The database and the vector index are load-bearing;
// the LLM alone being down still leaves retrieval usable, so that case only
// degrades the service.
package health

import (
	"context"
	"time"
)

// Component statuses.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Probe checks one dependency.
type Probe func(ctx context.Context) error

// Detail is the outcome of one probe.
type Detail struct {
	Status    string `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// Report is the aggregated health payload.
type Report struct {
	Status     string            `json:"status"`
	Components map[string]Detail `json:"components"`
}

// Aggregator runs the configured probes with a shared timeout.
type Aggregator struct {
	Database    Probe
	VectorIndex Probe
	LLM         Probe
	Timeout     time.Duration
}

// Check probes every dependency and composes the overall status.
func (a *Aggregator) Check(ctx context.Context) Report {
	timeout := a.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	db := a.run(ctx, a.Database, timeout)
	index := a.run(ctx, a.VectorIndex, timeout)
	llm := a.run(ctx, a.LLM, timeout)

	status := StatusHealthy
	switch {
	case db.Status != StatusHealthy || index.Status != StatusHealthy:
		status = StatusUnhealthy
	case llm.Status != StatusHealthy:
		status = StatusDegraded
	}

	return Report{
		Status: status,
		Components: map[string]Detail{
			"database":     db,
			"vector_index": index,
			"llm":          llm,
		},
	}
}

func (a *Aggregator) run(ctx context.Context, probe Probe, timeout time.Duration) Detail {
	if probe == nil {
		return Detail{Status: StatusUnhealthy, Error: "probe not configured"}
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := probe(probeCtx)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return Detail{Status: StatusUnhealthy, LatencyMS: latency, Error: err.Error()}
	}
	return Detail{Status: StatusHealthy, LatencyMS: latency}
}
