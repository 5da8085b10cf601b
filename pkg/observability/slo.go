package observability

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Operation names recorded by the report service.
const (
	OpSubmit  = "report.submit"
	OpApprove = "report.approve"
	OpReject  = "report.reject"
	OpSign    = "report.sign"
	OpVerify  = "report.verify"
)

// SLOTarget defines a service level objective.
type SLOTarget struct {
	SLOID       string        `json:"slo_id"`
	Name        string        `json:"name"`
	Operation   string        `json:"operation"`
	LatencyP99  time.Duration `json:"latency_p99"`
	SuccessRate float64       `json:"success_rate"` // 0-1
	WindowHours int           `json:"window_hours"`
}

// SLOObservation is a single data point.
type SLOObservation struct {
	Operation string        `json:"operation"`
	Latency   time.Duration `json:"latency"`
	Success   bool          `json:"success"`
	Timestamp time.Time     `json:"timestamp"`
}

// SLOStatus reports current compliance.
type SLOStatus struct {
	SLOID            string  `json:"slo_id"`
	Operation        string  `json:"operation"`
	CurrentP99       float64 `json:"current_p99_ms"`
	CurrentSuccess   float64 `json:"current_success_rate"`
	InCompliance     bool    `json:"in_compliance"`
	BurnRate         float64 `json:"burn_rate"` // >1 burns faster than the budget allows
	ErrorBudgetLeft  float64 `json:"error_budget_left"`
	ObservationCount int     `json:"observation_count"`
}

// DefaultSLOTargets covers every lifecycle operation. Signing and
// verification do public-key work, so their latency budget is wider.
func DefaultSLOTargets() []*SLOTarget {
	return []*SLOTarget{
		{SLOID: "slo-submit", Name: "Report submission", Operation: OpSubmit, LatencyP99: 200 * time.Millisecond, SuccessRate: 0.99, WindowHours: 24},
		{SLOID: "slo-approve", Name: "Report approval", Operation: OpApprove, LatencyP99: 200 * time.Millisecond, SuccessRate: 0.99, WindowHours: 24},
		{SLOID: "slo-reject", Name: "Report rejection", Operation: OpReject, LatencyP99: 200 * time.Millisecond, SuccessRate: 0.99, WindowHours: 24},
		{SLOID: "slo-sign", Name: "Report signing", Operation: OpSign, LatencyP99: 500 * time.Millisecond, SuccessRate: 0.995, WindowHours: 24},
		{SLOID: "slo-verify", Name: "Signature verification", Operation: OpVerify, LatencyP99: 500 * time.Millisecond, SuccessRate: 0.995, WindowHours: 24},
	}
}

// SLOTracker monitors SLOs across operations.
type SLOTracker struct {
	mu           sync.Mutex
	targets      map[string]*SLOTarget
	observations map[string][]SLOObservation
	clock        func() time.Time
}

// NewSLOTracker creates a new tracker.
func NewSLOTracker() *SLOTracker {
	return &SLOTracker{
		targets:      make(map[string]*SLOTarget),
		observations: make(map[string][]SLOObservation),
		clock:        time.Now,
	}
}

// WithClock overrides clock for testing.
func (t *SLOTracker) WithClock(clock func() time.Time) *SLOTracker {
	t.clock = clock
	return t
}

// SetTarget sets an SLO target for an operation.
func (t *SLOTracker) SetTarget(target *SLOTarget) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.targets[target.Operation] = target
}

// Record records an observation. Operations without a target are ignored,
// and observations older than the target window are dropped.
func (t *SLOTracker) Record(obs SLOObservation) {
	t.mu.Lock()
	defer t.mu.Unlock()

	target, ok := t.targets[obs.Operation]
	if !ok {
		return
	}
	if obs.Timestamp.IsZero() {
		obs.Timestamp = t.clock()
	}
	kept := t.windowed(target, t.observations[obs.Operation])
	t.observations[obs.Operation] = append(kept, obs)
}

func (t *SLOTracker) windowed(target *SLOTarget, observations []SLOObservation) []SLOObservation {
	windowStart := t.clock().Add(-time.Duration(target.WindowHours) * time.Hour)
	i := 0
	for i < len(observations) && !observations[i].Timestamp.After(windowStart) {
		i++
	}
	return observations[i:]
}

// Status computes current SLO status for an operation.
func (t *SLOTracker) Status(operation string) (*SLOStatus, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	target, ok := t.targets[operation]
	if !ok {
		return nil, fmt.Errorf("no SLO target for operation %q", operation)
	}
	return t.status(target), nil
}

// Statuses reports every configured target, ordered by operation.
func (t *SLOTracker) Statuses() []*SLOStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*SLOStatus, 0, len(t.targets))
	for _, target := range t.targets {
		out = append(out, t.status(target))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Operation < out[j].Operation })
	return out
}

func (t *SLOTracker) status(target *SLOTarget) *SLOStatus {
	windowed := t.windowed(target, t.observations[target.Operation])
	if len(windowed) == 0 {
		return &SLOStatus{
			SLOID:           target.SLOID,
			Operation:       target.Operation,
			CurrentSuccess:  1,
			InCompliance:    true,
			ErrorBudgetLeft: 100.0,
		}
	}

	successCount := 0
	latencies := make([]float64, len(windowed))
	for i, obs := range windowed {
		if obs.Success {
			successCount++
		}
		latencies[i] = float64(obs.Latency.Microseconds()) / 1000
	}
	successRate := float64(successCount) / float64(len(windowed))

	sort.Float64s(latencies)
	p99Index := int(float64(len(latencies)) * 0.99)
	if p99Index >= len(latencies) {
		p99Index = len(latencies) - 1
	}
	p99 := latencies[p99Index]

	latencyOK := p99 <= float64(target.LatencyP99.Microseconds())/1000
	successOK := successRate >= target.SuccessRate

	errorBudget := 1.0 - target.SuccessRate
	errorRate := 1.0 - successRate
	var burnRate float64
	budgetLeft := 100.0
	if errorBudget > 0 {
		burnRate = errorRate / errorBudget
		budgetLeft = 100.0 * (1.0 - burnRate)
	} else if errorRate > 0 {
		budgetLeft = 0
	}
	if budgetLeft < 0 {
		budgetLeft = 0
	}

	return &SLOStatus{
		SLOID:            target.SLOID,
		Operation:        target.Operation,
		CurrentP99:       p99,
		CurrentSuccess:   successRate,
		InCompliance:     latencyOK && successOK,
		BurnRate:         burnRate,
		ErrorBudgetLeft:  budgetLeft,
		ObservationCount: len(windowed),
	}
}
