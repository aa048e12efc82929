// Package usage tracks LLM spend for one extraction session. The tracker is
// owned by a single orchestrator goroutine; its lifetime is one session and
// nothing is persisted.
package usage

import (
	"sync"

	"dockhand/internal/logging"
)

// TokenCounts holds input/output sums and the dollars they cost.
type TokenCounts struct {
	Input  int64   `json:"input"`
	Output int64   `json:"output"`
	Total  int64   `json:"total"`
	Cost   float64 `json:"cost_usd"`
}

// Add accumulates a call into the counts.
func (tc *TokenCounts) Add(input, output int, cost float64) {
	tc.Input += int64(input)
	tc.Output += int64(output)
	tc.Total += int64(input + output)
	tc.Cost += cost
}

// Snapshot is the session cost state handed to decision points and reports.
type Snapshot struct {
	Calls   int                    `json:"calls"`
	Tokens  int64                  `json:"tokens"`
	CostUSD float64                `json:"cost_usd"`
	ByModel map[string]TokenCounts `json:"by_model"`
}

// Pricing is dollars per single token for one model.
type Pricing struct {
	InputPerToken  float64
	OutputPerToken float64
}

// Tracker records LLM calls against a per-session budget.
type Tracker struct {
	mu       sync.Mutex
	calls    int
	total    TokenCounts
	byModel  map[string]TokenCounts
	pricing  map[string]Pricing
	capUSD   float64
	capCalls int
	warned   bool
}

// NewTracker creates a session tracker with the configured caps and per-model
// pricing table.
func NewTracker(capCalls int, capUSD float64, pricing map[string]Pricing) *Tracker {
	return &Tracker{
		byModel:  make(map[string]TokenCounts),
		pricing:  pricing,
		capUSD:   capUSD,
		capCalls: capCalls,
	}
}

// Cost computes the dollars for a call against the pricing table.
// Unknown models cost zero, which keeps the budget check conservative in the
// direction of admitting the call; the caps on call count still apply.
func (t *Tracker) Cost(model string, tokensIn, tokensOut int) float64 {
	p, ok := t.pricing[model]
	if !ok {
		return 0
	}
	return float64(tokensIn)*p.InputPerToken + float64(tokensOut)*p.OutputPerToken
}

// EstimateCost projects the cost of a call with the given token ceiling,
// splitting projected tokens 60/40 between input and output.
func (t *Tracker) EstimateCost(model string, maxTokens int) float64 {
	in := int(float64(maxTokens) * 0.6)
	out := maxTokens - in
	return t.Cost(model, in, out)
}

// Record logs an actual call into the tracker. Crossing 80% of the monetary
// cap emits a one-time warning.
func (t *Tracker) Record(model string, tokensIn, tokensOut int) {
	cost := t.Cost(model, tokensIn, tokensOut)

	t.mu.Lock()
	defer t.mu.Unlock()

	t.calls++
	t.total.Add(tokensIn, tokensOut, cost)
	entry := t.byModel[model]
	entry.Add(tokensIn, tokensOut, cost)
	t.byModel[model] = entry

	if !t.warned && t.capUSD > 0 && t.total.Cost >= 0.8*t.capUSD {
		t.warned = true
		logging.Get(logging.CategoryExtraction).Warn(
			"session LLM spend at %.0f%% of cap ($%.4f of $%.2f)",
			100*t.total.Cost/t.capUSD, t.total.Cost, t.capUSD)
	}
}

// Calls returns the number of recorded LLM calls.
func (t *Tracker) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

// SpentUSD returns the dollars recorded so far.
func (t *Tracker) SpentUSD() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total.Cost
}

// WouldExceed reports whether adding projectedCost would cross either cap.
func (t *Tracker) WouldExceed(projectedCost float64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.capCalls > 0 && t.calls+1 > t.capCalls {
		return true
	}
	if t.capUSD > 0 && t.total.Cost+projectedCost > t.capUSD {
		return true
	}
	return false
}

// Exhausted reports whether either cap has already been reached.
func (t *Tracker) Exhausted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.capCalls > 0 && t.calls >= t.capCalls {
		return true
	}
	if t.capUSD > 0 && t.total.Cost >= t.capUSD {
		return true
	}
	return false
}

// Stats returns a copy of the session snapshot.
func (t *Tracker) Stats() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	byModel := make(map[string]TokenCounts, len(t.byModel))
	for k, v := range t.byModel {
		byModel[k] = v
	}
	return Snapshot{
		Calls:   t.calls,
		Tokens:  t.total.Total,
		CostUSD: t.total.Cost,
		ByModel: byModel,
	}
}
