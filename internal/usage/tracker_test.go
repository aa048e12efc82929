package usage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var testPricing = map[string]Pricing{
	"mini":  {InputPerToken: 0.000001, OutputPerToken: 0.000002},
	"large": {InputPerToken: 0.00001, OutputPerToken: 0.00003},
}

func TestCost(t *testing.T) {
	tr := NewTracker(10, 1.0, testPricing)

	assert.InDelta(t, 1000*0.000001+500*0.000002, tr.Cost("mini", 1000, 500), 1e-12)
	assert.Zero(t, tr.Cost("unknown-model", 1000, 500))
}

func TestEstimateCostSplitsTokens(t *testing.T) {
	tr := NewTracker(10, 1.0, testPricing)

	// 2000 tokens split 1200 in / 800 out.
	want := 1200*0.000001 + 800*0.000002
	assert.InDelta(t, want, tr.EstimateCost("mini", 2000), 1e-12)
}

func TestRecordAccumulates(t *testing.T) {
	tr := NewTracker(10, 1.0, testPricing)

	tr.Record("mini", 1000, 500)
	tr.Record("large", 2000, 1000)

	assert.Equal(t, 2, tr.Calls())
	assert.InDelta(t, tr.Cost("mini", 1000, 500)+tr.Cost("large", 2000, 1000), tr.SpentUSD(), 1e-12)

	stats := tr.Stats()
	assert.Equal(t, 2, stats.Calls)
	assert.Equal(t, int64(4500), stats.Tokens)
	assert.Equal(t, int64(1000), stats.ByModel["mini"].Input)
	assert.Equal(t, int64(3000), stats.ByModel["large"].Total)
}

func TestStatsReturnsCopy(t *testing.T) {
	tr := NewTracker(10, 1.0, testPricing)
	tr.Record("mini", 100, 100)

	stats := tr.Stats()
	stats.ByModel["mini"] = TokenCounts{Input: 999999}

	assert.Equal(t, int64(100), tr.Stats().ByModel["mini"].Input)
}

func TestWouldExceedCallCap(t *testing.T) {
	tr := NewTracker(2, 100.0, testPricing)

	assert.False(t, tr.WouldExceed(0))
	tr.Record("mini", 10, 10)
	assert.False(t, tr.WouldExceed(0))
	tr.Record("mini", 10, 10)
	assert.True(t, tr.WouldExceed(0), "third call crosses the two-call cap")
}

func TestWouldExceedCostCap(t *testing.T) {
	tr := NewTracker(100, 0.01, testPricing)

	assert.False(t, tr.WouldExceed(0.009))
	assert.True(t, tr.WouldExceed(0.011))

	// 5000 in at 1e-6 = $0.005 spent; $0.006 more would cross.
	tr.Record("mini", 5000, 0)
	assert.False(t, tr.WouldExceed(0.004))
	assert.True(t, tr.WouldExceed(0.006))
}

func TestExhausted(t *testing.T) {
	tr := NewTracker(1, 100.0, testPricing)
	assert.False(t, tr.Exhausted())
	tr.Record("mini", 10, 10)
	assert.True(t, tr.Exhausted())

	costCapped := NewTracker(100, 0.005, testPricing)
	costCapped.Record("mini", 5000, 0) // exactly $0.005
	assert.True(t, costCapped.Exhausted())
}

func TestZeroCapsDisableLimits(t *testing.T) {
	tr := NewTracker(0, 0, testPricing)
	for i := 0; i < 50; i++ {
		tr.Record("large", 10000, 10000)
	}
	assert.False(t, tr.Exhausted())
	assert.False(t, tr.WouldExceed(1000))
}
