package ledger

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordSpend_ComputesCostFromPriceTable(t *testing.T) {
	l := New(NewPriceTable())

	rec := l.RecordSpend("s1", "openai", "gpt-4o", 1000, 2000, "lead")

	assert.InDelta(t, 0.0025+2*0.01, rec.CostUSD, 1e-9)
	assert.Equal(t, "s1", rec.SessionID)
	assert.Equal(t, "lead", rec.AgentID)
	assert.NotEmpty(t, rec.ID)
	assert.False(t, rec.Timestamp.IsZero())
}

func TestRecordSpend_UnknownModelCostsZero(t *testing.T) {
	l := New(NewPriceTable())

	rec := l.RecordSpend("s1", "openai", "gpt-99", 1000, 1000, "lead")
	assert.Zero(t, rec.CostUSD)
	assert.Equal(t, 1000, rec.InputTokens, "token counts still recorded")
}

func TestSessionTotal_EqualsSumOfRecords(t *testing.T) {
	l := New(NewPriceTable())

	var want float64
	for i := 0; i < 10; i++ {
		rec := l.RecordSpend("s1", "anthropic", "claude-3-5-sonnet-20241022", 500, 500, "finance")
		want += rec.CostUSD
		assert.GreaterOrEqual(t, rec.CostUSD, 0.0)
		// monotonicity: the running total never decreases
		assert.InDelta(t, want, l.GetSessionTotal("s1"), 1e-9)
	}
	l.RecordSpend("other", "anthropic", "claude-3-5-sonnet-20241022", 100, 100, "lead")
	assert.InDelta(t, want, l.GetSessionTotal("s1"), 1e-9, "other sessions do not leak in")
}

func TestCheckBudget_DeniesAtCeiling(t *testing.T) {
	l := New(NewPriceTable(), func(o *Options) { o.DailyCeilingUSD = 0.01 })

	require.True(t, l.CheckBudget("c1").CanProceed)

	// 1M output tokens of gpt-4o is $10, well past a one-cent ceiling.
	l.RecordSpend("s1", "openai", "gpt-4o", 0, 1_000_000, "lead")

	decision := l.CheckBudget("c1")
	assert.False(t, decision.CanProceed)
	assert.Contains(t, decision.Reason, "daily budget ceiling reached")
}

func TestCheckBudget_IgnoresPriorDays(t *testing.T) {
	current := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	l := New(NewPriceTable(), func(o *Options) {
		o.DailyCeilingUSD = 0.01
		o.Now = func() time.Time { return current }
	})

	l.RecordSpend("s1", "openai", "gpt-4o", 0, 1_000_000, "lead")
	require.False(t, l.CheckBudget("c1").CanProceed)

	// next day the same spend no longer counts
	current = current.Add(24 * time.Hour)
	assert.True(t, l.CheckBudget("c1").CanProceed)
}

func TestOverview_ConsistentWithRecords(t *testing.T) {
	l := New(NewPriceTable())

	l.RecordSpend("s1", "openai", "gpt-4o-mini", 1000, 1000, "lead")
	l.RecordSpend("s1", "openai", "gpt-4o-mini", 1000, 1000, "finance")
	l.RecordSpend("s2", "mock", "mock", 1000, 1000, "lead")

	ov := l.GetRealtimeOverview()
	assert.Equal(t, 3, ov.RecordCount)
	assert.InDelta(t, ov.PerSession["s1"]+ov.PerSession["s2"], ov.TotalUSD, 1e-9)
	assert.InDelta(t, ov.PerAgent["lead"]+ov.PerAgent["finance"], ov.TotalUSD, 1e-9)
	assert.InDelta(t, ov.TotalUSD, ov.TodayUSD, 1e-9)

	agents := l.GetAgentCosts()
	assert.InDelta(t, ov.PerAgent["lead"], agents["lead"], 1e-9)
}

func TestLedger_ConcurrentAppends(t *testing.T) {
	l := New(NewPriceTable(), func(o *Options) {
		o.Metrics = NewMetrics(prometheus.NewRegistry())
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				l.RecordSpend("s1", "mock", "mock", 100, 100, "lead")
			}
		}()
	}
	wg.Wait()

	ov := l.GetRealtimeOverview()
	assert.Equal(t, 400, ov.RecordCount)
	assert.InDelta(t, ov.TotalUSD, l.GetSessionTotal("s1"), 1e-9)
}

func TestPriceTable_RefreshMergesAndValidates(t *testing.T) {
	pt := NewPriceTable()

	err := pt.LoadBytes([]byte(`
openai:
  gpt-4o:
    input_per_1k: 0.005
    output_per_1k: 0.02
acme:
  frontier-1:
    input_per_1k: 0.001
    output_per_1k: 0.001
`))
	require.NoError(t, err)

	price, ok := pt.Lookup("openai", "gpt-4o")
	require.True(t, ok)
	assert.Equal(t, 0.005, price.InputPer1K)

	_, ok = pt.Lookup("acme", "frontier-1")
	assert.True(t, ok)

	// untouched entries survive the merge
	_, ok = pt.Lookup("anthropic", "claude-3-5-sonnet-20241022")
	assert.True(t, ok)

	err = pt.LoadBytes([]byte("openai:\n  bad:\n    input_per_1k: -1\n"))
	assert.Error(t, err)
}
