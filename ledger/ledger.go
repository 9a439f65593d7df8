package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/parley-ai/parley/core"
	"github.com/parley-ai/parley/logging"
)

// CostRecord is one append-only ledger entry for a single model call.
type CostRecord struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"session_id"`
	AgentID      string    `json:"agent_id"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	CostUSD      float64   `json:"cost_usd"`
	Timestamp    time.Time `json:"timestamp"`
}

// BudgetDecision is the outcome of a budget check.
type BudgetDecision struct {
	CanProceed bool
	Reason     string
}

// Overview is the read-side aggregation over the whole ledger.
type Overview struct {
	TotalUSD    float64            `json:"total_usd"`
	TodayUSD    float64            `json:"today_usd"`
	RecordCount int                `json:"record_count"`
	PerSession  map[string]float64 `json:"per_session"`
	PerAgent    map[string]float64 `json:"per_agent"`
}

// Options configures a Ledger.
type Options struct {
	DailyCeilingUSD float64
	Logger          logging.Logger
	Metrics         *Metrics
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Ledger is the shared, thread-safe cost store consulted by every
// conversation. Records are append-only; aggregates are computed on read.
type Ledger struct {
	mu      sync.RWMutex
	records []CostRecord

	prices  *PriceTable
	ceiling float64
	logger  logging.Logger
	metrics *Metrics
	now     func() time.Time
}

// New creates a Ledger backed by the given price table.
func New(prices *PriceTable, optFns ...func(o *Options)) *Ledger {
	opts := Options{
		DailyCeilingUSD: 25.0,
		Logger:          logging.NopLogger{},
		Now:             time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Ledger{
		prices:  prices,
		ceiling: opts.DailyCeilingUSD,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		now:     opts.Now,
	}
}

// RecordSpend computes the call cost from the price table and appends a
// record. The returned record is a copy; the stored entry is immutable.
func (l *Ledger) RecordSpend(sessionID, provider, model string, inputTokens, outputTokens int, agentID string) CostRecord {
	cost := l.prices.Cost(provider, model, inputTokens, outputTokens)
	rec := CostRecord{
		ID:           core.NewID(),
		SessionID:    sessionID,
		AgentID:      agentID,
		Provider:     provider,
		Model:        model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		CostUSD:      cost,
		Timestamp:    l.now().UTC(),
	}

	l.mu.Lock()
	l.records = append(l.records, rec)
	l.mu.Unlock()

	if l.metrics != nil {
		l.metrics.ObserveSpend(rec)
	}
	l.logger.Debug("ledger.record_spend",
		"session_id", sessionID, "agent_id", agentID,
		"provider", provider, "model", model,
		"input_tokens", inputTokens, "output_tokens", outputTokens,
		"cost_usd", cost)
	return rec
}

// CheckBudget compares the current UTC day's accumulated spend against the
// configured ceiling. Called before any model call; exceeding the ceiling
// aborts the conversation.
func (l *Ledger) CheckBudget(conversationID string) BudgetDecision {
	today := l.todayTotal()
	if today >= l.ceiling {
		if l.metrics != nil {
			l.metrics.ObserveBudgetDenial()
		}
		l.logger.Warn("ledger.budget_exceeded",
			"conversation_id", conversationID, "today_usd", today, "ceiling_usd", l.ceiling)
		return BudgetDecision{
			CanProceed: false,
			Reason:     budgetExceededReason(today, l.ceiling),
		}
	}
	return BudgetDecision{CanProceed: true, Reason: "within daily budget"}
}

func budgetExceededReason(today, ceiling float64) string {
	return fmt.Sprintf("daily budget ceiling reached: spent $%.2f of $%.2f", today, ceiling)
}

// GetSessionTotal sums the cost of all records for a session.
func (l *Ledger) GetSessionTotal(sessionID string) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var total float64
	for _, rec := range l.records {
		if rec.SessionID == sessionID {
			total += rec.CostUSD
		}
	}
	return total
}

// GetSessionRecords returns copies of all records for a session in append
// order.
func (l *Ledger) GetSessionRecords(sessionID string) []CostRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []CostRecord
	for _, rec := range l.records {
		if rec.SessionID == sessionID {
			out = append(out, rec)
		}
	}
	return out
}

// GetAgentCosts aggregates spend per agent across all sessions.
func (l *Ledger) GetAgentCosts() map[string]float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := map[string]float64{}
	for _, rec := range l.records {
		out[rec.AgentID] += rec.CostUSD
	}
	return out
}

// GetRealtimeOverview aggregates the whole ledger. The returned maps are
// fresh copies consistent with the records at the time of the call.
func (l *Ledger) GetRealtimeOverview() Overview {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ov := Overview{PerSession: map[string]float64{}, PerAgent: map[string]float64{}}
	today := dayStart(l.now().UTC())
	for _, rec := range l.records {
		ov.TotalUSD += rec.CostUSD
		ov.PerSession[rec.SessionID] += rec.CostUSD
		ov.PerAgent[rec.AgentID] += rec.CostUSD
		if !rec.Timestamp.Before(today) {
			ov.TodayUSD += rec.CostUSD
		}
	}
	ov.RecordCount = len(l.records)
	return ov
}

func (l *Ledger) todayTotal() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	today := dayStart(l.now().UTC())
	var total float64
	for _, rec := range l.records {
		if !rec.Timestamp.Before(today) {
			total += rec.CostUSD
		}
	}
	return total
}

func dayStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
