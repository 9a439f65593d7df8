package selection

import (
	"strings"
	"sync"
	"time"

	"github.com/parley-ai/parley/core"
	"github.com/parley-ai/parley/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Reason labels why a speaker was picked. The vocabulary is closed; adding a
// routing rule means adding a reason here first.
type Reason string

const (
	ReasonFinanceKeywords     Reason = "finance_keywords"
	ReasonSecurityKeywords    Reason = "security_keywords"
	ReasonPerformanceKeywords Reason = "performance_keywords"
	ReasonLeadDefault         Reason = "lead_default"
	ReasonDefaultFirst        Reason = "default_first"
	ReasonExplicitRouting     Reason = "explicit_routing"
)

// Decision is the ephemeral record kept for metrics and debugging.
type Decision struct {
	PickedAgentID string
	Reason        Reason
	Timestamp     time.Time
}

// keywordRule routes messages containing any of its terms to the
// participant holding the target role. Rules are evaluated in order.
type keywordRule struct {
	role   string
	reason Reason
	terms  []string
}

var rules = []keywordRule{
	{core.RoleFinance, ReasonFinanceKeywords, []string{
		"budget", "cost", "price", "pricing", "estimate", "invoice",
		"payment", "revenue", "finance", "financial", "spend",
	}},
	{core.RoleSecurity, ReasonSecurityKeywords, []string{
		"security", "risk", "vulnerability", "threat", "breach",
		"credential", "incident", "exposure",
	}},
	{core.RolePerformance, ReasonPerformanceKeywords, []string{
		"performance", "latency", "slow", "throughput", "optimize",
		"bottleneck",
	}},
}

// shortlistRoles is the priority shortlist: the lead plus role-tagged
// specialists, considered only when actually present among the participants.
var shortlistRoles = []string{core.RoleLead, core.RoleFinance, core.RoleSecurity, core.RolePerformance}

// Options configures the policy.
type Options struct {
	Logger  logging.Logger
	Metrics prometheus.Registerer
	// HistoryLimit bounds the in-memory decision log (0 keeps the default).
	HistoryLimit int
}

// Policy picks the next speaker. Safe for concurrent use; the decision log
// is the only mutable state.
type Policy struct {
	logger       logging.Logger
	decisions    []Decision
	historyLimit int
	mu           sync.Mutex

	decisionCounter *prometheus.CounterVec
}

// New creates a selection policy.
func New(optFns ...func(o *Options)) *Policy {
	opts := Options{Logger: logging.NopLogger{}, HistoryLimit: 256}
	for _, fn := range optFns {
		fn(&opts)
	}
	p := &Policy{logger: opts.Logger, historyLimit: opts.HistoryLimit}
	if opts.Metrics != nil {
		p.decisionCounter = promauto.With(opts.Metrics).NewCounterVec(prometheus.CounterOpts{
			Name: "parley_selection_decisions_total",
			Help: "Speaker selections by picked agent and reason.",
		}, []string{"agent", "reason"})
	}
	return p
}

// Pick chooses the next speaker for the latest message. The error is
// non-nil only for an empty participant set; every other path resolves to a
// labeled decision.
func (p *Policy) Pick(latestMessage string, participants []core.ParticipantInfo) (core.ParticipantInfo, Reason, error) {
	if len(participants) == 0 {
		return core.ParticipantInfo{}, "", core.ErrNoEligibleSpeaker
	}

	shortlist := buildShortlist(participants)
	normalized := strings.ToLower(latestMessage)

	for _, rule := range rules {
		specialist, present := shortlist[rule.role]
		if !present {
			continue
		}
		for _, term := range rule.terms {
			if strings.Contains(normalized, term) {
				return p.record(specialist, rule.reason), rule.reason, nil
			}
		}
	}

	if lead, ok := shortlist[core.RoleLead]; ok {
		return p.record(lead, ReasonLeadDefault), ReasonLeadDefault, nil
	}
	return p.record(participants[0], ReasonDefaultFirst), ReasonDefaultFirst, nil
}

// PickByName resolves an explicit routing request, bypassing keyword rules.
func (p *Policy) PickByName(name string, participants []core.ParticipantInfo) (core.ParticipantInfo, Reason, error) {
	for _, part := range participants {
		if part.Name == name {
			return p.record(part, ReasonExplicitRouting), ReasonExplicitRouting, nil
		}
	}
	return core.ParticipantInfo{}, "", core.ErrNoEligibleSpeaker
}

// Decisions returns a copy of the recorded decision log, oldest first.
func (p *Policy) Decisions() []Decision {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Decision, len(p.decisions))
	copy(out, p.decisions)
	return out
}

func (p *Policy) record(part core.ParticipantInfo, reason Reason) core.ParticipantInfo {
	d := Decision{PickedAgentID: part.Name, Reason: reason, Timestamp: time.Now().UTC()}

	p.mu.Lock()
	p.decisions = append(p.decisions, d)
	if len(p.decisions) > p.historyLimit {
		p.decisions = p.decisions[len(p.decisions)-p.historyLimit:]
	}
	p.mu.Unlock()

	if p.decisionCounter != nil {
		p.decisionCounter.WithLabelValues(part.Name, string(reason)).Inc()
	}
	p.logger.Debug("selection.pick", "agent", part.Name, "reason", string(reason))
	return part
}

// buildShortlist indexes the first participant found per shortlist role.
func buildShortlist(participants []core.ParticipantInfo) map[string]core.ParticipantInfo {
	shortlist := make(map[string]core.ParticipantInfo, len(shortlistRoles))
	for _, role := range shortlistRoles {
		for _, part := range participants {
			if part.Role == role {
				shortlist[role] = part
				break
			}
		}
	}
	return shortlist
}
