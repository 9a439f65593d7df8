package guard

import (
	"regexp"
	"strings"
)

// ThreatLevel orders observed severities. Aggregation always keeps the
// maximum across pattern families.
type ThreatLevel int

const (
	ThreatSafe ThreatLevel = iota
	ThreatCaution
	ThreatWarning
	ThreatDanger
)

func (t ThreatLevel) String() string {
	switch t {
	case ThreatSafe:
		return "safe"
	case ThreatCaution:
		return "caution"
	case ThreatWarning:
		return "warning"
	case ThreatDanger:
		return "danger"
	default:
		return "unknown"
	}
}

// Decision is the gate outcome derived from the aggregated threat level.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionModify  Decision = "modify"
	DecisionDeny    Decision = "deny"
)

// Result reports the validation outcome with the patterns that fired.
type Result struct {
	ThreatLevel     ThreatLevel
	Decision        Decision
	MatchedPatterns []string
}

// pattern couples a compiled matcher with its family label and severity.
type pattern struct {
	name     string
	severity ThreatLevel
	re       *regexp.Regexp
}

// Pattern families. Prompt-injection phrasing is warning-level (redactable),
// command injection and credential disclosure are danger-level.
var patterns = []pattern{
	{"prompt_injection.ignore_instructions", ThreatWarning, regexp.MustCompile(`(?i)ignore (all |any )?(previous|prior|above) (instructions|prompts|rules)`)},
	{"prompt_injection.role_override", ThreatWarning, regexp.MustCompile(`(?i)you are now (a|an|no longer)`)},
	{"prompt_injection.system_prompt_probe", ThreatWarning, regexp.MustCompile(`(?i)(reveal|show|print|repeat) (your |the )?(system prompt|initial instructions|hidden instructions)`)},
	{"prompt_injection.jailbreak_marker", ThreatCaution, regexp.MustCompile(`(?i)\b(dan mode|developer mode|jailbreak)\b`)},

	{"code_injection.shell_destructive", ThreatDanger, regexp.MustCompile(`(?i)\brm\s+-rf?\b|\bmkfs\b|\bdd\s+if=`)},
	{"code_injection.sql", ThreatDanger, regexp.MustCompile(`(?i)(;|\b)(drop|truncate)\s+(table|database)\b|'\s*or\s+'?1'?\s*=\s*'?1`)},
	{"code_injection.eval", ThreatWarning, regexp.MustCompile(`(?i)\b(eval|exec)\s*\(`)},
	{"code_injection.script_tag", ThreatWarning, regexp.MustCompile(`(?i)<script[\s>]`)},

	{"sensitive_data.api_key", ThreatDanger, regexp.MustCompile(`(?i)\b(sk|pk|rk)[-_](live|test|proj)[-_][a-z0-9]{16,}\b`)},
	{"sensitive_data.aws_key", ThreatDanger, regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`)},
	{"sensitive_data.private_key_block", ThreatDanger, regexp.MustCompile(`-----BEGIN (RSA |EC |OPENSSH )?PRIVATE KEY-----`)},
	{"sensitive_data.password_assignment", ThreatWarning, regexp.MustCompile(`(?i)\bpassword\s*[:=]\s*\S+`)},
	{"sensitive_data.ssn", ThreatWarning, regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
}

// Options configures gate policy.
type Options struct {
	// DenyOnWarning escalates warning-level findings from modify to deny.
	DenyOnWarning bool
}

// Gate validates text against the pattern families. Safe for concurrent use;
// it holds no mutable state.
type Gate struct {
	denyOnWarning bool
}

// New creates a security gate with optional policy overrides.
func New(optFns ...func(o *Options)) *Gate {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Gate{denyOnWarning: opts.DenyOnWarning}
}

// Validate classifies text produced by actorID. Empty or whitespace-only
// input is safe. The decision mapping is:
//
//	danger          -> deny
//	warning         -> modify (deny when DenyOnWarning policy is set)
//	safe / caution  -> approve
func (g *Gate) Validate(text, actorID string) Result {
	_ = actorID // reserved for per-actor policies

	if strings.TrimSpace(text) == "" {
		return Result{ThreatLevel: ThreatSafe, Decision: DecisionApprove}
	}

	level := ThreatSafe
	var matched []string
	for _, p := range patterns {
		if p.re.MatchString(text) {
			matched = append(matched, p.name)
			if p.severity > level {
				level = p.severity
			}
		}
	}

	return Result{ThreatLevel: level, Decision: g.decide(level), MatchedPatterns: matched}
}

func (g *Gate) decide(level ThreatLevel) Decision {
	switch {
	case level >= ThreatDanger:
		return DecisionDeny
	case level == ThreatWarning && g.denyOnWarning:
		return DecisionDeny
	case level == ThreatWarning:
		return DecisionModify
	default:
		return DecisionApprove
	}
}
