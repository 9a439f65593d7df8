package classify

import (
	"regexp"
	"strings"

	"github.com/parley-ai/parley/logging"
)

// Category enumerates request classes in increasing order of expected effort.
type Category string

const (
	CategoryGreeting        Category = "greeting"
	CategorySimpleQuery     Category = "simple_query"
	CategoryStandard        Category = "standard"
	CategoryComplexBusiness Category = "complex_business"
)

// Classification carries the turn budget and termination hints derived from
// a raw user message.
type Classification struct {
	Category                 Category
	TurnBudget               int
	SingleAgent              bool
	TerminateOnFirstResponse bool
	KeywordMatches           int // complex-business keyword hits, for observability
}

// greetings are matched exactly after trimming and lowercasing; anything
// longer than a salutation falls through to the later rules.
var greetings = map[string]bool{
	"hello": true, "hi": true, "hey": true, "ciao": true, "hola": true,
	"good morning": true, "good afternoon": true, "good evening": true,
	"hello!": true, "hi!": true, "hey!": true, "hi there": true, "hello there": true,
}

// greetingPrefix catches short salutation-led messages like "Hello, say hi."
// while staying away from substantive requests (length bounded below).
var greetingPrefix = regexp.MustCompile(`^(hello|hi|hey|ciao|hola)\b`)

const greetingMaxLen = 40

// simpleQueries are name/time/status asks answerable by one agent in at most
// two turns.
var simpleQueries = []*regexp.Regexp{
	regexp.MustCompile(`^what('?s| is) your name`),
	regexp.MustCompile(`^who are you`),
	regexp.MustCompile(`^what time`),
	regexp.MustCompile(`^what('?s| is) the (time|date|status)`),
	regexp.MustCompile(`^(current )?status\b`),
	regexp.MustCompile(`^how are you`),
}

// complexKeywords is the complex-business vocabulary. Two or more distinct
// hits escalate to a full multi-agent deliberation; exactly one keeps the
// standard budget. The thresholds are tunable policy, not a hard contract.
var complexKeywords = []string{
	"strategy", "strategic", "budget", "compliance", "hiring", "recruit",
	"forecast", "roadmap", "acquisition", "negotiation", "contract",
	"portfolio", "restructure", "audit", "risk", "investment", "expansion",
	"partnership", "quarterly", "revenue",
}

// Classifier maps raw user messages onto a category and turn budget using
// three ordered pattern sets. It is deterministic and side-effect-free.
type Classifier struct {
	logger logging.Logger
}

// New creates a Classifier.
func New(logger logging.Logger) *Classifier {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &Classifier{logger: logger}
}

// Classify categorizes a message. Malformed input (empty or whitespace-only)
// is recovered locally by defaulting to the standard category; it never
// returns an error.
func (c *Classifier) Classify(message string) Classification {
	normalized := strings.ToLower(strings.TrimSpace(message))
	if normalized == "" {
		c.logger.Warn("classifier received empty message, defaulting to standard")
		return Classification{Category: CategoryStandard, TurnBudget: 3, SingleAgent: true, TerminateOnFirstResponse: true}
	}

	if greetings[normalized] || (len(normalized) <= greetingMaxLen && greetingPrefix.MatchString(normalized)) {
		return Classification{Category: CategoryGreeting, TurnBudget: 1, SingleAgent: true, TerminateOnFirstResponse: true}
	}

	for _, re := range simpleQueries {
		if re.MatchString(normalized) {
			return Classification{Category: CategorySimpleQuery, TurnBudget: 2, SingleAgent: true, TerminateOnFirstResponse: true}
		}
	}

	matches := countKeywordMatches(normalized)
	switch {
	case matches >= 2:
		return Classification{Category: CategoryComplexBusiness, TurnBudget: 10, SingleAgent: false, TerminateOnFirstResponse: false, KeywordMatches: matches}
	case matches == 1:
		return Classification{Category: CategoryStandard, TurnBudget: 5, SingleAgent: false, TerminateOnFirstResponse: false, KeywordMatches: matches}
	default:
		return Classification{Category: CategoryStandard, TurnBudget: 3, SingleAgent: true, TerminateOnFirstResponse: true}
	}
}

// countKeywordMatches counts distinct complex-business keywords present in
// the message.
func countKeywordMatches(normalized string) int {
	count := 0
	for _, kw := range complexKeywords {
		if strings.Contains(normalized, kw) {
			count++
		}
	}
	return count
}
