// Package classify implements the rule-based request classifier that runs
// before any model call. Its output bounds the worst-case turn count of a
// conversation, which is the main cost-control lever: cheap pattern checks
// decide whether a message deserves one greeting turn or a full multi-agent
// deliberation.
package classify
