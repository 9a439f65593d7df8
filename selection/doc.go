// Package selection implements the speaker-selection policy: given the
// latest message and the participating agents, it picks who speaks next.
// Every decision carries a reason from a closed vocabulary so routing is
// observable and testable; there is no unlabeled fallthrough.
package selection
