// Package approval implements the human-in-the-loop gate: a registry of
// pending approval requests that conversations block on until an external
// actor approves or denies. Status transitions are compare-and-swap from
// pending only; re-approving a terminal request is a no-op that returns the
// existing terminal state.
package approval
