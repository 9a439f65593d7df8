// Package core defines the shared domain types of the Parley conversation
// engine: conversations and their turns, role-based content with a closed
// part union, the stream event envelope, participant metadata and the store
// interfaces consumed by the orchestrator. Higher-level packages (classify,
// guard, ledger, selection, retrieval, orchestrator, stream) depend on core
// and never on each other's internals.
package core
