// Package memory provides core.MemoryStore implementations backing the
// per-turn context retriever: a process-local token-overlap store for tests
// and single-node deployments, and an embedded chromem-go vector store for
// semantic retrieval.
package memory
