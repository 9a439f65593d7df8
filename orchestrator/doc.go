// Package orchestrator drives a governed multi-agent conversation: classify
// the request, run the gate pipeline, then loop speaker selection, context
// retrieval, model execution, and spend recording until a termination
// condition fires. Turns within one conversation are strictly ordered;
// independent conversations run concurrently against the shared ledger,
// approval store, and registry.
package orchestrator
