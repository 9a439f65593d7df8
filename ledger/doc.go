// Package ledger tracks model spend as an append-only sequence of cost
// records and enforces the daily budget ceiling. Rollups are computed from
// the underlying records on every read, so they are always consistent with
// the sum of what was recorded; there are no lossy counters.
package ledger
