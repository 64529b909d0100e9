// Package dcb implements a Dynamic Consistency Boundary event store
// backed by the filesystem: an append-only log of immutable events with
// tag/type secondary indices, optimistic concurrency scoped to arbitrary
// query predicates, and the Decision Model layer that composes
// independent projections into a single read-decide-append cycle.
package dcb
