// Package projection implements the materialized-view layer (spec §4.7/§4.8):
// named, keyed projections folded from the event log by a polling daemon and
// persisted to the filesystem independently of the core event store.
package projection

import "dcbstore/pkg/dcb"

// Definition names one materialized view: which events it folds
// (those matching Query), how an event selects
// the key of the state it updates, how to fold an event into that state,
// and optionally which tags the resulting state should be indexed under.
//
// InitialState must be a concrete, non-nil value of the projection's
// state type (a zero struct is fine) — Store.Get uses its type to decode
// state read back from disk, so Apply and TagProvider always see the same
// concrete type whether the state came from InitialState or a reload.
//
// Apply returning nil signals deletion of the keyed state, mirroring the
// teacher's TransitionFn shape generalized with a per-key selector.
type Definition struct {
	Name         string
	Query        dcb.Query
	KeySelector  func(event dcb.SequencedEvent) string
	Apply        func(current any, event dcb.SequencedEvent) any
	InitialState any
	TagProvider  func(state any) []dcb.Tag
}

// Matches reports whether event should be folded into this projection.
func (d Definition) Matches(event dcb.SequencedEvent) bool {
	return d.Query.MatchesEvent(event)
}

// State is a single keyed materialized view entry plus its bookkeeping.
type State struct {
	Key     string `json:"key"`
	Value   any    `json:"value"`
	Version int64  `json:"version"`
}
