package dcb

import "context"

// EventStore is the core interface for appending and reading events. It is
// the sole write path's target and the sole read path's source; the
// Decision Model layer and Projection Daemon are both built entirely on
// top of it.
type EventStore interface {
	// Append atomically persists one or more events, allocating them
	// strictly increasing positions in caller-supplied order. If
	// condition is non-nil and its predicate matches any event already
	// committed after AfterSequencePosition, the append fails with
	// *AppendConditionFailedError and nothing is written.
	Append(ctx context.Context, events []NewEvent, condition *AppendCondition) (int64, error)

	// Read returns events matching query in position order (ascending
	// unless options.Descending), restricted to positions strictly
	// greater than fromPosition.
	Read(ctx context.Context, query Query, options *ReadOptions, fromPosition int64) ([]SequencedEvent, error)

	// ReadLast returns the single newest event matching query, or nil if
	// none match.
	ReadLast(ctx context.Context, query Query) (*SequencedEvent, error)

	// Head returns the current ledger position (the position of the
	// most recently committed event, or 0 if the store is empty).
	Head(ctx context.Context) (int64, error)

	// AddTags performs the one mutation spec §3 permits on a committed
	// event: appending additional tags. Existing tags are never removed
	// or edited. Tag indices are updated atomically under the same
	// append mutex as ordinary appends.
	AddTags(ctx context.Context, position int64, tags []Tag) error
}
