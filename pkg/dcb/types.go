package dcb

import "time"

// Tag is a key-value pair attached to an event for indexed lookup.
// Both Key and Value must be non-empty; order is insignificant for
// matching but is preserved on read.
type Tag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// QueryItem is a single atomic query condition. It matches an event iff
// (EventTypes is empty OR contains the event's type) AND (every tag in
// Tags is present on the event). An empty Tags list matches any event.
type QueryItem struct {
	EventTypes []string `json:"event_types,omitempty"`
	Tags       []Tag    `json:"tags,omitempty"`
}

// Query is an ordered list of QueryItems combined with OR semantics: it
// matches an event iff any item matches. A Query with zero items is
// Query.All and matches every event.
type Query struct {
	Items []QueryItem `json:"items,omitempty"`
}

// All returns the query that matches every event.
func All() Query {
	return Query{}
}

// IsAll reports whether q matches every event (has no items).
func (q Query) IsAll() bool {
	return len(q.Items) == 0
}

// EventMetadata carries caller-supplied context for an event. All fields
// are optional except Timestamp, which is stamped by the store at append
// time if the caller leaves it zero.
type EventMetadata struct {
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	CausationID   string    `json:"causation_id,omitempty"`
	OperationID   string    `json:"operation_id,omitempty"`
	UserID        string    `json:"user_id,omitempty"`
}

// NewEvent is the input to Append: an opaque payload, a stable type name,
// an ordered set of tags, and optional metadata. It carries no position —
// positions are allocated by the store.
type NewEvent struct {
	Type     string        `json:"event_type"`
	Data     []byte        `json:"event"`
	Tags     []Tag         `json:"tags"`
	Metadata EventMetadata `json:"-"`
}

// NewInputEvent builds a NewEvent from a type, payload, and tags. This is
// the builder callers are expected to use at the core boundary instead of
// constructing the struct literal directly.
func NewInputEvent(eventType string, data []byte, tags ...Tag) NewEvent {
	return NewEvent{Type: eventType, Data: data, Tags: tags}
}

// WithMetadata attaches metadata to a NewEvent, returning the modified copy.
func (e NewEvent) WithMetadata(md EventMetadata) NewEvent {
	e.Metadata = md
	return e
}

// SequencedEvent is a NewEvent plus the globally unique, strictly
// monotonically increasing position assigned to it at append time.
type SequencedEvent struct {
	Position int64         `json:"position"`
	Type     string        `json:"event_type"`
	Data     []byte        `json:"event"`
	Tags     []Tag         `json:"tags"`
	Metadata EventMetadata `json:"metadata"`
}

// AppendCondition is evaluated inside the append critical section. The
// append fails iff an event exists with position > AfterSequencePosition
// (or any event, if nil) matching FailIfEventsMatch.
type AppendCondition struct {
	FailIfEventsMatch     Query
	AfterSequencePosition *int64
}

// ReadOptions configures a Read call.
type ReadOptions struct {
	// Descending reverses read order (default ascending).
	Descending bool
}
