package dcb

// NewTags builds a []Tag from alternating key/value strings, mirroring the
// teacher's NewTags helper. An odd number of arguments panics — this is a
// programmer error, not a runtime condition.
func NewTags(kv ...string) []Tag {
	if len(kv)%2 != 0 {
		panic("dcb: NewTags requires an even number of key/value arguments")
	}
	tags := make([]Tag, 0, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		tags = append(tags, Tag{Key: kv[i], Value: kv[i+1]})
	}
	return tags
}

// NewQueryItem builds a single QueryItem from tags and event types.
func NewQueryItem(tags []Tag, eventTypes ...string) QueryItem {
	return QueryItem{EventTypes: eventTypes, Tags: tags}
}

// NewQuery builds a single-item Query. Use Query{Items: ...} directly to
// compose multi-item OR queries.
func NewQuery(tags []Tag, eventTypes ...string) Query {
	return Query{Items: []QueryItem{NewQueryItem(tags, eventTypes...)}}
}

// hasTag reports whether tags contains (key, value).
func hasTag(tags []Tag, key, value string) bool {
	for _, t := range tags {
		if t.Key == key && t.Value == value {
			return true
		}
	}
	return false
}

// hasEventType reports whether types contains t.
func hasEventType(types []string, t string) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

// Matches reports whether the query item matches the given event,
// identically to the index-based resolution path so in-memory folding
// (Decision Model layer) and on-disk indices never disagree.
func (qi QueryItem) Matches(eventType string, tags []Tag) bool {
	if len(qi.EventTypes) > 0 && !hasEventType(qi.EventTypes, eventType) {
		return false
	}
	for _, want := range qi.Tags {
		if !hasTag(tags, want.Key, want.Value) {
			return false
		}
	}
	return true
}

// Matches reports whether any item in the query matches the given event
// (OR semantics). A query with zero items (Query.All) matches everything.
func (q Query) Matches(eventType string, tags []Tag) bool {
	if len(q.Items) == 0 {
		return true
	}
	for _, item := range q.Items {
		if item.Matches(eventType, tags) {
			return true
		}
	}
	return false
}

// MatchesEvent is a convenience wrapper over Matches for a SequencedEvent.
func (q Query) MatchesEvent(e SequencedEvent) bool {
	return q.Matches(e.Type, e.Tags)
}

// Union concatenates the items of all given queries into a single OR
// query. If any input query is Query.All, the union is Query.All — an
// all-matching sub-query absorbs every other item, exactly as spec §4.6
// step 1 requires.
func Union(queries ...Query) Query {
	for _, q := range queries {
		if q.IsAll() {
			return All()
		}
	}
	var items []QueryItem
	for _, q := range queries {
		items = append(items, q.Items...)
	}
	return Query{Items: items}
}
