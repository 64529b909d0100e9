package dcb

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
)

// eventStore is the filesystem-backed implementation of EventStore. A
// single process-wide mutex serializes appends, including condition
// validation and index maintenance, exactly as spec §4.1/§5 requires.
// Reads never take this mutex — they rely on the temp-file-rename
// discipline of the ledger, event files, and indices to never observe a
// torn write.
type eventStore struct {
	rootDir   string
	config    StoreConfig
	ledger    *ledger
	files     *eventFileStore
	typeIndex *positionIndex
	tagIndex  *positionIndex

	appendMu sync.Mutex
}

// NewEventStore constructs the filesystem-backed event store rooted at
// cfg.RootPath/cfg.StoreName, validating cfg and claiming the process-wide
// store-name singleton (spec §6). Configuration errors are raised here,
// at construction, never at runtime (spec §7).
func NewEventStore(cfg StoreConfig) (EventStore, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := claimStoreName(cfg.StoreName); err != nil {
		return nil, err
	}

	root := filepath.Join(cfg.RootPath, cfg.StoreName)
	es := &eventStore{
		rootDir:   root,
		config:    cfg,
		ledger:    newLedger(root),
		files:     newEventFileStore(root, cfg.FlushEventsImmediately, cfg.WriteProtectEventFiles),
		typeIndex: newPositionIndex(filepath.Join(root, "indices", "event-type")),
		tagIndex:  newPositionIndex(filepath.Join(root, "indices", "tags")),
	}
	return es, nil
}

func (es *eventStore) Head(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	rec, err := es.ledger.read()
	if err != nil {
		return 0, err
	}
	return rec.LastSequencePosition, nil
}

// resolveQueryItem implements spec §4.4's Resolve(QueryItem, from_position).
func (es *eventStore) resolveQueryItem(item QueryItem, fromPosition, head int64) ([]int64, error) {
	var byType, byTag []int64
	haveTypes := len(item.EventTypes) > 0
	haveTags := len(item.Tags) > 0

	if haveTypes {
		lists := make([][]int64, 0, len(item.EventTypes))
		for _, t := range item.EventTypes {
			list, err := es.typeIndex.load(t)
			if err != nil {
				return nil, err
			}
			lists = append(lists, list)
		}
		byType = unionPositions(lists...)
	}
	if haveTags {
		lists := make([][]int64, 0, len(item.Tags))
		for _, t := range item.Tags {
			list, err := es.tagIndex.load(tagIndexKey(t))
			if err != nil {
				return nil, err
			}
			lists = append(lists, list)
		}
		byTag = intersectPositions(lists...)
	}

	var result []int64
	switch {
	case haveTypes && haveTags:
		result = intersectPositions(byType, byTag)
	case haveTypes:
		result = byType
	case haveTags:
		result = byTag
	default:
		result = fullRange(fromPosition, head)
	}
	return filterGreaterThan(result, fromPosition), nil
}

// resolveQuery implements spec §4.4's Resolve(Query, from_position): the
// union of per-item resolutions, for Query.All producing the numeric
// range directly without touching the indices.
func (es *eventStore) resolveQuery(query Query, fromPosition, head int64) ([]int64, error) {
	if query.IsAll() {
		return fullRange(fromPosition, head), nil
	}
	lists := make([][]int64, 0, len(query.Items))
	for _, item := range query.Items {
		list, err := es.resolveQueryItem(item, fromPosition, head)
		if err != nil {
			return nil, err
		}
		lists = append(lists, list)
	}
	return unionPositions(lists...), nil
}

func fullRange(fromPosition, head int64) []int64 {
	if head <= fromPosition {
		return nil
	}
	out := make([]int64, 0, head-fromPosition)
	for p := fromPosition + 1; p <= head; p++ {
		out = append(out, p)
	}
	return out
}

func (es *eventStore) Read(ctx context.Context, query Query, options *ReadOptions, fromPosition int64) ([]SequencedEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	head, err := es.Head(ctx)
	if err != nil {
		return nil, err
	}
	positions, err := es.resolveQuery(query, fromPosition, head)
	if err != nil {
		return nil, err
	}
	if options != nil && options.Descending {
		reversed := make([]int64, len(positions))
		for i, p := range positions {
			reversed[len(positions)-1-i] = p
		}
		positions = reversed
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	events := make([]SequencedEvent, 0, len(positions))
	for _, p := range positions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := es.files.read(p)
		if err != nil {
			return nil, err
		}
		events = append(events, rec.toSequencedEvent())
	}
	return events, nil
}

func (es *eventStore) ReadLast(ctx context.Context, query Query) (*SequencedEvent, error) {
	events, err := es.Read(ctx, query, &ReadOptions{Descending: true}, 0)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}
	return &events[0], nil
}

// Append is the critical section described in spec §4.1. It is
// serialized by appendMu; any error after acquiring the mutex still
// releases it (the defer runs regardless of how the function returns).
func (es *eventStore) Append(ctx context.Context, events []NewEvent, condition *AppendCondition) (int64, error) {
	if len(events) == 0 {
		return 0, &ValidationError{
			EventStoreError: EventStoreError{Op: "Append", Err: fmt.Errorf("events must be non-empty")},
			Field:           "events",
			Value:           "empty",
		}
	}
	for i, e := range events {
		if err := validateNewEvent(e, i); err != nil {
			return 0, err
		}
	}

	if err := waitForMutex(ctx, &es.appendMu); err != nil {
		return 0, err
	}
	defer es.appendMu.Unlock()

	// Step 1: read the ledger's last position.
	rec, err := es.ledger.read()
	if err != nil {
		return 0, err
	}
	head := rec.LastSequencePosition

	// Step 2: validate the append condition against committed state.
	if condition != nil {
		after := int64(0)
		if condition.AfterSequencePosition != nil {
			after = *condition.AfterSequencePosition
		}
		positions, err := es.resolveQuery(condition.FailIfEventsMatch, after, head)
		if err != nil {
			return 0, err
		}
		if len(positions) > 0 {
			return 0, newAppendConditionFailed("Append")
		}
	}

	// Step 3: allocate positions L+1..L+n in caller-supplied order.
	// Step 4: write event files, accumulating index deltas in memory.
	typeDeltas := make(map[string][]int64)
	tagDeltas := make(map[string][]int64)

	for i, e := range events {
		position := head + int64(i) + 1
		md := e.Metadata
		if md.Timestamp.IsZero() {
			md.Timestamp = now()
		}
		if md.OperationID == "" {
			md.OperationID = newOperationID()
		}
		rec := toEventFileRecord(position, e, md)
		if err := es.files.write(rec); err != nil {
			return 0, err
		}
		typeDeltas[e.Type] = append(typeDeltas[e.Type], position)
		for _, t := range e.Tags {
			key := tagIndexKey(t)
			tagDeltas[key] = append(tagDeltas[key], position)
		}
	}

	// Step 5: apply index deltas.
	for eventType, positions := range typeDeltas {
		if err := es.appendIndexDeltas(es.typeIndex, eventType, positions); err != nil {
			return 0, err
		}
	}
	for key, positions := range tagDeltas {
		if err := es.appendIndexDeltas(es.tagIndex, key, positions); err != nil {
			return 0, err
		}
	}

	// Step 6: commit the ledger — the linearization point.
	newHead := head + int64(len(events))
	if err := es.ledger.commit(ledgerRecord{LastSequencePosition: newHead, EventCount: rec.EventCount + int64(len(events))}); err != nil {
		return 0, err
	}

	return newHead, nil
}

func (es *eventStore) appendIndexDeltas(idx *positionIndex, key string, positions []int64) error {
	sort.Slice(positions, func(i, j int) bool { return positions[i] < positions[j] })
	existing, err := idx.load(key)
	if err != nil {
		return err
	}
	for _, p := range positions {
		existing = insertSortedUnique(existing, p)
	}
	return idx.save(key, existing)
}

// AddTags performs the additive tag-maintenance operation of spec §3/§4.3
// under the same append mutex that serializes writes.
func (es *eventStore) AddTags(ctx context.Context, position int64, tags []Tag) error {
	if len(tags) == 0 {
		return nil
	}
	if err := waitForMutex(ctx, &es.appendMu); err != nil {
		return err
	}
	defer es.appendMu.Unlock()

	rec, err := es.files.addTags(position, tags)
	if err != nil {
		return err
	}
	for _, t := range tags {
		if err := es.tagIndex.appendPosition(tagIndexKey(t), rec.Position); err != nil {
			return err
		}
	}
	return nil
}

// waitForMutex acquires mu, honoring context cancellation while waiting
// (spec §5: "the append mutex MUST be acquired with a cancellable wait").
func waitForMutex(ctx context.Context, mu *sync.Mutex) error {
	done := make(chan struct{})
	go func() {
		mu.Lock()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		// The goroutine above still acquires the lock eventually and
		// will hold it; to avoid leaking a permanently-locked mutex we
		// wait for it in the background and release immediately.
		go func() {
			<-done
			mu.Unlock()
		}()
		return ctx.Err()
	}
}
