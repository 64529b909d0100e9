package dcb

import (
	"fmt"
	"time"

	"go.jetify.com/typeid"
)

// now is the store's source of event timestamps, isolated here so
// tests can see exactly where it's used.
func now() time.Time {
	return time.Now().UTC()
}

// newOperationID mints a TypeID-shaped operation identifier for events
// whose caller didn't supply one, grounded on the teacher's
// generateTagBasedTypeID (typeid_helpers.go) but simplified to a fixed
// "op" prefix; the event's tags play no part in the identifier.
func newOperationID() string {
	tid, err := typeid.WithPrefix("op")
	if err != nil {
		return fmt.Sprintf("op_%d", time.Now().UnixNano())
	}
	return tid.String()
}

// validateNewEvent mirrors the teacher's validateEvent (append_events.go):
// a non-empty type and well-formed tags are required; duplicate (key,
// value) tag pairs are permitted per spec §3's documented relaxation.
func validateNewEvent(e NewEvent, index int) error {
	if e.Type == "" {
		return &ValidationError{
			EventStoreError: EventStoreError{Op: "validateNewEvent", Err: fmt.Errorf("empty type in event %d", index)},
			Field:           "type",
			Value:           fmt.Sprintf("event[%d]", index),
		}
	}
	for j, t := range e.Tags {
		if t.Key == "" {
			return &ValidationError{
				EventStoreError: EventStoreError{Op: "validateNewEvent", Err: fmt.Errorf("empty tag key at event %d tag %d", index, j)},
				Field:           fmt.Sprintf("event[%d].tag[%d].key", index, j),
			}
		}
		if t.Value == "" {
			return &ValidationError{
				EventStoreError: EventStoreError{Op: "validateNewEvent", Err: fmt.Errorf("empty tag value for key %s at event %d tag %d", t.Key, index, j)},
				Field:           fmt.Sprintf("event[%d].tag[%d].value", index, j),
				Value:           t.Key,
			}
		}
	}
	return nil
}
