package dcb

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// eventFileRecord is the on-disk shape of events/<position>.json (spec §6).
type eventFileRecord struct {
	Position int64 `json:"position"`
	Event    struct {
		Type string `json:"event_type"`
		Data []byte `json:"event"`
		Tags []Tag  `json:"tags"`
	} `json:"event"`
	Metadata EventMetadata `json:"metadata"`
}

// eventFileStore writes one immutable file per event at a deterministic,
// zero-padded path derived from position.
type eventFileStore struct {
	dir              string
	flushImmediately bool
	writeProtect     bool
}

func newEventFileStore(rootDir string, flushImmediately, writeProtect bool) *eventFileStore {
	return &eventFileStore{
		dir:              filepath.Join(rootDir, "events"),
		flushImmediately: flushImmediately,
		writeProtect:     writeProtect,
	}
}

// pathFor returns the deterministic file path for an event at position p.
// Positions are zero-padded to 20 digits (enough for any int64) so
// directory listings sort naturally, though the store never relies on
// directory order for correctness — only on the indices.
func (s *eventFileStore) pathFor(p int64) string {
	return filepath.Join(s.dir, fmt.Sprintf("%020d.json", p))
}

func toEventFileRecord(p int64, e NewEvent, md EventMetadata) eventFileRecord {
	var rec eventFileRecord
	rec.Position = p
	rec.Event.Type = e.Type
	rec.Event.Data = e.Data
	rec.Event.Tags = e.Tags
	rec.Metadata = md
	return rec
}

func (r eventFileRecord) toSequencedEvent() SequencedEvent {
	return SequencedEvent{
		Position: r.Position,
		Type:     r.Event.Type,
		Data:     r.Event.Data,
		Tags:     r.Event.Tags,
		Metadata: r.Metadata,
	}
}

// exists reports whether an event file is already present at position p.
// write uses it to clear the read-only bit only when it is about to
// overwrite an existing file.
func (s *eventFileStore) exists(p int64) bool {
	_, err := os.Stat(s.pathFor(p))
	return err == nil
}

// write persists rec at its position via temp-file-rename, optionally
// fsync'ing before the rename (FlushEventsImmediately) and marking the
// final file read-only (WriteProtectEventFiles). Overwriting an existing
// file — the known recovery gap of §4.5 — requires first clearing any
// read-only bit; callers that must never overwrite a committed event
// should check exists() first.
func (s *eventFileStore) write(rec eventFileRecord) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return &ResourceError{EventStoreError: EventStoreError{Op: "eventFileStore.write", Err: err}, Resource: "events"}
	}

	finalPath := s.pathFor(rec.Position)
	if s.writeProtect && s.exists(rec.Position) {
		// Clear the read-only bit left by the previous write so the
		// recovery-overwrite path (§4.5) can proceed.
		if err := os.Chmod(finalPath, 0o644); err != nil {
			return &ResourceError{EventStoreError: EventStoreError{Op: "eventFileStore.write", Err: err}, Resource: "events"}
		}
	}

	tmpPath := filepath.Join(s.dir, fmt.Sprintf(".event.tmp.%s", uuid.NewString()))
	raw, err := json.Marshal(rec)
	if err != nil {
		return &ResourceError{EventStoreError: EventStoreError{Op: "eventFileStore.write", Err: err}, Resource: "events"}
	}

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return &ResourceError{EventStoreError: EventStoreError{Op: "eventFileStore.write", Err: err}, Resource: "events"}
	}
	if _, err := f.Write(raw); err != nil {
		f.Close()
		_ = os.Remove(tmpPath)
		return &ResourceError{EventStoreError: EventStoreError{Op: "eventFileStore.write", Err: err}, Resource: "events"}
	}
	if s.flushImmediately {
		if err := f.Sync(); err != nil {
			f.Close()
			_ = os.Remove(tmpPath)
			return &ResourceError{EventStoreError: EventStoreError{Op: "eventFileStore.write", Err: err}, Resource: "events"}
		}
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return &ResourceError{EventStoreError: EventStoreError{Op: "eventFileStore.write", Err: err}, Resource: "events"}
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return &ResourceError{EventStoreError: EventStoreError{Op: "eventFileStore.write", Err: err}, Resource: "events"}
	}

	if s.writeProtect {
		_ = os.Chmod(finalPath, 0o444)
	}
	return nil
}

// read loads the event at position p.
func (s *eventFileStore) read(p int64) (eventFileRecord, error) {
	raw, err := os.ReadFile(s.pathFor(p))
	if err != nil {
		return eventFileRecord{}, &ResourceError{EventStoreError: EventStoreError{Op: "eventFileStore.read", Err: err}, Resource: "events"}
	}
	var rec eventFileRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return eventFileRecord{}, &ResourceError{EventStoreError: EventStoreError{Op: "eventFileStore.read", Err: err}, Resource: "events"}
	}
	return rec, nil
}

// addTags performs the sole mutation spec §3 permits on a committed
// event: appending additional tags. It never removes or edits the
// payload. Callers are responsible for updating tag indices; see
// store.AddTags.
func (s *eventFileStore) addTags(p int64, newTags []Tag) (eventFileRecord, error) {
	rec, err := s.read(p)
	if err != nil {
		return eventFileRecord{}, err
	}
	rec.Event.Tags = append(rec.Event.Tags, newTags...)
	if err := s.write(rec); err != nil {
		return eventFileRecord{}, err
	}
	return rec, nil
}
