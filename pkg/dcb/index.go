package dcb

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// positionIndex maps a string key to a sorted, deduplicated list of
// positions, one file per key, rewritten via temp-file-rename on every
// change. It backs both the event-type index and the tag index (spec
// §4.4). The projection store's per-projection tag index is a separate
// type (stringIndex in pkg/dcb/projection) that keys by projection key
// instead of position.
type positionIndex struct {
	dir string
}

func newPositionIndex(dir string) *positionIndex {
	return &positionIndex{dir: dir}
}

// sanitizeKey makes an index key safe to embed as a path segment,
// preventing directory traversal via tag keys/values the caller controls.
func sanitizeKey(key string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", "..", "__", string(filepath.Separator), "_")
	return replacer.Replace(key)
}

func (idx *positionIndex) pathFor(key string) string {
	return filepath.Join(idx.dir, sanitizeKey(key)+".json")
}

// load reads the sorted position list for key, returning an empty slice
// (not an error) if the key has no entries yet — an index is purely
// derived data and an absent file just means "no matches so far".
func (idx *positionIndex) load(key string) ([]int64, error) {
	raw, err := os.ReadFile(idx.pathFor(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &ResourceError{EventStoreError: EventStoreError{Op: "positionIndex.load", Err: err}, Resource: "index"}
	}
	var positions []int64
	if err := json.Unmarshal(raw, &positions); err != nil {
		return nil, &ResourceError{EventStoreError: EventStoreError{Op: "positionIndex.load", Err: err}, Resource: "index"}
	}
	return positions, nil
}

// save rewrites the position list for key via temp-file-rename, so
// concurrent readers always observe either the whole old list or the
// whole new one (spec §5).
func (idx *positionIndex) save(key string, positions []int64) error {
	if err := os.MkdirAll(idx.dir, 0o755); err != nil {
		return &ResourceError{EventStoreError: EventStoreError{Op: "positionIndex.save", Err: err}, Resource: "index"}
	}
	raw, err := json.Marshal(positions)
	if err != nil {
		return &ResourceError{EventStoreError: EventStoreError{Op: "positionIndex.save", Err: err}, Resource: "index"}
	}
	tmpPath := filepath.Join(idx.dir, fmt.Sprintf(".index.tmp.%s", uuid.NewString()))
	if err := os.WriteFile(tmpPath, raw, 0o644); err != nil {
		return &ResourceError{EventStoreError: EventStoreError{Op: "positionIndex.save", Err: err}, Resource: "index"}
	}
	if err := os.Rename(tmpPath, idx.pathFor(key)); err != nil {
		_ = os.Remove(tmpPath)
		return &ResourceError{EventStoreError: EventStoreError{Op: "positionIndex.save", Err: err}, Resource: "index"}
	}
	return nil
}

// appendPosition inserts p into key's sorted list, keeping it sorted and
// deduplicated. AddTags uses it to index a tag added to an already
// committed event; Append applies its batched deltas via
// appendIndexDeltas instead.
func (idx *positionIndex) appendPosition(key string, p int64) error {
	positions, err := idx.load(key)
	if err != nil {
		return err
	}
	positions = insertSortedUnique(positions, p)
	return idx.save(key, positions)
}

// delete removes key's index file entirely; a key with no file is not
// an error.
func (idx *positionIndex) delete(key string) error {
	err := os.Remove(idx.pathFor(key))
	if err != nil && !os.IsNotExist(err) {
		return &ResourceError{EventStoreError: EventStoreError{Op: "positionIndex.delete", Err: err}, Resource: "index"}
	}
	return nil
}

func insertSortedUnique(positions []int64, p int64) []int64 {
	i := sort.Search(len(positions), func(i int) bool { return positions[i] >= p })
	if i < len(positions) && positions[i] == p {
		return positions
	}
	out := make([]int64, 0, len(positions)+1)
	out = append(out, positions[:i]...)
	out = append(out, p)
	out = append(out, positions[i:]...)
	return out
}

// unionPositions merges N already-sorted position lists into one sorted,
// deduplicated list.
func unionPositions(lists ...[]int64) []int64 {
	seen := make(map[int64]struct{})
	var out []int64
	for _, list := range lists {
		for _, p := range list {
			if _, ok := seen[p]; !ok {
				seen[p] = struct{}{}
				out = append(out, p)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// intersectPositions returns positions present in every list. An empty
// input returns nil (callers should special-case "no tags" before
// calling this — an empty set of lists is not the same as "everything").
func intersectPositions(lists ...[]int64) []int64 {
	if len(lists) == 0 {
		return nil
	}
	counts := make(map[int64]int)
	for _, list := range lists {
		seenInList := make(map[int64]struct{})
		for _, p := range list {
			if _, dup := seenInList[p]; dup {
				continue
			}
			seenInList[p] = struct{}{}
			counts[p]++
		}
	}
	var out []int64
	for p, c := range counts {
		if c == len(lists) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// filterGreaterThan returns the subsequence of the sorted positions slice
// strictly greater than after.
func filterGreaterThan(positions []int64, after int64) []int64 {
	i := sort.Search(len(positions), func(i int) bool { return positions[i] > after })
	return positions[i:]
}

func tagIndexKey(t Tag) string {
	return t.Key + "_" + t.Value
}
