package projection

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// stringIndex maps a tag "key=value" to the sorted, deduplicated set of
// projection state keys currently carrying that tag, one file per tag,
// rewritten via temp-file-rename on every change — the same file-per-key
// discipline as the core event store's positionIndex (pkg/dcb/index.go),
// adapted here to index projection keys instead of event positions.
//
// Tag values are lowercased in the index file name, so lookups are
// case-insensitive on value; tag keys are used as given. The state file
// written by Store keeps the tags in their original case.
type stringIndex struct {
	dir string
}

func newStringIndex(dir string) *stringIndex {
	return &stringIndex{dir: dir}
}

func indexFileName(tagKey, tagValue string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", "..", "__", string(filepath.Separator), "_")
	return replacer.Replace(tagKey) + "_" + replacer.Replace(strings.ToLower(tagValue)) + ".json"
}

func (idx *stringIndex) pathFor(tagKey, tagValue string) string {
	return filepath.Join(idx.dir, indexFileName(tagKey, tagValue))
}

// load returns the sorted set of projection keys tagged (tagKey, tagValue),
// matched case-insensitively on tagValue. A missing file means no keys
// carry that tag — not an error.
func (idx *stringIndex) load(tagKey, tagValue string) ([]string, error) {
	raw, err := os.ReadFile(idx.pathFor(tagKey, tagValue))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("projection: loading tag index %s=%s: %w", tagKey, tagValue, err)
	}
	var keys []string
	if err := json.Unmarshal(raw, &keys); err != nil {
		return nil, fmt.Errorf("projection: decoding tag index %s=%s: %w", tagKey, tagValue, err)
	}
	return keys, nil
}

func (idx *stringIndex) save(tagKey, tagValue string, keys []string) error {
	if err := os.MkdirAll(idx.dir, 0o755); err != nil {
		return fmt.Errorf("projection: creating tag index dir: %w", err)
	}
	sort.Strings(keys)
	raw, err := json.Marshal(keys)
	if err != nil {
		return fmt.Errorf("projection: encoding tag index %s=%s: %w", tagKey, tagValue, err)
	}
	tmpPath := filepath.Join(idx.dir, fmt.Sprintf(".tagindex.tmp.%s", uuid.NewString()))
	if err := os.WriteFile(tmpPath, raw, 0o644); err != nil {
		return fmt.Errorf("projection: writing tag index %s=%s: %w", tagKey, tagValue, err)
	}
	if err := os.Rename(tmpPath, idx.pathFor(tagKey, tagValue)); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("projection: committing tag index %s=%s: %w", tagKey, tagValue, err)
	}
	return nil
}

// add inserts key into the (tagKey, tagValue) set if not already present.
func (idx *stringIndex) add(tagKey, tagValue, key string) error {
	keys, err := idx.load(tagKey, tagValue)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if k == key {
			return nil
		}
	}
	return idx.save(tagKey, tagValue, append(keys, key))
}

// remove deletes key from the (tagKey, tagValue) set, removing the index
// file entirely once the set becomes empty.
func (idx *stringIndex) remove(tagKey, tagValue, key string) error {
	keys, err := idx.load(tagKey, tagValue)
	if err != nil {
		return err
	}
	out := keys[:0]
	for _, k := range keys {
		if k != key {
			out = append(out, k)
		}
	}
	if len(out) == 0 {
		err := os.Remove(idx.pathFor(tagKey, tagValue))
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("projection: removing empty tag index %s=%s: %w", tagKey, tagValue, err)
		}
		return nil
	}
	return idx.save(tagKey, tagValue, out)
}
