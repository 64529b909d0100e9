package projection

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"dcbstore/pkg/dcb"
)

// checkpointRecord is the daemon's durable "how far have I read" marker
// per projection, spec §4.8's {name, last_processed_position, updated,
// total}.
type checkpointRecord struct {
	Name                  string    `json:"name"`
	LastProcessedPosition int64     `json:"last_processed_position"`
	Updated               time.Time `json:"updated"`
	Total                 int64     `json:"total"`
}

// Daemon polls the event store on a fixed interval and folds new events
// into each registered projection's materialized state, one definition at
// a time per tick (spec §4.8 steps 1-5). It is the filesystem analogue of
// the teacher's ProjectStream, run continuously instead of on demand.
type Daemon struct {
	store    dcb.EventStore
	registry *Registry
	rootDir  string
	config   dcb.ProjectionsConfig

	mu     sync.Mutex
	stores map[string]*Store
}

// NewDaemon constructs a Daemon rooted at rootDir (typically
// "<store root>/projections").
func NewDaemon(store dcb.EventStore, registry *Registry, rootDir string, config dcb.ProjectionsConfig) *Daemon {
	return &Daemon{
		store:    store,
		registry: registry,
		rootDir:  rootDir,
		config:   config,
		stores:   make(map[string]*Store),
	}
}

func (d *Daemon) storeFor(def Definition) *Store {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.stores[def.Name]
	if !ok {
		s = NewStore(d.rootDir, def)
		d.stores[def.Name] = s
	}
	return s
}

func (d *Daemon) checkpointPath(name string) string {
	return filepath.Join(d.rootDir, name, "checkpoint.json")
}

func (d *Daemon) readCheckpoint(name string) (checkpointRecord, error) {
	raw, err := os.ReadFile(d.checkpointPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return checkpointRecord{Name: name}, nil
		}
		return checkpointRecord{}, fmt.Errorf("projection: reading checkpoint for %s: %w", name, err)
	}
	var cp checkpointRecord
	if err := json.Unmarshal(raw, &cp); err != nil {
		return checkpointRecord{}, fmt.Errorf("projection: decoding checkpoint for %s: %w", name, err)
	}
	return cp, nil
}

func (d *Daemon) writeCheckpoint(cp checkpointRecord) error {
	dir := filepath.Dir(d.checkpointPath(cp.Name))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("projection: creating checkpoint dir for %s: %w", cp.Name, err)
	}
	raw, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("projection: encoding checkpoint for %s: %w", cp.Name, err)
	}
	tmpPath := filepath.Join(dir, ".checkpoint.tmp.json")
	if err := os.WriteFile(tmpPath, raw, 0o644); err != nil {
		return fmt.Errorf("projection: writing checkpoint for %s: %w", cp.Name, err)
	}
	return os.Rename(tmpPath, d.checkpointPath(cp.Name))
}

func (d *Daemon) deleteCheckpoint(name string) error {
	err := os.Remove(d.checkpointPath(name))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("projection: deleting checkpoint for %s: %w", name, err)
	}
	return nil
}

// Run polls every config.PollingInterval until ctx is cancelled, folding
// new events into every registered projection on each tick. It returns
// ctx.Err() when ctx is cancelled — not a fatal condition for a caller
// that simply wants to stop the daemon.
func (d *Daemon) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.config.PollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, def := range d.registry.List() {
				if err := d.tick(ctx, def); err != nil {
					log.Printf("projection: tick failed for %s: %v", def.Name, err)
				}
			}
		}
	}
}

// tick implements spec §4.8 steps 1-5 for one projection: read its
// checkpoint, Read new events matching its query, fold each into the
// keyed state, persist, advance the checkpoint.
func (d *Daemon) tick(ctx context.Context, def Definition) error {
	cp, err := d.readCheckpoint(def.Name)
	if err != nil {
		return err
	}

	events, err := d.store.Read(ctx, def.Query, nil, cp.LastProcessedPosition)
	if err != nil {
		return fmt.Errorf("projection: reading events for %s: %w", def.Name, err)
	}
	if len(events) == 0 {
		return nil
	}

	batchSize := d.config.BatchSize
	if batchSize <= 0 {
		batchSize = len(events)
	}

	store := d.storeFor(def)
	processed := 0
	for processed < len(events) {
		end := processed + batchSize
		if end > len(events) {
			end = len(events)
		}
		for _, e := range events[processed:end] {
			if err := d.foldOne(store, def, e); err != nil {
				return err
			}
		}
		processed = end
	}

	last := events[len(events)-1]
	cp.LastProcessedPosition = last.Position
	cp.Total += int64(len(events))
	cp.Updated = nowFunc()
	return d.writeCheckpoint(cp)
}

func (d *Daemon) foldOne(store *Store, def Definition, e dcb.SequencedEvent) error {
	key := def.KeySelector(e)
	current, _, err := store.Get(key)
	if err != nil {
		return err
	}
	if current == nil {
		current = def.InitialState
	}
	next := def.Apply(current, e)
	if next == nil {
		return store.Delete(key)
	}
	return store.Save(key, next, nowFunc())
}

// Rebuild destructively recomputes a single projection from position zero:
// its materialized states, tag index, metadata, and checkpoint are wiped
// and rebuilt from the full event log. Spec §4.8: "rebuild must produce
// the same result as if the projection had processed every event from the
// beginning" (scenario S5).
func (d *Daemon) Rebuild(ctx context.Context, name string) error {
	def, ok := d.registry.Get(name)
	if !ok {
		return fmt.Errorf("projection: no definition registered for %q", name)
	}

	dir := filepath.Join(d.rootDir, name)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("projection: clearing state for rebuild of %s: %w", name, err)
	}

	d.mu.Lock()
	delete(d.stores, name)
	d.mu.Unlock()

	return d.tick(ctx, def)
}

// RebuildAll rebuilds every registered projection, running up to
// config.MaxConcurrentRebuilds of them at once.
func (d *Daemon) RebuildAll(ctx context.Context) error {
	defs := d.registry.List()
	sem := semaphore.NewWeighted(int64(d.config.MaxConcurrentRebuilds))
	g, gctx := errgroup.WithContext(ctx)

	for _, def := range defs {
		name := def.Name
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)
			return d.Rebuild(gctx, name)
		})
	}
	return g.Wait()
}

// nowFunc is a package-level seam so tests can stamp deterministic times
// without the forbidden Date.now()-style ambient clock call spreading
// through the fold path.
var nowFunc = func() time.Time { return time.Now().UTC() }
