package dcb

import (
	"context"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// StateProjector defines how to fold events into state for one
// sub-projection of a decision model (spec §4.6). InitialState and
// TransitionFn are untyped so heterogeneous projections can be composed
// into a single BuildDecisionModel call, mirroring the teacher's
// decision_model.go; use Projection[S]/AsBatchProjector for a
// type-safe wrapper around a single projection.
type StateProjector struct {
	Query        Query
	InitialState any
	TransitionFn func(state any, event SequencedEvent) any
}

// BatchProjector names a StateProjector for inclusion in a decision
// model; the ID keys the returned state map.
type BatchProjector struct {
	ID string
	StateProjector
}

// Projection is the generic, type-safe counterpart to StateProjector —
// the shape spec §4.6 calls P<S>: { initial_state, query, apply }.
type Projection[S any] struct {
	Query        Query
	InitialState S
	Apply        func(state S, event SequencedEvent) S
}

// AsBatchProjector adapts a typed Projection[S] into the untyped
// BatchProjector BuildDecisionModel consumes.
func AsBatchProjector[S any](id string, p Projection[S]) BatchProjector {
	return BatchProjector{
		ID: id,
		StateProjector: StateProjector{
			Query:        p.Query,
			InitialState: p.InitialState,
			TransitionFn: func(state any, e SequencedEvent) any {
				return p.Apply(state.(S), e)
			},
		},
	}
}

// State extracts and type-asserts a projector's state out of the map
// BuildDecisionModel returns.
func State[S any](states map[string]any, id string) S {
	return states[id].(S)
}

// DecisionModel is the result of BuildDecisionModel: the projected state
// of every sub-projection plus a single AppendCondition that protects the
// decision made from those states.
type DecisionModel struct {
	States          map[string]any
	AppendCondition AppendCondition
}

// CombineProjectorQueries implements spec §4.6 step 1: concatenate every
// sub-projection's query items into one OR query; if any sub-query is
// Query.All, the union is Query.All.
func CombineProjectorQueries(projectors []BatchProjector) Query {
	queries := make([]Query, len(projectors))
	for i, p := range projectors {
		queries[i] = p.Query
	}
	return Union(queries...)
}

// BuildDecisionModel implements spec §4.6 steps 2-5: a single Read over
// the union of every sub-projection's query, an ascending-position fold
// of matching events into each sub-projection's state, and an
// AppendCondition that fails a subsequent append iff any event matching
// any sub-projection's query exists with position greater than this
// read's maximum observed position.
func BuildDecisionModel(ctx context.Context, store EventStore, projectors []BatchProjector) (*DecisionModel, error) {
	union := CombineProjectorQueries(projectors)

	events, err := store.Read(ctx, union, nil, 0)
	if err != nil {
		return nil, err
	}

	return foldDecisionModel(events, union, projectors), nil
}

// foldDecisionModel applies spec §4.6 steps 3-5 to an arbitrary event
// slice, independent of the order the caller collected it in — the fold
// itself always proceeds in ascending position order (spec §8 property:
// fold order is independent of arrival order).
func foldDecisionModel(events []SequencedEvent, union Query, projectors []BatchProjector) *DecisionModel {
	sorted := make([]SequencedEvent, len(events))
	copy(sorted, events)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Position < sorted[j].Position })

	states := make(map[string]any, len(projectors))
	for _, p := range projectors {
		states[p.ID] = p.InitialState
	}

	var maxPosition int64
	for _, e := range sorted {
		if e.Position > maxPosition {
			maxPosition = e.Position
		}
		for _, p := range projectors {
			if p.Query.MatchesEvent(e) {
				states[p.ID] = p.TransitionFn(states[p.ID], e)
			}
		}
	}

	var after *int64
	if maxPosition > 0 {
		after = &maxPosition
	}

	return &DecisionModel{
		States: states,
		AppendCondition: AppendCondition{
			FailIfEventsMatch:     union,
			AfterSequencePosition: after,
		},
	}
}

// DecisionOperation is a read-decide-append unit of work. It is handed
// the store so it can build its own decision model, derive new events,
// and append them under the condition that model produced.
type DecisionOperation func(ctx context.Context, store EventStore) error

// executeDecisionOptions configures ExecuteDecision; see WithMaxRetries
// and WithInitialDelay.
type executeDecisionOptions struct {
	maxRetries   int
	initialDelay time.Duration
}

// ExecuteDecisionOption configures ExecuteDecision.
type ExecuteDecisionOption func(*executeDecisionOptions)

// WithMaxRetries overrides the default of 3 retries.
func WithMaxRetries(n int) ExecuteDecisionOption {
	return func(o *executeDecisionOptions) { o.maxRetries = n }
}

// WithInitialDelay overrides the default 50ms initial backoff delay.
func WithInitialDelay(d time.Duration) ExecuteDecisionOption {
	return func(o *executeDecisionOptions) { o.initialDelay = d }
}

// ExecuteDecision implements spec §4.6's retry orchestration: operation
// is invoked, and on *AppendConditionFailedError — and only that error —
// retried up to maxRetries times with exponential backoff starting at
// initialDelay. Any other error propagates immediately. Cancellation is
// honored before each attempt and during backoff.
func ExecuteDecision(ctx context.Context, store EventStore, operation DecisionOperation, opts ...ExecuteDecisionOption) error {
	cfg := executeDecisionOptions{maxRetries: 3, initialDelay: 50 * time.Millisecond}
	for _, opt := range opts {
		opt(&cfg)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.initialDelay
	bo.Multiplier = 2
	bo.MaxElapsedTime = 0 // bounded by WithMaxRetries, not wall-clock

	withRetries := backoff.WithMaxRetries(bo, uint64(cfg.maxRetries))
	withCtx := backoff.WithContext(withRetries, ctx)

	return backoff.Retry(func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		err := operation(ctx, store)
		if err == nil {
			return nil
		}
		if IsAppendConditionFailed(err) {
			return err // retryable
		}
		return backoff.Permanent(err)
	}, withCtx)
}
