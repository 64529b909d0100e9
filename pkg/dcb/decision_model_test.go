package dcb_test

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"dcbstore/pkg/dcb"
)

// Course/student fixtures exist only in this test file — building the
// importable core around a specific domain is out of scope.

type courseState struct {
	Defined  bool
	Capacity int
	Enrolled int
}

func courseExistsProjector(courseID string) dcb.BatchProjector {
	return dcb.BatchProjector{
		ID: "course:" + courseID,
		StateProjector: dcb.StateProjector{
			Query: dcb.NewQuery(dcb.NewTags("course_id", courseID), "CourseDefined", "StudentEnrolled"),
			InitialState: courseState{},
			TransitionFn: func(state any, e dcb.SequencedEvent) any {
				s := state.(courseState)
				switch e.Type {
				case "CourseDefined":
					var payload struct {
						Capacity int `json:"capacity"`
					}
					_ = json.Unmarshal(e.Data, &payload)
					s.Defined = true
					s.Capacity = payload.Capacity
				case "StudentEnrolled":
					s.Enrolled++
				}
				return s
			},
		},
	}
}

func emailTakenProjector(email string) dcb.BatchProjector {
	return dcb.BatchProjector{
		ID: "email:" + email,
		StateProjector: dcb.StateProjector{
			Query:        dcb.NewQuery(dcb.NewTags("studentEmail", email), "StudentRegistered"),
			InitialState: false,
			TransitionFn: func(state any, e dcb.SequencedEvent) any {
				return true
			},
		},
	}
}

func newRegisterStudentOperation(email string) dcb.DecisionOperation {
	return func(ctx context.Context, store dcb.EventStore) error {
		model, err := dcb.BuildDecisionModel(ctx, store, []dcb.BatchProjector{emailTakenProjector(email)})
		if err != nil {
			return err
		}
		if dcb.State[bool](model.States, "email:"+email) {
			return &dcb.BusinessRuleViolation{Rule: "email already registered"}
		}
		_, err = store.Append(ctx, []dcb.NewEvent{
			dcb.NewInputEvent("StudentRegistered", []byte(`{}`), dcb.Tag{Key: "studentEmail", Value: email}),
		}, &model.AppendCondition)
		return err
	}
}

func newEnrollStudentOperation(courseID string) dcb.DecisionOperation {
	return func(ctx context.Context, store dcb.EventStore) error {
		model, err := dcb.BuildDecisionModel(ctx, store, []dcb.BatchProjector{courseExistsProjector(courseID)})
		if err != nil {
			return err
		}
		course := dcb.State[courseState](model.States, "course:"+courseID)
		if !course.Defined {
			return &dcb.BusinessRuleViolation{Rule: "course not defined"}
		}
		if course.Enrolled >= course.Capacity {
			return &dcb.BusinessRuleViolation{Rule: "course at capacity"}
		}
		_, err = store.Append(ctx, []dcb.NewEvent{
			dcb.NewInputEvent("StudentEnrolled", []byte(`{}`), dcb.Tag{Key: "course_id", Value: courseID}),
		}, &model.AppendCondition)
		return err
	}
}

var _ = Describe("decision model", func() {
	var store dcb.EventStore

	BeforeEach(func() {
		dcb.ResetStoreNameSingletonForTesting()
		cfg := dcb.StoreConfig{RootPath: GinkgoT().TempDir(), StoreName: "decision-model-" + GinkgoT().Name()}
		var err error
		store, err = dcb.NewEventStore(cfg)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		dcb.ResetStoreNameSingletonForTesting()
	})

	// S1: two concurrent registrations of the same email race through
	// ExecuteDecision; exactly one must win, the loser must retry and
	// then observe the rule violation (not keep retrying forever).
	Describe("concurrent unique-email registration", func() {
		It("admits exactly one of two concurrent registrations for the same email", func() {
			ctx := context.Background()
			const email = "student@example.com"

			var wg sync.WaitGroup
			var successes int64
			results := make([]error, 2)
			for i := 0; i < 2; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					err := dcb.ExecuteDecision(ctx, store, newRegisterStudentOperation(email), dcb.WithMaxRetries(5))
					results[i] = err
					if err == nil {
						atomic.AddInt64(&successes, 1)
					}
				}(i)
			}
			wg.Wait()

			Expect(successes).To(Equal(int64(1)))

			events, err := store.Read(ctx, dcb.NewQuery(dcb.NewTags("studentEmail", email)), nil, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(events).To(HaveLen(1))

			var violated bool
			for _, r := range results {
				if r != nil {
					violated = dcb.IsBusinessRuleViolation(r)
				}
			}
			Expect(violated).To(BeTrue())
		})
	})

	// S2: course capacity of 1 enrolled concurrently by three decision
	// operations — exactly one enrollment succeeds.
	Describe("course capacity enforcement", func() {
		It("never over-enrolls a course under concurrent decisions", func() {
			ctx := context.Background()
			const courseID = "C1"

			_, err := store.Append(ctx, []dcb.NewEvent{
				dcb.NewInputEvent("CourseDefined", []byte(`{"capacity":1}`), dcb.Tag{Key: "course_id", Value: courseID}),
			}, nil)
			Expect(err).NotTo(HaveOccurred())

			var wg sync.WaitGroup
			var successes int64
			for i := 0; i < 3; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					err := dcb.ExecuteDecision(ctx, store, newEnrollStudentOperation(courseID), dcb.WithMaxRetries(8))
					if err == nil {
						atomic.AddInt64(&successes, 1)
					}
				}()
			}
			wg.Wait()

			Expect(successes).To(Equal(int64(1)))

			model, err := dcb.BuildDecisionModel(ctx, store, []dcb.BatchProjector{courseExistsProjector(courseID)})
			Expect(err).NotTo(HaveOccurred())
			final := dcb.State[courseState](model.States, "course:"+courseID)
			Expect(final.Enrolled).To(Equal(1))
		})
	})

	Describe("ExecuteDecision retry behaviour", func() {
		It("propagates a non-AppendConditionFailed error without retrying", func() {
			ctx := context.Background()
			calls := 0
			op := func(ctx context.Context, store dcb.EventStore) error {
				calls++
				return &dcb.BusinessRuleViolation{Rule: "always fails"}
			}
			err := dcb.ExecuteDecision(ctx, store, op, dcb.WithMaxRetries(5))
			Expect(err).To(HaveOccurred())
			Expect(dcb.IsBusinessRuleViolation(err)).To(BeTrue())
			Expect(calls).To(Equal(1))
		})

		It("gives up after the configured number of retries", func() {
			ctx := context.Background()
			calls := 0
			op := func(ctx context.Context, store dcb.EventStore) error {
				calls++
				return dcb.NewAppendConditionFailedForTesting()
			}
			err := dcb.ExecuteDecision(ctx, store, op, dcb.WithMaxRetries(2), dcb.WithInitialDelay(1))
			Expect(err).To(HaveOccurred())
			Expect(dcb.IsAppendConditionFailed(err)).To(BeTrue())
			Expect(calls).To(Equal(3)) // initial attempt + 2 retries
		})
	})
})
