package projection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dcbstore/pkg/dcb"
)

type courseSummary struct {
	Capacity int
	Enrolled int
	Region   string
}

func courseDef() Definition {
	return Definition{
		Name:         "course-summary",
		Query:        dcb.NewQuery(nil, "CourseDefined"),
		InitialState: courseSummary{},
		KeySelector:  func(e dcb.SequencedEvent) string { return e.Type },
		Apply:        func(current any, e dcb.SequencedEvent) any { return current },
		TagProvider: func(state any) []dcb.Tag {
			s := state.(courseSummary)
			return []dcb.Tag{{Key: "region", Value: s.Region}}
		},
	}
}

func TestStoreSaveGetRoundTrip(t *testing.T) {
	s := NewStore(t.TempDir(), courseDef())
	require.NoError(t, s.Save("C1", courseSummary{Capacity: 10}, time.Now()))

	got, ok, err := s.Get("C1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotNil(t, got)

	_, ok, err = s.Get("missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestStoreTagIndexUpdatesOnStateChange is spec §8 scenario S6: when a
// projection's state changes in a way that alters its tags, QueryByTag
// must reflect only the new tag value, not the old one.
func TestStoreTagIndexUpdatesOnStateChange(t *testing.T) {
	def := courseDef()
	s := NewStore(t.TempDir(), def)

	require.NoError(t, s.Save("C1", courseSummary{Capacity: 10, Region: "eu"}, time.Now()))
	keys, err := s.QueryByTag("region", "eu")
	require.NoError(t, err)
	assert.Equal(t, []string{"C1"}, keys)

	require.NoError(t, s.Save("C1", courseSummary{Capacity: 10, Region: "us"}, time.Now()))

	keys, err = s.QueryByTag("region", "eu")
	require.NoError(t, err)
	assert.Empty(t, keys)

	keys, err = s.QueryByTag("region", "us")
	require.NoError(t, err)
	assert.Equal(t, []string{"C1"}, keys)
}

func TestStoreTagLookupIsCaseInsensitive(t *testing.T) {
	def := courseDef()
	s := NewStore(t.TempDir(), def)
	require.NoError(t, s.Save("C1", courseSummary{Region: "EU"}, time.Now()))

	keys, err := s.QueryByTag("region", "eu")
	require.NoError(t, err)
	assert.Equal(t, []string{"C1"}, keys)
}

func TestStoreDeleteRemovesStateAndTagIndex(t *testing.T) {
	def := courseDef()
	s := NewStore(t.TempDir(), def)
	require.NoError(t, s.Save("C1", courseSummary{Region: "eu"}, time.Now()))
	require.NoError(t, s.Delete("C1"))

	_, ok, err := s.Get("C1")
	require.NoError(t, err)
	assert.False(t, ok)

	keys, err := s.QueryByTag("region", "eu")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestStoreQueryByTagsIntersects(t *testing.T) {
	def := Definition{
		Name:        "multi-tag",
		Query:       dcb.All(),
		KeySelector: func(e dcb.SequencedEvent) string { return e.Type },
		Apply:       func(current any, e dcb.SequencedEvent) any { return current },
		TagProvider: func(state any) []dcb.Tag { return state.([]dcb.Tag) },
	}
	s := NewStore(t.TempDir(), def)
	require.NoError(t, s.Save("A", []dcb.Tag{{Key: "region", Value: "eu"}, {Key: "tier", Value: "gold"}}, time.Now()))
	require.NoError(t, s.Save("B", []dcb.Tag{{Key: "region", Value: "eu"}, {Key: "tier", Value: "silver"}}, time.Now()))

	keys, err := s.QueryByTags([]dcb.Tag{{Key: "region", Value: "eu"}, {Key: "tier", Value: "gold"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, keys)
}
