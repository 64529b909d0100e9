package dcb

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueryItemMatches(t *testing.T) {
	item := QueryItem{
		EventTypes: []string{"CourseDefined"},
		Tags:       []Tag{{Key: "course_id", Value: "C1"}},
	}

	assert.True(t, item.Matches("CourseDefined", []Tag{{Key: "course_id", Value: "C1"}, {Key: "extra", Value: "x"}}))
	assert.False(t, item.Matches("CourseDefined", []Tag{{Key: "course_id", Value: "C2"}}))
	assert.False(t, item.Matches("CapacityChanged", []Tag{{Key: "course_id", Value: "C1"}}))
}

func TestQueryItemEmptyMatchesAnything(t *testing.T) {
	item := QueryItem{}
	assert.True(t, item.Matches("Anything", nil))
	assert.True(t, item.Matches("Anything", []Tag{{Key: "k", Value: "v"}}))
}

func TestQueryOrSemantics(t *testing.T) {
	q := Query{Items: []QueryItem{
		{EventTypes: []string{"A"}},
		{Tags: []Tag{{Key: "k", Value: "v"}}},
	}}

	assert.True(t, q.Matches("A", nil))
	assert.True(t, q.Matches("B", []Tag{{Key: "k", Value: "v"}}))
	assert.False(t, q.Matches("B", []Tag{{Key: "k", Value: "other"}}))
}

func TestQueryAllMatchesEverything(t *testing.T) {
	q := All()
	assert.True(t, q.IsAll())
	assert.True(t, q.Matches("anything", nil))
}

func TestUnionAbsorbsAll(t *testing.T) {
	u := Union(NewQuery(NewTags("a", "1"), "TypeA"), All())
	assert.True(t, u.IsAll())
}

func TestUnionConcatenatesItems(t *testing.T) {
	q1 := NewQuery(NewTags("a", "1"), "TypeA")
	q2 := NewQuery(NewTags("b", "2"), "TypeB")
	u := Union(q1, q2)
	assert.Len(t, u.Items, 2)
}

func TestNewTagsOddPanics(t *testing.T) {
	assert.Panics(t, func() { NewTags("a") })
}
