package projection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dcbstore/pkg/dcb"
)

func noopDef(name string) Definition {
	return Definition{
		Name:        name,
		Query:       dcb.All(),
		KeySelector: func(e dcb.SequencedEvent) string { return "k" },
		Apply:       func(current any, e dcb.SequencedEvent) any { return current },
	}
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(noopDef("a")))
	def, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, "a", def.Name)
}

func TestRegistryRejectsMissingName(t *testing.T) {
	r := NewRegistry()
	err := r.Register(Definition{KeySelector: func(dcb.SequencedEvent) string { return "" }, Apply: func(any, dcb.SequencedEvent) any { return nil }})
	assert.Error(t, err)
}

func TestRegistryRejectsMissingKeySelector(t *testing.T) {
	r := NewRegistry()
	err := r.Register(Definition{Name: "a", Apply: func(any, dcb.SequencedEvent) any { return nil }})
	assert.Error(t, err)
}

func TestRegistryList(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(noopDef("a")))
	require.NoError(t, r.Register(noopDef("b")))
	assert.Len(t, r.List(), 2)
}
