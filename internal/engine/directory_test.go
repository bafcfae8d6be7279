package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectory(t *testing.T) {
	f := newFixture(t)
	d := NewDirectory()
	a, b := f.engine(), f.engine()

	h := d.Register(a)
	assert.NotEmpty(t, h)
	require.NoError(t, d.RegisterAs("main.db", b))
	assert.Error(t, d.RegisterAs("main.db", a))
	assert.Equal(t, 2, d.Len())

	got, ok := d.Lookup(h)
	require.True(t, ok)
	assert.Same(t, a, got)
	got, ok = d.Lookup("main.db")
	require.True(t, ok)
	assert.Same(t, b, got)

	d.Remove(h)
	d.Remove("unknown")
	_, ok = d.Lookup(h)
	assert.False(t, ok)
	assert.Equal(t, 1, d.Len())
}
