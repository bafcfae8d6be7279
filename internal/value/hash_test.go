package value

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashDeterministic(t *testing.T) {
	a := Object{"x": Int(1), "y": String("z")}
	b := Object{"y": String("z"), "x": Int(1)}

	ha, err := Hash(DomainModuleConfig, a)
	require.NoError(t, err)
	hb, err := Hash(DomainModuleConfig, b)
	require.NoError(t, err)

	assert.Equal(t, ha, hb, "key order must not matter")
	assert.Len(t, ha, 64, "SHA-256 hex is 64 characters")
}

func TestHashDomainSeparation(t *testing.T) {
	v := Object{"x": Int(1)}
	assert.NotEqual(t, MustHash(DomainModuleConfig, v), MustHash(DomainPolicy, v))
}

func TestHashChangesWithValue(t *testing.T) {
	assert.NotEqual(t,
		MustHash(DomainModuleConfig, Object{"x": Int(1)}),
		MustHash(DomainModuleConfig, Object{"x": Int(2)}),
	)
}
