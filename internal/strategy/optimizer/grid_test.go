package optimizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCombinations_CartesianProduct(t *testing.T) {
	space := map[string][]float64{
		"fast": {5, 10},
		"slow": {30, 50, 100},
	}

	combos := Combinations(space)
	require.Len(t, combos, 6)

	// Keys expand in sorted order, so the sequence is deterministic.
	assert.Equal(t, map[string]float64{"fast": 5, "slow": 30}, combos[0])
	assert.Equal(t, map[string]float64{"fast": 5, "slow": 50}, combos[1])
	assert.Equal(t, map[string]float64{"fast": 10, "slow": 100}, combos[5])
}

func TestCombinations_EmptySpace(t *testing.T) {
	combos := Combinations(nil)
	require.Len(t, combos, 1)
	assert.Empty(t, combos[0])

	// A key with no candidates contributes nothing.
	combos = Combinations(map[string][]float64{"dead": {}})
	require.Len(t, combos, 1)
	assert.Empty(t, combos[0])
}

func TestCombinations_SingleKey(t *testing.T) {
	combos := Combinations(map[string][]float64{"threshold": {0.1, 0.2, 0.3}})
	require.Len(t, combos, 3)
	for i, want := range []float64{0.1, 0.2, 0.3} {
		assert.Equal(t, want, combos[i]["threshold"])
	}
}
