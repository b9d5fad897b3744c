package clock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTickMonotonic(t *testing.T) {
	c := New(0)
	require.Equal(t, int64(1), c.Tick())
	require.Equal(t, int64(2), c.Tick())
	require.Equal(t, int64(2), c.Current())
}

func TestWitnessNeverDecreasesClock(t *testing.T) {
	c := New(5)
	prev := c.Witness(3)
	assert.Equal(t, int64(5), prev)
	assert.Equal(t, int64(5), c.Current())

	prev = c.Witness(10)
	assert.Equal(t, int64(5), prev)
	assert.Equal(t, int64(10), c.Current())
}

func TestConcurrentTickIsLinearizable(t *testing.T) {
	c := New(0)
	var wg sync.WaitGroup
	const n = 200
	seen := make([]int64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			seen[i] = c.Tick()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(n), c.Current())
	vals := map[int64]bool{}
	for _, v := range seen {
		assert.False(t, vals[v], "duplicate tick value %d", v)
		vals[v] = true
	}
}
