package main

import (
	"context"
	"testing"

	"github.com/absmach/fedsync/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLeastSquaresConverges(t *testing.T) {
	t.Parallel()

	ds := newDataset(7, 200, 3)
	step := leastSquares(ds, 32, 0.05)
	info := session.Info{NumWorkers: 1}
	params := initialParams(3)

	var first, last session.StepResult
	for n := uint64(1); n <= 300; n++ {
		res, err := step(context.Background(), params, info, n)
		require.NoError(t, err)
		params, err = params.Add(res.Delta)
		require.NoError(t, err)
		if n == 1 {
			first = res
		}
		last = res
	}

	assert.Less(t, last.Loss, first.Loss/10)
	assert.Greater(t, last.Accuracy, 0.9)
}

func TestShardsAreDisjoint(t *testing.T) {
	t.Parallel()

	ds := newDataset(7, 10, 2)
	step := leastSquares(ds, 100, 0.1)

	samples := 0
	for rank := range 3 {
		res, err := step(context.Background(), initialParams(2), session.Info{NumWorkers: 3, Rank: rank}, 1)
		require.NoError(t, err)
		samples += res.Samples
	}
	assert.Equal(t, 10, samples)
}
