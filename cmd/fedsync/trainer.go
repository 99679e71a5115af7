package main

import (
	"context"
	"math"
	"math/rand/v2"

	"github.com/absmach/fedsync/pkg/cluster"
	"github.com/absmach/fedsync/pkg/fl"
	"github.com/absmach/fedsync/pkg/session"
)

const (
	weightsKey = "weights"
	biasKey    = "bias"
	// A prediction within tolerance of its target counts as correct.
	tolerance = 0.5
)

// dataset is a synthetic linear regression problem. Every replica generates
// the same samples from the shared seed and trains on its own shard.
type dataset struct {
	x [][]float64
	y []float64
}

func newDataset(seed uint64, samples, features int) dataset {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	truth := make([]float64, features)
	for i := range truth {
		truth[i] = rng.NormFloat64() * 2
	}
	bias := rng.NormFloat64()

	ds := dataset{x: make([][]float64, samples), y: make([]float64, samples)}
	for i := range samples {
		row := make([]float64, features)
		target := bias
		for j := range row {
			row[j] = rng.NormFloat64()
			target += row[j] * truth[j]
		}
		ds.x[i] = row
		ds.y[i] = target + rng.NormFloat64()*0.1
	}

	return ds
}

func initialParams(features int) fl.ParameterSet {
	return fl.ParameterSet{
		weightsKey: make([]float64, features),
		biasKey:    {0},
	}
}

// leastSquares returns a StepFunc running one mini batch gradient descent
// step over the replica's shard.
func leastSquares(ds dataset, batch int, lr float64) session.StepFunc {
	return func(_ context.Context, params fl.ParameterSet, info session.Info, step uint64) (session.StepResult, error) {
		start, end := cluster.ShardBounds(len(ds.x), info.NumWorkers, info.Rank)
		shard := end - start
		if shard == 0 {
			return session.StepResult{Delta: params.Zeros()}, nil
		}

		w, b := params[weightsKey], params[biasKey][0]
		gradW := make([]float64, len(w))
		gradB := 0.0
		loss := 0.0
		correct := 0

		n := min(batch, shard)
		offset := int((step - 1) * uint64(n) % uint64(shard))
		for k := range n {
			i := start + (offset+k)%shard
			pred := b
			for j, v := range ds.x[i] {
				pred += v * w[j]
			}
			diff := pred - ds.y[i]
			loss += diff * diff
			if math.Abs(diff) <= tolerance {
				correct++
			}
			for j, v := range ds.x[i] {
				gradW[j] += 2 * diff * v
			}
			gradB += 2 * diff
		}

		scale := -lr / float64(n)
		for j := range gradW {
			gradW[j] *= scale
		}

		return session.StepResult{
			Delta:    fl.ParameterSet{weightsKey: gradW, biasKey: {gradB * scale}},
			Samples:  n,
			Loss:     loss / float64(n),
			Accuracy: float64(correct) / float64(n),
		}, nil
	}
}
