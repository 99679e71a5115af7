package fl

import (
	"fmt"
	"math"
)

const (
	AlgorithmMean   = "mean"
	AlgorithmFedAvg = "weighted"
)

// NewAggregator returns the aggregator registered under name.
func NewAggregator(name string) (Aggregator, error) {
	switch name {
	case "", AlgorithmMean:
		return NewMeanAggregator(), nil
	case AlgorithmFedAvg:
		return NewFedAvgAggregator(), nil
	default:
		return nil, fmt.Errorf("unknown aggregation algorithm %q", name)
	}
}

// MeanAggregator gives every reporting replica the same weight regardless of its shard size.
type MeanAggregator struct{}

func NewMeanAggregator() Aggregator {
	return &MeanAggregator{}
}

func (m *MeanAggregator) Aggregate(updates []Update) (ParameterSet, error) {
	if len(updates) == 0 {
		return nil, ErrNoUpdates
	}

	sum, err := sumDeltas(updates, func(Update) float64 { return 1 })
	if err != nil {
		return nil, err
	}
	n := float64(len(updates))
	for _, values := range sum {
		for i := range values {
			values[i] /= n
		}
	}

	return sum, nil
}

// FedAvgAggregator weights each delta by the number of samples the replica trained on.
type FedAvgAggregator struct{}

func NewFedAvgAggregator() Aggregator {
	return &FedAvgAggregator{}
}

func (f *FedAvgAggregator) Aggregate(updates []Update) (ParameterSet, error) {
	if len(updates) == 0 {
		return nil, ErrNoUpdates
	}

	var totalSamples int64
	for _, u := range updates {
		if u.NumSamples < 0 {
			return nil, fmt.Errorf("replica %d reported negative sample count", u.ReplicaIndex)
		}
		if totalSamples > math.MaxInt64-int64(u.NumSamples) {
			return nil, ErrOverflow
		}
		totalSamples += int64(u.NumSamples)
	}
	if totalSamples == 0 {
		return NewMeanAggregator().Aggregate(updates)
	}

	sum, err := sumDeltas(updates, func(u Update) float64 { return float64(u.NumSamples) })
	if err != nil {
		return nil, err
	}
	weightNorm := float64(totalSamples)
	for _, values := range sum {
		for i := range values {
			values[i] /= weightNorm
		}
	}

	return sum, nil
}

func sumDeltas(updates []Update, weight func(Update) float64) (ParameterSet, error) {
	first := updates[0].Delta
	if err := first.Validate(); err != nil {
		return nil, fmt.Errorf("replica %d: %w", updates[0].ReplicaIndex, err)
	}

	sum := first.Zeros()
	for _, u := range updates {
		if !u.Delta.SameShape(first) {
			return nil, fmt.Errorf("%w: replica %d", ErrShapeMismatch, u.ReplicaIndex)
		}
		w := weight(u)
		for name, values := range u.Delta {
			acc := sum[name]
			for i, v := range values {
				acc[i] += v * w
			}
		}
	}

	return sum, nil
}
