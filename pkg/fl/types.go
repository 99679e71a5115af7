package fl

import "time"

// ParameterSet is the named collection of trainable values of the shared model.
// Each entry is a flattened tensor.
type ParameterSet map[string][]float64

// Update is what a replica reports at the end of its local interval: the delta
// accumulated since it last pulled the global parameters.
type Update struct {
	ReplicaIndex int                `json:"replica_index" cbor:"replica_index"`
	RunID        string             `json:"run_id"        cbor:"run_id"`
	LocalStep    uint64             `json:"local_step"    cbor:"local_step"`
	BaseStep     uint64             `json:"base_step"     cbor:"base_step"`
	NumSamples   int                `json:"num_samples"   cbor:"num_samples"`
	Delta        ParameterSet       `json:"delta"         cbor:"delta"`
	Metrics      map[string]float64 `json:"metrics,omitempty" cbor:"metrics,omitempty"`
	ReceivedAt   time.Time          `json:"received_at"   cbor:"received_at"`
}

// Snapshot is an immutable view of the global state at a given GlobalStep.
type Snapshot struct {
	Step   uint64       `json:"step"   cbor:"step"`
	Params ParameterSet `json:"params" cbor:"params"`
}

type Aggregator interface {
	// Aggregate combines deltas into a single delta. Updates are ordered by replica index.
	Aggregate(updates []Update) (ParameterSet, error)
}
