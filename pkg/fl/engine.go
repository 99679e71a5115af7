package fl

import (
	"fmt"
	"sort"
	"sync"

	pkgerrors "github.com/absmach/fedsync/pkg/errors"
)

// Engine owns the global ParameterSet and GlobalStep. Only Merge, Seed and
// Restore mutate them; readers always see a complete snapshot.
type Engine struct {
	mu         sync.RWMutex
	aggregator Aggregator
	minReports int
	global     ParameterSet
	step       uint64
}

func NewEngine(aggregator Aggregator, minReports int) *Engine {
	if aggregator == nil {
		aggregator = NewMeanAggregator()
	}
	if minReports < 1 {
		minReports = 1
	}

	return &Engine{
		aggregator: aggregator,
		minReports: minReports,
	}
}

// SetMinReports changes how many reports Merge requires.
func (e *Engine) SetMinReports(n int) {
	if n < 1 {
		n = 1
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.minReports = n
}

// Seed sets the initial global parameters. It is a no-op once the engine holds
// parameters, so a restored checkpoint wins over a fresh initialisation.
func (e *Engine) Seed(params ParameterSet) (Snapshot, error) {
	if err := params.Validate(); err != nil {
		return Snapshot{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.global == nil {
		e.global = params.Clone()
	}

	return Snapshot{Step: e.step, Params: e.global.Clone()}, nil
}

// Restore replaces the global state with a checkpointed one.
func (e *Engine) Restore(step uint64, params ParameterSet) error {
	if err := params.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if step < e.step {
		return fmt.Errorf("cannot restore step %d behind current global step %d", step, e.step)
	}
	e.global = params.Clone()
	e.step = step

	return nil
}

// Merge averages the reported deltas into the global parameters and advances
// GlobalStep by one. On any error the global state is left untouched.
func (e *Engine) Merge(reports map[int]Update) (Snapshot, error) {
	e.mu.RLock()
	minReports := e.minReports
	e.mu.RUnlock()
	if len(reports) < minReports {
		return Snapshot{}, fmt.Errorf("%w: %d of %d required reports", pkgerrors.ErrQuorumTimeout, len(reports), minReports)
	}

	indices := make([]int, 0, len(reports))
	for idx := range reports {
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	updates := make([]Update, len(indices))
	for i, idx := range indices {
		updates[i] = reports[idx]
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.global == nil {
		return Snapshot{}, pkgerrors.ErrNotSeeded
	}

	delta, err := e.aggregator.Aggregate(updates)
	if err != nil {
		return Snapshot{}, err
	}
	next, err := e.global.Add(delta)
	if err != nil {
		return Snapshot{}, err
	}

	e.global = next
	e.step++

	return Snapshot{Step: e.step, Params: e.global.Clone()}, nil
}

func (e *Engine) Snapshot() (Snapshot, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.global == nil {
		return Snapshot{Step: e.step}, pkgerrors.ErrNotSeeded
	}

	return Snapshot{Step: e.step, Params: e.global.Clone()}, nil
}

func (e *Engine) Step() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.step
}

func (e *Engine) Seeded() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.global != nil
}
