package chief_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/absmach/fedsync/chief"
	"github.com/absmach/fedsync/pkg/checkpoint"
	pkgerrors "github.com/absmach/fedsync/pkg/errors"
	"github.com/absmach/fedsync/pkg/fl"
	"github.com/absmach/fedsync/pkg/roster"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T, cfg chief.Config, ckpts *checkpoint.Manager) chief.Service {
	t.Helper()
	svc, err := chief.NewService(cfg, ckpts, nil, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })

	return svc
}

// join seeds the global parameters and registers replicas 0..n-1.
func join(t *testing.T, svc chief.Service, n int, seed fl.ParameterSet) roster.Roster {
	t.Helper()
	ctx := context.Background()

	_, err := svc.Seed(ctx, seed)
	require.NoError(t, err)
	require.NoError(t, svc.OpenRoster(ctx, time.Minute))
	for idx := range n {
		_, err := svc.Register(ctx, roster.Replica{Index: idx, Address: "10.0.0.1:7070"})
		require.NoError(t, err)
	}
	r, err := svc.WaitRoster(ctx)
	require.NoError(t, err)

	return r
}

type result struct {
	snap fl.Snapshot
	err  error
}

func TestThreeReplicasOneMerge(t *testing.T) {
	t.Parallel()

	svc := newService(t, chief.Config{NumWorkers: 3, IntervalSteps: 2, ReplicasToAggregate: 3, MergeGrace: 5 * time.Second}, nil)
	r := join(t, svc, 3, fl.ParameterSet{"w": {0, 0}})
	assert.Equal(t, 3, r.NumWorkers)

	deltas := []fl.ParameterSet{{"w": {3, 0}}, {"w": {0, 3}}, {"w": {0, 0}}}
	results := make([]result, 3)

	var wg sync.WaitGroup
	for idx := range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx := context.Background()
			for range 2 {
				if _, err := svc.RecordLocalStep(ctx, idx); err != nil {
					results[idx] = result{err: err}

					return
				}
			}
			snap, err := svc.Report(ctx, fl.Update{ReplicaIndex: idx, RunID: r.RunID, LocalStep: 2, Delta: deltas[idx]})
			results[idx] = result{snap: snap, err: err}
		}()
	}
	wg.Wait()

	want := fl.ParameterSet{"w": {1, 1}}
	for idx, res := range results {
		require.NoError(t, res.err, "replica %d", idx)
		assert.Equal(t, uint64(1), res.snap.Step)
		assert.True(t, want.Equal(res.snap.Params), "replica %d got %v", idx, res.snap.Params)
	}

	step, err := svc.GlobalStep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), step)

	st, err := svc.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), st.Round)
	assert.Equal(t, 0, st.Reported)
}

func TestGlobalStepCountsMerges(t *testing.T) {
	t.Parallel()

	svc := newService(t, chief.Config{NumWorkers: 2, ReplicasToAggregate: 2, MergeGrace: 5 * time.Second}, nil)
	r := join(t, svc, 2, fl.ParameterSet{"w": {1}})

	for k := 1; k <= 5; k++ {
		var wg sync.WaitGroup
		errs := make([]error, 2)
		for idx := range 2 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, errs[idx] = svc.Report(context.Background(), fl.Update{ReplicaIndex: idx, RunID: r.RunID, Delta: fl.ParameterSet{"w": {0.5}}})
			}()
		}
		wg.Wait()
		require.NoError(t, errs[0])
		require.NoError(t, errs[1])

		step, err := svc.GlobalStep(context.Background())
		require.NoError(t, err)
		assert.Equal(t, uint64(k), step)
	}
}

func TestQuorumTimeoutKeepsPreviousGlobal(t *testing.T) {
	t.Parallel()

	svc := newService(t, chief.Config{NumWorkers: 2, ReplicasToAggregate: 2, MergeGrace: 50 * time.Millisecond}, nil)
	r := join(t, svc, 2, fl.ParameterSet{"w": {7}})

	snap, err := svc.Report(context.Background(), fl.Update{ReplicaIndex: 1, RunID: r.RunID, Delta: fl.ParameterSet{"w": {100}}})
	assert.ErrorIs(t, err, pkgerrors.ErrQuorumTimeout)
	assert.Equal(t, uint64(0), snap.Step)
	assert.Equal(t, []float64{7}, snap.Params["w"])

	st, err := svc.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), st.GlobalStep)
	assert.Equal(t, uint64(1), st.Round, "timed out round is not retried")
	assert.Equal(t, 0, st.Reported)
}

func TestReportMembership(t *testing.T) {
	t.Parallel()

	svc := newService(t, chief.Config{NumWorkers: 3, ReplicasToAggregate: 2}, nil)
	ctx := context.Background()

	_, err := svc.Report(ctx, fl.Update{ReplicaIndex: 0, Delta: fl.ParameterSet{"w": {1}}})
	assert.ErrorIs(t, err, pkgerrors.ErrRosterNotOpen)

	_, err = svc.Seed(ctx, fl.ParameterSet{"w": {0}})
	require.NoError(t, err)
	require.NoError(t, svc.OpenRoster(ctx, 30*time.Millisecond))
	_, err = svc.Register(ctx, roster.Replica{Index: 0, Address: "a:1"})
	require.NoError(t, err)
	_, err = svc.Register(ctx, roster.Replica{Index: 1, Address: "b:1"})
	require.NoError(t, err)
	r, err := svc.WaitRoster(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, r.NumWorkers)

	_, err = svc.Register(ctx, roster.Replica{Index: 2, Address: "c:1"})
	assert.ErrorIs(t, err, pkgerrors.ErrRosterClosed)

	_, err = svc.Report(ctx, fl.Update{ReplicaIndex: 2, Delta: fl.ParameterSet{"w": {1}}})
	assert.ErrorIs(t, err, pkgerrors.ErrRosterClosed)

	_, err = svc.Report(ctx, fl.Update{ReplicaIndex: 0, RunID: "previous-run", Delta: fl.ParameterSet{"w": {1}}})
	assert.ErrorIs(t, err, pkgerrors.ErrRosterClosed)

	_, err = svc.RecordLocalStep(ctx, 2)
	assert.ErrorIs(t, err, pkgerrors.ErrRosterClosed)

	_, err = svc.Report(ctx, fl.Update{ReplicaIndex: 0, Delta: fl.ParameterSet{}})
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidData)
}

func TestNewServiceValidation(t *testing.T) {
	t.Parallel()

	_, err := chief.NewService(chief.Config{NumWorkers: 2, ReplicasToAggregate: 3}, nil, nil, nil, nil)
	assert.ErrorIs(t, err, pkgerrors.ErrConfiguration)

	_, err = chief.NewService(chief.Config{NumWorkers: 2, Aggregation: "median"}, nil, nil, nil, nil)
	assert.ErrorIs(t, err, pkgerrors.ErrConfiguration)

	_, err = chief.NewService(chief.Config{NumWorkers: 0}, nil, nil, nil, nil)
	assert.ErrorIs(t, err, pkgerrors.ErrConfiguration)
}

func TestCheckpointCadenceAndRestore(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := checkpoint.NewFileStore(dir)
	require.NoError(t, err)
	mgr := checkpoint.NewManager(store, checkpoint.Config{Every: 2, Keep: 3}, nil)

	svc, err := chief.NewService(chief.Config{NumWorkers: 1, ReplicasToAggregate: 1, MergeGrace: time.Second}, mgr, nil, nil, nil)
	require.NoError(t, err)
	r := join(t, svc, 1, fl.ParameterSet{"w": {0}})

	ctx := context.Background()
	for range 3 {
		_, err := svc.Report(ctx, fl.Update{ReplicaIndex: 0, RunID: r.RunID, Delta: fl.ParameterSet{"w": {1}}})
		require.NoError(t, err)
	}

	assert.Eventually(t, func() bool {
		steps, err := store.Steps(ctx)

		return err == nil && len(steps) == 1 && steps[0] == 2
	}, time.Second, 5*time.Millisecond)

	// Shutdown persists the step reached since the last cadence checkpoint.
	require.NoError(t, svc.Shutdown(ctx))

	reopened, err := checkpoint.NewFileStore(dir)
	require.NoError(t, err)
	restoredMgr := checkpoint.NewManager(reopened, checkpoint.Config{}, nil)
	restored := newService(t, chief.Config{NumWorkers: 1}, restoredMgr)

	info, err := restored.RestoreLatest(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), info.Step)

	snap, err := restored.Seed(ctx, fl.ParameterSet{"w": {42}})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), snap.Step, "global step resumes from the checkpoint")
	assert.Equal(t, []float64{3}, snap.Params["w"])
}

func TestCheckpointErrors(t *testing.T) {
	t.Parallel()

	svc := newService(t, chief.Config{NumWorkers: 1}, nil)
	_, err := svc.Checkpoint(context.Background())
	assert.ErrorIs(t, err, pkgerrors.ErrConfiguration)

	store, err := checkpoint.NewFileStore(t.TempDir())
	require.NoError(t, err)
	withStore := newService(t, chief.Config{NumWorkers: 1}, checkpoint.NewManager(store, checkpoint.Config{}, nil))
	_, err = withStore.RestoreLatest(context.Background())
	assert.ErrorIs(t, err, pkgerrors.ErrNoCheckpoint)
}

func TestStaleReplicas(t *testing.T) {
	t.Parallel()

	svc := newService(t, chief.Config{NumWorkers: 3, ReplicasToAggregate: 2, StaleAfterRounds: 2, MergeGrace: 5 * time.Second}, nil)
	r := join(t, svc, 3, fl.ParameterSet{"w": {0}})

	for range 2 {
		var wg sync.WaitGroup
		for idx := range 2 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := svc.Report(context.Background(), fl.Update{ReplicaIndex: idx, RunID: r.RunID, Delta: fl.ParameterSet{"w": {1}}})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()
	}

	assert.Eventually(t, func() bool {
		st, err := svc.Status(context.Background())

		return err == nil && len(st.Stale) == 1 && st.Stale[0] == 2
	}, time.Second, 5*time.Millisecond)
}

// openShort seeds and opens a short join window, registers the given
// replicas and waits for the window to expire.
func openShort(t *testing.T, svc chief.Service, indices ...int) roster.Roster {
	t.Helper()
	ctx := context.Background()

	_, err := svc.Seed(ctx, fl.ParameterSet{"w": {0}})
	require.NoError(t, err)
	require.NoError(t, svc.OpenRoster(ctx, 50*time.Millisecond))
	for _, idx := range indices {
		_, err := svc.Register(ctx, roster.Replica{Index: idx, Address: "10.0.0.1:7070"})
		require.NoError(t, err)
	}
	r, err := svc.WaitRoster(ctx)
	require.NoError(t, err)

	return r
}

func reportAll(svc chief.Service, r roster.Roster, delta fl.ParameterSet) []result {
	results := make([]result, len(r.Replicas))
	var wg sync.WaitGroup
	for i, rep := range r.Replicas {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snap, err := svc.Report(context.Background(), fl.Update{ReplicaIndex: rep.Index, RunID: r.RunID, Delta: delta})
			results[i] = result{snap: snap, err: err}
		}()
	}
	wg.Wait()

	return results
}

func TestDefaultQuorumFollowsShortRoster(t *testing.T) {
	t.Parallel()

	svc := newService(t, chief.Config{NumWorkers: 3, MergeGrace: 5 * time.Second}, nil)
	r := openShort(t, svc, 0, 1)
	require.Equal(t, 2, r.NumWorkers)

	_, err := svc.Register(context.Background(), roster.Replica{Index: 2, Address: "10.0.0.3:7070"})
	assert.ErrorIs(t, err, pkgerrors.ErrRosterClosed)

	for k := 1; k <= 3; k++ {
		for idx, res := range reportAll(svc, r, fl.ParameterSet{"w": {1}}) {
			require.NoError(t, res.err, "replica %d", idx)
			assert.Equal(t, uint64(k), res.snap.Step)
		}
	}

	step, err := svc.GlobalStep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(3), step)
}

func TestExplicitQuorumKeptOnShortRoster(t *testing.T) {
	t.Parallel()

	svc := newService(t, chief.Config{NumWorkers: 3, ReplicasToAggregate: 3, MergeGrace: 50 * time.Millisecond}, nil)
	r := openShort(t, svc, 0, 1)
	require.Equal(t, 2, r.NumWorkers)

	for _, res := range reportAll(svc, r, fl.ParameterSet{"w": {1}}) {
		assert.ErrorIs(t, res.err, pkgerrors.ErrQuorumTimeout)
		assert.Equal(t, uint64(0), res.snap.Step)
	}
}

func TestChiefIntervalArmsMergeAttempt(t *testing.T) {
	t.Parallel()

	svc := newService(t, chief.Config{NumWorkers: 2, IntervalSteps: 2, ReplicasToAggregate: 2, MergeGrace: 50 * time.Millisecond}, nil)
	join(t, svc, 2, fl.ParameterSet{"w": {0}})
	ctx := context.Background()

	// A follower step never starts a round.
	for range 2 {
		_, err := svc.RecordLocalStep(ctx, 1)
		require.NoError(t, err)
	}
	time.Sleep(100 * time.Millisecond)
	st, err := svc.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), st.Round)

	// The chief's boundary starts a grace-bounded attempt that times out
	// without reports.
	for range 2 {
		_, err := svc.RecordLocalStep(ctx, 0)
		require.NoError(t, err)
	}
	assert.Eventually(t, func() bool {
		st, err := svc.Status(ctx)

		return err == nil && st.Round == 1 && st.GlobalStep == 0
	}, time.Second, 5*time.Millisecond)
}
