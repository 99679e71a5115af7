package checkpoint_test

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/absmach/fedsync/pkg/checkpoint"
	pkgerrors "github.com/absmach/fedsync/pkg/errors"
	"github.com/absmach/fedsync/pkg/fl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var errDisk = errors.New("disk full")

func params() fl.ParameterSet {
	return fl.ParameterSet{"dense/kernel": {0.1, -0.25, 3e-7}, "dense/bias": {1}}
}

func newManager(t *testing.T, store checkpoint.Store, cfg checkpoint.Config) *checkpoint.Manager {
	t.Helper()
	cfg.InitialWait = time.Millisecond
	cfg.MaxWait = 2 * time.Millisecond

	return checkpoint.NewManager(store, cfg, nil)
}

func TestStoresKeepFloatBits(t *testing.T) {
	t.Parallel()

	// A NaN with a payload and a negative zero.
	payloadNaN := math.Float64frombits(0x7ff8_0000_dead_beef)
	want := fl.ParameterSet{"w": {payloadNaN, math.Copysign(0, -1), math.Inf(-1), 1e-320}}

	for _, backend := range []checkpoint.Backend{checkpoint.BackendFile, checkpoint.BackendBadger} {
		t.Run(string(backend), func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()

			store, err := checkpoint.Open(t.TempDir(), backend)
			require.NoError(t, err)
			defer store.Close()

			_, err = store.Write(ctx, checkpoint.Checkpoint{Step: 1, Params: want})
			require.NoError(t, err)

			got, err := store.Latest(ctx)
			require.NoError(t, err)
			assert.True(t, want.Equal(got.Params), "got %v", got.Params)
		})
	}
}

func TestStores(t *testing.T) {
	t.Parallel()

	backends := []checkpoint.Backend{checkpoint.BackendFile, checkpoint.BackendBadger}
	for _, backend := range backends {
		t.Run(string(backend), func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()

			store, err := checkpoint.Open(t.TempDir(), backend)
			require.NoError(t, err)
			defer store.Close()

			_, err = store.Latest(ctx)
			assert.ErrorIs(t, err, pkgerrors.ErrNoCheckpoint)

			for _, step := range []uint64{3, 12, 7} {
				_, err := store.Write(ctx, checkpoint.Checkpoint{Step: step, Params: params().Scale(float64(step))})
				require.NoError(t, err)
			}

			steps, err := store.Steps(ctx)
			require.NoError(t, err)
			assert.Equal(t, []uint64{3, 7, 12}, steps)

			latest, err := store.Latest(ctx)
			require.NoError(t, err)
			assert.Equal(t, uint64(12), latest.Step)
			assert.True(t, params().Scale(12).Equal(latest.Params))

			require.NoError(t, store.Delete(ctx, 12))
			latest, err = store.Latest(ctx)
			require.NoError(t, err)
			assert.Equal(t, uint64(7), latest.Step)
		})
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	t.Parallel()

	_, err := checkpoint.Open(t.TempDir(), "s3")
	assert.ErrorIs(t, err, pkgerrors.ErrConfiguration)
}

func TestFileStoreIgnoresPartialWrites(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := checkpoint.NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "ckpt-99-123.tmp"), []byte("half"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	_, err = store.Latest(context.Background())
	assert.ErrorIs(t, err, pkgerrors.ErrNoCheckpoint)

	_, err = store.Write(context.Background(), checkpoint.Checkpoint{Step: 1, Params: params()})
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 3, "no temp file left behind by a successful write")
}

func TestManagerRoundTrip(t *testing.T) {
	t.Parallel()

	store, err := checkpoint.NewFileStore(t.TempDir())
	require.NoError(t, err)
	m := newManager(t, store, checkpoint.Config{Keep: 2})
	ctx := context.Background()

	_, err = m.RestoreLatest(ctx)
	assert.ErrorIs(t, err, pkgerrors.ErrNoCheckpoint)

	for step := uint64(1); step <= 4; step++ {
		_, err := m.Save(ctx, step, params().Scale(float64(step)))
		require.NoError(t, err)
	}

	c, err := m.RestoreLatest(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), c.Step)
	assert.True(t, params().Scale(4).Equal(c.Params))
	assert.Equal(t, uint64(4), m.Last().Step)

	steps, err := store.Steps(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{3, 4}, steps, "history is pruned to the newest checkpoints")
}

func TestManagerDue(t *testing.T) {
	t.Parallel()

	m := newManager(t, nil, checkpoint.Config{Every: 5})
	assert.False(t, m.Due(0))
	assert.False(t, m.Due(4))
	assert.True(t, m.Due(5))
	assert.True(t, m.Due(10))

	never := newManager(t, nil, checkpoint.Config{})
	assert.False(t, never.Due(5))
}

type storeMock struct {
	mock.Mock
}

func (s *storeMock) Write(ctx context.Context, c checkpoint.Checkpoint) (checkpoint.Info, error) {
	args := s.Called(ctx, c)

	return args.Get(0).(checkpoint.Info), args.Error(1)
}

func (s *storeMock) Latest(ctx context.Context) (checkpoint.Checkpoint, error) {
	args := s.Called(ctx)

	return args.Get(0).(checkpoint.Checkpoint), args.Error(1)
}

func (s *storeMock) Steps(ctx context.Context) ([]uint64, error) {
	args := s.Called(ctx)

	return args.Get(0).([]uint64), args.Error(1)
}

func (s *storeMock) Delete(ctx context.Context, step uint64) error {
	return s.Called(ctx, step).Error(0)
}

func (s *storeMock) Close() error {
	return s.Called().Error(0)
}

func TestManagerSaveRetries(t *testing.T) {
	t.Parallel()

	store := new(storeMock)
	store.On("Write", mock.Anything, mock.Anything).Return(checkpoint.Info{}, errDisk).Twice()
	store.On("Write", mock.Anything, mock.Anything).Return(checkpoint.Info{Step: 9}, nil).Once()
	store.On("Steps", mock.Anything).Return([]uint64{9}, nil)

	m := newManager(t, store, checkpoint.Config{MaxAttempts: 3})
	info, err := m.Save(context.Background(), 9, params())
	require.NoError(t, err)
	assert.Equal(t, uint64(9), info.Step)
	store.AssertNumberOfCalls(t, "Write", 3)
}

func TestManagerSaveGivesUp(t *testing.T) {
	t.Parallel()

	store := new(storeMock)
	store.On("Write", mock.Anything, mock.Anything).Return(checkpoint.Info{}, errDisk)

	m := newManager(t, store, checkpoint.Config{MaxAttempts: 3})
	_, err := m.Save(context.Background(), 9, params())
	assert.ErrorIs(t, err, pkgerrors.ErrCheckpointWrite)
	assert.ErrorIs(t, err, errDisk)
	store.AssertNumberOfCalls(t, "Write", 3)
	store.AssertNotCalled(t, "Steps", mock.Anything)
}
