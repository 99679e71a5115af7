package cluster_test

import (
	"testing"

	"github.com/absmach/fedsync/pkg/cluster"
	pkgerrors "github.com/absmach/fedsync/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Parallel()

	cases := []struct {
		desc string
		cfg  cluster.Config
		err  error
	}{
		{
			desc: "chief with worker list",
			cfg: cluster.Config{
				TaskIndex: 0,
				Role:      cluster.RoleChief,
				Workers:   []string{"10.0.0.1:7070", "10.0.0.2:7070"},
			},
		},
		{
			desc: "follower with public chief only",
			cfg: cluster.Config{
				TaskIndex:       2,
				Role:            cluster.RoleFollower,
				NumWorkers:      3,
				ChiefPublicAddr: "203.0.113.5:7070",
				Network:         cluster.NetworkPublic,
			},
		},
		{
			desc: "follower without chief address",
			cfg:  cluster.Config{TaskIndex: 1, Role: cluster.RoleFollower, NumWorkers: 2},
			err:  pkgerrors.ErrConfiguration,
		},
		{
			desc: "chief on non zero index",
			cfg:  cluster.Config{TaskIndex: 1, Role: cluster.RoleChief, NumWorkers: 2},
			err:  pkgerrors.ErrConfiguration,
		},
		{
			desc: "follower on chief index",
			cfg:  cluster.Config{TaskIndex: 0, Role: cluster.RoleFollower, NumWorkers: 2, ChiefPrivateAddr: "a:1"},
			err:  pkgerrors.ErrConfiguration,
		},
		{
			desc: "index outside worker range",
			cfg:  cluster.Config{TaskIndex: 3, Role: cluster.RoleFollower, NumWorkers: 3, ChiefPrivateAddr: "a:1"},
			err:  pkgerrors.ErrConfiguration,
		},
		{
			desc: "worker count disagrees with list",
			cfg:  cluster.Config{TaskIndex: 0, Role: cluster.RoleChief, NumWorkers: 3, Workers: []string{"a:1", "b:1"}},
			err:  pkgerrors.ErrConfiguration,
		},
		{
			desc: "malformed worker address",
			cfg:  cluster.Config{TaskIndex: 0, Role: cluster.RoleChief, Workers: []string{"nohostport"}},
			err:  pkgerrors.ErrConfiguration,
		},
		{
			desc: "unknown role",
			cfg:  cluster.Config{TaskIndex: 0, Role: "ps", NumWorkers: 1},
			err:  pkgerrors.ErrConfiguration,
		},
		{
			desc: "zero workers",
			cfg:  cluster.Config{TaskIndex: 0, Role: cluster.RoleChief},
			err:  pkgerrors.ErrConfiguration,
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			t.Parallel()
			_, err := cluster.New(tc.cfg)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)

				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestChiefAddress(t *testing.T) {
	t.Parallel()

	base := cluster.Config{
		TaskIndex:        1,
		Role:             cluster.RoleFollower,
		NumWorkers:       2,
		ChiefPrivateAddr: "10.0.0.1:7070",
		ChiefPublicAddr:  "203.0.113.5:7070",
	}

	private, err := cluster.New(base)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:7070", private.ChiefAddress())

	base.Network = cluster.NetworkPublic
	public, err := cluster.New(base)
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.5:7070", public.ChiefAddress())

	base.ChiefPublicAddr = ""
	unreachable, err := cluster.New(base)
	require.NoError(t, err)
	_, err = unreachable.DialAddress()
	assert.ErrorIs(t, err, pkgerrors.ErrConfiguration)
}

func TestRegistryIdentity(t *testing.T) {
	t.Parallel()

	r, err := cluster.New(cluster.Config{
		TaskIndex: 0,
		Role:      cluster.RoleChief,
		Workers:   []string{"10.0.0.1:7070", "10.0.0.2:7070"},
	})
	require.NoError(t, err)

	self := r.Self()
	assert.Equal(t, 0, self.Index)
	assert.Equal(t, "10.0.0.1:7070", self.Address)
	assert.NotEmpty(t, self.Name)
	assert.True(t, r.IsChief())
	assert.Equal(t, 2, r.NumWorkers())
}

func TestShardBounds(t *testing.T) {
	t.Parallel()

	cases := []struct {
		total, workers int
		want           [][2]int
	}{
		{total: 10, workers: 3, want: [][2]int{{0, 4}, {4, 7}, {7, 10}}},
		{total: 9, workers: 3, want: [][2]int{{0, 3}, {3, 6}, {6, 9}}},
		{total: 2, workers: 3, want: [][2]int{{0, 1}, {1, 2}, {2, 2}}},
	}

	for _, tc := range cases {
		covered := 0
		for rank, want := range tc.want {
			start, end := cluster.ShardBounds(tc.total, tc.workers, rank)
			assert.Equal(t, want, [2]int{start, end}, "total=%d workers=%d rank=%d", tc.total, tc.workers, rank)
			covered += end - start
		}
		assert.Equal(t, tc.total, covered)
	}

	start, end := cluster.ShardBounds(10, 3, 5)
	assert.Equal(t, 0, start)
	assert.Equal(t, 0, end)
}
