package main

import (
	"testing"
	"time"

	"github.com/absmach/fedsync"
	"github.com/absmach/fedsync/pkg/cluster"
	pkgerrors "github.com/absmach/fedsync/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyFile(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig()
	cfg.Aggregation = "weighted"
	file := &fedsync.Config{
		Cluster: fedsync.ClusterConfig{
			ChiefPrivateAddr: "10.0.0.1:7070",
			Workers:          []string{"10.0.0.1:7070", "10.0.0.2:7070"},
		},
		Training: fedsync.TrainingConfig{
			IntervalSteps: 4,
			WaitDuration:  "45s",
		},
		Checkpoint: fedsync.CheckpointConfig{Dir: "/tmp/ckpt", Every: 3},
	}

	require.NoError(t, applyFile(&cfg, file))
	assert.Equal(t, 2, cfg.NumWorkers)
	assert.Equal(t, "10.0.0.1:7070", cfg.ChiefPrivateAddr)
	assert.Equal(t, 4, cfg.IntervalSteps)
	assert.Equal(t, 45*time.Second, cfg.WaitDuration)
	assert.Equal(t, 30*time.Second, cfg.MergeGrace, "unset file values keep the default")
	assert.Equal(t, "weighted", cfg.Aggregation)
	assert.Equal(t, "/tmp/ckpt", cfg.CheckpointDir)
	assert.Equal(t, uint64(3), cfg.CheckpointEvery)

	file.Training.MergeGrace = "soon"
	assert.ErrorIs(t, applyFile(&cfg, file), pkgerrors.ErrConfiguration)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	chiefCfg := func(mutate func(*envConfig)) envConfig {
		cfg := defaultConfig()
		cfg.NumWorkers = 3
		cfg.CheckpointDir = "/tmp/ckpt"
		mutate(&cfg)

		return cfg
	}
	followerCfg := func(mutate func(*envConfig)) envConfig {
		return chiefCfg(func(cfg *envConfig) {
			cfg.TaskIndex = 1
			cfg.Role = string(cluster.RoleFollower)
			cfg.ChiefPrivateAddr = "10.0.0.1:7070"
			mutate(cfg)
		})
	}

	cases := []struct {
		desc string
		cfg  envConfig
		err  error
	}{
		{desc: "valid chief", cfg: chiefCfg(func(*envConfig) {})},
		{desc: "valid follower", cfg: followerCfg(func(*envConfig) {})},
		{desc: "unknown aggregation", cfg: chiefCfg(func(c *envConfig) { c.Aggregation = "bogus" }), err: pkgerrors.ErrConfiguration},
		{desc: "unknown checkpoint backend", cfg: chiefCfg(func(c *envConfig) { c.CheckpointBackend = "s3" }), err: pkgerrors.ErrConfiguration},
		{desc: "backend ignored without directory", cfg: chiefCfg(func(c *envConfig) { c.CheckpointBackend = "s3"; c.CheckpointDir = "" })},
		{desc: "non-positive wait duration", cfg: chiefCfg(func(c *envConfig) { c.WaitDuration = 0 }), err: pkgerrors.ErrConfiguration},
		{desc: "quorum above worker count", cfg: chiefCfg(func(c *envConfig) { c.ReplicasToAggregate = 4 }), err: pkgerrors.ErrConfiguration},
		{desc: "negative quorum", cfg: chiefCfg(func(c *envConfig) { c.ReplicasToAggregate = -1 }), err: pkgerrors.ErrConfiguration},
		{desc: "negative interval", cfg: chiefCfg(func(c *envConfig) { c.IntervalSteps = -1 }), err: pkgerrors.ErrConfiguration},
		{
			desc: "public follower with only a private chief address",
			cfg:  followerCfg(func(c *envConfig) { c.Network = string(cluster.NetworkPublic) }),
			err:  pkgerrors.ErrConfiguration,
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			t.Parallel()

			registry, err := cluster.New(cluster.Config{
				TaskIndex:        tc.cfg.TaskIndex,
				Role:             cluster.Role(tc.cfg.Role),
				NumWorkers:       tc.cfg.NumWorkers,
				ChiefPrivateAddr: tc.cfg.ChiefPrivateAddr,
				ChiefPublicAddr:  tc.cfg.ChiefPublicAddr,
				Network:          cluster.Network(tc.cfg.Network),
			})
			require.NoError(t, err)

			err = validate(tc.cfg, registry)
			if tc.err == nil {
				assert.NoError(t, err)

				return
			}
			assert.ErrorIs(t, err, tc.err)
		})
	}
}
