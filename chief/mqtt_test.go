package chief_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/absmach/fedsync/chief"
	"github.com/absmach/fedsync/pkg/mqtt/mocks"
	"github.com/absmach/fedsync/pkg/roster"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestMQTTNotifierTopics(t *testing.T) {
	t.Parallel()

	ps := new(mocks.PubSub)
	r := roster.Roster{RunID: "run-1", NumWorkers: 2}
	notice := chief.RoundNotice{RunID: "run-1", Round: 3, GlobalStep: 3, Outcome: chief.OutcomeMerged}
	ps.On("Publish", mock.Anything, "fedsync/train/roster", r).Return(nil).Once()
	ps.On("Publish", mock.Anything, "fedsync/train/rounds", notice).Return(nil).Once()

	n := chief.NewMQTTNotifier(ps, "train")
	require.NoError(t, n.Broadcast(context.Background(), r))
	require.NoError(t, n.RoundResolved(context.Background(), notice))
	ps.AssertExpectations(t)
}

func TestSubscribe(t *testing.T) {
	t.Parallel()

	ps := new(mocks.PubSub)
	ps.On("Subscribe", mock.Anything, chief.RosterTopic("train"), mock.Anything).Return(nil).Once()
	ps.On("Subscribe", mock.Anything, chief.RoundsTopic("train"), mock.Anything).Return(nil).Once()

	require.NoError(t, chief.Subscribe(context.Background(), "train", ps, nil, nil, slog.Default()))
	ps.AssertExpectations(t)
}

func TestHandle(t *testing.T) {
	t.Parallel()

	var (
		gotRoster roster.Roster
		gotNotice chief.RoundNotice
	)
	h := chief.Handle("train",
		func(r roster.Roster) { gotRoster = r },
		func(n chief.RoundNotice) { gotNotice = n },
		slog.Default(),
	)

	cases := []struct {
		desc  string
		topic string
		msg   map[string]any
		err   bool
	}{
		{
			desc:  "roster",
			topic: "fedsync/train/roster",
			msg:   map[string]any{"run_id": "run-1", "num_workers": 2, "replicas": []any{map[string]any{"index": 0, "address": "a:1"}}},
		},
		{
			desc:  "round notice",
			topic: "fedsync/train/rounds",
			msg:   map[string]any{"run_id": "run-1", "round": 4, "global_step": 4, "outcome": "timeout"},
		},
		{
			desc:  "malformed round notice",
			topic: "fedsync/train/rounds",
			msg:   map[string]any{"round": "four"},
			err:   true,
		},
		{
			desc:  "other topic is ignored",
			topic: "fedsync/other/rounds",
			msg:   map[string]any{"round": "four"},
		},
	}

	for _, tc := range cases {
		err := h(tc.topic, tc.msg)
		if tc.err {
			assert.Error(t, err, tc.desc)

			continue
		}
		assert.NoError(t, err, tc.desc)
	}

	assert.Equal(t, "run-1", gotRoster.RunID)
	assert.Equal(t, []int{0}, gotRoster.Indices())
	assert.Equal(t, uint64(4), gotNotice.Round)
	assert.Equal(t, chief.OutcomeTimeout, gotNotice.Outcome)
}
