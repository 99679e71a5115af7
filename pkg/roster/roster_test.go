package roster_test

import (
	"context"
	"sync"
	"testing"
	"time"

	pkgerrors "github.com/absmach/fedsync/pkg/errors"
	"github.com/absmach/fedsync/pkg/roster"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu      sync.Mutex
	rosters []roster.Roster
}

func (r *recorder) Broadcast(_ context.Context, ros roster.Roster) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rosters = append(r.rosters, ros)

	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.rosters)
}

func TestRegisterBeforeOpen(t *testing.T) {
	t.Parallel()

	c, err := roster.New(2)
	require.NoError(t, err)

	_, err = c.Register(context.Background(), roster.Replica{Index: 0, Address: "a:1"})
	assert.ErrorIs(t, err, pkgerrors.ErrRosterNotOpen)
}

func TestClosesWhenExpectedReached(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	c, err := roster.New(3, roster.WithBroadcaster(rec), roster.WithRunID("run-1"))
	require.NoError(t, err)
	require.NoError(t, c.Open(time.Minute))

	ctx := context.Background()
	for _, idx := range []int{2, 0, 1} {
		ack, err := c.Register(ctx, roster.Replica{Index: idx, Address: "host:7070"})
		require.NoError(t, err)
		assert.Equal(t, "run-1", ack.RunID)
	}

	r, err := c.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, r.NumWorkers)
	assert.Equal(t, []int{0, 1, 2}, r.Indices())

	rank, ok := r.Rank(2)
	assert.True(t, ok)
	assert.Equal(t, 2, rank)

	assert.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestLateRegistrationIsRejected(t *testing.T) {
	t.Parallel()

	c, err := roster.New(3)
	require.NoError(t, err)
	require.NoError(t, c.Open(60*time.Millisecond))

	ctx := context.Background()
	_, err = c.Register(ctx, roster.Replica{Index: 0, Address: "a:1"})
	require.NoError(t, err)
	_, err = c.Register(ctx, roster.Replica{Index: 1, Address: "b:1"})
	require.NoError(t, err)

	r, err := c.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, r.NumWorkers)

	_, err = c.Register(ctx, roster.Replica{Index: 2, Address: "c:1"})
	assert.ErrorIs(t, err, pkgerrors.ErrRosterClosed)

	again, closed := c.Roster()
	assert.True(t, closed)
	assert.Equal(t, r, again, "roster is immutable once closed")
}

func TestRegisterConflicts(t *testing.T) {
	t.Parallel()

	c, err := roster.New(2)
	require.NoError(t, err)
	require.NoError(t, c.Open(time.Minute))

	ctx := context.Background()
	_, err = c.Register(ctx, roster.Replica{Index: 1, Address: "a:1"})
	require.NoError(t, err)

	_, err = c.Register(ctx, roster.Replica{Index: 1, Address: "a:1"})
	assert.NoError(t, err, "same replica may retry its registration")

	_, err = c.Register(ctx, roster.Replica{Index: 1, Address: "b:1"})
	assert.ErrorIs(t, err, pkgerrors.ErrEntityExists)

	_, err = c.Register(ctx, roster.Replica{Index: 5, Address: "b:1"})
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidData)
	assert.Equal(t, 1, c.Registered())
}

func TestWaitHonoursContext(t *testing.T) {
	t.Parallel()

	c, err := roster.New(2)
	require.NoError(t, err)
	require.NoError(t, c.Open(time.Minute))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = c.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	c, err := roster.New(2, roster.WithBroadcaster(rec))
	require.NoError(t, err)
	require.NoError(t, c.Open(time.Minute))

	first := c.Close()
	second := c.Close()
	assert.Equal(t, first, second)
	assert.ErrorIs(t, c.Open(time.Minute), pkgerrors.ErrRosterClosed)

	assert.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return rec.count() > 1 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestOpenValidation(t *testing.T) {
	t.Parallel()

	_, err := roster.New(0)
	assert.ErrorIs(t, err, pkgerrors.ErrConfiguration)

	c, err := roster.New(1)
	require.NoError(t, err)
	assert.ErrorIs(t, c.Open(0), pkgerrors.ErrConfiguration)
}
