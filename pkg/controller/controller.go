package controller

import (
	"context"
	"fmt"
	"sync"

	pkgerrors "github.com/absmach/fedsync/pkg/errors"
	"github.com/absmach/fedsync/pkg/fl"
)

type State uint8

const (
	WaitingForReports State = iota
	Merging
)

func (s State) String() string {
	switch s {
	case WaitingForReports:
		return "waiting_for_reports"
	case Merging:
		return "merging"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "waiting_for_reports":
		*s = WaitingForReports
	case "merging":
		*s = Merging
	default:
		return fmt.Errorf("unknown controller state %q", text)
	}

	return nil
}

type Config struct {
	// IntervalSteps of zero disables the interval trigger.
	IntervalSteps       int
	ReplicasToAggregate int
	ChiefIndex          int
}

// Controller decides when reported deltas are merged. While a merge is in
// flight every RecordLocalStep and Report call blocks, so pre- and post-merge
// deltas are never mixed in one round.
type Controller struct {
	mu         sync.Mutex
	cfg        Config
	state      State
	round      uint64
	merged     chan struct{}
	localSteps map[int]uint64
	reports    map[int]fl.Update
	firedAt    uint64
	members    []int
	missed     map[int]int
}

func New(cfg Config) (*Controller, error) {
	if cfg.IntervalSteps < 0 {
		return nil, fmt.Errorf("%w: interval steps must not be negative", pkgerrors.ErrConfiguration)
	}
	if cfg.ReplicasToAggregate < 1 {
		return nil, fmt.Errorf("%w: replicas to aggregate must be positive", pkgerrors.ErrConfiguration)
	}

	return &Controller{
		cfg:        cfg,
		localSteps: make(map[int]uint64),
		reports:    make(map[int]fl.Update),
		missed:     make(map[int]int),
	}, nil
}

// SetMembers declares the replicas expected to report each round. It is used
// only for staleness accounting.
func (c *Controller) SetMembers(indices []int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.members = append([]int(nil), indices...)
}

// SetQuorum changes the number of reports a round needs. The chief resolves
// an unset quorum to the closed roster size this way.
func (c *Controller) SetQuorum(n int) error {
	if n < 1 {
		return fmt.Errorf("%w: replicas to aggregate must be positive", pkgerrors.ErrConfiguration)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.cfg.ReplicasToAggregate = n

	return nil
}

// lock acquires the mutex once the controller is not merging.
func (c *Controller) lock(ctx context.Context) error {
	for {
		c.mu.Lock()
		if c.state != Merging {
			return nil
		}
		wait := c.merged
		c.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Controller) RecordLocalStep(ctx context.Context, index int) (uint64, error) {
	if err := c.lock(ctx); err != nil {
		return 0, err
	}
	defer c.mu.Unlock()

	c.localSteps[index]++

	return c.localSteps[index], nil
}

// Report adds u to the current round and returns the round it joined. A second
// report from the same replica in one round replaces the first.
func (c *Controller) Report(ctx context.Context, u fl.Update) (uint64, error) {
	if err := c.lock(ctx); err != nil {
		return 0, err
	}
	defer c.mu.Unlock()

	c.reports[u.ReplicaIndex] = u

	return c.round, nil
}

func (c *Controller) ShouldMerge() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Merging {
		return false
	}

	return c.quorum() || c.interval()
}

// Triggered reports whether a trigger fired and the round it fired in.
func (c *Controller) Triggered() (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Merging {
		return c.round, false
	}

	return c.round, c.quorum() || c.interval()
}

func (c *Controller) QuorumReached() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.quorum()
}

func (c *Controller) quorum() bool {
	return len(c.reports) >= c.cfg.ReplicasToAggregate
}

// interval fires once per chief boundary.
func (c *Controller) interval() bool {
	if c.cfg.IntervalSteps == 0 {
		return false
	}
	steps := c.localSteps[c.cfg.ChiefIndex]

	return steps > 0 && steps%uint64(c.cfg.IntervalSteps) == 0 && steps != c.firedAt
}

// BeginMerge seals the current round and enters Merging.
func (c *Controller) BeginMerge() (uint64, map[int]fl.Update, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Merging {
		return 0, nil, pkgerrors.ErrMergeInProgress
	}
	c.state = Merging
	c.merged = make(chan struct{})

	reports := make(map[int]fl.Update, len(c.reports))
	for idx, u := range c.reports {
		reports[idx] = u
	}

	return c.round, reports, nil
}

// EndMerge completes the round and releases blocked callers.
func (c *Controller) EndMerge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Merging {
		return
	}
	c.account()
	c.finish()
}

// Abort drops the reports of the current round without counting it as
// completed. It works in either state.
func (c *Controller) Abort() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.finish()
}

func (c *Controller) account() {
	for _, idx := range c.members {
		if _, ok := c.reports[idx]; ok {
			c.missed[idx] = 0

			continue
		}
		c.missed[idx]++
	}
}

func (c *Controller) finish() {
	c.reports = make(map[int]fl.Update)
	c.round++
	c.firedAt = c.localSteps[c.cfg.ChiefIndex]
	if c.state == Merging {
		c.state = WaitingForReports
		close(c.merged)
	}
}

func (c *Controller) Reported() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.reports)
}

func (c *Controller) LocalSteps(index int) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.localSteps[index]
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

func (c *Controller) Round() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.round
}

// Missed returns the number of consecutive completed rounds index did not report in.
func (c *Controller) Missed(index int) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.missed[index]
}

func (c *Controller) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.cfg
}
