package roster

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	pkgerrors "github.com/absmach/fedsync/pkg/errors"
	"github.com/google/uuid"
)

const broadcastTimeout = 10 * time.Second

type Replica struct {
	Index        int       `json:"index"`
	Address      string    `json:"address"`
	Name         string    `json:"name,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Roster is the frozen set of replicas. NumWorkers is the authoritative
// divisor for sharding and averaging.
type Roster struct {
	RunID      string    `json:"run_id"`
	Replicas   []Replica `json:"replicas"`
	NumWorkers int       `json:"num_workers"`
	ClosedAt   time.Time `json:"closed_at"`
}

// Rank returns the dense position of index among the roster members.
func (r Roster) Rank(index int) (int, bool) {
	for i, rep := range r.Replicas {
		if rep.Index == index {
			return i, true
		}
	}

	return 0, false
}

func (r Roster) Contains(index int) bool {
	_, ok := r.Rank(index)

	return ok
}

func (r Roster) Indices() []int {
	ret := make([]int, len(r.Replicas))
	for i, rep := range r.Replicas {
		ret[i] = rep.Index
	}

	return ret
}

type Ack struct {
	Index    int    `json:"index"`
	RunID    string `json:"run_id"`
	Expected int    `json:"expected"`
}

// Broadcaster delivers the closed roster to remote replicas.
type Broadcaster interface {
	Broadcast(ctx context.Context, r Roster) error
}

type BroadcasterFunc func(ctx context.Context, r Roster) error

func (f BroadcasterFunc) Broadcast(ctx context.Context, r Roster) error {
	return f(ctx, r)
}

type status uint8

const (
	pending status = iota
	open
	closed
)

type Option func(*Coordinator)

func WithBroadcaster(b Broadcaster) Option {
	return func(c *Coordinator) {
		c.broadcasters = append(c.broadcasters, b)
	}
}

// WithCloseHook registers f to run once when the roster closes, before any
// waiter is released. f must not call back into the coordinator.
func WithCloseHook(f func(Roster)) Option {
	return func(c *Coordinator) {
		c.hooks = append(c.hooks, f)
	}
}

func WithRunID(id string) Option {
	return func(c *Coordinator) {
		c.runID = id
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// Coordinator accepts registrations for a bounded window and then freezes
// the roster. It closes on timer expiry or once the expected count registered,
// whichever comes first.
type Coordinator struct {
	mu           sync.Mutex
	expected     int
	runID        string
	status       status
	replicas     map[int]Replica
	timer        *time.Timer
	done         chan struct{}
	roster       Roster
	broadcasters []Broadcaster
	hooks        []func(Roster)
	logger       *slog.Logger
}

func New(expected int, opts ...Option) (*Coordinator, error) {
	if expected < 1 {
		return nil, fmt.Errorf("%w: expected replica count must be positive", pkgerrors.ErrConfiguration)
	}

	c := &Coordinator{
		expected: expected,
		replicas: make(map[int]Replica),
		done:     make(chan struct{}),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.runID == "" {
		c.runID = uuid.NewString()
	}

	return c, nil
}

// Open starts the join window. Opening an already open window is a no-op.
func (c *Coordinator) Open(wait time.Duration) error {
	if wait <= 0 {
		return fmt.Errorf("%w: wait duration must be positive", pkgerrors.ErrConfiguration)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.status {
	case open:
		return nil
	case closed:
		return pkgerrors.ErrRosterClosed
	}

	c.status = open
	c.timer = time.AfterFunc(wait, func() {
		if r, ok := c.close(); ok {
			c.logger.Info("join window expired", slog.Int("num_workers", r.NumWorkers), slog.Int("expected", c.expected))
		}
	})
	c.logger.Info("join window opened", slog.String("run_id", c.runID), slog.String("wait", wait.String()), slog.Int("expected", c.expected))

	return nil
}

func (c *Coordinator) Register(ctx context.Context, rep Replica) (Ack, error) {
	if err := ctx.Err(); err != nil {
		return Ack{}, err
	}
	if rep.Index < 0 || rep.Index >= c.expected {
		return Ack{}, fmt.Errorf("%w: index %d outside 0..%d", pkgerrors.ErrInvalidData, rep.Index, c.expected-1)
	}

	c.mu.Lock()
	switch c.status {
	case pending:
		c.mu.Unlock()

		return Ack{}, pkgerrors.ErrRosterNotOpen
	case closed:
		c.mu.Unlock()

		return Ack{}, pkgerrors.ErrRosterClosed
	}

	if existing, ok := c.replicas[rep.Index]; ok {
		c.mu.Unlock()
		if existing.Address != rep.Address {
			return Ack{}, fmt.Errorf("%w: index %d already registered from %s", pkgerrors.ErrEntityExists, rep.Index, existing.Address)
		}

		return c.ack(rep.Index), nil
	}

	if rep.RegisteredAt.IsZero() {
		rep.RegisteredAt = time.Now()
	}
	c.replicas[rep.Index] = rep
	full := len(c.replicas) == c.expected
	c.mu.Unlock()

	if full {
		c.close()
	}

	return c.ack(rep.Index), nil
}

func (c *Coordinator) ack(index int) Ack {
	return Ack{Index: index, RunID: c.runID, Expected: c.expected}
}

// Close freezes the roster. It is safe to call more than once.
func (c *Coordinator) Close() Roster {
	r, _ := c.close()

	return r
}

func (c *Coordinator) close() (Roster, bool) {
	c.mu.Lock()
	if c.status == closed {
		r := c.roster
		c.mu.Unlock()

		return r, false
	}
	if c.timer != nil {
		c.timer.Stop()
	}

	replicas := make([]Replica, 0, len(c.replicas))
	for _, rep := range c.replicas {
		replicas = append(replicas, rep)
	}
	sort.Slice(replicas, func(i, j int) bool { return replicas[i].Index < replicas[j].Index })

	c.roster = Roster{
		RunID:      c.runID,
		Replicas:   replicas,
		NumWorkers: len(replicas),
		ClosedAt:   time.Now(),
	}
	c.status = closed
	r := c.roster
	for _, f := range c.hooks {
		f(r)
	}
	close(c.done)
	c.mu.Unlock()

	c.logger.Info("roster closed", slog.String("run_id", r.RunID), slog.Int("num_workers", r.NumWorkers), slog.Any("indices", r.Indices()))
	go c.broadcast(r)

	return r, true
}

func (c *Coordinator) broadcast(r Roster) {
	ctx, cancel := context.WithTimeout(context.Background(), broadcastTimeout)
	defer cancel()

	for _, b := range c.broadcasters {
		if err := b.Broadcast(ctx, r); err != nil {
			c.logger.Warn("failed to broadcast roster", slog.String("run_id", r.RunID), slog.Any("error", err))
		}
	}
}

// Wait blocks until the roster is closed or ctx is done.
func (c *Coordinator) Wait(ctx context.Context) (Roster, error) {
	select {
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()

		return c.roster, nil
	case <-ctx.Done():
		return Roster{}, ctx.Err()
	}
}

func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

func (c *Coordinator) Roster() (Roster, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.roster, c.status == closed
}

func (c *Coordinator) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.status == open
}

func (c *Coordinator) Registered() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.replicas)
}

func (c *Coordinator) Expected() int {
	return c.expected
}

func (c *Coordinator) RunID() string {
	return c.runID
}
