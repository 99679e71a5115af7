// Package session drives one replica through a training run: join the
// roster, keep the local parameters in step with the chief's global ones,
// report deltas and leave cleanly.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/absmach/fedsync/pkg/checkpoint"
	"github.com/absmach/fedsync/pkg/cluster"
	pkgerrors "github.com/absmach/fedsync/pkg/errors"
	"github.com/absmach/fedsync/pkg/fl"
	"github.com/absmach/fedsync/pkg/roster"
	"github.com/cenkalti/backoff/v4"
)

var errNotStarted = errors.New("session has not started")

const (
	defJoinTimeout  = 5 * time.Minute
	defJoinInterval = 500 * time.Millisecond
)

// Chief is the view a replica has of the chief, local or remote.
type Chief interface {
	Register(ctx context.Context, rep roster.Replica) (roster.Ack, error)
	WaitRoster(ctx context.Context) (roster.Roster, error)
	RecordLocalStep(ctx context.Context, index int) (uint64, error)
	Report(ctx context.Context, u fl.Update) (fl.Snapshot, error)
	Global(ctx context.Context) (fl.Snapshot, error)
	GlobalStep(ctx context.Context) (uint64, error)
}

// Coordinator is the chief as seen by the replica that hosts it.
type Coordinator interface {
	Chief
	Seed(ctx context.Context, params fl.ParameterSet) (fl.Snapshot, error)
	OpenRoster(ctx context.Context, wait time.Duration) error
	Checkpoint(ctx context.Context) (checkpoint.Info, error)
}

type Config struct {
	Identity      cluster.Identity
	IntervalSteps int
	// WaitDuration is how long the chief keeps the join window open.
	WaitDuration time.Duration
	// JoinTimeout bounds how long a follower keeps retrying registration
	// while the chief is unreachable or its window is not open yet.
	JoinTimeout  time.Duration
	JoinInterval time.Duration
}

// Info is what a replica knows about the run once the roster closed.
type Info struct {
	Index      int           `json:"index"`
	Rank       int           `json:"rank"`
	NumWorkers int           `json:"num_workers"`
	RunID      string        `json:"run_id"`
	Role       cluster.Role  `json:"role"`
	GlobalStep uint64        `json:"global_step"`
	Roster     roster.Roster `json:"roster"`
}

type Session struct {
	cfg    Config
	chief  Chief
	coord  Coordinator
	logger *slog.Logger

	mu        sync.Mutex
	started   bool
	info      Info
	local     fl.ParameterSet
	base      fl.Snapshot
	localStep uint64
	pending   int
	samples   int
}

// New binds a session to the chief. The chief replica must be given a
// Coordinator.
func New(cfg Config, chief Chief, logger *slog.Logger) (*Session, error) {
	if chief == nil {
		return nil, fmt.Errorf("%w: missing chief", pkgerrors.ErrConfiguration)
	}
	if cfg.IntervalSteps < 1 {
		cfg.IntervalSteps = 1
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = defJoinTimeout
	}
	if cfg.JoinInterval <= 0 {
		cfg.JoinInterval = defJoinInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Session{
		cfg:    cfg,
		chief:  chief,
		logger: logger.With(slog.Int("replica", cfg.Identity.Index)),
	}
	if cfg.Identity.Role == cluster.RoleChief {
		coord, ok := chief.(Coordinator)
		if !ok {
			return nil, fmt.Errorf("%w: the chief replica needs a coordinator", pkgerrors.ErrConfiguration)
		}
		if cfg.WaitDuration <= 0 {
			return nil, fmt.Errorf("%w: wait duration must be positive", pkgerrors.ErrConfiguration)
		}
		s.coord = coord
	}

	return s, nil
}

// BeginSession joins the run and blocks until the roster closed. On the
// chief, initial seeds the global parameters unless a restored state exists.
// Every replica starts from the chief's global parameters.
func (s *Session) BeginSession(ctx context.Context, initial fl.ParameterSet) (Info, error) {
	if s.coord != nil {
		snap, err := s.coord.Seed(ctx, initial)
		if err != nil {
			return Info{}, err
		}
		if snap.Step > 0 {
			s.logger.Info("resuming from restored global state", slog.Uint64("global_step", snap.Step))
		}
		if err := s.coord.OpenRoster(ctx, s.cfg.WaitDuration); err != nil {
			return Info{}, err
		}
	}

	ack, err := s.register(ctx)
	if err != nil {
		return Info{}, err
	}

	r, err := s.chief.WaitRoster(ctx)
	if err != nil {
		return Info{}, err
	}
	rank, ok := r.Rank(s.cfg.Identity.Index)
	if !ok || r.RunID != ack.RunID {
		return Info{}, fmt.Errorf("%w: replica %d missed run %s", pkgerrors.ErrRosterClosed, s.cfg.Identity.Index, r.RunID)
	}

	snap, err := s.chief.Global(ctx)
	if err != nil {
		return Info{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.info = Info{
		Index:      s.cfg.Identity.Index,
		Rank:       rank,
		NumWorkers: r.NumWorkers,
		RunID:      r.RunID,
		Role:       s.cfg.Identity.Role,
		GlobalStep: snap.Step,
		Roster:     r,
	}
	s.adopt(snap)
	s.started = true
	s.logger.Info("session started",
		slog.String("run_id", r.RunID),
		slog.Int("rank", rank),
		slog.Int("num_workers", r.NumWorkers),
		slog.Uint64("global_step", snap.Step),
	)

	return s.info, nil
}

func (s *Session) register(ctx context.Context) (roster.Ack, error) {
	rep := roster.Replica{
		Index:   s.cfg.Identity.Index,
		Address: s.cfg.Identity.Address,
		Name:    s.cfg.Identity.Name,
	}
	if s.coord != nil {
		return s.chief.Register(ctx, rep)
	}

	var ack roster.Ack
	op := func() error {
		var err error
		ack, err = s.chief.Register(ctx, rep)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, pkgerrors.ErrRosterClosed),
			errors.Is(err, pkgerrors.ErrEntityExists),
			errors.Is(err, pkgerrors.ErrInvalidData),
			errors.Is(err, pkgerrors.ErrConfiguration):
			return backoff.Permanent(err)
		default:
			return err
		}
	}
	notify := func(err error, wait time.Duration) {
		s.logger.Info("chief not ready for registration, retrying", slog.String("wait", wait.String()), slog.Any("error", err))
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.JoinInterval
	b.MaxElapsedTime = s.cfg.JoinTimeout
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return roster.Ack{}, err
	}

	return ack, nil
}

// BeforeStep pulls the global parameters when a merge completed since the
// local copy was taken. Local progress not reported yet is carried over.
func (s *Session) BeforeStep(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return false, errNotStarted
	}

	step, err := s.chief.GlobalStep(ctx)
	if err != nil {
		return false, err
	}
	if step <= s.base.Step {
		return false, nil
	}

	snap, err := s.chief.Global(ctx)
	if err != nil {
		return false, err
	}
	if snap.Step <= s.base.Step {
		return false, nil
	}

	pendingDelta, err := s.local.Sub(s.base.Params)
	if err != nil {
		return false, err
	}
	prev := s.base.Step
	s.adopt(snap)
	if s.pending > 0 {
		if s.local, err = s.local.Add(pendingDelta); err != nil {
			return false, err
		}
	}
	s.logger.Debug("pulled global parameters", slog.Uint64("from_step", prev), slog.Uint64("global_step", snap.Step))

	return true, nil
}

// AfterStep applies delta to the local parameters and reports the
// accumulated delta once IntervalSteps local steps ran since the last
// report. It returns true when the report was merged.
func (s *Session) AfterStep(ctx context.Context, delta fl.ParameterSet, samples int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return false, errNotStarted
	}

	local, err := s.local.Add(delta)
	if err != nil {
		return false, fmt.Errorf("%w: %w", pkgerrors.ErrInvalidData, err)
	}
	n, err := s.chief.RecordLocalStep(ctx, s.cfg.Identity.Index)
	if err != nil {
		return false, err
	}
	s.local = local
	s.localStep = n
	s.pending++
	s.samples += samples

	if s.pending < s.cfg.IntervalSteps {
		return false, nil
	}

	return s.report(ctx)
}

func (s *Session) report(ctx context.Context) (bool, error) {
	delta, err := s.local.Sub(s.base.Params)
	if err != nil {
		return false, err
	}

	u := fl.Update{
		ReplicaIndex: s.cfg.Identity.Index,
		RunID:        s.info.RunID,
		LocalStep:    s.localStep,
		BaseStep:     s.base.Step,
		NumSamples:   s.samples,
		Delta:        delta,
	}
	snap, err := s.chief.Report(ctx, u)
	switch {
	case err == nil:
		s.adopt(snap)

		return true, nil
	case errors.Is(err, pkgerrors.ErrQuorumTimeout):
		s.logger.Warn("round timed out, keeping previous global parameters",
			slog.Uint64("base_step", u.BaseStep),
			slog.Uint64("local_step", u.LocalStep),
		)
		prev, gerr := s.chief.Global(ctx)
		if gerr != nil {
			return false, errors.Join(err, gerr)
		}
		s.adopt(prev)

		return false, nil
	default:
		return false, err
	}
}

// adopt replaces the local parameters with snap. Callers hold s.mu.
func (s *Session) adopt(snap fl.Snapshot) {
	s.base = fl.Snapshot{Step: snap.Step, Params: snap.Params.Clone()}
	s.local = snap.Params.Clone()
	s.info.GlobalStep = snap.Step
	s.pending = 0
	s.samples = 0
}

// EndSession flushes local steps not reported yet and, on the chief,
// persists a final checkpoint. A closable chief client is closed. It is safe
// to call when BeginSession failed.
func (s *Session) EndSession(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if s.started && s.pending > 0 {
		if _, err := s.report(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush pending delta: %w", err))
		}
	}

	if s.coord != nil {
		info, err := s.coord.Checkpoint(ctx)
		switch {
		case err == nil:
			s.logger.Info("final checkpoint written", slog.Uint64("step", info.Step))
		case errors.Is(err, pkgerrors.ErrConfiguration), errors.Is(err, pkgerrors.ErrNotSeeded):
			s.logger.Debug("final checkpoint skipped", slog.Any("reason", err))
		default:
			errs = append(errs, err)
		}
	}

	if c, ok := s.chief.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.started = false
	s.logger.Info("session ended", slog.Uint64("global_step", s.base.Step), slog.Uint64("local_step", s.localStep))

	return errors.Join(errs...)
}

func (s *Session) GlobalStep(ctx context.Context) (uint64, error) {
	return s.chief.GlobalStep(ctx)
}

// Restore loads the newest checkpoint in dir into the local parameters
// without contacting the chief, e.g. for evaluation.
func (s *Session) Restore(ctx context.Context, dir string, backend checkpoint.Backend) (fl.Snapshot, error) {
	store, err := checkpoint.Open(dir, backend)
	if err != nil {
		return fl.Snapshot{}, err
	}
	defer store.Close()

	c, err := store.Latest(ctx)
	if err != nil {
		return fl.Snapshot{}, err
	}

	snap := fl.Snapshot{Step: c.Step, Params: c.Params}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.adopt(snap)

	return fl.Snapshot{Step: snap.Step, Params: snap.Params.Clone()}, nil
}

// Local returns a copy of the local parameters.
func (s *Session) Local() fl.ParameterSet {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.local.Clone()
}

func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.info
}
