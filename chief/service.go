package chief

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/absmach/fedsync/pkg/checkpoint"
	"github.com/absmach/fedsync/pkg/cluster"
	"github.com/absmach/fedsync/pkg/controller"
	pkgerrors "github.com/absmach/fedsync/pkg/errors"
	"github.com/absmach/fedsync/pkg/fl"
	"github.com/absmach/fedsync/pkg/roster"
)

const defMergeGrace = 30 * time.Second

var errShuttingDown = errors.New("chief is shutting down")

type Config struct {
	NumWorkers    int
	IntervalSteps int
	// ReplicasToAggregate of zero uses the size of the closed roster.
	ReplicasToAggregate int
	MergeGrace          time.Duration
	// StaleAfterRounds marks a replica stale after it missed that many
	// consecutive merged rounds. Zero disables the policy.
	StaleAfterRounds int
	Aggregation      string
	RunID            string
}

type service struct {
	cfg      Config
	coord    *roster.Coordinator
	ctrl     *controller.Controller
	engine   *fl.Engine
	ckpts    *checkpoint.Manager
	notifier Notifier
	logger   *slog.Logger
	fatal    func(error)

	// quorumFromRoster is set when the quorum follows the closed roster size.
	quorumFromRoster bool

	mu       sync.Mutex
	rounds   map[uint64]*round
	stop     chan struct{}
	stopOnce sync.Once
}

// NewService builds the chief. ckpts may be nil when checkpointing is
// disabled. fatal receives errors the chief cannot recover from, such as a
// checkpoint write that exhausted its retries.
func NewService(cfg Config, ckpts *checkpoint.Manager, notifier Notifier, fatal func(error), logger *slog.Logger) (Service, error) {
	if cfg.MergeGrace <= 0 {
		cfg.MergeGrace = defMergeGrace
	}
	quorumFromRoster := cfg.ReplicasToAggregate == 0
	if quorumFromRoster {
		cfg.ReplicasToAggregate = cfg.NumWorkers
	}
	if cfg.ReplicasToAggregate > cfg.NumWorkers {
		return nil, fmt.Errorf("%w: replicas to aggregate %d exceeds worker count %d", pkgerrors.ErrConfiguration, cfg.ReplicasToAggregate, cfg.NumWorkers)
	}
	if cfg.StaleAfterRounds < 0 {
		return nil, fmt.Errorf("%w: stale after rounds must not be negative", pkgerrors.ErrConfiguration)
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if fatal == nil {
		fatal = func(error) {}
	}
	if logger == nil {
		logger = slog.Default()
	}

	agg, err := fl.NewAggregator(cfg.Aggregation)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", pkgerrors.ErrConfiguration, err)
	}
	ctrl, err := controller.New(controller.Config{
		IntervalSteps:       cfg.IntervalSteps,
		ReplicasToAggregate: cfg.ReplicasToAggregate,
		ChiefIndex:          cluster.ChiefIndex,
	})
	if err != nil {
		return nil, err
	}
	svc := &service{
		cfg:              cfg,
		ctrl:             ctrl,
		engine:           fl.NewEngine(agg, cfg.ReplicasToAggregate),
		ckpts:            ckpts,
		notifier:         notifier,
		logger:           logger,
		fatal:            fatal,
		quorumFromRoster: quorumFromRoster,
		rounds:           make(map[uint64]*round),
		stop:             make(chan struct{}),
	}
	svc.coord, err = roster.New(cfg.NumWorkers,
		roster.WithRunID(cfg.RunID),
		roster.WithBroadcaster(notifier),
		roster.WithCloseHook(svc.rosterClosed),
		roster.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	return svc, nil
}

func (svc *service) rosterClosed(r roster.Roster) {
	svc.ctrl.SetMembers(r.Indices())

	quorum := svc.ctrl.Config().ReplicasToAggregate
	if svc.quorumFromRoster && r.NumWorkers > 0 && r.NumWorkers != quorum {
		if err := svc.ctrl.SetQuorum(r.NumWorkers); err != nil {
			svc.logger.Error("failed to resize merge quorum", slog.Any("error", err))

			return
		}
		svc.engine.SetMinReports(r.NumWorkers)
		svc.logger.Info("merge quorum follows the closed roster",
			slog.Int("num_workers", r.NumWorkers),
			slog.Int("expected", svc.cfg.NumWorkers),
		)

		return
	}
	if r.NumWorkers < quorum {
		svc.logger.Warn("roster is smaller than the merge quorum, every round will time out",
			slog.Int("num_workers", r.NumWorkers),
			slog.Int("replicas_to_aggregate", quorum),
		)
	}
}

func (svc *service) Seed(_ context.Context, params fl.ParameterSet) (fl.Snapshot, error) {
	if err := params.Validate(); err != nil {
		return fl.Snapshot{}, fmt.Errorf("%w: %w", pkgerrors.ErrInvalidData, err)
	}

	return svc.engine.Seed(params)
}

func (svc *service) OpenRoster(_ context.Context, wait time.Duration) error {
	return svc.coord.Open(wait)
}

func (svc *service) Register(ctx context.Context, rep roster.Replica) (roster.Ack, error) {
	return svc.coord.Register(ctx, rep)
}

func (svc *service) WaitRoster(ctx context.Context) (roster.Roster, error) {
	return svc.coord.Wait(ctx)
}

// member checks that index belongs to the closed roster of this run.
func (svc *service) member(index int, runID string) error {
	r, closed := svc.coord.Roster()
	if !closed {
		return fmt.Errorf("%w: roster has not closed yet", pkgerrors.ErrRosterNotOpen)
	}
	if runID != "" && runID != r.RunID {
		return fmt.Errorf("%w: run %s is not the current run", pkgerrors.ErrRosterClosed, runID)
	}
	if !r.Contains(index) {
		return fmt.Errorf("%w: replica %d is not part of run %s", pkgerrors.ErrRosterClosed, index, r.RunID)
	}

	return nil
}

func (svc *service) RecordLocalStep(ctx context.Context, index int) (uint64, error) {
	if err := svc.member(index, ""); err != nil {
		return 0, err
	}
	n, err := svc.ctrl.RecordLocalStep(ctx, index)
	if err != nil {
		return 0, err
	}
	if index == cluster.ChiefIndex {
		svc.intervalReached()
	}

	return n, nil
}

func (svc *service) Report(ctx context.Context, u fl.Update) (fl.Snapshot, error) {
	if err := svc.member(u.ReplicaIndex, u.RunID); err != nil {
		return fl.Snapshot{}, err
	}
	if err := u.Delta.Validate(); err != nil {
		return fl.Snapshot{}, fmt.Errorf("%w: %w", pkgerrors.ErrInvalidData, err)
	}
	if !svc.engine.Seeded() {
		return fl.Snapshot{}, pkgerrors.ErrNotSeeded
	}
	u.ReceivedAt = time.Now()

	n, err := svc.ctrl.Report(ctx, u)
	if err != nil {
		return fl.Snapshot{}, err
	}
	rd, err := svc.round(n)
	if err != nil {
		return fl.Snapshot{}, err
	}
	rd.notify()

	select {
	case <-rd.done:
		return rd.snapshot, rd.err
	case <-ctx.Done():
		return fl.Snapshot{}, ctx.Err()
	}
}

func (svc *service) Global(_ context.Context) (fl.Snapshot, error) {
	return svc.engine.Snapshot()
}

func (svc *service) GlobalStep(_ context.Context) (uint64, error) {
	return svc.engine.Step(), nil
}

func (svc *service) Checkpoint(ctx context.Context) (checkpoint.Info, error) {
	if svc.ckpts == nil {
		return checkpoint.Info{}, fmt.Errorf("%w: checkpointing is disabled", pkgerrors.ErrConfiguration)
	}
	snap, err := svc.engine.Snapshot()
	if err != nil {
		return checkpoint.Info{}, err
	}
	info, err := svc.ckpts.Save(ctx, snap.Step, snap.Params)
	if errors.Is(err, pkgerrors.ErrCheckpointWrite) {
		svc.fatal(err)
	}

	return info, err
}

func (svc *service) RestoreLatest(ctx context.Context) (checkpoint.Info, error) {
	if svc.ckpts == nil {
		return checkpoint.Info{}, fmt.Errorf("%w: checkpointing is disabled", pkgerrors.ErrConfiguration)
	}
	c, err := svc.ckpts.RestoreLatest(ctx)
	if err != nil {
		return checkpoint.Info{}, err
	}
	if err := svc.engine.Restore(c.Step, c.Params); err != nil {
		return checkpoint.Info{}, fmt.Errorf("%w: %w", pkgerrors.ErrInvalidData, err)
	}

	return checkpoint.Info{Step: c.Step, CreatedAt: c.CreatedAt}, nil
}

func (svc *service) Status(_ context.Context) (Status, error) {
	r, closed := svc.coord.Roster()
	st := Status{
		RunID:        svc.coord.RunID(),
		RosterOpen:   svc.coord.IsOpen(),
		RosterClosed: closed,
		Expected:     svc.coord.Expected(),
		Registered:   svc.coord.Registered(),
		NumWorkers:   r.NumWorkers,
		State:        svc.ctrl.State(),
		Round:        svc.ctrl.Round(),
		GlobalStep:   svc.engine.Step(),
		Reported:     svc.ctrl.Reported(),
	}
	if svc.ckpts != nil {
		st.LastCheckpoint = svc.ckpts.Last()
	}
	if svc.cfg.StaleAfterRounds > 0 {
		for _, idx := range r.Indices() {
			if svc.ctrl.Missed(idx) >= svc.cfg.StaleAfterRounds {
				st.Stale = append(st.Stale, idx)
			}
		}
	}

	return st, nil
}

// Shutdown releases blocked reporters, writes a final checkpoint when the
// global state moved past the last one and closes the checkpoint store.
func (svc *service) Shutdown(ctx context.Context) error {
	svc.stopOnce.Do(func() { close(svc.stop) })
	svc.coord.Close()

	if svc.ckpts == nil {
		return nil
	}

	var errs []error
	step := svc.engine.Step()
	if svc.engine.Seeded() && (step > svc.ckpts.Last().Step || svc.ckpts.Last().CreatedAt.IsZero()) {
		if _, err := svc.Checkpoint(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := svc.ckpts.Close(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
