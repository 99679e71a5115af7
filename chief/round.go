package chief

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	pkgerrors "github.com/absmach/fedsync/pkg/errors"
	"github.com/absmach/fedsync/pkg/fl"
)

// keptRounds bounds how many resolved rounds stay available to reporters
// that joined them just before they resolved.
const keptRounds = 4

type round struct {
	n        uint64
	arrived  chan struct{}
	done     chan struct{}
	once     sync.Once
	snapshot fl.Snapshot
	err      error
}

func newRound(n uint64) *round {
	return &round{
		n:       n,
		arrived: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

func (rd *round) notify() {
	select {
	case rd.arrived <- struct{}{}:
	default:
	}
}

func (rd *round) resolve(snap fl.Snapshot, err error) bool {
	resolved := false
	rd.once.Do(func() {
		rd.snapshot, rd.err = snap, err
		close(rd.done)
		resolved = true
	})

	return resolved
}

// round returns the round n, starting its runner on first use. The first
// report of a round arms its grace timer.
func (svc *service) round(n uint64) (*round, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	if rd, ok := svc.rounds[n]; ok {
		return rd, nil
	}
	select {
	case <-svc.stop:
		return nil, errShuttingDown
	default:
	}

	rd := newRound(n)
	svc.rounds[n] = rd
	for k := range svc.rounds {
		if k+keptRounds < n {
			delete(svc.rounds, k)
		}
	}
	go svc.run(rd)

	return rd, nil
}

// intervalReached starts the merge attempt of the current round when the
// chief's local step count hit an interval boundary. The attempt still needs
// quorum before its grace deadline.
func (svc *service) intervalReached() {
	n, ok := svc.ctrl.Triggered()
	if !ok {
		return
	}
	rd, err := svc.round(n)
	if err != nil {
		return
	}
	rd.notify()
}

func (svc *service) run(rd *round) {
	timer := time.NewTimer(svc.cfg.MergeGrace)
	defer timer.Stop()

	for {
		if svc.ctrl.QuorumReached() {
			svc.merge(rd)

			return
		}
		select {
		case <-rd.arrived:
		case <-timer.C:
			svc.expire(rd)

			return
		case <-svc.stop:
			svc.ctrl.Abort()
			rd.resolve(fl.Snapshot{}, errShuttingDown)

			return
		}
	}
}

func (svc *service) merge(rd *round) {
	n, reports, err := svc.ctrl.BeginMerge()
	if err != nil {
		rd.resolve(fl.Snapshot{}, err)

		return
	}

	snap, err := svc.engine.Merge(reports)
	if err != nil {
		svc.ctrl.Abort()
		prev, _ := svc.engine.Snapshot()
		rd.resolve(prev, err)
		svc.logger.Warn("merge aborted, keeping previous global parameters",
			slog.Uint64("round", n),
			slog.Int("reports", len(reports)),
			slog.Any("error", err),
		)
		svc.publish(rd.n, prev.Step, reports, OutcomeFailed)

		return
	}
	svc.ctrl.EndMerge()
	rd.resolve(snap, nil)

	svc.logger.Info("round merged",
		slog.Uint64("round", n),
		slog.Uint64("global_step", snap.Step),
		slog.Int("reports", len(reports)),
	)
	svc.publish(rd.n, snap.Step, reports, OutcomeMerged)

	if svc.ckpts != nil && svc.ckpts.Due(snap.Step) {
		if _, err := svc.ckpts.Save(context.Background(), snap.Step, snap.Params); err != nil {
			svc.logger.Error("checkpoint failed", slog.Uint64("global_step", snap.Step), slog.Any("error", err))
			svc.fatal(err)
		}
	}
}

// expire handles the grace deadline: a round that still lacks quorum is
// aborted once and its reporters keep the previous global parameters.
func (svc *service) expire(rd *round) {
	if svc.ctrl.QuorumReached() {
		svc.merge(rd)

		return
	}

	reported := svc.ctrl.Reported()
	quorum := svc.ctrl.Config().ReplicasToAggregate
	svc.ctrl.Abort()
	prev, _ := svc.engine.Snapshot()
	err := fmt.Errorf("%w: round %d got %d of %d reports", pkgerrors.ErrQuorumTimeout, rd.n, reported, quorum)
	rd.resolve(prev, err)

	svc.logger.Warn("round timed out, keeping previous global parameters",
		slog.Uint64("round", rd.n),
		slog.Uint64("global_step", prev.Step),
		slog.Int("reports", reported),
		slog.Int("replicas_to_aggregate", quorum),
	)
	svc.publish(rd.n, prev.Step, nil, OutcomeTimeout)
}

func (svc *service) publish(n, step uint64, reports map[int]fl.Update, outcome Outcome) {
	reporters := make([]int, 0, len(reports))
	for idx := range reports {
		reporters = append(reporters, idx)
	}
	sort.Ints(reporters)

	notice := RoundNotice{
		RunID:      svc.coord.RunID(),
		Round:      n,
		GlobalStep: step,
		Reporters:  reporters,
		Outcome:    outcome,
		ResolvedAt: time.Now(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := svc.notifier.RoundResolved(ctx, notice); err != nil {
			svc.logger.Warn("failed to publish round notice", slog.Uint64("round", n), slog.Any("error", err))
		}
	}()
}
