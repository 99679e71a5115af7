package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/absmach/fedsync/pkg/fl"
)

const defEndTimeout = 30 * time.Second

// StepResult is the outcome of one local optimisation step.
type StepResult struct {
	Delta    fl.ParameterSet
	Samples  int
	Loss     float64
	Accuracy float64
}

// StepFunc runs one local step on a copy of the local parameters. It only
// returns the change it wants applied.
type StepFunc func(ctx context.Context, params fl.ParameterSet, info Info, step uint64) (StepResult, error)

// Trainer runs a StepFunc inside a session.
type Trainer struct {
	Session *Session
	Step    StepFunc
	Initial fl.ParameterSet
	Hooks   Hooks
	Sink    MetricsSink
	// StepsPerEpoch groups local steps for the metrics sink. Zero reports
	// once at the end of the run.
	StepsPerEpoch int
	EndTimeout    time.Duration
	Logger        *slog.Logger
}

// Run executes steps local steps. The session is ended on every exit path,
// including a cancelled ctx.
func (t *Trainer) Run(ctx context.Context, steps int) (err error) {
	hooks := t.Hooks
	if hooks == nil {
		hooks = NopHooks{}
	}
	sink := t.Sink
	if sink == nil {
		sink = nopSink{}
	}
	logger := t.Logger
	if logger == nil {
		logger = slog.Default()
	}
	endTimeout := t.EndTimeout
	if endTimeout <= 0 {
		endTimeout = defEndTimeout
	}

	defer func() {
		endCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), endTimeout)
		defer cancel()

		if endErr := t.Session.EndSession(endCtx); endErr != nil {
			logger.Warn("failed to end session cleanly", slog.Any("error", endErr))
			err = errors.Join(err, endErr)
		}
		hooks.OnSessionEnd(endCtx, err)
	}()

	info, err := t.Session.BeginSession(ctx, t.Initial)
	if err != nil {
		return err
	}
	if err := hooks.OnSessionStart(ctx, info); err != nil {
		return err
	}

	acc := epochAccumulator{index: info.Index}
	for n := uint64(1); n <= uint64(steps); n++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := t.Session.BeforeStep(ctx); err != nil {
			return err
		}
		if err := hooks.BeforeLocalStep(ctx, n); err != nil {
			return err
		}

		res, err := t.Step(ctx, t.Session.Local(), t.Session.Info(), n)
		if err != nil {
			return err
		}
		if _, err := t.Session.AfterStep(ctx, res.Delta, res.Samples); err != nil {
			return err
		}
		if err := hooks.AfterLocalStep(ctx, n, res); err != nil {
			return err
		}

		acc.add(res)
		if t.StepsPerEpoch > 0 && n%uint64(t.StepsPerEpoch) == 0 {
			sink.RecordEpoch(ctx, acc.flush(n, t.Session.Info().GlobalStep))
		}
	}
	if acc.steps > 0 {
		sink.RecordEpoch(ctx, acc.flush(uint64(steps), t.Session.Info().GlobalStep))
	}

	return nil
}
