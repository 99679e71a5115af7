package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/absmach/fedsync/chief"
	"github.com/absmach/fedsync/pkg/checkpoint"
	"github.com/absmach/fedsync/pkg/fl"
	"github.com/absmach/fedsync/pkg/roster"
)

var _ chief.Service = (*loggingMiddleware)(nil)

type loggingMiddleware struct {
	logger *slog.Logger
	svc    chief.Service
}

func Logging(logger *slog.Logger, svc chief.Service) chief.Service {
	return &loggingMiddleware{
		logger: logger,
		svc:    svc,
	}
}

func (lm *loggingMiddleware) Seed(ctx context.Context, params fl.ParameterSet) (snap fl.Snapshot, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("params",
				slog.Any("names", params.Names()),
			),
			slog.Uint64("global_step", snap.Step),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Seed global parameters failed", args...)

			return
		}
		lm.logger.Info("Seed global parameters completed successfully", args...)
	}(time.Now())

	return lm.svc.Seed(ctx, params)
}

func (lm *loggingMiddleware) OpenRoster(ctx context.Context, wait time.Duration) (err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.String("wait", wait.String()),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Open roster failed", args...)

			return
		}
		lm.logger.Info("Open roster completed successfully", args...)
	}(time.Now())

	return lm.svc.OpenRoster(ctx, wait)
}

func (lm *loggingMiddleware) Register(ctx context.Context, rep roster.Replica) (ack roster.Ack, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("replica",
				slog.Int("index", rep.Index),
				slog.String("address", rep.Address),
				slog.String("name", rep.Name),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Register replica failed", args...)

			return
		}
		lm.logger.Info("Register replica completed successfully", args...)
	}(time.Now())

	return lm.svc.Register(ctx, rep)
}

func (lm *loggingMiddleware) WaitRoster(ctx context.Context) (r roster.Roster, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("roster",
				slog.String("run_id", r.RunID),
				slog.Int("num_workers", r.NumWorkers),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Wait roster failed", args...)

			return
		}
		lm.logger.Info("Wait roster completed successfully", args...)
	}(time.Now())

	return lm.svc.WaitRoster(ctx)
}

// RecordLocalStep is called on every local step, so success is logged at debug level.
func (lm *loggingMiddleware) RecordLocalStep(ctx context.Context, index int) (n uint64, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Int("replica", index),
			slog.Uint64("local_step", n),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Record local step failed", args...)

			return
		}
		lm.logger.Debug("Record local step completed successfully", args...)
	}(time.Now())

	return lm.svc.RecordLocalStep(ctx, index)
}

func (lm *loggingMiddleware) Report(ctx context.Context, u fl.Update) (snap fl.Snapshot, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("update",
				slog.Int("replica", u.ReplicaIndex),
				slog.Uint64("local_step", u.LocalStep),
				slog.Uint64("base_step", u.BaseStep),
				slog.Int("num_samples", u.NumSamples),
			),
			slog.Uint64("global_step", snap.Step),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Report update failed", args...)

			return
		}
		lm.logger.Info("Report update completed successfully", args...)
	}(time.Now())

	return lm.svc.Report(ctx, u)
}

func (lm *loggingMiddleware) Global(ctx context.Context) (snap fl.Snapshot, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Uint64("global_step", snap.Step),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Get global parameters failed", args...)

			return
		}
		lm.logger.Debug("Get global parameters completed successfully", args...)
	}(time.Now())

	return lm.svc.Global(ctx)
}

func (lm *loggingMiddleware) GlobalStep(ctx context.Context) (step uint64, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Uint64("global_step", step),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Get global step failed", args...)

			return
		}
		lm.logger.Debug("Get global step completed successfully", args...)
	}(time.Now())

	return lm.svc.GlobalStep(ctx)
}

func (lm *loggingMiddleware) Checkpoint(ctx context.Context) (info checkpoint.Info, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("checkpoint",
				slog.Uint64("step", info.Step),
				slog.String("location", info.Location),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Checkpoint failed", args...)

			return
		}
		lm.logger.Info("Checkpoint completed successfully", args...)
	}(time.Now())

	return lm.svc.Checkpoint(ctx)
}

func (lm *loggingMiddleware) RestoreLatest(ctx context.Context) (info checkpoint.Info, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Uint64("step", info.Step),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Restore latest checkpoint failed", args...)

			return
		}
		lm.logger.Info("Restore latest checkpoint completed successfully", args...)
	}(time.Now())

	return lm.svc.RestoreLatest(ctx)
}

func (lm *loggingMiddleware) Status(ctx context.Context) (st chief.Status, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Get status failed", args...)

			return
		}
		lm.logger.Debug("Get status completed successfully", args...)
	}(time.Now())

	return lm.svc.Status(ctx)
}

func (lm *loggingMiddleware) Shutdown(ctx context.Context) (err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Shutdown failed", args...)

			return
		}
		lm.logger.Info("Shutdown completed successfully", args...)
	}(time.Now())

	return lm.svc.Shutdown(ctx)
}
