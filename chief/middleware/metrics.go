package middleware

import (
	"context"
	"time"

	"github.com/absmach/fedsync/chief"
	"github.com/absmach/fedsync/pkg/checkpoint"
	"github.com/absmach/fedsync/pkg/fl"
	"github.com/absmach/fedsync/pkg/roster"
	"github.com/go-kit/kit/metrics"
)

var _ chief.Service = (*metricsMiddleware)(nil)

type metricsMiddleware struct {
	counter metrics.Counter
	latency metrics.Histogram
	svc     chief.Service
}

func Metrics(counter metrics.Counter, latency metrics.Histogram, svc chief.Service) chief.Service {
	return &metricsMiddleware{
		counter: counter,
		latency: latency,
		svc:     svc,
	}
}

func (mm *metricsMiddleware) observe(method string, begin time.Time) {
	mm.counter.With("method", method).Add(1)
	mm.latency.With("method", method).Observe(time.Since(begin).Seconds())
}

func (mm *metricsMiddleware) Seed(ctx context.Context, params fl.ParameterSet) (fl.Snapshot, error) {
	defer mm.observe("seed", time.Now())

	return mm.svc.Seed(ctx, params)
}

func (mm *metricsMiddleware) OpenRoster(ctx context.Context, wait time.Duration) error {
	defer mm.observe("open-roster", time.Now())

	return mm.svc.OpenRoster(ctx, wait)
}

func (mm *metricsMiddleware) Register(ctx context.Context, rep roster.Replica) (roster.Ack, error) {
	defer mm.observe("register", time.Now())

	return mm.svc.Register(ctx, rep)
}

func (mm *metricsMiddleware) WaitRoster(ctx context.Context) (roster.Roster, error) {
	defer mm.observe("wait-roster", time.Now())

	return mm.svc.WaitRoster(ctx)
}

func (mm *metricsMiddleware) RecordLocalStep(ctx context.Context, index int) (uint64, error) {
	defer mm.observe("record-local-step", time.Now())

	return mm.svc.RecordLocalStep(ctx, index)
}

func (mm *metricsMiddleware) Report(ctx context.Context, u fl.Update) (fl.Snapshot, error) {
	defer mm.observe("report", time.Now())

	return mm.svc.Report(ctx, u)
}

func (mm *metricsMiddleware) Global(ctx context.Context) (fl.Snapshot, error) {
	defer mm.observe("global", time.Now())

	return mm.svc.Global(ctx)
}

func (mm *metricsMiddleware) GlobalStep(ctx context.Context) (uint64, error) {
	defer mm.observe("global-step", time.Now())

	return mm.svc.GlobalStep(ctx)
}

func (mm *metricsMiddleware) Checkpoint(ctx context.Context) (checkpoint.Info, error) {
	defer mm.observe("checkpoint", time.Now())

	return mm.svc.Checkpoint(ctx)
}

func (mm *metricsMiddleware) RestoreLatest(ctx context.Context) (checkpoint.Info, error) {
	defer mm.observe("restore-latest", time.Now())

	return mm.svc.RestoreLatest(ctx)
}

func (mm *metricsMiddleware) Status(ctx context.Context) (chief.Status, error) {
	defer mm.observe("status", time.Now())

	return mm.svc.Status(ctx)
}

func (mm *metricsMiddleware) Shutdown(ctx context.Context) error {
	defer mm.observe("shutdown", time.Now())

	return mm.svc.Shutdown(ctx)
}
