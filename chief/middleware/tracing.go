package middleware

import (
	"context"
	"time"

	"github.com/absmach/fedsync/chief"
	"github.com/absmach/fedsync/pkg/checkpoint"
	"github.com/absmach/fedsync/pkg/fl"
	"github.com/absmach/fedsync/pkg/roster"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var _ chief.Service = (*tracing)(nil)

type tracing struct {
	tracer trace.Tracer
	svc    chief.Service
}

func Tracing(tracer trace.Tracer, svc chief.Service) chief.Service {
	return &tracing{tracer, svc}
}

func end(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (tm *tracing) Seed(ctx context.Context, params fl.ParameterSet) (snap fl.Snapshot, err error) {
	ctx, span := tm.tracer.Start(ctx, "seed", trace.WithAttributes(
		attribute.StringSlice("params", params.Names()),
	))
	defer func() { end(span, err) }()

	return tm.svc.Seed(ctx, params)
}

func (tm *tracing) OpenRoster(ctx context.Context, wait time.Duration) (err error) {
	ctx, span := tm.tracer.Start(ctx, "open-roster", trace.WithAttributes(
		attribute.String("wait", wait.String()),
	))
	defer func() { end(span, err) }()

	return tm.svc.OpenRoster(ctx, wait)
}

func (tm *tracing) Register(ctx context.Context, rep roster.Replica) (ack roster.Ack, err error) {
	ctx, span := tm.tracer.Start(ctx, "register", trace.WithAttributes(
		attribute.Int("index", rep.Index),
		attribute.String("address", rep.Address),
	))
	defer func() { end(span, err) }()

	return tm.svc.Register(ctx, rep)
}

func (tm *tracing) WaitRoster(ctx context.Context) (r roster.Roster, err error) {
	ctx, span := tm.tracer.Start(ctx, "wait-roster")
	defer func() { end(span, err) }()

	return tm.svc.WaitRoster(ctx)
}

func (tm *tracing) RecordLocalStep(ctx context.Context, index int) (n uint64, err error) {
	ctx, span := tm.tracer.Start(ctx, "record-local-step", trace.WithAttributes(
		attribute.Int("index", index),
	))
	defer func() { end(span, err) }()

	return tm.svc.RecordLocalStep(ctx, index)
}

func (tm *tracing) Report(ctx context.Context, u fl.Update) (snap fl.Snapshot, err error) {
	ctx, span := tm.tracer.Start(ctx, "report", trace.WithAttributes(
		attribute.Int("index", u.ReplicaIndex),
		attribute.Int64("local_step", int64(u.LocalStep)),
		attribute.Int64("base_step", int64(u.BaseStep)),
	))
	defer func() { end(span, err) }()

	return tm.svc.Report(ctx, u)
}

func (tm *tracing) Global(ctx context.Context) (snap fl.Snapshot, err error) {
	ctx, span := tm.tracer.Start(ctx, "global")
	defer func() { end(span, err) }()

	return tm.svc.Global(ctx)
}

func (tm *tracing) GlobalStep(ctx context.Context) (step uint64, err error) {
	ctx, span := tm.tracer.Start(ctx, "global-step")
	defer func() { end(span, err) }()

	return tm.svc.GlobalStep(ctx)
}

func (tm *tracing) Checkpoint(ctx context.Context) (info checkpoint.Info, err error) {
	ctx, span := tm.tracer.Start(ctx, "checkpoint")
	defer func() { end(span, err) }()

	return tm.svc.Checkpoint(ctx)
}

func (tm *tracing) RestoreLatest(ctx context.Context) (info checkpoint.Info, err error) {
	ctx, span := tm.tracer.Start(ctx, "restore-latest")
	defer func() { end(span, err) }()

	return tm.svc.RestoreLatest(ctx)
}

func (tm *tracing) Status(ctx context.Context) (st chief.Status, err error) {
	ctx, span := tm.tracer.Start(ctx, "status")
	defer func() { end(span, err) }()

	return tm.svc.Status(ctx)
}

func (tm *tracing) Shutdown(ctx context.Context) (err error) {
	ctx, span := tm.tracer.Start(ctx, "shutdown")
	defer func() { end(span, err) }()

	return tm.svc.Shutdown(ctx)
}
