package session

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/go-kit/kit/metrics"
	kitprometheus "github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

// EpochMetrics averages the step results of one local epoch.
type EpochMetrics struct {
	Index      int     `json:"index"`
	Epoch      int     `json:"epoch"`
	Step       uint64  `json:"step"`
	GlobalStep uint64  `json:"global_step"`
	Loss       float64 `json:"loss"`
	Accuracy   float64 `json:"accuracy"`
	Samples    int     `json:"samples"`
}

// MetricsSink receives one record per completed local epoch.
type MetricsSink interface {
	RecordEpoch(ctx context.Context, m EpochMetrics)
}

type nopSink struct{}

func (nopSink) RecordEpoch(context.Context, EpochMetrics) {}

type epochAccumulator struct {
	index    int
	epoch    int
	steps    int
	samples  int
	loss     float64
	accuracy float64
}

func (a *epochAccumulator) add(res StepResult) {
	a.steps++
	a.samples += res.Samples
	a.loss += res.Loss
	a.accuracy += res.Accuracy
}

func (a *epochAccumulator) flush(step, globalStep uint64) EpochMetrics {
	a.epoch++
	m := EpochMetrics{
		Index:      a.index,
		Epoch:      a.epoch,
		Step:       step,
		GlobalStep: globalStep,
		Samples:    a.samples,
	}
	if a.steps > 0 {
		m.Loss = a.loss / float64(a.steps)
		m.Accuracy = a.accuracy / float64(a.steps)
	}
	a.steps, a.samples, a.loss, a.accuracy = 0, 0, 0, 0

	return m
}

type logSink struct {
	logger *slog.Logger
}

func LogSink(logger *slog.Logger) MetricsSink {
	return &logSink{logger: logger}
}

func (s *logSink) RecordEpoch(_ context.Context, m EpochMetrics) {
	s.logger.Info("epoch completed",
		slog.Int("replica", m.Index),
		slog.Int("epoch", m.Epoch),
		slog.Uint64("step", m.Step),
		slog.Uint64("global_step", m.GlobalStep),
		slog.Float64("loss", m.Loss),
		slog.Float64("accuracy", m.Accuracy),
	)
}

type prometheusSink struct {
	loss     metrics.Gauge
	accuracy metrics.Gauge
	epochs   metrics.Counter
}

// PrometheusSink exports the latest epoch loss and accuracy per replica.
func PrometheusSink(namespace string) MetricsSink {
	return &prometheusSink{
		loss: kitprometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "training",
			Name:      "epoch_loss",
			Help:      "Mean loss of the last completed local epoch.",
		}, []string{"replica"}),
		accuracy: kitprometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "training",
			Name:      "epoch_accuracy",
			Help:      "Mean accuracy of the last completed local epoch.",
		}, []string{"replica"}),
		epochs: kitprometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "training",
			Name:      "epochs_total",
			Help:      "Completed local epochs.",
		}, []string{"replica"}),
	}
}

func (s *prometheusSink) RecordEpoch(_ context.Context, m EpochMetrics) {
	replica := strconv.Itoa(m.Index)
	s.loss.With("replica", replica).Set(m.Loss)
	s.accuracy.With("replica", replica).Set(m.Accuracy)
	s.epochs.With("replica", replica).Add(1)
}

type multiSink []MetricsSink

// Sinks fans every epoch record out to all sinks in order.
func Sinks(sinks ...MetricsSink) MetricsSink {
	return multiSink(sinks)
}

func (m multiSink) RecordEpoch(ctx context.Context, e EpochMetrics) {
	for _, s := range m {
		s.RecordEpoch(ctx, e)
	}
}
