// Package metrics exposes Prometheus metrics for TextSynth transport
// calls and served completions.
package metrics

import (
	"context"
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ncecere/synthtext"
	"github.com/ncecere/synthtext/middleware"
)

// Metrics groups the collectors registered by New.
type Metrics struct {
	TransportCalls    *prometheus.CounterVec
	TransportDuration *prometheus.HistogramVec
	Fragments         prometheus.Counter
	CompletionErrors  *prometheus.CounterVec
	TruncatedPrompts  prometheus.Counter
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TransportCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "synthtext_transport_calls_total",
			Help: "Transport calls by kind, engine and outcome",
		}, []string{"kind", "engine", "outcome"}),

		TransportDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "synthtext_transport_duration_seconds",
			Help:    "Time until the transport returned a response or stream",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"kind", "engine"}),

		Fragments: factory.NewCounter(prometheus.CounterOpts{
			Name: "synthtext_stream_fragments_total",
			Help: "Completion fragments delivered to clients",
		}),

		CompletionErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "synthtext_completion_errors_total",
			Help: "Failed completions by error kind",
		}, []string{"kind"}),

		TruncatedPrompts: factory.NewCounter(prometheus.CounterOpts{
			Name: "synthtext_truncated_prompts_total",
			Help: "Completions whose prompt was truncated by the server",
		}),
	}
}

// Hooks returns telemetry hooks that feed the transport collectors.
func (m *Metrics) Hooks() middleware.TelemetryHooks {
	return middleware.TelemetryHooks{
		OnCall: func(_ context.Context, info middleware.CallInfo) {
			outcome := "error"
			if info.Err == nil {
				outcome = strconv.Itoa(info.StatusCode)
			}
			m.TransportCalls.WithLabelValues(string(info.Kind), info.Engine, outcome).Inc()
			m.TransportDuration.WithLabelValues(string(info.Kind), info.Engine).
				Observe(info.EndTime.Sub(info.StartTime).Seconds())
		},
	}
}

// ObserveError counts a failed completion under its error kind.
func (m *Metrics) ObserveError(err error) {
	kind := "other"
	var ve *synthtext.ValidationError
	if ee, ok := synthtext.AsExecutionError(err); ok {
		kind = string(ee.Kind)
	} else if errors.As(err, &ve) {
		kind = "validation"
	}
	m.CompletionErrors.WithLabelValues(kind).Inc()
}
