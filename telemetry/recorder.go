package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"proof-vault/models"
)

// Recorder exposes Prometheus metrics for the verification engine.
type Recorder struct {
	verifications *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	successRate   prometheus.Gauge
	desyncRate    prometheus.Gauge
	avgLatency    prometheus.Gauge
	fallback      prometheus.Gauge
}

// NewRecorder registers metrics with provided registry.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "proof_verifications_total",
			Help: "Total proof verifications grouped by outcome",
		}, []string{"outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "proof_verification_duration_seconds",
			Help:    "Latency of proof verification",
			Buckets: []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05},
		}, []string{"outcome"}),
		successRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "proof_success_rate_percent",
			Help: "Share of non-replay verifications that succeeded",
		}),
		desyncRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "proof_desync_rate_percent",
			Help: "Share of non-replay verifications that failed",
		}),
		avgLatency: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "proof_ledger_avg_verification_microseconds",
			Help: "Mean verification time over retained ledger entries",
		}),
		fallback: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "proof_fallback_active",
			Help: "Fallback state (1=degraded)",
		}),
	}

	reg.MustRegister(
		r.verifications,
		r.latency,
		r.successRate,
		r.desyncRate,
		r.avgLatency,
		r.fallback,
	)
	return r
}

// Handler returns an HTTP handler for the registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// ObserveVerification counts one outcome and its latency.
func (r *Recorder) ObserveVerification(outcome models.Outcome, took time.Duration) {
	r.verifications.WithLabelValues(string(outcome)).Inc()
	r.latency.WithLabelValues(string(outcome)).Observe(took.Seconds())
}

// SetMetrics mirrors the engine's derived metrics into gauges.
func (r *Recorder) SetMetrics(m models.Metrics) {
	r.successRate.Set(m.SuccessRate)
	r.desyncRate.Set(m.DesyncRate)
	r.avgLatency.Set(m.AverageVerificationTime)
	if m.FallbackActivated {
		r.fallback.Set(1)
	} else {
		r.fallback.Set(0)
	}
}
