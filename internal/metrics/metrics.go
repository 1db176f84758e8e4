// Package metrics exposes analysis pipeline metrics to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/machine-monitor/backend/internal/models"
)

// Collector implements session.Metrics.
type Collector struct {
	analyses  *prometheus.CounterVec
	inFlight  prometheus.Gauge
	predict   *prometheus.HistogramVec
	tokenized prometheus.Histogram
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		analyses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dashboard",
			Name:      "analyses_total",
			Help:      "Finished analysis runs by outcome.",
		}, []string{"outcome"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dashboard",
			Name:      "analyses_in_flight",
			Help:      "Analysis runs currently in ANALYZING.",
		}),
		predict: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dashboard",
			Name:      "predict_duration_seconds",
			Help:      "Latency of prediction service requests.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"result"}),
		tokenized: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dashboard",
			Name:      "tokenized_values",
			Help:      "Numeric values produced per analyzed file.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		}),
	}

	for _, col := range []prometheus.Collector{c.analyses, c.inFlight, c.predict, c.tokenized} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Collector) AnalysisStarted() {
	c.inFlight.Inc()
}

// AnalysisFinished counts the run under its label on success or its error
// kind on failure.
func (c *Collector) AnalysisFinished(run models.AnalysisRun) {
	c.inFlight.Dec()
	c.analyses.WithLabelValues(outcome(run)).Inc()
}

func (c *Collector) ObserveTokenized(values int) {
	c.tokenized.Observe(float64(values))
}

func (c *Collector) ObservePredict(elapsed time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.predict.WithLabelValues(result).Observe(elapsed.Seconds())
}

func outcome(run models.AnalysisRun) string {
	if run.Status == models.StatusComplete {
		return "complete"
	}
	if run.ErrorKind != "" {
		return string(run.ErrorKind)
	}
	return "error"
}
