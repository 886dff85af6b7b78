package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exports batch progress as Prometheus metrics. A nil *Metrics
// records nothing.
type Metrics struct {
	unitsTotal       *prometheus.CounterVec
	stageFailures    *prometheus.CounterVec
	unitDuration     prometheus.Histogram
	localCSFVoxels   prometheus.Histogram
	collinearUnits   prometheus.Counter
	droppedRegressor *prometheus.CounterVec
}

// NewMetrics registers the pipeline metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		unitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "localcsf",
				Subsystem: "pipeline",
				Name:      "units_total",
				Help:      "Units processed, by outcome",
			},
			[]string{"outcome"},
		),
		stageFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "localcsf",
				Subsystem: "pipeline",
				Name:      "stage_failures_total",
				Help:      "Unit failures by the stage that failed",
			},
			[]string{"stage"},
		),
		unitDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "localcsf",
				Subsystem: "pipeline",
				Name:      "unit_duration_seconds",
				Help:      "Time taken to process one unit",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
		),
		localCSFVoxels: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "localcsf",
				Subsystem: "masks",
				Name:      "local_csf_voxels",
				Help:      "Active voxels in each local CSF mask",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
			},
		),
		collinearUnits: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "localcsf",
				Subsystem: "regression",
				Name:      "collinear_designs_total",
				Help:      "Regressions whose design was rank deficient",
			},
		),
		droppedRegressor: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "localcsf",
				Subsystem: "regression",
				Name:      "dropped_regressors_total",
				Help:      "Regressors dropped for collinearity",
			},
			[]string{"column"},
		),
	}
}

func (m *Metrics) observe(res Result) {
	if m == nil {
		return
	}
	m.unitDuration.Observe(res.Duration.Seconds())
	if res.Err != nil {
		m.unitsTotal.WithLabelValues("failed").Inc()
		if stage, ok := FailedStage(res.Err); ok {
			m.stageFailures.WithLabelValues(stage.String()).Inc()
		}
		return
	}
	m.unitsTotal.WithLabelValues("succeeded").Inc()
	m.localCSFVoxels.Observe(float64(res.LocalCSFVoxels))
	if res.Warning != nil {
		m.collinearUnits.Inc()
		for _, col := range res.Warning.Dropped {
			m.droppedRegressor.WithLabelValues(col).Inc()
		}
	}
}
