// Package metrics instruments lycsurv runs with Prometheus metrics.
//
// A run is a batch job, so metrics live in a private registry and are
// written once to a node-exporter textfile at the end of the run instead of
// being scraped.
//
// Metrics exposed:
//   - lycsurv_catalog_load_seconds: Histogram of catalog load duration
//   - lycsurv_fit_seconds: Histogram of model fit duration
//   - lycsurv_predict_seconds: Histogram of prediction duration
//   - lycsurv_rows_dropped_total: Counter of training rows dropped, by reason
//   - lycsurv_fits_reused_total: Counter of fits restored from the store
//   - lycsurv_predictions_total: Counter of predictions by saturation flag
//     and whether the survival curve was flat
//   - lycsurv_goodness_of_fit: Gauge of assessment statistics
//   - lycsurv_errors_total: Counter of errors by component and reason
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the metrics of one run.
type Metrics struct {
	registry *prometheus.Registry

	CatalogLoadSeconds prometheus.Histogram
	FitSeconds         *prometheus.HistogramVec
	PredictSeconds     *prometheus.HistogramVec
	RowsDropped        *prometheus.CounterVec
	FitsReused         *prometheus.CounterVec
	Predictions        *prometheus.CounterVec
	GoodnessOfFit      *prometheus.GaugeVec
	ErrorsTotal        *prometheus.CounterVec
}

// New creates the metrics in a fresh registry. method is attached as a
// constant label.
func New(method string) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	labels := prometheus.Labels{"method": method}

	return &Metrics{
		registry: reg,

		CatalogLoadSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:        "lycsurv_catalog_load_seconds",
			Help:        "Time spent loading catalogs",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),

		FitSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "lycsurv_fit_seconds",
			Help:        "Time spent fitting a model",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"response"}),

		PredictSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "lycsurv_predict_seconds",
			Help:        "Time spent predicting target rows",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"response"}),

		RowsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "lycsurv_rows_dropped_total",
			Help:        "Training rows dropped by reason",
			ConstLabels: labels,
		}, []string{"response", "reason"}),

		FitsReused: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "lycsurv_fits_reused_total",
			Help:        "Fits restored from the model store",
			ConstLabels: labels,
		}, []string{"response"}),

		Predictions: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "lycsurv_predictions_total",
			Help:        "Predictions by saturation flag and degenerate (flat) survival curve",
			ConstLabels: labels,
		}, []string{"response", "flag", "degenerate"}),

		GoodnessOfFit: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "lycsurv_goodness_of_fit",
			Help:        "Goodness of fit on the training rows",
			ConstLabels: labels,
		}, []string{"response", "statistic"}),

		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "lycsurv_errors_total",
			Help:        "Total number of errors by component and reason",
			ConstLabels: labels,
		}, []string{"component", "reason"}),
	}
}

// Registry returns the registry holding the metrics.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// RecordLoad records the time spent loading a catalog.
func (m *Metrics) RecordLoad(seconds float64) {
	m.CatalogLoadSeconds.Observe(seconds)
}

// RecordFit records the time spent fitting response.
func (m *Metrics) RecordFit(response string, seconds float64) {
	m.FitSeconds.WithLabelValues(response).Observe(seconds)
}

// RecordPredict records the time spent predicting response.
func (m *Metrics) RecordPredict(response string, seconds float64) {
	m.PredictSeconds.WithLabelValues(response).Observe(seconds)
}

// RecordDropped adds n dropped rows for reason. Zero counts still create
// the series.
func (m *Metrics) RecordDropped(response, reason string, n int) {
	m.RowsDropped.WithLabelValues(response, reason).Add(float64(n))
}

// RecordReused counts a restored fit.
func (m *Metrics) RecordReused(response string) {
	m.FitsReused.WithLabelValues(response).Inc()
}

// RecordPrediction counts one prediction with its flag.
func (m *Metrics) RecordPrediction(response string, flag int, degenerate bool) {
	m.Predictions.WithLabelValues(response, strconv.Itoa(flag), strconv.FormatBool(degenerate)).Inc()
}

// SetGoodnessOfFit sets one assessment statistic.
func (m *Metrics) SetGoodnessOfFit(response, statistic string, value float64) {
	m.GoodnessOfFit.WithLabelValues(response, statistic).Set(value)
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(component, reason string) {
	m.ErrorsTotal.WithLabelValues(component, reason).Inc()
}

// WriteTextfile writes every metric in the text exposition format, for the
// node exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
