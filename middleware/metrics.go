/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import "github.com/prometheus/client_golang/prometheus"

const metricsLabelDryRun = "dry_run"

const (
	metricsValYes = "yes"
	metricsValNo  = "no"
)

// MetricsCollector represents a collector of metrics about rejected requests.
type MetricsCollector interface {
	// IncRejects increments the total number of requests rejected due to the rate limit exceeded.
	IncRejects(dryRun bool)
}

// PrometheusMetricsOpts represents options for PrometheusMetrics.
type PrometheusMetricsOpts struct {
	// Namespace is a namespace for metrics. It will be prepended to all metric names.
	Namespace string

	// ConstLabels is a set of labels that will be applied to all metrics.
	ConstLabels prometheus.Labels

	// CurriedLabelNames is a list of label names that will be curried with the provided labels.
	// See PrometheusMetrics.MustCurryWith method for more details.
	CurriedLabelNames []string
}

// PrometheusMetrics represents Prometheus metrics for the rate limiting middleware.
type PrometheusMetrics struct {
	RejectsTotal *prometheus.CounterVec
}

// NewPrometheusMetrics creates a new instance of PrometheusMetrics with default options.
func NewPrometheusMetrics() *PrometheusMetrics {
	return NewPrometheusMetricsWithOpts(PrometheusMetricsOpts{})
}

// NewPrometheusMetricsWithOpts creates a new instance of PrometheusMetrics with the provided options.
func NewPrometheusMetricsWithOpts(opts PrometheusMetricsOpts) *PrometheusMetrics {
	rejectsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "rate_limit_rejects_total",
			Help:        "Number of rejected HTTP requests due to rate limit exceeded.",
			ConstLabels: opts.ConstLabels,
		},
		append([]string{metricsLabelDryRun}, opts.CurriedLabelNames...),
	)
	return &PrometheusMetrics{RejectsTotal: rejectsTotal}
}

// MustCurryWith curries the metrics collector with the provided labels.
func (pm *PrometheusMetrics) MustCurryWith(labels prometheus.Labels) *PrometheusMetrics {
	return &PrometheusMetrics{RejectsTotal: pm.RejectsTotal.MustCurryWith(labels)}
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (pm *PrometheusMetrics) MustRegister() {
	prometheus.MustRegister(pm.RejectsTotal)
}

// Unregister cancels registration of metrics collector in Prometheus.
func (pm *PrometheusMetrics) Unregister() {
	prometheus.Unregister(pm.RejectsTotal)
}

// IncRejects increments the total number of requests rejected due to the rate limit exceeded.
func (pm *PrometheusMetrics) IncRejects(dryRun bool) {
	dryRunVal := metricsValNo
	if dryRun {
		dryRunVal = metricsValYes
	}
	pm.RejectsTotal.With(prometheus.Labels{metricsLabelDryRun: dryRunVal}).Inc()
}

type disabledMetrics struct{}

func (disabledMetrics) IncRejects(bool) {}
