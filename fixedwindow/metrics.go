/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package fixedwindow

import "github.com/prometheus/client_golang/prometheus"

// MetricsCollector represents a collector of metrics about how the limiter is used.
type MetricsCollector interface {
	// SetAmount sets the total number of keys tracked in the table.
	SetAmount(int)

	// IncAllowed increments the total number of admitted requests.
	IncAllowed()

	// IncRejected increments the total number of rejected requests.
	IncRejected()

	// AddEvictions increments the total number of keys evicted due to the keys number bound.
	AddEvictions(int)
}

// PrometheusMetricsOpts represents options for PrometheusMetrics.
type PrometheusMetricsOpts struct {
	// Namespace is a namespace for metrics. It will be prepended to all metric names.
	Namespace string

	// ConstLabels is a set of labels that will be applied to all metrics.
	ConstLabels prometheus.Labels

	// CurriedLabelNames is a list of label names that will be curried with the provided labels.
	// See PrometheusMetrics.MustCurryWith method for more details.
	// Keep in mind that if this list is not empty,
	// PrometheusMetrics.MustCurryWith method must be called further with the same labels.
	// Otherwise, the collector will panic.
	CurriedLabelNames []string
}

// PrometheusMetrics represents Prometheus metrics for the limiter.
type PrometheusMetrics struct {
	KeysAmount     *prometheus.GaugeVec
	AllowedTotal   *prometheus.CounterVec
	RejectedTotal  *prometheus.CounterVec
	EvictionsTotal *prometheus.CounterVec
}

// NewPrometheusMetrics creates a new instance of PrometheusMetrics with default options.
func NewPrometheusMetrics() *PrometheusMetrics {
	return NewPrometheusMetricsWithOpts(PrometheusMetricsOpts{})
}

// NewPrometheusMetricsWithOpts creates a new instance of PrometheusMetrics with the provided options.
func NewPrometheusMetricsWithOpts(opts PrometheusMetricsOpts) *PrometheusMetrics {
	keysAmount := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   opts.Namespace,
			Name:        "rate_limit_keys_amount",
			Help:        "Total number of keys tracked by the rate limiter.",
			ConstLabels: opts.ConstLabels,
		},
		opts.CurriedLabelNames,
	)

	allowedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "rate_limit_allowed_total",
			Help:        "Number of requests admitted by the rate limiter.",
			ConstLabels: opts.ConstLabels,
		},
		opts.CurriedLabelNames,
	)

	rejectedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "rate_limit_rejected_total",
			Help:        "Number of requests rejected by the rate limiter.",
			ConstLabels: opts.ConstLabels,
		},
		opts.CurriedLabelNames,
	)

	evictionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "rate_limit_key_evictions_total",
			Help:        "Number of keys evicted due to the keys number bound.",
			ConstLabels: opts.ConstLabels,
		},
		opts.CurriedLabelNames,
	)

	return &PrometheusMetrics{
		KeysAmount:     keysAmount,
		AllowedTotal:   allowedTotal,
		RejectedTotal:  rejectedTotal,
		EvictionsTotal: evictionsTotal,
	}
}

// MustCurryWith curries the metrics collector with the provided labels.
func (pm *PrometheusMetrics) MustCurryWith(labels prometheus.Labels) *PrometheusMetrics {
	return &PrometheusMetrics{
		KeysAmount:     pm.KeysAmount.MustCurryWith(labels),
		AllowedTotal:   pm.AllowedTotal.MustCurryWith(labels),
		RejectedTotal:  pm.RejectedTotal.MustCurryWith(labels),
		EvictionsTotal: pm.EvictionsTotal.MustCurryWith(labels),
	}
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (pm *PrometheusMetrics) MustRegister() {
	prometheus.MustRegister(
		pm.KeysAmount,
		pm.AllowedTotal,
		pm.RejectedTotal,
		pm.EvictionsTotal,
	)
}

// Unregister cancels registration of metrics collector in Prometheus.
func (pm *PrometheusMetrics) Unregister() {
	prometheus.Unregister(pm.KeysAmount)
	prometheus.Unregister(pm.AllowedTotal)
	prometheus.Unregister(pm.RejectedTotal)
	prometheus.Unregister(pm.EvictionsTotal)
}

// SetAmount sets the total number of keys tracked in the table.
func (pm *PrometheusMetrics) SetAmount(amount int) {
	pm.KeysAmount.With(nil).Set(float64(amount))
}

// IncAllowed increments the total number of admitted requests.
func (pm *PrometheusMetrics) IncAllowed() {
	pm.AllowedTotal.With(nil).Inc()
}

// IncRejected increments the total number of rejected requests.
func (pm *PrometheusMetrics) IncRejected() {
	pm.RejectedTotal.With(nil).Inc()
}

// AddEvictions increments the total number of keys evicted due to the keys number bound.
func (pm *PrometheusMetrics) AddEvictions(n int) {
	pm.EvictionsTotal.With(nil).Add(float64(n))
}

type disabledMetrics struct{}

func (disabledMetrics) SetAmount(int)    {}
func (disabledMetrics) IncAllowed()      {}
func (disabledMetrics) IncRejected()     {}
func (disabledMetrics) AddEvictions(int) {}
