package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// CheckoutAttemptTotal counts checkout attempts by payment method and
	// outcome (success, validation, hardware, capture, reconciliation, error).
	CheckoutAttemptTotal *prometheus.CounterVec
	// TerminalConnectTotal counts reader connection attempts by outcome.
	TerminalConnectTotal *prometheus.CounterVec
	// CollectDuration records how long the reader took to collect a payment
	// method, in milliseconds.
	CollectDuration prometheus.Histogram
	// ReconciliationPending is 1 while a paid-but-unrecorded sale awaits
	// operator acknowledgement, 0 otherwise. Alert on it staying at 1.
	ReconciliationPending prometheus.Gauge
	// BackendRequestTotal counts calls to the backend API by operation and
	// outcome.
	BackendRequestTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		CheckoutAttemptTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_attempt_total",
			Help:      "Count of checkout attempts by payment method and outcome.",
		}, []string{"method", "result"})
		TerminalConnectTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "terminal_connect_total",
			Help:      "Count of reader connection attempts by outcome.",
		}, []string{"result"})
		CollectDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "terminal_collect_duration_ms",
			Help:      "Time the reader took to collect a payment method in milliseconds.",
			Buckets:   []float64{500, 1000, 2500, 5000, 10000, 30000, 60000},
		})
		ReconciliationPending = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "checkout_reconciliation_pending",
			Help:      "Whether a paid-but-unrecorded sale is awaiting operator acknowledgement.",
		})
		BackendRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_request_total",
			Help:      "Count of backend API calls by operation and outcome.",
		}, []string{"operation", "result"})

		mustRegisterCollector(reg, CheckoutAttemptTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				CheckoutAttemptTotal = v
			}
		})
		mustRegisterCollector(reg, TerminalConnectTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				TerminalConnectTotal = v
			}
		})
		mustRegisterCollector(reg, CollectDuration, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Histogram); ok {
				CollectDuration = v
			}
		})
		mustRegisterCollector(reg, ReconciliationPending, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Gauge); ok {
				ReconciliationPending = v
			}
		})
		mustRegisterCollector(reg, BackendRequestTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				BackendRequestTotal = v
			}
		})
	})
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
