// Package metrics holds the Prometheus instruments for payment recording.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "studio_ledger"

// Rejection reasons used as the "reason" label.
const (
	ReasonInvalidAmount   = "invalid_amount"
	ReasonExceedsBalance  = "exceeds_balance"
	ReasonInvalidPayment  = "invalid_payment"
	ReasonNotFound        = "not_found"
	ReasonIdempotencyKey  = "idempotency_key_reused"
	ReasonVersionConflict = "version_conflict"
	ReasonPersistence     = "persistence"
	ReasonCanceled        = "canceled"
	ReasonUnknown         = "unknown"
)

type Metrics struct {
	paymentsRecorded   *prometheus.CounterVec
	paymentRejections  *prometheus.CounterVec
	versionConflicts   prometheus.Counter
	accountingFailures prometheus.Counter
	aggregateRepairs   prometheus.Counter
	recordDuration     prometheus.Histogram
}

// New creates the instruments and registers them on registerer
// (prometheus.DefaultRegisterer when nil).
func New(registerer prometheus.Registerer) (*Metrics, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		paymentsRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_recorded_total",
			Help:      "Payments committed to the ledger, by method.",
		}, []string{"method"}),
		paymentRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_rejections_total",
			Help:      "RecordPayment calls that committed nothing, by reason.",
		}, []string{"reason"}),
		versionConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "version_conflicts_total",
			Help:      "Optimistic version conflicts seen while recording payments.",
		}),
		accountingFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "accounting_sync_failures_total",
			Help:      "Committed payments that could not be forwarded to accounting.",
		}),
		aggregateRepairs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "aggregate_repairs_total",
			Help:      "Invoice aggregates rebuilt from the ledger because they were stale.",
		}),
		recordDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "record_payment_duration_seconds",
			Help:      "RecordPayment latency including accounting forwarding.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
	}

	for _, c := range []prometheus.Collector{
		m.paymentsRecorded,
		m.paymentRejections,
		m.versionConflicts,
		m.accountingFailures,
		m.aggregateRepairs,
		m.recordDuration,
	} {
		if err := registerer.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) PaymentRecorded(method string) {
	if m == nil {
		return
	}
	m.paymentsRecorded.WithLabelValues(method).Inc()
}

func (m *Metrics) PaymentRejected(reason string) {
	if m == nil {
		return
	}
	m.paymentRejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) VersionConflict() {
	if m == nil {
		return
	}
	m.versionConflicts.Inc()
}

func (m *Metrics) AccountingSyncFailed() {
	if m == nil {
		return
	}
	m.accountingFailures.Inc()
}

func (m *Metrics) AggregateRepaired() {
	if m == nil {
		return
	}
	m.aggregateRepairs.Inc()
}

// ObserveRecord records how long a RecordPayment call took since start.
func (m *Metrics) ObserveRecord(start time.Time) {
	if m == nil {
		return
	}
	m.recordDuration.Observe(time.Since(start).Seconds())
}
