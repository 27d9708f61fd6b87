package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m, err := New(prometheus.NewRegistry())
	require.NoError(t, err)

	m.PaymentRecorded("upi")
	m.PaymentRecorded("upi")
	m.PaymentRejected(ReasonExceedsBalance)
	m.VersionConflict()
	m.AccountingSyncFailed()
	m.AggregateRepaired()
	m.ObserveRecord(time.Now().Add(-10 * time.Millisecond))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.paymentsRecorded.WithLabelValues("upi")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.paymentRejections.WithLabelValues(ReasonExceedsBalance)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.versionConflicts))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.accountingFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.aggregateRepairs))
	assert.Equal(t, 1, testutil.CollectAndCount(m.recordDuration))
}

func TestMetrics_DoubleRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)

	_, err = New(reg)
	assert.Error(t, err)
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.PaymentRecorded("cash")
		m.PaymentRejected(ReasonUnknown)
		m.VersionConflict()
		m.AccountingSyncFailed()
		m.AggregateRepaired()
		m.ObserveRecord(time.Now())
	})
}
