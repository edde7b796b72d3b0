package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveReceipt(t *testing.T) {
	okBefore := testutil.ToFloat64(ReceiptsComputedTotal)
	failBefore := testutil.ToFloat64(ReceiptsFailedTotal.WithLabelValues("no_tariff"))

	ObserveReceipt(time.Now(), "")
	ObserveReceipt(time.Now(), "no_tariff")
	ObserveReceipt(time.Now(), "no_tariff")

	assert.Equal(t, okBefore+1, testutil.ToFloat64(ReceiptsComputedTotal))
	assert.Equal(t, failBefore+2, testutil.ToFloat64(ReceiptsFailedTotal.WithLabelValues("no_tariff")))
}

func TestUpdateBatchMetrics(t *testing.T) {
	UpdateBatchMetrics(40, 8, 1500*time.Millisecond)
	assert.Equal(t, 40.0, testutil.ToFloat64(BatchLastSize))
	assert.Equal(t, 8.0, testutil.ToFloat64(BatchLastFailed))
	assert.Equal(t, 1.5, testutil.ToFloat64(BatchLastDurationSeconds))
}

func TestUpdateJobMetrics(t *testing.T) {
	before := testutil.ToFloat64(ScheduledJobFailuresTotal.WithLabelValues("test_job"))

	UpdateJobMetrics("test_job", time.Now(), nil)
	assert.Equal(t, before, testutil.ToFloat64(ScheduledJobFailuresTotal.WithLabelValues("test_job")))

	UpdateJobMetrics("test_job", time.Now(), errors.New("boom"))
	assert.Equal(t, before+1, testutil.ToFloat64(ScheduledJobFailuresTotal.WithLabelValues("test_job")))
	assert.Greater(t, testutil.ToFloat64(ScheduledJobLastRun.WithLabelValues("test_job")), 0.0)
}
