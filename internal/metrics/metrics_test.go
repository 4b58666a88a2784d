package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/graphwriter/internal/idempotency"
	"github.com/roach88/graphwriter/internal/model"
	"github.com/roach88/graphwriter/internal/queue"
)

var _ queue.Observer = (*Metrics)(nil)

func newTestMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return New(reg), reg
}

func TestOperationCounters(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.OperationSubmitted()
	m.OperationSubmitted()
	m.OperationFinished(model.StatusComplete, "", 20*time.Millisecond)
	m.OperationFinished(model.StatusError, model.CodeTimeout, time.Minute)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Submitted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Finished.WithLabelValues("complete", "none")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Finished.WithLabelValues("error", model.CodeTimeout)))
	assert.Equal(t, 2, testutil.CollectAndCount(m.BatchDuration))
}

func TestQueueDepth(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.QueueDepth(5, 1)
	assert.Equal(t, 5.0, testutil.ToFloat64(m.Depth.WithLabelValues("queued")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Depth.WithLabelValues("processing")))

	m.QueueDepth(0, 0)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Depth.WithLabelValues("queued")))
}

func TestCleanedAndReservations(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.OperationsCleaned(3)
	m.OperationsCleaned(0)
	m.Reservation(idempotency.OutcomeNew)
	m.Reservation(idempotency.OutcomeReplay)
	m.Reservation(idempotency.OutcomeReplay)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.Cleaned))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Idempotency.WithLabelValues("replay")))
}

func TestRegistersOnGivenRegistry(t *testing.T) {
	m, reg := newTestMetrics(t)
	m.OperationStarted(time.Second)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "graphwriter_queue_wait_seconds")

	assert.Panics(t, func() { New(reg) }, "duplicate registration")
}
