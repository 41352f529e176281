package metrics_test

import (
	"testing"
	"time"

	"github.com/NeuralTrust/TrustGuard/pkg/infra/metrics"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorker_DeliversQueuedEvents(t *testing.T) {
	rec := metrics.NewRecordingSink(10)
	w := metrics.NewWorker(logrus.New(), rec, 10)
	w.StartWorkers(2)

	w.Emit(metrics.NewEvent(metrics.EventBlocked, "10.0.0.1"))
	w.Emit(metrics.NewEvent(metrics.EventUnblocked, "10.0.0.1"))
	w.Shutdown()

	events := rec.Events()
	require.Len(t, events, 2)
}

func TestWorker_DropsWhenFull(t *testing.T) {
	rec := metrics.NewRecordingSink(10)
	w := metrics.NewWorker(logrus.New(), rec, 1)

	w.Emit(metrics.NewEvent(metrics.EventDecision, "a"))
	w.Emit(metrics.NewEvent(metrics.EventDecision, "b"))
	w.StartWorkers(1)
	w.Shutdown()

	events := rec.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "a", events[0].Subject)
}

func TestWorker_IgnoresEmitAfterShutdown(t *testing.T) {
	rec := metrics.NewRecordingSink(10)
	w := metrics.NewWorker(logrus.New(), rec, 10)
	w.StartWorkers(1)
	w.Shutdown()
	w.Shutdown()

	w.Emit(metrics.NewEvent(metrics.EventDecision, "late"))
	time.Sleep(10 * time.Millisecond)

	assert.Empty(t, rec.Events())
}

func TestEvent_WithLabelCopies(t *testing.T) {
	base := metrics.NewEvent(metrics.EventDecision, "ip").WithLabel(metrics.LabelDecision, "allow")
	derived := base.WithLabel(metrics.LabelDecision, "block").WithValue(80)

	assert.Equal(t, "allow", base.Label(metrics.LabelDecision))
	assert.Equal(t, "block", derived.Label(metrics.LabelDecision))
	assert.Equal(t, 80.0, derived.Value)
}

func TestMultiSink_FansOut(t *testing.T) {
	a := metrics.NewRecordingSink(1)
	b := metrics.NewRecordingSink(1)
	sink := metrics.NewMultiSink(a, b, metrics.NewNopSink(), metrics.NewLogSink(logrus.New()))

	sink.Emit(metrics.NewEvent(metrics.EventIncidentCreated, "INC-1"))

	assert.Len(t, a.OfType(metrics.EventIncidentCreated), 1)
	assert.Len(t, b.Events(), 1)
}
