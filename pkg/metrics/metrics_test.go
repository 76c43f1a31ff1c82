package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	. "github.com/smartystreets/goconvey/convey"
)

func counterValue(reg prometheus.Gatherer, name string) float64 {
	families, err := reg.Gather()
	if err != nil {
		return -1
	}
	for _, f := range families {
		if f.GetName() == name && len(f.GetMetric()) > 0 {
			return f.GetMetric()[0].GetCounter().GetValue()
		}
	}
	return 0
}

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with a private registry and options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test"),
				WithSubsystem("judging"),
				WithHistogramBuckets([]float64{1, 10, 100}),
				WithConstLabels(map[string]string{"env": "test"}),
				WithPrometheusRegistry(registry),
			)

			Convey("Then every metric is registered on that registry", func() {
				So(manager, ShouldNotBeNil)
				manager.scoresSubmitted.Inc()
				So(counterValue(registry, "test_judging_scores_submitted_total"), ShouldEqual, 1)
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global manager", t, func() {
		Convey("Then judging metrics record without panicking", func() {
			const name = "hackops_judging_scores_submitted_total"
			before := counterValue(customRegistry, name)
			So(func() {
				RecordScoreSubmitted()
				RecordScoreRejected("validation")
				RecordAssignmentsCreated(3)
				UpdateUnderCovered(1)
				RecordConflictsDetected(2)
				RecordReassignment("conflict")
				RecordRoundLocked()
				RecordNormalizationLatency(1.5)
				RecordNormalizationRetry()
				RecordAnalyticsExport(nil)
				RecordAnalyticsExport(errors.New("boom"))
				UpdateRepositoryRecords("scores", 4)
			}, ShouldNotPanic)
			So(counterValue(customRegistry, name), ShouldEqual, before+1)
		})

		Convey("Then event and transport metrics record without panicking", func() {
			So(func() {
				RecordOutboxRelayed(2)
				RecordEventDelivered("round_locked")
				RecordEventDuplicate()
				RecordEventDeliveryFailed()
				UpdateQueueSize(1)
				UpdateQueueCapacity(10)
				RecordQueueEnqueue()
				RecordQueueDequeue()
				RecordQueueEnqueueError()
				UpdateWorkerCount(2)
				UpdateWorkerActiveCount(1)
				UpdateWorkerActiveCount(-1)
				RecordWorkerProcessingLatency(0.3)
				RecordWorkerError()
				RecordHTTPRequest("/healthz", "GET", "200")
				RecordHTTPRequestDuration("/healthz", "GET", "200", 0.1)
				RecordErrorByComponent("api", "state")
			}, ShouldNotPanic)
		})

		Convey("Then the registry is the custom one", func() {
			So(GetRegistry(), ShouldEqual, customRegistry)
		})
	})
}

func TestMetricsDisabled(t *testing.T) {
	Convey("Given a disabled global manager", t, func() {
		saved := globalManager
		registry := prometheus.NewRegistry()
		globalManager = NewManager(WithMetricsEnabled(false), WithPrometheusRegistry(registry))
		defer func() { globalManager = saved }()

		Convey("Then recording is a no-op", func() {
			RecordScoreSubmitted()
			So(counterValue(registry, "hackops_judging_scores_submitted_total"), ShouldEqual, 0)
		})
	})
}
