// Package metrics exposes Prometheus instrumentation for the
// console's safety-critical paths: generator command latency,
// interlock check latency, AEC abort latency, ring buffer drops, dose
// accumulation, and pipeline per-stage timing. Grounded directly on
// the teacher's internal/escrow/metrics.go Metrics struct —
// promauto-registered Vec metrics grouped by concern, one New*
// constructor, one Record* method per measurement.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector the console registers.
type Metrics struct {
	GeneratorCommandDuration *prometheus.HistogramVec
	GeneratorCommandFailures *prometheus.CounterVec

	InterlockCheckDuration *prometheus.HistogramVec
	InterlockTripped       *prometheus.CounterVec

	AECAbortDuration *prometheus.HistogramVec

	RingBufferDropped  *prometheus.CounterVec
	RingBufferOccupied *prometheus.GaugeVec

	DoseAccumulated *prometheus.CounterVec
	DoseWarnings    *prometheus.CounterVec

	PipelineStageDuration *prometheus.HistogramVec
	PipelineFailures      *prometheus.CounterVec

	WorkflowTransitions *prometheus.CounterVec
}

// New constructs and registers every collector.
func New() *Metrics {
	return &Metrics{
		GeneratorCommandDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hnvue_generator_command_duration_seconds",
				Help:    "Duration of generator command round-trips",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"kind"},
		),
		GeneratorCommandFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hnvue_generator_command_failures_total",
				Help: "Total generator commands that failed after retry",
			},
			[]string{"kind"},
		),
		InterlockCheckDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hnvue_interlock_check_duration_seconds",
				Help:    "Duration of interlock check_all calls",
				Buckets: []float64{.0001, .0005, .001, .005, .01},
			},
			[]string{},
		),
		InterlockTripped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hnvue_interlock_tripped_total",
				Help: "Total times a specific interlock bit flipped false",
			},
			[]string{"bit"},
		),
		AECAbortDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hnvue_aec_abort_duration_seconds",
				Help:    "Duration from threshold crossing to abort enqueue",
				Buckets: []float64{.0001, .0005, .001, .005, .01},
			},
			[]string{},
		),
		RingBufferDropped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hnvue_ring_buffer_dropped_total",
				Help: "Total frames dropped by the DMA ring buffer",
			},
			[]string{},
		),
		RingBufferOccupied: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "hnvue_ring_buffer_occupied_slots",
				Help: "Current occupied slot count in the DMA ring buffer",
			},
			[]string{},
		),
		DoseAccumulated: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hnvue_dose_accumulated_dap_total",
				Help: "Total dose-area product recorded, in uGy*m^2",
			},
			[]string{"bucket"}, // bucket: study, daily
		),
		DoseWarnings: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hnvue_dose_warnings_total",
				Help: "Total dose limit checks that returned should_warn",
			},
			[]string{"bucket"},
		),
		PipelineStageDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hnvue_pipeline_stage_duration_seconds",
				Help:    "Duration of a single imaging pipeline stage",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
		PipelineFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hnvue_pipeline_failures_total",
				Help: "Total pipeline runs that aborted at some stage",
			},
			[]string{"stage"},
		),
		WorkflowTransitions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hnvue_workflow_transitions_total",
				Help: "Total accepted workflow state transitions",
			},
			[]string{"from", "to", "trigger"},
		),
	}
}

// RecordGeneratorCommand records one command's latency and, on
// failure, increments the failure counter.
func (m *Metrics) RecordGeneratorCommand(kind string, seconds float64, failed bool) {
	m.GeneratorCommandDuration.WithLabelValues(kind).Observe(seconds)
	if failed {
		m.GeneratorCommandFailures.WithLabelValues(kind).Inc()
	}
}

// RecordInterlockCheck records one check_all call's latency.
func (m *Metrics) RecordInterlockCheck(seconds float64) {
	m.InterlockCheckDuration.WithLabelValues().Observe(seconds)
}

// RecordInterlockTripped increments the trip counter for one bit.
func (m *Metrics) RecordInterlockTripped(bit string) {
	m.InterlockTripped.WithLabelValues(bit).Inc()
}

// RecordAECAbort records the threshold-to-abort latency.
func (m *Metrics) RecordAECAbort(seconds float64) {
	m.AECAbortDuration.WithLabelValues().Observe(seconds)
}

// RecordRingBufferDrop increments the ring buffer's drop counter.
func (m *Metrics) RecordRingBufferDrop() {
	m.RingBufferDropped.WithLabelValues().Inc()
}

// SetRingBufferOccupied sets the ring buffer's current occupancy gauge.
func (m *Metrics) SetRingBufferOccupied(n int) {
	m.RingBufferOccupied.WithLabelValues().Set(float64(n))
}

// RecordDose increments the accumulated dose counter for bucket
// ("study" or "daily") and, if shouldWarn, the warning counter.
func (m *Metrics) RecordDose(bucket string, dap float64, shouldWarn bool) {
	m.DoseAccumulated.WithLabelValues(bucket).Add(dap)
	if shouldWarn {
		m.DoseWarnings.WithLabelValues(bucket).Inc()
	}
}

// RecordPipelineStage records one stage's elapsed time and, on
// failure, increments the failure counter for that stage.
func (m *Metrics) RecordPipelineStage(stage string, seconds float64, failed bool) {
	m.PipelineStageDuration.WithLabelValues(stage).Observe(seconds)
	if failed {
		m.PipelineFailures.WithLabelValues(stage).Inc()
	}
}

// RecordWorkflowTransition increments the transition counter.
func (m *Metrics) RecordWorkflowTransition(from, to, trigger string) {
	m.WorkflowTransitions.WithLabelValues(from, to, trigger).Inc()
}
