// Package metrics exposes Prometheus instrumentation for the scan pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FramesSampled counts decode ticks that actually examined a frame.
	FramesSampled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scanstation_frames_sampled_total",
		Help: "Frames captured and passed to the QR decoder.",
	})

	// DecodeHits counts frames in which a QR symbol was detected.
	DecodeHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scanstation_decode_hits_total",
		Help: "Frames where a QR symbol was successfully decoded.",
	})

	// InvalidPayloads counts decoded symbols rejected before submission.
	InvalidPayloads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scanstation_invalid_payloads_total",
		Help: "Decoded QR payloads missing a usable index number.",
	})

	// Submissions counts attendance submissions by result class.
	Submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scanstation_submissions_total",
		Help: "Attendance submissions by result (success or error class).",
	}, []string{"result"})

	// PipelineFailures counts scan pipeline failures that never reached a
	// submission, such as camera acquisition or frame capture errors.
	PipelineFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scanstation_pipeline_failures_total",
		Help: "Scan pipeline failures outside submission (camera, frame source) by cause.",
	}, []string{"cause"})

	// StateTransitions counts scanner state changes by target state.
	StateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scanstation_state_transitions_total",
		Help: "Scanner state machine transitions by target state.",
	}, []string{"state"})
)
