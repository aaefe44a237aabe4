package rag

import "time"

// Recorder receives pipeline measurements. internal/metrics implements it
// with Prometheus collectors.
type Recorder interface {
	ObserveStage(stage string, d time.Duration)
	RecordOutcome(outcome string)
	RecordCache(outcome string)
	RecordViolation(kind string)
}

// Outcome labels for RecordOutcome.
const (
	OutcomeResponded = "responded"
	OutcomeDegraded  = "degraded"
	OutcomeFailed    = "failed"
)

type nopRecorder struct{}

func (nopRecorder) ObserveStage(string, time.Duration) {}
func (nopRecorder) RecordOutcome(string)               {}
func (nopRecorder) RecordCache(string)                 {}
func (nopRecorder) RecordViolation(string)             {}
