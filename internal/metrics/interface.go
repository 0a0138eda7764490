// Package metrics provides interfaces for metrics collection and monitoring.
package metrics

import "time"

// Probe outcome labels.
const (
	OutcomeRecognized   = "recognized"
	OutcomeUnrecognized = "unrecognized"
	OutcomePanic        = "panic"
)

// Recorder is what the scan engine reports into. It allows the engine to
// run without a Prometheus registry in tests and one-shot CLI scans.
type Recorder interface {
	// ObserveProbe records a finished probe and how long it took.
	ObserveProbe(outcome string, duration time.Duration)

	// SetWorkers publishes the running and parked worker counts.
	SetWorkers(running, waiting int)

	// SetActiveTasks publishes the number of registered scan tasks.
	SetActiveTasks(count int)

	// TaskCreated records a new task and its candidate count.
	TaskCreated(addresses int)

	// TasksPruned records tasks removed by the retention sweep.
	TasksPruned(count int)
}

// Nop discards everything.
type Nop struct{}

func (Nop) ObserveProbe(string, time.Duration) {}
func (Nop) SetWorkers(int, int)                {}
func (Nop) SetActiveTasks(int)                 {}
func (Nop) TaskCreated(int)                    {}
func (Nop) TasksPruned(int)                    {}

var (
	_ Recorder = Nop{}
	_ Recorder = (*PrometheusMetrics)(nil)
)
