// Motion-engine metric definitions
//
// Copyright (C) 2026 Motion Engine Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	goruntime "runtime"
	"strconv"
	"sync"
	"time"
)

// MotionMetrics holds all scheduler and system metrics.
type MotionMetrics struct {
	// Scheduler metrics
	StepsEmitted    *Counter
	StepErrors      *Counter
	Hiccups         *Counter
	HiccupTicks     *Counter
	MaxTicksLate    *Gauge
	MovementDelay   *Gauge
	QueuedMoves     *Gauge
	SegmentsCreated *Gauge
	MotorPosition   *Gauge

	// Interrupt latency distribution, in seconds
	InterruptTime *Histogram

	// System metrics
	HostUptime   *Counter
	GoGoroutines *Gauge
	GoMemoryHeap *Gauge
	GoGCCycles   *Counter

	startTime time.Time
	registry  *Registry
	mu        sync.Mutex

	lastSteps, lastStepErrors, lastHiccups, lastHiccupTicks uint64
	lastUptime                                              uint64
}

// NewMotionMetrics creates and registers all engine metrics.
func NewMotionMetrics() *MotionMetrics {
	mm := &MotionMetrics{
		startTime: time.Now(),
		registry:  NewRegistry(),
	}

	mm.StepsEmitted = NewCounter("motion_steps_emitted_total",
		"Total step pulses emitted")
	mm.StepErrors = NewCounter("motion_step_errors_total",
		"Drives found in an inconsistent state while stepping")
	mm.Hiccups = NewCounter("motion_hiccups_total",
		"Scheduling pauses inserted because the step interrupt overran")
	mm.HiccupTicks = NewCounter("motion_hiccup_ticks_total",
		"Total movement delay inserted by hiccups, in step clock ticks")
	mm.MaxTicksLate = NewGauge("motion_max_ticks_late",
		"Worst observed step lateness since the last scrape, in ticks")
	mm.MovementDelay = NewGauge("motion_movement_delay_ticks",
		"Current movement clock delay behind the raw step clock")
	mm.QueuedMoves = NewGauge("motion_queued_moves",
		"Moves waiting in the controller queue")
	mm.SegmentsCreated = NewGauge("motion_segments_created",
		"Segment objects allocated over the pool lifetime")
	mm.MotorPosition = NewGauge("motion_motor_position_steps",
		"Current motor position per drive, in microsteps")
	mm.InterruptTime = NewHistogram("motion_interrupt_seconds",
		"Step interrupt execution time", []float64{1e-5, 5e-5, 1e-4, 5e-4, 1e-3, 5e-3})

	mm.HostUptime = NewCounter("motion_host_uptime_seconds_total",
		"Total host uptime in seconds")
	mm.GoGoroutines = NewGauge("motion_go_goroutines",
		"Number of active goroutines")
	mm.GoMemoryHeap = NewGauge("motion_go_memory_heap_bytes",
		"Go heap memory in use")
	mm.GoGCCycles = NewCounter("motion_go_gc_cycles_total",
		"Total Go garbage collection cycles")

	for _, m := range []Metric{
		mm.StepsEmitted, mm.StepErrors, mm.Hiccups, mm.HiccupTicks,
		mm.MaxTicksLate, mm.MovementDelay, mm.QueuedMoves,
		mm.SegmentsCreated, mm.MotorPosition, mm.InterruptTime,
		mm.HostUptime, mm.GoGoroutines, mm.GoMemoryHeap, mm.GoGCCycles,
	} {
		mm.registry.MustRegister(m)
	}
	return mm
}

// SchedulerStats is the subset of controller diagnostics exported as
// metrics. Counter fields are cumulative; the metrics layer converts them
// to deltas.
type SchedulerStats struct {
	StepsEmitted    uint64
	StepErrors      uint64
	Hiccups         uint64
	HiccupTicks     uint64
	MaxTicksLate    int32
	MovementDelay   uint32
	QueuedMoves     int
	SegmentsCreated uint32
	Positions       []int32
}

// UpdateScheduler publishes one diagnostics snapshot.
func (mm *MotionMetrics) UpdateScheduler(s SchedulerStats) {
	mm.mu.Lock()
	mm.StepsEmitted.Add(nil, s.StepsEmitted-mm.lastSteps)
	mm.StepErrors.Add(nil, s.StepErrors-mm.lastStepErrors)
	mm.Hiccups.Add(nil, s.Hiccups-mm.lastHiccups)
	mm.HiccupTicks.Add(nil, s.HiccupTicks-mm.lastHiccupTicks)
	mm.lastSteps = s.StepsEmitted
	mm.lastStepErrors = s.StepErrors
	mm.lastHiccups = s.Hiccups
	mm.lastHiccupTicks = s.HiccupTicks
	mm.mu.Unlock()

	mm.MaxTicksLate.Set(nil, float64(s.MaxTicksLate))
	mm.MovementDelay.Set(nil, float64(s.MovementDelay))
	mm.QueuedMoves.Set(nil, float64(s.QueuedMoves))
	mm.SegmentsCreated.Set(nil, float64(s.SegmentsCreated))
	for i, p := range s.Positions {
		mm.MotorPosition.Set(Labels{"drive": strconv.Itoa(i)}, float64(p))
	}
}

// UpdateSystemMetrics updates Go runtime metrics.
func (mm *MotionMetrics) UpdateSystemMetrics() {
	var m goruntime.MemStats
	goruntime.ReadMemStats(&m)

	mm.GoGoroutines.Set(nil, float64(goruntime.NumGoroutine()))
	mm.GoMemoryHeap.Set(nil, float64(m.HeapAlloc))
	mm.GoGCCycles.Add(nil, uint64(m.NumGC)-mm.GoGCCycles.Get(nil))

	mm.mu.Lock()
	uptime := uint64(time.Since(mm.startTime).Seconds())
	mm.HostUptime.Add(nil, uptime-mm.lastUptime)
	mm.lastUptime = uptime
	mm.mu.Unlock()
}

// Gather returns all metrics in Prometheus text format.
func (mm *MotionMetrics) Gather() string {
	mm.UpdateSystemMetrics()
	return mm.registry.Gather()
}

// Registry returns the internal registry.
func (mm *MotionMetrics) Registry() *Registry {
	return mm.registry
}

var (
	globalMetrics     *MotionMetrics
	globalMetricsOnce sync.Once
)

// GlobalMetrics returns the process-wide metrics instance.
func GlobalMetrics() *MotionMetrics {
	globalMetricsOnce.Do(func() {
		globalMetrics = NewMotionMetrics()
	})
	return globalMetrics
}
