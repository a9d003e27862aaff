// motion-sim runs the step scheduling engine against a simulated
// step/direction output, executing a scripted series of moves from a
// config file. It is the development harness for the engine: it exposes
// the same metrics and monitoring endpoints a real deployment would,
// while recording every step pulse in memory.
//
// Usage:
//
//	motion-sim -config sim.cfg [options]
//
// Options:
//
//	-config string    Simulation configuration file (required)
//	-metrics string   Prometheus metrics listen address (default ":9100")
//	-monitor string   Diagnostics WebSocket listen address (default ":8080")
//	-realtime         Request SCHED_FIFO scheduling (needs CAP_SYS_NICE)
//	-log-level string Log level: DEBUG, INFO, WARN, ERROR (default "INFO")
//
// Copyright (C) 2026  Motion Engine Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sort"
	"strings"
	"syscall"
	"time"

	"motion-engine/pkg/config"
	"motion-engine/pkg/endstop"
	"motion-engine/pkg/expansion"
	"motion-engine/pkg/kinematics"
	"motion-engine/pkg/log"
	"motion-engine/pkg/metrics"
	"motion-engine/pkg/monitor"
	"motion-engine/pkg/motion"
	"motion-engine/pkg/shaper"
	"motion-engine/pkg/stepio"
	"motion-engine/pkg/steptimer"
)

func main() {
	configFile := flag.String("config", "", "Simulation configuration file (required)")
	metricsAddr := flag.String("metrics", ":9100", "Prometheus metrics listen address")
	monitorAddr := flag.String("monitor", ":8080", "Diagnostics WebSocket listen address")
	realtime := flag.Bool("realtime", false, "Request SCHED_FIFO scheduling")
	logLevel := flag.String("log-level", "INFO", "Log level: DEBUG, INFO, WARN, ERROR")
	flag.Parse()

	logger := log.GetLogger("motion-sim")
	logger.SetLevel(log.ParseLevel(*logLevel))

	if *configFile == "" {
		fmt.Fprintln(os.Stderr, "Error: -config is required")
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("config: %v", err)
		os.Exit(1)
	}

	if err := run(cfg, logger, *metricsAddr, *monitorAddr, *realtime); err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *log.Logger, metricsAddr, monitorAddr string, realtime bool) error {
	mo, err := cfg.GetSection("motion")
	if err != nil {
		return err
	}
	numAxes, _ := mo.GetInt("num_axes", 3)
	numExtruders, _ := mo.GetInt("num_extruders", 1)
	idleTimeout, _ := mo.GetFloat("idle_timeout", 30)
	queueSize, _ := mo.GetInt("queue_size", 64)

	impulses, err := loadShaper(cfg)
	if err != nil {
		return err
	}

	out := stepio.NewSimOutput()
	clock := steptimer.NewWallClock()
	switches := endstop.NewSwitchSet()

	remote, err := loadExpansion(cfg, logger)
	if err != nil {
		return err
	}

	ctrl, err := motion.NewController(motion.Config{
		NumAxes:      numAxes,
		NumExtruders: numExtruders,
		Clock:        clock,
		Output:       out,
		Endstops:     switches,
		Remote:       remote,
		Logger:       log.GetLogger("motion"),
		IdleTimeout:  time.Duration(idleTimeout * float64(time.Second)),
		Shaper:       impulses,
		QueueSize:    queueSize,
	})
	if err != nil {
		return err
	}
	configureDrives(cfg, ctrl, numAxes+numExtruders)

	limits := make([]kinematics.AxisLimits, numAxes)
	for i := range limits {
		limits[i] = kinematics.AxisLimits{Min: 0, Max: 200}
	}
	ctrl.SetHomingCallback(kinematics.NewCartesian(limits, ctrl))

	if realtime {
		runtime.LockOSThread()
		if err := stepio.SetRealtimePriority(40); err != nil {
			logger.WithError(err).Warn("continuing without real-time scheduling")
		}
	}

	if err := ctrl.Start(); err != nil {
		return err
	}
	defer ctrl.Stop()

	mm := metrics.GlobalMetrics()
	metricsServer := metrics.NewMetricsServer(mm, metricsAddr)
	go func() {
		if err := metricsServer.Start(); err != nil {
			logger.WithError(err).Warn("metrics server stopped")
		}
	}()
	go pollMetrics(ctrl, mm)

	monitorServer := monitor.New(ctrl, monitorAddr, 0)
	go func() {
		if err := monitorServer.Start(); err != nil {
			logger.WithError(err).Warn("monitor server stopped")
		}
	}()
	defer monitorServer.Stop()

	moves, err := loadMoves(cfg, ctrl)
	if err != nil {
		return err
	}
	logger.Info("executing %d scripted moves", len(moves))
	for _, m := range moves {
		if err := ctrl.EnqueueMove(m); err != nil {
			return err
		}
	}

	// Wait for completion or an interrupt.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		ctrl.WaitForIdle(10 * time.Minute)
		// Give the final snapshot a stable movement clock.
		time.Sleep(100 * time.Millisecond)
		close(done)
	}()

	select {
	case <-sig:
		logger.Warn("interrupted, stopping motion")
		ctrl.EmergencyStop()
	case <-done:
	}

	snap := ctrl.Snapshot(false)
	fmt.Print(snap.String())
	for drive := 0; drive < numAxes+numExtruders; drive++ {
		logger.Info("drive %d: %d pulses recorded", drive, out.StepCount(drive))
	}
	return nil
}

// pollMetrics feeds controller diagnostics into the metrics registry.
func pollMetrics(ctrl *motion.Controller, mm *metrics.MotionMetrics) {
	for range time.Tick(time.Second) {
		snap := ctrl.Snapshot(false)
		mm.UpdateScheduler(metrics.SchedulerStats{
			StepsEmitted:    snap.StepsEmitted,
			StepErrors:      uint64(snap.StepErrors),
			Hiccups:         uint64(snap.Hiccups),
			HiccupTicks:     snap.HiccupTicks,
			MaxTicksLate:    snap.MaxTicksLate,
			MovementDelay:   snap.MovementDelay,
			QueuedMoves:     snap.QueuedMoves,
			SegmentsCreated: snap.SegmentsCreated,
			Positions:       snap.Positions,
		})
	}
}

// loadShaper builds the input shaping impulse set from the [shaper]
// section, or returns nil when shaping is not configured.
func loadShaper(cfg *config.Config) (*shaper.ImpulseSet, error) {
	sec := cfg.GetSectionOptional("shaper")
	if sec == nil {
		return nil, nil
	}
	typ, err := sec.GetChoice("type", []string{
		string(shaper.TypeNone), string(shaper.TypeZV), string(shaper.TypeMZV),
		string(shaper.TypeZVD), string(shaper.TypeEI),
	}, string(shaper.TypeMZV))
	if err != nil {
		return nil, err
	}
	freq, err := sec.GetFloat("frequency", 40.0)
	if err != nil {
		return nil, err
	}
	damping, err := sec.GetFloat("damping_ratio", 0.1)
	if err != nil {
		return nil, err
	}
	set, err := shaper.New(shaper.Type(typ), freq, damping)
	if err != nil {
		return nil, err
	}
	if set.IsIdentity() {
		return nil, nil
	}
	return &set, nil
}

// loadExpansion opens the expansion-board serial link if configured.
func loadExpansion(cfg *config.Config, logger *log.Logger) (expansion.Notifier, error) {
	sec := cfg.GetSectionOptional("expansion")
	if sec == nil {
		return expansion.Nop{}, nil
	}
	device, err := sec.Get("device")
	if err != nil {
		return nil, err
	}
	baud, _ := sec.GetInt("baud", 250000)
	n, err := expansion.OpenSerialNotifier(device, baud)
	if err != nil {
		return nil, err
	}
	logger.Info("expansion link open on %s", device)
	return n, nil
}

// configureDrives applies per-drive settings from [drive N] sections.
func configureDrives(cfg *config.Config, ctrl *motion.Controller, numDrives int) {
	for i := 0; i < numDrives; i++ {
		sec := cfg.GetSectionOptional(fmt.Sprintf("drive %d", i))
		if sec == nil {
			continue
		}
		if spm, err := sec.GetFloat("steps_per_mm", 80); err == nil {
			ctrl.SetStepsPerMm(i, spm)
		}
		if ms, err := sec.GetInt("microsteps", 16); err == nil {
			ctrl.SetMicrostepping(i, uint16(ms))
		}
		if pa, err := sec.GetFloat("pressure_advance", 0); err == nil && pa > 0 {
			ctrl.SetPressureAdvance(i, pa)
		}
	}
}

// loadMoves reads the scripted [move N] sections in numeric order.
func loadMoves(cfg *config.Config, ctrl *motion.Controller) ([]*motion.Move, error) {
	names := cfg.GetPrefixSectionNames("move ")
	sort.Slice(names, func(i, j int) bool {
		return padMoveName(names[i]) < padMoveName(names[j])
	})

	var moves []*motion.Move
	for _, name := range names {
		sec, err := cfg.GetSection(name)
		if err != nil {
			return nil, err
		}
		deltas, err := sec.GetFloatList("deltas", ",")
		if err != nil {
			return nil, err
		}
		distance, err := sec.GetFloat("distance")
		if err != nil {
			return nil, err
		}
		startSpeed, _ := sec.GetFloat("start_speed", 0)
		topSpeed, err := sec.GetFloat("top_speed")
		if err != nil {
			return nil, err
		}
		endSpeed, _ := sec.GetFloat("end_speed", 0)
		accel, _ := sec.GetFloat("accel", 3000)
		decel, _ := sec.GetFloat("decel", accel)
		shaped, _ := sec.GetBool("shaped", true)

		m := &motion.Move{
			Profile:    motion.NewTrapezoid(distance, startSpeed, topSpeed, endSpeed, accel, decel),
			UseShaping: shaped,
		}
		for drive, delta := range deltas {
			if delta == 0 {
				continue
			}
			m.Drives = append(m.Drives, motion.DriveMotion{
				Drive: drive,
				Steps: delta * ctrl.StepsPerMm(drive),
			})
		}
		moves = append(moves, m)
	}
	return moves, nil
}

// padMoveName zero-pads the numeric suffix so "move 10" sorts after
// "move 9".
func padMoveName(name string) string {
	idx := strings.LastIndexByte(name, ' ')
	if idx < 0 {
		return name
	}
	return name[:idx+1] + fmt.Sprintf("%010s", name[idx+1:])
}
