// Package loop runs the cooperative sampling/publish/redraw pipeline.
// One goroutine owns all mutable state; components only ever run
// inside its call chain, so nothing here needs locking.
package loop

import (
	"context"
	"log/slog"
	"time"

	"co2mon/internal/broker"
	"co2mon/internal/clock"
	"co2mon/internal/display"
	"co2mon/internal/netwait"
	"co2mon/internal/sensor"
	"co2mon/internal/telemetry"
	"co2mon/internal/ticks"
)

// Sampler is the sensor-facing side of the pipeline.
type Sampler interface {
	Available() bool
	Read() (sensor.Snapshot, error)
}

// Publisher is the broker-facing side of the pipeline.
type Publisher interface {
	Publish(rec telemetry.Record) error
	State() broker.State
}

// Renderer is the display-facing side of the pipeline.
type Renderer interface {
	MarkDirty()
	Dirty() bool
	Redraw(f display.Frame)
}

// Deps wires the scheduler to its collaborators.
type Deps struct {
	Now       func() uint32
	Sampler   Sampler
	Publisher Publisher
	Display   Renderer
	Clock     clock.Source
	Link      netwait.Link
	Log       *slog.Logger

	// Calibrating reports whether sensor self-calibration is active;
	// the display swaps the readings row for a banner while it is.
	Calibrating func() bool

	IdxCO2     int
	IdxTempHum int

	PollInterval time.Duration
	ClockRefresh time.Duration
	IdleSleep    time.Duration
}

// state is the single-owner application state. Only the scheduler
// goroutine touches it.
type state struct {
	lastPoll  uint32
	lastClock uint32

	current     sensor.Snapshot
	clockText   string
	netUp       bool
	brokerState broker.State
	calibrating bool

	detector telemetry.Detector
}

// Scheduler ties timers, sensor, detector, publisher and display
// together, one cooperative pass at a time.
type Scheduler struct {
	deps Deps
	log  *slog.Logger

	pollMs  uint32
	clockMs uint32

	st state
}

func New(deps Deps) *Scheduler {
	if deps.Calibrating == nil {
		deps.Calibrating = func() bool { return false }
	}
	s := &Scheduler{
		deps:    deps,
		log:     deps.Log.With("subsys", "loop"),
		pollMs:  uint32(deps.PollInterval.Milliseconds()),
		clockMs: uint32(deps.ClockRefresh.Milliseconds()),
	}
	// Prime the clock text so the first frame is not blank.
	s.st.clockText = deps.Clock.FormattedTime()
	return s
}

// Tick runs one cooperative pass. Order is fixed: timers, poll and
// publish, state deltas, redraw. The redraw always reflects this
// pass's own poll and publish outcome.
func (s *Scheduler) Tick(now uint32) {
	if ticks.Due(now, s.st.lastClock, s.clockMs) {
		s.st.lastClock = now
		s.st.clockText = s.deps.Clock.FormattedTime()
		s.deps.Display.MarkDirty()
	}

	if ticks.Due(now, s.st.lastPoll, s.pollMs) {
		// The poll slot is consumed even when the sensor is absent;
		// the next attempt waits a full interval.
		s.st.lastPoll = now
		s.poll()
	}

	if up := s.deps.Link.Up(); up != s.st.netUp {
		s.st.netUp = up
		s.log.Info("network state changed", "up", up)
		s.deps.Display.MarkDirty()
	}
	if bs := s.deps.Publisher.State(); bs != s.st.brokerState {
		s.st.brokerState = bs
		s.deps.Display.MarkDirty()
	}
	if cal := s.deps.Calibrating(); cal != s.st.calibrating {
		s.st.calibrating = cal
		s.log.Info("calibration state changed", "active", cal)
		s.deps.Display.MarkDirty()
	}

	if s.deps.Display.Dirty() {
		s.deps.Display.Redraw(display.Frame{
			Clock:       s.st.clockText,
			NetUp:       s.st.netUp,
			Broker:      s.st.brokerState,
			Reading:     s.st.current,
			Calibrating: s.st.calibrating,
			Now:         now,
		})
	}
}

// poll reads the sensor and publishes whatever changed. Baselines move
// only for records the broker actually delivered; a dropped record is
// re-detected on the next natural poll.
func (s *Scheduler) poll() {
	if !s.deps.Sampler.Available() {
		s.log.Warn("sensor not ready, skipping poll")
		return
	}
	snap, err := s.deps.Sampler.Read()
	if err != nil {
		s.log.Warn("sensor read failed", "error", err)
		return
	}

	s.st.current = snap
	// The display always shows the latest reading, published or not.
	s.deps.Display.MarkDirty()

	pair, co2 := s.st.detector.Changed(snap)
	if pair {
		rec := telemetry.NewTempHumRecord(s.deps.IdxTempHum, snap.Temperature, snap.Humidity)
		if err := s.deps.Publisher.Publish(rec); err != nil {
			s.log.Debug("temp+hum baseline kept", "error", err)
		} else {
			s.st.detector.CommitPair(snap)
		}
	}
	if co2 {
		rec := telemetry.NewCO2Record(s.deps.IdxCO2, snap.CO2)
		if err := s.deps.Publisher.Publish(rec); err != nil {
			s.log.Debug("co2 baseline kept", "error", err)
		} else {
			s.st.detector.CommitCO2(snap)
		}
	}
}

// Run ticks forever until ctx is canceled. The short sleep between
// passes is the cooperative yield; everything else in a pass is
// non-blocking except the broker's bounded connect handshake.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("loop started",
		"poll_interval", s.deps.PollInterval,
		"clock_refresh", s.deps.ClockRefresh,
	)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("loop stopped")
			return nil
		default:
		}
		s.Tick(s.deps.Now())
		time.Sleep(s.deps.IdleSleep)
	}
}
