package loop

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"co2mon/internal/broker"
	"co2mon/internal/display"
	"co2mon/internal/sensor"
	"co2mon/internal/telemetry"
	"co2mon/internal/ticks"
)

type fakeSampler struct {
	avail  bool
	snap   sensor.Snapshot
	err    error
	checks int
	reads  int
}

func (f *fakeSampler) Available() bool {
	f.checks++
	return f.avail
}

func (f *fakeSampler) Read() (sensor.Snapshot, error) {
	f.reads++
	if f.err != nil {
		return sensor.Snapshot{}, f.err
	}
	return f.snap, nil
}

type fakePublisher struct {
	state     broker.State
	fail      bool
	attempts  []telemetry.Record
	delivered []telemetry.Record
}

func (f *fakePublisher) Publish(rec telemetry.Record) error {
	f.attempts = append(f.attempts, rec)
	if f.fail {
		f.state = broker.StateDisconnected
		return errors.New("drop: connect: connection refused")
	}
	f.state = broker.StateConnected
	f.delivered = append(f.delivered, rec)
	return nil
}

func (f *fakePublisher) State() broker.State { return f.state }

type fakeRenderer struct {
	dirty  bool
	frames []display.Frame
}

func (f *fakeRenderer) MarkDirty()  { f.dirty = true }
func (f *fakeRenderer) Dirty() bool { return f.dirty }
func (f *fakeRenderer) Redraw(fr display.Frame) {
	f.frames = append(f.frames, fr)
	f.dirty = false
}

type fakeClock struct{ text string }

func (f *fakeClock) Synchronized() bool    { return true }
func (f *fakeClock) FormattedTime() string { return f.text }

type fakeLink struct{ up bool }

func (f *fakeLink) Up() bool { return f.up }
func (f *fakeLink) LocalAddr() string {
	if f.up {
		return "192.168.1.50"
	}
	return ""
}

func testDeps() (*fakeSampler, *fakePublisher, *fakeRenderer, Deps) {
	smp := &fakeSampler{
		avail: true,
		snap:  sensor.Snapshot{CO2: 512, Temperature: 21.3, Humidity: 45.0, Available: true},
	}
	pub := &fakePublisher{state: broker.StateDisconnected}
	ren := &fakeRenderer{}
	deps := Deps{
		Now:          func() uint32 { return 0 },
		Sampler:      smp,
		Publisher:    pub,
		Display:      ren,
		Clock:        &fakeClock{text: "13:52:53"},
		Link:         &fakeLink{up: true},
		Log:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		IdxCO2:       7,
		IdxTempHum:   5,
		PollInterval: 10 * time.Second,
		ClockRefresh: time.Second,
		IdleSleep:    time.Millisecond,
	}
	return smp, pub, ren, deps
}

func TestIdenticalReadingsPublishOnce(t *testing.T) {
	smp, pub, _, deps := testDeps()
	s := New(deps)

	s.Tick(10_000)

	if len(pub.delivered) != 2 {
		t.Fatalf("delivered %d records after first poll, want 2", len(pub.delivered))
	}
	th, co2 := pub.delivered[0], pub.delivered[1]
	if th.Name != "temp+hum" || th.DeviceID != 5 || th.SValue != "21.3;45;1" {
		t.Errorf("temp+hum record = %+v, want idx 5 svalue 21.3;45;1", th)
	}
	if co2.Name != "co2" || co2.DeviceID != 7 || co2.NValue != 512 {
		t.Errorf("co2 record = %+v, want idx 7 nvalue 512", co2)
	}

	// Identical reading: read happens, nothing is published.
	s.Tick(20_000)
	if smp.reads != 2 {
		t.Errorf("sensor reads = %d, want 2", smp.reads)
	}
	if len(pub.attempts) != 2 {
		t.Errorf("publish attempts = %d after identical reading, want 2", len(pub.attempts))
	}
}

func TestMetricGroupsPublishIndependently(t *testing.T) {
	smp, pub, _, deps := testDeps()
	s := New(deps)
	s.Tick(10_000)

	smp.snap.CO2 = 513
	s.Tick(20_000)
	if len(pub.delivered) != 3 {
		t.Fatalf("delivered = %d after co2-only change, want 3", len(pub.delivered))
	}
	if last := pub.delivered[2]; last.Name != "co2" || last.NValue != 513 {
		t.Errorf("record = %+v, want co2 513", last)
	}

	smp.snap.Humidity = 45.1
	s.Tick(30_000)
	if len(pub.delivered) != 4 {
		t.Fatalf("delivered = %d after humidity-only change, want 4", len(pub.delivered))
	}
	if last := pub.delivered[3]; last.Name != "temp+hum" {
		t.Errorf("record = %+v, want combined temp+hum republish", last)
	}
}

func TestDroppedPublishKeepsBaseline(t *testing.T) {
	_, pub, _, deps := testDeps()
	pub.fail = true
	s := New(deps)

	s.Tick(10_000)
	if len(pub.attempts) != 2 || len(pub.delivered) != 0 {
		t.Fatalf("attempts/delivered = %d/%d, want 2/0", len(pub.attempts), len(pub.delivered))
	}

	// Broker back: the same reading is re-detected on the next poll.
	pub.fail = false
	s.Tick(20_000)
	if len(pub.delivered) != 2 {
		t.Fatalf("delivered = %d after broker recovery, want 2", len(pub.delivered))
	}

	// Baselines committed now; no further publishes.
	s.Tick(30_000)
	if len(pub.attempts) != 4 {
		t.Errorf("attempts = %d, want 4", len(pub.attempts))
	}
}

func TestPollSlotConsumedWhenSensorAbsent(t *testing.T) {
	smp, pub, _, deps := testDeps()
	smp.avail = false
	s := New(deps)

	s.Tick(10_000)
	if smp.checks != 1 || smp.reads != 0 {
		t.Errorf("checks/reads = %d/%d, want 1/0", smp.checks, smp.reads)
	}

	// The failed cycle consumed the slot: nothing until the next interval.
	s.Tick(10_500)
	if smp.checks != 1 {
		t.Errorf("checks = %d after half interval, want 1", smp.checks)
	}
	s.Tick(20_000)
	if smp.checks != 2 {
		t.Errorf("checks = %d after full interval, want 2", smp.checks)
	}
	if len(pub.attempts) != 0 {
		t.Errorf("publish attempts = %d with sensor absent, want 0", len(pub.attempts))
	}
}

func TestReadErrorSkipsPublishAndKeepsSnapshot(t *testing.T) {
	smp, pub, ren, deps := testDeps()
	smp.err = errors.New("scd30: read measurement: crc mismatch")
	s := New(deps)

	s.Tick(10_000)
	if len(pub.attempts) != 0 {
		t.Errorf("publish attempts = %d after read error, want 0", len(pub.attempts))
	}
	last := ren.frames[len(ren.frames)-1]
	if last.Reading.Available {
		t.Errorf("frame shows a reading after read error: %+v", last.Reading)
	}
}

func TestClockCadenceDrivesRedraw(t *testing.T) {
	_, _, ren, deps := testDeps()
	clk := deps.Clock.(*fakeClock)
	s := New(deps)

	// Network delta paints the first frame.
	s.Tick(0)
	if len(ren.frames) != 1 {
		t.Fatalf("frames = %d after first tick, want 1", len(ren.frames))
	}
	if ren.frames[0].Clock != "13:52:53" {
		t.Errorf("first frame clock = %q, want primed text", ren.frames[0].Clock)
	}

	// Nothing due: no redraw.
	s.Tick(500)
	if len(ren.frames) != 1 {
		t.Fatalf("frames = %d at 500ms, want 1", len(ren.frames))
	}

	clk.text = "13:52:54"
	s.Tick(1_000)
	if len(ren.frames) != 2 {
		t.Fatalf("frames = %d after clock refresh, want 2", len(ren.frames))
	}
	if got := ren.frames[1]; got.Clock != "13:52:54" || got.Now != 1_000 {
		t.Errorf("frame = {Clock:%q Now:%d}, want {13:52:54 1000}", got.Clock, got.Now)
	}
}

func TestRedrawReflectsSameIterationOutcome(t *testing.T) {
	smp, _, ren, deps := testDeps()
	s := New(deps)
	s.Tick(0)

	s.Tick(10_000)
	last := ren.frames[len(ren.frames)-1]
	if last.Reading != smp.snap {
		t.Errorf("frame reading = %+v, want this iteration's snapshot %+v", last.Reading, smp.snap)
	}
	// The publish outcome of the same pass is already visible.
	if last.Broker != broker.StateConnected {
		t.Errorf("frame broker state = %v, want %v", last.Broker, broker.StateConnected)
	}
	if last.Now != 10_000 {
		t.Errorf("frame now = %d, want 10000", last.Now)
	}
	// One redraw per pass, even with poll and clock both due.
	if len(ren.frames) != 2 {
		t.Errorf("frames = %d, want 2", len(ren.frames))
	}
}

func TestConnectionDeltasRedraw(t *testing.T) {
	_, pub, ren, deps := testDeps()
	link := deps.Link.(*fakeLink)
	s := New(deps)
	s.Tick(0)
	base := len(ren.frames)

	pub.state = broker.StateConnected
	s.Tick(100)
	if len(ren.frames) != base+1 {
		t.Fatalf("frames = %d after broker delta, want %d", len(ren.frames), base+1)
	}
	if got := ren.frames[len(ren.frames)-1].Broker; got != broker.StateConnected {
		t.Errorf("frame broker = %v, want connected", got)
	}

	link.up = false
	s.Tick(200)
	if len(ren.frames) != base+2 {
		t.Fatalf("frames = %d after link delta, want %d", len(ren.frames), base+2)
	}
	if ren.frames[len(ren.frames)-1].NetUp {
		t.Error("frame net state = up, want down")
	}
}

func TestCalibrationToggleRedraws(t *testing.T) {
	_, _, ren, deps := testDeps()
	calibrating := false
	deps.Calibrating = func() bool { return calibrating }
	s := New(deps)
	s.Tick(0)
	base := len(ren.frames)

	calibrating = true
	s.Tick(100)
	if len(ren.frames) != base+1 {
		t.Fatalf("frames = %d after calibration toggle, want %d", len(ren.frames), base+1)
	}
	if !ren.frames[len(ren.frames)-1].Calibrating {
		t.Error("frame calibrating = false, want true")
	}
}

func TestPollSurvivesCounterWraparound(t *testing.T) {
	smp, _, _, deps := testDeps()
	s := New(deps)

	s.Tick(math.MaxUint32 - 5_000)
	if smp.reads != 1 {
		t.Fatalf("reads = %d near counter max, want 1", smp.reads)
	}

	// 10s later the counter has wrapped to a small value.
	s.Tick(4_999)
	if smp.reads != 2 {
		t.Errorf("reads = %d across wraparound, want 2", smp.reads)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	_, _, _, deps := testDeps()
	deps.Now = ticks.Now
	s := New(deps)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Run(ctx); err != nil {
		t.Errorf("Run() error = %v, want nil on cancel", err)
	}
}
