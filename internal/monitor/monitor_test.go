package monitor

import (
	"context"
	"errors"
	"image"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/sweeney/trimmer-monitor/internal/camera"
	"github.com/sweeney/trimmer-monitor/internal/gpio"
	"github.com/sweeney/trimmer-monitor/internal/logic"
	"github.com/sweeney/trimmer-monitor/internal/mqtt"
	"github.com/sweeney/trimmer-monitor/internal/status"
	"github.com/sweeney/trimmer-monitor/internal/store"
	"github.com/sweeney/trimmer-monitor/internal/vision"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// scriptedDetector returns scripted samples regardless of the frame; the
// last sample repeats.
type scriptedDetector struct {
	mu      sync.Mutex
	samples []vision.Sample
	i       int
	panics  bool
}

func (d *scriptedDetector) Sample(image.Image, vision.DetectionConfig) vision.Sample {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.panics {
		panic("detector exploded")
	}
	if len(d.samples) == 0 {
		return vision.Sample{}
	}
	s := d.samples[d.i]
	if d.i < len(d.samples)-1 {
		d.i++
	}
	return s
}

func (d *scriptedDetector) push(samples ...vision.Sample) {
	d.mu.Lock()
	d.samples = append(d.samples[:d.i], samples...)
	d.mu.Unlock()
}

var (
	absent  = vision.Sample{Present: false, Area: 0}
	present = vision.Sample{Present: true, Area: 600}
)

type harness struct {
	session   *Session
	clock     *fakeClock
	camera    *camera.FakeSource
	detector  *scriptedDetector
	store     *store.Fake
	publisher *mqtt.FakePublisher
	indicator *gpio.FakeIndicator
	tracker   *status.Tracker
	live      *status.LiveConfig
	eventLog  *status.EventLog
	sleeps    []time.Duration
}

func newHarness(t *testing.T, mod func(*Options)) *harness {
	t.Helper()
	h := &harness{
		clock:     &fakeClock{t: time.Date(2026, 3, 4, 8, 0, 0, 0, time.UTC)},
		camera:    camera.NewFakeSource(image.NewGray(image.Rect(0, 0, 640, 480))),
		detector:  &scriptedDetector{},
		store:     store.NewFake(store.MachineConfig{MachineID: 7, Name: "Trimmer 7", Detection: vision.DefaultConfig}),
		publisher: mqtt.NewFakePublisher(),
		indicator: gpio.NewFakeIndicator(),
		live:      status.NewLiveConfig(vision.DefaultConfig),
		eventLog:  status.NewEventLog(0),
	}
	h.tracker = status.NewTracker(h.clock.Now(), status.Info{MachineID: 7, MachineName: "Trimmer 7"})

	opts := Options{
		MachineID:   7,
		MachineName: "Trimmer 7",
		Camera:      h.camera,
		Detector:    h.detector,
		Backend:     h.store,
		Publisher:   h.publisher,
		MQTT:        h.publisher,
		Indicator:   h.indicator,
		Tracker:     h.tracker,
		Live:        h.live,
		EventLog:    h.eventLog,
		Now:         h.clock.Now,
		Sleep:       func(_ context.Context, d time.Duration) { h.sleeps = append(h.sleeps, d) },
	}
	if mod != nil {
		mod(&opts)
	}
	s, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.session = s
	return h
}

// step advances the clock by 100ms and runs one iteration.
func (h *harness) step(t *testing.T) error {
	t.Helper()
	h.clock.Advance(100 * time.Millisecond)
	return h.session.Step(context.Background())
}

// feed scripts samples and steps once per sample, failing on any error.
func (h *harness) feed(t *testing.T, samples ...vision.Sample) {
	t.Helper()
	h.detector.push(samples...)
	for range samples {
		if err := h.step(t); err != nil {
			t.Fatalf("step: %v", err)
		}
	}
}

func repeat(s vision.Sample, n int) []vision.Sample {
	out := make([]vision.Sample, n)
	for i := range out {
		out[i] = s
	}
	return out
}

func eventTypes(recs []store.EventRecord) []string {
	var out []string
	for _, r := range recs {
		out = append(out, r.Type)
	}
	return out
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("expected error without camera")
	}
	if _, err := New(Options{Camera: camera.NewFakeSource()}); err == nil {
		t.Error("expected error without backend")
	}
	if _, err := New(Options{Camera: camera.NewFakeSource(), Backend: store.NewFake()}); err == nil {
		t.Error("expected error without tracker")
	}
}

func TestFullCycle(t *testing.T) {
	h := newHarness(t, nil)
	h.store.SetLot(7, "L-42")

	h.feed(t, absent, present)
	h.feed(t, repeat(present, 12)...)
	if got := h.session.State().Phase; got != logic.PhaseTrimming {
		t.Fatalf("phase after dwell: got %s, want TRIMMING", got)
	}
	if h.tracker.Snapshot().TotalCycles != 0 {
		t.Error("total_cycles should still be 0")
	}
	h.feed(t, present, absent)

	recs := h.store.GetEvents()
	if diff := cmp.Diff([]string{"placed_in", "pushed_out", "cycle_complete"}, eventTypes(recs)); diff != "" {
		t.Fatalf("events (-want +got):\n%s", diff)
	}
	id := recs[0].CycleID
	for _, r := range recs {
		if r.CycleID != id || r.Lot != "L-42" || r.MachineID != 7 {
			t.Errorf("%s: cycle %d lot %q machine %d", r.Type, r.CycleID, r.Lot, r.MachineID)
		}
	}
	if recs[0].Area == nil || *recs[0].Area != 600 {
		t.Errorf("placed_in area: got %v", recs[0].Area)
	}
	if !strings.HasPrefix(recs[1].Detail, "duration_sec:") {
		t.Errorf("pushed_out detail: got %q", recs[1].Detail)
	}
	if !strings.HasPrefix(recs[2].Detail, "cycle_time_sec:") || recs[2].Area != nil {
		t.Errorf("cycle_complete: detail %q area %v", recs[2].Detail, recs[2].Area)
	}

	if got := len(h.publisher.GetEvents()); got != 3 {
		t.Errorf("mqtt events: got %d, want 3", got)
	}

	snap := h.tracker.Snapshot()
	if snap.TotalCycles != 1 || snap.CyclesPerHour != 1 {
		t.Errorf("counters: total %d cph %d", snap.TotalCycles, snap.CyclesPerHour)
	}
	if snap.Phase != logic.PhaseEmpty || snap.CycleID != 0 || snap.Lot != "" {
		t.Errorf("state after cycle: %s %d %q", snap.Phase, snap.CycleID, snap.Lot)
	}
	if len(snap.JPEG) == 0 {
		t.Error("expected a published JPEG")
	}
	if !snap.StoreConnected {
		t.Error("store should be reported connected")
	}

	var msgs []string
	for _, e := range h.eventLog.Recent() {
		msgs = append(msgs, e.Message)
	}
	joined := strings.Join(msgs, "|")
	for _, want := range []string{"PLACED - Cycle", "(Lot: L-42)", "TRIMMING - Cycle", "PUSHED - Cycle complete"} {
		if !strings.Contains(joined, want) {
			t.Errorf("event log missing %q: %v", want, msgs)
		}
	}

	want := []gpio.Signal{gpio.SignalIdle, gpio.SignalPlaced, gpio.SignalTrimming, gpio.SignalIdle}
	if diff := cmp.Diff(want, h.indicator.History()); diff != "" {
		t.Errorf("stack light (-want +got):\n%s", diff)
	}
}

func TestFalseStart(t *testing.T) {
	h := newHarness(t, nil)
	h.feed(t, absent, present, absent)

	if diff := cmp.Diff([]string{"placed_in"}, eventTypes(h.store.GetEvents())); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
	snap := h.tracker.Snapshot()
	if snap.Phase != logic.PhaseEmpty || snap.TotalCycles != 0 {
		t.Errorf("got phase %s total %d", snap.Phase, snap.TotalCycles)
	}
	if snap.Counts.FalseStarts != 1 {
		t.Errorf("false starts: got %d, want 1", snap.Counts.FalseStarts)
	}
	if !strings.Contains(h.eventLog.Recent()[0].Message, "Part removed too quickly") {
		t.Errorf("expected false-start warning, got %q", h.eventLog.Recent()[0].Message)
	}
}

func TestSinkFailureDoesNotStopCycle(t *testing.T) {
	h := newHarness(t, nil)
	h.store.SetEventErr(errors.New("db down"))

	h.feed(t, present)
	h.feed(t, repeat(present, 12)...)
	h.feed(t, absent)

	if got := h.session.State().Phase; got != logic.PhaseEmpty {
		t.Errorf("phase: got %s, want EMPTY", got)
	}
	snap := h.tracker.Snapshot()
	if snap.TotalCycles != 1 {
		t.Errorf("total_cycles: got %d, want 1", snap.TotalCycles)
	}
	if snap.StoreConnected {
		t.Error("store should be reported disconnected")
	}
	if snap.Degraded || snap.ConsecutiveFailures != 0 {
		t.Error("sink failures must not count as iteration failures")
	}
	if got := len(h.publisher.GetEvents()); got != 3 {
		t.Errorf("mqtt mirror should still get 3 events, got %d", got)
	}
}

func TestLotLookupFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.store.LotErr = errors.New("timeout")

	h.feed(t, present)
	recs := h.store.GetEvents()
	if len(recs) != 1 || recs[0].Lot != "" {
		t.Fatalf("expected placed_in without lot, got %+v", recs)
	}
	if h.session.State().CycleID == 0 {
		t.Error("cycle should still start")
	}
}

func TestDegradedAfterConsecutiveFailures(t *testing.T) {
	h := newHarness(t, nil)
	h.camera.SetError(errors.New("camera unplugged"))

	for i := 1; i <= DegradedAfter; i++ {
		if err := h.step(t); err == nil {
			t.Fatalf("step %d: expected error", i)
		}
		degraded := h.tracker.Snapshot().Degraded
		if want := i >= DegradedAfter; degraded != want {
			t.Errorf("after %d failures: degraded=%v, want %v", i, degraded, want)
		}
	}
	snap := h.tracker.Snapshot()
	if snap.ConsecutiveFailures != DegradedAfter || !strings.Contains(snap.LastError, "camera unplugged") {
		t.Errorf("health: %+v", snap.Health)
	}
	if h.indicator.Current() != gpio.SignalDegraded {
		t.Errorf("stack light: got %s", h.indicator.Current())
	}

	h.camera.SetError(nil)
	for i := 1; i <= RecoverAfter; i++ {
		if err := h.step(t); err != nil {
			t.Fatalf("recovery step %d: %v", i, err)
		}
		if want := i < RecoverAfter; h.session.Degraded() != want {
			t.Errorf("after %d good steps: degraded=%v, want %v", i, h.session.Degraded(), want)
		}
	}
	if h.indicator.Current() != gpio.SignalIdle {
		t.Errorf("stack light after recovery: got %s", h.indicator.Current())
	}
	if h.tracker.Snapshot().LastError != "" {
		t.Error("last error should clear on recovery")
	}
}

func TestFailureStreakResetsOnSuccess(t *testing.T) {
	h := newHarness(t, nil)
	for i := 0; i < 5; i++ {
		h.camera.SetError(errors.New("glitch"))
		h.step(t)
		h.step(t)
		h.camera.SetError(nil)
		h.step(t)
	}
	if h.session.Degraded() {
		t.Error("non-consecutive failures must not degrade")
	}
}

func TestPanicIsRecovered(t *testing.T) {
	h := newHarness(t, nil)
	h.detector.panics = true

	err := h.step(t)
	if err == nil || !strings.Contains(err.Error(), "detector exploded") {
		t.Fatalf("expected recovered panic, got %v", err)
	}
	if h.tracker.Snapshot().ConsecutiveFailures != 1 {
		t.Error("panic should count as a failure")
	}
}

func TestOutOfBoundsRegion(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Detector = vision.ThresholdDetector{} })
	if err := h.live.SetRegion(vision.Region{X: 700, Y: 0, W: 50, H: 50}); err != nil {
		t.Fatal(err)
	}
	if err := h.step(t); err != nil {
		t.Fatalf("out of bounds region should not fail: %v", err)
	}
	if got := h.tracker.Snapshot().Detection.Region.X; got != 700 {
		t.Errorf("published config: got x=%d", got)
	}
}

func TestTelemetry(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.TelemetryInterval = time.Second })

	h.feed(t, present)
	h.feed(t, repeat(present, 12)...)
	h.feed(t, repeat(absent, 10)...)

	tel := h.store.GetTelemetry()
	if len(tel) < 2 {
		t.Fatalf("expected two telemetry rows, got %d", len(tel))
	}
	last := tel[len(tel)-1]
	if last.Status != store.StatusOnline || last.CyclesLastHour != 1 || last.MachineID != 7 {
		t.Errorf("telemetry: %+v", last)
	}

	var heartbeats int
	for _, name := range h.publisher.SystemEventNames() {
		if name == "HEARTBEAT" {
			heartbeats++
		}
	}
	if heartbeats != len(tel) {
		t.Errorf("heartbeats: got %d, want %d", heartbeats, len(tel))
	}
}

func TestDegradedTelemetryWithoutFrames(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.TelemetryInterval = time.Second })
	h.camera.SetError(errors.New("camera unplugged"))

	for i := 0; i < 12; i++ {
		h.step(t)
	}
	tel := h.store.GetTelemetry()
	if len(tel) == 0 {
		t.Fatal("telemetry must continue while frames fail")
	}
	last := tel[len(tel)-1]
	if last.Status != store.StatusDegraded || last.ErrorCode != errCodeLoopFailures || !strings.Contains(last.ErrorText, "camera unplugged") {
		t.Errorf("telemetry: %+v", last)
	}
}

func TestSpoolFlushedOnTelemetry(t *testing.T) {
	fake := store.NewFake()
	spool := store.NewSpool(fake, 10, nil)
	h := newHarness(t, func(o *Options) {
		o.Backend = fake
		o.Events = spool
		o.TelemetryInterval = time.Second
	})

	fake.SetEventErr(errors.New("db down"))
	h.feed(t, present)
	if spool.Pending() != 1 {
		t.Fatalf("pending: got %d, want 1", spool.Pending())
	}

	fake.SetEventErr(nil)
	h.feed(t, repeat(present, 10)...)
	if spool.Pending() != 0 {
		t.Errorf("pending after telemetry: got %d, want 0", spool.Pending())
	}
	if diff := cmp.Diff([]string{"placed_in"}, eventTypes(fake.GetEvents())); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
}

func TestCancelledStepStillRecordsCycle(t *testing.T) {
	fake := store.NewFake()
	spool := store.NewSpool(fake, 10, nil)
	h := newHarness(t, func(o *Options) {
		o.Backend = fake
		o.Events = spool
	})

	h.feed(t, present)
	h.feed(t, repeat(present, 12)...)
	if got := h.session.State().Phase; got != logic.PhaseTrimming {
		t.Fatalf("phase: got %s, want TRIMMING", got)
	}

	// The part leaves in the iteration during which the loop is told to stop.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h.detector.push(absent)
	h.clock.Advance(100 * time.Millisecond)
	if err := h.session.Step(ctx); err != nil {
		t.Fatalf("step: %v", err)
	}

	if diff := cmp.Diff([]string{"placed_in", "pushed_out", "cycle_complete"}, eventTypes(fake.GetEvents())); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
	if spool.Pending() != 0 {
		t.Errorf("pending: got %d, want 0", spool.Pending())
	}
	if got := h.tracker.Snapshot().TotalCycles; got != 1 {
		t.Errorf("total_cycles: got %d, want 1", got)
	}
}

func TestShutdownFlushesSpool(t *testing.T) {
	fake := store.NewFake()
	spool := store.NewSpool(fake, 10, nil)
	h := newHarness(t, func(o *Options) {
		o.Backend = fake
		o.Events = spool
	})

	fake.SetEventErr(errors.New("db down"))
	h.feed(t, present)
	h.feed(t, repeat(present, 12)...)
	h.feed(t, absent)
	if spool.Pending() != 3 {
		t.Fatalf("pending: got %d, want 3", spool.Pending())
	}

	fake.SetEventErr(nil)
	if err := h.session.Shutdown(context.Background(), "SIGTERM"); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	if diff := cmp.Diff([]string{"placed_in", "pushed_out", "cycle_complete"}, eventTypes(fake.GetEvents())); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
	if spool.Pending() != 0 {
		t.Errorf("pending after shutdown: got %d, want 0", spool.Pending())
	}
	tel := fake.GetTelemetry()
	if len(tel) != 1 || tel[0].Status != store.StatusOffline {
		t.Errorf("offline telemetry: %+v", tel)
	}
}

func TestPublishedFrameCarriesItsHealth(t *testing.T) {
	h := newHarness(t, nil)
	h.camera.SetError(errors.New("camera unplugged"))
	for i := 0; i < DegradedAfter; i++ {
		h.step(t)
	}
	h.camera.SetError(nil)

	for i := 1; i <= RecoverAfter; i++ {
		before := h.tracker.Snapshot().Seq
		h.feed(t, absent)
		snap := h.tracker.Snapshot()
		if snap.Seq != before+1 {
			t.Fatalf("step %d: frame not published", i)
		}
		if snap.Degraded != h.session.Degraded() || snap.ConsecutiveFailures != 0 {
			t.Errorf("step %d: frame health %+v, session degraded %v", i, snap.Health, h.session.Degraded())
		}
	}
	if h.tracker.Snapshot().Degraded {
		t.Error("should have recovered")
	}
}

func TestConfigUpdateDuringCycle(t *testing.T) {
	h := newHarness(t, nil)
	h.store.SetLot(7, "L-7")

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			h.live.SetThreshold(i % 256)
			h.live.SetRegion(vision.Region{X: i % 500, Y: 10, W: 40, H: 40})
			h.live.SetMinArea(i % 1000)
		}
	}()

	h.feed(t, present)
	id := h.session.State().CycleID
	h.feed(t, repeat(present, 12)...)
	if st := h.session.State(); st.CycleID != id || st.Lot != "L-7" {
		t.Errorf("cycle changed mid-flight: %d/%q, want %d/L-7", st.CycleID, st.Lot, id)
	}
	h.feed(t, absent)
	close(stop)
	wg.Wait()

	for _, r := range h.store.GetEvents() {
		if r.CycleID != id || r.Lot != "L-7" {
			t.Errorf("%s: cycle %d lot %q", r.Type, r.CycleID, r.Lot)
		}
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t, nil)
	h.detector.push(present)

	tick := make(chan time.Time)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.session.Run(ctx, tick) }()

	for i := 0; i < 3; i++ {
		tick <- time.Now()
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if h.camera.Grabs != 3 {
		t.Errorf("grabs: got %d, want 3", h.camera.Grabs)
	}
}

func TestRunBacksOffAfterFailure(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Backoff = 250 * time.Millisecond })
	h.camera.SetError(errors.New("camera unplugged"))

	tick := make(chan time.Time)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.session.Run(ctx, tick) }()

	tick <- time.Now()
	tick <- time.Now()
	cancel()
	<-done

	if diff := cmp.Diff([]time.Duration{250 * time.Millisecond, 250 * time.Millisecond}, h.sleeps); diff != "" {
		t.Errorf("backoff (-want +got):\n%s", diff)
	}
}

func TestStartAndShutdown(t *testing.T) {
	h := newHarness(t, nil)
	h.session.Start(context.Background(), store.Device{DeviceID: "pi-trim-7", IP: "10.0.0.7"})

	if len(h.store.Devices) != 1 || h.store.Devices[0].MachineID != 7 {
		t.Errorf("device registration: %+v", h.store.Devices)
	}
	if h.indicator.Current() != gpio.SignalIdle {
		t.Errorf("stack light: got %s", h.indicator.Current())
	}

	h.feed(t, present)
	if err := h.session.Shutdown(context.Background(), "SIGTERM"); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	if diff := cmp.Diff([]string{"STARTUP", "SHUTDOWN"}, h.publisher.SystemEventNames()); diff != "" {
		t.Errorf("system events (-want +got):\n%s", diff)
	}
	sys := h.publisher.SystemEvents
	if !sys[0].Retained || !sys[1].Retained || sys[1].Reason != "SIGTERM" {
		t.Errorf("system events: %+v", sys)
	}
	if !strings.Contains(string(sys[1].RawPayload), `"event":"SHUTDOWN"`) {
		t.Errorf("shutdown payload: %s", sys[1].RawPayload)
	}

	tel := h.store.GetTelemetry()
	if len(tel) != 1 || tel[0].Status != store.StatusOffline {
		t.Errorf("offline telemetry: %+v", tel)
	}
	if !h.camera.IsClosed() || !h.indicator.Closed {
		t.Error("camera and stack light should be released")
	}
	if h.indicator.Current() != gpio.SignalOff {
		t.Errorf("stack light should be off, got %s", h.indicator.Current())
	}
}
