// Package monitor runs the trimmer cycle loop: it pulls frames, samples
// presence, drives the cycle machine, and hands events, telemetry and the
// annotated frame to their consumers.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/sweeney/trimmer-monitor/internal/camera"
	"github.com/sweeney/trimmer-monitor/internal/gpio"
	"github.com/sweeney/trimmer-monitor/internal/logic"
	"github.com/sweeney/trimmer-monitor/internal/mqtt"
	"github.com/sweeney/trimmer-monitor/internal/status"
	"github.com/sweeney/trimmer-monitor/internal/store"
	"github.com/sweeney/trimmer-monitor/internal/vision"
)

const (
	// DefaultPoll is the loop period.
	DefaultPoll = 100 * time.Millisecond

	// DefaultBackoff is the pause after a failed iteration.
	DefaultBackoff = time.Second

	// DegradedAfter consecutive failed iterations mark the monitor DEGRADED.
	DegradedAfter = 3

	// RecoverAfter consecutive good iterations clear DEGRADED.
	RecoverAfter = 3
)

// Backend is the part of the store the loop talks to directly.
type Backend interface {
	store.TelemetrySink
	ActiveLot(ctx context.Context, machineID int) (string, error)
	RegisterDevice(ctx context.Context, d store.Device) error
}

// Options holds the collaborators of a Session. Camera, Backend, Tracker and
// Live are required.
type Options struct {
	MachineID   int
	MachineName string

	Camera   camera.Source
	Detector vision.Detector
	Renderer *vision.Renderer
	Backend  Backend
	// Events receives lifecycle events; defaults to Backend if it is an
	// EventSink.
	Events    store.EventSink
	Publisher mqtt.Publisher
	MQTT      mqtt.ConnectionStatus
	Indicator gpio.Indicator

	Tracker  *status.Tracker
	Live     *status.LiveConfig
	EventLog *status.EventLog

	Dwell             time.Duration
	TelemetryInterval time.Duration
	Backoff           time.Duration

	// Network refreshes network info for heartbeats. Optional.
	Network func() *status.NetworkInfo

	Logger *slog.Logger
	Now    func() time.Time
	Sleep  func(ctx context.Context, d time.Duration)
}

// Session is one run of the monitor. Only its loop goroutine touches the
// cycle state.
type Session struct {
	machineID   int
	machineName string

	camera    camera.Source
	detector  vision.Detector
	renderer  *vision.Renderer
	backend   Backend
	events    store.EventSink
	publisher mqtt.Publisher
	mqtt      mqtt.ConnectionStatus
	indicator gpio.Indicator

	tracker  *status.Tracker
	live     *status.LiveConfig
	eventLog *status.EventLog
	network  func() *status.NetworkInfo

	machine   *logic.Machine
	telemetry *logic.Telemetry

	backoff time.Duration
	log     *slog.Logger
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration)

	failures  int
	successes int
	degraded  bool
	lastErr   string
	clamped   bool
	lastJPEG  []byte
}

// New validates opts and builds a Session. The cycle machine and telemetry
// window start at opts.Now().
func New(opts Options) (*Session, error) {
	if opts.Camera == nil {
		return nil, errors.New("monitor: camera is required")
	}
	if opts.Backend == nil {
		return nil, errors.New("monitor: backend is required")
	}
	if opts.Tracker == nil || opts.Live == nil {
		return nil, errors.New("monitor: tracker and live config are required")
	}
	if opts.Events == nil {
		sink, ok := opts.Backend.(store.EventSink)
		if !ok {
			return nil, errors.New("monitor: event sink is required")
		}
		opts.Events = sink
	}
	if opts.Detector == nil {
		opts.Detector = vision.ThresholdDetector{}
	}
	if opts.Renderer == nil {
		opts.Renderer = vision.NewRenderer(0)
	}
	if opts.Indicator == nil {
		opts.Indicator = gpio.Nop{}
	}
	if opts.EventLog == nil {
		opts.EventLog = status.NewEventLog(0)
	}
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepCtx
	}

	start := opts.Now()
	return &Session{
		machineID:   opts.MachineID,
		machineName: opts.MachineName,
		camera:      opts.Camera,
		detector:    opts.Detector,
		renderer:    opts.Renderer,
		backend:     opts.Backend,
		events:      opts.Events,
		publisher:   opts.Publisher,
		mqtt:        opts.MQTT,
		indicator:   opts.Indicator,
		tracker:     opts.Tracker,
		live:        opts.Live,
		eventLog:    opts.EventLog,
		network:     opts.Network,
		machine:     logic.NewMachine(opts.Dwell, start),
		telemetry:   logic.NewTelemetry(start, opts.TelemetryInterval),
		backoff:     opts.Backoff,
		log:         opts.Logger.With("machine_id", opts.MachineID),
		now:         opts.Now,
		sleep:       opts.Sleep,
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Run steps the loop on every tick until ctx is cancelled. The current
// iteration always finishes before Run returns.
func (s *Session) Run(ctx context.Context, tick <-chan time.Time) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			if err := s.Step(ctx); err != nil {
				s.sleep(ctx, s.backoff)
			}
		}
	}
}

// Step runs one iteration and records its outcome. Telemetry is checked
// whether or not the iteration succeeded.
//
// Store writes run on a context detached from ctx so that an iteration which
// has already moved the cycle machine still records its events when ctx is
// cancelled mid-iteration. The store bounds each call with its own timeout.
func (s *Session) Step(ctx context.Context) error {
	now := s.now()
	persist := context.WithoutCancel(ctx)

	p, err := s.iterate(ctx, persist, now)
	health := s.recordOutcome(err)
	if p != nil {
		s.publish(p, health)
	} else {
		s.tracker.SetHealth(health)
	}
	if snap := s.telemetry.CheckReport(now); snap != nil {
		s.reportTelemetry(persist, *snap)
	}
	return err
}

// pass is what a successful iteration hands to publish.
type pass struct {
	frame  image.Image
	cfg    vision.DetectionConfig
	sample vision.Sample
	state  logic.State
	now    time.Time
}

func (s *Session) iterate(ctx, persist context.Context, now time.Time) (p *pass, err error) {
	defer func() {
		if r := recover(); r != nil {
			p, err = nil, fmt.Errorf("panic in iteration: %v", r)
		}
	}()

	cfg := s.live.Get()
	frame, err := s.camera.Grab(ctx)
	if err != nil {
		return nil, fmt.Errorf("grab frame: %w", err)
	}

	sample := s.detector.Sample(frame, cfg)
	if sample.Clamped != s.clamped {
		s.clamped = sample.Clamped
		if sample.Clamped {
			s.log.Warn("region outside frame, sampling full frame",
				"x", cfg.Region.X, "y", cfg.Region.Y, "w", cfg.Region.W, "h", cfg.Region.H,
				"frame", frame.Bounds().String())
		}
	}

	prev := s.machine.State()
	events := s.machine.Process(logic.Input{Present: sample.Present, Area: sample.Area, Time: now})
	for i := range events {
		ev := &events[i]
		if ev.Type == logic.EventPlacedIn {
			ev.Lot = s.lookupLot(persist, ev.CycleID)
		}
		s.emit(persist, *ev)
		if ev.Type == logic.EventCycleComplete {
			s.telemetry.RecordCompletion(now)
		}
	}
	cur := s.machine.State()
	s.noteTransition(prev, cur, events, now)

	return &pass{frame: frame, cfg: cfg, sample: sample, state: cur, now: now}, nil
}

// publish renders the overlay and swaps the frame and health into the
// tracker in one update. A failed render keeps the previous JPEG.
func (s *Session) publish(p *pass, health status.Health) {
	cur := p.state
	jpg, err := s.render(p, health.Degraded)
	if err != nil {
		s.log.Warn("render overlay failed", "error", err)
		jpg = s.lastJPEG
	}
	s.lastJPEG = jpg

	tel := s.telemetry.Snapshot(p.now)
	s.tracker.Publish(status.Frame{
		Present:       p.sample.Present,
		Area:          p.sample.Area,
		Phase:         cur.Phase,
		CycleID:       cur.CycleID,
		Lot:           cur.Lot,
		TotalCycles:   tel.TotalCycles,
		CyclesPerHour: tel.CyclesPerHour,
		Counts:        s.machine.Counts(),
		Detection:     p.cfg,
		JPEG:          jpg,
		Time:          p.now,
	}, health)
	if s.mqtt != nil {
		s.tracker.SetMQTTConnected(s.mqtt.IsConnected())
	}
	if !s.degraded {
		s.showSignal(signalFor(cur.Phase))
	}
}

func (s *Session) render(p *pass, degraded bool) (jpg []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			jpg, err = nil, fmt.Errorf("panic in render: %v", r)
		}
	}()
	return s.renderer.Render(p.frame, vision.Overlay{
		Region:   p.cfg.Region,
		Tone:     toneFor(p.state.Phase, p.sample.Present),
		Phase:    string(p.state.Phase),
		Area:     p.sample.Area,
		Lot:      p.state.Lot,
		Degraded: degraded,
	})
}

// lookupLot fetches the active lot for a new cycle and attaches it to the
// machine state. A failed lookup leaves the cycle without a lot.
func (s *Session) lookupLot(ctx context.Context, cycleID int64) string {
	lot, err := s.backend.ActiveLot(ctx, s.machineID)
	if err != nil {
		s.log.Warn("active lot lookup failed", "cycle_id", cycleID, "error", err)
		s.tracker.SetStoreConnected(false)
		return ""
	}
	s.machine.AssignLot(cycleID, lot)
	return lot
}

// recordOutcome updates the failure streak and returns the loop health to
// publish with this iteration.
func (s *Session) recordOutcome(err error) status.Health {
	if err != nil {
		s.successes = 0
		s.failures++
		s.lastErr = err.Error()
		s.log.Error("iteration failed", "error", err, "consecutive", s.failures)
		if !s.degraded && s.failures >= DegradedAfter {
			s.degraded = true
			s.log.Error("monitor degraded", "consecutive_failures", s.failures)
			s.eventLog.Add(s.now(), fmt.Sprintf("DEGRADED - %d consecutive failures", s.failures))
			s.showSignal(gpio.SignalDegraded)
		}
	} else {
		s.failures = 0
		if s.degraded {
			s.successes++
			if s.successes >= RecoverAfter {
				s.degraded = false
				s.successes = 0
				s.lastErr = ""
				s.log.Info("monitor recovered")
				s.eventLog.Add(s.now(), "RECOVERED")
				s.showSignal(signalFor(s.machine.Phase()))
			}
		} else {
			s.lastErr = ""
		}
	}
	return status.Health{
		Degraded:            s.degraded,
		ConsecutiveFailures: s.failures,
		LastError:           s.lastErr,
	}
}

func (s *Session) showSignal(sig gpio.Signal) {
	if err := s.indicator.Show(sig); err != nil {
		s.log.Warn("stack light update failed", "signal", sig.String(), "error", err)
	}
}

// Degraded reports whether the loop is currently DEGRADED.
func (s *Session) Degraded() bool {
	return s.degraded
}

// State returns the current cycle state. Only safe from the loop goroutine
// or after Run has returned.
func (s *Session) State() logic.State {
	return s.machine.State()
}

func toneFor(p logic.Phase, present bool) vision.Tone {
	switch {
	case p == logic.PhaseTrimming:
		return vision.ToneTrimming
	case present:
		return vision.TonePresent
	}
	return vision.ToneEmpty
}

func signalFor(p logic.Phase) gpio.Signal {
	switch p {
	case logic.PhasePartPlaced:
		return gpio.SignalPlaced
	case logic.PhaseTrimming:
		return gpio.SignalTrimming
	}
	return gpio.SignalIdle
}
