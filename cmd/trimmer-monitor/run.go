package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sweeney/trimmer-monitor/internal/calibration"
	"github.com/sweeney/trimmer-monitor/internal/camera"
	"github.com/sweeney/trimmer-monitor/internal/config"
	"github.com/sweeney/trimmer-monitor/internal/gpio"
	"github.com/sweeney/trimmer-monitor/internal/monitor"
	"github.com/sweeney/trimmer-monitor/internal/mqtt"
	"github.com/sweeney/trimmer-monitor/internal/status"
	"github.com/sweeney/trimmer-monitor/internal/store"
	"github.com/sweeney/trimmer-monitor/internal/vision"
	"github.com/sweeney/trimmer-monitor/internal/web"
)

// shutdownTimeout bounds the HTTP drain and the final telemetry write.
const shutdownTimeout = 5 * time.Second

func newRunCommand(ctx *commandContext) *cobra.Command {
	var (
		httpAddr  string
		broker    string
		source    string
		cameraURL string
		cameraDir string
		poll      time.Duration
		dwell     time.Duration
		enableIO  bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the monitor until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := ctx.load(cmd, func(c *config.Config) {
				flags := cmd.Flags()
				if flags.Changed("http") {
					c.HTTP.Addr = httpAddr
				}
				if flags.Changed("broker") {
					c.MQTT.Broker = broker
				}
				if flags.Changed("camera") {
					c.Camera.Source = source
				}
				if flags.Changed("camera-url") {
					c.Camera.URL = cameraURL
				}
				if flags.Changed("camera-dir") {
					c.Camera.Dir = cameraDir
				}
				if flags.Changed("poll") {
					c.Loop.PollMs = int(poll.Milliseconds())
				}
				if flags.Changed("dwell") {
					c.Loop.DwellMs = int(dwell.Milliseconds())
				}
				if flags.Changed("gpio") {
					c.GPIO.Enabled = enableIO
				}
			})
			if err != nil {
				return err
			}

			runCtx, stop := notifyContext(cmd.Context())
			defer stop()
			return runMonitor(runCtx, cfg, logger)
		},
	}

	f := cmd.Flags()
	f.StringVar(&httpAddr, "http", "", "Calibration server address (empty to disable)")
	f.StringVar(&broker, "broker", "", "MQTT broker address (empty to disable)")
	f.StringVar(&source, "camera", "", `Frame source ("http", "file" or "synthetic")`)
	f.StringVar(&cameraURL, "camera-url", "", "Snapshot URL for the http source")
	f.StringVar(&cameraDir, "camera-dir", "", "Image directory for the file source")
	f.DurationVar(&poll, "poll", 0, "Loop period")
	f.DurationVar(&dwell, "dwell", 0, "Time a part must stay before trimming counts")
	f.BoolVar(&enableIO, "gpio", false, "Drive the stack light")
	return cmd
}

// runMonitor owns every resource of a monitoring session. It returns when ctx
// is cancelled or a component fails, after writing OFFLINE telemetry.
func runMonitor(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger = logger.With("machine_id", cfg.MachineID)

	lock, err := acquireLock(cfg.LockDir, cfg.MachineID)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	// Without a stored region and threshold there is nothing safe to watch.
	mc, err := st.LoadConfig(ctx, cfg.MachineID)
	if err != nil {
		return fmt.Errorf("load detection config: %w", err)
	}
	if err := mc.Detection.Validate(); err != nil {
		return fmt.Errorf("stored detection config for machine %d: %w", cfg.MachineID, err)
	}
	logger.Info("detection config loaded", "machine", mc.Name,
		"x", mc.Detection.Region.X, "y", mc.Detection.Region.Y,
		"w", mc.Detection.Region.W, "h", mc.Detection.Region.H,
		"threshold", mc.Detection.Threshold, "min_area", mc.Detection.MinArea)

	cam, err := openCamera(cfg)
	if err != nil {
		return err
	}

	sessionID := uuid.NewString()
	hostname, _ := os.Hostname()
	deviceID := cfg.DeviceID
	if deviceID == "" {
		deviceID = hostname
	}

	tracker := status.NewTracker(time.Now(), status.Info{
		MachineID:   cfg.MachineID,
		MachineName: mc.Name,
		SessionID:   sessionID,
		DeviceID:    deviceID,
		StoreDriver: cfg.Database.Driver,
		Broker:      cfg.MQTT.Broker,
		HTTPAddr:    cfg.HTTP.Addr,
		PollMs:      cfg.Poll().Milliseconds(),
		TelemetryMs: cfg.TelemetryInterval().Milliseconds(),
	})
	tracker.SetStoreConnected(true)
	network := readNetworkInfo()
	if network != nil {
		tracker.SetNetwork(network)
	}

	live := status.NewLiveConfig(mc.Detection)
	eventLog := status.NewEventLog(status.DefaultEventLogSize)

	var (
		publisher  mqtt.Publisher
		mqttStatus mqtt.ConnectionStatus
	)
	if cfg.MQTT.Broker != "" {
		clientID := cfg.MQTT.ClientID
		if clientID == "" {
			clientID = fmt.Sprintf("trimmer-%d-%s", cfg.MachineID, sessionID[:8])
		}
		rp := mqtt.NewRealPublisher(mqtt.Options{
			Broker:     cfg.MQTT.Broker,
			ClientID:   clientID,
			Topics:     mqtt.NewTopics(cfg.MQTT.TopicPrefix, cfg.MachineID),
			BufferSize: cfg.MQTT.BufferSize,
			Logger:     logger,
		})
		defer rp.Close()
		publisher, mqttStatus = rp, rp
	}

	session, err := monitor.New(monitor.Options{
		MachineID:         cfg.MachineID,
		MachineName:       mc.Name,
		Camera:            cam,
		Detector:          vision.ThresholdDetector{},
		Renderer:          vision.NewRenderer(cfg.Loop.JPEGQuality),
		Backend:           st,
		Events:            store.NewSpool(st, cfg.Loop.SpoolSize, logger),
		Publisher:         publisher,
		MQTT:              mqttStatus,
		Indicator:         openIndicator(cfg, logger),
		Tracker:           tracker,
		Live:              live,
		EventLog:          eventLog,
		Dwell:             cfg.Dwell(),
		TelemetryInterval: cfg.TelemetryInterval(),
		Backoff:           cfg.Backoff(),
		Network:           readNetworkInfo,
		Logger:            logger,
	})
	if err != nil {
		cam.Close()
		return err
	}

	var ln net.Listener
	var srv *web.Server
	if cfg.HTTP.Addr != "" {
		ln, err = net.Listen("tcp", cfg.HTTP.Addr)
		if err != nil {
			session.Shutdown(context.Background(), "ERROR")
			return fmt.Errorf("listen %s: %w", cfg.HTTP.Addr, err)
		}
		srv = web.New(web.Options{
			Addr:    cfg.HTTP.Addr,
			Tracker: tracker,
			Calibration: calibration.New(calibration.Options{
				MachineID: cfg.MachineID,
				Store:     st,
				Live:      live,
				Tracker:   tracker,
				Events:    eventLog,
				Logger:    logger,
			}),
			Events: eventLog,
			Logger: logger,
		})
	}

	dev := store.Device{DeviceID: deviceID, Hostname: hostname}
	if network != nil {
		dev.IP = network.IP
	}
	session.Start(ctx, dev)
	logger.Info("started", "session_id", sessionID, "poll", cfg.Poll(), "dwell", cfg.Dwell(),
		"telemetry", cfg.TelemetryInterval(), "http", cfg.HTTP.Addr, "broker", cfg.MQTT.Broker)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ticker := time.NewTicker(cfg.Poll())
		defer ticker.Stop()
		return session.Run(gctx, ticker.C)
	})
	if srv != nil {
		g.Go(func() error {
			logger.Info("http server listening", "addr", ln.Addr().String())
			if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutCtx)
		})
	}

	runErr := g.Wait()
	reason := shutdownReason(ctx)
	if runErr != nil {
		reason = "ERROR"
		logger.Error("monitor failed", "error", runErr)
	} else {
		logger.Info("shutting down", "reason", reason)
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := session.Shutdown(shutCtx, reason); err != nil {
		logger.Warn("shutdown incomplete", "error", err)
	}
	return runErr
}

// acquireLock takes the per-machine lock so two monitors cannot report the
// same trimmer.
func acquireLock(dir string, machineID int) (*flock.Flock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("machine-%d.lock", machineID))
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("another monitor is already running for machine %d (%s)", machineID, path)
	}
	return lock, nil
}

func openCamera(cfg *config.Config) (camera.Source, error) {
	switch cfg.Camera.Source {
	case config.SourceSynthetic:
		return camera.NewSyntheticSource(cfg.Camera.Width, cfg.Camera.Height), nil
	case config.SourceFile:
		src, err := camera.NewFileSource(cfg.Camera.Dir)
		if err != nil {
			return nil, fmt.Errorf("open camera: %w", err)
		}
		return src, nil
	case config.SourceHTTP:
		return camera.NewHTTPSource(cfg.Camera.URL, cfg.CameraTimeout()), nil
	}
	return nil, fmt.Errorf("open camera: unsupported source %q", cfg.Camera.Source)
}

// openIndicator returns the stack light, or a no-op when it is disabled or
// cannot be opened.
func openIndicator(cfg *config.Config, logger *slog.Logger) gpio.Indicator {
	if !cfg.GPIO.Enabled {
		return gpio.Nop{}
	}
	pins := gpio.Pins{Red: cfg.GPIO.Red, Yellow: cfg.GPIO.Yellow, Green: cfg.GPIO.Green}
	ind, err := gpio.NewRealIndicator(pins)
	if err != nil {
		logger.Warn("stack light unavailable", "error", err)
		return gpio.Nop{}
	}
	return ind
}

// signalCause records which signal cancelled the run.
type signalCause struct{ sig os.Signal }

func (s signalCause) Error() string { return "received " + s.sig.String() }

// notifyContext is cancelled on SIGINT or SIGTERM, keeping the signal as the
// context's cause.
func notifyContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(parent)
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case s := <-ch:
			cancel(signalCause{s})
		case <-ctx.Done():
		}
	}()
	return ctx, func() {
		signal.Stop(ch)
		cancel(context.Canceled)
	}
}

func shutdownReason(ctx context.Context) string {
	var sc signalCause
	if errors.As(context.Cause(ctx), &sc) {
		return signalName(sc.sig)
	}
	return "STOPPED"
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}
