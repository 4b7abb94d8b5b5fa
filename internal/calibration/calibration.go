// Package calibration is the operator-facing configuration surface: it edits
// the live detection config and moves it to and from the store.
package calibration

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sweeney/trimmer-monitor/internal/status"
	"github.com/sweeney/trimmer-monitor/internal/store"
	"github.com/sweeney/trimmer-monitor/internal/vision"
)

// Service edits the live config of one machine. Setters never touch the
// store; only Save and Reload do.
type Service struct {
	machineID int
	store     store.ConfigStore
	live      *status.LiveConfig
	tracker   *status.Tracker
	events    *status.EventLog
	log       *slog.Logger
	now       func() time.Time
}

// Options configures a Service. Tracker and Events are optional.
type Options struct {
	MachineID int
	Store     store.ConfigStore
	Live      *status.LiveConfig
	Tracker   *status.Tracker
	Events    *status.EventLog
	Logger    *slog.Logger
}

// New creates a Service.
func New(opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		machineID: opts.MachineID,
		store:     opts.Store,
		live:      opts.Live,
		tracker:   opts.Tracker,
		events:    opts.Events,
		log:       opts.Logger,
		now:       time.Now,
	}
}

// Config returns the live config.
func (s *Service) Config() vision.DetectionConfig {
	return s.live.Get()
}

// SetRegion changes the region of interest.
func (s *Service) SetRegion(r vision.Region) error {
	if err := s.live.SetRegion(r); err != nil {
		return err
	}
	s.log.Info("region updated", "x", r.X, "y", r.Y, "w", r.W, "h", r.H)
	return nil
}

// SetThreshold changes the brightness threshold.
func (s *Service) SetThreshold(v int) error {
	if err := s.live.SetThreshold(v); err != nil {
		return err
	}
	s.log.Info("threshold updated", "threshold", v)
	return nil
}

// SetMinArea changes the presence area threshold.
func (s *Service) SetMinArea(v int) error {
	if err := s.live.SetMinArea(v); err != nil {
		return err
	}
	s.log.Info("min area updated", "min_area", v)
	return nil
}

// Save persists the live config. The live config is unchanged on failure.
func (s *Service) Save(ctx context.Context) error {
	cfg := s.live.Get()
	if err := s.store.SaveConfig(ctx, s.machineID, cfg); err != nil {
		s.log.Error("save config failed", "error", err)
		if s.tracker != nil {
			s.tracker.SetStoreConnected(false)
		}
		return err
	}
	s.log.Info("config saved",
		"x", cfg.Region.X, "y", cfg.Region.Y, "w", cfg.Region.W, "h", cfg.Region.H,
		"threshold", cfg.Threshold, "min_area", cfg.MinArea)
	s.note("Config saved to database")
	if s.tracker != nil {
		s.tracker.SetStoreConnected(true)
	}
	return nil
}

// Reload replaces the live config with the stored one and returns it.
func (s *Service) Reload(ctx context.Context) (vision.DetectionConfig, error) {
	mc, err := s.store.LoadConfig(ctx, s.machineID)
	if err != nil {
		s.log.Error("reload config failed", "error", err)
		return vision.DetectionConfig{}, err
	}
	if err := s.live.Replace(mc.Detection); err != nil {
		return vision.DetectionConfig{}, fmt.Errorf("stored config for machine %d: %w", s.machineID, err)
	}
	if s.tracker != nil {
		s.tracker.SetMachineName(mc.Name)
		s.tracker.SetStoreConnected(true)
	}
	s.log.Info("config reloaded", "machine", mc.Name)
	s.note("Config reloaded from database")
	return mc.Detection, nil
}

func (s *Service) note(msg string) {
	if s.events != nil {
		s.events.Add(s.now(), msg)
	}
}
