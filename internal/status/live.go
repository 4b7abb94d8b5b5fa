package status

import (
	"sync"

	"github.com/sweeney/trimmer-monitor/internal/vision"
)

// LiveConfig is the detection config the monitor loop reads at the start of
// every iteration. Writers are HTTP handlers; changes are visible on the
// next iteration.
type LiveConfig struct {
	mu      sync.RWMutex
	cfg     vision.DetectionConfig
	version uint64
}

// NewLiveConfig seeds the cell.
func NewLiveConfig(cfg vision.DetectionConfig) *LiveConfig {
	return &LiveConfig{cfg: cfg}
}

// Get returns the current config.
func (l *LiveConfig) Get() vision.DetectionConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

// Version increments on every successful change.
func (l *LiveConfig) Version() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.version
}

// SetRegion replaces the region of interest.
func (l *LiveConfig) SetRegion(r vision.Region) error {
	if err := vision.ValidateRegion(r); err != nil {
		return err
	}
	l.update(func(c *vision.DetectionConfig) { c.Region = r })
	return nil
}

// SetThreshold replaces the brightness threshold.
func (l *LiveConfig) SetThreshold(v int) error {
	if err := vision.ValidateThreshold(v); err != nil {
		return err
	}
	l.update(func(c *vision.DetectionConfig) { c.Threshold = v })
	return nil
}

// SetMinArea replaces the presence area threshold.
func (l *LiveConfig) SetMinArea(v int) error {
	if err := vision.ValidateMinArea(v); err != nil {
		return err
	}
	l.update(func(c *vision.DetectionConfig) { c.MinArea = v })
	return nil
}

// Replace swaps in a whole config, e.g. after a reload from the store.
func (l *LiveConfig) Replace(cfg vision.DetectionConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	l.update(func(c *vision.DetectionConfig) { *c = cfg })
	return nil
}

func (l *LiveConfig) update(fn func(*vision.DetectionConfig)) {
	l.mu.Lock()
	fn(&l.cfg)
	l.version++
	l.mu.Unlock()
}
