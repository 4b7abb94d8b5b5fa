//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealIndicator drives stack light lamps through the Linux GPIO character device.
type RealIndicator struct {
	chip  *gpiocdev.Chip
	lines *gpiocdev.Lines
	last  Signal
	shown bool
}

// NewRealIndicator requests the three lamp lines as outputs, all off.
func NewRealIndicator(pins Pins) (*RealIndicator, error) {
	chip, err := gpiocdev.NewChip("gpiochip0")
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	lines, err := chip.RequestLines(
		[]int{pins.Red, pins.Yellow, pins.Green},
		gpiocdev.AsOutput(0, 0, 0),
	)
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request lamp pins %d/%d/%d: %w", pins.Red, pins.Yellow, pins.Green, err)
	}

	return &RealIndicator{chip: chip, lines: lines}, nil
}

// Show sets the lamps for s.
func (r *RealIndicator) Show(s Signal) error {
	if r.shown && s == r.last {
		return nil
	}
	l := LampsFor(s)
	if err := r.lines.SetValues([]int{bit(l.Red), bit(l.Yellow), bit(l.Green)}); err != nil {
		return fmt.Errorf("set lamps %s: %w", s, err)
	}
	r.last, r.shown = s, true
	return nil
}

func bit(on bool) int {
	if on {
		return 1
	}
	return 0
}

// Close turns the lamps off and releases GPIO resources.
// Lines are returned to input with pull-down (matching Pi boot defaults) so the
// relay board is not left energised across a reboot.
func (r *RealIndicator) Close() error {
	var errs []error

	if r.lines != nil {
		if err := r.lines.SetValues([]int{0, 0, 0}); err != nil {
			errs = append(errs, fmt.Errorf("clear lamps: %w", err))
		}
		if err := r.lines.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure lamp pins: %w", err))
		}
		if err := r.lines.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close lamp pins: %w", err))
		}
	}
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
