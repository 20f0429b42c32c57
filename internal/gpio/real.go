//go:build linux

package gpio

import (
	"fmt"
	"sync"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

const consumer = "lockbox"

// RealPanel reads the panel from actual hardware using the Linux GPIO
// character device.
type RealPanel struct {
	chip  *gpiocdev.Chip
	lines *gpiocdev.Lines
	vals  []int
}

// NewRealPanel requests every input line with pull-ups. Buttons and the lid
// switch pull their line to ground when active.
func NewRealPanel(pins Pins) (*RealPanel, error) {
	chip, err := gpiocdev.NewChip("gpiochip0", gpiocdev.WithConsumer(consumer))
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	offsets := pins.inputs()
	lines, err := chip.RequestLines(offsets, gpiocdev.AsInput, gpiocdev.WithPullUp)
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request panel pins %v: %w", offsets, err)
	}

	return &RealPanel{
		chip:  chip,
		lines: lines,
		vals:  make([]int, len(offsets)),
	}, nil
}

// Read returns the logical panel levels.
// Inverts raw GPIO: raw low (0) = pressed / lid closed.
func (r *RealPanel) Read() (Sample, error) {
	if err := r.lines.Values(r.vals); err != nil {
		return Sample{}, fmt.Errorf("read panel: %w", err)
	}
	var s Sample
	for i := Input(0); i < inputCount; i++ {
		s.set(i, r.vals[i] == 0)
	}
	return s, nil
}

// Close releases GPIO resources.
// Reconfigures lines to input with pull-down (matching Pi boot defaults)
// before closing.
func (r *RealPanel) Close() error {
	var errs []error

	if r.lines != nil {
		if err := r.lines.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure panel pins: %w", err))
		}
		if err := r.lines.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close panel pins: %w", err))
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

// RealLatch drives the bolt solenoid. Line high retracts the bolt.
type RealLatch struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

// NewRealLatch requests the latch line as an output, initially retracted.
func NewRealLatch(pin int) (*RealLatch, error) {
	chip, err := gpiocdev.NewChip("gpiochip0", gpiocdev.WithConsumer(consumer))
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}
	line, err := chip.RequestLine(pin, gpiocdev.AsOutput(1))
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request latch pin %d: %w", pin, err)
	}
	return &RealLatch{chip: chip, line: line}, nil
}

// Set retracts or extends the bolt.
func (r *RealLatch) Set(retracted bool) error {
	v := 0
	if retracted {
		v = 1
	}
	if err := r.line.SetValue(v); err != nil {
		return fmt.Errorf("set latch: %w", err)
	}
	return nil
}

// Close releases the line. The bolt stays where it is.
func (r *RealLatch) Close() error {
	var errs []error
	if err := r.line.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close latch pin: %w", err))
	}
	if err := r.chip.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close chip: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

// RealBuzzer drives an active buzzer line.
type RealBuzzer struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line

	mu    sync.Mutex
	timer *time.Timer
}

// NewRealBuzzer requests the buzzer line as an output, initially silent.
func NewRealBuzzer(pin int) (*RealBuzzer, error) {
	chip, err := gpiocdev.NewChip("gpiochip0", gpiocdev.WithConsumer(consumer))
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}
	line, err := chip.RequestLine(pin, gpiocdev.AsOutput(0))
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request buzzer pin %d: %w", pin, err)
	}
	return &RealBuzzer{chip: chip, line: line}, nil
}

// Pulse sounds the buzzer for d. A new pulse cuts any running one short.
func (r *RealBuzzer) Pulse(d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
	}
	if err := r.line.SetValue(1); err != nil {
		return fmt.Errorf("buzzer on: %w", err)
	}
	r.timer = time.AfterFunc(d, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.line.SetValue(0)
	})
	return nil
}

// Close silences and releases the line.
func (r *RealBuzzer) Close() error {
	r.mu.Lock()
	if r.timer != nil {
		r.timer.Stop()
	}
	r.line.SetValue(0)
	r.mu.Unlock()

	var errs []error
	if err := r.line.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close buzzer pin: %w", err))
	}
	if err := r.chip.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close chip: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
