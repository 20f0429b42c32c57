// Package config loads the board profile: which GPIO lines the panel, latch
// and buzzer are wired to, and how long inputs must settle.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/lockbox/internal/gpio"
)

// Profile describes one board.
type Profile struct {
	Pins     gpio.Pins     `yaml:"pins"`
	Debounce time.Duration `yaml:"debounce"`
}

// Default returns the reference board profile.
func Default() Profile {
	return Profile{
		Pins:     gpio.DefaultPins(),
		Debounce: 40 * time.Millisecond,
	}
}

// Load reads a profile from path. Fields missing from the file keep their
// defaults. An empty path returns Default.
func Load(path string) (Profile, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("read profile: %w", err)
	}
	p, err := Parse(data)
	if err != nil {
		return Profile{}, fmt.Errorf("profile %s: %w", path, err)
	}
	return p, nil
}

// Parse decodes a YAML profile over the defaults and validates it.
func Parse(data []byte) (Profile, error) {
	p := Default()
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("decode yaml: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// Validate checks that every line is a distinct non-negative offset.
func (p Profile) Validate() error {
	if p.Debounce < 0 {
		return fmt.Errorf("debounce must not be negative, got %v", p.Debounce)
	}
	lines := []struct {
		name string
		pin  int
	}{
		{"set", p.Pins.Set},
		{"back", p.Pins.Back},
		{"lock", p.Pins.Lock},
		{"up", p.Pins.Up},
		{"down", p.Pins.Down},
		{"lid", p.Pins.Lid},
		{"latch", p.Pins.Latch},
		{"buzzer", p.Pins.Buzzer},
	}
	seen := make(map[int]string, len(lines))
	for _, l := range lines {
		if l.pin < 0 {
			return fmt.Errorf("pin %s: invalid offset %d", l.name, l.pin)
		}
		if other, ok := seen[l.pin]; ok {
			return fmt.Errorf("pin %s: offset %d already used by %s", l.name, l.pin, other)
		}
		seen[l.pin] = l.name
	}
	return nil
}
