// Package gpio provides the lock box's front panel and actuators with hardware
// abstraction. The real implementation uses the Linux GPIO character device.
// The fake implementations allow testing without hardware.
package gpio

import "time"

// Panel reads the front panel inputs.
type Panel interface {
	// Read returns the logical input levels. Buttons are active low on the
	// wire: a grounded line reads as pressed. The lid switch closes to ground
	// when the lid is shut.
	Read() (Sample, error)

	// Close releases GPIO resources.
	Close() error
}

// Latch drives the bolt solenoid.
type Latch interface {
	// Set retracts (true) or extends (false) the bolt.
	Set(retracted bool) error
	Close() error
}

// Buzzer drives an active buzzer.
type Buzzer interface {
	// Pulse sounds the buzzer for d without blocking.
	Pulse(d time.Duration) error
	Close() error
}

// Sample is one reading of every panel input in logical form.
type Sample struct {
	Set  bool // true = pressed
	Back bool
	Lock bool
	Up   bool
	Down bool
	Lid  bool // true = closed
}

// Input identifies a panel line.
type Input int

const (
	InputSet Input = iota
	InputBack
	InputLock
	InputUp
	InputDown
	InputLid
	inputCount
)

func (i Input) String() string {
	switch i {
	case InputSet:
		return "SET"
	case InputBack:
		return "BACK"
	case InputLock:
		return "LOCK"
	case InputUp:
		return "UP"
	case InputDown:
		return "DOWN"
	case InputLid:
		return "LID"
	default:
		return "UNKNOWN"
	}
}

// Level returns the level of input i in s.
func (s Sample) Level(i Input) bool {
	switch i {
	case InputSet:
		return s.Set
	case InputBack:
		return s.Back
	case InputLock:
		return s.Lock
	case InputUp:
		return s.Up
	case InputDown:
		return s.Down
	case InputLid:
		return s.Lid
	}
	return false
}

func (s *Sample) set(i Input, v bool) {
	switch i {
	case InputSet:
		s.Set = v
	case InputBack:
		s.Back = v
	case InputLock:
		s.Lock = v
	case InputUp:
		s.Up = v
	case InputDown:
		s.Down = v
	case InputLid:
		s.Lid = v
	}
}

// Change is a debounced level change on one input.
type Change struct {
	Input  Input
	Active bool // pressed, or lid closed
}

// Diff returns the inputs whose level differs between prev and cur, in Input
// order.
func Diff(prev, cur Sample) []Change {
	var out []Change
	for i := Input(0); i < inputCount; i++ {
		if prev.Level(i) != cur.Level(i) {
			out = append(out, Change{Input: i, Active: cur.Level(i)})
		}
	}
	return out
}

// Pins maps panel lines to BCM offsets on gpiochip0.
type Pins struct {
	Set    int `yaml:"set"`
	Back   int `yaml:"back"`
	Lock   int `yaml:"lock"`
	Up     int `yaml:"up"`
	Down   int `yaml:"down"`
	Lid    int `yaml:"lid"`
	Latch  int `yaml:"latch"`
	Buzzer int `yaml:"buzzer"`
}

// DefaultPins is the wiring of the reference board.
func DefaultPins() Pins {
	return Pins{
		Set:    5,
		Back:   6,
		Lock:   13,
		Up:     19,
		Down:   26,
		Lid:    21,
		Latch:  20,
		Buzzer: 12,
	}
}

// inputs returns the input offsets in Input order.
func (p Pins) inputs() []int {
	return []int{p.Set, p.Back, p.Lock, p.Up, p.Down, p.Lid}
}
