package gpio

import (
	"errors"
	"sync"
	"time"
)

// FakePanel is a test double that returns scripted panel samples.
type FakePanel struct {
	// Samples contains scripted readings. Each call to Read() consumes the
	// next sample.
	Samples []Sample

	// index tracks current position in Samples
	index int

	// Closed tracks if Close was called
	Closed bool

	// ReadError, if set, will be returned by Read()
	ReadError error
}

// NewFakePanel creates a FakePanel with the given samples.
func NewFakePanel(samples []Sample) *FakePanel {
	return &FakePanel{Samples: samples}
}

// Read returns the next scripted sample.
// If samples are exhausted, returns the last sample repeatedly.
func (f *FakePanel) Read() (Sample, error) {
	if f.ReadError != nil {
		return Sample{}, f.ReadError
	}

	if len(f.Samples) == 0 {
		return Sample{}, errors.New("no samples configured")
	}

	s := f.Samples[f.index]
	if f.index < len(f.Samples)-1 {
		f.index++
	}
	return s, nil
}

// Close marks the panel as closed.
func (f *FakePanel) Close() error {
	f.Closed = true
	return nil
}

// Reset rewinds to the first sample.
func (f *FakePanel) Reset() {
	f.index = 0
	f.Closed = false
}

// FakeLatch records every Set call.
type FakeLatch struct {
	mu       sync.Mutex
	writes   []bool
	SetError error
	Closed   bool
}

// Set records the requested position.
func (f *FakeLatch) Set(retracted bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SetError != nil {
		return f.SetError
	}
	f.writes = append(f.writes, retracted)
	return nil
}

// Writes returns a copy of every recorded position.
func (f *FakeLatch) Writes() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]bool, len(f.writes))
	copy(out, f.writes)
	return out
}

// Retracted returns the last written position and whether anything was written.
func (f *FakeLatch) Retracted() (bool, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.writes) == 0 {
		return false, false
	}
	return f.writes[len(f.writes)-1], true
}

func (f *FakeLatch) Close() error {
	f.Closed = true
	return nil
}

// FakeBuzzer records pulse durations.
type FakeBuzzer struct {
	mu     sync.Mutex
	pulses []time.Duration
	Closed bool
}

// Pulse records d.
func (f *FakeBuzzer) Pulse(d time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulses = append(f.pulses, d)
	return nil
}

// Pulses returns a copy of the recorded durations.
func (f *FakeBuzzer) Pulses() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Duration, len(f.pulses))
	copy(out, f.pulses)
	return out
}

func (f *FakeBuzzer) Close() error {
	f.Closed = true
	return nil
}
