//go:build !linux

package gpio

import (
	"errors"
	"time"
)

var errUnsupported = errors.New("gpio: not supported on this platform (requires Linux)")

// RealPanel is not available on non-Linux platforms.
type RealPanel struct{}

// NewRealPanel returns an error on non-Linux platforms.
func NewRealPanel(Pins) (*RealPanel, error) {
	return nil, errUnsupported
}

// Read is not implemented on non-Linux platforms.
func (r *RealPanel) Read() (Sample, error) {
	return Sample{}, errUnsupported
}

// Close is not implemented on non-Linux platforms.
func (r *RealPanel) Close() error {
	return nil
}

// RealLatch is not available on non-Linux platforms.
type RealLatch struct{}

// NewRealLatch returns an error on non-Linux platforms.
func NewRealLatch(int) (*RealLatch, error) {
	return nil, errUnsupported
}

func (r *RealLatch) Set(bool) error { return errUnsupported }
func (r *RealLatch) Close() error   { return nil }

// RealBuzzer is not available on non-Linux platforms.
type RealBuzzer struct{}

// NewRealBuzzer returns an error on non-Linux platforms.
func NewRealBuzzer(int) (*RealBuzzer, error) {
	return nil, errUnsupported
}

func (r *RealBuzzer) Pulse(time.Duration) error { return errUnsupported }
func (r *RealBuzzer) Close() error              { return nil }
