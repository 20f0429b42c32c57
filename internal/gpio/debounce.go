package gpio

import "time"

// lineState tracks debounce state for one input.
type lineState struct {
	stable       bool
	pending      bool
	hasPending   bool
	pendingSince time.Time
	baselined    bool
}

// Debouncer turns raw panel samples into debounced level changes. A level
// must hold for the debounce duration before it is accepted.
type Debouncer struct {
	duration  time.Duration
	lines     [inputCount]lineState
	baselined bool
}

// NewDebouncer creates a debouncer with the given settle duration.
func NewDebouncer(duration time.Duration) *Debouncer {
	return &Debouncer{duration: duration}
}

// Process takes a raw sample and returns the debounced changes it completes.
// No changes are returned until every line has a baseline.
func (d *Debouncer) Process(s Sample, now time.Time) []Change {
	var changes []Change
	for i := Input(0); i < inputCount; i++ {
		if c, ok := d.processLine(&d.lines[i], s.Level(i), now); ok {
			changes = append(changes, Change{Input: i, Active: c})
		}
	}

	if !d.baselined {
		for i := range d.lines {
			if !d.lines[i].baselined {
				return nil
			}
		}
		d.baselined = true
		return nil
	}
	return changes
}

// processLine applies one raw level to a line. Returns the new stable level
// and true if a transition completed.
func (d *Debouncer) processLine(ln *lineState, level bool, now time.Time) (bool, bool) {
	if !ln.baselined {
		if !ln.hasPending || ln.pending != level {
			// Start observing, or restart on a change during baseline
			ln.pending = level
			ln.hasPending = true
			ln.pendingSince = now
			return false, false
		}
		if now.Sub(ln.pendingSince) >= d.duration {
			ln.stable = level
			ln.baselined = true
			ln.hasPending = false
		}
		return false, false
	}

	if level == ln.stable {
		ln.hasPending = false
		return false, false
	}

	if !ln.hasPending || ln.pending != level {
		ln.pending = level
		ln.hasPending = true
		ln.pendingSince = now
		return false, false
	}

	if now.Sub(ln.pendingSince) >= d.duration {
		ln.stable = level
		ln.hasPending = false
		return level, true
	}
	return false, false
}

// IsBaselined returns whether every line has a stable level.
func (d *Debouncer) IsBaselined() bool {
	return d.baselined
}

// Stable returns the current debounced levels.
func (d *Debouncer) Stable() Sample {
	var s Sample
	for i := Input(0); i < inputCount; i++ {
		s.set(i, d.lines[i].stable)
	}
	return s
}
