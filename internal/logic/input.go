package logic

import "time"

// buttonState tracks one physical button across a single press.
type buttonState struct {
	down     bool
	downAt   time.Time // simulated
	solo     bool      // no other button was down at any point during this press
	consumed bool      // a hold action involving this button fired; suppress the click
	wakeOnly bool      // the press only woke the screen; suppress the click
}

// holdLatches make each hold action fire once per continuous hold.
type holdLatches struct {
	setLong    bool // SET alone, 3 s
	back10     bool // BACK alone, 10 s
	childCombo bool // BACK+LOCK, 5 s
	resetCombo bool // SET+LOCK, 20 s
}

// tapWindow detects two taps within a wall-clock window.
type tapWindow struct {
	last time.Time // wall time of the pending first tap
}

// tap registers a tap at wall time t. It returns true when t completes a
// double tap, in which case the window is cleared. Otherwise t becomes the
// pending first tap.
func (w *tapWindow) tap(t time.Time, window time.Duration) bool {
	if !w.last.IsZero() && t.Sub(w.last) < window && !t.Before(w.last) {
		w.last = time.Time{}
		return true
	}
	w.last = t
	return false
}

func (w *tapWindow) reset() {
	w.last = time.Time{}
}

// SetButton reports a physical press (down=true) or release of b. Clicks are
// decided on release; holds are decided by Tick.
func (m *Machine) SetButton(b Button, down bool) Snapshot {
	if b < 0 || b >= buttonCount {
		return m.Snapshot()
	}
	now := m.clock.Now()
	st := &m.buttons[b]

	if down {
		if st.down {
			return m.Snapshot()
		}
		others := false
		for i := range m.buttons {
			if m.buttons[i].down {
				m.buttons[i].solo = false
				others = true
			}
		}
		*st = buttonState{down: true, downAt: now, solo: !others}
		if b == ButtonSet {
			m.latches.setLong = false
		}
		if !m.touch(now) {
			st.wakeOnly = true
			return m.Snapshot()
		}
		if m.childLock {
			st.consumed = true
			m.blinkChildLock(now)
		}
		return m.Snapshot()
	}

	if !st.down {
		return m.Snapshot()
	}
	st.down = false
	m.touch(now)

	switch b {
	case ButtonSet:
		m.latches.setLong = false
		m.latches.resetCombo = false
	case ButtonBack:
		m.latches.back10 = false
		m.latches.childCombo = false
	case ButtonLock:
		m.latches.childCombo = false
		m.latches.resetCombo = false
	}

	if st.consumed || st.wakeOnly {
		return m.Snapshot()
	}
	switch b {
	case ButtonSet:
		m.dispatch(now, trigSetClick)
	case ButtonBack:
		m.dispatch(now, trigBackClick)
	case ButtonLock:
		m.dispatch(now, trigLockClick)
	}
	return m.Snapshot()
}

// Up handles the UP key.
func (m *Machine) Up() Snapshot {
	return m.step(trigUp)
}

// Down handles the DOWN key.
func (m *Machine) Down() Snapshot {
	return m.step(trigDown)
}

func (m *Machine) step(t trigger) Snapshot {
	now := m.clock.Now()
	if !m.touch(now) {
		return m.Snapshot()
	}
	if m.childLock {
		m.blinkChildLock(now)
		return m.Snapshot()
	}
	m.dispatch(now, t)
	return m.Snapshot()
}

func (m *Machine) held(b Button, now time.Time) time.Duration {
	st := m.buttons[b]
	if !st.down {
		return 0
	}
	return now.Sub(st.downAt)
}

func (m *Machine) anyDown() bool {
	for _, st := range m.buttons {
		if st.down {
			return true
		}
	}
	return false
}

// checkHolds evaluates every hold action against the buttons currently down.
// Returns true if any action fired this tick.
func (m *Machine) checkHolds(now time.Time) bool {
	set, back, lock := &m.buttons[ButtonSet], &m.buttons[ButtonBack], &m.buttons[ButtonLock]
	fired := false

	if set.down && lock.down && !m.childLock && !m.latches.resetCombo &&
		m.held(ButtonSet, now) >= m.timing.FactoryResetHold &&
		m.held(ButtonLock, now) >= m.timing.FactoryResetHold {
		m.latches.resetCombo = true
		set.consumed = true
		lock.consumed = true
		m.touch(now)
		m.factoryReset(now)
		fired = true
	}

	if !fired && back.down && lock.down && !m.latches.childCombo && !m.latches.resetCombo &&
		m.held(ButtonBack, now) >= m.timing.ChildLockHold &&
		m.held(ButtonLock, now) >= m.timing.ChildLockHold {
		m.latches.childCombo = true
		back.consumed = true
		lock.consumed = true
		m.touch(now)
		m.toggleChildLock(now)
		fired = true
	}

	if m.childLock {
		return fired
	}

	if back.down && back.solo && !back.consumed && !m.latches.back10 &&
		!set.down && !lock.down &&
		m.held(ButtonBack, now) >= m.timing.MasterHold &&
		!m.locked && m.state == StateIdle {
		m.latches.back10 = true
		back.consumed = true
		m.touch(now)
		m.dispatch(now, trigBackLong)
		fired = true
	}

	if set.down && set.solo && !set.consumed && !m.latches.setLong &&
		!back.down && !lock.down &&
		m.held(ButtonSet, now) >= m.timing.LongPress {
		m.latches.setLong = true
		set.consumed = true
		m.touch(now)
		m.dispatch(now, trigSetLong)
		fired = true
	}

	return fired
}
