package logic

import "time"

// DebugReduceTime pulls the deadline of a timed lock in to at most d from now.
// It never extends a lock.
func (m *Machine) DebugReduceTime(d time.Duration) Snapshot {
	if m.lockEnd.IsZero() {
		return m.Snapshot()
	}
	if target := m.clock.Now().Add(d); target.Before(m.lockEnd) {
		m.lockEnd = target
	}
	return m.Snapshot()
}

// DebugFastForward skips simulated time forward by d and runs the timer checks
// once at the new instant.
func (m *Machine) DebugFastForward(d time.Duration) Snapshot {
	m.clock.Skip(d)
	m.run(m.clock.Now())
	return m.Snapshot()
}

// DebugUnlock ends any lock without check-in scoring.
func (m *Machine) DebugUnlock() Snapshot {
	if !m.locked {
		return m.Snapshot()
	}
	now := m.clock.Now()
	m.unlock(now, ReasonDebug)
	m.say(now, "debug unlock")
	return m.Snapshot()
}
