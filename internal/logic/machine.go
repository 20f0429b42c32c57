package logic

import (
	"fmt"
	"time"

	"github.com/sweeney/lockbox/internal/clock"
)

// trigger is a disambiguated input or timer expiry fed to dispatch.
type trigger int

const (
	trigUp trigger = iota
	trigDown
	trigSetClick
	trigBackClick
	trigLockClick
	trigSetLong
	trigBackLong
	trigIdleTimeout
	trigArmElapsed
	trigDeadline
	trigDelayElapsed
	trigWindowElapsed
	trigLidOpened
	trigLidClosed
)

// Config wires a Machine to its collaborators.
type Config struct {
	Clock  *clock.Sim
	Wall   func() time.Time // double-tap timing; defaults to time.Now
	Vault  PasswordVault    // required
	Cues   CueSink          // defaults to NopCues
	Timing Timing           // zero value means DefaultTiming
}

// Machine is the lock box controller. It is not safe for concurrent use: a
// single owner calls every method.
type Machine struct {
	clock  *clock.Sim
	wall   func() time.Time
	vault  PasswordVault
	cues   CueSink
	timing Timing

	mode  Mode
	state State

	locked         bool
	lidClosed      bool
	latchRetracted bool
	childLock      bool
	screenOff      bool

	setTime    SetTime
	cursor     int
	pwDigits   [PasswordLength]byte
	memIndex   int
	extendBase time.Duration

	lockStart          time.Time
	lockEnd            time.Time
	lockDuration       time.Duration
	prelockStart       time.Time
	infiniteStart      time.Time
	infiniteDelayEnd   time.Time
	infinitePendingEnd time.Time

	lastActivity time.Time // any operator input
	lastInput    time.Time // set-time edits

	history History
	streak  Streak

	buttons  [buttonCount]buttonState
	latches  holdLatches
	backTaps tapWindow
	lockTaps tapWindow

	message        string
	rewardFlashing bool
	childBlink     bool
	lockIconWarn   bool

	effects effectQueue
	events  []Event
}

// New creates a controller in factory state: FORTRESS mode, IDLE, lid closed
// and latch retracted. It panics if cfg.Vault is nil.
func New(cfg Config) *Machine {
	if cfg.Vault == nil {
		panic("logic: Config.Vault is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New(time.Now())
	}
	if cfg.Wall == nil {
		cfg.Wall = time.Now
	}
	if cfg.Cues == nil {
		cfg.Cues = NopCues{}
	}
	if cfg.Timing == (Timing{}) {
		cfg.Timing = DefaultTiming()
	}
	m := &Machine{
		clock:  cfg.Clock,
		wall:   cfg.Wall,
		vault:  cfg.Vault,
		cues:   cfg.Cues,
		timing: cfg.Timing,
	}
	m.clock.Tick(m.wall())
	m.restoreDefaults(m.clock.Now())
	return m
}

func (m *Machine) restoreDefaults(now time.Time) {
	m.mode = ModeFortress
	m.state = StateIdle
	m.locked = false
	m.lidClosed = true
	m.latchRetracted = true
	m.childLock = false
	m.screenOff = false

	m.setTime = SetTime{}
	m.cursor = 0
	m.pwDigits = [PasswordLength]byte{}
	m.memIndex = 0
	m.extendBase = 0

	m.clearSession()
	m.prelockStart = time.Time{}

	m.lastActivity = now
	m.lastInput = now

	m.history.Clear()
	m.streak.Reset()
	m.backTaps.reset()
	m.lockTaps.reset()

	m.message = ""
	m.rewardFlashing = false
	m.childBlink = false
	m.lockIconWarn = false
	m.effects.clear()
}

func (m *Machine) clearSession() {
	m.lockStart = time.Time{}
	m.lockEnd = time.Time{}
	m.lockDuration = 0
	m.extendBase = 0
	m.infiniteStart = time.Time{}
	m.infiniteDelayEnd = time.Time{}
	m.infinitePendingEnd = time.Time{}
}

// Tick advances simulated time by the wall-clock delta since the last tick
// and runs every timer-driven check once.
func (m *Machine) Tick() Snapshot {
	m.clock.Tick(m.wall())
	m.run(m.clock.Now())
	return m.Snapshot()
}

// run evaluates timers in a fixed order. A hold action firing stops the
// prelock, deadline and infinite checks for this pass.
func (m *Machine) run(now time.Time) {
	for _, e := range m.effects.due(now) {
		e.run()
	}

	if !m.screenOff && !m.anyDown() && now.Sub(m.lastActivity) >= m.timing.ScreenOff {
		m.screenOff = true
	}

	m.checkIdle(now)

	if !m.checkHolds(now) {
		m.checkTimers(now)
	}

	if !m.locked && m.streak.Decay(now) {
		m.emit(now, Event{Type: EventStreakExpired})
	}
}

func (m *Machine) checkIdle(now time.Time) {
	switch m.state {
	case StateSetTime:
		if now.Sub(m.lastInput) >= m.timing.SetTimeIdle {
			m.dispatch(now, trigIdleTimeout)
		}
	case StateExtendSet:
		if now.Sub(m.lastInput) >= m.timing.ExtendIdle {
			m.dispatch(now, trigIdleTimeout)
		}
	case StatePwInput, StatePwMasterVerify, StatePwChange:
		if now.Sub(m.lastActivity) >= m.timing.PasswordIdle {
			m.dispatch(now, trigIdleTimeout)
		}
	}
}

func (m *Machine) checkTimers(now time.Time) {
	switch m.state {
	case StatePrelock:
		if m.lidClosed && !m.prelockStart.IsZero() && now.Sub(m.prelockStart) >= m.timing.Arm {
			m.dispatch(now, trigArmElapsed)
		}
	case StateLockedTimed, StatePwInput, StateExtendSet:
		if m.mode.Timed() && !m.lockEnd.IsZero() && !now.Before(m.lockEnd) {
			m.dispatch(now, trigDeadline)
		}
	case StateInfiniteDelay:
		if !m.infiniteDelayEnd.IsZero() && !now.Before(m.infiniteDelayEnd) {
			m.dispatch(now, trigDelayElapsed)
		}
	case StateInfinitePending:
		if !m.infinitePendingEnd.IsZero() && !now.Before(m.infinitePendingEnd) {
			m.dispatch(now, trigWindowElapsed)
		}
	}
}

// ToggleLid reports the lid being opened or closed. Opening a locked lid is
// refused, except during the infinite-mode unlock window.
func (m *Machine) ToggleLid() Snapshot {
	now := m.clock.Now()
	m.touch(now)
	if m.locked && m.state != StateInfinitePending {
		m.say(now, "box is locked")
		m.cues.Warn()
		return m.Snapshot()
	}
	m.lidClosed = !m.lidClosed
	if m.lidClosed {
		m.dispatch(now, trigLidClosed)
	} else {
		m.dispatch(now, trigLidOpened)
	}
	return m.Snapshot()
}

// ToggleChildLock flips the child lock.
func (m *Machine) ToggleChildLock() Snapshot {
	now := m.clock.Now()
	m.toggleChildLock(now)
	return m.Snapshot()
}

func (m *Machine) toggleChildLock(now time.Time) {
	m.childLock = !m.childLock
	if m.childLock {
		m.say(now, "child lock on")
	} else {
		m.say(now, "child lock off")
		m.childBlink = false
		m.effects.cancel(effectChildBlink)
	}
	m.emit(now, Event{Type: EventChildLock, ChildLock: m.childLock})
}

// FactoryReset restores every factory default, including passwords, fortress
// codes, history and the streak. Physical button state is kept.
func (m *Machine) FactoryReset() Snapshot {
	m.factoryReset(m.clock.Now())
	return m.Snapshot()
}

func (m *Machine) factoryReset(now time.Time) {
	m.restoreDefaults(now)
	m.vault.Reset()
	m.say(now, "factory reset")
	m.emit(now, Event{Type: EventFactoryReset})
}

// TakeEvents returns the events queued since the last call.
func (m *Machine) TakeEvents() []Event {
	ev := m.events
	m.events = nil
	return ev
}

// Snapshot returns a copy of the observable state.
func (m *Machine) Snapshot() Snapshot {
	s := Snapshot{
		Now:                m.clock.Now(),
		Mode:               m.mode,
		State:              m.state,
		Locked:             m.locked,
		LidClosed:          m.lidClosed,
		LatchRetracted:     m.latchRetracted,
		ChildLock:          m.childLock,
		ScreenOff:          m.screenOff,
		SetTime:            m.setTime,
		CursorIdx:          m.cursor,
		PwDigits:           append([]byte(nil), m.pwDigits[:]...),
		LockStart:          m.lockStart,
		LockEnd:            m.lockEnd,
		LockDuration:       m.lockDuration,
		PrelockStart:       m.prelockStart,
		InfiniteStart:      m.infiniteStart,
		InfiniteDelayEnd:   m.infiniteDelayEnd,
		InfinitePendingEnd: m.infinitePendingEnd,
		Progress:           m.streak.Progress,
		LastCheckin:        m.streak.LastCheckin,
		History:            m.history.Entries(),
		Message:            m.message,
		RewardFlashing:     m.rewardFlashing,
		ChildLockBlink:     m.childBlink,
		LockIconWarn:       m.lockIconWarn,
		FortressLeft:       m.vault.FortressRemaining(),
	}
	for i, st := range m.buttons {
		s.Held[i] = st.down
	}
	return s
}

// dispatch applies one trigger to the current state. Every legal transition
// is listed here; anything else is ignored.
func (m *Machine) dispatch(now time.Time, t trigger) {
	switch m.state {
	case StateIdle:
		switch t {
		case trigUp, trigDown:
			if m.mode.Timed() && m.history.Len() > 0 {
				m.memIndex = 0
				m.setTime = Decode(m.history.At(0))
				m.lastInput = now
				m.state = StateMemRecall
			}
		case trigSetClick:
			if m.mode.Timed() {
				m.cursor = 0
				m.lastInput = now
				m.state = StateSetTime
			}
		case trigLockClick:
			switch m.mode {
			case ModeFortress, ModeNormal:
				m.requestArm(now)
			case ModePassword, ModeInfinite:
				if m.lockTaps.tap(m.wall(), m.timing.DoubleTap) {
					m.requestArm(now)
				} else {
					m.say(now, "double tap LOCK to lock")
				}
			}
		case trigSetLong:
			if !m.locked {
				m.cycleMode(now)
			}
		case trigBackLong:
			if !m.locked {
				m.pwDigits = [PasswordLength]byte{}
				m.cursor = 0
				m.state = StatePwMasterVerify
				m.say(now, "enter master password")
			}
		}

	case StateSetTime:
		switch t {
		case trigUp:
			m.setTime = ApplyCursorStep(m.setTime, m.cursor, 1)
			m.lastInput = now
		case trigDown:
			m.setTime = ApplyCursorStep(m.setTime, m.cursor, -1)
			m.lastInput = now
		case trigSetClick:
			m.cursor = (m.cursor + 1) % CursorSlots
			m.lastInput = now
		case trigLockClick:
			m.requestArm(now)
		case trigBackClick, trigIdleTimeout:
			m.setTime = SetTime{}
			m.state = StateIdle
		}

	case StateMemRecall:
		switch t {
		case trigUp:
			n := m.history.Len()
			m.memIndex = (m.memIndex - 1 + n) % n
			m.setTime = Decode(m.history.At(m.memIndex))
		case trigDown:
			m.memIndex = (m.memIndex + 1) % m.history.Len()
			m.setTime = Decode(m.history.At(m.memIndex))
		case trigLockClick:
			m.requestArm(now)
		case trigBackClick:
			m.setTime = SetTime{}
			m.state = StateIdle
		}

	case StatePrelock:
		switch t {
		case trigLockClick:
			m.requestArm(now)
		case trigBackClick:
			m.prelockStart = time.Time{}
			if m.mode.Timed() {
				m.lastInput = now
				m.state = StateSetTime
			} else {
				m.state = StateIdle
			}
		case trigLidOpened:
			m.prelockStart = time.Time{}
			m.say(now, "lid open, countdown paused")
		case trigLidClosed:
			m.prelockStart = now
			m.say(now, "countdown restarted")
		case trigArmElapsed:
			m.engage(now)
		}

	case StateLockedTimed:
		switch t {
		case trigBackClick:
			m.backTap(now)
		case trigSetLong:
			if m.mode.Timed() && !m.lockEnd.IsZero() {
				m.enterExtend(now)
			}
		case trigDeadline:
			m.unlock(now, ReasonDeadline)
		}

	case StateLockedPassword:
		if t == trigBackClick {
			m.backTap(now)
		}

	case StateLockedInfinite:
		if t == trigBackClick {
			m.backTap(now)
		}

	case StatePwInput:
		switch t {
		case trigUp, trigDown, trigSetClick:
			m.editDigits(t)
		case trigLockClick:
			m.checkPassword(now)
		case trigBackClick, trigIdleTimeout:
			m.state = m.lockedState()
		case trigDeadline:
			m.unlock(now, ReasonDeadline)
		}

	case StateExtendSet:
		switch t {
		case trigUp:
			m.setTime = ApplyCursorStep(m.setTime, m.cursor, 1)
			m.lastInput = now
		case trigDown:
			m.setTime = ApplyCursorStep(m.setTime, m.cursor, -1)
			m.lastInput = now
		case trigSetClick:
			m.cursor = (m.cursor + 1) % CursorSlots
			m.lastInput = now
		case trigLockClick:
			m.commitExtend(now)
		case trigBackClick, trigIdleTimeout:
			m.extendBase = 0
			m.state = StateLockedTimed
		case trigDeadline:
			m.unlock(now, ReasonDeadline)
		}

	case StateInfiniteDelay:
		switch t {
		case trigDelayElapsed:
			m.infiniteDelayEnd = time.Time{}
			m.infinitePendingEnd = now.Add(m.timing.InfiniteWindow)
			m.latchRetracted = true
			m.state = StateInfinitePending
			m.say(now, "open the lid to unlock")
			m.cues.Beep()
		case trigBackClick:
			m.cancelInfinite()
		}

	case StateInfinitePending:
		switch t {
		case trigLidOpened:
			m.unlock(now, ReasonInfinite)
		case trigWindowElapsed, trigBackClick:
			m.cancelInfinite()
		}

	case StatePwMasterVerify:
		switch t {
		case trigUp, trigDown, trigSetClick:
			m.editDigits(t)
		case trigLockClick:
			if m.vault.IsMaster(m.pwDigits[:]) {
				copy(m.pwDigits[:], m.vault.UnlockCode())
				m.cursor = 0
				m.state = StatePwChange
				m.say(now, "enter new unlock password")
			} else {
				m.state = StateIdle
				m.say(now, "wrong master password")
			}
		case trigBackClick, trigIdleTimeout:
			m.state = StateIdle
		}

	case StatePwChange:
		switch t {
		case trigUp, trigDown, trigSetClick:
			m.editDigits(t)
		case trigLockClick:
			if err := m.vault.SetUnlockCode(m.pwDigits[:]); err != nil {
				m.say(now, "password not saved")
				m.cues.Warn()
				return
			}
			m.state = StateIdle
			m.say(now, "unlock password saved")
			m.emit(now, Event{Type: EventPasswordChanged})
		case trigBackClick, trigIdleTimeout:
			m.state = StateIdle
		}
	}
}

// editDigits applies UP, DOWN and SET to the password buffer. Digits and the
// cursor wrap.
func (m *Machine) editDigits(t trigger) {
	switch t {
	case trigUp:
		m.pwDigits[m.cursor] = (m.pwDigits[m.cursor] + 1) % 10
	case trigDown:
		m.pwDigits[m.cursor] = (m.pwDigits[m.cursor] + 9) % 10
	case trigSetClick:
		m.cursor = (m.cursor + 1) % PasswordLength
	}
}

// lockedState is the LOCKED_* state for the current mode.
func (m *Machine) lockedState() State {
	switch m.mode {
	case ModePassword:
		return StateLockedPassword
	case ModeInfinite:
		return StateLockedInfinite
	default:
		return StateLockedTimed
	}
}

func (m *Machine) cycleMode(now time.Time) {
	old := m.mode
	m.mode = old.Next()
	if !m.mode.Timed() || (old.Timed() && m.mode.Timed()) {
		m.setTime = SetTime{}
	}
	m.say(now, "mode: "+string(m.mode))
	m.cues.Beep()
	m.emit(now, Event{Type: EventModeChanged})
}

// requestArm enters PRELOCK if every arming precondition holds.
func (m *Machine) requestArm(now time.Time) {
	if m.mode.Timed() && m.setTime.IsZero() {
		m.say(now, "set a lock time first")
		m.cues.Warn()
		return
	}
	if !m.lidClosed {
		m.say(now, "close the lid first")
		m.cues.Warn()
		m.warnLockIcon(now)
		return
	}
	if !m.latchRetracted {
		m.say(now, "latch not retracted")
		m.cues.Warn()
		return
	}
	m.prelockStart = now
	m.state = StatePrelock
	m.cues.Beep()
}

func (m *Machine) engage(now time.Time) {
	m.locked = true
	m.latchRetracted = false
	m.prelockStart = time.Time{}
	m.lockStart = now
	m.backTaps.reset()

	switch m.mode {
	case ModeFortress, ModeNormal:
		total := m.setTime.Total()
		m.lockEnd = now.Add(total)
		m.lockDuration = total
		m.history.Add(total)
	case ModeInfinite:
		m.infiniteStart = now
	}
	m.state = m.lockedState()
	m.cues.DoubleBeep()
	m.emit(now, Event{Type: EventLocked, Duration: m.lockDuration})
}

// unlock ends the lock session. FORTRESS check-in scoring runs for natural
// and emergency completions.
func (m *Machine) unlock(now time.Time, reason Reason) {
	m.effects.cancel(effectMelody)
	m.playMelody(now, unlockMelody)

	wasFortress := m.mode == ModeFortress && !m.lockEnd.IsZero()
	if wasFortress && (reason == ReasonDeadline || reason == ReasonEmergency) {
		res := m.streak.Score(m.lockStart, now, reason == ReasonEmergency)
		if res.Earned > 0 {
			m.emit(now, Event{Type: EventCheckin, Earned: res.Earned, Progress: res.Progress})
		}
		if res.Rewarded {
			m.reward(now)
			m.emit(now, Event{Type: EventReward, Earned: res.Earned, Progress: res.Progress})
		}
	}

	var held time.Duration
	if !m.lockStart.IsZero() {
		held = now.Sub(m.lockStart)
	}
	m.clearSession()
	m.locked = false
	m.latchRetracted = true
	m.state = StateIdle
	m.backTaps.reset()
	m.emit(now, Event{Type: EventUnlocked, Reason: reason, Duration: held})
}

// backTap handles BACK clicks while locked: a double tap starts the unlock
// path for the mode.
func (m *Machine) backTap(now time.Time) {
	if !m.backTaps.tap(m.wall(), m.timing.DoubleTap) {
		m.say(now, "double tap BACK to unlock")
		return
	}
	switch m.mode {
	case ModeInfinite:
		m.infiniteDelayEnd = now.Add(m.timing.InfiniteDelay)
		m.state = StateInfiniteDelay
	default:
		m.pwDigits = [PasswordLength]byte{}
		m.cursor = 0
		m.state = StatePwInput
	}
}

func (m *Machine) checkPassword(now time.Time) {
	switch m.mode {
	case ModeFortress:
		if slot, ok := m.vault.UseFortressCode(m.pwDigits[:]); ok {
			m.unlock(now, ReasonEmergency)
			m.say(now, fmt.Sprintf("emergency unlock, code %d spent", slot+1))
			return
		}
	case ModeNormal, ModePassword:
		if m.vault.MatchUnlock(m.pwDigits[:]) {
			m.unlock(now, ReasonPassword)
			m.say(now, "unlocked")
			return
		}
	}
	m.state = m.lockedState()
	m.say(now, "wrong password")
	m.cues.Warn()
	m.emit(now, Event{Type: EventUnlockRejected})
}

func (m *Machine) cancelInfinite() {
	m.infiniteDelayEnd = time.Time{}
	m.infinitePendingEnd = time.Time{}
	m.latchRetracted = false
	m.state = StateLockedInfinite
}

func (m *Machine) enterExtend(now time.Time) {
	remaining := m.lockEnd.Sub(now).Truncate(time.Second)
	if remaining < 0 {
		remaining = 0
	}
	m.extendBase = remaining
	m.setTime = Decode(remaining)
	m.cursor = 0
	m.lastInput = now
	m.state = StateExtendSet
	m.cues.Beep()
}

func (m *Machine) commitExtend(now time.Time) {
	total := m.setTime.Total()
	if total <= m.extendBase {
		m.say(now, "must exceed remaining time")
		m.cues.Warn()
		return
	}
	delta := total - m.extendBase
	m.lockEnd = m.lockEnd.Add(delta)
	m.lockDuration += delta
	m.history.Add(total)
	m.extendBase = 0
	m.state = StateLockedTimed
	m.say(now, "extended")
	m.emit(now, Event{Type: EventExtended, Duration: m.lockDuration})
}

// touch records operator activity. It returns false when the input only woke
// the screen.
func (m *Machine) touch(now time.Time) bool {
	m.lastActivity = now
	if m.screenOff {
		m.screenOff = false
		return false
	}
	return true
}

// say shows a transient message, replacing any current one.
func (m *Machine) say(now time.Time, text string) {
	m.message = text
	m.effects.replace(effectMessage, now.Add(m.timing.Message), func() {
		m.message = ""
	})
}

func (m *Machine) blinkChildLock(now time.Time) {
	m.childBlink = true
	m.effects.replace(effectChildBlink, now.Add(m.timing.IconBlink), func() {
		m.childBlink = false
	})
}

func (m *Machine) warnLockIcon(now time.Time) {
	m.lockIconWarn = true
	m.effects.replace(effectLockWarn, now.Add(m.timing.IconBlink), func() {
		m.lockIconWarn = false
	})
}

func (m *Machine) reward(now time.Time) {
	m.rewardFlashing = true
	m.effects.replace(effectRewardFlash, now.Add(m.timing.RewardFlash), func() {
		m.rewardFlashing = false
	})
	start := now.Add(unlockMelody[len(unlockMelody)-1].offset + 300*time.Millisecond)
	m.playMelody(start, rewardMelody)
}

// playMelody plays notes relative to start. Notes due immediately are played
// now; the rest are queued.
func (m *Machine) playMelody(start time.Time, notes []note) {
	now := m.clock.Now()
	for _, n := range notes {
		at := start.Add(n.offset)
		if !at.After(now) {
			m.cues.PlayTone(n.freqHz, n.length)
			continue
		}
		freq, length := n.freqHz, n.length
		m.effects.after(effectMelody, at, func() {
			m.cues.PlayTone(freq, length)
		})
	}
}

func (m *Machine) emit(now time.Time, ev Event) {
	ev.Timestamp = now
	ev.Mode = m.mode
	ev.State = m.state
	ev.ChildLock = m.childLock
	m.events = append(m.events, ev)
}
