// Package logic contains the lock box controller: the operating state machine,
// button disambiguation, the check-in streak and the duration history.
// This package has NO hardware, network or OS dependencies. Time is injected:
// simulated time comes from a clock.Sim, wall time from a func.
package logic

import (
	"strings"
	"time"
)

// Mode is the operating mode selected from the idle screen.
type Mode string

const (
	ModeFortress Mode = "FORTRESS"
	ModeNormal   Mode = "NORMAL"
	ModePassword Mode = "PASSWORD"
	ModeInfinite Mode = "INFINITE"
)

// Next returns the mode that follows m in the SET long-press cycle.
func (m Mode) Next() Mode {
	switch m {
	case ModeFortress:
		return ModeNormal
	case ModeNormal:
		return ModePassword
	case ModePassword:
		return ModeInfinite
	default:
		return ModeFortress
	}
}

// Timed reports whether the mode locks for a set duration.
func (m Mode) Timed() bool {
	return m == ModeFortress || m == ModeNormal
}

// State is the active controller state. Exactly one is active at a time.
type State string

const (
	StateIdle            State = "IDLE"
	StateSetTime         State = "SET_TIME"
	StatePrelock         State = "PRELOCK"
	StateLockedTimed     State = "LOCKED_TIMED"
	StateLockedPassword  State = "LOCKED_PASSWORD"
	StateLockedInfinite  State = "LOCKED_INFINITE"
	StatePwInput         State = "PW_INPUT"
	StateInfiniteDelay   State = "INFINITE_DELAY"
	StateInfinitePending State = "INFINITE_PENDING"
	StateExtendSet       State = "EXTEND_SET"
	StatePwMasterVerify  State = "PW_MASTER_VERIFY"
	StatePwChange        State = "PW_CHANGE"
	StateMemRecall       State = "MEM_RECALL"
)

// Button identifies one of the three press-and-hold buttons. UP and DOWN are
// plain click inputs and have their own operations.
type Button int

const (
	ButtonSet Button = iota
	ButtonBack
	ButtonLock
	buttonCount
)

func (b Button) String() string {
	switch b {
	case ButtonSet:
		return "SET"
	case ButtonBack:
		return "BACK"
	case ButtonLock:
		return "LOCK"
	default:
		return "UNKNOWN"
	}
}

// ParseButton accepts "set", "back" or "lock" in any case.
func ParseButton(s string) (Button, bool) {
	switch strings.ToUpper(s) {
	case "SET":
		return ButtonSet, true
	case "BACK":
		return ButtonBack, true
	case "LOCK":
		return ButtonLock, true
	}
	return 0, false
}

// CueSink receives fire-and-forget audio requests. Implementations must not
// block; the controller never waits on them.
type CueSink interface {
	Beep()
	DoubleBeep()
	Warn()
	PlayTone(freqHz int, d time.Duration)
}

// NopCues discards every cue.
type NopCues struct{}

func (NopCues) Beep()                       {}
func (NopCues) DoubleBeep()                 {}
func (NopCues) Warn()                       {}
func (NopCues) PlayTone(int, time.Duration) {}

// PasswordVault is the password store the controller verifies against.
// Digits are raw values 0-9, PasswordLength of them.
type PasswordVault interface {
	IsMaster(digits []byte) bool
	MatchUnlock(digits []byte) bool
	UseFortressCode(digits []byte) (slot int, ok bool)
	UnlockCode() []byte
	SetUnlockCode(digits []byte) error
	FortressRemaining() int
	Reset()
}

// EventType names an outbound controller event.
type EventType string

const (
	EventLocked          EventType = "LOCKED"
	EventUnlocked        EventType = "UNLOCKED"
	EventExtended        EventType = "EXTENDED"
	EventUnlockRejected  EventType = "UNLOCK_REJECTED"
	EventCheckin         EventType = "CHECKIN"
	EventReward          EventType = "REWARD"
	EventStreakExpired   EventType = "STREAK_EXPIRED"
	EventModeChanged     EventType = "MODE_CHANGED"
	EventPasswordChanged EventType = "PASSWORD_CHANGED"
	EventChildLock       EventType = "CHILD_LOCK"
	EventFactoryReset    EventType = "FACTORY_RESET"
)

// Reason explains how a lock ended.
type Reason string

const (
	ReasonDeadline  Reason = "DEADLINE"
	ReasonPassword  Reason = "PASSWORD"
	ReasonEmergency Reason = "EMERGENCY"
	ReasonInfinite  Reason = "INFINITE"
	ReasonDebug     Reason = "DEBUG"
)

// Event is emitted on lock lifecycle changes and queued until TakeEvents.
type Event struct {
	Timestamp time.Time // simulated time
	Type      EventType
	Mode      Mode
	State     State // state after the change
	Reason    Reason
	Duration  time.Duration // lock duration (LOCKED, EXTENDED) or time locked (UNLOCKED)
	Progress  int           // streak after CHECKIN/REWARD
	Earned    int
	ChildLock bool
	Detail    string

	// Session is not set by the controller; the journal stamps it.
	Session string
}

// Timing holds every controller threshold.
type Timing struct {
	Arm              time.Duration // prelock countdown
	SetTimeIdle      time.Duration
	ExtendIdle       time.Duration
	PasswordIdle     time.Duration
	ScreenOff        time.Duration
	InfiniteDelay    time.Duration
	InfiniteWindow   time.Duration
	DoubleTap        time.Duration // wall clock
	LongPress        time.Duration // SET
	ChildLockHold    time.Duration // BACK+LOCK
	MasterHold       time.Duration // BACK alone
	FactoryResetHold time.Duration // SET+LOCK
	Message          time.Duration
	RewardFlash      time.Duration
	IconBlink        time.Duration
}

// DefaultTiming returns the device's shipped thresholds.
func DefaultTiming() Timing {
	return Timing{
		Arm:              5 * time.Second,
		SetTimeIdle:      60 * time.Second,
		ExtendIdle:       10 * time.Second,
		PasswordIdle:     10 * time.Second,
		ScreenOff:        20 * time.Second,
		InfiniteDelay:    3 * time.Minute,
		InfiniteWindow:   5 * time.Minute,
		DoubleTap:        350 * time.Millisecond,
		LongPress:        3 * time.Second,
		ChildLockHold:    5 * time.Second,
		MasterHold:       10 * time.Second,
		FactoryResetHold: 20 * time.Second,
		Message:          3 * time.Second,
		RewardFlash:      3 * time.Second,
		IconBlink:        time.Second,
	}
}

// Snapshot is a point-in-time, read-only view of the controller.
// It is a value type; slices are copies.
type Snapshot struct {
	Now   time.Time // simulated
	Mode  Mode
	State State

	Locked         bool
	LidClosed      bool
	LatchRetracted bool
	ChildLock      bool
	ScreenOff      bool

	SetTime   SetTime
	CursorIdx int
	PwDigits  []byte

	LockStart          time.Time
	LockEnd            time.Time
	LockDuration       time.Duration
	PrelockStart       time.Time
	InfiniteStart      time.Time
	InfiniteDelayEnd   time.Time
	InfinitePendingEnd time.Time

	Progress     int
	LastCheckin  time.Time
	History      []time.Duration
	Message      string
	FortressLeft int // unused fortress codes

	RewardFlashing bool
	ChildLockBlink bool
	LockIconWarn   bool

	Held [buttonCount]bool
}

// Remaining returns the time left on a timed lock, zero when none.
func (s Snapshot) Remaining() time.Duration {
	if s.LockEnd.IsZero() {
		return 0
	}
	if d := s.LockEnd.Sub(s.Now); d > 0 {
		return d
	}
	return 0
}

// ArmLeft returns the time left on the prelock countdown. While the countdown
// is paused (lid open) it returns the full arm duration.
func (s Snapshot) ArmLeft(arm time.Duration) time.Duration {
	if s.PrelockStart.IsZero() {
		return arm
	}
	if d := arm - s.Now.Sub(s.PrelockStart); d > 0 {
		return d
	}
	return 0
}
