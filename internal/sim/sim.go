// Package sim is a terminal front-end for the controller. It renders the
// snapshot and maps keys to controller operations.
package sim

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/sweeney/lockbox/internal/logic"
)

// Controller runs fn on the goroutine that owns the machine.
type Controller interface {
	Do(ctx context.Context, fn func(*logic.Machine) logic.Snapshot) (logic.Snapshot, error)
}

// Command is one controller operation bound to a key.
type Command func(*logic.Machine) logic.Snapshot

// Help is the key legend shown on the bottom row.
const Help = "s/b/l click  S/B/L hold  ↑/↓  o lid  f/F +1h/+24h  r 5s left  u unlock  c child  q quit"

var (
	styleText  = tcell.StyleDefault
	styleTitle = tcell.StyleDefault.Bold(true)
	styleDim   = tcell.StyleDefault.Foreground(tcell.ColorGray)
	styleAlert = tcell.StyleDefault.Foreground(tcell.ColorRed).Bold(true)
	styleOK    = tcell.StyleDefault.Foreground(tcell.ColorGreen)
	styleInfo  = tcell.StyleDefault.Foreground(tcell.ColorYellow)
)

// UI draws snapshots onto a tcell screen.
type UI struct {
	screen tcell.Screen
	ctl    Controller
	arm    time.Duration
	last   logic.Snapshot
	errMsg string
}

// New creates a UI. arm is the prelock countdown, used to show time left
// while arming.
func New(screen tcell.Screen, ctl Controller, arm time.Duration) *UI {
	return &UI{screen: screen, ctl: ctl, arm: arm}
}

// KeyCommand maps a key to a controller command. held is the current button
// state, used to toggle holds. quit is true for q and Esc.
func KeyCommand(ev *tcell.EventKey, held [3]bool) (cmd Command, quit bool) {
	switch ev.Key() {
	case tcell.KeyEscape, tcell.KeyCtrlC:
		return nil, true
	case tcell.KeyUp:
		return (*logic.Machine).Up, false
	case tcell.KeyDown:
		return (*logic.Machine).Down, false
	case tcell.KeyRune:
	default:
		return nil, false
	}

	switch r := ev.Rune(); r {
	case 'q':
		return nil, true
	case 's':
		return click(logic.ButtonSet), false
	case 'b':
		return click(logic.ButtonBack), false
	case 'l':
		return click(logic.ButtonLock), false
	case 'S':
		return toggle(logic.ButtonSet, held), false
	case 'B':
		return toggle(logic.ButtonBack, held), false
	case 'L':
		return toggle(logic.ButtonLock, held), false
	case 'o':
		return (*logic.Machine).ToggleLid, false
	case 'f':
		return fastForward(time.Hour), false
	case 'F':
		return fastForward(24 * time.Hour), false
	case 'r':
		return func(m *logic.Machine) logic.Snapshot { return m.DebugReduceTime(5 * time.Second) }, false
	case 'u':
		return (*logic.Machine).DebugUnlock, false
	case 'c':
		return (*logic.Machine).ToggleChildLock, false
	}
	return nil, false
}

func click(b logic.Button) Command {
	return func(m *logic.Machine) logic.Snapshot {
		m.SetButton(b, true)
		return m.SetButton(b, false)
	}
}

func toggle(b logic.Button, held [3]bool) Command {
	down := !held[b]
	return func(m *logic.Machine) logic.Snapshot { return m.SetButton(b, down) }
}

func fastForward(d time.Duration) Command {
	return func(m *logic.Machine) logic.Snapshot { return m.DebugFastForward(d) }
}

// HandleKey runs the command bound to ev. Returns true when the user quits.
func (u *UI) HandleKey(ctx context.Context, ev *tcell.EventKey) bool {
	cmd, quit := KeyCommand(ev, u.last.Held)
	if quit {
		return true
	}
	if cmd == nil {
		return false
	}
	snap, err := u.ctl.Do(ctx, cmd)
	if err != nil {
		u.errMsg = err.Error()
	} else {
		u.errMsg = ""
		u.last = snap
	}
	u.Render()
	return false
}

// Update replaces the displayed snapshot and redraws.
func (u *UI) Update(snap logic.Snapshot) {
	u.last = snap
	u.Render()
}

// Run processes keys and snapshot updates until ctx is done or the user
// quits. The caller owns the screen and must Fini it.
func (u *UI) Run(ctx context.Context, updates <-chan logic.Snapshot) error {
	events := make(chan tcell.Event, 10)
	go func() {
		for {
			ev := u.screen.PollEvent()
			if ev == nil {
				return
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	u.Render()
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap := <-updates:
			u.Update(snap)
		case ev := <-events:
			switch ev := ev.(type) {
			case *tcell.EventKey:
				if u.HandleKey(ctx, ev) {
					return nil
				}
			case *tcell.EventResize:
				u.screen.Sync()
				u.Render()
			}
		}
	}
}

// line is one styled row of output.
type line struct {
	text  string
	style tcell.Style
}

// Render draws the last snapshot.
func (u *UI) Render() {
	u.screen.Clear()
	_, height := u.screen.Size()
	for y, l := range lines(u.last, u.arm) {
		drawText(u.screen, 0, y, l.text, l.style)
	}
	if u.errMsg != "" {
		drawText(u.screen, 0, height-2, "error: "+u.errMsg, styleAlert)
	}
	drawText(u.screen, 0, height-1, Help, styleDim)
	u.screen.Show()
}

func drawText(s tcell.Screen, x, y int, text string, style tcell.Style) {
	for _, r := range text {
		s.SetContent(x, y, r, nil, style)
		x++
	}
}

// Lines returns the plain text rows for snap.
func Lines(snap logic.Snapshot, arm time.Duration) []string {
	ls := lines(snap, arm)
	out := make([]string, len(ls))
	for i, l := range ls {
		out[i] = l.text
	}
	return out
}

func lines(snap logic.Snapshot, arm time.Duration) []line {
	if snap.State == "" {
		return []line{{"LOCKBOX  waiting for controller", styleTitle}}
	}

	out := []line{
		{fmt.Sprintf("LOCKBOX  %-8s  %-16s  sim %s", snap.Mode, snap.State, snap.Now.UTC().Format("2006-01-02 15:04:05")), styleTitle},
		{"", styleText},
	}

	if snap.ScreenOff {
		out = append(out, line{"  [ display off ]", styleDim})
	} else {
		out = append(out, line{"  " + display(snap), styleInfo})
		out = append(out, line{"  " + cursorMarker(snap), styleInfo})
	}
	out = append(out, line{"", styleText})

	if l, ok := countdown(snap, arm); ok {
		out = append(out, l)
	}

	lockStyle := styleOK
	if snap.Locked {
		lockStyle = styleAlert
	}
	out = append(out,
		line{fmt.Sprintf("locked %-5s  lid %-6s  latch %-9s  child lock %s",
			yesno(snap.Locked), lidText(snap.LidClosed), latchText(snap.LatchRetracted), onoff(snap.ChildLock)), lockStyle},
		line{fmt.Sprintf("streak %d/%d  last check-in %s", snap.Progress, logic.RewardThreshold, timeText(snap.LastCheckin)), styleText},
		line{"history " + historyText(snap.History), styleText},
		line{"held " + heldText(snap.Held), styleText},
	)

	var flags []string
	if snap.RewardFlashing {
		flags = append(flags, "*** REWARD ***")
	}
	if snap.ChildLockBlink {
		flags = append(flags, "[child lock]")
	}
	if snap.LockIconWarn {
		flags = append(flags, "[lock!]")
	}
	if len(flags) > 0 {
		out = append(out, line{strings.Join(flags, "  "), styleAlert})
	}
	if snap.Message != "" {
		out = append(out, line{"> " + snap.Message, styleInfo})
	}
	return out
}

func isPasswordState(s logic.State) bool {
	return s == logic.StatePwInput || s == logic.StatePwMasterVerify || s == logic.StatePwChange
}

// display renders the 7-digit panel: the password entry in password states,
// otherwise the set time as DDD:HH:MM.
func display(snap logic.Snapshot) string {
	if isPasswordState(snap.State) {
		var b strings.Builder
		for _, d := range snap.PwDigits {
			b.WriteByte('0' + d)
		}
		return b.String()
	}
	t := snap.SetTime
	return fmt.Sprintf("%03d:%02d:%02d", t.Days, t.Hours, t.Minutes)
}

// digitColumn maps a cursor slot to its column in the DDD:HH:MM display.
var digitColumn = [logic.CursorSlots]int{0, 1, 2, 4, 5, 7, 8}

func cursorMarker(snap logic.Snapshot) string {
	col := -1
	switch {
	case isPasswordState(snap.State):
		col = snap.CursorIdx
	case snap.State == logic.StateSetTime || snap.State == logic.StateExtendSet:
		if snap.CursorIdx >= 0 && snap.CursorIdx < logic.CursorSlots {
			col = digitColumn[snap.CursorIdx]
		}
	}
	if col < 0 {
		return ""
	}
	return strings.Repeat(" ", col) + "^"
}

func countdown(snap logic.Snapshot, arm time.Duration) (line, bool) {
	switch {
	case snap.State == logic.StatePrelock:
		if snap.PrelockStart.IsZero() {
			return line{"arming paused, close the lid", styleInfo}, true
		}
		return line{"arming in " + snap.ArmLeft(arm).Round(time.Second).String(), styleInfo}, true
	case snap.State == logic.StateInfiniteDelay:
		return line{"unlock window opens in " + clockText(snap.InfiniteDelayEnd.Sub(snap.Now)), styleInfo}, true
	case snap.State == logic.StateInfinitePending:
		return line{"unlock window closes in " + clockText(snap.InfinitePendingEnd.Sub(snap.Now)), styleInfo}, true
	case snap.Locked && !snap.LockEnd.IsZero():
		return line{"remaining " + clockText(snap.Remaining()), styleAlert}, true
	case snap.Locked && !snap.InfiniteStart.IsZero():
		return line{"locked for " + clockText(snap.Now.Sub(snap.InfiniteStart)), styleAlert}, true
	}
	return line{}, false
}

// clockText formats d as "Dd HH:MM:SS".
func clockText(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	days, h, m, s := logic.SplitDHMS(d)
	return fmt.Sprintf("%dd %02d:%02d:%02d", days, h, m, s)
}

func historyText(h []time.Duration) string {
	if len(h) == 0 {
		return "-"
	}
	parts := make([]string, len(h))
	for i, d := range h {
		t := logic.Decode(d)
		parts[i] = fmt.Sprintf("%03d:%02d:%02d", t.Days, t.Hours, t.Minutes)
	}
	return strings.Join(parts, " ")
}

func heldText(held [3]bool) string {
	var names []string
	for b := logic.ButtonSet; b <= logic.ButtonLock; b++ {
		if held[b] {
			names = append(names, b.String())
		}
	}
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, "+")
}

func timeText(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.UTC().Format("2006-01-02 15:04")
}

func yesno(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func onoff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func lidText(closed bool) string {
	if closed {
		return "closed"
	}
	return "open"
}

func latchText(retracted bool) string {
	if retracted {
		return "retracted"
	}
	return "extended"
}

// Bell is a cue sink that rings the terminal bell. Tones collapse to a
// single bell.
type Bell struct {
	screen tcell.Screen
}

// NewBell creates a Bell for screen.
func NewBell(screen tcell.Screen) *Bell {
	return &Bell{screen: screen}
}

func (b *Bell) Beep()                       { b.screen.Beep() }
func (b *Bell) DoubleBeep()                 { b.screen.Beep() }
func (b *Bell) Warn()                       { b.screen.Beep() }
func (b *Bell) PlayTone(int, time.Duration) { b.screen.Beep() }
