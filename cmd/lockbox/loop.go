package main

import (
	"context"
	"errors"
	"log"
	"os"
	"syscall"
	"time"

	"github.com/sweeney/lockbox/internal/gpio"
	"github.com/sweeney/lockbox/internal/logic"
	"github.com/sweeney/lockbox/internal/mqtt"
	"github.com/sweeney/lockbox/internal/status"
)

// recorder stamps and stores events. Implemented by *journal.Journal.
type recorder interface {
	Record(ev logic.Event) (logic.Event, error)
}

// command is a controller operation submitted from another goroutine.
type command struct {
	fn    func(*logic.Machine) logic.Snapshot
	reply chan logic.Snapshot
}

var errLoopStopped = errors.New("controller loop stopped")

// loopController submits commands to runLoop. It satisfies web.Controller and
// sim.Controller.
type loopController struct {
	cmds chan command
	done chan struct{}
}

func newLoopController() *loopController {
	return &loopController{
		cmds: make(chan command),
		done: make(chan struct{}),
	}
}

// Do runs fn on the loop goroutine and waits for its snapshot.
func (c *loopController) Do(ctx context.Context, fn func(*logic.Machine) logic.Snapshot) (logic.Snapshot, error) {
	reply := make(chan logic.Snapshot, 1)
	select {
	case c.cmds <- command{fn: fn, reply: reply}:
	case <-ctx.Done():
		return logic.Snapshot{}, ctx.Err()
	case <-c.done:
		return logic.Snapshot{}, errLoopStopped
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-ctx.Done():
		return logic.Snapshot{}, ctx.Err()
	case <-c.done:
		return logic.Snapshot{}, errLoopStopped
	}
}

// loop holds everything runLoop drives. Panel, latch and journal may be nil.
type loop struct {
	machine    *logic.Machine
	panel      gpio.Panel
	debouncer  *gpio.Debouncer
	latch      gpio.Latch
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus
	journal    recorder
	tracker    *status.Tracker
	heartbeat  time.Duration
	now        func() time.Time

	// onSettle, if set, receives the snapshot after every tick and command.
	onSettle func(logic.Snapshot)

	latchSet      bool
	latchState    bool
	lastHeartbeat time.Time
}

// runLoop owns the machine. Every mutation happens on this goroutine: panel
// changes and timers on tick, remote operations via cmds. On a signal or ctx
// cancellation it publishes SHUTDOWN and returns.
func runLoop(ctx context.Context, l *loop, tick <-chan time.Time, cmds <-chan command, sig <-chan os.Signal) error {
	l.lastHeartbeat = l.now()
	l.settle(l.machine.Snapshot())

	for {
		select {
		case s := <-sig:
			log.Printf("received %v, shutting down", s)
			l.shutdown(signalName(s))
			return nil

		case <-ctx.Done():
			log.Printf("context done, shutting down")
			l.shutdown("QUIT")
			return nil

		case c := <-cmds:
			snap := c.fn(l.machine)
			if l.reconcileLid() {
				snap = l.machine.Snapshot()
			}
			l.settle(snap)
			c.reply <- snap

		case <-tick:
			t := l.now()
			l.readPanel(t)
			l.settle(l.machine.Tick())
			l.checkHeartbeat(t)
		}
	}
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}

func (l *loop) readPanel(t time.Time) {
	if l.panel == nil {
		return
	}
	sample, err := l.panel.Read()
	if err != nil {
		log.Printf("gpio read error: %v", err)
		return
	}
	changes := l.debouncer.Process(sample, t)
	l.reconcileLid()
	for _, c := range changes {
		l.apply(c)
	}
}

// reconcileLid makes the controller's lid flag follow the debounced switch.
// The controller can drift from the switch at start-up and after a factory
// reset, which assumes a closed lid. While locked a mismatch is left to the
// lid change itself, which the controller refuses once with a warning.
// Reports whether the controller was changed.
func (l *loop) reconcileLid() bool {
	if l.panel == nil || !l.debouncer.IsBaselined() {
		return false
	}
	snap := l.machine.Snapshot()
	closed := l.debouncer.Stable().Lid
	if snap.LidClosed == closed {
		return false
	}
	if snap.Locked && snap.State != logic.StateInfinitePending {
		return false
	}
	l.machine.ToggleLid()
	return true
}

// apply maps one debounced change onto the controller.
func (l *loop) apply(c gpio.Change) {
	switch c.Input {
	case gpio.InputSet:
		l.machine.SetButton(logic.ButtonSet, c.Active)
	case gpio.InputBack:
		l.machine.SetButton(logic.ButtonBack, c.Active)
	case gpio.InputLock:
		l.machine.SetButton(logic.ButtonLock, c.Active)
	case gpio.InputUp:
		if c.Active {
			l.machine.Up()
		}
	case gpio.InputDown:
		if c.Active {
			l.machine.Down()
		}
	case gpio.InputLid:
		l.syncLid(c.Active)
	}
}

// syncLid toggles the controller's lid only when it disagrees with the switch.
func (l *loop) syncLid(closed bool) {
	if l.machine.Snapshot().LidClosed != closed {
		l.machine.ToggleLid()
	}
}

// settle pushes a snapshot out to the latch, the journal, MQTT and the
// status tracker.
func (l *loop) settle(snap logic.Snapshot) {
	if l.latch != nil && (!l.latchSet || l.latchState != snap.LatchRetracted) {
		if err := l.latch.Set(snap.LatchRetracted); err != nil {
			log.Printf("latch error: %v", err)
		} else {
			l.latchSet = true
			l.latchState = snap.LatchRetracted
			log.Printf("latch: retracted=%t", snap.LatchRetracted)
		}
	}

	for _, ev := range l.machine.TakeEvents() {
		if l.journal != nil {
			stamped, err := l.journal.Record(ev)
			if err != nil {
				log.Printf("journal error: %v", err)
			}
			ev = stamped
		}
		log.Printf("event: %s (mode=%s state=%s reason=%s)", ev.Type, ev.Mode, ev.State, ev.Reason)
		if l.tracker != nil {
			l.tracker.Record(ev)
		}
		if err := l.publisher.Publish(ev); err != nil {
			log.Printf("publish error: %v", err)
		}
	}

	if l.tracker != nil {
		baselined := l.panel == nil || l.debouncer.IsBaselined()
		l.tracker.Update(snap, baselined)
		if l.mqttStatus != nil {
			l.tracker.SetMQTTConnected(l.mqttStatus.IsConnected())
		}
	}
	if l.onSettle != nil {
		l.onSettle(snap)
	}
}

func (l *loop) checkHeartbeat(t time.Time) {
	if l.heartbeat <= 0 || t.Sub(l.lastHeartbeat) < l.heartbeat {
		return
	}
	l.lastHeartbeat = t

	ev := mqtt.SystemEvent{Timestamp: t, Event: "HEARTBEAT", Retained: true}
	if l.tracker != nil {
		ev.RawPayload = status.FormatStatusEvent(l.tracker.Snapshot(), "HEARTBEAT", "")
	}
	if err := l.publisher.PublishSystem(ev); err != nil {
		log.Printf("heartbeat publish error: %v", err)
	}
}

func (l *loop) shutdown(reason string) {
	ev := mqtt.SystemEvent{
		Timestamp: l.now(),
		Event:     "SHUTDOWN",
		Reason:    reason,
		Retained:  true,
	}
	if l.tracker != nil {
		if l.mqttStatus != nil {
			l.tracker.SetMQTTConnected(l.mqttStatus.IsConnected())
		}
		ev.RawPayload = status.FormatStatusEvent(l.tracker.Snapshot(), "SHUTDOWN", reason)
	}
	if err := l.publisher.PublishSystem(ev); err != nil {
		log.Printf("failed to publish shutdown event: %v", err)
	} else {
		log.Printf("published shutdown event")
	}
}
