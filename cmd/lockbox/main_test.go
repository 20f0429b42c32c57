package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/sweeney/lockbox/internal/audio"
	"github.com/sweeney/lockbox/internal/clock"
	"github.com/sweeney/lockbox/internal/gpio"
	"github.com/sweeney/lockbox/internal/journal"
	"github.com/sweeney/lockbox/internal/logic"
	"github.com/sweeney/lockbox/internal/mqtt"
	"github.com/sweeney/lockbox/internal/status"
	"github.com/sweeney/lockbox/internal/vault"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// stepClock advances by step on every loop now() call. The machine reads the
// same instant through wall, so both share one timeline. Only the loop
// goroutine calls either.
type stepClock struct {
	t       time.Time
	step    time.Duration
	started bool
}

func (c *stepClock) now() time.Time {
	if c.started {
		c.t = c.t.Add(c.step)
	}
	c.started = true
	return c.t
}

func (c *stepClock) wall() time.Time { return c.t }

// repeat returns n copies of sample.
func repeat(sample gpio.Sample, n int) []gpio.Sample {
	out := make([]gpio.Sample, n)
	for i := range out {
		out[i] = sample
	}
	return out
}

var idle = gpio.Sample{Lid: true}

// press returns samples that press and release one input, each level held
// for two polls.
func press(with gpio.Sample) []gpio.Sample {
	return append(repeat(with, 2), repeat(idle, 2)...)
}

func script(parts ...[]gpio.Sample) []gpio.Sample {
	var out []gpio.Sample
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// faultPanel returns errors for reads in [faultStart, faultEnd).
type faultPanel struct {
	inner      *gpio.FakePanel
	call       int
	faultStart int
	faultEnd   int
}

func (p *faultPanel) Read() (gpio.Sample, error) {
	i := p.call
	p.call++
	if i >= p.faultStart && i < p.faultEnd {
		return gpio.Sample{}, errors.New("gpio fault")
	}
	return p.inner.Read()
}

func (p *faultPanel) Close() error { return p.inner.Close() }

type harness struct {
	loop  *loop
	pub   *mqtt.FakePublisher
	latch *gpio.FakeLatch
	clock *stepClock
}

func newHarness(t *testing.T, panel gpio.Panel) *harness {
	t.Helper()
	return newHarnessWithCues(t, panel, nil)
}

func newHarnessWithCues(t *testing.T, panel gpio.Panel, cues logic.CueSink) *harness {
	t.Helper()
	cfg := vault.DefaultConfig()
	cfg.Cost = 4
	v, err := vault.New(cfg)
	if err != nil {
		t.Fatalf("vault: %v", err)
	}

	c := &stepClock{t: epoch, step: 100 * time.Millisecond}
	m := logic.New(logic.Config{
		Clock: clock.New(epoch),
		Wall:  c.wall,
		Vault: v,
		Cues:  cues,
	})
	pub := mqtt.NewFakePublisher()
	latch := &gpio.FakeLatch{}

	return &harness{
		loop: &loop{
			machine:    m,
			panel:      panel,
			debouncer:  gpio.NewDebouncer(40 * time.Millisecond),
			latch:      latch,
			publisher:  pub,
			mqttStatus: pub,
			tracker:    status.NewTracker(epoch, status.Config{}),
			now:        c.now,
		},
		pub:   pub,
		latch: latch,
		clock: c,
	}
}

// drive runs runLoop for nTicks ticks and then delivers sig.
func (h *harness) drive(t *testing.T, nTicks int, sig os.Signal) {
	t.Helper()
	tick := make(chan time.Time)
	sigCh := make(chan os.Signal, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- runLoop(context.Background(), h.loop, tick, nil, sigCh)
	}()

	for i := 0; i < nTicks; i++ {
		tick <- time.Time{}
	}
	sigCh <- sig

	if err := <-errCh; err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}
}

func eventTypes(evs []logic.Event) []logic.EventType {
	out := make([]logic.EventType, len(evs))
	for i, e := range evs {
		out[i] = e.Type
	}
	return out
}

func findEvent(evs []logic.Event, typ logic.EventType) (logic.Event, bool) {
	for _, e := range evs {
		if e.Type == typ {
			return e, true
		}
	}
	return logic.Event{}, false
}

func TestRunLoopNoEventsAtBaseline(t *testing.T) {
	h := newHarness(t, gpio.NewFakePanel(repeat(idle, 4)))
	h.drive(t, 4, syscall.SIGTERM)

	if evs := h.pub.Events(); len(evs) != 0 {
		t.Errorf("expected no events, got %v", eventTypes(evs))
	}
	sys := h.pub.SystemEvents()
	if len(sys) != 1 || sys[0].Event != "SHUTDOWN" {
		t.Fatalf("expected a single SHUTDOWN, got %+v", sys)
	}
	if writes := h.latch.Writes(); len(writes) != 1 || !writes[0] {
		t.Errorf("latch should be driven retracted once, got %v", writes)
	}
	if !h.loop.tracker.Snapshot().PanelReady {
		t.Error("tracker should report baselined")
	}
}

func TestRunLoopPanelLocksBox(t *testing.T) {
	samples := script(
		repeat(idle, 2),
		press(gpio.Sample{Set: true, Lid: true}),  // SET_TIME
		press(gpio.Sample{Up: true, Lid: true}),   // +100 days
		press(gpio.Sample{Lock: true, Lid: true}), // PRELOCK
		repeat(idle, 60),                          // arm countdown
	)
	h := newHarness(t, gpio.NewFakePanel(samples))
	j, err := journal.Open(":memory:")
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	defer j.Close()
	h.loop.journal = j

	h.drive(t, len(samples), syscall.SIGTERM)

	locked, ok := findEvent(h.pub.Events(), logic.EventLocked)
	if !ok {
		t.Fatalf("expected LOCKED, got %v", eventTypes(h.pub.Events()))
	}
	if locked.Session == "" {
		t.Error("LOCKED should carry a journal session")
	}
	if locked.Duration != 100*logic.Day {
		t.Errorf("lock duration: got %v", locked.Duration)
	}

	retracted, _ := h.latch.Retracted()
	if retracted {
		t.Error("latch should be extended while locked")
	}
	snap := h.loop.tracker.Snapshot()
	if snap.Box.State != logic.StateLockedTimed || snap.Counts.Locks != 1 {
		t.Errorf("tracker: state %s locks %d", snap.Box.State, snap.Counts.Locks)
	}
	if j.Current() != locked.Session {
		t.Errorf("journal open session %q, want %q", j.Current(), locked.Session)
	}
}

func TestRunLoopSyncsOpenLidAtBaseline(t *testing.T) {
	h := newHarness(t, gpio.NewFakePanel(repeat(gpio.Sample{Lid: false}, 4)))
	h.drive(t, 4, syscall.SIGTERM)

	if h.loop.tracker.Snapshot().Box.LidClosed {
		t.Error("controller lid should follow the open switch after baseline")
	}
}

func TestRunLoopFactoryResetFollowsOpenLid(t *testing.T) {
	open := gpio.Sample{}
	samples := script(
		repeat(open, 4),
		repeat(gpio.Sample{Set: true}, 2), repeat(open, 2),
		repeat(gpio.Sample{Up: true}, 2), repeat(open, 2),
		repeat(gpio.Sample{Lock: true}, 2), repeat(open, 60),
	)
	h := newHarness(t, gpio.NewFakePanel(samples))

	tick := make(chan time.Time)
	cmds := make(chan command)
	sigCh := make(chan os.Signal, 1)
	errCh := make(chan error, 1)
	go func() { errCh <- runLoop(context.Background(), h.loop, tick, cmds, sigCh) }()

	for i := 0; i < 4; i++ {
		tick <- time.Time{}
	}
	reply := make(chan logic.Snapshot, 1)
	cmds <- command{fn: (*logic.Machine).FactoryReset, reply: reply}
	if snap := <-reply; snap.LidClosed {
		t.Error("reset should not leave the controller believing the lid is closed")
	}

	for i := 4; i < len(samples); i++ {
		tick <- time.Time{}
	}
	sigCh <- syscall.SIGTERM
	if err := <-errCh; err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	snap := h.loop.tracker.Snapshot().Box
	if snap.Locked || snap.State != logic.StateSetTime {
		t.Errorf("arming with the lid open must be refused: locked=%t state=%s", snap.Locked, snap.State)
	}
	if retracted, _ := h.latch.Retracted(); !retracted {
		t.Error("latch must stay retracted")
	}
	if _, ok := findEvent(h.pub.Events(), logic.EventLocked); ok {
		t.Error("no LOCKED event expected")
	}
}

func TestRunLoopLockedLidOpenWarnsOnce(t *testing.T) {
	samples := script(
		repeat(idle, 2),
		press(gpio.Sample{Set: true, Lid: true}),
		press(gpio.Sample{Up: true, Lid: true}),
		press(gpio.Sample{Lock: true, Lid: true}),
		repeat(idle, 60),
		repeat(gpio.Sample{}, 20), // lid forced open while locked
	)
	cues := &audio.Recorder{}
	h := newHarnessWithCues(t, gpio.NewFakePanel(samples), cues)
	h.drive(t, len(samples), syscall.SIGTERM)

	snap := h.loop.tracker.Snapshot().Box
	if !snap.Locked || !snap.LidClosed {
		t.Fatalf("box should stay locked with the lid flag closed: %+v", snap)
	}
	var warns int
	for _, c := range cues.Cues() {
		if c.Name == "warn" {
			warns++
		}
	}
	if warns != 1 {
		t.Errorf("expected one warning for the forced lid, got %d", warns)
	}
}

func TestRunLoopLidChange(t *testing.T) {
	samples := script(repeat(idle, 2), repeat(gpio.Sample{Lid: false}, 3))
	h := newHarness(t, gpio.NewFakePanel(samples))
	h.drive(t, len(samples), syscall.SIGTERM)

	if h.loop.tracker.Snapshot().Box.LidClosed {
		t.Error("lid should be open")
	}
}

func TestRunLoopBounceRejection(t *testing.T) {
	// A one-poll blip of SET never settles and must not enter SET_TIME.
	samples := script(repeat(idle, 2), []gpio.Sample{{Set: true, Lid: true}}, repeat(idle, 3))
	h := newHarness(t, gpio.NewFakePanel(samples))
	h.drive(t, len(samples), syscall.SIGTERM)

	if st := h.loop.tracker.Snapshot().Box.State; st != logic.StateIdle {
		t.Errorf("expected IDLE, got %s", st)
	}
}

func TestRunLoopGPIOReadError(t *testing.T) {
	panel := &faultPanel{inner: gpio.NewFakePanel(repeat(idle, 10)), faultStart: 0, faultEnd: 3}
	h := newHarness(t, panel)
	h.drive(t, 6, syscall.SIGTERM)

	if !h.loop.tracker.Snapshot().PanelReady {
		t.Error("loop should recover and baseline after read errors")
	}
	sys := h.pub.SystemEvents()
	if len(sys) == 0 || sys[len(sys)-1].Event != "SHUTDOWN" {
		t.Error("expected SHUTDOWN after GPIO errors")
	}
}

func TestRunLoopLatchErrorRetried(t *testing.T) {
	h := newHarness(t, gpio.NewFakePanel(repeat(idle, 4)))
	h.latch.SetError = errors.New("line busy")
	h.loop.settle(h.loop.machine.Snapshot())
	if len(h.latch.Writes()) != 0 {
		t.Fatal("failed write should not be recorded")
	}

	h.latch.SetError = nil
	h.loop.settle(h.loop.machine.Snapshot())
	if writes := h.latch.Writes(); len(writes) != 1 || !writes[0] {
		t.Errorf("latch should be retried, got %v", writes)
	}
}

func TestRunLoopHeartbeat(t *testing.T) {
	h := newHarness(t, gpio.NewFakePanel(repeat(idle, 20)))
	h.loop.heartbeat = time.Second

	h.drive(t, 15, syscall.SIGTERM)

	var heartbeats int
	for _, se := range h.pub.SystemEvents() {
		if se.Event == "HEARTBEAT" {
			heartbeats++
			if se.RawPayload == nil {
				t.Error("HEARTBEAT should carry a status payload")
			}
			if !se.Retained {
				t.Error("HEARTBEAT should be retained")
			}
		}
	}
	if heartbeats != 1 {
		t.Errorf("expected 1 HEARTBEAT in 1.5s, got %d", heartbeats)
	}
}

func TestRunLoopPublishError(t *testing.T) {
	h := newHarness(t, gpio.NewFakePanel(repeat(idle, 4)))
	h.pub.PublishError = errors.New("broker unavailable")

	tick := make(chan time.Time)
	cmds := make(chan command)
	sigCh := make(chan os.Signal, 1)
	errCh := make(chan error, 1)
	go func() { errCh <- runLoop(context.Background(), h.loop, tick, cmds, sigCh) }()

	reply := make(chan logic.Snapshot, 1)
	cmds <- command{fn: (*logic.Machine).ToggleChildLock, reply: reply}
	if snap := <-reply; !snap.ChildLock {
		t.Error("command should still apply")
	}
	tick <- time.Time{}
	sigCh <- syscall.SIGTERM
	if err := <-errCh; err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if len(h.pub.Events()) != 0 {
		t.Error("failed publishes should not be recorded")
	}
	if !h.loop.tracker.Snapshot().Box.ChildLock {
		t.Error("tracker should still see the command's effect")
	}
}

func TestRunLoopShutdownReasons(t *testing.T) {
	tests := []struct {
		sig  os.Signal
		want string
	}{
		{syscall.SIGINT, "SIGINT"},
		{syscall.SIGTERM, "SIGTERM"},
		{syscall.SIGHUP, "UNKNOWN"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			h := newHarness(t, gpio.NewFakePanel(repeat(idle, 2)))
			h.drive(t, 2, tt.sig)

			sys := h.pub.SystemEvents()
			if len(sys) != 1 {
				t.Fatalf("expected 1 system event, got %d", len(sys))
			}
			if sys[0].Reason != tt.want || !sys[0].Retained {
				t.Errorf("unexpected shutdown %+v", sys[0])
			}
			if sys[0].RawPayload == nil {
				t.Error("SHUTDOWN should carry a status payload")
			}
		})
	}
}

func TestRunLoopContextCancel(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- runLoop(ctx, h.loop, nil, nil, nil) }()
	cancel()

	if err := <-errCh; err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}
	sys := h.pub.SystemEvents()
	if len(sys) != 1 || sys[0].Reason != "QUIT" {
		t.Errorf("expected SHUTDOWN/QUIT, got %+v", sys)
	}
}

func TestLoopControllerRoundTrip(t *testing.T) {
	h := newHarness(t, nil)
	ctl := newLoopController()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		defer close(ctl.done)
		errCh <- runLoop(ctx, h.loop, nil, ctl.cmds, nil)
	}()

	snap, err := ctl.Do(context.Background(), (*logic.Machine).ToggleChildLock)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if !snap.ChildLock {
		t.Error("expected child lock on")
	}
	if _, ok := findEvent(h.pub.Events(), logic.EventChildLock); !ok {
		t.Error("command events should be published")
	}

	cancel()
	<-errCh
	if _, err := ctl.Do(context.Background(), (*logic.Machine).Up); !errors.Is(err, errLoopStopped) {
		t.Errorf("expected errLoopStopped, got %v", err)
	}
}

func TestLoopControllerContextTimeout(t *testing.T) {
	ctl := newLoopController()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := ctl.Do(ctx, (*logic.Machine).Up); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestOptionDefaults(t *testing.T) {
	tests := []struct {
		name     string
		defaults options
		args     []string
		want     options
	}{
		{"run", runDefaults, nil, runDefaults},
		{"sim", simDefaults, nil, options{poll: 50 * time.Millisecond, journal: ":memory:", debug: true}},
		{"sim override", simDefaults, []string{"-poll", "20ms", "-debug=false"}, options{poll: 20 * time.Millisecond, journal: ":memory:"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var o options
			fs := flag.NewFlagSet(tt.name, flag.ContinueOnError)
			o.register(fs, tt.defaults)
			if err := fs.Parse(tt.args); err != nil {
				t.Fatalf("parse: %v", err)
			}
			if o != tt.want {
				t.Errorf("got %+v, want %+v", o, tt.want)
			}
		})
	}
	if runDefaults.debug {
		t.Error("run must not enable debug routes by default")
	}
}

func TestFormatSample(t *testing.T) {
	tests := []struct {
		in   gpio.Sample
		want string
	}{
		{gpio.Sample{}, "SET: UP, BACK: UP, LOCK: UP, UP: UP, DOWN: UP, LID: OPEN"},
		{gpio.Sample{Set: true, Down: true, Lid: true}, "SET: DOWN, BACK: UP, LOCK: UP, UP: UP, DOWN: DOWN, LID: CLOSED"},
	}
	for _, tt := range tests {
		if got := formatSample(tt.in); got != tt.want {
			t.Errorf("formatSample(%+v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNewPublisherWithoutBroker(t *testing.T) {
	pub, st, err := newPublisher("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := pub.(mqtt.Discard); !ok {
		t.Errorf("expected Discard, got %T", pub)
	}
	if st.IsConnected() {
		t.Error("Discard should report disconnected")
	}
}

func TestWatchPanel(t *testing.T) {
	panel := gpio.NewFakePanel([]gpio.Sample{
		{Lid: true},
		{Lid: true},
		{Lock: true, Lid: true},
		{Lock: true},
	})
	tick := make(chan time.Time)
	ctx, cancel := context.WithCancel(context.Background())
	var buf bytes.Buffer
	errCh := make(chan error, 1)
	go func() { errCh <- watchPanel(ctx, panel, tick, &buf) }()

	at := time.Date(2026, 1, 1, 9, 30, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		tick <- at
	}
	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("watchPanel: %v", err)
	}

	want := "SET: UP, BACK: UP, LOCK: UP, UP: UP, DOWN: UP, LID: CLOSED\n" +
		"09:30:00.000 LOCK: DOWN\n" +
		"09:30:00.000 LID: OPEN\n"
	if got := buf.String(); got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}
}
