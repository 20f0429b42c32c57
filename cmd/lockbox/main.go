// Command lockbox runs the lock box controller: on the board with GPIO
// buttons, lid switch, latch and buzzer, or in a terminal simulator.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/peterbourgon/ff/v3"
	"github.com/peterbourgon/ff/v3/ffcli"

	"github.com/sweeney/lockbox/internal/audio"
	"github.com/sweeney/lockbox/internal/clock"
	"github.com/sweeney/lockbox/internal/config"
	"github.com/sweeney/lockbox/internal/gpio"
	"github.com/sweeney/lockbox/internal/journal"
	"github.com/sweeney/lockbox/internal/logic"
	"github.com/sweeney/lockbox/internal/mqtt"
	"github.com/sweeney/lockbox/internal/sim"
	"github.com/sweeney/lockbox/internal/status"
	"github.com/sweeney/lockbox/internal/vault"
	"github.com/sweeney/lockbox/internal/web"
)

const envPrefix = "LOCKBOX"

// options are the flags shared by run and sim.
type options struct {
	poll      time.Duration
	broker    string
	heartbeat time.Duration
	httpAddr  string
	journal   string
	debug     bool
}

var (
	runDefaults = options{
		poll:      10 * time.Millisecond,
		broker:    "tcp://192.168.1.200:1883",
		heartbeat: 15 * time.Minute,
		httpAddr:  ":80",
		journal:   "/var/lib/lockbox/journal.db",
	}
	simDefaults = options{
		poll:    50 * time.Millisecond,
		journal: ":memory:",
		debug:   true,
	}
)

func (o *options) register(fs *flag.FlagSet, defaults options) {
	fs.DurationVar(&o.poll, "poll", defaults.poll, "Tick interval")
	fs.StringVar(&o.broker, "broker", defaults.broker, "MQTT broker address (empty to disable)")
	fs.DurationVar(&o.heartbeat, "heartbeat", defaults.heartbeat, "Heartbeat interval (0 to disable)")
	fs.StringVar(&o.httpAddr, "http", defaults.httpAddr, "HTTP status address (empty to disable)")
	fs.StringVar(&o.journal, "journal", defaults.journal, `SQLite journal path (empty to disable, ":memory:" for throwaway)`)
	fs.BoolVar(&o.debug, "debug", defaults.debug, "Enable POST /debug routes")
}

func main() {
	rootFlagSet := flag.NewFlagSet("lockbox", flag.ExitOnError)

	var runOpts options
	runFlagSet := flag.NewFlagSet("lockbox run", flag.ExitOnError)
	runOpts.register(runFlagSet, runDefaults)
	runProfile := runFlagSet.String("profile", "", "Board profile YAML (empty for the reference board)")

	var simOpts options
	simFlagSet := flag.NewFlagSet("lockbox sim", flag.ExitOnError)
	simOpts.register(simFlagSet, simDefaults)
	simLog := simFlagSet.String("log", "", "Log file (empty discards logs while the UI is up)")

	printFlagSet := flag.NewFlagSet("lockbox print-state", flag.ExitOnError)
	printProfile := printFlagSet.String("profile", "", "Board profile YAML (empty for the reference board)")
	printWatch := printFlagSet.Duration("watch", 0, "Keep polling at this interval and print raw level changes (0 prints once)")

	ffOpts := []ff.Option{ff.WithEnvVarPrefix(envPrefix)}

	runCmd := &ffcli.Command{
		Name:       "run",
		ShortUsage: "lockbox run [flags]",
		ShortHelp:  "Run the controller on the board",
		FlagSet:    runFlagSet,
		Options:    ffOpts,
		Exec: func(ctx context.Context, args []string) error {
			return execRun(runOpts, *runProfile)
		},
	}

	simCmd := &ffcli.Command{
		Name:       "sim",
		ShortUsage: "lockbox sim [flags]",
		ShortHelp:  "Run the controller in a terminal simulator",
		LongHelp:   "Keys:\n  " + sim.Help,
		FlagSet:    simFlagSet,
		Options:    ffOpts,
		Exec: func(ctx context.Context, args []string) error {
			return execSim(simOpts, *simLog)
		},
	}

	printCmd := &ffcli.Command{
		Name:       "print-state",
		ShortUsage: "lockbox print-state [flags]",
		ShortHelp:  "Print the current panel levels",
		FlagSet:    printFlagSet,
		Options:    ffOpts,
		Exec: func(ctx context.Context, args []string) error {
			return execPrintState(*printProfile, *printWatch, os.Stdout)
		},
	}

	rootCmd := &ffcli.Command{
		ShortUsage:  "lockbox <subcommand> [flags]",
		ShortHelp:   "Timed lock box controller",
		FlagSet:     rootFlagSet,
		Subcommands: []*ffcli.Command{runCmd, simCmd, printCmd},
		Exec: func(ctx context.Context, args []string) error {
			return flag.ErrHelp
		},
	}

	if err := rootCmd.ParseAndRun(context.Background(), os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		log.Fatalf("fatal: %v", err)
	}
}

func newVault() (*vault.Vault, error) {
	v, err := vault.New(vault.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("init vault: %w", err)
	}
	return v, nil
}

func newPublisher(broker string) (mqtt.Publisher, mqtt.ConnectionStatus, error) {
	if broker == "" {
		return mqtt.Discard{}, mqtt.Discard{}, nil
	}
	p, err := mqtt.NewRealPublisher(mqtt.Config{Broker: broker, ClientID: "lockbox"})
	if err != nil {
		return nil, nil, fmt.Errorf("init mqtt: %w", err)
	}
	return p, p, nil
}

func openJournal(path string) (*journal.Journal, error) {
	if path == "" {
		return nil, nil
	}
	j, err := journal.Open(path)
	if err != nil {
		return nil, fmt.Errorf("init journal: %w", err)
	}
	return j, nil
}

// service holds what run and sim share around the loop.
type service struct {
	loop    *loop
	ctl     *loopController
	srv     *web.Server
	journal *journal.Journal
}

// newService wires the publisher, journal, tracker and web server around m.
func newService(opts options, m *logic.Machine, debounce time.Duration) (*service, error) {
	publisher, mqttStatus, err := newPublisher(opts.broker)
	if err != nil {
		return nil, err
	}

	j, err := openJournal(opts.journal)
	if err != nil {
		publisher.Close()
		return nil, err
	}

	tracker := status.NewTracker(time.Now(), status.Config{
		Poll:      opts.poll,
		Debounce:  debounce,
		Heartbeat: opts.heartbeat,
		Broker:    opts.broker,
		HTTPAddr:  opts.httpAddr,
		Debug:     opts.debug,
	})

	s := &service{
		ctl:     newLoopController(),
		journal: j,
		loop: &loop{
			machine:    m,
			publisher:  publisher,
			mqttStatus: mqttStatus,
			tracker:    tracker,
			heartbeat:  opts.heartbeat,
			now:        time.Now,
		},
	}
	if j != nil {
		s.loop.journal = j
	}

	if opts.httpAddr != "" {
		var webOpts web.Options
		if j != nil {
			webOpts.Sessions = j
		}
		if opts.debug {
			webOpts.Debug = s.ctl
		}
		s.srv = web.New(opts.httpAddr, tracker, webOpts)
	}
	return s, nil
}

// start publishes STARTUP and starts the HTTP server.
func (s *service) start() {
	snap := s.loop.tracker.Snapshot()
	startup := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := s.loop.publisher.PublishSystem(startup); err != nil {
		log.Printf("failed to publish startup event: %v", err)
	} else {
		log.Printf("published startup event")
	}

	if s.srv != nil {
		go func() {
			if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		log.Printf("http status server listening on %s", s.loop.tracker.Snapshot().Config.HTTPAddr)
	}
}

// serve runs the loop until ctx is done or a signal arrives.
func (s *service) serve(ctx context.Context, poll time.Duration) error {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	defer close(s.ctl.done)
	return runLoop(ctx, s.loop, ticker.C, s.ctl.cmds, sigCh)
}

func (s *service) close() {
	if s.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		s.srv.Shutdown(ctx)
		cancel()
	}
	if s.journal != nil {
		if err := s.journal.Close(); err != nil {
			log.Printf("journal close error: %v", err)
		}
	}
	s.loop.publisher.Close()
}

func execRun(opts options, profilePath string) error {
	profile, err := config.Load(profilePath)
	if err != nil {
		return err
	}

	panel, err := gpio.NewRealPanel(profile.Pins)
	if err != nil {
		return fmt.Errorf("init panel: %w", err)
	}
	defer panel.Close()

	latch, err := gpio.NewRealLatch(profile.Pins.Latch)
	if err != nil {
		return fmt.Errorf("init latch: %w", err)
	}
	defer latch.Close()

	var cues logic.CueSink = audio.Logger{}
	if buzzer, err := gpio.NewRealBuzzer(profile.Pins.Buzzer); err != nil {
		log.Printf("buzzer unavailable, cues are logged only: %v", err)
	} else {
		defer buzzer.Close()
		cues = audio.Multi{audio.NewBuzzer(buzzer), audio.Logger{}}
	}

	v, err := newVault()
	if err != nil {
		return err
	}

	m := logic.New(logic.Config{
		Clock: clock.New(time.Now()),
		Vault: v,
		Cues:  cues,
	})

	svc, err := newService(opts, m, profile.Debounce)
	if err != nil {
		return err
	}
	defer svc.close()
	svc.loop.panel = panel
	svc.loop.latch = latch
	svc.loop.debouncer = gpio.NewDebouncer(profile.Debounce)

	svc.start()
	log.Printf("started: poll=%v debounce=%v broker=%q heartbeat=%v journal=%q",
		opts.poll, profile.Debounce, opts.broker, opts.heartbeat, opts.journal)
	return svc.serve(context.Background(), opts.poll)
}

func execSim(opts options, logPath string) error {
	if logPath == "" {
		log.SetOutput(io.Discard)
	} else {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log: %w", err)
		}
		defer f.Close()
		log.SetOutput(f)
	}

	screen, err := tcell.NewScreen()
	if err != nil {
		return fmt.Errorf("creating screen: %w", err)
	}
	if err := screen.Init(); err != nil {
		return fmt.Errorf("initializing screen: %w", err)
	}
	defer screen.Fini()
	screen.HideCursor()

	v, err := newVault()
	if err != nil {
		return err
	}
	m := logic.New(logic.Config{
		Clock: clock.New(time.Now()),
		Vault: v,
		Cues:  audio.Multi{sim.NewBell(screen), audio.Logger{}},
	})

	svc, err := newService(opts, m, 0)
	if err != nil {
		return err
	}
	defer svc.close()

	updates := make(chan logic.Snapshot, 1)
	svc.loop.onSettle = func(snap logic.Snapshot) {
		select {
		case <-updates:
		default:
		}
		updates <- snap
	}

	svc.start()

	ctx, cancel := context.WithCancel(context.Background())
	loopErr := make(chan error, 1)
	go func() { loopErr <- svc.serve(ctx, opts.poll) }()

	ui := sim.New(screen, svc.ctl, logic.DefaultTiming().Arm)
	uiErr := ui.Run(ctx, updates)
	cancel()
	if err := <-loopErr; err != nil {
		return err
	}
	return uiErr
}

func execPrintState(profilePath string, watch time.Duration, w io.Writer) error {
	profile, err := config.Load(profilePath)
	if err != nil {
		return err
	}
	panel, err := gpio.NewRealPanel(profile.Pins)
	if err != nil {
		return fmt.Errorf("init panel: %w", err)
	}
	defer panel.Close()

	if watch <= 0 {
		s, err := panel.Read()
		if err != nil {
			return fmt.Errorf("read panel: %w", err)
		}
		fmt.Fprintln(w, formatSample(s))
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ticker := time.NewTicker(watch)
	defer ticker.Stop()
	return watchPanel(ctx, panel, ticker.C, w)
}

// watchPanel prints the first sample, then one line per raw level change.
// Levels are not debounced, so contact bounce shows up as repeated lines.
func watchPanel(ctx context.Context, panel gpio.Panel, tick <-chan time.Time, w io.Writer) error {
	prev, err := panel.Read()
	if err != nil {
		return fmt.Errorf("read panel: %w", err)
	}
	fmt.Fprintln(w, formatSample(prev))

	for {
		select {
		case <-ctx.Done():
			return nil
		case t := <-tick:
			cur, err := panel.Read()
			if err != nil {
				log.Printf("gpio read error: %v", err)
				continue
			}
			for _, c := range gpio.Diff(prev, cur) {
				fmt.Fprintf(w, "%s %s: %s\n", t.Format("15:04:05.000"), c.Input, formatLevel(c.Input, c.Active))
			}
			prev = cur
		}
	}
}

// formatSample renders one line of panel levels.
func formatSample(s gpio.Sample) string {
	l := func(i gpio.Input) string { return formatLevel(i, s.Level(i)) }
	return fmt.Sprintf("SET: %s, BACK: %s, LOCK: %s, UP: %s, DOWN: %s, LID: %s",
		l(gpio.InputSet), l(gpio.InputBack), l(gpio.InputLock), l(gpio.InputUp), l(gpio.InputDown), l(gpio.InputLid))
}

func formatLevel(i gpio.Input, active bool) string {
	switch {
	case i == gpio.InputLid && active:
		return "CLOSED"
	case i == gpio.InputLid:
		return "OPEN"
	case active:
		return "DOWN"
	}
	return "UP"
}
