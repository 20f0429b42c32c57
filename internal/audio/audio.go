// Package audio turns the controller's symbolic cue requests into sound.
// Every sink is fire-and-forget: calls return immediately.
package audio

import (
	"log"
	"sync"
	"time"

	"github.com/sweeney/lockbox/internal/gpio"
	"github.com/sweeney/lockbox/internal/logic"
)

// Cue timing for an active buzzer.
const (
	BeepLength = 100 * time.Millisecond
	BeepGap    = 150 * time.Millisecond
	WarnLength = 80 * time.Millisecond
	WarnGap    = 120 * time.Millisecond
	WarnCount  = 3
)

// Pulse is one buzzer burst, offset from the start of a cue.
type Pulse struct {
	Offset time.Duration
	Length time.Duration
}

// Pattern returns the buzzer bursts for a named cue.
func Pattern(cue string) []Pulse {
	switch cue {
	case "beep":
		return []Pulse{{0, BeepLength}}
	case "doubleBeep":
		return []Pulse{{0, BeepLength}, {BeepGap, BeepLength}}
	case "warn":
		p := make([]Pulse, WarnCount)
		for i := range p {
			p[i] = Pulse{time.Duration(i) * WarnGap, WarnLength}
		}
		return p
	}
	return nil
}

// Buzzer plays cues on an active buzzer. An active buzzer has a fixed pitch,
// so tones keep only their length.
type Buzzer struct {
	out gpio.Buzzer

	// after schedules f after d; time.AfterFunc in production.
	after func(d time.Duration, f func())
}

// NewBuzzer creates a sink driving out.
func NewBuzzer(out gpio.Buzzer) *Buzzer {
	return &Buzzer{
		out: out,
		after: func(d time.Duration, f func()) {
			time.AfterFunc(d, f)
		},
	}
}

func (b *Buzzer) Beep()       { b.play(Pattern("beep")) }
func (b *Buzzer) DoubleBeep() { b.play(Pattern("doubleBeep")) }
func (b *Buzzer) Warn()       { b.play(Pattern("warn")) }

func (b *Buzzer) PlayTone(freqHz int, d time.Duration) {
	b.play([]Pulse{{0, d}})
}

func (b *Buzzer) play(pulses []Pulse) {
	for _, p := range pulses {
		length := p.Length
		if p.Offset <= 0 {
			b.pulse(length)
			continue
		}
		b.after(p.Offset, func() { b.pulse(length) })
	}
}

func (b *Buzzer) pulse(d time.Duration) {
	if err := b.out.Pulse(d); err != nil {
		log.Printf("audio: buzzer pulse failed: %v", err)
	}
}

// Logger logs every cue.
type Logger struct{}

func (Logger) Beep()       { log.Printf("audio: beep") }
func (Logger) DoubleBeep() { log.Printf("audio: double beep") }
func (Logger) Warn()       { log.Printf("audio: warn") }

func (Logger) PlayTone(freqHz int, d time.Duration) {
	log.Printf("audio: tone %dHz %v", freqHz, d)
}

// Recorder keeps every cue in order. Safe for concurrent use.
type Recorder struct {
	mu   sync.Mutex
	cues []Cue
}

// Cue is one recorded request.
type Cue struct {
	Name   string // beep, doubleBeep, warn or tone
	FreqHz int
	Length time.Duration
}

func (r *Recorder) Beep()       { r.add(Cue{Name: "beep"}) }
func (r *Recorder) DoubleBeep() { r.add(Cue{Name: "doubleBeep"}) }
func (r *Recorder) Warn()       { r.add(Cue{Name: "warn"}) }

func (r *Recorder) PlayTone(freqHz int, d time.Duration) {
	r.add(Cue{Name: "tone", FreqHz: freqHz, Length: d})
}

func (r *Recorder) add(c Cue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cues = append(r.cues, c)
}

// Cues returns a copy of the recorded cues.
func (r *Recorder) Cues() []Cue {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Cue, len(r.cues))
	copy(out, r.cues)
	return out
}

// Multi fans every cue out to several sinks.
type Multi []logic.CueSink

func (m Multi) Beep() {
	for _, s := range m {
		s.Beep()
	}
}

func (m Multi) DoubleBeep() {
	for _, s := range m {
		s.DoubleBeep()
	}
}

func (m Multi) Warn() {
	for _, s := range m {
		s.Warn()
	}
}

func (m Multi) PlayTone(freqHz int, d time.Duration) {
	for _, s := range m {
		s.PlayTone(freqHz, d)
	}
}
