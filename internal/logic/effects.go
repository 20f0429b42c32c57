package logic

import (
	"sort"
	"time"
)

type effectKind int

const (
	effectMessage effectKind = iota
	effectRewardFlash
	effectMelody
	effectChildBlink
	effectLockWarn
)

type effect struct {
	kind effectKind
	at   time.Time
	seq  uint64
	run  func()
}

// effectQueue holds delayed one-shot effects on the simulated timeline.
// Effects are keyed by kind so a newer effect can cancel or replace a pending
// one of the same kind.
type effectQueue struct {
	pending []effect
	seq     uint64
}

func (q *effectQueue) after(kind effectKind, at time.Time, run func()) {
	q.seq++
	q.pending = append(q.pending, effect{kind: kind, at: at, seq: q.seq, run: run})
}

func (q *effectQueue) replace(kind effectKind, at time.Time, run func()) {
	q.cancel(kind)
	q.after(kind, at, run)
}

func (q *effectQueue) cancel(kind effectKind) {
	kept := q.pending[:0]
	for _, e := range q.pending {
		if e.kind != kind {
			kept = append(kept, e)
		}
	}
	q.pending = kept
}

// due removes and returns the effects scheduled at or before now, ordered by
// time and then by scheduling order.
func (q *effectQueue) due(now time.Time) []effect {
	var ready []effect
	kept := q.pending[:0]
	for _, e := range q.pending {
		if e.at.After(now) {
			kept = append(kept, e)
			continue
		}
		ready = append(ready, e)
	}
	q.pending = kept
	sort.Slice(ready, func(i, j int) bool {
		if !ready[i].at.Equal(ready[j].at) {
			return ready[i].at.Before(ready[j].at)
		}
		return ready[i].seq < ready[j].seq
	})
	return ready
}

func (q *effectQueue) clear() {
	q.pending = nil
}

func (q *effectQueue) len() int {
	return len(q.pending)
}

// note is one tone of a melody, offset from the melody start.
type note struct {
	freqHz int
	length time.Duration
	offset time.Duration
}

var unlockMelody = []note{
	{1200, 100 * time.Millisecond, 0},
	{1500, 100 * time.Millisecond, 150 * time.Millisecond},
	{1800, 200 * time.Millisecond, 300 * time.Millisecond},
}

var rewardMelody = []note{
	{1047, 150 * time.Millisecond, 0},
	{1319, 150 * time.Millisecond, 200 * time.Millisecond},
	{1568, 150 * time.Millisecond, 400 * time.Millisecond},
	{2093, 300 * time.Millisecond, 600 * time.Millisecond},
	{1568, 150 * time.Millisecond, 1000 * time.Millisecond},
	{2093, 500 * time.Millisecond, 1200 * time.Millisecond},
}
