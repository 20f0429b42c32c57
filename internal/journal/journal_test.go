package journal

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/sweeney/lockbox/internal/logic"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func openTest(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	n := 0
	j.newID = func() string {
		n++
		return fmt.Sprintf("s%d", n)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func record(t *testing.T, j *Journal, ev logic.Event) logic.Event {
	t.Helper()
	out, err := j.Record(ev)
	if err != nil {
		t.Fatalf("record %s: %v", ev.Type, err)
	}
	return out
}

func TestSessionLifecycle(t *testing.T) {
	j := openTest(t)

	locked := record(t, j, logic.Event{Type: logic.EventLocked, Mode: logic.ModeFortress, Timestamp: t0, Duration: time.Hour})
	if locked.Session != "s1" {
		t.Fatalf("expected session s1, got %q", locked.Session)
	}
	if j.Current() != "s1" {
		t.Errorf("expected open session s1, got %q", j.Current())
	}

	ext := record(t, j, logic.Event{Type: logic.EventExtended, Timestamp: t0.Add(time.Minute), Duration: 2 * time.Hour})
	if ext.Session != "s1" {
		t.Errorf("extend should carry session, got %q", ext.Session)
	}

	unlocked := record(t, j, logic.Event{Type: logic.EventUnlocked, Reason: logic.ReasonDeadline, Timestamp: t0.Add(2 * time.Hour), Duration: 2 * time.Hour})
	if unlocked.Session != "s1" {
		t.Errorf("unlock should carry session, got %q", unlocked.Session)
	}
	if j.Current() != "" {
		t.Errorf("session should be closed, got %q", j.Current())
	}

	after := record(t, j, logic.Event{Type: logic.EventModeChanged, Mode: logic.ModeNormal, Timestamp: t0.Add(3 * time.Hour)})
	if after.Session != "" {
		t.Errorf("event outside a lock should have no session, got %q", after.Session)
	}

	sessions, err := j.Recent(10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(sessions))
	}
	s := sessions[0]
	if s.Mode != "FORTRESS" || s.PlannedSeconds != 7200 || s.LockedSeconds != 7200 || s.EndReason != "DEADLINE" {
		t.Errorf("unexpected session %+v", s)
	}
	if !s.StartedAt.Equal(t0) {
		t.Errorf("StartedAt: got %v, want %v", s.StartedAt, t0)
	}
	if s.EndedAt == nil || !s.EndedAt.Equal(t0.Add(2*time.Hour)) {
		t.Errorf("EndedAt: got %v", s.EndedAt)
	}

	entries, err := j.Events("s1")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 session events, got %d", len(entries))
	}
	want := []string{"LOCKED", "EXTENDED", "UNLOCKED"}
	for i, w := range want {
		if entries[i].Type != w {
			t.Errorf("entry %d: got %s, want %s", i, entries[i].Type, w)
		}
	}
	if entries[2].Detail != "reason=DEADLINE" {
		t.Errorf("unexpected detail %q", entries[2].Detail)
	}
}

func TestCheckinEventsAttachToClosingSession(t *testing.T) {
	j := openTest(t)
	record(t, j, logic.Event{Type: logic.EventLocked, Mode: logic.ModeFortress, Timestamp: t0})
	checkin := record(t, j, logic.Event{Type: logic.EventCheckin, Progress: 3, Earned: 2, Timestamp: t0.Add(time.Hour)})
	if checkin.Session != "s1" {
		t.Errorf("check-in emitted before unlock should carry the session, got %q", checkin.Session)
	}
	record(t, j, logic.Event{Type: logic.EventUnlocked, Reason: logic.ReasonDeadline, Timestamp: t0.Add(time.Hour)})

	entries, err := j.Events("s1")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if entries[1].Detail != "progress=3 earned=2" {
		t.Errorf("unexpected detail %q", entries[1].Detail)
	}
}

func TestRecentNewestFirstAndLimit(t *testing.T) {
	j := openTest(t)
	for i := 0; i < 4; i++ {
		start := t0.Add(time.Duration(i) * time.Hour)
		record(t, j, logic.Event{Type: logic.EventLocked, Mode: logic.ModeNormal, Timestamp: start})
		record(t, j, logic.Event{Type: logic.EventUnlocked, Reason: logic.ReasonPassword, Timestamp: start.Add(time.Minute)})
	}

	sessions, err := j.Recent(2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
	if sessions[0].ID != "s4" || sessions[1].ID != "s3" {
		t.Errorf("expected s4,s3 got %s,%s", sessions[0].ID, sessions[1].ID)
	}
}

func TestRecentEmpty(t *testing.T) {
	j := openTest(t)
	sessions, err := j.Recent(5)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if sessions == nil || len(sessions) != 0 {
		t.Errorf("expected empty non-nil slice, got %v", sessions)
	}
}

func TestFactoryResetClosesSession(t *testing.T) {
	j := openTest(t)
	record(t, j, logic.Event{Type: logic.EventLocked, Mode: logic.ModeInfinite, Timestamp: t0})
	record(t, j, logic.Event{Type: logic.EventFactoryReset, Timestamp: t0.Add(time.Minute)})

	if j.Current() != "" {
		t.Error("factory reset should close the session")
	}
	sessions, _ := j.Recent(1)
	if sessions[0].EndReason != "FACTORY_RESET" || sessions[0].EndedAt == nil {
		t.Errorf("unexpected session %+v", sessions[0])
	}
}

func TestSecondLockSupersedesOpenSession(t *testing.T) {
	j := openTest(t)
	record(t, j, logic.Event{Type: logic.EventLocked, Mode: logic.ModeNormal, Timestamp: t0})
	second := record(t, j, logic.Event{Type: logic.EventLocked, Mode: logic.ModeNormal, Timestamp: t0.Add(time.Minute)})
	if second.Session != "s2" {
		t.Fatalf("expected s2, got %q", second.Session)
	}
	sessions, _ := j.Recent(2)
	if sessions[1].EndReason != "SUPERSEDED" {
		t.Errorf("expected first session superseded, got %+v", sessions[1])
	}
}

func TestReopenClosesDanglingSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	j, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	locked := record(t, j, logic.Event{Type: logic.EventLocked, Mode: logic.ModePassword, Timestamp: t0})
	record(t, j, logic.Event{Type: logic.EventUnlockRejected, Timestamp: t0.Add(time.Minute)})
	j.Close()

	j2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer j2.Close()
	if got := j2.Current(); got != "" {
		t.Errorf("no session should be open after a restart, got %q", got)
	}

	changed := record(t, j2, logic.Event{Type: logic.EventModeChanged, Mode: logic.ModeNormal, Timestamp: t0.Add(time.Hour)})
	if changed.Session != "" {
		t.Errorf("event after restart stamped with stale session %q", changed.Session)
	}

	sessions, err := j2.Recent(5)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != locked.Session {
		t.Fatalf("unexpected sessions %+v", sessions)
	}
	s := sessions[0]
	if s.EndReason != EndRestart {
		t.Errorf("end reason: got %q, want %q", s.EndReason, EndRestart)
	}
	if s.EndedAt == nil || !s.EndedAt.Equal(t0.Add(time.Minute)) {
		t.Errorf("session should end at its last event, got %v", s.EndedAt)
	}
}
