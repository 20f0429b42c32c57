// Package status keeps the latest view of the lock box for the status page,
// the JSON endpoint and the retained MQTT system messages.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/lockbox/internal/logic"
)

// Config is the service configuration shown on the status page.
type Config struct {
	Poll      time.Duration
	Debounce  time.Duration
	Heartbeat time.Duration // 0 disables
	Broker    string        // empty when MQTT is off
	HTTPAddr  string
	Debug     bool
}

// EventCounts tallies controller events since startup.
type EventCounts struct {
	Locks    int
	Unlocks  int
	Extends  int
	Rejected int
	Checkins int
	Rewards  int
}

// Snapshot is a copy of the tracked state. PanelReady is false until every
// panel input has a debounced baseline.
type Snapshot struct {
	Box           logic.Snapshot
	PanelReady    bool
	Counts        EventCounts
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker is written by the controller loop and read by everyone else.
type Tracker struct {
	mu      sync.RWMutex
	box     logic.Snapshot
	ready   bool
	counts  EventCounts
	mqttUp  bool
	started time.Time
	cfg     Config
}

func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{started: startTime, cfg: cfg}
}

// Update stores the controller snapshot taken after a tick or command.
func (t *Tracker) Update(box logic.Snapshot, panelReady bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.box = box
	t.ready = panelReady
}

// Record counts a controller event.
func (t *Tracker) Record(ev logic.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := &t.counts
	switch ev.Type {
	case logic.EventLocked:
		c.Locks++
	case logic.EventUnlocked:
		c.Unlocks++
	case logic.EventExtended:
		c.Extends++
	case logic.EventUnlockRejected:
		c.Rejected++
	case logic.EventCheckin:
		c.Checkins++
	case logic.EventReward:
		c.Rewards++
	}
}

func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mqttUp = connected
}

// Snapshot copies the tracked state, stamped with the current wall time.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Snapshot{
		Box:           t.box,
		PanelReady:    t.ready,
		Counts:        t.counts,
		StartTime:     t.started,
		Now:           time.Now(),
		MQTTConnected: t.mqttUp,
		Config:        t.cfg,
	}
}
