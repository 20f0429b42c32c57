package status

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sweeney/lockbox/internal/logic"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details. Entered password digits are
// never included.
type StatusInner struct {
	Event         string     `json:"event,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	Ready         bool       `json:"ready"`
	UptimeSeconds int64      `json:"uptime_seconds"`
	StartTime     string     `json:"start_time"`
	Timestamp     string     `json:"timestamp"`
	Box           BoxJSON    `json:"box"`
	MQTT          MQTTStatus `json:"mqtt"`
	Counts        CountsJSON `json:"event_counts"`
	Config        ConfigJSON `json:"config"`
}

// BoxJSON is the JSON representation of the controller state.
type BoxJSON struct {
	SimTime          string  `json:"sim_time"`
	Mode             string  `json:"mode"`
	State            string  `json:"state"`
	Locked           bool    `json:"locked"`
	LidClosed        bool    `json:"lid_closed"`
	LatchRetracted   bool    `json:"latch_retracted"`
	ChildLock        bool    `json:"child_lock"`
	ScreenOff        bool    `json:"screen_off"`
	SetTime          string  `json:"set_time"`
	Cursor           int     `json:"cursor"`
	RemainingSeconds int64   `json:"remaining_seconds"`
	LockEnd          string  `json:"lock_end,omitempty"`
	LockSeconds      int64   `json:"lock_seconds,omitempty"`
	Progress         int     `json:"progress"`
	LastCheckin      string  `json:"last_checkin,omitempty"`
	HistorySeconds   []int64 `json:"history_seconds"`
	Message          string  `json:"message,omitempty"`
	FortressLeft     int     `json:"fortress_codes_left"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of event counts.
type CountsJSON struct {
	Locks    int `json:"locks"`
	Unlocks  int `json:"unlocks"`
	Extends  int `json:"extends"`
	Rejected int `json:"rejected"`
	Checkins int `json:"checkins"`
	Rewards  int `json:"rewards"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	PollMs      int64  `json:"poll_ms"`
	DebounceMs  int64  `json:"debounce_ms"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	Broker      string `json:"broker"`
	HTTPPort    string `json:"http_port"`
	Debug       bool   `json:"debug"`
}

// FormatSetTime renders a set time as DDD:HH:MM.
func FormatSetTime(s logic.SetTime) string {
	return fmt.Sprintf("%03d:%02d:%02d", s.Days, s.Hours, s.Minutes)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// BuildBox converts a controller snapshot to its JSON form.
func BuildBox(box logic.Snapshot) BoxJSON {
	mode := string(box.Mode)
	if mode == "" {
		mode = "UNKNOWN"
	}
	state := string(box.State)
	if state == "" {
		state = "UNKNOWN"
	}

	history := make([]int64, 0, len(box.History))
	for _, d := range box.History {
		history = append(history, int64(d/time.Second))
	}

	return BoxJSON{
		SimTime:          formatTime(box.Now),
		Mode:             mode,
		State:            state,
		Locked:           box.Locked,
		LidClosed:        box.LidClosed,
		LatchRetracted:   box.LatchRetracted,
		ChildLock:        box.ChildLock,
		ScreenOff:        box.ScreenOff,
		SetTime:          FormatSetTime(box.SetTime),
		Cursor:           box.CursorIdx,
		RemainingSeconds: int64(box.Remaining() / time.Second),
		LockEnd:          formatTime(box.LockEnd),
		LockSeconds:      int64(box.LockDuration / time.Second),
		Progress:         box.Progress,
		LastCheckin:      formatTime(box.LastCheckin),
		HistorySeconds:   history,
		Message:          box.Message,
		FortressLeft:     box.FortressLeft,
	}
}

// Build converts a daemon snapshot to its JSON view.
func Build(snap Snapshot) StatusInner {
	return StatusInner{
		Ready:         snap.PanelReady,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		Box:           BuildBox(snap.Box),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			Locks:    snap.Counts.Locks,
			Unlocks:  snap.Counts.Unlocks,
			Extends:  snap.Counts.Extends,
			Rejected: snap.Counts.Rejected,
			Checkins: snap.Counts.Checkins,
			Rewards:  snap.Counts.Rewards,
		},
		Config: ConfigJSON{
			PollMs:      snap.Config.Poll.Milliseconds(),
			DebounceMs:  snap.Config.Debounce.Milliseconds(),
			HeartbeatMs: snap.Config.Heartbeat.Milliseconds(),
			Broker:      snap.Config.Broker,
			HTTPPort:    snap.Config.HTTPAddr,
			Debug:       snap.Config.Debug,
		},
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: Build(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := Build(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
