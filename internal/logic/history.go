package logic

import "time"

// HistorySize is the number of recent durations kept for recall.
const HistorySize = 5

// History is a most-recently-used list of distinct lock durations.
type History struct {
	entries []time.Duration
}

// Add moves d to the front, dropping any equal entry and the oldest entry
// beyond HistorySize. Non-positive durations are ignored.
func (h *History) Add(d time.Duration) {
	if d <= 0 {
		return
	}
	out := make([]time.Duration, 0, HistorySize)
	out = append(out, d)
	for _, e := range h.entries {
		if e == d {
			continue
		}
		if len(out) == HistorySize {
			break
		}
		out = append(out, e)
	}
	h.entries = out
}

// Len returns the number of entries.
func (h *History) Len() int {
	return len(h.entries)
}

// At returns entry i, most recent first.
func (h *History) At(i int) time.Duration {
	return h.entries[i]
}

// Entries returns a copy of the list, most recent first.
func (h *History) Entries() []time.Duration {
	out := make([]time.Duration, len(h.entries))
	copy(out, h.entries)
	return out
}

// Clear empties the list.
func (h *History) Clear() {
	h.entries = nil
}
