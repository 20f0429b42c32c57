package logic

import "time"

// Day is 24 hours.
const Day = 24 * time.Hour

// MaxSetTime is the longest duration the set-time buffer can hold.
const MaxSetTime = 400*Day + 23*time.Hour + 59*time.Minute

// CursorSlots is the number of editable digits: DDD HH MM.
const CursorSlots = 7

// PasswordLength is the number of digits in every password.
const PasswordLength = 7

// cursorSteps is the value of one unit at each cursor position.
var cursorSteps = [CursorSlots]time.Duration{
	100 * Day, 10 * Day, Day,
	10 * time.Hour, time.Hour,
	10 * time.Minute, time.Minute,
}

// SetTime is the days/hours/minutes edit buffer.
type SetTime struct {
	Days    int
	Hours   int
	Minutes int
}

// Encode converts days, hours and minutes to a duration.
func Encode(days, hours, minutes int) time.Duration {
	return time.Duration(days)*Day + time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute
}

// Decode splits d into days, hours and minutes. Seconds are dropped and
// negative durations decode to zero.
func Decode(d time.Duration) SetTime {
	if d < 0 {
		d = 0
	}
	days := d / Day
	d -= days * Day
	hours := d / time.Hour
	d -= hours * time.Hour
	return SetTime{Days: int(days), Hours: int(hours), Minutes: int(d / time.Minute)}
}

// Total returns the buffer as a duration.
func (s SetTime) Total() time.Duration {
	return Encode(s.Days, s.Hours, s.Minutes)
}

// IsZero reports whether nothing is set.
func (s SetTime) IsZero() bool {
	return s.Total() <= 0
}

// ClampSetTime limits d to [0, MaxSetTime].
func ClampSetTime(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	if d > MaxSetTime {
		return MaxSetTime
	}
	return d
}

// ApplyCursorStep adds dir units of the digit under cursor to s. The result is
// clamped to [0, MaxSetTime] and re-split, so carries and borrows move between
// minutes, hours and days.
func ApplyCursorStep(s SetTime, cursor, dir int) SetTime {
	if cursor < 0 || cursor >= CursorSlots {
		return s
	}
	total := s.Total() + time.Duration(dir)*cursorSteps[cursor]
	return Decode(ClampSetTime(total))
}

// SplitDHMS breaks d into whole days, hours, minutes and seconds for display.
func SplitDHMS(d time.Duration) (days, hours, minutes, seconds int) {
	if d < 0 {
		d = 0
	}
	d = d.Truncate(time.Second)
	days = int(d / Day)
	d -= time.Duration(days) * Day
	hours = int(d / time.Hour)
	d -= time.Duration(hours) * time.Hour
	minutes = int(d / time.Minute)
	d -= time.Duration(minutes) * time.Minute
	seconds = int(d / time.Second)
	return days, hours, minutes, seconds
}
