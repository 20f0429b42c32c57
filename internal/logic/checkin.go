package logic

import "time"

// Check-in streak rules.
const (
	RewardThreshold = 21
	MinCheckinLock  = 30 * time.Minute
	CheckinCooldown = 18 * time.Hour
	StreakDecay     = 72 * time.Hour
)

// Streak tracks check-in progress toward the reward.
type Streak struct {
	Progress    int
	LastCheckin time.Time // zero until the first credited check-in
}

// CheckinResult describes one scoring decision.
type CheckinResult struct {
	Earned   int
	Progress int // after scoring
	Rewarded bool
}

// Score credits a fortress unlock. lockStart is when the lock engaged, now is
// the unlock instant. The checks run in a fixed order: emergency, cooldown,
// minimum duration, then credit.
func (s *Streak) Score(lockStart, now time.Time, emergency bool) CheckinResult {
	res := CheckinResult{Progress: s.Progress}
	if emergency {
		return res
	}
	if !s.LastCheckin.IsZero() && lockStart.Sub(s.LastCheckin) < CheckinCooldown {
		return res
	}
	held := now.Sub(lockStart)
	if held < MinCheckinLock {
		return res
	}

	earned := 1
	if held >= Day {
		earned = 1 + int(held/Day)
	}

	if s.Progress >= RewardThreshold {
		s.Progress = 0
	}
	next := s.Progress + earned
	if next >= RewardThreshold {
		s.Progress = 0
		res.Rewarded = true
	} else {
		s.Progress = next
	}
	s.LastCheckin = now

	res.Earned = earned
	res.Progress = s.Progress
	return res
}

// Decay clears abandoned progress once StreakDecay has passed since the last
// check-in. Returns true if progress was cleared.
func (s *Streak) Decay(now time.Time) bool {
	if s.Progress == 0 || s.LastCheckin.IsZero() {
		return false
	}
	if now.Sub(s.LastCheckin) < StreakDecay {
		return false
	}
	s.Progress = 0
	return true
}

// Reset forgets all progress.
func (s *Streak) Reset() {
	*s = Streak{}
}
