package app

import (
	"context"
	"time"

	"adaptive-quiz-service/internal/domain"
	"adaptive-quiz-service/internal/pkg/logger"
)

const (
	// DecayFloor is the smallest streak that can decay.
	DecayFloor = 3
	// DefaultDecayAfter is the inactivity that triggers decay.
	DefaultDecayAfter = 24 * time.Hour
)

// StreakDecay halves an inactive streak when the user is next observed. There is no
// background sweep.
type StreakDecay struct {
	users UserStore
	after time.Duration
	now   func() time.Time
	log   *logger.Logger
}

func NewStreakDecay(users UserStore, after time.Duration, log *logger.Logger) *StreakDecay {
	return NewStreakDecayWithClock(users, after, log, time.Now)
}

// NewStreakDecayWithClock allows deterministic clocks in tests.
func NewStreakDecayWithClock(users UserStore, after time.Duration, log *logger.Logger, now func() time.Time) *StreakDecay {
	if after <= 0 {
		after = DefaultDecayAfter
	}
	return &StreakDecay{users: users, after: after, now: now, log: log}
}

// Due reports the decayed streak for state, if decay applies now.
func (d *StreakDecay) Due(state domain.UserState) (int, bool) {
	if state.Streak < DecayFloor || state.LastAnswerAt == nil {
		return state.Streak, false
	}
	if d.now().Sub(*state.LastAnswerAt) <= d.after {
		return state.Streak, false
	}
	return state.Streak / 2, true
}

// Apply persists the decay when it is due and returns the resulting stored state.
func (d *StreakDecay) Apply(ctx context.Context, state domain.UserState) (domain.UserState, bool, error) {
	streak, due := d.Due(state)
	if !due {
		return state, false, nil
	}
	updated, err := d.users.DecayStreak(ctx, state.UserID, state.StateVersion, streak)
	if err != nil {
		return state, false, err
	}
	decayed := updated.StateVersion != state.StateVersion && updated.Streak == streak
	if decayed {
		d.log.Info("streak decayed", "userId", state.UserID, "from", state.Streak, "to", streak)
	}
	return updated, decayed, nil
}
