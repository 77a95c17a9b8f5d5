// Package scoring holds the adaptive difficulty and score rules. Everything here is pure.
package scoring

import (
	"math"

	"adaptive-quiz-service/internal/domain"
)

const (
	// MomentumWindow is the number of trailing outcomes that make up momentum.
	MomentumWindow = 3
	// MinStreakForUp is the streak required, together with momentum, to raise difficulty.
	MinStreakForUp = 2
	// StreakBonusCap is the streak past which the score multiplier stops growing.
	StreakBonusCap = 5

	momentumUp   = 2
	momentumDown = -2
	basePoints   = 10
	streakBonus  = 0.2
)

// Streak counts consecutive correct outcomes ending at the newest entry.
// History is ordered oldest first.
func Streak(history []bool) int {
	streak := 0
	for i := len(history) - 1; i >= 0; i-- {
		if !history[i] {
			break
		}
		streak++
	}
	return streak
}

// Momentum sums +1/-1 over the last MomentumWindow outcomes.
func Momentum(history []bool) int {
	start := len(history) - MomentumWindow
	if start < 0 {
		start = 0
	}
	momentum := 0
	for _, correct := range history[start:] {
		if correct {
			momentum++
		} else {
			momentum--
		}
	}
	return momentum
}

// NextDifficulty moves difficulty one step up or down based on recent outcomes, clamped
// to [domain.MinDifficulty, domain.MaxDifficulty].
func NextDifficulty(current int, history []bool) int {
	momentum := Momentum(history)
	streak := Streak(history)

	if momentum >= momentumUp && streak >= MinStreakForUp && current < domain.MaxDifficulty {
		return clamp(current + 1)
	}
	if momentum <= momentumDown && current > domain.MinDifficulty {
		return clamp(current - 1)
	}
	return clamp(current)
}

// Score is the point value of a correct answer at difficulty with the given streak:
// difficulty*10*(1 + min(streak,5)*0.2), rounded half away from zero.
func Score(difficulty, streak int) int64 {
	if streak > StreakBonusCap {
		streak = StreakBonusCap
	}
	if streak < 0 {
		streak = 0
	}
	factor := 1.0 + float64(streak)*streakBonus
	return round(float64(difficulty*basePoints) * factor)
}

// round rounds to the nearest integer with halves going away from zero.
func round(v float64) int64 {
	return int64(math.Round(v))
}

func clamp(d int) int {
	if d < domain.MinDifficulty {
		return domain.MinDifficulty
	}
	if d > domain.MaxDifficulty {
		return domain.MaxDifficulty
	}
	return d
}
