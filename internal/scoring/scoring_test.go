package scoring

import (
	"testing"

	"adaptive-quiz-service/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestStreak(t *testing.T) {
	cases := []struct {
		name    string
		history []bool
		want    int
	}{
		{"empty", nil, 0},
		{"newest wrong", []bool{true, true, false}, 0},
		{"trailing run", []bool{false, true, true}, 2},
		{"all correct", []bool{true, true, true, true}, 4},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Streak(tc.history))
		})
	}
}

func TestMomentumUsesTrailingWindow(t *testing.T) {
	assert.Equal(t, 0, Momentum(nil))
	assert.Equal(t, 2, Momentum([]bool{true, true}))
	assert.Equal(t, -3, Momentum([]bool{true, true, false, false, false}))
	assert.Equal(t, 1, Momentum([]bool{false, false, true, false, true, true}))
}

func TestHistoryFunctionsDoNotMutateInput(t *testing.T) {
	history := []bool{true, false, true, true}
	snapshot := append([]bool(nil), history...)

	first := Streak(history) + Momentum(history)
	second := Streak(history) + Momentum(history)

	assert.Equal(t, first, second)
	assert.Equal(t, snapshot, history)
}

func TestNextDifficulty(t *testing.T) {
	assert.Equal(t, 6, NextDifficulty(5, []bool{true, true}))
	assert.Equal(t, 20, NextDifficulty(20, []bool{true, true}))
	assert.Equal(t, 1, NextDifficulty(1, []bool{false, false}))
	assert.Equal(t, 4, NextDifficulty(5, []bool{false, false}))
	assert.Equal(t, 5, NextDifficulty(5, []bool{true}))
	assert.Equal(t, 5, NextDifficulty(5, []bool{true, false, true}))
}

func TestNextDifficultyStaysInBounds(t *testing.T) {
	histories := [][]bool{
		nil,
		{true, true, true},
		{false, false, false},
		{true, false},
		{false, true, true},
	}
	for d := domain.MinDifficulty; d <= domain.MaxDifficulty; d++ {
		for _, h := range histories {
			got := NextDifficulty(d, h)
			if got < domain.MinDifficulty || got > domain.MaxDifficulty {
				t.Fatalf("NextDifficulty(%d, %v) = %d out of range", d, h, got)
			}
		}
	}
}

func TestScore(t *testing.T) {
	assert.EqualValues(t, 10, Score(1, 0))
	assert.EqualValues(t, 100, Score(5, 5))
	assert.EqualValues(t, 100, Score(5, 10), "bonus saturates at streak 5")
	assert.EqualValues(t, 28, Score(2, 2))
	assert.EqualValues(t, 400, Score(20, 7))
}

func TestRoundHalvesAwayFromZero(t *testing.T) {
	assert.EqualValues(t, 13, round(12.5))
	assert.EqualValues(t, 3, round(2.5))
	assert.EqualValues(t, -3, round(-2.5))
	assert.EqualValues(t, 12, round(12.4999))
}
