package memory

import (
	"context"
	"sort"
	"sync"

	"adaptive-quiz-service/internal/domain"
)

// Leaderboard keeps both ranked structures in maps. Ties order by user id descending, which is
// how a Redis sorted set answers reverse range queries.
type Leaderboard struct {
	mu      sync.RWMutex
	scores  map[string]int64
	streaks map[string]int64
}

func NewLeaderboard() *Leaderboard {
	return &Leaderboard{
		scores:  make(map[string]int64),
		streaks: make(map[string]int64),
	}
}

func (l *Leaderboard) Upsert(_ context.Context, userID string, score int64, streak int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.scores[userID] = score
	l.streaks[userID] = int64(streak)
	return nil
}

func (l *Leaderboard) Top(_ context.Context, board domain.Board, k int) ([]domain.RankedEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ranked := l.rankedLocked(board)
	if k > 0 && len(ranked) > k {
		ranked = ranked[:k]
	}
	return ranked, nil
}

func (l *Leaderboard) Rank(_ context.Context, board domain.Board, userID string) (int64, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, e := range l.rankedLocked(board) {
		if e.UserID == userID {
			return e.Rank, true, nil
		}
	}
	return 0, false, nil
}

func (l *Leaderboard) Rebuild(_ context.Context, users []domain.UserState) error {
	scores := make(map[string]int64, len(users))
	streaks := make(map[string]int64, len(users))
	for _, u := range users {
		scores[u.UserID] = u.TotalScore
		streaks[u.UserID] = int64(u.Streak)
	}
	l.mu.Lock()
	l.scores, l.streaks = scores, streaks
	l.mu.Unlock()
	return nil
}

func (l *Leaderboard) rankedLocked(board domain.Board) []domain.RankedEntry {
	values := l.scores
	if board == domain.BoardStreak {
		values = l.streaks
	}
	out := make([]domain.RankedEntry, 0, len(values))
	for id, v := range values {
		out = append(out, domain.RankedEntry{UserID: id, Value: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Value != out[j].Value {
			return out[i].Value > out[j].Value
		}
		return out[i].UserID > out[j].UserID
	})
	for i := range out {
		out[i].Rank = int64(i + 1)
	}
	return out
}
