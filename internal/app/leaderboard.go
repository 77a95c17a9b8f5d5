package app

import (
	"context"
	"errors"
	"fmt"

	"adaptive-quiz-service/internal/domain"
	"adaptive-quiz-service/internal/metrics"
	"adaptive-quiz-service/internal/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// DefaultLeaderboardSize is the K of top-K queries when callers do not pass one.
const DefaultLeaderboardSize = 10

// LeaderboardService answers rank queries over the ranked structures, falling back to the
// store when the cache is unavailable. The ranked structures are a derived view of user state.
type LeaderboardService struct {
	rankings Rankings
	users    UserStore
	size     int
	log      *logger.Logger
	metrics  *metrics.Metrics
}

func NewLeaderboardService(rankings Rankings, users UserStore, size int, log *logger.Logger, m *metrics.Metrics) *LeaderboardService {
	if size <= 0 {
		size = DefaultLeaderboardSize
	}
	return &LeaderboardService{rankings: rankings, users: users, size: size, log: log, metrics: m}
}

// Record upserts the user's score and streak in both structures.
func (s *LeaderboardService) Record(ctx context.Context, state domain.UserState) error {
	return s.rankings.Upsert(ctx, state.UserID, state.TotalScore, state.Streak)
}

// Top returns the k best entries of board; k <= 0 uses the configured size.
func (s *LeaderboardService) Top(ctx context.Context, board domain.Board, k int) ([]domain.RankedEntry, error) {
	if k <= 0 {
		k = s.size
	}
	entries, err := s.rankings.Top(ctx, board, k)
	if err == nil {
		return entries, nil
	}
	s.metrics.CacheError("leaderboard_top")
	s.log.Warn("leaderboard read failed, ranking from store", "board", board, "error", err)

	users, err2 := s.users.TopUsers(ctx, board, k)
	if err2 != nil {
		return nil, fmt.Errorf("leaderboard: %w", errors.Join(err, err2))
	}
	entries = make([]domain.RankedEntry, len(users))
	for i, u := range users {
		entries[i] = domain.RankedEntry{UserID: u.UserID, Value: boardValue(board, u), Rank: int64(i + 1)}
	}
	return entries, nil
}

// Ranks returns the user's 1-indexed rank on both boards; nil means no rank.
func (s *LeaderboardService) Ranks(ctx context.Context, userID string) (score, streak *int64) {
	var g errgroup.Group
	g.Go(func() error {
		score = s.rank(ctx, domain.BoardScore, userID)
		return nil
	})
	g.Go(func() error {
		streak = s.rank(ctx, domain.BoardStreak, userID)
		return nil
	})
	_ = g.Wait()
	return score, streak
}

func (s *LeaderboardService) rank(ctx context.Context, board domain.Board, userID string) *int64 {
	rank, ok, err := s.rankings.Rank(ctx, board, userID)
	if err != nil {
		s.metrics.CacheError("leaderboard_rank")
		s.log.Warn("leaderboard rank lookup failed", "board", board, "userId", userID, "error", err)
		return nil
	}
	if !ok {
		return nil
	}
	return &rank
}

// Combined returns both top lists enriched with usernames and the other metric.
func (s *LeaderboardService) Combined(ctx context.Context) (domain.Leaderboard, error) {
	var (
		g       errgroup.Group
		scores  []domain.RankedEntry
		streaks []domain.RankedEntry
	)
	g.Go(func() (err error) {
		scores, err = s.Top(ctx, domain.BoardScore, s.size)
		return err
	})
	g.Go(func() (err error) {
		streaks, err = s.Top(ctx, domain.BoardStreak, s.size)
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.Leaderboard{}, err
	}
	return domain.Leaderboard{
		TopScores:  s.enrich(ctx, domain.BoardScore, scores),
		TopStreaks: s.enrich(ctx, domain.BoardStreak, streaks),
	}, nil
}

func (s *LeaderboardService) enrich(ctx context.Context, board domain.Board, entries []domain.RankedEntry) []domain.LeaderboardEntry {
	out := make([]domain.LeaderboardEntry, 0, len(entries))
	for _, e := range entries {
		row := domain.LeaderboardEntry{UserID: e.UserID, Username: fallbackName(e.UserID), Rank: e.Rank}
		if board == domain.BoardScore {
			row.Score = e.Value
		} else {
			row.Streak = e.Value
		}
		state, err := s.users.GetUser(ctx, e.UserID)
		if err == nil {
			if state.Username != "" {
				row.Username = state.Username
			}
			if board == domain.BoardScore {
				row.Streak = int64(state.Streak)
			} else {
				row.Score = state.TotalScore
			}
		} else if !errors.Is(err, domain.ErrUserNotFound) {
			s.log.Warn("leaderboard user lookup failed", "userId", e.UserID, "error", err)
		}
		out = append(out, row)
	}
	return out
}

// Rebuild recomputes both ranked structures from every stored user state.
func (s *LeaderboardService) Rebuild(ctx context.Context) (int, error) {
	var users []domain.UserState
	err := s.users.ForEachUser(ctx, func(u domain.UserState) error {
		users = append(users, u)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("list users: %w", err)
	}
	if err := s.rankings.Rebuild(ctx, users); err != nil {
		return 0, fmt.Errorf("rebuild rankings: %w", err)
	}
	s.log.Info("leaderboard rebuilt", "users", len(users))
	return len(users), nil
}

func boardValue(board domain.Board, u domain.UserState) int64 {
	if board == domain.BoardStreak {
		return int64(u.Streak)
	}
	return u.TotalScore
}

func fallbackName(userID string) string {
	short := userID
	if len(short) > 8 {
		short = short[:8]
	}
	return "User " + short
}
