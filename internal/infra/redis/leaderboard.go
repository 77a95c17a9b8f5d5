package redis

import (
	"context"
	"errors"
	"fmt"

	"adaptive-quiz-service/internal/domain"
	"github.com/redis/go-redis/v9"
)

// Leaderboard keeps the two ranked structures as sorted sets:
//
//	ZADD leaderboard:score  {score}  {userID}
//	ZADD leaderboard:streak {streak} {userID}
type Leaderboard struct {
	client *redis.Client
	prefix string
}

func NewLeaderboard(client *redis.Client) *Leaderboard {
	return &Leaderboard{client: client, prefix: "leaderboard:"}
}

func (l *Leaderboard) Upsert(ctx context.Context, userID string, score int64, streak int) error {
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, l.key(domain.BoardScore), redis.Z{Score: float64(score), Member: userID})
		pipe.ZAdd(ctx, l.key(domain.BoardStreak), redis.Z{Score: float64(streak), Member: userID})
		return nil
	})
	return err
}

func (l *Leaderboard) Top(ctx context.Context, board domain.Board, k int) ([]domain.RankedEntry, error) {
	if k <= 0 {
		return nil, nil
	}
	zs, err := l.client.ZRevRangeWithScores(ctx, l.key(board), 0, int64(k-1)).Result()
	if err != nil {
		return nil, err
	}
	entries := make([]domain.RankedEntry, 0, len(zs))
	for i, z := range zs {
		member, ok := z.Member.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected leaderboard member %v", z.Member)
		}
		entries = append(entries, domain.RankedEntry{UserID: member, Value: int64(z.Score), Rank: int64(i + 1)})
	}
	return entries, nil
}

func (l *Leaderboard) Rank(ctx context.Context, board domain.Board, userID string) (int64, bool, error) {
	rank, err := l.client.ZRevRank(ctx, l.key(board), userID).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return rank + 1, true, nil
}

// Rebuild fills temporary keys and renames them over the live ones in one transaction.
func (l *Leaderboard) Rebuild(ctx context.Context, users []domain.UserState) error {
	scores := make([]redis.Z, 0, len(users))
	streaks := make([]redis.Z, 0, len(users))
	for _, u := range users {
		scores = append(scores, redis.Z{Score: float64(u.TotalScore), Member: u.UserID})
		streaks = append(streaks, redis.Z{Score: float64(u.Streak), Member: u.UserID})
	}

	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for board, zs := range map[domain.Board][]redis.Z{domain.BoardScore: scores, domain.BoardStreak: streaks} {
			live := l.key(board)
			if len(zs) == 0 {
				pipe.Del(ctx, live)
				continue
			}
			tmp := live + ":rebuild"
			pipe.Del(ctx, tmp)
			pipe.ZAdd(ctx, tmp, zs...)
			pipe.Rename(ctx, tmp, live)
		}
		return nil
	})
	return err
}

func (l *Leaderboard) key(board domain.Board) string {
	return l.prefix + string(board)
}
