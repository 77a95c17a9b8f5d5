package app

import (
	"context"
	"time"

	"adaptive-quiz-service/internal/domain"
)

// UserStore persists user state durably.
type UserStore interface {
	// GetOrCreateUser returns the user's state, creating it on first contact. A non-empty
	// username that differs from the stored one replaces it.
	GetOrCreateUser(ctx context.Context, userID, username string) (domain.UserState, error)
	// GetUser returns domain.ErrUserNotFound when the user has never been seen.
	GetUser(ctx context.Context, userID string) (domain.UserState, error)
	// DecayStreak sets the streak only when the stored version still equals expectedVersion,
	// bumping the version. It returns the stored state either way.
	DecayStreak(ctx context.Context, userID string, expectedVersion int64, streak int) (domain.UserState, error)
	// TopUsers orders users by total score or streak, descending.
	TopUsers(ctx context.Context, by domain.Board, limit int) ([]domain.UserState, error)
	// ForEachUser visits every stored user state.
	ForEachUser(ctx context.Context, fn func(domain.UserState) error) error
}

// QuestionStore reads persisted questions.
type QuestionStore interface {
	GetQuestion(ctx context.Context, id string) (domain.Question, error)
	QuestionIDsByDifficulty(ctx context.Context, difficulty int) ([]string, error)
	Difficulties(ctx context.Context) ([]int, error)
	// RandomQuestion picks uniformly among questions at exactly difficulty, skipping exclude.
	RandomQuestion(ctx context.Context, difficulty int, exclude []string) (domain.Question, bool, error)
	// HardestAtOrBelow picks among the questions with the highest difficulty <= difficulty,
	// skipping exclude.
	HardestAtOrBelow(ctx context.Context, difficulty int, exclude []string) (domain.Question, bool, error)
}

// CommitRequest identifies one answer commit.
type CommitRequest struct {
	UserID         string
	IdempotencyKey string
	HistorySize    int
}

// Transition is everything one answer writes.
type Transition struct {
	Log    domain.AnswerLog
	State  domain.UserState
	Result domain.AnswerResult
}

// ApplyFunc computes a transition from the locked current state and the user's most recent
// outcomes, newest first.
type ApplyFunc func(current domain.UserState, recent []bool) (Transition, error)

// AnswerStore owns the answer log and idempotency records.
type AnswerStore interface {
	GetIdempotency(ctx context.Context, key string) (domain.IdempotencyRecord, bool, error)
	AnsweredQuestionIDs(ctx context.Context, userID string) ([]string, error)
	AnswerStats(ctx context.Context, userID string) (domain.AnswerStats, error)
	// RecentAnswers returns up to limit log entries, newest first.
	RecentAnswers(ctx context.Context, userID string, limit int) ([]domain.AnswerLog, error)
	// CommitAnswer appends the log entry, updates the user state and records the idempotency
	// key in one transaction, creating the user first if needed. It returns
	// domain.ErrIdempotencyKeyTaken when the key was recorded concurrently; nothing is written
	// in that case, not even the user.
	CommitAnswer(ctx context.Context, req CommitRequest, apply ApplyFunc) (Transition, error)
}

// Store is the durable store.
type Store interface {
	UserStore
	QuestionStore
	AnswerStore
}

// Cache is the fast key/value cache. Get returns domain.ErrCacheMiss for absent keys.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// SetCache holds string sets in the fast cache.
type SetCache interface {
	// ReplaceSet clears key and fills it with members in one step, then applies ttl.
	ReplaceSet(ctx context.Context, key string, members []string, ttl time.Duration) error
	Members(ctx context.Context, key string) ([]string, error)
	Del(ctx context.Context, keys ...string) error
}

// Rankings are the two ranked structures, one entry per user each.
type Rankings interface {
	Upsert(ctx context.Context, userID string, score int64, streak int) error
	Top(ctx context.Context, board domain.Board, k int) ([]domain.RankedEntry, error)
	// Rank is 1-indexed; ok is false when the user is absent.
	Rank(ctx context.Context, board domain.Board, userID string) (rank int64, ok bool, err error)
	// Rebuild replaces both structures with values derived from users.
	Rebuild(ctx context.Context, users []domain.UserState) error
}

// Generator produces questions on demand. Generate never panics and reports failure as false.
type Generator interface {
	Enabled() bool
	Generate(ctx context.Context, difficulty int) (domain.Question, bool)
}
