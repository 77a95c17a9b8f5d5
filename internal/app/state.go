package app

import (
	"context"
	"errors"
	"time"

	"adaptive-quiz-service/internal/domain"
	"adaptive-quiz-service/internal/metrics"
	"adaptive-quiz-service/internal/pkg/logger"
)

// DefaultStateTTL keeps session state in the cache briefly; the store stays authoritative.
const DefaultStateTTL = 60 * time.Second

// SessionStates is the read-through/write-through cache of per-user session state.
type SessionStates struct {
	users  UserStore
	decay  *StreakDecay
	boards *LeaderboardService
	rt     *readThrough[domain.UserState]
	log    *logger.Logger
	m      *metrics.Metrics
}

func NewSessionStates(users UserStore, cache Cache, decay *StreakDecay, ttl time.Duration, log *logger.Logger, m *metrics.Metrics) *SessionStates {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &SessionStates{
		users: users,
		decay: decay,
		rt:    newReadThrough[domain.UserState](cache, ttl, log, m),
		log:   log,
		m:     m,
	}
}

// WithLeaderboard makes decayed streaks reach the streak board as soon as they are written.
func (s *SessionStates) WithLeaderboard(boards *LeaderboardService) *SessionStates {
	s.boards = boards
	return s
}

// Load returns the user's state, creating it on first contact and applying streak decay
// before it is served.
func (s *SessionStates) Load(ctx context.Context, userID, username string) (domain.UserState, error) {
	key := stateKey(userID)
	state, err := s.rt.Get(ctx, key, func(ctx context.Context) (domain.UserState, error) {
		return s.users.GetOrCreateUser(ctx, userID, username)
	})
	if err != nil {
		return domain.UserState{}, err
	}

	if username != "" && state.Username != username {
		state, err = s.rt.Write(ctx, key, func(ctx context.Context) (domain.UserState, error) {
			return s.users.GetOrCreateUser(ctx, userID, username)
		})
		if err != nil {
			return domain.UserState{}, err
		}
	}

	return s.applyDecay(ctx, key, state)
}

// Existing is Load without creation: found is false for a user that was never seen.
func (s *SessionStates) Existing(ctx context.Context, userID string) (domain.UserState, bool, error) {
	key := stateKey(userID)
	state, err := s.rt.Get(ctx, key, func(ctx context.Context) (domain.UserState, error) {
		return s.users.GetUser(ctx, userID)
	})
	if errors.Is(err, domain.ErrUserNotFound) {
		return domain.UserState{}, false, nil
	}
	if err != nil {
		return domain.UserState{}, false, err
	}
	state, err = s.applyDecay(ctx, key, state)
	if err != nil {
		return domain.UserState{}, false, err
	}
	return state, true, nil
}

func (s *SessionStates) applyDecay(ctx context.Context, key string, state domain.UserState) (domain.UserState, error) {
	if _, due := s.decay.Due(state); !due {
		return state, nil
	}
	current := state
	var decayed bool
	state, err := s.rt.Write(ctx, key, func(ctx context.Context) (domain.UserState, error) {
		updated, ok, err := s.decay.Apply(ctx, current)
		decayed = ok
		return updated, err
	})
	if err != nil {
		return domain.UserState{}, err
	}
	if decayed && s.boards != nil {
		if err := s.boards.Record(ctx, state); err != nil {
			s.m.PostCommitFailure("leaderboard")
			s.log.Warn("leaderboard update after decay failed", "userId", state.UserID, "error", err)
		}
	}
	return state, nil
}

// Refresh caches a state the store just committed.
func (s *SessionStates) Refresh(ctx context.Context, state domain.UserState) {
	s.rt.Put(ctx, stateKey(state.UserID), state)
}

// Forget drops the cached state for userID.
func (s *SessionStates) Forget(ctx context.Context, userID string) {
	s.rt.Invalidate(ctx, stateKey(userID))
}

func stateKey(userID string) string {
	return "user_state:" + userID
}
