package memory

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"

	"adaptive-quiz-service/internal/app"
	"adaptive-quiz-service/internal/domain"
)

// Store is an in-process implementation of app.Store. A single mutex stands in for the
// transaction isolation of a real database.
type Store struct {
	intn func(int) int

	mu        sync.RWMutex
	users     map[string]domain.UserState
	questions map[string]domain.Question
	answers   map[string][]domain.AnswerLog // per user, oldest first
	keys      map[string]domain.IdempotencyRecord
}

func NewStore(questions ...domain.Question) *Store {
	s := &Store{
		intn:      rand.Intn,
		users:     make(map[string]domain.UserState),
		questions: make(map[string]domain.Question),
		answers:   make(map[string][]domain.AnswerLog),
		keys:      make(map[string]domain.IdempotencyRecord),
	}
	s.AddQuestions(questions...)
	return s
}

// AddQuestions inserts or replaces questions by id.
func (s *Store) AddQuestions(questions ...domain.Question) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, q := range questions {
		s.questions[q.ID] = cloneQuestion(q)
	}
}

// RemoveQuestion deletes a question; answers that reference it are kept.
func (s *Store) RemoveQuestion(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.questions, id)
}

func (s *Store) GetOrCreateUser(_ context.Context, userID, username string) (domain.UserState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.users[userID]
	if !ok {
		state = domain.NewUserState(userID, username)
		s.users[userID] = state
		return state, nil
	}
	if username != "" && state.Username != username {
		state.Username = username
		state.StateVersion++
		s.users[userID] = state
	}
	return state, nil
}

func (s *Store) GetUser(_ context.Context, userID string) (domain.UserState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.users[userID]
	if !ok {
		return domain.UserState{}, fmt.Errorf("%w: %s", domain.ErrUserNotFound, userID)
	}
	return state, nil
}

func (s *Store) DecayStreak(_ context.Context, userID string, expectedVersion int64, streak int) (domain.UserState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.users[userID]
	if !ok {
		return domain.UserState{}, fmt.Errorf("%w: %s", domain.ErrUserNotFound, userID)
	}
	if state.StateVersion != expectedVersion {
		return state, nil
	}
	state.Streak = streak
	state.StateVersion++
	s.users[userID] = state
	return state, nil
}

func (s *Store) TopUsers(_ context.Context, by domain.Board, limit int) ([]domain.UserState, error) {
	s.mu.RLock()
	users := make([]domain.UserState, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}
	s.mu.RUnlock()

	value := func(u domain.UserState) int64 {
		if by == domain.BoardStreak {
			return int64(u.Streak)
		}
		return u.TotalScore
	}
	sort.Slice(users, func(i, j int) bool {
		vi, vj := value(users[i]), value(users[j])
		if vi != vj {
			return vi > vj
		}
		return users[i].UserID < users[j].UserID
	})
	if limit > 0 && len(users) > limit {
		users = users[:limit]
	}
	return users, nil
}

func (s *Store) ForEachUser(_ context.Context, fn func(domain.UserState) error) error {
	s.mu.RLock()
	users := make([]domain.UserState, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}
	s.mu.RUnlock()

	sort.Slice(users, func(i, j int) bool { return users[i].UserID < users[j].UserID })
	for _, u := range users {
		if err := fn(u); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) GetQuestion(_ context.Context, id string) (domain.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.questions[id]
	if !ok {
		return domain.Question{}, fmt.Errorf("%w: %s", domain.ErrQuestionNotFound, id)
	}
	return cloneQuestion(q), nil
}

func (s *Store) QuestionIDsByDifficulty(_ context.Context, difficulty int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, q := range s.questions {
		if q.Difficulty == difficulty {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) Difficulties(_ context.Context) ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[int]struct{})
	for _, q := range s.questions {
		seen[q.Difficulty] = struct{}{}
	}
	out := make([]int, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Ints(out)
	return out, nil
}

func (s *Store) RandomQuestion(_ context.Context, difficulty int, exclude []string) (domain.Question, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	candidates := s.eligibleLocked(exclude, func(q domain.Question) bool { return q.Difficulty == difficulty })
	return s.pickLocked(candidates)
}

func (s *Store) HardestAtOrBelow(_ context.Context, difficulty int, exclude []string) (domain.Question, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	candidates := s.eligibleLocked(exclude, func(q domain.Question) bool { return q.Difficulty <= difficulty })
	if len(candidates) == 0 {
		return domain.Question{}, false, nil
	}
	hardest := candidates[0].Difficulty
	for _, q := range candidates {
		hardest = max(hardest, q.Difficulty)
	}
	top := candidates[:0]
	for _, q := range candidates {
		if q.Difficulty == hardest {
			top = append(top, q)
		}
	}
	return s.pickLocked(top)
}

func (s *Store) eligibleLocked(exclude []string, keep func(domain.Question) bool) []domain.Question {
	excluded := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		excluded[id] = struct{}{}
	}
	var out []domain.Question
	for id, q := range s.questions {
		if _, skip := excluded[id]; skip || !keep(q) {
			continue
		}
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) pickLocked(candidates []domain.Question) (domain.Question, bool, error) {
	if len(candidates) == 0 {
		return domain.Question{}, false, nil
	}
	return cloneQuestion(candidates[s.intn(len(candidates))]), true, nil
}

func (s *Store) GetIdempotency(_ context.Context, key string) (domain.IdempotencyRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.keys[key]
	return rec, ok, nil
}

func (s *Store) AnsweredQuestionIDs(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	var ids []string
	for _, a := range s.answers[userID] {
		if _, dup := seen[a.QuestionID]; dup {
			continue
		}
		seen[a.QuestionID] = struct{}{}
		ids = append(ids, a.QuestionID)
	}
	return ids, nil
}

func (s *Store) AnswerStats(_ context.Context, userID string) (domain.AnswerStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var stats domain.AnswerStats
	for _, a := range s.answers[userID] {
		stats.Total++
		if a.IsCorrect {
			stats.Correct++
		}
	}
	return stats, nil
}

func (s *Store) RecentAnswers(_ context.Context, userID string, limit int) ([]domain.AnswerLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return recentLocked(s.answers[userID], limit), nil
}

// CommitAnswer applies the transition under the store lock, so it is atomic with respect to
// every other store operation.
func (s *Store) CommitAnswer(_ context.Context, req app.CommitRequest, apply app.ApplyFunc) (app.Transition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.keys[req.IdempotencyKey]; taken {
		return app.Transition{}, domain.ErrIdempotencyKeyTaken
	}
	current, ok := s.users[req.UserID]
	if !ok {
		current = domain.NewUserState(req.UserID, "")
	}

	logs := recentLocked(s.answers[req.UserID], req.HistorySize)
	recent := make([]bool, len(logs))
	for i, a := range logs {
		recent[i] = a.IsCorrect
	}

	tr, err := apply(current, recent)
	if err != nil {
		return app.Transition{}, err
	}
	s.answers[req.UserID] = append(s.answers[req.UserID], tr.Log)
	s.users[req.UserID] = tr.State
	s.keys[req.IdempotencyKey] = domain.IdempotencyRecord{
		Key:      req.IdempotencyKey,
		UserID:   req.UserID,
		Response: tr.Result,
	}
	return tr, nil
}

// PutUser stores state as is, replacing any existing user.
func (s *Store) PutUser(state domain.UserState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[state.UserID] = state
}

// AnswerCount returns how many log entries the user has.
func (s *Store) AnswerCount(userID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.answers[userID])
}

// recentLocked returns up to limit entries newest first.
func recentLocked(logs []domain.AnswerLog, limit int) []domain.AnswerLog {
	if limit <= 0 || limit > len(logs) {
		limit = len(logs)
	}
	out := make([]domain.AnswerLog, 0, limit)
	for i := len(logs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, logs[i])
	}
	return out
}

func cloneQuestion(q domain.Question) domain.Question {
	q.Choices = append([]string(nil), q.Choices...)
	return q
}
