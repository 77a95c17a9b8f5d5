package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"adaptive-quiz-service/internal/app"
	"adaptive-quiz-service/internal/domain"
	"adaptive-quiz-service/internal/infra/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextQuestionCreatesUser(t *testing.T) {
	h := newHarness(t, []domain.Question{question("q1", 1), question("q5", 5)})
	ctx := context.Background()

	next, err := h.engine.NextQuestion(ctx, "u1", "alice")
	require.NoError(t, err)
	assert.Equal(t, "q1", next.Question.ID)
	assert.Equal(t, domain.MinDifficulty, next.State.CurrentDifficulty)
	assert.Equal(t, "alice", next.State.Username)
	assert.Equal(t, int64(1), next.State.StateVersion)

	stored, err := h.store.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "alice", stored.Username)
}

func TestNextQuestionRequiresUser(t *testing.T) {
	h := newHarness(t, []domain.Question{question("q1", 1)})
	_, err := h.engine.NextQuestion(context.Background(), " ", "")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestNextQuestionExhausted(t *testing.T) {
	h := newHarness(t, []domain.Question{question("q7", 7)})
	_, err := h.engine.NextQuestion(context.Background(), "u1", "")
	assert.ErrorIs(t, err, domain.ErrNoQuestionsAvailable)
}

func TestSubmitAnswerProgression(t *testing.T) {
	h := newHarness(t, []domain.Question{question("q1", 1), question("q2", 1), question("q3", 1)})

	first := h.submit(t, "u1", "q1", "right", "k1")
	assert.True(t, first.Correct)
	assert.Equal(t, 1, first.NewDifficulty)
	assert.Equal(t, 1, first.NewStreak)
	assert.Equal(t, int64(12), first.ScoreDelta)
	assert.Equal(t, int64(12), first.NewScore)
	assert.Equal(t, int64(2), first.StateVersion)

	second := h.submit(t, "u1", "q2", "right", "k2")
	assert.Equal(t, 2, second.NewDifficulty)
	assert.Equal(t, int64(14), second.ScoreDelta)

	third := h.submit(t, "u1", "q3", "right", "k3")
	assert.Equal(t, 3, third.NewDifficulty)
	assert.Equal(t, 3, third.MaxStreak)
	assert.Equal(t, int64(42), third.NewScore)

	wrong := h.submit(t, "u1", "q1", "wrong-2", "k4")
	assert.False(t, wrong.Correct)
	assert.Equal(t, 0, wrong.NewStreak)
	assert.Equal(t, 3, wrong.MaxStreak)
	assert.Equal(t, int64(0), wrong.ScoreDelta)
	assert.Equal(t, int64(42), wrong.NewScore)
	assert.Equal(t, int64(5), wrong.StateVersion)

	require.NotNil(t, wrong.LeaderboardRankScore)
	assert.Equal(t, int64(1), *wrong.LeaderboardRankScore)
	assert.Equal(t, 4, h.store.AnswerCount("u1"))
}

func TestSubmitAnswerScoresServedDifficulty(t *testing.T) {
	h := newHarness(t, []domain.Question{question("q1", 1), question("q5", 5)})

	res := h.submit(t, "u1", "q5", "right", "k1")
	// The user is at difficulty 1, the question at 5.
	assert.Equal(t, int64(60), res.ScoreDelta)
	assert.Equal(t, 1, res.NewDifficulty)
}

func TestSubmitAnswerReplaysIdempotently(t *testing.T) {
	h := newHarness(t, []domain.Question{question("q1", 1), question("q2", 1)})
	ctx := context.Background()

	first := h.submit(t, "u1", "q1", "right", "k1")
	before, err := h.store.GetUser(ctx, "u1")
	require.NoError(t, err)

	// A retry with a different payload still returns the first response.
	second := h.submit(t, "u1", "q2", "wrong-1", "k1")

	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	assert.JSONEq(t, string(a), string(b))
	assert.Equal(t, 1, h.store.AnswerCount("u1"))

	after, err := h.store.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, before.StateVersion, after.StateVersion)
	assert.Equal(t, before.TotalScore, after.TotalScore)
}

func TestSubmitAnswerKeyReusedByOtherUser(t *testing.T) {
	h := newHarness(t, []domain.Question{question("q1", 1)})
	ctx := context.Background()

	h.submit(t, "u1", "q1", "right", "shared")
	before, err := h.store.GetUser(ctx, "u1")
	require.NoError(t, err)

	_, err = h.engine.SubmitAnswer(ctx, domain.AnswerSubmission{
		UserID: "u2", QuestionID: "q1", Answer: "right", IdempotencyKey: "shared",
	})
	assert.ErrorIs(t, err, domain.ErrIdempotencyConflict)

	_, err = h.store.GetUser(ctx, "u2")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
	after, err := h.store.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, 1, h.store.AnswerCount("u1"))
}

func TestSubmitAnswerValidation(t *testing.T) {
	h := newHarness(t, []domain.Question{question("q1", 1)})
	cases := []domain.AnswerSubmission{
		{QuestionID: "q1", Answer: "right", IdempotencyKey: "k"},
		{UserID: "u1", Answer: "right", IdempotencyKey: "k"},
		{UserID: "u1", QuestionID: "q1", IdempotencyKey: "k"},
		{UserID: "u1", QuestionID: "q1", Answer: "right"},
	}
	for i, sub := range cases {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			_, err := h.engine.SubmitAnswer(context.Background(), sub)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
	assert.Equal(t, 0, h.store.AnswerCount("u1"))
}

func TestSubmitAnswerUnknownQuestion(t *testing.T) {
	h := newHarness(t, []domain.Question{question("q1", 1)})
	ctx := context.Background()

	for _, id := range []string{"missing", app.GeneratedPrefix + "expired"} {
		_, err := h.engine.SubmitAnswer(ctx, domain.AnswerSubmission{
			UserID: "u1", QuestionID: id, Answer: "right", IdempotencyKey: "k-" + id,
		})
		assert.ErrorIs(t, err, domain.ErrQuestionNotFound)
	}
	_, found, err := h.store.GetIdempotency(ctx, "k-missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSubmitAnswerAppliesDecayFirst(t *testing.T) {
	h := newHarness(t, []domain.Question{question("q1", 1)})
	last := time.Now().Add(-25 * time.Hour)
	h.store.PutUser(domain.UserState{
		UserID:            "u1",
		CurrentDifficulty: 1,
		Streak:            10,
		MaxStreak:         10,
		TotalScore:        100,
		LastAnswerAt:      &last,
		StateVersion:      5,
	})

	res := h.submit(t, "u1", "q1", "right", "k1")
	assert.Equal(t, 6, res.NewStreak)
	assert.Equal(t, 10, res.MaxStreak)
	assert.Equal(t, int64(20), res.ScoreDelta)
	assert.Equal(t, int64(120), res.NewScore)
	assert.Equal(t, int64(7), res.StateVersion)
}

func TestSubmitAnswerSurvivesLeaderboardFailure(t *testing.T) {
	h := newHarness(t, []domain.Question{question("q1", 1)}, withRankings(failingRankings{}))

	res := h.submit(t, "u1", "q1", "right", "k1")
	assert.True(t, res.Correct)
	assert.Nil(t, res.LeaderboardRankScore)
	assert.Nil(t, res.LeaderboardRankStreak)

	stored, err := h.store.GetUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(12), stored.TotalScore)
	assert.Equal(t, 1, h.store.AnswerCount("u1"))
}

func TestEngineWorksWithoutCache(t *testing.T) {
	h := newHarness(t, []domain.Question{question("q1", 1), question("q2", 1)}, withCache(failingCache{}))
	ctx := context.Background()

	next, err := h.engine.NextQuestion(ctx, "u1", "")
	require.NoError(t, err)
	res := h.submit(t, "u1", next.Question.ID, "right", "k1")
	assert.Equal(t, int64(12), res.NewScore)

	m, err := h.engine.Metrics(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(12), m.TotalScore)
}

type brokenCommitStore struct {
	*memory.Store
}

func (brokenCommitStore) CommitAnswer(context.Context, app.CommitRequest, app.ApplyFunc) (app.Transition, error) {
	return app.Transition{}, errors.New("connection reset")
}

func TestSubmitAnswerCommitFailure(t *testing.T) {
	h := newHarness(t, []domain.Question{question("q1", 1)}, withStore(func(s *memory.Store) app.Store {
		return brokenCommitStore{Store: s}
	}))
	ctx := context.Background()

	_, err := h.engine.SubmitAnswer(ctx, domain.AnswerSubmission{
		UserID: "u1", QuestionID: "q1", Answer: "right", IdempotencyKey: "k1",
	})
	require.Error(t, err)

	_, found, err := h.store.GetIdempotency(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 0, h.store.AnswerCount("u1"))

	_, err = h.store.GetUser(ctx, "u1")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

// racingStore hides an idempotency record from the first lookup, as if the commit that wrote it
// were still in flight.
type racingStore struct {
	*memory.Store
	hide atomic.Bool
}

func (s *racingStore) GetIdempotency(ctx context.Context, key string) (domain.IdempotencyRecord, bool, error) {
	if s.hide.CompareAndSwap(true, false) {
		return domain.IdempotencyRecord{}, false, nil
	}
	return s.Store.GetIdempotency(ctx, key)
}

func TestSubmitAnswerLosesCommitRace(t *testing.T) {
	var racing *racingStore
	h := newHarness(t, []domain.Question{question("q1", 1)}, withStore(func(s *memory.Store) app.Store {
		racing = &racingStore{Store: s}
		return racing
	}))

	first := h.submit(t, "u1", "q1", "right", "k1")
	racing.hide.Store(true)
	second := h.submit(t, "u1", "q1", "right", "k1")

	assert.Equal(t, first, second)
	assert.Equal(t, 1, h.store.AnswerCount("u1"))
}

func TestSubmitAnswerLostRaceConflictCreatesNoUser(t *testing.T) {
	var racing *racingStore
	h := newHarness(t, []domain.Question{question("q1", 1)}, withStore(func(s *memory.Store) app.Store {
		racing = &racingStore{Store: s}
		return racing
	}))
	ctx := context.Background()

	h.submit(t, "u1", "q1", "right", "shared")
	racing.hide.Store(true)
	_, err := h.engine.SubmitAnswer(ctx, domain.AnswerSubmission{
		UserID: "u2", QuestionID: "q1", Answer: "right", IdempotencyKey: "shared",
	})
	assert.ErrorIs(t, err, domain.ErrIdempotencyConflict)

	_, err = h.store.GetUser(ctx, "u2")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
	assert.Equal(t, 1, h.store.AnswerCount("u1"))
}

func TestCommittedStateVisibleAfterCacheWriteFailure(t *testing.T) {
	cache := &flakyCache{Cache: memory.NewCache()}
	h := newHarness(t, []domain.Question{question("q1", 1), question("q2", 1)}, withCache(cache))
	ctx := context.Background()

	next, err := h.engine.NextQuestion(ctx, "u1", "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), next.State.StateVersion)

	cache.failSets.Store(true)
	res := h.submit(t, "u1", "q1", "right", "k1")
	assert.Equal(t, int64(12), res.NewScore)

	next, err = h.engine.NextQuestion(ctx, "u1", "")
	require.NoError(t, err)
	assert.Equal(t, int64(12), next.State.TotalScore)
	assert.Equal(t, int64(2), next.State.StateVersion)

	m, err := h.engine.Metrics(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(12), m.TotalScore)
	assert.Equal(t, 1, m.Streak)
}

func TestSubmitAnswerConcurrentRetries(t *testing.T) {
	h := newHarness(t, []domain.Question{question("q1", 1)})

	const n = 8
	results := make([]domain.AnswerResult, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = h.engine.SubmitAnswer(context.Background(), domain.AnswerSubmission{
				UserID: "u1", QuestionID: "q1", Answer: "right", IdempotencyKey: "k1",
			})
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, int64(12), results[i].NewScore)
		assert.Equal(t, int64(2), results[i].StateVersion)
	}
	assert.Equal(t, 1, h.store.AnswerCount("u1"))
}

func TestScoreNeverDecreases(t *testing.T) {
	var questions []domain.Question
	for d := domain.MinDifficulty; d <= domain.MaxDifficulty; d++ {
		for i := 0; i < 3; i++ {
			questions = append(questions, question(fmt.Sprintf("q%02d-%d", d, i), d))
		}
	}
	h := newHarness(t, questions)
	ctx := context.Background()

	var score int64
	for i := 0; i < 40; i++ {
		next, err := h.engine.NextQuestion(ctx, "u1", "")
		require.NoError(t, err)
		assert.Equal(t, next.State.CurrentDifficulty, next.Question.Difficulty)

		answer := "right"
		if i%4 == 3 {
			answer = "wrong-3"
		}
		res := h.submit(t, "u1", next.Question.ID, answer, fmt.Sprintf("k%d", i))
		assert.GreaterOrEqual(t, res.NewScore, score)
		assert.GreaterOrEqual(t, res.NewDifficulty, domain.MinDifficulty)
		assert.LessOrEqual(t, res.NewDifficulty, domain.MaxDifficulty)
		score = res.NewScore
	}
}

func TestMetrics(t *testing.T) {
	h := newHarness(t, []domain.Question{question("q1", 1)})
	ctx := context.Background()

	h.submit(t, "u1", "q1", "right", "k1")
	h.submit(t, "u1", "q1", "wrong-1", "k2")
	h.submit(t, "u1", "q1", "right", "k3")

	m, err := h.engine.Metrics(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, m.TotalQuestions)
	assert.Equal(t, 2, m.CorrectQuestions)
	assert.Equal(t, 1, m.WrongQuestions)
	assert.Equal(t, 66.67, m.Accuracy)
	assert.Equal(t, 1, m.Streak)
	assert.Equal(t, 1, m.MaxStreak)
	require.Len(t, m.RecentPerformance, 3)
	assert.True(t, m.RecentPerformance[0].Correct)
	assert.False(t, m.RecentPerformance[1].Correct)

	fresh, err := h.engine.Metrics(ctx, "u2")
	require.NoError(t, err)
	assert.Zero(t, fresh.Accuracy)
	assert.Empty(t, fresh.RecentPerformance)
}

func TestSubmitAnswerPublishesUpdate(t *testing.T) {
	h := newHarness(t, []domain.Question{question("q1", 1)})
	updates, cancel := h.feed.Subscribe()
	defer cancel()

	h.submit(t, "u1", "q1", "right", "k1")

	select {
	case u := <-updates:
		assert.Equal(t, "u1", u.UserID)
		assert.Equal(t, int64(12), u.Score)
		assert.Equal(t, 1, u.Streak)
	case <-time.After(time.Second):
		t.Fatal("no score update published")
	}

	// Replays publish nothing.
	h.submit(t, "u1", "q1", "right", "k1")
	select {
	case u := <-updates:
		t.Fatalf("unexpected update %+v", u)
	default:
	}
}
