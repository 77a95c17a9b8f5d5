package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"adaptive-quiz-service/internal/domain"
	"adaptive-quiz-service/internal/metrics"
	"adaptive-quiz-service/internal/pkg/logger"
	"adaptive-quiz-service/internal/scoring"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultHistorySize is how many recent outcomes feed the difficulty decision.
	DefaultHistorySize = 10
	// DefaultCommitTimeout bounds the commit and post-commit steps once a caller is gone.
	DefaultCommitTimeout = 10 * time.Second
	// RecentPerformanceSize is the length of the recent answers list in Metrics.
	RecentPerformanceSize = 10
)

// EngineConfig tunes the answer engine.
type EngineConfig struct {
	HistorySize   int
	CommitTimeout time.Duration
}

// Engine is the answer engine: it serves questions, commits answers exactly once and reports
// per-user metrics.
type Engine struct {
	store    Store
	states   *SessionStates
	selector *Selector
	boards   *LeaderboardService
	feed     *Feed
	cfg      EngineConfig
	now      func() time.Time
	log      *logger.Logger
	metrics  *metrics.Metrics
}

func NewEngine(cfg EngineConfig, store Store, states *SessionStates, selector *Selector, boards *LeaderboardService, feed *Feed, log *logger.Logger, m *metrics.Metrics) *Engine {
	if cfg.HistorySize < DefaultHistorySize {
		cfg.HistorySize = DefaultHistorySize
	}
	if cfg.CommitTimeout <= 0 {
		cfg.CommitTimeout = DefaultCommitTimeout
	}
	return &Engine{
		store:    store,
		states:   states,
		selector: selector,
		boards:   boards,
		feed:     feed,
		cfg:      cfg,
		now:      time.Now,
		log:      log,
		metrics:  m,
	}
}

// NextQuestion returns a question at the user's current difficulty together with the user's
// session state. The user is created on first contact.
func (e *Engine) NextQuestion(ctx context.Context, userID, username string) (domain.NextQuestion, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.NextQuestion{}, fmt.Errorf("%w: userId is required", domain.ErrValidation)
	}

	var (
		state    domain.UserState
		answered []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		state, err = e.states.Load(gctx, userID, username)
		return err
	})
	g.Go(func() (err error) {
		answered, err = e.store.AnsweredQuestionIDs(gctx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.NextQuestion{}, err
	}

	q, source, err := e.selector.Select(ctx, state.CurrentDifficulty, answered)
	if err != nil {
		return domain.NextQuestion{}, err
	}
	e.log.Debug("served question", "userId", userID, "questionId", q.ID, "difficulty", q.Difficulty,
		"target", state.CurrentDifficulty, "source", source)
	return domain.NextQuestion{Question: q, State: state}, nil
}

// SubmitAnswer applies one answer exactly once per idempotency key. A retried submission
// returns the response of the first one without touching any state.
func (e *Engine) SubmitAnswer(ctx context.Context, sub domain.AnswerSubmission) (domain.AnswerResult, error) {
	if err := validateSubmission(sub); err != nil {
		return domain.AnswerResult{}, err
	}

	rec, found, err := e.store.GetIdempotency(ctx, sub.IdempotencyKey)
	if err != nil {
		return domain.AnswerResult{}, fmt.Errorf("idempotency lookup: %w", err)
	}
	if found {
		return e.replay(ctx, rec, sub.UserID)
	}

	q, err := e.selector.Resolve(ctx, sub.QuestionID)
	if err != nil {
		return domain.AnswerResult{}, err
	}

	// Applies any pending decay before the commit reads the row. A new user is created by the
	// commit itself, so a rejected key never leaves a user behind.
	if _, _, err := e.states.Existing(ctx, sub.UserID); err != nil {
		return domain.AnswerResult{}, err
	}

	// The commit must finish even if the caller disconnects.
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.CommitTimeout)
	defer cancel()

	tr, err := e.store.CommitAnswer(cctx, CommitRequest{
		UserID:         sub.UserID,
		IdempotencyKey: sub.IdempotencyKey,
		HistorySize:    e.cfg.HistorySize,
	}, applyAnswer(q, sub.Answer, e.now()))
	if errors.Is(err, domain.ErrIdempotencyKeyTaken) {
		rec, found, err := e.store.GetIdempotency(cctx, sub.IdempotencyKey)
		if err != nil {
			return domain.AnswerResult{}, fmt.Errorf("idempotency lookup: %w", err)
		}
		if !found {
			return domain.AnswerResult{}, fmt.Errorf("idempotency key %q taken but not readable", sub.IdempotencyKey)
		}
		return e.replay(ctx, rec, sub.UserID)
	}
	if err != nil {
		return domain.AnswerResult{}, fmt.Errorf("commit answer: %w", err)
	}

	e.metrics.Answer(tr.Result.Correct)
	e.log.Info("answer committed", "userId", sub.UserID, "questionId", q.ID, "correct", tr.Result.Correct,
		"scoreDelta", tr.Result.ScoreDelta, "difficulty", tr.State.CurrentDifficulty, "stateVersion", tr.State.StateVersion)

	return e.afterCommit(cctx, tr), nil
}

// afterCommit runs the best-effort steps. None of them can fail the submission.
func (e *Engine) afterCommit(ctx context.Context, tr Transition) domain.AnswerResult {
	e.states.Refresh(ctx, tr.State)

	if err := e.boards.Record(ctx, tr.State); err != nil {
		e.metrics.PostCommitFailure("leaderboard")
		e.log.Warn("leaderboard update failed", "userId", tr.State.UserID, "error", err)
	}
	if e.feed != nil {
		e.feed.Publish(domain.ScoreUpdate{
			UserID: tr.State.UserID,
			Score:  tr.State.TotalScore,
			Streak: tr.State.Streak,
			At:     tr.Log.AnsweredAt,
		})
	}

	result := tr.Result
	result.LeaderboardRankScore, result.LeaderboardRankStreak = e.boards.Ranks(ctx, tr.State.UserID)
	return result
}

func (e *Engine) replay(ctx context.Context, rec domain.IdempotencyRecord, userID string) (domain.AnswerResult, error) {
	if rec.UserID != userID {
		e.log.Warn("idempotency key reused by another user", "key", rec.Key, "owner", rec.UserID, "userId", userID)
		return domain.AnswerResult{}, fmt.Errorf("%w: key %q", domain.ErrIdempotencyConflict, rec.Key)
	}
	e.metrics.Replay()
	result := rec.Response
	result.LeaderboardRankScore, result.LeaderboardRankStreak = e.boards.Ranks(ctx, userID)
	return result, nil
}

// Metrics returns the user's session state and accuracy statistics from the answer log.
func (e *Engine) Metrics(ctx context.Context, userID string) (domain.Metrics, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.Metrics{}, fmt.Errorf("%w: userId is required", domain.ErrValidation)
	}

	var (
		state  domain.UserState
		stats  domain.AnswerStats
		recent []domain.AnswerLog
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		state, err = e.states.Load(gctx, userID, "")
		return err
	})
	g.Go(func() (err error) {
		stats, err = e.store.AnswerStats(gctx, userID)
		return err
	})
	g.Go(func() (err error) {
		recent, err = e.store.RecentAnswers(gctx, userID, RecentPerformanceSize)
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.Metrics{}, err
	}

	performance := make([]domain.RecentAnswer, 0, len(recent))
	for _, a := range recent {
		performance = append(performance, domain.RecentAnswer{Correct: a.IsCorrect, Score: a.ScoreDelta, Timestamp: a.AnsweredAt})
	}
	return domain.Metrics{
		CurrentDifficulty: state.CurrentDifficulty,
		Streak:            state.Streak,
		MaxStreak:         state.MaxStreak,
		TotalScore:        state.TotalScore,
		Accuracy:          accuracy(stats),
		TotalQuestions:    stats.Total,
		CorrectQuestions:  stats.Correct,
		WrongQuestions:    stats.Total - stats.Correct,
		RecentPerformance: performance,
	}, nil
}

// accuracy is the percentage of correct answers rounded to two decimals.
func accuracy(stats domain.AnswerStats) float64 {
	if stats.Total == 0 {
		return 0
	}
	return math.Round(float64(stats.Correct)/float64(stats.Total)*10000) / 100
}

func validateSubmission(sub domain.AnswerSubmission) error {
	var missing []string
	if strings.TrimSpace(sub.UserID) == "" {
		missing = append(missing, "userId")
	}
	if strings.TrimSpace(sub.QuestionID) == "" {
		missing = append(missing, "questionId")
	}
	if sub.Answer == "" {
		missing = append(missing, "answer")
	}
	if strings.TrimSpace(sub.IdempotencyKey) == "" {
		missing = append(missing, "idempotencyKey")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", domain.ErrValidation, strings.Join(missing, ", "))
	}
	return nil
}

// applyAnswer computes the state transition for answering q with answer at now. The score is
// paid at the served question's difficulty, and the streak is the fresh increment or reset.
func applyAnswer(q domain.Question, answer string, now time.Time) ApplyFunc {
	return func(current domain.UserState, recent []bool) (Transition, error) {
		correct := answer == q.Correct

		history := make([]bool, 0, len(recent)+1)
		for i := len(recent) - 1; i >= 0; i-- {
			history = append(history, recent[i])
		}
		history = append(history, correct)

		next := current
		next.CurrentDifficulty = scoring.NextDifficulty(current.CurrentDifficulty, history)
		var delta int64
		if correct {
			next.Streak = current.Streak + 1
			delta = scoring.Score(q.Difficulty, next.Streak)
		} else {
			next.Streak = 0
		}
		next.MaxStreak = max(current.MaxStreak, next.Streak)
		next.TotalScore = current.TotalScore + delta
		next.LastQuestionID = q.ID
		answeredAt := now.UTC()
		next.LastAnswerAt = &answeredAt
		next.StateVersion = current.StateVersion + 1

		return Transition{
			Log: domain.AnswerLog{
				UserID:         current.UserID,
				QuestionID:     q.ID,
				SelectedAnswer: answer,
				IsCorrect:      correct,
				ScoreDelta:     delta,
				AnsweredAt:     answeredAt,
			},
			State: next,
			Result: domain.AnswerResult{
				Correct:       correct,
				NewDifficulty: next.CurrentDifficulty,
				NewStreak:     next.Streak,
				MaxStreak:     next.MaxStreak,
				NewScore:      next.TotalScore,
				ScoreDelta:    delta,
				StateVersion:  next.StateVersion,
			},
		}, nil
	}
}
