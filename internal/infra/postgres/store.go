package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"adaptive-quiz-service/internal/app"
	"adaptive-quiz-service/internal/domain"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

const uniqueViolation = "23505"

const userColumns = `user_id, COALESCE(username, ''), current_difficulty, streak, max_streak, total_score,
	COALESCE(last_question_id, ''), last_answer_at, state_version`

const questionColumns = `id, difficulty, prompt, choices, correct`

// Store is the durable app.Store on Postgres.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (domain.UserState, error) {
	var (
		u            domain.UserState
		lastAnswerAt *time.Time
	)
	err := row.Scan(&u.UserID, &u.Username, &u.CurrentDifficulty, &u.Streak, &u.MaxStreak, &u.TotalScore,
		&u.LastQuestionID, &lastAnswerAt, &u.StateVersion)
	if err != nil {
		return domain.UserState{}, err
	}
	if lastAnswerAt != nil {
		t := lastAnswerAt.UTC()
		u.LastAnswerAt = &t
	}
	return u, nil
}

func scanQuestion(row rowScanner) (domain.Question, error) {
	var (
		q       domain.Question
		choices []byte
	)
	if err := row.Scan(&q.ID, &q.Difficulty, &q.Prompt, &choices, &q.Correct); err != nil {
		return domain.Question{}, err
	}
	if err := json.Unmarshal(choices, &q.Choices); err != nil {
		return domain.Question{}, fmt.Errorf("decode choices of %s: %w", q.ID, err)
	}
	return q, nil
}

func (s *Store) GetOrCreateUser(ctx context.Context, userID, username string) (domain.UserState, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO user_state (user_id, username) VALUES ($1, NULLIF($2, ''))
		ON CONFLICT (user_id) DO UPDATE
			SET username = EXCLUDED.username,
			    state_version = user_state.state_version + 1,
			    updated_at = now()
			WHERE EXCLUDED.username IS NOT NULL
			  AND user_state.username IS DISTINCT FROM EXCLUDED.username
		RETURNING `+userColumns, userID, username)
	state, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		// Existing user with nothing to update.
		return s.GetUser(ctx, userID)
	}
	if err != nil {
		return domain.UserState{}, fmt.Errorf("upsert user: %w", err)
	}
	return state, nil
}

func (s *Store) GetUser(ctx context.Context, userID string) (domain.UserState, error) {
	state, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM user_state WHERE user_id = $1`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.UserState{}, fmt.Errorf("%w: %s", domain.ErrUserNotFound, userID)
	}
	if err != nil {
		return domain.UserState{}, fmt.Errorf("get user: %w", err)
	}
	return state, nil
}

func (s *Store) DecayStreak(ctx context.Context, userID string, expectedVersion int64, streak int) (domain.UserState, error) {
	state, err := scanUser(s.pool.QueryRow(ctx, `
		UPDATE user_state
		SET streak = $3, state_version = state_version + 1, updated_at = now()
		WHERE user_id = $1 AND state_version = $2
		RETURNING `+userColumns, userID, expectedVersion, streak))
	if errors.Is(err, pgx.ErrNoRows) {
		return s.GetUser(ctx, userID)
	}
	if err != nil {
		return domain.UserState{}, fmt.Errorf("decay streak: %w", err)
	}
	return state, nil
}

func (s *Store) TopUsers(ctx context.Context, by domain.Board, limit int) ([]domain.UserState, error) {
	order := "total_score"
	if by == domain.BoardStreak {
		order = "streak"
	}
	rows, err := s.pool.Query(ctx, `SELECT `+userColumns+` FROM user_state ORDER BY `+order+` DESC, user_id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("top users: %w", err)
	}
	defer rows.Close()

	var users []domain.UserState
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Store) ForEachUser(ctx context.Context, fn func(domain.UserState) error) error {
	rows, err := s.pool.Query(ctx, `SELECT `+userColumns+` FROM user_state ORDER BY user_id`)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return err
		}
		if err := fn(u); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *Store) GetQuestion(ctx context.Context, id string) (domain.Question, error) {
	q, err := scanQuestion(s.pool.QueryRow(ctx, `SELECT `+questionColumns+` FROM questions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Question{}, fmt.Errorf("%w: %s", domain.ErrQuestionNotFound, id)
	}
	if err != nil {
		return domain.Question{}, fmt.Errorf("get question: %w", err)
	}
	return q, nil
}

func (s *Store) QuestionIDsByDifficulty(ctx context.Context, difficulty int) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM questions WHERE difficulty = $1 ORDER BY id`, difficulty)
	if err != nil {
		return nil, fmt.Errorf("question ids: %w", err)
	}
	defer rows.Close()
	return collectStrings(rows)
}

func (s *Store) Difficulties(ctx context.Context) ([]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT difficulty FROM questions ORDER BY difficulty`)
	if err != nil {
		return nil, fmt.Errorf("difficulties: %w", err)
	}
	defer rows.Close()

	var out []int
	for rows.Next() {
		var d int
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) RandomQuestion(ctx context.Context, difficulty int, exclude []string) (domain.Question, bool, error) {
	return s.optionalQuestion(ctx, `
		SELECT `+questionColumns+` FROM questions
		WHERE difficulty = $1 AND NOT (id = ANY($2::text[]))
		ORDER BY random() LIMIT 1`, difficulty, nonNil(exclude))
}

func (s *Store) HardestAtOrBelow(ctx context.Context, difficulty int, exclude []string) (domain.Question, bool, error) {
	return s.optionalQuestion(ctx, `
		SELECT `+questionColumns+` FROM questions
		WHERE difficulty <= $1 AND NOT (id = ANY($2::text[]))
		ORDER BY difficulty DESC, random() LIMIT 1`, difficulty, nonNil(exclude))
}

func (s *Store) optionalQuestion(ctx context.Context, query string, args ...interface{}) (domain.Question, bool, error) {
	q, err := scanQuestion(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Question{}, false, nil
	}
	if err != nil {
		return domain.Question{}, false, fmt.Errorf("select question: %w", err)
	}
	return q, true, nil
}

func (s *Store) GetIdempotency(ctx context.Context, key string) (domain.IdempotencyRecord, bool, error) {
	var (
		rec      = domain.IdempotencyRecord{Key: key}
		response []byte
	)
	err := s.pool.QueryRow(ctx, `SELECT user_id, response FROM answer_idempotency WHERE idempotency_key = $1`, key).
		Scan(&rec.UserID, &response)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.IdempotencyRecord{}, false, nil
	}
	if err != nil {
		return domain.IdempotencyRecord{}, false, fmt.Errorf("get idempotency: %w", err)
	}
	if err := json.Unmarshal(response, &rec.Response); err != nil {
		return domain.IdempotencyRecord{}, false, fmt.Errorf("decode idempotency response: %w", err)
	}
	return rec, true, nil
}

func (s *Store) AnsweredQuestionIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT question_id FROM answer_log WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("answered ids: %w", err)
	}
	defer rows.Close()
	return collectStrings(rows)
}

func (s *Store) AnswerStats(ctx context.Context, userID string) (domain.AnswerStats, error) {
	var stats domain.AnswerStats
	err := s.pool.QueryRow(ctx, `
		SELECT count(*), count(*) FILTER (WHERE is_correct)
		FROM answer_log WHERE user_id = $1`, userID).Scan(&stats.Total, &stats.Correct)
	if err != nil {
		return domain.AnswerStats{}, fmt.Errorf("answer stats: %w", err)
	}
	return stats, nil
}

func (s *Store) RecentAnswers(ctx context.Context, userID string, limit int) ([]domain.AnswerLog, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, question_id, selected_answer, is_correct, score_delta, answered_at
		FROM answer_log WHERE user_id = $1
		ORDER BY answered_at DESC, id DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent answers: %w", err)
	}
	defer rows.Close()

	var out []domain.AnswerLog
	for rows.Next() {
		var a domain.AnswerLog
		if err := rows.Scan(&a.UserID, &a.QuestionID, &a.SelectedAnswer, &a.IsCorrect, &a.ScoreDelta, &a.AnsweredAt); err != nil {
			return nil, err
		}
		a.AnsweredAt = a.AnsweredAt.UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

// CommitAnswer locks the user row (inserting a fresh one if needed), hands the locked state
// and recent outcomes to apply, and writes the idempotency record, the log entry and the new
// state in one transaction.
func (s *Store) CommitAnswer(ctx context.Context, req app.CommitRequest, apply app.ApplyFunc) (app.Transition, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return app.Transition{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Rolled back with everything else when the key turns out to be taken.
	if _, err := tx.Exec(ctx, `INSERT INTO user_state (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, req.UserID); err != nil {
		return app.Transition{}, fmt.Errorf("create user: %w", err)
	}
	current, err := scanUser(tx.QueryRow(ctx, `SELECT `+userColumns+` FROM user_state WHERE user_id = $1 FOR UPDATE`, req.UserID))
	if err != nil {
		return app.Transition{}, fmt.Errorf("lock user: %w", err)
	}

	recent, err := recentOutcomes(ctx, tx, req.UserID, req.HistorySize)
	if err != nil {
		return app.Transition{}, err
	}

	tr, err := apply(current, recent)
	if err != nil {
		return app.Transition{}, err
	}

	response, err := json.Marshal(tr.Result)
	if err != nil {
		return app.Transition{}, fmt.Errorf("encode response: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO answer_idempotency (idempotency_key, user_id, response) VALUES ($1, $2, $3)`,
		req.IdempotencyKey, req.UserID, response)
	if isUniqueViolation(err) {
		return app.Transition{}, domain.ErrIdempotencyKeyTaken
	}
	if err != nil {
		return app.Transition{}, fmt.Errorf("insert idempotency: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO answer_log (user_id, question_id, selected_answer, is_correct, score_delta, answered_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		tr.Log.UserID, tr.Log.QuestionID, tr.Log.SelectedAnswer, tr.Log.IsCorrect, tr.Log.ScoreDelta, tr.Log.AnsweredAt)
	if err != nil {
		return app.Transition{}, fmt.Errorf("insert answer log: %w", err)
	}

	next := tr.State
	_, err = tx.Exec(ctx, `
		UPDATE user_state
		SET current_difficulty = $2, streak = $3, max_streak = $4, total_score = $5,
		    last_question_id = $6, last_answer_at = $7, state_version = $8, updated_at = now()
		WHERE user_id = $1`,
		next.UserID, next.CurrentDifficulty, next.Streak, next.MaxStreak, next.TotalScore,
		next.LastQuestionID, next.LastAnswerAt, next.StateVersion)
	if err != nil {
		return app.Transition{}, fmt.Errorf("update user state: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		if isUniqueViolation(err) {
			return app.Transition{}, domain.ErrIdempotencyKeyTaken
		}
		return app.Transition{}, fmt.Errorf("commit: %w", err)
	}
	return tr, nil
}

// recentOutcomes returns up to limit outcomes, newest first.
func recentOutcomes(ctx context.Context, tx pgx.Tx, userID string, limit int) ([]bool, error) {
	rows, err := tx.Query(ctx, `
		SELECT is_correct FROM answer_log WHERE user_id = $1
		ORDER BY answered_at DESC, id DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent outcomes: %w", err)
	}
	defer rows.Close()

	var out []bool
	for rows.Next() {
		var correct bool
		if err := rows.Scan(&correct); err != nil {
			return nil, err
		}
		out = append(out, correct)
	}
	return out, rows.Err()
}

func collectStrings(rows pgx.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// nonNil keeps ANY($n) happy: a nil slice encodes as NULL and NOT (id = ANY(NULL)) is never true.
func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
