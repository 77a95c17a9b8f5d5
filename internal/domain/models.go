package domain

import "time"

// Difficulty bounds for adaptive play.
const (
	MinDifficulty = 1
	MaxDifficulty = 20
)

// UserState is the per-user adaptive session state. StateVersion is bumped on every mutation.
type UserState struct {
	UserID            string     `json:"userId"`
	Username          string     `json:"username,omitempty"`
	CurrentDifficulty int        `json:"currentDifficulty"`
	Streak            int        `json:"streak"`
	MaxStreak         int        `json:"maxStreak"`
	TotalScore        int64      `json:"totalScore"`
	LastQuestionID    string     `json:"lastQuestionId,omitempty"`
	LastAnswerAt      *time.Time `json:"lastAnswerAt,omitempty"`
	StateVersion      int64      `json:"stateVersion"`
}

// NewUserState returns the state a user starts with on first contact.
func NewUserState(userID, username string) UserState {
	return UserState{
		UserID:            userID,
		Username:          username,
		CurrentDifficulty: MinDifficulty,
		StateVersion:      1,
	}
}

// Question is a multiple choice question. Correct is the literal text of one of Choices.
type Question struct {
	ID         string   `json:"id"`
	Difficulty int      `json:"difficulty"`
	Prompt     string   `json:"prompt"`
	Choices    []string `json:"choices"`
	Correct    string   `json:"correct"`
}

// AnswerLog is one append-only audit entry.
type AnswerLog struct {
	UserID         string    `json:"userId"`
	QuestionID     string    `json:"questionId"`
	SelectedAnswer string    `json:"selectedAnswer"`
	IsCorrect      bool      `json:"isCorrect"`
	ScoreDelta     int64     `json:"scoreDelta"`
	AnsweredAt     time.Time `json:"answeredAt"`
}

// AnswerSubmission is one answer as sent by a caller.
type AnswerSubmission struct {
	UserID         string
	QuestionID     string
	Answer         string
	IdempotencyKey string
}

// AnswerResult is the response snapshot of a committed answer. The snapshot stored with the
// idempotency key never carries ranks; ranks are attached after commit.
type AnswerResult struct {
	Correct               bool   `json:"correct"`
	NewDifficulty         int    `json:"newDifficulty"`
	NewStreak             int    `json:"newStreak"`
	MaxStreak             int    `json:"maxStreak"`
	NewScore              int64  `json:"newScore"`
	ScoreDelta            int64  `json:"scoreDelta"`
	StateVersion          int64  `json:"stateVersion"`
	LeaderboardRankScore  *int64 `json:"leaderboardRankScore"`
	LeaderboardRankStreak *int64 `json:"leaderboardRankStreak"`
}

// IdempotencyRecord binds an idempotency key to one user and one response.
type IdempotencyRecord struct {
	Key      string       `json:"key"`
	UserID   string       `json:"userId"`
	Response AnswerResult `json:"response"`
}

// NextQuestion is the served question together with the caller's session state.
type NextQuestion struct {
	Question Question  `json:"question"`
	State    UserState `json:"state"`
}

// AnswerStats aggregates a user's answer log.
type AnswerStats struct {
	Total   int `json:"total"`
	Correct int `json:"correct"`
}

// RecentAnswer is one line of the recent performance list.
type RecentAnswer struct {
	Correct   bool      `json:"correct"`
	Score     int64     `json:"score"`
	Timestamp time.Time `json:"timestamp"`
}

// Metrics is the session state plus accuracy statistics derived from the answer log.
type Metrics struct {
	CurrentDifficulty int            `json:"currentDifficulty"`
	Streak            int            `json:"streak"`
	MaxStreak         int            `json:"maxStreak"`
	TotalScore        int64          `json:"totalScore"`
	Accuracy          float64        `json:"accuracy"`
	TotalQuestions    int            `json:"totalQuestions"`
	CorrectQuestions  int            `json:"correctQuestions"`
	WrongQuestions    int            `json:"wrongQuestions"`
	RecentPerformance []RecentAnswer `json:"recentPerformance"`
}

// Board names one of the two ranked structures.
type Board string

const (
	BoardScore  Board = "score"
	BoardStreak Board = "streak"
)

// RankedEntry is one row of a top-K query.
type RankedEntry struct {
	UserID string `json:"userId"`
	Value  int64  `json:"value"`
	Rank   int64  `json:"rank"`
}

// LeaderboardEntry is an enriched leaderboard row.
type LeaderboardEntry struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Score    int64  `json:"score"`
	Streak   int64  `json:"streak"`
	Rank     int64  `json:"rank"`
}

// Leaderboard is the combined view of both ranked structures.
type Leaderboard struct {
	TopScores  []LeaderboardEntry `json:"topScores"`
	TopStreaks []LeaderboardEntry `json:"topStreaks"`
}

// ScoreUpdate is pushed to live leaderboard subscribers after each committed answer.
type ScoreUpdate struct {
	UserID string    `json:"userId"`
	Score  int64     `json:"score"`
	Streak int       `json:"streak"`
	At     time.Time `json:"at"`
}
