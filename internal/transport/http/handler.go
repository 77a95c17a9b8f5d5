package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"adaptive-quiz-service/internal/domain"
	"adaptive-quiz-service/internal/pkg/logger"
	"github.com/gin-gonic/gin"
)

const (
	headerUserID   = "X-User-Id"
	headerUserName = "X-User-Name"
	maxBoardSize   = 100
)

// QuizEngine is the answer engine as seen by the REST surface.
type QuizEngine interface {
	NextQuestion(ctx context.Context, userID, username string) (domain.NextQuestion, error)
	SubmitAnswer(ctx context.Context, sub domain.AnswerSubmission) (domain.AnswerResult, error)
	Metrics(ctx context.Context, userID string) (domain.Metrics, error)
}

// Leaderboards answers leaderboard queries.
type Leaderboards interface {
	Combined(ctx context.Context) (domain.Leaderboard, error)
	Top(ctx context.Context, board domain.Board, k int) ([]domain.RankedEntry, error)
}

// Handler serves the quiz and leaderboard endpoints.
type Handler struct {
	engine QuizEngine
	boards Leaderboards
	log    *logger.Logger
}

func NewHandler(engine QuizEngine, boards Leaderboards, log *logger.Logger) *Handler {
	return &Handler{engine: engine, boards: boards, log: log}
}

// nextQuestionResponse never carries the correct answer.
type nextQuestionResponse struct {
	QuestionID        string   `json:"questionId"`
	Difficulty        int      `json:"difficulty"`
	Prompt            string   `json:"prompt"`
	Choices           []string `json:"choices"`
	CurrentDifficulty int      `json:"currentDifficulty"`
	CurrentScore      int64    `json:"currentScore"`
	CurrentStreak     int      `json:"currentStreak"`
	MaxStreak         int      `json:"maxStreak"`
	StateVersion      int64    `json:"stateVersion"`
}

type answerRequest struct {
	QuestionID     string `json:"questionId"`
	Answer         string `json:"answer"`
	IdempotencyKey string `json:"answerIdempotencyKey"`
}

type scoreEntry struct {
	UserID string `json:"userId"`
	Score  int64  `json:"score"`
	Rank   int64  `json:"rank"`
}

type streakEntry struct {
	UserID string `json:"userId"`
	Streak int64  `json:"streak"`
	Rank   int64  `json:"rank"`
}

// NextQuestion handles GET /v1/quiz/next.
func (h *Handler) NextQuestion(c *gin.Context) {
	next, err := h.engine.NextQuestion(c.Request.Context(), c.GetHeader(headerUserID), c.GetHeader(headerUserName))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, nextQuestionResponse{
		QuestionID:        next.Question.ID,
		Difficulty:        next.Question.Difficulty,
		Prompt:            next.Question.Prompt,
		Choices:           next.Question.Choices,
		CurrentDifficulty: next.State.CurrentDifficulty,
		CurrentScore:      next.State.TotalScore,
		CurrentStreak:     next.State.Streak,
		MaxStreak:         next.State.MaxStreak,
		StateVersion:      next.State.StateVersion,
	})
}

// SubmitAnswer handles POST /v1/quiz/answer.
func (h *Handler) SubmitAnswer(c *gin.Context) {
	var req answerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	result, err := h.engine.SubmitAnswer(c.Request.Context(), domain.AnswerSubmission{
		UserID:         c.GetHeader(headerUserID),
		QuestionID:     req.QuestionID,
		Answer:         req.Answer,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Metrics handles GET /v1/quiz/metrics.
func (h *Handler) Metrics(c *gin.Context) {
	m, err := h.engine.Metrics(c.Request.Context(), c.GetHeader(headerUserID))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// Leaderboard handles GET /v1/leaderboard.
func (h *Handler) Leaderboard(c *gin.Context) {
	lb, err := h.boards.Combined(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, lb)
}

// TopScores handles GET /v1/leaderboard/score.
func (h *Handler) TopScores(c *gin.Context) {
	entries, err := h.boards.Top(c.Request.Context(), domain.BoardScore, limitParam(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	out := make([]scoreEntry, len(entries))
	for i, e := range entries {
		out[i] = scoreEntry{UserID: e.UserID, Score: e.Value, Rank: e.Rank}
	}
	c.JSON(http.StatusOK, out)
}

// TopStreaks handles GET /v1/leaderboard/streak.
func (h *Handler) TopStreaks(c *gin.Context) {
	entries, err := h.boards.Top(c.Request.Context(), domain.BoardStreak, limitParam(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	out := make([]streakEntry, len(entries))
	for i, e := range entries {
		out[i] = streakEntry{UserID: e.UserID, Streak: e.Value, Rank: e.Rank}
	}
	c.JSON(http.StatusOK, out)
}

// limitParam reads ?limit, returning 0 (the configured size) when absent or invalid.
func limitParam(c *gin.Context) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil || n <= 0 {
		return 0
	}
	return min(n, maxBoardSize)
}

// requestLogger logs one line per request.
func requestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
