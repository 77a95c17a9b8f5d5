package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"adaptive-quiz-service/internal/domain"
	"adaptive-quiz-service/internal/metrics"
	"adaptive-quiz-service/internal/pkg/logger"
	"github.com/google/uuid"
)

const (
	// GeneratedPrefix marks ids of generated questions, which only live in the cache.
	GeneratedPrefix = "gen-"
	// DefaultGeneratedTTL is how long a generated question stays answerable.
	DefaultGeneratedTTL = 10 * time.Minute
	// DefaultGenerateTimeout bounds one call to the generator.
	DefaultGenerateTimeout = 5 * time.Second
)

// Question sources, in ladder order.
const (
	SourceGenerated         = "generated"
	SourcePool              = "pool"
	SourceRandom            = "random"
	SourceHardestUnanswered = "hardest_unanswered"
	SourceHardestAny        = "hardest_any"
)

// SelectorConfig tunes the ladder.
type SelectorConfig struct {
	GeneratedTTL    time.Duration
	GenerateTimeout time.Duration
}

// Selector picks the next question through the fallback ladder and resolves submitted ids.
type Selector struct {
	generator Generator
	cache     Cache
	pool      *QuestionPool
	questions QuestionStore
	cfg       SelectorConfig
	newID     func() string
	log       *logger.Logger
	metrics   *metrics.Metrics
}

func NewSelector(cfg SelectorConfig, generator Generator, cache Cache, pool *QuestionPool, questions QuestionStore, log *logger.Logger, m *metrics.Metrics) *Selector {
	if cfg.GeneratedTTL <= 0 {
		cfg.GeneratedTTL = DefaultGeneratedTTL
	}
	if cfg.GenerateTimeout <= 0 {
		cfg.GenerateTimeout = DefaultGenerateTimeout
	}
	return &Selector{
		generator: generator,
		cache:     cache,
		pool:      pool,
		questions: questions,
		cfg:       cfg,
		newID:     func() string { return GeneratedPrefix + uuid.NewString() },
		log:       log,
		metrics:   m,
	}
}

// Select returns a question for target difficulty. answered lists every question id the user
// has answered. It fails with domain.ErrNoQuestionsAvailable only when nothing at or below
// target exists at all.
func (s *Selector) Select(ctx context.Context, target int, answered []string) (domain.Question, string, error) {
	if q, ok := s.generate(ctx, target); ok {
		return s.served(q, SourceGenerated)
	}

	if id, ok, err := s.pool.Pick(ctx, target, answered); err != nil {
		s.log.Warn("question pool pick failed", "difficulty", target, "error", err)
	} else if ok {
		q, err := s.questions.GetQuestion(ctx, id)
		switch {
		case err == nil:
			return s.served(q, SourcePool)
		case errors.Is(err, domain.ErrQuestionNotFound):
			s.log.Warn("pooled question missing from store", "questionId", id, "difficulty", target)
		default:
			s.log.Warn("pooled question lookup failed", "questionId", id, "error", err)
		}
	}

	q, ok, err := s.questions.RandomQuestion(ctx, target, answered)
	if err != nil {
		return domain.Question{}, "", fmt.Errorf("random question: %w", err)
	}
	if ok {
		return s.served(q, SourceRandom)
	}

	q, ok, err = s.questions.HardestAtOrBelow(ctx, target, answered)
	if err != nil {
		return domain.Question{}, "", fmt.Errorf("hardest unanswered question: %w", err)
	}
	if ok {
		return s.served(q, SourceHardestUnanswered)
	}

	s.log.Warn("user exhausted eligible questions, allowing repeats", "difficulty", target)
	q, ok, err = s.questions.HardestAtOrBelow(ctx, target, nil)
	if err != nil {
		return domain.Question{}, "", fmt.Errorf("hardest question: %w", err)
	}
	if ok {
		return s.served(q, SourceHardestAny)
	}
	return domain.Question{}, "", domain.ErrNoQuestionsAvailable
}

func (s *Selector) served(q domain.Question, source string) (domain.Question, string, error) {
	s.metrics.QuestionSource(source)
	return q, source, nil
}

// generate asks the generator for a question, bounded by the configured timeout, filters it and
// caches it under a fresh id. Any failure yields ok=false.
func (s *Selector) generate(ctx context.Context, difficulty int) (domain.Question, bool) {
	if s.generator == nil || !s.generator.Enabled() {
		return domain.Question{}, false
	}

	gctx, cancel := context.WithTimeout(ctx, s.cfg.GenerateTimeout)
	defer cancel()

	type generated struct {
		q  domain.Question
		ok bool
	}
	done := make(chan generated, 1)
	go func() {
		q, ok := s.generator.Generate(gctx, difficulty)
		done <- generated{q: q, ok: ok}
	}()

	var q domain.Question
	select {
	case g := <-done:
		if !g.ok {
			s.log.Debug("generator returned nothing, falling back to stored questions", "difficulty", difficulty)
			return domain.Question{}, false
		}
		q = g.q
	case <-gctx.Done():
		s.log.Warn("generator timed out, falling back to stored questions", "difficulty", difficulty, "timeout", s.cfg.GenerateTimeout)
		return domain.Question{}, false
	}

	if err := CheckGenerated(q); err != nil {
		s.metrics.GeneratedRejected()
		s.log.Warn("rejected generated question", "reason", err.Error(), "prompt", q.Prompt)
		return domain.Question{}, false
	}

	q.ID = s.newID()
	q.Difficulty = difficulty
	data, err := json.Marshal(q)
	if err != nil {
		return domain.Question{}, false
	}
	// A generated question that cannot be cached could never be answered.
	if err := s.cache.Set(ctx, generatedKey(q.ID), data, s.cfg.GeneratedTTL); err != nil {
		s.metrics.CacheError("generated_set")
		s.log.Warn("caching generated question failed", "questionId", q.ID, "error", err)
		return domain.Question{}, false
	}
	return q, true
}

// Resolve finds a question by id in the generated-question cache or the store. Ids with the
// generated prefix that the cache does not hold are still tried against the store.
func (s *Selector) Resolve(ctx context.Context, questionID string) (domain.Question, error) {
	if !strings.HasPrefix(questionID, GeneratedPrefix) {
		return s.questions.GetQuestion(ctx, questionID)
	}
	if q, ok := s.cachedGenerated(ctx, questionID); ok {
		return q, nil
	}
	q, err := s.questions.GetQuestion(ctx, questionID)
	if errors.Is(err, domain.ErrQuestionNotFound) {
		return domain.Question{}, fmt.Errorf("%w: %s (expired or invalid)", domain.ErrQuestionNotFound, questionID)
	}
	return q, err
}

func (s *Selector) cachedGenerated(ctx context.Context, questionID string) (domain.Question, bool) {
	data, err := s.cache.Get(ctx, generatedKey(questionID))
	if err != nil {
		if !errors.Is(err, domain.ErrCacheMiss) {
			s.metrics.CacheError("generated_get")
			s.log.Warn("generated question lookup failed", "questionId", questionID, "error", err)
		}
		return domain.Question{}, false
	}
	var q domain.Question
	if err := json.Unmarshal(data, &q); err != nil {
		s.log.Warn("generated question unreadable", "questionId", questionID, "error", err)
		return domain.Question{}, false
	}
	return q, true
}

func generatedKey(id string) string {
	return "question:" + id
}
