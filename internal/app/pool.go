package app

import (
	"context"
	"math/rand"
	"strconv"
	"time"

	"adaptive-quiz-service/internal/metrics"
	"adaptive-quiz-service/internal/pkg/logger"
	"golang.org/x/sync/singleflight"
)

// DefaultPoolTTL is how long a cached difficulty pool lives before it is rebuilt.
const DefaultPoolTTL = time.Hour

// QuestionPool caches, per difficulty, the ids of persisted questions in a cache set.
// It is a performance aid only; every failure degrades to the store.
type QuestionPool struct {
	sets      SetCache
	questions QuestionStore
	ttl       time.Duration
	sf        singleflight.Group
	intn      func(int) int
	log       *logger.Logger
	metrics   *metrics.Metrics
}

func NewQuestionPool(sets SetCache, questions QuestionStore, ttl time.Duration, log *logger.Logger, m *metrics.Metrics) *QuestionPool {
	if ttl <= 0 {
		ttl = DefaultPoolTTL
	}
	return &QuestionPool{
		sets:      sets,
		questions: questions,
		ttl:       ttl,
		intn:      rand.Intn,
		log:       log,
		metrics:   m,
	}
}

// Populate rebuilds the pool for difficulty from the store, replacing the cached set entirely.
func (p *QuestionPool) Populate(ctx context.Context, difficulty int) error {
	_, err := p.populate(ctx, difficulty)
	return err
}

// populate returns the ids it loaded so a pick can proceed even if the cache write failed.
// Concurrent rebuilds of the same difficulty share one store query.
func (p *QuestionPool) populate(ctx context.Context, difficulty int) ([]string, error) {
	result, err, _ := p.sf.Do(strconv.Itoa(difficulty), func() (interface{}, error) {
		ids, err := p.questions.QuestionIDsByDifficulty(ctx, difficulty)
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			p.log.Warn("no questions found for difficulty", "difficulty", difficulty)
			return ids, nil
		}
		if err := p.sets.ReplaceSet(ctx, poolKey(difficulty), ids, p.ttl); err != nil {
			p.metrics.CacheError("pool_replace")
			p.log.Warn("question pool write failed", "difficulty", difficulty, "error", err)
			return ids, nil
		}
		p.log.Debug("populated question pool", "difficulty", difficulty, "size", len(ids))
		return ids, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]string), nil
}

// Pick returns a random pooled id at difficulty that is not in exclude. When every pooled id is
// excluded it repeats one rather than failing. ok is false only when the pool is empty.
func (p *QuestionPool) Pick(ctx context.Context, difficulty int, exclude []string) (string, bool, error) {
	ids, err := p.sets.Members(ctx, poolKey(difficulty))
	if err != nil {
		p.metrics.CacheError("pool_members")
		p.log.Warn("question pool read failed", "difficulty", difficulty, "error", err)
		ids = nil
	}
	if len(ids) == 0 {
		ids, err = p.populate(ctx, difficulty)
		if err != nil {
			return "", false, err
		}
	}
	if len(ids) == 0 {
		return "", false, nil
	}

	excluded := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		excluded[id] = struct{}{}
	}
	available := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, skip := excluded[id]; !skip {
			available = append(available, id)
		}
	}
	if len(available) == 0 {
		return ids[p.intn(len(ids))], true, nil
	}
	return available[p.intn(len(available))], true, nil
}

// Invalidate drops the cached pool for difficulty. Call it whenever questions at that
// difficulty are added or removed.
func (p *QuestionPool) Invalidate(ctx context.Context, difficulty int) error {
	if err := p.sets.Del(ctx, poolKey(difficulty)); err != nil {
		return err
	}
	p.log.Info("invalidated question pool", "difficulty", difficulty)
	return nil
}

// InitializeAll populates the pool for every difficulty that has questions.
func (p *QuestionPool) InitializeAll(ctx context.Context) (int, error) {
	difficulties, err := p.questions.Difficulties(ctx)
	if err != nil {
		return 0, err
	}
	for _, d := range difficulties {
		if err := p.Populate(ctx, d); err != nil {
			return 0, err
		}
	}
	p.log.Info("initialized question pools", "count", len(difficulties))
	return len(difficulties), nil
}

func poolKey(difficulty int) string {
	return "questions:pool:" + strconv.Itoa(difficulty)
}
