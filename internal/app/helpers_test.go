package app_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"adaptive-quiz-service/internal/app"
	"adaptive-quiz-service/internal/domain"
	"adaptive-quiz-service/internal/infra/memory"
	"adaptive-quiz-service/internal/pkg/logger"
)

var errCacheDown = errors.New("cache down")

// harness wires the engine on the in-process adapters.
type harness struct {
	store    *memory.Store
	cache    *memory.Cache
	rankings *memory.Leaderboard
	boards   *app.LeaderboardService
	feed     *app.Feed
	states   *app.SessionStates
	pool     *app.QuestionPool
	selector *app.Selector
	engine   *app.Engine
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	wrapStore func(*memory.Store) app.Store
	cache     fastCache
	rankings  app.Rankings
	generator app.Generator
}

type fastCache interface {
	app.Cache
	app.SetCache
}

// withStore puts wrap in front of the harness's memory store.
func withStore(wrap func(*memory.Store) app.Store) harnessOption {
	return func(c *harnessConfig) { c.wrapStore = wrap }
}

func withCache(cache fastCache) harnessOption     { return func(c *harnessConfig) { c.cache = cache } }
func withRankings(r app.Rankings) harnessOption   { return func(c *harnessConfig) { c.rankings = r } }
func withGenerator(g app.Generator) harnessOption { return func(c *harnessConfig) { c.generator = g } }

func newHarness(t *testing.T, questions []domain.Question, opts ...harnessOption) *harness {
	t.Helper()
	log := logger.Nop()
	h := &harness{
		store:    memory.NewStore(questions...),
		cache:    memory.NewCache(),
		rankings: memory.NewLeaderboard(),
		feed:     app.NewFeed(),
	}
	cfg := harnessConfig{cache: h.cache, rankings: h.rankings}
	for _, opt := range opts {
		opt(&cfg)
	}
	var store app.Store = h.store
	if cfg.wrapStore != nil {
		store = cfg.wrapStore(h.store)
	}

	decay := app.NewStreakDecay(store, 24*time.Hour, log)
	h.states = app.NewSessionStates(store, cfg.cache, decay, time.Minute, log, nil)
	h.pool = app.NewQuestionPool(cfg.cache, store, time.Hour, log, nil)
	h.boards = app.NewLeaderboardService(cfg.rankings, store, 10, log, nil)
	h.states.WithLeaderboard(h.boards)
	h.selector = app.NewSelector(app.SelectorConfig{GenerateTimeout: 50 * time.Millisecond}, cfg.generator, cfg.cache, h.pool, store, log, nil)
	h.engine = app.NewEngine(app.EngineConfig{}, store, h.states, h.selector, h.boards, h.feed, log, nil)
	return h
}

func (h *harness) submit(t *testing.T, userID, questionID, answer, key string) domain.AnswerResult {
	t.Helper()
	res, err := h.engine.SubmitAnswer(context.Background(), domain.AnswerSubmission{
		UserID:         userID,
		QuestionID:     questionID,
		Answer:         answer,
		IdempotencyKey: key,
	})
	if err != nil {
		t.Fatalf("submit %s: %v", key, err)
	}
	return res
}

func question(id string, difficulty int) domain.Question {
	return domain.Question{
		ID:         id,
		Difficulty: difficulty,
		Prompt:     "What is " + id + "?",
		Choices:    []string{"right", "wrong-1", "wrong-2", "wrong-3"},
		Correct:    "right",
	}
}

// failingCache fails every operation.
type failingCache struct{}

func (failingCache) Get(context.Context, string) ([]byte, error) { return nil, errCacheDown }
func (failingCache) Set(context.Context, string, []byte, time.Duration) error {
	return errCacheDown
}
func (failingCache) Del(context.Context, ...string) error { return errCacheDown }
func (failingCache) ReplaceSet(context.Context, string, []string, time.Duration) error {
	return errCacheDown
}
func (failingCache) Members(context.Context, string) ([]string, error) { return nil, errCacheDown }

// flakyCache is a memory cache whose writes fail once failSets is set.
type flakyCache struct {
	*memory.Cache
	failSets atomic.Bool
}

func (c *flakyCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if c.failSets.Load() {
		return errCacheDown
	}
	return c.Cache.Set(ctx, key, value, ttl)
}

// failingRankings fails every operation.
type failingRankings struct{}

func (failingRankings) Upsert(context.Context, string, int64, int) error { return errCacheDown }
func (failingRankings) Top(context.Context, domain.Board, int) ([]domain.RankedEntry, error) {
	return nil, errCacheDown
}
func (failingRankings) Rank(context.Context, domain.Board, string) (int64, bool, error) {
	return 0, false, errCacheDown
}
func (failingRankings) Rebuild(context.Context, []domain.UserState) error { return errCacheDown }

// stubGenerator returns q, or blocks until ctx ends when block is set.
type stubGenerator struct {
	q     domain.Question
	ok    bool
	block bool
	calls atomic.Int32
}

func (g *stubGenerator) Enabled() bool { return true }

func (g *stubGenerator) Generate(ctx context.Context, difficulty int) (domain.Question, bool) {
	g.calls.Add(1)
	if g.block {
		<-ctx.Done()
		return domain.Question{}, false
	}
	return g.q, g.ok
}

// countingStore counts reads of user state.
type countingStore struct {
	*memory.Store
	mu    sync.Mutex
	loads int
}

func (s *countingStore) GetOrCreateUser(ctx context.Context, userID, username string) (domain.UserState, error) {
	s.mu.Lock()
	s.loads++
	s.mu.Unlock()
	return s.Store.GetOrCreateUser(ctx, userID, username)
}

func (s *countingStore) Loads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loads
}
