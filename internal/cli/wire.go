package cli

import (
	"context"
	"fmt"
	"time"

	"adaptive-quiz-service/internal/app"
	"adaptive-quiz-service/internal/config"
	"adaptive-quiz-service/internal/generator"
	"adaptive-quiz-service/internal/infra/memory"
	"adaptive-quiz-service/internal/infra/postgres"
	redisinfra "adaptive-quiz-service/internal/infra/redis"
	"adaptive-quiz-service/internal/metrics"
	"adaptive-quiz-service/internal/pkg/logger"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

type fastCache interface {
	app.Cache
	app.SetCache
}

// runtime is the wired service graph shared by the commands.
type runtime struct {
	store    app.Store
	pool     *app.QuestionPool
	boards   *app.LeaderboardService
	feed     *app.Feed
	engine   *app.Engine
	registry *prometheus.Registry
	closers  []func()
}

func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// buildRuntime connects to Postgres and Redis when configured and falls back to in-process
// twins otherwise.
func buildRuntime(ctx context.Context, cfg config.Config, log *logger.Logger) (*runtime, error) {
	rt := &runtime{registry: prometheus.NewRegistry()}
	rt.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(rt.registry)

	var (
		cache    fastCache
		rankings app.Rankings
	)
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			log.Warn("redis ping failed, continuing with degraded cache", "addr", cfg.Redis.Addr, "error", err)
		}
		rt.closers = append(rt.closers, func() { _ = client.Close() })
		cache = redisinfra.NewCache(client)
		rankings = redisinfra.NewLeaderboard(client)
		log.Info("using redis cache", "addr", cfg.Redis.Addr)
	} else {
		cache = memory.NewCache()
		rankings = memory.NewLeaderboard()
		log.Info("redis not configured, using in-process cache")
	}

	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		rt.closers = append(rt.closers, pool.Close)
		rt.store = postgres.NewStore(pool)
		log.Info("using postgres store")
	} else {
		rt.store = memory.NewStore(memory.SampleQuestions(3)...)
		log.Info("postgres not configured, using in-process store with sample questions")
	}

	e := cfg.Engine
	decay := app.NewStreakDecay(rt.store, config.Duration(e.DecayAfter, app.DefaultDecayAfter), log)
	states := app.NewSessionStates(rt.store, cache, decay, config.Duration(e.StateTTL, app.DefaultStateTTL), log, m)
	rt.pool = app.NewQuestionPool(cache, rt.store, config.Duration(e.PoolTTL, app.DefaultPoolTTL), log, m)
	rt.boards = app.NewLeaderboardService(rankings, rt.store, config.IntOr(e.LeaderboardSize, app.DefaultLeaderboardSize), log, m)
	states.WithLeaderboard(rt.boards)
	rt.feed = app.NewFeed()

	genTimeout := config.Duration(cfg.Generator.Timeout, app.DefaultGenerateTimeout)
	gen := generator.New(generator.Config{
		APIKey:  cfg.Generator.APIKey,
		Model:   cfg.Generator.Model,
		BaseURL: cfg.Generator.BaseURL,
		// The selector enforces the deadline; the client timeout only guards a stuck connection.
		Timeout: genTimeout + time.Second,
	}, log)
	selector := app.NewSelector(app.SelectorConfig{
		GeneratedTTL:    config.Duration(e.GeneratedTTL, app.DefaultGeneratedTTL),
		GenerateTimeout: genTimeout,
	}, gen, cache, rt.pool, rt.store, log, m)

	rt.engine = app.NewEngine(app.EngineConfig{
		HistorySize: config.IntOr(e.HistorySize, app.DefaultHistorySize),
	}, rt.store, states, selector, rt.boards, rt.feed, log, m)
	return rt, nil
}

func newLogger(cfg config.Config) (*logger.Logger, error) {
	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return log, nil
}
