// Package metrics exposes prometheus counters for the quiz engine. A nil *Metrics is valid and
// records nothing.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	answers            *prometheus.CounterVec
	replays            prometheus.Counter
	questionSources    *prometheus.CounterVec
	cacheErrors        *prometheus.CounterVec
	generatorRejected  prometheus.Counter
	postCommitFailures *prometheus.CounterVec
}

// New registers the engine counters with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		answers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quiz_answers_total",
			Help: "Committed answer submissions by correctness.",
		}, []string{"correct"}),
		replays: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quiz_answer_replays_total",
			Help: "Submissions answered from a stored idempotency record.",
		}),
		questionSources: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quiz_question_source_total",
			Help: "Served questions by selection step.",
		}, []string{"source"}),
		cacheErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quiz_cache_errors_total",
			Help: "Fast cache failures that were tolerated.",
		}, []string{"op"}),
		generatorRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quiz_generated_rejected_total",
			Help: "Generated questions discarded by the quality filter.",
		}),
		postCommitFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quiz_post_commit_failures_total",
			Help: "Best-effort steps after commit that failed.",
		}, []string{"step"}),
	}
	reg.MustRegister(m.answers, m.replays, m.questionSources, m.cacheErrors, m.generatorRejected, m.postCommitFailures)
	return m
}

func (m *Metrics) Answer(correct bool) {
	if m == nil {
		return
	}
	m.answers.WithLabelValues(strconv.FormatBool(correct)).Inc()
}

func (m *Metrics) Replay() {
	if m == nil {
		return
	}
	m.replays.Inc()
}

func (m *Metrics) QuestionSource(source string) {
	if m == nil {
		return
	}
	m.questionSources.WithLabelValues(source).Inc()
}

func (m *Metrics) CacheError(op string) {
	if m == nil {
		return
	}
	m.cacheErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) GeneratedRejected() {
	if m == nil {
		return
	}
	m.generatorRejected.Inc()
}

func (m *Metrics) PostCommitFailure(step string) {
	if m == nil {
		return
	}
	m.postCommitFailures.WithLabelValues(step).Inc()
}
