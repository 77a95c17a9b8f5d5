package app_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"adaptive-quiz-service/internal/app"
	"adaptive-quiz-service/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generatedQuestion() domain.Question {
	return domain.Question{
		Prompt:  "What is 6 times 7?",
		Choices: []string{"42", "36", "48", "54"},
		Correct: "42",
	}
}

func TestSelectGenerated(t *testing.T) {
	gen := &stubGenerator{q: generatedQuestion(), ok: true}
	h := newHarness(t, []domain.Question{question("q3", 3)}, withGenerator(gen))
	ctx := context.Background()

	q, source, err := h.selector.Select(ctx, 3, nil)
	require.NoError(t, err)
	assert.Equal(t, app.SourceGenerated, source)
	assert.True(t, strings.HasPrefix(q.ID, app.GeneratedPrefix))
	assert.Equal(t, 3, q.Difficulty)

	resolved, err := h.selector.Resolve(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, q, resolved)

	res := h.submit(t, "u1", q.ID, "42", "k1")
	assert.True(t, res.Correct)
	assert.Equal(t, int64(36), res.ScoreDelta)
}

func TestSelectFallsBackFromGenerator(t *testing.T) {
	meta := generatedQuestion()
	meta.Prompt = "Level 3 question: what is 6 times 7?"
	placeholder := generatedQuestion()
	placeholder.Choices = []string{"42", "Wrong A", "Wrong B", "Wrong C"}

	cases := map[string]*stubGenerator{
		"declined":    {ok: false},
		"meta text":   {q: meta, ok: true},
		"placeholder": {q: placeholder, ok: true},
		"timeout":     {block: true},
	}
	for name, gen := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, []domain.Question{question("q3", 3)}, withGenerator(gen))

			q, source, err := h.selector.Select(context.Background(), 3, nil)
			require.NoError(t, err)
			assert.Equal(t, app.SourcePool, source)
			assert.Equal(t, "q3", q.ID)
			assert.Eventually(t, func() bool { return gen.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
		})
	}
}

func TestSelectSkipsGeneratedWhenCacheFails(t *testing.T) {
	gen := &stubGenerator{q: generatedQuestion(), ok: true}
	h := newHarness(t, []domain.Question{question("q3", 3)}, withGenerator(gen), withCache(failingCache{}))

	q, source, err := h.selector.Select(context.Background(), 3, nil)
	require.NoError(t, err)
	assert.Equal(t, app.SourcePool, source)
	assert.Equal(t, "q3", q.ID)
}

func TestSelectPoolExcludesAnswered(t *testing.T) {
	h := newHarness(t, []domain.Question{question("a", 2), question("b", 2)})
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		q, source, err := h.selector.Select(ctx, 2, []string{"a"})
		require.NoError(t, err)
		assert.Equal(t, app.SourcePool, source)
		assert.Equal(t, "b", q.ID)
	}

	// With everything answered the pool repeats rather than moving on.
	q, source, err := h.selector.Select(ctx, 2, []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, app.SourcePool, source)
	assert.Contains(t, []string{"a", "b"}, q.ID)
}

func TestSelectStalePoolFallsBackToRandom(t *testing.T) {
	h := newHarness(t, []domain.Question{question("a", 2)})
	ctx := context.Background()
	require.NoError(t, h.pool.Populate(ctx, 2))

	h.store.RemoveQuestion("a")
	h.store.AddQuestions(question("c", 2))

	q, source, err := h.selector.Select(ctx, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, app.SourceRandom, source)
	assert.Equal(t, "c", q.ID)
}

func TestSelectBelowTarget(t *testing.T) {
	h := newHarness(t, []domain.Question{question("x", 1), question("y", 3), question("z", 4), question("far", 9)})
	ctx := context.Background()

	q, source, err := h.selector.Select(ctx, 5, nil)
	require.NoError(t, err)
	assert.Equal(t, app.SourceHardestUnanswered, source)
	assert.Equal(t, "z", q.ID)

	q, source, err = h.selector.Select(ctx, 5, []string{"z"})
	require.NoError(t, err)
	assert.Equal(t, app.SourceHardestUnanswered, source)
	assert.Equal(t, "y", q.ID)

	q, source, err = h.selector.Select(ctx, 5, []string{"x", "y", "z"})
	require.NoError(t, err)
	assert.Equal(t, app.SourceHardestAny, source)
	assert.Equal(t, "z", q.ID)
}

func TestSelectNothingAtOrBelow(t *testing.T) {
	h := newHarness(t, []domain.Question{question("far", 9)})
	_, _, err := h.selector.Select(context.Background(), 5, nil)
	assert.ErrorIs(t, err, domain.ErrNoQuestionsAvailable)
}

func TestResolveUnknown(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.selector.Resolve(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrQuestionNotFound)
	_, err = h.selector.Resolve(ctx, app.GeneratedPrefix+"nope")
	assert.ErrorIs(t, err, domain.ErrQuestionNotFound)

	require.NoError(t, h.cache.Set(ctx, "question:"+app.GeneratedPrefix+"bad", []byte("{"), 0))
	_, err = h.selector.Resolve(ctx, app.GeneratedPrefix+"bad")
	assert.ErrorIs(t, err, domain.ErrQuestionNotFound)
}

func TestResolveStoredQuestionWithGeneratedPrefix(t *testing.T) {
	seeded := question(app.GeneratedPrefix+"seeded", 1)
	h := newHarness(t, []domain.Question{seeded})
	ctx := context.Background()

	next, err := h.engine.NextQuestion(ctx, "u1", "")
	require.NoError(t, err)
	assert.Equal(t, seeded.ID, next.Question.ID)

	res := h.submit(t, "u1", seeded.ID, "right", "k1")
	assert.True(t, res.Correct)
	assert.Equal(t, int64(12), res.NewScore)
}
