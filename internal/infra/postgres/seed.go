package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"adaptive-quiz-service/internal/domain"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

// OpenBun opens a bun handle on dsn for migrations and bulk loads.
func OpenBun(dsn string) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return bun.NewDB(sqldb, pgdialect.New())
}

type questionModel struct {
	bun.BaseModel `bun:"table:questions"`

	ID         string   `bun:"id,pk"`
	Difficulty int      `bun:"difficulty,notnull"`
	Prompt     string   `bun:"prompt,notnull"`
	Choices    []string `bun:"choices,type:jsonb,notnull"`
	Correct    string   `bun:"correct,notnull"`
}

// SeedQuestions upserts questions by id and returns every difficulty whose content changed,
// including the previous difficulty of moved questions.
func SeedQuestions(ctx context.Context, db *bun.DB, questions []domain.Question) ([]int, error) {
	if len(questions) == 0 {
		return nil, nil
	}

	models := make([]questionModel, 0, len(questions))
	ids := make([]string, 0, len(questions))
	touched := make(map[int]struct{})
	for _, q := range questions {
		models = append(models, questionModel{
			ID:         q.ID,
			Difficulty: q.Difficulty,
			Prompt:     q.Prompt,
			Choices:    q.Choices,
			Correct:    q.Correct,
		})
		ids = append(ids, q.ID)
		touched[q.Difficulty] = struct{}{}
	}

	err := db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var previous []int
		err := tx.NewSelect().
			Model((*questionModel)(nil)).
			Column("difficulty").
			Where("id IN (?)", bun.In(ids)).
			Scan(ctx, &previous)
		if err != nil {
			return fmt.Errorf("read previous difficulties: %w", err)
		}
		for _, d := range previous {
			touched[d] = struct{}{}
		}

		_, err = tx.NewInsert().
			Model(&models).
			On("CONFLICT (id) DO UPDATE").
			Set("difficulty = EXCLUDED.difficulty").
			Set("prompt = EXCLUDED.prompt").
			Set("choices = EXCLUDED.choices").
			Set("correct = EXCLUDED.correct").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("upsert questions: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]int, 0, len(touched))
	for d := range touched {
		out = append(out, d)
	}
	sort.Ints(out)
	return out, nil
}
