package cli

import (
	"context"
	"fmt"
	"os"

	"adaptive-quiz-service/internal/app"
	"adaptive-quiz-service/internal/config"
	"adaptive-quiz-service/internal/domain"
	"adaptive-quiz-service/internal/infra/postgres"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type seedFile struct {
	Questions []struct {
		ID         string   `yaml:"id"`
		Difficulty int      `yaml:"difficulty"`
		Prompt     string   `yaml:"prompt"`
		Choices    []string `yaml:"choices"`
		Correct    string   `yaml:"correct"`
	} `yaml:"questions"`
}

// NewSeedCmd loads questions from a YAML file into Postgres.
func NewSeedCmd(configPath *string) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Upsert questions from a YAML file and invalidate their pools",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd.Context(), *configPath, file)
		},
	}
	cmd.Flags().StringVar(&file, "file", "config/questions.yaml", "path to questions YAML")
	return cmd
}

func runSeed(ctx context.Context, configPath, file string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Postgres.URL == "" {
		return fmt.Errorf("postgres url not configured")
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	questions, err := loadQuestions(file)
	if err != nil {
		return err
	}

	db := postgres.OpenBun(cfg.Postgres.URL)
	defer db.Close()
	touched, err := postgres.SeedQuestions(ctx, db, questions)
	if err != nil {
		return err
	}
	log.Info("questions seeded", "count", len(questions), "difficulties", touched)

	rt, err := buildRuntime(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer rt.Close()
	for _, d := range touched {
		if err := rt.pool.Invalidate(ctx, d); err != nil {
			log.Warn("pool invalidation failed", "difficulty", d, "error", err)
		}
	}
	return nil
}

func loadQuestions(path string) ([]domain.Question, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	out := make([]domain.Question, 0, len(f.Questions))
	seen := make(map[string]struct{}, len(f.Questions))
	for i, raw := range f.Questions {
		q := domain.Question{
			ID:         raw.ID,
			Difficulty: raw.Difficulty,
			Prompt:     raw.Prompt,
			Choices:    raw.Choices,
			Correct:    raw.Correct,
		}
		if q.ID == "" {
			return nil, fmt.Errorf("question %d: missing id", i)
		}
		if _, dup := seen[q.ID]; dup {
			return nil, fmt.Errorf("question %s: duplicate id", q.ID)
		}
		seen[q.ID] = struct{}{}
		if q.Difficulty < domain.MinDifficulty || q.Difficulty > domain.MaxDifficulty {
			return nil, fmt.Errorf("question %s: difficulty %d out of range", q.ID, q.Difficulty)
		}
		if err := app.CheckQuestion(q); err != nil {
			return nil, fmt.Errorf("question %s: %w", q.ID, err)
		}
		out = append(out, q)
	}
	return out, nil
}
