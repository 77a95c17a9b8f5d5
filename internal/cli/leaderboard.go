package cli

import (
	"context"

	"adaptive-quiz-service/internal/config"
	"github.com/spf13/cobra"
)

// NewLeaderboardCmd groups leaderboard maintenance commands.
func NewLeaderboardCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Leaderboard maintenance",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "rebuild",
		Short: "Recompute both ranked sets from stored user state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLeaderboardRebuild(cmd.Context(), *configPath)
		},
	})
	return cmd
}

func runLeaderboardRebuild(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()
	if cfg.Redis.Addr == "" {
		log.Warn("redis not configured; the in-process leaderboard is rebuilt on every start")
	}

	rt, err := buildRuntime(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer rt.Close()

	_, err = rt.boards.Rebuild(ctx)
	return err
}
