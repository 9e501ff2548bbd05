package main

import (
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/sakif/videotube/internal/auth"
	sqliteRepo "github.com/sakif/videotube/internal/repository/sqlite"
	"github.com/sakif/videotube/internal/seed"
)

var fixturesPath string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load users, videos, subscriptions and history from a YAML file",
	RunE:  runSeed,
}

func init() {
	seedCmd.Flags().StringVar(&fixturesPath, "file", "", "Path to the fixtures file")
}

func runSeed(cmd *cobra.Command, args []string) error {
	if fixturesPath == "" {
		return errors.New("--file is required")
	}

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	fixtures, err := seed.Load(fixturesPath)
	if err != nil {
		return err
	}

	if err := ensureDBDir(cfg.DBPath); err != nil {
		return err
	}
	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	sum, err := seed.Apply(cmd.Context(), db, auth.NewPasswordService(), fixtures)
	if err != nil {
		return err
	}

	logger.Info("fixtures loaded",
		slog.String("file", fixturesPath),
		slog.Int("users_created", sum.UsersCreated),
		slog.Int("users_reused", sum.UsersReused),
		slog.Int("videos", sum.Videos),
		slog.Int("subscriptions", sum.Subscriptions),
		slog.Int("history_items", sum.HistoryItems),
	)
	return nil
}
