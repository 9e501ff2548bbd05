package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	sqliteRepo "github.com/sakif/videotube/internal/repository/sqlite"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the database schema",
	Long:  `Opens the configured SQLite database, applies the schema and exits. The server does the same on start.`,
	RunE:  runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
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

	if err := db.Ping(cmd.Context()); err != nil {
		return err
	}
	logger.Info("schema up to date", slog.String("database", cfg.DBPath))
	return nil
}
