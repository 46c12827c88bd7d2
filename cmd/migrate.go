package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wfunc/seatkeeper/logger"
	"github.com/wfunc/seatkeeper/persistence"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE:  runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	var store persistence.SeatStore
	switch cfg.Database.Driver {
	case "gorm":
		store, err = persistence.NewGormPostgreSQL(postgresConfig(cfg))
	case "postgres":
		store, err = persistence.NewPostgreSQL(postgresConfig(cfg))
	default:
		fmt.Fprintf(cmd.OutOrStdout(), "driver %q has no schema to migrate\n", cfg.Database.Driver)
		return nil
	}
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	defer store.Close()

	logger.Log.Infow("schema up to date", "driver", cfg.Database.Driver, "database", cfg.Database.Postgres.DBName)
	fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
	return nil
}
