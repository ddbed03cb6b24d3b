package main

import (
	"fmt"

	"settlement-service/config"
	"settlement-service/migrations"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().Bool("print", false, "Print the schema instead of applying it")
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE:  runMigrate,
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	if printOnly, _ := cmd.Flags().GetBool("print"); printOnly {
		for _, stmt := range migrations.Statements() {
			fmt.Fprintf(cmd.OutOrStdout(), "%s;\n\n", stmt)
		}
		return nil
	}

	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	db, err := config.ConnectDB(cmd.Context(), cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	if err := migrations.Apply(cmd.Context(), db, logger); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema applied to %s\n", cfg.Database.DBName)
	return nil
}
