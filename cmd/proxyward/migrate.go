package main

import (
	"proxyward/internal/config"
	"proxyward/internal/db"
	"proxyward/internal/logger"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			logger.Log.Fatalf("Error loading config: %v", err)
		}

		database, err := db.Connect(cfg.Database.Path)
		if err != nil {
			logger.Log.Fatalf("Error connecting to DB: %v", err)
		}
		defer db.Close(database)

		if err := db.Migrate(database); err != nil {
			logger.Log.Fatalf("Migration failed: %v", err)
		}
		logger.Log.Info("✅ Database schema up to date.")
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
