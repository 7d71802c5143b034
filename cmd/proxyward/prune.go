package main

import (
	"strconv"
	"time"

	"proxyward/internal/config"
	"proxyward/internal/db"
	"proxyward/internal/logger"
	"proxyward/internal/maintenance"

	"github.com/spf13/cobra"
)

var pruneCmd = &cobra.Command{
	Use:   "prune [days]",
	Short: "Delete finished runs older than the retention window",
	Long: `Removes terminal runs whose finished_at is older than the retention window,
together with their samples and summaries. If no day count is provided, the
'max_run_age' value from config.yaml is used.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			logger.Log.Fatalf("Error loading config: %v", err)
		}

		maxAge := cfg.Retention.MaxRunAge
		if len(args) > 0 {
			days, err := strconv.Atoi(args[0])
			if err != nil || days < 1 {
				logger.Log.Fatalf("Invalid days argument: %v", args[0])
			}
			maxAge = time.Duration(days) * 24 * time.Hour
			logger.Log.Infof("🎯 Retention manually set to: %d days", days)
		}

		database, err := db.Connect(cfg.Database.Path)
		if err != nil {
			logger.Log.Fatalf("Error connecting to DB: %v", err)
		}
		defer db.Close(database)

		n, err := maintenance.PruneRuns(database, maxAge)
		if err != nil {
			logger.Log.Errorf("Pruning failed: %v", err)
			return
		}
		logger.Log.Infof("✅ Database maintenance complete. Removed %d runs.", n)
	},
}

func init() {
	rootCmd.AddCommand(pruneCmd)
}
