package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"proxyward/internal/logger"
)

var cfgFile string
var verbose bool
var logFile string

var rootCmd = &cobra.Command{
	Use:   "proxyward",
	Short: "Proxy stability test orchestrator",
	Long:  `Orchestrates proxy stability test runs: dispatches them to a worker fleet, ingests the telemetry the workers report back, and serves the results API.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger.Init(verbose, logFile)
	},
	PostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write logs to file instead of stdout")
}
