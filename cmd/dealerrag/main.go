package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"dealerrag/internal/config"
	"dealerrag/internal/logging"
)

var (
	// Global flags
	configPath string
	workspace  string
	verbose    bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "dealerrag",
	Short: "dealerrag - RAG query engine for car dealerships",
	Long: `dealerrag answers dealership customer questions by fusing dense and
keyword retrieval over ingested documents with live DMS data, then
synthesizing grounded, cited answers.

Start the HTTP API with "dealerrag serve", or use the query and ingest
subcommands directly against a configured deployment.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env is optional; real deployments use the environment
		_ = godotenv.Load()

		if workspace == "" {
			wd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("resolve workspace: %w", err)
			}
			workspace = wd
		}
		if err := logging.Initialize(workspace); err != nil {
			return fmt.Errorf("initialize logging: %w", err)
		}

		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}

		debugMode := cfg.Logging.DebugMode || verbose
		logging.Configure(debugMode, cfg.Logging.Categories, cfg.Logging.Level)
		if debugMode {
			if err := logging.InitAudit(); err != nil {
				logging.BootError("audit log unavailable: %v", err)
			}
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAudit()
		logging.CloseAll()
	},
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "dealerrag.yaml", "path to the configuration file")
	rootCmd.PersistentFlags().StringVar(&workspace, "workspace", "", "workspace directory for logs and state (default: cwd)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(statsCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
